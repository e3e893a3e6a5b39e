// Package safecmd runs external commands with a deadline and a cap on the
// output kept in memory.
package safecmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// DefaultMaxOutputSize is the default maximum output size (64 KB).
const DefaultMaxOutputSize = 64 * 1024

// DefaultTimeout bounds a single command.
const DefaultTimeout = 30 * time.Second

// ErrOutputTooLarge is returned when command output exceeds the size limit.
var ErrOutputTooLarge = errors.New("command output exceeds size limit")

// Config holds configuration for safe command execution.
type Config struct {
	// MaxOutput is the maximum combined stdout and stderr kept, in bytes.
	MaxOutput int64
	// Timeout is applied on top of the caller's context.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxOutput: DefaultMaxOutputSize,
		Timeout:   DefaultTimeout,
	}
}

// limitedBuffer keeps at most max bytes and counts the rest.
type limitedBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	max     int64
	dropped int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.max - int64(b.buf.Len())
	if room <= 0 {
		b.dropped += int64(len(p))
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf.Write(p[:room])
		b.dropped += int64(len(p)) - room
		return len(p), nil
	}
	return b.buf.Write(p)
}

// CombinedOutput runs name with args and returns its interleaved stdout and
// stderr. Output past the limit is discarded and reported with
// ErrOutputTooLarge once the command has finished.
func CombinedOutput(ctx context.Context, cfg Config, name string, args ...string) ([]byte, error) {
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutputSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	out := &limitedBuffer{max: cfg.MaxOutput}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()

	if ctx.Err() != nil {
		return out.buf.Bytes(), fmt.Errorf("running %s: %w", name, ctx.Err())
	}
	if runErr != nil {
		return out.buf.Bytes(), fmt.Errorf("running %s: %w", name, runErr)
	}
	if out.dropped > 0 {
		return out.buf.Bytes(), fmt.Errorf("%w: %d bytes over the %d byte limit",
			ErrOutputTooLarge, out.dropped, cfg.MaxOutput)
	}
	return out.buf.Bytes(), nil
}
