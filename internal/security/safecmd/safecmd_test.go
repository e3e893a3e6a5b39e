package safecmd

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"
)

func shell(script string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/c", script}
	}
	return "sh", []string{"-c", script}
}

func TestCombinedOutputBasic(t *testing.T) {
	name, args := shell("echo hello")

	out, err := CombinedOutput(context.Background(), DefaultConfig(), name, args...)
	if err != nil {
		t.Fatalf("CombinedOutput failed: %v", err)
	}
	if !strings.Contains(string(out), "hello") {
		t.Errorf("output = %q, want to contain %q", string(out), "hello")
	}
}

func TestCombinedOutputIncludesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell redirect")
	}

	out, err := CombinedOutput(context.Background(), DefaultConfig(), "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("CombinedOutput failed: %v", err)
	}
	if !strings.Contains(string(out), "out") || !strings.Contains(string(out), "err") {
		t.Errorf("output = %q, want both streams", string(out))
	}
}

func TestCombinedOutputSizeLimit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses yes and head")
	}

	out, err := CombinedOutput(context.Background(), Config{MaxOutput: 100}, "sh", "-c", "yes | head -c 2000")
	if !errors.Is(err, ErrOutputTooLarge) {
		t.Errorf("error = %v, want ErrOutputTooLarge", err)
	}
	if len(out) != 100 {
		t.Errorf("output length = %d, want 100", len(out))
	}
}

func TestCombinedOutputFailure(t *testing.T) {
	name, args := shell("exit 3")

	if _, err := CombinedOutput(context.Background(), DefaultConfig(), name, args...); err == nil {
		t.Error("expected error from failing command")
	}
}

func TestCombinedOutputCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	name, args := shell("echo never")
	if _, err := CombinedOutput(ctx, DefaultConfig(), name, args...); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestCombinedOutputTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}

	start := time.Now()
	_, err := CombinedOutput(context.Background(), Config{Timeout: 100 * time.Millisecond}, "sleep", "10")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("command ran for %v, want it killed near the timeout", elapsed)
	}
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{max: 5}

	n, err := b.Write([]byte("abc"))
	if n != 3 || err != nil {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	n, _ = b.Write([]byte("defg"))
	if n != 4 {
		t.Errorf("Write() = %d, want 4 (writes always report full length)", n)
	}
	b.Write([]byte("h"))

	if got := b.buf.String(); got != "abcde" {
		t.Errorf("buffer = %q, want %q", got, "abcde")
	}
	if b.dropped != 3 {
		t.Errorf("dropped = %d, want 3", b.dropped)
	}
}
