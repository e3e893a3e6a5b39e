// Package logging provides logging setup for the relay and the agent.
// Logs are JSON lines written to a daily file and, unless running as a
// service, to stdout as well.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	logFileSuffix = ".log"
	logFileMode   = 0644
	logDirMode    = 0755
	dateLayout    = "2006-01-02"
)

// Config holds logging configuration.
type Config struct {
	LogDir      string
	Name        string // file prefix, e.g. "relay" gives relay-2026-01-02.log
	Debug       bool
	LogToStdout bool
}

// dailyWriter appends to <dir>/<name>-<date>.log and switches files when
// the date changes.
type dailyWriter struct {
	mu   sync.Mutex
	dir  string
	name string
	now  func() time.Time
	day  string
	file *os.File
}

func newDailyWriter(dir, name string, now func() time.Time) (*dailyWriter, error) {
	w := &dailyWriter{dir: dir, name: name, now: now}
	if err := w.openLocked(now().Format(dateLayout)); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *dailyWriter) path(day string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s%s", w.name, day, logFileSuffix))
}

func (w *dailyWriter) openLocked(day string) error {
	p := w.path(day)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFileMode)
	if err != nil {
		return err
	}
	// Ignore errors on Windows
	_ = os.Chmod(p, logFileMode)

	if w.file != nil {
		w.file.Close()
	}
	w.file = f
	w.day = day
	return nil
}

func (w *dailyWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if day := w.now().Format(dateLayout); day != w.day {
		if err := w.openLocked(day); err != nil {
			return 0, err
		}
	}
	return w.file.Write(b)
}

// current returns the path of the file being written.
func (w *dailyWriter) current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path(w.day)
}

func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Setup initializes logging with both file and optional stdout output.
// Returns the configured logger and a cleanup function to close the log file.
// If the log directory cannot be used, logging falls back to stdout only.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	return setup(cfg, time.Now)
}

func setup(cfg Config, now func() time.Time) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Debug {
		opts.Level = slog.LevelDebug
	}

	name := cfg.Name
	if name == "" {
		name = "slimrmm"
	}

	stdoutOnly := func() (*slog.Logger, func(), error) {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), func() {}, nil
	}

	if cfg.LogDir == "" {
		return stdoutOnly()
	}
	if err := os.MkdirAll(cfg.LogDir, logDirMode); err != nil {
		return stdoutOnly()
	}

	file, err := newDailyWriter(cfg.LogDir, name, now)
	if err != nil {
		return stdoutOnly()
	}

	var writer io.Writer = file
	if cfg.LogToStdout {
		writer = io.MultiWriter(file, os.Stdout)
	}

	logger := slog.New(slog.NewJSONHandler(writer, opts))
	return logger, func() { file.Close() }, nil
}

// SetupWithDefaults creates a logger that writes to file and optionally stdout.
// When running as a service (SLIMRMM_SERVICE=1), stdout is disabled to prevent
// duplicate logs when the service manager also redirects stdout to the log file.
func SetupWithDefaults(logDir, name string, debug bool) (*slog.Logger, func(), error) {
	return Setup(Config{
		LogDir:      logDir,
		Name:        name,
		Debug:       debug,
		LogToStdout: os.Getenv("SLIMRMM_SERVICE") != "1",
	})
}
