package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSetup(t *testing.T) {
	tmpDir := t.TempDir()

	logger, cleanup, err := Setup(Config{LogDir: tmpDir, Name: "relay", Debug: true})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	logger.Debug("peer joined", "peer_id", "p1", "room", "r1")

	logPath := filepath.Join(tmpDir, "relay-"+time.Now().Format(dateLayout)+logFileSuffix)
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "peer joined" || entry["peer_id"] != "p1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestSetupInfoLevelDropsDebug(t *testing.T) {
	tmpDir := t.TempDir()

	logger, cleanup, err := Setup(Config{LogDir: tmpDir, Name: "agent"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown")
	cleanup()

	logPath := filepath.Join(tmpDir, "agent-"+time.Now().Format(dateLayout)+logFileSuffix)
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if strings.Contains(string(content), "hidden") {
		t.Error("debug line written at info level")
	}
	if !strings.Contains(string(content), "shown") {
		t.Error("info line missing")
	}
}

func TestSetupWithDefaults(t *testing.T) {
	t.Setenv("SLIMRMM_SERVICE", "1")

	logger, cleanup, err := SetupWithDefaults(t.TempDir(), "agent", false)
	if err != nil {
		t.Fatalf("SetupWithDefaults failed: %v", err)
	}
	defer cleanup()

	if logger == nil {
		t.Fatal("logger should not be nil")
	}
}

func TestSetupWithInvalidDir(t *testing.T) {
	// A file where the directory should be forces the stdout fallback.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}

	logger, cleanup, err := Setup(Config{LogDir: filepath.Join(blocker, "logs")})
	if err != nil {
		t.Fatalf("Setup should not error: %v", err)
	}
	defer cleanup()

	if logger == nil {
		t.Fatal("logger should not be nil even with invalid dir")
	}
}

func TestDailyWriterRotates(t *testing.T) {
	tmpDir := t.TempDir()
	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	now := func() time.Time { return day }

	w, err := newDailyWriter(tmpDir, "relay", now)
	if err != nil {
		t.Fatalf("newDailyWriter() error = %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("first\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	first := w.current()

	day = day.Add(2 * time.Minute)
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	second := w.current()

	if first == second {
		t.Fatalf("file did not rotate: %s", first)
	}
	if filepath.Base(second) != "relay-2026-03-02.log" {
		t.Errorf("rotated file = %s, want relay-2026-03-02.log", filepath.Base(second))
	}

	content, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "first\n" {
		t.Errorf("first file = %q, want %q", content, "first\n")
	}
}
