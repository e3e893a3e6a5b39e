// Package audit records who was granted control of this machine and what
// the agent changed on its behalf. Events go to the structured logger and,
// when a path is configured, to an append-only JSON lines file.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slimrmm/slimrmm-assist/internal/protocol"
)

// EventType represents the type of audited event.
type EventType string

const (
	// Connection events
	EventConnectSuccess EventType = "connect_success"
	EventConnectFailure EventType = "connect_failure"

	// Consent events
	EventConsentGranted EventType = "consent_granted"
	EventConsentDenied  EventType = "consent_denied"

	// Sharing events
	EventShareStart  EventType = "share_start"
	EventShareStop   EventType = "share_stop"
	EventShareFailed EventType = "share_failed"

	// System changes
	EventBootstrap EventType = "rdp_bootstrap"
)

// Severity represents the severity level of an event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

const maxDetail = 200

// Event represents one audit record.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Severity  Severity               `json:"severity"`
	Room      string                 `json:"room,omitempty"`
	Peer      string                 `json:"peer,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	SessionID string                 `json:"session_id"`
	ProcessID int                    `json:"pid"`
}

// Config holds audit logger configuration.
type Config struct {
	// LogPath is the audit file; empty logs through slog only.
	LogPath     string
	MaxFileSize int64 // bytes before rotation, 0 disables rotation
}

// DefaultConfig places the audit file in logDir.
func DefaultConfig(logDir string) Config {
	cfg := Config{MaxFileSize: 50 * 1024 * 1024}
	if logDir != "" {
		cfg.LogPath = filepath.Join(logDir, "audit.log")
	}
	return cfg
}

// Logger writes audit events. A nil *Logger discards everything.
type Logger struct {
	logger      *slog.Logger
	file        *os.File
	mu          sync.Mutex
	sessionID   string
	logPath     string
	maxFileSize int64
	now         func() time.Time
}

// New creates an audit logger.
func New(cfg Config, baseLogger *slog.Logger) (*Logger, error) {
	if baseLogger == nil {
		baseLogger = slog.Default()
	}
	l := &Logger{
		logger:      baseLogger,
		logPath:     cfg.LogPath,
		maxFileSize: cfg.MaxFileSize,
		sessionID:   uuid.NewString(),
		now:         time.Now,
	}

	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0755); err != nil {
			return nil, fmt.Errorf("creating audit log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		l.file = file
	}

	return l, nil
}

// SessionID identifies this process's audit records.
func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// Log records an event.
func (l *Logger) Log(ctx context.Context, event Event) {
	if l == nil {
		return
	}

	event.Timestamp = l.now().UTC()
	event.SessionID = l.sessionID
	event.ProcessID = os.Getpid()

	l.logger.LogAttrs(ctx, severityToLevel(event.Severity),
		"audit "+string(event.EventType),
		slog.String("event_type", string(event.EventType)),
		slog.String("room", event.Room),
		slog.String("peer", event.Peer),
		slog.Bool("success", event.Success),
		slog.Any("details", event.Details),
	)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		l.logger.Warn("writing audit log", "error", err)
		return
	}
	l.maybeRotate()
}

// maybeRotate checks if the log file needs rotation.
func (l *Logger) maybeRotate() {
	if l.file == nil || l.maxFileSize == 0 {
		return
	}

	info, err := l.file.Stat()
	if err != nil || info.Size() < l.maxFileSize {
		return
	}

	l.file.Close()
	os.Rename(l.logPath, fmt.Sprintf("%s.%d", l.logPath, l.now().Unix()))

	file, err := os.OpenFile(l.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		l.file = nil
		return
	}
	l.file = file
}

func severityToLevel(s Severity) slog.Level {
	switch s {
	case SeverityCritical, SeverityError:
		return slog.LevelError
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Close closes the audit file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// LogConnect records a connection attempt to the relay.
func (l *Logger) LogConnect(ctx context.Context, room, server string, err error) {
	event := Event{
		EventType: EventConnectSuccess,
		Severity:  SeverityInfo,
		Room:      room,
		Success:   err == nil,
		Details:   map[string]interface{}{"server_url": server},
	}
	if err != nil {
		event.EventType = EventConnectFailure
		event.Severity = SeverityWarning
		event.Error = truncateString(err.Error(), maxDetail)
	}
	l.Log(ctx, event)
}

// LogConsent records the answer to a screen request.
func (l *Logger) LogConsent(ctx context.Context, room string, req protocol.ScreenRequest, granted bool, reason string) {
	event := Event{
		EventType: EventConsentGranted,
		Severity:  SeverityWarning,
		Room:      room,
		Peer:      req.From,
		Success:   granted,
		Details:   map[string]interface{}{"name": truncateString(req.Name, maxDetail)},
	}
	if !granted {
		event.EventType = EventConsentDenied
		event.Severity = SeverityInfo
		event.Details["reason"] = reason
	}
	l.Log(ctx, event)
}

// LogShare records the start or end of a local screen share.
func (l *Logger) LogShare(ctx context.Context, room string, started bool, err error) {
	event := Event{
		EventType: EventShareStop,
		Severity:  SeverityInfo,
		Room:      room,
		Success:   err == nil,
	}
	switch {
	case err != nil:
		event.EventType = EventShareFailed
		event.Severity = SeverityError
		event.Error = truncateString(err.Error(), maxDetail)
	case started:
		event.EventType = EventShareStart
		event.Severity = SeverityWarning
	}
	l.Log(ctx, event)
}

// LogBootstrap records a remote desktop bootstrap attempt.
func (l *Logger) LogBootstrap(ctx context.Context, info protocol.SystemInfo) {
	severity := SeverityCritical
	if !info.Enabled {
		severity = SeverityWarning
	}
	l.Log(ctx, Event{
		EventType: EventBootstrap,
		Severity:  severity,
		Room:      info.Room,
		Success:   info.Enabled,
		Details: map[string]interface{}{
			"platform":  info.Platform,
			"host_name": info.HostName,
			"username":  info.Username,
		},
	})
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
