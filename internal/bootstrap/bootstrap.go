// Package bootstrap enables the operating system's native remote desktop
// service on request and reports how to reach this machine.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slimrmm/slimrmm-assist/internal/protocol"
)

// ErrUnsupported is returned by enablers on platforms without a native
// remote desktop service.
var ErrUnsupported = errors.New("native remote desktop is not supported on this platform")

// StepError names the enabling step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("remote desktop %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Enabler turns on the native remote desktop service. Calling it again once
// the service is enabled must be harmless.
type Enabler interface {
	EnableRemoteDesktop(ctx context.Context) error
	Supported() bool
}

// IdentityFunc reports how this machine can be reached.
type IdentityFunc func(ctx context.Context) (protocol.SystemInfo, error)

// Bootstrapper answers start-rdp-capture requests.
type Bootstrapper struct {
	enabler  Enabler
	identity IdentityFunc
	logger   *slog.Logger
}

// New creates a Bootstrapper. A nil identity uses CollectIdentity.
func New(enabler Enabler, identity IdentityFunc, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	if identity == nil {
		identity = CollectIdentity
	}
	return &Bootstrapper{
		enabler:  enabler,
		identity: identity,
		logger:   logger,
	}
}

// Run attempts to enable the native service and returns the identity payload
// for room. It never fails: when enabling is unsupported or fails, the
// payload is still returned with Enabled false so the requester can try to
// connect manually.
func (b *Bootstrapper) Run(ctx context.Context, room string) protocol.SystemInfo {
	info, err := b.identity(ctx)
	if err != nil {
		b.logger.Warn("collecting system identity", "error", err)
	}
	info.Room = room
	info.Enabled = false

	if !b.enabler.Supported() {
		b.logger.Info("native remote desktop unavailable, reporting identity only", "platform", info.Platform)
		return info
	}

	if err := b.enabler.EnableRemoteDesktop(ctx); err != nil {
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			b.logger.Warn("enabling remote desktop failed", "step", stepErr.Step, "error", stepErr.Err)
		} else {
			b.logger.Warn("enabling remote desktop failed", "error", err)
		}
		return info
	}

	info.Enabled = true
	b.logger.Info("remote desktop enabled", "room", room, "ip", info.IP, "host", info.HostName)
	return info
}
