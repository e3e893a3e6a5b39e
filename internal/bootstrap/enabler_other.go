//go:build !windows

package bootstrap

import (
	"context"
	"log/slog"
)

type unsupportedEnabler struct{}

// NewEnabler returns the enabler for this platform.
func NewEnabler(logger *slog.Logger) Enabler {
	return unsupportedEnabler{}
}

func (unsupportedEnabler) Supported() bool { return false }

func (unsupportedEnabler) EnableRemoteDesktop(context.Context) error {
	return ErrUnsupported
}
