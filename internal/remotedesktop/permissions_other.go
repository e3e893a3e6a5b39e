//go:build !darwin || !cgo

package remotedesktop

import (
	"log/slog"
)

// CheckScreenRecordingPermission always returns true outside macOS.
func CheckScreenRecordingPermission() bool {
	return true
}

// CheckAccessibilityPermission always returns true outside macOS.
func CheckAccessibilityPermission() bool {
	return true
}

// InitializePermissions is a no-op outside macOS.
func InitializePermissions(logger *slog.Logger) {
	if logger != nil {
		logger.Debug("no special permissions required on this platform")
	}
}
