//go:build !cgo

package remotedesktop

import (
	"errors"
	"image"
)

var errCGODisabled = errors.New("remote desktop requires CGO to be enabled")

// RobotInjector is unavailable when CGO is disabled; every action fails.
type RobotInjector struct{}

// NewRobotInjector returns an injector that reports every action as failed.
func NewRobotInjector() *RobotInjector {
	return &RobotInjector{}
}

func (RobotInjector) ScreenSize() (int, int, error) { return 0, 0, errCGODisabled }

func (RobotInjector) Move(x, y int) error { return errCGODisabled }

func (RobotInjector) Click(MouseButton, bool) error { return errCGODisabled }

func (RobotInjector) Toggle(MouseButton, bool) error { return errCGODisabled }

func (RobotInjector) Scroll(int) error { return errCGODisabled }

func (RobotInjector) KeyToggle(string, bool) error { return errCGODisabled }

func (RobotInjector) Type(string) error { return errCGODisabled }

// ScreenCapture stub for non-CGO builds.
type ScreenCapture struct{}

// NewScreenCapture returns an error when CGO is disabled.
func NewScreenCapture(monitorID int) (*ScreenCapture, error) {
	return nil, errCGODisabled
}

// Monitors returns no monitors when CGO is disabled.
func Monitors() []Monitor { return nil }

// Bounds returns an error when CGO is disabled.
func (sc *ScreenCapture) Bounds() (image.Rectangle, error) {
	return image.Rectangle{}, errCGODisabled
}

// Capture returns an error when CGO is disabled.
func (sc *ScreenCapture) Capture() (*image.RGBA, error) {
	return nil, errCGODisabled
}

// HasDisplayServer always returns false when CGO is disabled.
func HasDisplayServer() bool {
	return false
}

// CheckDependencies returns all features as unavailable when CGO is disabled.
func CheckDependencies() map[string]bool {
	return map[string]bool{
		"display_server": false,
		"screen_capture": false,
		"input_control":  false,
		"cgo_enabled":    false,
	}
}
