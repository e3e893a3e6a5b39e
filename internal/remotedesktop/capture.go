//go:build cgo

package remotedesktop

import (
	"fmt"
	"image"
	"os"
	"runtime"

	"github.com/kbinani/screenshot"
)

// ScreenCapture captures one display through kbinani/screenshot.
type ScreenCapture struct {
	display int
}

// NewScreenCapture creates a capturer for the display with the given
// 1-based monitor ID. Zero selects the primary display.
func NewScreenCapture(monitorID int) (*ScreenCapture, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no displays found")
	}
	if monitorID == 0 {
		monitorID = 1
	}
	if monitorID < 1 || monitorID > n {
		return nil, fmt.Errorf("invalid monitor ID: %d (available: 1-%d)", monitorID, n)
	}
	return &ScreenCapture{display: monitorID - 1}, nil
}

// Monitors lists the active displays. IDs match NewScreenCapture's and
// bounds are in virtual desktop coordinates.
func Monitors() []Monitor {
	n := screenshot.NumActiveDisplays()
	monitors := make([]Monitor, 0, n)
	for i := 0; i < n; i++ {
		bounds := screenshot.GetDisplayBounds(i)
		monitors = append(monitors, Monitor{
			ID:      i + 1,
			Left:    bounds.Min.X,
			Top:     bounds.Min.Y,
			Width:   bounds.Dx(),
			Height:  bounds.Dy(),
			Name:    fmt.Sprintf("Monitor %d", i+1),
			Primary: i == 0,
		})
	}
	return monitors
}

// Bounds returns the captured display's bounds.
func (sc *ScreenCapture) Bounds() (image.Rectangle, error) {
	idx := sc.display
	if idx >= screenshot.NumActiveDisplays() {
		return image.Rectangle{}, fmt.Errorf("display %d is gone", idx+1)
	}
	return screenshot.GetDisplayBounds(idx), nil
}

// Capture grabs one frame.
func (sc *ScreenCapture) Capture() (*image.RGBA, error) {
	bounds, err := sc.Bounds()
	if err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("capturing screen: %w", err)
	}
	return img, nil
}

// HasDisplayServer checks if a display server is available.
func HasDisplayServer() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	case "linux":
		return os.Getenv("WAYLAND_DISPLAY") != "" || os.Getenv("DISPLAY") != ""
	default:
		return false
	}
}

// CheckDependencies returns availability of screen sharing and input control.
func CheckDependencies() map[string]bool {
	display := HasDisplayServer()
	capture := display && CheckScreenRecordingPermission()
	input := display && CheckAccessibilityPermission()

	return map[string]bool{
		"display_server": display,
		"screen_capture": capture,
		"input_control":  input,
		"cgo_enabled":    true,
	}
}
