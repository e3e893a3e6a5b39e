// Package remotedesktop drives local input from relayed control events and
// streams the local screen while a share is active.
package remotedesktop

// Monitor represents display information.
type Monitor struct {
	ID      int    `json:"id"`
	Left    int    `json:"left"`
	Top     int    `json:"top"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Name    string `json:"name"`
	Primary bool   `json:"primary"`
}

// QualitySettings defines frame streaming parameters.
type QualitySettings struct {
	Scale       float64
	FPS         int
	JPEGQuality int
}

// QualityPresets maps quality names to settings. Frames travel through the
// relay as JSON, so rates stay well below video rates.
var QualityPresets = map[string]QualitySettings{
	"low":      {Scale: 0.5, FPS: 5, JPEGQuality: 50},
	"balanced": {Scale: 0.75, FPS: 10, JPEGQuality: 65},
	"high":     {Scale: 1.0, FPS: 15, JPEGQuality: 80},
}

// MouseButton represents mouse button types.
type MouseButton int

const (
	MouseButtonLeft MouseButton = iota
	MouseButtonMiddle
	MouseButtonRight
)

// ButtonFromCode maps a DOM MouseEvent.button value to a button.
// Anything other than middle (1) or secondary (2) is the primary button.
func ButtonFromCode(code int) MouseButton {
	switch code {
	case 1:
		return MouseButtonMiddle
	case 2:
		return MouseButtonRight
	default:
		return MouseButtonLeft
	}
}

// String returns the input backend's name for the button.
func (b MouseButton) String() string {
	switch b {
	case MouseButtonMiddle:
		return "center"
	case MouseButtonRight:
		return "right"
	default:
		return "left"
	}
}

// SendCallback is the function type for sending encoded frames to the relay.
type SendCallback func(msg []byte) error
