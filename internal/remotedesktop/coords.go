package remotedesktop

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/slimrmm/slimrmm-assist/internal/protocol"
)

// ScalePolicy selects how normalized pointer coordinates reach the display.
type ScalePolicy int

const (
	// ScaleDirect maps normalized coordinates straight onto the display.
	ScaleDirect ScalePolicy = iota
	// ScaleTwoStage first scales onto the sender's effective capture frame,
	// then rescales that point onto the display.
	ScaleTwoStage
)

// ParseScalePolicy accepts "direct" (or empty) and "two-stage".
func ParseScalePolicy(s string) (ScalePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct":
		return ScaleDirect, nil
	case "two-stage", "twostage":
		return ScaleTwoStage, nil
	default:
		return ScaleDirect, fmt.Errorf("unknown scale policy %q", s)
	}
}

func (p ScalePolicy) String() string {
	if p == ScaleTwoStage {
		return "two-stage"
	}
	return "direct"
}

// MapPoint converts a normalized point into an absolute display point.
// display is the controlled display's resolution. The result always lies
// within [0, dim-1] on each axis.
func MapPoint(policy ScalePolicy, x, y float64, info protocol.CaptureInfo, display image.Point) image.Point {
	srcW, srcH := info.EffectiveSize()
	return image.Point{
		X: mapAxis(policy, x, srcW, display.X),
		Y: mapAxis(policy, y, srcH, display.Y),
	}
}

func mapAxis(policy ScalePolicy, n, src float64, dim int) int {
	if dim <= 0 {
		return 0
	}
	if math.IsNaN(n) {
		n = 0
	}

	var abs float64
	switch policy {
	case ScaleTwoStage:
		src = math.Max(1, src)
		scaled := math.Round(n * src)
		abs = math.Round(scaled * float64(dim) / src)
	default:
		abs = math.Round(n * float64(dim))
	}

	return clamp(abs, dim-1)
}

func clamp(v float64, max int) int {
	if v < 0 {
		return 0
	}
	if v > float64(max) {
		return max
	}
	return int(v)
}
