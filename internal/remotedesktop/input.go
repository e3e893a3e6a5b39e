//go:build cgo

package remotedesktop

import (
	"errors"

	"github.com/go-vgo/robotgo"
)

// RobotInjector injects input through robotgo.
type RobotInjector struct{}

// NewRobotInjector creates the desktop input backend.
func NewRobotInjector() *RobotInjector {
	return &RobotInjector{}
}

// ScreenSize returns the main display size in input coordinates.
func (RobotInjector) ScreenSize() (int, int, error) {
	var w, h int
	if err := guard("screen size", func() { w, h = robotgo.GetScreenSize() }); err != nil {
		return 0, 0, err
	}
	if w <= 0 || h <= 0 {
		return 0, 0, errors.New("no display available")
	}
	return w, h, nil
}

func (RobotInjector) Move(x, y int) error {
	return guard("move", func() { robotgo.Move(x, y) })
}

func (RobotInjector) Click(button MouseButton, double bool) error {
	return guard("click", func() { robotgo.Click(button.String(), double) })
}

func (RobotInjector) Toggle(button MouseButton, down bool) error {
	state := "up"
	if down {
		state = "down"
	}
	return guard("mouse toggle", func() { robotgo.Toggle(button.String(), state) })
}

func (RobotInjector) Scroll(steps int) error {
	return guard("scroll", func() {
		if steps > 0 {
			robotgo.ScrollDir(steps, "down")
		} else if steps < 0 {
			robotgo.ScrollDir(-steps, "up")
		}
	})
}

func (RobotInjector) KeyToggle(key string, down bool) error {
	return guard("key toggle", func() {
		if down {
			robotgo.KeyDown(key)
		} else {
			robotgo.KeyUp(key)
		}
	})
}

func (RobotInjector) Type(text string) error {
	return guard("type", func() { robotgo.TypeStr(text) })
}
