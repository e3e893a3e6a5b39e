package remotedesktop

import (
	"fmt"
)

// Injector performs input actions on the local desktop. Coordinates are
// absolute display points.
type Injector interface {
	ScreenSize() (width, height int, err error)
	Move(x, y int) error
	Click(button MouseButton, double bool) error
	Toggle(button MouseButton, down bool) error
	// Scroll scrolls vertically by steps; positive values scroll down.
	Scroll(steps int) error
	KeyToggle(key string, down bool) error
	Type(text string) error
}

// InjectionError reports one failed input action.
type InjectionError struct {
	Action string
	Err    error
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("injecting %s: %v", e.Action, e.Err)
}

func (e *InjectionError) Unwrap() error {
	return e.Err
}

// guard converts a panic inside an input backend call into an error.
func guard(action string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &InjectionError{Action: action, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	fn()
	return nil
}
