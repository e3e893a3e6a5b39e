package remotedesktop

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/slimrmm/slimrmm-assist/internal/protocol"
)

const (
	// DefaultMoveThrottle is the minimum spacing between injected moves.
	DefaultMoveThrottle = 15 * time.Millisecond
	// wheelStep is the fixed scroll magnitude of one wheel event.
	wheelStep = 3
)

var (
	ErrNotArmed           = errors.New("no capture info, control events are ignored")
	ErrThrottled          = errors.New("pointer move throttled")
	ErrUnmappedKey        = errors.New("key has no mapping")
	ErrInvalidCaptureInfo = errors.New("invalid capture info")
	ErrAlreadySharing     = errors.New("already sharing")
	ErrNotSharing         = errors.New("not sharing")
)

// State is the control state of a Translator.
type State int

const (
	StateIdle State = iota
	StateArmed
)

func (s State) String() string {
	if s == StateArmed {
		return "armed"
	}
	return "idle"
}

// Streamer is a capture loop that can be started and stopped. Stop must not
// return until the loop has exited.
type Streamer interface {
	Start() error
	Stop()
}

// TranslatorOptions tunes a Translator.
type TranslatorOptions struct {
	Keys         *KeyTable
	Policy       ScalePolicy
	MoveThrottle time.Duration
	// Display is the desktop region pointer events land on. Empty means
	// the injector's screen size at the origin.
	Display image.Rectangle
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Translator turns control events into local input. It starts Idle and only
// accepts control events once armed with capture info. Independently, it
// tracks whether a share (capture loop) is active.
type Translator struct {
	inj      Injector
	keys     *KeyTable
	policy   ScalePolicy
	throttle time.Duration
	region   image.Rectangle
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	info     protocol.CaptureInfo
	display  image.Point
	origin   image.Point
	lastMove time.Time
	pressed  map[string]struct{}
	streamer Streamer
}

// NewTranslator creates an idle translator.
func NewTranslator(inj Injector, opts TranslatorOptions, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Keys == nil {
		opts.Keys = DefaultKeyTable()
	}
	if opts.MoveThrottle <= 0 {
		opts.MoveThrottle = DefaultMoveThrottle
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Translator{
		inj:      inj,
		keys:     opts.Keys,
		policy:   opts.Policy,
		throttle: opts.MoveThrottle,
		region:   opts.Display.Canon(),
		now:      opts.Clock,
		logger:   logger,
		pressed:  make(map[string]struct{}),
	}
}

// Arm installs info as the reference frame for pointer events. Calling Arm
// again replaces the frame wholesale.
func (t *Translator) Arm(info protocol.CaptureInfo) error {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCaptureInfo, err)
	}

	origin := t.region.Min
	w, h := t.region.Dx(), t.region.Dy()
	if t.region.Empty() {
		var err error
		if w, h, err = t.inj.ScreenSize(); err != nil {
			return fmt.Errorf("reading display size: %w", err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.info = info
	t.display = image.Point{X: w, Y: h}
	t.origin = origin
	t.lastMove = time.Time{}
	if t.state != StateArmed {
		t.logger.Info("input control armed",
			"capture_width", info.CaptureWidth,
			"capture_height", info.CaptureHeight,
			"device_pixel_ratio", info.DevicePixelRatio,
			"display_width", w,
			"display_height", h,
			"display_origin", origin.String(),
			"policy", t.policy.String(),
		)
	}
	t.state = StateArmed
	return nil
}

// Disarm returns to Idle. Keys still held are released.
func (t *Translator) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateIdle {
		return
	}
	t.state = StateIdle
	t.info = protocol.CaptureInfo{}
	t.releasePressedLocked()
	t.logger.Info("input control disarmed")
}

// State returns the control state.
func (t *Translator) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Handle applies one control event. It returns ErrNotArmed in the Idle
// state, ErrThrottled for a move inside the throttle window and
// ErrUnmappedKey for a key it cannot express. Failed input actions are
// logged and do not produce an error.
func (t *Translator) Handle(ev protocol.ControlEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateArmed {
		return ErrNotArmed
	}

	if ev.IsKey() {
		return t.handleKeyLocked(ev)
	}
	return t.handlePointerLocked(ev)
}

func (t *Translator) handlePointerLocked(ev protocol.ControlEvent) error {
	if ev.Type == protocol.ControlMouseMove {
		now := t.now()
		if !t.lastMove.IsZero() && now.Sub(t.lastMove) < t.throttle {
			return ErrThrottled
		}
		t.lastMove = now
	}

	if ev.HasPosition() {
		p := MapPoint(t.policy, *ev.X, *ev.Y, t.info, t.display).Add(t.origin)
		t.inject(t.inj.Move(p.X, p.Y))
		if ev.Type == protocol.ControlMouseMove {
			return nil
		}
	}

	button := ButtonFromCode(ev.Button)
	switch ev.Type {
	case protocol.ControlMouseDown:
		t.inject(t.inj.Toggle(button, true))
	case protocol.ControlMouseUp:
		t.inject(t.inj.Toggle(button, false))
	case protocol.ControlClick:
		t.inject(t.inj.Click(button, false))
	case protocol.ControlDoubleClick:
		t.inject(t.inj.Click(button, true))
	case protocol.ControlWheel:
		switch {
		case ev.DeltaY > 0:
			t.inject(t.inj.Scroll(wheelStep))
		case ev.DeltaY < 0:
			t.inject(t.inj.Scroll(-wheelStep))
		}
	}
	return nil
}

func (t *Translator) handleKeyLocked(ev protocol.ControlEvent) error {
	down := ev.Type == protocol.ControlKeyDown

	if code, ok := t.keys.Lookup(ev.Key); ok {
		if err := t.inj.KeyToggle(code, down); err != nil {
			t.inject(err)
			return nil
		}
		if down {
			t.pressed[code] = struct{}{}
		} else {
			delete(t.pressed, code)
		}
		return nil
	}

	if down && utf8.RuneCountInString(ev.Key) == 1 {
		t.inject(t.inj.Type(ev.Key))
		return nil
	}
	if !down && utf8.RuneCountInString(ev.Key) == 1 {
		// Typed characters are an atomic press and release.
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnmappedKey, ev.Key)
}

func (t *Translator) inject(err error) {
	if err == nil {
		return
	}
	var ie *InjectionError
	if !errors.As(err, &ie) {
		err = &InjectionError{Action: "input", Err: err}
	}
	t.logger.Warn("input action failed", "error", err)
}

func (t *Translator) releasePressedLocked() {
	for code := range t.pressed {
		t.inject(t.inj.KeyToggle(code, false))
		delete(t.pressed, code)
	}
}

// ReleaseAll releases every key in the table, whether or not it is known
// to be held.
func (t *Translator) ReleaseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, code := range t.keys.Codes() {
		t.inject(t.inj.KeyToggle(code, false))
	}
	t.pressed = make(map[string]struct{})
}

// StartSharing starts s and enters the Sharing state.
func (t *Translator) StartSharing(s Streamer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.streamer != nil {
		return ErrAlreadySharing
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("starting capture: %w", err)
	}
	t.streamer = s
	t.logger.Info("screen sharing started")
	return nil
}

// StopSharing stops the active capture loop before returning.
func (t *Translator) StopSharing() error {
	t.mu.Lock()
	s := t.streamer
	t.streamer = nil
	t.mu.Unlock()

	if s == nil {
		return ErrNotSharing
	}
	s.Stop()
	t.logger.Info("screen sharing stopped")
	return nil
}

// Sharing reports whether a capture loop is active.
func (t *Translator) Sharing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streamer != nil
}
