package remotedesktop

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/slimrmm/slimrmm-assist/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeInjector struct {
	width, height int
	failOn        string

	mu    sync.Mutex
	calls []string
}

func (f *fakeInjector) record(action, call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == action {
		return &InjectionError{Action: action, Err: errors.New("backend unavailable")}
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeInjector) ScreenSize() (int, int, error) {
	if f.width == 0 {
		return 0, 0, errors.New("no display")
	}
	return f.width, f.height, nil
}

func (f *fakeInjector) Move(x, y int) error {
	return f.record("move", fmt.Sprintf("move %d %d", x, y))
}

func (f *fakeInjector) Click(b MouseButton, double bool) error {
	return f.record("click", fmt.Sprintf("click %s %v", b, double))
}

func (f *fakeInjector) Toggle(b MouseButton, down bool) error {
	return f.record("toggle", fmt.Sprintf("toggle %s %v", b, down))
}

func (f *fakeInjector) Scroll(steps int) error {
	return f.record("scroll", fmt.Sprintf("scroll %d", steps))
}

func (f *fakeInjector) KeyToggle(key string, down bool) error {
	return f.record("key", fmt.Sprintf("key %s %v", key, down))
}

func (f *fakeInjector) Type(text string) error {
	return f.record("type", "type "+text)
}

func (f *fakeInjector) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeInjector) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func pt(v float64) *float64 { return &v }

func equalCalls(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func newArmedTranslator(t *testing.T, keys *KeyTable) (*Translator, *fakeInjector, *fakeClock) {
	t.Helper()
	inj := &fakeInjector{width: 1920, height: 1080}
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTranslator(inj, TranslatorOptions{Keys: keys, Clock: clock.Now}, testLogger())
	if err := tr.Arm(protocol.CaptureInfo{CaptureWidth: 1920, CaptureHeight: 1080, DevicePixelRatio: 1}); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	return tr, inj, clock
}

func TestButtonFromCode(t *testing.T) {
	tests := []struct {
		code int
		want MouseButton
		name string
	}{
		{0, MouseButtonLeft, "left"},
		{1, MouseButtonMiddle, "center"},
		{2, MouseButtonRight, "right"},
		{3, MouseButtonLeft, "left"},
		{-1, MouseButtonLeft, "left"},
	}

	for _, tt := range tests {
		got := ButtonFromCode(tt.code)
		if got != tt.want {
			t.Errorf("ButtonFromCode(%d) = %v, want %v", tt.code, got, tt.want)
		}
		if got.String() != tt.name {
			t.Errorf("ButtonFromCode(%d).String() = %s, want %s", tt.code, got.String(), tt.name)
		}
	}
}

func TestKeyTableLookup(t *testing.T) {
	table := DefaultKeyTable()

	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"Enter", "enter", true},
		{"enter", "enter", true},
		{"ENTER", "enter", true},
		{"ArrowLeft", "left", true},
		{"Control", "ctrl", true},
		{"Ctrl", "ctrl", true},
		{"Meta", "cmd", true},
		{"F12", "f12", true},
		{"a", "", false},
		{"Unidentified", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := table.Lookup(tt.name)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Lookup(%q) = %q, %v, want %q, %v", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestKeyTableCodes(t *testing.T) {
	table := NewKeyTable(map[string]string{"Control": "ctrl", "ctrl": "ctrl", "Shift": "shift"})

	codes := table.Codes()
	if !equalCalls(codes, []string{"ctrl", "shift"}) {
		t.Errorf("Codes() = %v, want [ctrl shift]", codes)
	}
	if table.Len() != 3 {
		t.Errorf("Len() = %d, want 3", table.Len())
	}

	empty := NewKeyTable(nil)
	if _, ok := empty.Lookup("enter"); ok {
		t.Error("empty table should not resolve enter")
	}
	if len(empty.Codes()) != 0 {
		t.Error("empty table should have no codes")
	}
}

func TestParseScalePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ScalePolicy
		wantErr bool
	}{
		{"", ScaleDirect, false},
		{"direct", ScaleDirect, false},
		{"Two-Stage", ScaleTwoStage, false},
		{"stretch", ScaleDirect, true},
	}

	for _, tt := range tests {
		got, err := ParseScalePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseScalePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseScalePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMapPoint(t *testing.T) {
	fullHD := image.Point{X: 1920, Y: 1080}
	sameAsDisplay := protocol.CaptureInfo{CaptureWidth: 1920, CaptureHeight: 1080, DevicePixelRatio: 1}
	retina := protocol.CaptureInfo{CaptureWidth: 1280, CaptureHeight: 720, DevicePixelRatio: 1.5}

	tests := []struct {
		name    string
		policy  ScalePolicy
		x, y    float64
		info    protocol.CaptureInfo
		display image.Point
		want    image.Point
	}{
		{"center direct", ScaleDirect, 0.5, 0.5, sameAsDisplay, fullHD, image.Pt(960, 540)},
		{"center two-stage", ScaleTwoStage, 0.5, 0.5, sameAsDisplay, fullHD, image.Pt(960, 540)},
		{"far corner clamps", ScaleDirect, 1.0, 1.0, sameAsDisplay, fullHD, image.Pt(1919, 1079)},
		{"far corner clamps two-stage", ScaleTwoStage, 1.0, 1.0, sameAsDisplay, fullHD, image.Pt(1919, 1079)},
		{"origin", ScaleDirect, 0, 0, sameAsDisplay, fullHD, image.Pt(0, 0)},
		{"negative clamps", ScaleDirect, -0.2, -5, sameAsDisplay, fullHD, image.Pt(0, 0)},
		{"beyond range clamps", ScaleTwoStage, 3, 3, sameAsDisplay, fullHD, image.Pt(1919, 1079)},
		{"pixel ratio onto larger display", ScaleTwoStage, 0.5, 0.25, retina, image.Pt(2560, 1440), image.Pt(1280, 360)},
		{"direct ignores source frame", ScaleDirect, 0.5, 0.25, retina, image.Pt(2560, 1440), image.Pt(1280, 360)},
		{"two-stage rounds on the source grid", ScaleTwoStage, 0.2, 0.2, protocol.CaptureInfo{CaptureWidth: 3, CaptureHeight: 3, DevicePixelRatio: 1}, image.Pt(1000, 1000), image.Pt(333, 333)},
		{"zero source treated as one", ScaleTwoStage, 0.6, 0.4, protocol.CaptureInfo{}, image.Pt(1000, 1000), image.Pt(999, 0)},
		{"zero display", ScaleDirect, 0.5, 0.5, sameAsDisplay, image.Point{}, image.Pt(0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapPoint(tt.policy, tt.x, tt.y, tt.info, tt.display)
			if got != tt.want {
				t.Errorf("MapPoint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapPointPoliciesAgreeWhenSourceMatchesDisplay(t *testing.T) {
	info := protocol.CaptureInfo{CaptureWidth: 1366, CaptureHeight: 768, DevicePixelRatio: 1}
	display := image.Point{X: 1366, Y: 768}

	for i := 0; i <= 100; i++ {
		n := float64(i) / 100
		direct := MapPoint(ScaleDirect, n, n, info, display)
		twoStage := MapPoint(ScaleTwoStage, n, n, info, display)
		if direct != twoStage {
			t.Fatalf("at %v: direct %v != two-stage %v", n, direct, twoStage)
		}
	}
}

func TestTranslatorIdleIgnoresControl(t *testing.T) {
	inj := &fakeInjector{width: 1920, height: 1080}
	tr := NewTranslator(inj, TranslatorOptions{}, testLogger())

	if tr.State() != StateIdle {
		t.Fatalf("State() = %v, want idle", tr.State())
	}
	err := tr.Handle(protocol.ControlEvent{Type: protocol.ControlClick, X: pt(0.5), Y: pt(0.5)})
	if !errors.Is(err, ErrNotArmed) {
		t.Errorf("Handle() error = %v, want ErrNotArmed", err)
	}
	if len(inj.Calls()) != 0 {
		t.Errorf("idle translator injected %v", inj.Calls())
	}
}

func TestTranslatorArm(t *testing.T) {
	inj := &fakeInjector{width: 1920, height: 1080}
	tr := NewTranslator(inj, TranslatorOptions{}, testLogger())

	if err := tr.Arm(protocol.CaptureInfo{CaptureWidth: 0, CaptureHeight: 100}); !errors.Is(err, ErrInvalidCaptureInfo) {
		t.Errorf("Arm(zero width) error = %v, want ErrInvalidCaptureInfo", err)
	}
	if tr.State() != StateIdle {
		t.Error("invalid capture info must not arm")
	}

	if err := tr.Arm(protocol.CaptureInfo{CaptureWidth: 800, CaptureHeight: 600}); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if tr.State() != StateArmed {
		t.Errorf("State() = %v, want armed", tr.State())
	}

	tr.Disarm()
	if tr.State() != StateIdle {
		t.Errorf("State() after Disarm = %v, want idle", tr.State())
	}

	noDisplay := NewTranslator(&fakeInjector{}, TranslatorOptions{}, testLogger())
	if err := noDisplay.Arm(protocol.CaptureInfo{CaptureWidth: 800, CaptureHeight: 600}); err == nil {
		t.Error("Arm() without a display should fail")
	}
}

func TestTranslatorDisplayRegion(t *testing.T) {
	// Second monitor to the right of a 1920 wide primary; the injector knows
	// no screen size, so only the region can be used.
	inj := &fakeInjector{}
	tr := NewTranslator(inj, TranslatorOptions{Display: image.Rect(1920, 0, 3200, 1024)}, testLogger())

	if err := tr.Arm(protocol.CaptureInfo{CaptureWidth: 1280, CaptureHeight: 1024}); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	tr.Handle(protocol.ControlEvent{Type: protocol.ControlClick, X: pt(0), Y: pt(0)})
	tr.Handle(protocol.ControlEvent{Type: protocol.ControlClick, X: pt(1), Y: pt(1)})

	want := []string{"move 1920 0", "click left false", "move 3199 1023", "click left false"}
	if got := inj.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestTranslatorMoveThrottle(t *testing.T) {
	tr, inj, clock := newArmedTranslator(t, nil)
	move := protocol.ControlEvent{Type: protocol.ControlMouseMove, X: pt(0.5), Y: pt(0.5)}

	if err := tr.Handle(move); err != nil {
		t.Fatalf("first move error = %v", err)
	}
	clock.Advance(5 * time.Millisecond)
	if err := tr.Handle(move); !errors.Is(err, ErrThrottled) {
		t.Errorf("move 5ms later error = %v, want ErrThrottled", err)
	}
	if n := len(inj.Calls()); n != 1 {
		t.Errorf("moves injected = %d, want 1", n)
	}

	clock.Advance(20 * time.Millisecond)
	if err := tr.Handle(move); err != nil {
		t.Errorf("move 20ms later error = %v", err)
	}
	clock.Advance(20 * time.Millisecond)
	if err := tr.Handle(move); err != nil {
		t.Errorf("move another 20ms later error = %v", err)
	}
	if n := len(inj.Calls()); n != 3 {
		t.Errorf("moves injected = %d, want 3", n)
	}
}

func TestTranslatorButtonsNeverThrottled(t *testing.T) {
	tr, inj, _ := newArmedTranslator(t, nil)

	tr.Handle(protocol.ControlEvent{Type: protocol.ControlMouseMove, X: pt(0.1), Y: pt(0.1)})
	inj.Reset()

	events := []protocol.ControlEvent{
		{Type: protocol.ControlMouseDown, X: pt(0.5), Y: pt(0.5), Button: 0},
		{Type: protocol.ControlMouseUp, Button: 0},
		{Type: protocol.ControlClick, Button: 2},
		{Type: protocol.ControlDoubleClick, Button: 1},
		{Type: protocol.ControlWheel, DeltaY: 120},
		{Type: protocol.ControlWheel, DeltaY: -4},
		{Type: protocol.ControlWheel, DeltaY: 0},
	}
	for _, ev := range events {
		if err := tr.Handle(ev); err != nil {
			t.Fatalf("Handle(%s) error = %v", ev.Type, err)
		}
	}

	want := []string{
		"move 960 540",
		"toggle left true",
		"toggle left false",
		"click right false",
		"click center true",
		"scroll 3",
		"scroll -3",
	}
	if got := inj.Calls(); !equalCalls(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestTranslatorKeys(t *testing.T) {
	tests := []struct {
		name    string
		keys    *KeyTable
		ev      protocol.ControlEvent
		want    []string
		wantErr error
	}{
		{
			name: "single char on empty table is typed",
			keys: NewKeyTable(nil),
			ev:   protocol.ControlEvent{Type: protocol.ControlKeyDown, Key: "a"},
			want: []string{"type a"},
		},
		{
			name: "mapped key is pressed, never typed",
			keys: DefaultKeyTable(),
			ev:   protocol.ControlEvent{Type: protocol.ControlKeyDown, Key: "Enter"},
			want: []string{"key enter true"},
		},
		{
			name: "mapped key release",
			keys: DefaultKeyTable(),
			ev:   protocol.ControlEvent{Type: protocol.ControlKeyUp, Key: "SHIFT"},
			want: []string{"key shift false"},
		},
		{
			name: "keyup of a typed char is a no-op",
			keys: DefaultKeyTable(),
			ev:   protocol.ControlEvent{Type: protocol.ControlKeyUp, Key: "a"},
		},
		{
			name: "multibyte char is typed",
			keys: DefaultKeyTable(),
			ev:   protocol.ControlEvent{Type: protocol.ControlKeyDown, Key: "ß"},
			want: []string{"type ß"},
		},
		{
			name:    "unmapped named key",
			keys:    DefaultKeyTable(),
			ev:      protocol.ControlEvent{Type: protocol.ControlKeyDown, Key: "AudioVolumeUp"},
			wantErr: ErrUnmappedKey,
		},
		{
			name:    "enter on empty table is not typed",
			keys:    NewKeyTable(nil),
			ev:      protocol.ControlEvent{Type: protocol.ControlKeyDown, Key: "Enter"},
			wantErr: ErrUnmappedKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, inj, _ := newArmedTranslator(t, tt.keys)
			err := tr.Handle(tt.ev)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Handle() error = %v, want %v", err, tt.wantErr)
			}
			if got := inj.Calls(); !equalCalls(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTranslatorInjectionFailureDoesNotPropagate(t *testing.T) {
	tr, inj, _ := newArmedTranslator(t, nil)
	inj.failOn = "click"

	if err := tr.Handle(protocol.ControlEvent{Type: protocol.ControlClick, X: pt(0), Y: pt(0)}); err != nil {
		t.Fatalf("Handle() error = %v, want nil", err)
	}
	if err := tr.Handle(protocol.ControlEvent{Type: protocol.ControlKeyDown, Key: "x"}); err != nil {
		t.Fatalf("Handle() after failure error = %v", err)
	}

	want := []string{"move 0 0", "type x"}
	if got := inj.Calls(); !equalCalls(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestTranslatorMalformedEvent(t *testing.T) {
	tr, _, _ := newArmedTranslator(t, nil)

	err := tr.Handle(protocol.ControlEvent{Type: protocol.ControlMouseMove})
	if !errors.Is(err, protocol.ErrMalformedEvent) {
		t.Errorf("Handle(move without position) error = %v, want ErrMalformedEvent", err)
	}
}

func TestTranslatorReleaseAll(t *testing.T) {
	keys := NewKeyTable(map[string]string{"Shift": "shift", "Control": "ctrl", "ctrl": "ctrl"})
	tr, inj, _ := newArmedTranslator(t, keys)

	tr.ReleaseAll()

	want := []string{"key ctrl false", "key shift false"}
	if got := inj.Calls(); !equalCalls(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestTranslatorDisarmReleasesHeldKeys(t *testing.T) {
	tr, inj, _ := newArmedTranslator(t, nil)

	tr.Handle(protocol.ControlEvent{Type: protocol.ControlKeyDown, Key: "Shift"})
	inj.Reset()

	tr.Disarm()

	want := []string{"key shift false"}
	if got := inj.Calls(); !equalCalls(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

type fakeStreamer struct {
	started, stopped int
	err              error
}

func (f *fakeStreamer) Start() error {
	if f.err != nil {
		return f.err
	}
	f.started++
	return nil
}

func (f *fakeStreamer) Stop() { f.stopped++ }

func TestTranslatorSharingState(t *testing.T) {
	tr := NewTranslator(&fakeInjector{width: 10, height: 10}, TranslatorOptions{}, testLogger())
	s := &fakeStreamer{}

	if err := tr.StopSharing(); !errors.Is(err, ErrNotSharing) {
		t.Errorf("StopSharing() error = %v, want ErrNotSharing", err)
	}

	if err := tr.StartSharing(s); err != nil {
		t.Fatalf("StartSharing() error = %v", err)
	}
	if !tr.Sharing() {
		t.Error("Sharing() = false, want true")
	}
	if err := tr.StartSharing(&fakeStreamer{}); !errors.Is(err, ErrAlreadySharing) {
		t.Errorf("second StartSharing() error = %v, want ErrAlreadySharing", err)
	}

	if err := tr.StopSharing(); err != nil {
		t.Fatalf("StopSharing() error = %v", err)
	}
	if tr.Sharing() || s.started != 1 || s.stopped != 1 {
		t.Errorf("after stop: sharing=%v started=%d stopped=%d", tr.Sharing(), s.started, s.stopped)
	}

	failing := &fakeStreamer{err: errors.New("no display")}
	if err := tr.StartSharing(failing); err == nil {
		t.Error("StartSharing() with a failing streamer should fail")
	}
	if tr.Sharing() {
		t.Error("a failed start must not enter the sharing state")
	}
}

type fakeCapturer struct {
	bounds image.Rectangle
	err    error
}

func (f *fakeCapturer) Bounds() (image.Rectangle, error) {
	return f.bounds, f.err
}

func (f *fakeCapturer) Capture() (*image.RGBA, error) {
	if f.err != nil {
		return nil, f.err
	}
	img := image.NewRGBA(f.bounds)
	for y := f.bounds.Min.Y; y < f.bounds.Max.Y; y++ {
		for x := f.bounds.Min.X; x < f.bounds.Max.X; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img, nil
}

func TestSessionStreamsFrames(t *testing.T) {
	frames := make(chan []byte, 64)
	send := func(msg []byte) error {
		select {
		case frames <- msg:
		default:
		}
		return nil
	}

	capturer := &fakeCapturer{bounds: image.Rect(0, 0, 64, 48)}
	s, err := NewSession(capturer, send, SessionOptions{Room: "r1", Quality: "low", FPS: 50}, testLogger())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.Running() {
		t.Error("Running() = false after Start")
	}

	var msg []byte
	select {
	case msg = <-frames:
	case <-time.After(5 * time.Second):
		t.Fatal("no frame within 5s")
	}

	s.Stop()
	if s.Running() {
		t.Error("Running() = true after Stop")
	}
	// Stop waits for the loop, so nothing is sent afterwards.
	for len(frames) > 0 {
		<-frames
	}
	time.Sleep(100 * time.Millisecond)
	if n := len(frames); n != 0 {
		t.Errorf("%d frames sent after Stop", n)
	}

	decoded, err := protocol.Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Event != protocol.EventScreenFrame {
		t.Errorf("event = %s, want %s", decoded.Event, protocol.EventScreenFrame)
	}
	var frame protocol.ScreenFrame
	if err := json.Unmarshal(decoded.Data, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Width != 32 || frame.Height != 24 || frame.Room != "r1" {
		t.Errorf("frame = %dx%d room %s, want 32x24 room r1", frame.Width, frame.Height, frame.Room)
	}
}

func TestSessionCaptureInfo(t *testing.T) {
	s, err := NewSession(&fakeCapturer{bounds: image.Rect(0, 0, 2560, 1440)}, func([]byte) error { return nil }, SessionOptions{Room: "r1"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	info, err := s.CaptureInfo()
	if err != nil {
		t.Fatalf("CaptureInfo() error = %v", err)
	}
	if info.CaptureWidth != 2560 || info.CaptureHeight != 1440 || info.DevicePixelRatio != 1 || info.Room != "r1" {
		t.Errorf("CaptureInfo() = %+v", info)
	}
}

func TestSessionStartFailsWithoutDisplay(t *testing.T) {
	s, _ := NewSession(&fakeCapturer{err: errors.New("display gone")}, func([]byte) error { return nil }, SessionOptions{}, testLogger())
	if err := s.Start(); err == nil {
		t.Error("Start() should fail when the display cannot be probed")
	}
	if s.Running() {
		t.Error("session should not be running")
	}
	s.Stop()
}

func TestNewSessionUnknownQuality(t *testing.T) {
	if _, err := NewSession(&fakeCapturer{}, nil, SessionOptions{Quality: "ultra"}, testLogger()); err == nil {
		t.Error("NewSession() with unknown preset should fail")
	}
}

func TestQualityPresets(t *testing.T) {
	for _, name := range []string{"low", "balanced", "high"} {
		t.Run(name, func(t *testing.T) {
			preset, ok := QualityPresets[name]
			if !ok {
				t.Fatalf("preset %s not found", name)
			}
			if preset.FPS <= 0 || preset.Scale <= 0 || preset.Scale > 1 {
				t.Errorf("preset %s = %+v", name, preset)
			}
			if preset.JPEGQuality < 1 || preset.JPEGQuality > 100 {
				t.Errorf("JPEGQuality = %d, want within [1,100]", preset.JPEGQuality)
			}
		})
	}
}

func TestJPEGEncoder(t *testing.T) {
	enc := NewJPEGEncoder(250)
	if enc.Quality() != 100 {
		t.Errorf("Quality() = %d, want 100", enc.Quality())
	}
	enc.SetQuality(0)
	if enc.Quality() != 1 {
		t.Errorf("Quality() = %d, want 1", enc.Quality())
	}

	img, _ := (&fakeCapturer{bounds: image.Rect(0, 0, 16, 8)}).Capture()
	data, err := enc.Encode(img)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 16 || decoded.Bounds().Dy() != 8 {
		t.Errorf("decoded size = %v, want 16x8", decoded.Bounds())
	}
}

func TestScaleImage(t *testing.T) {
	img, _ := (&fakeCapturer{bounds: image.Rect(0, 0, 100, 50)}).Capture()

	tests := []struct {
		scale float64
		w, h  int
	}{
		{1.0, 100, 50},
		{0.5, 50, 25},
		{0.001, 1, 1},
		{0, 100, 50},
	}

	for _, tt := range tests {
		got := ScaleImage(img, tt.scale)
		if got.Bounds().Dx() != tt.w || got.Bounds().Dy() != tt.h {
			t.Errorf("ScaleImage(%v) = %dx%d, want %dx%d", tt.scale, got.Bounds().Dx(), got.Bounds().Dy(), tt.w, tt.h)
		}
	}
}
