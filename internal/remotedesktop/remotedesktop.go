package remotedesktop

import (
	"encoding/base64"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/slimrmm/slimrmm-assist/internal/protocol"
)

// Capturer grabs frames from one local display.
type Capturer interface {
	Bounds() (image.Rectangle, error)
	Capture() (*image.RGBA, error)
}

// SessionOptions configures a sharing session.
type SessionOptions struct {
	Room    string
	Quality string // preset name, "balanced" when empty
	// FPS and JPEGQuality override the preset when positive.
	FPS         int
	JPEGQuality int
}

// Session streams screen frames to the relay on a fixed interval.
type Session struct {
	room     string
	capturer Capturer
	encoder  *JPEGEncoder
	send     SendCallback
	settings QualitySettings
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewSession creates a stopped session.
func NewSession(capturer Capturer, send SendCallback, opts SessionOptions, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Quality == "" {
		opts.Quality = "balanced"
	}

	settings, ok := QualityPresets[opts.Quality]
	if !ok {
		return nil, fmt.Errorf("unknown quality preset %q", opts.Quality)
	}
	if opts.FPS > 0 {
		settings.FPS = opts.FPS
	}
	if opts.JPEGQuality > 0 {
		settings.JPEGQuality = opts.JPEGQuality
	}

	return &Session{
		room:     opts.Room,
		capturer: capturer,
		encoder:  NewJPEGEncoder(settings.JPEGQuality),
		send:     send,
		settings: settings,
		logger:   logger,
	}, nil
}

// CaptureInfo describes the shared display. Pointer coordinates from
// viewers are normalized against it.
func (s *Session) CaptureInfo() (protocol.CaptureInfo, error) {
	bounds, err := s.capturer.Bounds()
	if err != nil {
		return protocol.CaptureInfo{}, err
	}
	info := protocol.CaptureInfo{
		CaptureWidth:     bounds.Dx(),
		CaptureHeight:    bounds.Dy(),
		DevicePixelRatio: 1,
		Room:             s.room,
	}
	if err := info.Validate(); err != nil {
		return protocol.CaptureInfo{}, err
	}
	return info, nil
}

// Start begins the capture loop.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if _, err := s.capturer.Bounds(); err != nil {
		return fmt.Errorf("probing display: %w", err)
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.captureLoop(s.stopCh, s.done)

	s.logger.Info("screen capture started", "room", s.room, "fps", s.settings.FPS, "scale", s.settings.Scale)
	return nil
}

// Stop terminates the capture loop and waits for it to exit.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("screen capture stopped", "room", s.room)
}

// Running reports whether the capture loop is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) captureLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	fps := s.settings.FPS
	if fps <= 0 {
		fps = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	frameCount := 0
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			n, err := s.sendFrame()
			if err != nil {
				if frameCount < 10 || frameCount%100 == 0 {
					s.logger.Warn("frame not sent", "error", err, "frame", frameCount)
				}
				continue
			}
			frameCount++
			if frameCount <= 3 || frameCount%500 == 0 {
				s.logger.Debug("frame sent", "frame", frameCount, "size", n)
			}
		}
	}
}

func (s *Session) sendFrame() (int, error) {
	frame, err := s.capturer.Capture()
	if err != nil {
		return 0, err
	}
	if s.settings.Scale < 1.0 {
		frame = ScaleImage(frame, s.settings.Scale)
	}

	jpegData, err := s.encoder.Encode(frame)
	if err != nil {
		return 0, fmt.Errorf("encoding frame: %w", err)
	}

	msg, err := protocol.Encode(protocol.EventScreenFrame, protocol.ScreenFrame{
		Room:   s.room,
		Frame:  base64.StdEncoding.EncodeToString(jpegData),
		Width:  frame.Bounds().Dx(),
		Height: frame.Bounds().Dy(),
	})
	if err != nil {
		return 0, err
	}
	if err := s.send(msg); err != nil {
		return 0, fmt.Errorf("sending frame: %w", err)
	}
	return len(jpegData), nil
}
