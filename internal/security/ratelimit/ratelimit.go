// Package ratelimit provides token bucket limiting for inbound relay traffic.
// It keeps one misbehaving connection from flooding a room.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	rate       float64   // Tokens per second
	burst      int       // Maximum burst size
	tokens     float64   // Current tokens
	lastUpdate time.Time // Last update time
	mu         sync.Mutex
}

// New creates a new rate limiter.
// rate is tokens per second, burst is maximum burst size.
func New(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Allow returns true if the action is allowed under the rate limit.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN returns true if n tokens can be consumed.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}

	return false
}

// Tokens returns the current number of available tokens.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := time.Since(l.lastUpdate).Seconds()
	tokens := l.tokens + elapsed*l.rate
	if tokens > float64(l.burst) {
		tokens = float64(l.burst)
	}

	return tokens
}

// Reset resets the limiter to full capacity.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = float64(l.burst)
	l.lastUpdate = time.Now()
}

// Config holds per-connection limits by event class.
type Config struct {
	GlobalRate  float64 // Overall messages per second
	GlobalBurst int

	ControlRate  float64 // Pointer and key events per second
	ControlBurst int

	FrameRate  float64 // Screen frames per second
	FrameBurst int
}

// DefaultConfig returns limits that comfortably fit a 60 Hz pointer stream
// and a 30 fps frame stream.
func DefaultConfig() Config {
	return Config{
		GlobalRate:   200,
		GlobalBurst:  400,
		ControlRate:  150,
		ControlBurst: 300,
		FrameRate:    60,
		FrameBurst:   120,
	}
}

// EventLimiter limits one connection's inbound events.
type EventLimiter struct {
	global  *Limiter
	control *Limiter
	frame   *Limiter
}

// NewEventLimiter creates a limiter set from cfg.
func NewEventLimiter(cfg Config) *EventLimiter {
	return &EventLimiter{
		global:  New(cfg.GlobalRate, cfg.GlobalBurst),
		control: New(cfg.ControlRate, cfg.ControlBurst),
		frame:   New(cfg.FrameRate, cfg.FrameBurst),
	}
}

// Allow reports whether an event of the given name may be processed.
// Every event must pass the global bucket as well as its class bucket.
func (el *EventLimiter) Allow(event string) bool {
	if !el.global.Allow() {
		return false
	}
	switch event {
	case "control":
		return el.control.Allow()
	case "screen-frame":
		return el.frame.Allow()
	default:
		return true
	}
}
