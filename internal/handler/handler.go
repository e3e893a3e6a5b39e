// Package handler provides the agent side of the relay connection.
// It joins the configured room, applies control events to the local desktop,
// answers screen requests and runs the remote desktop bootstrap on demand.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slimrmm/slimrmm-assist/internal/bootstrap"
	"github.com/slimrmm/slimrmm-assist/internal/protocol"
	"github.com/slimrmm/slimrmm-assist/internal/remotedesktop"
	"github.com/slimrmm/slimrmm-assist/internal/security/audit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBuffer     = 256

	// DefaultReconnectDelay and DefaultMaxReconnectDelay bound the backoff
	// between connection attempts.
	DefaultReconnectDelay    = 2 * time.Second
	DefaultMaxReconnectDelay = 10 * time.Second
)

var (
	ErrNotConnected   = errors.New("not connected")
	errSendQueueFull  = errors.New("send queue full")
	errNoScreenSource = errors.New("no screen source available")
)

// Options configures a Handler.
type Options struct {
	Server string
	Room   string
	Name   string

	// AutoAccept grants every screen request. Otherwise Consent decides,
	// and requests are declined when Consent is nil.
	AutoAccept bool
	Consent    ConsentFunc

	// Capturer is the local screen source for sharing; nil disables sharing.
	Capturer remotedesktop.Capturer
	Session  remotedesktop.SessionOptions

	// Audit receives consent, sharing and bootstrap records; nil disables it.
	Audit *audit.Logger

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// Handler manages the agent's WebSocket connection to the relay.
type Handler struct {
	opts       Options
	translator *remotedesktop.Translator
	boot       *bootstrap.Bootstrapper
	logger     *slog.Logger

	conn   *websocket.Conn
	sendCh chan []byte
	mu     sync.RWMutex

	// selfArmed is set while the translator is armed with our own capture info.
	selfArmed bool

	// shareMu orders starting a local share against the relay refusing it.
	// shareUnconfirmed is set when our latest acceptance started a share.
	shareMu          sync.Mutex
	shareUnconfirmed bool
}

// New creates a new Handler.
func New(opts Options, translator *remotedesktop.Translator, boot *bootstrap.Bootstrapper, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = DefaultMaxReconnectDelay
		if opts.MaxReconnectDelay < opts.ReconnectDelay {
			opts.MaxReconnectDelay = opts.ReconnectDelay
		}
	}
	opts.Session.Room = opts.Room

	return &Handler{
		opts:       opts,
		translator: translator,
		boot:       boot,
		logger:     logger.With("room", opts.Room),
		sendCh:     make(chan []byte, sendBuffer),
	}
}

// WebSocketURL converts a configured server address into the relay's
// WebSocket endpoint. http(s) schemes become ws(s) and an empty path
// becomes /ws.
func WebSocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parsing server URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server URL %q has no host", server)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Connect establishes a WebSocket connection to the relay.
func (h *Handler) Connect(ctx context.Context) error {
	target, err := WebSocketURL(h.opts.Server)
	if err != nil {
		return err
	}

	netDialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		NetDialContext:   netDialer.DialContext,
	}

	h.logger.Info("connecting to relay", "url", target)

	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("connecting to relay (status %d): %w", resp.StatusCode, err)
		} else {
			err = fmt.Errorf("connecting to relay: %w", err)
		}
		h.opts.Audit.LogConnect(ctx, h.opts.Room, target, err)
		return err
	}
	h.opts.Audit.LogConnect(ctx, h.opts.Room, target, nil)

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	h.logger.Info("connected to relay")
	return nil
}

// Run joins the room and processes events until the connection fails or
// ctx is cancelled.
func (h *Handler) Run(ctx context.Context) error {
	h.mu.RLock()
	conn := h.conn
	h.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	defer h.endLocalShare()

	// Anything queued for a previous connection is stale.
	h.drainSendQueue()

	join, err := protocol.Encode(protocol.EventJoinRoom, protocol.JoinRequest{
		Room:    h.opts.Room,
		Name:    h.opts.Name,
		Role:    protocol.RoleAgent,
		IsAgent: true,
	})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		return fmt.Errorf("joining room: %w", err)
	}
	h.logger.Info("joined room", "name", h.opts.Name)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readPump(runCtx, conn)
	}()
	go func() {
		errCh <- h.writePump(runCtx, conn)
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case err := <-errCh:
		conn.Close()
		return err
	}
}

// Serve connects and runs until ctx is cancelled, reconnecting with a
// doubling delay after each failure. The room is re-joined on every
// connection.
func (h *Handler) Serve(ctx context.Context) error {
	delay := h.opts.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := h.Connect(ctx)
		if err == nil {
			delay = h.opts.ReconnectDelay
			err = h.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				h.logger.Warn("connection lost", "error", err)
			} else {
				h.logger.Info("relay closed the connection")
			}
		} else {
			h.logger.Error("connection failed", "error", err, "retry_in", delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > h.opts.MaxReconnectDelay {
			delay = h.opts.MaxReconnectDelay
		}
	}
}

// readPump handles incoming events in arrival order.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading message: %w", err)
		}
		h.handleMessage(ctx, message)
	}
}

// writePump handles outgoing messages.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case message := <-h.sendCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return fmt.Errorf("writing message: %w", err)
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("writing ping: %w", err)
			}
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		h.logger.Warn("parsing message", "error", err)
		return
	}

	switch msg.Event {
	case protocol.EventCaptureInfo:
		var info protocol.CaptureInfo
		if err := msg.Bind(&info); err != nil {
			h.logger.Warn("invalid capture info", "error", err)
			return
		}
		if err := h.translator.Arm(info); err != nil {
			h.logger.Warn("arming translator", "error", err)
			return
		}
		h.mu.Lock()
		h.selfArmed = false
		h.mu.Unlock()

	case protocol.EventControl:
		var ev protocol.ControlEvent
		if err := msg.Bind(&ev); err != nil {
			h.logger.Debug("invalid control event", "error", err)
			return
		}
		h.applyControl(ev)

	case protocol.EventStopShare:
		var req protocol.StopShare
		_ = msg.Bind(&req)
		h.logger.Info("stop-share received", "from", req.Name)
		h.translator.Disarm()
		h.endLocalShare()

	case protocol.EventStartRDPCapture:
		var req protocol.StartRDP
		if err := msg.Bind(&req); err != nil {
			h.logger.Warn("invalid bootstrap request", "error", err)
			return
		}
		go h.runBootstrap(ctx, req.Room)

	case protocol.EventScreenRequest:
		var req protocol.ScreenRequest
		if err := msg.Bind(&req); err != nil {
			h.logger.Warn("invalid screen request", "error", err)
			return
		}
		go h.handleScreenRequest(ctx, req)

	case protocol.EventError:
		var e protocol.ErrorPayload
		if err := msg.Bind(&e); err != nil {
			h.logger.Warn("invalid error event", "error", err)
			return
		}
		h.logger.Warn("relay refused request", "code", e.Code, "message", e.Message)
		switch e.Code {
		case protocol.CodeNoPendingRequest, protocol.CodeAlreadySharing:
			h.refuseLocalShare()
		}

	case protocol.EventPeerList, protocol.EventPeerJoined, protocol.EventPeerLeft,
		protocol.EventPermissionResult, protocol.EventScreenFrame, protocol.EventSignal:
		h.logger.Debug("ignoring event", "event", msg.Event)

	default:
		h.logger.Debug("unknown event", "event", msg.Event)
	}
}

func (h *Handler) applyControl(ev protocol.ControlEvent) {
	err := h.translator.Handle(ev)
	switch {
	case err == nil:
	case errors.Is(err, remotedesktop.ErrThrottled), errors.Is(err, remotedesktop.ErrNotArmed):
		h.logger.Debug("control event skipped", "type", ev.Type, "reason", err)
	default:
		h.logger.Warn("control event rejected", "type", ev.Type, "error", err)
	}
}

func (h *Handler) runBootstrap(ctx context.Context, room string) {
	if h.boot == nil {
		h.logger.Warn("bootstrap requested but not available")
		return
	}
	info := h.boot.Run(ctx, room)
	h.opts.Audit.LogBootstrap(ctx, info)
	if err := h.Send(protocol.EventRDPReady, info); err != nil {
		h.logger.Warn("sending bootstrap result", "error", err)
	}
}

// Send queues an event for the relay.
func (h *Handler) Send(event string, payload interface{}) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	return h.enqueue(data)
}

func (h *Handler) enqueue(data []byte) error {
	select {
	case h.sendCh <- data:
		return nil
	default:
		return errSendQueueFull
	}
}

func (h *Handler) drainSendQueue() {
	for {
		select {
		case <-h.sendCh:
		default:
			return
		}
	}
}

// Close stops any local share, releases held keys and closes the connection.
func (h *Handler) Close() error {
	h.endLocalShare()
	h.translator.ReleaseAll()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn != nil {
		err := h.conn.Close()
		h.conn = nil
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}
