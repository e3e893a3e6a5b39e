package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/slimrmm/slimrmm-assist/internal/protocol"
	"github.com/slimrmm/slimrmm-assist/internal/security/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024 * 1024 // screen frames are large
)

// ServerOptions configures the WebSocket front end.
type ServerOptions struct {
	// AllowedOrigins restricts browser origins; empty allows any origin.
	AllowedOrigins []string
	RateLimit      ratelimit.Config
}

// Server accepts WebSocket connections and feeds them into a Hub.
type Server struct {
	hub      *Hub
	opts     ServerOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a server for hub.
func NewServer(hub *Hub, opts ServerOptions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RateLimit.GlobalRate <= 0 {
		opts.RateLimit = ratelimit.DefaultConfig()
	}

	s := &Server{
		hub:    hub,
		opts:   opts,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and runs the connection until it closes.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	peer := s.hub.Register()
	s.logger.Info("peer connected", "peer_id", peer.ID, "remote", r.RemoteAddr)

	go s.writePump(conn, peer)
	s.readPump(conn, peer)

	s.hub.Leave(peer)
	s.logger.Info("peer disconnected", "peer_id", peer.ID)
}

// readPump processes inbound frames one at a time.
func (s *Server) readPump(conn *websocket.Conn, peer *Peer) {
	defer conn.Close()

	limiter := ratelimit.NewEventLimiter(s.opts.RateLimit)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("reading message", "peer_id", peer.ID, "error", err)
			}
			return
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			s.hub.reject(peer, err)
			s.logger.Warn("event rejected", "peer_id", peer.ID, "error", err)
			continue
		}
		if !limiter.Allow(msg.Event) {
			s.logger.Warn("rate limit exceeded, dropping event", "peer_id", peer.ID, "event", msg.Event)
			continue
		}

		if err := s.hub.DispatchMessage(peer, msg); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, ErrNoPendingRequest) {
				level = slog.LevelDebug
			}
			s.logger.Log(context.Background(), level, "event rejected", "peer_id", peer.ID, "error", err)
		}
	}
}

// writePump drains the peer's send queue and keeps the connection alive.
func (s *Server) writePump(conn *websocket.Conn, peer *Peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-peer.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("writing message", "peer_id", peer.ID, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
