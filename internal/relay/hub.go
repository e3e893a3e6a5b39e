// Package relay implements the session relay: room membership, the
// at-most-one-sharer rule, permission and bootstrap routing, and the
// WebSocket server that feeds connections into the hub.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slimrmm/slimrmm-assist/internal/protocol"
)

const (
	defaultRequestTimeout = 2 * time.Minute
	defaultSendBuffer     = 256
	maxSweepInterval      = time.Second
)

var (
	ErrRoomFull         = errors.New("room is full")
	ErrNotInRoom        = errors.New("peer is not in that room")
	ErrAlreadySharing   = errors.New("another peer is already sharing in this room")
	ErrNoPendingRequest = errors.New("no pending screen request from that peer")
	ErrUnknownEvent     = errors.New("unknown event")
)

// Options tunes the hub.
type Options struct {
	// MaxPeersPerRoom caps room membership; 0 means unlimited.
	MaxPeersPerRoom int
	// RequestTimeout bounds how long permission and bootstrap requests wait
	// for an answer.
	RequestTimeout time.Duration
	// SendBuffer is the per-peer outbound queue length.
	SendBuffer int
}

type permissionRequest struct {
	room     string
	deadline time.Time
}

type rdpRequest struct {
	peerID   string
	deadline time.Time
}

// Hub owns the peer registry and the pending request maps. Every mutation
// happens under a single lock, so each inbound event is processed atomically.
type Hub struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu                sync.Mutex
	peers             map[string]*Peer
	rooms             map[string]map[string]*Peer
	pendingPermission map[string]permissionRequest // requester id -> request
	pendingBootstrap  map[string]time.Time         // room -> deadline
	rdpRequesters     map[string]rdpRequest        // room -> requester
	seq               uint64
}

// NewHub creates an empty hub.
func NewHub(opts Options, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}

	return &Hub{
		opts:              opts,
		logger:            logger,
		now:               time.Now,
		peers:             make(map[string]*Peer),
		rooms:             make(map[string]map[string]*Peer),
		pendingPermission: make(map[string]permissionRequest),
		pendingBootstrap:  make(map[string]time.Time),
		rdpRequesters:     make(map[string]rdpRequest),
	}
}

// Run sweeps expired requests until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	interval := h.opts.RequestTimeout / 4
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.expireStale(h.now())
		}
	}
}

// Register adds a new connection to the registry. The peer is not in any
// room until it joins.
func (h *Hub) Register() *Peer {
	p := &Peer{
		ID:   uuid.NewString(),
		send: make(chan []byte, h.opts.SendBuffer),
	}

	h.mu.Lock()
	h.peers[p.ID] = p
	h.mu.Unlock()

	h.logger.Debug("peer registered", "peer_id", p.ID)
	return p
}

// Join adds p to the requested room. It fails with ErrRoomFull, leaving
// membership untouched, when the room is at capacity or when p claims the
// sharer slot while another member holds it.
func (h *Hub) Join(p *Peer, req protocol.JoinRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.closed {
		return nil
	}

	others := 0
	for id := range h.rooms[req.Room] {
		if id != p.ID {
			others++
		}
	}
	if h.opts.MaxPeersPerRoom > 0 && others >= h.opts.MaxPeersPerRoom {
		return ErrRoomFull
	}

	wantShare := req.Share && req.Role == protocol.RoleAgent
	if wantShare {
		if s := h.sharerLocked(req.Room); s != nil && s != p {
			return ErrRoomFull
		}
	}

	if p.room != "" {
		h.leaveRoomLocked(p)
	}

	name := req.Name
	if name == "" {
		name = p.ID[:8]
	}

	h.seq++
	p.name = name
	p.role = req.Role
	p.room = req.Room
	p.sharing = wantShare
	p.capture = nil
	p.joinSeq = h.seq

	// Re-read: leaving may have deleted this very room.
	members := h.rooms[req.Room]
	if members == nil {
		members = make(map[string]*Peer)
		h.rooms[req.Room] = members
	}
	members[p.ID] = p

	h.logger.Info("peer joined room", "peer_id", p.ID, "name", name, "room", req.Room, "role", req.Role, "sharing", wantShare)

	h.broadcastLocked(req.Room, p.ID, protocol.EventPeerJoined, p.summary())
	h.broadcastPeerListLocked(req.Room)

	if p.isAgent() {
		if deadline, ok := h.pendingBootstrap[req.Room]; ok {
			delete(h.pendingBootstrap, req.Room)
			if h.now().Before(deadline) {
				h.logger.Info("delivering queued bootstrap request", "peer_id", p.ID, "room", req.Room)
				h.deliverLocked(p, protocol.EventStartRDPCapture, protocol.StartRDP{Room: req.Room})
			}
		}
	}

	return nil
}

// RequestPermission fans a screen request out to the agents of the sender's
// room. The hub never answers on their behalf.
func (h *Hub) RequestPermission(p *Peer, req protocol.ScreenRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.room == "" || (req.Room != "" && req.Room != p.room) {
		return ErrNotInRoom
	}

	name := req.Name
	if name == "" {
		name = p.name
	}

	h.pendingPermission[p.ID] = permissionRequest{
		room:     p.room,
		deadline: h.now().Add(h.opts.RequestTimeout),
	}

	out := protocol.ScreenRequest{From: p.ID, Name: name}
	n := 0
	for _, target := range h.agentsLocked(p.room, p.ID) {
		h.deliverLocked(target, protocol.EventScreenRequest, out)
		n++
	}
	if n == 0 {
		h.logger.Debug("screen request has no agent to answer", "peer_id", p.ID, "room", p.room)
	}
	return nil
}

// PermissionResponse resolves the screen request made by resp.To. On
// acceptance the responder becomes the room's sharer.
func (h *Hub) PermissionResponse(responder *Peer, resp protocol.PermissionResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if responder.room == "" {
		return ErrNotInRoom
	}

	pending, ok := h.pendingPermission[resp.To]
	if !ok || pending.room != responder.room {
		return ErrNoPendingRequest
	}
	delete(h.pendingPermission, resp.To)

	target := h.peers[resp.To]
	if target == nil || target.room != responder.room {
		h.logger.Debug("permission requester is gone", "to", resp.To, "room", responder.room)
		return nil
	}

	result := protocol.PermissionResult{Accepted: resp.Accepted, From: responder.ID}
	if !resp.Accepted {
		result.Reason = protocol.ReasonDeclined
		h.deliverLocked(target, protocol.EventPermissionResult, result)
		return nil
	}

	if s := h.sharerLocked(responder.room); s != nil && s != responder {
		result.Accepted = false
		result.Reason = protocol.ReasonRoomBusy
		h.deliverLocked(target, protocol.EventPermissionResult, result)
		return ErrAlreadySharing
	}

	responder.sharing = true
	h.logger.Info("sharing granted", "sharer", responder.ID, "viewer", target.ID, "room", responder.room)
	h.deliverLocked(target, protocol.EventPermissionResult, result)
	h.broadcastPeerListLocked(responder.room)
	return nil
}

// RouteCaptureInfo stores info as the sender's capture metadata and forwards
// it to every other agent in the room.
func (h *Hub) RouteCaptureInfo(p *Peer, info protocol.CaptureInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.room == "" {
		return ErrNotInRoom
	}

	info.Room = p.room
	stored := info
	p.capture = &stored

	for _, target := range h.agentsLocked(p.room, p.ID) {
		h.deliverLocked(target, protocol.EventCaptureInfo, info)
	}
	return nil
}

// RouteControl forwards a control event to the agents of the sender's room.
// A sender without a room has no effect.
func (h *Hub) RouteControl(p *Peer, ev protocol.ControlEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.room == "" {
		return
	}
	for _, target := range h.agentsLocked(p.room, p.ID) {
		h.deliverLocked(target, protocol.EventControl, ev)
	}
}

// RequestBootstrap records p as the requester for room and signals the
// room's agents, or queues the request until an agent joins.
func (h *Hub) RequestBootstrap(p *Peer, req protocol.StartRDP) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.room != req.Room {
		return ErrNotInRoom
	}

	deadline := h.now().Add(h.opts.RequestTimeout)
	h.rdpRequesters[req.Room] = rdpRequest{peerID: p.ID, deadline: deadline}

	agents := h.agentsLocked(req.Room, p.ID)
	if len(agents) == 0 {
		h.pendingBootstrap[req.Room] = deadline
		h.logger.Info("bootstrap request queued until an agent joins", "room", req.Room, "requester", p.ID)
		return nil
	}

	delete(h.pendingBootstrap, req.Room)
	for _, target := range agents {
		h.deliverLocked(target, protocol.EventStartRDPCapture, protocol.StartRDP{Room: req.Room})
	}
	return nil
}

// ReportBootstrapReady delivers an agent's bootstrap result to the original
// requester only. Reports nobody is waiting for are dropped.
func (h *Hub) ReportBootstrapReady(p *Peer, info protocol.SystemInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.room != info.Room || !p.isAgent() {
		return ErrNotInRoom
	}

	req, ok := h.rdpRequesters[info.Room]
	if !ok {
		h.logger.Debug("dropping bootstrap report with no requester", "room", info.Room, "peer_id", p.ID)
		return nil
	}
	delete(h.rdpRequesters, info.Room)
	delete(h.pendingBootstrap, info.Room)

	target := h.peers[req.peerID]
	if target == nil {
		h.logger.Debug("bootstrap requester disconnected", "room", info.Room, "requester", req.peerID)
		return nil
	}

	h.logger.Info("delivering bootstrap result", "room", info.Room, "requester", target.ID, "enabled", info.Enabled)
	h.deliverLocked(target, protocol.EventRDPConnect, info)
	return nil
}

// StopShare ends the room's sharing session and tells the other members.
func (h *Hub) StopShare(p *Peer, req protocol.StopShare) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.room == "" {
		return ErrNotInRoom
	}

	if req.Name == "" {
		req.Name = p.name
	}
	req.Room = p.room

	if s := h.sharerLocked(p.room); s != nil {
		s.sharing = false
		s.capture = nil
	}

	h.broadcastLocked(p.room, p.ID, protocol.EventStopShare, req)
	h.broadcastPeerListLocked(p.room)
	return nil
}

// RouteFrame relays an opaque screen frame from the room's sharer to the
// rest of the room. Frames from non-sharing peers are dropped.
func (h *Hub) RouteFrame(p *Peer, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.room == "" || !p.sharing {
		return
	}

	frame, err := protocol.EncodeRaw(protocol.EventScreenFrame, data)
	if err != nil {
		h.logger.Warn("encoding screen frame", "error", err)
		return
	}
	for id, target := range h.rooms[p.room] {
		if id != p.ID {
			h.enqueueLocked(target, frame)
		}
	}
}

// RouteSignal forwards negotiation data untouched, either to sig.To or to
// the rest of the room.
func (h *Hub) RouteSignal(p *Peer, sig protocol.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.room == "" {
		return ErrNotInRoom
	}

	sig.From = p.ID
	sig.Room = p.room

	if sig.To == "" {
		h.broadcastLocked(p.room, p.ID, protocol.EventSignal, sig)
		return nil
	}

	target := h.peers[sig.To]
	if target == nil || target.room != p.room {
		h.logger.Debug("signal target not in room", "to", sig.To, "room", p.room)
		return nil
	}
	h.deliverLocked(target, protocol.EventSignal, sig)
	return nil
}

// Leave removes p from the hub and closes its send queue.
func (h *Hub) Leave(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.closed {
		return
	}

	if p.room != "" {
		h.leaveRoomLocked(p)
	}

	delete(h.pendingPermission, p.ID)
	for room, req := range h.rdpRequesters {
		if req.peerID == p.ID {
			delete(h.rdpRequesters, room)
		}
	}

	delete(h.peers, p.ID)
	p.closed = true
	close(p.send)

	h.logger.Debug("peer unregistered", "peer_id", p.ID)
}

// leaveRoomLocked drops p from its room, announcing the end of its share
// if it was sharing.
func (h *Hub) leaveRoomLocked(p *Peer) {
	room := p.room
	members := h.rooms[room]
	delete(members, p.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}

	if p.sharing {
		h.broadcastLocked(room, p.ID, protocol.EventStopShare, protocol.StopShare{Room: room, Name: p.name})
	}
	h.broadcastLocked(room, p.ID, protocol.EventPeerLeft, p.summary())
	h.broadcastPeerListLocked(room)

	h.logger.Info("peer left room", "peer_id", p.ID, "room", room, "was_sharing", p.sharing)

	p.room = ""
	p.sharing = false
	p.capture = nil
}

// expireStale answers every request whose deadline has passed.
func (h *Hub) expireStale(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, req := range h.pendingPermission {
		if now.Before(req.deadline) {
			continue
		}
		delete(h.pendingPermission, id)
		if p := h.peers[id]; p != nil {
			h.deliverLocked(p, protocol.EventPermissionResult, protocol.PermissionResult{
				Accepted: false,
				Reason:   protocol.ReasonTimeout,
			})
		}
		h.logger.Info("screen request expired", "peer_id", id, "room", req.room)
	}

	for room, deadline := range h.pendingBootstrap {
		if !now.Before(deadline) {
			delete(h.pendingBootstrap, room)
		}
	}

	for room, req := range h.rdpRequesters {
		if now.Before(req.deadline) {
			continue
		}
		delete(h.rdpRequesters, room)
		if p := h.peers[req.peerID]; p != nil {
			h.deliverLocked(p, protocol.EventError, protocol.ErrorPayload{
				Code:    protocol.CodeBootstrapTimeout,
				Message: "no agent answered the remote desktop request",
			})
		}
		h.logger.Info("bootstrap request expired", "room", room, "requester", req.peerID)
	}
}

func (h *Hub) sharerLocked(room string) *Peer {
	for _, p := range h.rooms[room] {
		if p.sharing {
			return p
		}
	}
	return nil
}

func (h *Hub) agentsLocked(room, excludeID string) []*Peer {
	var agents []*Peer
	for id, p := range h.rooms[room] {
		if id != excludeID && p.isAgent() {
			agents = append(agents, p)
		}
	}
	return agents
}

func (h *Hub) roomSnapshotLocked(room string) protocol.PeerList {
	members := make([]*Peer, 0, len(h.rooms[room]))
	for _, p := range h.rooms[room] {
		members = append(members, p)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].joinSeq < members[j].joinSeq })

	list := protocol.PeerList{Room: room, Peers: make([]protocol.PeerSummary, 0, len(members))}
	for _, p := range members {
		list.Peers = append(list.Peers, p.summary())
	}
	return list
}

func (h *Hub) broadcastPeerListLocked(room string) {
	if len(h.rooms[room]) == 0 {
		return
	}
	h.broadcastLocked(room, "", protocol.EventPeerList, h.roomSnapshotLocked(room))
}

func (h *Hub) broadcastLocked(room, excludeID, event string, payload interface{}) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("encoding broadcast", "event", event, "error", err)
		return
	}
	for id, p := range h.rooms[room] {
		if id != excludeID {
			h.enqueueLocked(p, frame)
		}
	}
}

func (h *Hub) deliverLocked(p *Peer, event string, payload interface{}) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("encoding message", "event", event, "error", err)
		return
	}
	h.enqueueLocked(p, frame)
}

func (h *Hub) enqueueLocked(p *Peer, frame []byte) {
	if p.closed {
		return
	}
	select {
	case p.send <- frame:
	default:
		h.logger.Warn("send queue full, dropping message", "peer_id", p.ID)
	}
}

// RoomPeers returns the presence snapshot of room.
func (h *Hub) RoomPeers(room string) []protocol.PeerSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomSnapshotLocked(room).Peers
}

// CaptureInfo returns the last capture metadata reported by peer id.
func (h *Hub) CaptureInfo(id string) (protocol.CaptureInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := h.peers[id]
	if p == nil || p.capture == nil {
		return protocol.CaptureInfo{}, false
	}
	return *p.capture, true
}

// HasPendingBootstrap reports whether a bootstrap request for room is queued.
func (h *Hub) HasPendingBootstrap(room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.pendingBootstrap[room]
	return ok
}

// PeerCount returns the number of registered connections.
func (h *Hub) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}
