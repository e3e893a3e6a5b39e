// Package protocol defines the events exchanged between viewers, agents and
// the relay, together with their payloads and validation rules.
//
// Every frame on the wire is a JSON envelope {"event": "...", "data": {...}}.
// Payload field names follow the browser clients (camelCase).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Event names.
const (
	EventJoinRoom           = "join-room"
	EventPeerJoined         = "peer-joined"
	EventPeerLeft           = "peer-left"
	EventPeerList           = "peer-list"
	EventRequestScreen      = "request-screen"
	EventScreenRequest      = "screen-request"
	EventPermissionResponse = "permission-response"
	EventPermissionResult   = "permission-result"
	EventCaptureInfo        = "capture-info"
	EventControl            = "control"
	EventStartRDPCapture    = "start-rdp-capture"
	EventRDPReady           = "windows-rdp-ready"
	EventRDPConnect         = "windows-rdp-connect"
	EventStopShare          = "stop-share"
	EventScreenFrame        = "screen-frame"
	EventSignal             = "signal"
	EventError              = "error"
)

// Error codes carried by EventError payloads.
const (
	CodeRoomFull         = "room-full"
	CodeMalformed        = "malformed-event"
	CodeNotInRoom        = "not-in-room"
	CodeAlreadySharing   = "already-sharing"
	CodeBootstrapTimeout = "bootstrap-timeout"
	CodeUnknownEvent     = "unknown-event"
	CodeNoPendingRequest = "no-pending-request"
)

// Reasons attached to a refused permission result.
const (
	ReasonDeclined = "declined"
	ReasonTimeout  = "timeout"
	ReasonRoomBusy = "room-busy"
)

// ErrMalformedEvent is returned when a payload is missing required fields or
// cannot be decoded.
var ErrMalformedEvent = errors.New("malformed event")

// Role is the part a peer plays in a room.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleAgent  Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleAgent
}

// Message is the wire envelope.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Validator is implemented by payloads that check their own required fields.
type Validator interface {
	Validate() error
}

// Decode parses a wire frame into its envelope.
func Decode(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if msg.Event == "" {
		return Message{}, malformed("envelope", "event")
	}
	return msg, nil
}

// Bind decodes the message data into v and validates it.
func (m Message) Bind(v Validator) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return malformed(m.Event, "data")
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, m.Event, err)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m.Event, err)
	}
	return nil
}

// Encode builds a wire frame for event with the given payload. A nil payload
// produces an envelope without data.
func Encode(event string, payload interface{}) ([]byte, error) {
	msg := Message{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", event, err)
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

// EncodeRaw builds a wire frame around an already encoded payload.
func EncodeRaw(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Message{Event: event, Data: data})
}

func malformed(event, field string) error {
	return fmt.Errorf("%w: %s: missing %s", ErrMalformedEvent, event, field)
}

// JoinRequest asks the relay to add the sender to a room.
type JoinRequest struct {
	Room    string `json:"room"`
	Name    string `json:"name,omitempty"`
	Role    Role   `json:"role,omitempty"`
	IsAgent bool   `json:"isAgent,omitempty"`
	// Share claims the room's sharer slot at join time.
	Share bool `json:"share,omitempty"`
}

// Validate normalizes the role and checks required fields.
func (j *JoinRequest) Validate() error {
	j.Room = strings.TrimSpace(j.Room)
	if j.Room == "" {
		return malformed(EventJoinRoom, "room")
	}
	if j.IsAgent {
		j.Role = RoleAgent
	}
	if j.Role == "" {
		j.Role = RoleViewer
	}
	if !j.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrMalformedEvent, j.Role)
	}
	return nil
}

// PeerSummary describes one room member in presence events.
type PeerSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	Sharing bool   `json:"sharing,omitempty"`
}

// PeerList is a full presence snapshot of a room, ordered by join time.
type PeerList struct {
	Room  string        `json:"room"`
	Peers []PeerSummary `json:"peers"`
}

// ScreenRequest is sent by a viewer to ask for the screen. The relay fills
// From before fanning it out.
type ScreenRequest struct {
	Room string `json:"room,omitempty"`
	From string `json:"from,omitempty"`
	Name string `json:"name,omitempty"`
}

// Validate implements Validator.
func (s *ScreenRequest) Validate() error { return nil }

// PermissionResponse answers a screen request addressed to To.
type PermissionResponse struct {
	To       string `json:"to"`
	Accepted bool   `json:"accepted"`
}

// Validate implements Validator.
func (p *PermissionResponse) Validate() error {
	if p.To == "" {
		return malformed(EventPermissionResponse, "to")
	}
	return nil
}

// PermissionResult is the resolution delivered to the requester.
type PermissionResult struct {
	Accepted bool   `json:"accepted"`
	From     string `json:"from,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Validate implements Validator.
func (p *PermissionResult) Validate() error { return nil }

// CaptureInfo describes the sharer's frame so pointer coordinates can be
// rescaled on the controlled machine.
type CaptureInfo struct {
	CaptureWidth     int     `json:"captureWidth"`
	CaptureHeight    int     `json:"captureHeight"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
	Room             string  `json:"room,omitempty"`
}

// Validate defaults a missing pixel ratio to 1 and rejects non-positive sizes.
func (c *CaptureInfo) Validate() error {
	if c.DevicePixelRatio == 0 {
		c.DevicePixelRatio = 1
	}
	if c.CaptureWidth <= 0 || c.CaptureHeight <= 0 {
		return fmt.Errorf("%w: capture size %dx%d", ErrMalformedEvent, c.CaptureWidth, c.CaptureHeight)
	}
	if c.DevicePixelRatio < 0 || math.IsNaN(c.DevicePixelRatio) || math.IsInf(c.DevicePixelRatio, 0) {
		return fmt.Errorf("%w: device pixel ratio %v", ErrMalformedEvent, c.DevicePixelRatio)
	}
	return nil
}

// EffectiveSize returns the capture size in physical pixels.
func (c CaptureInfo) EffectiveSize() (width, height float64) {
	dpr := c.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	return float64(c.CaptureWidth) * dpr, float64(c.CaptureHeight) * dpr
}

// Control event types.
const (
	ControlMouseMove   = "mousemove"
	ControlMouseDown   = "mousedown"
	ControlMouseUp     = "mouseup"
	ControlClick       = "click"
	ControlDoubleClick = "dblclick"
	ControlWheel       = "wheel"
	ControlKeyDown     = "keydown"
	ControlKeyUp       = "keyup"
)

// ControlEvent is a normalized remote pointer or key event. X and Y are in
// [0,1] relative to the sender's capture frame; nil means "do not reposition".
type ControlEvent struct {
	Type   string   `json:"type"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Button int      `json:"button,omitempty"`
	DeltaY float64  `json:"deltaY,omitempty"`
	Key    string   `json:"key,omitempty"`
}

// IsPointer reports whether the event carries pointer semantics.
func (e ControlEvent) IsPointer() bool {
	switch e.Type {
	case ControlMouseMove, ControlMouseDown, ControlMouseUp, ControlClick, ControlDoubleClick, ControlWheel:
		return true
	}
	return false
}

// IsKey reports whether the event is a key event.
func (e ControlEvent) IsKey() bool {
	return e.Type == ControlKeyDown || e.Type == ControlKeyUp
}

// HasPosition reports whether both coordinates are present.
func (e ControlEvent) HasPosition() bool {
	return e.X != nil && e.Y != nil
}

// Validate implements Validator.
func (e *ControlEvent) Validate() error {
	switch {
	case e.IsPointer():
		for _, v := range []*float64{e.X, e.Y} {
			if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
				return fmt.Errorf("%w: non-finite coordinate", ErrMalformedEvent)
			}
		}
		if e.Type == ControlMouseMove && !e.HasPosition() {
			return malformed(EventControl, "x/y")
		}
	case e.IsKey():
		if e.Key == "" {
			return malformed(EventControl, "key")
		}
	case e.Type == "":
		return malformed(EventControl, "type")
	default:
		return fmt.Errorf("%w: unknown control type %q", ErrMalformedEvent, e.Type)
	}
	return nil
}

// StartRDP asks the agents of a room to bootstrap the native remote desktop
// service.
type StartRDP struct {
	Room string `json:"room"`
}

// Validate implements Validator.
func (s *StartRDP) Validate() error {
	if s.Room == "" {
		return malformed(EventStartRDPCapture, "room")
	}
	return nil
}

// SystemInfo is the identity an agent reports after a bootstrap attempt.
// Enabled is true only when the native service was confirmed enabled.
type SystemInfo struct {
	IP       string `json:"ip"`
	Username string `json:"username"`
	HostName string `json:"hostName"`
	Platform string `json:"platform"`
	Room     string `json:"room"`
	Enabled  bool   `json:"enabled"`
}

// Validate implements Validator.
func (s *SystemInfo) Validate() error {
	if s.Room == "" {
		return malformed(EventRDPReady, "room")
	}
	return nil
}

// StopShare announces the end of a sharing session.
type StopShare struct {
	Room string `json:"room,omitempty"`
	Name string `json:"name,omitempty"`
}

// Validate implements Validator.
func (s *StopShare) Validate() error { return nil }

// ScreenFrame is one encoded frame. The relay never decodes Frame.
type ScreenFrame struct {
	Room   string `json:"room,omitempty"`
	Frame  string `json:"frame"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Signal carries WebRTC negotiation data between peers. The relay forwards it
// untouched to To, or to the rest of the room when To is empty.
type Signal struct {
	Room      string                     `json:"room,omitempty"`
	To        string                     `json:"to,omitempty"`
	From      string                     `json:"from,omitempty"`
	Desc      *webrtc.SessionDescription `json:"desc,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Validate implements Validator.
func (s *Signal) Validate() error {
	if s.Desc == nil && s.Candidate == nil {
		return malformed(EventSignal, "desc or candidate")
	}
	return nil
}

// ErrorPayload is sent to a single peer when its request was refused.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validate implements Validator.
func (e *ErrorPayload) Validate() error {
	if e.Code == "" {
		return malformed(EventError, "code")
	}
	return nil
}
