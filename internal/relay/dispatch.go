package relay

import (
	"errors"
	"fmt"

	"github.com/slimrmm/slimrmm-assist/internal/protocol"
)

// Dispatch decodes one inbound frame from p and applies it to the hub.
// Refusals the sender should know about are answered with an error event;
// the returned error is for logging only and never ends the connection.
func (h *Hub) Dispatch(p *Peer, frame []byte) error {
	msg, err := protocol.Decode(frame)
	if err != nil {
		h.reject(p, err)
		return err
	}
	return h.DispatchMessage(p, msg)
}

// DispatchMessage applies an already decoded message from p, answering
// refusals the same way Dispatch does.
func (h *Hub) DispatchMessage(p *Peer, msg protocol.Message) error {
	if err := h.dispatch(p, msg); err != nil {
		h.reject(p, err)
		return fmt.Errorf("%s: %w", msg.Event, err)
	}
	return nil
}

func (h *Hub) dispatch(p *Peer, msg protocol.Message) error {
	switch msg.Event {
	case protocol.EventJoinRoom:
		var req protocol.JoinRequest
		if err := msg.Bind(&req); err != nil {
			return err
		}
		return h.Join(p, req)

	case protocol.EventRequestScreen:
		var req protocol.ScreenRequest
		if len(msg.Data) > 0 {
			if err := msg.Bind(&req); err != nil {
				return err
			}
		}
		return h.RequestPermission(p, req)

	case protocol.EventPermissionResponse:
		var resp protocol.PermissionResponse
		if err := msg.Bind(&resp); err != nil {
			return err
		}
		return h.PermissionResponse(p, resp)

	case protocol.EventCaptureInfo:
		var info protocol.CaptureInfo
		if err := msg.Bind(&info); err != nil {
			return err
		}
		return h.RouteCaptureInfo(p, info)

	case protocol.EventControl:
		var ev protocol.ControlEvent
		if err := msg.Bind(&ev); err != nil {
			return err
		}
		h.RouteControl(p, ev)
		return nil

	case protocol.EventStartRDPCapture:
		var req protocol.StartRDP
		if err := msg.Bind(&req); err != nil {
			return err
		}
		return h.RequestBootstrap(p, req)

	case protocol.EventRDPReady:
		var info protocol.SystemInfo
		if err := msg.Bind(&info); err != nil {
			return err
		}
		return h.ReportBootstrapReady(p, info)

	case protocol.EventStopShare:
		var req protocol.StopShare
		if len(msg.Data) > 0 {
			if err := msg.Bind(&req); err != nil {
				return err
			}
		}
		return h.StopShare(p, req)

	case protocol.EventScreenFrame:
		h.RouteFrame(p, msg.Data)
		return nil

	case protocol.EventSignal:
		var sig protocol.Signal
		if err := msg.Bind(&sig); err != nil {
			return err
		}
		return h.RouteSignal(p, sig)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, msg.Event)
	}
}

// reject tells p why its event was refused. Only the sender is told.
func (h *Hub) reject(p *Peer, err error) {
	var code string
	switch {
	case errors.Is(err, ErrRoomFull):
		code = protocol.CodeRoomFull
	case errors.Is(err, protocol.ErrMalformedEvent):
		code = protocol.CodeMalformed
	case errors.Is(err, ErrNotInRoom):
		code = protocol.CodeNotInRoom
	case errors.Is(err, ErrAlreadySharing):
		code = protocol.CodeAlreadySharing
	case errors.Is(err, ErrUnknownEvent):
		code = protocol.CodeUnknownEvent
	case errors.Is(err, ErrNoPendingRequest):
		code = protocol.CodeNoPendingRequest
	default:
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(p, protocol.EventError, protocol.ErrorPayload{Code: code, Message: err.Error()})
}
