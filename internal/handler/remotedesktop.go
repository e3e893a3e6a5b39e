package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/slimrmm/slimrmm-assist/internal/protocol"
	"github.com/slimrmm/slimrmm-assist/internal/remotedesktop"
)

// ConsentFunc decides whether a screen request is granted.
type ConsentFunc func(ctx context.Context, req protocol.ScreenRequest) bool

// PromptConsent asks on out and reads a yes/no answer from in. Anything
// other than "y" or "yes" declines, as does a cancelled context. A single
// goroutine reads in for the lifetime of the returned func; a line typed
// after a prompt was abandoned is discarded when the next prompt starts.
func PromptConsent(in io.Reader, out io.Writer) ConsentFunc {
	lines := make(chan string)
	var (
		mu        sync.Mutex
		start     sync.Once
		abandoned bool
	)

	readLines := func() {
		defer close(lines)
		reader := bufio.NewReader(in)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				return
			}
		}
	}

	return func(ctx context.Context, req protocol.ScreenRequest) bool {
		mu.Lock()
		defer mu.Unlock()
		start.Do(func() { go readLines() })

		// Drop an answer meant for an earlier, abandoned prompt.
		if abandoned {
			abandoned = false
			select {
			case <-lines:
			default:
			}
		}

		who := req.Name
		if who == "" {
			who = req.From
		}
		fmt.Fprintf(out, "Allow %s to view and control this screen? [y/N]: ", who)

		select {
		case <-ctx.Done():
			abandoned = true
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true
			}
			return false
		}
	}
}

func (h *Handler) consent(ctx context.Context, req protocol.ScreenRequest) bool {
	if h.opts.AutoAccept {
		return true
	}
	if h.opts.Consent == nil {
		return false
	}
	return h.opts.Consent(ctx, req)
}

// handleScreenRequest answers a viewer's screen request and, on acceptance,
// starts sharing this machine's screen.
func (h *Handler) handleScreenRequest(ctx context.Context, req protocol.ScreenRequest) {
	logger := h.logger.With("requester", req.From)

	accepted := h.consent(ctx, req)
	reason := protocol.ReasonDeclined
	if accepted && h.opts.Capturer == nil {
		logger.Warn("declining screen request", "error", errNoScreenSource)
		accepted = false
		reason = errNoScreenSource.Error()
	}
	h.opts.Audit.LogConsent(ctx, h.opts.Room, req, accepted, reason)

	h.shareMu.Lock()
	defer h.shareMu.Unlock()

	if err := h.Send(protocol.EventPermissionResponse, protocol.PermissionResponse{
		To:       req.From,
		Accepted: accepted,
	}); err != nil {
		logger.Warn("sending permission response", "error", err)
		return
	}
	logger.Info("screen request answered", "accepted", accepted)

	h.shareUnconfirmed = false
	if !accepted || h.translator.Sharing() {
		return
	}
	if err := h.startLocalShare(); err != nil {
		logger.Error("starting screen share", "error", err)
		h.opts.Audit.LogShare(ctx, h.opts.Room, true, err)
		return
	}
	h.shareUnconfirmed = true
	h.opts.Audit.LogShare(ctx, h.opts.Room, true, nil)
}

// refuseLocalShare ends a share the relay did not grant. Only a share started
// by our latest answer is ended; an earlier granted share keeps running.
func (h *Handler) refuseLocalShare() {
	h.shareMu.Lock()
	defer h.shareMu.Unlock()

	if !h.shareUnconfirmed {
		return
	}
	h.shareUnconfirmed = false
	h.logger.Warn("relay did not grant our screen share, stopping it")
	h.endLocalShare()
}

// startLocalShare starts the capture loop, publishes our capture info and
// arms the translator with it.
func (h *Handler) startLocalShare() error {
	session, err := remotedesktop.NewSession(h.opts.Capturer, h.enqueue, h.opts.Session, h.logger)
	if err != nil {
		return err
	}
	info, err := session.CaptureInfo()
	if err != nil {
		return fmt.Errorf("reading capture info: %w", err)
	}

	if err := h.translator.StartSharing(session); err != nil {
		if errors.Is(err, remotedesktop.ErrAlreadySharing) {
			h.logger.Debug("screen already shared")
			return nil
		}
		return err
	}

	if err := h.Send(protocol.EventCaptureInfo, info); err != nil {
		h.logger.Warn("publishing capture info", "error", err)
	}
	if err := h.translator.Arm(info); err != nil {
		if stopErr := h.translator.StopSharing(); stopErr != nil {
			h.logger.Warn("stopping screen share", "error", stopErr)
		}
		return fmt.Errorf("arming translator: %w", err)
	}

	h.mu.Lock()
	h.selfArmed = true
	h.mu.Unlock()
	return nil
}

// endLocalShare stops our capture loop, if any, and drops capture info we
// armed ourselves.
func (h *Handler) endLocalShare() {
	switch err := h.translator.StopSharing(); {
	case err == nil:
		h.opts.Audit.LogShare(context.Background(), h.opts.Room, false, nil)
	case !errors.Is(err, remotedesktop.ErrNotSharing):
		h.logger.Warn("stopping screen share", "error", err)
	}

	h.mu.Lock()
	selfArmed := h.selfArmed
	h.selfArmed = false
	h.mu.Unlock()

	if selfArmed {
		h.translator.Disarm()
	}
}
