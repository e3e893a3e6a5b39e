package relay

import (
	"github.com/slimrmm/slimrmm-assist/internal/protocol"
)

// Peer is one relay connection. All fields except ID are owned by the Hub
// and only touched while holding the Hub lock.
type Peer struct {
	ID string

	name    string
	room    string
	role    protocol.Role
	sharing bool
	capture *protocol.CaptureInfo
	joinSeq uint64

	send   chan []byte
	closed bool
}

// Send returns the queue of encoded frames destined for this peer. The
// channel is closed when the peer leaves the hub.
func (p *Peer) Send() <-chan []byte {
	return p.send
}

func (p *Peer) summary() protocol.PeerSummary {
	return protocol.PeerSummary{
		ID:      p.ID,
		Name:    p.name,
		Role:    p.role,
		Sharing: p.sharing,
	}
}

func (p *Peer) isAgent() bool {
	return p.role == protocol.RoleAgent
}
