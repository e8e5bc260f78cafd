package gateway

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/sessionbroker/broker/internal/manager"
	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/pkg/types"
)

// MaxBufferedBytes is the per-socket backpressure ceiling: a consumer
// whose outbound queue exceeds this is soft-dropped rather than blocked
// on (spec §4.4).
const MaxBufferedBytes = 1 << 20

// Broadcaster implements session.Broadcaster over gateway Sockets. It
// JSON-encodes each frame once and fans it out to every attached
// socket, applying the backpressure check only on the general path —
// the participant-only path (permission_request, process_output, and
// similar control-plane frames) bypasses it by design (spec §4.4).
type Broadcaster struct {
	mgr *manager.Manager
}

// NewBroadcaster builds a Broadcaster. The manager isn't available yet
// at this point in cmd/brokerd's wiring (Manager's own constructor
// takes the Broadcaster), so it's attached afterward via SetManager.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// SetManager attaches the manager whose tracked runtimes the
// broadcaster detaches misbehaving sockets through. Must be called
// once, after mgr is constructed, before the broadcaster serves any
// traffic.
func (b *Broadcaster) SetManager(mgr *manager.Manager) {
	b.mgr = mgr
}

func (b *Broadcaster) Broadcast(s *session.Session, frame any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to encode broadcast frame")
		return
	}
	msg := json.RawMessage(raw)

	for _, h := range s.ConsumersSnapshot() {
		if h.Socket.BufferedAmount() > MaxBufferedBytes {
			log.Warn().Str("sessionId", s.ID).Str("connId", h.ConnID).Msg("soft-dropping frame: consumer backlog exceeds limit")
			continue
		}
		b.send(s, h, msg)
	}
}

func (b *Broadcaster) BroadcastToParticipants(s *session.Session, frame any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to encode broadcast frame")
		return
	}
	msg := json.RawMessage(raw)

	// Control-plane frames (permission_request, process_output) travel
	// this path and bypass the backpressure check entirely (spec §4.4).
	for _, h := range s.ConsumersSnapshot() {
		if h.Identity.Role != types.RoleParticipant {
			continue
		}
		b.send(s, h, msg)
	}
}

// SendTo delivers frame to a single consumer, bypassing fan-out. The
// interface gives no session to detach through on failure; the
// gateway's own read loop notices the dead socket on its next Read and
// removes the consumer from its session there.
func (b *Broadcaster) SendTo(handle *session.ConsumerHandle, frame any) {
	if err := handle.Socket.Send(frame); err != nil {
		log.Debug().Err(err).Str("connId", handle.ConnID).Msg("sendTo failed")
	}
}

func (b *Broadcaster) send(s *session.Session, h *session.ConsumerHandle, msg json.RawMessage) {
	if err := h.Socket.Send(msg); err != nil {
		log.Debug().Err(err).Str("sessionId", s.ID).Str("connId", h.ConnID).Msg("broadcast send failed, detaching consumer")
		if rt, ok := b.mgr.Runtime(s.ID); ok {
			rt.RemoveConsumer(h.ConnID)
		}
	}
}
