package session

// Broadcaster is the narrow fan-out surface the Router and Runtime call
// into (spec §4.4). Implemented by the consumer gateway, which owns the
// actual transport sockets, backpressure accounting, and JSON encoding.
// Kept here as an interface so this package never imports the
// transport layer.
type Broadcaster interface {
	// Broadcast sends frame to every consumer attached to s.
	Broadcast(s *Session, frame any)
	// BroadcastToParticipants sends frame only to consumers with the
	// participant role (spec §4.3: permission_request, §4.8:
	// permission_cancelled).
	BroadcastToParticipants(s *Session, frame any)
	// SendTo delivers frame to a single consumer handle, bypassing
	// broadcast fan-out (spec §4.4: "sendTo(socket, msg)").
	SendTo(handle *ConsumerHandle, frame any)
}
