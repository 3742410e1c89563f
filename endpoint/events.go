package endpoint

import "raknet-go/internal/session"

// EventType enumerates the transport-level events an Endpoint surfaces
// to the host application (§6), generalized from the teacher's
// EventManager: connection lifecycle and inbound game-channel payloads.
type EventType int

const (
	EventConnectionCreated EventType = iota
	EventConnectionAccepted
	EventDisconnect
	EventGamePacket
)

func (t EventType) String() string {
	switch t {
	case EventConnectionCreated:
		return "ConnectionCreated"
	case EventConnectionAccepted:
		return "ConnectionAccepted"
	case EventDisconnect:
		return "Disconnect"
	case EventGamePacket:
		return "GamePacket"
	default:
		return "Unknown"
	}
}

// Event carries one transport event's payload. Only the fields
// relevant to Type are populated: Reason for Disconnect, Payload for
// GamePacket.
type Event struct {
	Type    EventType
	PeerID  int64
	Reason  session.CloseReason
	Payload []byte
}

// Handler receives one Event. Handlers run synchronously on the
// endpoint's packet or tick goroutine and must not block.
type Handler func(Event)

// Bus is a multi-subscriber fan-out for transport events, for hosts
// that want more than one independent observer per event type (e.g. a
// metrics hook and a game-logic hook both watching Disconnect).
type Bus struct {
	handlers map[EventType][]Handler
}

// NewBus builds an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// On registers handler to run whenever an event of typ fires.
func (b *Bus) On(typ EventType, handler Handler) {
	b.handlers[typ] = append(b.handlers[typ], handler)
}

// Emit runs every handler registered for ev.Type, in registration order.
func (b *Bus) Emit(ev Event) {
	for _, h := range b.handlers[ev.Type] {
		h(ev)
	}
}

// callbacksFromBus adapts a Bus into the single-function Callbacks an
// Endpoint's Config expects, so hosts that want multi-subscriber
// fan-out can wire a Bus in without the Endpoint itself depending on it.
func callbacksFromBus(b *Bus) Callbacks {
	return Callbacks{
		ConnectionCreated:  func(peerID int64) { b.Emit(Event{Type: EventConnectionCreated, PeerID: peerID}) },
		ConnectionAccepted: func(peerID int64) { b.Emit(Event{Type: EventConnectionAccepted, PeerID: peerID}) },
		Disconnect: func(peerID int64, reason session.CloseReason) {
			b.Emit(Event{Type: EventDisconnect, PeerID: peerID, Reason: reason})
		},
		GamePacket: func(peerID int64, payload []byte) {
			b.Emit(Event{Type: EventGamePacket, PeerID: peerID, Payload: payload})
		},
	}
}
