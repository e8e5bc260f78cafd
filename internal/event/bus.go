// Package event provides the broker's internal pub/sub system, used to
// fan out backend/session/consumer signals to whichever components
// (manager, broadcaster, watchdog) need to react without coupling them
// directly to the runtime. Asynchronous delivery (Publish) runs over
// watermill's gochannel transport — every subscription is a real
// gochannel.Subscribe channel, every publish a real gochannel.Publish
// call — with a small correlation table layered on top so subscribers
// keep concrete Go types instead of unmarshalling wire frames.
// Synchronous delivery (PublishSync), used where a caller must know
// every subscriber has already run before it continues, bypasses the
// channel transport by design: a channel hand-off is inherently
// asynchronous, so the few synchronous call sites invoke subscribers
// directly off the same registry.
package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventType represents the type of event flowing across the broker's
// three signal groups (backend, session, consumer).
type EventType string

const (
	// Backend lifecycle signals.
	BackendConnected      EventType = "backend:connected"
	BackendDisconnected   EventType = "backend:disconnected"
	BackendSessionID      EventType = "backend:session_id"
	BackendRelaunchNeeded EventType = "backend:relaunch_needed"
	BackendExited         EventType = "backend:exited"

	// Session lifecycle and state signals.
	SessionCreated            EventType = "session:created"
	SessionUpdated            EventType = "session:updated"
	SessionClosed             EventType = "session:closed"
	SessionFirstTurnCompleted EventType = "session:first_turn_completed"
	SessionIdle               EventType = "session:idle"
	SessionDegraded           EventType = "session:degraded"
	SessionGitUpdated         EventType = "session:git_updated"

	// Capability and permission signals.
	CapabilitiesReady   EventType = "capabilities:ready"
	CapabilitiesTimeout EventType = "capabilities:timeout"
	PermissionRequested EventType = "permission:requested"
	PermissionResolved  EventType = "permission:resolved"
	PermissionCancelled EventType = "permission:cancelled"

	// Consumer / team signals.
	ConsumerJoined   EventType = "consumer:joined"
	ConsumerLeft     EventType = "consumer:left"
	TeamMemberJoined EventType = "team:member_joined"
	AuthStatus       EventType = "auth_status"
)

// allTopic is the gochannel topic every SubscribeAll subscription
// listens on; Publish additionally publishes each event there.
const allTopic = "__all__"

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscriberEntry wraps a subscriber with an ID and the cancel func
// for its gochannel subscription goroutine.
type subscriberEntry struct {
	id     uint64
	fn     Subscriber
	cancel context.CancelFunc
}

// Bus is the event bus. Publish hands events to watermill's gochannel,
// one goroutine per subscription reading back off it; PublishSync
// calls the same registered funcs directly, skipping the channel.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	// payloads correlates a published message's UUID back to the
	// original, possibly non-serializable Event.Data, since gochannel
	// messages only carry a []byte payload.
	payloads sync.Map // string (message UUID) -> any

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	nextID       uint64
	closed       bool
	closedCancel context.CancelFunc
	closedCtx    context.Context
}

// globalBus is the default event bus instance.
var globalBus = newBus()

// newBus creates a new event bus with watermill gochannel infrastructure.
func newBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers:  make(map[EventType][]subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

// newID generates a unique subscriber ID.
func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func Subscribe(eventType EventType, fn Subscriber) func() {
	return globalBus.Subscribe(eventType, fn)
}

func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	entry := b.startSubscription(string(eventType), fn, id)
	b.subscribers[eventType] = append(b.subscribers[eventType], entry)

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func SubscribeAll(fn Subscriber) func() {
	return globalBus.SubscribeAll(fn)
}

func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	entry := b.startSubscription(allTopic, fn, id)
	b.global = append(b.global, entry)

	return func() {
		b.unsubscribeGlobal(id)
	}
}

// startSubscription opens a real gochannel subscription on topic and
// spawns the goroutine that forwards each delivered message back to fn
// as a reconstructed Event. Must be called with b.mu held.
func (b *Bus) startSubscription(topic string, fn Subscriber, id uint64) subscriberEntry {
	ctx, cancel := context.WithCancel(b.closedCtx)
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		// The bus is shutting down; return an inert entry whose
		// cancel is a no-op.
		cancel()
		return subscriberEntry{id: id, fn: fn, cancel: func() {}}
	}

	go func() {
		for msg := range msgs {
			data, _ := b.payloads.LoadAndDelete(msg.UUID)
			fn(Event{Type: EventType(msg.Payload), Data: data})
			msg.Ack()
		}
	}()

	return subscriberEntry{id: id, fn: fn, cancel: cancel}
}

// unsubscribe removes a subscriber for a specific event type.
func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			entry.cancel()
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// unsubscribeGlobal removes a global subscriber.
func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			entry.cancel()
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish hands event to watermill's gochannel for asynchronous
// delivery: one message to the event's own topic (reaching Subscribe
// listeners for that type) and one to allTopic (reaching SubscribeAll
// listeners), each subscription's own goroutine invoking the
// registered Subscriber as it's delivered.
func Publish(event Event) {
	globalBus.Publish(event)
}

func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	for _, topic := range [...]string{string(event.Type), allTopic} {
		id := watermill.NewUUID()
		b.payloads.Store(id, event.Data)
		msg := message.NewMessage(id, []byte(event.Type))
		if err := b.pubsub.Publish(topic, msg); err != nil {
			b.payloads.Delete(id)
		}
	}
}

// PublishSync sends an event to all subscribers synchronously, calling
// each directly off the registry rather than through the gochannel
// transport (a channel hand-off cannot be made to complete
// synchronously). All subscribers are called in the current goroutine
// before returning.
func PublishSync(event Event) {
	globalBus.PublishSync(event)
}

func (b *Bus) PublishSync(event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	subs := make([]Subscriber, 0, len(b.subscribers[event.Type])+len(b.global))
	for _, entry := range b.subscribers[event.Type] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
}

// NewBus creates a new event bus instance.
func NewBus() *Bus {
	return newBus()
}

// Reset clears all subscribers from the global bus (for testing).
func Reset() {
	globalBus.mu.Lock()
	globalBus.closed = true
	globalBus.closedCancel()
	globalBus.mu.Unlock()

	// Close the old pubsub
	_ = globalBus.pubsub.Close()

	// Small delay to allow goroutines to clean up
	time.Sleep(10 * time.Millisecond)

	// Create a new global bus
	globalBus = newBus()
}

// Close closes the bus and all its subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()

	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel for advanced use
// cases (middleware, routing, or swapping in a distributed backend).
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}

// PubSub returns the global bus's underlying watermill GoChannel.
func PubSub() *gochannel.GoChannel {
	return globalBus.PubSub()
}
