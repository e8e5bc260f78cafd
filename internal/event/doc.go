/*
Package event provides a type-safe, pub/sub event system for the broker.

The event system enables decoupled communication between components
(backend adapters, the session runtime, the watchdog, the consumer
gateway) by allowing publishers to emit events and subscribers to react
to them without direct dependencies.

# Architecture

Publish delivers events asynchronously through watermill's gochannel,
keeping each event's typed Data in a side table keyed by message UUID
so subscribers receive the original Go value. PublishSync bypasses
gochannel and calls the registered subscribers directly before it
returns.

# Event Types

Backend Events:
  - backend:connected: A backend process/connection came up
  - backend:disconnected: A backend connection dropped
  - backend:session_id: Backend reported its internal session id
  - backend:relaunch_needed: Manager must decide whether to relaunch
  - backend:exited: Backend process exited

Session Events:
  - session:created: New session registered
  - session:updated: Session state changed
  - session:closed: Session torn down
  - session:first_turn_completed: Triggers session naming
  - session:idle: Session returned to idle
  - session:degraded: Backend unreachable, session marked degraded
  - session:git_updated: Git branch/HEAD/dirty state changed for a session

Capability and Permission Events:
  - capabilities:ready: Backend's initialize handshake completed
  - capabilities:timeout: Handshake did not complete in time
  - permission:requested: Tool permission check awaiting a decision
  - permission:resolved: Consumer replied allow/deny
  - permission:cancelled: Timeout-to-deny or session closed underneath it

Consumer / Team Events:
  - consumer:joined / consumer:left
  - team:member_joined
  - auth_status: Forwarded verbatim from a backend

# Basic Usage

Publishing events:

	event.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{Entry: entry},
	})

	event.PublishSync(event.Event{
		Type: event.PermissionRequested,
		Data: event.PermissionRequestedData{SessionID: id, Request: req},
	})

Subscribing to specific events:

	unsubscribe := event.Subscribe(event.SessionCreated, func(e event.Event) {
		data := e.Data.(event.SessionCreatedData)
		log.Info().Str("id", data.Entry.SessionID).Msg("session created")
	})
	defer unsubscribe()

Subscribing to all events:

	unsubscribe := event.SubscribeAll(func(e event.Event) {
		log.Debug().Str("type", string(e.Type)).Msg("event")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers are called synchronously in the
publisher's goroutine. To avoid blocking or deadlocks, subscribers MUST:

  - Complete quickly
  - Use non-blocking channel sends (select with default case)
  - Never call Publish/PublishSync from within a subscriber
  - Never acquire locks the publisher might hold

# Custom Event Bus

For testing or isolation, create a custom bus instance:

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.SessionCreated, handler)
	bus.PublishSync(event.Event{Type: event.SessionCreated, Data: data})

# Testing

	event.Reset() // clears the global bus between tests

# Thread Safety

The event bus is thread-safe and can be used concurrently from multiple
goroutines.

# Integration with Watermill

	pubsub := event.PubSub()
	// access the underlying gochannel for middleware, routing, etc.
*/
package event
