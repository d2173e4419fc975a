// Package eventbus provides the query-lifecycle event system.
package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event.
type EventType string

// Standard event types published by the query pipeline.
const (
	// Routing events
	EventRoutingStarted  EventType = "routing_started"
	EventRoutingSuccess  EventType = "routing_success"
	EventRoutingFallback EventType = "routing_fallback"

	// Retrieval events
	EventRetrievalStarted EventType = "retrieval_started"
	EventRetrievalSuccess EventType = "retrieval_success"
	EventRetrievalEmpty   EventType = "retrieval_empty"
	EventRetrievalRetry   EventType = "retrieval_retry"
	EventRetrievalFailure EventType = "retrieval_failure"

	// Tool-loop events
	EventToolInvocationStarted EventType = "tool_invocation_started"
	EventToolInvocationSuccess EventType = "tool_invocation_success"
	EventToolInvocationFailure EventType = "tool_invocation_failure"
	EventToolLoopExhausted     EventType = "tool_loop_exhausted"

	// Synthesis events
	EventSynthesisStarted EventType = "synthesis_started"
	EventSynthesisSuccess EventType = "synthesis_success"
	EventSynthesisFailure EventType = "synthesis_failure"

	// Query processing events
	EventQueryStarted   EventType = "query_started"
	EventQuerySuccess   EventType = "query_success"
	EventQueryFailure   EventType = "query_failure"
	EventQueryCancelled EventType = "query_cancelled"

	// Async query processing events
	EventQueryAsyncStarted   EventType = "query_async_started"
	EventQueryAsyncSuccess   EventType = "query_async_success"
	EventQueryAsyncFailure   EventType = "query_async_failure"
	EventQueryAsyncCancelled EventType = "query_async_cancelled"
)

// EventHandler is a function that handles events.
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the pipeline.
type Event interface {
	// Type returns the event type.
	Type() EventType

	// Payload returns the event data.
	Payload() any

	// Metadata returns additional information about the event.
	Metadata() map[string]any

	// Timestamp returns when the event occurred.
	Timestamp() int64

	// Source returns what generated the event.
	Source() string
}

// EventBus is the central event dispatch system.
type EventBus interface {
	// Publish sends an event to all subscribed handlers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types and returns a
	// subscription ID usable with Unsubscribe.
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for all event types.
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(subscriptionID string) error

	// Close shuts down the event bus, cleaning up resources.
	Close() error
}

// BaseEvent is a simple implementation of the Event interface.
type BaseEvent struct {
	eventType  EventType
	payload    any
	metadata   map[string]any
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent.
func NewEvent(eventType EventType, payload any, source string, metadata map[string]any) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

func (e *BaseEvent) Type() EventType          { return e.eventType }
func (e *BaseEvent) Payload() any             { return e.payload }
func (e *BaseEvent) Metadata() map[string]any { return e.metadata }
func (e *BaseEvent) Timestamp() int64         { return e.timestamp }
func (e *BaseEvent) Source() string           { return e.sourceInfo }

// WithMetadata adds or updates one metadata entry and returns the event for
// chaining.
func (e *BaseEvent) WithMetadata(key string, value any) *BaseEvent {
	e.metadata[key] = value
	return e
}
