package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ChannelEventBus is an EventBus backed by a buffered channel and a worker
// pool. Publishing never blocks the pipeline beyond the buffer; a full
// buffer drops the event with a warning rather than stalling a query.
type ChannelEventBus struct {
	subscribers    map[EventType]map[string]EventHandler
	allSubscribers map[string]EventHandler

	eventChan chan eventWithContext
	done      chan struct{}
	closed    bool
	wg        sync.WaitGroup
	mutex     sync.RWMutex

	bufferSize  int
	workerCount int
}

type eventWithContext struct {
	ctx   context.Context
	event Event
}

// ChannelEventBusOption configures the channel-based event bus.
type ChannelEventBusOption func(*ChannelEventBus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.bufferSize = size
	}
}

// WithWorkerCount sets the number of event processing workers.
func WithWorkerCount(count int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.workerCount = count
	}
}

// NewChannelEventBus creates a new channel-based event bus and starts its
// workers.
func NewChannelEventBus(options ...ChannelEventBusOption) *ChannelEventBus {
	eb := &ChannelEventBus{
		subscribers:    make(map[EventType]map[string]EventHandler),
		allSubscribers: make(map[string]EventHandler),
		done:           make(chan struct{}),
		bufferSize:     100,
		workerCount:    5,
	}
	for _, option := range options {
		option(eb)
	}
	eb.eventChan = make(chan eventWithContext, eb.bufferSize)

	for i := 0; i < eb.workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

func (eb *ChannelEventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.done:
			return
		case evt := <-eb.eventChan:
			eb.dispatch(evt)
		}
	}
}

func (eb *ChannelEventBus) dispatch(evt eventWithContext) {
	eb.mutex.RLock()
	handlers := make([]EventHandler, 0)
	if byID, ok := eb.subscribers[evt.event.Type()]; ok {
		for _, h := range byID {
			handlers = append(handlers, h)
		}
	}
	for _, h := range eb.allSubscribers {
		handlers = append(handlers, h)
	}
	eb.mutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(evt.ctx, evt.event); err != nil {
			log.Warn().
				Err(err).
				Str("event_type", string(evt.event.Type())).
				Msg("event handler failed")
		}
	}
}

// Publish sends an event to all subscribed handlers.
func (eb *ChannelEventBus) Publish(ctx context.Context, event Event) error {
	eb.mutex.RLock()
	closed := eb.closed
	eb.mutex.RUnlock()
	if closed {
		return fmt.Errorf("event bus is closed")
	}

	select {
	case eb.eventChan <- eventWithContext{ctx: ctx, event: event}:
		return nil
	default:
		log.Warn().
			Str("event_type", string(event.Type())).
			Msg("event bus buffer full, dropping event")
		return nil
	}
}

// Subscribe registers a handler for specific event types.
func (eb *ChannelEventBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}
	if len(eventTypes) == 0 {
		return "", fmt.Errorf("at least one event type is required")
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return "", fmt.Errorf("event bus is closed")
	}

	id := uuid.New().String()
	for _, et := range eventTypes {
		if eb.subscribers[et] == nil {
			eb.subscribers[et] = make(map[string]EventHandler)
		}
		eb.subscribers[et][id] = handler
	}
	return id, nil
}

// SubscribeAll registers a handler for all event types.
func (eb *ChannelEventBus) SubscribeAll(handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return "", fmt.Errorf("event bus is closed")
	}

	id := uuid.New().String()
	eb.allSubscribers[id] = handler
	return id, nil
}

// Unsubscribe removes a subscription by ID.
func (eb *ChannelEventBus) Unsubscribe(subscriptionID string) error {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if _, ok := eb.allSubscribers[subscriptionID]; ok {
		delete(eb.allSubscribers, subscriptionID)
		return nil
	}

	found := false
	for _, byID := range eb.subscribers {
		if _, ok := byID[subscriptionID]; ok {
			delete(byID, subscriptionID)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("subscription '%s' not found", subscriptionID)
	}
	return nil
}

// Close shuts down the event bus and waits for workers to finish.
func (eb *ChannelEventBus) Close() error {
	eb.mutex.Lock()
	if eb.closed {
		eb.mutex.Unlock()
		return nil
	}
	eb.closed = true
	eb.mutex.Unlock()

	close(eb.done)
	eb.wg.Wait()
	return nil
}
