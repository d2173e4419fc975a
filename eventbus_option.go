package edudoc

import "github.com/edudocai/edudoc/internal/eventbus"

// WithEventBus sets the event bus component.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *EduDoc) {
		e.eventBus = bus
	}
}
