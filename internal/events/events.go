// Package events carries the domain events the review engine emits and the
// explicit registry that dispatches them to consumers. Dispatch is by event
// name, never by reflection over handler types.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/pkg/models"
)

// Event is a domain event. Name identifies the event for handler routing
// and for the job queue payload kind.
type Event interface {
	EventName() string
}

// ReviewPublishedEvent fires after a publish transaction commits.
type ReviewPublishedEvent struct {
	ReviewID    models.ReviewIdentifier `json:"review_id"`
	PublishedBy models.ReviewUser       `json:"published_by"`
}

func (ReviewPublishedEvent) EventName() string { return "review_published" }

// Bus publishes events to whoever subscribed. Publishing happens after the
// originating transaction commits; a failing handler never undoes the
// publish.
type Bus interface {
	Publish(ctx context.Context, event Event) error
}

// HandlerFunc consumes one event.
type HandlerFunc func(ctx context.Context, event Event) error

// Registry is an in-process Bus with an explicit name-to-handlers table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string][]HandlerFunc{}}
}

// Subscribe adds a handler for the named event.
func (r *Registry) Subscribe(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], fn)
}

// Publish runs every handler registered for the event's name. Handlers run
// sequentially; a failing handler is logged and does not stop the others.
func (r *Registry) Publish(ctx context.Context, event Event) error {
	r.mu.RLock()
	handlers := r.handlers[event.EventName()]
	r.mu.RUnlock()

	var firstErr error
	for _, fn := range handlers {
		if err := fn(ctx, event); err != nil {
			log.Error().
				Str("event", event.EventName()).
				Err(err).
				Msg("event handler failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("handling %s: %w", event.EventName(), err)
			}
		}
	}
	return firstErr
}

// NopBus discards every event. Used where no consumers are wired.
type NopBus struct{}

func (NopBus) Publish(ctx context.Context, event Event) error { return nil }
