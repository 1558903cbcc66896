package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
)

// Handler consumes a dispatched event. Returning an error tells the
// dispatcher the event is not yet fully delivered and must stay claimable.
type Handler func(ctx context.Context, e Event) error

// Registry maps an event type to its ordered handlers.
//
// It is an explicit instance constructed at startup and passed by reference
// into the dispatcher and into whatever wires handlers; there is no global
// bus. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{handlers: map[string][]Handler{}, log: log}
}

// Register appends h to the handler list for eventType.
func (r *Registry) Register(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], h)
}

// Known reports whether any handler is registered for eventType.
func (r *Registry) Known(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType]) > 0
}

// Publish invokes every handler registered for e.Type sequentially. A failing
// handler does not stop the remaining ones; the errors are joined and
// returned so the caller can withhold the processed mark. No handlers is a
// silent no-op.
func (r *Registry) Publish(ctx context.Context, e Event) error {
	r.mu.RLock()
	hs := append([]Handler(nil), r.handlers[e.Type]...)
	r.mu.RUnlock()

	if len(hs) == 0 {
		r.log.Debug("no handlers registered for event type", logx.String("event_type", e.Type))
		return nil
	}

	var errs []error
	for i, h := range hs {
		if err := h(ctx, e); err != nil {
			r.log.Warn("event handler failed",
				logx.String("event_type", e.Type),
				logx.String("event_id", e.ID.String()),
				logx.Int("handler", i),
				logx.Err(err))
			errs = append(errs, fmt.Errorf("handler %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
