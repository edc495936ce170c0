package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/readmaster-api/internal/observability"
)

// Observer reacts to a notification raised for one user.
type Observer interface {
	Name() string
	Notify(ctx context.Context, userID, eventType string, payload interface{}) error
}

// Dispatcher fans a notification out to its observers in subscription order.
// A failing observer never prevents delivery to the rest.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
	logger    zerolog.Logger
}

// NewDispatcher constructs a dispatcher with the given initial observers.
func NewDispatcher(logger zerolog.Logger, observers ...Observer) *Dispatcher {
	d := &Dispatcher{logger: logger.With().Str("component", "notification_dispatcher").Logger()}
	for _, o := range observers {
		d.Subscribe(o)
	}
	return d
}

// Subscribe appends o. Subscribing the same observer twice is a no-op.
func (d *Dispatcher) Subscribe(o Observer) {
	if o == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.observers {
		if existing == o {
			return
		}
	}
	d.observers = append(d.observers, o)
}

// Unsubscribe removes o.
func (d *Dispatcher) Unsubscribe(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.observers {
		if existing == o {
			d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
			return
		}
	}
}

// Notify invokes every observer sequentially.
func (d *Dispatcher) Notify(ctx context.Context, userID, eventType string, payload interface{}) {
	d.mu.RLock()
	observers := make([]Observer, len(d.observers))
	copy(observers, d.observers)
	d.mu.RUnlock()

	for _, o := range observers {
		if err := d.invoke(ctx, o, userID, eventType, payload); err != nil {
			observability.ObserverFailures().WithLabelValues(o.Name()).Inc()
			d.logger.Error().
				Err(err).
				Str("observer", o.Name()).
				Str("user_id", userID).
				Str("event", eventType).
				Msg("notification observer failed")
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, o Observer, userID, eventType string, payload interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return o.Notify(ctx, userID, eventType, payload)
}
