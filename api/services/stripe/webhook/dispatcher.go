package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	stripe "github.com/stripe/stripe-go/v76"

	"github.com/tbeaudouin05/stripe-facade/api/metrics"
)

// HandlerFunc reacts to one verified event. Returned errors are logged, never
// surfaced to the sender.
type HandlerFunc func(ctx context.Context, event stripe.Event) error

// Dispatcher verifies inbound events and routes them by type.
// Unknown types go to the default handler so new processor events never fail delivery.
type Dispatcher struct {
	verifier Verifier

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	fallback HandlerFunc
}

func NewDispatcher(v Verifier) *Dispatcher {
	return &Dispatcher{
		verifier: v,
		handlers: map[string]HandlerFunc{},
		fallback: ignoreEvent,
	}
}

// Register binds a handler to an event type, replacing any previous one.
func (d *Dispatcher) Register(eventType string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = h
}

// SetDefault replaces the handler used for unregistered event types.
func (d *Dispatcher) SetDefault(h HandlerFunc) {
	if h == nil {
		h = ignoreEvent
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = h
}

// Handle verifies the raw payload and dispatches it. The only error it returns
// is ErrSignature, raised before any handler runs.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte, signature string) (stripe.Event, error) {
	event, err := d.verifier.Verify(payload, signature)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		slog.Warn("webhook rejected", "err", err)
		return stripe.Event{}, err
	}
	d.Dispatch(ctx, event)
	return event, nil
}

// Dispatch runs exactly one handler for the event and swallows its failure.
func (d *Dispatcher) Dispatch(ctx context.Context, event stripe.Event) {
	eventType := string(event.Type)

	d.mu.RLock()
	h, known := d.handlers[eventType]
	if !known {
		h = d.fallback
	}
	d.mu.RUnlock()

	result := "dispatched"
	if !known {
		result = "unhandled"
	}
	if err := safeCall(ctx, h, event); err != nil {
		result = "failed"
		slog.Error("webhook handler failed", "event_id", event.ID, "type", eventType, "err", err)
	}
	metrics.WebhookEvents.WithLabelValues(eventType, result).Inc()
}

func safeCall(ctx context.Context, h HandlerFunc, event stripe.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, event)
}

func ignoreEvent(_ context.Context, event stripe.Event) error {
	slog.Debug("webhook event ignored", "event_id", event.ID, "type", string(event.Type))
	return nil
}
