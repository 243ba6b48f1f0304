package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v76"

	"github.com/tbeaudouin05/stripe-facade/api/services/stripe/events"
)

// Invoice lifecycle events handled out of the box.
const (
	EventInvoiceFinalized             = "invoice.finalized"
	EventInvoicePaid                  = "invoice.paid"
	EventInvoiceFinalizationFailed    = "invoice.finalization_failed"
	EventInvoiceCreated               = "invoice.created"
	EventInvoicePaymentActionRequired = "invoice.payment_action_required"
	EventInvoicePaymentFailed         = "invoice.payment_failed"
	EventInvoiceUpcoming              = "invoice.upcoming"
	EventInvoiceUpdated               = "invoice.updated"
)

// InvoiceEventTypes lists every type RegisterInvoiceHandlers binds.
var InvoiceEventTypes = []string{
	EventInvoiceFinalized,
	EventInvoicePaid,
	EventInvoiceFinalizationFailed,
	EventInvoiceCreated,
	EventInvoicePaymentActionRequired,
	EventInvoicePaymentFailed,
	EventInvoiceUpcoming,
	EventInvoiceUpdated,
}

// ErrBadEvent indicates the incoming event payload is invalid or missing required fields.
var ErrBadEvent = errors.New("bad event")

// envelope is the message published for each invoice event.
type envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Created   int64           `json:"created"`
	Livemode  bool            `json:"livemode"`
	InvoiceID string          `json:"invoiceId"`
	Customer  string          `json:"customerId,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// RegisterInvoiceHandlers binds the invoice event types to a handler that logs
// the invoice and forwards it to pub.
func RegisterInvoiceHandlers(d *Dispatcher, pub events.Publisher) {
	if pub == nil {
		pub = events.Nop()
	}
	h := invoiceHandler(pub)
	for _, t := range InvoiceEventTypes {
		d.Register(t, h)
	}
}

func invoiceHandler(pub events.Publisher) HandlerFunc {
	return func(ctx context.Context, event stripe.Event) error {
		if event.Data == nil || len(event.Data.Raw) == 0 {
			return fmt.Errorf("%w: event %s has no data", ErrBadEvent, event.ID)
		}
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("%w: error unmarshaling into Invoice: %v", ErrBadEvent, err)
		}
		customerID := ""
		if inv.Customer != nil {
			customerID = inv.Customer.ID
		}
		slog.Info(string(event.Type),
			"event_id", event.ID,
			"invoice_id", inv.ID,
			"customer_id", customerID,
			"status", inv.Status,
			"amount_due", inv.AmountDue,
		)

		msg, err := json.Marshal(envelope{
			ID:        event.ID,
			Type:      string(event.Type),
			Created:   event.Created,
			Livemode:  event.Livemode,
			InvoiceID: inv.ID,
			Customer:  customerID,
			Data:      event.Data.Raw,
		})
		if err != nil {
			return err
		}
		if err := pub.Publish(ctx, event.ID, msg); err != nil {
			return fmt.Errorf("publish %s: %w", event.ID, err)
		}
		return nil
	}
}
