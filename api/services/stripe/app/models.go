package app

import (
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
)

// Processor policies applied by the façade.
const (
	ThreeDSecureAny             = "any"
	ProrationAlwaysInvoice      = "always_invoice"
	ChargeKindPaymentIntent     = ChargeKind("payment_intent")
	ChargeKindSubscription      = ChargeKind("subscription")
	defaultUpstreamCallDeadline = 30 * time.Second
)

// Settings carries the configuration points of the façade.
type Settings struct {
	// PlanPriceID is the price used when a charge is taken as a subscription.
	PlanPriceID string
	// CouponID is applied to new subscriptions when set.
	CouponID string
	// ChargeDescription is attached to one-time payment intents.
	ChargeDescription string
	// Timeout bounds every remote call. Zero means 30s.
	Timeout time.Duration
}

type CreateCustomerRequest struct {
	Name  string `validate:"required"`
	Email string `validate:"required,email"`
	Phone string `validate:"required"`
}

// ChargeRequest describes one purchase attempt. Amount is in minor units.
type ChargeRequest struct {
	Amount          int64  `validate:"gt=0"`
	Currency        string `validate:"required,iso4217"`
	CustomerID      string `validate:"required"`
	PaymentMethodID string
	Subscription    bool
	// IdempotencyKey is forwarded to Stripe; one is generated when empty.
	IdempotencyKey string
}

type UpdateSubscriptionRequest struct {
	SubscriptionID string `validate:"required"`
	// ItemID is the subscription item whose price is replaced.
	ItemID  string `validate:"required"`
	PriceID string `validate:"required"`
}

type ChargeKind string

// ChargeResult is either a PaymentIntent or a Subscription depending on Kind.
// It marshals to the bare processor object so clients see Stripe's shape.
type ChargeResult struct {
	Kind           ChargeKind
	PaymentIntent  stripe.PaymentIntent
	Subscription   stripe.Subscription
	IdempotencyKey string
}

func (r ChargeResult) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ChargeKindPaymentIntent:
		return json.Marshal(r.PaymentIntent)
	case ChargeKindSubscription:
		return json.Marshal(r.Subscription)
	default:
		return nil, fmt.Errorf("unknown charge kind %q", r.Kind)
	}
}
