package gateway

import (
	"context"

	stripe "github.com/stripe/stripe-go/v76"
)

//go:generate mockgen -destination=mock/mock_gateway.go -package=mock_gateway github.com/tbeaudouin05/stripe-facade/api/services/stripe/gateway StripeGateway

// StripeGateway abstracts Stripe SDK operations needed by the app layer.
// Methods return values (not pointers) to respect the project's preference
// to avoid pointer types in public interfaces.
type StripeGateway interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (stripe.Customer, error)
	AttachPaymentMethod(ctx context.Context, methodID, customerID string) (stripe.PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, methodID string) (stripe.Customer, error)
	ListCardPaymentMethods(ctx context.Context, customerID string) ([]stripe.PaymentMethod, error)
	CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (stripe.PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, intentID, methodID string) (stripe.PaymentIntent, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (stripe.Subscription, error)
	UpdateSubscriptionItem(ctx context.Context, params SubscriptionItemUpdate) (stripe.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (stripe.Subscription, error)
	ListInvoices(ctx context.Context, customerID string) ([]stripe.Invoice, error)
}

type CustomerParams struct {
	Name  string
	Email string
	Phone string
}

// PaymentIntentParams describes a one-time card charge. Amount is in minor units.
type PaymentIntentParams struct {
	Amount          int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	Description     string
	// ThreeDSecure is passed as payment_method_options.card.request_three_d_secure.
	ThreeDSecure   string
	IdempotencyKey string
}

type SubscriptionParams struct {
	CustomerID     string
	PriceID        string
	CouponID       string
	IdempotencyKey string
}

type SubscriptionItemUpdate struct {
	SubscriptionID    string
	ItemID            string
	PriceID           string
	ProrationBehavior string
}
