package stripegw

import (
	"context"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	gw "github.com/tbeaudouin05/stripe-facade/api/services/stripe/gateway"
)

// Options configures the SDK backend used by the gateway.
type Options struct {
	SecretKey string
	// APIURL overrides https://api.stripe.com, e.g. for stripe-mock.
	APIURL     string
	Timeout    time.Duration
	MaxRetries int64
}

// stripeClient is the Stripe SDK-backed implementation of the gateway.
type stripeClient struct {
	api *client.API
}

// New returns a StripeGateway backed by the official Stripe SDK.
// Each gateway owns its own client.API, so keys are never shared through stripe.Key.
func New(opts Options) gw.StripeGateway {
	cfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(opts.MaxRetries),
	}
	if opts.Timeout > 0 {
		// The SDK timeout sits slightly above the per-call context deadline so
		// the context wins and the error is classified as a timeout.
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout + time.Second}
	}
	if opts.APIURL != "" {
		cfg.URL = stripe.String(strings.TrimRight(opts.APIURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := client.New(opts.SecretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
	return stripeClient{api: api}
}

func (c stripeClient) CreateCustomer(ctx context.Context, p gw.CustomerParams) (stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(p.Name),
		Email: stripe.String(p.Email),
		Phone: stripe.String(p.Phone),
	}
	params.Context = ctx
	cust, err := c.api.Customers.New(params)
	if err != nil {
		return stripe.Customer{}, err
	}
	if cust == nil {
		return stripe.Customer{}, nil
	}
	return *cust, nil
}

func (c stripeClient) AttachPaymentMethod(ctx context.Context, methodID, customerID string) (stripe.PaymentMethod, error) {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	pm, err := c.api.PaymentMethods.Attach(methodID, params)
	if err != nil {
		return stripe.PaymentMethod{}, err
	}
	if pm == nil {
		return stripe.PaymentMethod{}, nil
	}
	return *pm, nil
}

func (c stripeClient) SetDefaultPaymentMethod(ctx context.Context, customerID, methodID string) (stripe.Customer, error) {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(methodID),
		},
	}
	params.Context = ctx
	cust, err := c.api.Customers.Update(customerID, params)
	if err != nil {
		return stripe.Customer{}, err
	}
	if cust == nil {
		return stripe.Customer{}, nil
	}
	return *cust, nil
}

func (c stripeClient) ListCardPaymentMethods(ctx context.Context, customerID string) ([]stripe.PaymentMethod, error) {
	params := &stripe.CustomerListPaymentMethodsParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx
	methods := []stripe.PaymentMethod{}
	it := c.api.Customers.ListPaymentMethods(params)
	for it.Next() {
		if pm := it.PaymentMethod(); pm != nil {
			methods = append(methods, *pm)
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return methods, nil
}

func (c stripeClient) CreatePaymentIntent(ctx context.Context, p gw.PaymentIntentParams) (stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(p.Amount),
		Currency:           stripe.String(strings.ToLower(p.Currency)),
		Customer:           stripe.String(p.CustomerID),
		PaymentMethod:      stripe.String(p.PaymentMethodID),
		PaymentMethodTypes: stripe.StringSlice([]string{string(stripe.PaymentMethodTypeCard)}),
	}
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	if p.ThreeDSecure != "" {
		params.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
			Card: &stripe.PaymentIntentPaymentMethodOptionsCardParams{
				RequestThreeDSecure: stripe.String(p.ThreeDSecure),
			},
		}
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.Context = ctx
	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return stripe.PaymentIntent{}, err
	}
	if pi == nil {
		return stripe.PaymentIntent{}, nil
	}
	return *pi, nil
}

func (c stripeClient) ConfirmPaymentIntent(ctx context.Context, intentID, methodID string) (stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	if methodID != "" {
		params.PaymentMethod = stripe.String(methodID)
	}
	params.Context = ctx
	pi, err := c.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return stripe.PaymentIntent{}, err
	}
	if pi == nil {
		return stripe.PaymentIntent{}, nil
	}
	return *pi, nil
}

func (c stripeClient) CreateSubscription(ctx context.Context, p gw.SubscriptionParams) (stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(p.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(p.PriceID)},
		},
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			PaymentMethodTypes:       stripe.StringSlice([]string{string(stripe.PaymentMethodTypeCard)}),
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	if p.CouponID != "" {
		params.Coupon = stripe.String(p.CouponID)
	}
	params.AddExpand("latest_invoice.payment_intent")
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.Context = ctx
	s, err := c.api.Subscriptions.New(params)
	if err != nil {
		return stripe.Subscription{}, err
	}
	if s == nil {
		return stripe.Subscription{}, nil
	}
	return *s, nil
}

func (c stripeClient) UpdateSubscriptionItem(ctx context.Context, p gw.SubscriptionItemUpdate) (stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(p.ItemID), Price: stripe.String(p.PriceID)},
		},
	}
	if p.ProrationBehavior != "" {
		params.ProrationBehavior = stripe.String(p.ProrationBehavior)
	}
	params.Context = ctx
	s, err := c.api.Subscriptions.Update(p.SubscriptionID, params)
	if err != nil {
		return stripe.Subscription{}, err
	}
	if s == nil {
		return stripe.Subscription{}, nil
	}
	return *s, nil
}

func (c stripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (stripe.Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	s, err := c.api.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		return stripe.Subscription{}, err
	}
	if s == nil {
		return stripe.Subscription{}, nil
	}
	return *s, nil
}

// ListInvoices walks every page of the customer's invoices.
func (c stripeClient) ListInvoices(ctx context.Context, customerID string) ([]stripe.Invoice, error) {
	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	invoices := []stripe.Invoice{}
	it := c.api.Invoices.List(params)
	for it.Next() {
		if inv := it.Invoice(); inv != nil {
			invoices = append(invoices, *inv)
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}
