package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	stripe "github.com/stripe/stripe-go/v76"

	gw "github.com/tbeaudouin05/stripe-facade/api/services/stripe/gateway"
)

// Service is the payment gateway façade. Every operation is a single blocking
// call to the processor; none of them persist anything locally.
type Service interface {
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (stripe.Customer, error)
	AttachPaymentMethod(ctx context.Context, methodID, customerID string) (stripe.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]stripe.PaymentMethod, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	ConfirmCharge(ctx context.Context, intentID, methodID string) (stripe.PaymentIntent, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, req UpdateSubscriptionRequest) (stripe.Subscription, error)
	ListInvoices(ctx context.Context, customerID string) ([]stripe.Invoice, error)
}

type serviceImpl struct {
	gw       gw.StripeGateway
	settings Settings
	validate *validator.Validate
}

func NewService(g gw.StripeGateway, settings Settings) Service {
	if settings.Timeout <= 0 {
		settings.Timeout = defaultUpstreamCallDeadline
	}
	return serviceImpl{gw: g, settings: settings, validate: validator.New()}
}

// callContext detaches the remote call from the caller's cancellation and bounds it
// by the configured timeout: a dropped client must not abort an in-flight charge.
func (s serviceImpl) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.settings.Timeout)
}

func (s serviceImpl) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, fields[i])
		}
	}
	return nil
}

// CreateCustomer registers a new customer with the processor.
func (s serviceImpl) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (stripe.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.check(req); err != nil {
		return stripe.Customer{}, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	started := time.Now()
	cust, err := s.gw.CreateCustomer(ctx, gw.CustomerParams{Name: req.Name, Email: req.Email, Phone: req.Phone})
	if err = observe("create_customer", started, err); err != nil {
		return stripe.Customer{}, err
	}
	return cust, nil
}

// AttachPaymentMethod associates the method with the customer and makes it the
// customer's default for future invoices.
func (s serviceImpl) AttachPaymentMethod(ctx context.Context, methodID, customerID string) (stripe.PaymentMethod, error) {
	if err := required("payment method", methodID, "customer", customerID); err != nil {
		return stripe.PaymentMethod{}, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	started := time.Now()
	pm, err := s.gw.AttachPaymentMethod(ctx, methodID, customerID)
	if err = observe("attach_payment_method", started, err); err != nil {
		return stripe.PaymentMethod{}, err
	}

	started = time.Now()
	_, err = s.gw.SetDefaultPaymentMethod(ctx, customerID, methodID)
	if err = observe("set_default_payment_method", started, err); err != nil {
		return stripe.PaymentMethod{}, err
	}
	return pm, nil
}

// ListPaymentMethods returns the customer's card methods; none is an empty slice.
func (s serviceImpl) ListPaymentMethods(ctx context.Context, customerID string) ([]stripe.PaymentMethod, error) {
	if err := required("customer", customerID); err != nil {
		return nil, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	started := time.Now()
	methods, err := s.gw.ListCardPaymentMethods(ctx, customerID)
	if err = observe("list_payment_methods", started, err); err != nil {
		return nil, err
	}
	if methods == nil {
		methods = []stripe.PaymentMethod{}
	}
	return methods, nil
}

// ListInvoices returns every invoice of the customer. There is no cursor: all pages are read.
func (s serviceImpl) ListInvoices(ctx context.Context, customerID string) ([]stripe.Invoice, error) {
	if err := required("customer", customerID); err != nil {
		return nil, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	started := time.Now()
	invoices, err := s.gw.ListInvoices(ctx, customerID)
	if err = observe("list_invoices", started, err); err != nil {
		return nil, err
	}
	if invoices == nil {
		invoices = []stripe.Invoice{}
	}
	return invoices, nil
}
