package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v76"

	gw "github.com/tbeaudouin05/stripe-facade/api/services/stripe/gateway"
)

// CreateCharge takes a one-time card payment, or starts a subscription on the
// configured plan when req.Subscription is set. The idempotency key is always
// sent so a client retry after a timeout cannot charge twice.
func (s serviceImpl) CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := s.check(req); err != nil {
		return ChargeResult{}, err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	if req.Subscription {
		return s.createSubscriptionCharge(ctx, req)
	}
	if err := required("payment method", req.PaymentMethodID); err != nil {
		return ChargeResult{}, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	started := time.Now()
	pi, err := s.gw.CreatePaymentIntent(ctx, gw.PaymentIntentParams{
		Amount:          req.Amount,
		Currency:        req.Currency,
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		Description:     s.settings.ChargeDescription,
		ThreeDSecure:    ThreeDSecureAny,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err = observe("create_payment_intent", started, err); err != nil {
		return ChargeResult{}, err
	}
	slog.Info("payment intent created", "payment_intent_id", pi.ID, "status", pi.Status, "idempotency_key", req.IdempotencyKey)
	return ChargeResult{Kind: ChargeKindPaymentIntent, PaymentIntent: pi, IdempotencyKey: req.IdempotencyKey}, nil
}

func (s serviceImpl) createSubscriptionCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if s.settings.PlanPriceID == "" {
		return ChargeResult{}, fmt.Errorf("%w: subscription plan price is not configured", ErrValidation)
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	started := time.Now()
	sub, err := s.gw.CreateSubscription(ctx, gw.SubscriptionParams{
		CustomerID:     req.CustomerID,
		PriceID:        s.settings.PlanPriceID,
		CouponID:       s.settings.CouponID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err = observe("create_subscription", started, err); err != nil {
		return ChargeResult{}, err
	}
	slog.Info("subscription created", "subscription_id", sub.ID, "status", sub.Status, "idempotency_key", req.IdempotencyKey)
	return ChargeResult{Kind: ChargeKindSubscription, Subscription: sub, IdempotencyKey: req.IdempotencyKey}, nil
}

// ConfirmCharge completes a payment intent left awaiting confirmation, e.g. after a 3-D Secure challenge.
func (s serviceImpl) ConfirmCharge(ctx context.Context, intentID, methodID string) (stripe.PaymentIntent, error) {
	if err := required("payment intent", intentID); err != nil {
		return stripe.PaymentIntent{}, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	started := time.Now()
	pi, err := s.gw.ConfirmPaymentIntent(ctx, intentID, methodID)
	if err = observe("confirm_payment_intent", started, err); err != nil {
		return stripe.PaymentIntent{}, err
	}
	return pi, nil
}
