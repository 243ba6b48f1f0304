package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v76"

	gw "github.com/tbeaudouin05/stripe-facade/api/services/stripe/gateway"
)

// CancelSubscription cancels a subscription immediately.
// The remote call is not idempotent: a retry after a timeout may find the
// subscription already gone, which is reported as a successful cancellation.
func (s serviceImpl) CancelSubscription(ctx context.Context, subscriptionID string) (stripe.Subscription, error) {
	if err := required("subscription", subscriptionID); err != nil {
		return stripe.Subscription{}, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	started := time.Now()
	sub, err := s.gw.CancelSubscription(ctx, subscriptionID)
	err = observe("cancel_subscription", started, err)
	if errors.Is(err, ErrNotFound) {
		slog.Info("subscription already cancelled", "subscription_id", subscriptionID)
		return stripe.Subscription{ID: subscriptionID, Status: stripe.SubscriptionStatusCanceled}, nil
	}
	if err != nil {
		return stripe.Subscription{}, err
	}
	if !IsSubscriptionCancelled(sub) {
		slog.Warn("cancel returned a subscription that is not cancelled", "subscription_id", subscriptionID, "status", sub.Status)
	}
	return sub, nil
}

// UpdateSubscription swaps the price of one subscription item and invoices the
// proration delta immediately.
func (s serviceImpl) UpdateSubscription(ctx context.Context, req UpdateSubscriptionRequest) (stripe.Subscription, error) {
	if err := s.check(req); err != nil {
		return stripe.Subscription{}, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	started := time.Now()
	sub, err := s.gw.UpdateSubscriptionItem(ctx, gw.SubscriptionItemUpdate{
		SubscriptionID:    req.SubscriptionID,
		ItemID:            req.ItemID,
		PriceID:           req.PriceID,
		ProrationBehavior: ProrationAlwaysInvoice,
	})
	if err = observe("update_subscription", started, err); err != nil {
		return stripe.Subscription{}, err
	}
	return sub, nil
}
