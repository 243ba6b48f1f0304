package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v76"

	"github.com/tbeaudouin05/stripe-facade/api/metrics"
)

// IsSubscriptionCancelled returns true if the subscription is cancelled or past its cancel timestamp
func IsSubscriptionCancelled(sub stripe.Subscription) bool {
	now := time.Now().Unix()
	if sub.CancelAt != 0 && now > sub.CancelAt {
		return true
	}
	if sub.Status == stripe.SubscriptionStatusCanceled {
		return true
	}
	return false
}

// classifyGatewayError maps an SDK error onto the app error taxonomy.
// The processor's message is kept in the chain for logs; callers only expose the sentinel.
func classifyGatewayError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %s: %v", ErrUpstreamTimeout, op, err)
	}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		switch {
		case serr.Type == stripe.ErrorTypeCard:
			return fmt.Errorf("%w: %s: %v", ErrPayment, op, err)
		case serr.Code == stripe.ErrorCodeResourceMissing, serr.HTTPStatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
		case serr.HTTPStatusCode == http.StatusPaymentRequired:
			return fmt.Errorf("%w: %s: %v", ErrPayment, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPayment):
		return "payment"
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	default:
		return "upstream"
	}
}

// observe classifies err and records the call.
func observe(op string, started time.Time, err error) error {
	mapped := classifyGatewayError(op, err)
	metrics.ObserveUpstream(op, outcome(mapped), started)
	return mapped
}
