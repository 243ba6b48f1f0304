package router

import (
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"

	stripeapp "github.com/tbeaudouin05/stripe-facade/api/services/stripe/app"
	"github.com/tbeaudouin05/stripe-facade/api/services/stripe/webhook"
)

// codeFor maps the app error taxonomy onto gRPC codes.
func codeFor(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, stripeapp.ErrValidation), errors.Is(err, webhook.ErrSignature):
		return codes.InvalidArgument
	case errors.Is(err, stripeapp.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, stripeapp.ErrPayment):
		return codes.FailedPrecondition
	case errors.Is(err, stripeapp.ErrUpstreamTimeout):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// statusFor returns the HTTP status for err. Declines are 402; everything
// else follows grpc-gateway's code table.
func statusFor(err error) int {
	if errors.Is(err, stripeapp.ErrPayment) {
		return http.StatusPaymentRequired
	}
	return runtime.HTTPStatusFromCode(codeFor(err))
}
