package app

import "errors"

// Typed errors for the Stripe app layer. These enable HTTP mapping without
// relying on SDK-specific error types at the transport layer.
var (
	// ErrValidation indicates malformed caller input; nothing was sent upstream.
	ErrValidation = errors.New("validation error")
	// ErrNotFound indicates the processor does not know one of the identifiers.
	ErrNotFound = errors.New("not found")
	// ErrPayment indicates the processor declined the financial operation.
	ErrPayment = errors.New("payment error")
	// ErrUpstream indicates a failure from the Stripe gateway / API calls.
	ErrUpstream = errors.New("upstream error")
	// ErrUpstreamTimeout indicates the per-call deadline expired before Stripe answered.
	ErrUpstreamTimeout = errors.New("upstream timeout")
)
