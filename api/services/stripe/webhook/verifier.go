package webhook

import (
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v76"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"
)

// SignatureHeader carries the processor's signature over the raw body.
const SignatureHeader = "Stripe-Signature"

// ErrSignature indicates the payload was not signed with the configured secret.
var ErrSignature = errors.New("invalid webhook signature")

// Verifier turns a raw signed payload into an event, or fails with ErrSignature.
type Verifier interface {
	Verify(payload []byte, signature string) (stripe.Event, error)
}

type stripeVerifier struct {
	secret string
}

// NewVerifier checks signatures with Stripe's webhook scheme and the given signing secret.
func NewVerifier(secret string) Verifier {
	return stripeVerifier{secret: secret}
}

// Verify must be handed the body exactly as received: re-encoding a parsed
// event changes the bytes and breaks the signature.
func (v stripeVerifier) Verify(payload []byte, signature string) (stripe.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing %s header", ErrSignature, SignatureHeader)
	}
	event, err := stripewebhook.ConstructEventWithOptions(payload, signature, v.secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return event, nil
}
