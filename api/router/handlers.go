package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	stripe "github.com/stripe/stripe-go/v76"

	stripeapp "github.com/tbeaudouin05/stripe-facade/api/services/stripe/app"
	"github.com/tbeaudouin05/stripe-facade/api/services/stripe/webhook"
	"github.com/tbeaudouin05/stripe-facade/api/session"
)

const (
	// IdempotencyHeader lets clients make /payment/create retries safe.
	IdempotencyHeader = "Idempotency-Key"

	maxBodyBytes    = 1 << 20
	maxWebhookBytes = 65536
)

var errNotConfigured = errors.New("service not configured")

type handlers struct {
	deps Deps
}

// methodRef accepts a payment method as a bare id or as an object with an id.
type methodRef string

func (m *methodRef) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*m = methodRef(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*m = methodRef(obj.ID)
	return nil
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

type attachRequest struct {
	PaymentMethod methodRef `json:"paymentMethod"`
}

type createPaymentRequest struct {
	PaymentMethod methodRef `json:"paymentMethod"`
	Subscription  *bool     `json:"subscription"`
}

type confirmRequest struct {
	PaymentIntent string    `json:"paymentIntent"`
	PaymentMethod methodRef `json:"paymentMethod"`
}

type updateSubscriptionRequest struct {
	ItemID  string `json:"itemId"`
	PriceID string `json:"priceId"`
}

type listInvoicesRequest struct {
	CustomerID string `json:"customerId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "err", err)
	}
}

// fail logs the full error chain and answers with only the route's generic message.
func fail(w http.ResponseWriter, op string, err error, body any) {
	failWith(w, op, err, statusFor(err), body)
}

// failBadRequest is fail for routes whose clients only distinguish success from 400.
func failBadRequest(w http.ResponseWriter, op string, err error, body any) {
	failWith(w, op, err, http.StatusBadRequest, body)
}

func failWith(w http.ResponseWriter, op string, err error, status int, body any) {
	if statusFor(err) >= http.StatusInternalServerError {
		slog.Error(op+" failed", "status", status, "err", err)
	} else {
		slog.Warn(op+" failed", "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

// decode reads an optional JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: malformed body: %v", stripeapp.ErrValidation, err)
}

func account(r *http.Request) session.Account {
	acct, _ := session.FromContext(r.Context())
	return acct
}

func customerOf(acct session.Account) (string, error) {
	if acct.CustomerID == "" {
		return "", fmt.Errorf("%w: no customer for caller", stripeapp.ErrValidation)
	}
	return acct.CustomerID, nil
}

func (h handlers) service() (stripeapp.Service, error) {
	if h.deps.Service == nil {
		return nil, errNotConfigured
	}
	return h.deps.Service, nil
}

// persist runs a store write after a successful processor call. Failures are
// logged only: the processor already holds the truth.
func (h handlers) persist(userID, what string, fn func(session.Store) error) {
	if h.deps.Store == nil || userID == "" {
		return
	}
	if err := fn(h.deps.Store); err != nil {
		slog.Error("failed to persist billing account", "what", what, "err", err)
	}
}

func (h handlers) registerUser(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	const msg = "An error occurred"
	svc, err := h.service()
	if err != nil {
		failBadRequest(w, "register user", err, messageResponse{msg})
		return
	}
	var req registerRequest
	if err := decode(r, &req); err != nil {
		failBadRequest(w, "register user", err, messageResponse{msg})
		return
	}
	cust, err := svc.CreateCustomer(r.Context(), stripeapp.CreateCustomerRequest{Name: req.Name, Email: req.Email, Phone: req.Phone})
	if err != nil {
		failBadRequest(w, "register user", err, messageResponse{msg})
		return
	}
	acct := account(r)
	slog.Info("customer created", "customer_id", cust.ID)
	h.persist(acct.UserExternalID, "customer", func(s session.Store) error {
		return s.SaveCustomer(r.Context(), acct.UserExternalID, cust.ID)
	})
	writeJSON(w, http.StatusOK, messageResponse{"Customer created"})
}

func (h handlers) attachPaymentMethod(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	const msg = "Could not attach method"
	svc, err := h.service()
	if err != nil {
		failBadRequest(w, "attach payment method", err, messageResponse{msg})
		return
	}
	var req attachRequest
	if err := decode(r, &req); err != nil {
		failBadRequest(w, "attach payment method", err, messageResponse{msg})
		return
	}
	customerID, err := customerOf(account(r))
	if err != nil {
		failBadRequest(w, "attach payment method", err, messageResponse{msg})
		return
	}
	if _, err := svc.AttachPaymentMethod(r.Context(), string(req.PaymentMethod), customerID); err != nil {
		failBadRequest(w, "attach payment method", err, messageResponse{msg})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{"Payment method attached successfully"})
}

func (h handlers) listPaymentMethods(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	const msg = "Could not get payment methods"
	svc, err := h.service()
	if err != nil {
		fail(w, "list payment methods", err, msg)
		return
	}
	customerID, err := customerOf(account(r))
	if err != nil {
		fail(w, "list payment methods", err, msg)
		return
	}
	methods, err := svc.ListPaymentMethods(r.Context(), customerID)
	if err != nil {
		fail(w, "list payment methods", err, msg)
		return
	}
	writeJSON(w, http.StatusOK, methods)
}

func (h handlers) createPayment(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	const msg = "Could not create payment"
	svc, err := h.service()
	if err != nil {
		fail(w, "create payment", err, msg)
		return
	}
	var req createPaymentRequest
	if err := decode(r, &req); err != nil {
		fail(w, "create payment", err, msg)
		return
	}
	acct := account(r)
	customerID, err := customerOf(acct)
	if err != nil {
		fail(w, "create payment", err, msg)
		return
	}
	asSubscription := h.deps.Charge.AsSubscription
	if req.Subscription != nil {
		asSubscription = *req.Subscription
	}

	res, err := svc.CreateCharge(r.Context(), stripeapp.ChargeRequest{
		Amount:          h.deps.Charge.Amount,
		Currency:        h.deps.Charge.Currency,
		CustomerID:      customerID,
		PaymentMethodID: string(req.PaymentMethod),
		Subscription:    asSubscription,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		fail(w, "create payment", err, msg)
		return
	}
	if res.Kind == stripeapp.ChargeKindSubscription {
		sub := res.Subscription
		h.persist(acct.UserExternalID, "subscription", func(s session.Store) error {
			return s.SaveSubscription(r.Context(), acct.UserExternalID, sub.ID, firstItemID(sub))
		})
	}
	w.Header().Set(IdempotencyHeader, res.IdempotencyKey)
	writeJSON(w, http.StatusOK, res)
}

func firstItemID(sub stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return ""
	}
	return sub.Items.Data[0].ID
}

func (h handlers) confirmPayment(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	const msg = "Could not confirm payment"
	svc, err := h.service()
	if err != nil {
		fail(w, "confirm payment", err, msg)
		return
	}
	var req confirmRequest
	if err := decode(r, &req); err != nil {
		fail(w, "confirm payment", err, msg)
		return
	}
	pi, err := svc.ConfirmCharge(r.Context(), req.PaymentIntent, string(req.PaymentMethod))
	if err != nil {
		fail(w, "confirm payment", err, msg)
		return
	}
	writeJSON(w, http.StatusOK, pi)
}

func (h handlers) cancelSubscription(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	const msg = "Could not cancel subscription"
	svc, err := h.service()
	if err != nil {
		fail(w, "cancel subscription", err, msg)
		return
	}
	acct := account(r)
	subscriptionID := acct.SubscriptionID
	if subscriptionID == "" {
		// a retry after a cancel that already went through
		subscriptionID = acct.CanceledSubscriptionID
	}
	sub, err := svc.CancelSubscription(r.Context(), subscriptionID)
	if err != nil {
		fail(w, "cancel subscription", err, msg)
		return
	}
	h.persist(acct.UserExternalID, "subscription", func(s session.Store) error {
		return s.ClearSubscription(r.Context(), acct.UserExternalID)
	})
	writeJSON(w, http.StatusOK, sub)
}

func (h handlers) updateSubscription(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	const msg = "Could not update subscription"
	svc, err := h.service()
	if err != nil {
		fail(w, "update subscription", err, msg)
		return
	}
	var req updateSubscriptionRequest
	if err := decode(r, &req); err != nil {
		fail(w, "update subscription", err, msg)
		return
	}
	acct := account(r)
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		itemID = acct.SubscriptionItemID
	}
	priceID := strings.TrimSpace(req.PriceID)
	if priceID == "" {
		priceID = h.deps.Charge.SubscriptionPriceID
	}
	sub, err := svc.UpdateSubscription(r.Context(), stripeapp.UpdateSubscriptionRequest{
		SubscriptionID: acct.SubscriptionID,
		ItemID:         itemID,
		PriceID:        priceID,
	})
	if err != nil {
		fail(w, "update subscription", err, msg)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h handlers) listInvoices(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	const msg = "Could not list invoices"
	svc, err := h.service()
	if err != nil {
		fail(w, "list invoices", err, msg)
		return
	}
	var req listInvoicesRequest
	if err := decode(r, &req); err != nil {
		fail(w, "list invoices", err, msg)
		return
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		if customerID, err = customerOf(account(r)); err != nil {
			fail(w, "list invoices", err, msg)
			return
		}
	}
	invoices, err := svc.ListInvoices(r.Context(), customerID)
	if err != nil {
		fail(w, "list invoices", err, msg)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

// receiveWebhook hands the body to the dispatcher byte for byte. Handlers run
// detached from the sender's connection and their failures never change the reply.
func (h handlers) receiveWebhook(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if h.deps.Dispatcher == nil {
		fail(w, "webhook", errNotConfigured, messageResponse{"Webhook not configured"})
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		fail(w, "webhook", fmt.Errorf("%w: read body: %v", stripeapp.ErrValidation, err), messageResponse{"Could not read webhook body"})
		return
	}

	event, err := h.deps.Dispatcher.Handle(context.WithoutCancel(r.Context()), payload, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		fail(w, "webhook", err, messageResponse{"Webhook signature verification failed"})
		return
	}
	slog.Debug("webhook acknowledged", "event_id", event.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h handlers) health(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
