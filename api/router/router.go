package router

import (
	"log/slog"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	bootstrap "github.com/tbeaudouin05/stripe-facade/api/bootstrap"
	"github.com/tbeaudouin05/stripe-facade/api/config"
	"github.com/tbeaudouin05/stripe-facade/api/metrics"
	stripeapp "github.com/tbeaudouin05/stripe-facade/api/services/stripe/app"
	"github.com/tbeaudouin05/stripe-facade/api/services/stripe/webhook"
	"github.com/tbeaudouin05/stripe-facade/api/session"
)

// ChargeDefaults are the server-side purchase terms. Clients never choose the amount.
type ChargeDefaults struct {
	// Amount is in minor units of Currency.
	Amount         int64
	Currency       string
	AsSubscription bool
	// SubscriptionPriceID is the target price of /update/subscription when the body has none.
	SubscriptionPriceID string
}

// Deps are the collaborators served by the router.
type Deps struct {
	Service    stripeapp.Service
	Dispatcher *webhook.Dispatcher
	Store      session.Store
	Charge     ChargeDefaults
}

type route struct {
	method  string
	path    string
	handler runtime.HandlerFunc
}

// NewRouter returns the central HTTP router wired from bootstrap.
func NewRouter() http.Handler {
	// Initialize app dependencies (non-fatal if it fails here; handlers answer 500 without a service).
	if err := bootstrap.Ensure(); err != nil {
		slog.Error("bootstrap ensure failed", "err", err)
	}
	d := Deps{
		Service:    bootstrap.GetStripeService(),
		Dispatcher: bootstrap.GetDispatcher(),
		Store:      bootstrap.GetAccountStore(),
	}
	if cfg := config.AppConfig; cfg != nil {
		d.Charge = ChargeDefaults{
			Amount:              cfg.ChargeAmountMinor(),
			Currency:            cfg.ChargeCurrency,
			AsSubscription:      cfg.ChargeAsSubscription,
			SubscriptionPriceID: cfg.SubscriptionPriceID,
		}
	}
	return New(d)
}

// New registers every route on a grpc-gateway ServeMux and wraps it with the
// session, metrics and logging middleware.
func New(d Deps) http.Handler {
	h := handlers{deps: d}
	mux := runtime.NewServeMux()

	routes := []route{
		{http.MethodPost, "/user/register", h.registerUser},
		{http.MethodPost, "/payment/method/attach", h.attachPaymentMethod},
		{http.MethodGet, "/payment/methods", h.listPaymentMethods},
		{http.MethodPost, "/payment/create", h.createPayment},
		{http.MethodPost, "/payment/confirm", h.confirmPayment},
		{http.MethodPost, "/cancel/subscription", h.cancelSubscription},
		{http.MethodPost, "/update/subscription", h.updateSubscription},
		{http.MethodPost, "/list/invoices", h.listInvoices},
		{http.MethodPost, "/webhook", h.receiveWebhook},
		{http.MethodGet, "/healthz", h.health},
		{http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			metrics.Handler().ServeHTTP(w, r)
		}},
	}
	known := make(map[string]bool, len(routes))
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.handler); err != nil {
			slog.Error("failed to register route", "method", rt.method, "path", rt.path, "err", err)
			continue
		}
		known[rt.path] = true
	}

	return logRequests(known, session.Middleware(d.Store)(mux))
}
