package router

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v76"

	stripeapp "github.com/tbeaudouin05/stripe-facade/api/services/stripe/app"
	"github.com/tbeaudouin05/stripe-facade/api/services/stripe/events"
	gw "github.com/tbeaudouin05/stripe-facade/api/services/stripe/gateway"
	mock_gateway "github.com/tbeaudouin05/stripe-facade/api/services/stripe/gateway/mock"
	"github.com/tbeaudouin05/stripe-facade/api/services/stripe/webhook"
	"github.com/tbeaudouin05/stripe-facade/api/session"
)

const (
	testWebhookSecret = "whsec_router_test"
	testUser          = "user-42"
)

type fixture struct {
	gw    *mock_gateway.MockStripeGateway
	store *session.StaticStore
	srv   *httptest.Server
}

func newFixture(t *testing.T, fallback session.Account) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := mock_gateway.NewMockStripeGateway(ctrl)
	svc := stripeapp.NewService(m, stripeapp.Settings{
		PlanPriceID:       "price_plan",
		CouponID:          "test",
		ChargeDescription: "Buy Product",
		Timeout:           time.Second,
	})
	d := webhook.NewDispatcher(webhook.NewVerifier(testWebhookSecret))
	webhook.RegisterInvoiceHandlers(d, events.Nop())
	store := session.NewStaticStore(fallback)

	srv := httptest.NewServer(New(Deps{
		Service:    svc,
		Dispatcher: d,
		Store:      store,
		Charge: ChargeDefaults{
			Amount:              100000,
			Currency:            "INR",
			SubscriptionPriceID: "price_configured",
		},
	}))
	t.Cleanup(srv.Close)
	return &fixture{gw: m, store: store, srv: srv}
}

func envAccount() session.Account {
	return session.Account{CustomerID: "cus_env", SubscriptionID: "sub_env", SubscriptionItemID: "si_env"}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(session.UserHeader, testUser)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestCreatePayment_EndToEnd(t *testing.T) {
	f := newFixture(t, envAccount())
	var got gw.PaymentIntentParams
	f.gw.EXPECT().CreatePaymentIntent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p gw.PaymentIntentParams) (stripe.PaymentIntent, error) {
			got = p
			return stripe.PaymentIntent{
				ID:       "pi_1",
				Amount:   p.Amount,
				Currency: stripe.Currency(strings.ToLower(p.Currency)),
				Status:   stripe.PaymentIntentStatusRequiresAction,
			}, nil
		})

	resp, body := f.do(t, http.MethodPost, "/payment/create", `{"paymentMethod":"pm_card"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	assert.Equal(t, int64(100000), got.Amount)
	assert.True(t, strings.EqualFold("INR", got.Currency))
	assert.Equal(t, "cus_env", got.CustomerID)
	assert.Equal(t, "pm_card", got.PaymentMethodID)
	assert.Equal(t, stripeapp.ThreeDSecureAny, got.ThreeDSecure)
	assert.NotEmpty(t, got.IdempotencyKey)
	assert.Equal(t, got.IdempotencyKey, resp.Header.Get(IdempotencyHeader))

	var pi map[string]any
	require.NoError(t, json.Unmarshal(body, &pi))
	assert.Equal(t, "pi_1", pi["id"])
	assert.EqualValues(t, 100000, pi["amount"])
	assert.Equal(t, "inr", pi["currency"])
}

func TestCreatePayment_ForwardsIdempotencyKey(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().CreatePaymentIntent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p gw.PaymentIntentParams) (stripe.PaymentIntent, error) {
			assert.Equal(t, "order-7", p.IdempotencyKey)
			return stripe.PaymentIntent{ID: "pi_7"}, nil
		})

	resp, _ := f.do(t, http.MethodPost, "/payment/create", `{"paymentMethod":{"id":"pm_obj"}}`, map[string]string{IdempotencyHeader: "order-7"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreatePayment_SubscriptionStoresItem(t *testing.T) {
	f := newFixture(t, session.Account{CustomerID: "cus_env"})
	f.gw.EXPECT().CreateSubscription(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p gw.SubscriptionParams) (stripe.Subscription, error) {
			assert.Equal(t, "price_plan", p.PriceID)
			assert.Equal(t, "test", p.CouponID)
			return stripe.Subscription{
				ID:     "sub_new",
				Status: stripe.SubscriptionStatusIncomplete,
				Items:  &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{ID: "si_new"}}},
			}, nil
		})

	resp, body := f.do(t, http.MethodPost, "/payment/create", `{"subscription":true}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var sub map[string]any
	require.NoError(t, json.Unmarshal(body, &sub))
	assert.Equal(t, "sub_new", sub["id"])

	acct, err := f.store.Lookup(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, "sub_new", acct.SubscriptionID)
	assert.Equal(t, "si_new", acct.SubscriptionItemID)
}

func TestCreatePayment_DeclineIsGeneric402(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().CreatePaymentIntent(gomock.Any(), gomock.Any()).
		Return(stripe.PaymentIntent{}, &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined, HTTPStatusCode: http.StatusPaymentRequired, Msg: "Your card was declined. req_secret"})

	resp, body := f.do(t, http.MethodPost, "/payment/create", `{"paymentMethod":"pm_card"}`, nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.JSONEq(t, `"Could not create payment"`, string(body))
	assert.NotContains(t, string(body), "req_secret")
}

func TestCreatePayment_NoCustomerIsValidationError(t *testing.T) {
	f := newFixture(t, session.Account{})
	resp, body := f.do(t, http.MethodPost, "/payment/create", `{"paymentMethod":"pm_card"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `"Could not create payment"`, string(body))
}

func TestCreatePayment_MalformedBody(t *testing.T) {
	f := newFixture(t, envAccount())
	resp, _ := f.do(t, http.MethodPost, "/payment/create", `{"paymentMethod":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateSubscription_EndToEnd(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().UpdateSubscriptionItem(gomock.Any(), gw.SubscriptionItemUpdate{
		SubscriptionID:    "sub_env",
		ItemID:            "si_env",
		PriceID:           "price_configured",
		ProrationBehavior: stripeapp.ProrationAlwaysInvoice,
	}).Return(stripe.Subscription{ID: "sub_env", Status: stripe.SubscriptionStatusActive}, nil)

	resp, body := f.do(t, http.MethodPost, "/update/subscription", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var sub map[string]any
	require.NoError(t, json.Unmarshal(body, &sub))
	assert.Equal(t, "sub_env", sub["id"])
}

func TestUpdateSubscription_BodyOverridesItemAndPrice(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().UpdateSubscriptionItem(gomock.Any(), gw.SubscriptionItemUpdate{
		SubscriptionID:    "sub_env",
		ItemID:            "si_other",
		PriceID:           "price_gold",
		ProrationBehavior: stripeapp.ProrationAlwaysInvoice,
	}).Return(stripe.Subscription{ID: "sub_env"}, nil)

	resp, _ := f.do(t, http.MethodPost, "/update/subscription", `{"itemId":"si_other","priceId":"price_gold"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateSubscription_MissingItemNeverCallsUpstream(t *testing.T) {
	f := newFixture(t, session.Account{CustomerID: "cus_env", SubscriptionID: "sub_env"})
	resp, body := f.do(t, http.MethodPost, "/update/subscription", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `"Could not update subscription"`, string(body))
}

func TestUpdateSubscription_UnknownSubscription(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().UpdateSubscriptionItem(gomock.Any(), gomock.Any()).
		Return(stripe.Subscription{}, &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: http.StatusNotFound})

	resp, _ := f.do(t, http.MethodPost, "/update/subscription", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegisterUser_StoresCustomer(t *testing.T) {
	f := newFixture(t, session.Account{})
	f.gw.EXPECT().CreateCustomer(gomock.Any(), gw.CustomerParams{Name: "Ada", Email: "ada@example.com", Phone: "+15555550100"}).
		Return(stripe.Customer{ID: "cus_ada"}, nil)

	resp, body := f.do(t, http.MethodPost, "/user/register", `{"email":"ada@example.com","name":"Ada","password":"hunter2","phone":"+15555550100"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Customer created"}`, string(body))

	acct, err := f.store.Lookup(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, "cus_ada", acct.CustomerID)
}

func TestRegisterUser_UpstreamFailureIsBadRequest(t *testing.T) {
	f := newFixture(t, session.Account{})
	f.gw.EXPECT().CreateCustomer(gomock.Any(), gomock.Any()).
		Return(stripe.Customer{}, &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusInternalServerError})

	resp, body := f.do(t, http.MethodPost, "/user/register", `{"email":"ada@example.com","name":"Ada","phone":"1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"message":"An error occurred"}`, string(body))
}

func TestRegisterUser_InvalidEmail(t *testing.T) {
	f := newFixture(t, session.Account{})
	resp, body := f.do(t, http.MethodPost, "/user/register", `{"email":"nope","name":"Ada","phone":"1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"message":"An error occurred"}`, string(body))
}

func TestAttachPaymentMethod_ObjectForm(t *testing.T) {
	f := newFixture(t, envAccount())
	gomock.InOrder(
		f.gw.EXPECT().AttachPaymentMethod(gomock.Any(), "pm_1", "cus_env").Return(stripe.PaymentMethod{ID: "pm_1"}, nil),
		f.gw.EXPECT().SetDefaultPaymentMethod(gomock.Any(), "cus_env", "pm_1").Return(stripe.Customer{ID: "cus_env"}, nil),
	)

	resp, body := f.do(t, http.MethodPost, "/payment/method/attach", `{"paymentMethod":{"id":"pm_1","type":"card"}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Payment method attached successfully"}`, string(body))
}

func TestAttachPaymentMethod_UnknownMethod(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().AttachPaymentMethod(gomock.Any(), "pm_missing", "cus_env").
		Return(stripe.PaymentMethod{}, &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: http.StatusNotFound})

	resp, body := f.do(t, http.MethodPost, "/payment/method/attach", `{"paymentMethod":"pm_missing"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Could not attach method"}`, string(body))
}

func TestAttachPaymentMethod_UpstreamFailureIsBadRequest(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().AttachPaymentMethod(gomock.Any(), "pm_1", "cus_env").
		Return(stripe.PaymentMethod{}, &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusInternalServerError})

	resp, body := f.do(t, http.MethodPost, "/payment/method/attach", `{"paymentMethod":"pm_1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Could not attach method"}`, string(body))
}

func TestListPaymentMethods_Empty(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().ListCardPaymentMethods(gomock.Any(), "cus_env").Return(nil, nil)

	resp, body := f.do(t, http.MethodGet, "/payment/methods", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestListPaymentMethods_UpstreamFailure(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().ListCardPaymentMethods(gomock.Any(), "cus_env").
		Return(nil, &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusInternalServerError})

	resp, body := f.do(t, http.MethodGet, "/payment/methods", "", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `"Could not get payment methods"`, string(body))
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().ConfirmPaymentIntent(gomock.Any(), "pi_1", "pm_1").
		Return(stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded}, nil)

	resp, body := f.do(t, http.MethodPost, "/payment/confirm", `{"paymentIntent":"pi_1","paymentMethod":"pm_1"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pi map[string]any
	require.NoError(t, json.Unmarshal(body, &pi))
	assert.Equal(t, "succeeded", pi["status"])
}

func TestConfirmPayment_Timeout(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().ConfirmPaymentIntent(gomock.Any(), "pi_1", "pm_1").Return(stripe.PaymentIntent{}, context.DeadlineExceeded)

	resp, body := f.do(t, http.MethodPost, "/payment/confirm", `{"paymentIntent":"pi_1","paymentMethod":"pm_1"}`, nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.JSONEq(t, `"Could not confirm payment"`, string(body))
}

func TestCancelSubscription_TwiceSucceeds(t *testing.T) {
	f := newFixture(t, envAccount())
	gomock.InOrder(
		f.gw.EXPECT().CancelSubscription(gomock.Any(), "sub_env").
			Return(stripe.Subscription{ID: "sub_env", Status: stripe.SubscriptionStatusCanceled}, nil),
		f.gw.EXPECT().CancelSubscription(gomock.Any(), "sub_env").
			Return(stripe.Subscription{}, &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: http.StatusNotFound}),
	)

	for i := 0; i < 2; i++ {
		resp, body := f.do(t, http.MethodPost, "/cancel/subscription", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "attempt %d: %s", i+1, body)
		var sub map[string]any
		require.NoError(t, json.Unmarshal(body, &sub))
		assert.Equal(t, "sub_env", sub["id"])
		assert.Equal(t, "canceled", sub["status"])
	}

	acct, err := f.store.Lookup(context.Background(), testUser)
	require.NoError(t, err)
	assert.Empty(t, acct.SubscriptionID)
	assert.Equal(t, "sub_env", acct.CanceledSubscriptionID)
}

func TestCancelSubscription_RetryAfterProcessorAlreadyCanceled(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().CancelSubscription(gomock.Any(), "sub_env").
		Return(stripe.Subscription{ID: "sub_env", Status: stripe.SubscriptionStatusCanceled}, nil).
		Times(2)

	first, _ := f.do(t, http.MethodPost, "/cancel/subscription", "", nil)
	require.Equal(t, http.StatusOK, first.StatusCode)
	second, body := f.do(t, http.MethodPost, "/cancel/subscription", "", nil)
	require.Equal(t, http.StatusOK, second.StatusCode, string(body))
}

func TestCancelSubscription_NoSubscription(t *testing.T) {
	f := newFixture(t, session.Account{CustomerID: "cus_env"})
	resp, _ := f.do(t, http.MethodPost, "/cancel/subscription", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListInvoices_BodyCustomer(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().ListInvoices(gomock.Any(), "cus_other").
		Return([]stripe.Invoice{{ID: "in_1"}, {ID: "in_2"}}, nil)

	resp, body := f.do(t, http.MethodPost, "/list/invoices", `{"customerId":"cus_other"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var invoices []map[string]any
	require.NoError(t, json.Unmarshal(body, &invoices))
	require.Len(t, invoices, 2)
	assert.Equal(t, "in_2", invoices[1]["id"])
}

func TestListInvoices_DefaultsToSessionCustomer(t *testing.T) {
	f := newFixture(t, envAccount())
	f.gw.EXPECT().ListInvoices(gomock.Any(), "cus_env").Return(nil, nil)

	resp, body := f.do(t, http.MethodPost, "/list/invoices", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestWebhook_Acknowledges(t *testing.T) {
	f := newFixture(t, session.Account{})
	for _, eventType := range []string{webhook.EventInvoicePaid, "customer.created"} {
		payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":{"id":"in_1","object":"invoice"}}}`, eventType))
		resp, body := f.do(t, http.MethodPost, "/webhook", string(payload), map[string]string{webhook.SignatureHeader: signPayload(payload, testWebhookSecret)})
		require.Equal(t, http.StatusOK, resp.StatusCode, eventType)
		assert.JSONEq(t, `{"received":true}`, string(body))
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t, session.Account{})
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{}}}`)

	resp, body := f.do(t, http.MethodPost, "/webhook", string(payload), map[string]string{webhook.SignatureHeader: signPayload(payload, "whsec_wrong")})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Webhook signature verification failed"}`, string(body))

	resp, _ = f.do(t, http.MethodPost, "/webhook", string(payload), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, session.Account{})
	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "stripe_facade_http_requests_total")
}

func TestMissingServiceAnswers500(t *testing.T) {
	srv := httptest.NewServer(New(Deps{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/payment/create", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
