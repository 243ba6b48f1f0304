package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// UserHeader carries the caller identity established by the upstream identity service.
const UserHeader = "X-User-Id"

// ErrNoAccount indicates the user has no billing account yet.
var ErrNoAccount = errors.New("no billing account")

// Account links a caller to their processor identifiers.
type Account struct {
	UserExternalID     string
	CustomerID         string
	SubscriptionID     string
	SubscriptionItemID string
	// CanceledSubscriptionID is the last subscription cancelled for the user.
	// A repeated cancel targets it.
	CanceledSubscriptionID string
}

// Store resolves and records billing accounts.
type Store interface {
	Lookup(ctx context.Context, userID string) (Account, error)
	SaveCustomer(ctx context.Context, userID, customerID string) error
	SaveSubscription(ctx context.Context, userID, subscriptionID, itemID string) error
	// ClearSubscription forgets the active subscription and remembers it as
	// the last cancelled one.
	ClearSubscription(ctx context.Context, userID string) error
}

type ctxKey struct{}

// WithAccount returns a copy of ctx carrying acct.
func WithAccount(ctx context.Context, acct Account) context.Context {
	return context.WithValue(ctx, ctxKey{}, acct)
}

// FromContext returns the account injected by Middleware.
func FromContext(ctx context.Context) (Account, bool) {
	acct, ok := ctx.Value(ctxKey{}).(Account)
	return acct, ok
}

// Middleware resolves the caller's account once per request. A missing header
// or an unknown user yields an account with only the identity set; store
// failures are logged and treated the same way so routes can still answer.
func Middleware(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserHeader))
			acct := Account{UserExternalID: userID}
			if store != nil {
				found, err := store.Lookup(r.Context(), userID)
				switch {
				case err == nil:
					acct = found
					acct.UserExternalID = userID
				case !errors.Is(err, ErrNoAccount):
					slog.Error("session lookup failed", "err", err)
				}
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acct)))
		})
	}
}

// StaticStore keeps accounts in memory and falls back to a fixed account for
// users it has not seen. It backs development setups without a database.
type StaticStore struct {
	fallback Account

	mu       sync.RWMutex
	accounts map[string]Account
}

func NewStaticStore(fallback Account) *StaticStore {
	return &StaticStore{fallback: fallback, accounts: map[string]Account{}}
}

func (s *StaticStore) Lookup(_ context.Context, userID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acct, ok := s.accounts[userID]; ok {
		return acct, nil
	}
	if s.fallback == (Account{}) {
		return Account{}, ErrNoAccount
	}
	acct := s.fallback
	acct.UserExternalID = userID
	return acct, nil
}

func (s *StaticStore) SaveCustomer(_ context.Context, userID, customerID string) error {
	s.update(userID, func(a *Account) { a.CustomerID = customerID })
	return nil
}

func (s *StaticStore) SaveSubscription(_ context.Context, userID, subscriptionID, itemID string) error {
	s.update(userID, func(a *Account) {
		a.SubscriptionID = subscriptionID
		a.SubscriptionItemID = itemID
	})
	return nil
}

func (s *StaticStore) ClearSubscription(_ context.Context, userID string) error {
	s.update(userID, func(a *Account) {
		if a.SubscriptionID != "" {
			a.CanceledSubscriptionID = a.SubscriptionID
		}
		a.SubscriptionID = ""
		a.SubscriptionItemID = ""
	})
	return nil
}

func (s *StaticStore) update(userID string, fn func(*Account)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok {
		acct = s.fallback
		acct.UserExternalID = userID
	}
	fn(&acct)
	s.accounts[userID] = acct
}
