package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	database "github.com/tbeaudouin05/stripe-facade/api/database"
	"github.com/tbeaudouin05/stripe-facade/api/session"
)

// ErrNoDatabase is returned when the store is used before database.Initialize.
var ErrNoDatabase = errors.New("database not initialized")

// BillingAccount is one row of billing_account.
type BillingAccount struct {
	UserExternalID               string
	StripeCustomerID             string
	StripeSubscriptionID         string
	StripeSubscriptionItemID     string
	StripeCanceledSubscriptionID string // last subscription cleared by ClearSubscription
	CreatedAt                    time.Time
	UpdatedAt                    time.Time
}

// HashUserID returns the hex SHA-256 of the external id, byte for byte.
// Raw identity-provider ids are never stored.
func HashUserID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func conn() (*sql.DB, error) {
	dbc := database.GetDB()
	if dbc == nil {
		return nil, ErrNoDatabase
	}
	return dbc, nil
}

// GetBillingAccount returns the account of the user or session.ErrNoAccount.
func GetBillingAccount(ctx context.Context, userExternalID string) (BillingAccount, error) {
	dbc, err := conn()
	if err != nil {
		return BillingAccount{}, err
	}
	var acct BillingAccount
	err = dbc.QueryRowContext(ctx, `
		SELECT user_external_id, stripe_customer_id, stripe_subscription_id, stripe_subscription_item_id, stripe_canceled_subscription_id, created_at, updated_at
		FROM billing_account WHERE user_external_id = $1`, HashUserID(userExternalID),
	).Scan(&acct.UserExternalID, &acct.StripeCustomerID, &acct.StripeSubscriptionID, &acct.StripeSubscriptionItemID, &acct.StripeCanceledSubscriptionID, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return BillingAccount{}, session.ErrNoAccount
	}
	if err != nil {
		return BillingAccount{}, fmt.Errorf("failed to get billing account: %w", err)
	}
	return acct, nil
}

// UpsertCustomer records the processor customer of the user, creating the account if needed.
func UpsertCustomer(ctx context.Context, userExternalID, customerID string) error {
	dbc, err := conn()
	if err != nil {
		return err
	}
	_, err = dbc.ExecContext(ctx, `
		INSERT INTO billing_account (user_external_id, stripe_customer_id)
		VALUES ($1, $2)
		ON CONFLICT (user_external_id) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id, updated_at = now()`,
		HashUserID(userExternalID), customerID)
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

// SetSubscription records the active subscription and its item.
func SetSubscription(ctx context.Context, userExternalID, subscriptionID, itemID string) error {
	dbc, err := conn()
	if err != nil {
		return err
	}
	_, err = dbc.ExecContext(ctx, `
		INSERT INTO billing_account (user_external_id, stripe_subscription_id, stripe_subscription_item_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_external_id) DO UPDATE
		SET stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		    stripe_subscription_item_id = EXCLUDED.stripe_subscription_item_id,
		    updated_at = now()`,
		HashUserID(userExternalID), subscriptionID, itemID)
	if err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return nil
}

// ClearSubscription forgets the active subscription of the user and keeps it as the
// last cancelled one. A missing account is not an error.
func ClearSubscription(ctx context.Context, userExternalID string) error {
	dbc, err := conn()
	if err != nil {
		return err
	}
	_, err = dbc.ExecContext(ctx, `
		UPDATE billing_account
		SET stripe_canceled_subscription_id = CASE
		        WHEN stripe_subscription_id <> '' THEN stripe_subscription_id
		        ELSE stripe_canceled_subscription_id
		    END,
		    stripe_subscription_id = '',
		    stripe_subscription_item_id = '',
		    updated_at = now()
		WHERE user_external_id = $1`, HashUserID(userExternalID))
	if err != nil {
		return fmt.Errorf("failed to clear subscription: %w", err)
	}
	return nil
}

// Store exposes billing_account as a session.Store.
type Store struct{}

func NewStore() Store { return Store{} }

func (Store) Lookup(ctx context.Context, userID string) (session.Account, error) {
	if userID == "" {
		return session.Account{}, session.ErrNoAccount
	}
	acct, err := GetBillingAccount(ctx, userID)
	if err != nil {
		return session.Account{}, err
	}
	return session.Account{
		UserExternalID:         userID,
		CustomerID:             acct.StripeCustomerID,
		SubscriptionID:         acct.StripeSubscriptionID,
		SubscriptionItemID:     acct.StripeSubscriptionItemID,
		CanceledSubscriptionID: acct.StripeCanceledSubscriptionID,
	}, nil
}

func (Store) SaveCustomer(ctx context.Context, userID, customerID string) error {
	return UpsertCustomer(ctx, userID, customerID)
}

func (Store) SaveSubscription(ctx context.Context, userID, subscriptionID, itemID string) error {
	return SetSubscription(ctx, userID, subscriptionID, itemID)
}

func (Store) ClearSubscription(ctx context.Context, userID string) error {
	return ClearSubscription(ctx, userID)
}
