package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)
	for _, k := range []string{"PORT", "GRPC_PORT", "CHARGE_AMOUNT", "CHARGE_CURRENCY", "STRIPE_TIMEOUT", "KAFKA_BROKERS", "CHARGE_AS_SUBSCRIPTION"} {
		t.Setenv(k, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "5000", cfg.HTTPPort)
	assert.Equal(t, "50051", cfg.GRPCPort)
	assert.Equal(t, "INR", cfg.ChargeCurrency)
	assert.Equal(t, int64(1000), cfg.ChargeAmount)
	assert.Equal(t, int64(100000), cfg.ChargeAmountMinor())
	assert.Equal(t, DefaultStripeTimeout, cfg.StripeTimeout)
	assert.False(t, cfg.ChargeAsSubscription)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_ParsesOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("STRIPE_TIMEOUT", "5s")
	t.Setenv("STRIPE_MAX_RETRIES", "2")
	t.Setenv("CHARGE_AMOUNT", "250")
	t.Setenv("CHARGE_CURRENCY", "jpy")
	t.Setenv("CHARGE_AS_SUBSCRIPTION", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.StripeTimeout)
	assert.Equal(t, int64(2), cfg.StripeMaxRetries)
	assert.Equal(t, "JPY", cfg.ChargeCurrency)
	assert.Equal(t, int64(250), cfg.ChargeAmountMinor())
	assert.True(t, cfg.ChargeAsSubscription)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoadConfig_RejectsBadAmount(t *testing.T) {
	setRequired(t)
	t.Setenv("CHARGE_AMOUNT", "-3")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(100000), ToMinorUnits(1000, "INR"))
	assert.Equal(t, int64(1999), ToMinorUnits(1999, "krw"))
	assert.Equal(t, int64(500), ToMinorUnits(5, "usd"))
}
