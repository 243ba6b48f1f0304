package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds the global application configuration
var AppConfig *Config

// Config holds the application configuration
type Config struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	// Optional: overrides the Stripe API base URL (stripe-mock, tests)
	StripeAPIURL     string
	StripeTimeoutRaw string
	StripeRetriesRaw string

	// Optional: enables the Postgres-backed billing account store
	DatabaseURL string

	// Charge defaults. The amount is expressed in major units of ChargeCurrency.
	ChargeAmountRaw         string
	ChargeCurrency          string
	ChargeDescription       string
	ChargeAsSubscriptionRaw string

	// Price and coupon identifiers
	OnetimePriceID       string
	SubscriptionCouponID string
	SubscriptionPriceID  string

	// Development fallback for the session collaborator when no database is configured
	CustomerID         string
	SubscriptionID     string
	SubscriptionItemID string

	// Optional event fan-out
	KafkaBrokersRaw string
	KafkaTopic      string

	// Optional: base URL for running remote HTTP integration tests (e.g., https://api.example.com)
	IntegrationBaseURL string
	// Server ports
	HTTPPort string
	GRPCPort string
	LogLevel string

	// Parsed values
	StripeTimeout        time.Duration
	StripeMaxRetries     int64
	ChargeAmount         int64
	ChargeAsSubscription bool
	KafkaBrokers         []string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{}

	// Try to load .env file from current directory and parent directories
	currentDir, _ := os.Getwd()
	for currentDir != "/" && currentDir != "." {
		envPath := filepath.Join(currentDir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			err = godotenv.Load(envPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load .env file: %v", err)
			}
			break
		}
		currentDir = filepath.Dir(currentDir)
	}

	vars := []struct {
		name     string
		envVar   string
		display  string
		required bool
	}{
		{"StripeSecretKey", "STRIPE_SECRET_KEY", "Stripe Secret Key", true},
		{"StripeWebhookSecret", "STRIPE_WEBHOOK_SECRET", "Stripe Webhook Secret", true},
		{"StripeAPIURL", "STRIPE_API_URL", "Stripe API URL", false},
		{"StripeTimeoutRaw", "STRIPE_TIMEOUT", "Stripe Timeout", false},
		{"StripeRetriesRaw", "STRIPE_MAX_RETRIES", "Stripe Max Retries", false},
		{"DatabaseURL", "DATABASE_URL", "Database URL", false},
		{"ChargeAmountRaw", "CHARGE_AMOUNT", "Charge Amount", false},
		{"ChargeCurrency", "CHARGE_CURRENCY", "Charge Currency", false},
		{"ChargeDescription", "CHARGE_DESCRIPTION", "Charge Description", false},
		{"ChargeAsSubscriptionRaw", "CHARGE_AS_SUBSCRIPTION", "Charge As Subscription", false},
		{"OnetimePriceID", "ONETIME_PRICE_ID", "One-time Price ID", false},
		{"SubscriptionCouponID", "SUBSCRIPTION_COUPON_ID", "Subscription Coupon ID", false},
		{"SubscriptionPriceID", "SUBSCRIPTION_PRICE_ID", "Subscription Price ID", false},
		{"CustomerID", "CUSTOMER_ID", "Customer ID", false},
		{"SubscriptionID", "SUBSCRIPTION_ID", "Subscription ID", false},
		{"SubscriptionItemID", "SUBSCRIPTION_ITEM_ID", "Subscription Item ID", false},
		{"KafkaBrokersRaw", "KAFKA_BROKERS", "Kafka Brokers", false},
		{"KafkaTopic", "KAFKA_TOPIC", "Kafka Topic", false},
		{"IntegrationBaseURL", "INTEGRATION_BASE_URL", "Integration Base URL", false},
		{"HTTPPort", "PORT", "HTTP Port", false},
		{"GRPCPort", "GRPC_PORT", "gRPC Port", false},
		{"LogLevel", "LOG_LEVEL", "Log Level", false},
	}

	for _, v := range vars {
		value := strings.TrimSpace(os.Getenv(v.envVar))
		if v.required && value == "" {
			return nil, fmt.Errorf("missing required environment variable: %s", v.display)
		}
		configField := reflect.ValueOf(config).Elem().FieldByName(v.name)
		configField.SetString(value)
	}

	// Defaults
	if config.HTTPPort == "" {
		config.HTTPPort = "5000"
	}
	if config.GRPCPort == "" {
		config.GRPCPort = "50051"
	}
	if config.ChargeCurrency == "" {
		config.ChargeCurrency = DefaultChargeCurrency
	}
	config.ChargeCurrency = strings.ToUpper(config.ChargeCurrency)
	if config.ChargeDescription == "" {
		config.ChargeDescription = DefaultChargeDescription
	}
	if config.KafkaTopic == "" {
		config.KafkaTopic = DefaultKafkaTopic
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	if err := config.parse(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) parse() error {
	c.StripeTimeout = DefaultStripeTimeout
	if c.StripeTimeoutRaw != "" {
		d, err := time.ParseDuration(c.StripeTimeoutRaw)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid STRIPE_TIMEOUT %q", c.StripeTimeoutRaw)
		}
		c.StripeTimeout = d
	}

	if c.StripeRetriesRaw != "" {
		n, err := strconv.ParseInt(c.StripeRetriesRaw, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid STRIPE_MAX_RETRIES %q", c.StripeRetriesRaw)
		}
		c.StripeMaxRetries = n
	}

	c.ChargeAmount = DefaultChargeAmount
	if c.ChargeAmountRaw != "" {
		n, err := strconv.ParseInt(c.ChargeAmountRaw, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid CHARGE_AMOUNT %q", c.ChargeAmountRaw)
		}
		c.ChargeAmount = n
	}

	if c.ChargeAsSubscriptionRaw != "" {
		b, err := strconv.ParseBool(c.ChargeAsSubscriptionRaw)
		if err != nil {
			return fmt.Errorf("invalid CHARGE_AS_SUBSCRIPTION %q", c.ChargeAsSubscriptionRaw)
		}
		c.ChargeAsSubscription = b
	}

	c.KafkaBrokers = nil
	for _, b := range strings.Split(c.KafkaBrokersRaw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			c.KafkaBrokers = append(c.KafkaBrokers, b)
		}
	}
	return nil
}

// ChargeAmountMinor returns the configured charge amount in minor units of ChargeCurrency.
func (c *Config) ChargeAmountMinor() int64 {
	return ToMinorUnits(c.ChargeAmount, c.ChargeCurrency)
}
