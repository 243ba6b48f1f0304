package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tbeaudouin05/stripe-facade/api/config"
	"github.com/tbeaudouin05/stripe-facade/api/database"
	stripeapp "github.com/tbeaudouin05/stripe-facade/api/services/stripe/app"
	stripedb "github.com/tbeaudouin05/stripe-facade/api/services/stripe/db"
	"github.com/tbeaudouin05/stripe-facade/api/services/stripe/events"
	stripegw "github.com/tbeaudouin05/stripe-facade/api/services/stripe/gateway/stripe"
	"github.com/tbeaudouin05/stripe-facade/api/services/stripe/webhook"
	"github.com/tbeaudouin05/stripe-facade/api/session"
)

var (
	stripeService stripeapp.Service
	dispatcher    *webhook.Dispatcher
	accountStore  session.Store
	publisher     events.Publisher

	initOnce sync.Once
	initErr  error
)

// Init loads config, opens optional collaborators (database, Kafka) and wires services.
// Anything already injected through a Set* function is kept.
func Init() error {
	var err error
	if config.AppConfig == nil {
		config.AppConfig, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := config.AppConfig

	if accountStore == nil {
		if cfg.DatabaseURL != "" {
			if err := database.Initialize(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			accountStore = stripedb.NewStore()
		} else {
			slog.Warn("DATABASE_URL not set, using static billing accounts from env")
			accountStore = session.NewStaticStore(session.Account{
				CustomerID:         cfg.CustomerID,
				SubscriptionID:     cfg.SubscriptionID,
				SubscriptionItemID: cfg.SubscriptionItemID,
			})
		}
	}

	if publisher == nil {
		publisher = events.Nop()
		if len(cfg.KafkaBrokers) > 0 {
			publisher, err = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
			if err != nil {
				return fmt.Errorf("failed to create event publisher: %w", err)
			}
		}
	}

	if stripeService == nil {
		gateway := stripegw.New(stripegw.Options{
			SecretKey:  cfg.StripeSecretKey,
			APIURL:     cfg.StripeAPIURL,
			Timeout:    cfg.StripeTimeout,
			MaxRetries: cfg.StripeMaxRetries,
		})
		stripeService = stripeapp.NewService(gateway, Settings(cfg))
	}

	if dispatcher == nil {
		dispatcher = webhook.NewDispatcher(webhook.NewVerifier(cfg.StripeWebhookSecret))
		webhook.RegisterInvoiceHandlers(dispatcher, publisher)
	}
	return nil
}

// Settings derives the façade settings from cfg. Subscription charges use the
// one-time price when set, else the subscription price.
func Settings(cfg *config.Config) stripeapp.Settings {
	plan := cfg.OnetimePriceID
	if plan == "" {
		plan = cfg.SubscriptionPriceID
	}
	return stripeapp.Settings{
		PlanPriceID:       plan,
		CouponID:          cfg.SubscriptionCouponID,
		ChargeDescription: cfg.ChargeDescription,
		Timeout:           cfg.StripeTimeout,
	}
}

func GetStripeService() stripeapp.Service { return stripeService }

// SetStripeService allows tests to inject a stub implementation.
func SetStripeService(s stripeapp.Service) { stripeService = s }

func GetDispatcher() *webhook.Dispatcher { return dispatcher }

func SetDispatcher(d *webhook.Dispatcher) { dispatcher = d }

func GetAccountStore() session.Store { return accountStore }

func SetAccountStore(s session.Store) { accountStore = s }

func SetPublisher(p events.Publisher) { publisher = p }

// Ensure runs Init() once per process and returns any initialization error.
func Ensure() error {
	initOnce.Do(func() {
		initErr = Init()
	})
	return initErr
}

// Shutdown flushes the event publisher and closes the database.
func Shutdown() error {
	var errs []error
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if err := database.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
