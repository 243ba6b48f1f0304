package config

import (
	"log"
	"strings"
	"time"
)

const (
	// ProdDbId is the identifier for the production database
	ProdDbId = "old-cloud"

	DefaultChargeAmount      = 1000
	DefaultChargeCurrency    = "INR"
	DefaultChargeDescription = "Buy Product"
	DefaultKafkaTopic        = "stripe.invoice-events"

	// DefaultStripeTimeout bounds every remote call to the processor.
	DefaultStripeTimeout = 30 * time.Second
)

// zeroDecimalCurrencies are charged by Stripe in whole units.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// ToMinorUnits converts an amount in major units to the processor's minor units.
func ToMinorUnits(amount int64, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return amount
	}
	return amount * 100
}

// CheckNotProdDB aborts immediately if the configured database URL contains ProdDbId.
// This should be called at the start of any test that interacts with the database.
func CheckNotProdDB() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DatabaseURL is not configured")
	}
	if strings.Contains(cfg.DatabaseURL, ProdDbId) {
		log.Fatalf("Tests aborted: DatabaseURL contains production identifier %s", ProdDbId)
	}
}
