// Package money provides currency-safe decimal arithmetic for the student
// ledger. All amounts are decimals; floats never touch monetary state.
package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/linguaops/lingua-ops-api/internal/models"
)

// Converter converts native-currency amounts to EUR using a snapshot rate
// injected at construction. There is no process-global rate.
type Converter struct {
	inrPerEur decimal.Decimal
}

// NewConverter builds a converter from the configured INR-per-EUR rate.
func NewConverter(inrPerEur decimal.Decimal) (*Converter, error) {
	if inrPerEur.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("inr per eur rate must be positive, got %s", inrPerEur)
	}
	return &Converter{inrPerEur: inrPerEur}, nil
}

// ToEur converts an amount in the given currency to EUR. EUR amounts pass
// through unchanged.
func (c *Converter) ToEur(amount decimal.Decimal, currency models.Currency) (decimal.Decimal, error) {
	switch currency {
	case models.CurrencyEUR:
		return amount, nil
	case models.CurrencyINR:
		return amount.Div(c.inrPerEur), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported currency %q", currency)
	}
}

// Rate returns the snapshot rate applied for the currency, nil for EUR. The
// returned value is what gets stamped as exchange_rate_used.
func (c *Converter) Rate(currency models.Currency) *decimal.Decimal {
	if currency == models.CurrencyEUR {
		return nil
	}
	rate := c.inrPerEur
	return &rate
}

// RoundAmount rounds a monetary amount to 2 decimals for presentation.
// Internal ledger state stays unrounded.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// RoundPercent rounds a percentage to 1 decimal for presentation.
func RoundPercent(p float64) float64 {
	return math.Round(p*10) / 10
}
