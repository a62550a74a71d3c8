// Package money converts parsed decimal amounts to integer minor units and
// back, using ISO-4217 currency data from go-money.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	JPY = "JPY" // no minor units
)

var (
	ErrUnknownCurrency = errors.New("unknown currency code")
	ErrOverflow        = errors.New("amount does not fit in minor units")
	ErrCurrencyMatch   = errors.New("currencies do not match")
)

// Money is an amount in minor units of a currency.
type Money struct {
	m *money.Money
}

// New creates Money from minor units (cents for USD, yen for JPY).
func New(amountMinor int64, currencyCode string) *Money {
	return &Money{m: money.New(amountMinor, strings.ToUpper(currencyCode))}
}

// IsKnownCurrency reports whether code is an ISO-4217 code known to go-money.
func IsKnownCurrency(code string) bool {
	return money.GetCurrency(strings.ToUpper(code)) != nil
}

// NewFromDecimal converts a decimal amount, rounding half away from zero to
// the currency's minor unit. Unknown currencies and amounts outside the
// int64 range are rejected.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) (*Money, error) {
	code := strings.ToUpper(currencyCode)
	currency := money.GetCurrency(code)
	if currency == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCurrency, currencyCode)
	}

	minor := amount.Shift(int32(currency.Fraction)).Round(0)
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || minor.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, amount)
	}
	return New(minor.IntPart(), code), nil
}

// Amount returns the amount in minor units
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// Add returns m + other. Both must share a currency.
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || other == nil {
		return nil, errors.New("cannot add nil money")
	}
	sum, err := m.m.Add(other.m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s and %s", ErrCurrencyMatch, m.Currency(), other.Currency())
	}
	return &Money{m: sum}, nil
}

// Display returns a formatted string such as "$1,234.56".
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Display()
}

// String returns the amount as a fixed-point decimal string ("1234.56").
func (m *Money) String() string {
	if m == nil || m.m == nil {
		return "0"
	}
	return m.ToDecimal().StringFixed(int32(m.m.Currency().Fraction))
}

// ToDecimal converts back to major units.
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	return decimal.New(m.m.Amount(), -int32(m.m.Currency().Fraction))
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Minor    int64  `json:"amountMinor"`
	Currency string `json:"currency"`
}

func (m *Money) MarshalJSON() ([]byte, error) {
	if m == nil || m.m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(moneyJSON{Amount: m.String(), Minor: m.Amount(), Currency: m.Currency()})
}
