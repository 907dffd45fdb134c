package entity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a decimal amount in a fixed currency
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney builds a Money value from a decimal string such as "1250.50"
func NewMoney(amount string, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

// MustMoney is NewMoney for literals known to be valid
func MustMoney(amount string, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// IsZero reports whether the amount is zero
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsNegative reports whether the amount is below zero
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

// Neg returns the amount with its sign flipped
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// SameCurrency reports whether both values share a currency
func (m Money) SameCurrency(o Money) bool {
	return m.Currency == o.Currency
}

// String renders the amount with two decimals followed by the currency
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}
