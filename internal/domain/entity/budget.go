package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetStatus is the lifecycle status of a budget
type BudgetStatus string

const (
	BudgetStatusActive    BudgetStatus = "ACTIVE"
	BudgetStatusDepleted  BudgetStatus = "DEPLETED"
	BudgetStatusExpired   BudgetStatus = "EXPIRED"
	BudgetStatusSuspended BudgetStatus = "SUSPENDED"
)

// String returns the string representation of the status
func (s BudgetStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the defined constants
func (s BudgetStatus) IsValid() bool {
	switch s {
	case BudgetStatusActive, BudgetStatusDepleted, BudgetStatusExpired, BudgetStatusSuspended:
		return true
	default:
		return false
	}
}

// Budget is a fiscal-year allocation for an organizational unit.
// AvailableAmount is only ever changed by the budget ledger.
type Budget struct {
	ID              string          `json:"id"`
	OrgUnitID       string          `json:"org_unit_id"`
	FiscalYear      int             `json:"fiscal_year"`
	Currency        string          `json:"currency"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	Status          BudgetStatus    `json:"status"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Clone returns a copy of the budget
func (b *Budget) Clone() *Budget {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// Consumed returns the amount already debited
func (b *Budget) Consumed() decimal.Decimal {
	return b.TotalAmount.Sub(b.AvailableAmount)
}

// Balanced reports whether 0 <= available <= total holds
func (b *Budget) Balanced() bool {
	return !b.AvailableAmount.IsNegative() && b.AvailableAmount.LessThanOrEqual(b.TotalAmount)
}
