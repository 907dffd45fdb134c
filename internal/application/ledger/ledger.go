// Package ledger maintains budget balances under concurrent debits using
// two-phase reservations and version compare-and-swap.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/procurement-lifecycle/internal/application/port"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
)

// DefaultMaxAttempts bounds compare-and-swap retries
const DefaultMaxAttempts = 3

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Reservation is a tentative debit held in memory until it is committed or released
type Reservation struct {
	Token    string
	BudgetID string
	Amount   entity.Money

	// snapshot of the budget the reservation was checked against
	budget *entity.Budget
}

// Ledger is the only writer of Budget.AvailableAmount
type Ledger struct {
	budgets     port.BudgetStore
	logger      Logger
	maxAttempts int
	now         func() time.Time

	mu    sync.Mutex
	holds map[string]*Reservation
	held  map[string]decimal.Decimal
}

// Option configures a Ledger
type Option func(*Ledger)

// WithLogger sets the ledger logger
func WithLogger(l Logger) Option {
	return func(lg *Ledger) {
		lg.logger = l
	}
}

// WithMaxAttempts sets the compare-and-swap retry bound
func WithMaxAttempts(n int) Option {
	return func(lg *Ledger) {
		if n > 0 {
			lg.maxAttempts = n
		}
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) {
		lg.now = now
	}
}

// New creates a ledger over the given budget store
func New(budgets port.BudgetStore, opts ...Option) *Ledger {
	l := &Ledger{
		budgets:     budgets,
		logger:      nopLogger{},
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		holds:       make(map[string]*Reservation),
		held:        make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve places a hold on amount. It fails when the budget cannot cover the amount
// on top of holds already placed by this process against the same budget version.
func (l *Ledger) Reserve(ctx context.Context, budgetID string, amount entity.Money) (*Reservation, error) {
	if !amount.Amount.IsPositive() {
		return nil, failure.InvalidRequest("reservation amount must be positive, got %s", amount.Amount)
	}

	b, err := l.budgets.GetBudget(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	if err := usable(b, amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	free := b.AvailableAmount.Sub(l.pending(b))
	if amount.Amount.GreaterThan(free) {
		l.logger.Info("Reservation refused",
			"budget_id", budgetID,
			"requested", amount.Amount.String(),
			"free", free.String())
		return nil, failure.InsufficientFunds(budgetID, amount.Amount, decimal.Max(free, decimal.Zero))
	}

	res := &Reservation{
		Token:    uuid.New().String(),
		BudgetID: budgetID,
		Amount:   amount,
		budget:   b,
	}
	l.holds[res.Token] = res
	l.held[budgetID] = l.held[budgetID].Add(amount.Amount)
	return res, nil
}

// Stage returns the budget write that turns res into a permanent debit,
// for inclusion in an atomic store commit. The hold stays until Settle or Release.
func (l *Ledger) Stage(res *Reservation) (port.BudgetWrite, error) {
	if !l.holding(res) {
		return port.BudgetWrite{}, failure.InvalidRequest("reservation %s is not held", res.Token)
	}
	return debit(res.budget, res.Amount.Amount, l.now())
}

// Settle drops the hold after its staged debit has been committed
func (l *Ledger) Settle(res *Reservation) {
	l.drop(res)
}

// Release cancels a reservation without debiting
func (l *Ledger) Release(res *Reservation) {
	if res == nil {
		return
	}
	l.drop(res)
}

// Commit converts a reservation into a permanent debit on its own, retrying lost
// compare-and-swaps against fresh balances.
func (l *Ledger) Commit(ctx context.Context, res *Reservation) (*entity.Budget, error) {
	if !l.holding(res) {
		return nil, failure.InvalidRequest("reservation %s is not held", res.Token)
	}
	defer l.drop(res)

	return l.retry(ctx, res.BudgetID, func(b *entity.Budget) (port.BudgetWrite, error) {
		if err := usable(b, res.Amount); err != nil {
			return port.BudgetWrite{}, err
		}
		return debit(b, res.Amount.Amount, l.now())
	})
}

// StageCredit returns the budget write that reverses a prior debit
func (l *Ledger) StageCredit(ctx context.Context, budgetID string, amount entity.Money) (port.BudgetWrite, error) {
	b, err := l.budgets.GetBudget(ctx, budgetID)
	if err != nil {
		return port.BudgetWrite{}, err
	}
	return credit(b, amount, l.now())
}

// Credit reverses a prior debit on its own, with bounded retries
func (l *Ledger) Credit(ctx context.Context, budgetID string, amount entity.Money) (*entity.Budget, error) {
	return l.retry(ctx, budgetID, func(b *entity.Budget) (port.BudgetWrite, error) {
		return credit(b, amount, l.now())
	})
}

// MarkExpired moves a budget to EXPIRED. Expiring an expired budget is a no-op.
func (l *Ledger) MarkExpired(ctx context.Context, budgetID string) (*entity.Budget, error) {
	b, err := l.retry(ctx, budgetID, func(b *entity.Budget) (port.BudgetWrite, error) {
		if b.Status == entity.BudgetStatusExpired {
			return port.BudgetWrite{}, errUnchanged
		}
		next := b.Clone()
		next.Status = entity.BudgetStatusExpired
		next.Version = b.Version + 1
		next.UpdatedAt = l.now()
		return port.BudgetWrite{Budget: next, ExpectedVersion: b.Version}, nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("Budget expired", "budget_id", budgetID, "fiscal_year", b.FiscalYear)
	return b, nil
}

// Available returns the stored balance minus holds placed by this process on its current version
func (l *Ledger) Available(ctx context.Context, budgetID string) (decimal.Decimal, error) {
	b, err := l.budgets.GetBudget(ctx, budgetID)
	if err != nil {
		return decimal.Zero, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return b.AvailableAmount.Sub(l.pending(b)), nil
}

// pending sums the holds checked against b's current version. A hold taken on an
// older version has either been committed, so b already reflects it, or will lose
// its compare-and-swap. Callers hold l.mu.
func (l *Ledger) pending(b *entity.Budget) decimal.Decimal {
	sum := decimal.Zero
	for _, res := range l.holds {
		if res.BudgetID == b.ID && res.budget.Version >= b.Version {
			sum = sum.Add(res.Amount.Amount)
		}
	}
	return sum
}

// Held returns the total held against budgetID
func (l *Ledger) Held(budgetID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[budgetID]
}

var errUnchanged = errors.New("budget unchanged")

func (l *Ledger) retry(ctx context.Context, budgetID string, build func(*entity.Budget) (port.BudgetWrite, error)) (*entity.Budget, error) {
	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		b, err := l.budgets.GetBudget(ctx, budgetID)
		if err != nil {
			return nil, err
		}
		w, err := build(b)
		if errors.Is(err, errUnchanged) {
			return b, nil
		}
		if err != nil {
			return nil, err
		}
		err = l.budgets.CompareAndSwapBudget(ctx, w.Budget, w.ExpectedVersion)
		if err == nil {
			return w.Budget, nil
		}
		if !failure.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		l.logger.Info("Budget write lost compare-and-swap, retrying",
			"budget_id", budgetID,
			"attempt", attempt)
	}
	return nil, fmt.Errorf("budget %s: %d attempts exhausted: %w", budgetID, l.maxAttempts, lastErr)
}

func (l *Ledger) holding(res *Reservation) bool {
	if res == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.holds[res.Token]
	return ok
}

func (l *Ledger) drop(res *Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.holds[res.Token]; !ok {
		return
	}
	delete(l.holds, res.Token)
	remaining := l.held[res.BudgetID].Sub(res.Amount.Amount)
	if remaining.IsPositive() {
		l.held[res.BudgetID] = remaining
	} else {
		delete(l.held, res.BudgetID)
	}
}

func usable(b *entity.Budget, amount entity.Money) error {
	switch b.Status {
	case entity.BudgetStatusExpired, entity.BudgetStatusSuspended:
		return failure.BudgetUnavailable("budget %s is %s", b.ID, b.Status)
	}
	if b.Currency != amount.Currency {
		return failure.InvalidRequest("budget %s is in %s, document is in %s", b.ID, b.Currency, amount.Currency)
	}
	return nil
}

func debit(b *entity.Budget, amount decimal.Decimal, now time.Time) (port.BudgetWrite, error) {
	if amount.GreaterThan(b.AvailableAmount) {
		return port.BudgetWrite{}, failure.InsufficientFunds(b.ID, amount, b.AvailableAmount)
	}
	next := b.Clone()
	next.AvailableAmount = b.AvailableAmount.Sub(amount)
	if next.AvailableAmount.IsZero() && next.Status == entity.BudgetStatusActive {
		next.Status = entity.BudgetStatusDepleted
	}
	next.Version = b.Version + 1
	next.UpdatedAt = now
	return port.BudgetWrite{Budget: next, ExpectedVersion: b.Version}, nil
}

func credit(b *entity.Budget, amount entity.Money, now time.Time) (port.BudgetWrite, error) {
	if !amount.Amount.IsPositive() {
		return port.BudgetWrite{}, failure.InvalidRequest("credit amount must be positive, got %s", amount.Amount)
	}
	if b.Currency != amount.Currency {
		return port.BudgetWrite{}, failure.InvalidRequest("budget %s is in %s, credit is in %s", b.ID, b.Currency, amount.Currency)
	}
	next := b.Clone()
	next.AvailableAmount = b.AvailableAmount.Add(amount.Amount)
	if next.AvailableAmount.GreaterThan(b.TotalAmount) {
		return port.BudgetWrite{}, failure.InvalidRequest("credit of %s would exceed budget %s total %s", amount.Amount, b.ID, b.TotalAmount)
	}
	if next.Status == entity.BudgetStatusDepleted && next.AvailableAmount.IsPositive() {
		next.Status = entity.BudgetStatusActive
	}
	next.Version = b.Version + 1
	next.UpdatedAt = now
	return port.BudgetWrite{Budget: next, ExpectedVersion: b.Version}, nil
}
