package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procurement-lifecycle/internal/application/port"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/persistence/memory"
)

func newBudget(t *testing.T, store *memory.Store, id string, total int64) {
	t.Helper()
	require.NoError(t, store.CreateBudget(context.Background(), &entity.Budget{
		ID:              id,
		OrgUnitID:       "ou-1",
		FiscalYear:      2026,
		Currency:        "EUR",
		TotalAmount:     decimal.NewFromInt(total),
		AvailableAmount: decimal.NewFromInt(total),
		Status:          entity.BudgetStatusActive,
	}))
}

func eur(v int64) entity.Money {
	return entity.Money{Amount: decimal.NewFromInt(v), Currency: "EUR"}
}

func available(t *testing.T, store *memory.Store, id string) decimal.Decimal {
	t.Helper()
	b, err := store.GetBudget(context.Background(), id)
	require.NoError(t, err)
	return b.AvailableAmount
}

func TestLedger_ReserveCommit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	newBudget(t, store, "B1", 10000)
	l := New(store)

	res, err := l.Reserve(ctx, "B1", eur(4000))
	require.NoError(t, err)
	assert.True(t, available(t, store, "B1").Equal(decimal.NewFromInt(10000)), "reserve must not touch the stored balance")

	free, err := l.Available(ctx, "B1")
	require.NoError(t, err)
	assert.True(t, free.Equal(decimal.NewFromInt(6000)))

	b, err := l.Commit(ctx, res)
	require.NoError(t, err)
	assert.True(t, b.AvailableAmount.Equal(decimal.NewFromInt(6000)))
	assert.True(t, l.Held("B1").IsZero())

	_, err = l.Commit(ctx, res)
	assert.True(t, errors.Is(err, failure.ErrInvalidRequest), "a settled reservation cannot be committed twice")
}

func TestLedger_ReserveHonoursHolds(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	newBudget(t, store, "B1", 10000)
	l := New(store)

	first, err := l.Reserve(ctx, "B1", eur(7000))
	require.NoError(t, err)

	_, err = l.Reserve(ctx, "B1", eur(4000))
	require.Error(t, err)
	shortfall, ok := failure.ShortfallOf(err)
	require.True(t, ok)
	assert.True(t, shortfall.Equal(decimal.NewFromInt(1000)))

	l.Release(first)
	_, err = l.Reserve(ctx, "B1", eur(4000))
	assert.NoError(t, err)
}

func TestLedger_CommittedHoldNotCountedTwice(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	newBudget(t, store, "B1", 10000)
	l := New(store)

	first, err := l.Reserve(ctx, "B1", eur(4000))
	require.NoError(t, err)
	w, err := l.Stage(first)
	require.NoError(t, err)
	require.NoError(t, store.CommitAtomic(ctx, &port.CommitBatch{Budgets: []port.BudgetWrite{w}}))

	// the hold is still registered, but the stored balance already carries the debit
	assert.True(t, l.Held("B1").Equal(decimal.NewFromInt(4000)))
	free, err := l.Available(ctx, "B1")
	require.NoError(t, err)
	assert.True(t, free.Equal(decimal.NewFromInt(6000)))

	second, err := l.Reserve(ctx, "B1", eur(3000))
	require.NoError(t, err)

	_, err = l.Reserve(ctx, "B1", eur(3500))
	assert.True(t, errors.Is(err, failure.ErrInsufficientFunds), "holds on the current version still count")

	l.Settle(first)
	l.Release(second)
	assert.True(t, l.Held("B1").IsZero())
}

func TestLedger_InsufficientFundsLeavesBalance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	newBudget(t, store, "B1", 10000)
	l := New(store)

	res, err := l.Reserve(ctx, "B1", eur(4000))
	require.NoError(t, err)
	_, err = l.Commit(ctx, res)
	require.NoError(t, err)

	_, err = l.Reserve(ctx, "B1", eur(7000))
	assert.True(t, errors.Is(err, failure.ErrInsufficientFunds))
	assert.True(t, available(t, store, "B1").Equal(decimal.NewFromInt(6000)))
}

func TestLedger_DepletionAndCredit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	newBudget(t, store, "B1", 500)
	l := New(store)

	res, err := l.Reserve(ctx, "B1", eur(500))
	require.NoError(t, err)
	b, err := l.Commit(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, entity.BudgetStatusDepleted, b.Status)

	_, err = l.Reserve(ctx, "B1", eur(1))
	assert.True(t, errors.Is(err, failure.ErrInsufficientFunds))

	b, err = l.Credit(ctx, "B1", eur(200))
	require.NoError(t, err)
	assert.Equal(t, entity.BudgetStatusActive, b.Status)
	assert.True(t, b.AvailableAmount.Equal(decimal.NewFromInt(200)))

	_, err = l.Credit(ctx, "B1", eur(301))
	assert.True(t, errors.Is(err, failure.ErrInvalidRequest), "credit above total must be refused")
}

func TestLedger_Validation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	newBudget(t, store, "B1", 1000)
	l := New(store)

	tests := []struct {
		name    string
		budget  string
		amount  entity.Money
		wantErr error
	}{
		{"missing budget", "B9", eur(10), failure.ErrNotFound},
		{"zero amount", "B1", eur(0), failure.ErrInvalidRequest},
		{"negative amount", "B1", eur(-5), failure.ErrInvalidRequest},
		{"currency mismatch", "B1", entity.Money{Amount: decimal.NewFromInt(10), Currency: "USD"}, failure.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Reserve(ctx, tt.budget, tt.amount)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestLedger_MarkExpired(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	newBudget(t, store, "B1", 1000)
	l := New(store)

	b, err := l.MarkExpired(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, entity.BudgetStatusExpired, b.Status)
	version := b.Version

	b, err = l.MarkExpired(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, version, b.Version, "expiring twice must not write")

	_, err = l.Reserve(ctx, "B1", eur(10))
	assert.True(t, errors.Is(err, failure.ErrBudgetUnavailable))
}

// flakyStore loses the first n compare-and-swaps
type flakyStore struct {
	*memory.Store
	mu     sync.Mutex
	losses int
	calls  int
}

func (f *flakyStore) CompareAndSwapBudget(ctx context.Context, b *entity.Budget, expected int64) error {
	f.mu.Lock()
	f.calls++
	lose := f.losses > 0
	if lose {
		f.losses--
	}
	f.mu.Unlock()
	if lose {
		return failure.ConcurrentModification("budget %s", b.ID)
	}
	return f.Store.CompareAndSwapBudget(ctx, b, expected)
}

var _ port.BudgetStore = (*flakyStore)(nil)

func TestLedger_CommitRetriesLostSwaps(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.NewStore(), losses: 2}
	newBudget(t, store.Store, "B1", 1000)
	l := New(store)

	res, err := l.Reserve(ctx, "B1", eur(100))
	require.NoError(t, err)
	b, err := l.Commit(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)
	assert.True(t, b.AvailableAmount.Equal(decimal.NewFromInt(900)))
}

func TestLedger_CommitGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.NewStore(), losses: 10}
	newBudget(t, store.Store, "B1", 1000)
	l := New(store, WithMaxAttempts(3))

	res, err := l.Reserve(ctx, "B1", eur(100))
	require.NoError(t, err)
	_, err = l.Commit(ctx, res)
	assert.True(t, errors.Is(err, failure.ErrConcurrentModification))
	assert.Equal(t, 3, store.calls)
	assert.True(t, available(t, store.Store, "B1").Equal(decimal.NewFromInt(1000)))
	assert.True(t, l.Held("B1").IsZero(), "a failed commit must release its hold")
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	newBudget(t, store, "B1", 10000)
	l := New(store, WithMaxAttempts(50))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int64
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Reserve(ctx, "B1", eur(300))
			if err != nil {
				return
			}
			if _, err := l.Commit(ctx, res); err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	b, err := store.GetBudget(ctx, "B1")
	require.NoError(t, err)
	assert.True(t, b.Balanced(), "available %s outside [0, total]", b.AvailableAmount)
	assert.True(t, b.AvailableAmount.Equal(decimal.NewFromInt(10000-300*committed)))
	assert.LessOrEqual(t, committed, int64(33))
	assert.True(t, l.Held("B1").IsZero())
}
