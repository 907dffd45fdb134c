// Package storetest holds the behaviour every port.Store implementation must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procurement-lifecycle/internal/application/port"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	"github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

// Factory returns an empty store for one subtest
type Factory func(t *testing.T) port.Store

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the contract against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("get missing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("create and get", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("commit applies all writes", func(t *testing.T) { testCommitApplies(t, newStore(t)) })
	t.Run("stale version rejects whole batch", func(t *testing.T) { testStaleVersion(t, newStore(t)) })
	t.Run("duplicate record key", func(t *testing.T) { testDuplicateRecord(t, newStore(t)) })
	t.Run("create existing in batch", func(t *testing.T) { testCreateExisting(t, newStore(t)) })
	t.Run("budget compare and swap", func(t *testing.T) { testBudgetCAS(t, newStore(t)) })
	t.Run("list linked", func(t *testing.T) { testListLinked(t, newStore(t)) })
	t.Run("list overdue invoices", func(t *testing.T) { testListOverdue(t, newStore(t)) })
	t.Run("list expirable budgets", func(t *testing.T) { testListExpirable(t, newStore(t)) })
	t.Run("concurrent commits on one version", func(t *testing.T) { testConcurrentCommits(t, newStore(t)) })
}

func newEntity(id string, typ entity.Type, status workflow.State, created time.Time, links ...entity.Link) *entity.Entity {
	return &entity.Entity{
		ID:             id,
		Type:           typ,
		Status:         status,
		Amount:         entity.Money{Amount: decimal.RequireFromString("1250.50"), Currency: "EUR"},
		Links:          links,
		OwnerOrgUnitID: "ou-1",
		BudgetID:       "B1",
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func newBudget(id string, fiscalYear int, total int64) *entity.Budget {
	return &entity.Budget{
		ID:              id,
		OrgUnitID:       "ou-1",
		FiscalYear:      fiscalYear,
		Currency:        "EUR",
		TotalAmount:     decimal.NewFromInt(total),
		AvailableAmount: decimal.NewFromInt(total),
		Status:          entity.BudgetStatusActive,
		CreatedAt:       base,
		UpdatedAt:       base,
	}
}

func record(e *entity.Entity, trigger workflow.Trigger, from, to workflow.State, attempt string) *entity.TransitionRecord {
	return &entity.TransitionRecord{
		EntityID:    e.ID,
		EntityType:  e.Type,
		Transition:  trigger,
		FromStatus:  from,
		ToStatus:    to,
		ActorID:     "u-1",
		ActorRole:   "MANAGER",
		AttemptID:   attempt,
		BudgetDelta: decimal.Zero,
		Timestamp:   base,
	}
}

func advance(e *entity.Entity, to workflow.State) port.EntityWrite {
	next := e.Clone()
	next.Status = to
	next.Version = e.Version + 1
	next.UpdatedAt = base.Add(time.Minute)
	return port.EntityWrite{Entity: next, ExpectedVersion: e.Version}
}

func testGetMissing(t *testing.T, s port.Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "nope")
	assert.True(t, errors.Is(err, failure.ErrNotFound))
	_, err = s.GetBudget(ctx, "nope")
	assert.True(t, errors.Is(err, failure.ErrNotFound))

	records, err := s.ListByEntity(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func testCreateAndGet(t *testing.T, s port.Store) {
	ctx := context.Background()
	due := base.Add(72 * time.Hour)
	e := newEntity("INV1", entity.TypeInvoice, workflow.StateDraft, base, entity.Link{Type: entity.TypeGoodsReceipt, ID: "GR1"})
	e.DueDate = &due

	require.NoError(t, s.Create(ctx, e))
	assert.Equal(t, int64(1), e.Version)

	got, err := s.Get(ctx, "INV1")
	require.NoError(t, err)
	assert.Equal(t, entity.TypeInvoice, got.Type)
	assert.Equal(t, workflow.StateDraft, got.Status)
	assert.True(t, got.Amount.Amount.Equal(decimal.RequireFromString("1250.50")))
	assert.Equal(t, "EUR", got.Amount.Currency)
	assert.Equal(t, []entity.Link{{Type: entity.TypeGoodsReceipt, ID: "GR1"}}, got.Links)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(due))
	assert.Equal(t, int64(1), got.Version)

	got.Status = workflow.StatePaid
	again, err := s.Get(ctx, "INV1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateDraft, again.Status, "returned snapshots must not alias stored rows")

	assert.Error(t, s.Create(ctx, newEntity("INV1", entity.TypeInvoice, workflow.StateDraft, base)))
}

func testCommitApplies(t *testing.T, s port.Store) {
	ctx := context.Background()
	po := newEntity("PO1", entity.TypePurchaseOrder, workflow.StatePendingApproval, base)
	require.NoError(t, s.Create(ctx, po))
	b := newBudget("B1", 2026, 5000)
	require.NoError(t, s.CreateBudget(ctx, b))

	debited := b.Clone()
	debited.AvailableAmount = decimal.RequireFromString("3749.50")
	debited.Version = b.Version + 1

	rec := record(po, workflow.TriggerApprove, workflow.StatePendingApproval, workflow.StateApproved, "a-1")
	rec.BudgetID = "B1"
	rec.BudgetDelta = decimal.RequireFromString("-1250.50")
	child := newEntity("GR1", entity.TypeGoodsReceipt, workflow.StatePending, base, entity.Link{Type: entity.TypePurchaseOrder, ID: "PO1"})
	child.Version = 1

	require.NoError(t, s.CommitAtomic(ctx, &port.CommitBatch{
		Entities: []port.EntityWrite{advance(po, workflow.StateApproved), {Entity: child, Create: true}},
		Budgets:  []port.BudgetWrite{{Budget: debited, ExpectedVersion: b.Version}},
		Records:  []*entity.TransitionRecord{rec},
	}))
	assert.NotZero(t, rec.ID)

	got, err := s.Get(ctx, "PO1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateApproved, got.Status)
	assert.Equal(t, int64(2), got.Version)

	_, err = s.Get(ctx, "GR1")
	require.NoError(t, err)

	gotBudget, err := s.GetBudget(ctx, "B1")
	require.NoError(t, err)
	assert.True(t, gotBudget.AvailableAmount.Equal(decimal.RequireFromString("3749.50")))
	assert.Equal(t, b.Version+1, gotBudget.Version)

	history, err := s.ListByEntity(ctx, "PO1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, workflow.TriggerApprove, history[0].Transition)
	assert.Equal(t, "B1", history[0].BudgetID)
	assert.True(t, history[0].BudgetDelta.Equal(decimal.RequireFromString("-1250.50")))

	found, err := s.FindByAttempt(ctx, "PO1", "a-1")
	require.NoError(t, err)
	assert.Len(t, found, 1)
	found, err = s.FindByAttempt(ctx, "PO1", "a-2")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testStaleVersion(t *testing.T, s port.Store) {
	ctx := context.Background()
	po := newEntity("PO1", entity.TypePurchaseOrder, workflow.StatePendingApproval, base)
	other := newEntity("PO2", entity.TypePurchaseOrder, workflow.StateDraft, base)
	require.NoError(t, s.Create(ctx, po))
	require.NoError(t, s.Create(ctx, other))
	b := newBudget("B1", 2026, 5000)
	require.NoError(t, s.CreateBudget(ctx, b))

	require.NoError(t, s.CommitAtomic(ctx, &port.CommitBatch{
		Entities: []port.EntityWrite{advance(po, workflow.StateApproved)},
	}))

	// po is now stale; nothing in the batch may land
	debited := b.Clone()
	debited.AvailableAmount = decimal.NewFromInt(1)
	debited.Version++
	err := s.CommitAtomic(ctx, &port.CommitBatch{
		Entities: []port.EntityWrite{advance(other, workflow.StatePendingApproval), advance(po, workflow.StateRejected)},
		Budgets:  []port.BudgetWrite{{Budget: debited, ExpectedVersion: b.Version}},
		Records:  []*entity.TransitionRecord{record(other, workflow.TriggerSubmit, workflow.StateDraft, workflow.StatePendingApproval, "x")},
	})
	assert.True(t, errors.Is(err, failure.ErrConcurrentModification), "got %v", err)

	got, err := s.Get(ctx, "PO2")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateDraft, got.Status)
	gotBudget, err := s.GetBudget(ctx, "B1")
	require.NoError(t, err)
	assert.True(t, gotBudget.AvailableAmount.Equal(decimal.NewFromInt(5000)))
	history, err := s.ListByEntity(ctx, "PO2")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func testDuplicateRecord(t *testing.T, s port.Store) {
	ctx := context.Background()
	bid := newEntity("BD1", entity.TypeBid, workflow.StateSubmitted, base)
	require.NoError(t, s.Create(ctx, bid))

	rec := record(bid, workflow.TriggerStartReview, workflow.StateSubmitted, workflow.StateUnderReview, "a-1")
	require.NoError(t, s.CommitAtomic(ctx, &port.CommitBatch{
		Entities: []port.EntityWrite{advance(bid, workflow.StateUnderReview)},
		Records:  []*entity.TransitionRecord{rec},
	}))

	current, err := s.Get(ctx, "BD1")
	require.NoError(t, err)
	dup := record(bid, workflow.TriggerStartReview, workflow.StateSubmitted, workflow.StateUnderReview, "a-1")
	err = s.CommitAtomic(ctx, &port.CommitBatch{
		Entities: []port.EntityWrite{advance(current, workflow.StateUnderReview)},
		Records:  []*entity.TransitionRecord{dup},
	})
	assert.True(t, errors.Is(err, failure.ErrConcurrentModification), "got %v", err)

	after, err := s.Get(ctx, "BD1")
	require.NoError(t, err)
	assert.Equal(t, current.Version, after.Version)
}

func testCreateExisting(t *testing.T, s port.Store) {
	ctx := context.Background()
	pr := newEntity("PR1", entity.TypePurchaseRequisition, workflow.StateApproved, base)
	require.NoError(t, s.Create(ctx, pr))
	po := newEntity("PO1", entity.TypePurchaseOrder, workflow.StateDraft, base)
	require.NoError(t, s.Create(ctx, po))

	err := s.CommitAtomic(ctx, &port.CommitBatch{
		Entities: []port.EntityWrite{advance(pr, workflow.StateConvertedToPO), {Entity: po.Clone(), Create: true}},
	})
	assert.True(t, errors.Is(err, failure.ErrConcurrentModification), "got %v", err)

	got, err := s.Get(ctx, "PR1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateApproved, got.Status)
}

func testBudgetCAS(t *testing.T, s port.Store) {
	ctx := context.Background()
	b := newBudget("B1", 2026, 100)
	require.NoError(t, s.CreateBudget(ctx, b))
	assert.Error(t, s.CreateBudget(ctx, newBudget("B1", 2026, 1)))

	next := b.Clone()
	next.AvailableAmount = decimal.NewFromInt(40)
	next.Version = b.Version + 1
	require.NoError(t, s.CompareAndSwapBudget(ctx, next, b.Version))

	stale := b.Clone()
	stale.AvailableAmount = decimal.NewFromInt(0)
	stale.Version = b.Version + 1
	err := s.CompareAndSwapBudget(ctx, stale, b.Version)
	assert.True(t, errors.Is(err, failure.ErrConcurrentModification))

	got, err := s.GetBudget(ctx, "B1")
	require.NoError(t, err)
	assert.True(t, got.AvailableAmount.Equal(decimal.NewFromInt(40)))

	err = s.CompareAndSwapBudget(ctx, newBudget("B9", 2026, 1), 1)
	assert.True(t, errors.Is(err, failure.ErrNotFound))
}

func testListLinked(t *testing.T, s port.Store) {
	ctx := context.Background()
	tender := entity.Link{Type: entity.TypeTender, ID: "T1"}
	require.NoError(t, s.Create(ctx, newEntity("BD2", entity.TypeBid, workflow.StateSubmitted, base.Add(time.Hour), tender)))
	require.NoError(t, s.Create(ctx, newEntity("BD1", entity.TypeBid, workflow.StateSubmitted, base, tender)))
	require.NoError(t, s.Create(ctx, newEntity("BD3", entity.TypeBid, workflow.StateSubmitted, base, entity.Link{Type: entity.TypeTender, ID: "T2"})))
	require.NoError(t, s.Create(ctx, newEntity("C1", entity.TypeContract, workflow.StateDraft, base, tender)))

	got, err := s.ListLinked(ctx, "T1", entity.TypeBid)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "BD1", got[0].ID)
	assert.Equal(t, "BD2", got[1].ID)

	got, err = s.ListLinked(ctx, "T9", entity.TypeBid)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testListOverdue(t *testing.T, s port.Store) {
	ctx := context.Background()
	asOf := base.Add(10 * 24 * time.Hour)

	mk := func(id string, status workflow.State, due time.Time) {
		e := newEntity(id, entity.TypeInvoice, status, base)
		e.DueDate = &due
		require.NoError(t, s.Create(ctx, e))
	}
	mk("late-2", workflow.StateApproved, asOf.Add(-time.Hour))
	mk("late-1", workflow.StateApproved, asOf.Add(-48*time.Hour))
	mk("on-time", workflow.StateApproved, asOf.Add(time.Hour))
	mk("paid", workflow.StatePaid, asOf.Add(-48*time.Hour))
	require.NoError(t, s.Create(ctx, newEntity("no-due", entity.TypeInvoice, workflow.StateApproved, base)))

	got, err := s.ListOverdueInvoices(ctx, asOf, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "late-1", got[0].ID)
	assert.Equal(t, "late-2", got[1].ID)

	got, err = s.ListOverdueInvoices(ctx, asOf, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func testListExpirable(t *testing.T, s port.Store) {
	ctx := context.Background()
	old := newBudget("B-2024", 2024, 10)
	depleted := newBudget("B-2025", 2025, 10)
	depleted.Status = entity.BudgetStatusDepleted
	depleted.AvailableAmount = decimal.Zero
	expired := newBudget("B-2023", 2023, 10)
	expired.Status = entity.BudgetStatusExpired
	current := newBudget("B-2026", 2026, 10)
	for _, b := range []*entity.Budget{old, depleted, expired, current} {
		require.NoError(t, s.CreateBudget(ctx, b))
	}

	got, err := s.ListExpirable(ctx, 2026, 0)
	require.NoError(t, err)
	var ids []string
	for _, b := range got {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"B-2024", "B-2025"}, ids)
}

func testConcurrentCommits(t *testing.T, s port.Store) {
	ctx := context.Background()
	po := newEntity("PO1", entity.TypePurchaseOrder, workflow.StatePendingApproval, base)
	require.NoError(t, s.Create(ctx, po))

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			attempt := string(rune('a' + i))
			err := s.CommitAtomic(ctx, &port.CommitBatch{
				Entities: []port.EntityWrite{advance(po, workflow.StateApproved)},
				Records:  []*entity.TransitionRecord{record(po, workflow.TriggerApprove, workflow.StatePendingApproval, workflow.StateApproved, attempt)},
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, failure.ErrConcurrentModification), "got %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	history, err := s.ListByEntity(ctx, "PO1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
