package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/application/port"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/persistence/storetest"
	"github.com/garyjia/procurement-lifecycle/pkg/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "procurement.db"),
		MaxOpenConns: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, logger).RunMigrations(context.Background(), "")
	require.NoError(t, err)

	return NewStore(sqlite.NewDB(db.DB, logger), logger)
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.Store {
		return newTestStore(t)
	})
}

func TestStore_DecimalPrecisionSurvivesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := &entity.Budget{
		ID:              "B1",
		OrgUnitID:       "ou",
		FiscalYear:      2026,
		Currency:        "EUR",
		TotalAmount:     decimal.RequireFromString("1000000000.0001"),
		AvailableAmount: decimal.RequireFromString("999999999.9999"),
		Status:          entity.BudgetStatusActive,
	}
	require.NoError(t, s.CreateBudget(ctx, b))

	got, err := s.GetBudget(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, "1000000000.0001", got.TotalAmount.String())
	assert.Equal(t, "999999999.9999", got.AvailableAmount.String())
	assert.True(t, got.Consumed().Equal(decimal.RequireFromString("0.0002")))
}

func TestStore_LinksReplacedOnUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &entity.Entity{
		ID:     "PO1",
		Type:   entity.TypePurchaseOrder,
		Status: workflow.StateDraft,
		Amount: entity.Money{Amount: decimal.NewFromInt(5), Currency: "EUR"},
		Links:  []entity.Link{{Type: entity.TypePurchaseRequisition, ID: "PR1"}},
	}
	require.NoError(t, s.Create(ctx, e))

	next := e.Clone()
	next.AddLink(entity.Link{Type: entity.TypeContract, ID: "C1"})
	next.Version = 2
	next.UpdatedAt = time.Now()
	require.NoError(t, s.CommitAtomic(ctx, &port.CommitBatch{
		Entities: []port.EntityWrite{{Entity: next, ExpectedVersion: 1}},
	}))

	got, err := s.Get(ctx, "PO1")
	require.NoError(t, err)
	assert.Equal(t, []entity.Link{
		{Type: entity.TypePurchaseRequisition, ID: "PR1"},
		{Type: entity.TypeContract, ID: "C1"},
	}, got.Links)

	linked, err := s.ListLinked(ctx, "C1", entity.TypePurchaseOrder)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "PO1", linked[0].ID)
}

func TestStore_EmptyBatchIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.CommitAtomic(context.Background(), &port.CommitBatch{}))
}
