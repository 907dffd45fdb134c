package port

import (
	"context"
	"time"

	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
)

// EntityWrite stages one document row. Entity carries the row as it must be written,
// including its new Version; ExpectedVersion is the version the stored row must still have.
// Create inserts a new row and requires that no row with the same id exists.
// Writing a row unchanged at its current version only asserts that it has not moved.
type EntityWrite struct {
	Entity          *entity.Entity
	ExpectedVersion int64
	Create          bool
}

// BudgetWrite stages one budget row under the same version rule as EntityWrite
type BudgetWrite struct {
	Budget          *entity.Budget
	ExpectedVersion int64
}

// CommitBatch is applied all-or-nothing
type CommitBatch struct {
	Entities []EntityWrite
	Budgets  []BudgetWrite
	Records  []*entity.TransitionRecord
}

// IsEmpty reports whether the batch writes nothing
func (b *CommitBatch) IsEmpty() bool {
	return len(b.Entities) == 0 && len(b.Budgets) == 0 && len(b.Records) == 0
}

// EntityStore persists procurement documents with version-based compare-and-swap
type EntityStore interface {
	// Get returns a copy of the document or a NOT_FOUND failure
	Get(ctx context.Context, id string) (*entity.Entity, error)
	// Create inserts a document created outside the lifecycle core (seeding, setup)
	Create(ctx context.Context, e *entity.Entity) error
	// ListLinked returns documents of type typ that link to linkedID
	ListLinked(ctx context.Context, linkedID string, typ entity.Type) ([]*entity.Entity, error)
	// ListOverdueInvoices returns APPROVED invoices whose due date is before asOf
	ListOverdueInvoices(ctx context.Context, asOf time.Time, limit int) ([]*entity.Entity, error)
	// CommitAtomic applies every write and record or none of them.
	// A lost compare-and-swap or a duplicate record key yields CONCURRENT_MODIFICATION.
	CommitAtomic(ctx context.Context, batch *CommitBatch) error
}

// BudgetStore persists budgets. Budgets are created by organizational setup, never by transitions.
type BudgetStore interface {
	GetBudget(ctx context.Context, id string) (*entity.Budget, error)
	CreateBudget(ctx context.Context, b *entity.Budget) error
	// CompareAndSwapBudget writes b if the stored version equals expectedVersion
	CompareAndSwapBudget(ctx context.Context, b *entity.Budget, expectedVersion int64) error
	// ListExpirable returns ACTIVE or DEPLETED budgets of fiscal years before fiscalYear
	ListExpirable(ctx context.Context, fiscalYear int, limit int) ([]*entity.Budget, error)
}

// TransitionLog reads the append-only transition records
type TransitionLog interface {
	FindByAttempt(ctx context.Context, entityID, attemptID string) ([]*entity.TransitionRecord, error)
	ListByEntity(ctx context.Context, entityID string) ([]*entity.TransitionRecord, error)
}

// Store is the full persistence surface the lifecycle core consumes
type Store interface {
	EntityStore
	BudgetStore
	TransitionLog
}

// TransactionManager manages database transactions
type TransactionManager interface {
	// WithTransaction executes fn within a transaction
	// If fn returns an error, the transaction is rolled back
	// Otherwise, the transaction is committed
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventNotifier receives domain events after a commit. Delivery is best effort:
// Publish never reports failure to the caller.
type EventNotifier interface {
	Publish(ctx context.Context, evt *event.Event)
}
