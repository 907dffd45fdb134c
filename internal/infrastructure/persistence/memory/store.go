// Package memory provides an in-process Store with the same compare-and-swap
// semantics as the SQLite store. State is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/procurement-lifecycle/internal/application/port"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	"github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

// Store keeps every row behind one mutex so CommitAtomic is trivially all-or-nothing
type Store struct {
	mu       sync.RWMutex
	entities map[string]*entity.Entity
	budgets  map[string]*entity.Budget
	records  []*entity.TransitionRecord
	keys     map[entity.RecordKey]bool
	nextID   int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		entities: make(map[string]*entity.Entity),
		budgets:  make(map[string]*entity.Budget),
		keys:     make(map[entity.RecordKey]bool),
	}
}

// Get returns a copy of the document
func (s *Store) Get(ctx context.Context, id string) (*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, failure.NotFound("entity %s", id)
	}
	return e.Clone(), nil
}

// Create inserts a document at version 1 unless it carries a version already
func (s *Store) Create(ctx context.Context, e *entity.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[e.ID]; exists {
		return failure.InvalidRequest("entity %s already exists", e.ID)
	}
	stamp(e)
	s.entities[e.ID] = e.Clone()
	return nil
}

// ListLinked returns documents of typ referencing linkedID, oldest first
func (s *Store) ListLinked(ctx context.Context, linkedID string, typ entity.Type) ([]*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Entity
	for _, e := range s.entities {
		if e.Type == typ && e.HasLink(linkedID) {
			out = append(out, e.Clone())
		}
	}
	sortEntities(out)
	return out, nil
}

// ListOverdueInvoices returns APPROVED invoices due before asOf
func (s *Store) ListOverdueInvoices(ctx context.Context, asOf time.Time, limit int) ([]*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Entity
	for _, e := range s.entities {
		if e.Type == entity.TypeInvoice && e.Status == workflow.StateApproved && e.DueDate != nil && e.DueDate.Before(asOf) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(*out[j].DueDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CommitAtomic validates the whole batch before applying any of it
func (s *Store) CommitAtomic(ctx context.Context, batch *port.CommitBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range batch.Entities {
		current, exists := s.entities[w.Entity.ID]
		switch {
		case w.Create && exists:
			return failure.ConcurrentModification("entity %s already exists", w.Entity.ID)
		case !w.Create && !exists:
			return failure.NotFound("entity %s", w.Entity.ID)
		case !w.Create && current.Version != w.ExpectedVersion:
			return failure.ConcurrentModification("entity %s is at version %d, expected %d", w.Entity.ID, current.Version, w.ExpectedVersion)
		}
	}
	for _, w := range batch.Budgets {
		current, exists := s.budgets[w.Budget.ID]
		if !exists {
			return failure.NotFound("budget %s", w.Budget.ID)
		}
		if current.Version != w.ExpectedVersion {
			return failure.ConcurrentModification("budget %s is at version %d, expected %d", w.Budget.ID, current.Version, w.ExpectedVersion)
		}
	}
	seen := make(map[entity.RecordKey]bool, len(batch.Records))
	for _, r := range batch.Records {
		k := r.Key()
		if s.keys[k] || seen[k] {
			return failure.ConcurrentModification("transition %s of %s already recorded for attempt %s", r.Transition, r.EntityID, r.AttemptID)
		}
		seen[k] = true
	}

	for _, w := range batch.Entities {
		s.entities[w.Entity.ID] = w.Entity.Clone()
	}
	for _, w := range batch.Budgets {
		s.budgets[w.Budget.ID] = w.Budget.Clone()
	}
	for _, r := range batch.Records {
		s.nextID++
		r.ID = s.nextID
		c := *r
		s.records = append(s.records, &c)
		s.keys[r.Key()] = true
	}
	return nil
}

// GetBudget returns a copy of the budget
func (s *Store) GetBudget(ctx context.Context, id string) (*entity.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.budgets[id]
	if !ok {
		return nil, failure.NotFound("budget %s", id)
	}
	return b.Clone(), nil
}

// CreateBudget inserts a budget
func (s *Store) CreateBudget(ctx context.Context, b *entity.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.budgets[b.ID]; exists {
		return failure.InvalidRequest("budget %s already exists", b.ID)
	}
	now := time.Now()
	if b.Version == 0 {
		b.Version = 1
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	s.budgets[b.ID] = b.Clone()
	return nil
}

// CompareAndSwapBudget writes b when the stored version equals expectedVersion
func (s *Store) CompareAndSwapBudget(ctx context.Context, b *entity.Budget, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.budgets[b.ID]
	if !ok {
		return failure.NotFound("budget %s", b.ID)
	}
	if current.Version != expectedVersion {
		return failure.ConcurrentModification("budget %s is at version %d, expected %d", b.ID, current.Version, expectedVersion)
	}
	s.budgets[b.ID] = b.Clone()
	return nil
}

// ListExpirable returns ACTIVE or DEPLETED budgets from fiscal years before fiscalYear
func (s *Store) ListExpirable(ctx context.Context, fiscalYear int, limit int) ([]*entity.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Budget
	for _, b := range s.budgets {
		if b.FiscalYear < fiscalYear && (b.Status == entity.BudgetStatusActive || b.Status == entity.BudgetStatusDepleted) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindByAttempt returns the records written for attemptID on entityID
func (s *Store) FindByAttempt(ctx context.Context, entityID, attemptID string) ([]*entity.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.TransitionRecord
	for _, r := range s.records {
		if r.EntityID == entityID && r.AttemptID == attemptID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// ListByEntity returns the full history of a document in commit order
func (s *Store) ListByEntity(ctx context.Context, entityID string) ([]*entity.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.TransitionRecord
	for _, r := range s.records {
		if r.EntityID == entityID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func stamp(e *entity.Entity) {
	now := time.Now()
	if e.Version == 0 {
		e.Version = 1
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
}

func sortEntities(es []*entity.Entity) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].ID < es[j].ID
		}
		return es[i].CreatedAt.Before(es[j].CreatedAt)
	})
}

var _ port.Store = (*Store)(nil)
