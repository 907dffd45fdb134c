package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/application/port"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/persistence/sqlite"
)

// Store is the SQLite implementation of port.Store
type Store struct {
	*EntityRepository
	*BudgetRepository
	*TransitionRepository

	tx     port.TransactionManager
	logger *zap.Logger
}

// NewStore composes the repositories over one database
func NewStore(db *sqlite.DB, logger *zap.Logger) *Store {
	return &Store{
		EntityRepository:     NewEntityRepository(db.DB, logger),
		BudgetRepository:     NewBudgetRepository(db.DB, logger),
		TransitionRepository: NewTransitionRepository(db.DB, logger),
		tx:                   db,
		logger:               logger,
	}
}

// CommitAtomic applies every write and record in one transaction.
// Any lost compare-and-swap or duplicate record rolls the whole batch back.
func (s *Store) CommitAtomic(ctx context.Context, batch *port.CommitBatch) error {
	if batch.IsEmpty() {
		return nil
	}

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		for _, w := range batch.Entities {
			if w.Create {
				err := s.EntityRepository.insert(ctx, w.Entity)
				if sqlite.IsUniqueViolation(err) {
					return failure.ConcurrentModification("entity %s already exists", w.Entity.ID)
				}
				if err != nil {
					return err
				}
				continue
			}
			if err := s.EntityRepository.compareAndSwap(ctx, w.Entity, w.ExpectedVersion); err != nil {
				return err
			}
		}

		for _, w := range batch.Budgets {
			if err := s.BudgetRepository.CompareAndSwapBudget(ctx, w.Budget, w.ExpectedVersion); err != nil {
				return err
			}
		}

		for _, r := range batch.Records {
			if err := s.TransitionRepository.add(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})

	if sqlite.IsBusy(err) {
		return failure.ConcurrentModification("store is locked by another writer")
	}
	if err != nil && !errors.Is(err, failure.ErrConcurrentModification) {
		s.logger.Debug("Atomic commit failed", zap.Error(err))
	}
	return err
}

var _ port.Store = (*Store)(nil)
