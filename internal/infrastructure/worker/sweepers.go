package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/application/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	"github.com/garyjia/procurement-lifecycle/internal/domain/permission"
	domainwf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

const (
	OverdueSweeperName      = "OverdueSweeper"
	BudgetExpirySweeperName = "BudgetExpirySweeper"

	// SweeperActorID is recorded as the actor of sweeper-driven transitions
	SweeperActorID = "system:overdue-sweeper"
)

// SweeperConfig holds the cadence and page size of a sweeper
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// OverdueFinder lists invoices past their due date
type OverdueFinder interface {
	ListOverdueInvoices(ctx context.Context, asOf time.Time, limit int) ([]*entity.Entity, error)
}

// Transitioner requests lifecycle transitions
type Transitioner interface {
	RequestTransition(ctx context.Context, req workflow.TransitionRequest) (*workflow.TransitionResult, error)
}

// OverdueAttemptID is the idempotency key used for an invoice's overdue transition.
// Concurrent sweeps of the same invoice version on several replicas collapse into one
// record, while an invoice approved again after a dispute gets a fresh key.
func OverdueAttemptID(invoiceID string, version int64) string {
	return fmt.Sprintf("overdue:%s:v%d", invoiceID, version)
}

// OverdueSweeper moves APPROVED invoices past their due date to OVERDUE
type OverdueSweeper struct {
	*pollLoop
	finder       OverdueFinder
	orchestrator Transitioner
	batchSize    int
	now          func() time.Time
	logger       *zap.Logger
}

// NewOverdueSweeper creates the overdue invoice sweeper
func NewOverdueSweeper(cfg SweeperConfig, finder OverdueFinder, orchestrator Transitioner, logger *zap.Logger) *OverdueSweeper {
	s := &OverdueSweeper{
		finder:       finder,
		orchestrator: orchestrator,
		batchSize:    cfg.BatchSize,
		now:          time.Now,
		logger:       logger,
	}
	s.pollLoop = newPollLoop(OverdueSweeperName, cfg.Interval, s.sweep, logger)
	return s
}

func (s *OverdueSweeper) sweep(ctx context.Context) (int, error) {
	invoices, err := s.finder.ListOverdueInvoices(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue invoices: %w", err)
	}

	marked := 0
	var errs []error
	for _, inv := range invoices {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := s.orchestrator.RequestTransition(ctx, workflow.TransitionRequest{
			EntityID:   inv.ID,
			Transition: domainwf.TriggerMarkOverdue,
			ActorID:    SweeperActorID,
			ActorRole:  permission.RoleFinance,
			AttemptID:  OverdueAttemptID(inv.ID, inv.Version),
		})
		switch {
		case err == nil:
			if !res.Replayed {
				marked++
			}
		case failure.KindOf(err) != "":
			// paid, disputed or raced by another replica since it was listed
			s.logger.Info("Invoice skipped by overdue sweep",
				zap.String("entity_id", inv.ID),
				zap.String("kind", failure.KindOf(err).String()))
		default:
			errs = append(errs, fmt.Errorf("invoice %s: %w", inv.ID, err))
		}
	}
	return marked, errors.Join(errs...)
}

// ExpirableFinder lists budgets of closed fiscal years that are still open
type ExpirableFinder interface {
	ListExpirable(ctx context.Context, fiscalYear int, limit int) ([]*entity.Budget, error)
}

// BudgetExpirer expires a budget
type BudgetExpirer interface {
	MarkExpired(ctx context.Context, budgetID string) (*entity.Budget, error)
}

// BudgetObserver receives budget changes made outside a transition
type BudgetObserver interface {
	ObserveBudget(kind string, b *entity.Budget)
}

// BudgetExpirySweeper expires ACTIVE and DEPLETED budgets of past fiscal years
type BudgetExpirySweeper struct {
	*pollLoop
	finder    ExpirableFinder
	expirer   BudgetExpirer
	observer  BudgetObserver
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
}

// NewBudgetExpirySweeper creates the budget expiry sweeper. observer may be nil.
func NewBudgetExpirySweeper(cfg SweeperConfig, finder ExpirableFinder, expirer BudgetExpirer, observer BudgetObserver, logger *zap.Logger) *BudgetExpirySweeper {
	s := &BudgetExpirySweeper{
		finder:    finder,
		expirer:   expirer,
		observer:  observer,
		batchSize: cfg.BatchSize,
		now:       time.Now,
		logger:    logger,
	}
	s.pollLoop = newPollLoop(BudgetExpirySweeperName, cfg.Interval, s.sweep, logger)
	return s
}

func (s *BudgetExpirySweeper) sweep(ctx context.Context) (int, error) {
	budgets, err := s.finder.ListExpirable(ctx, s.now().Year(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expirable budgets: %w", err)
	}

	expired := 0
	var errs []error
	for _, b := range budgets {
		updated, err := s.expirer.MarkExpired(ctx, b.ID)
		if err != nil {
			if failure.IsRetryable(err) {
				s.logger.Info("Budget expiry deferred to next sweep", zap.String("budget_id", b.ID))
				continue
			}
			errs = append(errs, fmt.Errorf("budget %s: %w", b.ID, err))
			continue
		}
		expired++
		if s.observer != nil {
			s.observer.ObserveBudget("budget.expired", updated)
		}
	}
	return expired, errors.Join(errs...)
}
