package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	"github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/persistence/sqlite"
)

// TransitionRepository is the append-only transition log
type TransitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransitionRepository creates a new transition repository
func NewTransitionRepository(db *sql.DB, logger *zap.Logger) *TransitionRepository {
	return &TransitionRepository{
		db:     db,
		logger: logger,
	}
}

const recordColumns = `id, entity_id, entity_type, transition, from_status, to_status, actor_id, actor_role,
	attempt_id, budget_id, budget_delta, created_at`

// add inserts r and assigns its ID. A repeated (entity, from, to, attempt) key is a lost race.
func (t *TransitionRepository) add(ctx context.Context, r *entity.TransitionRecord) error {
	result, err := sqlite.ExecutorFrom(ctx, t.db).ExecContext(ctx, `
		INSERT INTO transition_records (
			entity_id, entity_type, transition, from_status, to_status, actor_id, actor_role,
			attempt_id, budget_id, budget_delta, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.EntityID,
		r.EntityType.String(),
		r.Transition.String(),
		r.FromStatus.String(),
		r.ToStatus.String(),
		r.ActorID,
		r.ActorRole,
		r.AttemptID,
		r.BudgetID,
		r.BudgetDelta.String(),
		r.Timestamp.UTC(),
	)
	if sqlite.IsUniqueViolation(err) {
		return failure.ConcurrentModification("transition %s of %s already recorded for attempt %s", r.Transition, r.EntityID, r.AttemptID)
	}
	if err != nil {
		t.logger.Error("Failed to append transition record",
			zap.String("entity_id", r.EntityID),
			zap.String("attempt_id", r.AttemptID),
			zap.Error(err))
		return fmt.Errorf("failed to append transition record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	return nil
}

// FindByAttempt returns the records written for attemptID on entityID
func (t *TransitionRepository) FindByAttempt(ctx context.Context, entityID, attemptID string) ([]*entity.TransitionRecord, error) {
	return t.query(ctx, `
		SELECT `+recordColumns+` FROM transition_records
		WHERE entity_id = ? AND attempt_id = ?
		ORDER BY id`, entityID, attemptID)
}

// ListByEntity returns the full history of a document in commit order
func (t *TransitionRepository) ListByEntity(ctx context.Context, entityID string) ([]*entity.TransitionRecord, error) {
	return t.query(ctx, `
		SELECT `+recordColumns+` FROM transition_records
		WHERE entity_id = ?
		ORDER BY id`, entityID)
}

func (t *TransitionRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.TransitionRecord, error) {
	rows, err := sqlite.ExecutorFrom(ctx, t.db).QueryContext(ctx, query, args...)
	if err != nil {
		t.logger.Error("Failed to query transition records", zap.Error(err))
		return nil, fmt.Errorf("failed to query transition records: %w", err)
	}
	defer rows.Close()

	var records []*entity.TransitionRecord
	for rows.Next() {
		var (
			r                  entity.TransitionRecord
			typ, trigger       string
			fromStatus, status string
		)
		if err := rows.Scan(
			&r.ID,
			&r.EntityID,
			&typ,
			&trigger,
			&fromStatus,
			&status,
			&r.ActorID,
			&r.ActorRole,
			&r.AttemptID,
			&r.BudgetID,
			&r.BudgetDelta,
			&r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transition record: %w", err)
		}
		r.EntityType = entity.Type(typ)
		r.Transition = workflow.Trigger(trigger)
		r.FromStatus = workflow.State(fromStatus)
		r.ToStatus = workflow.State(status)
		records = append(records, &r)
	}
	return records, rows.Err()
}
