package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	"github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/persistence/sqlite"
)

// EntityRepository persists procurement documents and their links
type EntityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(db *sql.DB, logger *zap.Logger) *EntityRepository {
	return &EntityRepository{
		db:     db,
		logger: logger,
	}
}

const entityColumns = `id, entity_type, status, amount, currency, owner_org_unit_id, budget_id,
	due_date, version, created_at, updated_at`

// Get retrieves a document by ID
func (r *EntityRepository) Get(ctx context.Context, id string) (*entity.Entity, error) {
	ex := sqlite.ExecutorFrom(ctx, r.db)
	row := ex.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, failure.NotFound("entity %s", id)
	}
	if err != nil {
		r.logger.Error("Failed to get entity", zap.String("entity_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}

	if e.Links, err = r.links(ctx, ex, id); err != nil {
		return nil, err
	}
	return e, nil
}

// Create inserts a document at version 1 unless it already carries a version
func (r *EntityRepository) Create(ctx context.Context, e *entity.Entity) error {
	now := time.Now().UTC()
	if e.Version == 0 {
		e.Version = 1
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}

	err := r.insert(ctx, e)
	if sqlite.IsUniqueViolation(err) {
		return failure.InvalidRequest("entity %s already exists", e.ID)
	}
	return err
}

func (r *EntityRepository) insert(ctx context.Context, e *entity.Entity) error {
	ex := sqlite.ExecutorFrom(ctx, r.db)
	_, err := ex.ExecContext(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Type.String(),
		e.Status.String(),
		e.Amount.Amount.String(),
		e.Amount.Currency,
		e.OwnerOrgUnitID,
		e.BudgetID,
		nullTime(e.DueDate),
		e.Version,
		e.CreatedAt.UTC(),
		e.UpdatedAt.UTC(),
	)
	if err != nil {
		if !sqlite.IsUniqueViolation(err) {
			r.logger.Error("Failed to insert entity", zap.String("entity_id", e.ID), zap.Error(err))
		}
		return fmt.Errorf("failed to insert entity %s: %w", e.ID, err)
	}
	return r.writeLinks(ctx, ex, e)
}

// compareAndSwap writes e when the stored row is still at expectedVersion
func (r *EntityRepository) compareAndSwap(ctx context.Context, e *entity.Entity, expectedVersion int64) error {
	ex := sqlite.ExecutorFrom(ctx, r.db)
	result, err := ex.ExecContext(ctx, `
		UPDATE entities
		SET status = ?, amount = ?, currency = ?, owner_org_unit_id = ?, budget_id = ?,
			due_date = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		e.Status.String(),
		e.Amount.Amount.String(),
		e.Amount.Currency,
		e.OwnerOrgUnitID,
		e.BudgetID,
		nullTime(e.DueDate),
		e.Version,
		e.UpdatedAt.UTC(),
		e.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update entity", zap.String("entity_id", e.ID), zap.Error(err))
		return fmt.Errorf("failed to update entity %s: %w", e.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		var current int64
		err := ex.QueryRowContext(ctx, `SELECT version FROM entities WHERE id = ?`, e.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return failure.NotFound("entity %s", e.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to read version of %s: %w", e.ID, err)
		}
		return failure.ConcurrentModification("entity %s is at version %d, expected %d", e.ID, current, expectedVersion)
	}

	if _, err := ex.ExecContext(ctx, `DELETE FROM entity_links WHERE entity_id = ?`, e.ID); err != nil {
		return fmt.Errorf("failed to clear links of %s: %w", e.ID, err)
	}
	return r.writeLinks(ctx, ex, e)
}

// ListLinked returns documents of typ referencing linkedID, oldest first
func (r *EntityRepository) ListLinked(ctx context.Context, linkedID string, typ entity.Type) ([]*entity.Entity, error) {
	return r.list(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE entity_type = ? AND id IN (SELECT entity_id FROM entity_links WHERE linked_id = ?)
		ORDER BY created_at, id`,
		typ.String(), linkedID)
}

// ListOverdueInvoices returns APPROVED invoices due before asOf, earliest due date first
func (r *EntityRepository) ListOverdueInvoices(ctx context.Context, asOf time.Time, limit int) ([]*entity.Entity, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.list(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE entity_type = ? AND status = ? AND due_date IS NOT NULL AND due_date < ?
		ORDER BY due_date, id
		LIMIT ?`,
		entity.TypeInvoice.String(), workflow.StateApproved.String(), asOf.UTC(), limit)
}

func (r *EntityRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Entity, error) {
	ex := sqlite.ExecutorFrom(ctx, r.db)
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list entities", zap.Error(err))
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	var entities []*entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// links are loaded after the cursor is closed; a transaction has a single connection
	for _, e := range entities {
		if e.Links, err = r.links(ctx, ex, e.ID); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

func (r *EntityRepository) links(ctx context.Context, ex sqlite.Executor, id string) ([]entity.Link, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT linked_type, linked_id FROM entity_links
		WHERE entity_id = ?
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load links of %s: %w", id, err)
	}
	defer rows.Close()

	var links []entity.Link
	for rows.Next() {
		var l entity.Link
		var typ string
		if err := rows.Scan(&typ, &l.ID); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		l.Type = entity.Type(typ)
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *EntityRepository) writeLinks(ctx context.Context, ex sqlite.Executor, e *entity.Entity) error {
	for i, l := range e.Links {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO entity_links (entity_id, position, linked_type, linked_id)
			VALUES (?, ?, ?, ?)`,
			e.ID, i, l.Type.String(), l.ID,
		); err != nil {
			return fmt.Errorf("failed to write link %s of %s: %w", l.ID, e.ID, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*entity.Entity, error) {
	var (
		e        entity.Entity
		typ      string
		status   string
		amount   decimal.Decimal
		currency string
		dueDate  sql.NullTime
	)
	if err := row.Scan(
		&e.ID,
		&typ,
		&status,
		&amount,
		&currency,
		&e.OwnerOrgUnitID,
		&e.BudgetID,
		&dueDate,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	e.Type = entity.Type(typ)
	e.Status = workflow.State(status)
	e.Amount = entity.Money{Amount: amount, Currency: currency}
	if dueDate.Valid {
		d := dueDate.Time
		e.DueDate = &d
	}
	return &e, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
