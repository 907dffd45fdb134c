package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/persistence/sqlite"
)

// BudgetRepository persists budgets with version-checked updates
type BudgetRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBudgetRepository creates a new budget repository
func NewBudgetRepository(db *sql.DB, logger *zap.Logger) *BudgetRepository {
	return &BudgetRepository{
		db:     db,
		logger: logger,
	}
}

const budgetColumns = `id, org_unit_id, fiscal_year, currency, total_amount, available_amount,
	status, version, created_at, updated_at`

// GetBudget retrieves a budget by ID
func (r *BudgetRepository) GetBudget(ctx context.Context, id string) (*entity.Budget, error) {
	row := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)

	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, failure.NotFound("budget %s", id)
	}
	if err != nil {
		r.logger.Error("Failed to get budget", zap.String("budget_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get budget %s: %w", id, err)
	}
	return b, nil
}

// CreateBudget inserts a budget set up by the organization
func (r *BudgetRepository) CreateBudget(ctx context.Context, b *entity.Budget) error {
	now := time.Now().UTC()
	if b.Version == 0 {
		b.Version = 1
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, `
		INSERT INTO budgets (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.OrgUnitID,
		b.FiscalYear,
		b.Currency,
		b.TotalAmount.String(),
		b.AvailableAmount.String(),
		b.Status.String(),
		b.Version,
		b.CreatedAt.UTC(),
		b.UpdatedAt,
	)
	if sqlite.IsUniqueViolation(err) {
		return failure.InvalidRequest("budget %s already exists", b.ID)
	}
	if err != nil {
		r.logger.Error("Failed to create budget", zap.String("budget_id", b.ID), zap.Error(err))
		return fmt.Errorf("failed to create budget %s: %w", b.ID, err)
	}
	return nil
}

// CompareAndSwapBudget writes b when the stored version equals expectedVersion
func (r *BudgetRepository) CompareAndSwapBudget(ctx context.Context, b *entity.Budget, expectedVersion int64) error {
	ex := sqlite.ExecutorFrom(ctx, r.db)
	result, err := ex.ExecContext(ctx, `
		UPDATE budgets
		SET total_amount = ?, available_amount = ?, status = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		b.TotalAmount.String(),
		b.AvailableAmount.String(),
		b.Status.String(),
		b.Version,
		b.UpdatedAt.UTC(),
		b.ID,
		expectedVersion,
	)
	if err != nil {
		if sqlite.IsBusy(err) {
			return failure.ConcurrentModification("budget %s is locked by another writer", b.ID)
		}
		r.logger.Error("Failed to update budget", zap.String("budget_id", b.ID), zap.Error(err))
		return fmt.Errorf("failed to update budget %s: %w", b.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var current int64
	err = ex.QueryRowContext(ctx, `SELECT version FROM budgets WHERE id = ?`, b.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return failure.NotFound("budget %s", b.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to read version of budget %s: %w", b.ID, err)
	}
	return failure.ConcurrentModification("budget %s is at version %d, expected %d", b.ID, current, expectedVersion)
}

// ListExpirable returns ACTIVE or DEPLETED budgets of fiscal years before fiscalYear
func (r *BudgetRepository) ListExpirable(ctx context.Context, fiscalYear int, limit int) ([]*entity.Budget, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE fiscal_year < ? AND status IN (?, ?)
		ORDER BY id
		LIMIT ?`,
		fiscalYear, entity.BudgetStatusActive.String(), entity.BudgetStatusDepleted.String(), limit)
	if err != nil {
		r.logger.Error("Failed to list expirable budgets", zap.Int("fiscal_year", fiscalYear), zap.Error(err))
		return nil, fmt.Errorf("failed to list expirable budgets: %w", err)
	}
	defer rows.Close()

	var budgets []*entity.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func scanBudget(row rowScanner) (*entity.Budget, error) {
	var b entity.Budget
	var status string
	if err := row.Scan(
		&b.ID,
		&b.OrgUnitID,
		&b.FiscalYear,
		&b.Currency,
		&b.TotalAmount,
		&b.AvailableAmount,
		&status,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Status = entity.BudgetStatus(status)
	return &b, nil
}
