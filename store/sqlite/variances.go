package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// VARIANCE STORE (budget.VarianceStore interface)
// =============================================================================

const varianceColumns = `id, budget_id, budget_line_id, tenant_id, variance_type, budgeted_amount,
	actual_amount, committed_amount, variance_amount, variance_percent, alert_level,
	is_acknowledged, acknowledged_by, acknowledged_at, created_at, updated_at`

func (s *Store) GetVariance(ctx context.Context, id budget.VarianceID) (*budget.Variance, error) {
	defer s.rlock()()
	return s.getVariance(ctx, "id = ?", id)
}

func (s *Store) FindVariance(ctx context.Context, lineID budget.LineID, vt budget.VarianceType) (*budget.Variance, error) {
	defer s.rlock()()
	return s.getVariance(ctx, "budget_line_id = ? AND variance_type = ?", lineID, vt)
}

func (s *Store) getVariance(ctx context.Context, cond string, args ...any) (*budget.Variance, error) {
	row := s.queryRow(ctx,
		"SELECT "+varianceColumns+" FROM budget_variances WHERE tenant_id = ? AND "+cond,
		append([]any{s.tenant}, args...)...,
	)
	v, err := scanVariance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UpsertVariance inserts or updates in place on (tenant, line, type).
// The existing row keeps its id, created_at and acknowledgement.
func (s *Store) UpsertVariance(ctx context.Context, v budget.Variance) error {
	defer s.lock()()

	query := `
		INSERT INTO budget_variances (` + varianceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, budget_line_id, variance_type) DO UPDATE SET
			budgeted_amount = excluded.budgeted_amount,
			actual_amount = excluded.actual_amount,
			committed_amount = excluded.committed_amount,
			variance_amount = excluded.variance_amount,
			variance_percent = excluded.variance_percent,
			alert_level = excluded.alert_level,
			updated_at = excluded.updated_at
	`
	_, err := s.exec(ctx, query, varianceArgs(s.tenant, v)...)
	if err != nil {
		return fmt.Errorf("failed to upsert variance: %w", err)
	}
	return nil
}

// SaveVariance overwrites the row with v.ID.
func (s *Store) SaveVariance(ctx context.Context, v budget.Variance) error {
	defer s.lock()()

	query := `
		UPDATE budget_variances SET
			variance_type = ?, budgeted_amount = ?, actual_amount = ?, committed_amount = ?,
			variance_amount = ?, variance_percent = ?, alert_level = ?, is_acknowledged = ?,
			acknowledged_by = ?, acknowledged_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	res, err := s.exec(ctx, query,
		v.VarianceType, v.BudgetedAmount.String(), v.ActualAmount.String(), v.CommittedAmount.String(),
		v.VarianceAmount.String(), v.VariancePercent.String(), v.AlertLevel, boolInt(v.IsAcknowledged),
		nullString(v.AcknowledgedBy), nullTime(v.AcknowledgedAt), formatTime(v.UpdatedAt),
		s.tenant, v.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save variance: %w", err)
	}
	if rowsAffected(res) == 0 {
		return &budget.NotFoundError{Kind: "variance", ID: string(v.ID)}
	}
	return nil
}

func (s *Store) ListVariances(ctx context.Context, f budget.VarianceFilter) ([]budget.Variance, error) {
	defer s.rlock()()

	where := []string{"tenant_id = ?"}
	args := []any{s.tenant}
	if f.BudgetID != "" {
		where = append(where, "budget_id = ?")
		args = append(args, f.BudgetID)
	}
	if f.LineID != "" {
		where = append(where, "budget_line_id = ?")
		args = append(args, f.LineID)
	}
	if f.VarianceType != "" {
		where = append(where, "variance_type = ?")
		args = append(args, f.VarianceType)
	}
	if f.AlertLevel != "" {
		where = append(where, "alert_level = ?")
		args = append(args, f.AlertLevel)
	}

	rows, err := s.query(ctx,
		"SELECT "+varianceColumns+" FROM budget_variances WHERE "+strings.Join(where, " AND ")+
			" ORDER BY updated_at DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query variances: %w", err)
	}
	defer rows.Close()

	var out []budget.Variance
	for rows.Next() {
		v, err := scanVariance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// PruneVariances deletes unacknowledged rows of the line whose type is
// not keep.
func (s *Store) PruneVariances(ctx context.Context, lineID budget.LineID, keep budget.VarianceType) (int, error) {
	defer s.lock()()

	res, err := s.exec(ctx, `
		DELETE FROM budget_variances
		WHERE tenant_id = ? AND budget_line_id = ? AND variance_type <> ? AND is_acknowledged = 0
	`, s.tenant, lineID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune variances: %w", err)
	}
	return rowsAffected(res), nil
}

func varianceArgs(tenant budget.TenantID, v budget.Variance) []any {
	return []any{
		v.ID, v.BudgetID, v.LineID, tenant, v.VarianceType, v.BudgetedAmount.String(),
		v.ActualAmount.String(), v.CommittedAmount.String(), v.VarianceAmount.String(),
		v.VariancePercent.String(), v.AlertLevel, boolInt(v.IsAcknowledged),
		nullString(v.AcknowledgedBy), nullTime(v.AcknowledgedAt),
		formatTime(v.CreatedAt), formatTime(v.UpdatedAt),
	}
}

func scanVariance(row scanner) (budget.Variance, error) {
	var (
		v                              budget.Variance
		createdAt, updated             string
		acknowledged                   int
		acknowledgedBy, acknowledgedAt sql.NullString
	)
	err := row.Scan(
		&v.ID, &v.BudgetID, &v.LineID, &v.TenantID, &v.VarianceType, &v.BudgetedAmount,
		&v.ActualAmount, &v.CommittedAmount, &v.VarianceAmount, &v.VariancePercent, &v.AlertLevel,
		&acknowledged, &acknowledgedBy, &acknowledgedAt, &createdAt, &updated,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return v, err
		}
		return v, fmt.Errorf("failed to scan variance: %w", err)
	}
	v.IsAcknowledged = acknowledged != 0
	v.AcknowledgedBy = acknowledgedBy.String
	v.AcknowledgedAt = parseNullTime(acknowledgedAt)
	v.CreatedAt = parseTime(createdAt)
	v.UpdatedAt = parseTime(updated)
	return v, nil
}
