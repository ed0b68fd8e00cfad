package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// ACTUALS STORE (budget.ActualStore interface) - Append-only
// =============================================================================

const actualColumns = `id, budget_id, budget_line_id, tenant_id, actual_type, transaction_id,
	transaction_code, actual_amount, committed_amount, account_id, account_code,
	cost_center_id, project_id, transaction_date, recorded_at, notes`

// AppendActual adds an actual to the ledger.
func (s *Store) AppendActual(ctx context.Context, a budget.Actual) error {
	defer s.lock()()

	query := `
		INSERT INTO budget_actuals (` + actualColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		a.ID, a.BudgetID, nullString(string(a.LineID)), s.tenant, a.ActualType,
		nullString(a.TransactionID), nullString(a.TransactionCode),
		a.ActualAmount.String(), a.CommittedAmount.String(),
		nullString(a.AccountID), nullString(a.AccountCode), nullString(a.CostCenterID),
		nullString(a.ProjectID), formatTime(a.TransactionDate), formatTime(a.RecordedAt),
		nullString(a.Notes),
	)
	if err != nil {
		return fmt.Errorf("failed to append actual: %w", err)
	}
	return nil
}

func (s *Store) ListActuals(ctx context.Context, f budget.ActualFilter) ([]budget.Actual, error) {
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
	if f.ActualType != "" {
		where = append(where, "actual_type = ?")
		args = append(args, f.ActualType)
	}
	if f.From != nil {
		where = append(where, "transaction_date >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "transaction_date <= ?")
		args = append(args, formatTime(*f.To))
	}

	query := "SELECT " + actualColumns + " FROM budget_actuals WHERE " +
		strings.Join(where, " AND ") + " ORDER BY transaction_date DESC, recorded_at DESC"
	return s.queryActuals(ctx, query, args...)
}

// SumLine replays every actual of the line. Amounts are summed in Go
// with decimal arithmetic; the TEXT columns are never cast to floats.
func (s *Store) SumLine(ctx context.Context, lineID budget.LineID) (budget.Totals, error) {
	defer s.rlock()()
	return s.sum(ctx,
		"SELECT actual_amount, committed_amount FROM budget_actuals WHERE tenant_id = ? AND budget_line_id = ?",
		s.tenant, lineID,
	)
}

// SumBudget replays every actual of the budget, with or without a line.
func (s *Store) SumBudget(ctx context.Context, budgetID budget.BudgetID) (budget.Totals, error) {
	defer s.rlock()()
	return s.sum(ctx,
		"SELECT actual_amount, committed_amount FROM budget_actuals WHERE tenant_id = ? AND budget_id = ?",
		s.tenant, budgetID,
	)
}

func (s *Store) sum(ctx context.Context, query string, args ...any) (budget.Totals, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return budget.Totals{}, fmt.Errorf("failed to query actuals: %w", err)
	}
	defer rows.Close()

	var amounts []budget.Actual
	for rows.Next() {
		var a budget.Actual
		if err := rows.Scan(&a.ActualAmount, &a.CommittedAmount); err != nil {
			return budget.Totals{}, fmt.Errorf("failed to scan actual: %w", err)
		}
		amounts = append(amounts, a)
	}
	if err := rows.Err(); err != nil {
		return budget.Totals{}, err
	}
	return budget.SumActuals(amounts), nil
}

func (s *Store) queryActuals(ctx context.Context, query string, args ...any) ([]budget.Actual, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actuals: %w", err)
	}
	defer rows.Close()

	var out []budget.Actual
	for rows.Next() {
		a, err := scanActual(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanActual(rows *sql.Rows) (budget.Actual, error) {
	var (
		a                         budget.Actual
		lineID, txID, txCode      sql.NullString
		accountID, accountCode    sql.NullString
		costCenterID, projectID   sql.NullString
		notes                     sql.NullString
		transactionAt, recordedAt string
	)
	err := rows.Scan(
		&a.ID, &a.BudgetID, &lineID, &a.TenantID, &a.ActualType, &txID,
		&txCode, &a.ActualAmount, &a.CommittedAmount, &accountID, &accountCode,
		&costCenterID, &projectID, &transactionAt, &recordedAt, &notes,
	)
	if err != nil {
		return a, fmt.Errorf("failed to scan actual: %w", err)
	}
	a.LineID = budget.LineID(lineID.String)
	a.TransactionID = txID.String
	a.TransactionCode = txCode.String
	a.AccountID = accountID.String
	a.AccountCode = accountCode.String
	a.CostCenterID = costCenterID.String
	a.ProjectID = projectID.String
	a.TransactionDate = parseTime(transactionAt)
	a.RecordedAt = parseTime(recordedAt)
	a.Notes = notes.String
	return a, nil
}
