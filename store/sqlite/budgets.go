package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// BUDGET STORE (budget.BudgetStore interface)
// =============================================================================

const budgetColumns = `id, tenant_id, code, name, description, budget_type, scope_entity_id,
	scope_entity_name, period_type, fiscal_year, quarter_num, month_num, total_budget_amount,
	status, enforcement_mode, allow_overrun, overrun_threshold_percent, version_number,
	created_by, created_at, updated_at, approved_by, approved_at, notes`

func (s *Store) CreateBudget(ctx context.Context, b budget.Budget) error {
	defer s.lock()()

	query := `
		INSERT INTO budgets (` + budgetColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		b.ID, s.tenant, b.Code, b.Name, nullString(b.Description), b.BudgetType,
		nullString(b.ScopeEntityID), nullString(b.ScopeEntityName), b.PeriodType,
		b.FiscalYear, b.QuarterNum, b.MonthNum, b.TotalBudgetAmount.String(),
		b.Status, b.EnforcementMode, boolInt(b.AllowOverrun), b.OverrunThresholdPercent.String(),
		b.VersionNumber, nullString(b.CreatedBy), formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
		nullString(b.ApprovedBy), nullTime(b.ApprovedAt), nullString(b.Notes),
	)
	if err != nil {
		return conflict(fmt.Errorf("failed to insert budget: %w", err), "budget code "+b.Code)
	}
	return nil
}

func (s *Store) GetBudget(ctx context.Context, id budget.BudgetID) (*budget.Budget, error) {
	defer s.rlock()()

	row := s.queryRow(ctx,
		"SELECT "+budgetColumns+" FROM budgets WHERE tenant_id = ? AND id = ?",
		s.tenant, id,
	)
	b, err := scanBudget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBudgets(ctx context.Context, f budget.BudgetFilter) ([]budget.Budget, error) {
	defer s.rlock()()

	where := []string{"tenant_id = ?"}
	args := []any{s.tenant}
	if f.Code != "" {
		where = append(where, "code = ?")
		args = append(args, f.Code)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.BudgetType != "" {
		where = append(where, "budget_type = ?")
		args = append(args, f.BudgetType)
	}
	if f.FiscalYear != 0 {
		where = append(where, "fiscal_year = ?")
		args = append(args, f.FiscalYear)
	}

	rows, err := s.query(ctx,
		"SELECT "+budgetColumns+" FROM budgets WHERE "+strings.Join(where, " AND ")+" ORDER BY created_at DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer rows.Close()

	var out []budget.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBudget(ctx context.Context, b budget.Budget) error {
	defer s.lock()()

	query := `
		UPDATE budgets SET
			name = ?, description = ?, scope_entity_id = ?, scope_entity_name = ?,
			total_budget_amount = ?, status = ?, enforcement_mode = ?, allow_overrun = ?,
			overrun_threshold_percent = ?, version_number = ?, updated_at = ?,
			approved_by = ?, approved_at = ?, notes = ?
		WHERE tenant_id = ? AND id = ?
	`
	res, err := s.exec(ctx, query,
		b.Name, nullString(b.Description), nullString(b.ScopeEntityID), nullString(b.ScopeEntityName),
		b.TotalBudgetAmount.String(), b.Status, b.EnforcementMode, boolInt(b.AllowOverrun),
		b.OverrunThresholdPercent.String(), b.VersionNumber, formatTime(b.UpdatedAt),
		nullString(b.ApprovedBy), nullTime(b.ApprovedAt), nullString(b.Notes),
		s.tenant, b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update budget: %w", err)
	}
	if rowsAffected(res) == 0 {
		return &budget.NotFoundError{Kind: "budget", ID: string(b.ID)}
	}
	return nil
}

// DeleteBudget removes children first so foreign keys hold throughout.
func (s *Store) DeleteBudget(ctx context.Context, id budget.BudgetID) (bool, error) {
	found := false
	err := s.WithTx(ctx, func(st budget.Store) error {
		tx := st.(*Store)
		for _, table := range []string{
			"budget_variances", "budget_actuals", "budget_forecasts",
			"budget_versions", "budget_approvals", "budget_lines",
		} {
			if _, err := tx.exec(ctx,
				"DELETE FROM "+table+" WHERE tenant_id = ? AND budget_id = ?", tx.tenant, id,
			); err != nil {
				return fmt.Errorf("failed to delete from %s: %w", table, err)
			}
		}
		res, err := tx.exec(ctx, "DELETE FROM budgets WHERE tenant_id = ? AND id = ?", tx.tenant, id)
		if err != nil {
			return fmt.Errorf("failed to delete budget: %w", err)
		}
		found = rowsAffected(res) > 0
		return nil
	})
	return found, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBudget(row scanner) (budget.Budget, error) {
	var (
		b                                          budget.Budget
		description, scopeID, scopeName, createdBy sql.NullString
		approvedBy, approvedAt, notes              sql.NullString
		createdAt, updatedAt                       string
		allowOverrun                               int
	)
	err := row.Scan(
		&b.ID, &b.TenantID, &b.Code, &b.Name, &description, &b.BudgetType, &scopeID,
		&scopeName, &b.PeriodType, &b.FiscalYear, &b.QuarterNum, &b.MonthNum, &b.TotalBudgetAmount,
		&b.Status, &b.EnforcementMode, &allowOverrun, &b.OverrunThresholdPercent, &b.VersionNumber,
		&createdBy, &createdAt, &updatedAt, &approvedBy, &approvedAt, &notes,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return b, err
		}
		return b, fmt.Errorf("failed to scan budget: %w", err)
	}
	b.Description = description.String
	b.ScopeEntityID = scopeID.String
	b.ScopeEntityName = scopeName.String
	b.AllowOverrun = allowOverrun != 0
	b.CreatedBy = createdBy.String
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	b.ApprovedBy = approvedBy.String
	b.ApprovedAt = parseNullTime(approvedAt)
	b.Notes = notes.String
	return b, nil
}

// =============================================================================
// LINES
// =============================================================================

const lineColumns = `id, budget_id, tenant_id, line_number, account_id, account_code, account_name,
	cost_center_id, cost_center_name, project_id, project_name, budgeted_amount,
	allocation_percent, description, created_at, updated_at`

func (s *Store) CreateLine(ctx context.Context, l budget.Line) error {
	defer s.lock()()

	query := `
		INSERT INTO budget_lines (` + lineColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		l.ID, l.BudgetID, s.tenant, l.LineNumber, nullString(l.AccountID), nullString(l.AccountCode),
		nullString(l.AccountName), nullString(l.CostCenterID), nullString(l.CostCenterName),
		nullString(l.ProjectID), nullString(l.ProjectName), l.BudgetedAmount.String(),
		nullDecimal(l.AllocationPercent), nullString(l.Description),
		formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		return conflict(fmt.Errorf("failed to insert line: %w", err), fmt.Sprintf("line number %d", l.LineNumber))
	}
	return nil
}

func (s *Store) GetLine(ctx context.Context, id budget.LineID) (*budget.Line, error) {
	defer s.rlock()()

	row := s.queryRow(ctx,
		"SELECT "+lineColumns+" FROM budget_lines WHERE tenant_id = ? AND id = ?",
		s.tenant, id,
	)
	l, err := scanLine(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) ListLines(ctx context.Context, budgetID budget.BudgetID) ([]budget.Line, error) {
	defer s.rlock()()

	rows, err := s.query(ctx,
		"SELECT "+lineColumns+" FROM budget_lines WHERE tenant_id = ? AND budget_id = ? ORDER BY line_number",
		s.tenant, budgetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var out []budget.Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) UpdateLine(ctx context.Context, l budget.Line) error {
	defer s.lock()()

	query := `
		UPDATE budget_lines SET
			account_id = ?, account_code = ?, account_name = ?, cost_center_id = ?,
			cost_center_name = ?, project_id = ?, project_name = ?, budgeted_amount = ?,
			allocation_percent = ?, description = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	res, err := s.exec(ctx, query,
		nullString(l.AccountID), nullString(l.AccountCode), nullString(l.AccountName),
		nullString(l.CostCenterID), nullString(l.CostCenterName), nullString(l.ProjectID),
		nullString(l.ProjectName), l.BudgetedAmount.String(), nullDecimal(l.AllocationPercent),
		nullString(l.Description), formatTime(l.UpdatedAt),
		s.tenant, l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update line: %w", err)
	}
	if rowsAffected(res) == 0 {
		return &budget.NotFoundError{Kind: "line", ID: string(l.ID)}
	}
	return nil
}

// DeleteLine removes the line and its variance rows. Actuals stay.
func (s *Store) DeleteLine(ctx context.Context, id budget.LineID) (bool, error) {
	found := false
	err := s.WithTx(ctx, func(st budget.Store) error {
		tx := st.(*Store)
		if _, err := tx.exec(ctx,
			"DELETE FROM budget_variances WHERE tenant_id = ? AND budget_line_id = ?", tx.tenant, id,
		); err != nil {
			return fmt.Errorf("failed to delete line variances: %w", err)
		}
		res, err := tx.exec(ctx, "DELETE FROM budget_lines WHERE tenant_id = ? AND id = ?", tx.tenant, id)
		if err != nil {
			return fmt.Errorf("failed to delete line: %w", err)
		}
		found = rowsAffected(res) > 0
		return nil
	})
	return found, err
}

func scanLine(row scanner) (budget.Line, error) {
	var (
		l                                   budget.Line
		accountID, accountCode, accountName sql.NullString
		costCenterID, costCenterName        sql.NullString
		projectID, projectName, description sql.NullString
		allocation                          decimal.NullDecimal
		createdAt, updatedAt                string
	)
	err := row.Scan(
		&l.ID, &l.BudgetID, &l.TenantID, &l.LineNumber, &accountID, &accountCode, &accountName,
		&costCenterID, &costCenterName, &projectID, &projectName, &l.BudgetedAmount,
		&allocation, &description, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return l, err
		}
		return l, fmt.Errorf("failed to scan line: %w", err)
	}
	l.AccountID = accountID.String
	l.AccountCode = accountCode.String
	l.AccountName = accountName.String
	l.CostCenterID = costCenterID.String
	l.CostCenterName = costCenterName.String
	l.ProjectID = projectID.String
	l.ProjectName = projectName.String
	l.AllocationPercent = nullDecimalPtr(allocation)
	l.Description = description.String
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return l, nil
}
