package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// HISTORY STORE (budget.HistoryStore interface)
// =============================================================================

// AppendVersion adds an immutable version snapshot.
func (s *Store) AppendVersion(ctx context.Context, v budget.Version) error {
	defer s.lock()()

	_, err := s.exec(ctx, `
		INSERT INTO budget_versions
		(id, budget_id, tenant_id, version_number, status, total_budget_amount,
		 change_reason, changed_by, changed_at, snapshot_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		v.ID, v.BudgetID, s.tenant, v.VersionNumber, v.Status, v.TotalBudgetAmount.String(),
		nullString(v.ChangeReason), nullString(v.ChangedBy), formatTime(v.ChangedAt), string(v.Snapshot),
	)
	if err != nil {
		return conflict(fmt.Errorf("failed to append version: %w", err), fmt.Sprintf("version %d", v.VersionNumber))
	}
	return nil
}

func (s *Store) ListVersions(ctx context.Context, budgetID budget.BudgetID) ([]budget.Version, error) {
	defer s.rlock()()

	rows, err := s.query(ctx, `
		SELECT id, budget_id, tenant_id, version_number, status, total_budget_amount,
		       change_reason, changed_by, changed_at, snapshot_json
		FROM budget_versions
		WHERE tenant_id = ? AND budget_id = ?
		ORDER BY version_number ASC
	`, s.tenant, budgetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var out []budget.Version
	for rows.Next() {
		var (
			v                 budget.Version
			changedAt         string
			snapshot          string
			reason, changedBy sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.BudgetID, &v.TenantID, &v.VersionNumber, &v.Status, &v.TotalBudgetAmount,
			&reason, &changedBy, &changedAt, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		v.ChangeReason = reason.String
		v.ChangedBy = changedBy.String
		v.ChangedAt = parseTime(changedAt)
		v.Snapshot = []byte(snapshot)
		out = append(out, v)
	}
	return out, rows.Err()
}

// =============================================================================
// FORECASTS
// =============================================================================

// forecastLineJSON is the stored shape of one forecast line.
type forecastLineJSON struct {
	LineID           string `json:"budget_line_id"`
	ForecastedAmount string `json:"forecasted_amount"`
	ConfidenceLevel  string `json:"confidence_level,omitempty"`
}

func (s *Store) SaveForecast(ctx context.Context, f budget.Forecast) error {
	defer s.lock()()

	lines := make([]forecastLineJSON, 0, len(f.Lines))
	for _, l := range f.Lines {
		lines = append(lines, forecastLineJSON{
			LineID:           string(l.LineID),
			ForecastedAmount: l.ForecastedAmount.String(),
			ConfidenceLevel:  string(l.ConfidenceLevel),
		})
	}
	linesJSON, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("failed to encode forecast lines: %w", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO budget_forecasts
		(id, budget_id, tenant_id, forecast_type, period_start, period_end, forecast_lines_json,
		 scenario_name, scenario_description, methodology, base_periods, confidence_level,
		 variance_percent, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID, f.BudgetID, s.tenant, f.ForecastType, nullTime(f.PeriodStart), nullTime(f.PeriodEnd),
		string(linesJSON), nullString(f.ScenarioName), nullString(f.ScenarioDescription),
		nullString(string(f.Methodology)), f.BasePeriods, nullString(string(f.ConfidenceLevel)),
		nullDecimal(f.VariancePercent), nullString(f.CreatedBy), formatTime(f.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert forecast: %w", err)
	}
	return nil
}

func (s *Store) ListForecasts(ctx context.Context, budgetID budget.BudgetID, ft budget.ForecastType) ([]budget.Forecast, error) {
	defer s.rlock()()

	query := `
		SELECT id, budget_id, tenant_id, forecast_type, period_start, period_end, forecast_lines_json,
		       scenario_name, scenario_description, methodology, base_periods, confidence_level,
		       variance_percent, created_by, created_at
		FROM budget_forecasts
		WHERE tenant_id = ? AND budget_id = ?`
	args := []any{s.tenant, budgetID}
	if ft != "" {
		query += " AND forecast_type = ?"
		args = append(args, ft)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecasts: %w", err)
	}
	defer rows.Close()

	var out []budget.Forecast
	for rows.Next() {
		var (
			f                                  budget.Forecast
			periodStart, periodEnd             sql.NullString
			scenarioName, scenarioDesc         sql.NullString
			methodology, confidence, createdBy sql.NullString
			variancePct                        decimal.NullDecimal
			linesJSON, createdAt               string
		)
		if err := rows.Scan(&f.ID, &f.BudgetID, &f.TenantID, &f.ForecastType, &periodStart, &periodEnd,
			&linesJSON, &scenarioName, &scenarioDesc, &methodology, &f.BasePeriods, &confidence,
			&variancePct, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan forecast: %w", err)
		}
		var lines []forecastLineJSON
		if err := json.Unmarshal([]byte(linesJSON), &lines); err != nil {
			return nil, fmt.Errorf("failed to decode forecast lines: %w", err)
		}
		for _, l := range lines {
			amount, err := decimal.NewFromString(l.ForecastedAmount)
			if err != nil {
				return nil, fmt.Errorf("failed to decode forecast %s line %s amount: %w", f.ID, l.LineID, err)
			}
			f.Lines = append(f.Lines, budget.ForecastLine{
				LineID:           budget.LineID(l.LineID),
				ForecastedAmount: amount,
				ConfidenceLevel:  budget.ConfidenceLevel(l.ConfidenceLevel),
			})
		}
		f.PeriodStart = parseNullTime(periodStart)
		f.PeriodEnd = parseNullTime(periodEnd)
		f.ScenarioName = scenarioName.String
		f.ScenarioDescription = scenarioDesc.String
		f.Methodology = budget.Methodology(methodology.String)
		f.ConfidenceLevel = budget.ConfidenceLevel(confidence.String)
		f.VariancePercent = nullDecimalPtr(variancePct)
		f.CreatedBy = createdBy.String
		f.CreatedAt = parseTime(createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// =============================================================================
// APPROVALS
// =============================================================================

const approvalColumns = `id, budget_id, tenant_id, approval_sequence, approver_role, approver_id,
	approver_name, status, comment, decided_at`

func (s *Store) GetApproval(ctx context.Context, budgetID budget.BudgetID, seq int) (*budget.Approval, error) {
	defer s.rlock()()

	row := s.queryRow(ctx,
		"SELECT "+approvalColumns+" FROM budget_approvals WHERE tenant_id = ? AND budget_id = ? AND approval_sequence = ?",
		s.tenant, budgetID, seq,
	)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveApproval upserts on (tenant, budget, sequence).
func (s *Store) SaveApproval(ctx context.Context, a budget.Approval) error {
	defer s.lock()()

	_, err := s.exec(ctx, `
		INSERT INTO budget_approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, budget_id, approval_sequence) DO UPDATE SET
			approver_role = excluded.approver_role,
			approver_id = excluded.approver_id,
			approver_name = excluded.approver_name,
			status = excluded.status,
			comment = excluded.comment,
			decided_at = excluded.decided_at
	`,
		a.ID, a.BudgetID, s.tenant, a.Sequence, nullString(a.ApproverRole), nullString(a.ApproverID),
		nullString(a.ApproverName), a.Status, nullString(a.Comment), nullTime(a.DecidedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save approval: %w", err)
	}
	return nil
}

func (s *Store) ListApprovals(ctx context.Context, budgetID budget.BudgetID) ([]budget.Approval, error) {
	defer s.rlock()()

	rows, err := s.query(ctx,
		"SELECT "+approvalColumns+" FROM budget_approvals WHERE tenant_id = ? AND budget_id = ? ORDER BY approval_sequence",
		s.tenant, budgetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var out []budget.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApproval(row scanner) (budget.Approval, error) {
	var (
		a                      budget.Approval
		role, approverID, name sql.NullString
		comment, decidedAt     sql.NullString
	)
	err := row.Scan(&a.ID, &a.BudgetID, &a.TenantID, &a.Sequence, &role, &approverID,
		&name, &a.Status, &comment, &decidedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return a, err
		}
		return a, fmt.Errorf("failed to scan approval: %w", err)
	}
	a.ApproverRole = role.String
	a.ApproverID = approverID.String
	a.ApproverName = name.String
	a.Comment = comment.String
	a.DecidedAt = parseNullTime(decidedAt)
	return a, nil
}
