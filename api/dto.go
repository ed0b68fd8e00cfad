/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the budget domain model from the external API contract: field names are
  snake_case, enums are their upper-case string values, and ids are plain
  strings.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  All amounts and percents are decimal.Decimal. They encode as JSON
  strings ("1250.5") and decode from either strings or numbers, so no
  value ever passes through float64.

DATES:
  Request dates accept "2006-01-02" or RFC 3339. Responses use RFC 3339.

VALIDATION:
  Validation is done by the budget service, not in DTOs. DTOs are pure
  data carriers; handlers only parse dates and query parameters.

SEE ALSO:
  - handlers.go: Uses these types
  - budget/input.go: domain inputs these requests convert into
*/
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// BUDGETS
// =============================================================================

// BudgetDTO represents a budget header in API responses.
type BudgetDTO struct {
	ID                      string          `json:"id"`
	TenantID                string          `json:"tenant_id"`
	Code                    string          `json:"budget_code"`
	Name                    string          `json:"budget_name"`
	Description             string          `json:"description,omitempty"`
	BudgetType              string          `json:"budget_type"`
	ScopeEntityID           string          `json:"scope_entity_id,omitempty"`
	ScopeEntityName         string          `json:"scope_entity_name,omitempty"`
	PeriodType              string          `json:"period_type"`
	FiscalYear              int             `json:"fiscal_year"`
	QuarterNum              int             `json:"quarter_num,omitempty"`
	MonthNum                int             `json:"month_num,omitempty"`
	TotalBudgetAmount       decimal.Decimal `json:"total_budget_amount"`
	Status                  string          `json:"status"`
	EnforcementMode         string          `json:"enforcement_mode"`
	AllowOverrun            bool            `json:"allow_overrun"`
	OverrunThresholdPercent decimal.Decimal `json:"overrun_threshold_percent"`
	VersionNumber           int             `json:"version_number"`
	CreatedBy               string          `json:"created_by,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
	ApprovedBy              string          `json:"approved_by,omitempty"`
	ApprovedAt              *time.Time      `json:"approved_at,omitempty"`
	Notes                   string          `json:"notes,omitempty"`
}

// BudgetSummaryDTO is a budget header with its ledger totals.
type BudgetSummaryDTO struct {
	BudgetDTO
	TotalActual      decimal.Decimal `json:"total_actual"`
	TotalCommitted   decimal.Decimal `json:"total_committed"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	PercentUtilized  decimal.Decimal `json:"percent_utilized"`
}

// BudgetResponse is returned by create: the header plus its lines.
type BudgetResponse struct {
	Budget BudgetDTO `json:"budget"`
	Lines  []LineDTO `json:"lines"`
}

// CreateBudgetRequest creates a budget with its initial lines.
type CreateBudgetRequest struct {
	Code                    string           `json:"budget_code"`
	Name                    string           `json:"budget_name"`
	Description             string           `json:"description"`
	BudgetType              string           `json:"budget_type"`
	ScopeEntityID           string           `json:"scope_entity_id"`
	ScopeEntityName         string           `json:"scope_entity_name"`
	PeriodType              string           `json:"period_type"`
	FiscalYear              int              `json:"fiscal_year"`
	QuarterNum              int              `json:"quarter_num"`
	MonthNum                int              `json:"month_num"`
	TotalBudgetAmount       decimal.Decimal  `json:"total_budget_amount"`
	EnforcementMode         string           `json:"enforcement_mode"`
	AllowOverrun            bool             `json:"allow_overrun"`
	OverrunThresholdPercent *decimal.Decimal `json:"overrun_threshold_percent"`
	CreatedBy               string           `json:"created_by"`
	Notes                   string           `json:"notes"`
	Lines                   []LineRequest    `json:"lines"`
}

// UpdateBudgetRequest is a partial update; absent fields are unchanged.
type UpdateBudgetRequest struct {
	Name                    *string          `json:"budget_name"`
	Description             *string          `json:"description"`
	ScopeEntityID           *string          `json:"scope_entity_id"`
	ScopeEntityName         *string          `json:"scope_entity_name"`
	TotalBudgetAmount       *decimal.Decimal `json:"total_budget_amount"`
	EnforcementMode         *string          `json:"enforcement_mode"`
	AllowOverrun            *bool            `json:"allow_overrun"`
	OverrunThresholdPercent *decimal.Decimal `json:"overrun_threshold_percent"`
	Notes                   *string          `json:"notes"`
	ChangeReason            string           `json:"change_reason"`
	ChangedBy               string           `json:"changed_by"`
}

// StatusRequest moves a budget along its lifecycle.
type StatusRequest struct {
	Status    string `json:"status"`
	ChangedBy string `json:"changed_by"`
}

// VersionDTO is one entry of a budget's history.
type VersionDTO struct {
	ID                string          `json:"id"`
	VersionNumber     int             `json:"version_number"`
	Status            string          `json:"status"`
	TotalBudgetAmount decimal.Decimal `json:"total_budget_amount"`
	ChangeReason      string          `json:"change_reason"`
	ChangedBy         string          `json:"changed_by,omitempty"`
	ChangedAt         time.Time       `json:"changed_at"`
	Snapshot          json.RawMessage `json:"snapshot,omitempty"`
}

// =============================================================================
// LINES
// =============================================================================

// LineDTO represents a budget line.
type LineDTO struct {
	ID                string           `json:"id"`
	BudgetID          string           `json:"budget_id"`
	LineNumber        int              `json:"line_number"`
	AccountID         string           `json:"account_id,omitempty"`
	AccountCode       string           `json:"account_code,omitempty"`
	AccountName       string           `json:"account_name,omitempty"`
	CostCenterID      string           `json:"cost_center_id,omitempty"`
	CostCenterName    string           `json:"cost_center_name,omitempty"`
	ProjectID         string           `json:"project_id,omitempty"`
	ProjectName       string           `json:"project_name,omitempty"`
	BudgetedAmount    decimal.Decimal  `json:"budgeted_amount"`
	AllocationPercent *decimal.Decimal `json:"allocation_percent,omitempty"`
	Description       string           `json:"description,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// LineVarianceDTO is a line with its ledger totals.
type LineVarianceDTO struct {
	LineDTO
	ActualAmount     decimal.Decimal `json:"actual_amount"`
	CommittedAmount  decimal.Decimal `json:"committed_amount"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	PercentUtilized  decimal.Decimal `json:"percent_utilized"`
}

// LineRequest adds a line. line_number 0 or absent takes the next number.
type LineRequest struct {
	LineNumber        int              `json:"line_number"`
	AccountID         string           `json:"account_id"`
	AccountCode       string           `json:"account_code"`
	AccountName       string           `json:"account_name"`
	CostCenterID      string           `json:"cost_center_id"`
	CostCenterName    string           `json:"cost_center_name"`
	ProjectID         string           `json:"project_id"`
	ProjectName       string           `json:"project_name"`
	BudgetedAmount    decimal.Decimal  `json:"budgeted_amount"`
	AllocationPercent *decimal.Decimal `json:"allocation_percent"`
	Description       string           `json:"description"`
}

// UpdateLineRequest is a partial line update.
type UpdateLineRequest struct {
	AccountID      *string          `json:"account_id"`
	AccountCode    *string          `json:"account_code"`
	AccountName    *string          `json:"account_name"`
	BudgetedAmount *decimal.Decimal `json:"budgeted_amount"`
	Description    *string          `json:"description"`
}

// =============================================================================
// ACTUALS
// =============================================================================

// ActualDTO is one ledger row.
type ActualDTO struct {
	ID              string          `json:"id"`
	BudgetID        string          `json:"budget_id"`
	LineID          string          `json:"budget_line_id,omitempty"`
	ActualType      string          `json:"actual_type"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	TransactionCode string          `json:"transaction_code,omitempty"`
	ActualAmount    decimal.Decimal `json:"actual_amount"`
	CommittedAmount decimal.Decimal `json:"committed_amount"`
	AccountID       string          `json:"account_id,omitempty"`
	AccountCode     string          `json:"account_code,omitempty"`
	CostCenterID    string          `json:"cost_center_id,omitempty"`
	ProjectID       string          `json:"project_id,omitempty"`
	TransactionDate time.Time       `json:"transaction_date"`
	RecordedAt      time.Time       `json:"recorded_at"`
	Notes           string          `json:"notes,omitempty"`
}

// RecordActualRequest posts spend against a budget.
type RecordActualRequest struct {
	LineID          string          `json:"budget_line_id"`
	ActualType      string          `json:"actual_type"`
	TransactionID   string          `json:"transaction_id"`
	TransactionCode string          `json:"transaction_code"`
	ActualAmount    decimal.Decimal `json:"actual_amount"`
	CommittedAmount decimal.Decimal `json:"committed_amount"`
	AccountID       string          `json:"account_id"`
	AccountCode     string          `json:"account_code"`
	CostCenterID    string          `json:"cost_center_id"`
	ProjectID       string          `json:"project_id"`
	TransactionDate string          `json:"transaction_date"`
	Notes           string          `json:"notes"`
	Enforce         bool            `json:"enforce"`
}

// RecordActualResponse is the new ledger row plus the re-derived variances.
type RecordActualResponse struct {
	Actual    ActualDTO         `json:"actual"`
	Variances []VarianceDTO     `json:"variances"`
	Failed    map[string]string `json:"failed_lines,omitempty"`
}

// =============================================================================
// VARIANCES
// =============================================================================

// VarianceDTO is one derived variance row.
type VarianceDTO struct {
	ID              string          `json:"id"`
	BudgetID        string          `json:"budget_id"`
	LineID          string          `json:"budget_line_id"`
	VarianceType    string          `json:"variance_type"`
	BudgetedAmount  decimal.Decimal `json:"budgeted_amount"`
	ActualAmount    decimal.Decimal `json:"actual_amount"`
	CommittedAmount decimal.Decimal `json:"committed_amount"`
	VarianceAmount  decimal.Decimal `json:"variance_amount"`
	VariancePercent decimal.Decimal `json:"variance_percent"`
	AlertLevel      string          `json:"alert_level"`
	IsAcknowledged  bool            `json:"is_acknowledged"`
	AcknowledgedBy  string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time      `json:"acknowledged_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// AcknowledgeRequest marks a variance as reviewed.
type AcknowledgeRequest struct {
	VarianceID     string `json:"variance_id"`
	AcknowledgedBy string `json:"acknowledged_by"`
}

// RefreshResponse summarizes one classification pass.
type RefreshResponse struct {
	BudgetID  string            `json:"budget_id"`
	Variances []VarianceDTO     `json:"variances"`
	Escalated []string          `json:"escalated_lines,omitempty"`
	Failed    map[string]string `json:"failed_lines,omitempty"`
}

// =============================================================================
// ENFORCEMENT
// =============================================================================

// EnforcementRequest asks whether a proposed spend may proceed.
type EnforcementRequest struct {
	LineID         string          `json:"budget_line_id"`
	ProposedAmount decimal.Decimal `json:"proposed_amount"`
}

// DecisionDTO is the gate's answer.
type DecisionDTO struct {
	CanProceed       bool            `json:"can_proceed"`
	WouldExceed      bool            `json:"would_exceed"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	EnforcementMode  string          `json:"enforcement_mode"`
	Message          string          `json:"message"`
}

// =============================================================================
// FORECASTS
// =============================================================================

// ForecastLineDTO is one forecasted line amount.
type ForecastLineDTO struct {
	LineID           string          `json:"budget_line_id"`
	ForecastedAmount decimal.Decimal `json:"forecasted_amount"`
	ConfidenceLevel  string          `json:"confidence_level,omitempty"`
}

// ForecastDTO is a stored forecast.
type ForecastDTO struct {
	ID                  string            `json:"id"`
	BudgetID            string            `json:"budget_id"`
	ForecastType        string            `json:"forecast_type"`
	PeriodStart         *time.Time        `json:"forecast_period_start,omitempty"`
	PeriodEnd           *time.Time        `json:"forecast_period_end,omitempty"`
	Lines               []ForecastLineDTO `json:"forecast_lines"`
	ScenarioName        string            `json:"scenario_name,omitempty"`
	ScenarioDescription string            `json:"scenario_description,omitempty"`
	Methodology         string            `json:"methodology,omitempty"`
	BasePeriods         int               `json:"base_periods,omitempty"`
	ConfidenceLevel     string            `json:"confidence_level,omitempty"`
	VariancePercent     *decimal.Decimal  `json:"variance_percent,omitempty"`
	CreatedBy           string            `json:"created_by,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}

// ForecastRequest either generates a rolling forecast from history
// (generate_rolling) or stores a manual forecast.
type ForecastRequest struct {
	GenerateRolling     bool              `json:"generate_rolling"`
	BasePeriods         int               `json:"base_periods"`
	ForecastType        string            `json:"forecast_type"`
	PeriodStart         string            `json:"forecast_period_start"`
	PeriodEnd           string            `json:"forecast_period_end"`
	Lines               []ForecastLineDTO `json:"forecast_lines"`
	ScenarioName        string            `json:"scenario_name"`
	ScenarioDescription string            `json:"scenario_description"`
	Methodology         string            `json:"methodology"`
	ConfidenceLevel     string            `json:"confidence_level"`
	VariancePercent     *decimal.Decimal  `json:"variance_percent"`
	CreatedBy           string            `json:"created_by"`
}

// =============================================================================
// APPROVALS
// =============================================================================

// ApprovalDTO is one approval decision.
type ApprovalDTO struct {
	ID           string     `json:"id"`
	BudgetID     string     `json:"budget_id"`
	Sequence     int        `json:"approval_sequence"`
	ApproverRole string     `json:"approver_role,omitempty"`
	ApproverID   string     `json:"approver_id"`
	ApproverName string     `json:"approver_name"`
	Status       string     `json:"status"`
	Comment      string     `json:"comment,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
}

// ApprovalRequest approves or rejects a budget.
type ApprovalRequest struct {
	Approve      bool   `json:"approve"`
	ApproverID   string `json:"approver_id"`
	ApproverName string `json:"approver_name"`
	ApproverRole string `json:"approver_role"`
	Comment      string `json:"comment"`
}

// ApprovalResponse is the decision plus the budget after it.
type ApprovalResponse struct {
	Approval ApprovalDTO `json:"approval"`
	Budget   BudgetDTO   `json:"budget"`
}

// =============================================================================
// CONVERSIONS - domain -> DTO
// =============================================================================

func toBudgetDTO(b budget.Budget) BudgetDTO {
	return BudgetDTO{
		ID:                      string(b.ID),
		TenantID:                string(b.TenantID),
		Code:                    b.Code,
		Name:                    b.Name,
		Description:             b.Description,
		BudgetType:              string(b.BudgetType),
		ScopeEntityID:           b.ScopeEntityID,
		ScopeEntityName:         b.ScopeEntityName,
		PeriodType:              string(b.PeriodType),
		FiscalYear:              b.FiscalYear,
		QuarterNum:              b.QuarterNum,
		MonthNum:                b.MonthNum,
		TotalBudgetAmount:       b.TotalBudgetAmount,
		Status:                  string(b.Status),
		EnforcementMode:         string(b.EnforcementMode),
		AllowOverrun:            b.AllowOverrun,
		OverrunThresholdPercent: b.OverrunThresholdPercent,
		VersionNumber:           b.VersionNumber,
		CreatedBy:               b.CreatedBy,
		CreatedAt:               b.CreatedAt,
		UpdatedAt:               b.UpdatedAt,
		ApprovedBy:              b.ApprovedBy,
		ApprovedAt:              b.ApprovedAt,
		Notes:                   b.Notes,
	}
}

func toSummaryDTO(s budget.Summary) BudgetSummaryDTO {
	return BudgetSummaryDTO{
		BudgetDTO:        toBudgetDTO(s.Budget),
		TotalActual:      s.TotalActual,
		TotalCommitted:   s.TotalCommitted,
		RemainingBalance: s.RemainingBalance,
		PercentUtilized:  s.PercentUtilized,
	}
}

func toLineDTO(l budget.Line) LineDTO {
	return LineDTO{
		ID:                string(l.ID),
		BudgetID:          string(l.BudgetID),
		LineNumber:        l.LineNumber,
		AccountID:         l.AccountID,
		AccountCode:       l.AccountCode,
		AccountName:       l.AccountName,
		CostCenterID:      l.CostCenterID,
		CostCenterName:    l.CostCenterName,
		ProjectID:         l.ProjectID,
		ProjectName:       l.ProjectName,
		BudgetedAmount:    l.BudgetedAmount,
		AllocationPercent: l.AllocationPercent,
		Description:       l.Description,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
}

func toLineDTOs(lines []budget.Line) []LineDTO {
	out := make([]LineDTO, 0, len(lines))
	for _, l := range lines {
		out = append(out, toLineDTO(l))
	}
	return out
}

func toActualDTO(a budget.Actual) ActualDTO {
	return ActualDTO{
		ID:              string(a.ID),
		BudgetID:        string(a.BudgetID),
		LineID:          string(a.LineID),
		ActualType:      string(a.ActualType),
		TransactionID:   a.TransactionID,
		TransactionCode: a.TransactionCode,
		ActualAmount:    a.ActualAmount,
		CommittedAmount: a.CommittedAmount,
		AccountID:       a.AccountID,
		AccountCode:     a.AccountCode,
		CostCenterID:    a.CostCenterID,
		ProjectID:       a.ProjectID,
		TransactionDate: a.TransactionDate,
		RecordedAt:      a.RecordedAt,
		Notes:           a.Notes,
	}
}

func toVarianceDTO(v budget.Variance) VarianceDTO {
	return VarianceDTO{
		ID:              string(v.ID),
		BudgetID:        string(v.BudgetID),
		LineID:          string(v.LineID),
		VarianceType:    string(v.VarianceType),
		BudgetedAmount:  v.BudgetedAmount,
		ActualAmount:    v.ActualAmount,
		CommittedAmount: v.CommittedAmount,
		VarianceAmount:  v.VarianceAmount,
		VariancePercent: v.VariancePercent,
		AlertLevel:      string(v.AlertLevel),
		IsAcknowledged:  v.IsAcknowledged,
		AcknowledgedBy:  v.AcknowledgedBy,
		AcknowledgedAt:  v.AcknowledgedAt,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
}

func toVarianceDTOs(rows []budget.Variance) []VarianceDTO {
	out := make([]VarianceDTO, 0, len(rows))
	for _, v := range rows {
		out = append(out, toVarianceDTO(v))
	}
	return out
}

func toRefreshResponse(r budget.RefreshReport) RefreshResponse {
	resp := RefreshResponse{
		BudgetID:  string(r.BudgetID),
		Variances: toVarianceDTOs(r.Variances()),
		Failed:    failedLines(r),
	}
	for _, o := range r.Outcomes {
		if o.Escalated {
			resp.Escalated = append(resp.Escalated, string(o.Line.ID))
		}
	}
	return resp
}

func failedLines(r budget.RefreshReport) map[string]string {
	if len(r.Failed) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.Failed))
	for id, err := range r.Failed {
		out[string(id)] = err.Error()
	}
	return out
}

func toDecisionDTO(d budget.Decision) DecisionDTO {
	return DecisionDTO{
		CanProceed:       d.CanProceed,
		WouldExceed:      d.WouldExceed,
		RemainingBalance: d.RemainingBalance,
		EnforcementMode:  string(d.EnforcementMode),
		Message:          d.Message,
	}
}

func toVersionDTO(v budget.Version) VersionDTO {
	dto := VersionDTO{
		ID:                string(v.ID),
		VersionNumber:     v.VersionNumber,
		Status:            string(v.Status),
		TotalBudgetAmount: v.TotalBudgetAmount,
		ChangeReason:      v.ChangeReason,
		ChangedBy:         v.ChangedBy,
		ChangedAt:         v.ChangedAt,
	}
	if json.Valid(v.Snapshot) {
		dto.Snapshot = json.RawMessage(v.Snapshot)
	}
	return dto
}

func toForecastDTO(f budget.Forecast) ForecastDTO {
	lines := make([]ForecastLineDTO, 0, len(f.Lines))
	for _, l := range f.Lines {
		lines = append(lines, ForecastLineDTO{
			LineID:           string(l.LineID),
			ForecastedAmount: l.ForecastedAmount,
			ConfidenceLevel:  string(l.ConfidenceLevel),
		})
	}
	return ForecastDTO{
		ID:                  string(f.ID),
		BudgetID:            string(f.BudgetID),
		ForecastType:        string(f.ForecastType),
		PeriodStart:         f.PeriodStart,
		PeriodEnd:           f.PeriodEnd,
		Lines:               lines,
		ScenarioName:        f.ScenarioName,
		ScenarioDescription: f.ScenarioDescription,
		Methodology:         string(f.Methodology),
		BasePeriods:         f.BasePeriods,
		ConfidenceLevel:     string(f.ConfidenceLevel),
		VariancePercent:     f.VariancePercent,
		CreatedBy:           f.CreatedBy,
		CreatedAt:           f.CreatedAt,
	}
}

func toApprovalDTO(a budget.Approval) ApprovalDTO {
	return ApprovalDTO{
		ID:           string(a.ID),
		BudgetID:     string(a.BudgetID),
		Sequence:     a.Sequence,
		ApproverRole: a.ApproverRole,
		ApproverID:   a.ApproverID,
		ApproverName: a.ApproverName,
		Status:       string(a.Status),
		Comment:      a.Comment,
		DecidedAt:    a.DecidedAt,
	}
}

// =============================================================================
// CONVERSIONS - request -> domain
// =============================================================================

func (r CreateBudgetRequest) toInput() budget.BudgetInput {
	in := budget.BudgetInput{
		Code:                    r.Code,
		Name:                    r.Name,
		Description:             r.Description,
		BudgetType:              budget.BudgetType(r.BudgetType),
		ScopeEntityID:           r.ScopeEntityID,
		ScopeEntityName:         r.ScopeEntityName,
		PeriodType:              budget.PeriodType(r.PeriodType),
		FiscalYear:              r.FiscalYear,
		QuarterNum:              r.QuarterNum,
		MonthNum:                r.MonthNum,
		TotalBudgetAmount:       r.TotalBudgetAmount,
		EnforcementMode:         budget.EnforcementMode(r.EnforcementMode),
		AllowOverrun:            r.AllowOverrun,
		OverrunThresholdPercent: r.OverrunThresholdPercent,
		CreatedBy:               r.CreatedBy,
		Notes:                   r.Notes,
	}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, l.toInput())
	}
	return in
}

func (r UpdateBudgetRequest) toUpdate() budget.BudgetUpdate {
	u := budget.BudgetUpdate{
		Name:                    r.Name,
		Description:             r.Description,
		ScopeEntityID:           r.ScopeEntityID,
		ScopeEntityName:         r.ScopeEntityName,
		TotalBudgetAmount:       r.TotalBudgetAmount,
		AllowOverrun:            r.AllowOverrun,
		OverrunThresholdPercent: r.OverrunThresholdPercent,
		Notes:                   r.Notes,
		ChangeReason:            r.ChangeReason,
		ChangedBy:               r.ChangedBy,
	}
	if r.EnforcementMode != nil {
		m := budget.EnforcementMode(*r.EnforcementMode)
		u.EnforcementMode = &m
	}
	return u
}

func (r LineRequest) toInput() budget.LineInput {
	return budget.LineInput{
		LineNumber:        r.LineNumber,
		AccountID:         r.AccountID,
		AccountCode:       r.AccountCode,
		AccountName:       r.AccountName,
		CostCenterID:      r.CostCenterID,
		CostCenterName:    r.CostCenterName,
		ProjectID:         r.ProjectID,
		ProjectName:       r.ProjectName,
		BudgetedAmount:    r.BudgetedAmount,
		AllocationPercent: r.AllocationPercent,
		Description:       r.Description,
	}
}

func (r UpdateLineRequest) toUpdate() budget.LineUpdate {
	return budget.LineUpdate{
		AccountID:      r.AccountID,
		AccountCode:    r.AccountCode,
		AccountName:    r.AccountName,
		BudgetedAmount: r.BudgetedAmount,
		Description:    r.Description,
	}
}

func (r RecordActualRequest) toInput(budgetID budget.BudgetID) (budget.ActualInput, error) {
	date, err := parseDate("transaction_date", r.TransactionDate)
	if err != nil {
		return budget.ActualInput{}, err
	}
	return budget.ActualInput{
		BudgetID:        budgetID,
		LineID:          budget.LineID(r.LineID),
		ActualType:      budget.ActualType(r.ActualType),
		TransactionID:   r.TransactionID,
		TransactionCode: r.TransactionCode,
		ActualAmount:    r.ActualAmount,
		CommittedAmount: r.CommittedAmount,
		AccountID:       r.AccountID,
		AccountCode:     r.AccountCode,
		CostCenterID:    r.CostCenterID,
		ProjectID:       r.ProjectID,
		TransactionDate: date,
		Notes:           r.Notes,
		Enforce:         r.Enforce,
	}, nil
}

func (r ForecastRequest) toInput(budgetID budget.BudgetID) (budget.ForecastInput, error) {
	start, err := parseDate("forecast_period_start", r.PeriodStart)
	if err != nil {
		return budget.ForecastInput{}, err
	}
	end, err := parseDate("forecast_period_end", r.PeriodEnd)
	if err != nil {
		return budget.ForecastInput{}, err
	}
	in := budget.ForecastInput{
		BudgetID:            budgetID,
		ForecastType:        budget.ForecastType(r.ForecastType),
		PeriodStart:         start,
		PeriodEnd:           end,
		ScenarioName:        r.ScenarioName,
		ScenarioDescription: r.ScenarioDescription,
		Methodology:         budget.Methodology(r.Methodology),
		BasePeriods:         r.BasePeriods,
		ConfidenceLevel:     budget.ConfidenceLevel(r.ConfidenceLevel),
		VariancePercent:     r.VariancePercent,
		CreatedBy:           r.CreatedBy,
	}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, budget.ForecastLine{
			LineID:           budget.LineID(l.LineID),
			ForecastedAmount: l.ForecastedAmount,
			ConfidenceLevel:  budget.ConfidenceLevel(l.ConfidenceLevel),
		})
	}
	return in, nil
}

func (r ApprovalRequest) toInput(budgetID budget.BudgetID) budget.ApprovalInput {
	return budget.ApprovalInput{
		BudgetID:     budgetID,
		Approve:      r.Approve,
		ApproverID:   r.ApproverID,
		ApproverName: r.ApproverName,
		ApproverRole: r.ApproverRole,
		Comment:      r.Comment,
	}
}

// =============================================================================
// DATES
// =============================================================================

// parseDate accepts "2006-01-02" or RFC 3339. Empty means unset.
func parseDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, &budget.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid date %q, want YYYY-MM-DD or RFC 3339", s),
		}
	}
	t = t.UTC()
	return &t, nil
}
