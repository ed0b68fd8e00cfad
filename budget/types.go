/*
Package budget provides the budget enforcement and variance-tracking engine.

PURPOSE:
  Budgets are spending envelopes for a scope (department, project, branch,
  account category) and a period. Spend is recorded as append-only actuals
  against a budget and, optionally, one of its lines. From those facts the
  engine derives per-line variances, answers "may this spend proceed?"
  questions, and produces naive rolling forecasts.

KEY CONCEPTS IN THIS FILE (types.go):
  - Budget / Line: the envelope and its allocations
  - Actual: immutable fact of realized or committed spend
  - Variance: derived, mutable classification of one line
  - Forecast / Version / Approval: supporting records

DESIGN PRINCIPLES:
  1. Immutability: Actuals and Versions are never modified
  2. Precision: all money uses decimal.Decimal, never float64
  3. Type Safety: distinct ID types prevent mixing budget/line/tenant ids
  4. Re-derivation: totals are replayed from the ledger on every read

SEE ALSO:
  - ledger.go: aggregation over actuals
  - variance.go: variance classifier
  - enforcement.go: spend gate
  - service.go: orchestration used by the API
*/
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type BudgetID string
type LineID string
type ActualID string
type VarianceID string
type ForecastID string
type VersionID string
type ApprovalID string

// =============================================================================
// ENUMERATIONS
// =============================================================================

type BudgetType string

const (
	TypeDepartment      BudgetType = "DEPARTMENT"
	TypeProject         BudgetType = "PROJECT"
	TypeBranch          BudgetType = "BRANCH"
	TypeAccountCategory BudgetType = "ACCOUNT_CATEGORY"
)

func (t BudgetType) Valid() bool {
	switch t {
	case TypeDepartment, TypeProject, TypeBranch, TypeAccountCategory:
		return true
	}
	return false
}

type PeriodType string

const (
	PeriodAnnual    PeriodType = "ANNUAL"
	PeriodQuarterly PeriodType = "QUARTERLY"
	PeriodMonthly   PeriodType = "MONTHLY"
)

func (p PeriodType) Valid() bool {
	switch p {
	case PeriodAnnual, PeriodQuarterly, PeriodMonthly:
		return true
	}
	return false
}

// Status is the budget lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusActive    Status = "ACTIVE"
	StatusClosed    Status = "CLOSED"
	StatusArchived  Status = "ARCHIVED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusActive, StatusClosed, StatusArchived:
		return true
	}
	return false
}

// EnforcementMode controls how strictly the spend gate blocks overruns.
type EnforcementMode string

const (
	ModeSoftWarning EnforcementMode = "SOFT_WARNING"
	ModeHardBlock   EnforcementMode = "HARD_BLOCK"
	ModeAuditOnly   EnforcementMode = "AUDIT_ONLY"
)

func (m EnforcementMode) Valid() bool {
	switch m {
	case ModeSoftWarning, ModeHardBlock, ModeAuditOnly:
		return true
	}
	return false
}

type ActualType string

const (
	ActualExpense       ActualType = "EXPENSE"
	ActualInvoice       ActualType = "INVOICE"
	ActualPurchaseOrder ActualType = "PURCHASE_ORDER"
	ActualPayment       ActualType = "PAYMENT"
)

func (a ActualType) Valid() bool {
	switch a {
	case ActualExpense, ActualInvoice, ActualPurchaseOrder, ActualPayment:
		return true
	}
	return false
}

type VarianceType string

const (
	VarianceOverBudget       VarianceType = "OVER_BUDGET"
	VarianceUnderBudget      VarianceType = "UNDER_BUDGET"
	VarianceThresholdWarning VarianceType = "THRESHOLD_WARNING"
)

func (v VarianceType) Valid() bool {
	switch v {
	case VarianceOverBudget, VarianceUnderBudget, VarianceThresholdWarning:
		return true
	}
	return false
}

// AlertLevel is ordered: INFO < WARNING < CRITICAL.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

func (a AlertLevel) Valid() bool {
	return a.rank() > 0
}

func (a AlertLevel) rank() int {
	switch a {
	case AlertInfo:
		return 1
	case AlertWarning:
		return 2
	case AlertCritical:
		return 3
	}
	return 0
}

// Above reports whether a is strictly more severe than b.
func (a AlertLevel) Above(b AlertLevel) bool { return a.rank() > b.rank() }

type ForecastType string

const (
	ForecastRolling    ForecastType = "ROLLING"
	ForecastTrendBased ForecastType = "TREND_BASED"
	ForecastScenario   ForecastType = "SCENARIO"
)

func (f ForecastType) Valid() bool {
	switch f {
	case ForecastRolling, ForecastTrendBased, ForecastScenario:
		return true
	}
	return false
}

type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
)

func (c ConfidenceLevel) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

type Methodology string

const (
	MethodAverage      Methodology = "avg_of_last_n_periods"
	MethodTrend        Methodology = "trend_projection"
	MethodCustomUpload Methodology = "custom_upload"
)

func (m Methodology) Valid() bool {
	switch m {
	case MethodAverage, MethodTrend, MethodCustomUpload:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// =============================================================================
// BUDGET - Spending envelope for a scope and period
// =============================================================================

type Budget struct {
	ID                      BudgetID
	TenantID                TenantID
	Code                    string
	Name                    string
	Description             string
	BudgetType              BudgetType
	ScopeEntityID           string
	ScopeEntityName         string
	PeriodType              PeriodType
	FiscalYear              int
	QuarterNum              int // 0 = not set
	MonthNum                int // 0 = not set
	TotalBudgetAmount       decimal.Decimal
	Status                  Status
	EnforcementMode         EnforcementMode
	AllowOverrun            bool
	OverrunThresholdPercent decimal.Decimal
	VersionNumber           int
	CreatedBy               string
	CreatedAt               time.Time
	UpdatedAt               time.Time
	ApprovedBy              string
	ApprovedAt              *time.Time
	Notes                   string
}

// Line is one allocation row within a budget.
type Line struct {
	ID                LineID
	BudgetID          BudgetID
	TenantID          TenantID
	LineNumber        int
	AccountID         string
	AccountCode       string
	AccountName       string
	CostCenterID      string
	CostCenterName    string
	ProjectID         string
	ProjectName       string
	BudgetedAmount    decimal.Decimal
	AllocationPercent *decimal.Decimal
	Description       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// =============================================================================
// ACTUAL - Immutable spend fact (append-only)
// =============================================================================

type Actual struct {
	ID              ActualID
	BudgetID        BudgetID
	LineID          LineID // empty = budget-level actual
	TenantID        TenantID
	ActualType      ActualType
	TransactionID   string
	TransactionCode string
	ActualAmount    decimal.Decimal
	CommittedAmount decimal.Decimal
	AccountID       string
	AccountCode     string
	CostCenterID    string
	ProjectID       string
	TransactionDate time.Time
	RecordedAt      time.Time
	Notes           string
}

// Totals is the ledger aggregate for a line or a budget.
type Totals struct {
	Actual    decimal.Decimal
	Committed decimal.Decimal
}

// Spent returns actual + committed.
func (t Totals) Spent() decimal.Decimal { return t.Actual.Add(t.Committed) }

// Add accumulates one actual row.
func (t Totals) Add(a Actual) Totals {
	return Totals{
		Actual:    t.Actual.Add(a.ActualAmount),
		Committed: t.Committed.Add(a.CommittedAmount),
	}
}

// =============================================================================
// VARIANCE - Derived classification of one line
// =============================================================================

type Variance struct {
	ID              VarianceID
	BudgetID        BudgetID
	LineID          LineID
	TenantID        TenantID
	VarianceType    VarianceType
	BudgetedAmount  decimal.Decimal
	ActualAmount    decimal.Decimal
	CommittedAmount decimal.Decimal
	VarianceAmount  decimal.Decimal
	VariancePercent decimal.Decimal
	AlertLevel      AlertLevel
	IsAcknowledged  bool
	AcknowledgedBy  string
	AcknowledgedAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// =============================================================================
// FORECAST / VERSION / APPROVAL
// =============================================================================

type ForecastLine struct {
	LineID           LineID
	ForecastedAmount decimal.Decimal
	ConfidenceLevel  ConfidenceLevel
}

type Forecast struct {
	ID                  ForecastID
	BudgetID            BudgetID
	TenantID            TenantID
	ForecastType        ForecastType
	PeriodStart         *time.Time
	PeriodEnd           *time.Time
	Lines               []ForecastLine
	ScenarioName        string
	ScenarioDescription string
	Methodology         Methodology
	BasePeriods         int
	ConfidenceLevel     ConfidenceLevel
	VariancePercent     *decimal.Decimal
	CreatedBy           string
	CreatedAt           time.Time
}

// Version is an immutable snapshot appended on every budget mutation.
type Version struct {
	ID                VersionID
	BudgetID          BudgetID
	TenantID          TenantID
	VersionNumber     int
	Status            Status
	TotalBudgetAmount decimal.Decimal
	ChangeReason      string
	ChangedBy         string
	ChangedAt         time.Time
	Snapshot          []byte // JSON of the budget at this version
}

type Approval struct {
	ID           ApprovalID
	BudgetID     BudgetID
	TenantID     TenantID
	Sequence     int
	ApproverRole string
	ApproverID   string
	ApproverName string
	Status       ApprovalStatus
	Comment      string
	DecidedAt    *time.Time
}

// =============================================================================
// READ MODELS
// =============================================================================

// Summary is a budget header with its ledger totals.
type Summary struct {
	Budget           Budget
	TotalActual      decimal.Decimal
	TotalCommitted   decimal.Decimal
	RemainingBalance decimal.Decimal
	PercentUtilized  decimal.Decimal
}

// LineVariance is the per-line budget vs. spend view.
type LineVariance struct {
	Line             Line
	ActualAmount     decimal.Decimal
	CommittedAmount  decimal.Decimal
	RemainingBalance decimal.Decimal
	PercentUtilized  decimal.Decimal
}
