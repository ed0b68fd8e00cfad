package budget

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUT LIMITS
// =============================================================================

const (
	maxCodeLen     = 50
	maxNameLen     = 255
	minFiscalYear  = 2000
	maxFiscalYear  = 2100
	minOverrunPct  = 100
	maxOverrunPct  = 500
	defaultOverrun = 110
)

// DefaultOverrunThreshold is stored when a budget omits its threshold.
var DefaultOverrunThreshold = decimal.NewFromInt(defaultOverrun)

func fieldIndex(list string, i int, field string) string {
	return fmt.Sprintf("%s[%d].%s", list, i, field)
}

func checkLen(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if n < min || n > max {
		return invalid(field, "length must be %d..%d, got %d", min, max, n)
	}
	return nil
}

func checkNonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return invalid(field, "must be >= 0, got %s", d)
	}
	return nil
}

func checkPercent(field string, d *decimal.Decimal) error {
	if d == nil {
		return nil
	}
	if d.IsNegative() || d.GreaterThan(hundred) {
		return invalid(field, "must be within 0..100, got %s", d)
	}
	return nil
}

func checkOverrun(d decimal.Decimal) error {
	if d.LessThan(decimal.NewFromInt(minOverrunPct)) || d.GreaterThan(decimal.NewFromInt(maxOverrunPct)) {
		return invalid("overrun_threshold_percent", "must be within %d..%d, got %s", minOverrunPct, maxOverrunPct, d)
	}
	return nil
}

// =============================================================================
// BUDGET INPUT
// =============================================================================

// BudgetInput creates a budget together with its initial lines.
type BudgetInput struct {
	Code                    string
	Name                    string
	Description             string
	BudgetType              BudgetType
	ScopeEntityID           string
	ScopeEntityName         string
	PeriodType              PeriodType
	FiscalYear              int
	QuarterNum              int
	MonthNum                int
	TotalBudgetAmount       decimal.Decimal
	EnforcementMode         EnforcementMode // default SOFT_WARNING
	AllowOverrun            bool
	OverrunThresholdPercent *decimal.Decimal // default 110
	CreatedBy               string
	Notes                   string
	Lines                   []LineInput
}

func (in *BudgetInput) normalize() {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if in.EnforcementMode == "" {
		in.EnforcementMode = ModeSoftWarning
	}
	if in.OverrunThresholdPercent == nil {
		d := DefaultOverrunThreshold
		in.OverrunThresholdPercent = &d
	}
}

func (in BudgetInput) validate() error {
	if err := checkLen("code", in.Code, 1, maxCodeLen); err != nil {
		return err
	}
	if err := checkLen("name", in.Name, 1, maxNameLen); err != nil {
		return err
	}
	if !in.BudgetType.Valid() {
		return invalid("budget_type", "unknown budget type %q", in.BudgetType)
	}
	if !in.PeriodType.Valid() {
		return invalid("period_type", "unknown period type %q", in.PeriodType)
	}
	if in.FiscalYear < minFiscalYear || in.FiscalYear > maxFiscalYear {
		return invalid("fiscal_year", "must be within %d..%d, got %d", minFiscalYear, maxFiscalYear, in.FiscalYear)
	}
	if in.QuarterNum < 0 || in.QuarterNum > 4 {
		return invalid("quarter_num", "must be within 1..4, got %d", in.QuarterNum)
	}
	if in.MonthNum < 0 || in.MonthNum > 12 {
		return invalid("month_num", "must be within 1..12, got %d", in.MonthNum)
	}
	if err := checkNonNegative("total_budget_amount", in.TotalBudgetAmount); err != nil {
		return err
	}
	if !in.EnforcementMode.Valid() {
		return invalid("enforcement_mode", "unknown enforcement mode %q", in.EnforcementMode)
	}
	if in.OverrunThresholdPercent != nil {
		if err := checkOverrun(*in.OverrunThresholdPercent); err != nil {
			return err
		}
	}

	seen := make(map[int]bool, len(in.Lines))
	for i, l := range in.Lines {
		if err := l.validate(fieldIndex("lines", i, "")); err != nil {
			return err
		}
		if l.LineNumber > 0 {
			if seen[l.LineNumber] {
				return invalid(fieldIndex("lines", i, "line_number"), "duplicate line number %d", l.LineNumber)
			}
			seen[l.LineNumber] = true
		}
	}
	return nil
}

// BudgetUpdate is a partial update. Nil fields are left unchanged.
type BudgetUpdate struct {
	Name                    *string
	Description             *string
	ScopeEntityID           *string
	ScopeEntityName         *string
	TotalBudgetAmount       *decimal.Decimal
	EnforcementMode         *EnforcementMode
	AllowOverrun            *bool
	OverrunThresholdPercent *decimal.Decimal
	Notes                   *string

	ChangeReason string
	ChangedBy    string
}

func (u BudgetUpdate) validate() error {
	if u.Name != nil {
		if err := checkLen("name", strings.TrimSpace(*u.Name), 1, maxNameLen); err != nil {
			return err
		}
	}
	if u.TotalBudgetAmount != nil {
		if err := checkNonNegative("total_budget_amount", *u.TotalBudgetAmount); err != nil {
			return err
		}
	}
	if u.EnforcementMode != nil && !u.EnforcementMode.Valid() {
		return invalid("enforcement_mode", "unknown enforcement mode %q", *u.EnforcementMode)
	}
	if u.OverrunThresholdPercent != nil {
		if err := checkOverrun(*u.OverrunThresholdPercent); err != nil {
			return err
		}
	}
	return nil
}

// apply copies the set fields onto b and reports whether anything changed.
func (u BudgetUpdate) apply(b *Budget) bool {
	changed := false
	setString := func(dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	setDecimal := func(dst *decimal.Decimal, src *decimal.Decimal) {
		if src != nil && !dst.Equal(*src) {
			*dst = *src
			changed = true
		}
	}

	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		setString(&b.Name, &name)
	}
	setString(&b.Description, u.Description)
	setString(&b.ScopeEntityID, u.ScopeEntityID)
	setString(&b.ScopeEntityName, u.ScopeEntityName)
	setDecimal(&b.TotalBudgetAmount, u.TotalBudgetAmount)
	setDecimal(&b.OverrunThresholdPercent, u.OverrunThresholdPercent)
	setString(&b.Notes, u.Notes)
	if u.EnforcementMode != nil && b.EnforcementMode != *u.EnforcementMode {
		b.EnforcementMode = *u.EnforcementMode
		changed = true
	}
	if u.AllowOverrun != nil && b.AllowOverrun != *u.AllowOverrun {
		b.AllowOverrun = *u.AllowOverrun
		changed = true
	}
	return changed
}

// =============================================================================
// LINE INPUT
// =============================================================================

// LineInput describes one line. LineNumber 0 means "next free number".
type LineInput struct {
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
}

// validate prefixes field names with prefix (e.g. "lines[2].").
func (in LineInput) validate(prefix string) error {
	if in.LineNumber < 0 {
		return invalid(prefix+"line_number", "must be positive, got %d", in.LineNumber)
	}
	if err := checkNonNegative(prefix+"budgeted_amount", in.BudgetedAmount); err != nil {
		return err
	}
	return checkPercent(prefix+"allocation_percent", in.AllocationPercent)
}

// LineUpdate is a partial line update.
type LineUpdate struct {
	AccountID      *string
	AccountCode    *string
	AccountName    *string
	BudgetedAmount *decimal.Decimal
	Description    *string
}

func (u LineUpdate) validate() error {
	if u.BudgetedAmount != nil {
		return checkNonNegative("budgeted_amount", *u.BudgetedAmount)
	}
	return nil
}

func (u LineUpdate) apply(l *Line) bool {
	changed := false
	for _, f := range []struct {
		dst *string
		src *string
	}{
		{&l.AccountID, u.AccountID},
		{&l.AccountCode, u.AccountCode},
		{&l.AccountName, u.AccountName},
		{&l.Description, u.Description},
	} {
		if f.src != nil && *f.dst != *f.src {
			*f.dst = *f.src
			changed = true
		}
	}
	if u.BudgetedAmount != nil && !l.BudgetedAmount.Equal(*u.BudgetedAmount) {
		l.BudgetedAmount = *u.BudgetedAmount
		changed = true
	}
	return changed
}

// =============================================================================
// ACTUAL INPUT
// =============================================================================

// ActualInput records one spend fact.
type ActualInput struct {
	BudgetID        BudgetID
	LineID          LineID // optional
	ActualType      ActualType
	TransactionID   string
	TransactionCode string
	ActualAmount    decimal.Decimal
	CommittedAmount decimal.Decimal
	AccountID       string
	AccountCode     string
	CostCenterID    string
	ProjectID       string
	TransactionDate *time.Time // default now
	Notes           string

	// Enforce runs the spend gate and the insert in one transaction and
	// rejects the posting with *BudgetExceededError when it is blocked.
	Enforce bool
}

func (in ActualInput) validate() error {
	if in.BudgetID == "" {
		return invalid("budget_id", "is required")
	}
	if !in.ActualType.Valid() {
		return invalid("actual_type", "unknown actual type %q", in.ActualType)
	}
	if err := checkNonNegative("actual_amount", in.ActualAmount); err != nil {
		return err
	}
	return checkNonNegative("committed_amount", in.CommittedAmount)
}

// =============================================================================
// APPROVAL INPUT
// =============================================================================

// ApprovalInput is one approve/reject decision on a budget.
type ApprovalInput struct {
	BudgetID     BudgetID
	Approve      bool
	ApproverID   string
	ApproverName string
	ApproverRole string
	Comment      string
}

func (in ApprovalInput) validate() error {
	if in.BudgetID == "" {
		return invalid("budget_id", "is required")
	}
	if strings.TrimSpace(in.ApproverID) == "" {
		return invalid("approver_id", "is required")
	}
	if strings.TrimSpace(in.ApproverName) == "" {
		return invalid("approver_name", "is required")
	}
	return nil
}
