/*
lifecycle.go - Budget status machine and version history

STATUS MACHINE:
  DRAFT ──▶ SUBMITTED ──▶ APPROVED ──▶ ACTIVE ──▶ CLOSED ──▶ ARCHIVED
    ▲           │
    └───────────┘  (returned for rework)

VERSIONING:
  Every mutation of a budget header (field update, status change,
  approval) increments VersionNumber by exactly one and appends exactly
  one immutable Version carrying a JSON snapshot of the header. Creation
  writes version 1.
*/
package budget

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var transitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted},
	StatusSubmitted: {StatusDraft, StatusApproved},
	StatusApproved:  {StatusActive},
	StatusActive:    {StatusClosed},
	StatusClosed:    {StatusArchived},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const (
	reasonCreated  = "Budget created"
	reasonUpdated  = "Budget updated"
	reasonApproved = "Budget approved"
)

func reasonStatus(s Status) string {
	return fmt.Sprintf("Status changed to %s", s)
}

// snapshot is the stored JSON shape of a budget version.
type snapshot struct {
	ID                      BudgetID        `json:"id"`
	Code                    string          `json:"code"`
	Name                    string          `json:"name"`
	Description             string          `json:"description,omitempty"`
	BudgetType              BudgetType      `json:"budget_type"`
	ScopeEntityID           string          `json:"scope_entity_id,omitempty"`
	ScopeEntityName         string          `json:"scope_entity_name,omitempty"`
	PeriodType              PeriodType      `json:"period_type"`
	FiscalYear              int             `json:"fiscal_year"`
	QuarterNum              int             `json:"quarter_num,omitempty"`
	MonthNum                int             `json:"month_num,omitempty"`
	TotalBudgetAmount       decimal.Decimal `json:"total_budget_amount"`
	Status                  Status          `json:"status"`
	EnforcementMode         EnforcementMode `json:"enforcement_mode"`
	AllowOverrun            bool            `json:"allow_overrun"`
	OverrunThresholdPercent decimal.Decimal `json:"overrun_threshold_percent"`
	VersionNumber           int             `json:"version_number"`
	ApprovedBy              string          `json:"approved_by,omitempty"`
	ApprovedAt              *time.Time      `json:"approved_at,omitempty"`
	Notes                   string          `json:"notes,omitempty"`
}

func snapshotOf(b Budget) ([]byte, error) {
	return json.Marshal(snapshot{
		ID:                      b.ID,
		Code:                    b.Code,
		Name:                    b.Name,
		Description:             b.Description,
		BudgetType:              b.BudgetType,
		ScopeEntityID:           b.ScopeEntityID,
		ScopeEntityName:         b.ScopeEntityName,
		PeriodType:              b.PeriodType,
		FiscalYear:              b.FiscalYear,
		QuarterNum:              b.QuarterNum,
		MonthNum:                b.MonthNum,
		TotalBudgetAmount:       b.TotalBudgetAmount,
		Status:                  b.Status,
		EnforcementMode:         b.EnforcementMode,
		AllowOverrun:            b.AllowOverrun,
		OverrunThresholdPercent: b.OverrunThresholdPercent,
		VersionNumber:           b.VersionNumber,
		ApprovedBy:              b.ApprovedBy,
		ApprovedAt:              b.ApprovedAt,
		Notes:                   b.Notes,
	})
}
