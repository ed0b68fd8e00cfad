package budget

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ALERTS - Raised when a line escalates to CRITICAL
// =============================================================================

type Alert struct {
	TenantID     TenantID
	BudgetID     BudgetID
	BudgetCode   string
	BudgetName   string
	LineID       LineID
	LineLabel    string
	VarianceType VarianceType
	Level        AlertLevel
	Budgeted     decimal.Decimal
	Spent        decimal.Decimal
	Percent      decimal.Decimal
	Message      string
	At           time.Time
}

// Notifier delivers alerts. Implementations live in package notify.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// NopNotifier drops every alert.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Alert) error { return nil }

// NewAlert builds the alert for a classified line.
func NewAlert(b Budget, l Line, v Variance) Alert {
	spent := v.ActualAmount.Add(v.CommittedAmount)
	a := Alert{
		TenantID:     b.TenantID,
		BudgetID:     b.ID,
		BudgetCode:   b.Code,
		BudgetName:   b.Name,
		LineID:       l.ID,
		LineLabel:    lineLabel(l),
		VarianceType: v.VarianceType,
		Level:        v.AlertLevel,
		Budgeted:     v.BudgetedAmount,
		Spent:        spent,
		Percent:      v.VariancePercent,
		At:           v.UpdatedAt,
	}
	a.Message = alertMessage(a)
	return a
}

func alertMessage(a Alert) string {
	subject := a.BudgetName
	if a.LineLabel != "" {
		subject = fmt.Sprintf("%s / %s", a.BudgetName, a.LineLabel)
	}
	switch {
	case a.VarianceType == VarianceOverBudget:
		return fmt.Sprintf("Budget exceeded for %s: %s spent of %s limit",
			subject, a.Spent.StringFixed(2), a.Budgeted.StringFixed(2))
	case a.Level == AlertCritical:
		return fmt.Sprintf("Critical budget alert for %s: %s%% of %s used",
			subject, a.Percent.StringFixed(1), a.Budgeted.StringFixed(2))
	default:
		return fmt.Sprintf("Budget warning for %s: %s%% of %s used",
			subject, a.Percent.StringFixed(1), a.Budgeted.StringFixed(2))
	}
}

func lineLabel(l Line) string {
	parts := make([]string, 0, 2)
	if l.AccountCode != "" {
		parts = append(parts, l.AccountCode)
	}
	if l.AccountName != "" {
		parts = append(parts, l.AccountName)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("line %d", l.LineNumber)
	}
	return strings.Join(parts, " ")
}
