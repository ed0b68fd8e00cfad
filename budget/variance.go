/*
variance.go - Variance classification for budget lines

PURPOSE:
  After spend is recorded, every line of the owning budget is
  re-classified: how much of the line has been used, is it over, and
  how loudly should the dashboard shout about it.

ALGORITHM (per line):
  spent    = actual + committed            (ledger.go, replayed)
  amount   = budgeted - spent
  percent  = spent / budgeted * 100       (stored rounded to 4 places)
  first match wins, comparing the unrounded ratio:
    spent > budgeted       -> OVER_BUDGET, CRITICAL if percent > 110 else WARNING
    percent > 80           -> THRESHOLD_WARNING, WARNING
    otherwise              -> UNDER_BUDGET, INFO

ZERO BUDGET:
  budgeted == 0 and spent == 0 -> percent 0
  budgeted == 0 and spent  > 0 -> percent OverflowPercent (999999)

PERSISTENCE:
  One row per (line, variance type), upserted in place. When a line
  moves to a new type, unacknowledged rows of its old types are pruned.
  Acknowledged rows are kept as review history.

FAILURES:
  Best effort per line: a line whose totals cannot be read is reported
  in RefreshReport.Failed, the remaining lines are still classified.

SEE ALSO:
  - ledger.go: LineTotals
  - alert.go: notifications on escalation to CRITICAL
*/
package budget

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// OverflowPercent stands in for an infinite percent when a line with a
// zero budget has spend recorded against it.
var OverflowPercent = decimal.NewFromInt(999999)

// =============================================================================
// THRESHOLDS
// =============================================================================

type Thresholds struct {
	// WarningPercent: utilization above this is THRESHOLD_WARNING.
	WarningPercent decimal.Decimal
	// CriticalPercent: over-budget utilization above this is CRITICAL.
	CriticalPercent decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningPercent:  decimal.NewFromInt(80),
		CriticalPercent: decimal.NewFromInt(110),
	}
}

// Validate checks 0 < warning <= 100 < critical.
func (t Thresholds) Validate() error {
	if !t.WarningPercent.IsPositive() || t.WarningPercent.GreaterThan(hundred) {
		return invalid("warning_percent", "must be in (0, 100], got %s", t.WarningPercent)
	}
	if !t.CriticalPercent.GreaterThan(hundred) {
		return invalid("critical_percent", "must be above 100, got %s", t.CriticalPercent)
	}
	return nil
}

// =============================================================================
// CLASSIFY - Pure classification
// =============================================================================

type Classification struct {
	BudgetedAmount  decimal.Decimal
	ActualAmount    decimal.Decimal
	CommittedAmount decimal.Decimal
	TotalSpent      decimal.Decimal
	VarianceAmount  decimal.Decimal
	VariancePercent decimal.Decimal
	VarianceType    VarianceType
	AlertLevel      AlertLevel
}

// Classify derives the variance of one line from its budgeted amount
// and ledger totals.
func Classify(budgeted decimal.Decimal, totals Totals, th Thresholds) Classification {
	spent := totals.Spent()
	c := Classification{
		BudgetedAmount:  budgeted,
		ActualAmount:    totals.Actual,
		CommittedAmount: totals.Committed,
		TotalSpent:      spent,
		VarianceAmount:  budgeted.Sub(spent),
	}

	switch {
	case !budgeted.IsZero():
		c.VariancePercent = PercentOf(spent, budgeted)
	case spent.IsPositive():
		c.VariancePercent = OverflowPercent
	default:
		c.VariancePercent = decimal.Zero
	}

	switch {
	case spent.GreaterThan(budgeted):
		c.VarianceType = VarianceOverBudget
		c.AlertLevel = AlertWarning
		if exceedsPercent(spent, budgeted, th.CriticalPercent) {
			c.AlertLevel = AlertCritical
		}
	case exceedsPercent(spent, budgeted, th.WarningPercent):
		c.VarianceType = VarianceThresholdWarning
		c.AlertLevel = AlertWarning
	default:
		c.VarianceType = VarianceUnderBudget
		c.AlertLevel = AlertInfo
	}
	return c
}

// exceedsPercent reports spent/budgeted*100 > pct without rounding.
// VariancePercent is rounded for storage only; thresholds compare exactly.
func exceedsPercent(spent, budgeted, pct decimal.Decimal) bool {
	if budgeted.IsZero() {
		return spent.IsPositive()
	}
	return spent.Mul(hundred).GreaterThan(budgeted.Mul(pct))
}

// =============================================================================
// CLASSIFIER - Recompute and persist variances for a budget
// =============================================================================

type Classifier struct {
	Store       Store
	Thresholds  Thresholds
	Concurrency int
	Notifier    Notifier
	Log         zerolog.Logger
	Now         func() time.Time
	NewID       func() string
}

// LineOutcome is the result of classifying one line.
type LineOutcome struct {
	Line      Line
	Variance  Variance
	Created   bool
	Escalated bool // alert level rose to CRITICAL in this pass
	Pruned    int
}

// RefreshReport summarizes one classification pass over a budget.
type RefreshReport struct {
	BudgetID BudgetID
	Outcomes []LineOutcome
	Failed   map[LineID]error
}

// Variances returns the upserted rows in line order.
func (r RefreshReport) Variances() []Variance {
	out := make([]Variance, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		out = append(out, o.Variance)
	}
	return out
}

// Err joins per-line failures, or nil if every line succeeded.
func (r RefreshReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("line %s: %w", id, r.Failed[LineID(id)]))
	}
	return errors.Join(errs...)
}

// Refresh classifies every line of b. The returned error is non-nil
// only when the line list itself cannot be read.
func (c *Classifier) Refresh(ctx context.Context, b Budget) (RefreshReport, error) {
	report := RefreshReport{BudgetID: b.ID, Failed: map[LineID]error{}}

	lines, err := c.Store.ListLines(ctx, b.ID)
	if err != nil {
		return report, Storage("list lines", err)
	}

	type result struct {
		outcome LineOutcome
		err     error
	}
	results := make([]result, len(lines))

	var g errgroup.Group
	g.SetLimit(max(c.Concurrency, 1))
	for i, line := range lines {
		g.Go(func() error {
			o, err := c.classifyLine(ctx, line)
			results[i] = result{outcome: o, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		if r.err != nil {
			c.Log.Error().Err(r.err).
				Str("budget_id", string(b.ID)).
				Str("line_id", string(lines[i].ID)).
				Msg("variance classification failed")
			report.Failed[lines[i].ID] = r.err
			continue
		}
		report.Outcomes = append(report.Outcomes, r.outcome)
		if r.outcome.Escalated {
			c.notify(ctx, b, r.outcome)
		}
	}
	return report, nil
}

func (c *Classifier) classifyLine(ctx context.Context, line Line) (LineOutcome, error) {
	out := LineOutcome{Line: line}

	totals, err := NewLedger(c.Store).LineTotals(ctx, line.ID)
	if err != nil {
		return out, err
	}
	cls := Classify(line.BudgetedAmount, totals, c.Thresholds)

	// Read, upsert and prune under one transaction so a concurrent pass
	// cannot slip a row in between the existence check and the write.
	err = c.Store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.ListVariances(ctx, VarianceFilter{LineID: line.ID})
		if err != nil {
			return Storage("list variances", err)
		}

		// Previous alert level = most recently updated row of the line.
		var prev *Variance
		var same *Variance
		for i := range existing {
			v := &existing[i]
			if prev == nil || v.UpdatedAt.After(prev.UpdatedAt) {
				prev = v
			}
			if v.VarianceType == cls.VarianceType {
				same = v
			}
		}

		now := c.Now()
		v := Variance{
			BudgetID:        line.BudgetID,
			LineID:          line.ID,
			TenantID:        tx.Tenant(),
			VarianceType:    cls.VarianceType,
			BudgetedAmount:  cls.BudgetedAmount,
			ActualAmount:    cls.ActualAmount,
			CommittedAmount: cls.CommittedAmount,
			VarianceAmount:  cls.VarianceAmount,
			VariancePercent: cls.VariancePercent,
			AlertLevel:      cls.AlertLevel,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if same != nil {
			v.ID = same.ID
		} else {
			v.ID = VarianceID(c.NewID())
		}

		if err := tx.UpsertVariance(ctx, v); err != nil {
			return Storage("upsert variance", err)
		}
		saved, err := tx.FindVariance(ctx, line.ID, cls.VarianceType)
		if err != nil {
			return Storage("find variance", err)
		}
		if saved == nil {
			return Storage("find variance", fmt.Errorf("variance for line %s vanished after upsert", line.ID))
		}
		pruned, err := tx.PruneVariances(ctx, line.ID, cls.VarianceType)
		if err != nil {
			return Storage("prune variances", err)
		}

		// A row we did not see beforehand but that kept another id was
		// written by a concurrent pass, which owns its creation and alert.
		lostRace := same == nil && saved.ID != v.ID
		out.Variance = *saved
		out.Pruned = pruned
		out.Created = same == nil && !lostRace
		out.Escalated = !lostRace && cls.AlertLevel == AlertCritical &&
			(prev == nil || AlertCritical.Above(prev.AlertLevel))
		return nil
	})
	return out, err
}

func (c *Classifier) notify(ctx context.Context, b Budget, o LineOutcome) {
	if c.Notifier == nil {
		return
	}
	alert := NewAlert(b, o.Line, o.Variance)
	if err := c.Notifier.Notify(ctx, alert); err != nil {
		c.Log.Warn().Err(err).
			Str("budget_id", string(b.ID)).
			Str("line_id", string(o.Line.ID)).
			Msg("variance alert not delivered")
	}
}
