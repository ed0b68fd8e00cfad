package budget

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECORD ACTUAL - Append to the ledger, then re-classify
// =============================================================================

// RecordActual appends one actual and re-classifies the budget's lines.
// The refresh is best effort: its failures are logged and reported but
// never undo the append.
func (s *Service) RecordActual(ctx context.Context, in ActualInput) (*Actual, RefreshReport, error) {
	if err := in.validate(); err != nil {
		return nil, RefreshReport{}, err
	}

	now := s.now()
	a := Actual{
		ID:              ActualID(s.newID()),
		BudgetID:        in.BudgetID,
		LineID:          in.LineID,
		TenantID:        s.store.Tenant(),
		ActualType:      in.ActualType,
		TransactionID:   in.TransactionID,
		TransactionCode: in.TransactionCode,
		ActualAmount:    in.ActualAmount,
		CommittedAmount: in.CommittedAmount,
		AccountID:       in.AccountID,
		AccountCode:     in.AccountCode,
		CostCenterID:    in.CostCenterID,
		ProjectID:       in.ProjectID,
		TransactionDate: now,
		RecordedAt:      now,
		Notes:           in.Notes,
	}
	if in.TransactionDate != nil {
		a.TransactionDate = in.TransactionDate.UTC()
	}

	var b *Budget
	err := s.store.WithTx(ctx, func(tx Store) error {
		var err error
		if b, err = s.loadBudget(ctx, tx, in.BudgetID); err != nil {
			return err
		}
		var line *Line
		if in.LineID != "" {
			if line, err = s.loadLine(ctx, tx, b.ID, in.LineID); err != nil {
				return err
			}
		}
		if in.Enforce {
			remaining, err := s.remaining(ctx, tx, *b, line)
			if err != nil {
				return err
			}
			proposed := a.ActualAmount.Add(a.CommittedAmount)
			if d := Decide(remaining, proposed, b.EnforcementMode, b.AllowOverrun); !d.CanProceed {
				return &BudgetExceededError{
					BudgetID:  b.ID,
					LineID:    in.LineID,
					Remaining: remaining,
					Proposed:  proposed,
				}
			}
		}
		return s.fail("append actual", NewLedger(tx).Record(ctx, a))
	})
	if err != nil {
		if IsClientError(err) {
			s.log.Info().Err(err).Str("budget_id", string(in.BudgetID)).Msg("posting rejected")
		}
		return nil, RefreshReport{}, err
	}

	report, err := s.classifier(s.store).Refresh(ctx, *b)
	if err != nil {
		s.log.Error().Err(err).Str("budget_id", string(b.ID)).Msg("variance refresh after posting failed")
	}
	return &a, report, nil
}

// ListActuals returns the budget's ledger rows, latest transaction first.
func (s *Service) ListActuals(ctx context.Context, budgetID BudgetID, filter ActualFilter) ([]Actual, error) {
	if filter.ActualType != "" && !filter.ActualType.Valid() {
		return nil, invalid("actual_type", "unknown actual type %q", filter.ActualType)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, invalid("end_date", "must not be before start_date")
	}
	if _, err := s.loadBudget(ctx, s.store, budgetID); err != nil {
		return nil, err
	}
	filter.BudgetID = budgetID
	rows, err := s.store.ListActuals(ctx, filter)
	if err != nil {
		return nil, s.fail("list actuals", err)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TransactionDate.After(rows[j].TransactionDate)
	})
	return rows, nil
}

// =============================================================================
// ENFORCEMENT CHECK - Advisory spend gate
// =============================================================================

// CheckEnforcement answers whether ProposedAmount may be spent. It reads
// the live ledger and reserves nothing.
func (s *Service) CheckEnforcement(ctx context.Context, req CheckRequest) (*Decision, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	b, err := s.loadBudget(ctx, s.store, req.BudgetID)
	if err != nil {
		return nil, err
	}
	var line *Line
	if req.LineID != "" {
		if line, err = s.loadLine(ctx, s.store, b.ID, req.LineID); err != nil {
			return nil, err
		}
	}
	remaining, err := s.remaining(ctx, s.store, *b, line)
	if err != nil {
		return nil, err
	}
	d := Decide(remaining, req.ProposedAmount, b.EnforcementMode, b.AllowOverrun)
	s.log.Debug().
		Str("budget_id", string(b.ID)).
		Str("line_id", string(req.LineID)).
		Str("proposed", req.ProposedAmount.String()).
		Str("remaining", remaining.String()).
		Bool("can_proceed", d.CanProceed).
		Msg("enforcement check")
	return &d, nil
}

// remaining is the line's balance, or the whole budget's when line is nil.
func (s *Service) remaining(ctx context.Context, st Store, b Budget, line *Line) (decimal.Decimal, error) {
	ledger := NewLedger(st)
	if line == nil {
		t, err := ledger.BudgetTotals(ctx, b.ID)
		if err != nil {
			return decimal.Zero, s.fail("sum budget", err)
		}
		return Remaining(b.TotalBudgetAmount, t), nil
	}
	t, err := ledger.LineTotals(ctx, line.ID)
	if err != nil {
		return decimal.Zero, s.fail("sum line", err)
	}
	return Remaining(line.BudgetedAmount, t), nil
}
