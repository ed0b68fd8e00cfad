/*
enforcement.go - Spend gate

PURPOSE:
  Answers "may this proposed spend proceed?" just before an expense,
  purchase order or invoice is posted.

DECISION:
  wouldExceed = remaining < proposed
  wouldExceed && HARD_BLOCK && !allowOverrun  -> blocked, "Budget exceeded"
  wouldExceed otherwise                       -> allowed, "... - Warning"
  otherwise                                   -> allowed, "Budget check passed"

  The remaining balance and enforcement mode are always returned so the
  caller can render a warning even when the spend proceeds.

OPTIMISTIC BY DEFAULT:
  CheckEnforcement reads the remaining balance and returns. It does not
  reserve anything, so two concurrent proposals can both pass and then
  both post. Callers that need a hard guarantee post through
  Service.RecordActual with Enforce set, which runs the same decision and
  the ledger insert inside one Store.WithTx.

SEE ALSO:
  - ledger.go: Remaining
  - service.go: CheckEnforcement, RecordActual
*/
package budget

import "github.com/shopspring/decimal"

const (
	MessageBlocked = "Budget exceeded"
	MessageWarning = "Budget threshold exceeded - Warning"
	MessagePassed  = "Budget check passed"
)

// Decision is the gate's answer for one proposed spend.
type Decision struct {
	CanProceed       bool
	WouldExceed      bool
	RemainingBalance decimal.Decimal
	EnforcementMode  EnforcementMode
	Message          string
}

// Decide applies the gate rule. It is pure: the caller supplies a
// remaining balance computed from the current ledger.
func Decide(remaining, proposed decimal.Decimal, mode EnforcementMode, allowOverrun bool) Decision {
	d := Decision{
		RemainingBalance: remaining,
		EnforcementMode:  mode,
		WouldExceed:      remaining.LessThan(proposed),
	}
	switch {
	case d.WouldExceed && mode == ModeHardBlock && !allowOverrun:
		d.CanProceed = false
		d.Message = MessageBlocked
	case d.WouldExceed:
		d.CanProceed = true
		d.Message = MessageWarning
	default:
		d.CanProceed = true
		d.Message = MessagePassed
	}
	return d
}

// CheckRequest is the input to Service.CheckEnforcement.
type CheckRequest struct {
	BudgetID       BudgetID
	LineID         LineID // empty = whole budget
	ProposedAmount decimal.Decimal
}

func (r CheckRequest) validate() error {
	if r.BudgetID == "" {
		return invalid("budget_id", "is required")
	}
	if r.ProposedAmount.IsNegative() {
		return invalid("proposed_amount", "must be >= 0, got %s", r.ProposedAmount)
	}
	return nil
}
