/*
approval.go - Single-step budget approval

PURPOSE:
  Records an approve/reject decision for a budget. The approvals table
  carries a sequence number, but only sequence 1 is ever written: a
  second decision updates that row in place.

DECISIONS:
  approve  -> approval APPROVED, budget DRAFT|SUBMITTED -> APPROVED
              (approved by/at set, version bumped, snapshot appended)
  reject   -> approval REJECTED, budget status unchanged

  Approving a budget that is already APPROVED only updates the approval
  row. Approving an ACTIVE, CLOSED or ARCHIVED budget is an invalid
  transition.
*/
package budget

import (
	"context"
	"sort"
)

const approvalSequence = 1

// Decide records one approval decision. It returns the approval row and
// the budget as it stands afterwards.
func (s *Service) Decide(ctx context.Context, in ApprovalInput) (*Approval, *Budget, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	var (
		approval *Approval
		budget   *Budget
	)
	err := s.store.WithTx(ctx, func(tx Store) error {
		b, err := s.loadBudget(ctx, tx, in.BudgetID)
		if err != nil {
			return err
		}
		budget = b

		if in.Approve {
			switch b.Status {
			case StatusApproved:
			case StatusDraft, StatusSubmitted:
				at := s.now()
				b.Status = StatusApproved
				b.ApprovedBy = in.ApproverID
				b.ApprovedAt = &at
				if err := s.bumpVersion(ctx, tx, b, reasonApproved, in.ApproverID); err != nil {
					return err
				}
			default:
				return &TransitionError{From: b.Status, To: StatusApproved}
			}
		}

		a, err := tx.GetApproval(ctx, b.ID, approvalSequence)
		if err != nil {
			return s.fail("get approval", err)
		}
		if a == nil {
			a = &Approval{
				ID:       ApprovalID(s.newID()),
				BudgetID: b.ID,
				TenantID: b.TenantID,
				Sequence: approvalSequence,
			}
		}
		at := s.now()
		a.ApproverID = in.ApproverID
		a.ApproverName = in.ApproverName
		a.ApproverRole = in.ApproverRole
		a.Comment = in.Comment
		a.DecidedAt = &at
		a.Status = ApprovalRejected
		if in.Approve {
			a.Status = ApprovalApproved
		}
		approval = a
		return s.fail("save approval", tx.SaveApproval(ctx, *a))
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("budget_id", string(in.BudgetID)).
		Str("approval", string(approval.Status)).
		Str("approver_id", in.ApproverID).
		Msg("budget approval recorded")
	return approval, budget, nil
}

// ListApprovals returns the budget's approval rows by sequence.
func (s *Service) ListApprovals(ctx context.Context, budgetID BudgetID) ([]Approval, error) {
	if _, err := s.loadBudget(ctx, s.store, budgetID); err != nil {
		return nil, err
	}
	out, err := s.store.ListApprovals(ctx, budgetID)
	if err != nil {
		return nil, s.fail("list approvals", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
