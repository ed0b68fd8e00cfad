/*
service.go - Budget engine orchestration

PURPOSE:
  Service is the single entry point used by the HTTP API, the scheduler
  and the CLI. It is bound to one tenant through its Store and wires the
  ledger, the variance classifier, the enforcement gate, version history,
  forecasts and approvals together.

FLOW FOR A POSTING:
  RecordActual ──▶ ledger append ──▶ RefreshVariances (every line)
                         │
              (Enforce) gate + append in one WithTx

ERROR POLICY:
  Validation and lookup failures are returned as-is and never logged as
  faults. Storage failures are logged once here and re-returned; nothing
  is retried.

EXAMPLE:
  svc := budget.NewService(store, budget.WithLogger(log))
  b, lines, err := svc.CreateBudget(ctx, budget.BudgetInput{...})
  d, err := svc.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: b.ID, ProposedAmount: amt})

SEE ALSO:
  - spend.go: RecordActual, CheckEnforcement
  - forecast.go, approval.go: supporting workflows
*/
package budget

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultConcurrency bounds per-line variance work within one refresh.
const DefaultConcurrency = 4

type Service struct {
	store       Store
	thresholds  Thresholds
	concurrency int
	notifier    Notifier
	log         zerolog.Logger
	now         func() time.Time
	newID       func() string
}

type Option func(*Service)

func WithThresholds(t Thresholds) Option { return func(s *Service) { s.thresholds = t } }

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock replaces time.Now. Tests use it to pin timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		thresholds:  DefaultThresholds(),
		concurrency: DefaultConcurrency,
		notifier:    NopNotifier{},
		log:         zerolog.Nop(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("tenant_id", string(store.Tenant())).Logger()
	return s
}

// Tenant returns the tenant this service operates on.
func (s *Service) Tenant() TenantID { return s.store.Tenant() }

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) classifier(st Store) *Classifier {
	return &Classifier{
		Store:       st,
		Thresholds:  s.thresholds,
		Concurrency: s.concurrency,
		Notifier:    s.notifier,
		Log:         s.log,
		Now:         s.now,
		NewID:       s.newID,
	}
}

// fail wraps err as a storage error and logs it when it is one.
func (s *Service) fail(op string, err error) error {
	err = Storage(op, err)
	if IsRetryable(err) {
		s.log.Error().Err(err).Str("op", op).Msg("storage failure")
	}
	return err
}

func (s *Service) loadBudget(ctx context.Context, st Store, id BudgetID) (*Budget, error) {
	if id == "" {
		return nil, invalid("budget_id", "is required")
	}
	b, err := st.GetBudget(ctx, id)
	if err != nil {
		return nil, s.fail("get budget", err)
	}
	if b == nil {
		return nil, notFound("budget", id)
	}
	return b, nil
}

// loadLine returns NotFound when the line is missing or belongs to
// another budget.
func (s *Service) loadLine(ctx context.Context, st Store, budgetID BudgetID, id LineID) (*Line, error) {
	l, err := st.GetLine(ctx, id)
	if err != nil {
		return nil, s.fail("get line", err)
	}
	if l == nil || l.BudgetID != budgetID {
		return nil, notFound("line", id)
	}
	return l, nil
}

// bumpVersion persists b with VersionNumber+1 and appends its snapshot.
func (s *Service) bumpVersion(ctx context.Context, st Store, b *Budget, reason, by string) error {
	b.VersionNumber++
	b.UpdatedAt = s.now()
	if err := st.UpdateBudget(ctx, *b); err != nil {
		return s.fail("update budget", err)
	}
	return s.appendVersion(ctx, st, *b, reason, by)
}

func (s *Service) appendVersion(ctx context.Context, st Store, b Budget, reason, by string) error {
	snap, err := snapshotOf(b)
	if err != nil {
		return fmt.Errorf("snapshot budget %s: %w", b.ID, err)
	}
	v := Version{
		ID:                VersionID(s.newID()),
		BudgetID:          b.ID,
		TenantID:          b.TenantID,
		VersionNumber:     b.VersionNumber,
		Status:            b.Status,
		TotalBudgetAmount: b.TotalBudgetAmount,
		ChangeReason:      reason,
		ChangedBy:         by,
		ChangedAt:         b.UpdatedAt,
		Snapshot:          snap,
	}
	return s.fail("append version", st.AppendVersion(ctx, v))
}

// =============================================================================
// BUDGETS
// =============================================================================

// CreateBudget stores a DRAFT budget at version 1 with its initial lines.
func (s *Service) CreateBudget(ctx context.Context, in BudgetInput) (*Budget, []Line, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	now := s.now()
	b := Budget{
		ID:                      BudgetID(s.newID()),
		TenantID:                s.store.Tenant(),
		Code:                    in.Code,
		Name:                    in.Name,
		Description:             in.Description,
		BudgetType:              in.BudgetType,
		ScopeEntityID:           in.ScopeEntityID,
		ScopeEntityName:         in.ScopeEntityName,
		PeriodType:              in.PeriodType,
		FiscalYear:              in.FiscalYear,
		QuarterNum:              in.QuarterNum,
		MonthNum:                in.MonthNum,
		TotalBudgetAmount:       in.TotalBudgetAmount,
		Status:                  StatusDraft,
		EnforcementMode:         in.EnforcementMode,
		AllowOverrun:            in.AllowOverrun,
		OverrunThresholdPercent: *in.OverrunThresholdPercent,
		VersionNumber:           1,
		CreatedBy:               in.CreatedBy,
		CreatedAt:               now,
		UpdatedAt:               now,
		Notes:                   in.Notes,
	}

	used := make(map[int]bool, len(in.Lines))
	for _, li := range in.Lines {
		used[li.LineNumber] = true
	}
	lines := make([]Line, 0, len(in.Lines))
	next := 1
	for _, li := range in.Lines {
		if li.LineNumber == 0 {
			for used[next] {
				next++
			}
			li.LineNumber = next
			used[next] = true
		}
		lines = append(lines, s.newLine(b, li, now))
	}

	err := s.store.WithTx(ctx, func(tx Store) error {
		dup, err := tx.ListBudgets(ctx, BudgetFilter{Code: b.Code})
		if err != nil {
			return s.fail("list budgets", err)
		}
		if len(dup) > 0 {
			return fmt.Errorf("budget code %q already exists: %w", b.Code, ErrConflict)
		}
		if err := tx.CreateBudget(ctx, b); err != nil {
			return s.fail("create budget", err)
		}
		for _, l := range lines {
			if err := tx.CreateLine(ctx, l); err != nil {
				return s.fail("create line", err)
			}
		}
		return s.appendVersion(ctx, tx, b, reasonCreated, in.CreatedBy)
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("budget_id", string(b.ID)).
		Str("code", b.Code).
		Int("lines", len(lines)).
		Msg("budget created")
	return &b, lines, nil
}

func (s *Service) newLine(b Budget, in LineInput, now time.Time) Line {
	return Line{
		ID:                LineID(s.newID()),
		BudgetID:          b.ID,
		TenantID:          b.TenantID,
		LineNumber:        in.LineNumber,
		AccountID:         in.AccountID,
		AccountCode:       in.AccountCode,
		AccountName:       in.AccountName,
		CostCenterID:      in.CostCenterID,
		CostCenterName:    in.CostCenterName,
		ProjectID:         in.ProjectID,
		ProjectName:       in.ProjectName,
		BudgetedAmount:    in.BudgetedAmount,
		AllocationPercent: in.AllocationPercent,
		Description:       in.Description,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (s *Service) GetBudget(ctx context.Context, id BudgetID) (*Budget, error) {
	return s.loadBudget(ctx, s.store, id)
}

// ListBudgets returns the tenant's budgets, newest first.
func (s *Service) ListBudgets(ctx context.Context, filter BudgetFilter) ([]Budget, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalid("status", "unknown status %q", filter.Status)
	}
	if filter.BudgetType != "" && !filter.BudgetType.Valid() {
		return nil, invalid("budget_type", "unknown budget type %q", filter.BudgetType)
	}
	budgets, err := s.store.ListBudgets(ctx, filter)
	if err != nil {
		return nil, s.fail("list budgets", err)
	}
	sort.SliceStable(budgets, func(i, j int) bool {
		return budgets[i].CreatedAt.After(budgets[j].CreatedAt)
	})
	return budgets, nil
}

// Summary returns a budget header with its ledger totals.
func (s *Service) Summary(ctx context.Context, id BudgetID) (*Summary, error) {
	b, err := s.loadBudget(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	sum, err := s.summarize(ctx, *b)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// ListSummaries is ListBudgets with ledger totals attached.
func (s *Service) ListSummaries(ctx context.Context, filter BudgetFilter) ([]Summary, error) {
	budgets, err := s.ListBudgets(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(budgets))
	for _, b := range budgets {
		sum, err := s.summarize(ctx, b)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) summarize(ctx context.Context, b Budget) (Summary, error) {
	t, err := NewLedger(s.store).BudgetTotals(ctx, b.ID)
	if err != nil {
		return Summary{}, s.fail("sum budget", err)
	}
	return Summary{
		Budget:           b,
		TotalActual:      t.Actual,
		TotalCommitted:   t.Committed,
		RemainingBalance: Remaining(b.TotalBudgetAmount, t),
		PercentUtilized:  PercentOf(t.Spent(), b.TotalBudgetAmount),
	}, nil
}

// UpdateBudget applies a partial update. A call that changes nothing
// returns the budget as stored, without a new version.
func (s *Service) UpdateBudget(ctx context.Context, id BudgetID, u BudgetUpdate) (*Budget, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	var out *Budget
	err := s.store.WithTx(ctx, func(tx Store) error {
		b, err := s.loadBudget(ctx, tx, id)
		if err != nil {
			return err
		}
		out = b
		if !u.apply(b) {
			return nil
		}
		reason := u.ChangeReason
		if reason == "" {
			reason = reasonUpdated
		}
		return s.bumpVersion(ctx, tx, b, reason, u.ChangedBy)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChangeStatus moves the budget along the status machine (lifecycle.go).
func (s *Service) ChangeStatus(ctx context.Context, id BudgetID, to Status, by string) (*Budget, error) {
	if !to.Valid() {
		return nil, invalid("status", "unknown status %q", to)
	}
	var out *Budget
	err := s.store.WithTx(ctx, func(tx Store) error {
		b, err := s.loadBudget(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(b.Status, to) {
			return &TransitionError{From: b.Status, To: to}
		}
		b.Status = to
		if to == StatusApproved {
			at := s.now()
			b.ApprovedBy = by
			b.ApprovedAt = &at
		}
		out = b
		return s.bumpVersion(ctx, tx, b, reasonStatus(to), by)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("budget_id", string(id)).
		Str("status", string(to)).
		Int("version", out.VersionNumber).
		Msg("budget status changed")
	return out, nil
}

// DeleteBudget removes the budget and every dependent record.
func (s *Service) DeleteBudget(ctx context.Context, id BudgetID) error {
	if id == "" {
		return invalid("budget_id", "is required")
	}
	ok, err := s.store.DeleteBudget(ctx, id)
	if err != nil {
		return s.fail("delete budget", err)
	}
	if !ok {
		return notFound("budget", id)
	}
	s.log.Info().Str("budget_id", string(id)).Msg("budget deleted")
	return nil
}

// ListVersions returns the version history, oldest first.
func (s *Service) ListVersions(ctx context.Context, id BudgetID) ([]Version, error) {
	if _, err := s.loadBudget(ctx, s.store, id); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, id)
	if err != nil {
		return nil, s.fail("list versions", err)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].VersionNumber < versions[j].VersionNumber
	})
	return versions, nil
}

// =============================================================================
// LINES
// =============================================================================

// AddLine appends a line to an existing budget. LineNumber 0 takes the
// next number after the highest in use.
func (s *Service) AddLine(ctx context.Context, budgetID BudgetID, in LineInput) (*Line, error) {
	if err := in.validate(""); err != nil {
		return nil, err
	}
	var out Line
	err := s.store.WithTx(ctx, func(tx Store) error {
		b, err := s.loadBudget(ctx, tx, budgetID)
		if err != nil {
			return err
		}
		existing, err := tx.ListLines(ctx, budgetID)
		if err != nil {
			return s.fail("list lines", err)
		}
		highest := 0
		for _, l := range existing {
			if l.LineNumber == in.LineNumber {
				return fmt.Errorf("line number %d already used: %w", in.LineNumber, ErrConflict)
			}
			highest = max(highest, l.LineNumber)
		}
		if in.LineNumber == 0 {
			in.LineNumber = highest + 1
		}
		out = s.newLine(*b, in, s.now())
		return s.fail("create line", tx.CreateLine(ctx, out))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListLines returns the budget's lines ordered by line number.
func (s *Service) ListLines(ctx context.Context, budgetID BudgetID) ([]Line, error) {
	if _, err := s.loadBudget(ctx, s.store, budgetID); err != nil {
		return nil, err
	}
	lines, err := s.store.ListLines(ctx, budgetID)
	if err != nil {
		return nil, s.fail("list lines", err)
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].LineNumber < lines[j].LineNumber })
	return lines, nil
}

// UpdateLine applies a partial update. A changed budgeted amount
// re-classifies the budget's variances.
func (s *Service) UpdateLine(ctx context.Context, budgetID BudgetID, lineID LineID, u LineUpdate) (*Line, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	var (
		out     *Line
		changed bool
	)
	err := s.store.WithTx(ctx, func(tx Store) error {
		if _, err := s.loadBudget(ctx, tx, budgetID); err != nil {
			return err
		}
		l, err := s.loadLine(ctx, tx, budgetID, lineID)
		if err != nil {
			return err
		}
		out = l
		before := l.BudgetedAmount
		if !u.apply(l) {
			return nil
		}
		changed = !before.Equal(l.BudgetedAmount)
		l.UpdatedAt = s.now()
		return s.fail("update line", tx.UpdateLine(ctx, *l))
	})
	if err != nil {
		return nil, err
	}
	if changed {
		if _, err := s.RefreshVariances(ctx, budgetID); err != nil {
			s.log.Error().Err(err).Str("budget_id", string(budgetID)).Msg("variance refresh after line update failed")
		}
	}
	return out, nil
}

// DeleteLine removes a line and its variance rows. Actuals recorded
// against it stay in the ledger and keep counting toward the budget.
func (s *Service) DeleteLine(ctx context.Context, budgetID BudgetID, lineID LineID) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		if _, err := s.loadLine(ctx, tx, budgetID, lineID); err != nil {
			return err
		}
		ok, err := tx.DeleteLine(ctx, lineID)
		if err != nil {
			return s.fail("delete line", err)
		}
		if !ok {
			return notFound("line", lineID)
		}
		return nil
	})
}

// LineVariances returns the live budget-vs-spend view per line.
func (s *Service) LineVariances(ctx context.Context, budgetID BudgetID) ([]LineVariance, error) {
	lines, err := s.ListLines(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	ledger := NewLedger(s.store)
	out := make([]LineVariance, 0, len(lines))
	for _, l := range lines {
		t, err := ledger.LineTotals(ctx, l.ID)
		if err != nil {
			return nil, s.fail("sum line", err)
		}
		out = append(out, LineVariance{
			Line:             l,
			ActualAmount:     t.Actual,
			CommittedAmount:  t.Committed,
			RemainingBalance: Remaining(l.BudgetedAmount, t),
			PercentUtilized:  PercentOf(t.Spent(), l.BudgetedAmount),
		})
	}
	return out, nil
}

// =============================================================================
// VARIANCES
// =============================================================================

// RefreshVariances re-classifies every line of the budget. Per-line
// failures are in the report; the error covers only whole-pass failures.
func (s *Service) RefreshVariances(ctx context.Context, budgetID BudgetID) (RefreshReport, error) {
	b, err := s.loadBudget(ctx, s.store, budgetID)
	if err != nil {
		return RefreshReport{BudgetID: budgetID}, err
	}
	report, err := s.classifier(s.store).Refresh(ctx, *b)
	if err != nil {
		return report, s.fail("refresh variances", err)
	}
	s.log.Debug().
		Str("budget_id", string(budgetID)).
		Int("lines", len(report.Outcomes)).
		Int("failed", len(report.Failed)).
		Msg("variances refreshed")
	return report, nil
}

// ListVariances returns the budget's variance rows, most recently
// updated first.
func (s *Service) ListVariances(ctx context.Context, filter VarianceFilter) ([]Variance, error) {
	if filter.VarianceType != "" && !filter.VarianceType.Valid() {
		return nil, invalid("variance_type", "unknown variance type %q", filter.VarianceType)
	}
	if filter.AlertLevel != "" && !filter.AlertLevel.Valid() {
		return nil, invalid("alert_level", "unknown alert level %q", filter.AlertLevel)
	}
	if _, err := s.loadBudget(ctx, s.store, filter.BudgetID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListVariances(ctx, filter)
	if err != nil {
		return nil, s.fail("list variances", err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].UpdatedAt.After(rows[j].UpdatedAt) })
	return rows, nil
}

// AcknowledgeVariance marks a variance as reviewed. Acknowledging an
// already acknowledged row returns it unchanged. An empty budgetID
// skips the ownership check.
func (s *Service) AcknowledgeVariance(ctx context.Context, budgetID BudgetID, id VarianceID, by string) (*Variance, error) {
	if id == "" {
		return nil, invalid("variance_id", "is required")
	}
	if by == "" {
		return nil, invalid("acknowledged_by", "is required")
	}
	var out *Variance
	err := s.store.WithTx(ctx, func(tx Store) error {
		v, err := tx.GetVariance(ctx, id)
		if err != nil {
			return s.fail("get variance", err)
		}
		if v == nil || (budgetID != "" && v.BudgetID != budgetID) {
			return notFound("variance", id)
		}
		out = v
		if v.IsAcknowledged {
			return nil
		}
		at := s.now()
		v.IsAcknowledged = true
		v.AcknowledgedBy = by
		v.AcknowledgedAt = &at
		return s.fail("save variance", tx.SaveVariance(ctx, *v))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
