package budget_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/budget/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

// testClock advances one second per call so updated_at ordering is stable.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []budget.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a budget.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) Alerts() []budget.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]budget.Alert(nil), n.alerts...)
}

// faultyStore fails SumLine for selected lines.
type faultyStore struct {
	budget.Store
	failLines map[budget.LineID]bool
}

var errDiskGone = errors.New("disk I/O error")

func (f *faultyStore) SumLine(ctx context.Context, id budget.LineID) (budget.Totals, error) {
	if f.failLines[id] {
		return budget.Totals{}, errDiskGone
	}
	return f.Store.SumLine(ctx, id)
}

func newTestStore(t *testing.T, tenant budget.TenantID) budget.Store {
	t.Helper()
	st, err := store.NewMemory().ForTenant(tenant)
	require.NoError(t, err)
	return st
}

func newTestService(t *testing.T, st budget.Store, opts ...budget.Option) *budget.Service {
	t.Helper()
	opts = append([]budget.Option{budget.WithClock(newTestClock().Now)}, opts...)
	return budget.NewService(st, opts...)
}

// budgetInput is a DRAFT department budget with one line per amount.
func budgetInput(code string, mode budget.EnforcementMode, total string, lineAmounts ...string) budget.BudgetInput {
	in := budget.BudgetInput{
		Code:              code,
		Name:              "Budget " + code,
		BudgetType:        budget.TypeDepartment,
		PeriodType:        budget.PeriodAnnual,
		FiscalYear:        2025,
		TotalBudgetAmount: dec(total),
		EnforcementMode:   mode,
		CreatedBy:         "user-1",
	}
	for _, amt := range lineAmounts {
		in.Lines = append(in.Lines, budget.LineInput{AccountCode: "6100", BudgetedAmount: dec(amt)})
	}
	return in
}

func createBudget(t *testing.T, svc *budget.Service, in budget.BudgetInput) (*budget.Budget, []budget.Line) {
	t.Helper()
	b, lines, err := svc.CreateBudget(context.Background(), in)
	require.NoError(t, err)
	return b, lines
}

func record(t *testing.T, svc *budget.Service, b *budget.Budget, lineID budget.LineID, amount string) budget.RefreshReport {
	t.Helper()
	_, report, err := svc.RecordActual(context.Background(), budget.ActualInput{
		BudgetID:     b.ID,
		LineID:       lineID,
		ActualType:   budget.ActualExpense,
		ActualAmount: dec(amount),
	})
	require.NoError(t, err)
	return report
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestEnforcement_HardBlock(t *testing.T) {
	// GIVEN: total 1000, one line of 1000, HARD_BLOCK, no overrun
	// WHEN: 900 is recorded
	// THEN: a 50 proposal passes with 100 remaining, a 150 proposal is blocked
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("OPS", budget.ModeHardBlock, "1000", "1000"))

	record(t, svc, b, lines[0].ID, "900")

	d, err := svc.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: b.ID, LineID: lines[0].ID, ProposedAmount: dec("50")})
	require.NoError(t, err)
	assert.True(t, d.CanProceed)
	assertDec(t, "100", d.RemainingBalance, "remaining")
	assert.Equal(t, budget.ModeHardBlock, d.EnforcementMode)
	assert.Equal(t, "Budget check passed", d.Message)

	d, err = svc.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: b.ID, LineID: lines[0].ID, ProposedAmount: dec("150")})
	require.NoError(t, err)
	assert.False(t, d.CanProceed)
	assert.Equal(t, "Budget exceeded", d.Message)
	assertDec(t, "100", d.RemainingBalance, "remaining")
}

func TestEnforcement_SoftWarning(t *testing.T) {
	// GIVEN: same setup with SOFT_WARNING
	// WHEN: 150 is proposed against 100 remaining
	// THEN: it may proceed, with a warning message
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("OPS", budget.ModeSoftWarning, "1000", "1000"))
	record(t, svc, b, lines[0].ID, "900")

	d, err := svc.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: b.ID, LineID: lines[0].ID, ProposedAmount: dec("150")})
	require.NoError(t, err)
	assert.True(t, d.CanProceed)
	assert.True(t, d.WouldExceed)
	assert.Contains(t, d.Message, "Warning")
}

func TestRecordActual_ThresholdWarning(t *testing.T) {
	// GIVEN: a line of 500
	// WHEN: 450 is recorded
	// THEN: 90 percent, THRESHOLD_WARNING, WARNING
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("MKT", budget.ModeSoftWarning, "500", "500"))

	report := record(t, svc, b, lines[0].ID, "450")

	require.Len(t, report.Outcomes, 1)
	v := report.Outcomes[0].Variance
	assertDec(t, "90", v.VariancePercent, "percent")
	assertDec(t, "50", v.VarianceAmount, "amount")
	assert.Equal(t, budget.VarianceThresholdWarning, v.VarianceType)
	assert.Equal(t, budget.AlertWarning, v.AlertLevel)
	assert.False(t, v.IsAcknowledged)
}

func TestRecordActual_OverBudgetCritical(t *testing.T) {
	// GIVEN: a line of 500
	// WHEN: 600 is recorded
	// THEN: -100, 120 percent, OVER_BUDGET, CRITICAL
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("MKT", budget.ModeSoftWarning, "500", "500"))

	record(t, svc, b, lines[0].ID, "600")

	rows, err := svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assertDec(t, "-100", rows[0].VarianceAmount, "amount")
	assertDec(t, "120", rows[0].VariancePercent, "percent")
	assert.Equal(t, budget.VarianceOverBudget, rows[0].VarianceType)
	assert.Equal(t, budget.AlertCritical, rows[0].AlertLevel)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestRecordActual_Additive(t *testing.T) {
	// After every posting the line total grows by exactly the posted amount.
	ctx := context.Background()
	st := newTestStore(t, "t1")
	svc := newTestService(t, st)
	b, lines := createBudget(t, svc, budgetInput("ADD", budget.ModeSoftWarning, "1000", "1000"))
	ledger := budget.NewLedger(st)

	running := decimal.Zero
	for _, amt := range []string{"10.50", "0", "99.99", "250"} {
		before, err := ledger.LineTotals(ctx, lines[0].ID)
		require.NoError(t, err)

		record(t, svc, b, lines[0].ID, amt)

		after, err := ledger.LineTotals(ctx, lines[0].ID)
		require.NoError(t, err)
		assertDec(t, amt, after.Actual.Sub(before.Actual), "delta")
		running = running.Add(dec(amt))
		assertDec(t, running.String(), after.Actual, "running total")
	}
}

func TestRecordActual_CommittedCountsTowardRemaining(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("PO", budget.ModeHardBlock, "1000", "1000"))

	_, _, err := svc.RecordActual(ctx, budget.ActualInput{
		BudgetID:        b.ID,
		LineID:          lines[0].ID,
		ActualType:      budget.ActualPurchaseOrder,
		ActualAmount:    dec("0"),
		CommittedAmount: dec("700"),
	})
	require.NoError(t, err)

	d, err := svc.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: b.ID, LineID: lines[0].ID, ProposedAmount: dec("400")})
	require.NoError(t, err)
	assertDec(t, "300", d.RemainingBalance, "remaining")
	assert.False(t, d.CanProceed)
}

func TestRecordActual_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, _ := createBudget(t, svc, budgetInput("VAL", budget.ModeSoftWarning, "100", "100"))
	_, otherLines := createBudget(t, svc, budgetInput("OTHER", budget.ModeSoftWarning, "100", "100"))

	_, _, err := svc.RecordActual(ctx, budget.ActualInput{BudgetID: b.ID, ActualType: "REFUND", ActualAmount: dec("1")})
	assert.ErrorIs(t, err, budget.ErrValidation)

	_, _, err = svc.RecordActual(ctx, budget.ActualInput{BudgetID: b.ID, ActualType: budget.ActualExpense, ActualAmount: dec("-1")})
	assert.ErrorIs(t, err, budget.ErrValidation)

	_, _, err = svc.RecordActual(ctx, budget.ActualInput{BudgetID: "missing", ActualType: budget.ActualExpense, ActualAmount: dec("1")})
	assert.ErrorIs(t, err, budget.ErrNotFound)

	// line of another budget
	_, _, err = svc.RecordActual(ctx, budget.ActualInput{BudgetID: b.ID, LineID: otherLines[0].ID, ActualType: budget.ActualExpense, ActualAmount: dec("1")})
	assert.ErrorIs(t, err, budget.ErrNotFound)

	rows, err := svc.ListActuals(ctx, b.ID, budget.ActualFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecordActual_BudgetLevel(t *testing.T) {
	// GIVEN: an actual with no line
	// THEN: budget-level remaining = total - everything recorded
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("BL", budget.ModeHardBlock, "1000", "600"))

	record(t, svc, b, "", "300")
	record(t, svc, b, lines[0].ID, "100")

	d, err := svc.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: b.ID, ProposedAmount: dec("600")})
	require.NoError(t, err)
	assertDec(t, "600", d.RemainingBalance, "budget remaining")
	assert.True(t, d.CanProceed)

	// the line only sees its own actual
	lv, err := svc.LineVariances(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, lv, 1)
	assertDec(t, "500", lv[0].RemainingBalance, "line remaining")
}

func TestRecordActual_StrictEnforcement(t *testing.T) {
	// GIVEN: HARD_BLOCK line with 100 remaining
	// WHEN: 150 is posted with Enforce
	// THEN: the posting is rejected and the ledger is unchanged
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("STRICT", budget.ModeHardBlock, "1000", "1000"))
	record(t, svc, b, lines[0].ID, "900")

	_, _, err := svc.RecordActual(ctx, budget.ActualInput{
		BudgetID:     b.ID,
		LineID:       lines[0].ID,
		ActualType:   budget.ActualExpense,
		ActualAmount: dec("150"),
		Enforce:      true,
	})
	require.ErrorIs(t, err, budget.ErrBudgetExceeded)
	var exceeded *budget.BudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	assertDec(t, "100", exceeded.Remaining, "remaining")

	rows, err := svc.ListActuals(ctx, b.ID, budget.ActualFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// within the balance it goes through
	_, _, err = svc.RecordActual(ctx, budget.ActualInput{
		BudgetID:     b.ID,
		LineID:       lines[0].ID,
		ActualType:   budget.ActualExpense,
		ActualAmount: dec("100"),
		Enforce:      true,
	})
	require.NoError(t, err)
}

func TestRecordActual_StrictEnforcementConcurrent(t *testing.T) {
	// GIVEN: a HARD_BLOCK line of 1000
	// WHEN: 20 strict postings of 100 race each other
	// THEN: exactly 10 land and the line is never overspent
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("RACE", budget.ModeHardBlock, "1000", "1000"))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.RecordActual(ctx, budget.ActualInput{
				BudgetID:     b.ID,
				LineID:       lines[0].ID,
				ActualType:   budget.ActualExpense,
				ActualAmount: dec("100"),
				Enforce:      true,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, budget.ErrBudgetExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.Equal(t, 10, rejected)
	lv, err := svc.LineVariances(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, lv, 1)
	assertDec(t, "0", lv[0].RemainingBalance, "line remaining")
}

func TestRecordActual_StrictEnforcementSoftModePasses(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("SOFT", budget.ModeSoftWarning, "100", "100"))

	_, _, err := svc.RecordActual(ctx, budget.ActualInput{
		BudgetID:     b.ID,
		LineID:       lines[0].ID,
		ActualType:   budget.ActualExpense,
		ActualAmount: dec("150"),
		Enforce:      true,
	})
	assert.NoError(t, err)
}

func TestListActuals_Filters(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("LA", budget.ModeSoftWarning, "1000", "1000"))

	jan := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)
	for _, in := range []budget.ActualInput{
		{ActualType: budget.ActualExpense, ActualAmount: dec("10"), TransactionDate: &jan},
		{ActualType: budget.ActualInvoice, ActualAmount: dec("20"), TransactionDate: &feb},
		{ActualType: budget.ActualExpense, ActualAmount: dec("30"), TransactionDate: &feb},
	} {
		in.BudgetID = b.ID
		in.LineID = lines[0].ID
		_, _, err := svc.RecordActual(ctx, in)
		require.NoError(t, err)
	}

	rows, err := svc.ListActuals(ctx, b.ID, budget.ActualFilter{ActualType: budget.ActualExpense})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	from := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	rows, err = svc.ListActuals(ctx, b.ID, budget.ActualFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	to := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.ListActuals(ctx, b.ID, budget.ActualFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, budget.ErrValidation)
}

// =============================================================================
// VARIANCE BOOKKEEPING
// =============================================================================

func TestRefreshVariances_Idempotent(t *testing.T) {
	// Classifying twice with no new actuals updates the same row in place.
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("IDEM", budget.ModeSoftWarning, "500", "500"))
	record(t, svc, b, lines[0].ID, "450")

	first, err := svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID})
	require.NoError(t, err)
	require.Len(t, first, 1)

	report, err := svc.RefreshVariances(ctx, b.ID)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.False(t, report.Outcomes[0].Created)

	second, err := svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.True(t, first[0].VariancePercent.Equal(second[0].VariancePercent))
	assert.True(t, first[0].VarianceAmount.Equal(second[0].VarianceAmount))
	assert.Equal(t, first[0].CreatedAt, second[0].CreatedAt)
	assert.True(t, second[0].UpdatedAt.After(first[0].UpdatedAt))
}

func TestRefreshVariances_PrunesStaleUnacknowledgedRows(t *testing.T) {
	// GIVEN: a line at THRESHOLD_WARNING
	// WHEN: more spend moves it to OVER_BUDGET
	// THEN: only the OVER_BUDGET row remains
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("PRUNE", budget.ModeSoftWarning, "500", "500"))

	record(t, svc, b, lines[0].ID, "450")
	report := record(t, svc, b, lines[0].ID, "150")

	assert.Equal(t, 1, report.Outcomes[0].Pruned)
	rows, err := svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, budget.VarianceOverBudget, rows[0].VarianceType)
}

func TestRefreshVariances_KeepsAcknowledgedRows(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("ACK", budget.ModeSoftWarning, "500", "500"))

	record(t, svc, b, lines[0].ID, "450")
	rows, err := svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID})
	require.NoError(t, err)
	_, err = svc.AcknowledgeVariance(ctx, b.ID, rows[0].ID, "controller")
	require.NoError(t, err)

	record(t, svc, b, lines[0].ID, "150")

	rows, err = svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// most recently updated first
	assert.Equal(t, budget.VarianceOverBudget, rows[0].VarianceType)
	assert.Equal(t, budget.VarianceThresholdWarning, rows[1].VarianceType)
	assert.True(t, rows[1].IsAcknowledged)
}

func TestRefreshVariances_PerLineFailureIsolated(t *testing.T) {
	// GIVEN: two lines, the ledger read fails for the first
	// WHEN: variances are refreshed
	// THEN: the second line is still classified, the first is reported
	ctx := context.Background()
	inner := newTestStore(t, "t1")
	setup := newTestService(t, inner)
	b, lines := createBudget(t, setup, budgetInput("FAIL", budget.ModeSoftWarning, "1000", "500", "500"))

	faulty := &faultyStore{Store: inner, failLines: map[budget.LineID]bool{lines[0].ID: true}}
	svc := newTestService(t, faulty)

	report, err := svc.RefreshVariances(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, lines[1].ID, report.Outcomes[0].Line.ID)
	require.Contains(t, report.Failed, lines[0].ID)
	assert.ErrorIs(t, report.Failed[lines[0].ID], budget.ErrStorageUnavailable)
	assert.ErrorIs(t, report.Err(), errDiskGone)
}

func TestCheckEnforcement_StorageFailurePropagates(t *testing.T) {
	// A failing ledger is an error, never a zero total.
	ctx := context.Background()
	inner := newTestStore(t, "t1")
	b, lines := createBudget(t, newTestService(t, inner), budgetInput("SF", budget.ModeHardBlock, "100", "100"))

	svc := newTestService(t, &faultyStore{Store: inner, failLines: map[budget.LineID]bool{lines[0].ID: true}})
	_, err := svc.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: b.ID, LineID: lines[0].ID, ProposedAmount: dec("1")})
	assert.ErrorIs(t, err, budget.ErrStorageUnavailable)
	assert.True(t, budget.IsRetryable(err))
}

func TestRefreshVariances_NotifiesOnEscalationToCritical(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc := newTestService(t, newTestStore(t, "t1"), budget.WithNotifier(notifier))
	b, lines := createBudget(t, svc, budgetInput("ALERT", budget.ModeSoftWarning, "500", "500"))

	record(t, svc, b, lines[0].ID, "450") // WARNING
	assert.Empty(t, notifier.Alerts())

	report := record(t, svc, b, lines[0].ID, "150") // 120% CRITICAL
	assert.True(t, report.Outcomes[0].Escalated)
	require.Len(t, notifier.Alerts(), 1)
	alert := notifier.Alerts()[0]
	assert.Equal(t, budget.AlertCritical, alert.Level)
	assert.Contains(t, alert.Message, "Budget exceeded for")

	record(t, svc, b, lines[0].ID, "10") // still CRITICAL
	assert.Len(t, notifier.Alerts(), 1)

	_, err := svc.RefreshVariances(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, notifier.Alerts(), 1)
}

// staleStore hides existing variance rows from reads made inside a
// transaction, as if another refresh inserted them just before.
type staleStore struct {
	budget.Store
}

func (s *staleStore) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	return s.Store.WithTx(ctx, func(tx budget.Store) error {
		return fn(&hiddenVariances{Store: tx})
	})
}

type hiddenVariances struct {
	budget.Store
}

func (h *hiddenVariances) ListVariances(context.Context, budget.VarianceFilter) ([]budget.Variance, error) {
	return nil, nil
}

func TestRefreshVariances_RowWrittenByConcurrentPass(t *testing.T) {
	// GIVEN: a CRITICAL row already stored for the line
	ctx := context.Background()
	inner := newTestStore(t, "t1")
	setup := newTestService(t, inner)
	b, lines := createBudget(t, setup, budgetInput("RACE", budget.ModeSoftWarning, "500", "500"))
	record(t, setup, b, lines[0].ID, "600")
	stored, err := setup.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID})
	require.NoError(t, err)
	require.Len(t, stored, 1)

	// WHEN: a refresh that did not see the row upserts the same line
	notifier := &recordingNotifier{}
	svc := newTestService(t, &staleStore{Store: inner}, budget.WithNotifier(notifier))
	report, err := svc.RefreshVariances(ctx, b.ID)
	require.NoError(t, err)

	// THEN: it reports the stored row, claims no creation and sends no alert
	require.Len(t, report.Outcomes, 1)
	o := report.Outcomes[0]
	assert.Equal(t, stored[0].ID, o.Variance.ID)
	assert.True(t, stored[0].CreatedAt.Equal(o.Variance.CreatedAt))
	assert.False(t, o.Created)
	assert.False(t, o.Escalated)
	assert.Empty(t, notifier.Alerts())

	rows, err := svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stored[0].ID, rows[0].ID)
}

func TestAcknowledgeVariance(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("ACK2", budget.ModeSoftWarning, "500", "500"))
	record(t, svc, b, lines[0].ID, "100")

	rows, err := svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID})
	require.NoError(t, err)
	id := rows[0].ID

	v, err := svc.AcknowledgeVariance(ctx, b.ID, id, "alice")
	require.NoError(t, err)
	assert.True(t, v.IsAcknowledged)
	assert.Equal(t, "alice", v.AcknowledgedBy)
	require.NotNil(t, v.AcknowledgedAt)
	firstAt := *v.AcknowledgedAt

	// repeat is a no-op
	v, err = svc.AcknowledgeVariance(ctx, b.ID, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", v.AcknowledgedBy)
	assert.Equal(t, firstAt, *v.AcknowledgedAt)

	_, err = svc.AcknowledgeVariance(ctx, b.ID, "missing", "alice")
	assert.ErrorIs(t, err, budget.ErrNotFound)

	_, err = svc.AcknowledgeVariance(ctx, b.ID, id, "")
	assert.ErrorIs(t, err, budget.ErrValidation)
}

func TestListVariances_Filters(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("LV", budget.ModeSoftWarning, "1500", "500", "500", "500"))
	record(t, svc, b, lines[0].ID, "100") // UNDER_BUDGET
	record(t, svc, b, lines[1].ID, "450") // THRESHOLD_WARNING
	record(t, svc, b, lines[2].ID, "600") // OVER_BUDGET

	all, err := svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].UpdatedAt.After(all[i-1].UpdatedAt), "sorted by updated_at desc")
	}

	warnings, err := svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID, AlertLevel: budget.AlertWarning})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, lines[1].ID, warnings[0].LineID)

	over, err := svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID, VarianceType: budget.VarianceOverBudget})
	require.NoError(t, err)
	require.Len(t, over, 1)
	assert.Equal(t, lines[2].ID, over[0].LineID)

	_, err = svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID, AlertLevel: "LOUD"})
	assert.ErrorIs(t, err, budget.ErrValidation)
}

func TestUpdateLine_BudgetedAmountReclassifies(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, lines := createBudget(t, svc, budgetInput("UL", budget.ModeSoftWarning, "500", "500"))
	record(t, svc, b, lines[0].ID, "450")

	amount := dec("1000")
	_, err := svc.UpdateLine(ctx, b.ID, lines[0].ID, budget.LineUpdate{BudgetedAmount: &amount})
	require.NoError(t, err)

	rows, err := svc.ListVariances(ctx, budget.VarianceFilter{BudgetID: b.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, budget.VarianceUnderBudget, rows[0].VarianceType)
	assertDec(t, "45", rows[0].VariancePercent, "percent")
}

// =============================================================================
// ENFORCEMENT LOOKUPS
// =============================================================================

func TestCheckEnforcement_Lookups(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t, "t1"))
	b, _ := createBudget(t, svc, budgetInput("A", budget.ModeHardBlock, "100", "100"))
	_, otherLines := createBudget(t, svc, budgetInput("B", budget.ModeHardBlock, "100", "100"))

	_, err := svc.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: "nope", ProposedAmount: dec("1")})
	assert.ErrorIs(t, err, budget.ErrNotFound)

	_, err = svc.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: b.ID, LineID: "nope", ProposedAmount: dec("1")})
	assert.ErrorIs(t, err, budget.ErrNotFound)

	_, err = svc.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: b.ID, LineID: otherLines[0].ID, ProposedAmount: dec("1")})
	assert.ErrorIs(t, err, budget.ErrNotFound)

	_, err = svc.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: b.ID, ProposedAmount: dec("-1")})
	assert.ErrorIs(t, err, budget.ErrValidation)
	assert.True(t, budget.IsClientError(err))
}

// =============================================================================
// TENANT ISOLATION
// =============================================================================

func TestTenantIsolation(t *testing.T) {
	// GIVEN: tenant A owns a budget
	// WHEN: tenant B looks it up through its own store
	// THEN: it does not exist for B
	ctx := context.Background()
	mem := store.NewMemory()
	stA, err := mem.ForTenant("tenant-a")
	require.NoError(t, err)
	stB, err := mem.ForTenant("tenant-b")
	require.NoError(t, err)

	svcA := newTestService(t, stA)
	svcB := newTestService(t, stB)
	b, lines := createBudget(t, svcA, budgetInput("SHARED", budget.ModeHardBlock, "100", "100"))
	record(t, svcA, b, lines[0].ID, "50")

	_, err = svcB.GetBudget(ctx, b.ID)
	assert.ErrorIs(t, err, budget.ErrNotFound)
	_, err = svcB.CheckEnforcement(ctx, budget.CheckRequest{BudgetID: b.ID, ProposedAmount: dec("1")})
	assert.ErrorIs(t, err, budget.ErrNotFound)
	_, _, err = svcB.RecordActual(ctx, budget.ActualInput{BudgetID: b.ID, ActualType: budget.ActualExpense, ActualAmount: dec("1")})
	assert.ErrorIs(t, err, budget.ErrNotFound)

	// same code is free in another tenant
	_, _, err = svcB.CreateBudget(ctx, budgetInput("SHARED", budget.ModeHardBlock, "100"))
	assert.NoError(t, err)

	_, err = mem.ForTenant("")
	assert.ErrorIs(t, err, budget.ErrValidation)

	tenants, err := mem.Tenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []budget.TenantID{"tenant-a", "tenant-b"}, tenants)
}
