/*
handlers_test.go - HTTP tests for the budget API

Tests for:
- Budget CRUD, lifecycle, lines, versions
- Postings, variances, enforcement, forecasts, approvals
- Error mapping to status codes
- Tenant resolution (header, query, JWT) and isolation
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/budget/store"
)

const (
	tenantA = "acme"
	tenantB = "globex"
)

// =============================================================================
// HELPERS
// =============================================================================

func newTestRouter(t *testing.T, stores budget.StoreFactory) http.Handler {
	t.Helper()
	return NewRouter(NewHandler(stores), RouterOptions{
		Logger: zerolog.Nop(),
		Tenant: TenantOptions{Header: "X-Tenant-ID"},
	})
}

func do(t *testing.T, h http.Handler, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

func createBudgetRequest(code, mode string) map[string]any {
	return map[string]any{
		"budget_code":         code,
		"budget_name":         "Marketing " + code,
		"budget_type":         "DEPARTMENT",
		"period_type":         "ANNUAL",
		"fiscal_year":         2025,
		"total_budget_amount": "1000",
		"enforcement_mode":    mode,
		"created_by":          "controller",
		"lines": []map[string]any{
			{"account_code": "6100", "account_name": "Travel", "budgeted_amount": "500"},
			{"account_code": "6200", "account_name": "Events", "budgeted_amount": 300},
		},
	}
}

// createBudget posts a budget and returns it with its lines.
func createBudget(t *testing.T, h http.Handler, tenant, code, mode string) BudgetResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/budgets", tenant, createBudgetRequest(code, mode))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[BudgetResponse](t, rec)
}

func postActual(t *testing.T, h http.Handler, tenant, budgetID, lineID, amount string) RecordActualResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/budgets/"+budgetID+"/actuals", tenant, map[string]any{
		"budget_line_id":   lineID,
		"actual_type":      "EXPENSE",
		"actual_amount":    amount,
		"transaction_date": "2025-03-15",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[RecordActualResponse](t, rec)
}

// brokenStores hands out stores whose reads fail.
type brokenStores struct{ *store.Memory }

func (b brokenStores) ForTenant(tenant budget.TenantID) (budget.Store, error) {
	st, err := b.Memory.ForTenant(tenant)
	if err != nil {
		return nil, err
	}
	return brokenStore{st}, nil
}

type brokenStore struct{ budget.Store }

func (brokenStore) ListBudgets(context.Context, budget.BudgetFilter) ([]budget.Budget, error) {
	return nil, errors.New("disk gone")
}

// =============================================================================
// BUDGETS
// =============================================================================

func TestCreateAndGetBudget(t *testing.T) {
	// GIVEN: an empty store
	h := newTestRouter(t, store.NewMemory())

	// WHEN: a budget with two lines is created
	created := createBudget(t, h, tenantA, "MKT-25", "HARD_BLOCK")

	// THEN: it is a DRAFT at version 1 with numbered lines
	assert.Equal(t, "MKT-25", created.Budget.Code)
	assert.Equal(t, "DRAFT", created.Budget.Status)
	assert.Equal(t, tenantA, created.Budget.TenantID)
	assert.Equal(t, 1, created.Budget.VersionNumber)
	assertDec(t, "110", created.Budget.OverrunThresholdPercent, "default overrun threshold")
	require.Len(t, created.Lines, 2)
	assert.Equal(t, 1, created.Lines[0].LineNumber)
	assert.Equal(t, 2, created.Lines[1].LineNumber)
	assertDec(t, "300", created.Lines[1].BudgetedAmount, "numeric amount accepted")

	// AND: GET returns the header with empty ledger totals
	rec := do(t, h, http.MethodGet, "/api/budgets/"+created.Budget.ID, tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[BudgetSummaryDTO](t, rec)
	assert.Equal(t, created.Budget.ID, sum.ID)
	assertDec(t, "0", sum.TotalActual, "total actual")
	assertDec(t, "1000", sum.RemainingBalance, "remaining")
}

func TestMoneyIsEncodedAsString(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING")

	rec := do(t, h, http.MethodGet, "/api/budgets/"+created.Budget.ID, tenantA, nil)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "1000", raw["total_budget_amount"])
	assert.Equal(t, "0", raw["total_actual"])
}

func TestListBudgets(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())
	first := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING")
	createBudget(t, h, tenantA, "OPS-25", "SOFT_WARNING")

	rec := do(t, h, http.MethodPost, "/api/budgets/"+first.Budget.ID+"/status", tenantA,
		StatusRequest{Status: "SUBMITTED", ChangedBy: "controller"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/budgets", tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]BudgetDTO](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/api/budgets?status=SUBMITTED&fiscal_year=2025", tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]BudgetDTO](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "MKT-25", got[0].Code)

	rec = do(t, h, http.MethodGet, "/api/budgets?with_summary=true", tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sums := decode[[]BudgetSummaryDTO](t, rec)
	require.Len(t, sums, 2)
	assertDec(t, "1000", sums[0].RemainingBalance, "summary remaining")

	rec = do(t, h, http.MethodGet, "/api/budgets?fiscal_year=next", tenantA, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/budgets?status=PENDING", tenantA, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateBudget_VersionHistory(t *testing.T) {
	// GIVEN: a budget at version 1
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING")
	id := created.Budget.ID

	// WHEN: the total is raised
	rec := do(t, h, http.MethodPut, "/api/budgets/"+id, tenantA, map[string]any{
		"total_budget_amount": "1200",
		"change_reason":       "Q2 reforecast",
		"changed_by":          "cfo",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[BudgetDTO](t, rec)

	// THEN: version 2 is recorded with its snapshot
	assert.Equal(t, 2, updated.VersionNumber)
	assertDec(t, "1200", updated.TotalBudgetAmount, "total")

	rec = do(t, h, http.MethodGet, "/api/budgets/"+id+"/versions", tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	versions := decode[[]VersionDTO](t, rec)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].VersionNumber)
	assert.Equal(t, "Q2 reforecast", versions[1].ChangeReason)
	assert.Equal(t, "cfo", versions[1].ChangedBy)
	assert.Contains(t, string(versions[1].Snapshot), "MKT-25")
}

func TestChangeStatus(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())
	id := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING").Budget.ID

	rec := do(t, h, http.MethodPost, "/api/budgets/"+id+"/status", tenantA, StatusRequest{Status: "SUBMITTED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "SUBMITTED", decode[BudgetDTO](t, rec).Status)

	// SUBMITTED -> ACTIVE skips approval
	rec = do(t, h, http.MethodPost, "/api/budgets/"+id+"/status", tenantA, StatusRequest{Status: "ACTIVE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "SUBMITTED -> ACTIVE")
}

func TestDeleteBudget(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING")
	id := created.Budget.ID
	postActual(t, h, tenantA, id, created.Lines[0].ID, "10")

	rec := do(t, h, http.MethodDelete, "/api/budgets/"+id, tenantA, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/budgets/"+id, tenantA, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/budgets/"+id, tenantA, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// LINES
// =============================================================================

func TestLineEndpoints(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING")
	id := created.Budget.ID

	// add
	rec := do(t, h, http.MethodPost, "/api/budgets/"+id+"/lines", tenantA, LineRequest{
		AccountCode:    "6300",
		AccountName:    "Software",
		BudgetedAmount: decimal.NewFromInt(200),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[LineDTO](t, rec)
	assert.Equal(t, 3, added.LineNumber)

	// duplicate number
	rec = do(t, h, http.MethodPost, "/api/budgets/"+id+"/lines", tenantA, LineRequest{LineNumber: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// update
	rec = do(t, h, http.MethodPut, "/api/budgets/"+id+"/lines/"+added.ID, tenantA, map[string]any{
		"budgeted_amount": "250.75",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertDec(t, "250.75", decode[LineDTO](t, rec).BudgetedAmount, "updated amount")

	// spend shows up in the variance view
	postActual(t, h, tenantA, id, created.Lines[0].ID, "125")
	rec = do(t, h, http.MethodGet, "/api/budgets/"+id+"/lines?with_variance=true", tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]LineVarianceDTO](t, rec)
	require.Len(t, views, 3)
	assertDec(t, "125", views[0].ActualAmount, "line 1 actual")
	assertDec(t, "375", views[0].RemainingBalance, "line 1 remaining")
	assertDec(t, "25", views[0].PercentUtilized, "line 1 utilized")

	// delete
	rec = do(t, h, http.MethodDelete, "/api/budgets/"+id+"/lines/"+added.ID, tenantA, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/budgets/"+id+"/lines", tenantA, nil)
	assert.Len(t, decode[[]LineDTO](t, rec), 2)

	rec = do(t, h, http.MethodDelete, "/api/budgets/"+id+"/lines/"+added.ID, tenantA, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SPEND, VARIANCES, ENFORCEMENT
// =============================================================================

func TestRecordActual_DerivesVariances(t *testing.T) {
	// GIVEN: a line with 500 budgeted
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "HARD_BLOCK")
	id, line := created.Budget.ID, created.Lines[0].ID

	// WHEN: 450 is spent on it
	resp := postActual(t, h, tenantA, id, line, "450")

	// THEN: the posting is returned with both lines re-classified
	assertDec(t, "450", resp.Actual.ActualAmount, "actual")
	assert.Equal(t, "2025-03-15", resp.Actual.TransactionDate.Format("2006-01-02"))
	require.Len(t, resp.Variances, 2)
	byLine := map[string]VarianceDTO{}
	for _, v := range resp.Variances {
		byLine[v.LineID] = v
	}
	assert.Equal(t, "THRESHOLD_WARNING", byLine[line].VarianceType)
	assert.Equal(t, "WARNING", byLine[line].AlertLevel)
	assertDec(t, "90", byLine[line].VariancePercent, "percent")
	assert.Equal(t, "UNDER_BUDGET", byLine[created.Lines[1].ID].VarianceType)

	// AND: the variance list can be filtered
	rec := do(t, h, http.MethodGet, "/api/budgets/"+id+"/variances?alert_level=WARNING", tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	warn := decode[[]VarianceDTO](t, rec)
	require.Len(t, warn, 1)
	assert.Equal(t, line, warn[0].LineID)
}

func TestRecordActual_Errors(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "HARD_BLOCK")
	id, line := created.Budget.ID, created.Lines[0].ID
	path := "/api/budgets/" + id + "/actuals"

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"bad json", `{"actual_amount":`, http.StatusBadRequest},
		{"unknown type", map[string]any{"actual_type": "GIFT", "actual_amount": "1"}, http.StatusBadRequest},
		{"negative amount", map[string]any{"actual_type": "EXPENSE", "actual_amount": "-1"}, http.StatusBadRequest},
		{"bad date", map[string]any{"actual_type": "EXPENSE", "actual_amount": "1", "transaction_date": "15/03/2025"}, http.StatusBadRequest},
		{"unknown line", map[string]any{"actual_type": "EXPENSE", "actual_amount": "1", "budget_line_id": "nope"}, http.StatusNotFound},
		{"enforced overrun", map[string]any{"actual_type": "EXPENSE", "actual_amount": "600", "budget_line_id": line, "enforce": true}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, path, tenantA, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, h, http.MethodPost, "/api/budgets/ghost/actuals", tenantA,
		map[string]any{"actual_type": "EXPENSE", "actual_amount": "1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// nothing was posted
	rec = do(t, h, http.MethodGet, path, tenantA, nil)
	assert.Empty(t, decode[[]ActualDTO](t, rec))
}

func TestListActuals_DateFilter(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING")
	id := created.Budget.ID
	for _, date := range []string{"2025-01-10", "2025-02-10", "2025-03-10"} {
		rec := do(t, h, http.MethodPost, "/api/budgets/"+id+"/actuals", tenantA, map[string]any{
			"actual_type":      "INVOICE",
			"actual_amount":    "10",
			"transaction_date": date,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := do(t, h, http.MethodGet, "/api/budgets/"+id+"/actuals?start_date=2025-02-01&end_date=2025-03-31", tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := decode[[]ActualDTO](t, rec)
	require.Len(t, rows, 2)
	assert.Equal(t, "2025-03-10", rows[0].TransactionDate.Format("2006-01-02"), "latest first")

	rec = do(t, h, http.MethodGet, "/api/budgets/"+id+"/actuals?actual_type=EXPENSE", tenantA, nil)
	assert.Empty(t, decode[[]ActualDTO](t, rec))

	rec = do(t, h, http.MethodGet, "/api/budgets/"+id+"/actuals?start_date=yesterday", tenantA, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckEnforcement(t *testing.T) {
	// GIVEN: a HARD_BLOCK line with 450 of 500 spent
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "HARD_BLOCK")
	id, line := created.Budget.ID, created.Lines[0].ID
	postActual(t, h, tenantA, id, line, "450")
	path := "/api/budgets/" + id + "/enforcement"

	// WHEN: 100 more is proposed
	rec := do(t, h, http.MethodPost, path, tenantA, map[string]any{"budget_line_id": line, "proposed_amount": "100"})

	// THEN: the gate blocks it and reports what is left
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[DecisionDTO](t, rec)
	assert.False(t, d.CanProceed)
	assert.True(t, d.WouldExceed)
	assert.Equal(t, "HARD_BLOCK", d.EnforcementMode)
	assert.Equal(t, budget.MessageBlocked, d.Message)
	assertDec(t, "50", d.RemainingBalance, "remaining")

	// AND: a spend that fits passes
	rec = do(t, h, http.MethodPost, path, tenantA, map[string]any{"budget_line_id": line, "proposed_amount": 50})
	d = decode[DecisionDTO](t, rec)
	assert.True(t, d.CanProceed)
	assert.Equal(t, budget.MessagePassed, d.Message)

	// AND: the budget-level gate uses the total
	rec = do(t, h, http.MethodPost, path, tenantA, map[string]any{"proposed_amount": "500"})
	d = decode[DecisionDTO](t, rec)
	assert.True(t, d.CanProceed)
	assertDec(t, "550", d.RemainingBalance, "budget remaining")

	rec = do(t, h, http.MethodPost, path, tenantA, map[string]any{"proposed_amount": "-5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcknowledgeVariance(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING")
	id := created.Budget.ID
	resp := postActual(t, h, tenantA, id, created.Lines[0].ID, "600")
	require.NotEmpty(t, resp.Variances)
	vid := resp.Variances[0].ID

	rec := do(t, h, http.MethodPatch, "/api/budgets/"+id+"/variances", tenantA,
		AcknowledgeRequest{VarianceID: vid, AcknowledgedBy: "controller"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v := decode[VarianceDTO](t, rec)
	assert.True(t, v.IsAcknowledged)
	assert.Equal(t, "controller", v.AcknowledgedBy)
	assert.NotNil(t, v.AcknowledgedAt)

	rec = do(t, h, http.MethodPatch, "/api/budgets/"+id+"/variances", tenantA, AcknowledgeRequest{VarianceID: vid})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/budgets/"+id+"/variances", tenantA,
		AcknowledgeRequest{VarianceID: "ghost", AcknowledgedBy: "controller"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshVariances(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING")
	id := created.Budget.ID

	rec := do(t, h, http.MethodPost, "/api/budgets/"+id+"/variances/refresh", tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RefreshResponse](t, rec)
	assert.Equal(t, id, resp.BudgetID)
	assert.Len(t, resp.Variances, 2)
	assert.Empty(t, resp.Failed)

	// refresh twice, same rows
	rec = do(t, h, http.MethodPost, "/api/budgets/"+id+"/variances/refresh", tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/budgets/"+id+"/variances", tenantA, nil)
	assert.Len(t, decode[[]VarianceDTO](t, rec), 2)
}

// =============================================================================
// FORECASTS & APPROVALS
// =============================================================================

func TestForecasts(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING")
	id, line := created.Budget.ID, created.Lines[0].ID
	postActual(t, h, tenantA, id, line, "100")
	postActual(t, h, tenantA, id, line, "300")
	path := "/api/budgets/" + id + "/forecasts"

	// rolling
	rec := do(t, h, http.MethodPost, path, tenantA, ForecastRequest{GenerateRolling: true, CreatedBy: "fp&a"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rolling := decode[ForecastDTO](t, rec)
	assert.Equal(t, "ROLLING", rolling.ForecastType)
	assert.Equal(t, 3, rolling.BasePeriods)
	require.Len(t, rolling.Lines, 1, "only lines with history")
	assertDec(t, "200", rolling.Lines[0].ForecastedAmount, "mean")

	// manual
	rec = do(t, h, http.MethodPost, path, tenantA, map[string]any{
		"forecast_type":         "SCENARIO",
		"scenario_name":         "Trade show cancelled",
		"forecast_period_start": "2025-07-01",
		"forecast_period_end":   "2025-12-31",
		"forecast_lines":        []map[string]any{{"budget_line_id": line, "forecasted_amount": "150"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	manual := decode[ForecastDTO](t, rec)
	assert.Equal(t, "MEDIUM", manual.ConfidenceLevel)
	require.NotNil(t, manual.PeriodStart)
	assert.Equal(t, time.July, manual.PeriodStart.Month())

	rec = do(t, h, http.MethodGet, path+"?forecast_type=SCENARIO", tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ForecastDTO](t, rec), 1)

	rec = do(t, h, http.MethodGet, path, tenantA, nil)
	assert.Len(t, decode[[]ForecastDTO](t, rec), 2)

	rec = do(t, h, http.MethodPost, path, tenantA, map[string]any{
		"forecast_type":         "SCENARIO",
		"forecast_period_start": "July",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprovals(t *testing.T) {
	// GIVEN: a submitted budget
	h := newTestRouter(t, store.NewMemory())
	id := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING").Budget.ID
	rec := do(t, h, http.MethodPost, "/api/budgets/"+id+"/status", tenantA, StatusRequest{Status: "SUBMITTED"})
	require.Equal(t, http.StatusOK, rec.Code)

	// WHEN: the CFO approves it
	rec = do(t, h, http.MethodPost, "/api/budgets/"+id+"/approvals", tenantA, ApprovalRequest{
		Approve:      true,
		ApproverID:   "u-9",
		ApproverName: "Dana CFO",
		ApproverRole: "CFO",
		Comment:      "ok",
	})

	// THEN: the budget is APPROVED and the decision is listed
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ApprovalResponse](t, rec)
	assert.Equal(t, "APPROVED", resp.Approval.Status)
	assert.Equal(t, 1, resp.Approval.Sequence)
	assert.Equal(t, "APPROVED", resp.Budget.Status)
	assert.Equal(t, "u-9", resp.Budget.ApprovedBy)

	rec = do(t, h, http.MethodGet, "/api/budgets/"+id+"/approvals", tenantA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ApprovalDTO](t, rec), 1)

	rec = do(t, h, http.MethodPost, "/api/budgets/"+id+"/approvals", tenantA, ApprovalRequest{Approve: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrorMapping(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())
	createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING")

	rec := do(t, h, http.MethodPost, "/api/budgets", tenantA, createBudgetRequest("MKT-25", "SOFT_WARNING"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	bad := createBudgetRequest("OPS-25", "SOFT_WARNING")
	bad["budget_type"] = "GALAXY"
	rec = do(t, h, http.MethodPost, "/api/budgets", tenantA, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Failed to create budget", e.Error)
	assert.Contains(t, e.Details, "budget_type")

	rec = do(t, h, http.MethodGet, "/api/budgets/ghost", tenantA, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/nowhere", tenantA, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStorageFailureIs503(t *testing.T) {
	h := newTestRouter(t, brokenStores{store.NewMemory()})

	rec := do(t, h, http.MethodGet, "/api/budgets", tenantA, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "disk gone")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{budget.ErrValidation, http.StatusBadRequest},
		{&budget.TransitionError{From: budget.StatusDraft, To: budget.StatusActive}, http.StatusBadRequest},
		{budget.ErrNotFound, http.StatusNotFound},
		{budget.ErrConflict, http.StatusConflict},
		{&budget.BudgetExceededError{}, http.StatusUnprocessableEntity},
		{budget.Storage("list", errors.New("io")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

// =============================================================================
// TENANTS
// =============================================================================

func TestTenant_Required(t *testing.T) {
	h := newTestRouter(t, store.NewMemory())

	rec := do(t, h, http.MethodGet, "/api/budgets", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Tenant is required", decode[ErrorResponse](t, rec).Error)

	// query parameter fallback
	rec = do(t, h, http.MethodGet, "/api/budgets?tenant="+tenantA, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// health needs no tenant
	rec = do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTenant_Isolation(t *testing.T) {
	// GIVEN: a budget owned by tenant A
	h := newTestRouter(t, store.NewMemory())
	created := createBudget(t, h, tenantA, "MKT-25", "SOFT_WARNING")
	id := created.Budget.ID

	// WHEN: tenant B asks for it
	rec := do(t, h, http.MethodGet, "/api/budgets/"+id, tenantB, nil)

	// THEN: it does not exist for B
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/budgets", tenantB, nil)
	assert.Empty(t, decode[[]BudgetDTO](t, rec))

	// AND: B cannot post against it
	rec = do(t, h, http.MethodPost, "/api/budgets/"+id+"/actuals", tenantB,
		map[string]any{"actual_type": "EXPENSE", "actual_amount": "1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// AND: B may reuse the same code
	createBudget(t, h, tenantB, "MKT-25", "SOFT_WARNING")
}

func TestTenant_JWT(t *testing.T) {
	const secret = "s3cret"
	h := NewRouter(NewHandler(store.NewMemory()), RouterOptions{
		Logger: zerolog.Nop(),
		Tenant: TenantOptions{JWTSecret: secret, Header: "X-Tenant-ID"},
	})

	sign := func(key string, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		require.NoError(t, err)
		return s
	}
	get := func(auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/budgets", nil)
		req.Header.Set("X-Tenant-ID", tenantB) // ignored when JWT is on
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	valid := sign(secret, jwt.MapClaims{
		TenantClaim: tenantA,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	assert.Equal(t, http.StatusOK, get("Bearer "+valid).Code)

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"wrong key", "Bearer " + sign("other", jwt.MapClaims{TenantClaim: tenantA}), http.StatusUnauthorized},
		{"expired", "Bearer " + sign(secret, jwt.MapClaims{TenantClaim: tenantA, "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"no tenant claim", "Bearer " + sign(secret, jwt.MapClaims{"sub": "u-1"}), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, get(tt.auth).Code)
		})
	}
}

func TestTenantFromContext(t *testing.T) {
	assert.Equal(t, budget.TenantID(""), TenantFromContext(context.Background()))
	ctx := WithTenant(context.Background(), tenantA)
	assert.Equal(t, budget.TenantID(tenantA), TenantFromContext(ctx))
}
