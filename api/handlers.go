/*
handlers.go - HTTP API handlers for the budget engine

PURPOSE:
  Exposes the budget engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to budget.Service.

ENDPOINTS:
  Budgets:
    GET    /api/budgets                     List (?status&budget_type&fiscal_year&with_summary)
    POST   /api/budgets                     Create with initial lines
    GET    /api/budgets/{id}                Budget with ledger totals
    PUT    /api/budgets/{id}                Partial update (bumps version)
    DELETE /api/budgets/{id}                Delete with all dependent rows
    POST   /api/budgets/{id}/status         Lifecycle transition
    GET    /api/budgets/{id}/versions       Version history

  Lines:
    GET    /api/budgets/{id}/lines          List (?with_variance)
    POST   /api/budgets/{id}/lines          Add line
    PUT    /api/budgets/{id}/lines/{lineID} Update line
    DELETE /api/budgets/{id}/lines/{lineID} Delete line

  Spend:
    GET    /api/budgets/{id}/actuals        Ledger (?actual_type&start_date&end_date)
    POST   /api/budgets/{id}/actuals        Record actual, re-derive variances
    POST   /api/budgets/{id}/enforcement    Spend gate

  Variances:
    GET    /api/budgets/{id}/variances          List (?variance_type&alert_level)
    PATCH  /api/budgets/{id}/variances          Acknowledge
    POST   /api/budgets/{id}/variances/refresh  Re-classify every line

  Forecasts / approvals:
    GET    /api/budgets/{id}/forecasts      List (?forecast_type)
    POST   /api/budgets/{id}/forecasts      Rolling or manual forecast
    GET    /api/budgets/{id}/approvals      List decisions
    POST   /api/budgets/{id}/approvals      Approve or reject

ARCHITECTURE:
  Handler holds a StoreFactory and the service options. Each request
  builds a budget.Service bound to the tenant resolved by the Tenant
  middleware, so no handler ever sees another tenant's data.

ERROR HANDLING:
  Errors are returned as JSON {error, details} with the status mapped
  from the budget sentinels:
  - 400: ErrValidation (bad input, invalid transition)
  - 404: ErrNotFound
  - 409: ErrConflict (duplicate code, line number)
  - 422: ErrBudgetExceeded (enforced posting blocked)
  - 503: ErrStorageUnavailable
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - tenant.go: tenant resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Stores  budget.StoreFactory
	Options []budget.Option
}

// NewHandler creates a handler. opts are applied to every per-request
// service (thresholds, notifier, concurrency).
func NewHandler(stores budget.StoreFactory, opts ...budget.Option) *Handler {
	return &Handler{Stores: stores, Options: opts}
}

// service returns a Service bound to the request's tenant.
func (h *Handler) service(r *http.Request) (*budget.Service, error) {
	st, err := h.Stores.ForTenant(TenantFromContext(r.Context()))
	if err != nil {
		return nil, err
	}
	opts := make([]budget.Option, 0, len(h.Options)+1)
	opts = append(opts, h.Options...)
	opts = append(opts, budget.WithLogger(logging.FromContext(r.Context())))
	return budget.NewService(st, opts...), nil
}

// withService resolves the tenant service or writes the error.
func (h *Handler) withService(w http.ResponseWriter, r *http.Request) (*budget.Service, bool) {
	svc, err := h.service(r)
	if err != nil {
		writeServiceError(w, r, "Failed to open tenant store", err)
		return nil, false
	}
	return svc, true
}

func budgetID(r *http.Request) budget.BudgetID {
	return budget.BudgetID(chi.URLParam(r, "id"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness and, when the store supports it, pings the
// database. It is mounted outside the tenant middleware.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Stores.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// BUDGET ENDPOINTS
// =============================================================================

// ListBudgets returns the tenant's budgets, newest first.
func (h *Handler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := budget.BudgetFilter{
		Status:     budget.Status(q.Get("status")),
		BudgetType: budget.BudgetType(q.Get("budget_type")),
	}
	if fy := q.Get("fiscal_year"); fy != "" {
		year, err := strconv.Atoi(fy)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid fiscal_year", err)
			return
		}
		filter.FiscalYear = year
	}

	if boolParam(r, "with_summary") {
		sums, err := svc.ListSummaries(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, "Failed to list budgets", err)
			return
		}
		out := make([]BudgetSummaryDTO, 0, len(sums))
		for _, s := range sums {
			out = append(out, toSummaryDTO(s))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	budgets, err := svc.ListBudgets(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, "Failed to list budgets", err)
		return
	}
	out := make([]BudgetDTO, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, toBudgetDTO(b))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateBudget creates a DRAFT budget with its initial lines.
func (h *Handler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	var req CreateBudgetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, lines, err := svc.CreateBudget(r.Context(), req.toInput())
	if err != nil {
		writeServiceError(w, r, "Failed to create budget", err)
		return
	}
	writeJSON(w, http.StatusCreated, BudgetResponse{Budget: toBudgetDTO(*b), Lines: toLineDTOs(lines)})
}

// GetBudget returns the budget header with its ledger totals.
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	sum, err := svc.Summary(r.Context(), budgetID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to get budget", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(*sum))
}

// UpdateBudget applies a partial update.
func (h *Handler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	var req UpdateBudgetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := svc.UpdateBudget(r.Context(), budgetID(r), req.toUpdate())
	if err != nil {
		writeServiceError(w, r, "Failed to update budget", err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(*b))
}

// DeleteBudget removes the budget and everything recorded against it.
func (h *Handler) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	if err := svc.DeleteBudget(r.Context(), budgetID(r)); err != nil {
		writeServiceError(w, r, "Failed to delete budget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeStatus moves the budget along its lifecycle.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := svc.ChangeStatus(r.Context(), budgetID(r), budget.Status(req.Status), req.ChangedBy)
	if err != nil {
		writeServiceError(w, r, "Failed to change status", err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(*b))
}

// ListVersions returns the budget's version history, oldest first.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	versions, err := svc.ListVersions(r.Context(), budgetID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to list versions", err)
		return
	}
	out := make([]VersionDTO, 0, len(versions))
	for _, v := range versions {
		out = append(out, toVersionDTO(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// LINE ENDPOINTS
// =============================================================================

// ListLines returns the budget's lines, optionally with ledger totals.
func (h *Handler) ListLines(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	if boolParam(r, "with_variance") {
		rows, err := svc.LineVariances(r.Context(), budgetID(r))
		if err != nil {
			writeServiceError(w, r, "Failed to list lines", err)
			return
		}
		out := make([]LineVarianceDTO, 0, len(rows))
		for _, lv := range rows {
			out = append(out, LineVarianceDTO{
				LineDTO:          toLineDTO(lv.Line),
				ActualAmount:     lv.ActualAmount,
				CommittedAmount:  lv.CommittedAmount,
				RemainingBalance: lv.RemainingBalance,
				PercentUtilized:  lv.PercentUtilized,
			})
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	lines, err := svc.ListLines(r.Context(), budgetID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to list lines", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTOs(lines))
}

// AddLine appends a line to the budget.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	var req LineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := svc.AddLine(r.Context(), budgetID(r), req.toInput())
	if err != nil {
		writeServiceError(w, r, "Failed to add line", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineDTO(*l))
}

// UpdateLine applies a partial line update.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	var req UpdateLineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	lineID := budget.LineID(chi.URLParam(r, "lineID"))
	l, err := svc.UpdateLine(r.Context(), budgetID(r), lineID, req.toUpdate())
	if err != nil {
		writeServiceError(w, r, "Failed to update line", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(*l))
}

// DeleteLine removes a line. Its actuals stay on the budget.
func (h *Handler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	lineID := budget.LineID(chi.URLParam(r, "lineID"))
	if err := svc.DeleteLine(r.Context(), budgetID(r), lineID); err != nil {
		writeServiceError(w, r, "Failed to delete line", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SPEND ENDPOINTS
// =============================================================================

// ListActuals returns the budget's ledger, latest transaction first.
func (h *Handler) ListActuals(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, err := parseDate("start_date", q.Get("start_date"))
	if err != nil {
		writeServiceError(w, r, "Invalid start_date", err)
		return
	}
	to, err := parseDate("end_date", q.Get("end_date"))
	if err != nil {
		writeServiceError(w, r, "Invalid end_date", err)
		return
	}
	rows, err := svc.ListActuals(r.Context(), budgetID(r), budget.ActualFilter{
		ActualType: budget.ActualType(q.Get("actual_type")),
		From:       from,
		To:         to,
	})
	if err != nil {
		writeServiceError(w, r, "Failed to list actuals", err)
		return
	}
	out := make([]ActualDTO, 0, len(rows))
	for _, a := range rows {
		out = append(out, toActualDTO(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// RecordActual appends spend to the ledger and re-derives variances.
// Lines that failed to re-classify are listed in failed_lines; the
// posting itself still succeeded.
func (h *Handler) RecordActual(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	var req RecordActualRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := req.toInput(budgetID(r))
	if err != nil {
		writeServiceError(w, r, "Invalid actual", err)
		return
	}
	a, report, err := svc.RecordActual(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, "Failed to record actual", err)
		return
	}
	writeJSON(w, http.StatusCreated, RecordActualResponse{
		Actual:    toActualDTO(*a),
		Variances: toVarianceDTOs(report.Variances()),
		Failed:    failedLines(report),
	})
}

// CheckEnforcement runs the spend gate. A blocked spend is still a
// 200: the decision is the answer.
func (h *Handler) CheckEnforcement(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	var req EnforcementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := svc.CheckEnforcement(r.Context(), budget.CheckRequest{
		BudgetID:       budgetID(r),
		LineID:         budget.LineID(req.LineID),
		ProposedAmount: req.ProposedAmount,
	})
	if err != nil {
		writeServiceError(w, r, "Failed to check enforcement", err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionDTO(*d))
}

// =============================================================================
// VARIANCE ENDPOINTS
// =============================================================================

// ListVariances returns the budget's variance rows.
func (h *Handler) ListVariances(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	rows, err := svc.ListVariances(r.Context(), budget.VarianceFilter{
		BudgetID:     budgetID(r),
		VarianceType: budget.VarianceType(q.Get("variance_type")),
		AlertLevel:   budget.AlertLevel(q.Get("alert_level")),
	})
	if err != nil {
		writeServiceError(w, r, "Failed to list variances", err)
		return
	}
	writeJSON(w, http.StatusOK, toVarianceDTOs(rows))
}

// AcknowledgeVariance marks one of the budget's variances as reviewed.
func (h *Handler) AcknowledgeVariance(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	var req AcknowledgeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v, err := svc.AcknowledgeVariance(r.Context(), budgetID(r), budget.VarianceID(req.VarianceID), req.AcknowledgedBy)
	if err != nil {
		writeServiceError(w, r, "Failed to acknowledge variance", err)
		return
	}
	writeJSON(w, http.StatusOK, toVarianceDTO(*v))
}

// RefreshVariances re-classifies every line of the budget.
func (h *Handler) RefreshVariances(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	report, err := svc.RefreshVariances(r.Context(), budgetID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to refresh variances", err)
		return
	}
	writeJSON(w, http.StatusOK, toRefreshResponse(report))
}

// =============================================================================
// FORECAST ENDPOINTS
// =============================================================================

// ListForecasts returns the budget's forecasts, newest first.
func (h *Handler) ListForecasts(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	ft := budget.ForecastType(r.URL.Query().Get("forecast_type"))
	rows, err := svc.ListForecasts(r.Context(), budgetID(r), ft)
	if err != nil {
		writeServiceError(w, r, "Failed to list forecasts", err)
		return
	}
	out := make([]ForecastDTO, 0, len(rows))
	for _, f := range rows {
		out = append(out, toForecastDTO(f))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateForecast generates a rolling forecast or stores a manual one.
func (h *Handler) CreateForecast(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	var req ForecastRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		f   *budget.Forecast
		err error
	)
	if req.GenerateRolling {
		f, err = svc.GenerateRollingForecast(r.Context(), budgetID(r), req.BasePeriods, req.CreatedBy)
	} else {
		var in budget.ForecastInput
		if in, err = req.toInput(budgetID(r)); err == nil {
			f, err = svc.CreateForecast(r.Context(), in)
		}
	}
	if err != nil {
		writeServiceError(w, r, "Failed to create forecast", err)
		return
	}
	writeJSON(w, http.StatusCreated, toForecastDTO(*f))
}

// =============================================================================
// APPROVAL ENDPOINTS
// =============================================================================

// ListApprovals returns the budget's approval decisions.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	rows, err := svc.ListApprovals(r.Context(), budgetID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to list approvals", err)
		return
	}
	out := make([]ApprovalDTO, 0, len(rows))
	for _, a := range rows {
		out = append(out, toApprovalDTO(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// DecideApproval records an approve or reject decision.
func (h *Handler) DecideApproval(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.withService(w, r)
	if !ok {
		return
	}
	var req ApprovalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, b, err := svc.Decide(r.Context(), req.toInput(budgetID(r)))
	if err != nil {
		writeServiceError(w, r, "Failed to record approval", err)
		return
	}
	writeJSON(w, http.StatusOK, ApprovalResponse{Approval: toApprovalDTO(*a), Budget: toBudgetDTO(*b)})
}

// =============================================================================
// HELPERS
// =============================================================================

func boolParam(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// statusFor maps budget errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, budget.ErrBudgetExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, budget.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, budget.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, budget.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, budget.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err with its mapped status. Unclassified
// errors are logged; the service already logged storage failures.
func writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log := logging.FromContext(r.Context())
		log.Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
