// Package store provides an in-memory budget.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds every tenant's data. Use ForTenant to obtain a
// tenant-bound budget.Store.
type Memory struct {
	mu   sync.RWMutex
	data memoryData
}

type memoryData struct {
	budgets   map[budget.BudgetID]budget.Budget
	lines     map[budget.LineID]budget.Line
	actuals   []budget.Actual
	variances map[budget.VarianceID]budget.Variance
	versions  []budget.Version
	forecasts []budget.Forecast
	approvals map[budget.ApprovalID]budget.Approval
}

func NewMemory() *Memory {
	return &Memory{data: memoryData{
		budgets:   make(map[budget.BudgetID]budget.Budget),
		lines:     make(map[budget.LineID]budget.Line),
		variances: make(map[budget.VarianceID]budget.Variance),
		approvals: make(map[budget.ApprovalID]budget.Approval),
	}}
}

// ForTenant returns a store that only sees tenant's rows.
func (m *Memory) ForTenant(tenant budget.TenantID) (budget.Store, error) {
	if err := budget.CheckTenant(tenant); err != nil {
		return nil, err
	}
	return &tenantView{m: m, tenant: tenant}, nil
}

// Tenants lists tenants owning at least one budget, sorted.
func (m *Memory) Tenants(_ context.Context) ([]budget.TenantID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[budget.TenantID]bool{}
	var out []budget.TenantID
	for _, b := range m.data.budgets {
		if !seen[b.TenantID] {
			seen[b.TenantID] = true
			out = append(out, b.TenantID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (d memoryData) clone() memoryData {
	c := memoryData{
		budgets:   make(map[budget.BudgetID]budget.Budget, len(d.budgets)),
		lines:     make(map[budget.LineID]budget.Line, len(d.lines)),
		actuals:   append([]budget.Actual{}, d.actuals...),
		variances: make(map[budget.VarianceID]budget.Variance, len(d.variances)),
		versions:  append([]budget.Version{}, d.versions...),
		forecasts: append([]budget.Forecast{}, d.forecasts...),
		approvals: make(map[budget.ApprovalID]budget.Approval, len(d.approvals)),
	}
	for k, v := range d.budgets {
		c.budgets[k] = v
	}
	for k, v := range d.lines {
		c.lines[k] = v
	}
	for k, v := range d.variances {
		c.variances[k] = v
	}
	for k, v := range d.approvals {
		c.approvals[k] = v
	}
	return c
}

// =============================================================================
// TENANT VIEW
// =============================================================================

type tenantView struct {
	m      *Memory
	tenant budget.TenantID
	inTx   bool // WithTx already holds m.mu
}

func (v *tenantView) Tenant() budget.TenantID { return v.tenant }

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (v *tenantView) WithTx(_ context.Context, fn func(budget.Store) error) error {
	if v.inTx {
		return fn(v)
	}
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	snapshot := v.m.data.clone()
	if err := fn(&tenantView{m: v.m, tenant: v.tenant, inTx: true}); err != nil {
		v.m.data = snapshot
		return err
	}
	return nil
}

func (v *tenantView) read(fn func(d *memoryData) error) error {
	if !v.inTx {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
	}
	return fn(&v.m.data)
}

func (v *tenantView) write(fn func(d *memoryData) error) error {
	if !v.inTx {
		v.m.mu.Lock()
		defer v.m.mu.Unlock()
	}
	return fn(&v.m.data)
}

// =============================================================================
// BUDGETS AND LINES
// =============================================================================

func (v *tenantView) CreateBudget(_ context.Context, b budget.Budget) error {
	return v.write(func(d *memoryData) error {
		if _, ok := d.budgets[b.ID]; ok {
			return fmt.Errorf("budget %s: %w", b.ID, budget.ErrConflict)
		}
		for _, other := range d.budgets {
			if other.TenantID == v.tenant && other.Code == b.Code {
				return fmt.Errorf("budget code %q: %w", b.Code, budget.ErrConflict)
			}
		}
		b.TenantID = v.tenant
		d.budgets[b.ID] = b
		return nil
	})
}

func (v *tenantView) GetBudget(_ context.Context, id budget.BudgetID) (*budget.Budget, error) {
	var out *budget.Budget
	err := v.read(func(d *memoryData) error {
		if b, ok := d.budgets[id]; ok && b.TenantID == v.tenant {
			out = &b
		}
		return nil
	})
	return out, err
}

func (v *tenantView) ListBudgets(_ context.Context, f budget.BudgetFilter) ([]budget.Budget, error) {
	var out []budget.Budget
	err := v.read(func(d *memoryData) error {
		for _, b := range d.budgets {
			if b.TenantID != v.tenant ||
				(f.Code != "" && b.Code != f.Code) ||
				(f.Status != "" && b.Status != f.Status) ||
				(f.BudgetType != "" && b.BudgetType != f.BudgetType) ||
				(f.FiscalYear != 0 && b.FiscalYear != f.FiscalYear) {
				continue
			}
			out = append(out, b)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (v *tenantView) UpdateBudget(_ context.Context, b budget.Budget) error {
	return v.write(func(d *memoryData) error {
		cur, ok := d.budgets[b.ID]
		if !ok || cur.TenantID != v.tenant {
			return &budget.NotFoundError{Kind: "budget", ID: string(b.ID)}
		}
		b.TenantID = v.tenant
		d.budgets[b.ID] = b
		return nil
	})
}

func (v *tenantView) DeleteBudget(_ context.Context, id budget.BudgetID) (bool, error) {
	found := false
	err := v.write(func(d *memoryData) error {
		b, ok := d.budgets[id]
		if !ok || b.TenantID != v.tenant {
			return nil
		}
		found = true
		delete(d.budgets, id)
		for k, l := range d.lines {
			if l.BudgetID == id {
				delete(d.lines, k)
			}
		}
		for k, x := range d.variances {
			if x.BudgetID == id {
				delete(d.variances, k)
			}
		}
		for k, a := range d.approvals {
			if a.BudgetID == id {
				delete(d.approvals, k)
			}
		}
		d.actuals = filterOut(d.actuals, func(a budget.Actual) bool { return a.BudgetID == id })
		d.versions = filterOut(d.versions, func(x budget.Version) bool { return x.BudgetID == id })
		d.forecasts = filterOut(d.forecasts, func(f budget.Forecast) bool { return f.BudgetID == id })
		return nil
	})
	return found, err
}

func filterOut[T any](rows []T, drop func(T) bool) []T {
	out := rows[:0:0]
	for _, r := range rows {
		if !drop(r) {
			out = append(out, r)
		}
	}
	return out
}

func (v *tenantView) CreateLine(_ context.Context, l budget.Line) error {
	return v.write(func(d *memoryData) error {
		b, ok := d.budgets[l.BudgetID]
		if !ok || b.TenantID != v.tenant {
			return &budget.NotFoundError{Kind: "budget", ID: string(l.BudgetID)}
		}
		for _, other := range d.lines {
			if other.BudgetID == l.BudgetID && other.LineNumber == l.LineNumber {
				return fmt.Errorf("line number %d: %w", l.LineNumber, budget.ErrConflict)
			}
		}
		l.TenantID = v.tenant
		d.lines[l.ID] = l
		return nil
	})
}

func (v *tenantView) GetLine(_ context.Context, id budget.LineID) (*budget.Line, error) {
	var out *budget.Line
	err := v.read(func(d *memoryData) error {
		if l, ok := d.lines[id]; ok && l.TenantID == v.tenant {
			out = &l
		}
		return nil
	})
	return out, err
}

func (v *tenantView) ListLines(_ context.Context, budgetID budget.BudgetID) ([]budget.Line, error) {
	var out []budget.Line
	err := v.read(func(d *memoryData) error {
		for _, l := range d.lines {
			if l.TenantID == v.tenant && l.BudgetID == budgetID {
				out = append(out, l)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LineNumber < out[j].LineNumber })
	return out, err
}

func (v *tenantView) UpdateLine(_ context.Context, l budget.Line) error {
	return v.write(func(d *memoryData) error {
		cur, ok := d.lines[l.ID]
		if !ok || cur.TenantID != v.tenant {
			return &budget.NotFoundError{Kind: "line", ID: string(l.ID)}
		}
		l.TenantID = v.tenant
		d.lines[l.ID] = l
		return nil
	})
}

func (v *tenantView) DeleteLine(_ context.Context, id budget.LineID) (bool, error) {
	found := false
	err := v.write(func(d *memoryData) error {
		l, ok := d.lines[id]
		if !ok || l.TenantID != v.tenant {
			return nil
		}
		found = true
		delete(d.lines, id)
		for k, x := range d.variances {
			if x.LineID == id {
				delete(d.variances, k)
			}
		}
		return nil
	})
	return found, err
}

// =============================================================================
// LEDGER - Append-only
// =============================================================================

func (v *tenantView) AppendActual(_ context.Context, a budget.Actual) error {
	return v.write(func(d *memoryData) error {
		a.TenantID = v.tenant
		d.actuals = append(d.actuals, a)
		return nil
	})
}

func (v *tenantView) ListActuals(_ context.Context, f budget.ActualFilter) ([]budget.Actual, error) {
	var out []budget.Actual
	err := v.read(func(d *memoryData) error {
		for _, a := range d.actuals {
			if matchActual(v.tenant, a, f) {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].TransactionDate.After(out[j].TransactionDate) })
	return out, err
}

func matchActual(tenant budget.TenantID, a budget.Actual, f budget.ActualFilter) bool {
	switch {
	case a.TenantID != tenant:
		return false
	case f.BudgetID != "" && a.BudgetID != f.BudgetID:
		return false
	case f.LineID != "" && a.LineID != f.LineID:
		return false
	case f.ActualType != "" && a.ActualType != f.ActualType:
		return false
	case f.From != nil && a.TransactionDate.Before(*f.From):
		return false
	case f.To != nil && a.TransactionDate.After(*f.To):
		return false
	}
	return true
}

func (v *tenantView) SumLine(ctx context.Context, lineID budget.LineID) (budget.Totals, error) {
	rows, err := v.ListActuals(ctx, budget.ActualFilter{LineID: lineID})
	if err != nil {
		return budget.Totals{}, err
	}
	return budget.SumActuals(rows), nil
}

func (v *tenantView) SumBudget(ctx context.Context, budgetID budget.BudgetID) (budget.Totals, error) {
	rows, err := v.ListActuals(ctx, budget.ActualFilter{BudgetID: budgetID})
	if err != nil {
		return budget.Totals{}, err
	}
	return budget.SumActuals(rows), nil
}

// =============================================================================
// VARIANCES
// =============================================================================

func (v *tenantView) GetVariance(_ context.Context, id budget.VarianceID) (*budget.Variance, error) {
	var out *budget.Variance
	err := v.read(func(d *memoryData) error {
		if x, ok := d.variances[id]; ok && x.TenantID == v.tenant {
			out = &x
		}
		return nil
	})
	return out, err
}

func (v *tenantView) FindVariance(_ context.Context, lineID budget.LineID, vt budget.VarianceType) (*budget.Variance, error) {
	var out *budget.Variance
	err := v.read(func(d *memoryData) error {
		if x, ok := findVariance(d, v.tenant, lineID, vt); ok {
			out = &x
		}
		return nil
	})
	return out, err
}

func findVariance(d *memoryData, tenant budget.TenantID, lineID budget.LineID, vt budget.VarianceType) (budget.Variance, bool) {
	for _, x := range d.variances {
		if x.TenantID == tenant && x.LineID == lineID && x.VarianceType == vt {
			return x, true
		}
	}
	return budget.Variance{}, false
}

// UpsertVariance keeps the id and created_at of an existing
// (line, type) row, like ON CONFLICT DO UPDATE.
func (v *tenantView) UpsertVariance(_ context.Context, x budget.Variance) error {
	return v.write(func(d *memoryData) error {
		x.TenantID = v.tenant
		if cur, ok := findVariance(d, v.tenant, x.LineID, x.VarianceType); ok {
			x.ID = cur.ID
			x.CreatedAt = cur.CreatedAt
			x.IsAcknowledged = cur.IsAcknowledged
			x.AcknowledgedBy = cur.AcknowledgedBy
			x.AcknowledgedAt = cur.AcknowledgedAt
		}
		d.variances[x.ID] = x
		return nil
	})
}

func (v *tenantView) SaveVariance(_ context.Context, x budget.Variance) error {
	return v.write(func(d *memoryData) error {
		cur, ok := d.variances[x.ID]
		if !ok || cur.TenantID != v.tenant {
			return &budget.NotFoundError{Kind: "variance", ID: string(x.ID)}
		}
		x.TenantID = v.tenant
		d.variances[x.ID] = x
		return nil
	})
}

func (v *tenantView) ListVariances(_ context.Context, f budget.VarianceFilter) ([]budget.Variance, error) {
	var out []budget.Variance
	err := v.read(func(d *memoryData) error {
		for _, x := range d.variances {
			if x.TenantID != v.tenant ||
				(f.BudgetID != "" && x.BudgetID != f.BudgetID) ||
				(f.LineID != "" && x.LineID != f.LineID) ||
				(f.VarianceType != "" && x.VarianceType != f.VarianceType) ||
				(f.AlertLevel != "" && x.AlertLevel != f.AlertLevel) {
				continue
			}
			out = append(out, x)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, err
}

func (v *tenantView) PruneVariances(_ context.Context, lineID budget.LineID, keep budget.VarianceType) (int, error) {
	n := 0
	err := v.write(func(d *memoryData) error {
		for k, x := range d.variances {
			if x.TenantID == v.tenant && x.LineID == lineID && x.VarianceType != keep && !x.IsAcknowledged {
				delete(d.variances, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

// =============================================================================
// HISTORY
// =============================================================================

func (v *tenantView) AppendVersion(_ context.Context, x budget.Version) error {
	return v.write(func(d *memoryData) error {
		x.TenantID = v.tenant
		x.Snapshot = append([]byte(nil), x.Snapshot...)
		d.versions = append(d.versions, x)
		return nil
	})
}

func (v *tenantView) ListVersions(_ context.Context, budgetID budget.BudgetID) ([]budget.Version, error) {
	var out []budget.Version
	err := v.read(func(d *memoryData) error {
		for _, x := range d.versions {
			if x.TenantID == v.tenant && x.BudgetID == budgetID {
				out = append(out, x)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, err
}

func (v *tenantView) SaveForecast(_ context.Context, f budget.Forecast) error {
	return v.write(func(d *memoryData) error {
		f.TenantID = v.tenant
		f.Lines = append([]budget.ForecastLine(nil), f.Lines...)
		d.forecasts = append(d.forecasts, f)
		return nil
	})
}

func (v *tenantView) ListForecasts(_ context.Context, budgetID budget.BudgetID, ft budget.ForecastType) ([]budget.Forecast, error) {
	var out []budget.Forecast
	err := v.read(func(d *memoryData) error {
		for _, f := range d.forecasts {
			if f.TenantID == v.tenant && f.BudgetID == budgetID && (ft == "" || f.ForecastType == ft) {
				f.Lines = append([]budget.ForecastLine(nil), f.Lines...)
				out = append(out, f)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (v *tenantView) GetApproval(_ context.Context, budgetID budget.BudgetID, seq int) (*budget.Approval, error) {
	var out *budget.Approval
	err := v.read(func(d *memoryData) error {
		for _, a := range d.approvals {
			if a.TenantID == v.tenant && a.BudgetID == budgetID && a.Sequence == seq {
				out = &a
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (v *tenantView) SaveApproval(_ context.Context, a budget.Approval) error {
	return v.write(func(d *memoryData) error {
		a.TenantID = v.tenant
		for k, cur := range d.approvals {
			if cur.TenantID == v.tenant && cur.BudgetID == a.BudgetID && cur.Sequence == a.Sequence {
				a.ID = k
			}
		}
		d.approvals[a.ID] = a
		return nil
	})
}

func (v *tenantView) ListApprovals(_ context.Context, budgetID budget.BudgetID) ([]budget.Approval, error) {
	var out []budget.Approval
	err := v.read(func(d *memoryData) error {
		for _, a := range d.approvals {
			if a.TenantID == v.tenant && a.BudgetID == budgetID {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, err
}
