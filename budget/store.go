/*
store.go - Persistence interfaces for budgets and their ledgers

PURPOSE:
  Defines the interface between the budget engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage. The engine never builds queries itself.

TENANT SCOPING:
  A Store is always bound to exactly one tenant. There is no method
  that takes a tenant id: the handle is obtained from a StoreFactory
  and every read or write it performs is filtered by its tenant.
  Forgetting a tenant filter is therefore not expressible.

KEY INTERFACES:
  BudgetStore:   budget headers and lines (mutable)
  ActualStore:   append-only ledger of actual/committed spend
  VarianceStore: derived variance rows, upserted by (line, type)
  HistoryStore:  versions, forecasts, approvals
  Store:         all of the above + WithTx

APPEND-ONLY CONTRACT:
  ActualStore and the version history have no Update or Delete.
  Deleting a whole budget is the only path that removes them.

LOOKUPS:
  Get* methods return (nil, nil) when the record does not exist for
  the tenant. The service layer turns that into ErrNotFound.

SEE ALSO:
  - store/sqlite/sqlite.go: SQL implementation
  - budget/store/memory.go: in-memory implementation
*/
package budget

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

type BudgetFilter struct {
	Code       string
	Status     Status
	BudgetType BudgetType
	FiscalYear int
}

type ActualFilter struct {
	BudgetID   BudgetID
	LineID     LineID
	ActualType ActualType
	From       *time.Time
	To         *time.Time
}

type VarianceFilter struct {
	BudgetID     BudgetID
	LineID       LineID
	VarianceType VarianceType
	AlertLevel   AlertLevel
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// BudgetStore persists budget headers and lines.
type BudgetStore interface {
	CreateBudget(ctx context.Context, b Budget) error
	GetBudget(ctx context.Context, id BudgetID) (*Budget, error)
	ListBudgets(ctx context.Context, filter BudgetFilter) ([]Budget, error)
	UpdateBudget(ctx context.Context, b Budget) error
	// DeleteBudget removes the budget and every dependent row.
	DeleteBudget(ctx context.Context, id BudgetID) (bool, error)

	CreateLine(ctx context.Context, l Line) error
	GetLine(ctx context.Context, id LineID) (*Line, error)
	ListLines(ctx context.Context, budgetID BudgetID) ([]Line, error)
	UpdateLine(ctx context.Context, l Line) error
	DeleteLine(ctx context.Context, id LineID) (bool, error)
}

// ActualStore is the append-only spend ledger.
type ActualStore interface {
	AppendActual(ctx context.Context, a Actual) error
	ListActuals(ctx context.Context, filter ActualFilter) ([]Actual, error)

	// SumLine totals every actual recorded against the line.
	SumLine(ctx context.Context, lineID LineID) (Totals, error)
	// SumBudget totals every actual recorded against the budget,
	// with or without a line.
	SumBudget(ctx context.Context, budgetID BudgetID) (Totals, error)
}

// VarianceStore persists derived variance rows.
type VarianceStore interface {
	GetVariance(ctx context.Context, id VarianceID) (*Variance, error)
	FindVariance(ctx context.Context, lineID LineID, vt VarianceType) (*Variance, error)
	// UpsertVariance inserts or updates in place keyed by (line, type).
	UpsertVariance(ctx context.Context, v Variance) error
	// SaveVariance overwrites an existing row by id.
	SaveVariance(ctx context.Context, v Variance) error
	ListVariances(ctx context.Context, filter VarianceFilter) ([]Variance, error)
	// PruneVariances deletes unacknowledged rows of the line whose type
	// is not keep. Returns the number of rows removed.
	PruneVariances(ctx context.Context, lineID LineID, keep VarianceType) (int, error)
}

// HistoryStore persists versions, forecasts and approvals.
type HistoryStore interface {
	AppendVersion(ctx context.Context, v Version) error
	ListVersions(ctx context.Context, budgetID BudgetID) ([]Version, error)

	SaveForecast(ctx context.Context, f Forecast) error
	ListForecasts(ctx context.Context, budgetID BudgetID, ft ForecastType) ([]Forecast, error)

	GetApproval(ctx context.Context, budgetID BudgetID, sequence int) (*Approval, error)
	SaveApproval(ctx context.Context, a Approval) error
	ListApprovals(ctx context.Context, budgetID BudgetID) ([]Approval, error)
}

// Store is a tenant-bound handle over all budget persistence.
type Store interface {
	BudgetStore
	ActualStore
	VarianceStore
	HistoryStore

	// Tenant returns the tenant this handle is bound to.
	Tenant() TenantID

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// StoreFactory hands out tenant-bound stores.
type StoreFactory interface {
	ForTenant(tenant TenantID) (Store, error)
}

// TenantLister enumerates tenants that own at least one budget. The
// scheduler uses it to sweep every tenant.
type TenantLister interface {
	Tenants(ctx context.Context) ([]TenantID, error)
}

// CheckTenant validates a tenant id for StoreFactory implementations.
func CheckTenant(tenant TenantID) error {
	if tenant == "" {
		return invalid("tenant", "tenant id is required")
	}
	return nil
}
