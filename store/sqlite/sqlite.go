/*
Package sqlite provides a SQL-backed implementation of budget.Store.

PURPOSE:
  Implements the budget persistence interfaces over database/sql. The
  default driver is SQLite (mattn/go-sqlite3, or the pure-Go
  modernc.org/sqlite); the same schema and queries run on PostgreSQL
  through lib/pq. Queries are written with ? placeholders and rebound
  to $n for PostgreSQL.

INTERFACES IMPLEMENTED:
  budget.StoreFactory: DB.ForTenant hands out tenant-bound stores
  budget.Store:        Store (budgets, lines, ledger, variances, history)
  budget.TenantLister: DB.Tenants for the scheduler

TENANT SCOPING:
  Every statement binds the Store's tenant. A Store can never be built
  without one.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on budget_actuals or budget_versions
  - DELETE only when the owning budget is removed

KEY TABLES:
  budgets, budget_lines, budget_actuals, budget_variances,
  budget_forecasts, budget_versions, budget_approvals (schema.go)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite is limited to one open
  connection so ":memory:" databases are shared; with PostgreSQL the
  mutex only serializes this process.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  db, err := sqlite.New("./data/budget.db")
  if err != nil {
      log.Fatal(err)
  }
  defer db.Close()

  store, err := db.ForTenant("tenant-1")
  svc := budget.NewService(store)

MIGRATION:
  Schema is auto-migrated on Open(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - budget/store.go: Interface definitions
  - budget/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/warp/budget-engine/budget"
)

// Supported database/sql driver names.
const (
	DriverSQLite3  = "sqlite3"  // mattn/go-sqlite3 (cgo)
	DriverSQLite   = "sqlite"   // modernc.org/sqlite (pure Go)
	DriverPostgres = "postgres" // lib/pq
)

// Drivers lists the accepted driver names.
var Drivers = []string{DriverSQLite3, DriverSQLite, DriverPostgres}

// DB owns the connection pool and hands out tenant-bound stores.
type DB struct {
	db     *sql.DB
	driver string
	mu     sync.RWMutex
}

// New opens a SQLite database at dbPath with the default driver.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*DB, error) {
	return Open(DriverSQLite3, dbPath)
}

// Open connects with the named driver and migrates the schema.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite3:
		dsn = withParams(dsn, "_foreign_keys=on&_journal_mode=WAL")
	case DriverSQLite:
		dsn = withParams(dsn, "_pragma=foreign_keys(on)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)")
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver != DriverPostgres {
		db.SetMaxOpenConns(1)
	}

	d := &DB{db: db, driver: driver}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return d, nil
}

func withParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Driver returns the database/sql driver name in use.
func (d *DB) Driver() string { return d.driver }

// Ping checks connectivity. Used by the health endpoint.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) migrate() error {
	_, err := d.db.Exec(schemaSQL)
	return err
}

// ForTenant returns a store scoped to tenant.
func (d *DB) ForTenant(tenant budget.TenantID) (budget.Store, error) {
	if err := budget.CheckTenant(tenant); err != nil {
		return nil, err
	}
	return &Store{parent: d, tenant: tenant, q: d.db}, nil
}

// Tenants lists tenants owning at least one budget.
func (d *DB) Tenants(ctx context.Context) ([]budget.TenantID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, "SELECT DISTINCT tenant_id FROM budgets ORDER BY tenant_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []budget.TenantID
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, budget.TenantID(t))
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders as $1..$n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// =============================================================================
// TENANT STORE
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a tenant-bound view of DB. Inside WithTx it runs on the
// transaction and skips locking, since WithTx holds the write lock.
type Store struct {
	parent *DB
	tenant budget.TenantID
	q      querier
	inTx   bool
}

func (s *Store) Tenant() budget.TenantID { return s.tenant }

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()

	sqlTx, err := s.parent.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &Store{parent: s.parent, tenant: s.tenant, q: sqlTx, inTx: true}
	if err := fn(txStore); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) rlock() func() {
	if s.inTx {
		return func() {}
	}
	s.parent.mu.RLock()
	return s.parent.mu.RUnlock
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.parent.mu.Lock()
	return s.parent.mu.Unlock
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.parent.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.parent.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.parent.rebind(query), args...)
}

// Helper functions

// timeLayout is fixed-width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullDecimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return &d.Decimal
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError recognizes unique violations from all three drivers.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	// modernc.org/sqlite reports constraint failures in the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// conflict maps unique violations to budget.ErrConflict.
func conflict(err error, what string) error {
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%s: %w", what, budget.ErrConflict)
	}
	return err
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
