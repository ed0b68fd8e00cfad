package sqlite

// schemaSQL is portable across SQLite and PostgreSQL: ids, money and
// timestamps are TEXT, booleans are INTEGER 0/1.
const schemaSQL = `
-- Budgets (headers, one row per envelope)
CREATE TABLE IF NOT EXISTS budgets (
    id                        TEXT PRIMARY KEY,
    tenant_id                 TEXT NOT NULL,
    code                      TEXT NOT NULL,
    name                      TEXT NOT NULL,
    description               TEXT,
    budget_type               TEXT NOT NULL,
    scope_entity_id           TEXT,
    scope_entity_name         TEXT,
    period_type               TEXT NOT NULL,
    fiscal_year               INTEGER NOT NULL,
    quarter_num               INTEGER NOT NULL DEFAULT 0,
    month_num                 INTEGER NOT NULL DEFAULT 0,
    total_budget_amount       TEXT NOT NULL,
    status                    TEXT NOT NULL,
    enforcement_mode          TEXT NOT NULL,
    allow_overrun             INTEGER NOT NULL DEFAULT 0,
    overrun_threshold_percent TEXT NOT NULL,
    version_number            INTEGER NOT NULL DEFAULT 1,
    created_by                TEXT,
    created_at                TEXT NOT NULL,
    updated_at                TEXT NOT NULL,
    approved_by               TEXT,
    approved_at               TEXT,
    notes                     TEXT,
    UNIQUE (tenant_id, code)
);

CREATE INDEX IF NOT EXISTS idx_budgets_tenant_status
    ON budgets(tenant_id, status);

-- Budget lines
CREATE TABLE IF NOT EXISTS budget_lines (
    id                 TEXT PRIMARY KEY,
    budget_id          TEXT NOT NULL REFERENCES budgets(id),
    tenant_id          TEXT NOT NULL,
    line_number        INTEGER NOT NULL,
    account_id         TEXT,
    account_code       TEXT,
    account_name       TEXT,
    cost_center_id     TEXT,
    cost_center_name   TEXT,
    project_id         TEXT,
    project_name       TEXT,
    budgeted_amount    TEXT NOT NULL,
    allocation_percent TEXT,
    description        TEXT,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL,
    UNIQUE (budget_id, line_number)
);

CREATE INDEX IF NOT EXISTS idx_budget_lines_tenant_budget
    ON budget_lines(tenant_id, budget_id);

-- Actuals (append-only ledger)
-- budget_line_id carries no foreign key: deleting a line keeps its
-- actuals counting toward the budget.
CREATE TABLE IF NOT EXISTS budget_actuals (
    id               TEXT PRIMARY KEY,
    budget_id        TEXT NOT NULL REFERENCES budgets(id),
    budget_line_id   TEXT,
    tenant_id        TEXT NOT NULL,
    actual_type      TEXT NOT NULL,
    transaction_id   TEXT,
    transaction_code TEXT,
    actual_amount    TEXT NOT NULL,
    committed_amount TEXT NOT NULL,
    account_id       TEXT,
    account_code     TEXT,
    cost_center_id   TEXT,
    project_id       TEXT,
    transaction_date TEXT NOT NULL,
    recorded_at      TEXT NOT NULL,
    notes            TEXT
);

CREATE INDEX IF NOT EXISTS idx_budget_actuals_tenant_line
    ON budget_actuals(tenant_id, budget_line_id);
CREATE INDEX IF NOT EXISTS idx_budget_actuals_tenant_budget_date
    ON budget_actuals(tenant_id, budget_id, transaction_date);

-- Variances (derived, one row per line and variance type)
CREATE TABLE IF NOT EXISTS budget_variances (
    id               TEXT PRIMARY KEY,
    budget_id        TEXT NOT NULL REFERENCES budgets(id),
    budget_line_id   TEXT NOT NULL,
    tenant_id        TEXT NOT NULL,
    variance_type    TEXT NOT NULL,
    budgeted_amount  TEXT NOT NULL,
    actual_amount    TEXT NOT NULL,
    committed_amount TEXT NOT NULL,
    variance_amount  TEXT NOT NULL,
    variance_percent TEXT NOT NULL,
    alert_level      TEXT NOT NULL,
    is_acknowledged  INTEGER NOT NULL DEFAULT 0,
    acknowledged_by  TEXT,
    acknowledged_at  TEXT,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL,
    UNIQUE (tenant_id, budget_line_id, variance_type)
);

CREATE INDEX IF NOT EXISTS idx_budget_variances_tenant_budget
    ON budget_variances(tenant_id, budget_id, updated_at);

-- Forecasts
CREATE TABLE IF NOT EXISTS budget_forecasts (
    id                   TEXT PRIMARY KEY,
    budget_id            TEXT NOT NULL REFERENCES budgets(id),
    tenant_id            TEXT NOT NULL,
    forecast_type        TEXT NOT NULL,
    period_start         TEXT,
    period_end           TEXT,
    forecast_lines_json  TEXT NOT NULL,
    scenario_name        TEXT,
    scenario_description TEXT,
    methodology          TEXT,
    base_periods         INTEGER NOT NULL DEFAULT 0,
    confidence_level     TEXT,
    variance_percent     TEXT,
    created_by           TEXT,
    created_at           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_budget_forecasts_tenant_budget
    ON budget_forecasts(tenant_id, budget_id, created_at);

-- Versions (append-only snapshots)
CREATE TABLE IF NOT EXISTS budget_versions (
    id                  TEXT PRIMARY KEY,
    budget_id           TEXT NOT NULL REFERENCES budgets(id),
    tenant_id           TEXT NOT NULL,
    version_number      INTEGER NOT NULL,
    status              TEXT NOT NULL,
    total_budget_amount TEXT NOT NULL,
    change_reason       TEXT,
    changed_by          TEXT,
    changed_at          TEXT NOT NULL,
    snapshot_json       TEXT NOT NULL,
    UNIQUE (budget_id, version_number)
);

-- Approvals
CREATE TABLE IF NOT EXISTS budget_approvals (
    id                TEXT PRIMARY KEY,
    budget_id         TEXT NOT NULL REFERENCES budgets(id),
    tenant_id         TEXT NOT NULL,
    approval_sequence INTEGER NOT NULL,
    approver_role     TEXT,
    approver_id       TEXT,
    approver_name     TEXT,
    status            TEXT NOT NULL,
    comment           TEXT,
    decided_at        TEXT,
    UNIQUE (tenant_id, budget_id, approval_sequence)
);
`
