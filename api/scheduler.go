/*
scheduler.go - Periodic variance refresh

PURPOSE:
  Variances are re-derived whenever spend is posted through the API,
  but actuals can also land in the database from imports or other
  writers. The scheduler periodically re-classifies every ACTIVE budget
  of every tenant so dashboards and alerts catch up.

DESIGN:
  - robfig/cron drives the runs (default spec "@every 1h")
  - Overlapping runs are skipped, panics are recovered and logged
  - Each run lists tenants, then refreshes their ACTIVE budgets
  - A failing budget is counted and logged; the run continues

USAGE:
  s := NewVarianceScheduler(db, "@every 1h", log, opts...)
  if err := s.Start(); err != nil { ... }
  // ... later
  s.Stop()

SEE ALSO:
  - handlers.go: RefreshVariances endpoint (manual refresh)
  - budget/variance.go: Classifier
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/warp/budget-engine/budget"
)

// TenantStores is a StoreFactory that can also enumerate its tenants.
type TenantStores interface {
	budget.StoreFactory
	budget.TenantLister
}

// RunSummary counts the work done by one scheduler pass.
type RunSummary struct {
	Tenants   int
	Budgets   int
	Escalated int
	Failed    int
	Duration  time.Duration
}

// VarianceScheduler re-classifies ACTIVE budgets on a cron schedule.
type VarianceScheduler struct {
	Stores  TenantStores
	Spec    string
	Options []budget.Option
	Log     zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewVarianceScheduler creates a stopped scheduler.
func NewVarianceScheduler(stores TenantStores, spec string, log zerolog.Logger, opts ...budget.Option) *VarianceScheduler {
	return &VarianceScheduler{
		Stores:  stores,
		Spec:    spec,
		Options: opts,
		Log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the job and starts the cron loop. Starting a running
// scheduler is a no-op.
func (s *VarianceScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	logger := cronLogger{s.Log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.Spec, func() { s.RunNow(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c

	s.Log.Info().Str("spec", s.Spec).Msg("variance scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running pass to finish.
// Stopping a stopped scheduler is a no-op.
func (s *VarianceScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.Log.Info().Msg("variance scheduler stopped")
}

// RunNow performs one pass synchronously.
func (s *VarianceScheduler) RunNow(ctx context.Context) RunSummary {
	start := time.Now()
	var sum RunSummary

	tenants, err := s.Stores.Tenants(ctx)
	if err != nil {
		s.Log.Error().Err(err).Msg("failed to list tenants")
		sum.Failed++
		return sum
	}

	for _, tenant := range tenants {
		if ctx.Err() != nil {
			break
		}
		sum.Tenants++
		s.refreshTenant(ctx, tenant, &sum)
	}

	sum.Duration = time.Since(start)
	s.Log.Info().
		Int("tenants", sum.Tenants).
		Int("budgets", sum.Budgets).
		Int("escalated", sum.Escalated).
		Int("failed", sum.Failed).
		Dur("duration", sum.Duration).
		Msg("variance refresh complete")
	return sum
}

func (s *VarianceScheduler) refreshTenant(ctx context.Context, tenant budget.TenantID, sum *RunSummary) {
	log := s.Log.With().Str("tenant_id", string(tenant)).Logger()

	st, err := s.Stores.ForTenant(tenant)
	if err != nil {
		log.Error().Err(err).Msg("failed to open tenant store")
		sum.Failed++
		return
	}
	opts := make([]budget.Option, 0, len(s.Options)+1)
	opts = append(opts, s.Options...)
	opts = append(opts, budget.WithLogger(log))
	svc := budget.NewService(st, opts...)

	active, err := svc.ListBudgets(ctx, budget.BudgetFilter{Status: budget.StatusActive})
	if err != nil {
		log.Error().Err(err).Msg("failed to list active budgets")
		sum.Failed++
		return
	}

	for _, b := range active {
		report, err := svc.RefreshVariances(ctx, b.ID)
		if err == nil {
			err = report.Err()
		}
		sum.Budgets++
		for _, o := range report.Outcomes {
			if o.Escalated {
				sum.Escalated++
			}
		}
		if err != nil {
			log.Warn().Err(err).Str("budget_id", string(b.ID)).Msg("variance refresh failed")
			sum.Failed++
		}
	}
}

// cronLogger routes robfig/cron's logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
