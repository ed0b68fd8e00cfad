package budget

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBasePeriods is used when a rolling forecast request omits it.
const DefaultBasePeriods = 3

// =============================================================================
// ROLLING FORECAST - Naive mean of historical EXPENSE actuals per line
// =============================================================================

// RollingLines averages the EXPENSE actual amounts of each line.
// Lines without history are omitted, not zero-filled. Output follows
// the order of lines.
func RollingLines(lines []Line, actuals []Actual) []ForecastLine {
	type acc struct {
		sum   decimal.Decimal
		count int64
	}
	byLine := make(map[LineID]*acc)
	for _, a := range actuals {
		if a.ActualType != ActualExpense || a.LineID == "" {
			continue
		}
		x := byLine[a.LineID]
		if x == nil {
			x = &acc{}
			byLine[a.LineID] = x
		}
		x.sum = x.sum.Add(a.ActualAmount)
		x.count++
	}

	var out []ForecastLine
	for _, l := range lines {
		x := byLine[l.ID]
		if x == nil || x.count == 0 {
			continue
		}
		out = append(out, ForecastLine{
			LineID:           l.ID,
			ForecastedAmount: x.sum.Div(decimal.NewFromInt(x.count)).Round(4),
			ConfidenceLevel:  ConfidenceMedium,
		})
	}
	return out
}

// ForecastInput is a manually supplied forecast.
type ForecastInput struct {
	BudgetID            BudgetID
	ForecastType        ForecastType
	PeriodStart         *time.Time
	PeriodEnd           *time.Time
	Lines               []ForecastLine
	ScenarioName        string
	ScenarioDescription string
	Methodology         Methodology
	BasePeriods         int
	ConfidenceLevel     ConfidenceLevel
	VariancePercent     *decimal.Decimal
	CreatedBy           string
}

func (in ForecastInput) validate() error {
	if !in.ForecastType.Valid() {
		return invalid("forecast_type", "unknown forecast type %q", in.ForecastType)
	}
	if in.Methodology != "" && !in.Methodology.Valid() {
		return invalid("methodology", "unknown methodology %q", in.Methodology)
	}
	if in.ConfidenceLevel != "" && !in.ConfidenceLevel.Valid() {
		return invalid("confidence_level", "unknown confidence level %q", in.ConfidenceLevel)
	}
	if in.BasePeriods < 0 {
		return invalid("base_periods", "must be positive")
	}
	if in.VariancePercent != nil &&
		(in.VariancePercent.IsNegative() || in.VariancePercent.GreaterThan(hundred)) {
		return invalid("variance_percent", "must be within 0..100")
	}
	if in.PeriodStart != nil && in.PeriodEnd != nil && in.PeriodEnd.Before(*in.PeriodStart) {
		return invalid("forecast_period_end", "must not be before forecast_period_start")
	}
	for i, l := range in.Lines {
		if l.LineID == "" {
			return invalid(fieldIndex("forecast_lines", i, "budget_line_id"), "is required")
		}
		if l.ForecastedAmount.IsNegative() {
			return invalid(fieldIndex("forecast_lines", i, "forecasted_amount"), "must be >= 0")
		}
		if l.ConfidenceLevel != "" && !l.ConfidenceLevel.Valid() {
			return invalid(fieldIndex("forecast_lines", i, "confidence_level"), "unknown confidence level %q", l.ConfidenceLevel)
		}
	}
	return nil
}

// =============================================================================
// SERVICE - Forecast operations
// =============================================================================

// GenerateRollingForecast averages each line's EXPENSE history and
// stores the result. basePeriods <= 0 means DefaultBasePeriods; the
// value is recorded but the mean covers every matching actual.
func (s *Service) GenerateRollingForecast(ctx context.Context, budgetID BudgetID, basePeriods int, createdBy string) (*Forecast, error) {
	if basePeriods <= 0 {
		basePeriods = DefaultBasePeriods
	}
	b, err := s.loadBudget(ctx, s.store, budgetID)
	if err != nil {
		return nil, err
	}
	lines, err := s.store.ListLines(ctx, b.ID)
	if err != nil {
		return nil, s.fail("list lines", err)
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].LineNumber < lines[j].LineNumber })
	actuals, err := s.store.ListActuals(ctx, ActualFilter{BudgetID: b.ID, ActualType: ActualExpense})
	if err != nil {
		return nil, s.fail("list actuals", err)
	}

	f := Forecast{
		ID:              ForecastID(s.newID()),
		BudgetID:        b.ID,
		TenantID:        b.TenantID,
		ForecastType:    ForecastRolling,
		Lines:           RollingLines(lines, actuals),
		Methodology:     MethodAverage,
		BasePeriods:     basePeriods,
		ConfidenceLevel: ConfidenceMedium,
		CreatedBy:       createdBy,
		CreatedAt:       s.now(),
	}
	if err := s.store.SaveForecast(ctx, f); err != nil {
		return nil, s.fail("save forecast", err)
	}
	s.log.Info().
		Str("budget_id", string(b.ID)).
		Int("lines", len(f.Lines)).
		Msg("rolling forecast generated")
	return &f, nil
}

// CreateForecast stores a manually supplied forecast.
func (s *Service) CreateForecast(ctx context.Context, in ForecastInput) (*Forecast, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	b, err := s.loadBudget(ctx, s.store, in.BudgetID)
	if err != nil {
		return nil, err
	}
	for _, fl := range in.Lines {
		if _, err := s.loadLine(ctx, s.store, b.ID, fl.LineID); err != nil {
			return nil, err
		}
	}

	f := Forecast{
		ID:                  ForecastID(s.newID()),
		BudgetID:            b.ID,
		TenantID:            b.TenantID,
		ForecastType:        in.ForecastType,
		PeriodStart:         in.PeriodStart,
		PeriodEnd:           in.PeriodEnd,
		Lines:               in.Lines,
		ScenarioName:        in.ScenarioName,
		ScenarioDescription: in.ScenarioDescription,
		Methodology:         in.Methodology,
		BasePeriods:         in.BasePeriods,
		ConfidenceLevel:     in.ConfidenceLevel,
		VariancePercent:     in.VariancePercent,
		CreatedBy:           in.CreatedBy,
		CreatedAt:           s.now(),
	}
	if f.ConfidenceLevel == "" {
		f.ConfidenceLevel = ConfidenceMedium
	}
	if err := s.store.SaveForecast(ctx, f); err != nil {
		return nil, s.fail("save forecast", err)
	}
	return &f, nil
}

// ListForecasts returns forecasts of the budget, newest first. An empty
// ft returns every type.
func (s *Service) ListForecasts(ctx context.Context, budgetID BudgetID, ft ForecastType) ([]Forecast, error) {
	if ft != "" && !ft.Valid() {
		return nil, invalid("forecast_type", "unknown forecast type %q", ft)
	}
	if _, err := s.loadBudget(ctx, s.store, budgetID); err != nil {
		return nil, err
	}
	out, err := s.store.ListForecasts(ctx, budgetID, ft)
	if err != nil {
		return nil, s.fail("list forecasts", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
