package indicator

import (
	"context"
	"fmt"
	"time"

	"github.com/synaptica-ai/indicators/pkg/analytics/cohort"
	"github.com/synaptica-ai/indicators/pkg/analytics/dsl"
	"github.com/synaptica-ai/indicators/pkg/calculation"
	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"github.com/synaptica-ai/indicators/pkg/events"
	"github.com/synaptica-ai/indicators/pkg/temporal"
	"github.com/synaptica-ai/indicators/pkg/window"
)

// Calculation produces a per-patient result within a session. ID must be
// unique within a report.
type Calculation interface {
	ID() string
	Evaluate(ctx context.Context, s *Session) (calculation.Result, error)
}

// SeriesSpec is one series to retrieve and the occurrences to keep.
type SeriesSpec struct {
	Filter    events.Filter
	Qualifier events.TimeQualifier
}

// BoundSource yields one side of a per-patient window.
type BoundSource interface {
	Dates(ctx context.Context, s *Session) (map[models.PatientID]time.Time, error)
}

// ParameterBound binds a request date, optionally shifted, for every member
// of the population.
type ParameterBound struct {
	Name  string
	Shift dsl.Offsets
}

func (b ParameterBound) Dates(_ context.Context, s *Session) (map[models.PatientID]time.Time, error) {
	t, ok, err := s.Binding.Date("bound", b.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.MissingParameter("indicator", "bound", b.Name)
	}
	return window.Shift(window.Constant(s.Population, t), b.Shift), nil
}

// CalculationBound chains another calculation's per-patient dates, optionally
// shifted, into a window bound.
type CalculationBound struct {
	Calculation Calculation
	Shift       dsl.Offsets
}

func (b CalculationBound) Dates(ctx context.Context, s *Session) (map[models.PatientID]time.Time, error) {
	if b.Calculation == nil {
		return nil, errs.Invalid("indicator", "bound", "calculation bound without a calculation")
	}
	result, err := s.Result(ctx, b.Calculation)
	if err != nil {
		return nil, err
	}
	return window.Shift(result.Dates(), b.Shift), nil
}

// TemporalCalculation matches, per patient, the first event of each series
// inside the window spanned by Lower and Upper, choosing across series with
// Strategy (the session's strategy when nil).
type TemporalCalculation struct {
	Name     string
	Lower    BoundSource
	Upper    BoundSource
	Series   []SeriesSpec
	Strategy temporal.Strategy
}

func (c *TemporalCalculation) ID() string { return c.Name }

func (c *TemporalCalculation) Evaluate(ctx context.Context, s *Session) (calculation.Result, error) {
	if c.Lower == nil || c.Upper == nil {
		return nil, errs.Invalid("indicator", c.Name, "temporal calculation needs both window bounds")
	}
	if len(c.Series) == 0 {
		return nil, errs.Invalid("indicator", c.Name, "temporal calculation needs at least one series")
	}
	lower, err := c.Lower.Dates(ctx, s)
	if err != nil {
		return nil, err
	}
	upper, err := c.Upper.Dates(ctx, s)
	if err != nil {
		return nil, err
	}
	windows := window.Resolve(lower, upper)

	members := models.NewCohort()
	var span models.Window
	for pid, w := range windows {
		if s.Population != nil && !s.Population.Contains(pid) {
			delete(windows, pid)
			continue
		}
		if w.Inconsistent() {
			continue
		}
		if members.Len() == 0 || w.Lower.Before(span.Lower) {
			span.Lower = w.Lower
		}
		if members.Len() == 0 || w.Upper.After(span.Upper) {
			span.Upper = w.Upper
		}
		members.Add(pid)
	}
	if members.Len() == 0 {
		return calculation.Result{}, nil
	}

	indexes := make([]models.EventIndex, len(c.Series))
	for i, spec := range c.Series {
		notBefore, notAfter := span.Lower, span.Upper
		// FIRST/LAST keep their meaning over the patient's whole history.
		if spec.Qualifier != "" && spec.Qualifier != events.Any {
			notBefore, notAfter = time.Time{}, time.Time{}
		}
		index, err := s.Events.Build(ctx, members, spec.Filter, spec.Qualifier, notBefore, notAfter)
		if err != nil {
			return nil, fmt.Errorf("calculation %s: %w", c.Name, err)
		}
		indexes[i] = index
	}

	strategy := c.Strategy
	if strategy == nil {
		strategy = s.Strategy
	}
	matches := temporal.NewMatcher(strategy).Match(windows, indexes)
	return calculation.FromMatches(matches), nil
}

// PositionalCalculation returns the Position-th event of Series recorded on
// each patient's latest Reference encounter. OnOrBefore, when set, names the
// parameter capping both retrievals.
type PositionalCalculation struct {
	Name       string
	Series     SeriesSpec
	Reference  SeriesSpec
	Position   int
	OnOrBefore string
}

func (c *PositionalCalculation) ID() string { return c.Name }

func (c *PositionalCalculation) Evaluate(ctx context.Context, s *Session) (calculation.Result, error) {
	if c.Position < 1 {
		return nil, errs.Invalid("indicator", c.Name, "position must be >= 1, got %d", c.Position)
	}
	notAfter, err := optionalDate(s, c.Name, c.OnOrBefore)
	if err != nil {
		return nil, err
	}
	population := s.Population
	if population == nil {
		return nil, errs.Invalid("indicator", c.Name, "positional calculation needs a population")
	}

	refs, err := s.Events.Build(ctx, population, c.Reference.Filter, events.Last, time.Time{}, notAfter)
	if err != nil {
		return nil, fmt.Errorf("calculation %s: %w", c.Name, err)
	}
	obs, err := s.Events.Build(ctx, refs.Patients(), c.Series.Filter, events.Any, time.Time{}, notAfter)
	if err != nil {
		return nil, fmt.Errorf("calculation %s: %w", c.Name, err)
	}
	matches, err := temporal.SelectPositional(obs, temporal.LatestEncounter(refs), c.Position)
	if err != nil {
		return nil, err
	}
	return calculation.FromMatches(matches), nil
}

// EventCalculation exposes a series as is: a list per patient for ANY, the
// boundary event for FIRST and LAST.
type EventCalculation struct {
	Name       string
	Series     SeriesSpec
	OnOrAfter  string
	OnOrBefore string
}

func (c *EventCalculation) ID() string { return c.Name }

func (c *EventCalculation) Evaluate(ctx context.Context, s *Session) (calculation.Result, error) {
	if s.Population == nil {
		return nil, errs.Invalid("indicator", c.Name, "event calculation needs a population")
	}
	notBefore, err := optionalDate(s, c.Name, c.OnOrAfter)
	if err != nil {
		return nil, err
	}
	notAfter, err := optionalDate(s, c.Name, c.OnOrBefore)
	if err != nil {
		return nil, err
	}
	qualifier := c.Series.Qualifier
	if qualifier == "" {
		qualifier = events.Any
	}
	index, err := s.Events.Build(ctx, s.Population, c.Series.Filter, qualifier, notBefore, notAfter)
	if err != nil {
		return nil, fmt.Errorf("calculation %s: %w", c.Name, err)
	}
	return calculation.FromIndex(index, qualifier != events.Any), nil
}

// CohortCalculation marks the members of a cohort expression.
type CohortCalculation struct {
	Name       string
	Expression cohort.Expression
}

func (c *CohortCalculation) ID() string { return c.Name }

func (c *CohortCalculation) Evaluate(ctx context.Context, s *Session) (calculation.Result, error) {
	members, err := s.Cohorts.Evaluate(ctx, c.Expression, s.Population, s.Binding)
	if err != nil {
		return nil, err
	}
	return calculation.FromCohort(members), nil
}

// MergedCalculation unions several calculations; later ones win per patient.
type MergedCalculation struct {
	Name    string
	Sources []Calculation
}

func (c *MergedCalculation) ID() string { return c.Name }

func (c *MergedCalculation) Evaluate(ctx context.Context, s *Session) (calculation.Result, error) {
	results := make([]calculation.Result, len(c.Sources))
	for i, src := range c.Sources {
		r, err := s.Result(ctx, src)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return calculation.Merge(results...), nil
}

func optionalDate(s *Session, owner, name string) (time.Time, error) {
	if name == "" {
		return time.Time{}, nil
	}
	t, ok, err := s.Binding.Date(owner, name)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, errs.MissingParameter("indicator", owner, name)
	}
	return t, nil
}
