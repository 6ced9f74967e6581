package indicator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/synaptica-ai/indicators/pkg/analytics/cohort"
	"github.com/synaptica-ai/indicators/pkg/calculation"
	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/logger"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"github.com/synaptica-ai/indicators/pkg/events"
	"github.com/synaptica-ai/indicators/pkg/observability/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	ErrReportNotFound     = errors.New("report not found")
	ErrPopulationTooLarge = errors.New("population exceeds the configured maximum")
)

type Service struct {
	registry      *Registry
	retriever     events.Retriever
	maxPopulation int
	columnWorkers int
}

type Option func(*Service)

// WithMaxPopulation rejects runs whose population is larger than n; 0 disables the check.
func WithMaxPopulation(n int) Option {
	return func(s *Service) {
		s.maxPopulation = n
	}
}

// WithColumnWorkers caps the columns evaluated concurrently within one run.
func WithColumnWorkers(n int) Option {
	return func(s *Service) {
		s.columnWorkers = n
	}
}

func NewService(registry *Registry, retriever events.Retriever, opts ...Option) *Service {
	svc := &Service{registry: registry, retriever: retriever, columnWorkers: 4}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// Run generates one report. The population is evaluated first, then every
// column concurrently against the same session. Any error, a
// ConfigurationError included, fails the whole run without a partial result.
func (s *Service) Run(ctx context.Context, req models.ReportRunRequest) (*models.ReportResult, error) {
	report, ok := s.registry.Get(req.ReportID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, req.ReportID)
	}
	start := time.Now()

	binding := cohort.ParseBinding(req.Parameters)
	for _, name := range report.Parameters {
		if _, ok := binding[name]; !ok {
			return nil, errs.MissingParameter("report", report.ID, name)
		}
	}

	var base models.Cohort
	if len(req.Population) > 0 {
		base = models.NewCohort()
		for _, id := range req.Population {
			base.Add(models.PatientID(id))
		}
	}

	session := NewSession(s.retriever, binding, report.Strategy)
	population := base
	if report.Population != nil {
		evaluated, err := session.Cohorts.Evaluate(ctx, report.Population, base, binding)
		if err != nil {
			return nil, fmt.Errorf("report %s population: %w", report.ID, err)
		}
		population = evaluated
	}
	if population == nil {
		return nil, errs.Invalid("report", report.ID, "no population: define one in the report or pass it with the request")
	}
	if s.maxPopulation > 0 && population.Len() > s.maxPopulation {
		return nil, fmt.Errorf("%w: %d > %d", ErrPopulationTooLarge, population.Len(), s.maxPopulation)
	}
	session.Population = population

	results := make([]calculation.Result, len(report.Columns))
	g, gctx := errgroup.WithContext(ctx)
	if s.columnWorkers > 0 {
		g.SetLimit(s.columnWorkers)
	}
	for i, col := range report.Columns {
		i, col := i, col
		g.Go(func() error {
			result, err := session.Result(gctx, col.Calculation)
			if err != nil {
				return fmt.Errorf("column %s: %w", col.Name, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &models.ReportResult{
		RunID:       session.ID,
		ReportID:    report.ID,
		Population:  population.Len(),
		Columns:     make([]string, len(report.Columns)),
		Rows:        make(map[models.PatientID]map[string]models.ReportCell, population.Len()),
		Counts:      make(map[string]int, len(report.Columns)),
		GeneratedAt: time.Now().UTC(),
		Parameters:  req.Parameters,
	}
	for pid := range population {
		out.Rows[pid] = make(map[string]models.ReportCell)
	}
	for i, col := range report.Columns {
		out.Columns[i] = col.Name
		for pid, value := range results[i] {
			row, member := out.Rows[pid]
			if !member {
				continue
			}
			row[col.Name] = value.Cell()
			out.Counts[col.Name]++
		}
	}
	out.Duration = time.Since(start)

	hits, misses := session.Cohorts.Stats()
	metrics.ObserveEvaluation(session.Events.Queries(), hits, misses)
	logger.Log.WithFields(map[string]interface{}{
		"run_id":      out.RunID,
		"report_id":   report.ID,
		"population":  out.Population,
		"columns":     len(out.Columns),
		"queries":     session.Events.Queries(),
		"memo_hits":   hits,
		"duration_ms": out.Duration.Milliseconds(),
	}).Info("report generated")
	return out, nil
}
