package cohort

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/logger"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"github.com/synaptica-ai/indicators/pkg/events"
)

// Evaluator evaluates cohort expressions. Each Evaluate call gets its own memo;
// nothing is shared between calls except the event builder.
type Evaluator struct {
	events *events.Builder
	hits   atomic.Int64
	misses atomic.Int64
}

func NewEvaluator(builder *events.Builder) *Evaluator {
	return &Evaluator{events: builder}
}

// Evaluate resolves expr for binding. population bounds every leaf and is the
// universe NOT complements against. A nil population leaves the evaluation
// unbounded and rejects NOT.
func (e *Evaluator) Evaluate(ctx context.Context, expr Expression, population models.Cohort, binding Binding) (models.Cohort, error) {
	if expr == nil {
		return nil, errs.Invalid("cohort", "", "nothing to evaluate")
	}
	start := time.Now()
	scope := &Scope{
		evaluator:  e,
		population: population,
		memo:       make(map[string]models.Cohort),
		active:     make(map[string]bool),
	}
	result, err := expr.evaluate(ctx, scope, binding)
	if err != nil {
		return nil, err
	}
	logger.Log.WithFields(map[string]interface{}{
		"expression":  expr.String(),
		"size":        result.Len(),
		"definitions": len(scope.memo),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("cohort evaluated")
	return result, nil
}

// Stats reports memo hits and misses across all evaluations.
func (e *Evaluator) Stats() (hits, misses int) {
	return int(e.hits.Load()), int(e.misses.Load())
}

// Scope is the state of one top-level evaluation, handed to definitions.
type Scope struct {
	evaluator  *Evaluator
	population models.Cohort
	memo       map[string]models.Cohort
	active     map[string]bool
}

// Population is the explicit universe of the evaluation; nil when unbounded.
func (s *Scope) Population() models.Cohort {
	return s.population
}

// Events returns the builder event-based definitions retrieve through.
func (s *Scope) Events() *events.Builder {
	return s.evaluator.events
}

// Eval evaluates a nested expression within the same memo.
func (s *Scope) Eval(ctx context.Context, expr Expression, b Binding) (models.Cohort, error) {
	return expr.evaluate(ctx, s, b)
}

func (s *Scope) definition(ctx context.Context, def Definition, b Binding) (models.Cohort, error) {
	key := def.ID() + "|" + b.Normalize()
	if cached, ok := s.memo[key]; ok {
		s.evaluator.hits.Add(1)
		return cached, nil
	}
	if s.active[key] {
		return nil, errs.Invalid("cohort", def.ID(), "definition includes itself")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.evaluator.misses.Add(1)

	s.active[key] = true
	result, err := def.Evaluate(ctx, s, b)
	delete(s.active, key)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = models.NewCohort()
	}
	if s.population != nil {
		result = result.Intersect(s.population)
	}
	s.memo[key] = result
	return result, nil
}
