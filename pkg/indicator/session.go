package indicator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/synaptica-ai/indicators/pkg/analytics/cohort"
	"github.com/synaptica-ai/indicators/pkg/calculation"
	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"github.com/synaptica-ai/indicators/pkg/events"
	"github.com/synaptica-ai/indicators/pkg/temporal"
	"golang.org/x/sync/singleflight"
)

// Session carries everything one report generation shares: the parameter
// binding, the evaluated population, the event builder and the results of
// calculations already computed. It is discarded after the run.
type Session struct {
	ID         string
	Binding    cohort.Binding
	Population models.Cohort
	Events     *events.Builder
	Cohorts    *cohort.Evaluator
	Strategy   temporal.Strategy

	group   singleflight.Group
	mu      sync.RWMutex
	results map[string]calculation.Result
}

func NewSession(retriever events.Retriever, binding cohort.Binding, strategy temporal.Strategy) *Session {
	if binding == nil {
		binding = cohort.Binding{}
	}
	if strategy == nil {
		strategy = temporal.LastSeriesWins
	}
	builder := events.NewBuilder(retriever)
	return &Session{
		ID:       uuid.New().String(),
		Binding:  binding,
		Events:   builder,
		Cohorts:  cohort.NewEvaluator(builder),
		Strategy: strategy,
		results:  make(map[string]calculation.Result),
	}
}

type chainKey struct{}

// Result evaluates calc once per session. Columns and window bounds that share
// a calculation, even concurrently, see the same result.
func (s *Session) Result(ctx context.Context, calc Calculation) (calculation.Result, error) {
	id := calc.ID()
	s.mu.RLock()
	cached, ok := s.results[id]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	chain, _ := ctx.Value(chainKey{}).([]string)
	for _, seen := range chain {
		if seen == id {
			return nil, errs.Invalid("indicator", id, "calculation depends on itself")
		}
	}
	next := make([]string, len(chain)+1)
	copy(next, chain)
	next[len(chain)] = id
	ctx = context.WithValue(ctx, chainKey{}, next)

	value, err, _ := s.group.Do(id, func() (interface{}, error) {
		result, err := calc.Evaluate(ctx, s)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = calculation.Result{}
		}
		s.mu.Lock()
		s.results[id] = result
		s.mu.Unlock()
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(calculation.Result), nil
}
