package cohort

import (
	"context"
	"fmt"
	"time"

	"github.com/synaptica-ai/indicators/pkg/analytics/dsl"
	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"github.com/synaptica-ai/indicators/pkg/events"
)

// Definition is a named, parameterized cohort. ID must be unique within a
// report since it keys the evaluation memo.
type Definition interface {
	ID() string
	Parameters() []string
	Evaluate(ctx context.Context, s *Scope, b Binding) (models.Cohort, error)
}

// Static is a fixed patient set, mostly useful for tests and allow-lists.
type Static struct {
	Name     string
	Members  models.Cohort
	Required []string
}

func (d *Static) ID() string           { return d.Name }
func (d *Static) Parameters() []string { return d.Required }

func (d *Static) Evaluate(_ context.Context, _ *Scope, _ Binding) (models.Cohort, error) {
	return d.Members.Union(nil), nil
}

// EventDefinition selects patients with at least MinCount events of Filter
// between the dates bound to OnOrAfter and OnOrBefore. Either parameter name
// may be empty for an open bound.
type EventDefinition struct {
	Name       string
	Filter     events.Filter
	OnOrAfter  string
	OnOrBefore string
	MinCount   int
}

func (d *EventDefinition) ID() string { return d.Name }

func (d *EventDefinition) Parameters() []string {
	var params []string
	if d.OnOrAfter != "" {
		params = append(params, d.OnOrAfter)
	}
	if d.OnOrBefore != "" {
		params = append(params, d.OnOrBefore)
	}
	return params
}

// Evaluate retrieves for the scope's population, or for every patient when the
// scope is unbounded.
func (d *EventDefinition) Evaluate(ctx context.Context, s *Scope, b Binding) (models.Cohort, error) {
	if s.Events() == nil {
		return nil, errs.Invalid("cohort", d.Name, "no event builder configured")
	}
	notBefore, err := d.bound(b, d.OnOrAfter)
	if err != nil {
		return nil, err
	}
	notAfter, err := d.bound(b, d.OnOrBefore)
	if err != nil {
		return nil, err
	}

	var index models.EventIndex
	if pop := s.Population(); pop != nil {
		index, err = s.Events().Build(ctx, pop, d.Filter, events.Any, notBefore, notAfter)
	} else {
		index, err = s.Events().BuildAll(ctx, d.Filter, events.Any, notBefore, notAfter)
	}
	if err != nil {
		return nil, fmt.Errorf("cohort %s: %w", d.Name, err)
	}
	min := d.MinCount
	if min < 1 {
		min = 1
	}
	out := models.NewCohort()
	for pid, series := range index {
		if len(series) >= min {
			out.Add(pid)
		}
	}
	return out, nil
}

func (d *EventDefinition) bound(b Binding, name string) (time.Time, error) {
	if name == "" {
		return time.Time{}, nil
	}
	t, ok, err := b.Date(d.Name, name)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, errs.MissingParameter("cohort", d.Name, name)
	}
	return t, nil
}

// Composition combines named searches with a composition string such as
// "pregnant AND NOT (hiv OR tb)". Searches may themselves be compositions.
type Composition struct {
	Name     string
	Text     string
	Required []string
	expr     Expression
}

// NewComposition parses text once and binds every name it uses to searches.
func NewComposition(name, text string, required []string, searches map[string]Expression) (*Composition, error) {
	node, err := dsl.ParseComposition(text)
	if err != nil {
		return nil, &errs.ConfigurationError{Component: "cohort", Definition: name, Reason: "invalid composition", Err: err}
	}
	expr, err := FromComposition(name, node, searches)
	if err != nil {
		return nil, err
	}
	return &Composition{Name: name, Text: text, Required: required, expr: expr}, nil
}

func (d *Composition) ID() string           { return d.Name }
func (d *Composition) Parameters() []string { return d.Required }

// Expression is the parsed tree the composition evaluates.
func (d *Composition) Expression() Expression { return d.expr }

func (d *Composition) Evaluate(ctx context.Context, s *Scope, b Binding) (models.Cohort, error) {
	return s.Eval(ctx, d.expr, b)
}
