package temporal

import (
	"fmt"

	"github.com/synaptica-ai/indicators/pkg/common/models"
)

// Candidate is the first qualifying event one series produced for a patient.
// Rank is the series' position in the priority order, 0 being highest.
type Candidate struct {
	Rank  int
	Event models.ClinicalEvent
}

// Strategy picks one event from the per-series candidates of a patient.
// Candidates arrive in priority order and are never empty.
type Strategy interface {
	Name() string
	Select(candidates []Candidate) models.ClinicalEvent
}

type lastSeriesWins struct{}

type firstSeriesWins struct{}

type priorityMerge struct{}

var (
	// LastSeriesWins lets every later series overwrite an earlier match.
	LastSeriesWins Strategy = lastSeriesWins{}
	// FirstSeriesWins keeps the match of the highest-priority series.
	FirstSeriesWins Strategy = firstSeriesWins{}
	// PriorityMerge keeps the earliest-dated match; ties go to the higher-priority series.
	PriorityMerge Strategy = priorityMerge{}
)

func (lastSeriesWins) Name() string { return "last-series-wins" }

func (lastSeriesWins) Select(candidates []Candidate) models.ClinicalEvent {
	return candidates[len(candidates)-1].Event
}

func (firstSeriesWins) Name() string { return "first-series-wins" }

func (firstSeriesWins) Select(candidates []Candidate) models.ClinicalEvent {
	return candidates[0].Event
}

func (priorityMerge) Name() string { return "priority-merge" }

func (priorityMerge) Select(candidates []Candidate) models.ClinicalEvent {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Event.Timestamp.Before(best.Event.Timestamp) {
			best = c
		}
	}
	return best.Event
}

// StrategyByName resolves a configured strategy; the empty name is LastSeriesWins.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", LastSeriesWins.Name():
		return LastSeriesWins, nil
	case FirstSeriesWins.Name():
		return FirstSeriesWins, nil
	case PriorityMerge.Name():
		return PriorityMerge, nil
	default:
		return nil, fmt.Errorf("unknown series strategy %q", name)
	}
}
