package temporal

import (
	"github.com/synaptica-ai/indicators/pkg/common/logger"
	"github.com/synaptica-ai/indicators/pkg/common/models"
)

type Matcher struct {
	strategy Strategy
}

// NewMatcher returns a matcher using strategy, or LastSeriesWins when nil.
func NewMatcher(strategy Strategy) *Matcher {
	if strategy == nil {
		strategy = LastSeriesWins
	}
	return &Matcher{strategy: strategy}
}

func (m *Matcher) Strategy() Strategy {
	return m.strategy
}

// Match scans every series, in priority order, for each windowed patient. The
// first event of a series inside the patient's inclusive window is that
// series' candidate; every series is scanned and the strategy chooses among
// the candidates. Patients without a window or a candidate are omitted.
func (m *Matcher) Match(windows map[models.PatientID]models.Window, seriesByPriority []models.EventIndex) map[models.PatientID]models.ClinicalEvent {
	result := make(map[models.PatientID]models.ClinicalEvent)
	candidates := make([]Candidate, 0, len(seriesByPriority))
	for pid, w := range windows {
		if w.Inconsistent() {
			logger.Log.WithFields(map[string]interface{}{
				"patient_id": pid,
				"lower":      w.Lower,
				"upper":      w.Upper,
			}).Debug("skipping inconsistent window")
			continue
		}
		candidates = candidates[:0]
		for rank, index := range seriesByPriority {
			if ev, ok := firstInWindow(index[pid], w); ok {
				candidates = append(candidates, Candidate{Rank: rank, Event: ev})
			}
		}
		if len(candidates) == 0 {
			continue
		}
		result[pid] = m.strategy.Select(candidates)
	}
	return result
}

func firstInWindow(series models.EventSeries, w models.Window) (models.ClinicalEvent, bool) {
	for _, ev := range series {
		if ev.Timestamp.After(w.Upper) {
			break
		}
		if w.Contains(ev.Timestamp) {
			return ev, true
		}
	}
	return models.ClinicalEvent{}, false
}
