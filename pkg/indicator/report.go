package indicator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/synaptica-ai/indicators/pkg/analytics/cohort"
	"github.com/synaptica-ai/indicators/pkg/temporal"
)

// Column binds a report column name to the calculation rendering it.
type Column struct {
	Name        string
	Calculation Calculation
}

// Report is a population plus the columns computed for each member.
// Population may be nil when every run supplies its own population.
type Report struct {
	ID          string
	Name        string
	Description string
	Parameters  []string
	Population  cohort.Expression
	Strategy    temporal.Strategy
	Columns     []Column
}

type Registry struct {
	mu      sync.RWMutex
	reports map[string]*Report
}

func NewRegistry() *Registry {
	return &Registry{reports: make(map[string]*Report)}
}

func (r *Registry) Register(report *Report) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("report id is required")
	}
	seen := make(map[string]bool, len(report.Columns))
	for _, col := range report.Columns {
		if col.Calculation == nil {
			return fmt.Errorf("report %s: column %q has no calculation", report.ID, col.Name)
		}
		if seen[col.Name] {
			return fmt.Errorf("report %s: duplicate column %q", report.ID, col.Name)
		}
		seen[col.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.reports[report.ID]; exists {
		return fmt.Errorf("report %s already registered", report.ID)
	}
	r.reports[report.ID] = report
	return nil
}

func (r *Registry) Get(id string) (*Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.reports[id]
	return report, ok
}

// List returns the registered reports ordered by id.
func (r *Registry) List() []*Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Report, 0, len(r.reports))
	for _, report := range r.reports {
		out = append(out, report)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
