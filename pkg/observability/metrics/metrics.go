package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

var (
	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	lastRunDurationMs atomic.Int64
	retrievalQueries  atomic.Int64
	cohortMemoHits    atomic.Int64
	cohortMemoMisses  atomic.Int64
	terminologyHits   atomic.Int64
	terminologyMisses atomic.Int64
)

func RunStarted() {
	runsStarted.Add(1)
}

func RunCompleted(d time.Duration) {
	runsCompleted.Add(1)
	lastRunDurationMs.Store(d.Milliseconds())
}

func RunFailed() {
	runsFailed.Add(1)
}

// ObserveEvaluation adds one run's retrieval and cohort memo counts.
func ObserveEvaluation(queries, memoHits, memoMisses int) {
	retrievalQueries.Add(int64(queries))
	cohortMemoHits.Add(int64(memoHits))
	cohortMemoMisses.Add(int64(memoMisses))
}

func ObserveTerminologyLookup(cached bool) {
	if cached {
		terminologyHits.Add(1)
		return
	}
	terminologyMisses.Add(1)
}

type sample struct {
	name  string
	kind  string
	help  string
	value int64
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	samples := []sample{
		{"synaptica_indicator_runs_started_total", "counter", "Report runs started.", runsStarted.Load()},
		{"synaptica_indicator_runs_completed_total", "counter", "Report runs completed successfully.", runsCompleted.Load()},
		{"synaptica_indicator_runs_failed_total", "counter", "Report runs that failed.", runsFailed.Load()},
		{"synaptica_indicator_last_run_duration_ms", "gauge", "Duration of the latest completed run in milliseconds.", lastRunDurationMs.Load()},
		{"synaptica_indicator_retrieval_queries_total", "counter", "Batched event retrievals issued.", retrievalQueries.Load()},
		{"synaptica_indicator_cohort_memo_hits_total", "counter", "Cohort definitions served from the evaluation memo.", cohortMemoHits.Load()},
		{"synaptica_indicator_cohort_memo_misses_total", "counter", "Cohort definitions evaluated.", cohortMemoMisses.Load()},
		{"synaptica_terminology_cache_hits_total", "counter", "Terminology lookups answered by the cache.", terminologyHits.Load()},
		{"synaptica_terminology_cache_misses_total", "counter", "Terminology lookups that fell through to the catalog.", terminologyMisses.Load()},
	}
	for _, s := range samples {
		fmt.Fprintf(w, "# HELP %s %s\n", s.name, s.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", s.name, s.kind)
		fmt.Fprintf(w, "%s %d\n", s.name, s.value)
	}
}
