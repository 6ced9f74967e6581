package indicator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/indicators/pkg/analytics/cohort"
	"github.com/synaptica-ai/indicators/pkg/analytics/dsl"
	"github.com/synaptica-ai/indicators/pkg/calculation"
	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"github.com/synaptica-ai/indicators/pkg/events"
	"github.com/synaptica-ai/indicators/pkg/temporal"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// fixed is a calculation with a canned result.
type fixed struct {
	name   string
	result calculation.Result
	calls  atomic.Int32
}

func (f *fixed) ID() string { return f.name }

func (f *fixed) Evaluate(context.Context, *Session) (calculation.Result, error) {
	f.calls.Add(1)
	return f.result, nil
}

func dates(values map[models.PatientID]string) calculation.Result {
	r := calculation.Result{}
	for pid, d := range values {
		r[pid] = calculation.Date(day(d))
	}
	return r
}

// seriesRetriever serves canned events per series tag and counts queries.
type seriesRetriever struct {
	mu       sync.Mutex
	bySeries map[string]models.EventIndex
	queries  []events.Query
}

func (r *seriesRetriever) Retrieve(_ context.Context, q events.Query) (models.EventIndex, error) {
	r.mu.Lock()
	r.queries = append(r.queries, q)
	r.mu.Unlock()
	return r.bySeries[q.Series], nil
}

func newSession(r events.Retriever, population models.Cohort, binding cohort.Binding) *Session {
	s := NewSession(r, binding, nil)
	s.Population = population
	return s
}

func TestTemporalCalculationPatientWithoutWindowIsAbsent(t *testing.T) {
	retriever := &seriesRetriever{bySeries: map[string]models.EventIndex{
		"S1": {
			"101": {{ID: "e-101", Timestamp: day("2022-02-01")}},
			"102": {{ID: "e-102", Timestamp: day("2022-02-01")}},
		},
	}}
	calc := &TemporalCalculation{
		Name:   "matched",
		Lower:  CalculationBound{Calculation: &fixed{name: "lower", result: dates(map[models.PatientID]string{"101": "2022-01-10", "102": "2022-01-10"})}},
		Upper:  CalculationBound{Calculation: &fixed{name: "upper", result: dates(map[models.PatientID]string{"101": "2022-04-10"})}},
		Series: []SeriesSpec{{Filter: events.Filter{Series: "S1", ConceptIDs: []string{"856"}}}},
	}
	session := newSession(retriever, models.NewCohort("101", "102"), nil)

	result, err := session.Result(context.Background(), calc)
	require.NoError(t, err)
	require.Contains(t, result, models.PatientID("101"))
	assert.Equal(t, "e-101", result["101"].Event.ID)
	_, ok := result["102"]
	assert.False(t, ok)

	require.Len(t, retriever.queries, 1)
	assert.Equal(t, []string{"101"}, retriever.queries[0].Patients, "only windowed patients are retrieved")
	assert.Equal(t, day("2022-01-10"), retriever.queries[0].NotBefore)
	assert.Equal(t, day("2022-04-10"), retriever.queries[0].NotAfter)
}

func TestTemporalCalculationLaterSeriesOverwrites(t *testing.T) {
	retriever := &seriesRetriever{bySeries: map[string]models.EventIndex{
		"lab": {"1": {{ID: "lab", Timestamp: day("2022-02-01")}}},
		"poc": {"1": {{ID: "poc", Timestamp: day("2022-03-01")}}},
	}}
	series := []SeriesSpec{
		{Filter: events.Filter{Series: "lab", ConceptIDs: []string{"856"}}},
		{Filter: events.Filter{Series: "poc", ConceptIDs: []string{"856"}}},
	}
	start := &fixed{name: "start", result: dates(map[models.PatientID]string{"1": "2022-01-01"})}
	calc := &TemporalCalculation{
		Name:   "vl",
		Lower:  CalculationBound{Calculation: start},
		Upper:  CalculationBound{Calculation: start, Shift: dsl.Offsets{{Amount: 1, Unit: dsl.Years}}},
		Series: series,
	}

	result, err := newSession(retriever, models.NewCohort("1"), nil).Result(context.Background(), calc)
	require.NoError(t, err)
	assert.Equal(t, "poc", result["1"].Event.ID)

	calc.Name = "vl-first"
	calc.Strategy = temporal.FirstSeriesWins
	result, err = newSession(retriever, models.NewCohort("1"), nil).Result(context.Background(), calc)
	require.NoError(t, err)
	assert.Equal(t, "lab", result["1"].Event.ID)
}

func TestTemporalCalculationWithParameterBounds(t *testing.T) {
	retriever := &seriesRetriever{bySeries: map[string]models.EventIndex{
		"vl": {
			"1": {{ID: "early", Timestamp: day("2022-12-31")}, {ID: "in", Timestamp: day("2023-02-14")}},
			"2": {{ID: "late", Timestamp: day("2023-03-15")}},
		},
	}}
	calc := &TemporalCalculation{
		Name:   "vl-in-period",
		Lower:  ParameterBound{Name: "startDate"},
		Upper:  ParameterBound{Name: "endDate", Shift: dsl.Offsets{{Amount: -1, Unit: dsl.Months}, {Amount: -1, Unit: dsl.Days}}},
		Series: []SeriesSpec{{Filter: events.Filter{Series: "vl", ConceptIDs: []string{"856"}}}},
	}
	session := newSession(retriever, models.NewCohort("1", "2"), cohort.Binding{
		"startDate": day("2023-01-01"),
		"endDate":   day("2023-03-15"),
	})

	result, err := session.Result(context.Background(), calc)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "in", result["1"].Event.ID)

	_, err = newSession(retriever, models.NewCohort("1"), cohort.Binding{}).Result(context.Background(), &TemporalCalculation{
		Name: "x", Lower: ParameterBound{Name: "startDate"}, Upper: ParameterBound{Name: "endDate"},
		Series: calc.Series,
	})
	assert.True(t, errs.IsConfiguration(err))
}

func TestPositionalCalculation(t *testing.T) {
	retriever := &seriesRetriever{bySeries: map[string]models.EventIndex{
		"visits": {
			"1": {
				{ID: "v1", EncounterID: "enc-a", Timestamp: day("2023-01-01")},
				{ID: "v2", EncounterID: "enc-b", Timestamp: day("2023-02-01")},
			},
			"2": {{ID: "v3", EncounterID: "enc-c", Timestamp: day("2023-02-01")}},
		},
		"cd4": {
			"1": {
				{ID: "old", EncounterID: "enc-a", Timestamp: day("2023-01-01")},
				{ID: "first", EncounterID: "enc-b", Timestamp: day("2023-02-01")},
				{ID: "second", EncounterID: "enc-b", Timestamp: day("2023-02-01")},
			},
			"2": {{ID: "elsewhere", EncounterID: "enc-z", Timestamp: day("2023-02-01")}},
		},
	}}
	calc := &PositionalCalculation{
		Name:      "cd4-on-last-visit",
		Series:    SeriesSpec{Filter: events.Filter{Series: "cd4", ConceptIDs: []string{"5497"}}},
		Reference: SeriesSpec{Filter: events.Filter{Series: "visits", EncounterTypeIDs: []string{"6"}, TimestampField: models.EncounterDate}},
		Position:  2,
	}
	result, err := newSession(retriever, models.NewCohort("1", "2"), nil).Result(context.Background(), calc)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "second", result["1"].Event.ID)

	calc.Name, calc.Position = "cd4-third", 3
	result, err = newSession(retriever, models.NewCohort("1", "2"), nil).Result(context.Background(), calc)
	require.NoError(t, err)
	assert.Empty(t, result)

	calc.Name, calc.Position = "cd4-zero", 0
	_, err = newSession(retriever, models.NewCohort("1"), nil).Result(context.Background(), calc)
	assert.True(t, errs.IsConfiguration(err))
}

func TestEventCalculationQualifiers(t *testing.T) {
	retriever := &seriesRetriever{bySeries: map[string]models.EventIndex{
		"vl": {"1": {{ID: "a", Timestamp: day("2023-01-01")}, {ID: "b", Timestamp: day("2023-02-01")}}},
	}}
	filter := events.Filter{Series: "vl", ConceptIDs: []string{"856"}}
	session := newSession(retriever, models.NewCohort("1"), nil)

	all, err := session.Result(context.Background(), &EventCalculation{Name: "all", Series: SeriesSpec{Filter: filter}})
	require.NoError(t, err)
	assert.Equal(t, calculation.KindList, all["1"].Kind)
	assert.Len(t, all["1"].Events, 2)

	last, err := session.Result(context.Background(), &EventCalculation{Name: "last", Series: SeriesSpec{Filter: filter, Qualifier: events.Last}})
	require.NoError(t, err)
	assert.Equal(t, calculation.KindSingle, last["1"].Kind)
	assert.Equal(t, "b", last["1"].Event.ID)
}

func TestMergedCalculationLaterSourceWins(t *testing.T) {
	a := &fixed{name: "a", result: calculation.Result{"1": calculation.Number(1), "2": calculation.Number(2)}}
	b := &fixed{name: "b", result: calculation.Result{"2": calculation.Number(20)}}
	result, err := newSession(nil, models.NewCohort("1", "2"), nil).Result(context.Background(), &MergedCalculation{Name: "m", Sources: []Calculation{a, b}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result["1"].Number)
	assert.Equal(t, 20.0, result["2"].Number)
}

func TestSessionEvaluatesSharedCalculationOnce(t *testing.T) {
	shared := &fixed{name: "shared", result: dates(map[models.PatientID]string{"1": "2023-01-01"})}
	session := newSession(nil, models.NewCohort("1"), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := session.Result(context.Background(), shared)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), shared.calls.Load())
}

// loop bounds itself by its own result.
type loop struct{}

func (loop) ID() string { return "loop" }

func (l loop) Evaluate(ctx context.Context, s *Session) (calculation.Result, error) {
	_, err := CalculationBound{Calculation: l}.Dates(ctx, s)
	return nil, err
}

func TestSessionRejectsSelfDependency(t *testing.T) {
	_, err := newSession(nil, models.NewCohort("1"), nil).Result(context.Background(), loop{})
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}
