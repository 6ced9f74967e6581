package indicator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/indicators/pkg/calculation"
	"github.com/synaptica-ai/indicators/pkg/common/models"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*RunRecord
	updates map[uuid.UUID][]map[string]interface{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: make(map[uuid.UUID]*RunRecord),
		updates: make(map[uuid.UUID][]map[string]interface{}),
	}
}

func (m *memoryStore) Create(_ context.Context, record *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.records[record.ID] = &cp
	return nil
}

func (m *memoryStore) Update(_ context.Context, id uuid.UUID, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[id] = append(m.updates[id], updates)
	if status, ok := updates["status"].(string); ok {
		m.records[id].Status = status
	}
	return nil
}

func (m *memoryStore) List(_ context.Context, _ string, _ int) ([]RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out, nil
}

func (m *memoryStore) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Status
}

type published struct {
	eventType string
	data      map[string]interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishEvent(_ context.Context, eventType, _ string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{eventType: eventType, data: data})
	return nil
}

func runnerFixture(t *testing.T) (*Runner, *memoryStore, *recordingPublisher) {
	report := &Report{
		ID: "counts",
		Columns: []Column{
			{Name: "value", Calculation: &fixed{name: "value", result: calculation.Result{"1": calculation.Number(1)}}},
		},
	}
	store := newMemoryStore()
	pub := &recordingPublisher{}
	svc := NewService(registryWith(t, report), nil)
	return NewRunner(store, svc, pub, 2, time.Minute), store, pub
}

func TestRunNowRecordsAndPublishes(t *testing.T) {
	runner, store, pub := runnerFixture(t)

	result, run, err := runner.RunNow(context.Background(), models.ReportRunRequest{ReportID: "counts", Population: []string{"1", "2"}, TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Population)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, "t1", run.TenantID)
	assert.Equal(t, map[string]int{"value": 1}, run.Counts)

	id := uuid.MustParse(run.ID)
	assert.Equal(t, RunStatusCompleted, store.status(id))
	require.Len(t, store.updates[id], 2)
	assert.Equal(t, RunStatusRunning, store.updates[id][0]["status"])

	require.Len(t, pub.events, 1)
	assert.Equal(t, EventEvaluated, pub.events[0].eventType)
	assert.Equal(t, "counts", pub.events[0].data["report_id"])
}

func TestRunNowFailureMarksRunFailed(t *testing.T) {
	runner, store, pub := runnerFixture(t)

	_, run, err := runner.RunNow(context.Background(), models.ReportRunRequest{ReportID: "unknown"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReportNotFound))
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, RunStatusFailed, store.status(uuid.MustParse(run.ID)))
	assert.Empty(t, pub.events)
}

func TestEnqueueRunsInBackground(t *testing.T) {
	runner, store, _ := runnerFixture(t)

	run, err := runner.Enqueue(context.Background(), models.ReportRunRequest{ReportID: "counts", Population: []string{"1"}})
	require.NoError(t, err)
	assert.Equal(t, RunStatusQueued, run.Status)

	runner.Wait()
	assert.Equal(t, RunStatusCompleted, store.status(uuid.MustParse(run.ID)))

	runs, err := runner.List(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestHandleEvent(t *testing.T) {
	runner, store, _ := runnerFixture(t)

	err := runner.HandleEvent(context.Background(), models.Event{
		ID:     "evt-1",
		Type:   EventRunRequested,
		Source: "scheduler",
		Data: map[string]interface{}{
			"report_id":  "counts",
			"population": []interface{}{"1"},
			"parameters": map[string]interface{}{"endDate": "2023-03-31"},
		},
	})
	require.NoError(t, err)
	runner.Wait()

	runs, err := runner.List(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "scheduler", runs[0].RequestedBy)
	assert.Equal(t, "2023-03-31", runs[0].Parameters["endDate"])
	assert.Equal(t, RunStatusCompleted, store.status(uuid.MustParse(runs[0].ID)))

	require.NoError(t, runner.HandleEvent(context.Background(), models.Event{Type: "something.else"}))
	require.NoError(t, runner.HandleEvent(context.Background(), models.Event{Type: EventRunRequested, Data: map[string]interface{}{}}))
	runs, _ = runner.List(context.Background(), "", 10)
	assert.Len(t, runs, 1)
}
