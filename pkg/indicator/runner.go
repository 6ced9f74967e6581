package indicator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/indicators/pkg/common/logger"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"github.com/synaptica-ai/indicators/pkg/observability/metrics"
	"gorm.io/datatypes"
)

const (
	EventRunRequested = "report.run.requested"
	EventEvaluated    = "indicator.evaluated"
	eventSource       = "indicator-service"
)

// Publisher announces finished runs.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Runner records runs around Service.Run, either inline or on a bounded pool
// of background workers.
type Runner struct {
	store     RunStore
	service   *Service
	publisher Publisher
	timeout   time.Duration
	workers   chan struct{}
	wg        sync.WaitGroup
}

// NewRunner builds a runner; publisher may be nil and timeout 0 means none.
func NewRunner(store RunStore, svc *Service, publisher Publisher, maxWorkers int, timeout time.Duration) *Runner {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Runner{
		store:     store,
		service:   svc,
		publisher: publisher,
		timeout:   timeout,
		workers:   make(chan struct{}, maxWorkers),
	}
}

// RunNow executes the request on the caller's goroutine.
func (r *Runner) RunNow(ctx context.Context, req models.ReportRunRequest) (*models.ReportResult, models.ReportRun, error) {
	record, err := r.create(ctx, req)
	if err != nil {
		return nil, models.ReportRun{}, err
	}
	result, err := r.execute(ctx, record.ID, req)
	run := recordToDomain(record)
	run.Status = RunStatusCompleted
	if err != nil {
		run.Status = RunStatusFailed
		run.ErrorMessage = err.Error()
		return nil, run, err
	}
	run.Population = result.Population
	run.Counts = result.Counts
	return result, run, nil
}

// Enqueue records the run as queued and executes it in the background.
func (r *Runner) Enqueue(ctx context.Context, req models.ReportRunRequest) (models.ReportRun, error) {
	record, err := r.create(ctx, req)
	if err != nil {
		return models.ReportRun{}, err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.workers <- struct{}{}
		defer func() { <-r.workers }()
		_, _ = r.execute(context.Background(), record.ID, req)
	}()
	return recordToDomain(record), nil
}

// Wait blocks until every enqueued run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) List(ctx context.Context, tenantID string, limit int) ([]models.ReportRun, error) {
	records, err := r.store.List(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	runs := make([]models.ReportRun, 0, len(records))
	for i := range records {
		runs = append(runs, recordToDomain(&records[i]))
	}
	return runs, nil
}

// HandleEvent consumes report.run.requested events.
func (r *Runner) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != EventRunRequested {
		logger.Log.WithField("event_type", event.Type).Debug("ignoring event")
		return nil
	}
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("encode run request: %w", err)
	}
	var req models.ReportRunRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode run request: %w", err)
	}
	if req.ReportID == "" {
		logger.Log.WithField("event_id", event.ID).Warn("run request without report_id dropped")
		return nil
	}
	if req.RequestedBy == "" {
		req.RequestedBy = event.Source
	}
	_, err = r.Enqueue(ctx, req)
	return err
}

func (r *Runner) create(ctx context.Context, req models.ReportRunRequest) (*RunRecord, error) {
	var tenantPtr *string
	if strings.TrimSpace(req.TenantID) != "" {
		tenant := req.TenantID
		tenantPtr = &tenant
	}
	params, _ := json.Marshal(req.Parameters)
	record := &RunRecord{
		ID:          uuid.New(),
		ReportID:    req.ReportID,
		TenantID:    tenantPtr,
		Parameters:  datatypes.JSON(params),
		Status:      RunStatusQueued,
		RequestedBy: req.RequestedBy,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	return record, nil
}

func (r *Runner) execute(ctx context.Context, id uuid.UUID, req models.ReportRunRequest) (*models.ReportResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	metrics.RunStarted()
	started := time.Now().UTC()
	r.update(id, map[string]interface{}{
		"status":     RunStatusRunning,
		"started_at": started,
	})

	result, err := r.service.Run(ctx, req)
	if err != nil {
		r.fail(id, req, err)
		return nil, err
	}

	counts, _ := json.Marshal(result.Counts)
	completed := time.Now().UTC()
	r.update(id, map[string]interface{}{
		"status":        RunStatusCompleted,
		"population":    result.Population,
		"counts":        datatypes.JSON(counts),
		"completed_at":  completed,
		"error_message": "",
	})
	metrics.RunCompleted(result.Duration)
	r.publish(ctx, id, result)
	return result, nil
}

func (r *Runner) fail(id uuid.UUID, req models.ReportRunRequest, err error) {
	logger.Log.WithError(err).WithFields(map[string]interface{}{
		"run_id":    id.String(),
		"report_id": req.ReportID,
	}).Error("indicator report run failed")
	metrics.RunFailed()
	completed := time.Now().UTC()
	r.update(id, map[string]interface{}{
		"status":        RunStatusFailed,
		"error_message": err.Error(),
		"completed_at":  completed,
	})
}

func (r *Runner) update(id uuid.UUID, updates map[string]interface{}) {
	if err := r.store.Update(context.Background(), id, updates); err != nil {
		logger.Log.WithError(err).WithField("run_id", id.String()).Warn("failed to update run record")
	}
}

func (r *Runner) publish(ctx context.Context, id uuid.UUID, result *models.ReportResult) {
	if r.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"run_id":      id.String(),
		"session_id":  result.RunID,
		"report_id":   result.ReportID,
		"population":  result.Population,
		"counts":      result.Counts,
		"duration_ms": result.Duration.Milliseconds(),
	}
	if err := r.publisher.PublishEvent(ctx, EventEvaluated, eventSource, data); err != nil {
		logger.Log.WithError(err).WithField("run_id", id.String()).Warn("failed to publish evaluation")
	}
}
