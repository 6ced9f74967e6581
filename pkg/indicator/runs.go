package indicator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRecord is the bookkeeping row of one report run. Results are not stored.
type RunRecord struct {
	ID           uuid.UUID      `gorm:"primaryKey;column:id"`
	ReportID     string         `gorm:"column:report_id"`
	TenantID     *string        `gorm:"column:tenant_id"`
	Parameters   datatypes.JSON `gorm:"column:parameters"`
	Counts       datatypes.JSON `gorm:"column:counts"`
	Status       string         `gorm:"column:status"`
	Population   int            `gorm:"column:population"`
	ErrorMessage string         `gorm:"column:error_message"`
	RequestedBy  string         `gorm:"column:requested_by"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	StartedAt    *time.Time     `gorm:"column:started_at"`
	CompletedAt  *time.Time     `gorm:"column:completed_at"`
}

func (RunRecord) TableName() string {
	return "indicator_runs"
}

// RunStore persists run records.
type RunStore interface {
	Create(ctx context.Context, record *RunRecord) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	List(ctx context.Context, tenantID string, limit int) ([]RunRecord, error)
}

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&RunRecord{})
}

func (r *RunRepository) Create(ctx context.Context, record *RunRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *RunRepository) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&RunRecord{}).Where("id = ?", id).Updates(updates).Error
}

func (r *RunRepository) List(ctx context.Context, tenantID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if tenantID != "" {
		query = query.Where("tenant_id = ? OR tenant_id IS NULL", tenantID)
	}
	var records []RunRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func recordToDomain(record *RunRecord) models.ReportRun {
	params := map[string]string{}
	if len(record.Parameters) > 0 {
		_ = json.Unmarshal(record.Parameters, &params)
	}
	var counts map[string]int
	if len(record.Counts) > 0 {
		_ = json.Unmarshal(record.Counts, &counts)
	}
	run := models.ReportRun{
		ID:           record.ID.String(),
		ReportID:     record.ReportID,
		Parameters:   params,
		Status:       record.Status,
		Population:   record.Population,
		Counts:       counts,
		ErrorMessage: record.ErrorMessage,
		RequestedBy:  record.RequestedBy,
		CreatedAt:    record.CreatedAt,
		StartedAt:    record.StartedAt,
		CompletedAt:  record.CompletedAt,
	}
	if record.TenantID != nil {
		run.TenantID = *record.TenantID
	}
	return run
}
