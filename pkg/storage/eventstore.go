package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/synaptica-ai/indicators/pkg/common/logger"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"github.com/synaptica-ai/indicators/pkg/events"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ClinicalEventModel struct {
	ID                string            `gorm:"primaryKey;column:id"`
	PatientID         string            `gorm:"column:patient_id;index"`
	ConceptID         string            `gorm:"column:concept_id;index"`
	EncounterID       string            `gorm:"column:encounter_id"`
	EncounterTypeID   string            `gorm:"column:encounter_type_id"`
	LocationID        string            `gorm:"column:location_id"`
	ValueCoded        *string           `gorm:"column:value_coded"`
	ValueNumeric      *float64          `gorm:"column:value_numeric"`
	ValueText         *string           `gorm:"column:value_text"`
	ValueUnit         string            `gorm:"column:value_unit"`
	EncounterDatetime *time.Time        `gorm:"column:encounter_datetime"`
	ObsDatetime       *time.Time        `gorm:"column:obs_datetime"`
	ValueDatetime     *time.Time        `gorm:"column:value_datetime"`
	Voided            bool              `gorm:"column:voided"`
	Attributes        datatypes.JSONMap `gorm:"column:attributes"`
	CreatedAt         time.Time         `gorm:"column:created_at"`
}

func (ClinicalEventModel) TableName() string {
	return "clinical_events"
}

// EventStore is the bulk retrieval service over clinical_events. Each Retrieve
// runs one query for the whole cohort; cohorts larger than the chunk size are
// split into IN-lists of at most chunk patients.
type EventStore struct {
	db    *gorm.DB
	chunk int
}

func NewEventStore(db *gorm.DB, chunk int) *EventStore {
	if chunk <= 0 {
		chunk = 5000
	}
	return &EventStore{db: db, chunk: chunk}
}

func (s *EventStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ClinicalEventModel{})
}

func (s *EventStore) Retrieve(ctx context.Context, q events.Query) (models.EventIndex, error) {
	index := make(models.EventIndex)
	if q.Empty() {
		return index, nil
	}
	if q.AllPatients {
		var rows []ClinicalEventModel
		if err := s.query(ctx, q, nil).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("query clinical events: %w", err)
		}
		for i := range rows {
			ev := toEvent(&rows[i], q)
			index[ev.PatientID] = append(index[ev.PatientID], ev)
		}
		return index, nil
	}
	if len(q.Patients) == 0 {
		return index, nil
	}
	for start := 0; start < len(q.Patients); start += s.chunk {
		end := start + s.chunk
		if end > len(q.Patients) {
			end = len(q.Patients)
		}
		var rows []ClinicalEventModel
		if err := s.query(ctx, q, q.Patients[start:end]).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("query clinical events: %w", err)
		}
		for i := range rows {
			ev := toEvent(&rows[i], q)
			index[ev.PatientID] = append(index[ev.PatientID], ev)
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"series":   q.Series,
		"patients": len(q.Patients),
		"matched":  len(index),
	}).Debug("clinical events retrieved")
	return index, nil
}

func (s *EventStore) query(ctx context.Context, q events.Query, patients []string) *gorm.DB {
	col := q.Field().Column()
	tx := s.db.WithContext(ctx).Model(&ClinicalEventModel{}).
		Where("voided = ?", false).
		Where(col + " IS NOT NULL")
	if patients != nil {
		tx = tx.Where("patient_id IN ?", patients)
	}
	if len(q.ConceptIDs) > 0 {
		tx = tx.Where("concept_id IN ?", q.ConceptIDs)
	}
	if len(q.EncounterTypeIDs) > 0 {
		tx = tx.Where("encounter_type_id IN ?", q.EncounterTypeIDs)
	}
	if len(q.LocationIDs) > 0 {
		tx = tx.Where("location_id IN ?", q.LocationIDs)
	}
	if len(q.ValueCoded) > 0 {
		tx = tx.Where("value_coded IN ?", q.ValueCoded)
	}
	if !q.NotBefore.IsZero() {
		tx = tx.Where(col+" >= ?", q.NotBefore)
	}
	if !q.NotAfter.IsZero() {
		tx = tx.Where(col+" <= ?", q.NotAfter)
	}

	switch q.Qualifier {
	case events.First:
		return tx.Select("DISTINCT ON (patient_id) *").Order("patient_id, " + col + " ASC, id ASC")
	case events.Last:
		return tx.Select("DISTINCT ON (patient_id) *").Order("patient_id, " + col + " DESC, id DESC")
	default:
		return tx.Order("patient_id, " + col + ", id")
	}
}

func toEvent(row *ClinicalEventModel, q events.Query) models.ClinicalEvent {
	ev := models.ClinicalEvent{
		ID:          row.ID,
		PatientID:   models.PatientID(row.PatientID),
		Series:      q.Series,
		EncounterID: row.EncounterID,
		LocationID:  row.LocationID,
		ConceptID:   row.ConceptID,
		Voided:      row.Voided,
	}
	switch q.Field() {
	case models.EncounterDate:
		ev.Timestamp = deref(row.EncounterDatetime)
	case models.ValueDate:
		ev.Timestamp = deref(row.ValueDatetime)
	default:
		ev.Timestamp = deref(row.ObsDatetime)
	}

	switch {
	case row.ValueCoded != nil:
		ev.Payload = models.CodedValue{ConceptID: *row.ValueCoded}
	case row.ValueNumeric != nil:
		ev.Payload = models.NumericValue{Value: *row.ValueNumeric, Unit: row.ValueUnit}
	case row.ValueText != nil:
		ev.Payload = models.TextValue{Value: *row.ValueText}
	case row.EncounterID != "":
		ev.Payload = models.EncounterReference{EncounterID: row.EncounterID, EncounterTypeID: row.EncounterTypeID}
	}
	return ev
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
