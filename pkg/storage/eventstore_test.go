package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"github.com/synaptica-ai/indicators/pkg/events"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return db, mock
}

var eventColumns = []string{
	"id", "patient_id", "concept_id", "encounter_id", "encounter_type_id", "location_id",
	"value_coded", "value_numeric", "value_text", "value_unit",
	"encounter_datetime", "obs_datetime", "value_datetime", "voided",
}

func TestRetrieveIssuesOneBatchedQuery(t *testing.T) {
	db, mock := setupMockDB(t)
	obs1 := time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)
	obs2 := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(eventColumns).
		AddRow("o1", "101", "856", "enc-1", "6", "1", nil, 1200.0, nil, "copies/ml", nil, obs1, nil, false).
		AddRow("o2", "101", "856", "enc-2", "6", "1", "703", nil, nil, "", nil, obs2, nil, false).
		AddRow("o3", "102", "856", "enc-3", "6", "1", nil, nil, "pending", "", nil, obs1, nil, false)
	mock.ExpectQuery(`SELECT \* FROM "clinical_events" WHERE voided = .+obs_datetime IS NOT NULL.+patient_id IN .+concept_id IN .+ORDER BY patient_id, obs_datetime, id`).
		WillReturnRows(rows)

	store := NewEventStore(db, 100)
	index, err := store.Retrieve(context.Background(), events.Query{
		Filter:    events.Filter{Series: "vl", ConceptIDs: []string{"856"}},
		Qualifier: events.Any,
		Patients:  []string{"101", "102", "103"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, index["101"], 2)
	first := index["101"][0]
	assert.Equal(t, "vl", first.Series)
	assert.True(t, first.Timestamp.Equal(obs1))
	assert.Equal(t, models.NumericValue{Value: 1200, Unit: "copies/ml"}, first.Payload)
	assert.Equal(t, models.CodedValue{ConceptID: "703"}, index["101"][1].Payload)
	assert.Equal(t, models.TextValue{Value: "pending"}, index["102"][0].Payload)
	_, ok := index["103"]
	assert.False(t, ok)
}

func TestRetrieveUsesSeriesTimestampColumn(t *testing.T) {
	db, mock := setupMockDB(t)
	enc := time.Date(2022, 1, 10, 9, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows(eventColumns).
		AddRow("e1", "101", "", "enc-9", "13", "1", nil, nil, nil, "", enc, nil, nil, false)
	mock.ExpectQuery(`SELECT DISTINCT ON \(patient_id\) \* FROM "clinical_events" WHERE .+encounter_datetime IS NOT NULL.+encounter_type_id IN .+encounter_datetime >= .+encounter_datetime <= .+ORDER BY patient_id, encounter_datetime DESC, id DESC`).
		WillReturnRows(rows)

	store := NewEventStore(db, 0)
	index, err := store.Retrieve(context.Background(), events.Query{
		Filter: events.Filter{
			Series:           "tb-visit",
			EncounterTypeIDs: []string{"13"},
			TimestampField:   models.EncounterDate,
		},
		Qualifier: events.Last,
		NotBefore: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:  time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC),
		Patients:  []string{"101"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, index["101"], 1)
	ev := index["101"][0]
	assert.True(t, ev.Timestamp.Equal(enc))
	assert.Equal(t, models.EncounterReference{EncounterID: "enc-9", EncounterTypeID: "13"}, ev.Payload)
}

func TestRetrieveChunksLargeCohorts(t *testing.T) {
	db, mock := setupMockDB(t)
	obs := time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM "clinical_events"`).
		WillReturnRows(sqlmock.NewRows(eventColumns).AddRow("a", "1", "856", "", "", "", nil, 1.0, nil, "", nil, obs, nil, false))
	mock.ExpectQuery(`FROM "clinical_events"`).
		WillReturnRows(sqlmock.NewRows(eventColumns).AddRow("b", "3", "856", "", "", "", nil, 2.0, nil, "", nil, obs, nil, false))

	store := NewEventStore(db, 2)
	index, err := store.Retrieve(context.Background(), events.Query{
		Filter:   events.Filter{Series: "vl", ConceptIDs: []string{"856"}},
		Patients: []string{"1", "2", "3"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Len(t, index, 2)
}

func TestRetrieveEmptyFilterSkipsDatabase(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewEventStore(db, 10)
	index, err := store.Retrieve(context.Background(), events.Query{
		Filter:   events.Filter{Series: "none"},
		Patients: []string{"1"},
	})
	require.NoError(t, err)
	assert.Empty(t, index)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetrieveAllPatientsHasNoPatientRestriction(t *testing.T) {
	db, mock := setupMockDB(t)
	obs := time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`WHERE voided = \$1 AND obs_datetime IS NOT NULL AND concept_id IN \(\$2\) ORDER BY`).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow("a", "7", "1271", "", "", "", "1065", nil, nil, "", nil, obs, nil, false).
			AddRow("b", "9", "1271", "", "", "", "1065", nil, nil, "", nil, obs, nil, false))

	store := NewEventStore(db, 1)
	index, err := store.Retrieve(context.Background(), events.Query{
		Filter:      events.Filter{Series: "tb", ConceptIDs: []string{"1271"}},
		AllPatients: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Len(t, index, 2)
}
