package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/models"
)

func onEncounter(id, encounter, date string) models.ClinicalEvent {
	e := ev(id, date)
	e.EncounterID = encounter
	return e
}

func TestSelectPositionalGroupsByReferenceEncounter(t *testing.T) {
	obs := models.EventIndex{
		"1": {
			onEncounter("old-1", "enc-a", "2022-01-01"),
			onEncounter("new-1", "enc-b", "2022-03-01"),
			onEncounter("old-2", "enc-a", "2022-01-01"),
			onEncounter("new-2", "enc-b", "2022-03-01"),
		},
	}
	visits := models.EventIndex{
		"1": {onEncounter("v1", "enc-a", "2022-01-01"), onEncounter("v2", "enc-b", "2022-03-01")},
	}
	ref := LatestEncounter(visits)

	first, err := SelectPositional(obs, ref, 1)
	require.NoError(t, err)
	assert.Equal(t, "new-1", first["1"].ID, "k=1 is the first event in retrieval order")

	second, err := SelectPositional(obs, ref, 2)
	require.NoError(t, err)
	assert.Equal(t, "new-2", second["1"].ID)

	third, err := SelectPositional(obs, ref, 3)
	require.NoError(t, err)
	_, ok := third["1"]
	assert.False(t, ok, "k=3 against two grouped events is absent")
}

func TestSelectPositionalWithoutReferenceOmitsPatient(t *testing.T) {
	obs := models.EventIndex{
		"1": {onEncounter("a", "enc-a", "2022-01-01")},
		"2": {onEncounter("b", "enc-z", "2022-01-01")},
	}
	ref := ReferenceFunc(func(pid models.PatientID) (string, bool) {
		if pid == "2" {
			return "enc-z", true
		}
		return "", false
	})
	result, err := SelectPositional(obs, ref, 1)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "b", result["2"].ID)
}

func TestSelectPositionalRejectsBadPosition(t *testing.T) {
	_, err := SelectPositional(models.EventIndex{}, LatestEncounter(nil), 0)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))

	_, err = SelectPositional(models.EventIndex{}, nil, 1)
	assert.True(t, errs.IsConfiguration(err))
}

func TestLatestEncounterSkipsMissingEncounterID(t *testing.T) {
	ref := LatestEncounter(models.EventIndex{"1": {ev("no-encounter", "2022-01-01")}})
	_, ok := ref.ReferenceEncounter("1")
	assert.False(t, ok)
	_, ok = ref.ReferenceEncounter("2")
	assert.False(t, ok)
}
