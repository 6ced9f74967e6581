package temporal

import (
	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/models"
)

// ReferenceResolver names the encounter positional selection is anchored on.
type ReferenceResolver interface {
	ReferenceEncounter(pid models.PatientID) (string, bool)
}

// ReferenceFunc adapts a function to ReferenceResolver.
type ReferenceFunc func(pid models.PatientID) (string, bool)

func (f ReferenceFunc) ReferenceEncounter(pid models.PatientID) (string, bool) {
	return f(pid)
}

// LatestEncounter anchors on the encounter of each patient's most recent event
// in an encounter index, typically built with the LAST qualifier.
func LatestEncounter(encounters models.EventIndex) ReferenceResolver {
	return ReferenceFunc(func(pid models.PatientID) (string, bool) {
		series := encounters[pid]
		if len(series) == 0 {
			return "", false
		}
		last := series[len(series)-1]
		if last.EncounterID == "" {
			return "", false
		}
		return last.EncounterID, true
	})
}

// SelectPositional returns, per patient, the k-th (1-indexed) event recorded on
// the reference encounter, in retrieval order. No date window applies.
func SelectPositional(events models.EventIndex, ref ReferenceResolver, k int) (map[models.PatientID]models.ClinicalEvent, error) {
	if k < 1 {
		return nil, errs.Invalid("temporal", "", "position must be >= 1, got %d", k)
	}
	if ref == nil {
		return nil, errs.Invalid("temporal", "", "positional selection needs a reference encounter resolver")
	}
	result := make(map[models.PatientID]models.ClinicalEvent)
	for pid, series := range events {
		encounterID, ok := ref.ReferenceEncounter(pid)
		if !ok {
			continue
		}
		seen := 0
		for _, ev := range series {
			if ev.EncounterID != encounterID {
				continue
			}
			seen++
			if seen == k {
				result[pid] = ev
				break
			}
		}
	}
	return result, nil
}
