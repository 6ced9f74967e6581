package window

import (
	"time"

	"github.com/synaptica-ai/indicators/pkg/analytics/dsl"
	"github.com/synaptica-ai/indicators/pkg/common/models"
)

// Resolve pairs per-patient lower and upper dates into windows. A patient
// missing from either side gets no window at all.
func Resolve(lower, upper map[models.PatientID]time.Time) map[models.PatientID]models.Window {
	windows := make(map[models.PatientID]models.Window, len(lower))
	for pid, lo := range lower {
		hi, ok := upper[pid]
		if !ok {
			continue
		}
		windows[pid] = models.Window{Lower: lo, Upper: hi}
	}
	return windows
}

// DatesOf extracts each matched event's timestamp so a match can bound a later window.
func DatesOf(matches map[models.PatientID]models.ClinicalEvent) map[models.PatientID]time.Time {
	dates := make(map[models.PatientID]time.Time, len(matches))
	for pid, ev := range matches {
		dates[pid] = ev.Timestamp
	}
	return dates
}

// Constant binds the same date to every cohort member, e.g. a report end date.
func Constant(cohort models.Cohort, date time.Time) map[models.PatientID]time.Time {
	dates := make(map[models.PatientID]time.Time, cohort.Len())
	for pid := range cohort {
		dates[pid] = date
	}
	return dates
}

// Shift applies offsets to every patient's date independently.
func Shift(dates map[models.PatientID]time.Time, offsets dsl.Offsets) map[models.PatientID]time.Time {
	shifted := make(map[models.PatientID]time.Time, len(dates))
	for pid, d := range dates {
		shifted[pid] = offsets.Apply(d)
	}
	return shifted
}
