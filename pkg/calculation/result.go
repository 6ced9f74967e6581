package calculation

import (
	"time"

	"github.com/synaptica-ai/indicators/pkg/common/models"
)

// Kind tags the shape of a Value.
type Kind string

const (
	KindSingle Kind = "single"
	KindList   Kind = "list"
	KindDate   Kind = "date"
	KindNumber Kind = "number"
	KindMember Kind = "member"
)

// Value is one patient's computed result. Exactly the field matching Kind is set.
type Value struct {
	Kind   Kind
	Event  models.ClinicalEvent
	Events models.EventSeries
	Date   time.Time
	Number float64
}

func Single(ev models.ClinicalEvent) Value {
	return Value{Kind: KindSingle, Event: ev}
}

func List(events models.EventSeries) Value {
	return Value{Kind: KindList, Events: events}
}

func Date(t time.Time) Value {
	return Value{Kind: KindDate, Date: t}
}

func Number(n float64) Value {
	return Value{Kind: KindNumber, Number: n}
}

// Member marks cohort membership; it carries no data.
func Member() Value {
	return Value{Kind: KindMember}
}

// FromCohort gives every member a Member value.
func FromCohort(c models.Cohort) Result {
	out := make(Result, c.Len())
	for pid := range c {
		out[pid] = Member()
	}
	return out
}

// Time returns the date a value stands for: the event timestamp for a single
// event, the latest event of a list, or the date itself. Numbers have none.
func (v Value) Time() (time.Time, bool) {
	switch v.Kind {
	case KindSingle:
		return v.Event.Timestamp, true
	case KindList:
		if len(v.Events) == 0 {
			return time.Time{}, false
		}
		return v.Events[len(v.Events)-1].Timestamp, true
	case KindDate:
		return v.Date, true
	default:
		return time.Time{}, false
	}
}

// Result maps each patient to its value. A patient without a result is absent.
type Result map[models.PatientID]Value

// Merge unions results in the given order; a later source overwrites an
// earlier one for the same patient.
func Merge(sources ...Result) Result {
	size := 0
	for _, r := range sources {
		size += len(r)
	}
	out := make(Result, size)
	for _, r := range sources {
		for pid, v := range r {
			out[pid] = v
		}
	}
	return out
}

func FromMatches(matches map[models.PatientID]models.ClinicalEvent) Result {
	out := make(Result, len(matches))
	for pid, ev := range matches {
		out[pid] = Single(ev)
	}
	return out
}

// FromIndex turns a builder index into list values, or single values when
// single is set (FIRST/LAST indexes). Patients with no events stay absent.
func FromIndex(index models.EventIndex, single bool) Result {
	out := make(Result, len(index))
	for pid, series := range index {
		if len(series) == 0 {
			continue
		}
		if single {
			out[pid] = Single(series[0])
			continue
		}
		out[pid] = List(series)
	}
	return out
}

// Dates extracts a date per patient so the result can bound a window.
func (r Result) Dates() map[models.PatientID]time.Time {
	dates := make(map[models.PatientID]time.Time, len(r))
	for pid, v := range r {
		if t, ok := v.Time(); ok {
			dates[pid] = t
		}
	}
	return dates
}

// Patients returns the patients holding a value.
func (r Result) Patients() models.Cohort {
	c := make(models.Cohort, len(r))
	for pid := range r {
		c.Add(pid)
	}
	return c
}

// Cell renders a value for report output.
func (v Value) Cell() models.ReportCell {
	switch v.Kind {
	case KindSingle:
		return models.ReportCell{Kind: string(v.Kind), Value: v.Event}
	case KindList:
		return models.ReportCell{Kind: string(v.Kind), Value: v.Events}
	case KindDate:
		return models.ReportCell{Kind: string(v.Kind), Value: v.Date.Format("2006-01-02")}
	case KindMember:
		return models.ReportCell{Kind: string(v.Kind), Value: true}
	default:
		return models.ReportCell{Kind: string(v.Kind), Value: v.Number}
	}
}
