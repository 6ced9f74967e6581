package models

import (
	"sort"
	"time"
)

// PatientID is the opaque identifier every per-patient map is keyed by.
type PatientID string

// TimestampField names the single date a series is ordered and matched by.
type TimestampField string

const (
	EncounterDate   TimestampField = "encounter_date"
	ValueDate       TimestampField = "value_date"
	ObservationDate TimestampField = "observation_date"
)

// Column returns the clinical_events column holding the field.
func (f TimestampField) Column() string {
	switch f {
	case EncounterDate:
		return "encounter_datetime"
	case ValueDate:
		return "value_datetime"
	default:
		return "obs_datetime"
	}
}

// PayloadKind tags the variant carried by a ClinicalEvent.
type PayloadKind string

const (
	PayloadCoded     PayloadKind = "coded"
	PayloadNumeric   PayloadKind = "numeric"
	PayloadText      PayloadKind = "text"
	PayloadReference PayloadKind = "reference"
)

// Payload is implemented only by the variants below. A nil Payload is an
// explicit null value, not a missing event.
type Payload interface {
	Kind() PayloadKind
}

type CodedValue struct {
	ConceptID string `json:"concept_id"`
}

type NumericValue struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

type TextValue struct {
	Value string `json:"value"`
}

// EncounterReference points at the encounter an event documents.
type EncounterReference struct {
	EncounterID     string `json:"encounter_id"`
	EncounterTypeID string `json:"encounter_type_id,omitempty"`
}

func (CodedValue) Kind() PayloadKind         { return PayloadCoded }
func (NumericValue) Kind() PayloadKind       { return PayloadNumeric }
func (TextValue) Kind() PayloadKind          { return PayloadText }
func (EncounterReference) Kind() PayloadKind { return PayloadReference }

// ClinicalEvent is one retrieved observation or encounter for a patient.
type ClinicalEvent struct {
	ID          string    `json:"id"`
	PatientID   PatientID `json:"patient_id"`
	Series      string    `json:"series"`
	Timestamp   time.Time `json:"timestamp"`
	EncounterID string    `json:"encounter_id,omitempty"`
	LocationID  string    `json:"location_id,omitempty"`
	ConceptID   string    `json:"concept_id,omitempty"`
	Voided      bool      `json:"-"`
	Payload     Payload   `json:"payload,omitempty"`
}

// EventSeries is one patient's events for one filter, ascending by timestamp.
type EventSeries []ClinicalEvent

// SortByTimestamp orders the series ascending, keeping retrieval order on ties.
func (s EventSeries) SortByTimestamp() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Timestamp.Before(s[j].Timestamp)
	})
}

// EventIndex maps each patient to its series for a single filter.
type EventIndex map[PatientID]EventSeries

// Patients returns the patients present in the index.
func (idx EventIndex) Patients() Cohort {
	c := make(Cohort, len(idx))
	for pid := range idx {
		c[pid] = struct{}{}
	}
	return c
}

// Window is an inclusive per-patient date interval.
type Window struct {
	Lower time.Time `json:"lower"`
	Upper time.Time `json:"upper"`
}

// Inconsistent reports a window whose lower bound lies after its upper bound.
func (w Window) Inconsistent() bool {
	return w.Lower.After(w.Upper)
}

// Contains reports whether t falls inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Lower) && !t.After(w.Upper)
}

// Cohort is a set of patients.
type Cohort map[PatientID]struct{}

func NewCohort(ids ...PatientID) Cohort {
	c := make(Cohort, len(ids))
	for _, id := range ids {
		c[id] = struct{}{}
	}
	return c
}

func (c Cohort) Contains(id PatientID) bool {
	_, ok := c[id]
	return ok
}

func (c Cohort) Add(id PatientID) {
	c[id] = struct{}{}
}

func (c Cohort) Len() int {
	return len(c)
}

func (c Cohort) Intersect(other Cohort) Cohort {
	small, large := c, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(Cohort, len(small))
	for id := range small {
		if large.Contains(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

func (c Cohort) Union(other Cohort) Cohort {
	out := make(Cohort, len(c)+len(other))
	for id := range c {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Difference returns the members of c that are not in other.
func (c Cohort) Difference(other Cohort) Cohort {
	out := make(Cohort, len(c))
	for id := range c {
		if !other.Contains(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Sorted returns the members in lexical order.
func (c Cohort) Sorted() []PatientID {
	ids := make([]PatientID, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Strings returns the sorted members as plain strings, for queries and JSON.
func (c Cohort) Strings() []string {
	ids := c.Sorted()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // report.run.requested, indicator.evaluated
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// ReportRunRequest asks for one report generation with its parameter values.
type ReportRunRequest struct {
	ReportID    string            `json:"report_id"`
	TenantID    string            `json:"tenant_id,omitempty"`
	Parameters  map[string]string `json:"parameters"`
	Population  []string          `json:"population,omitempty"`
	RequestedBy string            `json:"requested_by,omitempty"`
}

// ReportCell is the rendered value of one column for one patient.
type ReportCell struct {
	Kind  string      `json:"kind"`
	Value interface{} `json:"value"`
}

type ReportResult struct {
	RunID       string                              `json:"run_id"`
	ReportID    string                              `json:"report_id"`
	Population  int                                 `json:"population"`
	Columns     []string                            `json:"columns"`
	Rows        map[PatientID]map[string]ReportCell `json:"rows"`
	Counts      map[string]int                      `json:"counts"`
	GeneratedAt time.Time                           `json:"generated_at"`
	Duration    time.Duration                       `json:"duration"`
	Parameters  map[string]string                   `json:"parameters,omitempty"`
}

type ReportRun struct {
	ID           string            `json:"id"`
	ReportID     string            `json:"report_id"`
	TenantID     string            `json:"tenant_id,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Status       string            `json:"status"`
	Population   int               `json:"population"`
	Counts       map[string]int    `json:"counts,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	RequestedBy  string            `json:"requested_by,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}
