package events

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/synaptica-ai/indicators/pkg/common/models"
)

// TimeQualifier selects which occurrences of a series are kept per patient.
type TimeQualifier string

const (
	Any   TimeQualifier = "ANY"
	First TimeQualifier = "FIRST"
	Last  TimeQualifier = "LAST"
)

func ParseTimeQualifier(s string) (TimeQualifier, error) {
	switch q := TimeQualifier(strings.ToUpper(strings.TrimSpace(s))); q {
	case "":
		return Any, nil
	case Any, First, Last:
		return q, nil
	default:
		return "", fmt.Errorf("unknown time qualifier %q", s)
	}
}

// Filter describes one series: which events to retrieve and which date orders them.
type Filter struct {
	Series           string                `json:"series" yaml:"series"`
	ConceptIDs       []string              `json:"concept_ids,omitempty" yaml:"concept_ids"`
	EncounterTypeIDs []string              `json:"encounter_type_ids,omitempty" yaml:"encounter_type_ids"`
	LocationIDs      []string              `json:"location_ids,omitempty" yaml:"location_ids"`
	ValueCoded       []string              `json:"value_coded,omitempty" yaml:"value_coded"`
	TimestampField   models.TimestampField `json:"timestamp_field,omitempty" yaml:"timestamp_field"`
}

// Empty reports a filter that names no concept, encounter type or location.
func (f Filter) Empty() bool {
	return len(f.ConceptIDs) == 0 && len(f.EncounterTypeIDs) == 0 && len(f.LocationIDs) == 0
}

// Field returns the timestamp field, defaulting to the observation date.
func (f Filter) Field() models.TimestampField {
	if f.TimestampField == "" {
		return models.ObservationDate
	}
	return f.TimestampField
}

// Key is stable across id ordering, so equal filters share a retrieval.
func (f Filter) Key() string {
	return strings.Join([]string{
		f.Series,
		string(f.Field()),
		"c=" + sortedJoin(f.ConceptIDs),
		"e=" + sortedJoin(f.EncounterTypeIDs),
		"l=" + sortedJoin(f.LocationIDs),
		"v=" + sortedJoin(f.ValueCoded),
	}, "|")
}

func sortedJoin(ids []string) string {
	cp := append([]string(nil), ids...)
	sort.Strings(cp)
	return strings.Join(cp, ",")
}

// Query is one batched request to the bulk retrieval service.
type Query struct {
	Filter
	Qualifier   TimeQualifier
	NotBefore   time.Time
	NotAfter    time.Time
	Patients    []string
	// AllPatients retrieves without a patient restriction; Patients is ignored.
	AllPatients bool
}

// Retriever is the bulk retrieval service. One call covers the whole cohort.
type Retriever interface {
	Retrieve(ctx context.Context, q Query) (models.EventIndex, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, q Query) (models.EventIndex, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, q Query) (models.EventIndex, error) {
	return f(ctx, q)
}
