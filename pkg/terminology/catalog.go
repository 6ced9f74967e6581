package terminology

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"gopkg.in/yaml.v3"
)

// Kind selects which identifier namespace a symbolic name belongs to.
type Kind string

const (
	Concepts       Kind = "concept"
	EncounterTypes Kind = "encounter_type"
	Locations      Kind = "location"
)

type Concept struct {
	ID      string `yaml:"id" json:"id"`
	Display string `yaml:"display" json:"display"`
	SNOMED  string `yaml:"snomed,omitempty" json:"snomed,omitempty"`
	LOINC   string `yaml:"loinc,omitempty" json:"loinc,omitempty"`
	ICD10   string `yaml:"icd10,omitempty" json:"icd10,omitempty"`
}

type Catalog struct {
	Concepts       map[string]Concept `yaml:"concepts" json:"concepts"`
	EncounterTypes map[string]Concept `yaml:"encounter_types" json:"encounter_types"`
	Locations      map[string]Concept `yaml:"locations" json:"locations"`
}

// Resolver maps symbolic clinical names to stable opaque identifiers.
type Resolver interface {
	Resolve(ctx context.Context, kind Kind, name string) (string, error)
}

func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Concepts) == 0 && len(cat.EncounterTypes) == 0 && len(cat.Locations) == 0 {
		return Catalog{}, fmt.Errorf("terminology catalog empty")
	}
	return cat, nil
}

func (c Catalog) entries(kind Kind) map[string]Concept {
	switch kind {
	case EncounterTypes:
		return c.EncounterTypes
	case Locations:
		return c.Locations
	default:
		return c.Concepts
	}
}

func (c Catalog) Lookup(kind Kind, key string) (Concept, bool) {
	entries := c.entries(kind)
	if entries == nil {
		return Concept{}, false
	}
	concept, ok := entries[strings.ToLower(key)]
	if ok {
		return concept, true
	}
	for k, v := range entries {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return Concept{}, false
}

// Resolve returns the identifier for name, or a ConfigurationError when the
// catalog does not know it.
func (c Catalog) Resolve(_ context.Context, kind Kind, name string) (string, error) {
	concept, ok := c.Lookup(kind, name)
	if !ok || concept.ID == "" {
		return "", errs.Invalid("terminology", name, "unknown %s", kind)
	}
	return concept.ID, nil
}

// ResolveAll resolves every name, stopping at the first unknown one.
func ResolveAll(ctx context.Context, r Resolver, kind Kind, names ...string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, err := r.Resolve(ctx, kind, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func DefaultCatalog() Catalog {
	return Catalog{
		Concepts: map[string]Concept{
			"blood-glucose": {
				ID:      "887",
				Display: "Blood Glucose",
				SNOMED:  "271062007",
				LOINC:   "2339-0",
				ICD10:   "R73.9",
			},
			"blood-pressure": {
				ID:      "5085",
				Display: "Blood Pressure",
				SNOMED:  "75367002",
				LOINC:   "85354-9",
				ICD10:   "I10",
			},
			"hiv-viral-load": {
				ID:      "856",
				Display: "HIV Viral Load",
				LOINC:   "25836-8",
			},
			"cd4-count": {
				ID:      "5497",
				Display: "CD4 Count",
				LOINC:   "24467-3",
			},
			"tb-screening-positive": {
				ID:      "1271",
				Display: "TB Screening Positive",
				SNOMED:  "171126009",
			},
		},
		EncounterTypes: map[string]Concept{
			"adult-initial":  {ID: "5", Display: "Adult Initial Visit"},
			"adult-followup": {ID: "6", Display: "Adult Follow-up Visit"},
			"tb-treatment":   {ID: "13", Display: "TB Treatment Visit"},
		},
		Locations: map[string]Concept{
			"central-clinic": {ID: "1", Display: "Central Clinic"},
		},
	}
}
