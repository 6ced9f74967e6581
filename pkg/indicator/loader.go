package indicator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/synaptica-ai/indicators/pkg/analytics/cohort"
	"github.com/synaptica-ai/indicators/pkg/analytics/dsl"
	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/models"
	"github.com/synaptica-ai/indicators/pkg/events"
	"github.com/synaptica-ai/indicators/pkg/temporal"
	"github.com/synaptica-ai/indicators/pkg/terminology"
	"gopkg.in/yaml.v3"
)

type reportFile struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Parameters   []string          `yaml:"parameters"`
	Strategy     string            `yaml:"strategy"`
	Searches     []searchSpec      `yaml:"searches"`
	Population   *useSpec          `yaml:"population"`
	Calculations []calculationSpec `yaml:"calculations"`
	Columns      []columnSpec      `yaml:"columns"`
}

type seriesSpec struct {
	Series         string   `yaml:"series"`
	Concepts       []string `yaml:"concepts"`
	EncounterTypes []string `yaml:"encounter_types"`
	Locations      []string `yaml:"locations"`
	Values         []string `yaml:"values"`
	TimestampField string   `yaml:"timestamp_field"`
	Qualifier      string   `yaml:"qualifier"`
}

// useSpec invokes a search with mappings; Composition may replace Search.
type useSpec struct {
	Search      string            `yaml:"search"`
	Composition string            `yaml:"composition"`
	Mappings    map[string]string `yaml:"mappings"`
}

type searchSpec struct {
	ID          string             `yaml:"id"`
	Type        string             `yaml:"type"`
	Parameters  []string           `yaml:"parameters"`
	Members     []string           `yaml:"members"`
	Filter      *seriesSpec        `yaml:"filter"`
	OnOrAfter   string             `yaml:"on_or_after"`
	OnOrBefore  string             `yaml:"on_or_before"`
	MinCount    int                `yaml:"min_count"`
	Composition string             `yaml:"composition"`
	Uses        map[string]useSpec `yaml:"uses"`
}

type boundSpec struct {
	Parameter   string `yaml:"parameter"`
	Calculation string `yaml:"calculation"`
	Shift       string `yaml:"shift"`
}

type calculationSpec struct {
	ID         string       `yaml:"id"`
	Type       string       `yaml:"type"`
	Series     []seriesSpec `yaml:"series"`
	Lower      *boundSpec   `yaml:"lower"`
	Upper      *boundSpec   `yaml:"upper"`
	Strategy   string       `yaml:"strategy"`
	Reference  *seriesSpec  `yaml:"reference"`
	Position   int          `yaml:"position"`
	OnOrAfter  string       `yaml:"on_or_after"`
	OnOrBefore string       `yaml:"on_or_before"`
	Cohort     *useSpec     `yaml:"cohort"`
	Sources    []string     `yaml:"sources"`
}

type columnSpec struct {
	Name        string `yaml:"name"`
	Calculation string `yaml:"calculation"`
}

// LoadReports reads every .yaml/.yml report under path (a file or directory)
// and registers it.
func LoadReports(ctx context.Context, path string, resolver terminology.Resolver, registry *Registry) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	files := []string{path}
	if info.IsDir() {
		files = files[:0]
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
		sort.Strings(files)
	}
	for _, file := range files {
		content, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return err
		}
		report, err := ParseReport(ctx, content, resolver)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if err := registry.Register(report); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
	}
	return nil
}

// ParseReport builds a report from its YAML definition. Searches and
// calculations may only refer to ones declared before them.
func ParseReport(ctx context.Context, content []byte, resolver terminology.Resolver) (*Report, error) {
	var file reportFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	if file.ID == "" {
		return nil, errs.Invalid("report", "", "report id is required")
	}
	b := &reportBuilder{
		ctx:          ctx,
		report:       file.ID,
		resolver:     resolver,
		searches:     make(map[string]cohort.Definition),
		calculations: make(map[string]Calculation),
	}

	strategy, err := temporal.StrategyByName(file.Strategy)
	if err != nil {
		return nil, errs.Invalid("report", file.ID, "%v", err)
	}
	report := &Report{
		ID:          file.ID,
		Name:        file.Name,
		Description: file.Description,
		Parameters:  file.Parameters,
		Strategy:    strategy,
	}

	for _, spec := range file.Searches {
		def, err := b.search(spec)
		if err != nil {
			return nil, err
		}
		b.searches[spec.ID] = def
	}
	if file.Population != nil {
		expr, err := b.use("population", *file.Population)
		if err != nil {
			return nil, err
		}
		report.Population = expr
	}
	for _, spec := range file.Calculations {
		if _, dup := b.calculations[spec.ID]; dup || spec.ID == "" {
			return nil, errs.Invalid("report", file.ID, "calculation id %q is empty or repeated", spec.ID)
		}
		calc, err := b.calculation(spec)
		if err != nil {
			return nil, err
		}
		b.calculations[spec.ID] = calc
	}
	for _, col := range file.Columns {
		name := col.Calculation
		if name == "" {
			name = col.Name
		}
		calc, ok := b.calculations[name]
		if !ok {
			return nil, errs.Invalid("report", file.ID, "column %q refers to unknown calculation %q", col.Name, name)
		}
		report.Columns = append(report.Columns, Column{Name: col.Name, Calculation: calc})
	}
	return report, nil
}

type reportBuilder struct {
	ctx          context.Context
	report       string
	resolver     terminology.Resolver
	searches     map[string]cohort.Definition
	calculations map[string]Calculation
}

func (b *reportBuilder) search(spec searchSpec) (cohort.Definition, error) {
	if spec.ID == "" {
		return nil, errs.Invalid("report", b.report, "search without id")
	}
	if _, dup := b.searches[spec.ID]; dup {
		return nil, errs.Invalid("report", b.report, "search %q declared twice", spec.ID)
	}
	switch spec.Type {
	case "static":
		members := models.NewCohort()
		for _, id := range spec.Members {
			members.Add(models.PatientID(id))
		}
		return &cohort.Static{Name: spec.ID, Members: members, Required: spec.Parameters}, nil
	case "events", "":
		if spec.Filter == nil {
			return nil, errs.Invalid("report", spec.ID, "event search needs a filter")
		}
		filter, err := b.filter(spec.ID, *spec.Filter)
		if err != nil {
			return nil, err
		}
		return &cohort.EventDefinition{
			Name:       spec.ID,
			Filter:     filter,
			OnOrAfter:  spec.OnOrAfter,
			OnOrBefore: spec.OnOrBefore,
			MinCount:   spec.MinCount,
		}, nil
	case "composition":
		node, err := dsl.ParseComposition(spec.Composition)
		if err != nil {
			return nil, &errs.ConfigurationError{Component: "report", Definition: spec.ID, Reason: "invalid composition", Err: err}
		}
		leaves := make(map[string]cohort.Expression)
		for _, name := range node.Names() {
			use, ok := spec.Uses[name]
			if !ok {
				use = useSpec{Search: name}
			}
			expr, err := b.use(spec.ID, use)
			if err != nil {
				return nil, err
			}
			leaves[name] = expr
		}
		return cohort.NewComposition(spec.ID, spec.Composition, spec.Parameters, leaves)
	default:
		return nil, errs.Invalid("report", spec.ID, "unknown search type %q", spec.Type)
	}
}

func (b *reportBuilder) use(owner string, use useSpec) (cohort.Expression, error) {
	mapping, err := cohort.ParseMapping(use.Mappings)
	if err != nil {
		return nil, err
	}
	if use.Composition != "" {
		node, err := dsl.ParseComposition(use.Composition)
		if err != nil {
			return nil, &errs.ConfigurationError{Component: "report", Definition: owner, Reason: "invalid composition", Err: err}
		}
		leaves := make(map[string]cohort.Expression)
		for _, name := range node.Names() {
			def, ok := b.searches[name]
			if !ok {
				return nil, errs.Invalid("report", owner, "unknown search %q", name)
			}
			leaves[name] = cohort.Use(def, mapping)
		}
		return cohort.FromComposition(owner, node, leaves)
	}
	def, ok := b.searches[use.Search]
	if !ok {
		return nil, errs.Invalid("report", owner, "unknown search %q", use.Search)
	}
	return cohort.Use(def, mapping), nil
}

func (b *reportBuilder) calculation(spec calculationSpec) (Calculation, error) {
	switch spec.Type {
	case "temporal":
		series, err := b.seriesList(spec.ID, spec.Series)
		if err != nil {
			return nil, err
		}
		if spec.Lower == nil || spec.Upper == nil {
			return nil, errs.Invalid("report", spec.ID, "temporal calculation needs lower and upper bounds")
		}
		lower, err := b.bound(spec.ID, *spec.Lower)
		if err != nil {
			return nil, err
		}
		upper, err := b.bound(spec.ID, *spec.Upper)
		if err != nil {
			return nil, err
		}
		var strategy temporal.Strategy
		if spec.Strategy != "" {
			if strategy, err = temporal.StrategyByName(spec.Strategy); err != nil {
				return nil, errs.Invalid("report", spec.ID, "%v", err)
			}
		}
		return &TemporalCalculation{Name: spec.ID, Lower: lower, Upper: upper, Series: series, Strategy: strategy}, nil
	case "positional":
		if len(spec.Series) != 1 || spec.Reference == nil {
			return nil, errs.Invalid("report", spec.ID, "positional calculation needs one series and a reference")
		}
		series, err := b.seriesList(spec.ID, spec.Series)
		if err != nil {
			return nil, err
		}
		refs, err := b.seriesList(spec.ID, []seriesSpec{*spec.Reference})
		if err != nil {
			return nil, err
		}
		return &PositionalCalculation{
			Name:       spec.ID,
			Series:     series[0],
			Reference:  refs[0],
			Position:   spec.Position,
			OnOrBefore: spec.OnOrBefore,
		}, nil
	case "events":
		if len(spec.Series) != 1 {
			return nil, errs.Invalid("report", spec.ID, "event calculation needs exactly one series")
		}
		series, err := b.seriesList(spec.ID, spec.Series)
		if err != nil {
			return nil, err
		}
		return &EventCalculation{Name: spec.ID, Series: series[0], OnOrAfter: spec.OnOrAfter, OnOrBefore: spec.OnOrBefore}, nil
	case "cohort":
		if spec.Cohort == nil {
			return nil, errs.Invalid("report", spec.ID, "cohort calculation needs a cohort")
		}
		expr, err := b.use(spec.ID, *spec.Cohort)
		if err != nil {
			return nil, err
		}
		return &CohortCalculation{Name: spec.ID, Expression: expr}, nil
	case "merge":
		sources := make([]Calculation, 0, len(spec.Sources))
		for _, name := range spec.Sources {
			calc, ok := b.calculations[name]
			if !ok {
				return nil, errs.Invalid("report", spec.ID, "unknown calculation %q", name)
			}
			sources = append(sources, calc)
		}
		return &MergedCalculation{Name: spec.ID, Sources: sources}, nil
	default:
		return nil, errs.Invalid("report", spec.ID, "unknown calculation type %q", spec.Type)
	}
}

func (b *reportBuilder) bound(owner string, spec boundSpec) (BoundSource, error) {
	var shift dsl.Offsets
	if spec.Shift != "" {
		offsets, err := dsl.ParseOffsets(spec.Shift)
		if err != nil {
			return nil, &errs.ConfigurationError{Component: "report", Definition: owner, Reason: "invalid shift", Err: err}
		}
		shift = offsets
	}
	switch {
	case spec.Parameter != "" && spec.Calculation == "":
		return ParameterBound{Name: spec.Parameter, Shift: shift}, nil
	case spec.Calculation != "" && spec.Parameter == "":
		calc, ok := b.calculations[spec.Calculation]
		if !ok {
			return nil, errs.Invalid("report", owner, "bound refers to unknown calculation %q", spec.Calculation)
		}
		return CalculationBound{Calculation: calc, Shift: shift}, nil
	default:
		return nil, errs.Invalid("report", owner, "a bound needs exactly one of parameter or calculation")
	}
}

func (b *reportBuilder) seriesList(owner string, specs []seriesSpec) ([]SeriesSpec, error) {
	if len(specs) == 0 {
		return nil, errs.Invalid("report", owner, "no series")
	}
	out := make([]SeriesSpec, 0, len(specs))
	for _, spec := range specs {
		filter, err := b.filter(owner, spec)
		if err != nil {
			return nil, err
		}
		qualifier, err := events.ParseTimeQualifier(spec.Qualifier)
		if err != nil {
			return nil, errs.Invalid("report", owner, "%v", err)
		}
		out = append(out, SeriesSpec{Filter: filter, Qualifier: qualifier})
	}
	return out, nil
}

func (b *reportBuilder) filter(owner string, spec seriesSpec) (events.Filter, error) {
	series := spec.Series
	if series == "" {
		series = owner
	}
	filter := events.Filter{Series: series}
	switch models.TimestampField(spec.TimestampField) {
	case "", models.ObservationDate:
		filter.TimestampField = models.ObservationDate
	case models.EncounterDate, models.ValueDate:
		filter.TimestampField = models.TimestampField(spec.TimestampField)
	default:
		return events.Filter{}, errs.Invalid("report", owner, "unknown timestamp field %q", spec.TimestampField)
	}

	var err error
	if filter.ConceptIDs, err = terminology.ResolveAll(b.ctx, b.resolver, terminology.Concepts, spec.Concepts...); err != nil {
		return events.Filter{}, err
	}
	if filter.EncounterTypeIDs, err = terminology.ResolveAll(b.ctx, b.resolver, terminology.EncounterTypes, spec.EncounterTypes...); err != nil {
		return events.Filter{}, err
	}
	if filter.LocationIDs, err = terminology.ResolveAll(b.ctx, b.resolver, terminology.Locations, spec.Locations...); err != nil {
		return events.Filter{}, err
	}
	if filter.ValueCoded, err = terminology.ResolveAll(b.ctx, b.resolver, terminology.Concepts, spec.Values...); err != nil {
		return events.Filter{}, err
	}
	return filter, nil
}
