package cohort

import (
	"time"

	"github.com/synaptica-ai/indicators/pkg/analytics/dsl"
	"github.com/synaptica-ai/indicators/pkg/common/errs"
)

// Mapping remaps a child definition's parameters from the caller's binding.
type Mapping map[string]dsl.ParamExpr

// ParseMapping parses every value once, e.g. {"onOrBefore": "${endDate-1m-1d}"}.
func ParseMapping(raw map[string]string) (Mapping, error) {
	m := make(Mapping, len(raw))
	for name, text := range raw {
		expr, err := dsl.ParseParam(text)
		if err != nil {
			return nil, &errs.ConfigurationError{Component: "cohort", Parameter: name, Reason: "invalid mapping for " + name, Err: err}
		}
		m[name] = expr
	}
	return m, nil
}

// Resolve computes the child binding. Required parameters without a mapping
// pass through from parent under the same name. A reference names a sibling
// mapping entry first and the parent binding second; each name is resolved at
// most once and cycles are rejected.
func (m Mapping) Resolve(definition string, required []string, parent Binding) (Binding, error) {
	r := &resolver{
		definition: definition,
		mapping:    m,
		parent:     parent,
		done:       make(map[string]interface{}, len(m)),
		visiting:   make(map[string]bool),
	}
	out := make(Binding, len(required)+len(m))
	for name := range m {
		v, err := r.resolve(name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	for _, name := range required {
		if _, ok := out[name]; ok {
			continue
		}
		v, ok := parent[name]
		if !ok {
			return nil, errs.MissingParameter("cohort", definition, name)
		}
		out[name] = v
	}
	return out, nil
}

type resolver struct {
	definition string
	mapping    Mapping
	parent     Binding
	done       map[string]interface{}
	visiting   map[string]bool
}

func (r *resolver) resolve(name string) (interface{}, error) {
	if v, ok := r.done[name]; ok {
		return v, nil
	}
	if r.visiting[name] {
		return nil, errs.Invalid("cohort", r.definition, "parameter %q refers to itself through its mapping", name)
	}
	r.visiting[name] = true
	v, err := r.eval(name, r.mapping[name])
	delete(r.visiting, name)
	if err != nil {
		return nil, err
	}
	r.done[name] = v
	return v, nil
}

func (r *resolver) eval(self string, expr dsl.ParamExpr) (interface{}, error) {
	switch e := expr.(type) {
	case dsl.Literal:
		return e.Value, nil
	case dsl.Ref:
		// ${x} inside the mapping of x means the caller's x.
		if _, sibling := r.mapping[e.Name]; sibling && e.Name != self {
			return r.resolve(e.Name)
		}
		v, ok := r.parent[e.Name]
		if !ok {
			return nil, errs.MissingParameter("cohort", r.definition, e.Name)
		}
		return v, nil
	case dsl.Relative:
		base, err := r.eval(self, e.Base)
		if err != nil {
			return nil, err
		}
		t, ok := base.(time.Time)
		if !ok {
			return nil, errs.Invalid("cohort", r.definition, "cannot shift %s: base is %T, not a date", e, base)
		}
		return e.Offsets.Apply(t), nil
	default:
		return nil, errs.Invalid("cohort", r.definition, "unsupported parameter expression for %q", self)
	}
}
