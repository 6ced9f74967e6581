package cohort

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/synaptica-ai/indicators/pkg/analytics/dsl"
	"github.com/synaptica-ai/indicators/pkg/common/errs"
)

// Binding holds the parameter values a definition is evaluated with. Dates are
// time.Time; everything else is passed through as given.
type Binding map[string]interface{}

// ParseBinding converts request parameters, turning ISO dates into time.Time.
func ParseBinding(raw map[string]string) Binding {
	b := make(Binding, len(raw))
	for name, value := range raw {
		if t, err := time.Parse(dsl.DateLayout, strings.TrimSpace(value)); err == nil {
			b[name] = t
			continue
		}
		b[name] = value
	}
	return b
}

// Date returns the named parameter as a date. A missing name is reported as
// absent; a value of another type is a ConfigurationError.
func (b Binding) Date(definition, name string) (time.Time, bool, error) {
	v, ok := b[name]
	if !ok {
		return time.Time{}, false, nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, false, errs.Invalid("cohort", definition, "parameter %q is %T, not a date", name, v)
	}
	return t, true, nil
}

// Normalize renders the binding with sorted names so equal bindings produce
// equal memo keys.
func (b Binding) Normalize() string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + formatValue(b[name])
	}
	return strings.Join(parts, ";")
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case time.Time:
		if val.Equal(val.Truncate(24 * time.Hour)) {
			return val.Format(dsl.DateLayout)
		}
		return val.UTC().Format(time.RFC3339Nano)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
