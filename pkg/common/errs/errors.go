package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration is the sentinel every ConfigurationError unwraps to.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports a definition or filter invoked without a binding
// or identifier it requires. It aborts the whole evaluation.
type ConfigurationError struct {
	Component  string
	Definition string
	Parameter  string
	Reason     string
	Err        error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Component)
	if e.Definition != "" {
		fmt.Fprintf(&b, " %q", e.Definition)
	}
	switch {
	case e.Reason != "":
		b.WriteString(": " + e.Reason)
	case e.Parameter != "":
		fmt.Fprintf(&b, ": missing required parameter %q", e.Parameter)
	default:
		b.WriteString(": invalid configuration")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}

// MissingParameter builds the error for a definition invoked without name bound.
func MissingParameter(component, definition, name string) *ConfigurationError {
	return &ConfigurationError{Component: component, Definition: definition, Parameter: name}
}

// Invalid builds a ConfigurationError with a free-form reason.
func Invalid(component, definition, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Component: component, Definition: definition, Reason: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err carries a ConfigurationError.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
