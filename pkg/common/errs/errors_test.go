package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestMissingParameterMessageNamesBinding(t *testing.T) {
	err := MissingParameter("cohort", "on-art", "onOrBefore")
	want := `cohort "on-art": missing required parameter "onOrBefore"`
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestIsConfigurationThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("evaluate column viral_load: %w", Invalid("temporal", "", "position must be >= 1, got %d", 0))
	if !IsConfiguration(wrapped) {
		t.Fatal("expected wrapped configuration error to be detected")
	}
	var cfgErr *ConfigurationError
	if !errors.As(wrapped, &cfgErr) {
		t.Fatal("expected errors.As to find the configuration error")
	}
	if cfgErr.Component != "temporal" {
		t.Fatalf("expected component temporal, got %s", cfgErr.Component)
	}
	if IsConfiguration(errors.New("connection refused")) {
		t.Fatal("plain errors are not configuration errors")
	}
}

func TestConfigurationErrorKeepsCause(t *testing.T) {
	cause := errors.New("unknown unit q")
	err := &ConfigurationError{Component: "dsl", Reason: "bad offset", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if err.Error() != "dsl: bad offset: unknown unit q" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
