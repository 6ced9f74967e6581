package dsl

import (
	"testing"
	"time"
)

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseRelativeParam(t *testing.T) {
	expr, err := ParseParam("${endDate-1m-1d}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rel, ok := expr.(Relative)
	if !ok {
		t.Fatalf("expected relative expression, got %T", expr)
	}
	if ref, ok := rel.Base.(Ref); !ok || ref.Name != "endDate" {
		t.Fatalf("expected base endDate, got %v", rel.Base)
	}
	if len(rel.Offsets) != 2 {
		t.Fatalf("expected 2 offsets, got %d", len(rel.Offsets))
	}
	if rel.Offsets[0] != (Offset{Amount: -1, Unit: Months}) || rel.Offsets[1] != (Offset{Amount: -1, Unit: Days}) {
		t.Fatalf("unexpected offsets %v", rel.Offsets)
	}
	if expr.String() != "${endDate-1m-1d}" {
		t.Fatalf("unexpected rendering %s", expr.String())
	}
}

func TestParseWordyOffsets(t *testing.T) {
	expr, err := ParseParam("endDate -1 month, -1 day")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rel := expr.(Relative)
	got := rel.Offsets.Apply(date("2023-03-15"))
	if !got.Equal(date("2023-02-14")) {
		t.Fatalf("expected 2023-02-14, got %s", got.Format(DateLayout))
	}
}

func TestOffsetsApplyIsIdempotent(t *testing.T) {
	offsets, err := ParseOffsets("-1 month, -1 day")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	base := date("2023-03-15")
	first := offsets.Apply(base)
	for i := 0; i < 5; i++ {
		if again := offsets.Apply(base); !again.Equal(first) {
			t.Fatalf("run %d: expected %s, got %s", i, first, again)
		}
	}
}

func TestMonthShiftClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		base    string
		offsets string
		want    string
	}{
		{"2023-03-31", "-1m", "2023-02-28"},
		{"2024-03-31", "-1m", "2024-02-29"},
		{"2024-02-29", "+1y", "2025-02-28"},
		{"2023-01-31", "+1m+1d", "2023-03-01"},
		{"2023-03-15", "+2w", "2023-03-29"},
	}
	for _, tc := range cases {
		offsets, err := ParseOffsets(tc.offsets)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.offsets, err)
		}
		if got := offsets.Apply(date(tc.base)); !got.Equal(date(tc.want)) {
			t.Fatalf("%s %s: expected %s, got %s", tc.base, tc.offsets, tc.want, got.Format(DateLayout))
		}
	}
}

func TestParseLiteralParams(t *testing.T) {
	expr, err := ParseParam("2023-03-15+2w")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rel := expr.(Relative)
	if lit, ok := rel.Base.(Literal); !ok || !lit.Value.(time.Time).Equal(date("2023-03-15")) {
		t.Fatalf("expected literal date base, got %v", rel.Base)
	}

	expr, err = ParseParam("'loc-7'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lit, ok := expr.(Literal); !ok || lit.Value != "loc-7" {
		t.Fatalf("expected literal loc-7, got %v", expr)
	}

	expr, err = ParseParam("startDate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref, ok := expr.(Ref); !ok || ref.Name != "startDate" {
		t.Fatalf("expected plain reference, got %v", expr)
	}
}

func TestParseParamRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "${}", "endDate-1q", "-1m", "endDate 3"} {
		if _, err := ParseParam(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestReferences(t *testing.T) {
	expr, _ := ParseParam("${onOrBefore-6m}")
	refs := References(expr)
	if len(refs) != 1 || refs[0] != "onOrBefore" {
		t.Fatalf("expected [onOrBefore], got %v", refs)
	}
	lit, _ := ParseParam("2020-01-01")
	if len(References(lit)) != 0 {
		t.Fatal("literal has no references")
	}
}
