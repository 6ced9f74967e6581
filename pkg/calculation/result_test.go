package calculation

import (
	"testing"
	"time"

	"github.com/synaptica-ai/indicators/pkg/common/models"
)

func date(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestMergeLaterSourceOverwrites(t *testing.T) {
	early := Result{
		"1": Number(1),
		"2": Number(2),
	}
	late := Result{
		"2": Number(20),
		"3": Number(30),
	}

	merged := Merge(early, late)
	if len(merged) != 3 {
		t.Fatalf("expected 3 patients, got %d", len(merged))
	}
	if merged["2"].Number != 20 {
		t.Errorf("expected later source to win for patient 2, got %v", merged["2"].Number)
	}
	if merged["1"].Number != 1 || merged["3"].Number != 30 {
		t.Errorf("unexpected merge %+v", merged)
	}
	if early["2"].Number != 2 {
		t.Errorf("merge must not mutate its inputs")
	}
}

func TestMergeNothing(t *testing.T) {
	if got := Merge(); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestFromIndex(t *testing.T) {
	index := models.EventIndex{
		"1": {{ID: "a", Timestamp: date("2022-01-01")}, {ID: "b", Timestamp: date("2022-02-01")}},
		"2": {},
	}

	lists := FromIndex(index, false)
	if _, ok := lists["2"]; ok {
		t.Errorf("patient with no events must be absent")
	}
	if lists["1"].Kind != KindList || len(lists["1"].Events) != 2 {
		t.Errorf("expected list of 2, got %+v", lists["1"])
	}

	singles := FromIndex(models.EventIndex{"1": {{ID: "a"}}}, true)
	if singles["1"].Kind != KindSingle || singles["1"].Event.ID != "a" {
		t.Errorf("expected single event a, got %+v", singles["1"])
	}
}

func TestDates(t *testing.T) {
	r := Result{
		"1": Single(models.ClinicalEvent{Timestamp: date("2022-01-10")}),
		"2": List(models.EventSeries{{Timestamp: date("2022-01-01")}, {Timestamp: date("2022-03-01")}}),
		"3": Date(date("2022-04-10")),
		"4": Number(7),
		"5": List(nil),
	}

	dates := r.Dates()
	want := map[models.PatientID]string{"1": "2022-01-10", "2": "2022-03-01", "3": "2022-04-10"}
	if len(dates) != len(want) {
		t.Fatalf("expected %d dates, got %v", len(want), dates)
	}
	for pid, d := range want {
		if !dates[pid].Equal(date(d)) {
			t.Errorf("patient %s: expected %s, got %s", pid, d, dates[pid])
		}
	}
}

func TestFromMatchesAndCell(t *testing.T) {
	r := FromMatches(map[models.PatientID]models.ClinicalEvent{"101": {ID: "x"}})
	if r.Patients().Len() != 1 || !r.Patients().Contains("101") {
		t.Fatalf("unexpected patients %v", r.Patients())
	}
	if cell := Date(date("2023-02-14")).Cell(); cell.Value != "2023-02-14" || cell.Kind != "date" {
		t.Errorf("unexpected cell %+v", cell)
	}
}
