package normalize

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestUrgencyCanonicalization(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"high", UrgencyUrgent},
		{"HIGH", UrgencyUrgent},
		{"medium", UrgencyUrgent},
		{"urgent", UrgencyUrgent},
		{"yes", UrgencyUrgent},
		{true, UrgencyUrgent},
		{"low", UrgencyNormal},
		{"no", UrgencyNormal},
		{false, UrgencyNormal},
		{"", UrgencyNormal},
		{nil, UrgencyNormal},
		{"whatever", UrgencyNormal},
	}
	for _, c := range cases {
		if got := Urgency(c.in); got != c.want {
			t.Fatalf("Urgency(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseDateLayouts(t *testing.T) {
	for raw, want := range map[string]string{
		"2026-09-01":        "2026-09-01",
		"2026/09/01":        "2026-09-01",
		"01-09-2026":        "2026-09-01",
		"September 1, 2026": "2026-09-01",
	} {
		got, ok := ParseDate(raw)
		if !ok || got != want {
			t.Fatalf("ParseDate(%q) = %q,%v; want %q", raw, got, ok, want)
		}
	}
	for _, raw := range []string{"", "TBD", "next week sometime", "32/13/2026"} {
		if _, ok := ParseDate(raw); ok {
			t.Fatalf("ParseDate(%q) should fail", raw)
		}
	}
}

func TestExtractionAliases(t *testing.T) {
	raw := json.RawMessage(`{
		"summary": {"english": "Quarterly planning.", "arabic": "ملخص"},
		"dated_events": [
			{"task": "Budget review", "due_date": "2026/09/15", "context": "Finance", "urgency": "high"}
		],
		"notes": [
			{"title": "Hire two engineers", "details": "Backend team", "note_type": "BUDGET_REQUEST", "urgency": "yes"}
		]
	}`)
	res, err := Extraction(raw, false, testLog())
	if err != nil {
		t.Fatalf("extraction: %v", err)
	}
	if res.Summary.English != "Quarterly planning." || res.Summary.Original != "ملخص" {
		t.Fatalf("summary aliases not applied: %+v", res.Summary)
	}
	if len(res.DatedEvents) != 1 {
		t.Fatalf("expected 1 dated event, got %d", len(res.DatedEvents))
	}
	ev := res.DatedEvents[0]
	if ev.Title != "Budget review" || ev.Date != "2026-09-15" || ev.Description != "Finance" || ev.Urgency != UrgencyUrgent {
		t.Fatalf("event aliases not applied: %+v", ev)
	}
	if len(res.Notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(res.Notes))
	}
	n := res.Notes[0]
	if n.Category != CategoryBudget || n.Urgency != UrgencyUrgent || n.Description != "Backend team" {
		t.Fatalf("note aliases not applied: %+v", n)
	}
}

func TestExtractionDemotesUnparseableDate(t *testing.T) {
	raw := json.RawMessage(`{
		"summary": {"english": "s"},
		"dated_events": [
			{"title": "Follow up with vendor", "date": "sometime soon", "description": "Pricing"}
		],
		"notes": []
	}`)
	res, err := Extraction(raw, false, testLog())
	if err != nil {
		t.Fatalf("extraction: %v", err)
	}
	if len(res.DatedEvents) != 0 {
		t.Fatalf("unparseable date must not yield a dated event: %+v", res.DatedEvents)
	}
	if len(res.Notes) != 1 {
		t.Fatalf("demoted item missing: %+v", res.Notes)
	}
	n := res.Notes[0]
	if n.Title != "Follow up with vendor" || n.Category != CategoryAction {
		t.Fatalf("demotion lost content: %+v", n)
	}
}

func TestExtractionCustomFieldOnly(t *testing.T) {
	raw := json.RawMessage(`{
		"summary": {"english": "s"},
		"dated_events": [{"title": "x", "date": "2026-09-01"}],
		"notes": [{"title": "y"}],
		"query_result": {"question": "Who owns rollout?", "answer": "Dana", "classification": "ownership"}
	}`)
	res, err := Extraction(raw, true, testLog())
	if err != nil {
		t.Fatalf("extraction: %v", err)
	}
	if len(res.DatedEvents) != 0 || len(res.Notes) != 0 {
		t.Fatalf("custom-only must leave lists empty: %d events, %d notes", len(res.DatedEvents), len(res.Notes))
	}
	if res.QueryResult == nil || res.QueryResult.Answer != "Dana" {
		t.Fatalf("query result missing: %+v", res.QueryResult)
	}
}

func TestExtractionRejectsNonObject(t *testing.T) {
	if _, err := Extraction(json.RawMessage(`[1,2,3]`), false, testLog()); err == nil {
		t.Fatal("array payload must fail")
	}
}

func TestCategoryMapping(t *testing.T) {
	for raw, want := range map[string]string{
		"BUDGET":      CategoryBudget,
		"budget":      CategoryBudget,
		"DECISION":    CategoryDecision,
		"ACTION_ITEM": CategoryAction,
		"task":        CategoryAction,
		"misc":        CategoryGeneral,
		"":            CategoryGeneral,
	} {
		if got := Category(raw); got != want {
			t.Fatalf("Category(%q) = %q, want %q", raw, got, want)
		}
	}
}
