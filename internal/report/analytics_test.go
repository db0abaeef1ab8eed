package report

import (
	"context"
	"testing"

	"github.com/example/meetingpipe/internal/state"
)

func seed(t *testing.T) state.Store {
	t.Helper()
	s := state.NewMemoryStore()
	ctx := context.Background()

	id, err := s.SaveMeeting(ctx, state.MeetingRecord{
		JobID: "j1", Owner: "u1", SummaryEnglish: "Planning",
		AudioDurationSec: 120, ProcessingTimeSec: 30,
	}, []state.ItemRecord{
		{Kind: state.ItemDatedEvent, DataJSON: `{"title":"Kickoff","date":"2026-09-01","urgency":"high","completed":true}`},
		{Kind: state.ItemNote, DataJSON: `{"title":"Budget ask","category":"budget","urgency":"normal"}`},
		{Kind: state.ItemNote, DataJSON: `{"title":"Decision","category":"decision","urgency":"urgent"}`},
	})
	if err != nil {
		t.Fatalf("seed meeting: %v", err)
	}
	if _, err := s.MarkMeetingSynced(ctx, id); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if _, err := s.SaveMeeting(ctx, state.MeetingRecord{
		JobID: "j2", Owner: "u1", AudioDurationSec: 60, ProcessingTimeSec: 10,
	}, nil); err != nil {
		t.Fatalf("seed second meeting: %v", err)
	}
	// Another owner's meeting stays invisible.
	if _, err := s.SaveMeeting(ctx, state.MeetingRecord{JobID: "j3", Owner: "u2"}, nil); err != nil {
		t.Fatalf("seed other owner: %v", err)
	}
	return s
}

func TestCompute(t *testing.T) {
	s := seed(t)
	got, err := Compute(context.Background(), s, "u1")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got.Meetings != 2 || got.DatedEvents != 1 || got.Notes != 2 {
		t.Fatalf("counts wrong: %+v", got)
	}
	if got.SyncedMeetings != 1 {
		t.Fatalf("synced count wrong: %+v", got)
	}
	if got.CompletedItems != 1 {
		t.Fatalf("completed count wrong: %+v", got)
	}
	// "high" canonicalizes to urgent at read time.
	if got.UrgentItems != 2 {
		t.Fatalf("urgent count wrong: %+v", got)
	}
	if got.NotesByCategory["budget"] != 1 || got.NotesByCategory["decision"] != 1 {
		t.Fatalf("category breakdown wrong: %+v", got.NotesByCategory)
	}
	monthTotal := 0
	for _, n := range got.MeetingsByMonth {
		monthTotal += n
	}
	if monthTotal != 2 {
		t.Fatalf("month breakdown wrong: %+v", got.MeetingsByMonth)
	}
	if got.TotalAudioSec != 180 || got.AvgProcessingSec != 20 {
		t.Fatalf("timing aggregates wrong: %+v", got)
	}
}

func TestWorkbook(t *testing.T) {
	s := seed(t)
	f, err := Workbook(context.Background(), s, "u1")
	if err != nil {
		t.Fatalf("workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Meetings")
	if err != nil {
		t.Fatalf("read meetings sheet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 meetings, got %d rows", len(rows))
	}
	items, err := f.GetRows("Items")
	if err != nil {
		t.Fatalf("read items sheet: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected header + 3 items, got %d rows", len(items))
	}
	if items[1][2] != "Kickoff" {
		t.Fatalf("first item row wrong: %v", items[1])
	}
}
