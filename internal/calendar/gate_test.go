package calendar

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/example/meetingpipe/internal/provider"
	"github.com/example/meetingpipe/internal/state"
	"github.com/example/meetingpipe/pkg/pipeapi"
)

type fakeCalendar struct {
	mu        sync.Mutex
	connected bool
	failTitle string
	created   []provider.CalendarEvent
	calls     int32
}

func (f *fakeCalendar) Connected(_ context.Context, _ string) bool { return f.connected }

func (f *fakeCalendar) CreateEvent(_ context.Context, _ string, ev provider.CalendarEvent) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if ev.Title == f.failTitle {
		return "", errors.New("backend rejected event")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, ev)
	return "https://cal/e/" + ev.Title, nil
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func seedMeeting(t *testing.T, s state.Store, jobID string, eventTitles ...string) int64 {
	t.Helper()
	items := make([]state.ItemRecord, 0, len(eventTitles))
	for _, title := range eventTitles {
		items = append(items, state.ItemRecord{
			Kind:     state.ItemDatedEvent,
			DataJSON: `{"title":"` + title + `","date":"2026-09-01","urgency":"normal"}`,
		})
	}
	items = append(items, state.ItemRecord{Kind: state.ItemNote, DataJSON: `{"title":"a note"}`})
	id, err := s.SaveMeeting(context.Background(), state.MeetingRecord{JobID: jobID, Owner: "u1"}, items)
	if err != nil {
		t.Fatalf("seed meeting: %v", err)
	}
	return id
}

func TestSyncHappyPath(t *testing.T) {
	s := state.NewMemoryStore()
	cal := &fakeCalendar{connected: true}
	g := NewGate(s, cal, testLog())
	id := seedMeeting(t, s, "j1", "Kickoff", "Review")

	resp, err := g.Sync(context.Background(), id)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if resp.Outcome != pipeapi.SyncOutcomeSynced || resp.Created != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(cal.created) != 2 {
		t.Fatalf("expected 2 events created, got %d", len(cal.created))
	}
	m, _, _ := s.GetMeeting(context.Background(), id)
	if !m.CalendarSynced {
		t.Fatal("meeting must be marked synced")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	s := state.NewMemoryStore()
	cal := &fakeCalendar{connected: true}
	g := NewGate(s, cal, testLog())
	id := seedMeeting(t, s, "j2", "Kickoff")

	if _, err := g.Sync(context.Background(), id); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	resp, err := g.Sync(context.Background(), id)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if resp.Outcome != pipeapi.SyncOutcomeAlreadySynced {
		t.Fatalf("expected already_synced, got %s", resp.Outcome)
	}
	if cal.calls != 1 {
		t.Fatalf("second sync must not touch the calendar, calls=%d", cal.calls)
	}
}

func TestSyncConcurrentCallersSingleWinner(t *testing.T) {
	s := state.NewMemoryStore()
	cal := &fakeCalendar{connected: true}
	g := NewGate(s, cal, testLog())
	id := seedMeeting(t, s, "j3", "Kickoff")

	var wg sync.WaitGroup
	var synced int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := g.Sync(context.Background(), id)
			if err != nil {
				t.Errorf("sync: %v", err)
				return
			}
			if resp.Outcome == pipeapi.SyncOutcomeSynced {
				atomic.AddInt32(&synced, 1)
			}
		}()
	}
	wg.Wait()
	if synced != 1 {
		t.Fatalf("exactly one caller must win the sync, got %d", synced)
	}
	if len(cal.created) != 1 {
		t.Fatalf("events must be created once, got %d", len(cal.created))
	}
}

func TestSyncNotEligible(t *testing.T) {
	s := state.NewMemoryStore()
	g := NewGate(s, &fakeCalendar{connected: false}, testLog())
	id := seedMeeting(t, s, "j4", "Kickoff")

	resp, err := g.Sync(context.Background(), id)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if resp.Outcome != pipeapi.SyncOutcomeNotEligible {
		t.Fatalf("disconnected calendar must be not_eligible, got %s", resp.Outcome)
	}
	m, _, _ := s.GetMeeting(context.Background(), id)
	if m.CalendarSynced {
		t.Fatal("ineligible sync must not mark the meeting synced")
	}

	// No dated events at all.
	noEvents := seedMeeting(t, s, "j5")
	gConn := NewGate(s, &fakeCalendar{connected: true}, testLog())
	resp, err = gConn.Sync(context.Background(), noEvents)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if resp.Outcome != pipeapi.SyncOutcomeNotEligible {
		t.Fatalf("meeting without dated events must be not_eligible, got %s", resp.Outcome)
	}
}

func TestSyncPartialFailureStillMarksSynced(t *testing.T) {
	s := state.NewMemoryStore()
	cal := &fakeCalendar{connected: true, failTitle: "Broken"}
	g := NewGate(s, cal, testLog())
	id := seedMeeting(t, s, "j6", "Kickoff", "Broken")

	resp, err := g.Sync(context.Background(), id)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if resp.Outcome != pipeapi.SyncOutcomeSynced {
		t.Fatalf("partial failure must still report synced, got %s", resp.Outcome)
	}
	if resp.Created != 1 || len(resp.Failures) != 1 {
		t.Fatalf("unexpected counts: %+v", resp)
	}
	if resp.Failures[0].Title != "Broken" {
		t.Fatalf("failure must name the event: %+v", resp.Failures[0])
	}
	m, _, _ := s.GetMeeting(context.Background(), id)
	if !m.CalendarSynced {
		t.Fatal("partial failure must not reset the synced flag")
	}
}

func TestSyncMissingMeeting(t *testing.T) {
	g := NewGate(state.NewMemoryStore(), &fakeCalendar{connected: true}, testLog())
	if _, err := g.Sync(context.Background(), 42); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
