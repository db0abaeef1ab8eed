package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/meetingpipe/internal/blob"
	"github.com/example/meetingpipe/internal/calendar"
	"github.com/example/meetingpipe/internal/normalize"
	"github.com/example/meetingpipe/internal/provider"
	"github.com/example/meetingpipe/internal/stage"
	"github.com/example/meetingpipe/internal/state"
	"github.com/example/meetingpipe/pkg/pipeapi"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

type scriptedExtractor struct {
	calls     int32
	failFirst bool
	payload   string
}

func (s *scriptedExtractor) Extract(_ context.Context, _ string, _ provider.ExtractOptions) (json.RawMessage, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if s.failFirst && n == 1 {
		return nil, provider.Transientf("extractor overloaded")
	}
	payload := s.payload
	if payload == "" {
		payload = `{
			"summary": {"english": "Team sync."},
			"dated_events": [{"title": "Kickoff", "date": "2026-09-01", "urgency": "high"}],
			"notes": [{"title": "Budget ask", "category": "BUDGET"}]
		}`
	}
	return json.RawMessage(payload), nil
}

type slowTranscriber struct {
	delay time.Duration
	fail  error
	calls int32
}

func (s *slowTranscriber) Transcribe(ctx context.Context, _ string, _ string) (provider.Transcript, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return provider.Transcript{}, ctx.Err()
		}
	}
	if s.fail != nil {
		return provider.Transcript{}, s.fail
	}
	return provider.Transcript{
		Text: "hello world",
		Segments: []provider.Segment{
			{Speaker: "Speaker 1", Text: "hello world", Start: 0, End: 3},
		},
	}, nil
}

type fakeCalendar struct {
	connected bool
	created   int32
}

func (f *fakeCalendar) Connected(_ context.Context, _ string) bool { return f.connected }

func (f *fakeCalendar) CreateEvent(_ context.Context, _ string, _ provider.CalendarEvent) (string, error) {
	atomic.AddInt32(&f.created, 1)
	return "https://cal/e/x", nil
}

type testEnv struct {
	engine *Engine
	store  *state.MemoryStore
	cal    *fakeCalendar
}

func newTestEnv(t *testing.T, mutate func(*Providers)) *testEnv {
	t.Helper()
	store := state.NewMemoryStore()
	cal := &fakeCalendar{connected: true}
	prov := Providers{
		VAD:         provider.NoopVAD{},
		Enhancer:    provider.NoopEnhancer{},
		Transcriber: &slowTranscriber{},
		Extractor:   &scriptedExtractor{},
		Calendar:    cal,
	}
	if mutate != nil {
		mutate(&prov)
	}
	blobs := blob.NewLocal(t.TempDir(), testLog())
	gate := calendar.NewGate(store, prov.Calendar, testLog())
	engine := New(store, blobs, prov, gate, Options{
		LocalWorkers:   2,
		NetworkWorkers: 2,
		StageTimeout:   5 * time.Second,
		MaxRetries:     2,
		RetryBase:      time.Millisecond,
	}, testLog())
	return &testEnv{engine: engine, store: store, cal: cal}
}

func submit(t *testing.T, env *testEnv, cfg pipeapi.ProcessingConfig) string {
	t.Helper()
	jobID, err := env.engine.Submit(context.Background(), "u1", "meeting.wav", strings.NewReader("audio"), cfg)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return jobID
}

func waitTerminal(t *testing.T, s state.Store, jobID string) state.JobRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok, err := s.GetJob(context.Background(), jobID)
		if err != nil || !ok {
			t.Fatalf("get job: ok=%v err=%v", ok, err)
		}
		if state.IsTerminalJobStatus(job.Status) {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal status", jobID)
	return state.JobRecord{}
}

func TestPipelineHappyPath(t *testing.T) {
	env := newTestEnv(t, nil)
	jobID := submit(t, env, pipeapi.ProcessingConfig{Role: "engineer"})

	job := waitTerminal(t, env.store, jobID)
	if job.Status != state.JobCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}
	if job.OverallProgress != 100 {
		t.Fatalf("completed job must report 100, got %d", job.OverallProgress)
	}

	meeting, ok, err := env.store.GetMeetingByJob(context.Background(), jobID)
	if err != nil || !ok {
		t.Fatalf("meeting missing: ok=%v err=%v", ok, err)
	}
	if meeting.SummaryEnglish != "Team sync." {
		t.Fatalf("summary not persisted: %+v", meeting)
	}
	if !strings.Contains(meeting.Transcript, "Speaker 1: hello world") {
		t.Fatalf("diarized transcript not persisted: %q", meeting.Transcript)
	}
	if !meeting.CalendarSynced {
		t.Fatal("meeting with dated events and a connected calendar must sync")
	}
	if env.cal.created != 1 {
		t.Fatalf("expected 1 calendar event, got %d", env.cal.created)
	}

	items, _ := env.store.ListItems(context.Background(), meeting.ID)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	ev, err := normalize.DecodeDatedEvent(items[0].DataJSON)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Urgency != normalize.UrgencyUrgent {
		t.Fatalf("urgency must be canonical at rest, got %q", ev.Urgency)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Submit(context.Background(), "u1", "a.wav", strings.NewReader(""), pipeapi.ProcessingConfig{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("empty audio must fail validation, got %v", err)
	}

	_, err = env.engine.Submit(context.Background(), "u1", "a.wav", strings.NewReader("x"), pipeapi.ProcessingConfig{CustomFieldOnly: true})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("custom_field_only without user_input must fail, got %v", err)
	}
}

func TestTransientFailureRetries(t *testing.T) {
	ex := &scriptedExtractor{failFirst: true}
	env := newTestEnv(t, func(p *Providers) { p.Extractor = ex })
	jobID := submit(t, env, pipeapi.ProcessingConfig{})

	job := waitTerminal(t, env.store, jobID)
	if job.Status != state.JobCompleted {
		t.Fatalf("retryable failure must recover, got %s (%s)", job.Status, job.Error)
	}
	if ex.calls != 2 {
		t.Fatalf("expected 2 extractor calls, got %d", ex.calls)
	}
	stages, _ := env.store.ListStages(context.Background(), jobID)
	for _, st := range stages {
		if st.Name == stage.Extraction {
			if st.Attempts != 2 || st.TransientFailures != 1 {
				t.Fatalf("retry accounting wrong: %+v", st)
			}
		}
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	tr := &slowTranscriber{fail: errors.New("unsupported codec")}
	env := newTestEnv(t, func(p *Providers) { p.Transcriber = tr })
	jobID := submit(t, env, pipeapi.ProcessingConfig{})

	job := waitTerminal(t, env.store, jobID)
	if job.Status != state.JobFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "unsupported codec") {
		t.Fatalf("job error must carry the cause: %q", job.Error)
	}
	if tr.calls != 1 {
		t.Fatalf("permanent failure must not retry, calls=%d", tr.calls)
	}
}

type brokenExtractor struct{}

func (brokenExtractor) Extract(_ context.Context, _ string, _ provider.ExtractOptions) (json.RawMessage, error) {
	return nil, errors.New("model returned unusable content")
}

func TestPermanentExtractionFailurePreservesTranscript(t *testing.T) {
	env := newTestEnv(t, func(p *Providers) { p.Extractor = brokenExtractor{} })
	jobID := submit(t, env, pipeapi.ProcessingConfig{})

	job := waitTerminal(t, env.store, jobID)
	if job.Status != state.JobFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}

	meeting, ok, err := env.store.GetMeetingByJob(context.Background(), jobID)
	if err != nil || !ok {
		t.Fatalf("partial meeting missing: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(meeting.Transcript, "hello world") {
		t.Fatalf("transcript from the completed stage must survive: %q", meeting.Transcript)
	}
	if meeting.SummaryEnglish != "" || meeting.CalendarSynced {
		t.Fatalf("failed job must not gain extraction or sync artifacts: %+v", meeting)
	}
	items, err := env.store.ListItems(context.Background(), meeting.ID)
	if err != nil || len(items) != 0 {
		t.Fatalf("no items expected, got %d (err=%v)", len(items), err)
	}
}

func TestTransientFailureExhaustsBudget(t *testing.T) {
	tr := &slowTranscriber{fail: provider.Transientf("gateway flapping")}
	env := newTestEnv(t, func(p *Providers) { p.Transcriber = tr })
	jobID := submit(t, env, pipeapi.ProcessingConfig{})

	job := waitTerminal(t, env.store, jobID)
	if job.Status != state.JobFailed {
		t.Fatalf("expected failed after budget, got %s", job.Status)
	}
	// 1 initial + 2 retries.
	if tr.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", tr.calls)
	}
}

func TestNoSpeechFailsJob(t *testing.T) {
	env := newTestEnv(t, func(p *Providers) {
		p.VAD = vadFunc(func(context.Context, string) (provider.SpeechReport, error) {
			return provider.SpeechReport{HasSpeech: false}, nil
		})
	})
	jobID := submit(t, env, pipeapi.ProcessingConfig{})
	job := waitTerminal(t, env.store, jobID)
	if job.Status != state.JobFailed || !strings.Contains(job.Error, "no speech") {
		t.Fatalf("silent audio must fail the job: %+v", job)
	}
}

type vadFunc func(context.Context, string) (provider.SpeechReport, error)

func (f vadFunc) Detect(ctx context.Context, p string) (provider.SpeechReport, error) {
	return f(ctx, p)
}

func TestCancelStopsAtStageBoundary(t *testing.T) {
	tr := &slowTranscriber{delay: 300 * time.Millisecond}
	env := newTestEnv(t, func(p *Providers) { p.Transcriber = tr })
	jobID := submit(t, env, pipeapi.ProcessingConfig{})

	time.Sleep(50 * time.Millisecond)
	accepted, err := env.engine.Cancel(context.Background(), jobID)
	if err != nil || !accepted {
		t.Fatalf("cancel: accepted=%v err=%v", accepted, err)
	}

	job := waitTerminal(t, env.store, jobID)
	if job.Status != state.JobFailed || job.Error != "cancelled" {
		t.Fatalf("cancelled job must fail with reason cancelled: %+v", job)
	}
	// Cancelling a terminal job is a no-op.
	accepted, err = env.engine.Cancel(context.Background(), jobID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if accepted {
		t.Fatal("cancel on a terminal job must not be accepted")
	}
}

// gatedTranscriber signals when the first call starts and blocks until
// released, then fails transiently. Lets tests land a cancel while the
// stage is mid-retry without sleeping.
type gatedTranscriber struct {
	started chan struct{}
	release chan struct{}
	calls   int32
}

func (g *gatedTranscriber) Transcribe(ctx context.Context, _ string, _ string) (provider.Transcript, error) {
	if atomic.AddInt32(&g.calls, 1) == 1 {
		close(g.started)
		select {
		case <-g.release:
		case <-ctx.Done():
			return provider.Transcript{}, ctx.Err()
		}
	}
	return provider.Transcript{}, provider.Transientf("gateway flapping")
}

func TestCancelDuringRetryReportsCancelled(t *testing.T) {
	tr := &gatedTranscriber{started: make(chan struct{}), release: make(chan struct{})}
	env := newTestEnv(t, func(p *Providers) { p.Transcriber = tr })
	jobID := submit(t, env, pipeapi.ProcessingConfig{})

	<-tr.started
	accepted, err := env.engine.Cancel(context.Background(), jobID)
	if err != nil || !accepted {
		t.Fatalf("cancel: accepted=%v err=%v", accepted, err)
	}
	close(tr.release)

	job := waitTerminal(t, env.store, jobID)
	if job.Status != state.JobFailed || job.Error != "cancelled" {
		t.Fatalf("cancel during retry must fail with reason cancelled, got %+v", job)
	}
	// The abandoned retry never runs another attempt.
	if got := atomic.LoadInt32(&tr.calls); got != 1 {
		t.Fatalf("expected 1 transcriber call, got %d", got)
	}
	stages, err := env.store.ListStages(context.Background(), jobID)
	if err != nil {
		t.Fatalf("list stages: %v", err)
	}
	for _, st := range stages {
		if st.Name == stage.Transcription && st.Error != "cancelled" {
			t.Fatalf("stage error must be cancelled, got %q", st.Error)
		}
	}
}

func TestCompletedJobStatusIsImmutable(t *testing.T) {
	env := newTestEnv(t, nil)
	jobID := submit(t, env, pipeapi.ProcessingConfig{})
	job := waitTerminal(t, env.store, jobID)
	if job.Status != state.JobCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}

	// A cancel that loses the race against completion ends up here with
	// the job already terminal; the record must not change.
	env.engine.failJob(context.Background(), jobID, "cancelled")

	job, ok, err := env.store.GetJob(context.Background(), jobID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if job.Status != state.JobCompleted || job.Error != "" {
		t.Fatalf("terminal job was overwritten: %+v", job)
	}
	stages, err := env.store.ListStages(context.Background(), jobID)
	if err != nil {
		t.Fatalf("list stages: %v", err)
	}
	for _, st := range stages {
		if st.Status != state.StageCompleted && st.Status != state.StageSkipped {
			t.Fatalf("stage %s changed after completion: %+v", st.Name, st)
		}
	}
}

func TestCustomFieldOnlySkipsCalendar(t *testing.T) {
	ex := &scriptedExtractor{payload: `{
		"summary": {"english": "s"},
		"dated_events": [{"title": "x", "date": "2026-09-01"}],
		"query_result": {"question": "Q", "answer": "A"}
	}`}
	env := newTestEnv(t, func(p *Providers) { p.Extractor = ex })
	jobID := submit(t, env, pipeapi.ProcessingConfig{CustomFieldOnly: true, UserInput: "Q"})

	job := waitTerminal(t, env.store, jobID)
	if job.Status != state.JobCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}
	meeting, _, _ := env.store.GetMeetingByJob(context.Background(), jobID)
	if meeting.CalendarSynced {
		t.Fatal("custom-only runs must not sync the calendar")
	}
	if meeting.QueryResultJSON == "" {
		t.Fatal("query result must be persisted")
	}
	items, _ := env.store.ListItems(context.Background(), meeting.ID)
	if len(items) != 0 {
		t.Fatalf("custom-only runs must persist no items, got %d", len(items))
	}
	stages, _ := env.store.ListStages(context.Background(), jobID)
	for _, st := range stages {
		if st.Name == stage.CalendarSync && st.Status != state.StageSkipped {
			t.Fatalf("calendar stage must be skipped: %+v", st)
		}
	}
}

func TestProgressWeightingAndMonotonicity(t *testing.T) {
	mk := func(statuses map[string]string) []state.StageRecord {
		out := make([]state.StageRecord, 0, len(stage.Order))
		for _, name := range stage.Order {
			out = append(out, state.StageRecord{Name: name, Status: statuses[name]})
		}
		return out
	}
	if got := Progress(mk(map[string]string{})); got != 0 {
		t.Fatalf("all pending should be 0, got %d", got)
	}
	got := Progress(mk(map[string]string{
		stage.VAD:         state.StageCompleted,
		stage.Enhancement: state.StageCompleted,
	}))
	if got != 10 {
		t.Fatalf("local stages complete should be 10, got %d", got)
	}
	got = Progress(mk(map[string]string{
		stage.VAD:           state.StageCompleted,
		stage.Enhancement:   state.StageCompleted,
		stage.Transcription: state.StageCompleted,
		stage.Extraction:    state.StageCompleted,
		stage.CalendarSync:  state.StageSkipped,
	}))
	if got != 100 {
		t.Fatalf("skipped terminal stage still completes progress, got %d", got)
	}
}
