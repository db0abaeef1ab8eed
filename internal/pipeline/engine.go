// Package pipeline orchestrates a submitted recording through the fixed
// stage sequence: voice activity detection, enhancement, transcription,
// extraction and calendar sync. One goroutine owns each job end to end;
// stage boundaries are the only cancellation points.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/example/meetingpipe/internal/blob"
	"github.com/example/meetingpipe/internal/calendar"
	"github.com/example/meetingpipe/internal/normalize"
	"github.com/example/meetingpipe/internal/observability"
	"github.com/example/meetingpipe/internal/provider"
	"github.com/example/meetingpipe/internal/stage"
	"github.com/example/meetingpipe/internal/state"
	"github.com/example/meetingpipe/pkg/pipeapi"
)

// ErrValidation wraps submit-time rejections so the API layer can map
// them to 400.
var ErrValidation = errors.New("validation failed")

type Providers struct {
	VAD         provider.VAD
	Enhancer    provider.Enhancer
	Transcriber provider.Transcriber
	Extractor   provider.Extractor
	Calendar    provider.Calendar
}

type Options struct {
	LocalWorkers   int
	NetworkWorkers int
	StageTimeout   time.Duration
	MaxRetries     int
	// RetryBase seeds the backoff between transient retries. Tests
	// shrink it; production keeps the default.
	RetryBase time.Duration
}

type Engine struct {
	store state.Store
	blobs *blob.Store
	prov  Providers
	gate  *calendar.Gate
	opts  Options
	log   *logrus.Entry

	localSem chan struct{}
	netSem   chan struct{}
	handles  sync.Map // job id -> *jobHandle
	wg       sync.WaitGroup
}

type jobHandle struct {
	cancelled atomic.Bool
}

func New(store state.Store, blobs *blob.Store, prov Providers, gate *calendar.Gate, opts Options, log *logrus.Entry) *Engine {
	if opts.LocalWorkers <= 0 {
		opts.LocalWorkers = 2
	}
	if opts.NetworkWorkers <= 0 {
		opts.NetworkWorkers = 4
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 10 * time.Minute
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	return &Engine{
		store:    store,
		blobs:    blobs,
		prov:     prov,
		gate:     gate,
		opts:     opts,
		log:      log,
		localSem: make(chan struct{}, opts.LocalWorkers),
		netSem:   make(chan struct{}, opts.NetworkWorkers),
	}
}

// Submit validates the request, stores the audio and queues the job.
// Validation failures surface before any job record exists.
func (e *Engine) Submit(ctx context.Context, owner, filename string, audio io.Reader, cfg pipeapi.ProcessingConfig) (string, error) {
	if cfg.CustomFieldOnly && strings.TrimSpace(cfg.UserInput) == "" {
		return "", fmt.Errorf("%w: custom_field_only requires user_input", ErrValidation)
	}

	jobID := uuid.NewString()
	audioPath, size, err := e.blobs.Save(ctx, jobID, filename, audio)
	if err != nil {
		return "", err
	}
	if size == 0 {
		e.blobs.Remove(jobID)
		return "", fmt.Errorf("%w: audio file is empty", ErrValidation)
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	job := state.JobRecord{
		ID:         jobID,
		Owner:      owner,
		Status:     state.JobPending,
		ConfigJSON: string(cfgJSON),
		AudioRef:   audioPath,
	}
	stages := make([]state.StageRecord, 0, len(stage.Order))
	for _, name := range stage.Order {
		stages = append(stages, state.StageRecord{JobID: jobID, Name: name, Status: state.StagePending})
	}
	if err := e.store.CreateJobWithStages(ctx, job, stages); err != nil {
		e.blobs.Remove(jobID)
		return "", err
	}

	handle := &jobHandle{}
	e.handles.Store(jobID, handle)
	observability.Default.IncCounter("jobs_submitted_total", nil, 1)

	sc := &stage.Context{JobID: jobID, Owner: owner, Config: cfg, AudioPath: audioPath}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.handles.Delete(jobID)
		e.run(handle, sc)
	}()
	return jobID, nil
}

// Cancel requests a stop at the next stage boundary. In-flight provider
// calls finish naturally.
func (e *Engine) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, ok, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("job %s: %w", jobID, state.ErrNotFound)
	}
	if state.IsTerminalJobStatus(job.Status) {
		return false, nil
	}
	if h, ok := e.handles.Load(jobID); ok {
		h.(*jobHandle).cancelled.Store(true)
		return true, nil
	}
	// Job record exists but nothing is running it (process restart);
	// surface it as failed rather than leaving it stuck.
	e.failJob(context.Background(), jobID, "cancelled")
	return true, nil
}

// Wait blocks until every in-flight job has finished. Used in shutdown
// and tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) run(handle *jobHandle, sc *stage.Context) {
	ctx := context.Background()
	log := e.log.WithField("job_id", sc.JobID)
	started := time.Now().UTC()

	job, ok, err := e.store.GetJob(ctx, sc.JobID)
	if err != nil || !ok {
		log.WithError(err).Error("job disappeared before start")
		return
	}
	job.Status = state.JobProcessing
	if err := e.store.UpdateJob(ctx, job); err != nil {
		log.WithError(err).Error("could not mark job processing")
		return
	}

	for _, name := range stage.Order {
		if handle.cancelled.Load() {
			e.skipRemaining(ctx, sc.JobID, name)
			e.failJob(ctx, sc.JobID, "cancelled")
			log.Info("job cancelled at stage boundary")
			return
		}
		if name == stage.CalendarSync {
			// Persist the meeting before the gate runs so manual sync
			// and the pipeline share one code path.
			if err := e.saveResult(ctx, sc, started); err != nil {
				e.failStage(ctx, sc.JobID, name, err)
				e.failJob(ctx, sc.JobID, "persist result: "+err.Error())
				return
			}
		}
		if err := e.runStage(ctx, handle, sc, name, log); err != nil {
			if errors.Is(err, errCancelled) {
				e.failJob(ctx, sc.JobID, "cancelled")
				log.WithField("stage", name).Info("job cancelled during stage retry")
				return
			}
			// Keep whatever completed stages produced: a transcript from a
			// job that later failed must stay retrievable.
			if sc.MeetingID == 0 && sc.Transcript.Text != "" {
				if perr := e.saveResult(ctx, sc, started); perr != nil {
					log.WithError(perr).Warn("could not persist partial result")
				}
			}
			e.failJob(ctx, sc.JobID, fmt.Sprintf("%s: %v", name, err))
			log.WithField("stage", name).WithError(err).Warn("job failed")
			observability.Default.IncCounter("jobs_failed_total", map[string]string{"stage": name}, 1)
			return
		}
		e.bumpProgress(ctx, sc.JobID)
	}

	job, ok, err = e.store.GetJob(ctx, sc.JobID)
	if err != nil || !ok {
		log.WithError(err).Error("job disappeared before completion")
		return
	}
	job.Status = state.JobCompleted
	job.OverallProgress = 100
	if err := e.store.UpdateJob(ctx, job); err != nil {
		log.WithError(err).Error("could not mark job completed")
		return
	}
	e.blobs.Remove(sc.JobID)
	observability.Default.IncCounter("jobs_completed_total", nil, 1)
	log.WithField("elapsed", time.Since(started).Round(time.Millisecond).String()).Info("job completed")
}

func (e *Engine) sem(name string) chan struct{} {
	if stage.Local(name) {
		return e.localSem
	}
	return e.netSem
}

func (e *Engine) runStage(ctx context.Context, handle *jobHandle, sc *stage.Context, name string, log *logrus.Entry) error {
	sem := e.sem(name)
	sem <- struct{}{}
	defer func() { <-sem }()

	rec := state.StageRecord{JobID: sc.JobID, Name: name, Status: state.StageInProgress}
	begin := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.RetryBase
	bo.MaxInterval = 30 * time.Second

	var lastErr error
	cancelled := false
	for attempt := 1; attempt <= e.opts.MaxRetries+1; attempt++ {
		rec.Attempts = attempt
		rec.Status = state.StageInProgress
		if err := e.store.UpdateStage(ctx, rec); err != nil {
			return err
		}

		stageCtx, cancel := context.WithTimeout(ctx, e.opts.StageTimeout)
		err := e.execStage(stageCtx, sc, name)
		cancel()
		if err == nil || errors.Is(err, errStageSkipped) {
			rec.Status = state.StageCompleted
			if errors.Is(err, errStageSkipped) {
				rec.Status = state.StageSkipped
			}
			rec.Progress = 100
			rec.Error = ""
			rec.DurationMillis = time.Since(begin).Milliseconds()
			return e.store.UpdateStage(ctx, rec)
		}
		lastErr = err
		if !provider.IsTransient(err) || attempt > e.opts.MaxRetries {
			break
		}
		rec.TransientFailures++
		rec.Error = err.Error()
		if uerr := e.store.UpdateStage(ctx, rec); uerr != nil {
			return uerr
		}
		observability.Default.IncCounter("stage_retries_total", map[string]string{"stage": name}, 1)
		log.WithFields(logrus.Fields{"stage": name, "attempt": attempt}).WithError(err).Warn("transient stage failure, retrying")
		if handle.cancelled.Load() {
			cancelled = true
			break
		}
		time.Sleep(bo.NextBackOff())
	}

	if cancelled {
		rec.Status = state.StageFailed
		rec.Error = "cancelled"
		rec.DurationMillis = time.Since(begin).Milliseconds()
		if err := e.store.UpdateStage(ctx, rec); err != nil {
			return err
		}
		return errCancelled
	}

	rec.Status = state.StageFailed
	rec.Error = lastErr.Error()
	rec.DurationMillis = time.Since(begin).Milliseconds()
	if err := e.store.UpdateStage(ctx, rec); err != nil {
		return err
	}
	observability.Default.IncCounter("stage_failures_total", map[string]string{"stage": name}, 1)
	return lastErr
}

func (e *Engine) execStage(ctx context.Context, sc *stage.Context, name string) error {
	switch name {
	case stage.VAD:
		report, err := e.prov.VAD.Detect(ctx, sc.AudioPath)
		if err != nil {
			return err
		}
		if !report.HasSpeech {
			return errors.New("no speech detected in audio")
		}
		sc.Report = report
		return nil
	case stage.Enhancement:
		path, err := e.prov.Enhancer.Enhance(ctx, sc.AudioPath)
		if err != nil {
			return err
		}
		sc.AudioPath = path
		return nil
	case stage.Transcription:
		tr, err := e.prov.Transcriber.Transcribe(ctx, sc.AudioPath, sc.Config.Language)
		if err != nil {
			return err
		}
		sc.Transcript = tr
		return nil
	case stage.Extraction:
		raw, err := e.prov.Extractor.Extract(ctx, sc.Transcript.Diarized(), provider.ExtractOptions{
			Role:            sc.Config.Role,
			OutputFields:    sc.Config.OutputFields,
			UserInput:       sc.Config.UserInput,
			CustomFieldOnly: sc.Config.CustomFieldOnly,
			Today:           time.Now().UTC().Format("2006-01-02"),
		})
		if err != nil {
			return err
		}
		sc.RawExtraction = raw
		res, err := normalize.Extraction(raw, sc.Config.CustomFieldOnly, e.log.WithField("job_id", sc.JobID))
		if err != nil {
			return err
		}
		sc.Result = res
		return nil
	case stage.CalendarSync:
		return e.syncCalendar(ctx, sc)
	default:
		return fmt.Errorf("unknown stage %s", name)
	}
}

// errStageSkipped tells runStage to record the stage as skipped rather
// than completed.
var errStageSkipped = errors.New("stage skipped")

// errCancelled surfaces a cancel observed inside the retry loop so the
// job terminates with the distinct "cancelled" reason.
var errCancelled = errors.New("cancelled")

func (e *Engine) syncCalendar(ctx context.Context, sc *stage.Context) error {
	resp, err := e.gate.Sync(ctx, sc.MeetingID)
	if err != nil {
		return err
	}
	if resp.Outcome == pipeapi.SyncOutcomeNotEligible {
		return errStageSkipped
	}
	return nil
}

func (e *Engine) saveResult(ctx context.Context, sc *stage.Context, started time.Time) error {
	qrJSON := ""
	if sc.Result.QueryResult != nil {
		b, err := json.Marshal(sc.Result.QueryResult)
		if err != nil {
			return err
		}
		qrJSON = string(b)
	}
	items := make([]state.ItemRecord, 0, len(sc.Result.DatedEvents)+len(sc.Result.Notes))
	for _, ev := range sc.Result.DatedEvents {
		data, err := normalize.EncodeDatedEvent(ev)
		if err != nil {
			return err
		}
		items = append(items, state.ItemRecord{Kind: state.ItemDatedEvent, DataJSON: data})
	}
	for _, n := range sc.Result.Notes {
		data, err := normalize.EncodeNote(n)
		if err != nil {
			return err
		}
		items = append(items, state.ItemRecord{Kind: state.ItemNote, DataJSON: data})
	}
	meetingID, err := e.store.SaveMeeting(ctx, state.MeetingRecord{
		JobID:             sc.JobID,
		Owner:             sc.Owner,
		Transcript:        sc.Transcript.Diarized(),
		SummaryEnglish:    sc.Result.Summary.English,
		SummaryOriginal:   sc.Result.Summary.Original,
		UserInput:         sc.Config.UserInput,
		QueryResultJSON:   qrJSON,
		AudioDurationSec:  int(sc.Report.DurationSec),
		ProcessingTimeSec: int(time.Since(started).Seconds()),
	}, items)
	if err != nil {
		return err
	}
	sc.MeetingID = meetingID
	return nil
}

// bumpProgress recomputes the weighted sum; overall progress only moves
// forward, so stale recomputes never walk it back.
func (e *Engine) bumpProgress(ctx context.Context, jobID string) {
	stages, err := e.store.ListStages(ctx, jobID)
	if err != nil {
		return
	}
	total := Progress(stages)
	job, ok, err := e.store.GetJob(ctx, jobID)
	if err != nil || !ok {
		return
	}
	if total <= job.OverallProgress {
		return
	}
	job.OverallProgress = total
	_ = e.store.UpdateJob(ctx, job)
}

// Progress computes the weighted overall figure from stage records.
func Progress(stages []state.StageRecord) int {
	total := 0
	for _, st := range stages {
		w := stage.Weights[st.Name]
		switch st.Status {
		case state.StageCompleted, state.StageSkipped:
			total += w
		case state.StageInProgress:
			total += w * st.Progress / 100
		}
	}
	if total > 100 {
		total = 100
	}
	return total
}

func (e *Engine) skipRemaining(ctx context.Context, jobID, from string) {
	seen := false
	for _, name := range stage.Order {
		if name == from {
			seen = true
		}
		if !seen {
			continue
		}
		_ = e.store.UpdateStage(ctx, state.StageRecord{JobID: jobID, Name: name, Status: state.StageSkipped})
	}
}

func (e *Engine) failStage(ctx context.Context, jobID, name string, err error) {
	_ = e.store.UpdateStage(ctx, state.StageRecord{
		JobID:  jobID,
		Name:   name,
		Status: state.StageFailed,
		Error:  err.Error(),
	})
}

func (e *Engine) failJob(ctx context.Context, jobID, reason string) {
	job, ok, err := e.store.GetJob(ctx, jobID)
	if err != nil || !ok {
		return
	}
	// Terminal statuses are immutable: a cancel that races with
	// completion must not overwrite the completed record.
	if state.IsTerminalJobStatus(job.Status) {
		e.blobs.Remove(jobID)
		return
	}
	job.Status = state.JobFailed
	job.Error = reason
	_ = e.store.UpdateJob(ctx, job)
	e.blobs.Remove(jobID)
}
