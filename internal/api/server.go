package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/meetingpipe/internal/calendar"
	"github.com/example/meetingpipe/internal/logger"
	"github.com/example/meetingpipe/internal/normalize"
	"github.com/example/meetingpipe/internal/observability"
	"github.com/example/meetingpipe/internal/pipeline"
	"github.com/example/meetingpipe/internal/report"
	"github.com/example/meetingpipe/internal/stage"
	"github.com/example/meetingpipe/internal/state"
	"github.com/example/meetingpipe/pkg/pipeapi"
	"go.opentelemetry.io/otel/attribute"
)

type Server struct {
	engine    *pipeline.Engine
	store     state.Store
	gate      *calendar.Gate
	limiter   *submitLimiter
	maxUpload int64
	log       *logger.Logger
}

func NewServer(engine *pipeline.Engine, store state.Store, gate *calendar.Gate, maxUploadBytes int64) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 200 << 20
	}
	return &Server{
		engine:    engine,
		store:     store,
		gate:      gate,
		limiter:   newSubmitLimiterFromEnv(),
		maxUpload: maxUploadBytes,
		log:       logger.New("api"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	mux.HandleFunc("/v1/jobs", s.handleJobs)
	mux.HandleFunc("/v1/jobs/", s.handleJobSubresource)
	mux.HandleFunc("/v1/meetings", s.handleMeetings)
	mux.HandleFunc("/v1/meetings/", s.handleMeetingSubresource)
	mux.HandleFunc("/v1/items/", s.handleItemSubresource)
	mux.HandleFunc("/v1/analytics", s.handleAnalytics)
	mux.HandleFunc("/v1/analytics/export", s.handleAnalyticsExport)
	return withTracing(withLogging(mux, s.log))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

// handleJobs accepts a multipart submission: the audio under "file" and
// an optional "config" field carrying the ProcessingConfig JSON.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	owner := ownerFrom(r)
	if !s.limiter.allow(owner, time.Now()) {
		observability.Default.IncCounter("submit_rate_limited_total", nil, 1)
		writeError(w, http.StatusTooManyRequests, "submission rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	var cfg pipeapi.ProcessingConfig
	if raw := strings.TrimSpace(r.FormValue("config")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid config JSON")
			return
		}
	}

	jobID, err := s.engine.Submit(r.Context(), owner, header.Filename, file, cfg)
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.WithRequest(r).WithError(err).Error("job submission failed")
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusAccepted, pipeapi.SubmitJobResponse{JobID: jobID})
}

func (s *Server) handleJobSubresource(w http.ResponseWriter, r *http.Request) {
	jobID, action, ok := splitSubresource(r.URL.Path, "/v1/jobs/")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch action {
	case "status":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleJobStatus(w, r, jobID)
	case "result":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleJobResult(w, r, jobID)
	case "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleJobCancel(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, ok := s.loadOwnedJob(w, r, jobID)
	if !ok {
		return
	}
	stages, err := s.store.ListStages(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stages")
		return
	}
	byName := make(map[string]state.StageRecord, len(stages))
	for _, st := range stages {
		byName[st.Name] = st
	}
	resp := pipeapi.JobStatusResponse{
		JobID:           job.ID,
		Status:          job.Status,
		OverallProgress: job.OverallProgress,
		Error:           job.Error,
		CreatedAt:       job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, name := range stage.Order {
		st, found := byName[name]
		if !found {
			st = state.StageRecord{Name: name, Status: state.StagePending}
		}
		resp.Stages = append(resp.Stages, pipeapi.StageStatus{
			Name:     name,
			Status:   st.Status,
			Progress: st.Progress,
			Attempts: st.Attempts,
			Error:    st.Error,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request, jobID string) {
	job, ok := s.loadOwnedJob(w, r, jobID)
	if !ok {
		return
	}
	if job.Status != state.JobCompleted {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, result not available", job.Status))
		return
	}
	meeting, found, err := s.store.GetMeetingByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	resp, err := s.buildResult(r, meeting)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) buildResult(r *http.Request, meeting state.MeetingRecord) (pipeapi.JobResultResponse, error) {
	items, err := s.store.ListItems(r.Context(), meeting.ID)
	if err != nil {
		return pipeapi.JobResultResponse{}, err
	}
	resp := pipeapi.JobResultResponse{
		JobID:             meeting.JobID,
		Summary:           pipeapi.Summary{English: meeting.SummaryEnglish, Original: meeting.SummaryOriginal},
		Transcript:        meeting.Transcript,
		DatedEvents:       []pipeapi.DatedEvent{},
		Notes:             []pipeapi.Note{},
		CalendarSynced:    meeting.CalendarSynced,
		AudioDurationSec:  meeting.AudioDurationSec,
		ProcessingTimeSec: meeting.ProcessingTimeSec,
		CreatedAt:         meeting.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, item := range items {
		switch item.Kind {
		case state.ItemDatedEvent:
			ev, err := normalize.DecodeDatedEvent(item.DataJSON)
			if err != nil {
				s.log.WithJob(meeting.JobID).WithError(err).Warn("skipping undecodable dated event")
				continue
			}
			ev.ID = item.ID
			resp.DatedEvents = append(resp.DatedEvents, ev)
		case state.ItemNote:
			n, err := normalize.DecodeNote(item.DataJSON)
			if err != nil {
				s.log.WithJob(meeting.JobID).WithError(err).Warn("skipping undecodable note")
				continue
			}
			n.ID = item.ID
			resp.Notes = append(resp.Notes, n)
		}
	}
	if meeting.QueryResultJSON != "" {
		var qr pipeapi.QueryResult
		if err := json.Unmarshal([]byte(meeting.QueryResultJSON), &qr); err == nil {
			resp.QueryResult = &qr
		}
	}
	return resp, nil
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, ok := s.loadOwnedJob(w, r, jobID); !ok {
		return
	}
	accepted, err := s.engine.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, pipeapi.CancelJobResponse{Accepted: accepted})
}

func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	owner := ownerFrom(r)
	limit := 50
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = v
	}

	total, err := s.store.CountMeetings(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list meetings")
		return
	}
	meetings, err := s.store.ListMeetings(r.Context(), owner, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list meetings")
		return
	}
	resp := pipeapi.ListMeetingsResponse{
		Total:    total,
		Returned: len(meetings),
		Offset:   offset,
		Limit:    limit,
		Meetings: []pipeapi.MeetingListItem{},
	}
	for _, m := range meetings {
		items, err := s.store.ListItems(r.Context(), m.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list meetings")
			return
		}
		entry := pipeapi.MeetingListItem{
			MeetingID:      m.ID,
			JobID:          m.JobID,
			Title:          meetingTitle(m),
			CalendarSynced: m.CalendarSynced,
			CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339),
		}
		for _, item := range items {
			switch item.Kind {
			case state.ItemDatedEvent:
				entry.DatedEvents++
			case state.ItemNote:
				entry.Notes++
			}
		}
		resp.Meetings = append(resp.Meetings, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMeetingSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/meetings/")
	jobID := rest
	action := ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		jobID, action = rest[:i], rest[i+1:]
	}
	if jobID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	meeting, ok := s.loadOwnedMeeting(w, r, jobID)
	if !ok {
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		resp, err := s.buildResult(r, meeting)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load meeting")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case action == "" && r.Method == http.MethodDelete:
		if _, err := s.store.DeleteMeeting(r.Context(), meeting.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete meeting")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case action == "notes" && r.Method == http.MethodPost:
		s.handleCreateNote(w, r, meeting)
	case action == "sync-calendar" && r.Method == http.MethodPost:
		s.handleSyncCalendar(w, r, meeting)
	case action == "":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request, meeting state.MeetingRecord) {
	var req pipeapi.CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	note := pipeapi.Note{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Category:    normalize.Category(req.Category),
		Urgency:     normalize.Urgency(req.Urgency),
	}
	dataJSON, err := normalize.EncodeNote(note)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save note")
		return
	}
	itemID, err := s.store.InsertItem(r.Context(), state.ItemRecord{
		MeetingID: meeting.ID,
		Kind:      state.ItemNote,
		DataJSON:  dataJSON,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save note")
		return
	}
	note.ID = itemID
	writeJSON(w, http.StatusCreated, pipeapi.CreateNoteResponse{ItemID: itemID, Note: note})
}

func (s *Server) handleSyncCalendar(w http.ResponseWriter, r *http.Request, meeting state.MeetingRecord) {
	resp, err := s.gate.Sync(r.Context(), meeting.ID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "meeting not found")
			return
		}
		s.log.WithJob(meeting.JobID).WithError(err).Error("calendar sync failed")
		writeError(w, http.StatusInternalServerError, "calendar sync failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleItemSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/items/")
	idPart := rest
	action := ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		idPart, action = rest[:i], rest[i+1:]
	}
	itemID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || itemID <= 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	item, found, err := s.store.GetItem(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	meeting, found, err := s.store.GetMeeting(r.Context(), item.MeetingID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	if !found || meeting.Owner != ownerFrom(r) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	switch {
	case action == "complete" && r.Method == http.MethodPatch:
		s.handleToggleItem(w, r, item)
	case action == "" && r.Method == http.MethodDelete:
		if _, err := s.store.DeleteItem(r.Context(), itemID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete item")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case action == "complete", action == "":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleToggleItem(w http.ResponseWriter, r *http.Request, item state.ItemRecord) {
	var completed bool
	var dataJSON string
	var err error
	switch item.Kind {
	case state.ItemDatedEvent:
		ev, decErr := normalize.DecodeDatedEvent(item.DataJSON)
		if decErr != nil {
			writeError(w, http.StatusInternalServerError, "failed to update item")
			return
		}
		ev.Completed = !ev.Completed
		completed = ev.Completed
		dataJSON, err = normalize.EncodeDatedEvent(ev)
	case state.ItemNote:
		n, decErr := normalize.DecodeNote(item.DataJSON)
		if decErr != nil {
			writeError(w, http.StatusInternalServerError, "failed to update item")
			return
		}
		n.Completed = !n.Completed
		completed = n.Completed
		dataJSON, err = normalize.EncodeNote(n)
	default:
		writeError(w, http.StatusConflict, "item kind does not support completion")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update item")
		return
	}
	if err := s.store.UpdateItemData(r.Context(), item.ID, dataJSON); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update item")
		return
	}
	writeJSON(w, http.StatusOK, pipeapi.ToggleItemResponse{ItemID: item.ID, Completed: completed})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp, err := report.Compute(r.Context(), s.store, ownerFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute analytics")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyticsExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	f, err := report.Workbook(r.Context(), s.store, ownerFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="meetings.xlsx"`)
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		s.log.WithRequest(r).WithError(err).Error("workbook write failed")
	}
}

// loadOwnedJob fetches a job and enforces owner isolation, writing the
// error response itself when the job is unavailable.
func (s *Server) loadOwnedJob(w http.ResponseWriter, r *http.Request, jobID string) (state.JobRecord, bool) {
	job, found, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return state.JobRecord{}, false
	}
	if !found || job.Owner != ownerFrom(r) {
		writeError(w, http.StatusNotFound, "job not found")
		return state.JobRecord{}, false
	}
	return job, true
}

func (s *Server) loadOwnedMeeting(w http.ResponseWriter, r *http.Request, jobID string) (state.MeetingRecord, bool) {
	meeting, found, err := s.store.GetMeetingByJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load meeting")
		return state.MeetingRecord{}, false
	}
	if !found || meeting.Owner != ownerFrom(r) {
		writeError(w, http.StatusNotFound, "meeting not found")
		return state.MeetingRecord{}, false
	}
	return meeting, true
}

func meetingTitle(m state.MeetingRecord) string {
	summary := strings.TrimSpace(m.SummaryEnglish)
	if summary == "" {
		return "Meeting " + m.CreatedAt.UTC().Format("2006-01-02")
	}
	if i := strings.IndexAny(summary, ".\n"); i > 0 {
		summary = summary[:i]
	}
	const maxTitle = 80
	if r := []rune(summary); len(r) > maxTitle {
		summary = strings.TrimSpace(string(r[:maxTitle]))
	}
	return summary
}

func ownerFrom(r *http.Request) string {
	owner := strings.TrimSpace(r.Header.Get("X-Owner-ID"))
	if owner == "" {
		return "default"
	}
	return owner
}

func splitSubresource(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	i := strings.IndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withLogging(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.WithRequest(r).
			WithField("status", sw.status).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Info("request handled")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		traceID := span.SpanContext().TraceID().String()
		if traceID != "" {
			sw.Header().Set("X-Trace-ID", traceID)
		}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}
