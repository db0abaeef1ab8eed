// Package stage names the pipeline stages and carries per-job data
// between them.
package stage

import (
	"encoding/json"

	"github.com/example/meetingpipe/internal/normalize"
	"github.com/example/meetingpipe/internal/provider"
	"github.com/example/meetingpipe/pkg/pipeapi"
)

const (
	VAD           = "vad"
	Enhancement   = "enhancement"
	Transcription = "transcription"
	Extraction    = "extraction"
	CalendarSync  = "calendar_sync"
)

// Order is the fixed execution order.
var Order = []string{VAD, Enhancement, Transcription, Extraction, CalendarSync}

// Weights drive the overall progress figure. Transcription dominates
// because the backend diarizes in the same call.
var Weights = map[string]int{
	VAD:           5,
	Enhancement:   5,
	Transcription: 55,
	Extraction:    25,
	CalendarSync:  10,
}

// Local reports whether a stage runs on local compute rather than a
// network service, which decides the worker pool it occupies.
func Local(name string) bool {
	return name == VAD || name == Enhancement
}

// Context is the scratch state a job accumulates as stages run. The
// orchestrator owns it; exactly one goroutine touches it.
type Context struct {
	JobID  string
	Owner  string
	Config pipeapi.ProcessingConfig

	AudioPath     string
	Report        provider.SpeechReport
	Transcript    provider.Transcript
	RawExtraction json.RawMessage
	Result        normalize.Result
	MeetingID     int64
}
