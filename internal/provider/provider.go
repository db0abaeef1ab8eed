// Package provider defines the external service contracts the pipeline
// depends on: voice activity detection, audio enhancement, transcription
// with speaker labels, LLM extraction and calendar event creation.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SpeechReport is the outcome of voice activity detection over a recording.
type SpeechReport struct {
	HasSpeech   bool
	SpeechRatio float64
	DurationSec float64
}

type Segment struct {
	Speaker string
	Text    string
	Start   float64
	End     float64
}

// Transcript is the transcription output. Segments carry speaker labels
// when the backend diarizes; Text is always populated.
type Transcript struct {
	Text     string
	Segments []Segment
}

// Diarized renders the speaker-attributed transcript, one line per
// segment, falling back to the plain text when no segments exist.
func (t Transcript) Diarized() string {
	if len(t.Segments) == 0 {
		return t.Text
	}
	var b strings.Builder
	for _, s := range t.Segments {
		fmt.Fprintf(&b, "[%s - %s] %s: %s\n", clock(s.Start), clock(s.End), s.Speaker, s.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func clock(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int(sec)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

type VAD interface {
	Detect(ctx context.Context, audioPath string) (SpeechReport, error)
}

type Enhancer interface {
	// Enhance writes a cleaned copy of the recording and returns its path.
	Enhance(ctx context.Context, audioPath string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, language string) (Transcript, error)
}

// Extractor turns a diarized transcript into the structured extraction
// payload. The raw JSON is normalized downstream; extractors never
// guarantee a stable schema.
type Extractor interface {
	Extract(ctx context.Context, transcript string, opts ExtractOptions) (json.RawMessage, error)
}

type ExtractOptions struct {
	Role            string
	OutputFields    map[string]bool
	UserInput       string
	CustomFieldOnly bool
	Today           string
}

type CalendarEvent struct {
	Title       string
	Date        string
	Description string
	Location    string
}

type Calendar interface {
	Connected(ctx context.Context, owner string) bool
	CreateEvent(ctx context.Context, owner string, ev CalendarEvent) (link string, err error)
}
