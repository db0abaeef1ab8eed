package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// The noop providers back local development when no external services
// are configured. They accept any audio and emit deterministic output.

type NoopVAD struct{}

func (NoopVAD) Detect(_ context.Context, audioPath string) (SpeechReport, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return SpeechReport{}, fmt.Errorf("stat audio: %w", err)
	}
	if info.Size() == 0 {
		return SpeechReport{HasSpeech: false}, nil
	}
	return SpeechReport{HasSpeech: true, SpeechRatio: 1, DurationSec: 60}, nil
}

type NoopEnhancer struct{}

func (NoopEnhancer) Enhance(_ context.Context, audioPath string) (string, error) {
	return audioPath, nil
}

type NoopTranscriber struct{}

func (NoopTranscriber) Transcribe(_ context.Context, _ string, _ string) (Transcript, error) {
	return Transcript{
		Text: "placeholder transcript",
		Segments: []Segment{
			{Speaker: "Speaker 1", Text: "placeholder transcript", Start: 0, End: 60},
		},
	}, nil
}

type NoopExtractor struct{}

func (NoopExtractor) Extract(_ context.Context, _ string, _ ExtractOptions) (json.RawMessage, error) {
	return json.RawMessage(`{"summary":{"english":"No extractor configured."},"dated_events":[],"notes":[]}`), nil
}

type NoopCalendar struct{}

func (NoopCalendar) Connected(_ context.Context, _ string) bool { return false }

func (NoopCalendar) CreateEvent(_ context.Context, _ string, _ CalendarEvent) (string, error) {
	return "", fmt.Errorf("no calendar configured")
}
