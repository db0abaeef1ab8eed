package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPTranscriber submits audio to an async transcription service and
// polls until the result is ready. The backend diarizes in the same
// call, so segments come back with speaker labels.
type HTTPTranscriber struct {
	URL          string
	PollInterval time.Duration
	Log          *logrus.Entry
}

type transcribePublishResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type transcribeStatusResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"` // queued, processing, completed, failed
	Error      string `json:"error,omitempty"`
	Text       string `json:"text,omitempty"`
	Utterances []struct {
		Speaker string  `json:"speaker"`
		Text    string  `json:"text"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
	} `json:"utterances,omitempty"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioPath string, language string) (Transcript, error) {
	fields := map[string]string{}
	if language != "" {
		fields["language"] = language
	}
	var pub transcribePublishResponse
	if err := postAudio(ctx, t.URL+"/transcribe", audioPath, fields, &pub); err != nil {
		return Transcript{}, err
	}
	if pub.ID == "" {
		return Transcript{}, fmt.Errorf("transcribe: empty media id")
	}
	t.Log.WithField("media_id", pub.ID).Info("transcription submitted")

	interval := t.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Transcript{}, MarkTransient(ctx.Err())
		case <-ticker.C:
		}

		var st transcribeStatusResponse
		statusURL := t.URL + "/status?id=" + url.QueryEscape(pub.ID)
		if err := withRequestRetry(ctx, func() error { return getJSON(ctx, statusURL, &st) }); err != nil {
			return Transcript{}, err
		}
		switch strings.ToLower(st.Status) {
		case "completed", "success":
			out := Transcript{Text: strings.TrimSpace(st.Text)}
			for _, u := range st.Utterances {
				out.Segments = append(out.Segments, Segment{
					Speaker: u.Speaker,
					Text:    u.Text,
					Start:   u.Start,
					End:     u.End,
				})
			}
			if out.Text == "" && len(out.Segments) == 0 {
				return Transcript{}, fmt.Errorf("transcribe: empty result for media %s", pub.ID)
			}
			return out, nil
		case "failed":
			if st.Error != "" {
				return Transcript{}, fmt.Errorf("transcribe: %s", st.Error)
			}
			return Transcript{}, fmt.Errorf("transcribe: backend reported failure")
		default:
			// queued or processing, keep polling
		}
	}
}
