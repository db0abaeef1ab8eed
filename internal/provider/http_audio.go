package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// HTTPVAD calls a voice activity detection service that accepts a
// multipart upload and returns speech coverage for the recording.
type HTTPVAD struct {
	URL string
	Log *logrus.Entry
}

type vadResponse struct {
	HasSpeech   bool    `json:"has_speech"`
	SpeechRatio float64 `json:"speech_ratio"`
	DurationSec float64 `json:"duration_sec"`
}

func (v *HTTPVAD) Detect(ctx context.Context, audioPath string) (SpeechReport, error) {
	var resp vadResponse
	if err := postAudio(ctx, v.URL+"/detect", audioPath, nil, &resp); err != nil {
		return SpeechReport{}, err
	}
	v.Log.WithFields(logrus.Fields{
		"speech_ratio": resp.SpeechRatio,
		"duration_sec": resp.DurationSec,
	}).Debug("vad complete")
	return SpeechReport{
		HasSpeech:   resp.HasSpeech,
		SpeechRatio: resp.SpeechRatio,
		DurationSec: resp.DurationSec,
	}, nil
}

// HTTPEnhancer calls a noise reduction service and stores the cleaned
// audio next to the original with an .enhanced suffix.
type HTTPEnhancer struct {
	URL string
	Log *logrus.Entry
}

func (e *HTTPEnhancer) Enhance(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL+"/enhance", f)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", MarkTransient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("enhance: status %d", resp.StatusCode)
		if RetryableStatus(resp.StatusCode) {
			return "", MarkTransient(err)
		}
		return "", err
	}

	ext := filepath.Ext(audioPath)
	outPath := strings.TrimSuffix(audioPath, ext) + ".enhanced" + ext
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = os.Remove(outPath)
		return "", MarkTransient(fmt.Errorf("read enhanced audio: %w", err))
	}
	e.Log.WithField("path", outPath).Debug("enhancement complete")
	return outPath, nil
}
