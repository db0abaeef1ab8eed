package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// HTTPExtractor drives an OpenAI-compatible chat completion endpoint to
// turn a diarized transcript into the structured extraction payload.
type HTTPExtractor struct {
	URL    string
	Model  string
	APIKey string
	Log    *logrus.Entry
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, transcript string, opts ExtractOptions) (json.RawMessage, error) {
	req := chatRequest{
		Model: e.Model,
		Messages: []chatMessage{
			{Role: "system", Content: buildSystemPrompt(opts)},
			{Role: "user", Content: "Transcript:\n" + transcript},
		},
		Temperature: 0,
	}
	headers := map[string]string{}
	if e.APIKey != "" {
		headers["Authorization"] = "Bearer " + e.APIKey
	}
	var resp chatResponse
	err := withRequestRetry(ctx, func() error {
		resp = chatResponse{}
		return postJSON(ctx, e.URL+"/chat/completions", headers, req, &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("extract: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("extract: no choices in response")
	}
	raw := extractJSONObject(resp.Choices[0].Message.Content)
	if raw == nil {
		e.Log.WithField("content_len", len(resp.Choices[0].Message.Content)).Warn("no JSON object in model output")
		return nil, fmt.Errorf("extract: model output contained no JSON object")
	}
	return raw, nil
}

func buildSystemPrompt(opts ExtractOptions) string {
	var b strings.Builder
	b.WriteString("You analyze a meeting transcript and reply with a single JSON object, no prose.\n")
	if opts.Role != "" {
		b.WriteString("The user works as: " + opts.Role + ". Weigh items relevant to that role.\n")
	}
	b.WriteString("Today's date is " + opts.Today + ". Resolve relative dates against it.\n")
	b.WriteString(`Fields:
  "summary": {"english": str, "original_language": str}
  "dated_events": [{"title": str, "date": "YYYY-MM-DD", "description": str, "location": str, "assignee": str, "urgency": "high"|"low"}]
  "notes": [{"title": str, "description": str, "category": "general"|"budget"|"decision"|"action", "urgency": "high"|"low"}]
`)
	if opts.UserInput != "" {
		b.WriteString("The user also asked: \"" + opts.UserInput + "\". Answer it in " +
			`"query_result": {"question": str, "answer": str, "classification": str}.` + "\n")
	}
	if opts.CustomFieldOnly {
		b.WriteString("Only answer the user's question; leave dated_events and notes empty.\n")
	}
	if len(opts.OutputFields) > 0 {
		skip := make([]string, 0, len(opts.OutputFields))
		for field, wanted := range opts.OutputFields {
			if !wanted {
				skip = append(skip, field)
			}
		}
		if len(skip) > 0 {
			b.WriteString("Omit these fields entirely: " + strings.Join(skip, ", ") + ".\n")
		}
	}
	return b.String()
}

// extractJSONObject pulls the outermost {...} out of model output that
// may be wrapped in markdown fences or prose.
func extractJSONObject(content string) json.RawMessage {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil
	}
	candidate := content[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil
	}
	return json.RawMessage(candidate)
}
