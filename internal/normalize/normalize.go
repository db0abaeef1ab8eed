// Package normalize turns raw extraction JSON into the canonical result
// shape. Extraction backends drift between schema spellings, so every
// field read here goes through an alias list, and nothing the model
// produced is silently dropped: items with unusable dates are demoted
// to notes rather than discarded.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/example/meetingpipe/pkg/pipeapi"
)

type Result struct {
	Summary     pipeapi.Summary
	DatedEvents []pipeapi.DatedEvent
	Notes       []pipeapi.Note
	QueryResult *pipeapi.QueryResult
}

// Extraction normalizes the raw payload. When customOnly is set the
// structured lists stay empty and only the query result is kept.
func Extraction(raw json.RawMessage, customOnly bool, log *logrus.Entry) (Result, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Result{}, fmt.Errorf("extraction payload is not a JSON object: %w", err)
	}

	var out Result
	out.Summary = parseSummary(top)
	out.QueryResult = parseQueryResult(top)

	if customOnly {
		out.DatedEvents = []pipeapi.DatedEvent{}
		out.Notes = []pipeapi.Note{}
		return out, nil
	}

	events := firstArray(top, "dated_events", "events", "calendar_events")
	notes := firstArray(top, "notes", "action_items", "key_points")

	out.DatedEvents = make([]pipeapi.DatedEvent, 0, len(events))
	out.Notes = make([]pipeapi.Note, 0, len(notes))

	for _, item := range events {
		ev, ok := parseDatedEvent(item)
		if ok {
			out.DatedEvents = append(out.DatedEvents, ev)
			continue
		}
		// Unusable date: keep the content as an action note.
		note := demoteToNote(item)
		log.WithField("title", note.Title).Warn("dated event has no parseable date, keeping as note")
		out.Notes = append(out.Notes, note)
	}
	for _, item := range notes {
		out.Notes = append(out.Notes, parseNote(item))
	}
	return out, nil
}

func parseSummary(top map[string]json.RawMessage) pipeapi.Summary {
	var s pipeapi.Summary
	if raw, ok := top["summary"]; ok {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err == nil {
			s.English = firstString(obj, "english", "key_takeaways", "final_summary")
			s.Original = firstString(obj, "original_language", "arabic", "native")
			return s
		}
		// Some backends emit summary as a bare string.
		var plain string
		if err := json.Unmarshal(raw, &plain); err == nil {
			s.English = strings.TrimSpace(plain)
			return s
		}
	}
	s.English = firstStringRaw(top, "key_takeaways", "final_summary")
	return s
}

func parseQueryResult(top map[string]json.RawMessage) *pipeapi.QueryResult {
	raw, ok := top["query_result"]
	if !ok {
		raw, ok = top["custom_field"]
	}
	if !ok {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		var plain string
		if err := json.Unmarshal(raw, &plain); err == nil && strings.TrimSpace(plain) != "" {
			return &pipeapi.QueryResult{Answer: strings.TrimSpace(plain)}
		}
		return nil
	}
	qr := pipeapi.QueryResult{
		Question:       firstString(obj, "question", "query"),
		Answer:         firstString(obj, "answer", "response", "result"),
		Classification: firstString(obj, "classification", "category"),
	}
	if qr.Question == "" && qr.Answer == "" {
		return nil
	}
	return &qr
}

func parseDatedEvent(item map[string]any) (pipeapi.DatedEvent, bool) {
	date, ok := ParseDate(firstString(item, "date", "due_date", "deadline"))
	if !ok {
		return pipeapi.DatedEvent{}, false
	}
	return pipeapi.DatedEvent{
		Title:       firstString(item, "title", "task", "name"),
		Date:        date,
		Description: firstString(item, "description", "context", "details"),
		Location:    firstString(item, "location", "place"),
		Assignee:    firstString(item, "assignee", "owner", "responsible"),
		Urgency:     Urgency(item["urgency"]),
	}, true
}

func parseNote(item map[string]any) pipeapi.Note {
	return pipeapi.Note{
		Title:       firstString(item, "title", "task", "name"),
		Description: firstString(item, "description", "context", "details"),
		Category:    Category(firstString(item, "category", "note_type", "type")),
		Urgency:     Urgency(item["urgency"]),
	}
}

func demoteToNote(item map[string]any) pipeapi.Note {
	n := parseNote(item)
	n.Category = CategoryAction
	if rawDate := firstString(item, "date", "due_date", "deadline"); rawDate != "" {
		if n.Description != "" {
			n.Description += " "
		}
		n.Description += "(date: " + rawDate + ")"
	}
	return n
}

// Note categories.
const (
	CategoryGeneral  = "general"
	CategoryBudget   = "budget"
	CategoryDecision = "decision"
	CategoryAction   = "action"
)

func Category(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "budget", "budget_request":
		return CategoryBudget
	case "decision":
		return CategoryDecision
	case "action", "action_item", "task", "todo":
		return CategoryAction
	default:
		return CategoryGeneral
	}
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func firstStringRaw(top map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if raw, ok := top[k]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func firstArray(top map[string]json.RawMessage, keys ...string) []map[string]any {
	for _, k := range keys {
		raw, ok := top[k]
		if !ok {
			continue
		}
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err == nil {
			return items
		}
	}
	return nil
}
