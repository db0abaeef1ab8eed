package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/example/meetingpipe/pkg/pipeapi"
)

// Item persistence keeps the canonical JSON produced at write time.
// Decoding re-canonicalizes urgency so rows written before the urgency
// vocabulary settled still read back as urgent/normal.

func EncodeDatedEvent(ev pipeapi.DatedEvent) (string, error) {
	ev.ID = 0
	b, err := json.Marshal(ev)
	return string(b), err
}

func EncodeNote(n pipeapi.Note) (string, error) {
	n.ID = 0
	b, err := json.Marshal(n)
	return string(b), err
}

func DecodeDatedEvent(dataJSON string) (pipeapi.DatedEvent, error) {
	var ev pipeapi.DatedEvent
	if err := json.Unmarshal([]byte(dataJSON), &ev); err != nil {
		return pipeapi.DatedEvent{}, fmt.Errorf("decode dated event: %w", err)
	}
	ev.Urgency = Urgency(ev.Urgency)
	return ev, nil
}

func DecodeNote(dataJSON string) (pipeapi.Note, error) {
	var n pipeapi.Note
	if err := json.Unmarshal([]byte(dataJSON), &n); err != nil {
		return pipeapi.Note{}, fmt.Errorf("decode note: %w", err)
	}
	n.Urgency = Urgency(n.Urgency)
	n.Category = Category(n.Category)
	return n, nil
}
