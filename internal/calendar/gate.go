// Package calendar holds the idempotent sync gate between extraction
// results and the external calendar.
package calendar

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/example/meetingpipe/internal/normalize"
	"github.com/example/meetingpipe/internal/observability"
	"github.com/example/meetingpipe/internal/provider"
	"github.com/example/meetingpipe/internal/state"
	"github.com/example/meetingpipe/pkg/pipeapi"
)

type Gate struct {
	store state.Store
	cal   provider.Calendar
	log   *logrus.Entry
}

func NewGate(store state.Store, cal provider.Calendar, log *logrus.Entry) *Gate {
	return &Gate{store: store, cal: cal, log: log}
}

// Sync pushes a meeting's dated events to the calendar exactly once.
// The synced flag is claimed before any event is created, so concurrent
// callers cannot double-book; a partial push still counts as synced and
// reports per-event failures instead of retrying the whole batch.
func (g *Gate) Sync(ctx context.Context, meetingID int64) (pipeapi.SyncCalendarResponse, error) {
	meeting, ok, err := g.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return pipeapi.SyncCalendarResponse{}, err
	}
	if !ok {
		return pipeapi.SyncCalendarResponse{}, fmt.Errorf("meeting %d: %w", meetingID, state.ErrNotFound)
	}
	if meeting.CalendarSynced {
		return pipeapi.SyncCalendarResponse{Outcome: pipeapi.SyncOutcomeAlreadySynced}, nil
	}

	items, err := g.store.ListItems(ctx, meetingID)
	if err != nil {
		return pipeapi.SyncCalendarResponse{}, err
	}
	type datedItem struct {
		id int64
		ev pipeapi.DatedEvent
	}
	events := make([]datedItem, 0, len(items))
	for _, it := range items {
		if it.Kind != state.ItemDatedEvent {
			continue
		}
		ev, err := normalize.DecodeDatedEvent(it.DataJSON)
		if err != nil {
			g.log.WithField("item_id", it.ID).WithError(err).Warn("skipping undecodable dated event")
			continue
		}
		events = append(events, datedItem{id: it.ID, ev: ev})
	}

	if len(events) == 0 || !g.cal.Connected(ctx, meeting.Owner) {
		return pipeapi.SyncCalendarResponse{Outcome: pipeapi.SyncOutcomeNotEligible}, nil
	}

	won, err := g.store.MarkMeetingSynced(ctx, meetingID)
	if err != nil {
		return pipeapi.SyncCalendarResponse{}, err
	}
	if !won {
		return pipeapi.SyncCalendarResponse{Outcome: pipeapi.SyncOutcomeAlreadySynced}, nil
	}

	resp := pipeapi.SyncCalendarResponse{Outcome: pipeapi.SyncOutcomeSynced}
	for _, d := range events {
		link, err := g.cal.CreateEvent(ctx, meeting.Owner, provider.CalendarEvent{
			Title:       d.ev.Title,
			Date:        d.ev.Date,
			Description: d.ev.Description,
			Location:    d.ev.Location,
		})
		if err != nil {
			g.log.WithField("title", d.ev.Title).WithError(err).Warn("calendar event creation failed")
			resp.Failures = append(resp.Failures, pipeapi.SyncEventFailure{Title: d.ev.Title, Error: err.Error()})
			observability.Default.IncCounter("calendar_event_failures_total", nil, 1)
			continue
		}
		resp.Created++
		resp.Links = append(resp.Links, link)
		d.ev.CalendarLink = link
		if data, err := normalize.EncodeDatedEvent(d.ev); err == nil {
			if err := g.store.UpdateItemData(ctx, d.id, data); err != nil {
				g.log.WithField("item_id", d.id).WithError(err).Warn("could not record calendar link")
			}
		}
		observability.Default.IncCounter("calendar_events_created_total", nil, 1)
	}
	g.log.WithFields(logrus.Fields{
		"meeting_id": meetingID,
		"created":    resp.Created,
		"failed":     len(resp.Failures),
	}).Info("calendar sync complete")
	return resp, nil
}
