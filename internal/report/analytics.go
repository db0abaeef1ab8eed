// Package report aggregates processed meetings into the analytics
// summary and the spreadsheet export.
package report

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/example/meetingpipe/internal/normalize"
	"github.com/example/meetingpipe/internal/state"
	"github.com/example/meetingpipe/pkg/pipeapi"
)

const listPageSize = 200

// Compute walks the owner's meetings and tallies the dashboard figures.
func Compute(ctx context.Context, store state.Store, owner string) (pipeapi.AnalyticsResponse, error) {
	out := pipeapi.AnalyticsResponse{
		NotesByCategory: map[string]int{},
		MeetingsByMonth: map[string]int{},
	}
	meetings, err := allMeetings(ctx, store, owner)
	if err != nil {
		return pipeapi.AnalyticsResponse{}, err
	}
	totalProcessing := 0
	for _, m := range meetings {
		out.Meetings++
		out.MeetingsByMonth[m.CreatedAt.UTC().Format("2006-01")]++
		out.TotalAudioSec += m.AudioDurationSec
		totalProcessing += m.ProcessingTimeSec
		if m.CalendarSynced {
			out.SyncedMeetings++
		}
		items, err := store.ListItems(ctx, m.ID)
		if err != nil {
			return pipeapi.AnalyticsResponse{}, err
		}
		for _, it := range items {
			switch it.Kind {
			case state.ItemDatedEvent:
				ev, err := normalize.DecodeDatedEvent(it.DataJSON)
				if err != nil {
					continue
				}
				out.DatedEvents++
				if ev.Completed {
					out.CompletedItems++
				}
				if ev.Urgency == normalize.UrgencyUrgent {
					out.UrgentItems++
				}
			case state.ItemNote:
				n, err := normalize.DecodeNote(it.DataJSON)
				if err != nil {
					continue
				}
				out.Notes++
				out.NotesByCategory[n.Category]++
				if n.Completed {
					out.CompletedItems++
				}
				if n.Urgency == normalize.UrgencyUrgent {
					out.UrgentItems++
				}
			}
		}
	}
	if out.Meetings > 0 {
		out.AvgProcessingSec = totalProcessing / out.Meetings
	}
	return out, nil
}

// Workbook renders the owner's meetings and items as an XLSX file with
// one sheet of meetings and one of items.
func Workbook(ctx context.Context, store state.Store, owner string) (*excelize.File, error) {
	meetings, err := allMeetings(ctx, store, owner)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	const meetingSheet = "Meetings"
	const itemSheet = "Items"
	f.SetSheetName("Sheet1", meetingSheet)
	if _, err := f.NewSheet(itemSheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	meetingHeader := []any{"Meeting ID", "Job ID", "Created", "Summary", "Calendar Synced", "Audio (sec)", "Processing (sec)"}
	if err := f.SetSheetRow(meetingSheet, "A1", &meetingHeader); err != nil {
		_ = f.Close()
		return nil, err
	}
	itemHeader := []any{"Meeting ID", "Kind", "Title", "Date", "Category", "Urgency", "Completed", "Calendar Link"}
	if err := f.SetSheetRow(itemSheet, "A1", &itemHeader); err != nil {
		_ = f.Close()
		return nil, err
	}

	itemRow := 2
	for i, m := range meetings {
		row := []any{m.ID, m.JobID, m.CreatedAt.Format("2006-01-02 15:04"), m.SummaryEnglish, m.CalendarSynced, m.AudioDurationSec, m.ProcessingTimeSec}
		if err := f.SetSheetRow(meetingSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			_ = f.Close()
			return nil, err
		}
		items, err := store.ListItems(ctx, m.ID)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		for _, it := range items {
			var row []any
			switch it.Kind {
			case state.ItemDatedEvent:
				ev, err := normalize.DecodeDatedEvent(it.DataJSON)
				if err != nil {
					continue
				}
				row = []any{m.ID, it.Kind, ev.Title, ev.Date, "", ev.Urgency, ev.Completed, ev.CalendarLink}
			case state.ItemNote:
				n, err := normalize.DecodeNote(it.DataJSON)
				if err != nil {
					continue
				}
				row = []any{m.ID, it.Kind, n.Title, "", n.Category, n.Urgency, n.Completed, ""}
			default:
				continue
			}
			if err := f.SetSheetRow(itemSheet, fmt.Sprintf("A%d", itemRow), &row); err != nil {
				_ = f.Close()
				return nil, err
			}
			itemRow++
		}
	}
	return f, nil
}

func allMeetings(ctx context.Context, store state.Store, owner string) ([]state.MeetingRecord, error) {
	out := make([]state.MeetingRecord, 0, listPageSize)
	offset := 0
	for {
		page, err := store.ListMeetings(ctx, owner, listPageSize, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < listPageSize {
			return out, nil
		}
		offset += len(page)
	}
}
