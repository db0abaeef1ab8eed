package state

import "context"

type Store interface {
	CreateJobWithStages(ctx context.Context, job JobRecord, stages []StageRecord) error
	GetJob(ctx context.Context, jobID string) (JobRecord, bool, error)
	UpdateJob(ctx context.Context, job JobRecord) error
	ListStages(ctx context.Context, jobID string) ([]StageRecord, error)
	UpdateStage(ctx context.Context, stage StageRecord) error

	// SaveMeeting persists a meeting with its items in one shot. Saving
	// the same job twice returns the existing meeting id unchanged.
	SaveMeeting(ctx context.Context, meeting MeetingRecord, items []ItemRecord) (int64, error)
	GetMeeting(ctx context.Context, meetingID int64) (MeetingRecord, bool, error)
	GetMeetingByJob(ctx context.Context, jobID string) (MeetingRecord, bool, error)
	ListMeetings(ctx context.Context, owner string, limit, offset int) ([]MeetingRecord, error)
	CountMeetings(ctx context.Context, owner string) (int, error)
	DeleteMeeting(ctx context.Context, meetingID int64) (bool, error)

	ListItems(ctx context.Context, meetingID int64) ([]ItemRecord, error)
	GetItem(ctx context.Context, itemID int64) (ItemRecord, bool, error)
	InsertItem(ctx context.Context, item ItemRecord) (int64, error)
	UpdateItemData(ctx context.Context, itemID int64, dataJSON string) error
	DeleteItem(ctx context.Context, itemID int64) (bool, error)

	// MarkMeetingSynced flips calendar_synced from false to true and
	// reports whether this call won the flip. It never resets the flag.
	MarkMeetingSynced(ctx context.Context, meetingID int64) (bool, error)
}
