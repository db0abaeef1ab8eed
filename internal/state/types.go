package state

import "time"

// Job statuses.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Stage statuses.
const (
	StagePending    = "pending"
	StageInProgress = "in_progress"
	StageCompleted  = "completed"
	StageSkipped    = "skipped"
	StageFailed     = "failed"
)

// Item kinds persisted per meeting.
const (
	ItemDatedEvent = "dated_event"
	ItemNote       = "note"
)

func IsTerminalJobStatus(status string) bool {
	return status == JobCompleted || status == JobFailed
}

type JobRecord struct {
	ID              string
	Owner           string
	Status          string
	Error           string
	OverallProgress int
	ConfigJSON      string
	AudioRef        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type StageRecord struct {
	JobID             string
	Name              string
	Status            string
	Progress          int
	Attempts          int
	TransientFailures int
	Error             string
	DurationMillis    int64
	UpdatedAt         time.Time
}

type MeetingRecord struct {
	ID                int64
	JobID             string
	Owner             string
	Transcript        string
	SummaryEnglish    string
	SummaryOriginal   string
	UserInput         string
	QueryResultJSON   string
	CalendarSynced    bool
	AudioDurationSec  int
	ProcessingTimeSec int
	CreatedAt         time.Time
}

// ItemRecord holds one extracted artifact as kind plus canonical JSON,
// so new item shapes never need a schema change.
type ItemRecord struct {
	ID        int64
	MeetingID int64
	Kind      string
	DataJSON  string
	CreatedAt time.Time
}
