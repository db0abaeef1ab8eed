package pipeapi

// ProcessingConfig carries the per-job options accepted at submit time.
type ProcessingConfig struct {
	Role            string          `json:"role,omitempty"`
	OutputFields    map[string]bool `json:"output_fields,omitempty"`
	UserInput       string          `json:"user_input,omitempty"`
	CustomFieldOnly bool            `json:"custom_field_only,omitempty"`
	Language        string          `json:"language,omitempty"`
}

type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

type StageStatus struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

type JobStatusResponse struct {
	JobID           string        `json:"job_id"`
	Status          string        `json:"status"`
	OverallProgress int           `json:"overall_progress"`
	Stages          []StageStatus `json:"stages"`
	Error           string        `json:"error,omitempty"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
}

type Summary struct {
	English  string `json:"english"`
	Original string `json:"original_language,omitempty"`
}

type DatedEvent struct {
	ID           int64  `json:"id,omitempty"`
	Title        string `json:"title"`
	Date         string `json:"date"`
	Description  string `json:"description,omitempty"`
	Location     string `json:"location,omitempty"`
	Assignee     string `json:"assignee,omitempty"`
	Urgency      string `json:"urgency"`
	Completed    bool   `json:"completed"`
	CalendarLink string `json:"calendar_link,omitempty"`
}

type Note struct {
	ID          int64  `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Urgency     string `json:"urgency"`
	Completed   bool   `json:"completed"`
}

type QueryResult struct {
	Question       string `json:"question"`
	Answer         string `json:"answer"`
	Classification string `json:"classification,omitempty"`
}

type JobResultResponse struct {
	JobID             string       `json:"job_id"`
	Summary           Summary      `json:"summary"`
	Transcript        string       `json:"transcript"`
	DatedEvents       []DatedEvent `json:"dated_events"`
	Notes             []Note       `json:"notes"`
	QueryResult       *QueryResult `json:"query_result,omitempty"`
	CalendarSynced    bool         `json:"calendar_synced"`
	AudioDurationSec  int          `json:"audio_duration_sec,omitempty"`
	ProcessingTimeSec int          `json:"processing_time_sec,omitempty"`
	CreatedAt         string       `json:"created_at"`
}

type CancelJobResponse struct {
	Accepted bool `json:"accepted"`
}

type MeetingListItem struct {
	MeetingID      int64  `json:"meeting_id"`
	JobID          string `json:"job_id"`
	Title          string `json:"title"`
	CalendarSynced bool   `json:"calendar_synced"`
	DatedEvents    int    `json:"dated_events"`
	Notes          int    `json:"notes"`
	CreatedAt      string `json:"created_at"`
}

type ListMeetingsResponse struct {
	Total    int               `json:"total"`
	Returned int               `json:"returned"`
	Offset   int               `json:"offset"`
	Limit    int               `json:"limit,omitempty"`
	Meetings []MeetingListItem `json:"meetings"`
}

type CreateNoteRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Urgency     string `json:"urgency,omitempty"`
}

type CreateNoteResponse struct {
	ItemID int64 `json:"item_id"`
	Note   Note  `json:"note"`
}

type ToggleItemResponse struct {
	ItemID    int64 `json:"item_id"`
	Completed bool  `json:"completed"`
}

// Calendar sync outcomes.
const (
	SyncOutcomeSynced        = "synced"
	SyncOutcomeAlreadySynced = "already_synced"
	SyncOutcomeNotEligible   = "not_eligible"
)

type SyncEventFailure struct {
	Title string `json:"title"`
	Error string `json:"error"`
}

type SyncCalendarResponse struct {
	Outcome  string             `json:"outcome"`
	Created  int                `json:"created"`
	Links    []string           `json:"links,omitempty"`
	Failures []SyncEventFailure `json:"failures,omitempty"`
}

type AnalyticsResponse struct {
	Meetings         int            `json:"meetings"`
	DatedEvents      int            `json:"dated_events"`
	Notes            int            `json:"notes"`
	CompletedItems   int            `json:"completed_items"`
	UrgentItems      int            `json:"urgent_items"`
	SyncedMeetings   int            `json:"synced_meetings"`
	NotesByCategory  map[string]int `json:"notes_by_category,omitempty"`
	MeetingsByMonth  map[string]int `json:"meetings_by_month,omitempty"`
	TotalAudioSec    int            `json:"total_audio_sec"`
	AvgProcessingSec int            `json:"avg_processing_sec"`
}
