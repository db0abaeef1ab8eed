package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]JobRecord
	stages   map[string]map[string]StageRecord
	meetings map[int64]MeetingRecord
	byJob    map[string]int64
	items    map[int64]ItemRecord
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]JobRecord),
		stages:   make(map[string]map[string]StageRecord),
		meetings: make(map[int64]MeetingRecord),
		byJob:    make(map[string]int64),
		items:    make(map[int64]ItemRecord),
		nextID:   1,
	}
}

func (m *MemoryStore) CreateJobWithStages(_ context.Context, job JobRecord, stages []StageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = job
	m.stages[job.ID] = make(map[string]StageRecord, len(stages))
	for _, stage := range stages {
		s := stage
		s.UpdatedAt = now
		m.stages[job.ID][s.Name] = s
	}
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, jobID string) (JobRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return job, ok, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, job JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.UpdatedAt = time.Now().UTC()
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) ListStages(_ context.Context, jobID string) ([]StageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName := m.stages[jobID]
	out := make([]StageRecord, 0, len(byName))
	for _, s := range byName {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) UpdateStage(_ context.Context, stage StageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stages[stage.JobID]; !ok {
		m.stages[stage.JobID] = map[string]StageRecord{}
	}
	stage.UpdatedAt = time.Now().UTC()
	m.stages[stage.JobID][stage.Name] = stage
	return nil
}

func (m *MemoryStore) SaveMeeting(_ context.Context, meeting MeetingRecord, items []ItemRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byJob[meeting.JobID]; ok {
		return existing, nil
	}
	now := time.Now().UTC()
	meeting.ID = m.nextID
	m.nextID++
	if meeting.CreatedAt.IsZero() {
		meeting.CreatedAt = now
	}
	m.meetings[meeting.ID] = meeting
	m.byJob[meeting.JobID] = meeting.ID
	for _, item := range items {
		it := item
		it.ID = m.nextID
		m.nextID++
		it.MeetingID = meeting.ID
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		m.items[it.ID] = it
	}
	return meeting.ID, nil
}

func (m *MemoryStore) GetMeeting(_ context.Context, meetingID int64) (MeetingRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.meetings[meetingID]
	return mt, ok, nil
}

func (m *MemoryStore) GetMeetingByJob(_ context.Context, jobID string) (MeetingRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byJob[jobID]
	if !ok {
		return MeetingRecord{}, false, nil
	}
	mt, ok := m.meetings[id]
	return mt, ok, nil
}

func (m *MemoryStore) ListMeetings(_ context.Context, owner string, limit, offset int) ([]MeetingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filtered := make([]MeetingRecord, 0, len(m.meetings))
	for _, mt := range m.meetings {
		if owner != "" && mt.Owner != owner {
			continue
		}
		filtered = append(filtered, mt)
	}
	// Newest first for the listing endpoint.
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID > filtered[j].ID
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset > len(filtered) {
		offset = len(filtered)
	}
	out := filtered[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountMeetings(_ context.Context, owner string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mt := range m.meetings {
		if owner != "" && mt.Owner != owner {
			continue
		}
		n++
	}
	return n, nil
}

func (m *MemoryStore) DeleteMeeting(_ context.Context, meetingID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.meetings[meetingID]
	if !ok {
		return false, nil
	}
	delete(m.meetings, meetingID)
	delete(m.byJob, mt.JobID)
	for id, it := range m.items {
		if it.MeetingID == meetingID {
			delete(m.items, id)
		}
	}
	return true, nil
}

func (m *MemoryStore) ListItems(_ context.Context, meetingID int64) ([]ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ItemRecord, 0, 8)
	for _, it := range m.items {
		if it.MeetingID == meetingID {
			out = append(out, it)
		}
	}
	// Insertion order, which ids preserve.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetItem(_ context.Context, itemID int64) (ItemRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	return it, ok, nil
}

func (m *MemoryStore) InsertItem(_ context.Context, item ItemRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = m.nextID
	m.nextID++
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	m.items[item.ID] = item
	return item.ID, nil
}

func (m *MemoryStore) UpdateItemData(_ context.Context, itemID int64, dataJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return ErrNotFound
	}
	it.DataJSON = dataJSON
	m.items[itemID] = it
	return nil
}

func (m *MemoryStore) DeleteItem(_ context.Context, itemID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[itemID]; !ok {
		return false, nil
	}
	delete(m.items, itemID)
	return true, nil
}

func (m *MemoryStore) MarkMeetingSynced(_ context.Context, meetingID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.meetings[meetingID]
	if !ok {
		return false, ErrNotFound
	}
	if mt.CalendarSynced {
		return false, nil
	}
	mt.CalendarSynced = true
	m.meetings[meetingID] = mt
	return true, nil
}
