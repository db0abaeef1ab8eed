package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// sqlStore serves both embedded sqlite and postgres through database/sql.
// Queries are written with ? placeholders; the postgres flavor rebinds
// them to $n and switches inserts to RETURNING.
type sqlStore struct {
	db       *sql.DB
	postgres bool
}

func (s *sqlStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) CreateJobWithStages(ctx context.Context, job JobRecord, stages []StageRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO jobs (id, owner, status, error_text, overall_progress, config_json, audio_ref, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`),
		job.ID, job.Owner, job.Status, job.Error, job.OverallProgress, job.ConfigJSON, job.AudioRef, job.CreatedAt, job.UpdatedAt,
	); err != nil {
		return err
	}
	for _, st := range stages {
		if _, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO job_stages (job_id, name, status, progress, attempts, transient_failures, error_text, duration_millis, updated_at)
			 VALUES (?,?,?,?,?,?,?,?,?)`),
			job.ID, st.Name, st.Status, st.Progress, st.Attempts, st.TransientFailures, st.Error, st.DurationMillis, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) GetJob(ctx context.Context, jobID string) (JobRecord, bool, error) {
	var j JobRecord
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, owner, status, error_text, overall_progress, config_json, audio_ref, created_at, updated_at
		 FROM jobs WHERE id = ?`), jobID,
	).Scan(&j.ID, &j.Owner, &j.Status, &j.Error, &j.OverallProgress, &j.ConfigJSON, &j.AudioRef, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, false, nil
	}
	if err != nil {
		return JobRecord{}, false, err
	}
	return j, true, nil
}

func (s *sqlStore) UpdateJob(ctx context.Context, job JobRecord) error {
	job.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE jobs SET status=?, error_text=?, overall_progress=?, updated_at=? WHERE id=?`),
		job.Status, job.Error, job.OverallProgress, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

func (s *sqlStore) ListStages(ctx context.Context, jobID string) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT job_id, name, status, progress, attempts, transient_failures, error_text, duration_millis, updated_at
		 FROM job_stages WHERE job_id=?`), jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]StageRecord, 0, 5)
	for rows.Next() {
		var st StageRecord
		if err := rows.Scan(&st.JobID, &st.Name, &st.Status, &st.Progress, &st.Attempts, &st.TransientFailures, &st.Error, &st.DurationMillis, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateStage(ctx context.Context, stage StageRecord) error {
	stage.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE job_stages SET status=?, progress=?, attempts=?, transient_failures=?, error_text=?, duration_millis=?, updated_at=?
		 WHERE job_id=? AND name=?`),
		stage.Status, stage.Progress, stage.Attempts, stage.TransientFailures, stage.Error, stage.DurationMillis, stage.UpdatedAt, stage.JobID, stage.Name,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("stage %s/%s: %w", stage.JobID, stage.Name, ErrNotFound)
	}
	return nil
}

func (s *sqlStore) SaveMeeting(ctx context.Context, meeting MeetingRecord, items []ItemRecord) (int64, error) {
	if existing, ok, err := s.GetMeetingByJob(ctx, meeting.JobID); err != nil {
		return 0, err
	} else if ok {
		return existing.ID, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if meeting.CreatedAt.IsZero() {
		meeting.CreatedAt = now
	}
	meetingID, err := s.insertReturningID(ctx, tx,
		`INSERT INTO meetings (job_id, owner, transcript, summary_english, summary_original, user_input, query_result_json, calendar_synced, audio_duration_sec, processing_time_sec, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		meeting.JobID, meeting.Owner, meeting.Transcript, meeting.SummaryEnglish, meeting.SummaryOriginal,
		meeting.UserInput, meeting.QueryResultJSON, meeting.CalendarSynced, meeting.AudioDurationSec, meeting.ProcessingTimeSec, meeting.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if _, err := s.insertReturningID(ctx, tx,
			`INSERT INTO meeting_items (meeting_id, kind, data_json, created_at) VALUES (?,?,?,?)`,
			meetingID, item.Kind, item.DataJSON, now,
		); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return meetingID, nil
}

func (s *sqlStore) insertReturningID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	if s.postgres {
		var id int64
		err := tx.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const meetingColumns = `id, job_id, owner, transcript, summary_english, summary_original, user_input, query_result_json, calendar_synced, audio_duration_sec, processing_time_sec, created_at`

func scanMeeting(row interface{ Scan(...any) error }) (MeetingRecord, error) {
	var m MeetingRecord
	err := row.Scan(&m.ID, &m.JobID, &m.Owner, &m.Transcript, &m.SummaryEnglish, &m.SummaryOriginal,
		&m.UserInput, &m.QueryResultJSON, &m.CalendarSynced, &m.AudioDurationSec, &m.ProcessingTimeSec, &m.CreatedAt)
	return m, err
}

func (s *sqlStore) GetMeeting(ctx context.Context, meetingID int64) (MeetingRecord, bool, error) {
	m, err := scanMeeting(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+meetingColumns+` FROM meetings WHERE id=?`), meetingID))
	if errors.Is(err, sql.ErrNoRows) {
		return MeetingRecord{}, false, nil
	}
	if err != nil {
		return MeetingRecord{}, false, err
	}
	return m, true, nil
}

func (s *sqlStore) GetMeetingByJob(ctx context.Context, jobID string) (MeetingRecord, bool, error) {
	m, err := scanMeeting(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+meetingColumns+` FROM meetings WHERE job_id=?`), jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return MeetingRecord{}, false, nil
	}
	if err != nil {
		return MeetingRecord{}, false, err
	}
	return m, true, nil
}

func (s *sqlStore) ListMeetings(ctx context.Context, owner string, limit, offset int) ([]MeetingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+meetingColumns+` FROM meetings WHERE owner=? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		owner, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]MeetingRecord, 0, limit)
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqlStore) CountMeetings(ctx context.Context, owner string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(1) FROM meetings WHERE owner=?`), owner).Scan(&n)
	return n, err
}

func (s *sqlStore) DeleteMeeting(ctx context.Context, meetingID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM meeting_items WHERE meeting_id=?`), meetingID); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM meetings WHERE id=?`), meetingID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *sqlStore) ListItems(ctx context.Context, meetingID int64) ([]ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, meeting_id, kind, data_json, created_at FROM meeting_items WHERE meeting_id=? ORDER BY id ASC`), meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ItemRecord, 0, 8)
	for rows.Next() {
		var it ItemRecord
		if err := rows.Scan(&it.ID, &it.MeetingID, &it.Kind, &it.DataJSON, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetItem(ctx context.Context, itemID int64) (ItemRecord, bool, error) {
	var it ItemRecord
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, meeting_id, kind, data_json, created_at FROM meeting_items WHERE id=?`), itemID,
	).Scan(&it.ID, &it.MeetingID, &it.Kind, &it.DataJSON, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ItemRecord{}, false, nil
	}
	if err != nil {
		return ItemRecord{}, false, err
	}
	return it, true, nil
}

func (s *sqlStore) InsertItem(ctx context.Context, item ItemRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	id, err := s.insertReturningID(ctx, tx,
		`INSERT INTO meeting_items (meeting_id, kind, data_json, created_at) VALUES (?,?,?,?)`,
		item.MeetingID, item.Kind, item.DataJSON, item.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *sqlStore) UpdateItemData(ctx context.Context, itemID int64, dataJSON string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE meeting_items SET data_json=? WHERE id=?`), dataJSON, itemID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

func (s *sqlStore) DeleteItem(ctx context.Context, itemID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM meeting_items WHERE id=?`), itemID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *sqlStore) MarkMeetingSynced(ctx context.Context, meetingID int64) (bool, error) {
	// The WHERE clause is the compare-and-set: only the caller that
	// observes calendar_synced=false gets a row back.
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE meetings SET calendar_synced=TRUE WHERE id=? AND calendar_synced=FALSE`), meetingID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}
	if _, ok, err := s.GetMeeting(ctx, meetingID); err != nil {
		return false, err
	} else if !ok {
		return false, fmt.Errorf("meeting %d: %w", meetingID, ErrNotFound)
	}
	return false, nil
}
