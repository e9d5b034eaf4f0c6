package db

import (
	"database/sql"
	"errors"
	"time"
)

// TaskRecord captures the audit trail of one enqueued stacking task.
type TaskRecord struct {
	ID          string
	Site        string
	TelescopeID int64
	FrameType   string
	MinDate     string
	MaxDate     string
	Status      string
	Attempts    int
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RecordTaskQueued inserts a pending stacking task.
func (s *Store) RecordTaskQueued(rec TaskRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(
		`INSERT OR REPLACE INTO stacking_tasks (id, site, telescope_id, frame_type, min_date, max_date, status)
            VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.Site, rec.TelescopeID, rec.FrameType, rec.MinDate, rec.MaxDate, rec.Status)
	return err
}

// RecordTaskStart marks a task attempt as running.
func (s *Store) RecordTaskStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(
		`UPDATE stacking_tasks SET status='running', attempts=attempts+1, started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordTaskResult finalizes a task attempt with status and error message.
func (s *Store) RecordTaskResult(id string, status string, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(
		`UPDATE stacking_tasks SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`,
		status, errMsg, id)
	return err
}

// RecentTasks returns the latest stacking tasks up to limit.
func (s *Store) RecentTasks(limit int) ([]TaskRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(
		`SELECT id, site, telescope_id, frame_type, min_date, max_date, status, attempts, error_message,
            created_at, started_at, completed_at
            FROM stacking_tasks ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var site, frameType, minDate, maxDate, errorMsg sql.NullString
		var telescopeID sql.NullInt64
		var created time.Time
		var started, completed sql.NullTime
		if err := rows.Scan(&rec.ID, &site, &telescopeID, &frameType, &minDate, &maxDate,
			&rec.Status, &rec.Attempts, &errorMsg, &created, &started, &completed); err != nil {
			return nil, err
		}
		rec.Site = site.String
		rec.TelescopeID = telescopeID.Int64
		rec.FrameType = frameType.String
		rec.MinDate = minDate.String
		rec.MaxDate = maxDate.String
		rec.Error = errorMsg.String
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
