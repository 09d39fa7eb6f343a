package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/KhawLiang/Staff-Detection/internal/pipeline"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Session is the stored history record of one detection session.
type Session struct {
	ID            string    `json:"id"`
	SourcePath    string    `json:"source_path"`
	OutputPath    string    `json:"output_path"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	FPS           float64   `json:"fps"`
	FramesWritten int       `json:"frames_written"`
	FramesSkipped int       `json:"frames_skipped"`
	PresentErrors int       `json:"present_errors"`
	EndReason     string    `json:"end_reason"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitzero"`
}

// Finished reports whether the session has ended.
func (s *Session) Finished() bool {
	return !s.EndedAt.IsZero()
}

// FromPipeline converts a controller session snapshot to a record.
func FromPipeline(p pipeline.Session) *Session {
	return &Session{
		ID:            p.ID,
		SourcePath:    p.SourcePath,
		OutputPath:    p.OutputPath,
		Width:         p.Width,
		Height:        p.Height,
		FPS:           p.FPS,
		FramesWritten: p.FramesWritten,
		FramesSkipped: p.FramesSkipped,
		PresentErrors: p.PresentErrors,
		EndReason:     p.EndReason,
		Error:         p.Error,
		StartedAt:     p.StartedAt,
		EndedAt:       p.EndedAt,
	}
}

// SessionRepository provides access to the session history.
// It implements pipeline.SessionObserver.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

const sessionColumns = `id, source_path, output_path, width, height, fps, frames_written,
	frames_skipped, present_errors, end_reason, error, started_at, ended_at`

// Create inserts a new session. StartedAt defaults to now.
func (r *SessionRepository) Create(s *Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.SourcePath, s.OutputPath, s.Width, s.Height, s.FPS, s.FramesWritten,
		s.FramesSkipped, s.PresentErrors, s.EndReason, s.Error, s.StartedAt, nullTime(s.EndedAt),
	)
	return err
}

// Finish records the outcome of a session. EndedAt defaults to now.
func (r *SessionRepository) Finish(s *Session) error {
	if s.EndedAt.IsZero() {
		s.EndedAt = time.Now()
	}

	result, err := r.db.Exec(
		`UPDATE sessions SET frames_written = ?, frames_skipped = ?, present_errors = ?,
		 end_reason = ?, error = ?, ended_at = ?
		 WHERE id = ?`,
		s.FramesWritten, s.FramesSkipped, s.PresentErrors, s.EndReason, s.Error, s.EndedAt, s.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// List returns the most recent sessions first. A limit of zero or less returns all.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Delete removes a session record. The output video is left on disk.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// SessionStarted stores a newly started controller session.
func (r *SessionRepository) SessionStarted(s pipeline.Session) error {
	return r.Create(FromPipeline(s))
}

// SessionEnded stores the outcome of a controller session.
func (r *SessionRepository) SessionEnded(s pipeline.Session) error {
	return r.Finish(FromPipeline(s))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	s := &Session{}
	var endedAt sql.NullTime

	err := row.Scan(&s.ID, &s.SourcePath, &s.OutputPath, &s.Width, &s.Height, &s.FPS,
		&s.FramesWritten, &s.FramesSkipped, &s.PresentErrors, &s.EndReason, &s.Error,
		&s.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	if endedAt.Valid {
		s.EndedAt = endedAt.Time
	}
	return s, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
