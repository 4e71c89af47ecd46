package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/classlens/classlens/internal/database"
)

// SessionRepository provides PostgreSQL-backed subject and session storage.
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a new PostgreSQL session repository.
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateSession inserts a class session and returns its ID.
func (r *SessionRepository) CreateSession(ctx context.Context, s *database.ClassSession) (int64, error) {
	query := `
		INSERT INTO class_sessions (subject_id, department_id, year, teacher_id, class_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query, s.SubjectID, s.DepartmentID, s.Year, s.TeacherID, s.ClassTime).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id int64) (*database.ClassSession, error) {
	query := `
		SELECT id, subject_id, department_id, year, teacher_id, class_time, photo_count
		FROM class_sessions
		WHERE id = $1
	`

	var s database.ClassSession
	err := r.pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.SubjectID, &s.DepartmentID, &s.Year, &s.TeacherID, &s.ClassTime, &s.PhotoCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session %d: %w", id, err)
	}
	return &s, nil
}

// GetSubject retrieves a subject by ID.
func (r *SessionRepository) GetSubject(ctx context.Context, id int64) (*database.Subject, error) {
	var s database.Subject
	err := r.pool.QueryRow(ctx, `SELECT id, name FROM subjects WHERE id = $1`, id).Scan(&s.ID, &s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subject %d: %w", id, err)
	}
	return &s, nil
}

// CountSessionsForSubject counts all sessions created for a subject so far.
func (r *SessionRepository) CountSessionsForSubject(ctx context.Context, subjectID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM class_sessions WHERE subject_id = $1`, subjectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sessions for subject %d: %w", subjectID, err)
	}
	return count, nil
}

// SetPhotoCount records how many photos were submitted for a session.
func (r *SessionRepository) SetPhotoCount(ctx context.Context, sessionID int64, count int) error {
	result, err := r.pool.Exec(ctx, `UPDATE class_sessions SET photo_count = $2 WHERE id = $1`, sessionID, count)
	if err != nil {
		return fmt.Errorf("update photo count for session %d: %w", sessionID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return database.ErrNotFound
	}
	return nil
}
