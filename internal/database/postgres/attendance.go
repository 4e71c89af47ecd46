package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/classlens/classlens/internal/database"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// AttendanceRepository provides PostgreSQL-backed attendance storage.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// InsertRecords inserts the complete record set for a session in a single
// transaction. The unique (session_id, student_id) constraint guarantees a
// second reconciliation of the same session fails with ErrAlreadyReconciled
// instead of duplicating records.
func (r *AttendanceRepository) InsertRecords(ctx context.Context, records []database.AttendanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO attendance_records (session_id, student_id, present, marked_at)
		VALUES ($1, $2, $3, $4)
	`

	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query, rec.SessionID, rec.StudentID, rec.Present, rec.MarkedAt); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
				return database.ErrAlreadyReconciled
			}
			return fmt.Errorf("insert attendance record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance records: %w", err)
	}
	return nil
}

// GetRecords returns all records for a session ordered by student.
func (r *AttendanceRepository) GetRecords(ctx context.Context, sessionID int64) ([]database.AttendanceRecord, error) {
	query := `
		SELECT id, session_id, student_id, present, marked_at
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY student_id
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query records for session %d: %w", sessionID, err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		var rec database.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Present, &rec.MarkedAt); err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}

// applyPresenceQuery upserts the (student, subject) aggregate. The increment
// happens inside the statement, never from values read earlier, so concurrent
// corrections cannot lose updates.
const applyPresenceQuery = `
	INSERT INTO attendance_percentages (student_id, subject_id, present_count, percentage, updated_at)
	VALUES (
		$1, $2,
		GREATEST($3, 0),
		LEAST(GREATEST(COALESCE(GREATEST($3, 0) * 100.0 / NULLIF($4, 0), 0), 0), 100),
		NOW()
	)
	ON CONFLICT (student_id, subject_id) DO UPDATE SET
		present_count = GREATEST(attendance_percentages.present_count + $3, 0),
		percentage = LEAST(GREATEST(COALESCE(GREATEST(attendance_percentages.present_count + $3, 0) * 100.0 / NULLIF($4, 0), 0), 0), 100),
		updated_at = NOW()
	RETURNING student_id, subject_id, present_count, percentage, updated_at
`

// FlipAndApply toggles a student's record for a session and moves the
// (student, subject) present count by plus or minus one in the same
// transaction. An error on either statement rolls back both, so the record
// never disagrees with its aggregate.
func (r *AttendanceRepository) FlipAndApply(ctx context.Context, sessionID, studentID, subjectID int64, totalSessions int) (bool, *database.AttendancePercentage, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback()

	flipQuery := `
		UPDATE attendance_records
		SET present = NOT present
		WHERE session_id = $1 AND student_id = $2
		RETURNING present
	`

	var present bool
	err = tx.QueryRowContext(ctx, flipQuery, sessionID, studentID).Scan(&present)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, database.ErrNotFound
	}
	if err != nil {
		return false, nil, fmt.Errorf("flip attendance for session %d student %d: %w", sessionID, studentID, err)
	}

	delta := -1
	if present {
		delta = 1
	}

	var p database.AttendancePercentage
	err = tx.QueryRowContext(ctx, applyPresenceQuery, studentID, subjectID, delta, totalSessions).
		Scan(&p.StudentID, &p.SubjectID, &p.PresentCount, &p.Percentage, &p.UpdatedAt)
	if err != nil {
		return false, nil, fmt.Errorf("apply correction for student %d subject %d: %w", studentID, subjectID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("commit attendance correction: %w", err)
	}
	return present, &p, nil
}

// ApplyPresence atomically adjusts the (student, subject) present count by
// delta and recomputes the percentage against totalSessions in one upsert.
func (r *AttendanceRepository) ApplyPresence(ctx context.Context, studentID, subjectID int64, delta, totalSessions int) (*database.AttendancePercentage, error) {
	var p database.AttendancePercentage
	err := r.pool.QueryRow(ctx, applyPresenceQuery, studentID, subjectID, delta, totalSessions).
		Scan(&p.StudentID, &p.SubjectID, &p.PresentCount, &p.Percentage, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("apply presence for student %d subject %d: %w", studentID, subjectID, err)
	}
	return &p, nil
}

// GetPercentages returns all per-subject aggregates for a student.
func (r *AttendanceRepository) GetPercentages(ctx context.Context, studentID int64) ([]database.AttendancePercentage, error) {
	query := `
		SELECT student_id, subject_id, present_count, percentage, updated_at
		FROM attendance_percentages
		WHERE student_id = $1
		ORDER BY subject_id
	`

	rows, err := r.pool.Query(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("query percentages for student %d: %w", studentID, err)
	}
	defer rows.Close()

	var percentages []database.AttendancePercentage
	for rows.Next() {
		var p database.AttendancePercentage
		if err := rows.Scan(&p.StudentID, &p.SubjectID, &p.PresentCount, &p.Percentage, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan percentage: %w", err)
		}
		percentages = append(percentages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate percentages: %w", err)
	}
	return percentages, nil
}
