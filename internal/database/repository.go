package database

import (
	"context"
	"errors"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyReconciled is returned when attendance records already exist
	// for a session. Reprocessing must surface a conflict, never duplicate
	// records silently.
	ErrAlreadyReconciled = errors.New("session already reconciled")
)

// StudentStore provides access to students and their reference embeddings.
type StudentStore interface {
	// CreateStudent inserts a student and returns its ID.
	CreateStudent(ctx context.Context, s *Student) (int64, error)
	// GetStudent retrieves a student by ID.
	GetStudent(ctx context.Context, id int64) (*Student, error)
	// GetStudentByRollNo retrieves a student by unique roll number.
	GetStudentByRollNo(ctx context.Context, rollNo int64) (*Student, error)
	// SetEmbedding stores the reference face embedding for a student,
	// overwriting any previous registration.
	SetEmbedding(ctx context.Context, studentID int64, embedding []float32) error
	// SetNotificationToken stores the push destination for a student.
	SetNotificationToken(ctx context.Context, studentID int64, token string) error
	// ListEnrolled returns the roster for a subject, including students
	// without a registered embedding.
	ListEnrolled(ctx context.Context, subjectID int64) ([]Student, error)
	// ListRegistered returns all students with a reference embedding.
	ListRegistered(ctx context.Context) ([]Student, error)
	// SearchByName finds students by normalized display name.
	SearchByName(ctx context.Context, name string) ([]Student, error)
	// FindSimilar returns the students whose reference embeddings are
	// closest to the query, with cosine distances.
	FindSimilar(ctx context.Context, embedding []float32, limit int) ([]Student, []float64, error)
}

// SessionStore provides access to subjects and class sessions.
type SessionStore interface {
	// CreateSession inserts a class session and returns its ID.
	CreateSession(ctx context.Context, s *ClassSession) (int64, error)
	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, id int64) (*ClassSession, error)
	// GetSubject retrieves a subject by ID.
	GetSubject(ctx context.Context, id int64) (*Subject, error)
	// CountSessionsForSubject counts all sessions created for a subject so
	// far. Recomputed at every aggregate update, never cached, so earlier
	// percentages reflect sessions held since.
	CountSessionsForSubject(ctx context.Context, subjectID int64) (int, error)
	// SetPhotoCount records how many photos were submitted for a session.
	SetPhotoCount(ctx context.Context, sessionID int64, count int) error
}

// AttendanceStore provides access to attendance records and aggregates.
type AttendanceStore interface {
	// InsertRecords inserts the complete record set for a session in one
	// transaction. Returns ErrAlreadyReconciled if any record for the
	// session already exists.
	InsertRecords(ctx context.Context, records []AttendanceRecord) error
	// GetRecords returns all records for a session.
	GetRecords(ctx context.Context, sessionID int64) ([]AttendanceRecord, error)
	// FlipAndApply toggles a student's record for a session and moves the
	// (student, subject) present count by plus or minus one accordingly,
	// both in one transaction. A failure rolls back the flip too, so the
	// record can never disagree with its aggregate. Returns the new status
	// and the updated aggregate, or ErrNotFound when no record exists.
	FlipAndApply(ctx context.Context, sessionID, studentID, subjectID int64, totalSessions int) (bool, *AttendancePercentage, error)
	// ApplyPresence atomically adjusts the (student, subject) present count
	// by delta and recomputes the percentage against totalSessions in a
	// single statement. Rows are upserted; delta 0 recomputes only.
	ApplyPresence(ctx context.Context, studentID, subjectID int64, delta, totalSessions int) (*AttendancePercentage, error)
	// GetPercentages returns all per-subject aggregates for a student.
	GetPercentages(ctx context.Context, studentID int64) ([]AttendancePercentage, error)
}
