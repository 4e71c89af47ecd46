package database

import (
	"time"
)

// Student represents an enrolled student. Embedding is nil until the student
// registers a reference face; registration overwrites any previous embedding.
type Student struct {
	ID                int64     `json:"id"`
	RollNo            int64     `json:"roll_no"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Year              int       `json:"year"`
	DepartmentID      int64     `json:"department_id"`
	Embedding         []float32 `json:"-"`
	NotificationToken string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

// HasEmbedding reports whether the student can participate in face matching.
func (s *Student) HasEmbedding() bool {
	return len(s.Embedding) > 0
}

// Department groups students and subjects by faculty.
type Department struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Subject is a course for which attendance sessions are held.
type Subject struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ClassSession is one class meeting for which attendance is computed from a
// set of photographs. Immutable after creation except for the photo count.
type ClassSession struct {
	ID           int64     `json:"id"`
	SubjectID    int64     `json:"subject_id"`
	DepartmentID int64     `json:"department_id"`
	Year         int       `json:"year"`
	TeacherID    int64     `json:"teacher_id"`
	ClassTime    time.Time `json:"class_time"`
	PhotoCount   int       `json:"photo_count"`
}

// AttendanceRecord is the present/absent decision for one student in one
// session. Exactly one record exists per enrolled student per session;
// MarkedAt carries the session's class time, not processing time.
type AttendanceRecord struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	StudentID int64     `json:"student_id"`
	Present   bool      `json:"present"`
	MarkedAt  time.Time `json:"marked_at"`
}

// AttendancePercentage is the running per-(student, subject) aggregate.
// Percentage is always present_count * 100 / total sessions held so far,
// clamped to [0, 100].
type AttendancePercentage struct {
	StudentID    int64     `json:"student_id"`
	SubjectID    int64     `json:"subject_id"`
	PresentCount int       `json:"present_count"`
	Percentage   float64   `json:"percentage"`
	UpdatedAt    time.Time `json:"updated_at"`
}
