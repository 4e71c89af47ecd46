package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/classlens/classlens/internal/database"
	"github.com/pgvector/pgvector-go"
)

// StudentRepository provides PostgreSQL-backed student storage with an
// optional in-memory HNSW index for identification lookups.
type StudentRepository struct {
	pool        *Pool
	hnswIndex   *database.HNSWIndex
	hnswEnabled bool
	hnswMu      sync.RWMutex
}

// NewStudentRepository creates a new PostgreSQL student repository.
func NewStudentRepository(pool *Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

const studentColumns = `id, roll_no, name, email, year, department_id, face_embedding, notification_token, created_at`

// scanStudent scans one student row; face_embedding and notification_token
// are nullable.
func scanStudent(row interface{ Scan(...any) error }) (*database.Student, error) {
	var s database.Student
	var emb sql.Null[pgvector.Vector]
	var token sql.NullString

	if err := row.Scan(&s.ID, &s.RollNo, &s.Name, &s.Email, &s.Year, &s.DepartmentID, &emb, &token, &s.CreatedAt); err != nil {
		return nil, err
	}
	if emb.Valid {
		s.Embedding = emb.V.Slice()
	}
	if token.Valid {
		s.NotificationToken = token.String
	}
	return &s, nil
}

// CreateStudent inserts a student and returns its ID.
func (r *StudentRepository) CreateStudent(ctx context.Context, s *database.Student) (int64, error) {
	query := `
		INSERT INTO students (roll_no, name, email, year, department_id, notification_token)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query, s.RollNo, s.Name, s.Email, s.Year, s.DepartmentID, s.NotificationToken).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert student: %w", err)
	}
	return id, nil
}

// GetStudent retrieves a student by ID.
func (r *StudentRepository) GetStudent(ctx context.Context, id int64) (*database.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`

	s, err := scanStudent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query student %d: %w", id, err)
	}
	return s, nil
}

// GetStudentByRollNo retrieves a student by unique roll number.
func (r *StudentRepository) GetStudentByRollNo(ctx context.Context, rollNo int64) (*database.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE roll_no = $1`

	s, err := scanStudent(r.pool.QueryRow(ctx, query, rollNo))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query student by roll no %d: %w", rollNo, err)
	}
	return s, nil
}

// SetEmbedding stores the reference face embedding for a student, overwriting
// any previous registration. The HNSW index is updated in place when enabled.
func (r *StudentRepository) SetEmbedding(ctx context.Context, studentID int64, embedding []float32) error {
	query := `UPDATE students SET face_embedding = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, studentID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("update embedding for student %d: %w", studentID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return database.ErrNotFound
	}

	r.hnswMu.RLock()
	enabled := r.hnswEnabled
	r.hnswMu.RUnlock()
	if enabled {
		student, err := r.GetStudent(ctx, studentID)
		if err != nil {
			return fmt.Errorf("reload student for index update: %w", err)
		}
		r.hnswIndex.Upsert(student)
	}
	return nil
}

// SetNotificationToken stores the push destination for a student.
func (r *StudentRepository) SetNotificationToken(ctx context.Context, studentID int64, token string) error {
	result, err := r.pool.Exec(ctx, `UPDATE students SET notification_token = NULLIF($2, '') WHERE id = $1`, studentID, token)
	if err != nil {
		return fmt.Errorf("update notification token for student %d: %w", studentID, err)
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

// ListEnrolled returns the roster for a subject, ordered by roll number so
// matching sees candidates in a stable order.
func (r *StudentRepository) ListEnrolled(ctx context.Context, subjectID int64) ([]database.Student, error) {
	query := `
		SELECT s.id, s.roll_no, s.name, s.email, s.year, s.department_id, s.face_embedding, s.notification_token, s.created_at
		FROM students s
		JOIN enrollments e ON e.student_id = s.id
		WHERE e.subject_id = $1
		ORDER BY s.roll_no
	`

	rows, err := r.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query roster for subject %d: %w", subjectID, err)
	}
	defer rows.Close()

	return collectStudents(rows)
}

// ListRegistered returns all students with a reference embedding.
func (r *StudentRepository) ListRegistered(ctx context.Context) ([]database.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE face_embedding IS NOT NULL ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query registered students: %w", err)
	}
	defer rows.Close()

	return collectStudents(rows)
}

// SearchByName finds students by normalized display name. The SQL-side
// normalization (lower, unaccent, dashes to spaces, trim) mirrors
// database.NormalizeName step for step, trim last.
func (r *StudentRepository) SearchByName(ctx context.Context, name string) ([]database.Student, error) {
	normalized := database.NormalizeName(name)

	query := `
		SELECT ` + studentColumns + `
		FROM students
		WHERE TRIM(LOWER(REPLACE(unaccent(name), '-', ' '))) = $1
		ORDER BY roll_no
	`

	rows, err := r.pool.Query(ctx, query, normalized)
	if err != nil {
		return nil, fmt.Errorf("search students by name: %w", err)
	}
	defer rows.Close()

	return collectStudents(rows)
}

func collectStudents(rows *sql.Rows) ([]database.Student, error) {
	var students []database.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

// EnableHNSW builds the in-memory HNSW index from registered embeddings.
// Without it, FindSimilar falls back to a pgvector query.
func (r *StudentRepository) EnableHNSW(ctx context.Context) error {
	students, err := r.ListRegistered(ctx)
	if err != nil {
		return fmt.Errorf("load registered students: %w", err)
	}

	index := database.NewHNSWIndex()
	if err := index.BuildFromStudents(students); err != nil {
		return fmt.Errorf("build student index: %w", err)
	}

	r.hnswMu.Lock()
	r.hnswIndex = index
	r.hnswEnabled = true
	r.hnswMu.Unlock()
	return nil
}

// HNSWCount returns the number of students in the HNSW index.
func (r *StudentRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// FindSimilar returns the students whose reference embeddings are closest to
// the query, with cosine distances, nearest first.
func (r *StudentRepository) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]database.Student, []float64, error) {
	r.hnswMu.RLock()
	index := r.hnswIndex
	enabled := r.hnswEnabled
	r.hnswMu.RUnlock()

	if enabled && index.Count() > 0 {
		return index.Search(embedding, limit)
	}

	query := `
		SELECT ` + studentColumns + `, face_embedding <=> $1 AS distance
		FROM students
		WHERE face_embedding IS NOT NULL
		ORDER BY distance
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar students: %w", err)
	}
	defer rows.Close()

	var students []database.Student
	var distances []float64
	for rows.Next() {
		var s database.Student
		var emb sql.Null[pgvector.Vector]
		var token sql.NullString
		var distance float64
		if err := rows.Scan(&s.ID, &s.RollNo, &s.Name, &s.Email, &s.Year, &s.DepartmentID, &emb, &token, &s.CreatedAt, &distance); err != nil {
			return nil, nil, fmt.Errorf("scan similar student: %w", err)
		}
		if emb.Valid {
			s.Embedding = emb.V.Slice()
		}
		if token.Valid {
			s.NotificationToken = token.String
		}
		students = append(students, s)
		distances = append(distances, distance)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate similar students: %w", err)
	}

	return students, distances, nil
}
