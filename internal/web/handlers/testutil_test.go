package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/classlens/classlens/internal/attendance"
	"github.com/classlens/classlens/internal/database"
	"github.com/classlens/classlens/internal/notify"
	"github.com/classlens/classlens/internal/vision"
)

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// multipartBody builds a multipart body with the named file parts.
func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := writer.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("writing form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

// In-memory store fakes shared by the handler tests.

type stubStudentStore struct {
	mu         sync.Mutex
	nextID     int64
	students   map[int64]database.Student
	roster     []database.Student
	embeddings map[int64][]float32
}

func newStubStudentStore() *stubStudentStore {
	return &stubStudentStore{
		nextID:     1,
		students:   make(map[int64]database.Student),
		embeddings: make(map[int64][]float32),
	}
}

func (s *stubStudentStore) CreateStudent(ctx context.Context, st *database.Student) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	st.ID = id
	s.students[id] = *st
	return id, nil
}

func (s *stubStudentStore) GetStudent(ctx context.Context, id int64) (*database.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &st, nil
}

func (s *stubStudentStore) GetStudentByRollNo(ctx context.Context, rollNo int64) (*database.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.students {
		if st.RollNo == rollNo {
			return &st, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *stubStudentStore) SetEmbedding(ctx context.Context, studentID int64, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[studentID]
	if !ok {
		return database.ErrNotFound
	}
	st.Embedding = embedding
	s.students[studentID] = st
	s.embeddings[studentID] = embedding
	return nil
}

func (s *stubStudentStore) SetNotificationToken(ctx context.Context, studentID int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[studentID]
	if !ok {
		return database.ErrNotFound
	}
	st.NotificationToken = token
	s.students[studentID] = st
	return nil
}

func (s *stubStudentStore) ListEnrolled(ctx context.Context, subjectID int64) ([]database.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster, nil
}

func (s *stubStudentStore) ListRegistered(ctx context.Context) ([]database.Student, error) {
	return nil, nil
}

func (s *stubStudentStore) SearchByName(ctx context.Context, name string) ([]database.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Student
	for _, st := range s.students {
		if st.Name == name {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *stubStudentStore) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]database.Student, []float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Student
	var distances []float64
	for _, st := range s.students {
		if len(st.Embedding) > 0 {
			out = append(out, st)
			distances = append(distances, 0)
		}
		if len(out) == limit {
			break
		}
	}
	return out, distances, nil
}

type stubSessionStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]database.ClassSession
	subjects map[int64]database.Subject
	total    int
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{
		nextID:   1,
		sessions: make(map[int64]database.ClassSession),
		subjects: make(map[int64]database.Subject),
		total:    1,
	}
}

func (s *stubSessionStore) CreateSession(ctx context.Context, cs *database.ClassSession) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	cs.ID = id
	s.sessions[id] = *cs
	return id, nil
}

func (s *stubSessionStore) GetSession(ctx context.Context, id int64) (*database.ClassSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &cs, nil
}

func (s *stubSessionStore) GetSubject(ctx context.Context, id int64) (*database.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subjects[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &sub, nil
}

func (s *stubSessionStore) CountSessionsForSubject(ctx context.Context, subjectID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, nil
}

func (s *stubSessionStore) SetPhotoCount(ctx context.Context, sessionID int64, count int) error {
	return nil
}

type stubAttendanceStore struct {
	mu          sync.Mutex
	records     map[int64][]database.AttendanceRecord
	percentages map[string]*database.AttendancePercentage
}

func newStubAttendanceStore() *stubAttendanceStore {
	return &stubAttendanceStore{
		records:     make(map[int64][]database.AttendanceRecord),
		percentages: make(map[string]*database.AttendancePercentage),
	}
}

func (s *stubAttendanceStore) InsertRecords(ctx context.Context, records []database.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(records) == 0 {
		return nil
	}
	sessionID := records[0].SessionID
	if len(s.records[sessionID]) > 0 {
		return database.ErrAlreadyReconciled
	}
	s.records[sessionID] = append(s.records[sessionID], records...)
	return nil
}

func (s *stubAttendanceStore) GetRecords(ctx context.Context, sessionID int64) ([]database.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[sessionID], nil
}

func (s *stubAttendanceStore) FlipAndApply(ctx context.Context, sessionID, studentID, subjectID int64, totalSessions int) (bool, *database.AttendancePercentage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[sessionID]
	for i := range recs {
		if recs[i].StudentID != studentID {
			continue
		}
		recs[i].Present = !recs[i].Present
		delta := -1
		if recs[i].Present {
			delta = 1
		}
		p, _ := s.applyPresence(studentID, subjectID, delta, totalSessions)
		return recs[i].Present, p, nil
	}
	return false, nil, database.ErrNotFound
}

func (s *stubAttendanceStore) ApplyPresence(ctx context.Context, studentID, subjectID int64, delta, totalSessions int) (*database.AttendancePercentage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyPresence(studentID, subjectID, delta, totalSessions)
}

func (s *stubAttendanceStore) applyPresence(studentID, subjectID int64, delta, totalSessions int) (*database.AttendancePercentage, error) {
	key := fmt.Sprintf("%d/%d", studentID, subjectID)
	p, ok := s.percentages[key]
	if !ok {
		p = &database.AttendancePercentage{StudentID: studentID, SubjectID: subjectID}
		s.percentages[key] = p
	}
	p.PresentCount += delta
	if p.PresentCount < 0 {
		p.PresentCount = 0
	}
	if totalSessions > 0 {
		p.Percentage = float64(p.PresentCount) * 100.0 / float64(totalSessions)
	} else {
		p.Percentage = 0
	}
	if p.Percentage > 100 {
		p.Percentage = 100
	}
	p.UpdatedAt = time.Now()
	out := *p
	return &out, nil
}

func (s *stubAttendanceStore) GetPercentages(ctx context.Context, studentID int64) ([]database.AttendancePercentage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.AttendancePercentage
	for _, p := range s.percentages {
		if p.StudentID == studentID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// stubExtractor returns canned faces for every photo and a fixed embedding
// for every crop. block, when non-nil, is received from before detection
// returns, letting tests hold a pipeline run open.
type stubExtractor struct {
	faces     []vision.Face
	embedding []float32
	detectErr error
	block     chan struct{}
}

func (s *stubExtractor) DetectFaces(ctx context.Context, imageData []byte) ([]vision.Face, error) {
	if s.block != nil {
		<-s.block
	}
	if s.detectErr != nil {
		return nil, s.detectErr
	}
	return s.faces, nil
}

func (s *stubExtractor) Embed(ctx context.Context, cropData []byte) ([]float32, error) {
	if len(s.embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return s.embedding, nil
}

type stubNotifier struct{}

func (stubNotifier) Dispatch(ctx context.Context, subjectName string, classTime time.Time, results []notify.StudentResult) int {
	return 0
}

// handlerEnv wires handlers over in-memory stores with one seeded session,
// subject and enrolled student.
type handlerEnv struct {
	students   *stubStudentStore
	sessions   *stubSessionStore
	attendance *stubAttendanceStore
	extractor  *stubExtractor
	jobManager *JobManager
	pipeline   *attendance.Pipeline
}

func newHandlerEnv() *handlerEnv {
	students := newStubStudentStore()
	sessions := newStubSessionStore()
	store := newStubAttendanceStore()
	extractor := &stubExtractor{}

	sessions.subjects[10] = database.Subject{ID: 10, Name: "Databases"}
	sessions.sessions[1] = database.ClassSession{
		ID: 1, SubjectID: 10, TeacherID: 5,
		ClassTime: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	sessions.nextID = 2

	students.students[1] = database.Student{
		ID: 1, RollNo: 101, Name: "Alice", Embedding: []float32{1, 0, 0},
	}
	students.roster = []database.Student{students.students[1]}
	students.nextID = 2

	pipeline := attendance.NewPipeline(
		students, sessions, store,
		extractor, nil, stubNotifier{}, nil,
		zap.NewNop(),
		attendance.Options{Threshold: 0.65},
	)

	return &handlerEnv{
		students:   students,
		sessions:   sessions,
		attendance: store,
		extractor:  extractor,
		jobManager: NewJobManager(),
		pipeline:   pipeline,
	}
}

func (e *handlerEnv) sessionsHandler() *SessionsHandler {
	return NewSessionsHandler(e.sessions, e.pipeline, e.jobManager, zap.NewNop())
}

func (e *handlerEnv) attendanceHandler() *AttendanceHandler {
	return NewAttendanceHandler(e.attendance, e.pipeline, zap.NewNop())
}

func (e *handlerEnv) studentsHandler() *StudentsHandler {
	return NewStudentsHandler(e.students, e.extractor, 0.65, zap.NewNop())
}

// waitForJob polls the job manager until the job reaches a terminal status.
func waitForJob(t *testing.T, jm *JobManager, jobID string) JobView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job := jm.GetJob(jobID)
		if job == nil {
			t.Fatalf("job %s not found", jobID)
		}
		view := job.Snapshot()
		if view.Status == JobStatusCompleted || view.Status == JobStatusFailed {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", jobID)
	return JobView{}
}
