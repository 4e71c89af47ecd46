package handlers

import (
	"errors"
	"sync"
	"time"

	"github.com/classlens/classlens/internal/attendance"
)

// JobStatus represents the status of an async pipeline job.
type JobStatus string

// JobStatus constants define the lifecycle states of a pipeline job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ErrSessionBusy is returned when a pipeline run is already in flight for
// the session. Concurrent reconciliation of the same session must be
// rejected, not silently duplicated.
var ErrSessionBusy = errors.New("session is already being processed")

// Job tracks one async attendance pipeline run.
type Job struct {
	ID          string
	SessionID   int64
	Status      JobStatus
	Stage       attendance.Stage
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
	Result      *attendance.Summary

	mu sync.RWMutex
}

// JobView is a consistent snapshot of a job for JSON responses.
type JobView struct {
	ID          string              `json:"id"`
	SessionID   int64               `json:"session_id"`
	Status      JobStatus           `json:"status"`
	Stage       attendance.Stage    `json:"stage"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Result      *attendance.Summary `json:"result,omitempty"`
}

// Snapshot returns a copy of the job state safe to serialize.
func (j *Job) Snapshot() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobView{
		ID:          j.ID,
		SessionID:   j.SessionID,
		Status:      j.Status,
		Stage:       j.Stage,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Result:      j.Result,
	}
}

// SetStage records the pipeline stage the run is currently in.
func (j *Job) SetStage(stage attendance.Stage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Stage = stage
	j.Status = JobStatusRunning
}

func (j *Job) complete(summary *attendance.Summary) {
	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = JobStatusCompleted
	j.Stage = attendance.StageCompleted
	j.Result = summary
	j.CompletedAt = &now
}

func (j *Job) fail(err error) {
	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = JobStatusFailed
	j.Stage = attendance.StageFailed
	j.Error = err.Error()
	j.CompletedAt = &now
}

// JobManager manages async pipeline jobs and serializes runs per session.
type JobManager struct {
	jobs   map[string]*Job
	active map[int64]string // session id -> in-flight job id
	mu     sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		active: make(map[int64]string),
	}
}

// CreateJob registers a new job for a session. Returns ErrSessionBusy if a
// run is already in flight for that session.
func (m *JobManager) CreateJob(id string, sessionID int64) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.active[sessionID]; busy {
		return nil, ErrSessionBusy
	}

	job := &Job{
		ID:        id,
		SessionID: sessionID,
		Status:    JobStatusPending,
		Stage:     attendance.StageCreated,
		StartedAt: time.Now(),
	}
	m.jobs[id] = job
	m.active[sessionID] = id
	return job, nil
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// Complete marks a job successful and releases the session lock.
func (m *JobManager) Complete(job *Job, summary *attendance.Summary) {
	job.complete(summary)
	m.release(job.SessionID)
}

// Fail marks a job failed and releases the session lock.
func (m *JobManager) Fail(job *Job, err error) {
	job.fail(err)
	m.release(job.SessionID)
}

func (m *JobManager) release(sessionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, sessionID)
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []JobView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	views := make([]JobView, 0, len(m.jobs))
	for _, job := range m.jobs {
		views = append(views, job.Snapshot())
	}
	return views
}
