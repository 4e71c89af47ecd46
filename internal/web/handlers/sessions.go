package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlens/classlens/internal/attendance"
	"github.com/classlens/classlens/internal/database"
)

// maxUploadBytes caps a session photo upload (all photos combined).
const maxUploadBytes = 64 << 20

// SessionsHandler handles session creation and pipeline invocation.
type SessionsHandler struct {
	sessions   database.SessionStore
	pipeline   *attendance.Pipeline
	jobManager *JobManager
	logger     *zap.Logger
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(sessions database.SessionStore, pipeline *attendance.Pipeline, jm *JobManager, logger *zap.Logger) *SessionsHandler {
	return &SessionsHandler{
		sessions:   sessions,
		pipeline:   pipeline,
		jobManager: jm,
		logger:     logger,
	}
}

// CreateSessionRequest represents a session creation request.
type CreateSessionRequest struct {
	SubjectID    int64     `json:"subject_id"`
	DepartmentID int64     `json:"department_id"`
	Year         int       `json:"year"`
	TeacherID    int64     `json:"teacher_id"`
	ClassTime    time.Time `json:"class_time"`
}

// Create creates a new class session.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.SubjectID == 0 || req.TeacherID == 0 {
		respondError(w, http.StatusBadRequest, "subject_id and teacher_id are required")
		return
	}
	if req.ClassTime.IsZero() {
		req.ClassTime = time.Now()
	}

	id, err := h.sessions.CreateSession(r.Context(), &database.ClassSession{
		SubjectID:    req.SubjectID,
		DepartmentID: req.DepartmentID,
		Year:         req.Year,
		TeacherID:    req.TeacherID,
		ClassTime:    req.ClassTime,
	})
	if err != nil {
		h.logger.Error("session creation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// StartAttendance accepts the session's photo set and starts the attendance
// pipeline in the background. The caller polls the returned job for status.
func (h *SessionsHandler) StartAttendance(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlParamInt64(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid session ID")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	fileHeaders := r.MultipartForm.File["photos"]
	if len(fileHeaders) == 0 {
		respondError(w, http.StatusBadRequest, "at least one photo is required")
		return
	}

	photos := make([][]byte, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		file, err := fh.Open()
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read uploaded photo")
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read uploaded photo")
			return
		}
		photos = append(photos, data)
	}

	// Reject the upload early when the session does not exist, rather than
	// failing the background job.
	if _, err := h.sessions.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("session lookup failed", zap.Int64("session_id", sessionID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to look up session")
		return
	}

	jobID := uuid.New().String()
	job, err := h.jobManager.CreateJob(jobID, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionBusy) {
			respondError(w, http.StatusConflict, "session is already being processed")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	// The request context dies when the handler returns; the run owns its
	// own lifetime (the pipeline applies its own deadline).
	go h.runJob(context.Background(), job, photos)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(JobStatusPending),
	})
}

func (h *SessionsHandler) runJob(ctx context.Context, job *Job, photos [][]byte) {
	summary, err := h.pipeline.Run(ctx, job.SessionID, photos, func(stage attendance.Stage) {
		if stage != attendance.StageCompleted && stage != attendance.StageFailed {
			job.SetStage(stage)
		}
	})
	if err != nil {
		h.logger.Error("attendance pipeline failed",
			zap.Int64("session_id", job.SessionID),
			zap.String("job_id", job.ID),
			zap.Error(err))
		h.jobManager.Fail(job, err)
		return
	}
	h.jobManager.Complete(job, summary)
}

// JobStatus returns the status of a pipeline job.
func (h *SessionsHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job.Snapshot())
}
