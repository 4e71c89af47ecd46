package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/classlens/classlens/internal/attendance"
	"github.com/classlens/classlens/internal/database"
)

// AttendanceHandler serves attendance records, manual corrections and
// percentage lookups.
type AttendanceHandler struct {
	attendance database.AttendanceStore
	pipeline   *attendance.Pipeline
	logger     *zap.Logger
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(store database.AttendanceStore, pipeline *attendance.Pipeline, logger *zap.Logger) *AttendanceHandler {
	return &AttendanceHandler{
		attendance: store,
		pipeline:   pipeline,
		logger:     logger,
	}
}

// FlipRequest names the students whose status should be toggled.
type FlipRequest struct {
	StudentIDs []int64 `json:"student_ids"`
}

// Flip toggles attendance records for a session and returns the updated
// percentages for the affected students.
func (h *AttendanceHandler) Flip(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlParamInt64(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid session ID")
		return
	}

	var req FlipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.StudentIDs) == 0 {
		respondError(w, http.StatusBadRequest, "student_ids must not be empty")
		return
	}

	percentages, err := h.pipeline.FlipAttendance(r.Context(), sessionID, req.StudentIDs)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "attendance record not found")
			return
		}
		h.logger.Error("attendance flip failed", zap.Int64("session_id", sessionID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to flip attendance")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"percentages": percentages,
	})
}

// Records lists the attendance records for a session.
func (h *AttendanceHandler) Records(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlParamInt64(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid session ID")
		return
	}

	records, err := h.attendance.GetRecords(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("fetching records failed", zap.Int64("session_id", sessionID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch records")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"records": records,
	})
}

// Percentages lists a student's per-subject attendance percentages.
func (h *AttendanceHandler) Percentages(w http.ResponseWriter, r *http.Request) {
	studentID, ok := urlParamInt64(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student ID")
		return
	}

	percentages, err := h.attendance.GetPercentages(r.Context(), studentID)
	if err != nil {
		h.logger.Error("fetching percentages failed", zap.Int64("student_id", studentID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch percentages")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"percentages": percentages,
	})
}
