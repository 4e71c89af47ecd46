package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/classlens/classlens/internal/attendance"
	"github.com/classlens/classlens/internal/database"
	"github.com/classlens/classlens/internal/match"
)

// maxFaceUploadBytes caps a single registration or identification photo.
const maxFaceUploadBytes = 16 << 20

// StudentsHandler handles student registration and identification.
type StudentsHandler struct {
	students  database.StudentStore
	extractor attendance.Extractor
	threshold float64
	logger    *zap.Logger
}

// NewStudentsHandler creates a new students handler.
func NewStudentsHandler(students database.StudentStore, extractor attendance.Extractor, threshold float64, logger *zap.Logger) *StudentsHandler {
	return &StudentsHandler{
		students:  students,
		extractor: extractor,
		threshold: threshold,
		logger:    logger,
	}
}

// CreateStudentRequest represents a student creation request.
type CreateStudentRequest struct {
	RollNo            int64  `json:"roll_no"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Year              int    `json:"year"`
	DepartmentID      int64  `json:"department_id"`
	NotificationToken string `json:"notification_token"`
}

// Create registers a new student without a face embedding.
func (h *StudentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.RollNo == 0 || req.Name == "" {
		respondError(w, http.StatusBadRequest, "roll_no and name are required")
		return
	}

	id, err := h.students.CreateStudent(r.Context(), &database.Student{
		RollNo:            req.RollNo,
		Name:              req.Name,
		Email:             req.Email,
		Year:              req.Year,
		DepartmentID:      req.DepartmentID,
		NotificationToken: req.NotificationToken,
	})
	if err != nil {
		h.logger.Error("student creation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create student")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// Get retrieves a student by ID.
func (h *StudentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	studentID, ok := urlParamInt64(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student ID")
		return
	}

	student, err := h.students.GetStudent(r.Context(), studentID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "student not found")
			return
		}
		h.logger.Error("student lookup failed", zap.Int64("student_id", studentID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to look up student")
		return
	}

	respondJSON(w, http.StatusOK, student)
}

// RegisterFace accepts a single-face photo and stores its embedding as the
// student's reference. A new upload overwrites the previous registration.
func (h *StudentsHandler) RegisterFace(w http.ResponseWriter, r *http.Request) {
	studentID, ok := urlParamInt64(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student ID")
		return
	}

	if _, err := h.students.GetStudent(r.Context(), studentID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "student not found")
			return
		}
		h.logger.Error("student lookup failed", zap.Int64("student_id", studentID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to look up student")
		return
	}

	photo, ok := h.readPhoto(w, r)
	if !ok {
		return
	}

	faces, err := h.extractor.DetectFaces(r.Context(), photo)
	if err != nil {
		h.logger.Error("face detection failed", zap.Int64("student_id", studentID), zap.Error(err))
		respondError(w, http.StatusBadGateway, "face detection failed")
		return
	}
	if len(faces) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "no face found in photo")
		return
	}
	if len(faces) > 1 {
		respondError(w, http.StatusUnprocessableEntity, "photo must contain exactly one face")
		return
	}

	embedding, err := h.extractor.Embed(r.Context(), faces[0].Crop)
	if err != nil {
		h.logger.Error("embedding failed", zap.Int64("student_id", studentID), zap.Error(err))
		respondError(w, http.StatusBadGateway, "embedding failed")
		return
	}

	if err := h.students.SetEmbedding(r.Context(), studentID, embedding); err != nil {
		h.logger.Error("storing embedding failed", zap.Int64("student_id", studentID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store embedding")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"student_id": studentID,
		"registered": true,
	})
}

// TokenRequest carries a student's push notification destination.
type TokenRequest struct {
	NotificationToken string `json:"notification_token"`
}

// UpdateToken stores the student's push notification destination. An empty
// token clears it.
func (h *StudentsHandler) UpdateToken(w http.ResponseWriter, r *http.Request) {
	studentID, ok := urlParamInt64(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid student ID")
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := h.students.SetNotificationToken(r.Context(), studentID, req.NotificationToken); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "student not found")
			return
		}
		h.logger.Error("storing notification token failed", zap.Int64("student_id", studentID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store notification token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"student_id": studentID,
	})
}

// IdentifyResult is one candidate from an identification query.
type IdentifyResult struct {
	Student database.Student `json:"student"`
	Score   float64          `json:"score"`
}

// Identify finds the registered student whose reference embedding is closest
// to the face in the uploaded photo.
func (h *StudentsHandler) Identify(w http.ResponseWriter, r *http.Request) {
	photo, ok := h.readPhoto(w, r)
	if !ok {
		return
	}

	faces, err := h.extractor.DetectFaces(r.Context(), photo)
	if err != nil {
		h.logger.Error("face detection failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "face detection failed")
		return
	}
	if len(faces) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "no face found in photo")
		return
	}

	embedding, err := h.extractor.Embed(r.Context(), faces[0].Crop)
	if err != nil {
		h.logger.Error("embedding failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "embedding failed")
		return
	}

	students, _, err := h.students.FindSimilar(r.Context(), embedding, 5)
	if err != nil {
		h.logger.Error("similarity search failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "similarity search failed")
		return
	}

	results := make([]IdentifyResult, 0, len(students))
	for _, student := range students {
		score := match.Score(embedding, student.Embedding)
		if score < h.threshold {
			continue
		}
		results = append(results, IdentifyResult{Student: student, Score: score})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"matches": results,
	})
}

// Search finds students by display name, ignoring case and diacritics.
func (h *StudentsHandler) Search(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}

	students, err := h.students.SearchByName(r.Context(), name)
	if err != nil {
		h.logger.Error("name search failed", zap.String("name", name), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"students": students,
	})
}

// readPhoto pulls the single "photo" file out of a multipart request.
func (h *StudentsHandler) readPhoto(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if err := r.ParseMultipartForm(maxFaceUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, false
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo file is required")
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read uploaded photo")
		return nil, false
	}
	return data, true
}
