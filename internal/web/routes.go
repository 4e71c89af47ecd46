package web

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/classlens/classlens/internal/attendance"
	"github.com/classlens/classlens/internal/web/handlers"
)

func (s *Server) setupRoutes(stores Stores, pipeline *attendance.Pipeline, extractor attendance.Extractor) {
	sessionsHandler := handlers.NewSessionsHandler(stores.Sessions, pipeline, s.jobManager, s.logger)
	attendanceHandler := handlers.NewAttendanceHandler(stores.Attendance, pipeline, s.logger)
	studentsHandler := handlers.NewStudentsHandler(stores.Students, extractor, s.config.Matcher.Threshold, s.logger)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Sessions and the attendance pipeline
		r.Post("/sessions", sessionsHandler.Create)
		r.Post("/sessions/{id}/attendance", sessionsHandler.StartAttendance)
		r.Post("/sessions/{id}/attendance/flip", attendanceHandler.Flip)
		r.Get("/sessions/{id}/records", attendanceHandler.Records)
		r.Get("/jobs/{jobId}", sessionsHandler.JobStatus)

		// Students
		r.Post("/students", studentsHandler.Create)
		r.Get("/students/search", studentsHandler.Search)
		r.Get("/students/{id}", studentsHandler.Get)
		r.Post("/students/{id}/face", studentsHandler.RegisterFace)
		r.Put("/students/{id}/token", studentsHandler.UpdateToken)
		r.Get("/students/{id}/percentages", attendanceHandler.Percentages)
		r.Post("/students/identify", studentsHandler.Identify)
	})

	// Annotated session photos
	mediaDir := http.Dir(filepath.Clean(s.config.Media.Dir))
	s.router.Handle("/media/images/*", http.StripPrefix("/media/images/", http.FileServer(mediaDir)))
}
