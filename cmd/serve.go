package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/classlens/classlens/internal/attendance"
	"github.com/classlens/classlens/internal/config"
	"github.com/classlens/classlens/internal/database/postgres"
	"github.com/classlens/classlens/internal/notify"
	"github.com/classlens/classlens/internal/vision"
	"github.com/classlens/classlens/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the ClassLens API server.
The server accepts session photo uploads, runs the attendance pipeline in
the background and serves records, percentages and annotated images.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (string, int) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return host, port
}

// initStudentHNSW builds the in-memory HNSW index over registered embeddings.
// On failure the server keeps running with pgvector queries instead.
func initStudentHNSW(ctx context.Context, students *postgres.StudentRepository, logger *zap.Logger) {
	if err := students.EnableHNSW(ctx); err != nil {
		logger.Warn("failed to build student HNSW index, falling back to pgvector queries", zap.Error(err))
		return
	}
	logger.Info("student HNSW index built", zap.Int("students", students.HNSWCount()))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	students := postgres.NewStudentRepository(pool)
	sessions := postgres.NewSessionRepository(pool)
	attendanceRepo := postgres.NewAttendanceRepository(pool)

	initStudentHNSW(ctx, students, logger)

	extractor := vision.NewExtractor(cfg.Extractor.URL, cfg.Extractor.Model)

	var restorer attendance.Restorer
	if cfg.Restorer.Enabled {
		restorer = vision.NewRestorer(cfg.Restorer.URL)
	}

	var sender notify.Sender
	if cfg.Notify.URL != "" {
		sender = notify.NewPushClient(cfg.Notify.URL, cfg.Notify.APIKey)
	}
	dispatcher := notify.NewDispatcher(sender, cfg.Notify.Title, logger)

	media := vision.NewMediaStore(cfg.Media.Dir, cfg.Media.BaseURL)

	pipeline := attendance.NewPipeline(
		students, sessions, attendanceRepo,
		extractor, restorer, dispatcher, media,
		logger,
		attendance.Options{
			Threshold: cfg.Matcher.Threshold,
			Timeout:   time.Duration(cfg.Web.PipelineTimeoutMinutes) * time.Minute,
		},
	)

	host, port := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, host, port, web.Stores{
		Students:   students,
		Sessions:   sessions,
		Attendance: attendanceRepo,
	}, pipeline, extractor, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting ClassLens API", zap.String("host", host), zap.Int("port", port))
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
