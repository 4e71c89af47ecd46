package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/classlens/classlens/internal/config"
	"github.com/classlens/classlens/internal/database"
	"github.com/classlens/classlens/internal/database/postgres"
	"github.com/classlens/classlens/internal/vision"
)

var registerCmd = &cobra.Command{
	Use:   "register <directory>",
	Short: "Bulk-register student faces from a directory of photos",
	Long: `Register reference face embeddings for many students at once.
The directory must contain one portrait per student, named by roll number
(e.g. 42.jpg). Each photo must contain exactly one face; a new registration
overwrites the student's previous embedding.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)
}

// rollNoFromFilename extracts the roll number from a portrait filename.
func rollNoFromFilename(path string) (int64, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	rollNo, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("filename %q is not a roll number", base)
	}
	return rollNo, nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

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
	extractor := vision.NewExtractor(cfg.Extractor.URL, cfg.Extractor.Model)

	dir := args[0]
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var photos []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			photos = append(photos, filepath.Join(dir, entry.Name()))
		}
	}
	if len(photos) == 0 {
		return fmt.Errorf("no photos found in %s", dir)
	}

	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("Registering faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
	)

	registered := 0
	var failures []string
	for _, path := range photos {
		if err := registerOne(ctx, students, extractor, path); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", filepath.Base(path), err))
		} else {
			registered++
		}
		_ = bar.Add(1)
	}
	fmt.Println()

	fmt.Printf("Registered %d/%d students\n", registered, len(photos))
	for _, failure := range failures {
		fmt.Printf("  failed: %s\n", failure)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d registrations failed", len(failures))
	}
	return nil
}

func registerOne(ctx context.Context, students database.StudentStore, extractor *vision.Extractor, path string) error {
	rollNo, err := rollNoFromFilename(path)
	if err != nil {
		return err
	}

	student, err := students.GetStudentByRollNo(ctx, rollNo)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("no student with roll number %d", rollNo)
		}
		return err
	}

	photo, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	faces, err := extractor.DetectFaces(ctx, photo)
	if err != nil {
		return fmt.Errorf("face detection: %w", err)
	}
	if len(faces) != 1 {
		return fmt.Errorf("expected exactly one face, found %d", len(faces))
	}

	embedding, err := extractor.Embed(ctx, faces[0].Crop)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	return students.SetEmbedding(ctx, student.ID, embedding)
}
