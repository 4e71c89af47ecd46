package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/classlens/classlens/internal/config"
	"github.com/classlens/classlens/internal/database/postgres"
	"github.com/classlens/classlens/internal/match"
	"github.com/classlens/classlens/internal/vision"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <photo>",
	Short: "Identify the student in a photo",
	Long: `Identify the registered student whose reference embedding is closest
to the face in the given photo. Scores below the configured threshold are
not reported.`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().Int("limit", 5, "Maximum number of candidates to show")
}

func runIdentify(cmd *cobra.Command, args []string) error {
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
	students := postgres.NewStudentRepository(pool)
	extractor := vision.NewExtractor(cfg.Extractor.URL, cfg.Extractor.Model)

	photo, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading photo: %w", err)
	}

	faces, err := extractor.DetectFaces(ctx, photo)
	if err != nil {
		return fmt.Errorf("face detection: %w", err)
	}
	if len(faces) == 0 {
		return errors.New("no face found in photo")
	}

	embedding, err := extractor.Embed(ctx, faces[0].Crop)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	limit := mustGetInt(cmd, "limit")
	candidates, _, err := students.FindSimilar(ctx, embedding, limit)
	if err != nil {
		return fmt.Errorf("similarity search: %w", err)
	}

	shown := 0
	for _, student := range candidates {
		score := match.Score(embedding, student.Embedding)
		if score < cfg.Matcher.Threshold {
			continue
		}
		fmt.Printf("%s (roll %d) score=%.3f\n", student.Name, student.RollNo, score)
		shown++
	}
	if shown == 0 {
		fmt.Println("No match above threshold")
	}
	return nil
}
