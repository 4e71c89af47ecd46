package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "classlens",
	Short: "Face-recognition attendance for classrooms",
	Long: `ClassLens computes classroom attendance from session photographs.
It detects faces, matches them against registered student embeddings,
reconciles per-session attendance records and keeps running per-subject
attendance percentages, notifying students of their status.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
