package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

type Config struct {
	Database  DatabaseConfig
	Extractor ExtractorConfig
	Restorer  RestorerConfig
	Notify    NotifyConfig
	Matcher   MatcherConfig
	Media     MediaConfig
	Web       WebConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type ExtractorConfig struct {
	URL   string // face detection/embedding server, defaults to http://localhost:8000
	Model string // embedding model name, defaults to facenet512
	Dim   int    // embedding dimension, defaults to 512
}

type RestorerConfig struct {
	URL     string // face restoration server, empty disables the stage
	Enabled bool
}

type NotifyConfig struct {
	URL    string // push gateway base URL, empty disables notifications
	APIKey string
	Title  string // app title shown in notifications, defaults to ClassLens
}

type MatcherConfig struct {
	Threshold float64 // similarity threshold in [0,1]
}

type MediaConfig struct {
	Dir     string // directory for annotated images (default ./media/images)
	BaseURL string // public base URL for serving annotated images
}

type WebConfig struct {
	PipelineTimeoutMinutes int    // per-session processing deadline (default 10)
	AllowedOrigins         string // comma-separated CORS origins; localhost is always allowed
}

// thresholdDefaults mirrors the embedded thresholds.yaml file.
type thresholdDefaults struct {
	Models map[string]float64 `yaml:"models"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float in (0,1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// resolveThreshold returns the similarity threshold for the given embedding
// model, preferring the MATCH_THRESHOLD env var over the embedded defaults.
func resolveThreshold(model string) float64 {
	var defaults thresholdDefaults
	if err := yaml.Unmarshal(thresholdsYAML, &defaults); err != nil {
		// Embedded file, should never happen in practice.
		panic("failed to unmarshal embedded thresholds.yaml: " + err.Error())
	}

	fallback := 0.65
	if v, ok := defaults.Models[model]; ok {
		fallback = v
	}
	return envFloat("MATCH_THRESHOLD", fallback)
}

func Load() *Config {
	model := envString("EXTRACTOR_MODEL", "facenet512")

	restorerURL := os.Getenv("RESTORER_URL")

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Extractor: ExtractorConfig{
			URL:   envString("EXTRACTOR_URL", "http://localhost:8000"),
			Model: model,
			Dim:   envInt("EXTRACTOR_DIM", 512),
		},
		Restorer: RestorerConfig{
			URL:     restorerURL,
			Enabled: restorerURL != "",
		},
		Notify: NotifyConfig{
			URL:    os.Getenv("NOTIFY_URL"),
			APIKey: os.Getenv("NOTIFY_API_KEY"),
			Title:  envString("NOTIFY_TITLE", "ClassLens"),
		},
		Matcher: MatcherConfig{
			Threshold: resolveThreshold(model),
		},
		Media: MediaConfig{
			Dir:     envString("MEDIA_DIR", "./media/images"),
			BaseURL: envString("MEDIA_BASE_URL", "/media/images"),
		},
		Web: WebConfig{
			PipelineTimeoutMinutes: envInt("PIPELINE_TIMEOUT_MINUTES", 10),
			AllowedOrigins:         os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
	}
}
