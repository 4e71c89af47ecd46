package config

import (
	"testing"
)

func TestResolveThreshold_EmbeddedDefaults(t *testing.T) {
	tests := []struct {
		model string
		want  float64
	}{
		{"facenet512", 0.67},
		{"arcface", 0.64},
		{"sface", 0.60},
		{"unknown-model", 0.65},
	}
	for _, tt := range tests {
		if got := resolveThreshold(tt.model); got != tt.want {
			t.Errorf("threshold for %s: expected %v, got %v", tt.model, tt.want, got)
		}
	}
}

func TestResolveThreshold_EnvOverride(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "0.42")

	if got := resolveThreshold("facenet512"); got != 0.42 {
		t.Errorf("expected env override 0.42, got %v", got)
	}
}

func TestResolveThreshold_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "1.5")

	if got := resolveThreshold("facenet512"); got != 0.67 {
		t.Errorf("out-of-range override must fall back to model default, got %v", got)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "")
	if got := envInt("TEST_ENV_INT", 25); got != 25 {
		t.Errorf("expected default 25 for unset, got %d", got)
	}

	t.Setenv("TEST_ENV_INT", "40")
	if got := envInt("TEST_ENV_INT", 25); got != 40 {
		t.Errorf("expected 40, got %d", got)
	}

	t.Setenv("TEST_ENV_INT", "-3")
	if got := envInt("TEST_ENV_INT", 25); got != 25 {
		t.Errorf("expected default for non-positive value, got %d", got)
	}

	t.Setenv("TEST_ENV_INT", "not-a-number")
	if got := envInt("TEST_ENV_INT", 25); got != 25 {
		t.Errorf("expected default for invalid value, got %d", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "EXTRACTOR_URL", "EXTRACTOR_MODEL", "EXTRACTOR_DIM",
		"RESTORER_URL", "NOTIFY_URL", "NOTIFY_TITLE", "MATCH_THRESHOLD",
		"MEDIA_DIR", "MEDIA_BASE_URL", "PIPELINE_TIMEOUT_MINUTES",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Extractor.URL != "http://localhost:8000" {
		t.Errorf("unexpected extractor URL %q", cfg.Extractor.URL)
	}
	if cfg.Extractor.Model != "facenet512" {
		t.Errorf("unexpected model %q", cfg.Extractor.Model)
	}
	if cfg.Extractor.Dim != 512 {
		t.Errorf("unexpected dimension %d", cfg.Extractor.Dim)
	}
	if cfg.Restorer.Enabled {
		t.Error("restorer must be disabled without RESTORER_URL")
	}
	if cfg.Notify.Title != "ClassLens" {
		t.Errorf("unexpected notification title %q", cfg.Notify.Title)
	}
	if cfg.Matcher.Threshold != 0.67 {
		t.Errorf("expected facenet512 threshold 0.67, got %v", cfg.Matcher.Threshold)
	}
	if cfg.Web.PipelineTimeoutMinutes != 10 {
		t.Errorf("expected 10 minute default timeout, got %d", cfg.Web.PipelineTimeoutMinutes)
	}
	if cfg.Database.MaxOpenConns != 25 || cfg.Database.MaxIdleConns != 5 {
		t.Errorf("unexpected pool defaults %d/%d", cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	}
}

func TestLoad_RestorerEnabledByURL(t *testing.T) {
	t.Setenv("RESTORER_URL", "http://localhost:8001")

	cfg := Load()
	if !cfg.Restorer.Enabled {
		t.Error("restorer must be enabled when RESTORER_URL is set")
	}
	if cfg.Restorer.URL != "http://localhost:8001" {
		t.Errorf("unexpected restorer URL %q", cfg.Restorer.URL)
	}
}

func TestLoad_ThresholdFollowsModel(t *testing.T) {
	t.Setenv("EXTRACTOR_MODEL", "arcface")
	t.Setenv("MATCH_THRESHOLD", "")

	cfg := Load()
	if cfg.Matcher.Threshold != 0.64 {
		t.Errorf("expected arcface threshold 0.64, got %v", cfg.Matcher.Threshold)
	}
}
