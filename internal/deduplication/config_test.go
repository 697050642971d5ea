package deduplication

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	if cfg.SimilarityThreshold != 0.85 {
		t.Errorf("SimilarityThreshold = %v, want 0.85", cfg.SimilarityThreshold)
	}
	if cfg.TimeWindow != 7*24*time.Hour {
		t.Errorf("TimeWindow = %v, want 7 days", cfg.TimeWindow)
	}
	if cfg.MaxImages != 5 || cfg.MaxCandidates != 50 {
		t.Errorf("MaxImages/MaxCandidates = %d/%d, want 5/50", cfg.MaxImages, cfg.MaxCandidates)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"threshold above one", func(c *Config) { c.SimilarityThreshold = 1.1 }, "similarity_threshold"},
		{"very similar below threshold", func(c *Config) { c.VerySimilarThreshold = 0.5 }, "very_similar_threshold"},
		{"weights do not sum", func(c *Config) { c.TextWeightBoth = 0.6 }, "text_weight_both + image_weight_both"},
		{"negative weight", func(c *Config) { c.ImageWeightOne = -0.2 }, "image_weight_one"},
		{"zero window", func(c *Config) { c.TimeWindow = 0 }, "time_window"},
		{"recurrence shorter than window", func(c *Config) { c.RecurrenceWindow = 24 * time.Hour }, "recurrence_window"},
		{"negative radius", func(c *Config) { c.RadiusMeters = -1 }, "radius_meters"},
		{"too many images", func(c *Config) { c.MaxImages = 21 }, "max_images"},
		{"zero candidates", func(c *Config) { c.MaxCandidates = 0 }, "max_candidates"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"ratio above one", func(c *Config) { c.AbortFailureRatio = 2 }, "abort_failure_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(t *testing.T, cfg Config)
	}{
		{
			name:    "no environment variables uses defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg Config) {
				if cfg != DefaultConfig() {
					t.Errorf("cfg = %s, want defaults", cfg)
				}
			},
		},
		{
			name: "valid custom configuration",
			envVars: map[string]string{
				"CIVICWATCH_DEDUP_THRESHOLD":           "0.8",
				"CIVICWATCH_DEDUP_WINDOW_DAYS":         "3",
				"CIVICWATCH_DEDUP_RECURRENCE_DAYS":     "60",
				"CIVICWATCH_DEDUP_RADIUS_METERS":       "0",
				"CIVICWATCH_DEDUP_FILTER_ASSET":        "true",
				"CIVICWATCH_DEDUP_FILTER_CATEGORY":     "false",
				"CIVICWATCH_DEDUP_CONCURRENCY":         "8",
				"CIVICWATCH_DEDUP_ABORT_FAILURE_RATIO": "0.5",
			},
			check: func(t *testing.T, cfg Config) {
				if cfg.SimilarityThreshold != 0.8 {
					t.Errorf("SimilarityThreshold = %v, want 0.8", cfg.SimilarityThreshold)
				}
				if cfg.TimeWindow != 3*24*time.Hour {
					t.Errorf("TimeWindow = %v, want 72h", cfg.TimeWindow)
				}
				if cfg.RecurrenceWindow != 60*24*time.Hour {
					t.Errorf("RecurrenceWindow = %v, want 60 days", cfg.RecurrenceWindow)
				}
				if cfg.RadiusMeters != 0 {
					t.Errorf("RadiusMeters = %v, want 0", cfg.RadiusMeters)
				}
				if !cfg.FilterByAsset || cfg.FilterByCategory {
					t.Errorf("filters = asset:%t category:%t, want true/false", cfg.FilterByAsset, cfg.FilterByCategory)
				}
				if cfg.Concurrency != 8 {
					t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
				}
				if cfg.AbortFailureRatio != 0.5 {
					t.Errorf("AbortFailureRatio = %v, want 0.5", cfg.AbortFailureRatio)
				}
			},
		},
		{
			name:    "unparseable threshold",
			envVars: map[string]string{"CIVICWATCH_DEDUP_THRESHOLD": "high"},
			wantErr: true,
		},
		{
			name:    "unparseable bool",
			envVars: map[string]string{"CIVICWATCH_DEDUP_FILTER_SEVERITY": "sometimes"},
			wantErr: true,
		},
		{
			name:    "parseable but invalid",
			envVars: map[string]string{"CIVICWATCH_DEDUP_MAX_CANDIDATES": "1000"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg, err := ConfigFromEnv()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ConfigFromEnv() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	for _, want := range []string{"Threshold: 0.85", "Radius: 500m", "MaxCandidates: 50"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}
