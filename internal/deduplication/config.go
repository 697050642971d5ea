package deduplication

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for duplicate detection
type Config struct {
	// SimilarityThreshold is the minimum combined score (inclusive) for a match
	// Default: 0.85
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// VerySimilarThreshold upgrades the description tag to very_similar_description
	// Default: 0.9
	VerySimilarThreshold float64 `yaml:"very_similar_threshold"`

	// Weights applied when both incidents have photos
	// Default: 0.7 text / 0.3 image
	TextWeightBoth  float64 `yaml:"text_weight_both"`
	ImageWeightBoth float64 `yaml:"image_weight_both"`

	// Weights applied when only one incident has photos. The image side
	// scores zero, so this caps the score at TextWeightOne.
	// Default: 0.8 text / 0.2 image
	TextWeightOne  float64 `yaml:"text_weight_one"`
	ImageWeightOne float64 `yaml:"image_weight_one"`

	// TimeWindow is how far either side of the target's report time to look
	// Default: 7 days
	TimeWindow time.Duration `yaml:"time_window"`

	// RecurrenceWindow is how far back resolved incidents are considered
	// when recurrence detection is requested
	// Default: 30 days
	RecurrenceWindow time.Duration `yaml:"recurrence_window"`

	// RadiusMeters limits candidates to those near the target when both have a location
	// Default: 500, 0 disables the radius filter
	RadiusMeters float64 `yaml:"radius_meters"`

	// MaxImages caps the photos embedded per incident
	// Default: 5
	MaxImages int `yaml:"max_images"`

	// MaxCandidates caps how many incidents are scored per detection
	// Default: 50
	MaxCandidates int `yaml:"max_candidates"`

	// Exact-match filters applied by the candidate retriever
	// Default: category on, asset and severity off
	FilterByAsset    bool `yaml:"filter_by_asset"`
	FilterByCategory bool `yaml:"filter_by_category"`
	FilterBySeverity bool `yaml:"filter_by_severity"`

	// Concurrency bounds how many candidates are scored at once
	// Default: 4
	Concurrency int `yaml:"concurrency"`

	// AbortFailureRatio makes detection return ErrDetectionDegraded when at
	// least this share of candidates could not be scored.
	// Default: 0 (never abort; failed candidates are skipped)
	AbortFailureRatio float64 `yaml:"abort_failure_ratio"`
}

// DefaultConfig returns the default detection configuration
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:  0.85,
		VerySimilarThreshold: 0.9,
		TextWeightBoth:       0.7,
		ImageWeightBoth:      0.3,
		TextWeightOne:        0.8,
		ImageWeightOne:       0.2,
		TimeWindow:           7 * 24 * time.Hour,
		RecurrenceWindow:     30 * 24 * time.Hour,
		RadiusMeters:         500,
		MaxImages:            5,
		MaxCandidates:        50,
		FilterByAsset:        false,
		FilterByCategory:     true,
		FilterBySeverity:     false,
		Concurrency:          4,
		AbortFailureRatio:    0,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0.0 || c.SimilarityThreshold > 1.0 {
		return fmt.Errorf("similarity_threshold must be between 0.0 and 1.0 (got %.2f)", c.SimilarityThreshold)
	}
	if c.VerySimilarThreshold < c.SimilarityThreshold || c.VerySimilarThreshold > 1.0 {
		return fmt.Errorf("very_similar_threshold must be between similarity_threshold and 1.0 (got %.2f)", c.VerySimilarThreshold)
	}
	for name, w := range map[string]float64{
		"text_weight_both":  c.TextWeightBoth,
		"image_weight_both": c.ImageWeightBoth,
		"text_weight_one":   c.TextWeightOne,
		"image_weight_one":  c.ImageWeightOne,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be between 0.0 and 1.0 (got %.2f)", name, w)
		}
	}
	if math.Abs(c.TextWeightBoth+c.ImageWeightBoth-1) > 1e-9 {
		return fmt.Errorf("text_weight_both + image_weight_both must equal 1.0")
	}
	if math.Abs(c.TextWeightOne+c.ImageWeightOne-1) > 1e-9 {
		return fmt.Errorf("text_weight_one + image_weight_one must equal 1.0")
	}
	if c.TimeWindow <= 0 {
		return fmt.Errorf("time_window must be positive (got %v)", c.TimeWindow)
	}
	if c.TimeWindow > 90*24*time.Hour {
		return fmt.Errorf("time_window too large (got %v, max 90 days)", c.TimeWindow)
	}
	if c.RecurrenceWindow < c.TimeWindow {
		return fmt.Errorf("recurrence_window must be at least time_window (got %v)", c.RecurrenceWindow)
	}
	if c.RadiusMeters < 0 {
		return fmt.Errorf("radius_meters cannot be negative (got %.0f)", c.RadiusMeters)
	}
	if c.MaxImages < 0 || c.MaxImages > 20 {
		return fmt.Errorf("max_images must be between 0 and 20 (got %d)", c.MaxImages)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be positive (got %d)", c.MaxCandidates)
	}
	if c.MaxCandidates > 500 {
		return fmt.Errorf("max_candidates too large (got %d, max 500)", c.MaxCandidates)
	}
	if c.Concurrency <= 0 || c.Concurrency > 64 {
		return fmt.Errorf("concurrency must be between 1 and 64 (got %d)", c.Concurrency)
	}
	if c.AbortFailureRatio < 0 || c.AbortFailureRatio > 1 {
		return fmt.Errorf("abort_failure_ratio must be between 0.0 and 1.0 (got %.2f)", c.AbortFailureRatio)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{Threshold: %.2f, VerySimilar: %.2f, Weights: %.1f/%.1f %.1f/%.1f, Window: %v, "+
			"Recurrence: %v, Radius: %.0fm, MaxImages: %d, MaxCandidates: %d, "+
			"Filters: asset=%t category=%t severity=%t, Concurrency: %d, AbortRatio: %.2f}",
		c.SimilarityThreshold, c.VerySimilarThreshold,
		c.TextWeightBoth, c.ImageWeightBoth, c.TextWeightOne, c.ImageWeightOne,
		c.TimeWindow, c.RecurrenceWindow, c.RadiusMeters, c.MaxImages, c.MaxCandidates,
		c.FilterByAsset, c.FilterByCategory, c.FilterBySeverity, c.Concurrency, c.AbortFailureRatio,
	)
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - CIVICWATCH_DEDUP_THRESHOLD: Minimum combined score (default: 0.85)
//   - CIVICWATCH_DEDUP_VERY_SIMILAR_THRESHOLD: very_similar_description cut-off (default: 0.9)
//   - CIVICWATCH_DEDUP_WINDOW_DAYS: Days either side of the report time (default: 7)
//   - CIVICWATCH_DEDUP_RECURRENCE_DAYS: Look-back for resolved incidents (default: 30)
//   - CIVICWATCH_DEDUP_RADIUS_METERS: Location radius, 0 disables (default: 500)
//   - CIVICWATCH_DEDUP_MAX_IMAGES: Photos embedded per incident (default: 5)
//   - CIVICWATCH_DEDUP_MAX_CANDIDATES: Incidents scored per detection (default: 50)
//   - CIVICWATCH_DEDUP_FILTER_ASSET / _FILTER_CATEGORY / _FILTER_SEVERITY: exact-match filters
//   - CIVICWATCH_DEDUP_CONCURRENCY: Candidates scored in parallel (default: 4)
//   - CIVICWATCH_DEDUP_ABORT_FAILURE_RATIO: Degraded-mode cut-off, 0 never aborts (default: 0)
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields of cfg from CIVICWATCH_DEDUP_* variables without validating
func ApplyEnv(cfg *Config) error {
	if err := parseEnvFloat("CIVICWATCH_DEDUP_THRESHOLD", &cfg.SimilarityThreshold); err != nil {
		return err
	}
	if err := parseEnvFloat("CIVICWATCH_DEDUP_VERY_SIMILAR_THRESHOLD", &cfg.VerySimilarThreshold); err != nil {
		return err
	}
	if err := parseEnvDuration("CIVICWATCH_DEDUP_WINDOW_DAYS", &cfg.TimeWindow, 24*time.Hour); err != nil {
		return err
	}
	if err := parseEnvDuration("CIVICWATCH_DEDUP_RECURRENCE_DAYS", &cfg.RecurrenceWindow, 24*time.Hour); err != nil {
		return err
	}
	if err := parseEnvFloat("CIVICWATCH_DEDUP_RADIUS_METERS", &cfg.RadiusMeters); err != nil {
		return err
	}
	if err := parseEnvInt("CIVICWATCH_DEDUP_MAX_IMAGES", &cfg.MaxImages); err != nil {
		return err
	}
	if err := parseEnvInt("CIVICWATCH_DEDUP_MAX_CANDIDATES", &cfg.MaxCandidates); err != nil {
		return err
	}
	if err := parseEnvBool("CIVICWATCH_DEDUP_FILTER_ASSET", &cfg.FilterByAsset); err != nil {
		return err
	}
	if err := parseEnvBool("CIVICWATCH_DEDUP_FILTER_CATEGORY", &cfg.FilterByCategory); err != nil {
		return err
	}
	if err := parseEnvBool("CIVICWATCH_DEDUP_FILTER_SEVERITY", &cfg.FilterBySeverity); err != nil {
		return err
	}
	if err := parseEnvInt("CIVICWATCH_DEDUP_CONCURRENCY", &cfg.Concurrency); err != nil {
		return err
	}
	if err := parseEnvFloat("CIVICWATCH_DEDUP_ABORT_FAILURE_RATIO", &cfg.AbortFailureRatio); err != nil {
		return err
	}
	return nil
}

// parseEnvFloat parses a float64 from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a whole number of multiplier units from an environment variable
func parseEnvDuration(key string, dest *time.Duration, multiplier time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = time.Duration(parsed) * multiplier
	return nil
}
