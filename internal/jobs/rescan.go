package jobs

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/logging"
)

// IncidentLister lists recently reported open incidents
type IncidentLister interface {
	ListOpenReportedSince(ctx context.Context, since time.Time, limit int) ([]database.Incident, error)
}

// SuggestionWorkflow is the part of the suggestion lifecycle the rescan needs
type SuggestionWorkflow interface {
	CreateIfWarranted(ctx context.Context, incident *database.Incident) (*database.MergeSuggestion, error)
	HasPending(ctx context.Context, incidentID string) (bool, error)
}

// RescanJob periodically re-runs detection over recent open incidents that
// have no pending suggestion. It picks up incidents whose embeddings were
// unavailable when they were reported.
type RescanJob struct {
	db          *gorm.DB
	incidents   IncidentLister
	suggestions SuggestionWorkflow
	logger      *slog.Logger
}

// NewRescanJob creates a new rescan job. A nil workflow makes Run a no-op.
func NewRescanJob(db *gorm.DB, incidents IncidentLister, suggestions SuggestionWorkflow) *RescanJob {
	return &RescanJob{
		db:          db,
		incidents:   incidents,
		suggestions: suggestions,
		logger:      logging.Component("rescan"),
	}
}

// Run executes one iteration of the rescan.
// Returns the number of suggestions created.
func (j *RescanJob) Run(ctx context.Context) (int, error) {
	settings, err := database.GetOrCreateDedupJobSettings(j.db.WithContext(ctx))
	if err != nil {
		return 0, err
	}

	if !settings.RescanEnabled || !settings.AutoSuggestEnabled {
		j.logger.DebugContext(ctx, "rescan is disabled, skipping")
		return 0, nil
	}
	if j.suggestions == nil {
		j.logger.DebugContext(ctx, "no suggestion workflow configured, skipping rescan")
		return 0, nil
	}

	since := time.Now().Add(-time.Duration(settings.RescanLookbackHours) * time.Hour)
	incidents, err := j.incidents.ListOpenReportedSince(ctx, since, settings.MaxIncidentsToRescan)
	if err != nil {
		return 0, err
	}

	// Need at least 2 incidents to find a duplicate
	if len(incidents) < 2 {
		return 0, nil
	}

	timeout := time.Duration(settings.DetectionTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	created := 0
	for i := range incidents {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		inc := &incidents[i]

		pending, err := j.suggestions.HasPending(ctx, inc.ID)
		if err != nil {
			j.logger.WarnContext(ctx, "failed to check pending suggestions", "incident_id", inc.ID, "error", err)
			continue
		}
		if pending {
			continue
		}

		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		suggestion, err := j.suggestions.CreateIfWarranted(jobCtx, inc)
		cancel()
		if err != nil {
			j.logger.WarnContext(ctx, "rescan detection failed", "incident_id", inc.ID, "error", err)
			continue
		}
		if suggestion != nil {
			created++
		}
	}

	return created, nil
}

// Start begins the periodic rescans
func (j *RescanJob) Start(stop <-chan struct{}) {
	settings, err := database.GetOrCreateDedupJobSettings(j.db)
	if err != nil {
		j.logger.Warn("failed to get rescan settings, using default interval", "error", err)
		settings = database.NewDefaultDedupJobSettings()
	}

	ticker := time.NewTicker(minutes(settings.RescanIntervalMinutes))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-stop:
					cancel()
				case <-ctx.Done():
				}
			}()
			created, err := j.Run(ctx)
			cancel()
			if err != nil {
				j.logger.Error("rescan job error", "error", err)
			} else if created > 0 {
				j.logger.Info("rescan job created suggestions", "count", created)
			}

			// Refresh interval from settings (in case it changed)
			newSettings, err := database.GetOrCreateDedupJobSettings(j.db)
			if err == nil && newSettings.RescanIntervalMinutes != settings.RescanIntervalMinutes {
				settings = newSettings
				ticker.Reset(minutes(settings.RescanIntervalMinutes))
				j.logger.Info("rescan interval updated", "minutes", settings.RescanIntervalMinutes)
			}

		case <-stop:
			j.logger.Info("rescan job stopped")
			return
		}
	}
}

// minutes converts a settings value to a ticker interval, never below one minute
func minutes(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * time.Minute
}
