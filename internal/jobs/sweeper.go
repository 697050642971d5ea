package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/logging"
	"github.com/civicwatch/civicwatch/internal/services"
)

// SuggestionReviewer lists and rejects suggestions
type SuggestionReviewer interface {
	List(ctx context.Context, incidentID string, status database.SuggestionStatus) ([]database.MergeSuggestion, error)
	Reject(ctx context.Context, id, reviewerID, notes string) (*database.MergeSuggestion, error)
}

// SuggestionSweeper rejects pending suggestions that can no longer be approved:
// the primary was closed, or none of the duplicates is still open.
type SuggestionSweeper struct {
	db       *gorm.DB
	reviewer SuggestionReviewer
	logger   *slog.Logger
}

// NewSuggestionSweeper creates a new sweeper
func NewSuggestionSweeper(db *gorm.DB, reviewer SuggestionReviewer) *SuggestionSweeper {
	return &SuggestionSweeper{db: db, reviewer: reviewer, logger: logging.Component("suggestion_sweeper")}
}

// CheckAndSweep rejects stale pending suggestions and returns how many it rejected
func (s *SuggestionSweeper) CheckAndSweep(ctx context.Context) (int, error) {
	settings, err := database.GetOrCreateDedupJobSettings(s.db.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	if !settings.SweepEnabled {
		return 0, nil
	}

	pending, err := s.reviewer.List(ctx, "", database.SuggestionStatusPending)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, suggestion := range pending {
		reason, err := s.staleReason(ctx, &suggestion)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to check suggestion", "suggestion_id", suggestion.ID, "error", err)
			continue
		}
		if reason == "" {
			continue
		}

		if _, err := s.reviewer.Reject(ctx, suggestion.ID, database.ProposedBySystem, reason); err != nil {
			// a reviewer got there first
			if errors.Is(err, services.ErrConflict) {
				continue
			}
			s.logger.WarnContext(ctx, "failed to reject stale suggestion", "suggestion_id", suggestion.ID, "error", err)
			continue
		}
		swept++
		s.logger.InfoContext(ctx, "rejected stale merge suggestion", "suggestion_id", suggestion.ID, "reason", reason)
	}

	return swept, nil
}

func (s *SuggestionSweeper) staleReason(ctx context.Context, suggestion *database.MergeSuggestion) (string, error) {
	db := s.db.WithContext(ctx)
	primary, err := services.LoadIncident(db, suggestion.PrimaryIncidentID)
	if errors.Is(err, services.ErrNotFound) {
		return "primary incident no longer exists", nil
	}
	if err != nil {
		return "", err
	}
	if primary.Status.IsTerminal() {
		return "primary incident " + primary.DisplayNumber() + " was closed", nil
	}

	for _, id := range suggestion.DuplicateIncidentIDs {
		dup, err := services.LoadIncident(db, id)
		if errors.Is(err, services.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if !dup.Status.IsTerminal() {
			return "", nil
		}
	}
	return "no suggested duplicate is still open", nil
}

// Start begins the periodic sweeping
func (s *SuggestionSweeper) Start(stop <-chan struct{}) {
	settings, err := database.GetOrCreateDedupJobSettings(s.db)
	if err != nil {
		settings = database.NewDefaultDedupJobSettings()
	}
	ticker := time.NewTicker(minutes(settings.SweepIntervalMinutes))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			swept, err := s.CheckAndSweep(context.Background())
			if err != nil {
				s.logger.Error("suggestion sweeper error", "error", err)
			} else if swept > 0 {
				s.logger.Info("suggestion sweeper rejected stale suggestions", "count", swept)
			}
		case <-stop:
			s.logger.Info("suggestion sweeper stopped")
			return
		}
	}
}
