package merging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/deduplication"
	"github.com/civicwatch/civicwatch/internal/logging"
	"github.com/civicwatch/civicwatch/internal/services"
)

// DuplicateDetector finds likely duplicates of an incident
type DuplicateDetector interface {
	DetectDuplicates(ctx context.Context, incident *database.Incident, opts deduplication.DetectOptions) (*deduplication.Result, error)
}

// SuggestionService owns the merge suggestion lifecycle:
// pending -> approved (runs the merge) or pending -> rejected.
type SuggestionService struct {
	db       *gorm.DB
	engine   *Engine
	detector DuplicateDetector
	logger   *slog.Logger
}

// NewSuggestionService creates the service. detector may be nil, in which case
// CreateIfWarranted is a no-op; review and listing keep working.
func NewSuggestionService(db *gorm.DB, engine *Engine, detector DuplicateDetector) *SuggestionService {
	s := &SuggestionService{
		db:     db,
		engine: engine,
		logger: logging.Component("merge_suggestions"),
	}
	if detector != nil {
		s.detector = detector
	} else {
		s.logger.Info("no duplicate detector configured, automatic suggestions disabled")
	}
	return s
}

// DetectionEnabled reports whether automatic suggestions are available
func (s *SuggestionService) DetectionEnabled() bool {
	return s.detector != nil
}

// CreateIfWarranted runs detection for a newly reported incident and files a
// pending suggestion for its best match. Returns nil without error when there
// is nothing to suggest or the pair is already pending.
func (s *SuggestionService) CreateIfWarranted(ctx context.Context, incident *database.Incident) (*database.MergeSuggestion, error) {
	if s.detector == nil || incident == nil {
		return nil, nil
	}
	ctx = logging.WithLogFields(ctx, logging.LogFields{IncidentID: incident.ID})

	res, err := s.detector.DetectDuplicates(ctx, incident, deduplication.DetectOptions{})
	if err != nil {
		return nil, fmt.Errorf("duplicate detection failed: %w", err)
	}

	var best *deduplication.Match
	for i := range res.Matches {
		// a fixed incident breaking again is a new incident, not a duplicate
		if !res.Matches[i].HasReason(deduplication.ReasonPossibleRecurrence) {
			best = &res.Matches[i]
			break
		}
	}
	if best == nil {
		return nil, nil
	}

	primaryID, duplicateID := incident.ID, best.IncidentID
	if best.ReportedAt.Before(incident.ReportedAt) ||
		(best.ReportedAt.Equal(incident.ReportedAt) && best.Number < incident.Number) {
		primaryID, duplicateID = best.IncidentID, incident.ID
	}

	pending, err := s.pendingNaming(s.db.WithContext(ctx), primaryID, duplicateID)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if p.Names(duplicateID) {
			s.logger.DebugContext(ctx, "pending suggestion already covers pair",
				"suggestion_id", p.ID, "primary_id", primaryID, "duplicate_id", duplicateID)
			return nil, nil
		}
	}

	suggestion := &database.MergeSuggestion{
		PrimaryIncidentID:    primaryID,
		DuplicateIncidentIDs: database.StringList{duplicateID},
		SimilarityScore:      best.Score,
		MatchReasons:         database.StringList(best.MatchReasons),
		ProposedBy:           database.ProposedBySystem,
		Status:               database.SuggestionStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(suggestion).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create merge suggestion: %w", err)
	}

	s.logger.InfoContext(ctx, "merge suggestion created",
		"suggestion_id", suggestion.ID, "primary_id", primaryID, "duplicate_id", duplicateID,
		"score", best.Score, "reasons", strings.Join(best.MatchReasons, ","))
	return suggestion, nil
}

// Get returns a suggestion by ID
func (s *SuggestionService) Get(ctx context.Context, id string) (*database.MergeSuggestion, error) {
	return loadSuggestion(s.db.WithContext(ctx), id)
}

// List returns suggestions naming incidentID on either side, newest first.
// An empty incidentID lists all; an empty status matches every status.
func (s *SuggestionService) List(ctx context.Context, incidentID string, status database.SuggestionStatus) ([]database.MergeSuggestion, error) {
	if status != "" && !status.IsValid() {
		return nil, services.NewValidation("status", "unknown suggestion status %q", status)
	}
	q := s.db.WithContext(ctx).Model(&database.MergeSuggestion{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if incidentID != "" {
		q = q.Where("(primary_incident_id = ? OR duplicate_incident_ids LIKE ?)", incidentID, likeID(incidentID))
	}

	var rows []database.MergeSuggestion
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list merge suggestions: %w", err)
	}
	if incidentID == "" {
		return rows, nil
	}
	out := rows[:0]
	for _, r := range rows {
		if r.Names(incidentID) {
			out = append(out, r)
		}
	}
	return out, nil
}

// HasPending reports whether any pending suggestion names the incident
func (s *SuggestionService) HasPending(ctx context.Context, incidentID string) (bool, error) {
	pending, err := s.pendingNaming(s.db.WithContext(ctx), incidentID)
	if err != nil {
		return false, err
	}
	for _, p := range pending {
		if p.Names(incidentID) {
			return true, nil
		}
	}
	return false, nil
}

// Approve moves a pending suggestion to approved and runs the merge in the same
// transaction. Duplicates closed since the suggestion was made are dropped.
func (s *SuggestionService) Approve(ctx context.Context, id, reviewerID, notes string) (*Result, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, services.NewValidation("reviewer_id", "reviewer is required")
	}
	ctx = logging.WithLogFields(ctx, logging.LogFields{SuggestionID: id})

	var result *Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		suggestion, err := loadSuggestion(tx, id)
		if err != nil {
			return err
		}
		if err := s.transition(tx, suggestion, database.SuggestionStatusApproved, reviewerID, notes); err != nil {
			return err
		}

		primary, err := services.LoadIncident(tx, suggestion.PrimaryIncidentID)
		if err != nil {
			return err
		}
		if primary.Status.IsTerminal() {
			return services.NewValidation("primary_incident_id", "primary incident %s is already %s", primary.DisplayNumber(), primary.Status)
		}

		open := make([]string, 0, len(suggestion.DuplicateIncidentIDs))
		for _, dupID := range suggestion.DuplicateIncidentIDs {
			dup, err := services.LoadIncident(tx, dupID)
			if err != nil && !errors.Is(err, services.ErrNotFound) {
				return err
			}
			if dup == nil || dup.Status.IsTerminal() {
				s.logger.WarnContext(ctx, "duplicate no longer open, dropping from approval", "duplicate_id", dupID)
				continue
			}
			open = append(open, dupID)
		}
		if len(open) == 0 {
			return services.NewValidation("duplicate_incident_ids", "no named duplicate is still open")
		}

		result, err = s.engine.MergeTx(ctx, tx, Request{
			PrimaryID:    suggestion.PrimaryIncidentID,
			DuplicateIDs: open,
			MergedBy:     reviewerID,
			Notes:        notes,
			SuggestionID: suggestion.ID,
			Confidence:   suggestion.SimilarityScore,
			Reason:       "approved suggestion: " + strings.Join(suggestion.MatchReasons, ", "),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "merge suggestion approved", "reviewer", reviewerID, "primary_id", result.Primary.ID)
	return result, nil
}

// Reject moves a pending suggestion to rejected. Nothing else changes.
func (s *SuggestionService) Reject(ctx context.Context, id, reviewerID, notes string) (*database.MergeSuggestion, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, services.NewValidation("reviewer_id", "reviewer is required")
	}
	ctx = logging.WithLogFields(ctx, logging.LogFields{SuggestionID: id})

	var out *database.MergeSuggestion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		suggestion, err := loadSuggestion(tx, id)
		if err != nil {
			return err
		}
		if err := s.transition(tx, suggestion, database.SuggestionStatusRejected, reviewerID, notes); err != nil {
			return err
		}
		out, err = loadSuggestion(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "merge suggestion rejected", "reviewer", reviewerID)
	return out, nil
}

// transition is a compare-and-swap out of pending. Losing the swap is a conflict.
func (s *SuggestionService) transition(tx *gorm.DB, suggestion *database.MergeSuggestion, to database.SuggestionStatus, reviewerID, notes string) error {
	if suggestion.Status != database.SuggestionStatusPending {
		return services.NewConflict("merge_suggestion", suggestion.ID, fmt.Sprintf("already %s", suggestion.Status))
	}
	now := time.Now().UTC()
	res := tx.Model(&database.MergeSuggestion{}).
		Where("id = ? AND status = ?", suggestion.ID, database.SuggestionStatusPending).
		Updates(map[string]interface{}{
			"status":       to,
			"reviewed_by":  reviewerID,
			"reviewed_at":  now,
			"review_notes": notes,
			"pending_key":  nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update merge suggestion %s: %w", suggestion.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return services.NewConflict("merge_suggestion", suggestion.ID, "no longer pending")
	}
	return nil
}

// pendingNaming loads pending suggestions that may name any of ids.
// The LIKE match is coarse; callers confirm with Names.
func (s *SuggestionService) pendingNaming(db *gorm.DB, ids ...string) ([]database.MergeSuggestion, error) {
	q := db.Model(&database.MergeSuggestion{}).Where("status = ?", database.SuggestionStatusPending)
	clauses := make([]string, 0, len(ids))
	args := make([]interface{}, 0, len(ids)*2)
	for _, id := range ids {
		clauses = append(clauses, "primary_incident_id = ? OR duplicate_incident_ids LIKE ?")
		args = append(args, id, likeID(id))
	}
	if len(clauses) > 0 {
		q = q.Where("("+strings.Join(clauses, " OR ")+")", args...)
	}
	var rows []database.MergeSuggestion
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending suggestions: %w", err)
	}
	return rows, nil
}

func loadSuggestion(db *gorm.DB, id string) (*database.MergeSuggestion, error) {
	var suggestion database.MergeSuggestion
	err := db.Where("id = ?", id).First(&suggestion).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, services.NewNotFound("merge_suggestion", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load merge suggestion %s: %w", id, err)
	}
	return &suggestion, nil
}

func likeID(id string) string {
	return `%"` + id + `"%`
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
