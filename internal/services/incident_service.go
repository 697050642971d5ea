package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/utils"
)

const (
	maxTitleRunes       = 255
	maxCommentRunes     = 10000
	maxMutateAttempts   = 3
	maxNumberingAttempt = 5
)

// CreationHook is notified after an incident has been committed.
// Implementations must not block; detection runs elsewhere.
type CreationHook interface {
	IncidentCreated(incident database.Incident)
}

// CreateIncidentInput holds the fields accepted when filing a report
type CreateIncidentInput struct {
	Title        string
	Description  string
	Category     database.Category
	Severity     database.Severity
	AssetID      string
	Latitude     *float64
	Longitude    *float64
	ReporterID   string
	ReporterType database.ReporterType
	PhotoURLs    []string
	VideoURLs    []string
	Attachments  []database.Attachment
	ReportedAt   time.Time
}

// StatusUpdate moves an incident through its lifecycle
type StatusUpdate struct {
	Status          database.IncidentStatus
	AssignedTo      *string
	ResolutionType  database.ResolutionType
	ResolutionNotes string
	Actor           string
}

// IncidentService is the incident store: creation, lookup and the small
// per-incident mutations citizens and staff make between merges.
type IncidentService struct {
	db   *gorm.DB
	hook CreationHook
}

// NewIncidentService creates a new incident service
func NewIncidentService(db *gorm.DB) *IncidentService {
	return &IncidentService{db: db}
}

// SetCreationHook registers the post-creation hook. A nil hook disables it.
func (s *IncidentService) SetCreationHook(hook CreationHook) {
	s.hook = hook
}

// Get returns an incident by ID
func (s *IncidentService) Get(ctx context.Context, id string) (*database.Incident, error) {
	return LoadIncident(s.db.WithContext(ctx), id)
}

// GetByNumber returns an incident by its display sequence number
func (s *IncidentService) GetByNumber(ctx context.Context, number int64) (*database.Incident, error) {
	var inc database.Incident
	err := s.db.WithContext(ctx).Where("number = ?", number).First(&inc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFound("incident", fmt.Sprintf("INC-%06d", number))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incident %d: %w", number, err)
	}
	return &inc, nil
}

// Create validates and stores a new incident, then notifies the creation hook
func (s *IncidentService) Create(ctx context.Context, in CreateIncidentInput) (*database.Incident, error) {
	inc, err := newIncident(in)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var max int64
			if err := tx.Model(&database.Incident{}).Select("COALESCE(MAX(number), 0)").Scan(&max).Error; err != nil {
				return err
			}
			inc.Number = max + 1
			return tx.Create(inc).Error
		})
		if err == nil {
			break
		}
		if !isUniqueViolation(err) || attempt >= maxNumberingAttempt {
			return nil, fmt.Errorf("failed to create incident: %w", err)
		}
		slog.DebugContext(ctx, "incident number taken, retrying", "number", inc.Number, "attempt", attempt)
	}

	slog.InfoContext(ctx, "incident created", "incident_id", inc.ID, "number", inc.DisplayNumber(), "category", inc.Category)

	if s.hook != nil {
		s.hook.IncidentCreated(*inc)
	}
	return inc, nil
}

// AddComment appends a comment to the incident thread
func (s *IncidentService) AddComment(ctx context.Context, id, authorID, text string, internal bool) (*database.Incident, error) {
	text = utils.SanitizeText(text)
	if text == "" {
		return nil, NewValidation("text", "comment text is required")
	}
	if utf8.RuneCountInString(text) > maxCommentRunes {
		return nil, NewValidation("text", "comment exceeds %d characters", maxCommentRunes)
	}
	if authorID == "" {
		return nil, NewValidation("author_id", "author is required")
	}

	comment := database.Comment{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Text:      text,
		Internal:  internal,
		CreatedAt: time.Now().UTC(),
	}
	return s.mutate(ctx, id, func(inc *database.Incident) (map[string]interface{}, error) {
		comments := append(database.CommentList{}, inc.Comments...)
		comments = append(comments, comment)
		return map[string]interface{}{"comments": comments}, nil
	})
}

// ToggleUpvote adds userID to the upvoters, or removes it if already present.
// The count always equals the size of the upvoter set.
func (s *IncidentService) ToggleUpvote(ctx context.Context, id, userID string) (*database.Incident, error) {
	if userID == "" {
		return nil, NewValidation("user_id", "user is required")
	}
	return s.mutate(ctx, id, func(inc *database.Incident) (map[string]interface{}, error) {
		var upvoters database.StringList
		if inc.Upvoters.Contains(userID) {
			upvoters = inc.Upvoters.Without(userID)
		} else {
			upvoters = inc.Upvoters.Union([]string{userID})
		}
		return map[string]interface{}{
			"upvoters":     upvoters,
			"upvote_count": len(upvoters),
		}, nil
	})
}

// UpdateStatus applies a lifecycle transition. Incidents resolved as duplicates
// are owned by the merge engine and cannot be changed here.
func (s *IncidentService) UpdateStatus(ctx context.Context, id string, upd StatusUpdate) (*database.Incident, error) {
	if !upd.Status.IsValid() {
		return nil, NewValidation("status", "unknown status %q", upd.Status)
	}
	if upd.ResolutionType == database.ResolutionDuplicate {
		return nil, NewValidation("resolution_type", "duplicates are resolved through a merge")
	}
	if upd.Status.IsTerminal() && upd.ResolutionType == database.ResolutionNone {
		upd.ResolutionType = database.ResolutionFixed
	}

	return s.mutate(ctx, id, func(inc *database.Incident) (map[string]interface{}, error) {
		if inc.IsMergedDuplicate() {
			return nil, NewValidation("status", "incident %s was merged into another incident", inc.DisplayNumber())
		}
		updates := map[string]interface{}{"status": upd.Status}
		if upd.AssignedTo != nil {
			updates["assigned_to"] = *upd.AssignedTo
		}
		if upd.Status.IsTerminal() {
			now := time.Now().UTC()
			updates["resolution_type"] = upd.ResolutionType
			updates["resolution_notes"] = upd.ResolutionNotes
			updates["resolved_by"] = upd.Actor
			updates["resolved_at"] = &now
		} else {
			updates["resolution_type"] = database.ResolutionNone
			updates["resolved_at"] = nil
		}
		return updates, nil
	})
}

// ListOpenReportedSince returns open incidents reported after since, newest first
func (s *IncidentService) ListOpenReportedSince(ctx context.Context, since time.Time, limit int) ([]database.Incident, error) {
	var incidents []database.Incident
	q := s.db.WithContext(ctx).
		Where("status IN ?", database.OpenIncidentStatuses).
		Where("reported_at >= ?", since.UTC()).
		Order("reported_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&incidents).Error; err != nil {
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}
	return incidents, nil
}

// mutate runs a read-modify-write on one incident, retrying on version conflicts
func (s *IncidentService) mutate(ctx context.Context, id string, fn func(inc *database.Incident) (map[string]interface{}, error)) (*database.Incident, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		var out *database.Incident
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			inc, err := LoadIncident(tx, id)
			if err != nil {
				return err
			}
			updates, err := fn(inc)
			if err != nil {
				return err
			}
			if err := UpdateVersioned(tx, inc, updates); err != nil {
				return err
			}
			out, err = LoadIncident(tx, id)
			return err
		})
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// LoadIncident reads one incident with the given handle, mapping a missing row to NotFoundError
func LoadIncident(db *gorm.DB, id string) (*database.Incident, error) {
	var inc database.Incident
	err := db.Where("id = ?", id).First(&inc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFound("incident", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incident %s: %w", id, err)
	}
	return &inc, nil
}

// UpdateVersioned writes updates only if the row still carries inc.Version,
// bumping the version. Zero rows affected means someone else won the race.
func UpdateVersioned(tx *gorm.DB, inc *database.Incident, updates map[string]interface{}) error {
	updates["version"] = inc.Version + 1
	res := tx.Model(&database.Incident{}).
		Where("id = ? AND version = ?", inc.ID, inc.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update incident %s: %w", inc.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return NewConflict("incident", inc.ID, "modified concurrently")
	}
	inc.Version++
	return nil
}

func newIncident(in CreateIncidentInput) (*database.Incident, error) {
	title := utils.NormalizeWhitespace(utils.SanitizeText(in.Title))
	if title == "" {
		return nil, NewValidation("title", "title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return nil, NewValidation("title", "title exceeds %d characters", maxTitleRunes)
	}
	if !in.Category.IsValid() {
		return nil, NewValidation("category", "unknown category %q", in.Category)
	}
	if !in.Severity.IsValid() {
		return nil, NewValidation("severity", "unknown severity %q", in.Severity)
	}
	if strings.TrimSpace(in.ReporterID) == "" {
		return nil, NewValidation("reporter_id", "reporter is required")
	}
	reporterType := in.ReporterType
	if reporterType == "" {
		reporterType = database.ReporterTypeCitizen
	}
	switch reporterType {
	case database.ReporterTypeCitizen, database.ReporterTypeStaff, database.ReporterTypeSensor:
	default:
		return nil, NewValidation("reporter_type", "unknown reporter type %q", reporterType)
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return nil, NewValidation("location", "latitude and longitude must be given together")
	}
	if in.Latitude != nil {
		if *in.Latitude < -90 || *in.Latitude > 90 || *in.Longitude < -180 || *in.Longitude > 180 {
			return nil, NewValidation("location", "coordinates out of range")
		}
	}

	reportedAt := in.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = time.Now()
	}

	return &database.Incident{
		Title:        title,
		Description:  utils.SanitizeText(in.Description),
		Category:     in.Category,
		Severity:     in.Severity,
		Status:       database.IncidentStatusReported,
		AssetID:      strings.TrimSpace(in.AssetID),
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		ReporterID:   in.ReporterID,
		ReporterType: reporterType,
		PhotoURLs:    database.StringList{}.Union(in.PhotoURLs),
		VideoURLs:    database.StringList{}.Union(in.VideoURLs),
		Attachments:  database.AttachmentList(in.Attachments),
		ReportedAt:   reportedAt.UTC(),
	}, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
