package merging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/logging"
	"github.com/civicwatch/civicwatch/internal/services"
)

const (
	// MaxDuplicates is the largest duplicate set accepted in one merge
	MaxDuplicates = 10
	// MaxDescriptionRunes caps the consolidated description, excluding the truncation marker
	MaxDescriptionRunes = 50000

	additionalReportsHeader = "--- Additional reports ---"
	truncationMarker        = "\n[... additional reports truncated ...]"
)

// Drop reasons reported for duplicates left out of a merge
const (
	DropMissing       = "not_found"
	DropAlreadyMerged = "already_merged"
	DropClosed        = "already_closed"
	DropCircular      = "circular_reference"
)

// Request asks for duplicates to be folded into a primary incident
type Request struct {
	PrimaryID    string
	DuplicateIDs []string
	MergedBy     string
	Notes        string

	// Set when the merge comes from an approved suggestion
	SuggestionID string
	Confidence   float64
	Reason       string
}

// DroppedDuplicate is a requested duplicate that was left out of the merge
type DroppedDuplicate struct {
	IncidentID string `json:"incident_id"`
	Reason     string `json:"reason"`
}

// Result describes a completed merge
type Result struct {
	Primary            *database.Incident
	RequestedPrimaryID string
	Reselected         bool // an older duplicate became the surviving incident
	MergedIDs          []string
	Dropped            []DroppedDuplicate
}

// Engine folds duplicate incidents into a surviving primary.
// Every write happens in one transaction with per-row version checks, so a
// merge either fully applies or leaves nothing behind.
type Engine struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a merge engine
func NewEngine(db *gorm.DB) *Engine {
	return &Engine{
		db:     db,
		logger: logging.Component("merging"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Merge runs MergeTx in its own transaction
func (e *Engine) Merge(ctx context.Context, req Request) (*Result, error) {
	var result *Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = e.MergeTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MergeTx performs the merge with the caller's transaction. Any returned error
// means the caller must roll back.
func (e *Engine) MergeTx(ctx context.Context, tx *gorm.DB, req Request) (*Result, error) {
	dupIDs, err := validateRequest(req)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithLogFields(ctx, logging.LogFields{IncidentID: req.PrimaryID, SuggestionID: req.SuggestionID})

	requested, err := services.LoadIncident(tx, req.PrimaryID)
	if err != nil {
		return nil, err
	}
	if requested.Status.IsTerminal() {
		return nil, services.NewValidation("primary_id", "primary incident %s is already %s", requested.DisplayNumber(), requested.Status)
	}

	result := &Result{RequestedPrimaryID: requested.ID}
	valid := make([]*database.Incident, 0, len(dupIDs))
	for _, id := range dupIDs {
		dup, reason, err := e.loadDuplicate(tx, requested, id)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			e.logger.WarnContext(ctx, "dropping duplicate from merge", "duplicate_id", id, "reason", reason)
			result.Dropped = append(result.Dropped, DroppedDuplicate{IncidentID: id, Reason: reason})
			continue
		}
		valid = append(valid, dup)
	}
	if len(valid) == 0 {
		return nil, services.NewValidation("duplicate_ids", "no valid duplicates left to merge")
	}

	primary, duplicates := reselectPrimary(requested, valid)
	if primary.ID != requested.ID {
		result.Reselected = true
		e.logger.InfoContext(ctx, "older incident becomes merge primary",
			"requested_primary", requested.DisplayNumber(), "primary", primary.DisplayNumber())
	}

	now := e.now()
	summary := database.Comment{
		ID:        uuid.NewString(),
		AuthorID:  req.MergedBy,
		Text:      mergeSummary(duplicates, req.MergedBy, req.Notes),
		Internal:  true,
		CreatedAt: now,
	}
	updates := consolidate(primary, duplicates)
	comments := updates["comments"].(database.CommentList)
	updates["comments"] = append(comments, summary)

	if err := services.UpdateVersioned(tx, primary, updates); err != nil {
		return nil, err
	}

	details := database.JSONB{
		"requested_primary_id": requested.ID,
		"reselected":           result.Reselected,
		"notes":                req.Notes,
	}
	if len(result.Dropped) > 0 {
		dropped := make([]interface{}, len(result.Dropped))
		for i, d := range result.Dropped {
			dropped[i] = map[string]interface{}{"incident_id": d.IncidentID, "reason": d.Reason}
		}
		details["dropped"] = dropped
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual merge"
	}

	for _, dup := range duplicates {
		notes := fmt.Sprintf("Merged into %s as a duplicate", primary.DisplayNumber())
		if req.Notes != "" {
			notes += ": " + req.Notes
		}
		if err := services.UpdateVersioned(tx, dup, map[string]interface{}{
			"status":            database.IncidentStatusResolved,
			"resolution_type":   database.ResolutionDuplicate,
			"resolution_notes":  notes,
			"related_incidents": database.StringList{primary.ID},
			"resolved_by":       req.MergedBy,
			"resolved_at":       &now,
		}); err != nil {
			return nil, err
		}

		record := &database.IncidentMerge{
			SourceIncidentID: dup.ID,
			TargetIncidentID: primary.ID,
			SuggestionID:     req.SuggestionID,
			MergeConfidence:  req.Confidence,
			MergeReason:      reason,
			MergedBy:         req.MergedBy,
			Details:          details,
		}
		if err := tx.Create(record).Error; err != nil {
			return nil, fmt.Errorf("failed to record merge of %s: %w", dup.ID, err)
		}
		result.MergedIDs = append(result.MergedIDs, dup.ID)
	}

	refreshed, err := services.LoadIncident(tx, primary.ID)
	if err != nil {
		return nil, err
	}
	result.Primary = refreshed

	e.logger.InfoContext(ctx, "merged incidents",
		"primary", primary.DisplayNumber(), "merged", len(duplicates), "dropped", len(result.Dropped),
		"merged_by", req.MergedBy)
	return result, nil
}

// validateRequest checks the request shape and returns the de-duplicated duplicate IDs
func validateRequest(req Request) ([]string, error) {
	if strings.TrimSpace(req.PrimaryID) == "" {
		return nil, services.NewValidation("primary_id", "primary incident is required")
	}
	if strings.TrimSpace(req.MergedBy) == "" {
		return nil, services.NewValidation("merged_by", "merged_by is required")
	}
	ids := database.StringList{}.Union(req.DuplicateIDs)
	if len(ids) == 0 {
		return nil, services.NewValidation("duplicate_ids", "at least one duplicate is required")
	}
	if len(ids) > MaxDuplicates {
		return nil, services.NewValidation("duplicate_ids", "at most %d duplicates can be merged at once (got %d)", MaxDuplicates, len(ids))
	}
	if ids.Contains(req.PrimaryID) {
		return nil, services.NewValidation("duplicate_ids", "primary incident cannot be merged into itself")
	}
	return ids, nil
}

// loadDuplicate returns the duplicate, or a drop reason when it cannot take part
func (e *Engine) loadDuplicate(tx *gorm.DB, primary *database.Incident, id string) (*database.Incident, string, error) {
	dup, err := services.LoadIncident(tx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, DropMissing, nil
		}
		return nil, "", err
	}
	switch {
	case dup.IsMergedDuplicate():
		return nil, DropAlreadyMerged, nil
	case dup.RelatedIncidents.Contains(primary.ID):
		return nil, DropCircular, nil
	case dup.Status.IsTerminal():
		return nil, DropClosed, nil
	}
	return dup, "", nil
}

// reselectPrimary picks the earliest reported incident of the set as the survivor
func reselectPrimary(requested *database.Incident, duplicates []*database.Incident) (*database.Incident, []*database.Incident) {
	all := append([]*database.Incident{requested}, duplicates...)
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.ReportedAt.Equal(b.ReportedAt) {
			return a.ReportedAt.Before(b.ReportedAt)
		}
		return a.Number < b.Number
	})
	return all[0], all[1:]
}

// consolidate computes the primary's column updates from the merged set
func consolidate(primary *database.Incident, duplicates []*database.Incident) map[string]interface{} {
	mergedIDs := make([]string, 0, len(duplicates)+1)
	mergedIDs = append(mergedIDs, primary.ID)
	for _, d := range duplicates {
		mergedIDs = append(mergedIDs, d.ID)
	}

	reporters := primary.AdditionalReporters.Union()
	upvoters := primary.Upvoters.Union()
	photos := primary.PhotoURLs.Union()
	videos := primary.VideoURLs.Union()
	related := primary.RelatedIncidents.Union()
	comments := append(database.CommentList{}, primary.Comments...)
	attachments := append(database.AttachmentList{}, primary.Attachments...)
	severities := []database.Severity{primary.Severity}

	for _, d := range duplicates {
		reporters = reporters.Union([]string{d.ReporterID}, d.AdditionalReporters)
		upvoters = upvoters.Union(d.Upvoters)
		photos = photos.Union(d.PhotoURLs)
		videos = videos.Union(d.VideoURLs)
		related = related.Union(d.RelatedIncidents.Without(mergedIDs...))
		comments = append(comments, d.Comments...)
		attachments = append(attachments, d.Attachments...)
		severities = append(severities, d.Severity)
	}
	for _, d := range duplicates {
		related = related.Union([]string{d.ID})
	}
	related = related.Without(primary.ID)
	reporters = reporters.Without(primary.ReporterID)

	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})

	return map[string]interface{}{
		"additional_reporters": reporters,
		"upvoters":             upvoters,
		"upvote_count":         len(upvoters),
		"comments":             comments,
		"photo_urls":           photos,
		"video_urls":           videos,
		"attachments":          dedupeAttachments(attachments),
		"severity":             database.MaxSeverity(severities...),
		"description":          mergeDescriptions(primary, duplicates),
		"related_incidents":    related,
	}
}

func dedupeAttachments(in database.AttachmentList) database.AttachmentList {
	seen := make(map[string]struct{}, len(in))
	out := make(database.AttachmentList, 0, len(in))
	for _, a := range in {
		if _, ok := seen[a.URL]; ok {
			continue
		}
		seen[a.URL] = struct{}{}
		out = append(out, a)
	}
	return out
}

// mergeDescriptions appends the duplicates' distinct descriptions under an
// "Additional reports" section. Anything past MaxDescriptionRunes is cut and
// the marker appended after the kept text.
func mergeDescriptions(primary *database.Incident, duplicates []*database.Incident) string {
	base := primary.Description
	seen := map[string]struct{}{strings.TrimSpace(base): {}}

	var sb strings.Builder
	for _, d := range duplicates {
		desc := strings.TrimSpace(d.Description)
		if desc == "" {
			continue
		}
		if _, ok := seen[desc]; ok {
			continue
		}
		seen[desc] = struct{}{}
		fmt.Fprintf(&sb, "\n\n[%s] %s\n%s", d.DisplayNumber(), d.Title, desc)
	}
	if sb.Len() == 0 {
		return base
	}

	out := base
	if !strings.Contains(base, additionalReportsHeader) {
		if out != "" {
			out += "\n\n"
		}
		out += additionalReportsHeader
	}
	out += sb.String()
	if utf8.RuneCountInString(out) > MaxDescriptionRunes {
		out = string([]rune(out)[:MaxDescriptionRunes]) + truncationMarker
	}
	return out
}

func mergeSummary(duplicates []*database.Incident, mergedBy, notes string) string {
	numbers := make([]string, len(duplicates))
	for i, d := range duplicates {
		numbers[i] = d.DisplayNumber()
	}
	text := fmt.Sprintf("Merged %s into this incident (by %s).", strings.Join(numbers, ", "), mergedBy)
	if notes != "" {
		text += " Notes: " + notes
	}
	return text
}
