package api

import (
	"time"

	"github.com/civicwatch/civicwatch/internal/database"
)

// ========== Incident Types ==========

// CreateIncidentRequest is the request body for POST /api/incidents.
type CreateIncidentRequest struct {
	Title        string              `json:"title" validate:"required,max=255"`
	Description  string              `json:"description" validate:"omitempty,max=50000"`
	Category     string              `json:"category" validate:"required,category"`
	Severity     string              `json:"severity" validate:"required,severity"`
	AssetID      string              `json:"asset_id" validate:"omitempty,max=64"`
	Latitude     *float64            `json:"latitude" validate:"omitempty,latitude"`
	Longitude    *float64            `json:"longitude" validate:"omitempty,longitude"`
	ReporterID   string              `json:"reporter_id" validate:"required,max=64"`
	ReporterType string              `json:"reporter_type" validate:"omitempty,oneof=citizen staff sensor"`
	PhotoURLs    []string            `json:"photo_urls" validate:"omitempty,max=20,dive,url"`
	VideoURLs    []string            `json:"video_urls" validate:"omitempty,max=10,dive,url"`
	Attachments  []AttachmentRequest `json:"attachments" validate:"omitempty,max=20,dive"`
	ReportedAt   *time.Time          `json:"reported_at"`
}

// AttachmentRequest is one attachment in a create request.
type AttachmentRequest struct {
	FileName string `json:"file_name" validate:"required,max=255"`
	URL      string `json:"url" validate:"required,url"`
	Type     string `json:"type" validate:"omitempty,max=64"`
}

// AddCommentRequest is the request body for POST /api/incidents/{id}/comments.
type AddCommentRequest struct {
	AuthorID string `json:"author_id" validate:"required,max=64"`
	Text     string `json:"text" validate:"required,max=10000"`
	Internal bool   `json:"internal"`
}

// UpvoteRequest is the request body for POST /api/incidents/{id}/upvote.
type UpvoteRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

// UpdateStatusRequest is the request body for POST /api/incidents/{id}/status.
type UpdateStatusRequest struct {
	Status          string  `json:"status" validate:"required,incident_status"`
	AssignedTo      *string `json:"assigned_to" validate:"omitempty,max=64"`
	ResolutionType  string  `json:"resolution_type" validate:"omitempty,oneof=fixed not_reproducible wont_fix"`
	ResolutionNotes string  `json:"resolution_notes" validate:"omitempty,max=10000"`
	Actor           string  `json:"actor" validate:"required,max=64"`
}

// IncidentResponse is the full incident representation.
type IncidentResponse struct {
	database.Incident
	DisplayNumber string `json:"display_number"`
}

// ========== Duplicate Detection Types ==========

// DuplicateMatch is one scored candidate in a duplicates response.
type DuplicateMatch struct {
	IncidentID    string                  `json:"incident_id"`
	DisplayNumber string                  `json:"display_number"`
	Score         float64                 `json:"score"`
	TextScore     float64                 `json:"text_score"`
	ImageScore    float64                 `json:"image_score"`
	MatchReasons  []string                `json:"match_reasons"`
	Status        database.IncidentStatus `json:"status"`
	ReportedAt    time.Time               `json:"reported_at"`
}

// DuplicatesResponse is the response body for GET /api/incidents/{id}/duplicates.
type DuplicatesResponse struct {
	IncidentID string           `json:"incident_id"`
	Matches    []DuplicateMatch `json:"matches"`
	Compared   int              `json:"compared"`
	Skipped    int              `json:"skipped"`
}

// ========== Merge Types ==========

// MergeRequest is the request body for POST /api/incidents/merge.
type MergeRequest struct {
	PrimaryID    string   `json:"primary_id" validate:"required,uuid"`
	DuplicateIDs []string `json:"duplicate_ids" validate:"required,min=1,max=10,dive,uuid"`
	MergedBy     string   `json:"merged_by" validate:"required,max=64"`
	Notes        string   `json:"notes" validate:"omitempty,max=10000"`
}

// ReviewRequest is the request body for approving or rejecting a suggestion.
type ReviewRequest struct {
	ReviewerID string `json:"reviewer_id" validate:"required,max=64"`
	Notes      string `json:"notes" validate:"omitempty,max=10000"`
}

// DroppedDuplicate names a requested duplicate the merge skipped and why.
type DroppedDuplicate struct {
	IncidentID string `json:"incident_id"`
	Reason     string `json:"reason"`
}

// MergeResponse is the response body for a completed merge.
type MergeResponse struct {
	Primary            IncidentResponse   `json:"primary"`
	RequestedPrimaryID string             `json:"requested_primary_id"`
	PrimaryReselected  bool               `json:"primary_reselected"`
	MergedIDs          []string           `json:"merged_ids"`
	Dropped            []DroppedDuplicate `json:"dropped,omitempty"`
}

// SuggestionResponse is a merge suggestion.
type SuggestionResponse struct {
	database.MergeSuggestion
}

// SuggestionListResponse is the response body for listing suggestions.
type SuggestionListResponse struct {
	Suggestions []SuggestionResponse `json:"suggestions"`
	Total       int                  `json:"total"`
}

// ========== Settings Types ==========

// UpdateJobSettingsRequest is the request body for PUT /api/settings/dedup-jobs.
// Omitted fields keep their current value.
type UpdateJobSettingsRequest struct {
	AutoSuggestEnabled    *bool `json:"auto_suggest_enabled"`
	RescanEnabled         *bool `json:"rescan_enabled"`
	RescanIntervalMinutes *int  `json:"rescan_interval_minutes" validate:"omitempty,min=1,max=1440"`
	RescanLookbackHours   *int  `json:"rescan_lookback_hours" validate:"omitempty,min=1,max=720"`
	MaxIncidentsToRescan  *int  `json:"max_incidents_to_rescan" validate:"omitempty,min=1,max=10000"`
	SweepEnabled          *bool `json:"sweep_enabled"`
	SweepIntervalMinutes  *int  `json:"sweep_interval_minutes" validate:"omitempty,min=1,max=1440"`
	DetectionTimeoutSecs  *int  `json:"detection_timeout_secs" validate:"omitempty,min=1,max=600"`
}

// ========== Health ==========

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Detection bool              `json:"detection_enabled"`
	Checks    map[string]string `json:"checks,omitempty"`
}
