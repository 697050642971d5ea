package database

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SuggestionStatus represents the review state of a merge suggestion
type SuggestionStatus string

const (
	SuggestionStatusPending  SuggestionStatus = "pending"
	SuggestionStatusApproved SuggestionStatus = "approved"
	SuggestionStatusRejected SuggestionStatus = "rejected"
)

// IsValid returns true for a known suggestion status
func (s SuggestionStatus) IsValid() bool {
	switch s {
	case SuggestionStatusPending, SuggestionStatusApproved, SuggestionStatusRejected:
		return true
	}
	return false
}

// ProposedBySystem marks suggestions created by automatic detection
const ProposedBySystem = "system"

// MergeSuggestion is a proposed duplicate judgment awaiting human review
type MergeSuggestion struct {
	ID                   string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PrimaryIncidentID    string           `gorm:"type:varchar(36);not null;index" json:"primary_incident_id"`
	DuplicateIncidentIDs StringList       `gorm:"type:text;not null" json:"duplicate_incident_ids"`
	SimilarityScore      float64          `json:"similarity_score"`
	MatchReasons         StringList       `gorm:"type:text" json:"match_reasons"`
	ProposedBy           string           `gorm:"type:varchar(64);not null" json:"proposed_by"` // 'system' or a user ID
	Status               SuggestionStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ReviewedBy           string           `gorm:"type:varchar(64)" json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time       `json:"reviewed_at,omitempty"`
	ReviewNotes          string           `gorm:"type:text" json:"review_notes,omitempty"`

	// PendingKey is set only while pending; the unique index makes a second
	// pending suggestion for the same pair fail at insert time.
	PendingKey *string `gorm:"type:varchar(255);uniqueIndex" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MergeSuggestion) TableName() string {
	return "merge_suggestions"
}

// BeforeCreate hook to fill the ID and pending key
func (s *MergeSuggestion) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = SuggestionStatusPending
	}
	if s.Status == SuggestionStatusPending && s.PendingKey == nil {
		key := PendingKeyFor(s.PrimaryIncidentID, s.DuplicateIncidentIDs...)
		s.PendingKey = &key
	}
	return nil
}

// Names returns true if the suggestion references the incident on either side
func (s *MergeSuggestion) Names(incidentID string) bool {
	return s.PrimaryIncidentID == incidentID || s.DuplicateIncidentIDs.Contains(incidentID)
}

// PendingKeyFor builds the uniqueness key for a pending suggestion
func PendingKeyFor(primaryID string, duplicateIDs ...string) string {
	dups := append([]string(nil), duplicateIDs...)
	sort.Strings(dups)
	return primaryID + ":" + strings.Join(dups, ",")
}
