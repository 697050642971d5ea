package database

import "time"

// IncidentMerge tracks when incidents are merged together.
// This provides an audit trail for merge operations, whether approved from a suggestion or manual.
type IncidentMerge struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	SourceIncidentID string    `gorm:"type:varchar(36);not null;index" json:"source_incident_id"` // The incident resolved as duplicate
	TargetIncidentID string    `gorm:"type:varchar(36);not null;index" json:"target_incident_id"` // The incident that absorbed the source
	SuggestionID     string    `gorm:"type:varchar(36);index" json:"suggestion_id,omitempty"`    // Empty for manual merges
	MergeConfidence  float64   `gorm:"type:decimal(3,2)" json:"merge_confidence"`
	MergeReason      string    `gorm:"type:text" json:"merge_reason"`
	MergedBy         string    `gorm:"type:varchar(64);not null" json:"merged_by"`
	Details          JSONB     `gorm:"type:text" json:"details"`
	CreatedAt        time.Time `json:"created_at"`
}

func (IncidentMerge) TableName() string {
	return "incident_merges"
}
