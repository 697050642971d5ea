package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IncidentStatus represents the lifecycle state of an incident
type IncidentStatus string

const (
	IncidentStatusReported      IncidentStatus = "reported"
	IncidentStatusAcknowledged  IncidentStatus = "acknowledged"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusResolved      IncidentStatus = "resolved"
	IncidentStatusClosed        IncidentStatus = "closed"
)

// OpenIncidentStatuses are the statuses an incident can be merged or suggested from.
var OpenIncidentStatuses = []IncidentStatus{
	IncidentStatusReported,
	IncidentStatusAcknowledged,
	IncidentStatusInvestigating,
}

// IsValid returns true for a known status
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusReported, IncidentStatusAcknowledged, IncidentStatusInvestigating,
		IncidentStatusResolved, IncidentStatusClosed:
		return true
	}
	return false
}

// IsTerminal returns true once the incident is resolved or closed
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusResolved || s == IncidentStatusClosed
}

// Severity is ordered low < medium < high < critical
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal of the severity, 0 for unknown values
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// IsValid returns true for a known severity
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// MaxSeverity returns the highest of the given severities
func MaxSeverity(severities ...Severity) Severity {
	var max Severity
	for _, s := range severities {
		if s.Rank() > max.Rank() {
			max = s
		}
	}
	return max
}

// Category is the kind of infrastructure problem reported
type Category string

const (
	CategoryPothole       Category = "pothole"
	CategoryStreetlight   Category = "streetlight"
	CategoryWaterLeak     Category = "water_leak"
	CategorySewer         Category = "sewer"
	CategoryTrafficSignal Category = "traffic_signal"
	CategoryRoadDamage    Category = "road_damage"
	CategorySidewalk      Category = "sidewalk"
	CategoryDrainage      Category = "drainage"
	CategoryGraffiti      Category = "graffiti"
	CategoryDebris        Category = "debris"
	CategoryOther         Category = "other"
)

// ValidCategories returns every known category
func ValidCategories() []Category {
	return []Category{
		CategoryPothole, CategoryStreetlight, CategoryWaterLeak, CategorySewer,
		CategoryTrafficSignal, CategoryRoadDamage, CategorySidewalk, CategoryDrainage,
		CategoryGraffiti, CategoryDebris, CategoryOther,
	}
}

// IsValid returns true for a known category
func (c Category) IsValid() bool {
	for _, v := range ValidCategories() {
		if v == c {
			return true
		}
	}
	return false
}

// ResolutionType records how an incident left the open states
type ResolutionType string

const (
	ResolutionNone            ResolutionType = ""
	ResolutionFixed           ResolutionType = "fixed"
	ResolutionDuplicate       ResolutionType = "duplicate"
	ResolutionNotReproducible ResolutionType = "not_reproducible"
	ResolutionWontFix         ResolutionType = "wont_fix"
)

// ReporterType identifies who filed the report
type ReporterType string

const (
	ReporterTypeCitizen ReporterType = "citizen"
	ReporterTypeStaff   ReporterType = "staff"
	ReporterTypeSensor  ReporterType = "sensor"
)

// Incident is a reported municipal infrastructure problem
type Incident struct {
	ID              string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Number          int64          `gorm:"uniqueIndex;not null" json:"number"` // Human-readable sequence, shown as INC-000042
	Title           string         `gorm:"type:varchar(255);not null" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	Category        Category       `gorm:"type:varchar(50);not null;index" json:"category"`
	Severity        Severity       `gorm:"type:varchar(20);not null;index" json:"severity"`
	Status          IncidentStatus `gorm:"type:varchar(20);not null;default:'reported';index" json:"status"`
	ResolutionType  ResolutionType `gorm:"type:varchar(30)" json:"resolution_type,omitempty"`
	ResolutionNotes string         `gorm:"type:text" json:"resolution_notes,omitempty"`
	ResolvedBy      string         `gorm:"type:varchar(64)" json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	AssignedTo      string         `gorm:"type:varchar(64)" json:"assigned_to,omitempty"`

	AssetID   string   `gorm:"type:varchar(64);index" json:"asset_id,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	ReporterID          string       `gorm:"type:varchar(64);not null;index" json:"reporter_id"`
	ReporterType        ReporterType `gorm:"type:varchar(20)" json:"reporter_type"`
	AdditionalReporters StringList   `gorm:"type:text" json:"additional_reporters"` // Reporters of incidents merged into this one

	Upvoters    StringList     `gorm:"type:text" json:"upvoters"`
	UpvoteCount int            `gorm:"default:0" json:"upvote_count"`
	Comments    CommentList    `gorm:"type:text" json:"comments"`
	PhotoURLs   StringList     `gorm:"type:text" json:"photo_urls"`
	VideoURLs   StringList     `gorm:"type:text" json:"video_urls"`
	Attachments AttachmentList `gorm:"type:text" json:"attachments"`

	// RelatedIncidents doubles as merge lineage: a duplicate points only at its primary
	RelatedIncidents StringList `gorm:"type:text" json:"related_incidents"`

	Version    int       `gorm:"not null;default:1" json:"version"` // Optimistic lock, bumped on every write
	ReportedAt time.Time `gorm:"not null;index" json:"reported_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Incident) TableName() string {
	return "incidents"
}

// BeforeCreate hook to fill identity and lifecycle defaults
func (i *Incident) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.ReportedAt.IsZero() {
		i.ReportedAt = time.Now()
	}
	if i.Status == "" {
		i.Status = IncidentStatusReported
	}
	if i.Version == 0 {
		i.Version = 1
	}
	i.UpvoteCount = len(i.Upvoters)
	return nil
}

// DisplayNumber returns the human-readable incident number
func (i *Incident) DisplayNumber() string {
	return fmt.Sprintf("INC-%06d", i.Number)
}

// HasLocation returns true when both coordinates are set
func (i *Incident) HasLocation() bool {
	return i.Latitude != nil && i.Longitude != nil
}

// IsUnderActiveWork returns true when a crew is already on the incident
func (i *Incident) IsUnderActiveWork() bool {
	if i.Status == IncidentStatusInvestigating {
		return true
	}
	return i.Status == IncidentStatusAcknowledged && i.AssignedTo != ""
}

// IsMergedDuplicate returns true once the incident was folded into another one
func (i *Incident) IsMergedDuplicate() bool {
	return i.ResolutionType == ResolutionDuplicate
}

// SimilarityText is the text compared when scoring duplicates
func (i *Incident) SimilarityText() string {
	return i.Title + " " + i.Description
}
