package testhelpers

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/civicwatch/civicwatch/internal/database"
)

// IncidentBuilder builds Incident instances for testing
type IncidentBuilder struct {
	incident database.Incident
}

// NewIncidentBuilder creates a new incident builder with an open pothole report
func NewIncidentBuilder() *IncidentBuilder {
	return &IncidentBuilder{
		incident: database.Incident{
			ID:           uuid.NewString(),
			Title:        "Pothole on Main St",
			Description:  "Large pothole in the right lane near the bus stop",
			Category:     database.CategoryPothole,
			Severity:     database.SeverityMedium,
			Status:       database.IncidentStatusReported,
			ReporterID:   "citizen-1",
			ReporterType: database.ReporterTypeCitizen,
			ReportedAt:   time.Now().UTC(),
			Version:      1,
		},
	}
}

// WithID sets the incident ID
func (b *IncidentBuilder) WithID(id string) *IncidentBuilder {
	b.incident.ID = id
	return b
}

// WithNumber sets the display sequence number
func (b *IncidentBuilder) WithNumber(n int64) *IncidentBuilder {
	b.incident.Number = n
	return b
}

// WithTitle sets the title
func (b *IncidentBuilder) WithTitle(title string) *IncidentBuilder {
	b.incident.Title = title
	return b
}

// WithDescription sets the description
func (b *IncidentBuilder) WithDescription(desc string) *IncidentBuilder {
	b.incident.Description = desc
	return b
}

// WithCategory sets the category
func (b *IncidentBuilder) WithCategory(c database.Category) *IncidentBuilder {
	b.incident.Category = c
	return b
}

// WithSeverity sets the severity
func (b *IncidentBuilder) WithSeverity(s database.Severity) *IncidentBuilder {
	b.incident.Severity = s
	return b
}

// WithStatus sets the status
func (b *IncidentBuilder) WithStatus(status database.IncidentStatus) *IncidentBuilder {
	b.incident.Status = status
	return b
}

// Resolved marks the incident resolved with the given resolution type
func (b *IncidentBuilder) Resolved(rt database.ResolutionType) *IncidentBuilder {
	now := time.Now().UTC()
	b.incident.Status = database.IncidentStatusResolved
	b.incident.ResolutionType = rt
	b.incident.ResolvedAt = &now
	return b
}

// AssignedTo sets the assignee
func (b *IncidentBuilder) AssignedTo(who string) *IncidentBuilder {
	b.incident.AssignedTo = who
	return b
}

// WithAsset sets the asset ID
func (b *IncidentBuilder) WithAsset(assetID string) *IncidentBuilder {
	b.incident.AssetID = assetID
	return b
}

// WithLocation sets the coordinates
func (b *IncidentBuilder) WithLocation(lat, lng float64) *IncidentBuilder {
	b.incident.Latitude = &lat
	b.incident.Longitude = &lng
	return b
}

// WithReporter sets the reporter
func (b *IncidentBuilder) WithReporter(id string) *IncidentBuilder {
	b.incident.ReporterID = id
	return b
}

// WithUpvoters sets the upvoters and count
func (b *IncidentBuilder) WithUpvoters(ids ...string) *IncidentBuilder {
	b.incident.Upvoters = database.StringList(ids)
	b.incident.UpvoteCount = len(ids)
	return b
}

// WithComment appends a comment
func (b *IncidentBuilder) WithComment(author, text string, at time.Time) *IncidentBuilder {
	b.incident.Comments = append(b.incident.Comments, database.Comment{
		ID:        uuid.NewString(),
		AuthorID:  author,
		Text:      text,
		CreatedAt: at,
	})
	return b
}

// WithPhotos sets the photo URLs
func (b *IncidentBuilder) WithPhotos(urls ...string) *IncidentBuilder {
	b.incident.PhotoURLs = database.StringList(urls)
	return b
}

// WithVideos sets the video URLs
func (b *IncidentBuilder) WithVideos(urls ...string) *IncidentBuilder {
	b.incident.VideoURLs = database.StringList(urls)
	return b
}

// WithAttachment appends an attachment
func (b *IncidentBuilder) WithAttachment(name, url, typ string) *IncidentBuilder {
	b.incident.Attachments = append(b.incident.Attachments, database.Attachment{FileName: name, URL: url, Type: typ})
	return b
}

// WithRelated sets the related incident IDs
func (b *IncidentBuilder) WithRelated(ids ...string) *IncidentBuilder {
	b.incident.RelatedIncidents = database.StringList(ids)
	return b
}

// ReportedAt sets the report time
func (b *IncidentBuilder) ReportedAt(at time.Time) *IncidentBuilder {
	b.incident.ReportedAt = at.UTC()
	return b
}

// ReportedAgo sets the report time relative to now
func (b *IncidentBuilder) ReportedAgo(d time.Duration) *IncidentBuilder {
	b.incident.ReportedAt = time.Now().UTC().Add(-d)
	return b
}

// Build returns the constructed incident
func (b *IncidentBuilder) Build() database.Incident {
	return b.incident
}

// Create persists the incident, assigning the next sequence number if none was set
func (b *IncidentBuilder) Create(t *testing.T, db *gorm.DB) database.Incident {
	t.Helper()
	inc := b.incident
	if inc.Number == 0 {
		var max int64
		if err := db.Model(&database.Incident{}).Select("COALESCE(MAX(number), 0)").Scan(&max).Error; err != nil {
			t.Fatalf("failed to read max incident number: %v", err)
		}
		inc.Number = max + 1
	}
	if err := db.Create(&inc).Error; err != nil {
		t.Fatalf("failed to create incident: %v", err)
	}
	return inc
}

// SuggestionBuilder builds MergeSuggestion instances for testing
type SuggestionBuilder struct {
	suggestion database.MergeSuggestion
}

// NewSuggestionBuilder creates a pending system suggestion for the pair
func NewSuggestionBuilder(primaryID string, duplicateIDs ...string) *SuggestionBuilder {
	return &SuggestionBuilder{
		suggestion: database.MergeSuggestion{
			PrimaryIncidentID:    primaryID,
			DuplicateIncidentIDs: database.StringList(duplicateIDs),
			SimilarityScore:      0.9,
			MatchReasons:         database.StringList{"similar_description"},
			ProposedBy:           database.ProposedBySystem,
			Status:               database.SuggestionStatusPending,
		},
	}
}

// WithScore sets the similarity score
func (b *SuggestionBuilder) WithScore(score float64) *SuggestionBuilder {
	b.suggestion.SimilarityScore = score
	return b
}

// ProposedBy sets the proposer
func (b *SuggestionBuilder) ProposedBy(who string) *SuggestionBuilder {
	b.suggestion.ProposedBy = who
	return b
}

// Build returns the constructed suggestion
func (b *SuggestionBuilder) Build() database.MergeSuggestion {
	return b.suggestion
}

// Create persists the suggestion
func (b *SuggestionBuilder) Create(t *testing.T, db *gorm.DB) database.MergeSuggestion {
	t.Helper()
	s := b.suggestion
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("failed to create merge suggestion: %v", err)
	}
	return s
}
