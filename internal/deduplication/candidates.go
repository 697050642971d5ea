package deduplication

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/civicwatch/civicwatch/internal/database"
)

// CandidateQuery describes one candidate lookup
type CandidateQuery struct {
	Target *database.Incident
	// ExcludeIDs are never returned, in addition to the target itself
	ExcludeIDs []string
	// IncludeResolved adds recently resolved incidents to catch recurrences
	IncludeResolved bool
}

// CandidateSource finds structurally plausible duplicates
type CandidateSource interface {
	FindCandidates(ctx context.Context, q CandidateQuery) ([]database.Incident, error)
}

// CandidateRetriever narrows the incident table before scoring. It does no scoring itself.
type CandidateRetriever struct {
	db  *gorm.DB
	cfg Config
}

// NewCandidateRetriever creates a retriever
func NewCandidateRetriever(db *gorm.DB, cfg Config) *CandidateRetriever {
	return &CandidateRetriever{db: db, cfg: cfg}
}

// FindCandidates returns up to MaxCandidates incidents, most recently reported first
func (r *CandidateRetriever) FindCandidates(ctx context.Context, q CandidateQuery) ([]database.Incident, error) {
	target := q.Target
	if target == nil {
		return nil, fmt.Errorf("candidate query has no target")
	}
	reported := target.ReportedAt.UTC()

	tx := r.db.WithContext(ctx).Model(&database.Incident{}).Where("id <> ?", target.ID)
	if len(q.ExcludeIDs) > 0 {
		tx = tx.Where("id NOT IN ?", q.ExcludeIDs)
	}

	windowStart, windowEnd := reported.Add(-r.cfg.TimeWindow), reported.Add(r.cfg.TimeWindow)
	if q.IncludeResolved {
		tx = tx.Where(
			"((status IN ? AND reported_at BETWEEN ? AND ?) OR "+
				"(status = ? AND COALESCE(resolution_type, '') <> ? AND reported_at BETWEEN ? AND ?))",
			database.OpenIncidentStatuses, windowStart, windowEnd,
			database.IncidentStatusResolved, database.ResolutionDuplicate,
			reported.Add(-r.cfg.RecurrenceWindow), windowEnd,
		)
	} else {
		tx = tx.Where("status IN ? AND reported_at BETWEEN ? AND ?", database.OpenIncidentStatuses, windowStart, windowEnd)
	}

	if r.cfg.FilterByAsset && target.AssetID != "" {
		tx = tx.Where("asset_id = ?", target.AssetID)
	}
	if r.cfg.FilterByCategory && target.Category != "" {
		tx = tx.Where("category = ?", target.Category)
	}
	if r.cfg.FilterBySeverity && target.Severity != "" {
		tx = tx.Where("severity = ?", target.Severity)
	}

	limit := r.cfg.MaxCandidates
	useRadius := r.cfg.RadiusMeters > 0 && target.HasLocation()
	if useRadius {
		box := boxAround(*target.Latitude, *target.Longitude, r.cfg.RadiusMeters)
		if box.lngBounded {
			tx = tx.Where("(latitude IS NULL OR longitude IS NULL OR "+
				"(latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?))",
				box.minLat, box.maxLat, box.minLng, box.maxLng)
		} else {
			tx = tx.Where("(latitude IS NULL OR longitude IS NULL OR latitude BETWEEN ? AND ?)",
				box.minLat, box.maxLat)
		}
		// the box corners fall outside the circle, so over-fetch before the exact check
		limit *= 2
	}

	var rows []database.Incident
	if err := tx.Order("reported_at DESC").Order("number DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}

	candidates := make([]database.Incident, 0, len(rows))
	for _, c := range rows {
		if c.ID == target.ID {
			continue
		}
		if useRadius && c.HasLocation() &&
			HaversineMeters(*target.Latitude, *target.Longitude, *c.Latitude, *c.Longitude) > r.cfg.RadiusMeters {
			continue
		}
		candidates = append(candidates, c)
		if len(candidates) == r.cfg.MaxCandidates {
			break
		}
	}
	return candidates, nil
}
