package api

import (
	"fmt"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/deduplication"
	"github.com/civicwatch/civicwatch/internal/merging"
	"github.com/civicwatch/civicwatch/internal/services"
)

// ToCreateInput converts a validated create request into service input.
func (r CreateIncidentRequest) ToCreateInput() services.CreateIncidentInput {
	in := services.CreateIncidentInput{
		Title:        r.Title,
		Description:  r.Description,
		Category:     database.Category(r.Category),
		Severity:     database.Severity(r.Severity),
		AssetID:      r.AssetID,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		ReporterID:   r.ReporterID,
		ReporterType: database.ReporterType(r.ReporterType),
		PhotoURLs:    r.PhotoURLs,
		VideoURLs:    r.VideoURLs,
	}
	for _, a := range r.Attachments {
		in.Attachments = append(in.Attachments, database.Attachment{FileName: a.FileName, URL: a.URL, Type: a.Type})
	}
	if r.ReportedAt != nil {
		in.ReportedAt = *r.ReportedAt
	}
	return in
}

// ToStatusUpdate converts a validated status request into a service update.
func (r UpdateStatusRequest) ToStatusUpdate() services.StatusUpdate {
	return services.StatusUpdate{
		Status:          database.IncidentStatus(r.Status),
		AssignedTo:      r.AssignedTo,
		ResolutionType:  database.ResolutionType(r.ResolutionType),
		ResolutionNotes: r.ResolutionNotes,
		Actor:           r.Actor,
	}
}

// ToMergeRequest converts a manual merge request for the engine.
func (r MergeRequest) ToMergeRequest() merging.Request {
	return merging.Request{
		PrimaryID:    r.PrimaryID,
		DuplicateIDs: r.DuplicateIDs,
		MergedBy:     r.MergedBy,
		Notes:        r.Notes,
		Confidence:   1.0,
		Reason:       "manual merge",
	}
}

// ApplyTo copies the fields present in the request onto settings.
func (r UpdateJobSettingsRequest) ApplyTo(settings *database.DedupJobSettings) {
	if r.AutoSuggestEnabled != nil {
		settings.AutoSuggestEnabled = *r.AutoSuggestEnabled
	}
	if r.RescanEnabled != nil {
		settings.RescanEnabled = *r.RescanEnabled
	}
	if r.RescanIntervalMinutes != nil {
		settings.RescanIntervalMinutes = *r.RescanIntervalMinutes
	}
	if r.RescanLookbackHours != nil {
		settings.RescanLookbackHours = *r.RescanLookbackHours
	}
	if r.MaxIncidentsToRescan != nil {
		settings.MaxIncidentsToRescan = *r.MaxIncidentsToRescan
	}
	if r.SweepEnabled != nil {
		settings.SweepEnabled = *r.SweepEnabled
	}
	if r.SweepIntervalMinutes != nil {
		settings.SweepIntervalMinutes = *r.SweepIntervalMinutes
	}
	if r.DetectionTimeoutSecs != nil {
		settings.DetectionTimeoutSecs = *r.DetectionTimeoutSecs
	}
}

// IncidentToResponse wraps an incident with its display number.
func IncidentToResponse(inc database.Incident) IncidentResponse {
	return IncidentResponse{Incident: inc, DisplayNumber: inc.DisplayNumber()}
}

// DetectionToResponse converts a detection result for incident id.
func DetectionToResponse(incidentID string, res *deduplication.Result) DuplicatesResponse {
	out := DuplicatesResponse{IncidentID: incidentID, Matches: make([]DuplicateMatch, 0, len(res.Matches))}
	out.Compared = res.Compared
	out.Skipped = res.Failed
	for _, m := range res.Matches {
		out.Matches = append(out.Matches, DuplicateMatch{
			IncidentID:    m.IncidentID,
			DisplayNumber: fmt.Sprintf("INC-%06d", m.Number),
			Score:         m.Score,
			TextScore:     m.TextScore,
			ImageScore:    m.ImageScore,
			MatchReasons:  m.MatchReasons,
			Status:        m.Status,
			ReportedAt:    m.ReportedAt,
		})
	}
	return out
}

// MergeResultToResponse converts an engine result.
func MergeResultToResponse(res *merging.Result) MergeResponse {
	out := MergeResponse{
		Primary:            IncidentToResponse(*res.Primary),
		RequestedPrimaryID: res.RequestedPrimaryID,
		PrimaryReselected:  res.Reselected,
		MergedIDs:          res.MergedIDs,
	}
	for _, d := range res.Dropped {
		out.Dropped = append(out.Dropped, DroppedDuplicate{IncidentID: d.IncidentID, Reason: d.Reason})
	}
	return out
}

// SuggestionsToResponse converts a list of suggestions.
func SuggestionsToResponse(suggestions []database.MergeSuggestion) SuggestionListResponse {
	items := make([]SuggestionResponse, len(suggestions))
	for i, s := range suggestions {
		items[i] = SuggestionResponse{MergeSuggestion: s}
	}
	return SuggestionListResponse{Suggestions: items, Total: len(items)}
}
