package handlers

import (
	"net/http"

	"gorm.io/gorm"

	"github.com/civicwatch/civicwatch/internal/merging"
	"github.com/civicwatch/civicwatch/internal/services"
)

// APIHandler handles the incident, duplicate detection and merge review endpoints
type APIHandler struct {
	db          *gorm.DB
	incidents   *services.IncidentService
	suggestions *merging.SuggestionService
	engine      *merging.Engine
	detector    merging.DuplicateDetector
}

// NewAPIHandler creates a new API handler. detector may be nil, in which case
// the duplicates endpoint answers 503 and everything else keeps working.
func NewAPIHandler(db *gorm.DB, incidents *services.IncidentService, suggestions *merging.SuggestionService, engine *merging.Engine, detector merging.DuplicateDetector) *APIHandler {
	return &APIHandler{
		db:          db,
		incidents:   incidents,
		suggestions: suggestions,
		engine:      engine,
		detector:    detector,
	}
}

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	// Incidents
	mux.HandleFunc("POST /api/incidents", h.handleCreateIncident)
	mux.HandleFunc("GET /api/incidents/{id}", h.handleGetIncident)
	mux.HandleFunc("POST /api/incidents/{id}/comments", h.handleAddComment)
	mux.HandleFunc("POST /api/incidents/{id}/upvote", h.handleToggleUpvote)
	mux.HandleFunc("POST /api/incidents/{id}/status", h.handleUpdateStatus)

	// Duplicate detection and merge review
	mux.HandleFunc("GET /api/incidents/{id}/duplicates", h.handleFindDuplicates)
	mux.HandleFunc("GET /api/incidents/{id}/merge-suggestions", h.handleIncidentSuggestions)
	mux.HandleFunc("GET /api/merge-suggestions", h.handleListSuggestions)
	mux.HandleFunc("GET /api/merge-suggestions/{id}", h.handleGetSuggestion)
	mux.HandleFunc("POST /api/merge-suggestions/{id}/approve", h.handleApproveSuggestion)
	mux.HandleFunc("POST /api/merge-suggestions/{id}/reject", h.handleRejectSuggestion)
	mux.HandleFunc("POST /api/incidents/merge", h.handleMergeIncidents)

	// Background job settings
	mux.HandleFunc("GET /api/settings/dedup-jobs", h.handleGetJobSettings)
	mux.HandleFunc("PUT /api/settings/dedup-jobs", h.handleUpdateJobSettings)
}
