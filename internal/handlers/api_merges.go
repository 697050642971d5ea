package handlers

import (
	"net/http"

	"github.com/civicwatch/civicwatch/internal/api"
	"github.com/civicwatch/civicwatch/internal/database"
)

// handleIncidentSuggestions handles GET /api/incidents/{id}/merge-suggestions?status=
func (h *APIHandler) handleIncidentSuggestions(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	h.listSuggestions(w, r, id, "")
}

// handleListSuggestions handles GET /api/merge-suggestions?status=, the review
// queue. It lists pending suggestions unless a status (or "all") is given.
func (h *APIHandler) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	h.listSuggestions(w, r, "", database.SuggestionStatusPending)
}

// listSuggestions filters by the status query parameter, falling back to
// defaultStatus when it is absent. "all" matches every status.
func (h *APIHandler) listSuggestions(w http.ResponseWriter, r *http.Request, incidentID string, defaultStatus database.SuggestionStatus) {
	status := defaultStatus
	if r.URL.Query().Has("status") {
		status = database.SuggestionStatus(r.URL.Query().Get("status"))
	}
	if status == "all" {
		status = ""
	}
	suggestions, err := h.suggestions.List(r.Context(), incidentID, status)
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SuggestionsToResponse(suggestions))
}

// handleGetSuggestion handles GET /api/merge-suggestions/{id}
func (h *APIHandler) handleGetSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}

	suggestion, err := h.suggestions.Get(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.SuggestionResponse{MergeSuggestion: *suggestion})
}

// handleApproveSuggestion handles POST /api/merge-suggestions/{id}/approve
func (h *APIHandler) handleApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	var req api.ReviewRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.suggestions.Approve(r.Context(), id, req.ReviewerID, req.Notes)
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.MergeResultToResponse(result))
}

// handleRejectSuggestion handles POST /api/merge-suggestions/{id}/reject
func (h *APIHandler) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	var req api.ReviewRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	suggestion, err := h.suggestions.Reject(r.Context(), id, req.ReviewerID, req.Notes)
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.SuggestionResponse{MergeSuggestion: *suggestion})
}

// handleMergeIncidents handles POST /api/incidents/merge, a manual merge
func (h *APIHandler) handleMergeIncidents(w http.ResponseWriter, r *http.Request) {
	var req api.MergeRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.engine.Merge(r.Context(), req.ToMergeRequest())
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.MergeResultToResponse(result))
}
