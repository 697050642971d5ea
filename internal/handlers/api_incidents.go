package handlers

import (
	"errors"
	"net/http"

	"github.com/civicwatch/civicwatch/internal/api"
	"github.com/civicwatch/civicwatch/internal/deduplication"
	"github.com/civicwatch/civicwatch/internal/logging"
)

// handleCreateIncident handles POST /api/incidents. Duplicate detection runs
// in the background; the reporter gets the stored incident right away.
func (h *APIHandler) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var req api.CreateIncidentRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	inc, err := h.incidents.Create(r.Context(), req.ToCreateInput())
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}

	api.RespondJSON(w, http.StatusCreated, api.IncidentToResponse(*inc))
}

// handleGetIncident handles GET /api/incidents/{id}. The id may also be a
// display number such as INC-000042.
func (h *APIHandler) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	if api.IsDisplayNumber(r.PathValue("id")) {
		number, ok := api.PathNumber(w, r, "id")
		if !ok {
			return
		}
		inc, err := h.incidents.GetByNumber(r.Context(), number)
		if err != nil {
			api.RespondServiceError(w, r, err)
			return
		}
		api.RespondJSON(w, http.StatusOK, api.IncidentToResponse(*inc))
		return
	}

	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}

	inc, err := h.incidents.Get(r.Context(), id)
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.IncidentToResponse(*inc))
}

// handleAddComment handles POST /api/incidents/{id}/comments
func (h *APIHandler) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	var req api.AddCommentRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	inc, err := h.incidents.AddComment(r.Context(), id, req.AuthorID, req.Text, req.Internal)
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.IncidentToResponse(*inc))
}

// handleToggleUpvote handles POST /api/incidents/{id}/upvote
func (h *APIHandler) handleToggleUpvote(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	var req api.UpvoteRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	inc, err := h.incidents.ToggleUpvote(r.Context(), id, req.UserID)
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.IncidentToResponse(*inc))
}

// handleUpdateStatus handles POST /api/incidents/{id}/status
func (h *APIHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	var req api.UpdateStatusRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	inc, err := h.incidents.UpdateStatus(r.Context(), id, req.ToStatusUpdate())
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.IncidentToResponse(*inc))
}

// handleFindDuplicates handles GET /api/incidents/{id}/duplicates?recurrence=true
func (h *APIHandler) handleFindDuplicates(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	if h.detector == nil {
		api.RespondErrorWithCode(w, http.StatusServiceUnavailable, "detection_disabled", "duplicate detection is not configured")
		return
	}

	ctx := logging.WithLogFields(r.Context(), logging.LogFields{IncidentID: id})
	inc, err := h.incidents.Get(ctx, id)
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}

	res, err := h.detector.DetectDuplicates(ctx, inc, deduplication.DetectOptions{
		IncludeResolved: api.QueryBool(r, "recurrence"),
	})
	if errors.Is(err, deduplication.ErrDetectionDegraded) {
		api.RespondErrorWithCode(w, http.StatusServiceUnavailable, "detection_degraded", err.Error())
		return
	}
	if err != nil {
		api.RespondServiceError(w, r, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, api.DetectionToResponse(id, res))
}
