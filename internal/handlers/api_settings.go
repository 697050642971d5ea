package handlers

import (
	"net/http"

	"github.com/civicwatch/civicwatch/internal/api"
	"github.com/civicwatch/civicwatch/internal/database"
)

// handleGetJobSettings handles GET /api/settings/dedup-jobs
func (h *APIHandler) handleGetJobSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := database.GetOrCreateDedupJobSettings(h.db.WithContext(r.Context()))
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to get job settings")
		return
	}

	api.RespondJSON(w, http.StatusOK, settings)
}

// handleUpdateJobSettings handles PUT /api/settings/dedup-jobs
func (h *APIHandler) handleUpdateJobSettings(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateJobSettingsRequest
	if !api.DecodeAndValidate(w, r, &req) {
		return
	}

	db := h.db.WithContext(r.Context())
	settings, err := database.GetOrCreateDedupJobSettings(db)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to get job settings")
		return
	}
	req.ApplyTo(settings)

	if err := database.UpdateDedupJobSettings(db, settings); err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to update job settings")
		return
	}

	api.RespondJSON(w, http.StatusOK, settings)
}
