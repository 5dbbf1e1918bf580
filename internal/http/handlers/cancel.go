package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CancelCampaign cancels every non-terminal job for the campaign. Queued jobs
// terminate immediately; processing jobs are cancelled cooperatively and will
// not promote their results.
func (a *App) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if campaignID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "campaignId required")
		return
	}

	cancelled := a.Pool.CancelAll(campaignID)
	a.Logger.Info().
		Str("campaign_id", campaignID).
		Int("cancelled", cancelled).
		Msg("campaign jobs cancelled")
	a.json(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}
