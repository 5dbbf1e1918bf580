package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
)

type jobStatus struct {
	JobID     string             `json:"jobId"`
	Status    domain.JobStatus   `json:"status"`
	Progress  float64            `json:"progress"`
	ResultURL string             `json:"resultUrl,omitempty"`
	Error     string             `json:"error,omitempty"`
	Content   domain.ContentType `json:"contentType"`
}

type statusResponse struct {
	OverallProgress float64     `json:"overallProgress"`
	Jobs            []jobStatus `json:"jobs"`
	IsComplete      bool        `json:"isComplete"`
}

// Status aggregates the campaign's job states for polling clients. Each poll
// is a cheap registry read; nothing blocks on generation.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if campaignID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "campaignId required")
		return
	}

	campaignJobs := a.Registry.ListByCampaign(campaignID)
	aggregate := a.Registry.AggregateByCampaign(campaignID)

	response := statusResponse{
		OverallProgress: aggregate.OverallProgress,
		IsComplete:      aggregate.IsComplete,
		Jobs:            make([]jobStatus, 0, len(campaignJobs)),
	}
	for _, job := range campaignJobs {
		entry := jobStatus{
			JobID:    job.ID,
			Status:   job.Status,
			Progress: job.Progress,
			Error:    job.ErrorMessage,
			Content:  job.ContentType,
		}
		if job.ResultRef != nil {
			entry.ResultURL = a.assetURL(job.ResultRef.CampaignID, job.ResultRef.Filename)
		}
		response.Jobs = append(response.Jobs, entry)
	}

	a.json(w, http.StatusOK, response)
}
