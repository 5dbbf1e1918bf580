package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"server/internal/cache"
	"server/internal/domain"
	"server/internal/jobs"
)

const maxItemsPerRequest = 12

type generateItem struct {
	Prompt       string             `json:"prompt"`
	ContentType  domain.ContentType `json:"contentType"`
	VariantIndex int                `json:"variantIndex"`
	Model        string             `json:"model,omitempty"`
}

type generateRequest struct {
	CampaignID string         `json:"campaignId"`
	Items      []generateItem `json:"items"`
}

type enqueuedJob struct {
	JobID            string             `json:"jobId"`
	ContentType      domain.ContentType `json:"contentType"`
	EstimatedSeconds int                `json:"estimatedSeconds"`
}

type generateResponse struct {
	Jobs    []enqueuedJob `json:"jobs"`
	PollURL string        `json:"pollUrl"`
}

// Generate accepts a batch of generation requests for a campaign, creates one
// job per item, enqueues them, and returns immediately. Generation happens on
// the worker pool; the caller observes it through the poll URL.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if msg := validateGenerateRequest(&req); msg != "" {
		a.error(w, http.StatusBadRequest, "bad_request", msg)
		return
	}

	response := generateResponse{
		Jobs:    make([]enqueuedJob, 0, len(req.Items)),
		PollURL: "/status/" + req.CampaignID,
	}
	for _, item := range req.Items {
		model := item.Model
		if model == "" {
			model = a.Config.ImageModel
			if item.ContentType == domain.ContentTypeVideo {
				model = a.Config.VideoModel
			}
		}
		job := a.Registry.Create(jobs.CreateSpec{
			CampaignID:   req.CampaignID,
			ContentType:  item.ContentType,
			Prompt:       item.Prompt,
			Model:        model,
			VariantIndex: item.VariantIndex,
			CacheKey:     cache.MakeKey(req.CampaignID, item.Prompt, model, item.VariantIndex),
		})
		a.Pool.Submit(job)
		response.Jobs = append(response.Jobs, enqueuedJob{
			JobID:            job.ID,
			ContentType:      job.ContentType,
			EstimatedSeconds: job.EstimatedSeconds(),
		})
	}

	a.Logger.Info().
		Str("campaign_id", req.CampaignID).
		Int("jobs", len(response.Jobs)).
		Msg("generation batch enqueued")
	a.json(w, http.StatusAccepted, response)
}

// validateGenerateRequest rejects malformed batches before any job is
// created. Returns "" when the request is acceptable.
func validateGenerateRequest(req *generateRequest) string {
	req.CampaignID = strings.TrimSpace(req.CampaignID)
	if req.CampaignID == "" {
		return "campaignId is required"
	}
	if strings.ContainsAny(req.CampaignID, "/\\") || strings.Contains(req.CampaignID, "..") {
		return "campaignId contains invalid characters"
	}
	if len(req.Items) == 0 {
		return "items must not be empty"
	}
	if len(req.Items) > maxItemsPerRequest {
		return "too many items in one request"
	}
	for i := range req.Items {
		item := &req.Items[i]
		item.Prompt = strings.TrimSpace(item.Prompt)
		if item.Prompt == "" {
			return "every item needs a prompt"
		}
		if !item.ContentType.Valid() {
			return "contentType must be image or video"
		}
		if item.VariantIndex < 0 {
			return "variantIndex must not be negative"
		}
	}
	return ""
}
