package domain

import "time"

// ContentType enumerates supported generation job categories.
type ContentType string

const (
	ContentTypeImage ContentType = "image"
	ContentTypeVideo ContentType = "video"
)

// Valid reports whether the content type is one of the closed set.
func (c ContentType) Valid() bool {
	return c == ContentTypeImage || c == ContentTypeVideo
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs are immutable.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// AssetRef points a completed job at its stored asset.
type AssetRef struct {
	CampaignID string `json:"campaign_id"`
	Filename   string `json:"filename"`
	MIMEType   string `json:"mime_type"`
}

// Job encapsulates one unit of visual generation work for a campaign.
//
// Invariants, maintained by the job registry's transition methods:
//   - ResultRef is set iff Status == completed.
//   - ErrorMessage is set iff Status == failed.
//   - Progress is monotonically non-decreasing and reaches 1.0 iff completed.
type Job struct {
	ID           string
	CampaignID   string
	ContentType  ContentType
	Prompt       string
	Model        string
	VariantIndex int
	CacheKey     string
	Status       JobStatus
	Progress     float64
	ResultRef    *AssetRef
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

// EstimatedSeconds returns the expected wall-clock duration for the job's
// provider class. Used for the submission response and progress estimation.
func (j *Job) EstimatedSeconds() int {
	if j.ContentType == ContentTypeVideo {
		return 120
	}
	return 60
}
