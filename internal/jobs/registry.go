package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
)

// CreateSpec carries the fields the request handler knows when it creates a
// job.
type CreateSpec struct {
	CampaignID   string
	ContentType  domain.ContentType
	Prompt       string
	Model        string
	VariantIndex int
	CacheKey     string
}

// Aggregate is the polling view over a campaign's jobs. Failed and cancelled
// jobs count as terminal, not pending, so partial failure never wedges a
// client's poll loop.
type Aggregate struct {
	OverallProgress float64
	IsComplete      bool
	Total           int
}

// Registry is the single source of truth for job state. Each job is mutated
// only by its owning worker, so a coarse registry-wide lock covering the map
// plus short transition sections is sufficient. Terminal jobs are immutable.
type Registry struct {
	mu         sync.RWMutex
	jobs       map[string]*domain.Job
	byCampaign map[string][]string
	cancelReq  map[string]bool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:       make(map[string]*domain.Job),
		byCampaign: make(map[string][]string),
		cancelReq:  make(map[string]bool),
	}
}

// Create registers a new queued job and returns a copy of it.
func (r *Registry) Create(spec CreateSpec) domain.Job {
	job := &domain.Job{
		ID:           uuid.NewString(),
		CampaignID:   spec.CampaignID,
		ContentType:  spec.ContentType,
		Prompt:       spec.Prompt,
		Model:        spec.Model,
		VariantIndex: spec.VariantIndex,
		CacheKey:     spec.CacheKey,
		Status:       domain.JobStatusQueued,
		CreatedAt:    time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.byCampaign[job.CampaignID] = append(r.byCampaign[job.CampaignID], job.ID)
	r.mu.Unlock()

	return *job
}

// Get returns a copy of the job.
func (r *Registry) Get(jobID string) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	return *job, nil
}

// ListByCampaign returns copies of the campaign's jobs in creation order.
func (r *Registry) ListByCampaign(campaignID string) []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byCampaign[campaignID]
	out := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := r.jobs[id]; ok {
			out = append(out, *job)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MarkProcessing claims a queued job for a worker. Claiming a job that is no
// longer queued (cancelled while waiting, or already claimed) fails.
func (r *Registry) MarkProcessing(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if job.Status != domain.JobStatusQueued {
		return fmt.Errorf("job %s in state %s: %w", jobID, job.Status, domain.ErrJobTerminal)
	}
	job.Status = domain.JobStatusProcessing
	job.StartedAt = time.Now().UTC()
	job.Progress = 0.05
	return nil
}

// UpdateProgress raises the job's progress. Progress never decreases and
// stays below 1.0 for anything but completion; updates on terminal jobs are
// ignored.
func (r *Registry) UpdateProgress(jobID string, progress float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return
	}
	if progress > 0.99 {
		progress = 0.99
	}
	if progress > job.Progress {
		job.Progress = progress
	}
}

// Complete transitions a processing job to completed with its asset
// reference. Only completion sets progress to exactly 1.0.
func (r *Registry) Complete(jobID string, ref *domain.AssetRef) error {
	if ref == nil {
		return fmt.Errorf("job %s: completion requires an asset reference", jobID)
	}
	return r.finish(jobID, func(job *domain.Job) {
		job.Status = domain.JobStatusCompleted
		job.Progress = 1.0
		job.ResultRef = ref
	})
}

// Fail transitions a processing job to failed with a human-readable message.
func (r *Registry) Fail(jobID, message string) error {
	return r.finish(jobID, func(job *domain.Job) {
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = message
	})
}

// CancelProcessing finalizes a cooperative cancellation observed by the
// owning worker.
func (r *Registry) CancelProcessing(jobID string) error {
	return r.finish(jobID, func(job *domain.Job) {
		job.Status = domain.JobStatusCancelled
	})
}

func (r *Registry) finish(jobID string, apply func(*domain.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if job.Status != domain.JobStatusProcessing {
		return fmt.Errorf("job %s in state %s: %w", jobID, job.Status, domain.ErrJobTerminal)
	}
	apply(job)
	job.CompletedAt = time.Now().UTC()
	delete(r.cancelReq, jobID)
	return nil
}

// Cancel cancels one job: a queued job transitions to cancelled immediately;
// for a processing job a cancellation flag is set for the owning worker to
// observe at its next checkpoint. Returns true when the request had any
// effect.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked(jobID)
}

// CancelAllByCampaign cancels every non-terminal job for the campaign and
// returns the IDs affected.
func (r *Registry) CancelAllByCampaign(campaignID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cancelled []string
	for _, id := range r.byCampaign[campaignID] {
		if r.cancelLocked(id) {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled
}

func (r *Registry) cancelLocked(jobID string) bool {
	job, ok := r.jobs[jobID]
	if !ok {
		return false
	}
	switch job.Status {
	case domain.JobStatusQueued:
		job.Status = domain.JobStatusCancelled
		job.CompletedAt = time.Now().UTC()
		return true
	case domain.JobStatusProcessing:
		if r.cancelReq[jobID] {
			return false
		}
		r.cancelReq[jobID] = true
		return true
	}
	return false
}

// CancelRequested reports whether cooperative cancellation is pending for the
// job.
func (r *Registry) CancelRequested(jobID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cancelReq[jobID]
}

// AggregateByCampaign computes the polling view. A campaign with no jobs is
// complete; there is nothing to wait for.
func (r *Registry) AggregateByCampaign(campaignID string) Aggregate {
	jobs := r.ListByCampaign(campaignID)
	if len(jobs) == 0 {
		return Aggregate{OverallProgress: 1.0, IsComplete: true}
	}
	terminal := 0
	for _, job := range jobs {
		if job.Status.Terminal() {
			terminal++
		}
	}
	return Aggregate{
		OverallProgress: float64(terminal) / float64(len(jobs)),
		IsComplete:      terminal == len(jobs),
		Total:           len(jobs),
	}
}
