package jobs

import (
	"errors"
	"testing"

	"server/internal/domain"
)

func createTestJob(r *Registry, campaignID string) domain.Job {
	return r.Create(CreateSpec{
		CampaignID:   campaignID,
		ContentType:  domain.ContentTypeImage,
		Prompt:       "red shoe on white background",
		Model:        "gemini-2.5-flash",
		VariantIndex: 0,
		CacheKey:     "cafebabe",
	})
}

func TestRegistryLifecycleInvariants(t *testing.T) {
	r := NewRegistry()
	job := createTestJob(r, "c1")
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("new job must be queued, got %s", job.Status)
	}
	if job.ID == "" {
		t.Fatal("job must receive an id")
	}

	if err := r.MarkProcessing(job.ID); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}
	ref := &domain.AssetRef{CampaignID: "c1", Filename: "curr_cafebabe_0.png", MIMEType: "image/png"}
	if err := r.Complete(job.ID, ref); err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	got, err := r.Get(job.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Progress != 1.0 {
		t.Fatalf("completed job must have progress 1.0, got %f", got.Progress)
	}
	if got.ResultRef == nil || got.ResultRef.Filename != ref.Filename {
		t.Fatalf("completed job must carry its result ref: %+v", got.ResultRef)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("completed job must not carry an error message: %q", got.ErrorMessage)
	}

	// Terminal jobs are immutable.
	if err := r.Fail(job.ID, "late failure"); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	r.UpdateProgress(job.ID, 0.5)
	got, _ = r.Get(job.ID)
	if got.Progress != 1.0 {
		t.Fatalf("terminal progress must not change, got %f", got.Progress)
	}
}

func TestRegistryFailInvariants(t *testing.T) {
	r := NewRegistry()
	job := createTestJob(r, "c1")
	if err := r.MarkProcessing(job.ID); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}
	if err := r.Fail(job.ID, "provider unavailable"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}

	got, _ := r.Get(job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("failed job must carry an error message")
	}
	if got.ResultRef != nil {
		t.Fatal("failed job must not carry a result ref")
	}
	if got.Progress >= 1.0 {
		t.Fatalf("failed job must not reach progress 1.0, got %f", got.Progress)
	}
}

func TestRegistryCompleteRequiresRef(t *testing.T) {
	r := NewRegistry()
	job := createTestJob(r, "c1")
	if err := r.MarkProcessing(job.ID); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}
	if err := r.Complete(job.ID, nil); err == nil {
		t.Fatal("completion without a result ref must be rejected")
	}
}

func TestRegistryProgressMonotonic(t *testing.T) {
	r := NewRegistry()
	job := createTestJob(r, "c1")
	if err := r.MarkProcessing(job.ID); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}

	r.UpdateProgress(job.ID, 0.4)
	r.UpdateProgress(job.ID, 0.2) // must not regress
	got, _ := r.Get(job.ID)
	if got.Progress != 0.4 {
		t.Fatalf("progress regressed: %f", got.Progress)
	}

	r.UpdateProgress(job.ID, 5.0) // capped below completion
	got, _ = r.Get(job.ID)
	if got.Progress != 0.99 {
		t.Fatalf("expected cap at 0.99, got %f", got.Progress)
	}
}

func TestRegistryCancelQueued(t *testing.T) {
	r := NewRegistry()
	job := createTestJob(r, "c1")
	if !r.Cancel(job.ID) {
		t.Fatal("expected cancel to take effect")
	}

	got, _ := r.Get(job.ID)
	if got.Status != domain.JobStatusCancelled {
		t.Fatalf("queued job must cancel immediately, got %s", got.Status)
	}
	// A cancelled job cannot be claimed.
	if err := r.MarkProcessing(job.ID); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestRegistryCancelProcessingIsCooperative(t *testing.T) {
	r := NewRegistry()
	job := createTestJob(r, "c1")
	if err := r.MarkProcessing(job.ID); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}

	if !r.Cancel(job.ID) {
		t.Fatal("expected cancel to take effect")
	}
	got, _ := r.Get(job.ID)
	if got.Status != domain.JobStatusProcessing {
		t.Fatalf("processing job stays processing until the worker observes the flag, got %s", got.Status)
	}
	if !r.CancelRequested(job.ID) {
		t.Fatal("expected cancellation flag")
	}

	if err := r.CancelProcessing(job.ID); err != nil {
		t.Fatalf("CancelProcessing error: %v", err)
	}
	got, _ = r.Get(job.ID)
	if got.Status != domain.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if r.CancelRequested(job.ID) {
		t.Fatal("flag must clear once the job terminates")
	}
}

func TestRegistryCancelAllByCampaign(t *testing.T) {
	r := NewRegistry()
	queued := createTestJob(r, "c1")
	processing := createTestJob(r, "c1")
	done := createTestJob(r, "c1")
	other := createTestJob(r, "c2")

	if err := r.MarkProcessing(processing.ID); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}
	if err := r.MarkProcessing(done.ID); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}
	if err := r.Fail(done.ID, "boom"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}

	cancelled := r.CancelAllByCampaign("c1")
	if len(cancelled) != 2 {
		t.Fatalf("expected 2 cancelled, got %d", len(cancelled))
	}

	got, _ := r.Get(queued.ID)
	if got.Status != domain.JobStatusCancelled {
		t.Fatalf("queued job must be cancelled, got %s", got.Status)
	}
	if !r.CancelRequested(processing.ID) {
		t.Fatal("processing job must be flagged")
	}
	got, _ = r.Get(other.ID)
	if got.Status != domain.JobStatusQueued {
		t.Fatalf("other campaign must be untouched, got %s", got.Status)
	}
}

func TestRegistryAggregate(t *testing.T) {
	r := NewRegistry()
	a := createTestJob(r, "c1")
	b := createTestJob(r, "c1")
	c := createTestJob(r, "c1")

	agg := r.AggregateByCampaign("c1")
	if agg.IsComplete || agg.OverallProgress != 0 {
		t.Fatalf("nothing terminal yet: %+v", agg)
	}

	for _, id := range []string{a.ID, b.ID} {
		if err := r.MarkProcessing(id); err != nil {
			t.Fatalf("MarkProcessing error: %v", err)
		}
	}
	if err := r.Complete(a.ID, &domain.AssetRef{CampaignID: "c1", Filename: "f", MIMEType: "image/png"}); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if err := r.Fail(b.ID, "boom"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}

	agg = r.AggregateByCampaign("c1")
	if agg.IsComplete {
		t.Fatal("one job still queued")
	}
	if agg.OverallProgress < 0.66 || agg.OverallProgress > 0.67 {
		t.Fatalf("expected 2/3 progress, got %f", agg.OverallProgress)
	}

	// Failed and cancelled both count as terminal.
	if !r.Cancel(c.ID) {
		t.Fatal("expected cancel to take effect")
	}
	agg = r.AggregateByCampaign("c1")
	if !agg.IsComplete || agg.OverallProgress != 1.0 {
		t.Fatalf("expected complete with 1.0, got %+v", agg)
	}
}

func TestRegistryAggregateEmptyCampaign(t *testing.T) {
	r := NewRegistry()
	agg := r.AggregateByCampaign("missing")
	if !agg.IsComplete {
		t.Fatal("a campaign with no jobs has nothing pending")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
