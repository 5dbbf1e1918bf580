package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"server/internal/cache"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/visual"
	"server/internal/store"
)

// PoolConfig sizes the worker pool and bounds its provider calls. The small
// fixed worker count is admission control for paid external APIs, not an
// oversight.
type PoolConfig struct {
	Workers      int
	ImageTimeout time.Duration
	VideoTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = 60 * time.Second
	}
	if c.VideoTimeout <= 0 {
		c.VideoTimeout = 120 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	return c
}

// Pool runs generation jobs against the visual provider with bounded
// concurrency. Jobs sharing a cache key are serialized through a per-key
// mutex held from cache lookup to asset promotion, so identical near-
// simultaneous requests can never race to write two current assets.
type Pool struct {
	cfg       PoolConfig
	queue     *Queue
	registry  *Registry
	index     *cache.Index
	assets    *store.AssetStore
	generator visual.Generator
	logger    infra.Logger

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
	inFlight map[string]context.CancelFunc
}

// NewPool wires a worker pool over the queue, registry, cache index, asset
// store, and provider.
func NewPool(cfg PoolConfig, queue *Queue, registry *Registry, index *cache.Index, assets *store.AssetStore, generator visual.Generator, logger infra.Logger) *Pool {
	return &Pool{
		cfg:       cfg.withDefaults(),
		queue:     queue,
		registry:  registry,
		index:     index,
		assets:    assets,
		generator: generator,
		logger:    logger,
		keyLocks:  make(map[string]*sync.Mutex),
		inFlight:  make(map[string]context.CancelFunc),
	}
}

// Submit enqueues a job for processing. Non-blocking; the request handler
// returns immediately after submission.
func (p *Pool) Submit(job domain.Job) {
	p.queue.Enqueue(job.ID)
}

// Run starts the workers and blocks until ctx is cancelled and all workers
// have drained.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.logger.Info().Int("worker", worker).Msg("pool: worker started")
			for {
				jobID, err := p.queue.Dequeue(ctx)
				if err != nil {
					p.logger.Info().Int("worker", worker).Msg("pool: worker stopped")
					return err
				}
				p.process(ctx, jobID)
			}
		})
	}
	return g.Wait()
}

// Cancel cancels one job: queued jobs terminate immediately, a processing
// job has its in-flight call aborted best-effort and is finalized by the
// owning worker. Returns whether the request had any effect.
func (p *Pool) Cancel(jobID string) bool {
	if !p.registry.Cancel(jobID) {
		return false
	}
	p.abortInFlight(jobID)
	return true
}

// CancelAll cancels every non-terminal job for a campaign and returns how
// many were affected.
func (p *Pool) CancelAll(campaignID string) int {
	cancelled := p.registry.CancelAllByCampaign(campaignID)
	for _, jobID := range cancelled {
		p.abortInFlight(jobID)
	}
	return len(cancelled)
}

func (p *Pool) process(ctx context.Context, jobID string) {
	if err := p.registry.MarkProcessing(jobID); err != nil {
		// Cancelled while queued, or otherwise not claimable.
		p.logger.Debug().Err(err).Str("job_id", jobID).Msg("pool: job not claimable")
		return
	}
	job, err := p.registry.Get(jobID)
	if err != nil {
		return
	}

	log := p.logger.With().
		Str("job_id", job.ID).
		Str("campaign_id", job.CampaignID).
		Str("cache_key", job.CacheKey).
		Str("content_type", string(job.ContentType)).
		Logger()

	unlock := p.lockKey(job.CampaignID, job.CacheKey)
	defer unlock()

	if p.registry.CancelRequested(jobID) {
		p.finishCancelled(jobID, log)
		return
	}

	// Cache hit short-circuits the provider call entirely.
	if cached, ok := p.index.Lookup(job.CacheKey); ok {
		if err := p.registry.Complete(jobID, cached.Ref()); err == nil {
			log.Info().Str("filename", cached.Filename).Msg("pool: served from cache")
		}
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.trackInFlight(jobID, cancel)
	defer p.untrackInFlight(jobID)

	asset, genErr := p.generate(jobCtx, job, log)
	if genErr != nil {
		if p.isCancelled(jobID, jobCtx) {
			p.finishCancelled(jobID, log)
			return
		}
		log.Warn().Err(genErr).Msg("pool: generation failed")
		_ = p.registry.Fail(jobID, userMessage(genErr))
		return
	}

	// No-commit checkpoint: a job cancelled mid-flight must not promote its
	// result even though the provider call finished.
	if p.isCancelled(jobID, jobCtx) {
		p.finishCancelled(jobID, log)
		return
	}

	stored, err := p.assets.Save(ctx, job.CampaignID, job.CacheKey, job.VariantIndex, asset.Data, asset.MIMEType)
	if err != nil {
		log.Error().Err(err).Msg("pool: failed to store generated asset")
		_ = p.registry.Fail(jobID, "failed to store generated asset")
		return
	}

	if err := p.registry.Complete(jobID, stored.Ref()); err != nil {
		log.Error().Err(err).Msg("pool: completion transition failed")
		return
	}
	log.Info().
		Str("filename", stored.Filename).
		Int64("bytes", stored.SizeBytes).
		Msg("pool: job completed")
}

// generate calls the provider with a bounded timeout, retrying transient
// failures with backoff up to the configured budget.
func (p *Pool) generate(jobCtx context.Context, job domain.Job, log infra.Logger) (visual.Asset, error) {
	timeout := p.cfg.ImageTimeout
	if job.ContentType == domain.ContentTypeVideo {
		timeout = p.cfg.VideoTimeout
	}
	estimated := time.Duration(job.EstimatedSeconds()) * time.Second

	attempts := p.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if p.isCancelled(job.ID, jobCtx) {
			return visual.Asset{}, jobCtx.Err()
		}
		if attempt > 0 {
			log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("pool: retrying provider call")
			select {
			case <-jobCtx.Done():
				return visual.Asset{}, jobCtx.Err()
			case <-time.After(p.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}

		callCtx, cancelCall := context.WithTimeout(jobCtx, timeout)
		stop := p.trackProgress(callCtx, job.ID, estimated)
		asset, err := p.generator.GenerateAsset(callCtx, visual.Request{
			Prompt:       job.Prompt,
			ContentType:  job.ContentType,
			Model:        job.Model,
			CampaignID:   job.CampaignID,
			VariantIndex: job.VariantIndex,
			Seed:         job.CacheKey,
		})
		stop()
		cancelCall()

		if err == nil {
			if len(asset.Data) == 0 {
				err = fmt.Errorf("%w: provider returned empty asset", domain.ErrProviderUnavailable)
			} else {
				return asset, nil
			}
		}
		if errors.Is(err, context.DeadlineExceeded) && jobCtx.Err() == nil {
			err = fmt.Errorf("%w: call exceeded %s", domain.ErrProviderTimeout, timeout)
		}
		lastErr = err
		if !domain.IsRetryable(err) {
			return visual.Asset{}, err
		}
	}
	return visual.Asset{}, lastErr
}

// trackProgress advances the job's progress on a ticker toward a ceiling
// while the provider call is in flight. Only completion sets 1.0.
func (p *Pool) trackProgress(ctx context.Context, jobID string, estimated time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		start := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				frac := float64(time.Since(start)) / float64(estimated)
				if frac > 1 {
					frac = 1
				}
				p.registry.UpdateProgress(jobID, 0.05+0.9*frac)
			}
		}
	}()
	return func() { close(done) }
}

func (p *Pool) isCancelled(jobID string, jobCtx context.Context) bool {
	return p.registry.CancelRequested(jobID) || jobCtx.Err() != nil
}

func (p *Pool) finishCancelled(jobID string, log infra.Logger) {
	if err := p.registry.CancelProcessing(jobID); err == nil {
		log.Info().Msg("pool: job cancelled")
	}
}

func (p *Pool) lockKey(campaignID, cacheKey string) func() {
	lockID := campaignID + "/" + cacheKey
	p.mu.Lock()
	lock, ok := p.keyLocks[lockID]
	if !ok {
		lock = &sync.Mutex{}
		p.keyLocks[lockID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (p *Pool) trackInFlight(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.inFlight[jobID] = cancel
	p.mu.Unlock()
}

func (p *Pool) untrackInFlight(jobID string) {
	p.mu.Lock()
	delete(p.inFlight, jobID)
	p.mu.Unlock()
}

func (p *Pool) abortInFlight(jobID string) {
	p.mu.Lock()
	cancel, ok := p.inFlight[jobID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// userMessage strips wrapped detail down to the taxonomy sentence surfaced to
// polling clients.
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrProviderTimeout):
		return "generation timed out"
	case errors.Is(err, domain.ErrProviderRateLimited):
		return "generation rate limited by provider"
	case errors.Is(err, domain.ErrProviderRejected):
		return "prompt rejected by provider"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "provider unavailable"
	case errors.Is(err, domain.ErrStorage):
		return "failed to store generated asset"
	default:
		return "generation failed"
	}
}
