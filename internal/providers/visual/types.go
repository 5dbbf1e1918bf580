package visual

import (
	"context"

	"server/internal/domain"
)

// Request describes a normalized request passed to any visual provider.
type Request struct {
	Prompt       string
	ContentType  domain.ContentType
	Model        string
	CampaignID   string
	VariantIndex int
	// Seed keys deterministic synthetic output; typically the job's cache key.
	Seed string
}

// Asset is a single generated image or video returned by a provider.
type Asset struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Generator is the contract implemented by all visual providers. The provider
// is an opaque, slow, fallible collaborator: implementations must honor
// context cancellation and report failures through the domain error taxonomy
// so the worker pool can classify them as retryable or terminal.
type Generator interface {
	GenerateAsset(ctx context.Context, req Request) (Asset, error)
}
