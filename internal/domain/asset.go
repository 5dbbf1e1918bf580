package domain

import "time"

// StoredAsset describes a generated binary asset on disk. The asset store
// exclusively owns the file; the cache index holds a non-owning reference.
type StoredAsset struct {
	CampaignID   string    `json:"campaign_id"`
	CacheKey     string    `json:"cache_key"`
	VariantIndex int       `json:"variant_index"`
	IsCurrent    bool      `json:"is_current"`
	Filename     string    `json:"filename"`
	FilePath     string    `json:"file_path"`
	SizeBytes    int64     `json:"size_bytes"`
	MIMEType     string    `json:"mime_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Ref returns the job-facing reference for the asset.
func (a *StoredAsset) Ref() *AssetRef {
	return &AssetRef{
		CampaignID: a.CampaignID,
		Filename:   a.Filename,
		MIMEType:   a.MIMEType,
	}
}
