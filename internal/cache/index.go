package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"server/internal/domain"
)

// Index maps cache keys to the current stored asset for that key. It is a
// derived view of the asset store's filesystem state: the in-memory map serves
// lookups, JSON sidecar records under <basePath>/<campaignId>/ make the view
// survive restarts, and on sidecar loss the index is rebuilt by scanning the
// asset directory. Only current assets are indexed; a demoted key is a miss.
type Index struct {
	basePath string

	mu      sync.RWMutex
	entries map[string]domain.StoredAsset
}

// NewIndex initializes an Index persisting sidecar records under basePath.
func NewIndex(basePath string) (*Index, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("cache: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("cache: ensure base path: %w", err)
	}
	return &Index{
		basePath: basePath,
		entries:  make(map[string]domain.StoredAsset),
	}, nil
}

// Lookup returns the current asset for the key, if any.
func (ix *Index) Lookup(cacheKey string) (domain.StoredAsset, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	asset, ok := ix.entries[cacheKey]
	return asset, ok
}

// Put registers the asset as current for its key and persists the sidecar
// record. Called by the asset store inside its per-key critical section.
func (ix *Index) Put(asset domain.StoredAsset) error {
	if asset.CacheKey == "" {
		return errors.New("cache: asset has no cache key")
	}
	asset.IsCurrent = true

	ix.mu.Lock()
	ix.entries[asset.CacheKey] = asset
	ix.mu.Unlock()

	return ix.writeSidecar(asset)
}

// Demote drops the key from the index and removes its sidecar. A missing
// entry is not an error; demotion must be idempotent.
func (ix *Index) Demote(campaignID, cacheKey string) error {
	ix.mu.Lock()
	delete(ix.entries, cacheKey)
	ix.mu.Unlock()

	path := ix.sidecarPath(campaignID, cacheKey)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: remove sidecar: %w", err)
	}
	return nil
}

// RemoveCampaign drops every entry and sidecar for the campaign. Used by
// campaign teardown.
func (ix *Index) RemoveCampaign(campaignID string) error {
	ix.mu.Lock()
	for key, asset := range ix.entries {
		if asset.CampaignID == campaignID {
			delete(ix.entries, key)
		}
	}
	ix.mu.Unlock()

	dir := filepath.Join(ix.basePath, campaignID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cache: remove campaign sidecars: %w", err)
	}
	return nil
}

// Load populates the in-memory map from sidecar records. Unreadable records
// are skipped; the asset directory scan reconciles any resulting gaps.
func (ix *Index) Load() error {
	campaigns, err := os.ReadDir(ix.basePath)
	if err != nil {
		return fmt.Errorf("cache: read base path: %w", err)
	}

	loaded := make(map[string]domain.StoredAsset)
	for _, campaign := range campaigns {
		if !campaign.IsDir() {
			continue
		}
		dir := filepath.Join(ix.basePath, campaign.Name())
		records, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, record := range records {
			name := record.Name()
			if !strings.HasPrefix(name, currentSidecarPrefix) || !strings.HasSuffix(name, ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			var asset domain.StoredAsset
			if err := json.Unmarshal(data, &asset); err != nil || asset.CacheKey == "" {
				continue
			}
			loaded[asset.CacheKey] = asset
		}
	}

	ix.mu.Lock()
	ix.entries = loaded
	ix.mu.Unlock()
	return nil
}

// Reconcile makes the index agree with the given filesystem scan of current
// assets: scanned assets missing from the index are added (with their sidecars
// rewritten), and entries whose file no longer exists are dropped. The
// filesystem always wins.
func (ix *Index) Reconcile(scanned []domain.StoredAsset) (added, dropped int) {
	byKey := make(map[string]domain.StoredAsset, len(scanned))
	for _, asset := range scanned {
		byKey[asset.CacheKey] = asset
	}

	ix.mu.Lock()
	var stale []domain.StoredAsset
	for key, asset := range ix.entries {
		if _, ok := byKey[key]; !ok {
			stale = append(stale, asset)
			delete(ix.entries, key)
			dropped++
		}
	}
	var missing []domain.StoredAsset
	for key, asset := range byKey {
		if _, ok := ix.entries[key]; !ok {
			asset.IsCurrent = true
			ix.entries[key] = asset
			missing = append(missing, asset)
			added++
		}
	}
	ix.mu.Unlock()

	for _, asset := range stale {
		_ = os.Remove(ix.sidecarPath(asset.CampaignID, asset.CacheKey))
	}
	for _, asset := range missing {
		_ = ix.writeSidecar(asset)
	}
	return added, dropped
}

// ListCampaign returns the indexed current assets for a campaign, ordered by
// variant index so archive contents are stable.
func (ix *Index) ListCampaign(campaignID string) []domain.StoredAsset {
	ix.mu.RLock()
	var assets []domain.StoredAsset
	for _, asset := range ix.entries {
		if asset.CampaignID == campaignID {
			assets = append(assets, asset)
		}
	}
	ix.mu.RUnlock()

	sort.Slice(assets, func(i, j int) bool {
		if assets[i].VariantIndex != assets[j].VariantIndex {
			return assets[i].VariantIndex < assets[j].VariantIndex
		}
		return assets[i].Filename < assets[j].Filename
	})
	return assets
}

// Len returns the number of indexed current assets.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

const currentSidecarPrefix = "curr_"

func (ix *Index) sidecarPath(campaignID, cacheKey string) string {
	return filepath.Join(ix.basePath, campaignID, currentSidecarPrefix+cacheKey+".json")
}

func (ix *Index) writeSidecar(asset domain.StoredAsset) error {
	dir := filepath.Join(ix.basePath, asset.CampaignID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: ensure sidecar directory: %w", err)
	}
	data, err := json.MarshalIndent(asset, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal sidecar: %w", err)
	}
	path := ix.sidecarPath(asset.CampaignID, asset.CacheKey)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cache: write sidecar: %w", err)
	}
	return nil
}
