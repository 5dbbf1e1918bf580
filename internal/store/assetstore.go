package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"server/internal/cache"
	"server/internal/domain"
)

const currentPrefix = "curr_"

// AssetStore persists generated binary assets onto the local filesystem,
// one directory per campaign. The most recent asset for a cache key carries a
// "curr_" name prefix; superseded assets keep the same name without the prefix
// until cleanup removes them. The store is the single writer for both the
// files and the cache index, so the two can never disagree about which asset
// is current.
type AssetStore struct {
	basePath string
	index    *cache.Index

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// NewAssetStore initializes an AssetStore rooted at basePath, updating index
// in lockstep with every promotion and demotion.
func NewAssetStore(basePath string, index *cache.Index) (*AssetStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("store: base path is required")
	}
	if index == nil {
		return nil, errors.New("store: cache index is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure base path: %w", err)
	}
	return &AssetStore{
		basePath: basePath,
		index:    index,
		keyLocks: make(map[string]*sync.Mutex),
	}, nil
}

// BasePath returns the configured root directory.
func (s *AssetStore) BasePath() string {
	return s.basePath
}

// Save writes data as the new current asset for (campaignID, cacheKey). The
// bytes are written to a temporary file first, any prior current asset for the
// key is demoted by renaming away its prefix, and the temp file is renamed
// into place; the rename is the atomic promotion point, so a partial write is
// never visible as current. Failures are storage errors and surface to the
// owning job as a failure.
func (s *AssetStore) Save(ctx context.Context, campaignID, cacheKey string, variantIndex int, data []byte, mimeType string) (domain.StoredAsset, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoredAsset{}, err
	}
	if err := validateSegment(campaignID); err != nil {
		return domain.StoredAsset{}, fmt.Errorf("store: campaign id: %w", err)
	}
	if cacheKey == "" {
		return domain.StoredAsset{}, errors.New("store: cache key is required")
	}
	if len(data) == 0 {
		return domain.StoredAsset{}, fmt.Errorf("%w: refusing to save empty asset for key %s", domain.ErrStorage, cacheKey)
	}

	unlock := s.lockKey(campaignID, cacheKey)
	defer unlock()

	dir := filepath.Join(s.basePath, campaignID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.StoredAsset{}, fmt.Errorf("%w: ensure campaign directory: %v", domain.ErrStorage, err)
	}

	ext := ExtensionForMIME(mimeType)
	baseName := fmt.Sprintf("%s_%d%s", cacheKey, variantIndex, ext)
	currentName := currentPrefix + baseName

	tmp, err := os.CreateTemp(dir, ".pending-*")
	if err != nil {
		return domain.StoredAsset{}, fmt.Errorf("%w: create temp file: %v", domain.ErrStorage, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return domain.StoredAsset{}, fmt.Errorf("%w: write asset data: %v", domain.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return domain.StoredAsset{}, fmt.Errorf("%w: close temp file: %v", domain.ErrStorage, err)
	}

	// Demote whatever was current for this key before promoting the new file.
	currentPath := filepath.Join(dir, currentName)
	if _, statErr := os.Stat(currentPath); statErr == nil {
		historicalPath := filepath.Join(dir, baseName)
		if err := os.Rename(currentPath, historicalPath); err != nil {
			os.Remove(tmpPath)
			return domain.StoredAsset{}, fmt.Errorf("%w: demote previous asset: %v", domain.ErrStorage, err)
		}
	}
	if err := s.index.Demote(campaignID, cacheKey); err != nil {
		os.Remove(tmpPath)
		return domain.StoredAsset{}, fmt.Errorf("%w: demote index entry: %v", domain.ErrStorage, err)
	}

	if err := os.Rename(tmpPath, currentPath); err != nil {
		os.Remove(tmpPath)
		return domain.StoredAsset{}, fmt.Errorf("%w: promote asset: %v", domain.ErrStorage, err)
	}

	asset := domain.StoredAsset{
		CampaignID:   campaignID,
		CacheKey:     cacheKey,
		VariantIndex: variantIndex,
		IsCurrent:    true,
		Filename:     currentName,
		FilePath:     currentPath,
		SizeBytes:    int64(len(data)),
		MIMEType:     mimeType,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.index.Put(asset); err != nil {
		return domain.StoredAsset{}, fmt.Errorf("%w: index asset: %v", domain.ErrStorage, err)
	}
	return asset, nil
}

// Resolve maps a campaign and filename to the file path and MIME type for
// serving. Filenames containing traversal sequences or path separators are
// rejected as not found; the caller must never learn whether the path existed.
func (s *AssetStore) Resolve(campaignID, filename string) (string, string, error) {
	if err := validateSegment(campaignID); err != nil {
		return "", "", domain.ErrNotFound
	}
	if err := validateSegment(filename); err != nil {
		return "", "", domain.ErrNotFound
	}

	path := filepath.Join(s.basePath, campaignID, filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", "", domain.ErrNotFound
	}
	return path, MIMEForExtension(filepath.Ext(filename)), nil
}

// CleanupHistorical deletes every non-current asset for the campaign, or for
// all campaigns when campaignID is empty. Current assets are never touched;
// running it repeatedly is a no-op after the first pass. Leftover temp files
// from interrupted writes are swept as well.
func (s *AssetStore) CleanupHistorical(campaignID string) (int, error) {
	var campaigns []string
	if campaignID != "" {
		if err := validateSegment(campaignID); err != nil {
			return 0, fmt.Errorf("store: campaign id: %w", err)
		}
		campaigns = []string{campaignID}
	} else {
		entries, err := os.ReadDir(s.basePath)
		if err != nil {
			return 0, fmt.Errorf("store: read base path: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				campaigns = append(campaigns, entry.Name())
			}
		}
	}

	removed := 0
	for _, campaign := range campaigns {
		dir := filepath.Join(s.basePath, campaign)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("store: read campaign directory: %w", err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || strings.HasPrefix(name, currentPrefix) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return removed, fmt.Errorf("store: remove historical asset: %w", err)
			}
			if !strings.HasPrefix(name, ".pending-") {
				removed++
			}
		}
	}
	return removed, nil
}

// RemoveCampaign tears down every asset for the campaign, current included,
// along with its index entries. This is the only path that deletes current
// assets.
func (s *AssetStore) RemoveCampaign(campaignID string) error {
	if err := validateSegment(campaignID); err != nil {
		return fmt.Errorf("store: campaign id: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.basePath, campaignID)); err != nil {
		return fmt.Errorf("%w: remove campaign directory: %v", domain.ErrStorage, err)
	}
	if err := s.index.RemoveCampaign(campaignID); err != nil {
		return fmt.Errorf("%w: remove campaign index entries: %v", domain.ErrStorage, err)
	}
	return nil
}

// ScanCurrent walks the asset tree and reconstructs metadata for every
// current-marked file. The result feeds index reconciliation at startup, which
// is how the service recovers from a lost or corrupted index.
func (s *AssetStore) ScanCurrent() ([]domain.StoredAsset, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("store: read base path: %w", err)
	}

	var assets []domain.StoredAsset
	for _, campaign := range entries {
		if !campaign.IsDir() {
			continue
		}
		dir := filepath.Join(s.basePath, campaign.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, file := range files {
			name := file.Name()
			if file.IsDir() || !strings.HasPrefix(name, currentPrefix) {
				continue
			}
			cacheKey, variantIndex, ok := parseAssetName(name)
			if !ok {
				continue
			}
			info, err := file.Info()
			if err != nil {
				continue
			}
			assets = append(assets, domain.StoredAsset{
				CampaignID:   campaign.Name(),
				CacheKey:     cacheKey,
				VariantIndex: variantIndex,
				IsCurrent:    true,
				Filename:     name,
				FilePath:     filepath.Join(dir, name),
				SizeBytes:    info.Size(),
				MIMEType:     MIMEForExtension(filepath.Ext(name)),
				CreatedAt:    info.ModTime().UTC(),
			})
		}
	}
	return assets, nil
}

// lockKey serializes promote/demote critical sections per (campaign, key).
func (s *AssetStore) lockKey(campaignID, cacheKey string) func() {
	lockID := campaignID + "/" + cacheKey
	s.mu.Lock()
	lock, ok := s.keyLocks[lockID]
	if !ok {
		lock = &sync.Mutex{}
		s.keyLocks[lockID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// parseAssetName recovers (cacheKey, variantIndex) from a current asset
// filename of the form curr_<cacheKey>_<variantIndex>.<ext>.
func parseAssetName(name string) (string, int, bool) {
	trimmed := strings.TrimPrefix(name, currentPrefix)
	trimmed = strings.TrimSuffix(trimmed, filepath.Ext(trimmed))
	sep := strings.LastIndex(trimmed, "_")
	if sep <= 0 || sep == len(trimmed)-1 {
		return "", 0, false
	}
	variant, err := strconv.Atoi(trimmed[sep+1:])
	if err != nil || variant < 0 {
		return "", 0, false
	}
	return trimmed[:sep], variant, true
}

// validateSegment rejects path segments that could escape the storage root.
func validateSegment(segment string) error {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return errors.New("empty path segment")
	}
	if segment == "." || segment == ".." {
		return errors.New("invalid path segment")
	}
	if strings.ContainsAny(segment, "/\\") || strings.Contains(segment, "..") {
		return errors.New("path traversal rejected")
	}
	return nil
}

// ExtensionForMIME maps a MIME type to the on-disk file extension.
func ExtensionForMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ".bin"
	}
}

// MIMEForExtension maps an on-disk extension back to the MIME type used when
// serving the asset.
func MIMEForExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
