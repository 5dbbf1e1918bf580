package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/pkg/zip"
)

// Asset streams one stored asset. Range requests are honored so video
// elements can seek; responses are cacheable for a day since a current asset
// URL always refers to the same bytes until regenerated.
func (a *App) Asset(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	filename := chi.URLParam(r, "filename")

	path, mimeType, err := a.Assets.Resolve(campaignID, filename)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "asset not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to resolve asset")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		a.Logger.Error().Err(err).
			Str("campaign_id", campaignID).
			Str("filename", filename).
			Msg("failed to open stored asset")
		a.error(w, http.StatusInternalServerError, "internal", "failed to open asset")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to stat asset")
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// Archive streams a zip of the campaign's current assets.
func (a *App) Archive(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	assets := a.Index.ListCampaign(campaignID)
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no assets for campaign")
		return
	}

	entries := make([]zip.Asset, 0, len(assets))
	for _, asset := range assets {
		data, err := os.ReadFile(asset.FilePath)
		if err != nil {
			a.Logger.Warn().Err(err).
				Str("campaign_id", campaignID).
				Str("filename", asset.Filename).
				Msg("skipping unreadable asset in archive")
			continue
		}
		entries = append(entries, zip.Asset{
			Filename: asset.Filename,
			Data:     data,
			Modified: asset.CreatedAt,
		})
	}
	if len(entries) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no readable assets for campaign")
		return
	}

	archive := zip.ArchiveAssets(entries)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=campaign-%s.zip", campaignID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// TeardownCampaign removes every asset for the campaign, current included,
// after cancelling any outstanding jobs. This is the only way current assets
// are deleted.
func (a *App) TeardownCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if campaignID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "campaignId required")
		return
	}

	cancelled := a.Pool.CancelAll(campaignID)
	if err := a.Assets.RemoveCampaign(campaignID); err != nil {
		a.Logger.Error().Err(err).
			Str("campaign_id", campaignID).
			Msg("campaign teardown failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to remove campaign assets")
		return
	}

	a.Logger.Info().
		Str("campaign_id", campaignID).
		Int("cancelled", cancelled).
		Msg("campaign torn down")
	a.json(w, http.StatusOK, map[string]any{"removed": true, "cancelled": cancelled})
}
