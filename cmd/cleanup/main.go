// Command cleanup removes historical (superseded) assets without restarting
// the API process, so disk reclamation can be scheduled independently.
package main

import (
	"flag"
	"path/filepath"

	"github.com/joho/godotenv"

	"server/internal/cache"
	"server/internal/infra"
	"server/internal/store"
)

func main() {
	campaignID := flag.String("campaign", "", "limit cleanup to one campaign (default: all campaigns)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	dataPath := cfg.DataPath
	if !filepath.IsAbs(dataPath) {
		if abs, err := filepath.Abs(dataPath); err == nil {
			dataPath = abs
		}
	}

	index, err := cache.NewIndex(filepath.Join(dataPath, "cache"))
	if err != nil {
		logger.Fatal().Err(err).Msg("cleanup: failed to configure cache index")
	}
	assets, err := store.NewAssetStore(filepath.Join(dataPath, "assets"), index)
	if err != nil {
		logger.Fatal().Err(err).Msg("cleanup: failed to configure asset store")
	}

	removed, err := assets.CleanupHistorical(*campaignID)
	if err != nil {
		logger.Fatal().Err(err).Str("campaign_id", *campaignID).Msg("cleanup: failed")
	}
	logger.Info().
		Str("campaign_id", *campaignID).
		Int("removed", removed).
		Msg("cleanup: historical assets removed")
}
