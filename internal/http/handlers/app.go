package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"server/internal/cache"
	"server/internal/infra"
	"server/internal/jobs"
	"server/internal/store"
)

// App is the dependency container injected into every handler. Constructed
// once at process start; there is no package-level mutable state.
type App struct {
	Config   *infra.Config
	Logger   infra.Logger
	Registry *jobs.Registry
	Pool     *jobs.Pool
	Index    *cache.Index
	Assets   *store.AssetStore
}

// NewApp builds the handler container.
func NewApp(cfg *infra.Config, logger infra.Logger, registry *jobs.Registry, pool *jobs.Pool, index *cache.Index, assets *store.AssetStore) *App {
	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Pool:     pool,
		Index:    index,
		Assets:   assets,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": errCode, "message": message})
}

// assetURL builds the public URL for a stored asset filename.
func (a *App) assetURL(campaignID, filename string) string {
	return fmt.Sprintf("%s/assets/%s/%s", a.Config.PublicBaseURL, campaignID, filename)
}
