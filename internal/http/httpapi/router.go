package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// NewRouter assembles the HTTP surface: generation submission, status
// polling, cancellation, asset serving, and campaign teardown.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.CORSAllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	// Mutation endpoints share the per-IP request budget.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))
		r.Post("/generate", app.Generate)
		r.Post("/cancel/{campaignID}", app.CancelCampaign)
		r.Delete("/campaigns/{campaignID}/assets", app.TeardownCampaign)
	})

	r.Get("/status/{campaignID}", app.Status)
	r.Get("/assets/{campaignID}/archive", app.Archive)
	r.Get("/assets/{campaignID}/{filename}", app.Asset)

	return r
}
