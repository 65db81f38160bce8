package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/metrics"
	"server/internal/middleware"
)

// Options carries router wiring that does not belong on the App.
type Options struct {
	// StaticDir, when set, is served under /static/ for locally stored
	// artifacts.
	StaticDir string
	// CountryLookup feeds the locale middleware; nil disables IP lookups.
	CountryLookup middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Logger))
	r.Use(middleware.CORS(app.Cfg.AllowedOrigins))
	r.Use(middleware.I18N(app.Cfg.DefaultLocale, opts.CountryLookup))

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", metrics.Handler())
	if opts.StaticDir != "" {
		r.Handle("/static/*", stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(opts.StaticDir))))
	}

	r.Post("/v1/admin/sweep", app.AdminSweep)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.Cfg.JWTSecret))
		if app.Cfg.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(app.Cfg.RateLimitPerMin, time.Minute))
		}
		r.Get("/v1/me", app.Me)
		r.Route("/v1/generations", func(r chi.Router) {
			r.Post("/", app.GenerationsCreate)
			r.Get("/", app.GenerationsList)
			r.Get("/{job_id}", app.GenerationsGet)
		})
	})

	return r
}
