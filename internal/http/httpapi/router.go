package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// NewRouter wires the HTTP surface. Everything under /project and /user sits
// behind bearer-token authentication; only /healthz is open.
func NewRouter(app *handlers.App, verifier middleware.TokenVerifier) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(*app.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(app.Config.AllowedOrigins))
	r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))

	r.Get("/healthz", app.Health)

	r.Route("/project", func(r chi.Router) {
		r.Use(middleware.Auth(verifier))
		r.Post("/create", app.CreateProject)
		r.Post("/video", app.CreateVideo)
		r.Get("/published", app.PublishedProjects)
		r.Delete("/{id}", app.DeleteProject)
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(middleware.Auth(verifier))
		r.Get("/credits", app.Credits)
		r.Get("/projects", app.UserProjects)
		r.Get("/projects/{id}", app.ProjectByID)
		r.Get("/publish/{id}", app.TogglePublish)
	})

	return r
}
