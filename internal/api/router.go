package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/agentiq/internal/api/middleware"
	"github.com/kiranshivaraju/agentiq/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	// RequestTimeout bounds non-streaming requests. Zero disables it.
	RequestTimeout time.Duration

	HealthHandler http.HandlerFunc

	SubmitJob  http.HandlerFunc
	ListJobs   http.HandlerFunc
	GetJob     http.HandlerFunc
	JobStatus  http.HandlerFunc
	JobResults http.HandlerFunc
	ExportJob  http.HandlerFunc
	CancelJob  http.HandlerFunc
	DeleteJob  http.HandlerFunc

	EnrichHandler http.HandlerFunc

	Usage http.HandlerFunc
	Stats http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		// Exports stream for as long as the result set takes.
		r.Get("/api/v1/jobs/{jobID}/export", orNotImplemented(deps.ExportJob))

		r.Group(func(r chi.Router) {
			if deps.RequestTimeout > 0 {
				r.Use(chimw.Timeout(deps.RequestTimeout))
			}

			r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJob))
			r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
			r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.DeleteJob))
			r.Get("/api/v1/jobs/{jobID}/status", orNotImplemented(deps.JobStatus))
			r.Get("/api/v1/jobs/{jobID}/results", orNotImplemented(deps.JobResults))
			r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJob))

			r.Get("/api/v1/usage", orNotImplemented(deps.Usage))
			r.Get("/api/v1/stats", orNotImplemented(deps.Stats))
		})

		// Single enrichment runs the full agent loop inline under its own
		// deadline, which is longer than RequestTimeout.
		r.Post("/api/v1/enrich", orNotImplemented(deps.EnrichHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
