// Package api assembles the HTTP surface: routes, handlers and the
// middleware chain.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/clinic-ledger/internal/api/handlers"
	"github.com/dvloznov/clinic-ledger/internal/api/middleware"
)

// Handlers groups the endpoint handlers. A nil handler leaves its routes
// unregistered.
type Handlers struct {
	Ingest *handlers.IngestHandler
	Sync   *handlers.SyncHandler
	Jobs   *handlers.JobsHandler
}

// NewRouter registers every route and wraps the mux in the middleware chain.
func NewRouter(h Handlers, internalKey string, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	if h.Ingest != nil {
		mux.HandleFunc("/api/ingest/scrape", only(http.MethodPost, h.Ingest.Scrape))
		mux.HandleFunc("/api/ingest/bulk", only(http.MethodPost, h.Ingest.Bulk))
		mux.HandleFunc("/api/ingest/upload", only(http.MethodPost, h.Ingest.Upload))
	}

	if h.Sync != nil {
		mux.HandleFunc("/internal/sync/patients/", only(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimPrefix(r.URL.Path, "/internal/sync/patients/")
			if id == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Patient ID is required")
				return
			}
			h.Sync.SyncPatient(w, r, id)
		}))
		mux.HandleFunc("/internal/sync/sweep", only(http.MethodPost, h.Sync.Sweep))
	}

	if h.Jobs != nil {
		mux.HandleFunc("/api/jobs", only(http.MethodGet, h.Jobs.ListJobs))
		mux.HandleFunc("/api/jobs/", only(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			h.Jobs.GetJob(w, r, jobID)
		}))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(internalKey)(mux),
				),
			),
		),
	)
}

func only(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	}
}
