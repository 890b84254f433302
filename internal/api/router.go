package api

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/curve-optimizer/internal/metrics"
)

// RouterConfig holds the HTTP concerns of NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// NewRouter mounts the service, the WebSocket hub (when non-nil), health
// and metrics endpoints with the standard middleware stack.
func NewRouter(svc *Service, hub *WSHub, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"curve-optimizer"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for completed runs; kept outside the timeout.
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(middleware.Timeout(cfg.RequestTimeout))
			}

			// Curve snapshot.
			r.Get("/curves", svc.ListCurves)
			r.Post("/curves", svc.UpsertCurves)
			r.Get("/curves/table", svc.CurveTable)
			r.Post("/curves/table", svc.UpsertCurveTable)
			r.Get("/curves/{curveID}", svc.GetCurve)
			r.Delete("/curves/{curveID}", svc.DeleteCurve)

			// Price estimates.
			r.Get("/price", svc.GetPrice)

			// Optimizer runs.
			r.Post("/optimize", svc.Optimize)
			r.Post("/optimize/batch", svc.OptimizeBatch)

			// Run ledger.
			r.Get("/runs", svc.ListRuns)
			r.Get("/runs/{runID}", svc.GetRun)
		})
	})

	return r
}

// cors allows cross-origin requests from origins ("*" allows any).
func cors(origins []string) func(http.Handler) http.Handler {
	anyOrigin := slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && (anyOrigin || slices.Contains(origins, origin)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{
					http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
				}, ", "))
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
