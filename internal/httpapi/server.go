package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jgoulah/plugshare/internal/auth"
	"github.com/jgoulah/plugshare/internal/database"
	"github.com/jgoulah/plugshare/internal/estimate"
	"github.com/jgoulah/plugshare/internal/metrics"
	"github.com/jgoulah/plugshare/internal/ratelimit"
	"github.com/jgoulah/plugshare/internal/session"
	"github.com/jgoulah/plugshare/pkg/models"
)

// Store is the read side the handlers query directly
type Store interface {
	ListDevices(ctx context.Context, includeArchived bool) ([]models.Device, error)
	ListActive(ctx context.Context) ([]models.ActiveDevice, error)
	ListUsage(ctx context.Context, q database.UsageQuery) ([]models.UsageRecord, error)
	UsageData(ctx context.Context, f database.UsageFilter) ([]models.UsageRow, error)
	BillingAnchor(ctx context.Context) (*time.Time, error)
	SetBillingAnchor(ctx context.Context, anchor time.Time) error
}

// Options wires the server's collaborators. Metrics and Limiter are optional.
type Options struct {
	Sessions  *session.Service
	Estimates *estimate.Updater
	Verifier  *auth.Verifier
	Metrics   *metrics.Metrics
	Limiter   ratelimit.Limiter
	Now       func() time.Time
}

// Server serves the device, usage and billing API
type Server struct {
	store     Store
	sessions  *session.Service
	estimates *estimate.Updater
	verifier  *auth.Verifier
	metrics   *metrics.Metrics
	limiter   ratelimit.Limiter
	now       func() time.Time
}

// New creates a server over store
func New(store Store, opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		store:     store,
		sessions:  opts.Sessions,
		estimates: opts.Estimates,
		verifier:  opts.Verifier,
		metrics:   opts.Metrics,
		limiter:   opts.Limiter,
		now:       now,
	}
}

// Handler returns the router with middleware and all routes mounted
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.verifier.Middleware)

		// Guards inside the handler decide, so the result shape stays the same
		// for signed-out callers
		r.With(s.limit).Post("/estimated-time", s.handleEstimatedTime)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleMember))

			r.Get("/devices", s.handleListDevices)
			r.Get("/devices/status", s.handleDeviceStatus)
			r.Get("/usage", s.handleListUsage)
			r.Get("/usage/chart", s.handleUsageChart)

			r.With(s.limit).Post("/devices/{id}/on", s.handleTurnOn)
			r.With(s.limit).Post("/devices/{id}/off", s.handleTurnOff)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin))
			r.Get("/billing-period", s.handleGetBillingPeriod)
			r.Put("/billing-period", s.handleSetBillingPeriod)
		})
	})

	return r
}

func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return ratelimit.Middleware(s.limiter, ratelimit.KeyByUserOrIP)(next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
