// Package api implements the Control Plane (C7): the HTTP/WS surface over
// the worker, store, analytics, and gallery described in spec §6.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/linetally/peoplecount/internal/analytics"
	"github.com/linetally/peoplecount/internal/audit"
	"github.com/linetally/peoplecount/internal/auth"
	"github.com/linetally/peoplecount/internal/bus"
	"github.com/linetally/peoplecount/internal/crypto"
	"github.com/linetally/peoplecount/internal/middleware"
	"github.com/linetally/peoplecount/internal/ratelimit"
	"github.com/linetally/peoplecount/internal/reid"
	"github.com/linetally/peoplecount/internal/session"
	"github.com/linetally/peoplecount/internal/store"
	"github.com/linetally/peoplecount/internal/tokens"
	"github.com/linetally/peoplecount/internal/worker"
)

// Reconfigurer rebuilds the worker's frame source / detector / gallery from
// a persisted CameraSettings row and swaps it into the running Worker (spec
// §4.7, "Reconfiguration"). It is implemented by cmd/server's wiring code
// so this package never has to import frameio/vision directly.
type Reconfigurer interface {
	Apply(ctx context.Context, cfg store.CameraSettings) error
	Switch(ctx context.Context, source string) error
}

// GalleryProvider returns the gallery currently wired into the worker, or
// nil when Re-ID is disabled. It is a func rather than a field because the
// gallery instance changes across a reconfiguration.
type GalleryProvider func() *reid.Gallery

// Server holds every dependency the control plane's handlers need.
type Server struct {
	Worker       *worker.Worker
	Bus          *bus.Bus
	Events       *store.EventStore
	Settings     *store.SettingsStore
	Admins       *store.AdminStore
	Analyzer     *analytics.Analyzer
	Audit        *audit.Service
	Tokens       *tokens.Manager
	Sessions     *session.Manager
	Blacklist    auth.TokenBlacklist
	Keyring      *crypto.Keyring
	Gallery      GalleryProvider
	Reconfigurer Reconfigurer

	SubscriptionIdleTimeout time.Duration
}

// NewRouter builds the chi router for the control plane, mirroring the
// teacher's chi wiring in cmd/hlsd (request id/real ip/logger/recoverer,
// a 30s timeout, then global rate limiting ahead of everything else).
func (s *Server) NewRouter(rl *middleware.RateLimitMiddleware) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(middleware.CORS)
	r.Use(rl.GlobalLimiter)

	jwtAuth := middleware.NewJWTAuth(s.Tokens, s.Blacklist)
	auditMW := middleware.NewAuditMiddleware(s.Audit)

	r.Get("/health", s.Health)
	r.With(auditMW.LogRequest).Post("/api/auth/login", s.Login)
	// /ws authenticates its own token query param (browsers cannot set
	// Authorization headers during a WS handshake), so it sits outside the
	// header-based jwtAuth group.
	r.Get("/ws", s.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(jwtAuth.Middleware)
		r.Use(auditMW.LogRequest)

		r.Get("/api/auth/me", s.Me)

		r.Get("/api/camera/settings", s.GetCameraSettings)
		r.Post("/api/camera/settings", s.CreateCameraSettings)
		r.Put("/api/camera/settings/{id}", s.UpdateCameraSettings)
		r.Post("/api/camera/switch", s.SwitchCamera)

		r.Get("/api/system/status", s.SystemStatus)
		r.Get("/api/stats/current", s.StatsCurrent)

		r.Get("/api/events", s.ListEvents)
		r.Post("/api/events/clear", s.ClearEvents)
		r.Post("/api/reset", s.Reset)

		r.Get("/api/analytics/{kind}", s.Analytics)

		r.Post("/api/export", s.Export)

		r.Get("/api/reid/persons", s.ListPersons)
		r.Get("/api/reid/persons/{id}", s.GetPerson)
		r.Post("/api/reid/clear", s.ClearGallery)
		r.Post("/api/reid/cleanup", s.CleanupGallery)
	})

	return r
}

// NewRateLimitMiddleware builds the rate limit policy named in SPEC_FULL's
// ambient auth stack: a generous global IP budget, a tighter per-user
// budget, and a dedicated login endpoint limit that fails closed on a Redis
// outage (spec §7, login is the most sensitive path to leave unprotected).
func NewRateLimitMiddleware(limiter *ratelimit.Limiter) *middleware.RateLimitMiddleware {
	cfg := middleware.Config{
		GlobalIP: ratelimit.LimitConfig{Rate: 120, Window: time.Minute},
		User:     ratelimit.LimitConfig{Rate: 600, Window: time.Minute},
	}
	endpoints := map[string]ratelimit.LimitConfig{
		"/api/auth/login": {Rate: 10, Window: time.Minute},
	}
	return middleware.NewRateLimitMiddleware(limiter, cfg, endpoints)
}
