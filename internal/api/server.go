package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tenantpbx/tenantpbx/internal/api/middleware"
	"github.com/tenantpbx/tenantpbx/internal/cache"
	"github.com/tenantpbx/tenantpbx/internal/callcontrol"
	"github.com/tenantpbx/tenantpbx/internal/database"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
	"github.com/tenantpbx/tenantpbx/internal/presence"
	"github.com/tenantpbx/tenantpbx/internal/rules"
)

// DocumentObserver receives document serving outcomes, e.g. for metrics.
type DocumentObserver interface {
	ObserveRender(kind, result string)
	ObserveCache(result string)
}

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Dispatcher *callcontrol.Dispatcher
	Resolver   *dialplan.Resolver
	Rules      *rules.Service
	Tenants    database.TenantRepository
	Registrar  presence.Registrar

	// Directory repositories back the ring group, IVR menu and voicemail
	// box admin routes. A nil repository leaves its routes unmounted.
	RingGroups     database.RingGroupRepository
	IVRMenus       database.IVRMenuRepository
	VoicemailBoxes database.VoicemailBoxRepository

	// Documents caches rendered dialplan documents. Nil disables caching.
	Documents cache.Documents
	// Observer may be nil.
	Observer DocumentObserver
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Health reports whether the rule store is reachable. Nil always passes.
	Health func(ctx context.Context) error

	JWTSecret []byte
	// RateLimit is the admin API allowance in requests per second per IP;
	// 0 disables limiting.
	RateLimit float64
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	deps    Deps
	limiter *middleware.IPRateLimiter
	logger  *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	if deps.Documents == nil {
		deps.Documents = cache.Nop{}
	}
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		logger: logger.With("subsystem", "api"),
	}
	if deps.RateLimit > 0 {
		s.limiter = middleware.NewIPRateLimiter(middleware.RateLimitConfigFor(deps.RateLimit), logger)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))

	r.Get("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Switch-facing routes. These sit on the signaling path and are
	// neither authenticated nor rate limited.
	r.Post("/api/v1/call-control", s.handleCallControl)
	r.Post("/api/v1/registrations", s.handleRegister)
	r.Get("/dialplan/default/{context}", s.handleDefaultDialplan)
	r.Get("/dialplan/{domain}/{context}", s.handleDomainDialplan)
	r.Post("/xml-curl", s.handleXMLCurl)

	// Admin API.
	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(middleware.RateLimit(s.limiter))
		}
		r.Use(middleware.NoStore)
		r.Use(middleware.RequireAuth(s.deps.JWTSecret))

		r.Route("/api/v1/rules", func(r chi.Router) {
			s.ruleRoutes(r, func(r *http.Request) *rules.Scope {
				return s.deps.Rules.Tenant(middleware.TenantFromContext(r.Context()))
			})
		})
		r.Post("/api/v1/resolve", s.handleResolve)

		if s.deps.RingGroups != nil {
			r.Route("/api/v1/ring-groups", func(r chi.Router) {
				r.Get("/", s.handleListRingGroups)
				r.Post("/", s.handleCreateRingGroup)
				r.Delete("/{id}", s.handleDeleteRingGroup)
			})
		}
		if s.deps.IVRMenus != nil {
			r.Route("/api/v1/ivr-menus", func(r chi.Router) {
				r.Get("/", s.handleListIVRMenus)
				r.Post("/", s.handleCreateIVRMenu)
				r.Delete("/{id}", s.handleDeleteIVRMenu)
			})
		}
		if s.deps.VoicemailBoxes != nil {
			r.Route("/api/v1/voicemail-boxes", func(r chi.Router) {
				r.Get("/", s.handleListVoicemailBoxes)
				r.Post("/", s.handleCreateVoicemailBox)
				r.Delete("/{id}", s.handleDeleteVoicemailBox)
			})
		}

		r.Route("/api/v1/default-rules", func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeGlobal))
			s.ruleRoutes(r, func(*http.Request) *rules.Scope {
				return s.deps.Rules.Defaults()
			})
		})
	})

	s.logger.Debug("api routes mounted")
}

// handleHealth reports liveness and rule store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "rule store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
