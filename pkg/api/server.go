package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/careerforge/creditd/pkg/aiproxy"
	"github.com/careerforge/creditd/pkg/analytics"
	"github.com/careerforge/creditd/pkg/auth"
	"github.com/careerforge/creditd/pkg/gate"
	"github.com/careerforge/creditd/pkg/httputil"
	"github.com/careerforge/creditd/pkg/ledger"
	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/reconcile"
)

// Options carries the dependencies the server wires together.
type Options struct {
	Credits       ledger.Service
	Analytics     *analytics.Service
	Reconciler    *reconcile.Reconciler
	Accounts      *auth.Store
	Authenticator auth.Authenticator
	Gate          *gate.Gate
	AI            *aiproxy.Handlers
	Webhook       http.Handler

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  opts.Logger.WithComponent("api"),
		metrics: opts.Metrics,
	}

	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.LoggingMiddleware(s.logger))
	s.router.Use(httputil.RecoveryMiddleware)

	s.setupRoutes(opts)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(opts Options) {
	// Billing webhook is outside the token-authenticated zone; it carries
	// its own HMAC signature check.
	if opts.Webhook != nil {
		s.router.Handle("/billing/webhook", opts.Webhook).Methods("POST")
	}

	authed := s.router.PathPrefix("/v1").Subrouter()
	authed.Use(auth.Middleware(opts.Authenticator))

	accountHandlers := NewAccountHandlers(opts.Credits, opts.Analytics, s.logger)
	accountHandlers.RegisterRoutes(authed)

	if opts.Reconciler != nil {
		reconcileHandlers := NewReconcileHandlers(opts.Reconciler)
		reconcileHandlers.RegisterRoutes(authed)
	}

	if opts.Accounts != nil {
		tokenHandlers := NewTokenHandlers(opts.Accounts, opts.Credits)
		tokenHandlers.RegisterRoutes(authed)
	}

	if opts.Gate != nil && opts.AI != nil {
		generateHandlers := NewGenerateHandlers(opts.Gate, opts.AI)
		generateHandlers.RegisterRoutes(authed)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		path := routeTemplate(r, s.router)
		s.metrics.InstrumentHandler(path, s.router).ServeHTTP(w, r)
		return
	}
	s.router.ServeHTTP(w, r)
}

// routeTemplate resolves the matched route pattern so metrics are labeled
// per-route instead of per-URL.
func routeTemplate(r *http.Request, router *mux.Router) string {
	var match mux.RouteMatch
	if router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
