// Package server is the crowdcoin web app: server rendered pages, a small
// JSON API, metrics and health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"crowdcoin/internal/campaign"
	"crowdcoin/internal/chain"
	"crowdcoin/internal/config"
	"crowdcoin/internal/session"
	"crowdcoin/internal/txlog"
)

// Chain is the part of chain.Connection the server reports on.
type Chain interface {
	Mode() chain.Mode
	CanSend() bool
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server is wired to.
type Deps struct {
	Service  *campaign.Service
	Chain    Chain
	Sessions *session.Manager
	Metrics  *Metrics
	// Journal is only used for health checks; the service writes to it.
	Journal txlog.Store
	Logger  *zap.Logger
	Clock   clock.Clock
}

type Server struct {
	cfg         *config.AppConfig
	svc         *campaign.Service
	chain       Chain
	sessions    *session.Manager
	metrics     *Metrics
	log         *zap.Logger
	clock       clock.Clock
	pages       map[string]*template.Template
	baseCtx     context.Context
	cancel      context.CancelFunc
	httpServer  *http.Server
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		svc:      deps.Service,
		chain:    deps.Chain,
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		clock:    deps.Clock,
		pages:    mustParsePages(),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
	s.metrics.trackSessions(s.sessions.Len)

	if checker, ok := deps.Journal.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if deps.Chain != nil {
		s.rpcHealthFn = deps.Chain.Ping
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", s.metrics.handler())
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/accounts", s.apiAccounts)
		r.Get("/campaigns", s.apiCampaigns)
		r.Get("/campaigns/{address}", s.apiSummary)
		r.Get("/campaigns/{address}/requests", s.apiRequests)
		r.Get("/transactions", s.apiTransactions)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.sessions.Middleware)
		r.Get("/", s.handleIndex)
		r.Get("/campaigns/new", s.handleNewCampaign)
		r.Post("/campaigns/new", s.handleCreateCampaign)
		r.Get("/campaigns/{address}", s.handleShowCampaign)
		r.Post("/campaigns/{address}/contribute", s.handleContribute)
		r.Get("/campaigns/{address}/requests", s.handleRequests)
		r.Get("/campaigns/{address}/requests/new", s.handleNewRequest)
		r.Post("/campaigns/{address}/requests/new", s.handleCreateRequest)
		r.Post("/campaigns/{address}/requests/{index}/approve", s.handleApprove)
		r.Post("/campaigns/{address}/requests/{index}/finalize", s.handleFinalize)
		r.Post("/account", s.handleSelectAccount)
		r.Get("/transactions", s.handleTransactions)
	})
	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.log.Info("web app listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.incRequest(route, status)
		s.log.Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Chain.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Chain.CallTimeout)
}

// viewer returns the account pages act as: the session's choice, else the
// first authorized account. ok is false when there are no accounts.
func (s *Server) viewer(ctx context.Context, sess *session.Session) (common.Address, bool) {
	if a := sess.Account(); a != (common.Address{}) {
		return a, true
	}
	accounts, err := s.svc.GetAccounts(ctx)
	if err != nil || len(accounts) == 0 {
		return common.Address{}, false
	}
	return accounts[0], true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		Mode      string  `json:"mode,omitempty"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		rpcInfo.Mode = string(s.chain.Mode())
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Journal  interface{} `json:"journal"`
		Sessions int         `json:"sessions"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Journal:  dbInfo,
		Sessions: s.sessions.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var lookup *campaign.LookupError
	if errors.As(err, &lookup) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
