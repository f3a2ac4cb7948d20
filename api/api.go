// Package api exposes the detection engine and case store over HTTP and
// pushes change notifications to WebSocket clients.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"sentinel/config"
	"sentinel/core"
	"sentinel/detect"
	"sentinel/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultMaxBodyBytes = 64 * 1024

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Detector is the ingest side of the engine
type Detector interface {
	Ingest(ctx context.Context, event *core.ProcessEvent) error
	ListEvents() []core.ProcessEvent
	BufferSize() int
	Capacity() int
	Rules() []detect.RuleInfo
}

// CaseManager is the case store surface the API reads and mutates
type CaseManager interface {
	ListAlerts() []core.Alert
	FilterAlerts(filters *core.AlertFilters) []core.Alert
	GetAlert(id string) (core.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) error
	AddNote(ctx context.Context, text string) (core.CaseNote, error)
	AddArtifact(ctx context.Context, name, artifactType string) (core.Artifact, error)
	ListNotes() []core.CaseNote
	ListArtifacts() []core.Artifact
	AlertCounts() service.AlertCounts
}

// API holds the API server
type API struct {
	router         *mux.Router
	handler        http.Handler
	server         *http.Server
	serverMu       sync.Mutex
	detector       Detector
	cases          CaseManager
	hub            *Hub
	config         config.APIConfig
	logger         *zap.SugaredLogger
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewAPI creates a new API server. hub may be nil, in which case /ws is not served.
func NewAPI(detector Detector, cases CaseManager, hub *Hub, cfg config.APIConfig, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	api := &API{
		router:       mux.NewRouter(),
		detector:     detector,
		cases:        cases,
		hub:          hub,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	api.setupRoutes()
	// CORS wraps the router so preflight requests never hit the method matcher
	api.handler = api.corsMiddleware(api.router)
	go api.cleanupRateLimiters()
	return api
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.loggingMiddleware)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/events", a.rateLimitMiddleware(http.HandlerFunc(a.postEvent))).Methods(http.MethodPost)
	v1.HandleFunc("/events", a.getEvents).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", a.getAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/summary", a.getAlertSummary).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}", a.getAlert).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}/acknowledge", a.acknowledgeAlert).Methods(http.MethodPost)
	v1.HandleFunc("/notes", a.getNotes).Methods(http.MethodGet)
	v1.HandleFunc("/notes", a.createNote).Methods(http.MethodPost)
	v1.HandleFunc("/artifacts", a.getArtifacts).Methods(http.MethodGet)
	v1.HandleFunc("/artifacts", a.createArtifact).Methods(http.MethodPost)
	v1.HandleFunc("/rules", a.getRules).Methods(http.MethodGet)

	a.router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler())
	if a.hub != nil {
		a.router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			serveWs(a.hub, a.logger, w, r)
		})
	}
}

// Handler returns the root HTTP handler
func (a *API) Handler() http.Handler {
	return a.handler
}

// Start serves on addr until Stop is called. It returns nil after a clean shutdown.
func (a *API) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return a.Serve(ln)
}

// Serve accepts connections on ln
func (a *API) Serve(ln net.Listener) error {
	server := &http.Server{
		Handler:           a.handler,
		ReadTimeout:       a.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.config.WriteTimeout,
	}
	a.serverMu.Lock()
	a.server = server
	a.serverMu.Unlock()

	a.logger.Infow("API server listening", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.serverMu.Lock()
	server := a.server
	a.serverMu.Unlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}
