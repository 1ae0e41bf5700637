// Package api exposes the indicator handlers over HTTP.
//
// Every route under /api/v1 requires a bearer JWT when auth is enabled; the
// token subject is the analyst name passed to the handlers. Handler results
// are returned as JSON with the same success/message shape the services use.
package api

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"crits/config"
	"crits/core"
	"crits/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// IndicatorHandler is the indicator service surface the API serves
type IndicatorHandler interface {
	AddIndicator(ctx context.Context, req service.AddIndicatorRequest) *service.UpsertResult
	GetIndicatorDetails(ctx context.Context, id, analyst string) *service.IndicatorDetails
	SearchByCI(ctx context.Context, q service.CISearch) ([]*core.Indicator, error)
	AddAction(ctx context.Context, id string, action core.Action) *service.MutationResult
	UpdateAction(ctx context.Context, id string, action core.Action) *service.MutationResult
	RemoveAction(ctx context.Context, id string, date time.Time, analyst string) *service.MutationResult
	AddActivity(ctx context.Context, id string, activity core.Activity) *service.MutationResult
	UpdateActivity(ctx context.Context, id string, activity core.Activity) *service.MutationResult
	RemoveActivity(ctx context.Context, id string, date time.Time, analyst string) *service.MutationResult
	UpdateCI(ctx context.Context, id, ciType, value, analyst string) *service.MutationResult
	SetIndicatorType(ctx context.Context, id, newType, analyst string) *service.MutationResult
	RemoveIndicator(ctx context.Context, id, username string) *service.MutationResult
	AddIndicatorAction(ctx context.Context, name, analyst string) (bool, error)
	CreateIndicatorFromObject(ctx context.Context, req service.FromObjectRequest) *service.RelationshipResult
	CreateIndicatorAndIP(ctx context.Context, objectType, objectID, address, analyst string) *service.RelationshipResult
}

// CSVImporter runs batch indicator imports
type CSVImporter interface {
	ImportCSV(ctx context.Context, r io.Reader, req service.ImportRequest) *service.ImportResult
}

// HealthChecker reports backend availability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// limiterEntry holds a per-user limiter with last seen time
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the API server
type API struct {
	router     *mux.Router
	server     *http.Server
	indicators IndicatorHandler
	importer   CSVImporter
	health     HealthChecker
	config     *config.Config
	logger     *zap.SugaredLogger

	importLimiters   map[string]*limiterEntry
	importLimitersMu sync.Mutex
	stopCh           chan struct{}
	stopOnce         sync.Once
}

// NewAPI creates a new API server. health may be nil.
func NewAPI(indicators IndicatorHandler, importer CSVImporter, health HealthChecker, cfg *config.Config, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &API{
		router:         mux.NewRouter(),
		indicators:     indicators,
		importer:       importer,
		health:         health,
		config:         cfg,
		logger:         logger,
		importLimiters: make(map[string]*limiterEntry),
		stopCh:         make(chan struct{}),
	}
	a.setupRoutes()
	go a.cleanupImportLimiters()
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.corsMiddleware)

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.jwtAuthMiddleware)

	v1.HandleFunc("/indicators", a.addIndicator).Methods("POST")
	v1.Handle("/indicators/upload", a.importRateLimit(http.HandlerFunc(a.uploadIndicators))).Methods("POST")
	v1.HandleFunc("/indicators/search", a.searchIndicators).Methods("GET")
	v1.HandleFunc("/indicators/{id}", a.getIndicator).Methods("GET")
	v1.HandleFunc("/indicators/{id}", a.deleteIndicator).Methods("DELETE")
	v1.HandleFunc("/indicators/{id}/type", a.setIndicatorType).Methods("PUT")
	v1.HandleFunc("/indicators/{id}/ci/{ci_type}", a.updateCI).Methods("PUT")

	v1.HandleFunc("/indicators/{id}/actions", a.addAction).Methods("POST")
	v1.HandleFunc("/indicators/{id}/actions", a.updateAction).Methods("PUT")
	v1.HandleFunc("/indicators/{id}/actions", a.removeAction).Methods("DELETE")
	v1.HandleFunc("/indicators/{id}/activity", a.addActivity).Methods("POST")
	v1.HandleFunc("/indicators/{id}/activity", a.updateActivity).Methods("PUT")
	v1.HandleFunc("/indicators/{id}/activity", a.removeActivity).Methods("DELETE")

	v1.HandleFunc("/indicator-actions", a.addIndicatorAction).Methods("POST")

	v1.HandleFunc("/objects/{type}/{id}/indicator", a.createIndicatorFromObject).Methods("POST")
	v1.HandleFunc("/objects/{type}/{id}/ip-indicator", a.createIndicatorAndIP).Methods("POST")
}

// Handler returns the root handler, for tests and custom servers
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server, with TLS when configured
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:         a.config.ListenAddr(),
		Handler:      a.router,
		ReadTimeout:  a.config.API.ReadTimeout,
		WriteTimeout: a.config.API.WriteTimeout,
	}
	a.logger.Infow("Starting API server", "addr", a.server.Addr, "tls", a.config.API.TLS)
	if a.config.API.TLS {
		return a.server.ListenAndServeTLS(a.config.API.CertFile, a.config.API.KeyFile)
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// healthCheck godoc
//
//	@Summary	Health check
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Failure	503	{object}	map[string]string
//	@Router		/health [get]
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.health.HealthCheck(ctx); err != nil {
			a.logger.Warnw("Health check failed", "error", err)
			a.respondJSON(w, map[string]string{"status": "unavailable"}, http.StatusServiceUnavailable)
			return
		}
	}
	a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
