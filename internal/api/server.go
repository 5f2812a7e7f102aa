// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/evaluation"
	"github.com/atlas-desktop/strategy-optimizer/internal/observability"
	"github.com/atlas-desktop/strategy-optimizer/internal/optimization"
	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/internal/workers"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Error codes returned in the error_code field.
const (
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeInternal       = "internal_error"
)

const maxResultsLimit = optimization.PersistLimit

// Dependencies are the components the API exposes.
type Dependencies struct {
	Optimizer *optimization.Optimizer
	Results   storage.ResultStore
	Sets      storage.SetRepository
	Scheduler *evaluation.Scheduler
	Hub       *Hub
	Pool      *workers.Pool
	Metrics   *observability.Metrics
}

// Server is the HTTP/WebSocket API server
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	deps       Dependencies
	startedAt  time.Time
}

// NewServer creates a new API server
func NewServer(logger *zap.Logger, config *types.ServerConfig, deps Dependencies) *Server {
	if deps.Hub == nil {
		deps.Hub = NewHub(logger)
	}
	server := &Server{
		logger:    logger,
		config:    config,
		router:    mux.NewRouter(),
		deps:      deps,
		startedAt: time.Now(),
	}

	server.setupRoutes()
	return server
}

// Router exposes the routes, mainly for httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/optimizations", s.handleRunOptimization).Methods("POST")
	s.router.HandleFunc("/api/v1/optimizations/{id}", s.handleGetOptimization).Methods("GET")
	s.router.HandleFunc("/api/v1/optimizations/{id}/results", s.handleGetResults).Methods("GET")

	s.router.HandleFunc("/api/v1/sets", s.handleListSets).Methods("GET")
	s.router.HandleFunc("/api/v1/sets/evaluate", s.handleEvaluateAll).Methods("POST")
	s.router.HandleFunc("/api/v1/sets/{id}", s.handleGetSet).Methods("GET")
	s.router.HandleFunc("/api/v1/sets/{id}/evaluate", s.handleEvaluateSet).Methods("POST")

	wsPath := s.config.WebSocketPath
	if wsPath == "" {
		wsPath = "/ws"
	}
	s.router.HandleFunc(wsPath, s.deps.Hub.ServeWS)

	if s.config.EnableMetrics && s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":            "healthy",
		"time":              time.Now().Unix(),
		"uptime":            time.Since(s.startedAt).String(),
		"websocket_clients": s.deps.Hub.ClientCount(),
	}
	if s.deps.Pool != nil {
		resp["pool"] = s.deps.Pool.Stats()
		resp["pool_running"] = s.deps.Pool.IsRunning()
	}
	if s.deps.Scheduler != nil {
		resp["evaluation_running"] = s.deps.Scheduler.Busy()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunOptimization(w http.ResponseWriter, r *http.Request) {
	var req types.OptimizationRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed body: %v", types.ErrInvalidRequest, err))
		return
	}

	run, err := s.deps.Optimizer.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"configId":  run.ConfigID,
		"results":   run.Results,
		"symbols":   run.Symbols,
		"positions": run.Positions,
		"evaluated": run.Evaluated,
		"accepted":  run.Accepted,
		"persisted": run.Persisted,
		"duration":  run.Duration.String(),
	})
}

func (s *Server) handleGetOptimization(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Results.GetConfig(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config":  cfg,
	})
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	limit := optimization.ResponseLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, fmt.Errorf("%w: limit must be a positive integer", types.ErrInvalidRequest))
			return
		}
		limit = min(n, maxResultsLimit)
	}

	if _, err := s.deps.Results.GetConfig(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	scores, err := s.deps.Results.LoadTop(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"configId": id,
		"results":  scores,
		"count":    len(scores),
	})
}

func (s *Server) handleListSets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.deps.Sets.ListActive(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sets == nil {
		sets = []types.Set{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"sets":    sets,
		"count":   len(sets),
	})
}

func (s *Server) handleGetSet(w http.ResponseWriter, r *http.Request) {
	set, err := s.deps.Sets.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"set":     set,
	})
}

func (s *Server) handleEvaluateSet(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Scheduler.RunOnce(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"evaluation": result,
	})
}

func (s *Server) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Scheduler.RunAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"summary": summary,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]any{
		"success":    false,
		"error":      err.Error(),
		"error_code": code,
	})
}

func classify(err error) (int, string) {
	switch {
	case optimization.IsRequestError(err), errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, storage.ErrAlreadyDisabled):
		return http.StatusConflict, CodeConflict
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
