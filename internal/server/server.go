// Package server provides the HTTP API for traind: run submission and
// inspection, registry access, and online prediction against the current
// model.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/traind/internal/pipeline"
	"github.com/fyrsmithlabs/traind/internal/registry"
)

// Server exposes the traind HTTP endpoints.
type Server struct {
	echo         *echo.Echo
	orchestrator *pipeline.Orchestrator
	registry     *registry.Registry
	runs         *runIndex
	logger       *zap.Logger
	config       *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server.
func NewServer(orch *pipeline.Orchestrator, reg *registry.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})
	e.Use(metricsMiddleware(logger))

	s := &Server{
		echo:         e,
		orchestrator: orch,
		registry:     reg,
		runs:         newRunIndex(),
		logger:       logger,
		config:       cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleSubmitRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/models", s.handleListModels)
	v1.GET("/models/current", s.handleCurrentModel)
	v1.POST("/models/:version/promote", s.handlePromote)
	v1.POST("/predict", s.handlePredict)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SubmitRunResponse is the response body for POST /api/v1/runs.
type SubmitRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PredictRequest is the request body for POST /api/v1/predict: a raw record
// keyed by column name.
type PredictRequest struct {
	Record map[string]string `json:"record"`
}

// PredictResponse is the response body for POST /api/v1/predict.
type PredictResponse struct {
	Score   float64 `json:"score"`
	Version int64   `json:"version"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSubmitRun starts a pipeline run in the background and returns its id
// immediately.
func (s *Server) handleSubmitRun(c echo.Context) error {
	run := s.orchestrator.NewRun()
	s.runs.put(pipeline.Run{ID: run.ID, Status: pipeline.StatusRunning, StartedAt: time.Now().UTC()})

	go func() {
		// Detached from the request context: a closed connection must not
		// abort a training run.
		if err := s.orchestrator.Run(context.Background(), run); err != nil {
			s.logger.Warn("pipeline run failed", zap.String("run_id", run.ID), zap.Error(err))
		}
		s.runs.put(*run)
	}()

	return c.JSON(http.StatusAccepted, SubmitRunResponse{ID: run.ID, Status: pipeline.StatusRunning})
}

func (s *Server) handleListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, s.runs.list())
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, ok := s.runs.get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleListModels(c echo.Context) error {
	entries, err := s.registry.List()
	if err != nil {
		s.logger.Error("failed to list models", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list models")
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleCurrentModel(c echo.Context) error {
	entry, err := s.registry.Current()
	if errors.Is(err, registry.ErrEmpty) {
		return echo.NewHTTPError(http.StatusNotFound, "no model promoted yet")
	}
	if err != nil {
		s.logger.Error("failed to read current model", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read current model")
	}
	return c.JSON(http.StatusOK, entry)
}

// handlePromote repoints the current model. Promoting an older version is
// the rollback path.
func (s *Server) handlePromote(c echo.Context) error {
	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "version must be an integer")
	}

	if err := s.registry.Promote(version); err != nil {
		if errors.Is(err, registry.ErrVersionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "version not found")
		}
		s.logger.Error("promotion failed", zap.Int64("version", version), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "promotion failed")
	}

	s.logger.Info("model promoted", zap.Int64("version", version))
	entry, err := s.registry.Get(version)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "promotion succeeded but entry read failed")
	}
	return c.JSON(http.StatusOK, entry)
}

// handlePredict scores a raw record with the current model.
func (s *Server) handlePredict(c echo.Context) error {
	var req PredictRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Record) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "record field is required")
	}

	entry, err := s.registry.Current()
	if errors.Is(err, registry.ErrEmpty) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no model promoted yet")
	}
	if err != nil {
		s.logger.Error("failed to read current model", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read current model")
	}

	est, err := s.registry.GetEstimator(entry.Version)
	if err != nil {
		s.logger.Error("failed to load current model", zap.Int64("version", entry.Version), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load current model")
	}

	score, err := est.PredictRow(req.Record)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("cannot score record: %v", err))
	}

	return c.JSON(http.StatusOK, PredictResponse{Score: score, Version: entry.Version})
}

// Echo exposes the underlying router so the binary can attach extra
// endpoints (metrics).
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
