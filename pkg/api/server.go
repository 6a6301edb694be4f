package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cnc5/glacier/pkg/auth"
	"github.com/cnc5/glacier/pkg/log"
	"github.com/cnc5/glacier/pkg/metrics"
	"github.com/cnc5/glacier/pkg/render"
	"github.com/cnc5/glacier/pkg/storage"
)

// Server exposes the render farm over HTTP/JSON on the fixed contract port.
// TLS is a front-proxy concern and is deliberately absent here.
type Server struct {
	auth     *auth.Manager
	store    storage.Store
	registry *render.Registry
	engine   *gin.Engine
	httpSrv  *http.Server
}

// NewServer wires the handlers to the collaborators
func NewServer(authMgr *auth.Manager, store storage.Store, registry *render.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestTelemetry())

	s := &Server{
		auth:     authMgr,
		store:    store,
		registry: registry,
		engine:   engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/login", s.handleLogin)
	s.engine.GET("/session/list", s.handleSessionList)
	s.engine.GET("/session/remove", s.handleSessionRemove)
	s.engine.POST("/task/request", s.handleTaskRequest)
	s.engine.GET("/task/stat", s.handleTaskStat)
	s.engine.GET("/task/list", s.handleTaskList)
	s.engine.GET("/task/kill", s.handleTaskKill)
	s.engine.GET("/task/delete", s.handleTaskDelete)
	s.engine.GET("/task/result", s.handleTaskResult)

	s.engine.GET("/health", gin.WrapF(metrics.HealthHandler()))
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Handler returns the underlying HTTP handler (used by tests)
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving and blocks until the listener fails or Stop is called
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}
	logger := log.WithComponent("api")
	logger.Info().Str("addr", addr).Msg("ready to accept connections")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// requestTelemetry counts requests and records latency per route
func requestTelemetry() gin.HandlerFunc {
	logger := log.WithComponent("api")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.APIRequestsTotal.WithLabelValues(path, status).Inc()
		metrics.APIRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("status", status).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
