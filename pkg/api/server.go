// Package api exposes callgate's HTTP surface: the provider webhook
// endpoints, the internal Acquire/Release admission API, and operator
// admin routes for the Global Capacity Store.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/voicegate/callgate/pkg/admission"
	"github.com/voicegate/callgate/pkg/capacity"
	"github.com/voicegate/callgate/pkg/config"
	"github.com/voicegate/callgate/pkg/database"
	"github.com/voicegate/callgate/pkg/provider"
	"github.com/voicegate/callgate/pkg/reconcile"
	"github.com/voicegate/callgate/pkg/version"
	"github.com/voicegate/callgate/pkg/webhook"
)

// Server is callgate's HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	cfg        *config.Config
	db         *sqlx.DB
	processor  *webhook.Processor
	controller *admission.Controller
	global     capacity.Store
	reconciler *reconcile.Worker
	providerC  *provider.Client
}

// NewServer wires the route table. All dependencies are required; callgate
// has no optional subsystems the way the dashboard/MCP stack it was
// patterned on does.
func NewServer(
	cfg *config.Config,
	db *sqlx.DB,
	processor *webhook.Processor,
	controller *admission.Controller,
	global capacity.Store,
	reconciler *reconcile.Worker,
	providerC *provider.Client,
) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), securityHeaders())

	s := &Server{
		engine:     engine,
		cfg:        cfg,
		db:         db,
		processor:  processor,
		controller: controller,
		global:     global,
		reconciler: reconciler,
		providerC:  providerC,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	webhooks := s.engine.Group("/webhooks")
	webhooks.POST("/call-started", s.callStartedHandler)
	webhooks.POST("/call-ended", s.callEndedHandler)
	webhooks.POST("/post-call", s.postCallHandler)

	internal := s.engine.Group("/internal")
	internal.POST("/calls/acquire", s.acquireHandler)
	internal.POST("/calls/release", s.releaseHandler)
	internal.POST("/calls/outbound", s.outboundCallHandler)

	capacityGroup := internal.Group("/capacity")
	capacityGroup.GET("/status", s.globalStatusHandler)
	capacityGroup.POST("/reset", s.forceResetHandler)
	capacityGroup.POST("/cleanup", s.cleanupStuckHandler)
}

// Start serves on addr, blocking until the server stops or errors.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener is Start for callers that already bound a listener
// (tests, graceful restarts).
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Engine exposes the underlying gin.Engine for tests that want to drive
// requests through httptest without binding a real listener.
func (s *Server) Engine() http.Handler {
	return s.engine
}

func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(reqCtx, s.db.DB)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": dbHealth})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"version":  version.Full(),
		"database": dbHealth,
	})
}
