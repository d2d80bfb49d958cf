// Package http is the ops HTTP adapter: intake, reads, decisions, and
// compliance exports over the orchestrator and its components.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     *zap.Logger
}

// NewServer creates the HTTP server over the given handlers
func NewServer(config ServerConfig, handlers *Handlers, registry *prometheus.Registry, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		config:   config,
		router:   router,
		handlers: handlers,
		logger:   logger,
	}

	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())

	router.GET("/health", handlers.HealthCheck)
	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		api.POST("/invoices", handlers.UploadInvoice)
		api.GET("/invoices", handlers.ListInvoices)
		api.GET("/invoices/:id", handlers.GetInvoice)
		api.GET("/invoices/:id/workflow", handlers.GetWorkflow)
		api.GET("/invoices/:id/summary", handlers.GetSummary)
		api.GET("/invoices/:id/sla", handlers.GetSLA)
		api.POST("/invoices/:id/payment", handlers.ConfirmPayment)
		api.POST("/invoices/:id/archive", handlers.ArchiveInvoice)
		api.POST("/invoices/:id/retry", handlers.RetryInvoice)

		api.GET("/sla/stats", handlers.SLAStats)
		api.GET("/sla/at-risk", handlers.SLAAtRisk)

		api.GET("/tasks", handlers.ListPendingTasks)
		api.POST("/tasks/:id/decision", handlers.DecideTask)

		api.GET("/audit", handlers.QueryAudit)
		api.GET("/audit/export", handlers.ExportAuditJSON)
		api.GET("/audit/export.xlsx", handlers.ExportAuditWorkbook)
	}

	return s
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("http request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// Start runs the server until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting http server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("http server error", zap.Error(err))
		return err
	}
}

// Stop drains in-flight requests and closes the listener
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying gin router, for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}
