// internal/server/server.go
// Package server exposes the dispatcher over HTTP: a batch endpoint returning every model's
// result at once, a Server-Sent Events endpoint delivering results as they settle, and a few
// read-only endpoints for the catalog and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mwiater/chorus/internal/appconfig"
	"github.com/mwiater/chorus/internal/dispatch"
	"github.com/mwiater/chorus/internal/logging"
	"github.com/mwiater/chorus/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Server serves the chat API.
type Server struct {
	cfg        appconfig.Config
	dispatcher *dispatch.Dispatcher
	aggregator *metrics.Aggregator
	engine     *gin.Engine
}

// New builds a Server. aggregator may be nil, in which case /api/metrics reports metrics as disabled.
func New(cfg appconfig.Config, dispatcher *dispatch.Dispatcher, aggregator *metrics.Aggregator) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		aggregator: aggregator,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.CustomRecovery(recoveryHandler))
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(CORSMiddleware())

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	api := r.Group("/api")
	api.POST("/chat", s.Chat)
	api.POST("/chat/stream", s.ChatStream)
	api.GET("/models", s.Models)
	api.GET("/metrics", s.Metrics)
	r.GET("/health", s.Health)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.WithFields(logging.Fields{"addr": addr}).Info("chorus server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logging.LogEvent("chorus server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
