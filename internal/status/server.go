// Package status serves health, progress and metrics of a running execution pass.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Sumatoshi-tech/varorder/pkg/engine"
	"github.com/Sumatoshi-tech/varorder/pkg/observability"
)

const readHeaderTimeout = 5 * time.Second

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// SnapshotFunc returns the current progress of the run.
type SnapshotFunc func() engine.Snapshot

// Server is the HTTP status endpoint.
type Server struct {
	router *gin.Engine
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
	served chan error
}

// New builds the router. metrics may be nil, in which case /metrics is not routed.
func New(snapshot SnapshotFunc, metrics http.Handler, logger *slog.Logger, checks ...observability.ReadyCheck) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", gin.WrapH(observability.HealthHandler()))
	r.GET("/readyz", gin.WrapH(observability.ReadyHandler(checks...)))
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, snapshot())
	})

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	return &Server{router: r, logger: logger}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.ln = ln
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: readHeaderTimeout}
	s.served = make(chan error, 1)

	go func() {
		serveErr := s.srv.Serve(ln)
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}

		s.served <- serveErr
	}()

	s.logger.Info("status server listening", slog.String("addr", ln.Addr().String()))

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}

	return s.ln.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}

	err := s.srv.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}

	return <-s.served
}
