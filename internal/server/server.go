package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/forgeui/renderhost/internal/api/http"
	"github.com/forgeui/renderhost/internal/api/middleware"
	"github.com/forgeui/renderhost/internal/api/ws"
	"github.com/forgeui/renderhost/internal/gateway"
	"github.com/forgeui/renderhost/internal/host"
	"github.com/forgeui/renderhost/internal/infrastructure/config"
	"github.com/forgeui/renderhost/internal/infrastructure/monitoring"
	"github.com/forgeui/renderhost/internal/logging"
	"github.com/forgeui/renderhost/internal/protocol"
	"github.com/forgeui/renderhost/internal/sandbox"
)

// Server wraps the shell-facing HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	srv     *http.Server
	host    *host.Host
	client  *gateway.Client
	log     *logging.Logger
	metrics *monitoring.Metrics
	done    chan struct{}
}

// NewServer assembles the host, gateway and API surface from configuration.
func NewServer(cfg *config.Config, log *logging.Logger) (*Server, error) {
	metrics := monitoring.NewMetrics()

	client := gateway.NewClient(cfg.Gateway, log)

	sandboxCfg := sandbox.Config{
		BootTimeout:    cfg.Sandbox.BootTimeout,
		HandlerTimeout: cfg.Sandbox.HandlerTimeout,
		MaxCallStack:   cfg.Sandbox.MaxCallStack,
		EnableConsole:  true,
	}
	factory := func() sandbox.Context {
		return sandbox.New(sandboxCfg, log)
	}

	hostCfg := host.Config{
		BaseURL:           cfg.Host.BaseURL,
		AuthRequired:      cfg.Host.AuthRequired,
		HandshakeDeadline: cfg.Host.HandshakeDeadline,
		RelayTimeout:      cfg.Relay.RequestTimeout,
		Container: protocol.ContainerSize{
			Width:  cfg.Host.ContainerWidth,
			Height: cfg.Host.ContainerHeight,
		},
	}
	h := host.New(hostCfg, factory, client, client, metrics, log)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	handlers := apihttp.NewHandlers(h, client, log)
	wsHandler := ws.NewHandler(h, metrics, log)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/session", handlers.Mount)
	router.POST("/session/remount", handlers.Remount)
	router.DELETE("/session", handlers.Unmount)
	router.POST("/session/theme", handlers.SetTheme)
	router.GET("/session", handlers.Status)
	router.GET("/session/document", handlers.Document)

	router.POST("/connection/status", handlers.ReportConnection)

	router.GET("/stream", wsHandler.HandleConnection)

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	return &Server{
		router: router,
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		host:    h,
		client:  client,
		log:     log.Named("server"),
		metrics: metrics,
		done:    make(chan struct{}),
	}, nil
}

// Run starts the server and blocks until it stops.
func (s *Server) Run() error {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.metrics.UpdateUptime()
			}
		}
	}()

	s.log.Info("starting execution host", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Close shuts down the HTTP listener, then the host and its session.
func (s *Server) Close() error {
	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown error", zap.Error(err))
	}
	if err := s.host.Close(); err != nil && err != host.ErrHostClosed {
		return err
	}
	return nil
}
