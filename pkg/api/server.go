// Package api provides the HTTP control API of a peer
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZentaChain/zentalk-peer/pkg/logging"
	"github.com/ZentaChain/zentalk-peer/pkg/node"
)

// Server is the HTTP control API
type Server struct {
	node       *node.Node
	router     *gin.Engine
	config     *Config
	log        logging.Sink
	startedAt  time.Time
	httpServer *http.Server
}

// Config holds server configuration
type Config struct {
	// Addr to listen on, e.g. "127.0.0.1:8080"
	Addr         string
	EnableCORS   bool
	RateLimit    float64 // requests per second per client IP, 0 disables
	RateBurst    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// SendTimeout bounds ping/message/signature/discovery requests
	SendTimeout time.Duration

	// Gatherer serves /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:8080",
		EnableCORS:   false,
		RateLimit:    20,
		RateBurst:    40,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		SendTimeout:  30 * time.Second,
	}
}

// NewServer creates a new HTTP API server
func NewServer(n *node.Node, config *Config, log logging.Sink) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logging.Discard()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		node:      n,
		router:    gin.New(),
		config:    config,
		log:       log,
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	if s.config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(s.config.RateLimit, s.config.RateBurst))
	}
	s.router.Use(LoggingMiddleware(s.log))
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/node/info", s.handleNodeInfo)

		peers := v1.Group("/peers")
		{
			peers.GET("", s.handleListPeers)
			peers.POST("", s.handleAddPeer)
			peers.PUT("/:ref/alias", s.handleSetAlias)
		}

		endpoints := v1.Group("/endpoints")
		{
			endpoints.GET("", s.handleListEndpoints)
			endpoints.POST("", s.handleAddEndpoint)
		}

		v1.POST("/ping", s.handlePing)
		v1.POST("/signatures", s.handleSignature)
		v1.POST("/messages", s.handleMessage)
		v1.POST("/discovery", s.handleDiscovery)
	}

	gatherer := s.config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.router.GET("/health", s.handleHealth)
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.LogInformation(fmt.Sprintf("control API listening on %s", listener.Addr()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.LogInformation("shutting down control API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
