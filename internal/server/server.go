// Package server exposes the producer gateway, the REST ingest endpoint and the
// operational API over one gin router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coffersTech/logstore/internal/engine"
	"github.com/coffersTech/logstore/internal/ingest"
	"github.com/coffersTech/logstore/internal/metrics"
	"github.com/coffersTech/logstore/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"
)

// StatsProvider reports engine state for /api/stats.
type StatsProvider interface {
	GetStats() engine.SystemStats
}

// Options configures a Server.
type Options struct {
	// AllowedClientAddress is the only peer IP admitted on /ws.
	AllowedClientAddress string
	Pipeline             ingest.Pipeline
	// Stats is nil when no file engine is running.
	Stats    StatsProvider
	Registry *registry.Store
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger

	// IngestTokenHash protects POST /logs when set.
	IngestTokenHash string
	// PingInterval is how often producer connections are pinged. Defaults to 30s.
	// A connection that sends nothing and misses PongWaitFactor pings is closed.
	PingInterval time.Duration
	// BatchLimit bounds concurrent handling of one REST batch. 0 means unbounded.
	BatchLimit int
}

// PongWaitFactor is the number of ping intervals a producer may stay silent.
const PongWaitFactor = 3

// Server serves every HTTP and WebSocket endpoint.
type Server struct {
	allowed  net.IP
	pipeline ingest.Pipeline
	stats    StatsProvider
	registry *registry.Store
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   logrus.FieldLogger

	tokenHash    []byte
	pingInterval time.Duration
	pongWait     time.Duration
	batchLimit   int

	router   *gin.Engine
	upgrader websocket.Upgrader
	parser   fastjson.ParserPool
	srv      *http.Server

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	active sync.WaitGroup
}

// New builds the router. It does not start listening.
func New(opts Options) (*Server, error) {
	allowed := net.ParseIP(opts.AllowedClientAddress)
	if allowed == nil {
		return nil, fmt.Errorf("invalid allowed client address %q", opts.AllowedClientAddress)
	}
	if opts.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if opts.Registry == nil {
		opts.Registry = registry.NewStore()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}

	s := &Server{
		allowed:      allowed,
		pipeline:     opts.Pipeline,
		stats:        opts.Stats,
		registry:     opts.Registry,
		metrics:      opts.Metrics,
		gatherer:     opts.Gatherer,
		logger:       opts.Logger.WithField("component", "server"),
		pingInterval: opts.PingInterval,
		pongWait:     PongWaitFactor * opts.PingInterval,
		batchLimit:   opts.BatchLimit,
		conns:        make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			// Admission is by peer address, not by Origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if opts.IngestTokenHash != "" {
		s.tokenHash = []byte(opts.IngestTokenHash)
	}

	router := gin.New()
	// Never trust forwarded headers: admission must see the real peer.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/ws", s.handleWS)
	router.POST("/logs", s.handleLogs)
	router.GET("/healthz", s.handleHealth)
	router.GET("/api/stats", s.handleStats)
	router.GET("/api/connections", gin.WrapF(registry.NewServer(s.registry).HandleList))
	router.GET("/metrics", gin.WrapH(metrics.Handler(s.gatherer)))
	s.router = router

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.WithField("addr", l.Addr().String()).Info("Listening")
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops accepting connections, closes open producer connections and waits
// for their handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	// Hijacked connections are not closed by http.Server.Shutdown.
	s.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for ws := range s.conns {
		ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		ws.Close()
	}
	s.conns = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusOK, gin.H{"mode": "index", "connections": s.registry.Len()})
		return
	}
	c.JSON(http.StatusOK, s.stats.GetStats())
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/healthz" {
			return
		}
		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"remote":   c.RemoteIP(),
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	}
}
