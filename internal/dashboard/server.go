package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"

	"optionflow/config"
	"optionflow/internal/analytics"
	"optionflow/internal/metrics"
	"optionflow/internal/retention"
	"optionflow/internal/state"
	"optionflow/logger"
)

const component = "dashboard"

// Deps are the runtime pieces the dashboard reads from. Store and State are
// required; the rest are optional.
type Deps struct {
	State    *state.Container
	Store    *retention.Store
	Monitor  *metrics.Monitor
	Events   *metrics.Recorder
	Exporter *metrics.Exporter
	Clock    clock.Clock
}

// Server hosts the JSON API and live push endpoint.
type Server struct {
	cfg             config.DashboardConfig
	deps            Deps
	log             *logger.Log
	eventStore      *eventStore
	logStore        *logStore
	eventHandler    metrics.HandlerID
	hub             *hub
	httpServer      *http.Server
	resourceSampler *resourceSampler

	cleanupOnce sync.Once
}

type pauseRequest struct {
	Paused *bool `json:"paused" binding:"required"`
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, deps Deps, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if deps.State == nil || deps.Store == nil {
		return nil, errors.New("dashboard requires a state container and a retention store")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.EventHistory <= 0 {
		cfg.EventHistory = 200
	}
	if cfg.ResourceHistory <= 0 {
		cfg.ResourceHistory = 200
	}

	events := newEventStore(cfg.EventHistory)
	logs := newLogStore(cfg.LogHistory)
	log.AddHook(logs)

	return &Server{
		cfg:             cfg,
		deps:            deps,
		log:             log,
		eventStore:      events,
		logStore:        logs,
		eventHandler:    deps.Events.Register(events.handle),
		hub:             newHub(deps.State, log),
		resourceSampler: newResourceSampler(cfg.ResourceHistory, cfg.RefreshInterval, "/", log),
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.resourceSampler.start(ctx)
	go s.refreshStatistics(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent(component).WithField("address", s.cfg.Address).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.hub.close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// refreshStatistics recomputes the container statistics every refresh
// interval so live clients see them without polling.
func (s *Server) refreshStatistics(ctx context.Context) {
	ticker := s.deps.Clock.Ticker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.deps.State.SetStatistics(analytics.Compute(s.deps.State.Trades()))
		}
	}
}

func (s *Server) cleanup() {
	s.cleanupOnce.Do(func() {
		s.deps.Events.Unregister(s.eventHandler)
		s.logStore.close()
		s.hub.close()
		s.resourceSampler.stop()
	})
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	api := router.Group("/api")
	api.GET("/snapshot", s.handleSnapshot)
	api.GET("/trades", s.handleTrades)
	api.GET("/statistics", s.handleStatistics)
	api.GET("/connection", s.handleConnection)
	api.GET("/performance", s.handlePerformance)
	api.POST("/pause", s.handleTogglePause)
	api.PUT("/pause", s.handleSetPause)
	api.GET("/events", s.handleEvents)
	api.GET("/logs", s.handleLogs)
	api.GET("/resources", s.handleResources)

	if s.deps.Exporter != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Exporter.Handler()))
	}
	router.GET("/ws", func(c *gin.Context) {
		s.hub.serve(c.Writer, c.Request)
	})

	return router, nil
}

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.State.Snapshot())
}

func (s *Server) query(c *gin.Context) (analytics.Query, bool) {
	var q analytics.Query
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return q, false
	}
	if err := q.Check(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return q, false
	}
	return q, true
}

func (s *Server) handleTrades(c *gin.Context) {
	q, ok := s.query(c)
	if !ok {
		return
	}
	trades := analytics.Apply(s.deps.State.Trades(), q, s.deps.Clock.Now())
	c.JSON(http.StatusOK, gin.H{
		"trades":   trades,
		"count":    len(trades),
		"retained": s.deps.State.Len(),
		"isPaused": s.deps.State.Paused(),
	})
}

func (s *Server) handleStatistics(c *gin.Context) {
	q, ok := s.query(c)
	if !ok {
		return
	}
	q.Limit = 0
	trades := analytics.Apply(s.deps.State.Trades(), q, s.deps.Clock.Now())
	c.JSON(http.StatusOK, analytics.Compute(trades))
}

func (s *Server) handleConnection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connectionStats": s.deps.State.Connection(),
		"error":           s.deps.State.Error(),
		"resetPending":    s.deps.Store.ResetPending(),
		"liveClients":     s.hub.count(),
	})
}

func (s *Server) handlePerformance(c *gin.Context) {
	if s.deps.Monitor == nil {
		c.JSON(http.StatusOK, metrics.PerformanceMetrics{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Monitor.Metrics())
}

func (s *Server) handleTogglePause(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"isPaused": s.deps.Store.TogglePause()})
}

func (s *Server) handleSetPause(c *gin.Context) {
	var req pauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.deps.Store.SetPaused(*req.Paused)
	c.JSON(http.StatusOK, gin.H{"isPaused": s.deps.State.Paused()})
}

func (s *Server) handleEvents(c *gin.Context) {
	events := s.eventStore.snapshot(c.Query("name"))
	payload := make([]gin.H, 0, len(events))
	for _, e := range events {
		payload = append(payload, gin.H{
			"timestamp": e.Timestamp.Format(time.RFC3339Nano),
			"component": e.Component,
			"name":      e.Name,
			"value":     e.Value,
			"type":      e.Type,
			"fields":    e.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": payload})
}

func (s *Server) handleLogs(c *gin.Context) {
	logs := s.logStore.snapshot(c.Query("level"))
	payload := make([]gin.H, 0, len(logs))
	for _, l := range logs {
		payload = append(payload, gin.H{
			"timestamp": l.Timestamp.Format(time.RFC3339Nano),
			"level":     l.Level,
			"component": l.Component,
			"message":   l.Message,
			"fields":    l.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
