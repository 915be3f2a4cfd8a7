package api

import (
	"net/http"
	"time"

	"session-core/internal/engine"
	"session-core/internal/events"
	"session-core/internal/monitor"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the session engine.
type Server struct {
	Router      *gin.Engine
	Engine      engine.Service
	Bus         *events.Bus
	Metrics     *monitor.Metrics
	JWTSecret   string
	RequireAuth bool
	Meta        SystemMeta

	// push cadences of the websocket endpoints
	ListInterval   time.Duration
	DetailInterval time.Duration
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Broker      string   `json:"broker"`
	Environment string   `json:"environment"`
	Instruments []string `json:"instruments"`
	Version     string   `json:"version"`
	InstanceTag string   `json:"instance_tag"`
}

// Options configures NewServer.
type Options struct {
	JWTSecret      string
	RequireAuth    bool
	RequestTimeout time.Duration
	RatePerSecond  float64
	RateBurst      int
	Meta           SystemMeta
}

func NewServer(svc engine.Service, bus *events.Bus, metrics *monitor.Metrics, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware(opts.RatePerSecond, opts.RateBurst))
	r.Use(CORSMiddleware()) // global so unmatched preflights get answered

	s := &Server{
		Router:         r,
		Engine:         svc,
		Bus:            bus,
		Metrics:        metrics,
		JWTSecret:      opts.JWTSecret,
		RequireAuth:    opts.RequireAuth,
		Meta:           opts.Meta,
		ListInterval:   2 * time.Second,
		DetailInterval: time.Second,
	}
	s.routes(opts.RequestTimeout)
	return s
}

func (s *Server) routes(timeout time.Duration) {
	s.Router.GET("/health", s.health)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	// websockets are long-lived and stay outside the request timeout
	ws := s.Router.Group("/ws")
	{
		ws.GET("/sessions", s.streamSessions)
		ws.GET("/sessions/:id", s.streamSession)
	}

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(timeout))
	if s.RequireAuth {
		api.Use(AuthMiddleware(s.JWTSecret))
	}
	{
		api.GET("/system/status", s.systemStatus)
		api.GET("/strategies", s.listStrategies)
		api.GET("/instruments", s.listInstruments)
		api.GET("/granularities", s.listGranularities)

		sessions := api.Group("/sessions")
		{
			sessions.POST("", s.createSession)
			sessions.GET("", s.listSessions)
			sessions.GET("/:id", s.getSession)
			sessions.PATCH("/:id", s.updateSession)
			sessions.DELETE("/:id", s.deleteSession)

			sessions.POST("/:id/start", s.startSession)
			sessions.POST("/:id/stop", s.stopSession)
			sessions.POST("/:id/pause", s.pauseSession)
			sessions.POST("/:id/resume", s.resumeSession)

			sessions.GET("/:id/trades", s.sessionTrades)
			sessions.GET("/:id/positions", s.sessionPositions)
			sessions.POST("/:id/close-position/:instrument", s.closeSessionPosition)
		}

		accounts := api.Group("/accounts")
		{
			accounts.GET("", s.listAccounts)
			accounts.GET("/:id", s.accountSummary)
			accounts.GET("/:id/positions", s.accountPositions)
			accounts.POST("/:id/positions/:instrument/close", s.closeAccountPosition)
		}

		api.POST("/recovery/orphans", s.recoverOrphans)
		api.POST("/backtest", s.runBacktest)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler exposes the router for embedding in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
