package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/ModbusStation/internal/api/websocket"
	"github.com/KevinKickass/ModbusStation/internal/auth"
	"github.com/KevinKickass/ModbusStation/internal/config"
	"github.com/KevinKickass/ModbusStation/internal/devices"
	"github.com/KevinKickass/ModbusStation/internal/interfaces"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	listener    net.Listener
	wsHub       *websocket.Hub
	authService *auth.AuthService
	validator   *devices.Validator
	gatherer    prometheus.Gatherer
}

func NewServer(
	cfg *config.Config,
	lm interfaces.LifecycleManager,
	logger *zap.Logger,
	wsHub *websocket.Hub,
	authService *auth.AuthService,
	validator *devices.Validator,
	gatherer prometheus.Gatherer,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
		validator:   validator,
		gatherer:    gatherer,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr is the bound address once Start has returned.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Start binds the port synchronously so a busy port fails startup, then
// serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = lis

	s.logger.Info("Starting REST API server", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")
	{
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
		}

		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.GET("/me", s.getCurrentUser)
		}

		v1.GET("/system/status", s.getSystemStatus)
		v1.GET("/records/latest", s.getLatestRecord)

		sensors := v1.Group("/sensors")
		{
			sensors.GET("", s.listSensors)
			sensors.GET("/:name", s.getSensor)

			sensors.POST("", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermAdmin), s.applySensor)
			sensors.DELETE("/:name", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermAdmin), s.deleteSensor)
		}

		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public). Gateway loss only degrades; the service itself is
// unhealthy when it is not running.
func (s *Server) healthCheck(c *gin.Context) {
	status := s.lm.GetCurrentStatus()

	code := http.StatusOK
	health := "ok"
	switch {
	case status.State != "RUNNING":
		code = http.StatusServiceUnavailable
		health = "unavailable"
	case !status.Connection.Connected:
		health = "degraded"
	}

	c.JSON(code, gin.H{
		"status":    health,
		"state":     status.State,
		"timestamp": time.Now().Unix(),
	})
}
