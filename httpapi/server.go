package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fieldcipher/rotor"
	"github.com/fieldcipher/rotor/middleware"
)

// Config holds server settings.
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// DefaultConfig serves on :8080 and allows the usual local dev hosts.
func DefaultConfig() Config {
	return Config{
		Addr: ":8080",
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://localhost:3000",
		},
	}
}

// Server is the HTTP front of the rotation engine.
type Server struct {
	engine *rotor.Engine
	logger *zap.Logger
	router *gin.Engine
	http   *http.Server
}

// NewServer wires routes, middleware, and CORS around an engine.
func NewServer(engine *rotor.Engine, logger *zap.Logger, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(recovery(logger), requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		engine: engine,
		logger: logger,
		router: router,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.routes()

	return s
}

func (s *Server) routes() {
	guard := middleware.Guard(s.engine)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)

		auth := v1.Group("/auth")
		{
			auth.POST("/register", s.handleRegister)
			auth.POST("/login", s.handleLogin)
			auth.POST("/refresh", s.handleRefresh)
			auth.POST("/logout", guard, s.handleLogout)
		}

		v1.GET("/profile", guard, s.handleProfile)
		v1.GET("/protected", guard, s.handleProtected)

		v1.GET("/debug/token-info", s.handleTokenInfo)

		security := v1.Group("/security")
		{
			security.POST("/simulate-theft", s.handleSimulateTheft)
			security.GET("/token-status", s.handleTokenStatus)
		}

		qr := v1.Group("/qr")
		{
			qr.POST("/generate", guard, s.handleQRGenerate)
			qr.POST("/validate", s.handleQRValidate)
		}

		admin := v1.Group("/admin", guard)
		{
			admin.GET("/database", s.handleAdminDatabase)
			admin.GET("/metrics", s.handleAdminMetrics)
		}
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
