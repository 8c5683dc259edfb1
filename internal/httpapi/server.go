// Package httpapi implements the thin HTTP façade: a second entry point
// into the same store and domain logic the radio dispatcher uses, for
// browser dashboards. It never shares per-request state with the radio
// dispatcher: each request opens its own store transaction.
package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/config"
)

// Server is the HTTP façade: an Echo instance bound to the shared store.
type Server struct {
	echo   *echo.Echo
	store  *bbsstore.Store
	cfg    *config.HTTPConfig
	params argon2Params
}

// New constructs a Server and registers every route.
func New(store *bbsstore.Store, cfg *config.HTTPConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("httpapi: request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{
		echo:   e,
		store:  store,
		cfg:    cfg,
		params: defaultParams(cfg.Argon2Time, cfg.Argon2Memory, cfg.Argon2Threads),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/config", s.handleConfig)

	s.echo.GET("/api/bulletins", s.handleListBulletins)
	s.echo.GET("/api/bulletins/:id", s.handleGetBulletin)
	s.echo.POST("/api/bulletins", s.handlePostBulletin, s.requireHTTPUser)
	s.echo.DELETE("/api/bulletins/:id", s.handleDeleteBulletin, s.requireHTTPUser)

	s.echo.GET("/api/users", s.handleListUsers)
	s.echo.GET("/api/users/:callsign", s.handleGetUser)

	s.echo.POST("/api/auth/register", s.handleRegister)
	s.echo.POST("/api/auth/login", s.handleLogin)
	s.echo.GET("/api/auth/me", s.handleMe, s.requireHTTPUser)

	s.echo.GET("/api/jobs", s.handleListJobs, s.requireHTTPUser)
	s.echo.GET("/api/jobs/:id", s.handleGetJob, s.requireHTTPUser)
}

// Start runs the Echo server on addr; it blocks until the listener errors.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the Echo server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// ConfigResponse is the payload for GET /api/config.
type ConfigResponse struct {
	Operator    string `json:"operator"`
	MOTD        string `json:"motd"`
	ServerName  string `json:"server_name"`
	AcceptsJobs bool   `json:"accepts_jobs"`
}

func (s *Server) handleConfig(c echo.Context) error {
	var cfg bbsstore.Config
	err := s.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		cfg, err = tx.GetConfig()
		return err
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ConfigResponse{
		Operator: cfg.Operator, MOTD: cfg.MOTD, ServerName: cfg.ServerName, AcceptsJobs: cfg.JobsEnabled,
	})
}

func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}

func parseID(c echo.Context, param string) (int64, error) {
	return strconv.ParseInt(c.Param(param), 10, 64)
}
