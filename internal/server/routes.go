package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/sharedhub/internal/hub"
	"github.com/nfrund/sharedhub/internal/middleware"
)

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	s.E.GET("/ws", echo.WrapHandler(s.ws), middleware.UpgradeLimiter(s.upgradeRate))

	s.E.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	api := s.E.Group("/api")
	api.GET("/state", s.handleState)
	api.GET("/stats", s.handleStats)

	s.E.GET("/status", s.handleStatusPage)
	s.E.GET("/status/fragment", s.handleStatusFragment)
}

func (s *Server) handleState(c echo.Context) error {
	st, err := s.hub.State(c.Request().Context())
	if err != nil {
		return hubError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.stats.Stats())
}

// hubError maps a failed hub query to an HTTP error.
func hubError(err error) error {
	if errors.Is(err, hub.ErrHubClosed) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "hub is not running")
	}
	return err
}
