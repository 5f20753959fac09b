package server

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/nfrund/sharedhub/internal/activity"
	"github.com/nfrund/sharedhub/internal/hub"
	"github.com/nfrund/sharedhub/internal/middleware"
	"github.com/nfrund/sharedhub/internal/websocket"
)

// Hub is what the server needs from the hub: the transport hooks and a way
// to read its state.
type Hub interface {
	websocket.Connector
	State(ctx context.Context) (hub.State, error)
}

// StatsSource supplies activity numbers for the status endpoints.
type StatsSource interface {
	Stats() activity.Stats
}

// Params holds everything New needs.
type Params struct {
	Addr        string
	Hub         Hub
	Stats       StatsSource
	WebSocket   websocket.Options
	UpgradeRate float64
	Logger      *slog.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E      *echo.Echo
	addr   string
	hub    Hub
	stats  StatsSource
	ws     *websocket.Handler
	logger *slog.Logger

	upgradeRate float64
}

// New creates the echo instance, installs middleware and registers routes.
func New(p Params) *Server {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.Recover())

	s := &Server{
		E:           e,
		addr:        p.Addr,
		hub:         p.Hub,
		stats:       p.Stats,
		ws:          websocket.NewHandler(p.Hub, p.WebSocket),
		logger:      logger.With("component", "server"),
		upgradeRate: p.UpgradeRate,
	}
	s.RegisterRoutes()
	return s
}
