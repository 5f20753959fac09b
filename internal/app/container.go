// Package app wires the hub's services together and runs them.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/nfrund/sharedhub/internal/activity"
	"github.com/nfrund/sharedhub/internal/config"
	"github.com/nfrund/sharedhub/internal/hub"
	"github.com/nfrund/sharedhub/internal/pubsub"
	"github.com/nfrund/sharedhub/internal/server"
	"github.com/nfrund/sharedhub/internal/websocket"
)

// NewContainer registers every service lazily. Services are built on first
// Invoke and shut down in reverse dependency order by ShutdownWithContext.
func NewContainer(cfg *config.Config, logger *slog.Logger) *do.RootScope {
	i := do.New()

	do.ProvideValue(i, cfg)
	do.ProvideValue(i, logger)

	do.Provide(i, func(i do.Injector) (*pubsub.Tracing, error) {
		cfg := do.MustInvoke[*config.Config](i)
		tr, err := pubsub.SetupOTel(context.Background(), cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		return tr, nil
	})

	do.Provide(i, func(i do.Injector) (*pubsub.Bus, error) {
		tr := do.MustInvoke[*pubsub.Tracing](i)
		return pubsub.NewBus(
			pubsub.WithTracer(tr.Tracer),
			pubsub.WithBusLogger(do.MustInvoke[*slog.Logger](i)),
		), nil
	})

	do.Provide(i, func(i do.Injector) (*hub.Hub, error) {
		cfg := do.MustInvoke[*config.Config](i)
		theme, err := hub.ParseTheme(cfg.InitialTheme)
		if err != nil {
			return nil, err
		}
		return hub.New(
			hub.WithLogger(do.MustInvoke[*slog.Logger](i)),
			hub.WithInitialTheme(theme),
			hub.WithPublisher(do.MustInvoke[*pubsub.Bus](i)),
		), nil
	})

	do.Provide(i, func(i do.Injector) (*activity.Tracker, error) {
		return activity.NewTracker(
			do.MustInvoke[*pubsub.Bus](i),
			activity.WithLogger(do.MustInvoke[*slog.Logger](i)),
		), nil
	})

	do.Provide(i, func(i do.Injector) (*server.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return server.New(server.Params{
			Addr:  cfg.Addr,
			Hub:   do.MustInvoke[*hub.Hub](i),
			Stats: do.MustInvoke[*activity.Tracker](i),
			WebSocket: websocket.Options{
				SendBuffer:     cfg.SendBuffer,
				WriteTimeout:   cfg.WriteTimeout,
				ReadLimit:      cfg.ReadLimit,
				AllowedOrigins: cfg.AllowedOrigins,
			},
			UpgradeRate: cfg.UpgradeRate,
			Logger:      do.MustInvoke[*slog.Logger](i),
		}), nil
	})

	return i
}
