package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nfrund/sharedhub/internal/activity"
	"github.com/nfrund/sharedhub/internal/hub"
	"github.com/nfrund/sharedhub/internal/server"
)

const shutdownTimeout = 10 * time.Second

// Run starts the hub, the activity tracker and the HTTP server, and blocks
// until ctx is cancelled or one of them fails. Everything in the container
// is shut down before Run returns.
func Run(ctx context.Context, container *do.RootScope) error {
	logger := do.MustInvoke[*slog.Logger](container)

	h, err := do.Invoke[*hub.Hub](container)
	if err != nil {
		return err
	}
	tracker, err := do.Invoke[*activity.Tracker](container)
	if err != nil {
		return err
	}
	srv, err := do.Invoke[*server.Server](container)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := tracker.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error { return h.Run(gctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// the hub closes its websockets once gctx is done; wait for that first
		select {
		case <-h.Done():
		case <-shutdownCtx.Done():
		}
		report := container.ShutdownWithContext(shutdownCtx)
		if report != nil && !report.Succeed {
			return fmt.Errorf("shutdown: %s", report.Error())
		}
		return nil
	})

	return g.Wait()
}
