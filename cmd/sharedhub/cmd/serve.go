package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nfrund/sharedhub/internal/app"
	"github.com/nfrund/sharedhub/internal/config"
	"github.com/nfrund/sharedhub/internal/logging"
)

var serveFlags struct {
	addr     string
	envFiles []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub and its HTTP/WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveFlags.envFiles...)
		if err != nil {
			return err
		}
		if serveFlags.addr != "" {
			cfg.Addr = serveFlags.addr
		}

		logger := logging.New(cfg.LogFormat, cfg.LogLevel)
		logger.Info("Starting sharedhub", "version", version, "addr", cfg.Addr, "theme", cfg.InitialTheme)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := app.Run(ctx, app.NewContainer(cfg, logger)); err != nil {
			logger.Error("sharedhub stopped with error", "error", err)
			return err
		}
		logger.Info("sharedhub stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address (overrides HUB_ADDR)")
	serveCmd.Flags().StringSliceVar(&serveFlags.envFiles, "env-file", nil, "env files to load (default .env)")
	rootCmd.AddCommand(serveCmd)
}
