package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pfp/internal/app"
)

func main() {
	if err := command().Execute(); err != nil {
		os.Exit(1)
	}
}

func command() *cobra.Command {
	var configPath, listen string
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Run the pfp store-and-forward relay",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			logger, err := app.NewLogger(os.Stderr, cfg.Log)
			if err != nil {
				return err
			}

			ctx, stop := app.SignalContext(cmd.Context())
			defer stop()

			relay := app.NewServer(cfg, logger)
			go relay.RunPurger(ctx)

			srv := &http.Server{
				Addr:              cfg.Server.Listen,
				Handler:           relay.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info("relay listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("relay stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default $"+app.ConfigEnv+", else built-in defaults)")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overriding the config")
	return cmd
}
