package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"pfp/internal/app"
)

var (
	configPath string
	relayURL   string
	logLevel   string

	logger *slog.Logger
	wire   *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:          "pfp",
		Short:        "Type a password on one device and receive it on another",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Load(configPath)
			if err != nil {
				return err
			}
			if relayURL != "" {
				cfg.Relay.URL = relayURL
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}

			logger, err = app.NewLogger(os.Stderr, cfg.Log)
			if err != nil {
				return err
			}
			wire, err = app.NewWire(cfg, logger)
			return err
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $"+app.ConfigEnv+", else built-in defaults)")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL, overriding the config")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(receiveCmd(), sendCmd(), fingerprintCmd())
	return root.Execute()
}
