package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"opsagent/internal/app"
	"opsagent/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "opsagent",
	Short: "WhatsApp bookkeeping agent for small shops",
	Long: `OpsAgent turns WhatsApp messages into rows of a Google spreadsheet.

Components:
  serve        WhatsApp webhook and Google login
  munim        background monitor sending low stock, staff and khata alerts
  dashboard    live web dashboard
  run          all three in one process`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		app.SetupEnvironment()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default $CONFIG_FILE)")
	rootCmd.AddCommand(serveCmd, munimCmd, dashboardCmd, runCmd, fixSchemaCmd, setPasswordCmd)
}

func main() {
	log.Debug().Msg("Starting application")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSettings reads configuration after SetupEnvironment loaded .env.
func loadSettings() (config.Settings, error) {
	path := configFile
	if path == "" {
		path = app.GetEnvWithDefault("CONFIG_FILE", "")
	}
	return config.Load(path)
}

// withApp builds the shared clients, runs fn with a context cancelled on
// SIGINT/SIGTERM, and releases everything afterwards.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if settings.LogFile != "" {
		closer := app.AddLogFile(settings.LogFile)
		defer closer.Close()
	}

	a, err := app.New(settings)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = fn(ctx, a)
	if err != nil {
		log.Error().Err(err).Msg("Stopped with error")
	}
	return err
}
