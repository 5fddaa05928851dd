package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/cityfleet/app"
	"github.com/kilianp07/cityfleet/config"
	coremon "github.com/kilianp07/cityfleet/core/monitoring"
	"github.com/kilianp07/cityfleet/infra/logger"
	"github.com/kilianp07/cityfleet/infra/monitoring"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "cityfleet",
	Short:        "Decentralized city fleet coordination",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the configured fleet until interrupted",
		RunE:  run,
	})
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadConfig reads the configuration and installs the error monitor it
// describes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, err
	}
	coremon.Init(mon)
	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer coremon.Flush(2 * time.Second)
	return runService(ctx, cfg)
}

func runService(ctx context.Context, cfg *config.Config) error {
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
