package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vibelab/vvbridge/internal/config"
	"github.com/vibelab/vvbridge/internal/daemon"
	"github.com/vibelab/vvbridge/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge service",
	Long: `Run the bridge service in the foreground. The service connects to the
instrument lazily: the first HTTP request leases the first connection.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:    cfg.Logging.Level,
		File:     cfg.Logging.File,
		Console:  true,
		Pretty:   true,
		MaxSize:  cfg.Logging.MaxSize,
		MaxAge:   cfg.Logging.MaxAge,
		Compress: cfg.Logging.Compress,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(context.Background()); err != nil {
		return err
	}
	return d.Wait()
}
