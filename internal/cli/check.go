package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vibelab/vvbridge/pkg/instrument"
	"github.com/vibelab/vvbridge/pkg/instrument/comauto"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe instrument connectivity",
	Long: `Open one automation connection, verify it, and report the result.
Useful for diagnosing registration and licensing problems before starting
the service.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Instrument.ConnectTimeoutDuration())
	defer cancel()

	dialer := comauto.NewDialer(cfg.Instrument.ProgID, log.GetZerolog())
	conn, err := dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect failed (kind %s): %w", instrument.KindOf(err), err)
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("verify failed (kind %s): %w", instrument.KindOf(err), err)
	}

	fmt.Printf("instrument %s is reachable\n", cfg.Instrument.ProgID)
	return nil
}
