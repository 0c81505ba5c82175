// Package daemon assembles the bridge service: the instrument pool, the
// profile catalog, metrics, and the HTTP gateway, with lifecycle management
// on top.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vibelab/vvbridge/internal/config"
	"github.com/vibelab/vvbridge/internal/logger"
	"github.com/vibelab/vvbridge/internal/metrics"
	"github.com/vibelab/vvbridge/pkg/gateway"
	"github.com/vibelab/vvbridge/pkg/instrument"
	"github.com/vibelab/vvbridge/pkg/instrument/comauto"
	"github.com/vibelab/vvbridge/pkg/profiles"
)

// Daemon is the assembled bridge service.
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	pool    *instrument.Pool
	catalog *profiles.Catalog
	gateway *gateway.Server
	errCh   <-chan error
}

// New wires all components from the given configuration. The instrument is
// not contacted yet; the first connection is made lazily on the first lease.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	return newWithDialer(cfg, log, comauto.NewDialer(cfg.Instrument.ProgID, log.GetZerolog()))
}

// newWithDialer is the seam tests use to substitute the automation endpoint.
func newWithDialer(cfg *config.Config, log *logger.Logger, dialer instrument.Dialer) (*Daemon, error) {
	d := &Daemon{
		config:  cfg,
		logger:  log,
		metrics: metrics.NewMetrics(),
	}

	d.pool = instrument.New(dialer, instrument.Config{
		MaxInstances:   cfg.Instrument.MaxInstances,
		RetryAttempts:  cfg.Instrument.RetryAttempts,
		ConnectTimeout: cfg.Instrument.ConnectTimeoutDuration(),
		BackoffBase:    cfg.Instrument.BackoffBaseDuration(),
		BackoffCap:     cfg.Instrument.BackoffCapDuration(),
		ShutdownGrace:  cfg.Instrument.ShutdownGraceDuration(),
	}, log.GetZerolog())
	d.metrics.RegisterPoolGauges(
		func() float64 { return float64(d.pool.Stats().Leased) },
		func() float64 { return float64(d.pool.Stats().Idle) },
		func() float64 { return float64(d.pool.Stats().Waiters) },
	)
	log.Info().
		Int("max_instances", cfg.Instrument.MaxInstances).
		Str("prog_id", cfg.Instrument.ProgID).
		Msg("instrument pool initialized")

	if cfg.Profiles.ProfileDir != "" {
		catalog, err := profiles.New(cfg.Profiles.ProfileDir, cfg.Profiles.Extensions, log.GetZerolog())
		if err != nil {
			// The folder may not exist on a fresh install; the gateway
			// reports the profile endpoints as unconfigured.
			log.Warn().Err(err).Str("dir", cfg.Profiles.ProfileDir).Msg("profile catalog unavailable")
		} else {
			d.catalog = catalog
		}
	}

	srv, err := gateway.NewServer(gateway.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		AcquireTimeout: cfg.Instrument.AcquireTimeoutDuration(),
		StatusInterval: time.Duration(cfg.Server.StatusInterval) * time.Second,
	}, d.pool, d.catalog, d.metrics, log.GetZerolog())
	if err != nil {
		d.closeComponents()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	d.gateway = srv

	return d, nil
}

// Start begins serving. It returns immediately; use Wait to block until
// shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	d.errCh = d.gateway.Start(ctx)
	d.logger.Info().Msg("daemon started")
	return nil
}

// Wait blocks until a termination signal arrives or the gateway fails, then
// stops the daemon.
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err, ok := <-d.errCh:
		if ok && err != nil {
			d.logger.Error().Err(err).Msg("gateway failed")
			_ = d.Stop()
			return err
		}
	}
	return d.Stop()
}

// Stop drains the HTTP surface, then shuts the pool down within its grace
// period.
func (d *Daemon) Stop() error {
	d.logger.Info().Msg("stopping daemon")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.gateway.Shutdown(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("gateway shutdown incomplete")
	}

	d.closeComponents()
	d.logger.Info().Msg("daemon stopped")
	return nil
}

func (d *Daemon) closeComponents() {
	if d.catalog != nil {
		_ = d.catalog.Close()
	}
	if d.pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.Instrument.ShutdownGraceDuration()+time.Second)
		defer cancel()
		if err := d.pool.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("pool shutdown incomplete")
		}
	}
}

// Pool exposes the instrument pool for status commands.
func (d *Daemon) Pool() *instrument.Pool {
	return d.pool
}
