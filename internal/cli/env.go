package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/internal/config"
	"github.com/mesh-intelligence/pantry/internal/paths"
	"github.com/mesh-intelligence/pantry/pkg/instrument"
	"github.com/mesh-intelligence/pantry/pkg/pantry"
	"github.com/mesh-intelligence/pantry/pkg/storage"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// env is the storage and output context shared by one command invocation.
type env struct {
	cfg      types.Config
	gw       storage.Gateway
	traced   types.StorageGateway
	registry *prometheus.Registry
	logger   *slog.Logger
	out      io.Writer
	json     bool
}

// loadConfig resolves the configuration directory and loads config.yaml,
// with the --data-dir flag taking precedence over the configured value.
func loadConfig() (types.Config, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		return types.Config{}, err
	}
	cfg.DataDir, err = paths.ResolveDataDir(flags.dataDir, cfg.DataDir)
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	return cfg, nil
}

// openEnv loads the configuration and opens the configured backend. The
// caller must call close.
func openEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	}))

	gw, err := storage.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}

	reg := prometheus.NewRegistry()
	metrics := instrument.NewMetrics(reg)
	return &env{
		cfg:      cfg,
		gw:       gw,
		traced:   instrument.Wrap(gw, instrument.Options{Metrics: metrics}),
		registry: reg,
		logger:   logger,
		out:      cmd.OutOrStdout(),
		json:     flags.jsonMode,
	}, nil
}

// transact runs fn in one unit of work and logs the storage round-trips it
// cost.
func (e *env) transact(ctx context.Context, fn func(*pantry.UnitOfWork) error) error {
	err := pantry.Transact(ctx, e.traced, fn, pantry.WithLogger(e.logger))
	e.logger.Debug("storage round-trips", "calls", e.roundTrips())
	return err
}

// roundTrips sums pantry_storage_calls_total across operations.
func (e *env) roundTrips() int {
	families, err := e.registry.Gather()
	if err != nil {
		return 0
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != "pantry_storage_calls_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return int(total)
}

func (e *env) close() error {
	return e.gw.Close()
}

// withEnv opens an env for the duration of run.
func withEnv(cmd *cobra.Command, run func(*env) error) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	return run(e)
}
