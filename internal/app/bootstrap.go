// Package app wires the execution engine's components together at startup.
package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/domain"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/engine"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/infra"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/notify"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/risk"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/storage"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/venue"
)

// Bootstrap holds the initialized component graph.
type Bootstrap struct {
	Config  *infra.Config
	Archive *storage.Archive
	Engine  *engine.Engine
	Venue   domain.ExchangeAdapter
}

// NewBootstrap creates an empty bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and builds the component graph in
// dependency order: logger, archive, risk guard, monitor, manager, tracker,
// engine, venue.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("bootstrapping execution engine")

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))

	archive, err := storage.NewArchive(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	b.Archive = archive

	mode, err := domain.ParseExecutionMode(cfg.Trading.Mode)
	if err != nil {
		return err
	}

	guard := risk.NewGuard(risk.Config{
		MaxOpenPositions:   cfg.Risk.MaxOpenPositions,
		MaxPositionSizePct: cfg.Risk.MaxPositionSizePct,
		MaxDrawdownPct:     cfg.Risk.MaxDrawdownPct,
		MaxDailyLossPct:    cfg.Risk.MaxDailyLossPct,
		BreakerCooldown:    time.Duration(cfg.Risk.BreakerCooldownMin) * time.Minute,
	})

	limiters := infra.NewVenueLimiters(cfg.Monitor.PollBurst, cfg.Monitor.PollsPerSecond)
	monitor := engine.NewOrderMonitor(limiters)
	manager := engine.NewOrderManager(monitor, archive, domain.NewExecutionMetrics(),
		time.Duration(cfg.Monitor.TimeoutSec)*time.Second, cfg.Monitor.MaxPolls)
	tracker := engine.NewPositionTracker(cfg.Trading.AllowPyramiding, archive)

	b.Engine = engine.NewEngine(mode,
		decimal.NewFromFloat(cfg.Trading.InitialEquity),
		manager, monitor, tracker, guard, notify.LogNotifier{})

	b.Venue = b.buildVenue(mode)

	slog.Info("bootstrap complete",
		slog.String("mode", mode.String()),
		slog.String("venue", b.Venue.Name()),
		slog.String("archive", cfg.Storage.Path))
	return nil
}

// buildVenue selects the adapter for the configured mode. Live adapters are
// registered here as they are implemented; until then every mode routes to
// the paper simulator.
func (b *Bootstrap) buildVenue(mode domain.ExecutionMode) domain.ExchangeAdapter {
	if mode == domain.ModeLive {
		slog.Warn("no live venue adapter configured, falling back to paper simulation")
	}
	return venue.NewPaper("binance", decimal.NewFromInt(10))
}

// Close releases held resources.
func (b *Bootstrap) Close() error {
	if b.Archive != nil {
		return b.Archive.Close()
	}
	return nil
}
