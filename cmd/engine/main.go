package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/app"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/feed"
	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/venue"
)

// tickFanout feeds each price update to the engine and, in paper mode, to
// the simulated venue so market orders fill at the live mark.
type tickFanout struct {
	sinks []feed.TickSink
}

func (f *tickFanout) OnTick(symbol string, price decimal.Decimal) {
	for _, s := range f.sinks {
		s.OnTick(symbol, price)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bootstrap.Config

	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
	}

	var feedWorker *feed.Worker
	if cfg.Feed.URL != "" {
		fanout := &tickFanout{sinks: []feed.TickSink{bootstrap.Engine}}
		if paper, ok := bootstrap.Venue.(*venue.Paper); ok {
			fanout.sinks = append(fanout.sinks, paperSink{paper})
		}
		feedWorker = feed.NewWorker(cfg.Feed.URL, cfg.Feed.Symbols, fanout)
		feedWorker.Start(ctx)
		slog.Info("price feed started",
			slog.String("url", cfg.Feed.URL),
			slog.Int("symbols", len(cfg.Feed.Symbols)))
	}

	bootstrap.Engine.Start()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	if feedWorker != nil {
		feedWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := bootstrap.Engine.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown incomplete", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// paperSink adapts the paper venue's price setter to the feed sink.
type paperSink struct {
	paper *venue.Paper
}

func (p paperSink) OnTick(symbol string, price decimal.Decimal) {
	p.paper.SetPrice(symbol, price)
}
