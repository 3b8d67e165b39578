package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/shopspring/decimal"

	"skintrade/internal/auth"
	"skintrade/internal/config"
	"skintrade/internal/hooks"
	"skintrade/internal/live"
	"skintrade/internal/market"
	"skintrade/internal/pool"
	"skintrade/internal/server"
	"skintrade/internal/store"
	"skintrade/internal/trade"
	"skintrade/internal/unbox"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("SKINTRADE_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// A positional port overrides the configured one: `server [port]`.
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil {
			return fmt.Errorf("bad port %q: %w", os.Args[1], err)
		}
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting", "port", cfg.Server.Port, "db", cfg.Store.Path)

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	feeRate, err := decimal.NewFromString(cfg.Market.FeeRate)
	if err != nil {
		return fmt.Errorf("bad market.fee_rate: %w", err)
	}
	keyPrice, err := decimal.NewFromString(cfg.Unbox.KeyPrice)
	if err != nil {
		return fmt.Errorf("bad unbox.key_price: %w", err)
	}
	startingBalance, err := decimal.NewFromString(cfg.Unbox.StartingBalance)
	if err != nil {
		return fmt.Errorf("bad unbox.starting_balance: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hub *live.Hub
	var liveSrv *live.Server
	if cfg.Live.Enabled {
		hub = live.NewHub(logger)
		liveSrv = live.NewServer(cfg.Live.Port, hub, logger)
		go func() {
			if err := liveSrv.Start(); err != nil {
				logger.Error("live feed failed", "error", err)
			}
		}()
	}

	hk := hooks.New(st, broadcaster(hub), logger)
	authSvc := auth.New(st, auth.NewRollingHasher(), hk, cfg.Session.TTL, startingBalance, logger)
	unboxEng, err := unbox.New(ctx, st, hk, keyPrice, logger)
	if err != nil {
		return err
	}
	marketEng := market.New(st, hk, feeRate, cfg.Trade.LockTTL, logger)
	tradeEng := trade.New(st, hk, cfg.Trade.OfferTTL, logger)

	go tradeEng.RunReaper(ctx, cfg.Trade.ReapInterval)
	go marketEng.RunLockSweep(ctx, cfg.Trade.ReapInterval)

	workers := pool.New(cfg.Server.Workers, cfg.Server.QueueCapacity, logger)
	dispatch := server.NewDispatcher(st, authSvc, unboxEng, marketEng, tradeEng, hk, logger)
	srv := server.New(cfg.Server.Port, workers, dispatch, logger)
	if err := srv.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	cancel()
	srv.Stop()
	workers.Shutdown()
	if liveSrv != nil {
		if err := liveSrv.Stop(); err != nil {
			logger.Error("live feed stop failed", "error", err)
		}
	}
	return nil
}

// broadcaster keeps the nil hub nil through the interface conversion.
func broadcaster(hub *live.Hub) hooks.Broadcaster {
	if hub == nil {
		return nil
	}
	return hub
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
