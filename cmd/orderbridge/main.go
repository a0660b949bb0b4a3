package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"orderbridge/internal/broker"
	"orderbridge/internal/commission"
	"orderbridge/internal/config"
	"orderbridge/internal/engine"
	"orderbridge/internal/journal"
	"orderbridge/internal/store"
	"orderbridge/internal/stream"
	"orderbridge/internal/util"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	cfgPath := "config/orderbridge.yaml"
	if p := os.Getenv("ORDERBRIDGE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("orderbridge stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	b, err := newBroker(cfg, logger)
	if err != nil {
		return err
	}
	scheme, err := commission.New(cfg.Commission.Scheme, cfg.Commission.Fee, cfg.Commission.FreeAbove)
	if err != nil {
		return err
	}

	var db *store.SQLiteStore
	if cfg.Storage.SQLitePath != "" {
		db, err = store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer db.Close()
	}

	lis, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr(), err)
	}

	opts := engine.Options{
		AccountRefresh: cfg.Engine.AccountRefresh,
		AccountWait:    cfg.Engine.AccountWait,
		PendingTTL:     cfg.Engine.PendingTTL,
		MaxPending:     cfg.Engine.MaxPending,
		SweepInterval:  cfg.Engine.SweepInterval,
		UsePositions:   cfg.Broker.UsePositions,
		SubmitPolicy:   engine.Backoff(cfg.Engine.SubmitRetries, cfg.Engine.RetryBaseDelay),
		CancelPolicy:   engine.Backoff(cfg.Engine.SubmitRetries, cfg.Engine.RetryBaseDelay),
		Commission:     scheme,
	}
	if cfg.Engine.RateLimitPerMin > 0 {
		opts.Limiter = util.NewRateLimiter(cfg.Engine.RateLimitPerMin)
	}
	if cfg.Trading.MaxPositionPct > 0 || cfg.Trading.MaxDailyLossPct > 0 {
		opts.Risk = engine.NewRiskManager(cfg.Trading.MaxPositionPct, cfg.Trading.MaxDailyLossPct)
	}

	eng := engine.New(b, opts, logger)
	if err := eng.Start(ctx); err != nil {
		lis.Close()
		return err
	}
	if !eng.WaitReady(cfg.Engine.AccountWait) {
		logger.Warn("no account snapshot yet", "waited", cfg.Engine.AccountWait)
	}
	logger.Info("account ready", "cash", eng.Cash(), "value", eng.Value(),
		"positions", len(eng.Positions()), "commission", scheme.Name())

	g, gctx := errgroup.WithContext(ctx)
	if db != nil {
		var archive store.FillArchive
		if cfg.Storage.DataDir != "" {
			archive = store.NewParquetStore(cfg.Storage.DataDir)
		}
		j := journal.New(eng, db, db, db, archive, logger.With("component", "journal"))
		g.Go(func() error { return j.Run(gctx) })
	}

	gs := grpc.NewServer()
	stream.NewServer(eng, logger.With("component", "stream")).RegisterGRPC(gs)
	stream.NewOrderServer(eng, logger.With("component", "orders")).RegisterGRPC(gs)
	g.Go(func() error {
		logger.Info("grpc listening", "addr", lis.Addr().String())
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serving grpc: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		// Closing the engine ends every subscription, which lets the stream
		// handlers and the journal return.
		eng.Close()
		gs.GracefulStop()
		return nil
	})

	return g.Wait()
}

func newBroker(cfg *config.Config, logger *slog.Logger) (broker.Broker, error) {
	switch cfg.Broker.Name {
	case "alpaca":
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return nil, errors.New("alpaca broker needs api_key and api_secret")
		}
		return broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL,
			logger.With("component", "alpaca")), nil
	case "simulator":
		return broker.NewSimulatorBroker(cfg.Broker.SimCash), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker.Name)
	}
}
