package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/tonkhouse/tonkd/internal/randutil"
	"github.com/tonkhouse/tonkd/internal/server"
	"github.com/tonkhouse/tonkd/internal/store"
	"github.com/tonkhouse/tonkd/internal/wallet"
)

// ServeCmd runs the table server.
type ServeCmd struct {
	Config string `kong:"default='tonkd.hcl',help='Path to HCL configuration file'"`
	Debug  bool   `kong:"help='Enable debug logging'"`
	Seed   *int64 `kong:"help='Deterministic RNG seed (optional, testing only)'"`
}

func (c *ServeCmd) Run() error {
	cfg, err := server.LoadConfig(c.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogger(cfg.Server.LogLevel, c.Debug)

	rng := randutil.NewCrypto()
	if c.Seed != nil {
		logger.Warn("using deterministic seed, shuffles are predictable", "seed", *c.Seed)
		rng = randutil.New(*c.Seed)
	}

	db, err := wallet.Open(cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	settler := wallet.NewSettler(db, logger)

	clock := quartz.NewReal()
	st := store.NewMemory(clock)

	srv := server.NewServer(logger, server.InsecureAuthenticator{})
	for _, tc := range cfg.Tables {
		sess := server.NewSession(tc, cfg.Server, st, settler, srv, clock, rng, logger)
		srv.AddSession(sess)
		logger.Info("table registered", "table", tc.Name, "stake", tc.Stake,
			"min_players", tc.MinPlayers, "max_players", tc.MaxPlayers)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.ListenAddress()
	logger.Info("starting tonkd", "addr", addr, "tables", len(cfg.Tables), "db", cfg.Server.DBPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return srv.Stop()
	})
	return g.Wait()
}

func setupLogger(level string, debug bool) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	if debug {
		lvl = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           lvl,
	})
}
