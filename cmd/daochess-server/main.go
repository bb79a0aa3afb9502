// Package main runs the DAO chess API server: token-weighted voting on moves,
// one finalized move per turn window.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"daochess/cmd/daochess-server/cli"
	"daochess/internal/server/board"
	"daochess/internal/server/chain"
	"daochess/internal/server/config"
	"daochess/internal/server/http"
	"daochess/internal/server/logger"
	"daochess/internal/server/processor"
	"daochess/internal/server/service"
	"daochess/internal/server/storage"
)

const (
	gracefulShutdownTimeout = time.Second * 5
	startupTimeout          = time.Second * 10
)

func main() {
	// Check for CLI database commands
	if len(os.Args) > 1 && os.Args[1] == "db" {
		logger.Init(false)
		if err := cli.Run(os.Args[2:]); err != nil {
			log.Fatal().Err(err).Msg("CLI error")
		}
		os.Exit(0)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	logger.Init(cfg.Dev)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config) error {
	if cfg.PIDPath != "" {
		cleanup, err := managePIDFile(cfg.PIDPath, cfg.PIDLock)
		if err != nil {
			return fmt.Errorf("failed to manage PID file: %w", err)
		}
		defer cleanup()
		log.Info().Str("path", cfg.PIDPath).Bool("lock", cfg.PIDLock).Msg("PID file created")
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	// 1. Game store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	// 2. Chain oracles
	power, head, closeChain, err := openChain(ctx, cfg)
	if err != nil {
		store.Close()
		return err
	}
	defer closeChain()

	// 3. Service, processor and HTTP app
	svc := service.New(store, board.NewOracle(), chain.NewVerifier(), power, head)
	proc := processor.New(svc)
	app := http.NewFiberApp(proc, svc, cfg.Dev, cfg.RequestTimeout)

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Str("storage", cfg.Storage).
			Bool("dev", cfg.Dev).
			Msg("DAO chess API server starting")
		log.Info().Msgf("API Endpoints: http://%s/api/v1/games", cfg.Addr())
		log.Info().Msgf("Health: http://%s/health", cfg.Addr())

		if err := app.Listen(cfg.Addr()); err != nil {
			log.Error().Err(err).Msg("API server listen error")
		}
	}()

	// Wait for an interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server forced to shutdown")
	}

	// Service shutdown releases long-poll waiters and closes the store
	if err := svc.Shutdown(gracefulShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("service shutdown error")
	}

	log.Info().Msg("server exited")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		log.Info().Str("path", cfg.StoragePath).Msg("initializing SQLite storage")
		store, err := storage.NewSQLiteStore(cfg.StoragePath, cfg.Dev)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if err := store.InitDB(); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return store, nil
	case config.StorageRedis:
		log.Info().Msg("connecting to Redis storage")
		store, err := storage.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect storage: %w", err)
		}
		return store, nil
	default:
		log.Warn().Msg("persistent storage disabled, games are lost on restart")
		return storage.NewMemoryStore(), nil
	}
}

func openChain(ctx context.Context, cfg *config.Config) (service.PowerOracle, service.ChainHead, func(), error) {
	if cfg.RPCURL == "" {
		weight, err := decimal.NewFromString(cfg.DevWeight)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid dev weight %q: %w", cfg.DevWeight, err)
		}
		log.Warn().Str("weight", weight.String()).Msg("no RPC endpoint, every address votes with a fixed weight")
		static := chain.NewStatic(weight, 0)
		return static, static, func() {}, nil
	}

	client, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect RPC endpoint: %w", err)
	}
	block, err := client.BlockNumber(ctx)
	if err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("RPC endpoint unusable: %w", err)
	}
	log.Info().Uint64("head", block).Msg("connected to chain")
	return client, client, client.Close, nil
}
