package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"lendvault/config"
	"lendvault/core"
	"lendvault/eventlog"
	"lendvault/native/vault"
	"lendvault/observability/logging"
	"lendvault/rpc"
	"lendvault/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDVAULT_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	logger := logging.Setup(cfg.ServiceName, env)

	owner, err := cfg.Owner()
	if err != nil {
		logger.Error("Failed to resolve owner address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	log, err := openEventLog(cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to open event log: %v", err))
	}
	defer log.Close()

	node := core.NewNode(db, owner, vault.RiskParameters{MaxLTVBps: cfg.LTVBps}, log)
	node.SetMaxBorrowersPerPass(cfg.MaxBorrowersPerPass)

	server := rpc.NewServer(node)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("RPC server listening", slog.String("addr", cfg.RPCAddress))
		errCh <- server.Start(cfg.RPCAddress)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("RPC server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.DBBackend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(cfg.DataDir + "/state.db")
	default:
		return storage.NewLevelDB(cfg.DataDir)
	}
}

func openEventLog(cfg *config.Config) (*eventlog.Log, error) {
	if cfg.DBBackend == config.BackendMemory {
		return eventlog.NewMemoryLog(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	return eventlog.Open(cfg.EventLogPath)
}
