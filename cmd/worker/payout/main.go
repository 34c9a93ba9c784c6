package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"evrmarket/config"
	"evrmarket/internal/database"
	"evrmarket/internal/payout"
	"evrmarket/internal/rpc"
	"evrmarket/pkg/logger"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.DaemonConfig

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(filename))))
	configPath := config.Path(root).Join("config.toml")
	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	nodeCfg, err := config.LoadNodeConfig(filepath.Join(Cfg.EvrmoreRoot, "evrmore.conf"))
	if err != nil {
		return fmt.Errorf("failed to load node config: %w", err)
	}

	logger.Info("starting payout worker")

	var dbCfg database.Config
	if err := copier.Copy(&dbCfg, &Cfg.Database); err != nil {
		return fmt.Errorf("failed to copy database config: %w", err)
	}
	db, err := database.NewDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database connection: %w", err)
	}
	defer db.Close()

	rpcClient, err := rpc.New(rpc.Config{
		Host:     nodeCfg.RPCBind,
		Port:     nodeCfg.RPCPort,
		User:     nodeCfg.RPCUser,
		Password: nodeCfg.RPCPassword,
		Timeout:  30 * time.Second,
	}, logger.Log)
	if err != nil {
		return fmt.Errorf("failed to connect to node: %w", err)
	}

	repo := payout.NewRepository(db)
	engine := payout.NewEngine(repo, rpcClient, Cfg.FeeAddress, Cfg.MinRelayFeePerKB, Cfg.MaxPayoutAttempts, Cfg.PayoutBatchSize,
		time.Duration(Cfg.PayoutRetryDelaySecs)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx, 30*time.Second)

	logger.Info("payout worker running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("payout worker shut down gracefully")
	return nil
}
