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
	"evrmarket/internal/ledger"
	"evrmarket/internal/monitor"
	"evrmarket/internal/rpc"
	"evrmarket/internal/zmqsub"
	"evrmarket/pkg/cache"
	"evrmarket/pkg/logger"
	"evrmarket/pkg/queue"

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
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	configPath := config.Path(root).Join("config.toml")
	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	nodeCfg, err := config.LoadNodeConfig(filepath.Join(Cfg.EvrmoreRoot, "evrmore.conf"))
	if err != nil {
		return fmt.Errorf("failed to load node config: %w", err)
	}

	logger.Info("starting monitor daemon")

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	var dbCfg database.Config
	if err := copier.Copy(&dbCfg, &Cfg.Database); err != nil {
		return fmt.Errorf("failed to copy database config: %w", err)
	}
	db, err := database.NewDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database connection: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	rpcClient, err := rpc.New(rpc.Config{
		Host:     nodeCfg.RPCBind,
		Port:     nodeCfg.RPCPort,
		User:     nodeCfg.RPCUser,
		Password: nodeCfg.RPCPassword,
		Timeout:  15 * time.Second,
	}, logger.Log)
	if err != nil {
		return fmt.Errorf("failed to connect to node: %w", err)
	}

	ledgerRepo := ledger.NewRepository(db)
	ingester := ledger.NewIngester(rpcClient, ledgerRepo)

	sub := zmqsub.New(zmqsub.Endpoints{
		HashTx:    nodeCfg.ZMQPubHashTx,
		HashBlock: nodeCfg.ZMQPubHashBlock,
		Sequence:  nodeCfg.ZMQPubSequence,
	}, 1024, logger.Log)

	streamQueue := queue.NewStreamQueue(cache.Client)
	consumerName := fmt.Sprintf("monitor-%d", time.Now().Unix())
	dispatcher := monitor.NewDispatcher(sub, streamQueue, ingester, consumerName, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	fetchTxids := func(ctx context.Context) ([]string, error) {
		txs, err := rpcClient.ListTransactions(ctx, 200)
		if err != nil {
			return nil, err
		}
		txids := make([]string, len(txs))
		for i, tx := range txs {
			txids[i] = tx.TxID
		}
		return txids, nil
	}
	go monitor.ReconcileLoop(ctx, ingester, fetchTxids, 5*time.Minute)

	logger.Info("monitor daemon running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	dispatcher.Stop()
	cancel()
	logger.Info("monitor daemon shut down gracefully")
	return nil
}
