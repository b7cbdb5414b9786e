package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tasknode/internal/blockchain/evm"
	"tasknode/internal/config"
	"tasknode/internal/models"
)

// SigningService is a Signer with its own serving loop
type SigningService interface {
	Signer
	Run(ctx context.Context) error
}

// WorkerManager owns the node's background services: the signer loop, the
// event relay, the block clock and the executor
type WorkerManager struct {
	cfg    *config.Config
	logger *zap.Logger

	evmClients map[models.Network]*evm.Client
	connectors map[models.Network]Connector

	signer   SigningService
	relay    *EventRelay
	monitor  *Monitor
	executor *Executor

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewWorkerManager dials every configured network and wires the executor
// for the node account. Without a node account only the block clock,
// signer and relay run.
func NewWorkerManager(
	cfg *config.Config,
	runtime Runtime,
	members Membership,
	signer SigningService,
	indexer Indexer,
	relay *EventRelay,
	logger *zap.Logger,
) (*WorkerManager, error) {
	logger = logger.Named("worker")

	evmClients := make(map[models.Network]*evm.Client)
	connectors := make(map[models.Network]Connector)
	closeAll := func() {
		for _, c := range evmClients {
			c.Close()
		}
	}

	for id, netCfg := range cfg.Networks {
		client, err := evm.NewClient(netCfg, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to create EVM client for network %d: %w", id, err)
		}
		evmClients[id] = client

		conn, err := evm.NewConnector(id, client, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to create connector for network %d: %w", id, err)
		}
		connectors[id] = conn

		logger.Info("Network initialized",
			zap.Uint16("network", uint16(id)),
			zap.String("name", netCfg.Name))
	}

	wm := &WorkerManager{
		cfg:        cfg,
		logger:     logger,
		evmClients: evmClients,
		connectors: connectors,
		signer:     signer,
		relay:      relay,
		monitor:    NewMonitor(runtime, cfg.Node.BlockTime, logger),
	}

	if cfg.Node.Account == "" {
		logger.Warn("NODE_ACCOUNT not set, executor disabled")
		return wm, nil
	}
	account, err := models.ParseAccountID(cfg.Node.Account)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("invalid node account: %w", err)
	}

	wm.executor = NewExecutor(ExecutorConfig{
		Account:    account,
		Runtime:    runtime,
		Members:    members,
		Signer:     signer,
		Connectors: connectors,
		Indexer:    indexer,
		JobTimeout: cfg.Node.JobTimeout,
	}, wm.monitor.Blocks(), logger)

	return wm, nil
}

// Start starts all worker goroutines
func (wm *WorkerManager) Start() {
	wm.logger.Info("Starting worker manager",
		zap.Int("num_networks", len(wm.connectors)),
		zap.Duration("block_time", wm.cfg.Node.BlockTime))

	ctx, cancel := context.WithCancel(context.Background())
	wm.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	wm.group = g

	g.Go(func() error { return wm.signer.Run(gctx) })
	if wm.relay != nil {
		g.Go(func() error { return wm.relay.Run(gctx) })
	}
	g.Go(func() error { return wm.monitor.Run(gctx) })
	if wm.executor != nil {
		g.Go(func() error { return wm.executor.Run(gctx) })
	}

	wm.logger.Info("Worker manager started")
}

// Shutdown gracefully stops all workers
func (wm *WorkerManager) Shutdown(timeout time.Duration) error {
	wm.logger.Info("Shutting down worker manager")

	if wm.cancel != nil {
		wm.cancel()
	}

	done := make(chan error, 1)
	go func() {
		if wm.group == nil {
			done <- nil
			return
		}
		done <- wm.group.Wait()
	}()

	var err error
	select {
	case err = <-done:
		wm.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		wm.logger.Warn("Worker shutdown timed out")
	}

	for id, client := range wm.evmClients {
		client.Close()
		wm.logger.Debug("Closed EVM client", zap.Uint16("network", uint16(id)))
	}

	wm.logger.Info("Worker manager shutdown complete")
	return err
}
