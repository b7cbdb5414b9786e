package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tasknode/internal/metrics"
)

// Clock is the part of the engine the block clock drives
type Clock interface {
	OnInitialize(height uint64)
	BlockNumber() uint64
}

// Monitor produces blocks: every tick it advances the engine by one height
// and hands the finalized height to the executor
type Monitor struct {
	clock    Clock
	interval time.Duration
	logger   *zap.Logger

	// Channel to send finalized heights to the executor
	blocks chan uint64
}

// NewMonitor creates a block clock ticking every interval
func NewMonitor(clock Clock, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		clock:    clock,
		interval: interval,
		logger:   logger.Named("monitor"),
		blocks:   make(chan uint64, 16),
	}
}

// Blocks is the channel finalized heights are delivered on
func (m *Monitor) Blocks() <-chan uint64 {
	return m.blocks
}

// Run starts the block loop
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Monitor started", zap.Duration("block_time", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping", zap.Uint64("height", m.clock.BlockNumber()))
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick finalizes the next block
func (m *Monitor) tick(ctx context.Context) {
	height := m.clock.BlockNumber() + 1
	m.clock.OnInitialize(height)
	metrics.BlockHeight.Set(float64(height))

	m.logger.Debug("Block finalized", zap.Uint64("height", height))

	select {
	case m.blocks <- height:
	case <-ctx.Done():
	default:
		m.logger.Warn("Executor channel full, skipping block", zap.Uint64("height", height))
	}
}
