package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu     sync.Mutex
	height uint64
}

func (c *fakeClock) OnInitialize(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height > c.height {
		c.height = height
	}
}

func (c *fakeClock) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

func TestMonitorAdvancesClock(t *testing.T) {
	clock := &fakeClock{height: 41}
	m := NewMonitor(clock, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case h := <-m.Blocks():
		require.Equal(t, uint64(42), h)
	case <-time.After(time.Second):
		t.Fatal("no block produced")
	}
	require.GreaterOrEqual(t, clock.BlockNumber(), uint64(42))
}

func TestMonitorSkipsWhenExecutorBehind(t *testing.T) {
	clock := &fakeClock{}
	m := NewMonitor(clock, time.Hour, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < cap(m.blocks)+3; i++ {
		m.tick(ctx)
	}

	require.Len(t, m.blocks, cap(m.blocks))
	require.Equal(t, uint64(cap(m.blocks)+3), clock.BlockNumber())
}
