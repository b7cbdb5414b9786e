package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tasknode/internal/tasks"
)

type recordingConsumer struct {
	name string
	err  error

	mu     sync.Mutex
	events []tasks.Event
}

func (c *recordingConsumer) Name() string { return c.name }

func (c *recordingConsumer) HandleEvents(_ context.Context, events []tasks.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return c.err
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestEventRelayDeliversToAllConsumers(t *testing.T) {
	good := &recordingConsumer{name: "good"}
	bad := &recordingConsumer{name: "bad", err: errors.New("down")}
	relay := NewEventRelay(4, zap.NewNop(), bad, good)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	relay.Publish(tasks.Event{Kind: tasks.EventTaskCreated}, tasks.Event{Kind: tasks.EventTaskResult})
	relay.Publish()

	require.Eventually(t, func() bool { return good.count() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, bad.count())

	good.mu.Lock()
	defer good.mu.Unlock()
	require.Equal(t, tasks.EventTaskCreated, good.events[0].Kind)
	require.Equal(t, tasks.EventTaskResult, good.events[1].Kind)
}

func TestEventRelayDropsWhenFull(t *testing.T) {
	c := &recordingConsumer{name: "c"}
	relay := NewEventRelay(1, zap.NewNop(), c)

	relay.Publish(tasks.Event{Kind: tasks.EventTaskCreated})
	relay.Publish(tasks.Event{Kind: tasks.EventTaskResult})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, relay.Run(ctx))

	require.Equal(t, 1, c.count())
	require.Equal(t, tasks.EventTaskCreated, c.events[0].Kind)
}
