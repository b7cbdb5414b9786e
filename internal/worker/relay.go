package worker

import (
	"context"

	"go.uber.org/zap"

	"tasknode/internal/metrics"
	"tasknode/internal/tasks"
)

// EventConsumer receives committed engine events in order
type EventConsumer interface {
	Name() string
	HandleEvents(ctx context.Context, events []tasks.Event) error
}

// EventRelay is the engine's event sink. Publish never blocks: batches are
// buffered and delivered to the consumers from Run.
type EventRelay struct {
	batches   chan []tasks.Event
	consumers []EventConsumer
	logger    *zap.Logger
}

func NewEventRelay(buffer int, logger *zap.Logger, consumers ...EventConsumer) *EventRelay {
	return &EventRelay{
		batches:   make(chan []tasks.Event, buffer),
		consumers: consumers,
		logger:    logger.Named("relay"),
	}
}

// Publish implements tasks.EventSink
func (r *EventRelay) Publish(events ...tasks.Event) {
	if len(events) == 0 {
		return
	}
	batch := append([]tasks.Event(nil), events...)

	select {
	case r.batches <- batch:
	default:
		metrics.EventsDropped.Add(float64(len(batch)))
		r.logger.Warn("Event buffer full, dropping events", zap.Int("count", len(batch)))
	}
}

// Run delivers batches until ctx is cancelled, then flushes what is
// already buffered
func (r *EventRelay) Run(ctx context.Context) error {
	r.logger.Info("Event relay started", zap.Int("consumers", len(r.consumers)))

	for {
		select {
		case <-ctx.Done():
			r.flush()
			r.logger.Info("Event relay stopped")
			return nil
		case batch := <-r.batches:
			r.deliver(ctx, batch)
		}
	}
}

func (r *EventRelay) flush() {
	for {
		select {
		case batch := <-r.batches:
			r.deliver(context.Background(), batch)
		default:
			return
		}
	}
}

func (r *EventRelay) deliver(ctx context.Context, batch []tasks.Event) {
	for _, c := range r.consumers {
		if err := c.HandleEvents(ctx, batch); err != nil {
			metrics.EventConsumerErrors.WithLabelValues(c.Name()).Inc()
			r.logger.Error("Event consumer failed",
				zap.String("consumer", c.Name()),
				zap.Int("events", len(batch)),
				zap.Error(err))
			continue
		}
		metrics.EventsPublished.WithLabelValues(c.Name()).Add(float64(len(batch)))
	}
}
