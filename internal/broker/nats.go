// Package broker streams committed task events to NATS JetStream
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"tasknode/internal/metrics"
	"tasknode/internal/tasks"
)

// SubjectPrefix is the root of every published subject
const SubjectPrefix = "tasks"

// Publisher publishes engine events on tasks.<network>.<kind>
type Publisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	stream string
	logger *zap.Logger
}

// NewPublisher connects to url and makes sure the stream exists
func NewPublisher(url, stream string, timeout time.Duration, logger *zap.Logger) (*Publisher, error) {
	logger = logger.Named("broker")

	conn, err := nats.Connect(url,
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &Publisher{conn: conn, js: js, stream: stream, logger: logger}
	if err := p.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureStream() error {
	if _, err := p.js.StreamInfo(p.stream); err == nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:      p.stream,
		Subjects:  []string{SubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", p.stream, err)
	}

	p.logger.Info("Created JetStream stream", zap.String("stream", p.stream))
	return nil
}

// Subject returns the subject an event is published on
func Subject(ev tasks.Event) string {
	network := "all"
	if ev.Network != nil {
		network = fmt.Sprintf("%d", *ev.Network)
	}
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, network, ev.Kind)
}

// Name identifies the consumer in metrics
func (p *Publisher) Name() string {
	return "nats"
}

// HandleEvents publishes a batch of events in order
func (p *Publisher) HandleEvents(ctx context.Context, events []tasks.Event) error {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		if _, err := p.js.Publish(Subject(ev), data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to publish %s: %w", ev.Kind, err)
		}
	}
	return nil
}

// Close drains the connection
func (p *Publisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}
