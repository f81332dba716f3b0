package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const defaultStream = "WASEL_LEDGER"

// NATSConfig holds connection settings for the JetStream emitter.
type NATSConfig struct {
	URL        string
	Name       string
	StreamName string
}

// NATSEmitter publishes transition events to a JetStream stream. Subjects
// are the event types themselves (remittance.accepted, commission.paid, ...).
type NATSEmitter struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream string
	logger *slog.Logger
}

// NewNATSEmitter connects to NATS and ensures the ledger stream exists.
func NewNATSEmitter(cfg NATSConfig, logger *slog.Logger) (*NATSEmitter, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("events: jetstream init: %w", err)
	}

	stream := cfg.StreamName
	if stream == "" {
		stream = defaultStream
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{"remittance.>", "commission.>", "order.>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("events: ensure stream: %w", err)
	}

	return &NATSEmitter{conn: nc, js: js, stream: stream, logger: logger}, nil
}

// Emit implements Emitter.
func (e *NATSEmitter) Emit(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	if _, err := e.js.Publish(ctx, event.Type, raw, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Type, err)
	}
	return nil
}

// Close drains the underlying connection.
func (e *NATSEmitter) Close() error {
	if e == nil || e.conn == nil {
		return nil
	}
	return e.conn.Drain()
}
