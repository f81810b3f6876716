// Package transport connects the pipeline to the telemetry message bus.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aegisiot/sentinel/internal/metrics"
	"github.com/aegisiot/sentinel/internal/models"
)

// Ingestor accepts parsed telemetry for processing.
type Ingestor interface {
	Enqueue(t *models.RawTelemetry)
}

// DeadLetter records telemetry that could not be parsed. Optional.
type DeadLetter interface {
	Write(ctx context.Context, payload []byte, reason string, cause error) error
}

// Config holds subscriber connection settings.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Subject is the telemetry subject pattern, one token per path segment
	// (e.g., "devices.*.telemetry").
	Subject string

	// Name is the client name for connection identification.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       "devices.*.telemetry",
		Name:          "sentinel-ingest",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Subscriber receives raw telemetry from the bus, parses it, and hands it to
// the ingestor. Malformed messages are logged and dropped without reaching
// the pipeline.
type Subscriber struct {
	conn     *nats.Conn
	sub      *nats.Subscription
	ingestor Ingestor
	dlq      DeadLetter
	subject  string
}

// Connect establishes the bus connection. dlq may be nil.
func Connect(cfg Config, ingestor Ingestor, dlq DeadLetter) (*Subscriber, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("telemetry bus disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("telemetry bus reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Subscriber{
		conn:     conn,
		ingestor: ingestor,
		dlq:      dlq,
		subject:  cfg.Subject,
	}, nil
}

// Start subscribes to the telemetry subject and begins forwarding messages.
func (s *Subscriber) Start() error {
	sub, err := s.conn.Subscribe(s.subject, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	slog.Info("subscribed to telemetry", slog.String("subject", s.subject))
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	t, err := models.ParseRawTelemetry(msg.Data)
	if err != nil {
		metrics.TelemetryTotal.WithLabelValues("malformed").Inc()
		slog.Warn("dropping malformed telemetry",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		if s.dlq != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = s.dlq.Write(ctx, msg.Data, "malformed", err)
			cancel()
		}
		return
	}

	metrics.TelemetryTotal.WithLabelValues("received").Inc()
	s.ingestor.Enqueue(t)
}

// IsConnected reports whether the bus connection is up.
func (s *Subscriber) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Conn exposes the underlying connection for components sharing the bus.
func (s *Subscriber) Conn() *nats.Conn {
	return s.conn
}

// Drain unsubscribes and waits for handlers already dispatched to complete,
// then closes the connection.
func (s *Subscriber) Drain() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// Close releases the connection without draining.
func (s *Subscriber) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
