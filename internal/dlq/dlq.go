// Package dlq provides a JetStream-backed dead letter stream for telemetry
// that could not be processed.
package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName    = "TELEMETRY_DLQ"
	subjectPrefix = "telemetry.dlq"

	headerReason = "Sentinel-Dlq-Reason"
	headerCause  = "Sentinel-Dlq-Cause"
)

// DeadLetter publishes failed telemetry to a durable JetStream stream so it
// can be inspected or replayed out of band.
type DeadLetter struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// New dials the JetStream-enabled server and creates or updates the backing
// stream.
func New(ctx context.Context, url string) (*DeadLetter, error) {
	conn, err := nats.Connect(url,
		nats.Name("sentinel-dlq"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		MaxAge:    48 * time.Hour,
		MaxBytes:  100 * 1024 * 1024,
		MaxMsgs:   100000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update stream %s: %w", streamName, err)
	}

	return &DeadLetter{conn: conn, js: js}, nil
}

// Close releases the dead letter connection.
func (d *DeadLetter) Close() {
	d.conn.Close()
}

// Write publishes one failed payload under telemetry.dlq.<reason>. The
// failure cause travels in a header so the payload stays byte-identical to
// what arrived on the bus.
func (d *DeadLetter) Write(ctx context.Context, payload []byte, reason string, cause error) error {
	msg := &nats.Msg{
		Subject: subjectPrefix + "." + reason,
		Data:    payload,
		Header:  make(nats.Header),
	}
	msg.Header.Set(headerReason, reason)
	if cause != nil {
		msg.Header.Set(headerCause, cause.Error())
	}

	if _, err := d.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}
