// Package notify publishes migration records to interested subscribers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalyst-migrator/pkg/types"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var errEmptySubject = errors.New("empty subject")

// Notifier receives one record per processed entity.
type Notifier interface {
	Notify(ctx context.Context, rec types.MigrationRecord) error
	Close()
}

// Nop discards every record.
type Nop struct{}

func (Nop) Notify(context.Context, types.MigrationRecord) error { return nil }
func (Nop) Close()                                              {}

// publisher is the subset of *nats.Conn used by NatsNotifier.
type publisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// NatsNotifier publishes records as JSON on a NATS subject.
type NatsNotifier struct {
	conn    publisher
	subject string
	logger  *zap.Logger
}

// NewNatsNotifier dials NATS at url.
func NewNatsNotifier(url, subject string, logger *zap.Logger) (*NatsNotifier, error) {
	if subject == "" {
		return nil, errEmptySubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name("catalyst-migrator"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("Disconnected from NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNatsNotifier(nc, subject, logger), nil
}

func newNatsNotifier(conn publisher, subject string, logger *zap.Logger) *NatsNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NatsNotifier{conn: conn, subject: subject, logger: logger}
}

func (n *NatsNotifier) Notify(ctx context.Context, rec types.MigrationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}
	n.logger.Debug("Published migration record",
		zap.String("subject", n.subject),
		zap.String("source_id", string(rec.SourceID)))
	return nil
}

func (n *NatsNotifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
