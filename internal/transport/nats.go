package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSBus implements Bus with core NATS subjects.
type NATSBus struct {
	nc     *nats.Conn
	logger *logrus.Logger
}

// Connect dials the NATS server. Reconnects are bounded; once the
// connection is closed every Subscribe returns ErrClosed so the owning
// process can exit and be restarted.
func Connect(url, name string, logger *logrus.Logger, extraOpts ...nats.Option) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.WithField("subject", subject).Errorf("NATS error: %v", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected: %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Error("NATS connection closed")
		}),
	}
	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Infof("Connected to NATS: %s", nc.ConnectedUrl())

	return &NATSBus{nc: nc, logger: logger}, nil
}

func (b *NATSBus) Publish(_ context.Context, subject string, data []byte) error {
	if b.nc.IsClosed() {
		return ErrClosed
	}
	if err := b.nc.Publish(subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return fmt.Errorf("failed to publish on %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, subject string, handler Handler) error {
	sub, err := b.nc.SubscribeSync(subject)
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			b.logger.Warnf("Failed to unsubscribe from %s: %v", subject, err)
		}
	}()

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) || b.nc.IsClosed() {
				return fmt.Errorf("subscription to %s ended: %w", subject, ErrClosed)
			}
			if errors.Is(err, nats.ErrSlowConsumer) {
				b.logger.WithField("subject", subject).Warn("Slow consumer, messages dropped")
				continue
			}
			return fmt.Errorf("failed to receive on %s: %w", subject, err)
		}
		handler(msg.Data)
	}
}

// closeFlushTimeout bounds how long Close waits for the server to take
// pending publishes.
const closeFlushTimeout = 2 * time.Second

// Close hands pending publishes to the server, when connected, and closes
// the connection.
func (b *NATSBus) Close() error {
	if b.nc.IsConnected() {
		if err := b.nc.FlushTimeout(closeFlushTimeout); err != nil {
			b.logger.Warnf("Failed to flush NATS before close: %v", err)
		}
	}
	b.nc.Close()
	return nil
}
