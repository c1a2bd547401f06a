// Package natsfeed delivers gateway pushes over NATS. Each subscription maps
// to the subject "<prefix>.<subscription name>" and each message body is the
// GraphQL data object of one push.
package natsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rewired-gh/seismerge/internal/logger"
	"github.com/rewired-gh/seismerge/internal/push"
)

const bufferSize = 256

// Config holds NATS connection settings.
type Config struct {
	URL            string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// Conn is the part of *nats.Conn the feed uses.
type Conn interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subj string, data []byte) error
}

// Connect opens a NATS connection that logs disconnects and reconnects.
func Connect(cfg Config) (*nats.Conn, error) {
	options := []nats.Option{
		nats.Name("seismerge"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}
	return nc, nil
}

// Feed is a push.Source backed by NATS subjects.
type Feed struct {
	conn   Conn
	prefix string
}

// New creates a feed on conn using subjects under prefix.
func New(conn Conn, prefix string) *Feed {
	return &Feed{conn: conn, prefix: prefix}
}

// Subject returns the subject carrying pushes for the named subscription.
func (f *Feed) Subject(name string) string {
	if f.prefix == "" {
		return name
	}
	return f.prefix + "." + name
}

// Subscribe implements push.Source. Messages are handed to handle one at a
// time on the calling goroutine, in the order NATS delivered them.
func (f *Feed) Subscribe(ctx context.Context, sub push.Subscription, handle push.Handler) error {
	subject := f.Subject(sub.Name)
	msgs := make(chan *nats.Msg, bufferSize)

	s, err := f.conn.Subscribe(subject, func(m *nats.Msg) {
		select {
		case msgs <- m:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	defer func() { _ = s.Unsubscribe() }()
	logger.Debug("Subscribed to NATS subject %s", subject)

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-msgs:
			if err := handle(ctx, json.RawMessage(m.Data)); err != nil {
				logger.Warn("Failed to apply %s push: %v", sub.Name, err)
			}
		}
	}
}

// Publish sends the data object of one push on the subscription's subject.
func (f *Feed) Publish(name string, data json.RawMessage) error {
	subject := f.Subject(name)
	if err := f.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Relay copies every push of sub from src onto NATS. It blocks like Subscribe.
func (f *Feed) Relay(ctx context.Context, src push.Source, sub push.Subscription) error {
	return src.Subscribe(ctx, sub, func(_ context.Context, data json.RawMessage) error {
		return f.Publish(sub.Name, data)
	})
}
