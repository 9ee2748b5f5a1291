// Package nats broadcasts vault events on NATS subjects namespaced by
// ledger, so subscribers can follow one vault with a single wildcard.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/xraph/notevault/event"
	"github.com/xraph/notevault/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Publisher)(nil)
	_ plugin.OnShutdown           = (*Publisher)(nil)
	_ plugin.OnDepositRecorded    = (*Publisher)(nil)
	_ plugin.OnWithdrawalRecorded = (*Publisher)(nil)
	_ plugin.OnCallRejected       = (*Publisher)(nil)
	_ plugin.OnInvariantViolated  = (*Publisher)(nil)
)

// DefaultSubjectPrefix roots every subject this package publishes on.
const DefaultSubjectPrefix = "notevault.notification"

// Header names set on every message.
const (
	HeaderKind    = "Notevault-Kind"
	HeaderEventID = "Notevault-Event-Id"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	Drain() error
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSubjectPrefix replaces DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) { p.prefix = strings.TrimSuffix(prefix, ".") }
}

// WithLogger sets the logger for the publisher.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithDrainOnShutdown drains the connection when the ledger stops.
func WithDrainOnShutdown() Option {
	return func(p *Publisher) { p.drain = true }
}

// Publisher sends each event to "<prefix>.<ledger id>.<kind>".
type Publisher struct {
	conn   Conn
	prefix string
	drain  bool
	logger *slog.Logger
}

// New wraps an established connection.
func New(conn Conn, opts ...Option) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("nats: publisher requires a connection")
	}
	p := &Publisher{
		conn:   conn,
		prefix: DefaultSubjectPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.prefix == "" {
		return nil, errors.New("nats: subject prefix must not be empty")
	}
	return p, nil
}

// Connect dials url and wraps the resulting connection.
func Connect(url string, opts ...Option) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("notevault-publisher"))
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return New(nc, append(opts, WithDrainOnShutdown())...)
}

// Subject returns the subject an event of kind for ledgerID is published on.
func (p *Publisher) Subject(ledgerID string, kind event.Kind) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, ledgerID, kind)
}

// Name implements plugin.Plugin.
func (p *Publisher) Name() string { return "nats-publisher" }

// OnShutdown implements plugin.OnShutdown.
func (p *Publisher) OnShutdown(_ context.Context) error {
	if !p.drain {
		return nil
	}
	return p.conn.Drain()
}

// OnDepositRecorded implements plugin.OnDepositRecorded.
func (p *Publisher) OnDepositRecorded(_ context.Context, e *event.DepositRecorded) error {
	return p.publish(e)
}

// OnWithdrawalRecorded implements plugin.OnWithdrawalRecorded.
func (p *Publisher) OnWithdrawalRecorded(_ context.Context, e *event.WithdrawalRecorded) error {
	return p.publish(e)
}

// OnCallRejected implements plugin.OnCallRejected.
func (p *Publisher) OnCallRejected(_ context.Context, e *event.CallRejected) error {
	return p.publish(e)
}

// OnInvariantViolated implements plugin.OnInvariantViolated.
func (p *Publisher) OnInvariantViolated(_ context.Context, e *event.InvariantViolated) error {
	return p.publish(e)
}

func (p *Publisher) publish(e event.Event) error {
	data, err := event.Encode(e)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(p.Subject(e.Ledger().String(), e.EventKind()))
	msg.Data = data
	msg.Header.Set(HeaderKind, string(e.EventKind()))
	msg.Header.Set(HeaderEventID, e.EventID().String())

	if err := p.conn.PublishMsg(msg); err != nil {
		p.logger.Warn("nats: publish failed",
			"subject", msg.Subject,
			"error", err,
		)
		return fmt.Errorf("nats: publish %s: %w", e.EventKind(), err)
	}
	return nil
}
