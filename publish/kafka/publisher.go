// Package kafka publishes vault events to a Kafka topic. It registers as a
// plugin, so a slow or failing broker never affects vault calls.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

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

// HeaderKind carries the event kind on every message.
const HeaderKind = "notevault-kind"

// Config holds the broker settings.
type Config struct {
	Brokers []string
	Topic   string
	// Acks is passed to kafka.RequiredAcks; -1 waits for all replicas.
	Acks int
	// IncludeRejections also publishes call.rejected events.
	IncludeRejections bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var errNilWriter = errors.New("kafka: publisher requires a writer")

// Publisher writes one message per event, keyed by ledger ID so a vault's
// events stay ordered within a partition.
type Publisher struct {
	cfg    Config
	writer messageWriter
	logger *slog.Logger
}

// New builds a Publisher backed by a kafka.Writer.
func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka: topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		AllowAutoTopicCreation: false,
		Balancer:               &kafka.Hash{},
	}
	return newWithWriter(cfg, logger, w)
}

func newWithWriter(cfg Config, logger *slog.Logger, w messageWriter) (*Publisher, error) {
	if w == nil {
		return nil, errNilWriter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		writer: w,
		logger: logger.With(slog.String("component", "kafka_publisher")),
	}, nil
}

// Name implements plugin.Plugin.
func (p *Publisher) Name() string { return "kafka-publisher" }

// OnShutdown implements plugin.OnShutdown.
func (p *Publisher) OnShutdown(_ context.Context) error {
	return p.writer.Close()
}

// OnDepositRecorded implements plugin.OnDepositRecorded.
func (p *Publisher) OnDepositRecorded(ctx context.Context, e *event.DepositRecorded) error {
	return p.publish(ctx, e, e.OccurredAt)
}

// OnWithdrawalRecorded implements plugin.OnWithdrawalRecorded.
func (p *Publisher) OnWithdrawalRecorded(ctx context.Context, e *event.WithdrawalRecorded) error {
	return p.publish(ctx, e, e.OccurredAt)
}

// OnCallRejected implements plugin.OnCallRejected.
func (p *Publisher) OnCallRejected(ctx context.Context, e *event.CallRejected) error {
	if !p.cfg.IncludeRejections {
		return nil
	}
	return p.publish(ctx, e, e.OccurredAt)
}

// OnInvariantViolated implements plugin.OnInvariantViolated.
func (p *Publisher) OnInvariantViolated(ctx context.Context, e *event.InvariantViolated) error {
	return p.publish(ctx, e, e.OccurredAt)
}

func (p *Publisher) publish(ctx context.Context, e event.Event, at time.Time) error {
	value, err := event.Encode(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(e.Ledger().String()),
		Value: value,
		Time:  at,
		Headers: []kafka.Header{
			{Key: HeaderKind, Value: []byte(e.EventKind())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka_publish_failed",
			slog.String("kind", string(e.EventKind())),
			slog.String("ledger_id", e.Ledger().String()),
			slog.Any("error", err),
		)
		return fmt.Errorf("kafka: publish %s: %w", e.EventKind(), err)
	}
	p.logger.Debug("kafka_published",
		slog.String("kind", string(e.EventKind())),
		slog.String("topic", p.cfg.Topic),
	)
	return nil
}
