// Package observability provides a metrics extension for notevault that
// records vault event counts through a caller-supplied MetricFactory.
package observability

import (
	"context"
	"sync"

	"github.com/xraph/notevault/event"
	"github.com/xraph/notevault/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnDepositRecorded    = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawalRecorded = (*MetricsExtension)(nil)
	_ plugin.OnCallRejected       = (*MetricsExtension)(nil)
	_ plugin.OnInvariantViolated  = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records vault-wide metrics.
// Register it as a Ledger plugin to track deposits and withdrawals.
type MetricsExtension struct {
	factory MetricFactory

	// Flow metrics
	DepositsRecorded    Counter
	WithdrawalsRecorded Counter
	DepositAmount       Histogram
	WithdrawalAmount    Histogram

	// Failure metrics
	CallsRejected      Counter
	InvariantViolation Counter

	mu       sync.Mutex
	rejected map[string]Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		DepositsRecorded:    factory.Counter("notevault.deposit.recorded"),
		WithdrawalsRecorded: factory.Counter("notevault.withdrawal.recorded"),
		DepositAmount:       factory.Histogram("notevault.deposit.amount"),
		WithdrawalAmount:    factory.Histogram("notevault.withdrawal.amount"),

		CallsRejected:      factory.Counter("notevault.call.rejected"),
		InvariantViolation: factory.Counter("notevault.invariant.violated"),

		rejected: make(map[string]Counter),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Vault hooks
// ──────────────────────────────────────────────────

// OnDepositRecorded implements plugin.OnDepositRecorded.
func (m *MetricsExtension) OnDepositRecorded(_ context.Context, e *event.DepositRecorded) error {
	m.DepositsRecorded.Inc()
	m.DepositAmount.Observe(e.Amount.Value.InexactFloat64())
	return nil
}

// OnWithdrawalRecorded implements plugin.OnWithdrawalRecorded.
func (m *MetricsExtension) OnWithdrawalRecorded(_ context.Context, e *event.WithdrawalRecorded) error {
	m.WithdrawalsRecorded.Inc()
	m.WithdrawalAmount.Observe(e.Amount.Value.InexactFloat64())
	return nil
}

// OnCallRejected implements plugin.OnCallRejected. Besides the total, a
// counter per error kind is created on first use.
func (m *MetricsExtension) OnCallRejected(_ context.Context, e *event.CallRejected) error {
	m.CallsRejected.Inc()
	m.kindCounter(e.ErrorKind).Inc()
	return nil
}

// OnInvariantViolated implements plugin.OnInvariantViolated.
func (m *MetricsExtension) OnInvariantViolated(_ context.Context, _ *event.InvariantViolated) error {
	m.InvariantViolation.Inc()
	return nil
}

func (m *MetricsExtension) kindCounter(kind string) Counter {
	if kind == "" {
		kind = "unknown"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rejected[kind]
	if !ok {
		c = m.factory.Counter("notevault.call.rejected." + kind)
		m.rejected[kind] = c
	}
	return c
}
