// Package plugin provides an extensible plugin system for notevault.
// Plugins hook into vault lifecycle events; every hook is optional and a
// failing hook never affects the call that triggered it.
package plugin

import (
	"context"

	"github.com/xraph/notevault/event"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called once the ledger has started.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the ledger is stopping.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Vault hooks
// ──────────────────────────────────────────────────

// OnDepositRecorded is called after a deposit commits.
type OnDepositRecorded interface {
	Plugin
	OnDepositRecorded(ctx context.Context, e *event.DepositRecorded) error
}

// OnWithdrawalRecorded is called after a withdrawal commits.
type OnWithdrawalRecorded interface {
	Plugin
	OnWithdrawalRecorded(ctx context.Context, e *event.WithdrawalRecorded) error
}

// OnCallRejected is called when a deposit or withdrawal is refused.
type OnCallRejected interface {
	Plugin
	OnCallRejected(ctx context.Context, e *event.CallRejected) error
}

// OnInvariantViolated is called when the vault detects that its own
// accounting no longer balances.
type OnInvariantViolated interface {
	Plugin
	OnInvariantViolated(ctx context.Context, e *event.InvariantViolated) error
}
