package extension

import (
	"time"

	"github.com/xraph/notevault"
	"github.com/xraph/notevault/custody"
	"github.com/xraph/notevault/plugin"
	"github.com/xraph/notevault/store"
)

// Option configures the notevault Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithPool sets the custody pool for the ledger.
func WithPool(p custody.Pool) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, notevault.WithPool(p))
	}
}

// WithLedgerOption passes a notevault.Option through to the underlying ledger.
func WithLedgerOption(opt notevault.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, notevault.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithLedgerID resumes the vault with the given TypeID string.
func WithLedgerID(ledgerID string) Option {
	return func(e *Extension) { e.config.LedgerID = ledgerID }
}

// WithDenomination sets the resource the vault accepts.
func WithDenomination(denomination string) Option {
	return func(e *Extension) { e.config.Denomination = denomination }
}

// WithCommitmentMarker sets the marker carried by deposit notifications.
func WithCommitmentMarker(marker string) Option {
	return func(e *Extension) { e.config.CommitmentMarker = marker }
}

// WithPluginTimeout bounds each plugin hook.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.PluginTimeout = d }
}

// WithReconcileOnStart cross-checks the vault before it serves calls.
func WithReconcileOnStart() Option {
	return func(e *Extension) { e.config.ReconcileOnStart = true }
}
