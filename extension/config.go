package extension

import (
	"time"

	"github.com/xraph/notevault"
	"github.com/xraph/notevault/plugin"
	"github.com/xraph/notevault/types"
)

// Config holds the notevault extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.notevault" or "notevault" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// LedgerID resumes an existing vault. When empty a new vault is created
	// on first start.
	LedgerID string `json:"ledger_id" mapstructure:"ledger_id" yaml:"ledger_id"`

	// Denomination is the only resource the vault accepts (default: "xrd").
	Denomination string `json:"denomination" mapstructure:"denomination" yaml:"denomination"`

	// CommitmentMarker replaces the commitment in deposit notifications
	// (default: notevault.DefaultCommitmentMarker).
	CommitmentMarker string `json:"commitment_marker" mapstructure:"commitment_marker" yaml:"commitment_marker"`

	// PluginTimeout bounds each plugin hook (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// ReconcileOnStart cross-checks notes, total and pool before serving.
	ReconcileOnStart bool `json:"reconcile_on_start" mapstructure:"reconcile_on_start" yaml:"reconcile_on_start"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Denomination:     types.DefaultDenomination,
		CommitmentMarker: notevault.DefaultCommitmentMarker,
		PluginTimeout:    plugin.DefaultTimeout,
	}
}
