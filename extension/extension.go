// Package extension provides the Forge extension adapter for notevault.
//
// It implements the forge.Extension interface to integrate a vault into a
// Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.notevault" or
// "notevault" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/notevault"
	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/store"
	"github.com/xraph/notevault/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "notevault"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Custodial note vault"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts a notevault Ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *notevault.Ledger
	store      store.Store
	ledgerOpts []notevault.Option
}

// New creates a new notevault Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *notevault.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// builds the ledger, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	opts, err := e.buildLedgerOpts()
	if err != nil {
		return err
	}
	e.engine = notevault.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*notevault.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("notevault: extension not initialized")
	}
	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("notevault: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs notevault.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() ([]notevault.Option, error) {
	opts := make([]notevault.Option, 0, len(e.ledgerOpts)+6)

	if e.config.LedgerID != "" {
		ledgerID, err := id.ParseLedgerID(e.config.LedgerID)
		if err != nil {
			return nil, fmt.Errorf("notevault: ledger_id: %w", err)
		}
		opts = append(opts, notevault.WithLedgerID(ledgerID))
	}
	if e.config.Denomination != "" {
		opts = append(opts, notevault.WithDenomination(e.config.Denomination))
	}
	if e.config.CommitmentMarker != "" {
		opts = append(opts, notevault.WithCommitmentMarker(e.config.CommitmentMarker))
	}
	if e.config.PluginTimeout > 0 {
		opts = append(opts, notevault.WithPluginTimeout(e.config.PluginTimeout))
	}
	if e.config.ReconcileOnStart {
		opts = append(opts, notevault.WithReconcileOnStart(true))
	}
	if e.config.DisableMigrate {
		opts = append(opts, notevault.WithSkipMigrate())
	}

	// Append any pass-through ledger options.
	opts = append(opts, e.ledgerOpts...)

	return opts, nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("notevault: configuration is required but not found in config files; " +
				"ensure 'extensions.notevault' or 'notevault' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("notevault: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("ledger_id", e.config.LedgerID),
		forge.F("denomination", e.config.Denomination),
		forge.F("plugin_timeout", e.config.PluginTimeout),
		forge.F("reconcile_on_start", e.config.ReconcileOnStart),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.notevault", "notevault"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("notevault: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("notevault: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Denomination == "" {
		cfg.Denomination = defaults.Denomination
	}
	if cfg.CommitmentMarker == "" {
		cfg.CommitmentMarker = defaults.CommitmentMarker
	}
	if cfg.PluginTimeout == 0 {
		cfg.PluginTimeout = defaults.PluginTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps and
// programmatic bool flags override when true.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.ReconcileOnStart {
		yamlConfig.ReconcileOnStart = true
	}

	if yamlConfig.LedgerID == "" {
		yamlConfig.LedgerID = programmaticConfig.LedgerID
	}
	if yamlConfig.Denomination == "" {
		yamlConfig.Denomination = programmaticConfig.Denomination
	}
	if yamlConfig.CommitmentMarker == "" {
		yamlConfig.CommitmentMarker = programmaticConfig.CommitmentMarker
	}
	if yamlConfig.PluginTimeout == 0 {
		yamlConfig.PluginTimeout = programmaticConfig.PluginTimeout
	}

	return mergeWithDefaults(yamlConfig)
}
