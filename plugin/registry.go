package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/notevault/event"
)

// DefaultTimeout bounds how long a single hook may run.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onDepositRecorded    []OnDepositRecorded
	onWithdrawalRecorded []OnWithdrawalRecorded
	onCallRejected       []OnCallRejected
	onInvariantViolated  []OnInvariantViolated
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout. Non-positive values are ignored.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnDepositRecorded); ok {
		r.onDepositRecorded = append(r.onDepositRecorded, v)
	}
	if v, ok := p.(OnWithdrawalRecorded); ok {
		r.onWithdrawalRecorded = append(r.onWithdrawalRecorded, v)
	}
	if v, ok := p.(OnCallRejected); ok {
		r.onCallRejected = append(r.onCallRejected, v)
	}
	if v, ok := p.(OnInvariantViolated); ok {
		r.onInvariantViolated = append(r.onInvariantViolated, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

// implementedInterfaces returns the hook names p implements.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnDepositRecorded)(nil)).Elem(), "OnDepositRecorded")
	checkInterface(reflect.TypeOf((*OnWithdrawalRecorded)(nil)).Elem(), "OnWithdrawalRecorded")
	checkInterface(reflect.TypeOf((*OnCallRejected)(nil)).Elem(), "OnCallRejected")
	checkInterface(reflect.TypeOf((*OnInvariantViolated)(nil)).Elem(), "OnInvariantViolated")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInit", func() error {
			return p.OnInit(ctx, l)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnShutdown", func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitDepositRecorded calls OnDepositRecorded for all plugins that implement it.
func (r *Registry) EmitDepositRecorded(ctx context.Context, e *event.DepositRecorded) {
	r.mu.RLock()
	plugins := r.onDepositRecorded
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnDepositRecorded", func() error {
			return p.OnDepositRecorded(ctx, e)
		})
	}
}

// EmitWithdrawalRecorded calls OnWithdrawalRecorded for all plugins that implement it.
func (r *Registry) EmitWithdrawalRecorded(ctx context.Context, e *event.WithdrawalRecorded) {
	r.mu.RLock()
	plugins := r.onWithdrawalRecorded
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnWithdrawalRecorded", func() error {
			return p.OnWithdrawalRecorded(ctx, e)
		})
	}
}

// EmitCallRejected calls OnCallRejected for all plugins that implement it.
func (r *Registry) EmitCallRejected(ctx context.Context, e *event.CallRejected) {
	r.mu.RLock()
	plugins := r.onCallRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnCallRejected", func() error {
			return p.OnCallRejected(ctx, e)
		})
	}
}

// EmitInvariantViolated calls OnInvariantViolated for all plugins that implement it.
func (r *Registry) EmitInvariantViolated(ctx context.Context, e *event.InvariantViolated) {
	r.mu.RLock()
	plugins := r.onInvariantViolated
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInvariantViolated", func() error {
			return p.OnInvariantViolated(ctx, e)
		})
	}
}

// dispatch runs one hook and logs its failure.
func (r *Registry) dispatch(ctx context.Context, pluginName, hook string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins must never block a vault call.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
