// Package audithook bridges vault events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/xraph/notevault/event"
	"github.com/xraph/notevault/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnInit               = (*Extension)(nil)
	_ plugin.OnShutdown           = (*Extension)(nil)
	_ plugin.OnDepositRecorded    = (*Extension)(nil)
	_ plugin.OnWithdrawalRecorded = (*Extension)(nil)
	_ plugin.OnCallRejected       = (*Extension)(nil)
	_ plugin.OnInvariantViolated  = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a backend-neutral audit record.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension records every vault event as an audit entry.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit implements plugin.OnInit.
func (e *Extension) OnInit(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionLedgerStarted, SeverityInfo, OutcomeSuccess,
		ResourceLedger, "", CategorySystem, "",
	)
}

// OnShutdown implements plugin.OnShutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionLedgerStopped, SeverityInfo, OutcomeSuccess,
		ResourceLedger, "", CategorySystem, "",
	)
}

// ──────────────────────────────────────────────────
// Vault hooks
// ──────────────────────────────────────────────────

// OnDepositRecorded implements plugin.OnDepositRecorded.
func (e *Extension) OnDepositRecorded(ctx context.Context, evt *event.DepositRecorded) error {
	return e.record(ctx, ActionDepositRecorded, SeverityInfo, OutcomeSuccess,
		ResourceNote, noteResource(evt.NoteID), CategoryCustody, "",
		"ledger_id", evt.LedgerID.String(),
		"note_id", evt.NoteID,
		"amount", evt.Amount.String(),
		"commitment", evt.CommitmentMarker,
	)
}

// OnWithdrawalRecorded implements plugin.OnWithdrawalRecorded.
func (e *Extension) OnWithdrawalRecorded(ctx context.Context, evt *event.WithdrawalRecorded) error {
	return e.record(ctx, ActionWithdrawalRecorded, SeverityInfo, OutcomeSuccess,
		ResourceNote, noteResource(evt.NoteID), CategoryCustody, "",
		"ledger_id", evt.LedgerID.String(),
		"note_id", evt.NoteID,
		"amount", evt.Amount.String(),
		"recipient", evt.Recipient.String(),
	)
}

// OnCallRejected implements plugin.OnCallRejected.
func (e *Extension) OnCallRejected(ctx context.Context, evt *event.CallRejected) error {
	resourceID := ""
	if evt.NoteID != nil {
		resourceID = noteResource(*evt.NoteID)
	}
	return e.record(ctx, ActionCallRejected, SeverityWarning, OutcomeFailure,
		ResourceNote, resourceID, CategoryCustody, evt.Reason,
		"ledger_id", evt.LedgerID.String(),
		"operation", evt.Operation,
		"error_kind", evt.ErrorKind,
	)
}

// OnInvariantViolated implements plugin.OnInvariantViolated.
func (e *Extension) OnInvariantViolated(ctx context.Context, evt *event.InvariantViolated) error {
	return e.record(ctx, ActionInvariantViolated, SeverityCritical, OutcomeFailure,
		ResourceLedger, evt.LedgerID.String(), CategoryIntegrity, evt.Detail,
		"operation", evt.Operation,
		"total_locked", evt.TotalLocked.String(),
		"observed", evt.Observed.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func noteResource(noteID uint64) string {
	return strconv.FormatUint(noteID, 10)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
