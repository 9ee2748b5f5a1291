package audithook

// Action constants for audit events.
const (
	// Vault actions
	ActionDepositRecorded    = "deposit.recorded"
	ActionWithdrawalRecorded = "withdrawal.recorded"
	ActionCallRejected       = "call.rejected"
	ActionInvariantViolated  = "invariant.violated"

	// Lifecycle actions
	ActionLedgerStarted = "ledger.started"
	ActionLedgerStopped = "ledger.stopped"
)

// Resource constants for audit events.
const (
	ResourceNote   = "note"
	ResourceLedger = "ledger"
)

// Category constants for audit events.
const (
	CategoryCustody   = "custody"
	CategoryIntegrity = "integrity"
	CategorySystem    = "system"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
