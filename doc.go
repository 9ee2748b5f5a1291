// Package notevault provides a custodial note vault for Go applications.
//
// A vault accepts deposits of a single denomination and locks them in a
// custody pool. Every deposit produces a note: a sequentially numbered
// record holding the deposited amount and an opaque commitment string
// supplied by the caller. A note can be withdrawn exactly once, for its
// full amount, after which it is permanently marked spent.
//
// The vault maintains one accounting invariant at all times: the pool
// balance, the cached total locked and the sum of unspent note amounts are
// equal. Every mutating call validates first, stages the new note and
// vault state, then applies both at a single commit point. A rejected call
// leaves no trace.
//
// # Quick Start
//
//	l := notevault.New(memory.New())
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
//	noteID, err := l.Deposit(ctx, notevault.NewBucket(notevault.FromInt(100, "xrd")), "c1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	out, err := l.Withdraw(ctx, noteID, recipient)
//
// # Commitments
//
// Commitments are never interpreted. Deposit notifications carry a fixed
// marker instead of the commitment (see DefaultCommitmentMarker); the
// commitment package offers a MiMC helper for clients that want to derive
// commitment strings from secrets they keep off-system.
//
// # Errors
//
// Rejections fall into four kinds, reported by KindOf: invalid input,
// unknown reference, invalid state and invariant violation. The last one
// means the vault's own accounting is broken; it is logged at error level
// and reported to plugins implementing plugin.OnInvariantViolated.
//
// # Persistence
//
// Stores live under store/: memory, sqlite, postgres and mongo. The SQL and
// Mongo stores guard each commit with the note's spent latch and an
// optimistic version on the vault state row, so two processes sharing a
// database cannot both spend the same note. A commit that loses that race
// returns ErrConflict and reloads the state, so repeating the call stages
// from the current version. Ledgers sharing a store must also share a
// custody.Pool supplied with WithPool; the default in-memory pool only
// tracks the value moved through its own process.
//
// # Notifications
//
// DepositRecorded and WithdrawalRecorded events are delivered to plugins
// fire-and-forget. The publish/kafka and publish/nats packages forward
// them to a broker.
package notevault
