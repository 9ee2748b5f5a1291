// Package memory provides an in-process Store. All commits are applied
// under a single lock, so a deposit or withdrawal is either fully visible
// or not at all.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/notevault"
	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/note"
	"github.com/xraph/notevault/state"
	"github.com/xraph/notevault/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store keeps vault states and notes in maps keyed by ledger ID.
type Store struct {
	mu sync.RWMutex

	states map[string]*state.State
	notes  map[string]map[uint64]*note.Note

	closed bool
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		states: make(map[string]*state.State),
		notes:  make(map[string]map[uint64]*note.Note),
	}
}

// State methods

func (s *Store) CreateState(_ context.Context, st *state.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return notevault.ErrStoreClosed
	}
	key := st.LedgerID.String()
	if _, exists := s.states[key]; exists {
		return fmt.Errorf("memory: state %s: %w", key, notevault.ErrConflict)
	}
	s.states[key] = st.Clone()
	s.notes[key] = make(map[uint64]*note.Note)
	return nil
}

func (s *Store) GetState(_ context.Context, ledgerID id.LedgerID) (*state.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, notevault.ErrStoreClosed
	}
	if st, ok := s.states[ledgerID.String()]; ok {
		return st.Clone(), nil
	}
	return nil, notevault.ErrStateNotFound
}

// Note methods

func (s *Store) GetNote(_ context.Context, ledgerID id.LedgerID, noteID uint64) (*note.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, notevault.ErrStoreClosed
	}
	if n, ok := s.notes[ledgerID.String()][noteID]; ok {
		return n.Clone(), nil
	}
	return nil, notevault.ErrNoteNotFound
}

func (s *Store) ListNotes(_ context.Context, ledgerID id.LedgerID, opts note.ListOpts) ([]*note.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, notevault.ErrStoreClosed
	}

	result := make([]*note.Note, 0)
	for _, n := range s.notes[ledgerID.String()] {
		if opts.Status == "" || n.Status() == opts.Status {
			result = append(result, n.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	// Apply limit/offset
	start := max(opts.Offset, 0)
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit <= 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

// CountUnspent walks every note of the ledger.
func (s *Store) CountUnspent(_ context.Context, ledgerID id.LedgerID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, notevault.ErrStoreClosed
	}

	var count uint64
	for _, n := range s.notes[ledgerID.String()] {
		if !n.Spent {
			count++
		}
	}
	return count, nil
}

// Commit methods

func (s *Store) CommitDeposit(_ context.Context, n *note.Note, next *state.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.checkVersion(next)
	if err != nil {
		return err
	}
	if _, exists := s.notes[key][n.ID]; exists {
		return fmt.Errorf("memory: note %d: %w", n.ID, notevault.ErrConflict)
	}

	s.notes[key][n.ID] = n.Clone()
	s.states[key] = next.Clone()
	return nil
}

func (s *Store) CommitWithdrawal(_ context.Context, n *note.Note, next *state.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.checkVersion(next)
	if err != nil {
		return err
	}
	current, exists := s.notes[key][n.ID]
	if !exists {
		return notevault.ErrNoteNotFound
	}
	if current.Spent {
		return fmt.Errorf("memory: note %d: %w", n.ID, notevault.ErrConflict)
	}

	s.notes[key][n.ID] = n.Clone()
	s.states[key] = next.Clone()
	return nil
}

// checkVersion verifies the persisted state is the one next was staged from.
// Callers hold s.mu.
func (s *Store) checkVersion(next *state.State) (string, error) {
	if s.closed {
		return "", notevault.ErrStoreClosed
	}
	key := next.LedgerID.String()
	current, ok := s.states[key]
	if !ok {
		return "", notevault.ErrStateNotFound
	}
	if current.Version != next.PrevVersion() {
		return "", fmt.Errorf("memory: state version %d, staged from %d: %w",
			current.Version, next.PrevVersion(), notevault.ErrConflict)
	}
	return key, nil
}

// Core methods

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return notevault.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
