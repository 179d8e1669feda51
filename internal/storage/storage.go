// Package storage defines the durable snapshot contract for the engine.
// A snapshot is the whole persisted world: account balances, the escrow
// journal for live sessions and the admin roster state. Snapshots are
// written atomically and the newest one wins.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no snapshot has been written yet.
var ErrNotFound = errors.New("storage: not found")

// AccountRecord is one persisted account balance.
type AccountRecord struct {
	UserID   string
	Currency string
	Balance  int64
	Version  uint64
}

// EscrowRecord is one journaled hold against an in-flight session. After
// a restart journaled holds are refunded, never resumed.
type EscrowRecord struct {
	ChatID    string
	Game      string
	SessionID string
	UserID    string
	Currency  string
	Amount    int64
}

// AdminState persists the rotating admin code and the claimed roster.
type AdminState struct {
	Code       string
	Privileged []string
}

// Snapshot is a consistent point-in-time copy of the engine's state.
type Snapshot struct {
	TakenAt  time.Time
	Accounts []AccountRecord
	Escrow   []EscrowRecord
	Admin    AdminState
}

// SnapshotStore persists and recovers engine snapshots.
type SnapshotStore interface {
	// WriteSnapshot atomically replaces the stored snapshot.
	WriteSnapshot(ctx context.Context, snap Snapshot) error
	// ReadSnapshot returns the stored snapshot, or ErrNotFound when
	// none has been written.
	ReadSnapshot(ctx context.Context) (Snapshot, error)
	// Close releases the underlying resources.
	Close() error
}
