// Package ledger holds per-user, per-currency balances and serializes all
// mutations at account granularity.
//
// Concurrency model: the store never takes a global lock across unrelated
// accounts. A short registry lock guards the account map; every balance
// mutation then happens under that account's own mutex, so operations on
// disjoint accounts proceed in parallel while operations on the same
// account are serialized. Multi-account operations (Transfer, ApplyBatch)
// lock the involved accounts in canonical key order to stay deadlock-free.
//
// Balances are non-negative integers. Accounts are created lazily on first
// credit and never deleted, only zeroed. Every successful mutation bumps
// the account's version counter, which callers use for optimistic conflict
// detection across multi-step transactions.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voxgames/voxbank/internal/currency"
	"github.com/voxgames/voxbank/internal/platform/errors"
)

// AccountKey identifies an account by user and currency.
type AccountKey struct {
	UserID   string
	Currency currency.ID
}

func (k AccountKey) String() string {
	return k.UserID + "/" + string(k.Currency)
}

// less orders keys canonically for deadlock-free multi-account locking.
func (k AccountKey) less(other AccountKey) bool {
	if k.UserID != other.UserID {
		return k.UserID < other.UserID
	}
	return k.Currency < other.Currency
}

// Entry is a point-in-time copy of one account.
type Entry struct {
	Key     AccountKey
	Balance int64
	Version uint64
}

type account struct {
	mu      sync.Mutex
	balance int64
	version uint64
}

const (
	defaultDedupLimit = 4096
	defaultDedupTTL   = 10 * time.Minute
)

// Store is the in-memory ledger.
type Store struct {
	mu       sync.Mutex
	accounts map[AccountKey]*account

	dedup *opWindow
	clock func() time.Time
}

// NewStore creates an empty ledger store.
func NewStore() *Store {
	clock := time.Now
	return &Store{
		accounts: make(map[AccountKey]*account),
		dedup:    newOpWindow(defaultDedupLimit, defaultDedupTTL, clock),
		clock:    clock,
	}
}

// NewOpToken generates a fresh operation token for callers that have none.
func NewOpToken() string {
	return uuid.NewString()
}

// get returns the account for key, creating it when create is set.
func (s *Store) get(key AccountKey, create bool) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[key]
	if !ok && create {
		acct = &account{}
		s.accounts[key] = acct
	}
	return acct
}

// Balance returns the current balance for key. Missing accounts read as zero.
func (s *Store) Balance(key AccountKey) int64 {
	acct := s.get(key, false)
	if acct == nil {
		return 0
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.balance
}

// Version returns the account's mutation counter. Missing accounts read as zero.
func (s *Store) Version(key AccountKey) uint64 {
	acct := s.get(key, false)
	if acct == nil {
		return 0
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.version
}

// Credit adds amount to the account, creating it if needed. The operation
// token deduplicates transport-layer retries; pass an empty token to skip
// deduplication.
func (s *Store) Credit(key AccountKey, amount int64, token string) error {
	if amount <= 0 {
		return errors.New(errors.CodeInvalidAmount, fmt.Sprintf("credit amount must be positive, got %d", amount))
	}
	if err := s.dedup.claim(token); err != nil {
		return err
	}

	acct := s.get(key, true)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	acct.balance += amount
	acct.version++
	s.dedup.commit(token)
	return nil
}

// Debit removes amount from the account. Fails with InsufficientFunds when
// the balance cannot cover it, leaving the account unchanged.
func (s *Store) Debit(key AccountKey, amount int64, token string) error {
	if amount <= 0 {
		return errors.New(errors.CodeInvalidAmount, fmt.Sprintf("debit amount must be positive, got %d", amount))
	}
	if err := s.dedup.claim(token); err != nil {
		return err
	}

	acct := s.get(key, false)
	if acct == nil {
		s.dedup.release(token)
		return insufficientFunds(key, 0, amount)
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if acct.balance < amount {
		s.dedup.release(token)
		return insufficientFunds(key, acct.balance, amount)
	}
	acct.balance -= amount
	acct.version++
	s.dedup.commit(token)
	return nil
}

// DeductUpTo removes up to amount from the account, clamping at zero, and
// returns how much was actually deducted.
func (s *Store) DeductUpTo(key AccountKey, amount int64, token string) (int64, error) {
	if amount <= 0 {
		return 0, errors.New(errors.CodeInvalidAmount, fmt.Sprintf("deduct amount must be positive, got %d", amount))
	}
	if err := s.dedup.claim(token); err != nil {
		return 0, err
	}

	acct := s.get(key, false)
	if acct == nil {
		s.dedup.commit(token)
		return 0, nil
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	deducted := amount
	if acct.balance < deducted {
		deducted = acct.balance
	}
	if deducted > 0 {
		acct.balance -= deducted
		acct.version++
	}
	s.dedup.commit(token)
	return deducted, nil
}

// Transfer atomically moves amount between two accounts of the same
// currency. On InsufficientFunds both accounts are left unchanged.
func (s *Store) Transfer(from, to AccountKey, amount int64, token string) error {
	if amount <= 0 {
		return errors.New(errors.CodeInvalidAmount, fmt.Sprintf("transfer amount must be positive, got %d", amount))
	}
	if from.Currency != to.Currency {
		return errors.New(errors.CodeInvalidAmount, "transfer requires matching currencies")
	}
	if from == to {
		return errors.New(errors.CodeInvalidAmount, "transfer requires distinct accounts")
	}
	if err := s.dedup.claim(token); err != nil {
		return err
	}

	src := s.get(from, true)
	dst := s.get(to, true)

	first, second := src, dst
	if to.less(from) {
		first, second = dst, src
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if src.balance < amount {
		s.dedup.release(token)
		return insufficientFunds(from, src.balance, amount)
	}
	src.balance -= amount
	src.version++
	dst.balance += amount
	dst.version++
	s.dedup.commit(token)
	return nil
}

// Snapshot returns a copy of every account. Each entry is internally
// consistent; the set as a whole is a near-point-in-time view suitable for
// periodic persistence.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	keys := make([]AccountKey, 0, len(s.accounts))
	accts := make([]*account, 0, len(s.accounts))
	for key, acct := range s.accounts {
		keys = append(keys, key)
		accts = append(accts, acct)
	}
	s.mu.Unlock()

	entries := make([]Entry, len(keys))
	for i, acct := range accts {
		acct.mu.Lock()
		entries[i] = Entry{Key: keys[i], Balance: acct.balance, Version: acct.version}
		acct.mu.Unlock()
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key.less(entries[j].Key) })
	return entries
}

// Restore loads persisted accounts. Intended for process startup, before
// the store is shared between goroutines.
func (s *Store) Restore(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.accounts[e.Key] = &account{balance: e.Balance, version: e.Version}
	}
}

// TopBalances returns up to n accounts of the given currency ordered by
// balance, highest first. Ties break by user id.
func (s *Store) TopBalances(cur currency.ID, n int) []Entry {
	if n <= 0 {
		return nil
	}
	all := s.Snapshot()
	filtered := all[:0]
	for _, e := range all {
		if e.Key.Currency == cur {
			filtered = append(filtered, e)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Balance != filtered[j].Balance {
			return filtered[i].Balance > filtered[j].Balance
		}
		return filtered[i].Key.UserID < filtered[j].Key.UserID
	})
	if len(filtered) > n {
		filtered = filtered[:n]
	}
	out := make([]Entry, len(filtered))
	copy(out, filtered)
	return out
}

func insufficientFunds(key AccountKey, balance, needed int64) error {
	return errors.WithMetadata(errors.CodeInsufficientFunds,
		fmt.Sprintf("account %s has %d, needs %d", key, balance, needed),
		map[string]string{
			"account": key.String(),
			"balance": fmt.Sprintf("%d", balance),
			"needed":  fmt.Sprintf("%d", needed),
		})
}
