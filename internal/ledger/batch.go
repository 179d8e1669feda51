package ledger

import (
	"fmt"
	"sort"

	"github.com/voxgames/voxbank/internal/platform/errors"
)

// OpKind tags a batch operation.
type OpKind string

const (
	// OpCredit adds funds to an account.
	OpCredit OpKind = "credit"
	// OpDebit removes funds from an account.
	OpDebit OpKind = "debit"
)

// Op is a single ledger mutation inside a batch. Ops are produced by game
// state machines as pure data and applied only by the session coordinator.
type Op struct {
	Kind    OpKind
	Account AccountKey
	Amount  int64
}

// CreditOp builds a credit op.
func CreditOp(key AccountKey, amount int64) Op {
	return Op{Kind: OpCredit, Account: key, Amount: amount}
}

// DebitOp builds a debit op.
func DebitOp(key AccountKey, amount int64) Op {
	return Op{Kind: OpDebit, Account: key, Amount: amount}
}

// ApplyBatch applies every op or none of them. All involved accounts are
// locked in canonical order for the duration of the batch, the ops are
// validated in sequence against working balances, and only then committed.
// A failed validation (insufficient funds, bad amount) leaves every account
// untouched. The token deduplicates the batch as a whole.
func (s *Store) ApplyBatch(ops []Op, token string) error {
	if len(ops) == 0 {
		return nil
	}
	for _, op := range ops {
		if op.Amount <= 0 {
			return errors.New(errors.CodeInvalidAmount,
				fmt.Sprintf("batch %s amount must be positive, got %d", op.Kind, op.Amount))
		}
		if op.Kind != OpCredit && op.Kind != OpDebit {
			return errors.New(errors.CodeInvalidAmount, fmt.Sprintf("unknown batch op kind %q", op.Kind))
		}
	}
	if err := s.dedup.claim(token); err != nil {
		return err
	}

	// Collect the involved accounts, creating credit targets lazily.
	// Debit-only targets that do not exist yet simply read as zero.
	s.mu.Lock()
	involved := make(map[AccountKey]*account)
	for _, op := range ops {
		if _, ok := involved[op.Account]; ok {
			continue
		}
		acct, ok := s.accounts[op.Account]
		if !ok {
			acct = &account{}
			s.accounts[op.Account] = acct
		}
		involved[op.Account] = acct
	}
	s.mu.Unlock()

	keys := make([]AccountKey, 0, len(involved))
	for key := range involved {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	for _, key := range keys {
		involved[key].mu.Lock()
	}
	defer func() {
		for _, key := range keys {
			involved[key].mu.Unlock()
		}
	}()

	// Validate against working balances before touching anything.
	working := make(map[AccountKey]int64, len(involved))
	for key, acct := range involved {
		working[key] = acct.balance
	}
	for _, op := range ops {
		switch op.Kind {
		case OpCredit:
			working[op.Account] += op.Amount
		case OpDebit:
			if working[op.Account] < op.Amount {
				s.dedup.release(token)
				return insufficientFunds(op.Account, working[op.Account], op.Amount)
			}
			working[op.Account] -= op.Amount
		}
	}

	// Commit.
	for _, op := range ops {
		acct := involved[op.Account]
		switch op.Kind {
		case OpCredit:
			acct.balance += op.Amount
		case OpDebit:
			acct.balance -= op.Amount
		}
		acct.version++
	}
	s.dedup.commit(token)
	return nil
}
