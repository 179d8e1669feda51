package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/voxgames/voxbank/internal/currency"
	domainerrors "github.com/voxgames/voxbank/internal/platform/errors"
)

func key(user string, cur currency.ID) AccountKey {
	return AccountKey{UserID: user, Currency: cur}
}

func TestCreditAndBalance(t *testing.T) {
	store := NewStore()
	alice := key("alice", currency.Voxcent)

	if err := store.Credit(alice, 10, ""); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if got := store.Balance(alice); got != 10 {
		t.Fatalf("expected balance 10, got %d", got)
	}
	if got := store.Version(alice); got != 1 {
		t.Fatalf("expected version 1, got %d", got)
	}
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	store := NewStore()
	alice := key("alice", currency.Voxcent)

	for _, amount := range []int64{0, -5} {
		err := store.Credit(alice, amount, "")
		if domainerrors.CodeOf(err) != domainerrors.CodeInvalidAmount {
			t.Fatalf("expected INVALID_AMOUNT for %d, got %v", amount, err)
		}
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	store := NewStore()
	alice := key("alice", currency.Voxcent)

	if err := store.Credit(alice, 30, ""); err != nil {
		t.Fatalf("credit: %v", err)
	}

	err := store.Debit(alice, 50, "")
	if domainerrors.CodeOf(err) != domainerrors.CodeInsufficientFunds {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}
	if got := store.Balance(alice); got != 30 {
		t.Fatalf("expected balance unchanged at 30, got %d", got)
	}
	if got := store.Version(alice); got != 1 {
		t.Fatalf("expected version unchanged at 1, got %d", got)
	}
}

func TestDebitMissingAccount(t *testing.T) {
	store := NewStore()

	err := store.Debit(key("ghost", currency.Voxcent), 1, "")
	if domainerrors.CodeOf(err) != domainerrors.CodeInsufficientFunds {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}
}

func TestTransferAtomic(t *testing.T) {
	store := NewStore()
	alice := key("alice", currency.Voxcoin)
	bob := key("bob", currency.Voxcoin)

	if err := store.Credit(alice, 100, ""); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := store.Transfer(alice, bob, 40, ""); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := store.Balance(alice); got != 60 {
		t.Fatalf("expected alice at 60, got %d", got)
	}
	if got := store.Balance(bob); got != 40 {
		t.Fatalf("expected bob at 40, got %d", got)
	}

	err := store.Transfer(alice, bob, 1000, "")
	if domainerrors.CodeOf(err) != domainerrors.CodeInsufficientFunds {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}
	if store.Balance(alice) != 60 || store.Balance(bob) != 40 {
		t.Fatal("expected both balances unchanged after failed transfer")
	}
}

func TestTransferValidation(t *testing.T) {
	store := NewStore()
	alice := key("alice", currency.Voxcoin)

	tests := []struct {
		name   string
		from   AccountKey
		to     AccountKey
		amount int64
	}{
		{"mismatched currencies", alice, key("bob", currency.Voxcent), 10},
		{"same account", alice, alice, 10},
		{"zero amount", alice, key("bob", currency.Voxcoin), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Transfer(tt.from, tt.to, tt.amount, "")
			if domainerrors.CodeOf(err) != domainerrors.CodeInvalidAmount {
				t.Fatalf("expected INVALID_AMOUNT, got %v", err)
			}
		})
	}
}

// Concurrent credits and debits on one account must serialize to the exact
// serial sum, and the balance must never go negative.
func TestConcurrentMutationsSerialize(t *testing.T) {
	store := NewStore()
	alice := key("alice", currency.Voxcent)

	const workers = 16
	const perWorker = 100

	if err := store.Credit(alice, workers*perWorker, ""); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := store.Credit(alice, 2, ""); err != nil {
					t.Errorf("credit: %v", err)
					return
				}
				if err := store.Debit(alice, 1, ""); err != nil {
					t.Errorf("debit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	want := int64(workers*perWorker) + int64(workers*perWorker)
	if got := store.Balance(alice); got != want {
		t.Fatalf("expected balance %d, got %d", want, got)
	}
	if got := store.Version(alice); got != uint64(1+2*workers*perWorker) {
		t.Fatalf("expected version %d, got %d", 1+2*workers*perWorker, got)
	}
}

// Debits racing over a balance that cannot cover them all must never drive
// the account negative.
func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	store := NewStore()
	alice := key("alice", currency.Voxcent)

	if err := store.Credit(alice, 10, ""); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var wg sync.WaitGroup
	var successes sync.Map
	for w := 0; w < 50; w++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := store.Debit(alice, 1, ""); err == nil {
				successes.Store(n, true)
			}
		}(w)
	}
	wg.Wait()

	count := 0
	successes.Range(func(_, _ any) bool { count++; return true })
	if count != 10 {
		t.Fatalf("expected exactly 10 successful debits, got %d", count)
	}
	if got := store.Balance(alice); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}
}

func TestDeductUpToClampsAtZero(t *testing.T) {
	store := NewStore()
	alice := key("alice", currency.Voxcent)

	if err := store.Credit(alice, 7, ""); err != nil {
		t.Fatalf("credit: %v", err)
	}

	deducted, err := store.DeductUpTo(alice, 10, "")
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if deducted != 7 {
		t.Fatalf("expected 7 deducted, got %d", deducted)
	}
	if got := store.Balance(alice); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}

	deducted, err = store.DeductUpTo(key("ghost", currency.Voxcent), 10, "")
	if err != nil {
		t.Fatalf("deduct missing: %v", err)
	}
	if deducted != 0 {
		t.Fatalf("expected 0 deducted from missing account, got %d", deducted)
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	store := NewStore()
	if err := store.Credit(key("alice", currency.Voxcent), 5, ""); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := store.Credit(key("bob", currency.Voxcoin), 9, ""); err != nil {
		t.Fatalf("credit: %v", err)
	}

	entries := store.Snapshot()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	restored := NewStore()
	restored.Restore(entries)
	if got := restored.Balance(key("alice", currency.Voxcent)); got != 5 {
		t.Fatalf("expected restored balance 5, got %d", got)
	}
	if got := restored.Version(key("alice", currency.Voxcent)); got != 1 {
		t.Fatalf("expected restored version 1, got %d", got)
	}
}

func TestTopBalances(t *testing.T) {
	store := NewStore()
	for user, amount := range map[string]int64{"alice": 30, "bob": 50, "carol": 30, "dave": 10} {
		if err := store.Credit(key(user, currency.Voxcent), amount, ""); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	if err := store.Credit(key("eve", currency.Voxcoin), 999, ""); err != nil {
		t.Fatalf("credit: %v", err)
	}

	top := store.TopBalances(currency.Voxcent, 3)
	if len(top) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(top))
	}
	if top[0].Key.UserID != "bob" {
		t.Fatalf("expected bob first, got %s", top[0].Key.UserID)
	}
	// Tie between alice and carol breaks by user id.
	if top[1].Key.UserID != "alice" || top[2].Key.UserID != "carol" {
		t.Fatalf("expected alice then carol, got %s then %s", top[1].Key.UserID, top[2].Key.UserID)
	}
}

func TestOperationTokenIdempotence(t *testing.T) {
	store := NewStore()
	alice := key("alice", currency.Voxcent)
	token := NewOpToken()

	if err := store.Credit(alice, 10, token); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := store.Credit(alice, 10, token)
	if domainerrors.CodeOf(err) != domainerrors.CodeDuplicateOperation {
		t.Fatalf("expected DUPLICATE_OPERATION, got %v", err)
	}
	if got := store.Balance(alice); got != 10 {
		t.Fatalf("expected balance 10 after replay, got %d", got)
	}
}

func TestFailedOperationReleasesToken(t *testing.T) {
	store := NewStore()
	alice := key("alice", currency.Voxcent)
	token := NewOpToken()

	err := store.Debit(alice, 10, token)
	if domainerrors.CodeOf(err) != domainerrors.CodeInsufficientFunds {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}

	// The failed debit must not burn the token for a later valid retry.
	if err := store.Credit(alice, 50, ""); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := store.Debit(alice, 10, token); err != nil {
		t.Fatalf("retry debit: %v", err)
	}
	if got := store.Balance(alice); got != 40 {
		t.Fatalf("expected balance 40, got %d", got)
	}
}

func TestDedupWindowExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	window := newOpWindow(16, time.Minute, clock)

	if err := window.claim("tok"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	window.commit("tok")
	if err := window.claim("tok"); err == nil {
		t.Fatal("expected duplicate claim to fail")
	}

	now = now.Add(2 * time.Minute)
	if err := window.claim("tok"); err != nil {
		t.Fatalf("expected expired token to be claimable again: %v", err)
	}
}

func TestDedupWindowCountBound(t *testing.T) {
	now := time.Unix(1000, 0)
	window := newOpWindow(3, time.Hour, func() time.Time { return now })

	for _, token := range []string{"a", "b", "c"} {
		now = now.Add(time.Second)
		if err := window.claim(token); err != nil {
			t.Fatalf("claim %s: %v", token, err)
		}
		window.commit(token)
	}

	// Inserting a fourth token evicts the oldest.
	now = now.Add(time.Second)
	if err := window.claim("d"); err != nil {
		t.Fatalf("claim d: %v", err)
	}
	window.commit("d")
	if err := window.claim("a"); err != nil {
		t.Fatalf("expected oldest token to be evicted and reclaimable: %v", err)
	}
}

// A retry that lands while the first attempt with the same token is
// still in flight must not be told the operation applied: it waits for
// the outcome and only reports a duplicate when the first attempt
// committed.
func TestInFlightRetryAppliesAfterFailedAttempt(t *testing.T) {
	now := time.Unix(1000, 0)
	window := newOpWindow(16, time.Minute, func() time.Time { return now })

	if err := window.claim("tok"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	result := make(chan error, 1)
	go func() { result <- window.claim("tok") }()

	select {
	case err := <-result:
		t.Fatalf("retry settled while the first attempt was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// The first attempt fails; the retry must be allowed to apply.
	window.release("tok")
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("retry after failed attempt: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not settle after release")
	}
}

func TestInFlightRetryDuplicateAfterCommit(t *testing.T) {
	now := time.Unix(1000, 0)
	window := newOpWindow(16, time.Minute, func() time.Time { return now })

	if err := window.claim("tok"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	result := make(chan error, 1)
	go func() { result <- window.claim("tok") }()

	select {
	case err := <-result:
		t.Fatalf("retry settled while the first attempt was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	window.commit("tok")
	select {
	case err := <-result:
		if domainerrors.CodeOf(err) != domainerrors.CodeDuplicateOperation {
			t.Fatalf("expected DUPLICATE_OPERATION after commit, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not settle after commit")
	}
}
