package session

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/voxgames/voxbank/internal/currency"
	"github.com/voxgames/voxbank/internal/game"
	"github.com/voxgames/voxbank/internal/ledger"
	"github.com/voxgames/voxbank/internal/platform/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCoordinator(t *testing.T, clock *fakeClock, seed int64) *Coordinator {
	t.Helper()
	policy, err := currency.NewPolicy(currency.Defaults())
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	roster, err := currency.NewRoster()
	if err != nil {
		t.Fatalf("NewRoster: %v", err)
	}
	return NewCoordinator(Config{
		Ledger: ledger.NewStore(),
		Policy: policy,
		Roster: roster,
		Clock:  clock.Now,
		Seed:   func() (int64, error) { return seed, nil },
	})
}

func fund(t *testing.T, c *Coordinator, user string, amount int64) {
	t.Helper()
	key := ledger.AccountKey{UserID: user, Currency: currency.Voxcoin}
	if err := c.ledger.Credit(key, amount, ""); err != nil {
		t.Fatalf("fund %s: %v", user, err)
	}
}

func voxcoinBalance(c *Coordinator, user string) int64 {
	return c.ledger.Balance(ledger.AccountKey{UserID: user, Currency: currency.Voxcoin})
}

func TestConcurrentStartsYieldOneSession(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock(), 1)

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Submit("chat-1", game.TypeCasino,
				game.Action{Actor: "alice", Kind: game.ActionStart, Variant: "dice"}, 0)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.HasCode(err, errors.CodeSessionAlreadyActive):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != racers-1 {
		t.Fatalf("got %d winners and %d losers, want 1 and %d", won, lost, racers-1)
	}
}

func TestCasinoRoundEndToEnd(t *testing.T) {
	const seed = 7
	c := newTestCoordinator(t, newFakeClock(), seed)
	fund(t, c, "alice", 500)

	view, err := c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionStart, Variant: "dice"}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	view, err = c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionBet, Stake: 100}, view.Revision)
	if err != nil {
		t.Fatalf("bet: %v", err)
	}
	if got := voxcoinBalance(c, "alice"); got != 400 {
		t.Fatalf("balance after bet = %d, want 400 (stake escrowed)", got)
	}

	view, err = c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionSpin}, view.Revision)
	if err != nil {
		t.Fatalf("spin: %v", err)
	}
	if !view.Game.Terminal {
		t.Fatalf("round should be terminal after spin")
	}

	// The dice outcome is fixed by the injected seed.
	roll := 1 + rand.New(rand.NewSource(seed)).Intn(6)
	want := int64(400)
	if roll == 1 || roll == 6 {
		want += 300
	}
	if got := voxcoinBalance(c, "alice"); got != want {
		t.Fatalf("balance after spin = %d, want %d (rolled %d)", got, want, roll)
	}

	// Terminal transitions free the slot.
	if _, err := c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "bob", Kind: game.ActionStart, Variant: "slots"}, 0); err != nil {
		t.Fatalf("start after terminal: %v", err)
	}
}

func TestInsufficientFundsLeavesSessionUnchanged(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock(), 1)
	fund(t, c, "alice", 60)

	view, err := c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionStart, Variant: "dice"}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionBet, Stake: 100}, view.Revision)
	if !errors.HasCode(err, errors.CodeInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := voxcoinBalance(c, "alice"); got != 60 {
		t.Fatalf("balance = %d, want 60 untouched", got)
	}

	// The session is still at its pre-bet revision and accepts a retry.
	if _, err := c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionBet, Stake: 50}, view.Revision); err != nil {
		t.Fatalf("retry at same revision: %v", err)
	}
}

func TestStaleRevisionRejected(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock(), 1)
	fund(t, c, "alice", 500)
	fund(t, c, "bob", 500)

	view, err := c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionStart, Variant: "dice"}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionBet, Stake: 100}, view.Revision); err != nil {
		t.Fatalf("bet: %v", err)
	}

	// A second writer still holding the old revision loses.
	_, err = c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "bob", Kind: game.ActionBet, Stake: 100}, view.Revision)
	if !errors.HasCode(err, errors.CodeStaleRevision) {
		t.Fatalf("expected stale revision, got %v", err)
	}
}

func TestUnknownSessionAndGameType(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock(), 1)

	_, err := c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionBet, Stake: 100}, 0)
	if !errors.HasCode(err, errors.CodeSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
	_, err = c.Submit("chat-1", game.Type("chess"),
		game.Action{Actor: "alice", Kind: game.ActionStart}, 0)
	if !errors.HasCode(err, errors.CodeInvalidAction) {
		t.Fatalf("expected invalid action, got %v", err)
	}
}

func TestSlotsSpinQuota(t *testing.T) {
	clock := newFakeClock()
	c := newTestCoordinator(t, clock, 1)
	fund(t, c, "alice", 100000)

	spin := func() error {
		view, err := c.Submit("chat-1", game.TypeCasino,
			game.Action{Actor: "alice", Kind: game.ActionStart, Variant: "slots"}, 0)
		if err != nil {
			return err
		}
		view, err = c.Submit("chat-1", game.TypeCasino,
			game.Action{Actor: "alice", Kind: game.ActionBet, Stake: 50}, view.Revision)
		if err != nil {
			return err
		}
		_, err = c.Submit("chat-1", game.TypeCasino,
			game.Action{Actor: "alice", Kind: game.ActionSpin}, view.Revision)
		return err
	}

	for i := 0; i < SpinLimit; i++ {
		if err := spin(); err != nil {
			t.Fatalf("spin %d: %v", i+1, err)
		}
	}
	err := spin()
	if !errors.HasCode(err, errors.CodeInvalidAction) {
		t.Fatalf("sixth spin inside the window: expected invalid action, got %v", err)
	}

	// The window rolls: quota recovers once the oldest spins age out.
	clock.Advance(SpinWindow + time.Minute)
	c.Abandon(mustGet(t, c, "chat-1", game.TypeCasino))
	if err := spin(); err != nil {
		t.Fatalf("spin after window: %v", err)
	}
}

func mustGet(t *testing.T, c *Coordinator, chatID string, gameType game.Type) *Session {
	t.Helper()
	s, err := c.registry.Get(Key{ChatID: chatID, Game: gameType})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return s
}

func TestUNOWagerSettlement(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock(), 3)
	fund(t, c, "alice", 100)
	fund(t, c, "bob", 100)

	view, err := c.Submit("chat-1", game.TypeUNO,
		game.Action{Actor: "alice", Kind: game.ActionStart, Stake: 30}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	view, err = c.Submit("chat-1", game.TypeUNO,
		game.Action{Actor: "bob", Kind: game.ActionJoin}, view.Revision)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err = c.Submit("chat-1", game.TypeUNO,
		game.Action{Actor: "alice", Kind: game.ActionBegin}, view.Revision); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if got := voxcoinBalance(c, "alice"); got != 70 {
		t.Fatalf("alice balance = %d, want 70 after wager escrow", got)
	}
	if got := voxcoinBalance(c, "bob"); got != 70 {
		t.Fatalf("bob balance = %d, want 70 after wager escrow", got)
	}

	journal := c.EscrowJournal()
	if len(journal) != 2 {
		t.Fatalf("journal has %d entries, want 2: %+v", len(journal), journal)
	}
	for _, entry := range journal {
		if entry.Amount != 30 || entry.Currency != currency.Voxcoin {
			t.Fatalf("unexpected journal entry %+v", entry)
		}
	}
}

func TestAbandonRefundsEscrow(t *testing.T) {
	clock := newFakeClock()
	c := newTestCoordinator(t, clock, 1)
	fund(t, c, "alice", 500)

	view, err := c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionStart, Variant: "dice"}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionBet, Stake: 200}, view.Revision); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if got := voxcoinBalance(c, "alice"); got != 300 {
		t.Fatalf("balance = %d, want 300 while escrowed", got)
	}

	clock.Advance(25 * time.Hour)
	c.reclaimIdle(24 * time.Hour)

	if got := voxcoinBalance(c, "alice"); got != 500 {
		t.Fatalf("balance = %d, want 500 after abandon refund", got)
	}
	if _, err := c.registry.Get(Key{ChatID: "chat-1", Game: game.TypeCasino}); !errors.HasCode(err, errors.CodeSessionNotFound) {
		t.Fatalf("slot should be free after abandon, got %v", err)
	}
	// Fresh sessions are not reclaimed.
	if _, err := c.Submit("chat-1", game.TypeCasino,
		game.Action{Actor: "alice", Kind: game.ActionStart, Variant: "dice"}, 0); err != nil {
		t.Fatalf("restart: %v", err)
	}
	c.reclaimIdle(24 * time.Hour)
	if _, err := c.registry.Get(Key{ChatID: "chat-1", Game: game.TypeCasino}); err != nil {
		t.Fatalf("fresh session swept: %v", err)
	}
}

func TestEngineOperations(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock(), 1)
	fund(t, c, "alice", 500)

	t.Run("balance validates currency", func(t *testing.T) {
		got, err := c.Balance("alice", currency.Voxcoin)
		if err != nil || got != 500 {
			t.Fatalf("Balance = %d, %v; want 500, nil", got, err)
		}
		if _, err := c.Balance("alice", currency.ID("dogecoin")); !errors.HasCode(err, errors.CodeUnknownCurrency) {
			t.Fatalf("expected unknown currency, got %v", err)
		}
	})

	t.Run("transfer honors policy", func(t *testing.T) {
		if err := c.Transfer("alice", "bob", currency.Voxcoin, 100, ""); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		if got := voxcoinBalance(c, "bob"); got != 100 {
			t.Fatalf("bob = %d, want 100", got)
		}
		err := c.Transfer("alice", "bob", currency.Voxcent, 1, "")
		if !errors.HasCode(err, errors.CodeTransferDisallowed) {
			t.Fatalf("expected transfer disallowed, got %v", err)
		}
	})

	t.Run("activity credit follows earn policy", func(t *testing.T) {
		earned, err := c.CreditOnActivity("carol", 25)
		if err != nil || earned != 1 {
			t.Fatalf("CreditOnActivity = %d, %v; want 1, nil", earned, err)
		}
		earned, err = c.CreditOnActivity("carol", 5)
		if err != nil || earned != 0 {
			t.Fatalf("short message earned %d, %v; want 0, nil", earned, err)
		}
		if got := c.ledger.Balance(ledger.AccountKey{UserID: "carol", Currency: currency.Voxcent}); got != 1 {
			t.Fatalf("carol voxcent = %d, want 1", got)
		}
	})

	t.Run("admin grant gated and clamped", func(t *testing.T) {
		_, err := c.AdminGrant(currency.TVCoin, "mallory", "bob", 100)
		if !errors.HasCode(err, errors.CodeGrantDisallowed) {
			t.Fatalf("expected grant disallowed, got %v", err)
		}

		if _, err := c.ClaimAdminCode("root", c.roster.Code()); err != nil {
			t.Fatalf("claim: %v", err)
		}
		balance, err := c.AdminGrant(currency.TVCoin, "root", "bob", 100)
		if err != nil || balance != 100 {
			t.Fatalf("grant = %d, %v; want 100, nil", balance, err)
		}
		// Negative grants clamp at zero.
		balance, err = c.AdminGrant(currency.TVCoin, "root", "bob", -500)
		if err != nil || balance != 0 {
			t.Fatalf("negative grant = %d, %v; want 0, nil", balance, err)
		}
	})

	t.Run("admin code rotates on claim", func(t *testing.T) {
		before := c.roster.Code()
		next, err := c.ClaimAdminCode("dave", before)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if next == before {
			t.Fatalf("code did not rotate")
		}
		if _, err := c.ClaimAdminCode("eve", before); !errors.HasCode(err, errors.CodeInvalidCode) {
			t.Fatalf("stale code: expected invalid code, got %v", err)
		}
	})

	t.Run("top balances", func(t *testing.T) {
		top, err := c.TopBalances(currency.Voxcoin, 1)
		if err != nil {
			t.Fatalf("TopBalances: %v", err)
		}
		if len(top) != 1 || top[0].Key.UserID != "alice" {
			t.Fatalf("unexpected leaderboard %+v", top)
		}
	})
}

func TestParallelSessionsDoNotInterfere(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock(), 1)
	const chats = 8
	for i := 0; i < chats; i++ {
		fund(t, c, "alice", 1000)
	}

	var wg sync.WaitGroup
	failures := make(chan error, chats)
	for i := 0; i < chats; i++ {
		chat := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			view, err := c.Submit(chat, game.TypeCasino,
				game.Action{Actor: "alice", Kind: game.ActionStart, Variant: "dice"}, 0)
			if err == nil {
				view, err = c.Submit(chat, game.TypeCasino,
					game.Action{Actor: "alice", Kind: game.ActionBet, Stake: 100}, view.Revision)
			}
			if err == nil {
				_, err = c.Submit(chat, game.TypeCasino,
					game.Action{Actor: "alice", Kind: game.ActionSpin}, view.Revision)
			}
			failures <- err
		}()
	}
	wg.Wait()
	close(failures)
	for err := range failures {
		if err != nil {
			t.Fatalf("parallel session: %v", err)
		}
	}
}
