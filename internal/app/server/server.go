// Package server wires the engine runtime: ledger, sessions, snapshot
// storage and the HTTP boundary, plus the background loops that keep
// them healthy.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxgames/voxbank/internal/currency"
	"github.com/voxgames/voxbank/internal/ledger"
	"github.com/voxgames/voxbank/internal/platform/config"
	"github.com/voxgames/voxbank/internal/session"
	"github.com/voxgames/voxbank/internal/storage"
	"github.com/voxgames/voxbank/internal/storage/sqlite"
	transporthttp "github.com/voxgames/voxbank/internal/transport/http"
)

// Server hosts the engine and its storage lifecycle.
type Server struct {
	cfg      config.Server
	listener net.Listener
	httpSrv  *http.Server

	store       storage.SnapshotStore
	ledger      *ledger.Store
	roster      *currency.Roster
	coordinator *session.Coordinator
	logger      *log.Logger
}

// New creates a configured server: it opens the snapshot store, restores
// persisted state, refunds journaled escrow and binds the listen address.
func New(cfg config.Server) (*Server, error) {
	logger := log.Default()

	store, err := sqlite.Open(cfg.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	ledgerStore := ledger.NewStore()
	roster, err := restoreState(ledgerStore, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	policy, err := currency.NewPolicy(currency.Defaults())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build currency policy: %w", err)
	}

	coordinator := session.NewCoordinator(session.Config{
		Ledger: ledgerStore,
		Policy: policy,
		Roster: roster,
		Logger: logger,
	})

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	return &Server{
		cfg:      cfg,
		listener: listener,
		httpSrv: &http.Server{
			Handler:           transporthttp.NewHandler(coordinator, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:       store,
		ledger:      ledgerStore,
		roster:      roster,
		coordinator: coordinator,
		logger:      logger,
	}, nil
}

// restoreState loads the latest snapshot into the ledger and rebuilds
// the admin roster. Journaled escrow is refunded: sessions that were
// in flight at shutdown are abandoned, never resumed.
func restoreState(ledgerStore *ledger.Store, store storage.SnapshotStore, logger *log.Logger) (*currency.Roster, error) {
	snap, err := store.ReadSnapshot(context.Background())
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return currency.NewRoster()
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	entries := make([]ledger.Entry, 0, len(snap.Accounts))
	for _, account := range snap.Accounts {
		entries = append(entries, ledger.Entry{
			Key: ledger.AccountKey{
				UserID:   account.UserID,
				Currency: currency.ID(account.Currency),
			},
			Balance: account.Balance,
			Version: account.Version,
		})
	}
	ledgerStore.Restore(entries)

	for _, hold := range snap.Escrow {
		key := ledger.AccountKey{UserID: hold.UserID, Currency: currency.ID(hold.Currency)}
		if err := ledgerStore.Credit(key, hold.Amount, ""); err != nil {
			return nil, fmt.Errorf("refund journaled escrow for %s: %w", key, err)
		}
	}
	if len(snap.Escrow) > 0 {
		logger.Printf("refunded %d journaled escrow holds from snapshot", len(snap.Escrow))
	}

	if snap.Admin.Code == "" {
		return currency.NewRoster()
	}
	return currency.RestoreRoster(snap.Admin.Code, snap.Admin.Privileged)
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an engine server until context cancellation.
func Run(ctx context.Context, cfg config.Server) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs the HTTP boundary, the snapshot loop and the idle-session
// sweep until the context is cancelled, then takes a final snapshot.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	s.logger.Printf("engine listening at %v", s.listener.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.httpSrv.Serve(s.listener)
		if err == nil || stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return s.snapshotLoop(ctx)
	})
	g.Go(func() error {
		err := s.coordinator.Sweep(ctx, s.cfg.SweepInterval, s.cfg.SessionTimeout)
		if stderrors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err := g.Wait()

	// Final snapshot so a clean shutdown loses nothing.
	if snapErr := s.writeSnapshot(context.Background()); snapErr != nil {
		s.logger.Printf("final snapshot failed: %v", snapErr)
		if err == nil {
			err = snapErr
		}
	}
	return err
}

func (s *Server) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.writeSnapshot(ctx); err != nil {
				s.logger.Printf("snapshot failed: %v", err)
			}
		}
	}
}

func (s *Server) writeSnapshot(ctx context.Context) error {
	// Balances and the escrow journal must come from the same instant:
	// a bet captured in one but not the other would change the total
	// amount of money across a restart.
	balances, journal := s.coordinator.SnapshotState()

	snap := storage.Snapshot{TakenAt: time.Now().UTC()}
	for _, entry := range balances {
		snap.Accounts = append(snap.Accounts, storage.AccountRecord{
			UserID:   entry.Key.UserID,
			Currency: string(entry.Key.Currency),
			Balance:  entry.Balance,
			Version:  entry.Version,
		})
	}
	for _, hold := range journal {
		snap.Escrow = append(snap.Escrow, storage.EscrowRecord{
			ChatID:    hold.ChatID,
			Game:      string(hold.Game),
			SessionID: hold.SessionID,
			UserID:    hold.UserID,
			Currency:  string(hold.Currency),
			Amount:    hold.Amount,
		})
	}
	snap.Admin = storage.AdminState{
		Code:       s.roster.Code(),
		Privileged: s.roster.Privileged(),
	}
	return s.store.WriteSnapshot(ctx, snap)
}

// Close releases the server's resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}
