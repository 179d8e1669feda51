// Package sqlite provides the SQLite-backed snapshot store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxgames/voxbank/internal/storage"
	"github.com/voxgames/voxbank/internal/storage/sqlite/migrations"
)

// Store persists engine snapshots in a single SQLite database.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the snapshot store at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// WriteSnapshot replaces the stored snapshot in one transaction.
func (s *Store) WriteSnapshot(ctx context.Context, snap storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"accounts", "escrow_journal", "admin_roster"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, account := range snap.Accounts {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO accounts (user_id, currency, balance, version)
VALUES (?, ?, ?, ?)
`, account.UserID, account.Currency, account.Balance, account.Version); err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
	}
	for _, hold := range snap.Escrow {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO escrow_journal (chat_id, game, session_id, user_id, currency, amount)
VALUES (?, ?, ?, ?, ?, ?)
`, hold.ChatID, hold.Game, hold.SessionID, hold.UserID, hold.Currency, hold.Amount); err != nil {
			return fmt.Errorf("insert escrow hold: %w", err)
		}
	}
	for _, user := range snap.Admin.Privileged {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO admin_roster (user_id) VALUES (?)
`, user); err != nil {
			return fmt.Errorf("insert admin roster: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO admin_state (id, code) VALUES (1, ?)
ON CONFLICT (id) DO UPDATE SET code = excluded.code
`, snap.Admin.Code); err != nil {
		return fmt.Errorf("upsert admin state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO snapshot_meta (id, taken_at) VALUES (1, ?)
ON CONFLICT (id) DO UPDATE SET taken_at = excluded.taken_at
`, snap.TakenAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("upsert snapshot meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads the stored snapshot, or storage.ErrNotFound when
// none exists.
func (s *Store) ReadSnapshot(ctx context.Context) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Snapshot{}, fmt.Errorf("storage is not configured")
	}

	var takenAt int64
	row := s.sqlDB.QueryRowContext(ctx, "SELECT taken_at FROM snapshot_meta WHERE id = 1")
	if err := row.Scan(&takenAt); err != nil {
		if err == sql.ErrNoRows {
			return storage.Snapshot{}, storage.ErrNotFound
		}
		return storage.Snapshot{}, fmt.Errorf("read snapshot meta: %w", err)
	}
	snap := storage.Snapshot{TakenAt: time.UnixMilli(takenAt).UTC()}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT user_id, currency, balance, version
FROM accounts
ORDER BY user_id, currency
`)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("read accounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var account storage.AccountRecord
		if err := rows.Scan(&account.UserID, &account.Currency, &account.Balance, &account.Version); err != nil {
			return storage.Snapshot{}, fmt.Errorf("scan account: %w", err)
		}
		snap.Accounts = append(snap.Accounts, account)
	}
	if err := rows.Err(); err != nil {
		return storage.Snapshot{}, fmt.Errorf("iterate accounts: %w", err)
	}

	holdRows, err := s.sqlDB.QueryContext(ctx, `
SELECT chat_id, game, session_id, user_id, currency, amount
FROM escrow_journal
`)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("read escrow journal: %w", err)
	}
	defer holdRows.Close()
	for holdRows.Next() {
		var hold storage.EscrowRecord
		if err := holdRows.Scan(&hold.ChatID, &hold.Game, &hold.SessionID, &hold.UserID, &hold.Currency, &hold.Amount); err != nil {
			return storage.Snapshot{}, fmt.Errorf("scan escrow hold: %w", err)
		}
		snap.Escrow = append(snap.Escrow, hold)
	}
	if err := holdRows.Err(); err != nil {
		return storage.Snapshot{}, fmt.Errorf("iterate escrow journal: %w", err)
	}

	row = s.sqlDB.QueryRowContext(ctx, "SELECT code FROM admin_state WHERE id = 1")
	if err := row.Scan(&snap.Admin.Code); err != nil && err != sql.ErrNoRows {
		return storage.Snapshot{}, fmt.Errorf("read admin state: %w", err)
	}

	rosterRows, err := s.sqlDB.QueryContext(ctx, "SELECT user_id FROM admin_roster ORDER BY user_id")
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("read admin roster: %w", err)
	}
	defer rosterRows.Close()
	for rosterRows.Next() {
		var user string
		if err := rosterRows.Scan(&user); err != nil {
			return storage.Snapshot{}, fmt.Errorf("scan admin roster: %w", err)
		}
		snap.Admin.Privileged = append(snap.Admin.Privileged, user)
	}
	if err := rosterRows.Err(); err != nil {
		return storage.Snapshot{}, fmt.Errorf("iterate admin roster: %w", err)
	}

	return snap, nil
}

var _ storage.SnapshotStore = (*Store)(nil)

// applyMigrations runs each embedded migration file at most once,
// recording applied names in schema_migrations.
func applyMigrations(sqlDB *sql.DB) error {
	if _, err := sqlDB.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()

		var found int
		err := sqlDB.QueryRow("SELECT 1 FROM schema_migrations WHERE name = ?", name).Scan(&found)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %s: %w", name, err)
		}

		content, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		upSQL := upSection(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(upSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO schema_migrations (name, applied_at) VALUES (?, ?)",
			name, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// upSection extracts the -- +migrate Up portion of a migration file.
func upSection(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx+len("-- +migrate Up"):]
	if downIdx := strings.Index(rest, "-- +migrate Down"); downIdx != -1 {
		rest = rest[:downIdx]
	}
	return rest
}
