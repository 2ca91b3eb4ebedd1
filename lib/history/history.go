// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/keywarden/keywarden/lib/clock"
	"github.com/keywarden/keywarden/lib/codec"
	"github.com/keywarden/keywarden/lib/secret"
	"github.com/keywarden/keywarden/lib/sqlitepool"
)

// defaultMaxEntries caps the recent list when the configuration does
// not. Matches the launcher's result page, which is where recents
// surface.
const defaultMaxEntries = 9

// schema creates the history tables. recents holds one row per entry,
// addressed by the keyed fingerprint of its path; the payload is the
// sealed CBOR record. meta holds the database binding fingerprint.
const schema = `
CREATE TABLE IF NOT EXISTS recents (
	id INTEGER PRIMARY KEY,
	fingerprint TEXT NOT NULL UNIQUE,
	record BLOB NOT NULL,
	touched INTEGER NOT NULL,
	uses INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS recents_by_touched ON recents (touched DESC);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// record is the sealed row payload. CBOR keys are short and stable so
// existing rows survive field additions.
type record struct {
	Path string `cbor:"path"`
}

// Entry is a decrypted recent-entry record.
type Entry struct {
	// Path is the entry path inside the password database.
	Path string
	// Touched is the time of the most recent recorded use.
	Touched time.Time
	// Uses is the total number of recorded uses.
	Uses int64
}

// Config holds the parameters for opening a history store.
type Config struct {
	// Path is the SQLite database file holding the sealed records.
	// Required.
	Path string

	// KeyFile is the master key file. Created with mode 0600 on first
	// open. Required.
	KeyFile string

	// Database is the path of the password database this history
	// belongs to. Records are cleared when it changes. Required.
	Database string

	// MaxEntries caps the recent list. Rows beyond the cap are evicted
	// oldest-first on every Touch. Defaults to 9 if zero or negative.
	MaxEntries int

	// Clock provides timestamps for touch ordering. Required.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Store is the persistent recent-entry list. Safe for concurrent use;
// SQLite serializes the writes.
type Store struct {
	pool       *sqlitepool.Pool
	masterKey  *secret.Buffer
	database   string
	maxEntries int
	clock      clock.Clock
	logger     *slog.Logger
}

// Open opens or creates the history store, generating the master key
// file if it does not exist. If the configured password database
// differs from the one recorded in the store (or the key file changed,
// which makes the recorded binding unverifiable), all records are
// cleared before the store is returned. The caller must call Close.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history: Path is required")
	}
	if cfg.KeyFile == "" {
		return nil, fmt.Errorf("history: KeyFile is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("history: Database is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("history: Clock is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	// The pool requires the parent directory; with the default layout
	// this is the same directory the key file creation makes.
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("history: creating state directory: %w", err)
	}

	masterKey, err := loadOrCreateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	store := &Store{
		masterKey:  masterKey,
		database:   cfg.Database,
		maxEntries: maxEntries,
		clock:      cfg.Clock,
		logger:     logger,
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		masterKey.Wipe()
		return nil, fmt.Errorf("history: %w", err)
	}
	store.pool = pool

	if err := store.checkDatabaseBinding(context.Background()); err != nil {
		pool.Close()
		masterKey.Wipe()
		return nil, err
	}

	return store, nil
}

// Close closes the connection pool and wipes the master key. After
// Close all operations fail.
func (s *Store) Close() error {
	err := s.pool.Close()
	if wipeErr := s.masterKey.Wipe(); wipeErr != nil && err == nil {
		err = wipeErr
	}
	return err
}

// Touch records a use of the entry at entryPath: inserts a sealed
// record on first use, bumps the use count and touch time on repeat
// use, and evicts rows beyond the cap, oldest first.
func (s *Store) Touch(ctx context.Context, entryPath string) (err error) {
	if entryPath == "" {
		return fmt.Errorf("history: entry path is empty")
	}

	rowFingerprint, err := s.fingerprint(fingerprintDomainEntry, entryPath)
	if err != nil {
		return err
	}
	plaintext, err := codec.Marshal(record{Path: entryPath})
	if err != nil {
		return fmt.Errorf("history: encoding record: %w", err)
	}
	sealed, err := s.sealRecord(plaintext, rowFingerprint)
	if err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: touch: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("history: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `
		INSERT INTO recents (fingerprint, record, touched, uses)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (fingerprint) DO UPDATE SET
			touched = excluded.touched,
			uses = uses + 1`,
		&sqlitex.ExecOptions{
			Args: []any{rowFingerprint, sealed, s.clock.Now().Unix()},
		})
	if err != nil {
		return fmt.Errorf("history: upsert: %w", err)
	}

	// Evict everything past the cap in touch order. LIMIT -1 OFFSET n
	// selects all rows after the first n.
	err = sqlitex.Execute(conn, `
		DELETE FROM recents WHERE id IN (
			SELECT id FROM recents
			ORDER BY touched DESC, id DESC
			LIMIT -1 OFFSET ?
		)`,
		&sqlitex.ExecOptions{
			Args: []any{s.maxEntries},
		})
	if err != nil {
		return fmt.Errorf("history: evict: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, most recently touched first. A
// limit of zero or one beyond the cap returns the whole list. Rows
// that fail to decrypt (tampered file, foreign key material) are
// skipped with a warning, never returned as garbage.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.maxEntries {
		limit = s.maxEntries
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer s.pool.Put(conn)

	entries := make([]Entry, 0, limit)
	err = sqlitex.Execute(conn, `
		SELECT fingerprint, record, touched, uses FROM recents
		ORDER BY touched DESC, id DESC
		LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rowFingerprint := stmt.ColumnText(0)
				sealed := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, sealed)

				plaintext, err := s.openRecord(sealed, rowFingerprint)
				if err != nil {
					s.logger.Warn("skipping undecryptable history record", "error", err)
					return nil
				}
				var rec record
				if err := codec.Unmarshal(plaintext, &rec); err != nil {
					s.logger.Warn("skipping malformed history record", "error", err)
					return nil
				}

				entries = append(entries, Entry{
					Path:    rec.Path,
					Touched: time.Unix(stmt.ColumnInt64(2), 0),
					Uses:    stmt.ColumnInt64(3),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return entries, nil
}

// Clear drops all records. The database binding is kept.
func (s *Store) Clear(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM recents", nil); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	s.logger.Info("history cleared", "reason", "requested")
	return nil
}

// checkDatabaseBinding compares the stored database fingerprint with
// the configured database and clears the records on mismatch. A
// missing binding (first open) is recorded without clearing. Because
// the fingerprint is keyed, a replaced key file also reads as a
// mismatch and clears the now-undecryptable records.
func (s *Store) checkDatabaseBinding(ctx context.Context) (err error) {
	current, err := s.fingerprint(fingerprintDomainDatabase, s.database)
	if err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: binding check: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("history: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var stored string
	var found bool
	err = sqlitex.Execute(conn, "SELECT value FROM meta WHERE key = 'database'", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stored = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("history: reading binding: %w", err)
	}

	if found && stored == current {
		return nil
	}

	if found {
		if err = sqlitex.Execute(conn, "DELETE FROM recents", nil); err != nil {
			return fmt.Errorf("history: clearing rebound store: %w", err)
		}
		s.logger.Info("history cleared", "reason", "database binding changed")
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO meta (key, value) VALUES ('database', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{
			Args: []any{current},
		})
	if err != nil {
		return fmt.Errorf("history: writing binding: %w", err)
	}
	return nil
}
