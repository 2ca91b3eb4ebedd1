// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides keywarden's standard SQLite connection
// pool.
//
// The daemon's local state that outlives a session (the encrypted
// recents history) lives in SQLite. This package wraps
// zombiezen.com/go/sqlite with the defaults that state needs: WAL
// journal mode, NORMAL synchronous for process-crash durability
// without fsync-per-commit overhead, and a busy timeout so concurrent
// daemon operations wait for the write lock instead of failing with
// SQLITE_BUSY.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use; each goroutine must hold its own connection for the
// duration of its work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: write-ahead logging for concurrent readers and
//     a single writer. Reads never block writes; writes never block
//     reads.
//   - synchronous=NORMAL: transactions survive process crashes. Not
//     durable across OS crashes or power failure. Acceptable for the
//     recents history, which is a convenience cache over the password
//     database, never the source of truth.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of returning SQLITE_BUSY immediately.
//   - foreign_keys=OFF: keywarden's stores manage referential
//     integrity explicitly.
//   - cache_size=-2048: 2 MB page cache per connection. The stores are
//     a few kilobytes; a larger cache buys nothing.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "~/.local/share/keywarden/history.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// # Design
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. There is no attempt
// to abstract away SQLite's connection model or invent a query
// builder. Stores write SQL, use sqlitex.Execute for cached
// statements, and manage transactions with
// sqlitex.ImmediateTransaction.
//
// Used by: lib/history.
//
// Depends on: zombiezen.com/go/sqlite.
package sqlitepool
