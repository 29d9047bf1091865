// Package sqlite implements store.Store on top of a pure-Go SQLite driver
// (github.com/ncruces/go-sqlite3), the same backend the teacher's issue
// store uses for its default local database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/p2panda-go/bamboo-node/internal/store"
	"github.com/p2panda-go/bamboo-node/internal/store/sqlite/migrations"
)

// Store is the SQLite-backed store.Store implementation.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// connString builds a SQLite connection string with the pragmas the node
// needs: a generous busy_timeout (writes are serialized through a single
// connection, see Open below, but readers still need this), foreign key
// enforcement, and WAL mode so readers do not block the one writer.
func connString(path string) string {
	path = strings.TrimSpace(path)
	busy := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("BAMBOO_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := int64(busy / time.Millisecond)
	return fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)",
		path, busyMs,
	)
}

// Open opens (creating if necessary) a node database at path and runs all
// pending migrations. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", connString(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// Entries must be inserted strictly in seq_num order per log, and tasks
	// must be enqueued/dequeued without interleaving with other writers.
	// Single-connection serialization matches the teacher's own store: it
	// avoids SQLITE_BUSY storms more reliably than relying on busy_timeout
	// across a pool of writer connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 30000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrations.MigrateInitSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withImmediateTx runs fn inside a BEGIN IMMEDIATE transaction on a
// dedicated connection, rolling back on any error. IMMEDIATE acquires the
// write lock up front instead of on first write, which matters because
// MaxOpenConns(1) means there is only ever one connection to contend for:
// fn must issue all of its statements against the conn it is given, never
// against s.db, or it will deadlock waiting for a second connection that
// does not exist.
func (s *Store) withImmediateTx(ctx context.Context, fn func(conn *sql.Conn) error) (retErr error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("sqlite: begin immediate: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	committed = true
	return nil
}
