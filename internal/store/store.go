// Package store provides the local replica for todosync.
//
// The local store is an embedded SQLite database (ncruces/go-sqlite3, no
// cgo) opened in WAL mode so readers never block on a sync cycle that is
// writing. It holds three tables:
//
//   - items:         the records visible to readers
//   - pending_ops:   the operation queue (owned by package queue)
//   - change_tokens: per named-query pull cursors
//
// Architecture:
//   - Database file: ~/.todosync/local.db (configurable)
//   - WAL mode: concurrent readers during writes
//   - Writes run in IMMEDIATE transactions so a store write and the matching
//     queue write commit or roll back together
//
// The push and pull engines are the only writers of remote identity and
// version columns; table.SyncedTable writes domain fields.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/todosync/internal/todo"
)

// ErrNotFound is returned when a record does not exist in the local store.
var ErrNotFound = errors.New("item not found")

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the SQLite connection pool of the local replica.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened with WAL journaling, a 5s busy timeout and
// IMMEDIATE write transactions. Parent directories are created as needed.
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open("~/.todosync/local.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	path = strings.TrimPrefix(path, "file:")
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(wal)")
	params.Add("_pragma", "foreign_keys(on)")
	params.Set("_txlock", "immediate")
	connStr := "file:" + path + "?" + params.Encode()

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, path: path}, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		local_id TEXT PRIMARY KEY,
		id TEXT UNIQUE,           -- NULL until the remote accepted the insert
		name TEXT NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0,  -- unix nanos, remote clock
		version TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS pending_ops (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL CHECK(kind IN ('insert', 'update', 'delete')),
		local_id TEXT NOT NULL,
		item TEXT NOT NULL,       -- JSON snapshot
		enqueued_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS change_tokens (
		query_name TEXT PRIMARY KEY,
		updated_at INTEGER NOT NULL,
		pulled_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_done ON items(done);
	CREATE INDEX IF NOT EXISTS idx_items_updated ON items(updated_at);
	CREATE INDEX IF NOT EXISTS idx_pending_ops_local ON pending_ops(local_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Tx is a write transaction over the local store.
type Tx struct {
	tx *sql.Tx
}

// Querier exposes the transaction so other packages (the operation queue)
// can join it.
func (tx *Tx) Querier() Querier {
	return tx.tx
}

// Update runs fn inside a write transaction. The transaction commits if fn
// returns nil and rolls back otherwise, so a failed Put or Ack is never
// considered committed.
func (db *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get retrieves a record by local ID.
// Returns ErrNotFound if the record does not exist.
func (db *DB) Get(ctx context.Context, localID string) (*todo.Item, error) {
	return getItem(ctx, db.conn, "local_id", localID)
}

// GetByRemoteID retrieves a record by remote ID.
func (db *DB) GetByRemoteID(ctx context.Context, id string) (*todo.Item, error) {
	return getItem(ctx, db.conn, "id", id)
}

// Put inserts or replaces a record keyed by LocalID.
func (db *DB) Put(ctx context.Context, item *todo.Item) error {
	return putItem(ctx, db.conn, item)
}

// Delete removes a record. Returns nil if it doesn't exist (idempotent).
func (db *DB) Delete(ctx context.Context, localID string) error {
	return deleteItem(ctx, db.conn, localID)
}

// Get retrieves a record by local ID inside the transaction.
func (tx *Tx) Get(ctx context.Context, localID string) (*todo.Item, error) {
	return getItem(ctx, tx.tx, "local_id", localID)
}

// GetByRemoteID retrieves a record by remote ID inside the transaction.
func (tx *Tx) GetByRemoteID(ctx context.Context, id string) (*todo.Item, error) {
	return getItem(ctx, tx.tx, "id", id)
}

// Put inserts or replaces a record inside the transaction.
func (tx *Tx) Put(ctx context.Context, item *todo.Item) error {
	return putItem(ctx, tx.tx, item)
}

// Delete removes a record inside the transaction.
func (tx *Tx) Delete(ctx context.Context, localID string) error {
	return deleteItem(ctx, tx.tx, localID)
}

// SetRemote records the identity and version the remote assigned to a
// record, leaving its domain fields untouched (they may already carry newer
// local edits that are still queued).
func (tx *Tx) SetRemote(ctx context.Context, localID, id, version string, updatedAt time.Time) error {
	_, err := tx.tx.ExecContext(ctx,
		`UPDATE items SET id = ?, version = ?, updated_at = ? WHERE local_id = ?`,
		nullString(id), version, timeToUnix(updatedAt), localID)
	if err != nil {
		return fmt.Errorf("failed to set remote identity for %s: %w", localID, err)
	}
	return nil
}

// Query returns a lazy sequence of records matching filter in the given
// order. The query runs when the sequence is ranged over, and ranging again
// re-runs it, so the sequence is restartable.
//
// Example:
//
//	filter, order := todo.PendingItems()
//	for item, err := range db.Query(ctx, filter, order) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(item.Name)
//	}
func (db *DB) Query(ctx context.Context, filter todo.Filter, order todo.OrderBy) iter.Seq2[*todo.Item, error] {
	return func(yield func(*todo.Item, error) bool) {
		if err := order.Validate(); err != nil {
			yield(nil, err)
			return
		}

		var conditions []string
		var args []interface{}

		if filter.Done != nil {
			conditions = append(conditions, "done = ?")
			args = append(args, boolToInt(*filter.Done))
		}
		if !filter.UpdatedAfter.IsZero() {
			conditions = append(conditions, "updated_at > ?")
			args = append(args, timeToUnix(filter.UpdatedAfter))
		}

		query := `SELECT local_id, id, name, done, updated_at, version FROM items`
		if len(conditions) > 0 {
			query += " WHERE " + strings.Join(conditions, " AND ")
		}
		query += " ORDER BY " + orderClause(order)

		rows, err := db.conn.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("failed to query items: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			// NameContains is case-insensitive on unicode, which LIKE is not.
			if !filter.Match(item) {
				continue
			}
			if !yield(item, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("error iterating items: %w", err))
		}
	}
}

// List collects Query into a slice.
func (db *DB) List(ctx context.Context, filter todo.Filter, order todo.OrderBy) ([]*todo.Item, error) {
	var items []*todo.Item
	for item, err := range db.Query(ctx, filter, order) {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Count returns the total number of records in the local store.
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}
	return count, nil
}

func getItem(ctx context.Context, q Querier, column, value string) (*todo.Item, error) {
	// column is always one of two literals chosen by the callers above.
	query := `SELECT local_id, id, name, done, updated_at, version FROM items WHERE ` + column + ` = ?`

	item, err := scanItem(q.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", column, value, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func putItem(ctx context.Context, q Querier, item *todo.Item) error {
	if item.LocalID == "" {
		return fmt.Errorf("local id is required")
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	query := `
	INSERT INTO items (local_id, id, name, done, updated_at, version)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		id = excluded.id,
		name = excluded.name,
		done = excluded.done,
		updated_at = excluded.updated_at,
		version = excluded.version
	`

	_, err := q.ExecContext(ctx, query,
		item.LocalID,
		nullString(item.ID),
		item.Name,
		boolToInt(item.Done),
		timeToUnix(item.UpdatedAt),
		item.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to put item %s: %w", item.LocalID, err)
	}
	return nil
}

func deleteItem(ctx context.Context, q Querier, localID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM items WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("failed to delete item %s: %w", localID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*todo.Item, error) {
	var item todo.Item
	var id sql.NullString
	var done int
	var updatedAt int64

	err := row.Scan(&item.LocalID, &id, &item.Name, &done, &updatedAt, &item.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	item.ID = id.String
	item.Done = done != 0
	item.UpdatedAt = unixToTime(updatedAt)
	return &item, nil
}

func orderClause(order todo.OrderBy) string {
	dir := "ASC"
	if order.Desc {
		dir = "DESC"
	}
	switch order.Field {
	case todo.OrderName:
		return "name " + dir + ", local_id " + dir
	default:
		return "updated_at " + dir + ", local_id " + dir
	}
}

// nullString stores empty remote IDs as NULL so the UNIQUE index allows
// any number of unsynced records.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func unixToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
