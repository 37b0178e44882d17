// Package pgtable is a remote.Service stored in PostgreSQL.
//
// The schema is managed by embedded golang-migrate migrations that run on
// Open. Versions are "v" followed by a value from the item_revisions
// sequence. Writes take a transaction-scoped advisory lock so updated_at
// strictly increases across the table, which incremental pulls rely on.
package pgtable

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/todo"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// writeLockKey is the advisory lock id that serializes writes.
const writeLockKey = 0x746f646f

// Table is a remote table backed by a pgx connection pool.
type Table struct {
	pool *pgxpool.Pool
}

var _ remote.Service = (*Table)(nil)

// Open runs pending migrations against databaseURL and connects a pool.
func Open(ctx context.Context, databaseURL string) (*Table, error) {
	if err := Migrate(databaseURL); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Table{pool: pool}, nil
}

// Migrate applies the embedded migrations.
func Migrate(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "todosync", driver)
	if err != nil {
		return fmt.Errorf("failed to instantiate migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close releases the pool.
func (t *Table) Close() {
	t.pool.Close()
}

func (t *Table) Insert(ctx context.Context, item *todo.Item) (*todo.Item, error) {
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("invalid item: %w", err)
	}

	var out *todo.Item
	err := t.write(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO items (id, name, done, deleted, revision, updated_at)
			VALUES ($1, $2, $3, FALSE, nextval('item_revisions'), `+nextTimestamp+`)
			RETURNING `+columns,
			uuid.NewString(), item.Name, item.Done)
		var err error
		out, err = scanItem(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Table) Update(ctx context.Context, item *todo.Item) (*todo.Item, error) {
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("invalid item: %w", err)
	}

	var out *todo.Item
	err := t.write(ctx, func(tx pgx.Tx) error {
		current, err := getForUpdate(ctx, tx, item.ID)
		if err != nil {
			return err
		}
		if current.Version != item.Version {
			return &remote.VersionConflictError{Server: current}
		}

		row := tx.QueryRow(ctx, `
			UPDATE items SET name = $2, done = $3, deleted = FALSE,
				revision = nextval('item_revisions'), updated_at = `+nextTimestamp+`
			WHERE id = $1
			RETURNING `+columns,
			item.ID, item.Name, item.Done)
		out, err = scanItem(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Table) Delete(ctx context.Context, id, version string) error {
	return t.write(ctx, func(tx pgx.Tx) error {
		current, err := getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Deleted {
			return nil
		}
		if current.Version != version {
			return &remote.VersionConflictError{Server: current}
		}

		_, err = tx.Exec(ctx, `
			UPDATE items SET deleted = TRUE,
				revision = nextval('item_revisions'), updated_at = `+nextTimestamp+`
			WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		return nil
	})
}

func (t *Table) Get(ctx context.Context, id string) (*todo.Item, error) {
	item, err := scanItem(t.pool.QueryRow(ctx, `SELECT `+columns+` FROM items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, remote.ErrNotFound)
	}
	return item, err
}

func (t *Table) QuerySince(ctx context.Context, query string, since time.Time, filter todo.Filter) ([]*todo.Item, error) {
	conditions := []string{"updated_at > $1"}
	args := []any{since}

	if since.IsZero() {
		conditions = append(conditions, "NOT deleted")
	}
	if filter.Done != nil {
		args = append(args, *filter.Done)
		conditions = append(conditions, fmt.Sprintf("done = $%d", len(args)))
	}
	if filter.NameContains != "" {
		args = append(args, filter.NameContains)
		conditions = append(conditions, fmt.Sprintf("strpos(lower(name), lower($%d)) > 0", len(args)))
	}
	if !filter.UpdatedAfter.IsZero() {
		args = append(args, filter.UpdatedAfter)
		conditions = append(conditions, fmt.Sprintf("updated_at > $%d", len(args)))
	}

	rows, err := t.pool.Query(ctx,
		`SELECT `+columns+` FROM items WHERE `+strings.Join(conditions, " AND ")+` ORDER BY updated_at, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	items := make([]*todo.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return items, nil
}

const columns = `id, name, done, deleted, revision, updated_at`

// nextTimestamp is strictly later than every stored updated_at. Postgres
// keeps microseconds, hence the one-microsecond step.
const nextTimestamp = `GREATEST(clock_timestamp(), COALESCE((SELECT MAX(updated_at) FROM items), 'epoch') + interval '1 microsecond')`

// write runs fn in a transaction holding the table write lock.
func (t *Table) write(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.Background())

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, writeLockKey); err != nil {
		return fmt.Errorf("failed to take write lock: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func getForUpdate(ctx context.Context, tx pgx.Tx, id string) (*todo.Item, error) {
	item, err := scanItem(tx.QueryRow(ctx, `SELECT `+columns+` FROM items WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, remote.ErrNotFound)
	}
	return item, err
}

func scanItem(row pgx.Row) (*todo.Item, error) {
	var item todo.Item
	var revision int64
	err := row.Scan(&item.ID, &item.Name, &item.Done, &item.Deleted, &revision, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	item.Version = "v" + strconv.FormatInt(revision, 10)
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}
