package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ChangeToken is the pull cursor of one named query: the largest remote
// UpdatedAt already applied locally.
type ChangeToken struct {
	Query     string    `json:"query" yaml:"query"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
	PulledAt  time.Time `json:"pulled_at" yaml:"pulled_at"`
}

// ChangeToken returns the stored token for query. The boolean is false when
// the query has never been pulled, in which case the next pull is a full one.
func (db *DB) ChangeToken(ctx context.Context, query string) (ChangeToken, bool, error) {
	return getToken(ctx, db.conn, query)
}

// ChangeToken reads the token inside the transaction.
func (tx *Tx) ChangeToken(ctx context.Context, query string) (ChangeToken, bool, error) {
	return getToken(ctx, tx.tx, query)
}

// AdvanceChangeToken moves the token for query forward to updatedAt.
// A value at or before the stored token is ignored, so tokens never move
// backwards.
func (tx *Tx) AdvanceChangeToken(ctx context.Context, query string, updatedAt time.Time) error {
	if updatedAt.IsZero() {
		return nil
	}
	_, err := tx.tx.ExecContext(ctx, `
	INSERT INTO change_tokens (query_name, updated_at, pulled_at)
	VALUES (?, ?, ?)
	ON CONFLICT(query_name) DO UPDATE SET
		updated_at = MAX(change_tokens.updated_at, excluded.updated_at),
		pulled_at = excluded.pulled_at
	`, query, timeToUnix(updatedAt), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to advance change token %s: %w", query, err)
	}
	return nil
}

// ResetChangeToken forgets the token for query so the next pull is full.
func (db *DB) ResetChangeToken(ctx context.Context, query string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM change_tokens WHERE query_name = ?`, query); err != nil {
		return fmt.Errorf("failed to reset change token %s: %w", query, err)
	}
	return nil
}

// ChangeTokens lists every stored token ordered by query name.
func (db *DB) ChangeTokens(ctx context.Context) ([]ChangeToken, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT query_name, updated_at, pulled_at FROM change_tokens ORDER BY query_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list change tokens: %w", err)
	}
	defer rows.Close()

	var tokens []ChangeToken
	for rows.Next() {
		var tok ChangeToken
		var updatedAt, pulledAt int64
		if err := rows.Scan(&tok.Query, &updatedAt, &pulledAt); err != nil {
			return nil, fmt.Errorf("failed to scan change token: %w", err)
		}
		tok.UpdatedAt = unixToTime(updatedAt)
		tok.PulledAt = unixToTime(pulledAt)
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change tokens: %w", err)
	}
	return tokens, nil
}

func getToken(ctx context.Context, q Querier, query string) (ChangeToken, bool, error) {
	var updatedAt, pulledAt int64
	err := q.QueryRowContext(ctx,
		`SELECT updated_at, pulled_at FROM change_tokens WHERE query_name = ?`, query).
		Scan(&updatedAt, &pulledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ChangeToken{Query: query}, false, nil
	}
	if err != nil {
		return ChangeToken{}, false, fmt.Errorf("failed to get change token %s: %w", query, err)
	}
	return ChangeToken{
		Query:     query,
		UpdatedAt: unixToTime(updatedAt),
		PulledAt:  unixToTime(pulledAt),
	}, true, nil
}
