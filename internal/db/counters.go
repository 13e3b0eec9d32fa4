package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// NextSequence advances the counter for namespace by one and returns the new
// value. A namespace that has never been used starts at the store's sequence
// start (DefaultSequenceStart unless changed).
//
// The upsert takes SQLite's write lock, and the read happens in the same
// transaction on the same connection, so no concurrent caller can advance the
// counter between the increment and the read. The value is committed before it
// is returned; a value is never handed out that a restart could hand out again.
func (s *Store) NextSequence(ctx context.Context, namespace string) (int64, error) {
	if namespace == "" {
		return 0, fmt.Errorf("sequence namespace cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sequence transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO counters (namespace, value) VALUES (?, ?)
		ON CONFLICT(namespace) DO UPDATE SET value = counters.value + 1
	`, namespace, s.sequenceStart); err != nil {
		return 0, fmt.Errorf("advance sequence %q: %w", namespace, err)
	}

	var value int64
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE namespace = ?`, namespace,
	).Scan(&value); err != nil {
		return 0, fmt.Errorf("read sequence %q: %w", namespace, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sequence %q: %w", namespace, err)
	}
	return value, nil
}

// CurrentSequence returns the last value issued for namespace. ok is false
// when nothing has been issued yet.
func (s *Store) CurrentSequence(ctx context.Context, namespace string) (value int64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE namespace = ?`, namespace,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read sequence %q: %w", namespace, err)
	}
	return value, true, nil
}
