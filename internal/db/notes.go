package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// NoteRecord is one row of the notes table. Timestamps are unix milliseconds.
type NoteRecord struct {
	ID        string
	Ticket    int64
	UserID    string
	Title     string
	Text      string
	Completed bool
	CreatedAt int64
	UpdatedAt int64
}

const noteColumns = `id, ticket, user_id, title, text, completed, created_at, updated_at`

func scanNote(row interface{ Scan(...any) error }) (NoteRecord, error) {
	var n NoteRecord
	var completed int64
	if err := row.Scan(&n.ID, &n.Ticket, &n.UserID, &n.Title, &n.Text, &completed, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return NoteRecord{}, err
	}
	n.Completed = completed != 0
	return n, nil
}

// InsertNote stores a new note. A taken title fails with a ConstraintError on
// "notes.title"; an unknown owner fails with ErrForeignKeyViolation.
func (s *Store) InsertNote(ctx context.Context, n NoteRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.Ticket, n.UserID, n.Title, n.Text, boolToInt(n.Completed), n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", classifyWriteError(err))
	}
	return nil
}

// GetNote returns the note with the given id, or ErrNotFound.
func (s *Store) GetNote(ctx context.Context, id string) (NoteRecord, error) {
	n, err := scanNote(s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return NoteRecord{}, ErrNotFound
	}
	if err != nil {
		return NoteRecord{}, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// GetNoteByTitle returns the note holding title, or ErrNotFound.
func (s *Store) GetNoteByTitle(ctx context.Context, title string) (NoteRecord, error) {
	n, err := scanNote(s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE title = ?`, title))
	if errors.Is(err, sql.ErrNoRows) {
		return NoteRecord{}, ErrNotFound
	}
	if err != nil {
		return NoteRecord{}, fmt.Errorf("get note by title: %w", err)
	}
	return n, nil
}

// ReplaceNote overwrites the mutable fields (owner, title, text, completed,
// updated_at) of an existing note in one statement. Ticket and created_at are
// never touched. Returns ErrNotFound if the note no longer exists.
func (s *Store) ReplaceNote(ctx context.Context, n NoteRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET user_id = ?, title = ?, text = ?, completed = ?, updated_at = ?
		WHERE id = ?
	`, n.UserID, n.Title, n.Text, boolToInt(n.Completed), n.UpdatedAt, n.ID)
	if err != nil {
		return fmt.Errorf("replace note: %w", classifyWriteError(err))
	}
	return requireOneRow(res, "replace note")
}

// DeleteNote removes a note. Returns ErrNotFound if it was already gone.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", classifyWriteError(err))
	}
	return requireOneRow(res, "delete note")
}

// ListNotes returns every note in ticket order.
func (s *Store) ListNotes(ctx context.Context) ([]NoteRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+noteColumns+` FROM notes ORDER BY ticket`)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []NoteRecord
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return notes, nil
}

// NoteExistsForUser reports whether at least one note is owned by userID.
func (s *Store) NoteExistsForUser(ctx context.Context, userID string) (bool, error) {
	var exists int64
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM notes WHERE user_id = ?)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notes for user: %w", err)
	}
	return exists == 1, nil
}

func requireOneRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
