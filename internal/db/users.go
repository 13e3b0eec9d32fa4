package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// UserRecord is one row of the users table. Timestamps are unix milliseconds.
type UserRecord struct {
	ID           string
	Username     string
	PasswordHash string
	Roles        []string
	Active       bool
	CreatedAt    int64
	UpdatedAt    int64
}

const userColumns = `id, username, password_hash, roles, active, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (UserRecord, error) {
	var u UserRecord
	var roles string
	var active int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &roles, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return UserRecord{}, err
	}
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return UserRecord{}, fmt.Errorf("decode roles for user %s: %w", u.ID, err)
	}
	u.Active = active != 0
	return u, nil
}

func encodeRoles(roles []string) (string, error) {
	if roles == nil {
		roles = []string{}
	}
	data, err := json.Marshal(roles)
	if err != nil {
		return "", fmt.Errorf("encode roles: %w", err)
	}
	return string(data), nil
}

// InsertUser stores a new user. A taken username fails with a ConstraintError
// on "users.username".
func (s *Store) InsertUser(ctx context.Context, u UserRecord) error {
	roles, err := encodeRoles(u.Roles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.PasswordHash, roles, boolToInt(u.Active), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", classifyWriteError(err))
	}
	return nil
}

// GetUser returns the user with the given id, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (UserRecord, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername returns the user holding username, or ErrNotFound.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (UserRecord, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

// ReplaceUser overwrites username, password hash, roles, active and
// updated_at of an existing user in one statement. Returns ErrNotFound if the
// user no longer exists.
func (s *Store) ReplaceUser(ctx context.Context, u UserRecord) error {
	roles, err := encodeRoles(u.Roles)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET username = ?, password_hash = ?, roles = ?, active = ?, updated_at = ?
		WHERE id = ?
	`, u.Username, u.PasswordHash, roles, boolToInt(u.Active), u.UpdatedAt, u.ID)
	if err != nil {
		return fmt.Errorf("replace user: %w", classifyWriteError(err))
	}
	return requireOneRow(res, "replace user")
}

// DeleteUser removes a user. While any note references the user the foreign
// key rejects the delete with ErrForeignKeyViolation.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", classifyWriteError(err))
	}
	return requireOneRow(res, "delete user")
}

// ListUsers returns every user ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}
