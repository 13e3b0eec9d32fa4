// Package users lists, creates and updates user accounts. Deleting a user
// is owned by the notes service, which guards against dependent notes.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/ticketnotes/internal/auth"
	"github.com/kuitang/ticketnotes/internal/db"
	"github.com/kuitang/ticketnotes/internal/errs"
	"github.com/kuitang/ticketnotes/internal/ids"
	"github.com/kuitang/ticketnotes/internal/obs"
)

const (
	msgAllFieldsRequired = "All fields are necessary"
	msgDuplicateUsername = "Duplicate username"
	msgUserNotFound      = "User not found"
	msgNoUsers           = "No users found"
	msgPasswordTooLong   = "Password must be at most 72 bytes"
)

// User is a user account without its password credential.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateUserParams contains parameters for creating a user.
type CreateUserParams struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// UpdateUserParams contains parameters for updating a user. Password is
// rehashed only when non-empty; Active must be set explicitly.
type UpdateUserParams struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Active   *bool    `json:"active"`
	Password string   `json:"password,omitempty"`
}

// Repository is the user storage the service writes through.
type Repository interface {
	InsertUser(ctx context.Context, u db.UserRecord) error
	GetUser(ctx context.Context, id string) (db.UserRecord, error)
	GetUserByUsername(ctx context.Context, username string) (db.UserRecord, error)
	ReplaceUser(ctx context.Context, u db.UserRecord) error
	ListUsers(ctx context.Context) ([]db.UserRecord, error)
}

// Service manages user accounts.
type Service struct {
	repo   Repository
	hasher auth.PasswordHasher
	now    func() time.Time
}

// NewService creates a user service.
func NewService(repo Repository, hasher auth.PasswordHasher) *Service {
	return &Service{repo: repo, hasher: hasher, now: time.Now}
}

// List returns every user ordered by username.
func (s *Service) List(ctx context.Context) ([]User, error) {
	records, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	if len(records) == 0 {
		return nil, errs.New(errs.NoResults, msgNoUsers)
	}
	out := make([]User, len(records))
	for i, r := range records {
		out[i] = userFromRecord(r)
	}
	return out, nil
}

// Create adds a user. Username must be unused and roles non-empty.
func (s *Service) Create(ctx context.Context, params CreateUserParams) (*User, error) {
	roles := normalizeRoles(params.Roles)
	if blank(params.Username) || params.Password == "" || len(roles) == 0 {
		return nil, errs.New(errs.MissingField, msgAllFieldsRequired)
	}

	if err := s.checkUsername(ctx, params.Username, ""); err != nil {
		return nil, err
	}

	hash, err := s.hash(params.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().UnixMilli()
	rec := db.UserRecord{
		ID:           ids.New(),
		Username:     params.Username,
		PasswordHash: hash,
		Roles:        roles,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.InsertUser(ctx, rec); err != nil {
		return nil, mapWriteError(err)
	}

	obs.From(ctx).Info("user_created", "pkg", "users", "user_id", rec.ID)
	user := userFromRecord(rec)
	return &user, nil
}

// Update replaces username, roles and active flag, and the password when
// one is given.
func (s *Service) Update(ctx context.Context, params UpdateUserParams) (*User, error) {
	id := ids.Canonical(params.ID)
	roles := normalizeRoles(params.Roles)
	if id == "" || blank(params.Username) || len(roles) == 0 || params.Active == nil {
		return nil, errs.New(errs.MissingField, msgAllFieldsRequired)
	}

	rec, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errs.New(errs.NotFound, msgUserNotFound)
	}
	if err != nil {
		return nil, storageError(err)
	}

	if err := s.checkUsername(ctx, params.Username, rec.ID); err != nil {
		return nil, err
	}

	rec.Username = params.Username
	rec.Roles = roles
	rec.Active = *params.Active
	if params.Password != "" {
		hash, err := s.hash(params.Password)
		if err != nil {
			return nil, err
		}
		rec.PasswordHash = hash
	}
	rec.UpdatedAt = s.now().UTC().UnixMilli()

	if err := s.repo.ReplaceUser(ctx, rec); err != nil {
		return nil, mapWriteError(err)
	}

	obs.From(ctx).Info("user_updated", "pkg", "users", "user_id", rec.ID, "password_changed", params.Password != "")
	user := userFromRecord(rec)
	return &user, nil
}

// checkUsername rejects username when a user other than selfID holds it.
// The UNIQUE(username) constraint backs this check.
func (s *Service) checkUsername(ctx context.Context, username, selfID string) error {
	holder, err := s.repo.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil
	case err != nil:
		return storageError(err)
	}
	if selfID != "" && ids.Equal(holder.ID, selfID) {
		return nil
	}
	return errs.New(errs.DuplicateUsername, msgDuplicateUsername)
}

func (s *Service) hash(password string) (string, error) {
	hash, err := s.hasher.HashPassword(password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return "", errs.New(errs.InvalidArgument, msgPasswordTooLong)
	}
	if err != nil {
		return "", errs.Wrap(errs.Internal, "Could not store password", err)
	}
	return hash, nil
}

func mapWriteError(err error) error {
	switch {
	case db.IsUniqueViolation(err, "users.username"):
		return errs.Wrap(errs.DuplicateUsername, msgDuplicateUsername, err)
	case errors.Is(err, db.ErrNotFound):
		return errs.Wrap(errs.NotFound, msgUserNotFound, err)
	default:
		return storageError(err)
	}
}

func storageError(cause error) error {
	return errs.Wrap(errs.StorageError, "Storage unavailable, try again", fmt.Errorf("users: %w", cause))
}

// normalizeRoles trims, drops empties and removes duplicates, keeping order.
func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]bool, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func userFromRecord(r db.UserRecord) User {
	return User{
		ID:        r.ID,
		Username:  r.Username,
		Roles:     r.Roles,
		Active:    r.Active,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
}
