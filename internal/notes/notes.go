package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/ticketnotes/internal/db"
	"github.com/kuitang/ticketnotes/internal/errs"
	"github.com/kuitang/ticketnotes/internal/ids"
	"github.com/kuitang/ticketnotes/internal/metrics"
	"github.com/kuitang/ticketnotes/internal/obs"
)

const (
	msgAllFieldsRequired = "All fields are necessary"
	msgNoteIDRequired    = "Note ID required"
	msgUserIDRequired    = "User ID required"
	msgNoteNotFound      = "Note not found"
	msgUserNotFound      = "User not found"
	msgNoNotes           = "No notes found"
)

// Service creates, updates, deletes and lists notes, and deletes users,
// keeping tickets unique, titles unique, and owners referenced.
type Service struct {
	notes     NoteRepository
	users     UserRepository
	guard     *Guard
	allocator *Allocator
	join      *OwnerJoin
	now       func() time.Time
}

// NewService creates a notes service. *db.Store satisfies all three
// collaborators.
func NewService(notes NoteRepository, users UserRepository, counter Counter) *Service {
	return &Service{
		notes:     notes,
		users:     users,
		guard:     NewGuard(notes),
		allocator: NewAllocator(counter),
		join:      NewOwnerJoin(users, DefaultJoinConcurrency),
		now:       time.Now,
	}
}

// Create stores a new note with the next ticket.
//
// A ticket drawn for a create that later fails is not reused.
func (s *Service) Create(ctx context.Context, params CreateNoteParams) (*Note, error) {
	owner := ids.Canonical(params.User)
	if owner == "" || blank(params.Title) || blank(params.Text) {
		return nil, errs.New(errs.MissingField, msgAllFieldsRequired)
	}

	if err := s.guard.CheckCreate(ctx, params.Title); err != nil {
		return nil, err
	}

	ticket, err := s.allocator.Allocate(ctx, TicketNamespace)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().UnixMilli()
	rec := db.NoteRecord{
		ID:        ids.New(),
		Ticket:    ticket,
		UserID:    owner,
		Title:     params.Title,
		Text:      params.Text,
		Completed: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.notes.InsertNote(ctx, rec); err != nil {
		return nil, mapNoteWriteError(ctx, err)
	}

	obs.From(ctx).Info("note_created", "pkg", "notes", "note_id", rec.ID, "ticket", rec.Ticket)
	note := noteFromRecord(rec)
	return &note, nil
}

// Update replaces owner, title, text and completed on an existing note.
// There is no partial update.
func (s *Service) Update(ctx context.Context, params UpdateNoteParams) (*Note, error) {
	id := ids.Canonical(params.ID)
	owner := ids.Canonical(params.User)
	if id == "" || owner == "" || blank(params.Title) || blank(params.Text) || params.Completed == nil {
		return nil, errs.New(errs.MissingField, msgAllFieldsRequired)
	}

	rec, err := s.notes.GetNote(ctx, id)
	if err != nil {
		return nil, mapNoteReadError(err)
	}

	if err := s.guard.CheckUpdate(ctx, rec.ID, params.Title); err != nil {
		return nil, err
	}

	rec.UserID = owner
	rec.Title = params.Title
	rec.Text = params.Text
	rec.Completed = *params.Completed
	rec.UpdatedAt = s.now().UTC().UnixMilli()
	if err := s.notes.ReplaceNote(ctx, rec); err != nil {
		return nil, mapNoteWriteError(ctx, err)
	}

	obs.From(ctx).Info("note_updated", "pkg", "notes", "note_id", rec.ID, "ticket", rec.Ticket)
	note := noteFromRecord(rec)
	return &note, nil
}

// Delete removes a note.
func (s *Service) Delete(ctx context.Context, id string) (*DeleteNoteResult, error) {
	id = ids.Canonical(id)
	if id == "" {
		return nil, errs.New(errs.MissingField, msgNoteIDRequired)
	}

	rec, err := s.notes.GetNote(ctx, id)
	if err != nil {
		return nil, mapNoteReadError(err)
	}
	if err := s.notes.DeleteNote(ctx, rec.ID); err != nil {
		return nil, mapNoteWriteError(ctx, err)
	}

	obs.From(ctx).Info("note_deleted", "pkg", "notes", "note_id", rec.ID, "ticket", rec.Ticket)
	return &DeleteNoteResult{
		ID:      rec.ID,
		Title:   rec.Title,
		Message: fmt.Sprintf("Note: %s with ID %s deleted", rec.Title, rec.ID),
	}, nil
}

// List returns every note in ticket order with owner usernames attached.
// An empty store is reported as NoResults.
func (s *Service) List(ctx context.Context) ([]NoteWithOwner, error) {
	records, err := s.notes.ListNotes(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	if len(records) == 0 {
		return nil, errs.New(errs.NoResults, msgNoNotes)
	}
	return s.join.Attach(ctx, records), nil
}

// DeleteUser removes a user that no note references.
func (s *Service) DeleteUser(ctx context.Context, id string) (*DeleteUserResult, error) {
	id = ids.Canonical(id)
	if id == "" {
		return nil, errs.New(errs.MissingField, msgUserIDRequired)
	}

	if err := s.guard.CheckUserDeletable(ctx, id); err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errs.New(errs.NotFound, msgUserNotFound)
	}
	if err != nil {
		return nil, storageError(err)
	}

	err = s.users.DeleteUser(ctx, user.ID)
	switch {
	case errors.Is(err, db.ErrForeignKeyViolation):
		obs.From(ctx).Warn("integrity_precheck_raced", "pkg", "notes", "rule", ruleUserInUse, "user_id", user.ID)
		return nil, hasDependentNotes(metrics.LayerConstraint, err)
	case errors.Is(err, db.ErrNotFound):
		return nil, errs.New(errs.NotFound, msgUserNotFound)
	case err != nil:
		return nil, storageError(err)
	}

	obs.From(ctx).Info("user_deleted", "pkg", "notes", "user_id", user.ID)
	return &DeleteUserResult{
		ID:       user.ID,
		Username: user.Username,
		Message:  fmt.Sprintf("Username: %s with ID: %s deleted", user.Username, user.ID),
	}, nil
}

// LastTicket returns the most recently issued ticket. ok is false before the
// first note is created.
func (s *Service) LastTicket(ctx context.Context) (int64, bool, error) {
	return s.allocator.Last(ctx, TicketNamespace)
}

func mapNoteReadError(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return errs.New(errs.NotFound, msgNoteNotFound)
	}
	return storageError(err)
}

// mapNoteWriteError turns constraint failures into the codes the guard
// would have returned had it seen the conflicting write first.
func mapNoteWriteError(ctx context.Context, err error) error {
	switch {
	case db.IsUniqueViolation(err, "notes.title"):
		obs.From(ctx).Warn("integrity_precheck_raced", "pkg", "notes", "rule", ruleTitleUnique)
		return duplicateTitle(metrics.LayerConstraint, err)
	case errors.Is(err, db.ErrForeignKeyViolation):
		metrics.IntegrityRejections.WithLabelValues(ruleOwnerExists, metrics.LayerConstraint).Inc()
		return errs.Wrap(errs.NotFound, msgUserNotFound, err)
	case errors.Is(err, db.ErrNotFound):
		return errs.Wrap(errs.NotFound, msgNoteNotFound, err)
	default:
		return storageError(err)
	}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
