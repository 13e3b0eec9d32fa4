package notes

import (
	"context"
	"errors"

	"github.com/kuitang/ticketnotes/internal/db"
	"github.com/kuitang/ticketnotes/internal/errs"
	"github.com/kuitang/ticketnotes/internal/ids"
	"github.com/kuitang/ticketnotes/internal/metrics"
)

const (
	msgDuplicateTitle    = "Duplicate note title"
	msgHasDependentNotes = "User has assigned notes. Cannot delete"
)

// Integrity rule names used as metric labels.
const (
	ruleTitleUnique = "title_unique"
	ruleOwnerExists = "owner_exists"
	ruleUserInUse   = "user_in_use"
)

// Guard pre-checks title uniqueness and user deletability.
//
// Checks are not linearizable: another writer can invalidate a passing check
// before the caller commits. The schema's UNIQUE(title) and ON DELETE RESTRICT
// constraints are the final authority, and Service maps their violations to
// the same codes returned here.
type Guard struct {
	notes NoteRepository
}

// NewGuard creates a guard reading from notes.
func NewGuard(notes NoteRepository) *Guard {
	return &Guard{notes: notes}
}

// CheckCreate rejects title when any note already holds it.
func (g *Guard) CheckCreate(ctx context.Context, title string) error {
	_, err := g.notes.GetNoteByTitle(ctx, title)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil
	case err != nil:
		return storageError(err)
	}
	return duplicateTitle(metrics.LayerGuard, nil)
}

// CheckUpdate rejects title when a note other than noteID holds it.
func (g *Guard) CheckUpdate(ctx context.Context, noteID, title string) error {
	holder, err := g.notes.GetNoteByTitle(ctx, title)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil
	case err != nil:
		return storageError(err)
	}
	if ids.Equal(holder.ID, noteID) {
		return nil
	}
	return duplicateTitle(metrics.LayerGuard, nil)
}

// CheckUserDeletable rejects deletion while any note references userID.
func (g *Guard) CheckUserDeletable(ctx context.Context, userID string) error {
	exists, err := g.notes.NoteExistsForUser(ctx, userID)
	if err != nil {
		return storageError(err)
	}
	if exists {
		return hasDependentNotes(metrics.LayerGuard, nil)
	}
	return nil
}

func duplicateTitle(layer string, cause error) error {
	metrics.IntegrityRejections.WithLabelValues(ruleTitleUnique, layer).Inc()
	return errs.Wrap(errs.DuplicateTitle, msgDuplicateTitle, cause)
}

func hasDependentNotes(layer string, cause error) error {
	metrics.IntegrityRejections.WithLabelValues(ruleUserInUse, layer).Inc()
	return errs.Wrap(errs.HasDependentNotes, msgHasDependentNotes, cause)
}

func storageError(cause error) error {
	return errs.Wrap(errs.StorageError, "Storage unavailable, try again", cause)
}
