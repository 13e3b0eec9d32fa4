package notes

import (
	"context"
	"time"

	"github.com/kuitang/ticketnotes/internal/db"
)

// TicketNamespace is the sequence namespace note tickets are drawn from.
const TicketNamespace = "note ticket"

// Note is a stored note as returned to callers.
type Note struct {
	ID        string    `json:"id"`
	Ticket    int64     `json:"ticket"`
	User      string    `json:"user"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NoteWithOwner is a listed note with its owner's username attached.
// Username is nil when the owner could not be resolved.
type NoteWithOwner struct {
	Note
	Username *string `json:"username"`
}

// CreateNoteParams contains parameters for creating a note.
type CreateNoteParams struct {
	User  string `json:"user"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// UpdateNoteParams contains parameters for updating a note. Every mutable
// field is replaced; Completed must be set explicitly.
type UpdateNoteParams struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Completed *bool  `json:"completed"`
}

// DeleteNoteResult confirms a note deletion.
type DeleteNoteResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// DeleteUserResult confirms a user deletion.
type DeleteUserResult struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// NoteRepository is the note storage the service writes through.
type NoteRepository interface {
	InsertNote(ctx context.Context, n db.NoteRecord) error
	GetNote(ctx context.Context, id string) (db.NoteRecord, error)
	GetNoteByTitle(ctx context.Context, title string) (db.NoteRecord, error)
	ReplaceNote(ctx context.Context, n db.NoteRecord) error
	DeleteNote(ctx context.Context, id string) error
	ListNotes(ctx context.Context) ([]db.NoteRecord, error)
	NoteExistsForUser(ctx context.Context, userID string) (bool, error)
}

// UserRepository is the subset of user storage notes depend on.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (db.UserRecord, error)
	DeleteUser(ctx context.Context, id string) error
}

// Counter is a persisted, namespaced increment-and-fetch counter.
type Counter interface {
	NextSequence(ctx context.Context, namespace string) (int64, error)
	CurrentSequence(ctx context.Context, namespace string) (value int64, ok bool, err error)
}

func noteFromRecord(r db.NoteRecord) Note {
	return Note{
		ID:        r.ID,
		Ticket:    r.Ticket,
		User:      r.UserID,
		Title:     r.Title,
		Text:      r.Text,
		Completed: r.Completed,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
}
