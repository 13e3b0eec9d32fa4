package db_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/kuitang/ticketnotes/internal/db"
	"github.com/kuitang/ticketnotes/internal/ids"
	"github.com/kuitang/ticketnotes/internal/testdb"
	"pgregory.net/rapid"
)

const ticketNamespace = "note ticket"

func newStore(t interface {
	Fatalf(format string, args ...any)
}) *db.Store {
	store, err := testdb.NewStoreInMemory("dbtest")
	if err != nil {
		t.Fatalf("failed to create in-memory store: %v", err)
	}
	return store
}

func mustInsertUser(t interface {
	Fatalf(format string, args ...any)
}, store *db.Store, username string) db.UserRecord {
	u := db.UserRecord{
		ID:           ids.New(),
		Username:     username,
		PasswordHash: "$fake$secret",
		Roles:        []string{"Employee"},
		Active:       true,
		CreatedAt:    1,
		UpdatedAt:    1,
	}
	if err := store.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("InsertUser(%q) failed: %v", username, err)
	}
	return u
}

func noteFor(userID, title string, ticket int64) db.NoteRecord {
	return db.NoteRecord{
		ID:        ids.New(),
		Ticket:    ticket,
		UserID:    userID,
		Title:     title,
		Text:      "body",
		CreatedAt: 1,
		UpdatedAt: 1,
	}
}

// =============================================================================
// Sequence counter
// =============================================================================

func testNextSequence_StrictlyIncreasing(t *rapid.T) {
	store := newStore(t)
	defer store.Close()
	ctx := context.Background()

	start := rapid.Int64Range(0, 1_000_000).Draw(t, "start")
	store.SetSequenceStart(start)
	n := rapid.IntRange(1, 30).Draw(t, "n")

	if _, ok, err := store.CurrentSequence(ctx, ticketNamespace); err != nil || ok {
		t.Fatalf("fresh namespace should be unset: ok=%v err=%v", ok, err)
	}

	prev := start - 1
	for i := 0; i < n; i++ {
		v, err := store.NextSequence(ctx, ticketNamespace)
		if err != nil {
			t.Fatalf("NextSequence failed: %v", err)
		}
		if v != prev+1 {
			t.Fatalf("NextSequence = %d, want %d", v, prev+1)
		}
		prev = v
	}

	current, ok, err := store.CurrentSequence(ctx, ticketNamespace)
	if err != nil || !ok || current != prev {
		t.Fatalf("CurrentSequence = (%d, %v, %v), want (%d, true, nil)", current, ok, err, prev)
	}
}

func TestNextSequence_StrictlyIncreasing(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testNextSequence_StrictlyIncreasing)
}

func FuzzNextSequence_StrictlyIncreasing(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testNextSequence_StrictlyIncreasing))
}

func TestNextSequence_NamespacesAreIndependent(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	defer store.Close()
	ctx := context.Background()

	a1, _ := store.NextSequence(ctx, "a")
	a2, _ := store.NextSequence(ctx, "a")
	b1, err := store.NextSequence(ctx, "b")
	if err != nil {
		t.Fatalf("NextSequence(b) failed: %v", err)
	}
	if a1 != db.DefaultSequenceStart || a2 != db.DefaultSequenceStart+1 || b1 != db.DefaultSequenceStart {
		t.Fatalf("unexpected values a1=%d a2=%d b1=%d", a1, a2, b1)
	}

	if _, err := store.NextSequence(ctx, ""); err == nil {
		t.Fatal("expected error for empty namespace")
	}
}

func TestNextSequence_ConcurrentCallersGetDistinctValues(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	defer store.Close()

	const callers = 64
	values := make([]int64, callers)
	var wg sync.WaitGroup
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := store.NextSequence(context.Background(), ticketNamespace)
			if err != nil {
				errCh <- err
				return
			}
			values[i] = v
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("NextSequence failed: %v", err)
	}

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	for i, v := range values {
		if want := db.DefaultSequenceStart + int64(i); v != want {
			t.Fatalf("values[%d] = %d, want %d (all=%v)", i, v, want, values)
		}
	}
}

func TestNextSequence_CanceledContextFails(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.NextSequence(ctx, ticketNamespace); err == nil {
		t.Fatal("expected error for canceled context")
	}

	v, err := store.NextSequence(context.Background(), ticketNamespace)
	if err != nil || v != db.DefaultSequenceStart {
		t.Fatalf("NextSequence after cancel = (%d, %v), want (%d, nil)", v, err, db.DefaultSequenceStart)
	}
}

// =============================================================================
// Constraints
// =============================================================================

func testInsertNote_DuplicateTitleIsUniqueViolation(t *rapid.T) {
	store := newStore(t)
	defer store.Close()
	ctx := context.Background()

	user := mustInsertUser(t, store, "owner")
	title := rapid.StringMatching(`[A-Za-z0-9 ]{1,40}`).Draw(t, "title")

	if err := store.InsertNote(ctx, noteFor(user.ID, title, 1)); err != nil {
		t.Fatalf("first InsertNote failed: %v", err)
	}
	err := store.InsertNote(ctx, noteFor(user.ID, title, 2))
	if err == nil {
		t.Fatal("expected unique violation for duplicate title")
	}
	if !errors.Is(err, db.ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got %v", err)
	}
	if !db.IsUniqueViolation(err, "notes.title") {
		t.Fatalf("expected violation on notes.title, got %v", err)
	}
}

func TestInsertNote_DuplicateTitleIsUniqueViolation(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testInsertNote_DuplicateTitleIsUniqueViolation)
}

func TestInsertNote_UnknownOwnerIsForeignKeyViolation(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	defer store.Close()

	err := store.InsertNote(context.Background(), noteFor(ids.New(), "orphan", 1))
	if !errors.Is(err, db.ErrForeignKeyViolation) {
		t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
	}
}

func TestDeleteUser_RestrictedWhileNotesReferenceIt(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	defer store.Close()
	ctx := context.Background()

	user := mustInsertUser(t, store, "alice")
	note := noteFor(user.ID, "Buy milk", 500)
	if err := store.InsertNote(ctx, note); err != nil {
		t.Fatalf("InsertNote failed: %v", err)
	}

	exists, err := store.NoteExistsForUser(ctx, user.ID)
	if err != nil || !exists {
		t.Fatalf("NoteExistsForUser = (%v, %v), want (true, nil)", exists, err)
	}

	if err := store.DeleteUser(ctx, user.ID); !errors.Is(err, db.ErrForeignKeyViolation) {
		t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
	}

	if err := store.DeleteNote(ctx, note.ID); err != nil {
		t.Fatalf("DeleteNote failed: %v", err)
	}
	if err := store.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser after note removal failed: %v", err)
	}
	if _, err := store.GetUser(ctx, user.ID); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestInsertUser_DuplicateUsername(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	defer store.Close()

	mustInsertUser(t, store, "bob")
	dup := db.UserRecord{ID: ids.New(), Username: "bob", PasswordHash: "x", Roles: []string{"Admin"}, Active: true}
	err := store.InsertUser(context.Background(), dup)
	if !db.IsUniqueViolation(err, "users.username") {
		t.Fatalf("expected unique violation on users.username, got %v", err)
	}
}

// =============================================================================
// Note and user round trips
// =============================================================================

func testReplaceNote_KeepsTicketAndCreatedAt(t *rapid.T) {
	store := newStore(t)
	defer store.Close()
	ctx := context.Background()

	alice := mustInsertUser(t, store, "alice")
	bob := mustInsertUser(t, store, "bob")

	ticket := rapid.Int64Range(1, 1<<40).Draw(t, "ticket")
	note := noteFor(alice.ID, "original", ticket)
	note.CreatedAt = 100
	note.UpdatedAt = 100
	if err := store.InsertNote(ctx, note); err != nil {
		t.Fatalf("InsertNote failed: %v", err)
	}

	replacement := db.NoteRecord{
		ID:        note.ID,
		Ticket:    ticket + 1, // ignored
		UserID:    bob.ID,
		Title:     rapid.StringMatching(`[A-Za-z ]{1,30}`).Draw(t, "title"),
		Text:      rapid.StringMatching(`[A-Za-z0-9 ]{0,60}`).Draw(t, "text"),
		Completed: rapid.Bool().Draw(t, "completed"),
		CreatedAt: 999, // ignored
		UpdatedAt: 200,
	}
	if err := store.ReplaceNote(ctx, replacement); err != nil {
		t.Fatalf("ReplaceNote failed: %v", err)
	}

	got, err := store.GetNote(ctx, note.ID)
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	want := replacement
	want.Ticket = ticket
	want.CreatedAt = 100
	if got != want {
		t.Fatalf("GetNote = %+v, want %+v", got, want)
	}
}

func TestReplaceNote_KeepsTicketAndCreatedAt(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testReplaceNote_KeepsTicketAndCreatedAt)
}

func TestReplaceAndDelete_MissingRowsReportNotFound(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.ReplaceNote(ctx, noteFor(ids.New(), "x", 1)); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("ReplaceNote missing: expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteNote(ctx, ids.New()); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("DeleteNote missing: expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteUser(ctx, ids.New()); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("DeleteUser missing: expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetNoteByTitle(ctx, "nothing"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("GetNoteByTitle missing: expected ErrNotFound, got %v", err)
	}
}

func TestListNotes_TicketOrder(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	defer store.Close()
	ctx := context.Background()

	user := mustInsertUser(t, store, "carol")
	for _, ticket := range []int64{503, 501, 502} {
		if err := store.InsertNote(ctx, noteFor(user.ID, fmt.Sprintf("note %d", ticket), ticket)); err != nil {
			t.Fatalf("InsertNote failed: %v", err)
		}
	}

	notes, err := store.ListNotes(ctx)
	if err != nil {
		t.Fatalf("ListNotes failed: %v", err)
	}
	if len(notes) != 3 {
		t.Fatalf("expected 3 notes, got %d", len(notes))
	}
	for i, n := range notes {
		if want := int64(501 + i); n.Ticket != want {
			t.Fatalf("notes[%d].Ticket = %d, want %d", i, n.Ticket, want)
		}
	}
}

func TestUserRoundtrip_RolesAndActive(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	defer store.Close()
	ctx := context.Background()

	u := mustInsertUser(t, store, "dave")
	u.Roles = []string{"Employee", "Manager"}
	u.Active = false
	u.UpdatedAt = 2
	if err := store.ReplaceUser(ctx, u); err != nil {
		t.Fatalf("ReplaceUser failed: %v", err)
	}

	got, err := store.GetUserByUsername(ctx, "dave")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if got.Active || len(got.Roles) != 2 || got.Roles[1] != "Manager" {
		t.Fatalf("unexpected user after replace: %+v", got)
	}

	all, err := store.ListUsers(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListUsers = (%d users, %v), want 1", len(all), err)
	}
}
