package notes

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/kuitang/ticketnotes/internal/db"
	"github.com/kuitang/ticketnotes/internal/metrics"
	"github.com/kuitang/ticketnotes/internal/obs"
)

// DefaultJoinConcurrency bounds concurrent owner lookups per listing.
const DefaultJoinConcurrency = 8

// OwnerJoin attaches owner usernames to listed notes.
type OwnerJoin struct {
	users       UserRepository
	concurrency int
}

// NewOwnerJoin creates a join resolving owners through users. A concurrency
// below one uses DefaultJoinConcurrency.
func NewOwnerJoin(users UserRepository, concurrency int) *OwnerJoin {
	if concurrency < 1 {
		concurrency = DefaultJoinConcurrency
	}
	return &OwnerJoin{users: users, concurrency: concurrency}
}

// Attach resolves each distinct owner once and returns the notes in input
// order. A lookup failure leaves that note's Username nil; it never fails
// the whole join.
func (j *OwnerJoin) Attach(ctx context.Context, records []db.NoteRecord) []NoteWithOwner {
	owners := make([]string, 0, len(records))
	index := make(map[string]int, len(records))
	for _, r := range records {
		if _, ok := index[r.UserID]; ok {
			continue
		}
		index[r.UserID] = len(owners)
		owners = append(owners, r.UserID)
	}

	// Each goroutine writes only its own slot.
	names := make([]*string, len(owners))
	var g errgroup.Group
	g.SetLimit(j.concurrency)
	for i, owner := range owners {
		g.Go(func() error {
			names[i] = j.lookup(ctx, owner)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]NoteWithOwner, len(records))
	for i, r := range records {
		out[i] = NoteWithOwner{
			Note:     noteFromRecord(r),
			Username: names[index[r.UserID]],
		}
	}
	return out
}

func (j *OwnerJoin) lookup(ctx context.Context, userID string) *string {
	user, err := j.users.GetUser(ctx, userID)
	if err != nil {
		metrics.OwnerLookupFailures.Inc()
		reason := "storage_error"
		if errors.Is(err, db.ErrNotFound) {
			reason = "missing_owner"
		}
		obs.From(ctx).Warn("owner_lookup_failed", "pkg", "notes", "user_id", userID, "reason", reason, "error", err)
		return nil
	}
	name := user.Username
	return &name
}
