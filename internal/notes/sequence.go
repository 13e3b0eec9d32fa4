package notes

import (
	"context"

	"github.com/kuitang/ticketnotes/internal/errs"
	"github.com/kuitang/ticketnotes/internal/metrics"
	"github.com/kuitang/ticketnotes/internal/obs"
)

// Allocator hands out unique, strictly increasing integers per namespace.
// All ordering comes from the counter's atomic increment; the allocator
// holds no state of its own.
type Allocator struct {
	counter Counter
}

// NewAllocator creates an allocator over a persisted counter.
func NewAllocator(counter Counter) *Allocator {
	return &Allocator{counter: counter}
}

// Allocate returns the next value for namespace. The value is durable before
// it is returned. Any storage failure is reported as AllocationFailed.
func (a *Allocator) Allocate(ctx context.Context, namespace string) (int64, error) {
	value, err := a.counter.NextSequence(ctx, namespace)
	if err != nil {
		metrics.TicketAllocationErrors.WithLabelValues(namespace).Inc()
		obs.From(ctx).Error("sequence_allocation_failed", "pkg", "notes", "namespace", namespace, "error", err)
		return 0, errs.Wrap(errs.AllocationFailed, "Could not allocate a ticket number", err)
	}
	metrics.TicketsAllocated.WithLabelValues(namespace).Inc()
	return value, nil
}

// Last returns the most recent value issued for namespace without advancing
// it. ok is false when nothing has been issued yet.
func (a *Allocator) Last(ctx context.Context, namespace string) (int64, bool, error) {
	value, ok, err := a.counter.CurrentSequence(ctx, namespace)
	if err != nil {
		return 0, false, storageError(err)
	}
	return value, ok, nil
}
