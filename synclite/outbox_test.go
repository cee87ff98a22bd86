package synclite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayGrowth(t *testing.T) {
	require.Equal(t, 2*time.Second, backoffDelay(1))
	require.Equal(t, 4*time.Second, backoffDelay(2))
	require.Equal(t, 8*time.Second, backoffDelay(3))
	require.Equal(t, outboxMaxBackoff, backoffDelay(10))
	require.Equal(t, outboxMaxBackoff, backoffDelay(63)) // no shift overflow
}

func TestOutboxEnqueueAndPending(t *testing.T) {
	store := newTestStore(t)
	outbox := NewOutbox(store, nil)
	ctx := context.Background()

	seq1, err := outbox.Enqueue(ctx, Entry{
		TempID: "products_t1", ResourceType: "products", Op: OpCreate,
		Payload: Document{"name": "Widget"},
	})
	require.NoError(t, err)
	seq2, err := outbox.Enqueue(ctx, Entry{
		TempID: "products_t2", ResourceType: "products", Op: OpDelete, TargetID: "p9",
	})
	require.NoError(t, err)
	require.Greater(t, seq2, seq1)

	pending, err := outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, seq1, pending[0].Seq)
	require.Equal(t, "Widget", pending[0].Payload.str("name"))
	require.Equal(t, StatusPending, pending[0].Status)
	require.Equal(t, "p9", pending[1].TargetID)
	require.Nil(t, pending[1].Payload)
}

func TestOutboxBackoffSchedule(t *testing.T) {
	store := newTestStore(t)
	outbox := NewOutbox(store, nil)
	ctx := context.Background()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	outbox.now = func() time.Time { return now }

	_, err := outbox.Enqueue(ctx, Entry{
		TempID: "products_t1", ResourceType: "products", Op: OpCreate,
		Payload: Document{"name": "Widget"},
	})
	require.NoError(t, err)

	failing := func(ctx context.Context, resourceType string, op Op, payload Document, targetID string) (Document, error) {
		return nil, errors.New("server unreachable")
	}

	// First failure: retry in 2s, entry not yet due again.
	processed, err := outbox.ProcessQueue(ctx, failing)
	require.NoError(t, err)
	require.Equal(t, 0, processed)

	pending, err := outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].RetryCount)
	require.True(t, pending[0].NextAttemptAt.Equal(now.Add(2*time.Second)))

	// Not due yet: a sweep 1s later must skip it.
	now = now.Add(time.Second)
	processed, err = outbox.ProcessQueue(ctx, failing)
	require.NoError(t, err)
	require.Equal(t, 0, processed)
	pending, err = outbox.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pending[0].RetryCount)

	// Due again at +2s: second failure doubles the delay.
	now = now.Add(2 * time.Second)
	_, err = outbox.ProcessQueue(ctx, failing)
	require.NoError(t, err)
	pending, err = outbox.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pending[0].RetryCount)
	require.True(t, pending[0].NextAttemptAt.Equal(now.Add(4*time.Second)))
}

func TestOutboxTimeSortsLexicographically(t *testing.T) {
	base := time.Date(2026, 8, 28, 12, 0, 2, 0, time.UTC)
	half := base.Add(500 * time.Millisecond)

	// The due query compares these as strings, so string order must match
	// chronological order even across fractional seconds.
	require.Less(t, formatOutboxTime(base), formatOutboxTime(half))
	require.Less(t, formatOutboxTime(half), formatOutboxTime(base.Add(time.Second)))

	// RFC3339Nano trims trailing zeros and sorts these the wrong way round.
	require.Greater(t, base.Format(time.RFC3339Nano), half.Format(time.RFC3339Nano))
}

func TestOutboxDueAtFractionalSweepTime(t *testing.T) {
	store := newTestStore(t)
	outbox := NewOutbox(store, nil)
	ctx := context.Background()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	outbox.now = func() time.Time { return now }

	_, err := outbox.Enqueue(ctx, Entry{TempID: "products_t1", ResourceType: "products", Op: OpCreate})
	require.NoError(t, err)

	_, err = outbox.ProcessQueue(ctx,
		func(ctx context.Context, resourceType string, op Op, payload Document, targetID string) (Document, error) {
			return nil, errors.New("server unreachable")
		})
	require.NoError(t, err)

	// The retry is scheduled at a whole second; a sweep half a second past
	// it must still see the entry as due.
	now = now.Add(2500 * time.Millisecond)
	processed, err := outbox.ProcessQueue(ctx,
		func(ctx context.Context, resourceType string, op Op, payload Document, targetID string) (Document, error) {
			return nil, nil
		})
	require.NoError(t, err)
	require.Equal(t, 1, processed)
}

func TestOutboxConvergence(t *testing.T) {
	store := newTestStore(t)
	mapper := NewIDMapper(store, nil)
	outbox := NewOutbox(store, mapper)
	ctx := context.Background()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	outbox.now = func() time.Time { return now }

	tempID := NewTempID("products")
	env := ApplyOptimistic(Document{"name": "Widget"}, "create", tempID)
	env[FieldID] = tempID
	env[FieldResourceID] = tempID
	require.NoError(t, store.Put(ctx, "products", env))

	_, err := outbox.Enqueue(ctx, Entry{
		TempID: tempID, ResourceType: "products", Op: OpCreate,
		Payload: Document{"name": "Widget"},
	})
	require.NoError(t, err)

	attempts := 0
	flaky := func(ctx context.Context, resourceType string, op Op, payload Document, targetID string) (Document, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("server unreachable")
		}
		return Document{"id": "real-123", "resourceId": "real-123", "name": "Widget"}, nil
	}

	// The queue converges: repeated sweeps eventually confirm the entry.
	for i := 0; i < 10; i++ {
		if _, err := outbox.ProcessQueue(ctx, flaky); err != nil {
			t.Fatal(err)
		}
		pending, err := outbox.Pending(ctx)
		require.NoError(t, err)
		if len(pending) == 0 {
			break
		}
		now = pending[0].NextAttemptAt.Add(time.Millisecond)
	}

	pending, err := outbox.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Equal(t, 3, attempts)

	// The confirmed create renamed the temp document.
	_, err = store.Get(ctx, "products", tempID)
	require.ErrorIs(t, err, ErrNotFound)
	doc, err := store.Get(ctx, "products", "real-123")
	require.NoError(t, err)
	require.False(t, doc.IsOptimistic())
	require.Equal(t, "Widget", doc.str("name"))
}

func TestOutboxDeleteReplayDropsTombstone(t *testing.T) {
	store := newTestStore(t)
	outbox := NewOutbox(store, nil)
	ctx := context.Background()

	marked := MarkDeleted(Document{"id": "p1", "resourceId": "p1"}, "products_t1")
	require.NoError(t, store.Put(ctx, "products", marked))
	_, err := outbox.Enqueue(ctx, Entry{
		TempID: "products_t1", ResourceType: "products", Op: OpDelete, TargetID: "p1",
	})
	require.NoError(t, err)

	processed, err := outbox.ProcessQueue(ctx,
		func(ctx context.Context, resourceType string, op Op, payload Document, targetID string) (Document, error) {
			require.Equal(t, OpDelete, op)
			require.Equal(t, "p1", targetID)
			return nil, nil
		})
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	_, err = store.Get(ctx, "products", "p1")
	require.ErrorIs(t, err, ErrNotFound)
	pending, err := outbox.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestOutboxDeleteByTempID(t *testing.T) {
	store := newTestStore(t)
	outbox := NewOutbox(store, nil)
	ctx := context.Background()

	_, err := outbox.Enqueue(ctx, Entry{TempID: "products_t1", ResourceType: "products", Op: OpCreate})
	require.NoError(t, err)
	_, err = outbox.Enqueue(ctx, Entry{TempID: "products_t2", ResourceType: "products", Op: OpCreate})
	require.NoError(t, err)

	require.NoError(t, outbox.DeleteByTempID(ctx, "products_t1"))
	require.NoError(t, outbox.DeleteByTempID(ctx, "")) // no-op

	pending, err := outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "products_t2", pending[0].TempID)
}
