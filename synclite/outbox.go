package synclite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Op identifies the mutation an outbox entry replays.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Outbox entry statuses. Entries cycle pending -> retrying (in flight) ->
// pending with backoff on failure, and are deleted on confirmed success.
const (
	StatusPending  = "pending"
	StatusRetrying = "retrying"
)

// Entry is one not-yet-confirmed mutation awaiting delivery.
type Entry struct {
	Seq           int64
	TempID        string
	ResourceType  string
	Op            Op
	TargetID      string
	Payload       Document
	CreatedAt     time.Time
	Status        string
	RetryCount    int
	NextAttemptAt time.Time // zero means immediately eligible
}

// ReplayFunc performs the HTTP call an original Repository mutation would
// have made: POST for create, PUT /{targetID} for update, DELETE
// /{targetID} for delete (no body). It returns the normalized server
// document when one is available.
type ReplayFunc func(ctx context.Context, resourceType string, op Op, payload Document, targetID string) (Document, error)

const (
	outboxBatchSize  = 20
	outboxMaxBackoff = 5 * time.Minute
)

// outboxTimeLayout is fixed-width (zero-padded nanoseconds, UTC) so the
// lexicographic string comparison in the due query matches chronological
// order; RFC3339Nano trims trailing zeros and does not sort.
const outboxTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatOutboxTime(t time.Time) string {
	return t.UTC().Format(outboxTimeLayout)
}

// Outbox is the durable log of pending mutations, replayed with capped
// exponential backoff whenever connectivity allows.
type Outbox struct {
	store  *Store
	mapper *IDMapper
	logger *slog.Logger
	now    func() time.Time
}

// NewOutbox creates an outbox over the store. mapper may be nil when no
// temp-id reconciliation is wanted (tests, delete-only flows).
func NewOutbox(store *Store, mapper *IDMapper) *Outbox {
	return &Outbox{
		store:  store,
		mapper: mapper,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// SetLogger overrides the default logger.
func (o *Outbox) SetLogger(logger *slog.Logger) {
	if logger != nil {
		o.logger = logger
	}
}

// Enqueue appends a mutation to the outbox, stamping it pending with a
// fresh creation time and zero retries.
func (o *Outbox) Enqueue(ctx context.Context, e Entry) (int64, error) {
	var payload sql.NullString
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal outbox payload: %w", err)
		}
		payload = sql.NullString{String: string(raw), Valid: true}
	}
	res, err := o.store.db.ExecContext(ctx, `
		INSERT INTO _sync_outbox (temp_id, resource_type, op, target_id, payload, created_at, status, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, e.TempID, e.ResourceType, string(e.Op), e.TargetID, payload,
		formatOutboxTime(o.now()), StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox seq: %w", err)
	}
	return seq, nil
}

// ProcessQueue replays up to one batch of due entries sequentially.
// Per-entry failures never abort the batch; they only push that entry's
// next attempt out with capped exponential backoff. On a successful create
// replay that yields a server id, the temp id is reconciled through the
// IDMapper before the entry is deleted.
func (o *Outbox) ProcessQueue(ctx context.Context, replay ReplayFunc) (int, error) {
	entries, err := o.due(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range entries {
		e := &entries[i]
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		if err := o.setStatus(ctx, e.Seq, StatusRetrying); err != nil {
			o.logger.Warn("Failed to mark outbox entry retrying", "seq", e.Seq, "error", err)
		}

		result, err := replay(ctx, e.ResourceType, e.Op, e.Payload, e.TargetID)
		if err != nil {
			o.logger.Info("Outbox replay failed, backing off",
				"seq", e.Seq, "type", e.ResourceType, "op", e.Op,
				"retries", e.RetryCount+1, "error", err)
			if ferr := o.fail(ctx, e); ferr != nil {
				o.logger.Warn("Failed to record outbox backoff", "seq", e.Seq, "error", ferr)
			}
			continue
		}

		if e.Op == OpCreate && e.TempID != "" && o.mapper != nil {
			if permID := result.ID(); permID != "" {
				if merr := o.mapper.MapTempToPerm(ctx, e.ResourceType, e.TempID, permID); merr != nil {
					o.logger.Warn("Failed to reconcile temp id after replay",
						"tempId", e.TempID, "permId", permID, "error", merr)
				}
			}
		}

		if e.Op == OpDelete && e.TargetID != "" {
			// Confirmed delete: drop the locally tombstoned document.
			if derr := o.store.Delete(ctx, e.ResourceType, e.TargetID); derr != nil {
				o.logger.Warn("Failed to drop tombstone after delete replay",
					"type", e.ResourceType, "id", e.TargetID, "error", derr)
			}
		}

		if err := o.deleteEntry(ctx, e.Seq); err != nil {
			o.logger.Warn("Failed to delete confirmed outbox entry", "seq", e.Seq, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// DeleteByTempID removes every entry tracking tempID; called when a server
// confirmation arrives over the WebSocket instead of a replay response.
func (o *Outbox) DeleteByTempID(ctx context.Context, tempID string) error {
	if tempID == "" {
		return nil
	}
	_, err := o.store.db.ExecContext(ctx, `DELETE FROM _sync_outbox WHERE temp_id = ?`, tempID)
	if err != nil {
		return fmt.Errorf("failed to delete outbox entries for %s: %w", tempID, err)
	}
	return nil
}

// Pending returns every outstanding entry in insertion order.
func (o *Outbox) Pending(ctx context.Context) ([]Entry, error) {
	return o.scan(ctx, `
		SELECT seq, temp_id, resource_type, op, target_id, payload, created_at, status, retry_count, next_attempt_at
		FROM _sync_outbox ORDER BY seq`)
}

// due selects up to one batch of entries eligible for replay now.
func (o *Outbox) due(ctx context.Context) ([]Entry, error) {
	return o.scan(ctx, `
		SELECT seq, temp_id, resource_type, op, target_id, payload, created_at, status, retry_count, next_attempt_at
		FROM _sync_outbox
		WHERE status IN (?, ?) AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY seq
		LIMIT ?`,
		StatusPending, StatusRetrying, formatOutboxTime(o.now()), outboxBatchSize)
}

func (o *Outbox) scan(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := o.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var op, createdAt string
		var targetID, payload, nextAttempt sql.NullString
		if err := rows.Scan(&e.Seq, &e.TempID, &e.ResourceType, &op, &targetID,
			&payload, &createdAt, &e.Status, &e.RetryCount, &nextAttempt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		e.Op = Op(op)
		e.TargetID = targetID.String
		if t, ok := parseTime(createdAt); ok {
			e.CreatedAt = t
		}
		if t, ok := parseTime(nextAttempt.String); ok {
			e.NextAttemptAt = t
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal outbox payload %d: %w", e.Seq, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox: %w", err)
	}
	return entries, nil
}

func (o *Outbox) setStatus(ctx context.Context, seq int64, status string) error {
	_, err := o.store.db.ExecContext(ctx,
		`UPDATE _sync_outbox SET status = ? WHERE seq = ?`, status, seq)
	return err
}

// fail records one more failed attempt: increment the retry counter, push
// the next attempt out by min(2^retryCount seconds, 5 minutes), and return
// the entry to pending for the next sweep.
func (o *Outbox) fail(ctx context.Context, e *Entry) error {
	e.RetryCount++
	next := o.now().Add(backoffDelay(e.RetryCount))
	_, err := o.store.db.ExecContext(ctx, `
		UPDATE _sync_outbox SET status = ?, retry_count = ?, next_attempt_at = ? WHERE seq = ?
	`, StatusPending, e.RetryCount, formatOutboxTime(next), e.Seq)
	return err
}

func (o *Outbox) deleteEntry(ctx context.Context, seq int64) error {
	_, err := o.store.db.ExecContext(ctx, `DELETE FROM _sync_outbox WHERE seq = ?`, seq)
	return err
}

func backoffDelay(retryCount int) time.Duration {
	if retryCount > 18 {
		return outboxMaxBackoff
	}
	d := time.Duration(1<<uint(retryCount)) * time.Second
	if d > outboxMaxBackoff {
		d = outboxMaxBackoff
	}
	return d
}
