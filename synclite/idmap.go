package synclite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Reference declares a foreign-key field in another table that may point
// at a temporary id of the mapped resource type.
type Reference struct {
	Table string
	Field string
}

// DefaultReferences covers the known cross-resource relationship: an
// appointment references its patient.
func DefaultReferences() map[string][]Reference {
	return map[string][]Reference{
		"patients": {{Table: "appointments", Field: "patientId"}},
	}
}

// IDMapper maintains the persistent mapping from client-generated
// temporary ids to server-confirmed permanent ids, and performs the
// rename-plus-reference-rewrite when a mapping becomes known.
type IDMapper struct {
	store  *Store
	refs   map[string][]Reference
	logger *slog.Logger
	now    func() time.Time
}

// NewIDMapper creates a mapper. refs declares, per resource type, the
// foreign-key fields elsewhere that must be rewritten when that type's
// temp id resolves; nil means DefaultReferences.
func NewIDMapper(store *Store, refs map[string][]Reference) *IDMapper {
	if refs == nil {
		refs = DefaultReferences()
	}
	return &IDMapper{
		store:  store,
		refs:   refs,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// SetLogger overrides the default logger.
func (m *IDMapper) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// MapTempToPerm records the tempID -> permID resolution and reconciles
// local state in one transaction:
//
//  1. append the mapping to _sync_idmap (append-only audit record),
//  2. rename the temp-keyed document to the permanent key with its
//     optimistic envelope stripped; exactly one document exists after,
//  3. rewrite declared foreign references that still point at tempID.
//
// The whole operation is idempotent: resolving the same temp id twice
// (duplicate WebSocket delivery racing an outbox confirmation) finds no
// temp-keyed document the second time and changes nothing.
func (m *IDMapper) MapTempToPerm(ctx context.Context, resourceType, tempID, permID string) error {
	if tempID == "" || permID == "" || tempID == permID {
		return nil
	}
	if err := m.store.EnsureTable(ctx, resourceType); err != nil {
		return err
	}
	for _, ref := range m.refs[resourceType] {
		if err := m.store.EnsureTable(ctx, ref.Table); err != nil {
			return err
		}
	}

	return m.store.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT OR IGNORE INTO _sync_idmap (temp_id, perm_id, resource_type, created_at)
			VALUES (?, ?, ?, ?)
		`, tempID, permID, resourceType, m.now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to record id mapping %s -> %s: %w", tempID, permID, err)
		}

		doc, err := tx.Get(ctx, resourceType, tempID)
		switch {
		case err == nil:
			clean := ClearOptimistic(doc)
			clean[FieldID] = permID
			clean[FieldResourceID] = permID
			if err := tx.Delete(ctx, resourceType, tempID); err != nil {
				return err
			}
			if err := tx.Put(ctx, resourceType, clean); err != nil {
				return err
			}
		case errors.Is(err, ErrNotFound):
			// Already renamed by the other confirmation path.
		default:
			return err
		}

		for _, ref := range m.refs[resourceType] {
			if err := m.rewriteReferences(ctx, tx, ref, tempID, permID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Resolve returns the permanent id previously recorded for tempID, or ""
// when the mapping is unknown.
func (m *IDMapper) Resolve(ctx context.Context, tempID string) (string, error) {
	var permID string
	err := m.store.db.QueryRowContext(ctx,
		`SELECT perm_id FROM _sync_idmap WHERE temp_id = ?`, tempID).Scan(&permID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve temp id %s: %w", tempID, err)
	}
	return permID, nil
}

func (m *IDMapper) rewriteReferences(ctx context.Context, tx *Tx, ref Reference, tempID, permID string) error {
	docs, err := tx.List(ctx, ref.Table)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.str(ref.Field) != tempID {
			continue
		}
		updated := doc.Clone()
		updated[ref.Field] = permID
		if err := tx.Put(ctx, ref.Table, updated); err != nil {
			return fmt.Errorf("failed to rewrite %s.%s reference %s -> %s: %w",
				ref.Table, ref.Field, tempID, permID, err)
		}
	}
	return nil
}
