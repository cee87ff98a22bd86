package synclite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a document is absent from the local store.
var ErrNotFound = errors.New("synclite: document not found")

// Store is a thin per-table document adapter over a SQLite database. Each
// resource type gets its own table keyed by resourceId; sync metadata lives
// in the _sync_outbox and _sync_idmap tables.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex // guards tables
	tables map[string]bool
}

var tableNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// OpenStore initializes the sync metadata tables on db and returns a Store.
func OpenStore(db *sql.DB) (*Store, error) {
	// WAL keeps readers unblocked while the outbox and handler write.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS _sync_outbox (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			temp_id         TEXT NOT NULL,
			resource_type   TEXT NOT NULL,
			op              TEXT NOT NULL CHECK (op IN ('create','update','delete')),
			target_id       TEXT,
			payload         TEXT,
			created_at      TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			retry_count     INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON _sync_outbox(status)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_temp_id ON _sync_outbox(temp_id)`,

		`CREATE TABLE IF NOT EXISTS _sync_idmap (
			temp_id       TEXT PRIMARY KEY,
			perm_id       TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			created_at    TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create sync table: %w", err)
		}
	}

	return &Store{
		db:     db,
		logger: slog.Default(),
		tables: make(map[string]bool),
	}, nil
}

// SetLogger overrides the default logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// EnsureTable creates the document table for a resource type if missing.
func (s *Store) EnsureTable(ctx context.Context, table string) error {
	if !tableNameRe.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[table] {
		return nil
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		resource_id TEXT PRIMARY KEY,
		doc         TEXT NOT NULL,
		updated_at  TEXT NOT NULL DEFAULT '',
		optimistic  INTEGER NOT NULL DEFAULT 0
	)`, table))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	s.tables[table] = true
	return nil
}

// dbtx abstracts *sql.DB and *sql.Tx so every document operation can run
// either standalone or inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func putDoc(ctx context.Context, q dbtx, table string, doc Document) error {
	key := doc.Key()
	if key == "" {
		return fmt.Errorf("document for table %s has no resourceId/id", table)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s.%s: %w", table, key, err)
	}
	optimistic := 0
	if doc.IsOptimistic() {
		optimistic = 1
	}
	updatedAt := ""
	if t := doc.UpdatedAt(); !t.IsZero() {
		updatedAt = t.UTC().Format(time.RFC3339Nano)
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %q (resource_id, doc, updated_at, optimistic) VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			doc = excluded.doc,
			updated_at = excluded.updated_at,
			optimistic = excluded.optimistic
	`, table), key, string(raw), updatedAt, optimistic)
	if err != nil {
		return fmt.Errorf("failed to upsert %s.%s: %w", table, key, err)
	}
	return nil
}

func getDoc(ctx context.Context, q dbtx, table, id string) (Document, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT doc FROM %q WHERE resource_id = ?`, table), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s.%s: %w", table, id, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s.%s: %w", table, id, err)
	}
	return doc, nil
}

func deleteDoc(ctx context.Context, q dbtx, table, id string) error {
	_, err := q.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %q WHERE resource_id = ?`, table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s.%s: %w", table, id, err)
	}
	return nil
}

func listDocs(ctx context.Context, q dbtx, table, where string, args ...any) ([]Document, error) {
	query := fmt.Sprintf(`SELECT doc FROM %q`, table)
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s row: %w", table, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}
	return docs, nil
}

// Put upserts a single document keyed by its resourceId.
func (s *Store) Put(ctx context.Context, table string, doc Document) error {
	if err := s.EnsureTable(ctx, table); err != nil {
		return err
	}
	return putDoc(ctx, s.db, table, doc)
}

// PutAll upserts a batch of documents in one transaction.
func (s *Store) PutAll(ctx context.Context, table string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := s.EnsureTable(ctx, table); err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, doc := range docs {
			if err := tx.Put(ctx, table, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the document stored under id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, table, id string) (Document, error) {
	if err := s.EnsureTable(ctx, table); err != nil {
		return nil, err
	}
	return getDoc(ctx, s.db, table, id)
}

// Delete removes the document stored under id. Missing ids are a no-op.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := s.EnsureTable(ctx, table); err != nil {
		return err
	}
	return deleteDoc(ctx, s.db, table, id)
}

// DeleteAll removes a batch of documents in one transaction.
func (s *Store) DeleteAll(ctx context.Context, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.EnsureTable(ctx, table); err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, id := range ids {
			if err := tx.Delete(ctx, table, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns every document in the table.
func (s *Store) List(ctx context.Context, table string) ([]Document, error) {
	if err := s.EnsureTable(ctx, table); err != nil {
		return nil, err
	}
	return listDocs(ctx, s.db, table, "")
}

// ListOptimistic returns the documents flagged as speculative writes.
func (s *Store) ListOptimistic(ctx context.Context, table string) ([]Document, error) {
	if err := s.EnsureTable(ctx, table); err != nil {
		return nil, err
	}
	return listDocs(ctx, s.db, table, "optimistic = 1")
}

// Tx exposes document operations inside a transaction.
type Tx struct {
	tx *sql.Tx
}

// Put upserts a document within the transaction.
func (t *Tx) Put(ctx context.Context, table string, doc Document) error {
	return putDoc(ctx, t.tx, table, doc)
}

// Get returns the document stored under id within the transaction.
func (t *Tx) Get(ctx context.Context, table, id string) (Document, error) {
	return getDoc(ctx, t.tx, table, id)
}

// Delete removes a document within the transaction.
func (t *Tx) Delete(ctx context.Context, table, id string) error {
	return deleteDoc(ctx, t.tx, table, id)
}

// List returns every document in the table within the transaction.
func (t *Tx) List(ctx context.Context, table string) ([]Document, error) {
	return listDocs(ctx, t.tx, table, "")
}

// Exec runs a raw statement within the transaction (sync metadata tables).
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// WithTx runs fn inside a single SQLite transaction, committing on nil and
// rolling back otherwise. Multi-document consistency (the id-map rename and
// reference rewrite) goes through here; single-document Put/Delete are
// individually atomic already.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}
