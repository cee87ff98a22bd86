package synclite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrOffline is returned by reads when the health gate reports the server
// unreachable; callers fall back to CachedList/CachedByID.
var ErrOffline = errors.New("synclite: network unavailable")

// RepositoryConfig wires one resource type's mutation/query gateway.
type RepositoryConfig struct {
	ResourceType string
	API          *APIClient
	Store        *Store
	Outbox       *Outbox

	// TempPrefix namespaces generated temp ids; defaults to ResourceType.
	TempPrefix string
	// Health optionally gates network access (nil means always try).
	Health HealthMonitor
	// Broadcast optionally receives a Change after every local write.
	Broadcast *Broadcaster
	Logger    *slog.Logger
}

// Repository is the single mutation/query gateway for one resource type,
// composing network access with local caching and optimistic fallback.
// Reads propagate network errors so the caller can choose a cache
// fallback. Writes never fail for the "likely offline" case; they degrade
// to an optimistic envelope plus an outbox entry, so the UI always gets a
// usable object back.
type Repository struct {
	resourceType string
	tempPrefix   string
	api          *APIClient
	store        *Store
	outbox       *Outbox
	health       HealthMonitor
	broadcast    *Broadcaster
	logger       *slog.Logger
}

// NewRepository validates the configuration and prepares the local table.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.ResourceType == "" {
		return nil, fmt.Errorf("ResourceType must be provided")
	}
	if cfg.API == nil || cfg.Store == nil || cfg.Outbox == nil {
		return nil, fmt.Errorf("API, Store and Outbox must be provided")
	}
	if cfg.TempPrefix == "" {
		cfg.TempPrefix = cfg.ResourceType
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.Store.EnsureTable(context.Background(), cfg.ResourceType); err != nil {
		return nil, err
	}
	return &Repository{
		resourceType: cfg.ResourceType,
		tempPrefix:   cfg.TempPrefix,
		api:          cfg.API,
		store:        cfg.Store,
		outbox:       cfg.Outbox,
		health:       cfg.Health,
		broadcast:    cfg.Broadcast,
		logger:       cfg.Logger,
	}, nil
}

// ResourceType returns the resource type this repository serves.
func (r *Repository) ResourceType() string { return r.resourceType }

func (r *Repository) offline() bool {
	return r.health != nil && !r.health.CanRequest()
}

// Query issues a GET with query-string-encoded params, normalizes the
// response, persists the result set and purges stale optimistic entries.
// Network errors propagate; the caller decides whether to fall back to
// CachedList.
func (r *Repository) Query(ctx context.Context, params url.Values) ([]Document, error) {
	if r.offline() {
		return nil, ErrOffline
	}
	refreshStart := time.Now()

	resp, err := r.api.Do(ctx, http.MethodGet, r.resourceType, "", params, nil)
	if err != nil {
		return nil, err
	}
	pl, err := decodeServerPayload(resp.Body, r.logger)
	if err != nil {
		return nil, err
	}

	var items []Document
	switch pl.Kind {
	case payloadList:
		items = pl.List
	case payloadObject:
		items = []Document{pl.Object}
	}

	// A complete fresh GET supersedes stale speculative state, but only
	// entries older than this refresh: an optimistic write landed while
	// the GET was in flight must survive until its own confirmation.
	if err := r.store.PutAll(ctx, r.resourceType, items); err != nil {
		r.logger.Warn("Failed to persist query results", "type", r.resourceType, "error", err)
	} else if err := r.clearOptimisticEntries(ctx, refreshStart); err != nil {
		r.logger.Warn("Failed to clear optimistic entries", "type", r.resourceType, "error", err)
	}

	return items, nil
}

// GetByID fetches a single resource, persists it and purges stale
// optimistic entries. Network errors propagate.
func (r *Repository) GetByID(ctx context.Context, id string) (Document, error) {
	if r.offline() {
		return nil, ErrOffline
	}
	refreshStart := time.Now()

	resp, err := r.api.Do(ctx, http.MethodGet, r.resourceType, id, nil, nil)
	if err != nil {
		return nil, err
	}
	pl, err := decodeServerPayload(resp.Body, r.logger)
	if err != nil {
		return nil, err
	}
	if pl.Kind != payloadObject {
		return nil, fmt.Errorf("no document in response for %s/%s", r.resourceType, id)
	}

	if err := r.store.Put(ctx, r.resourceType, pl.Object); err != nil {
		r.logger.Warn("Failed to persist document", "type", r.resourceType, "id", id, "error", err)
	} else if err := r.clearOptimisticEntries(ctx, refreshStart); err != nil {
		r.logger.Warn("Failed to clear optimistic entries", "type", r.resourceType, "error", err)
	}

	return pl.Object, nil
}

// Add POSTs a new resource. A definitive server object is normalized,
// best-effort persisted and returned; an async accept, an unresolvable
// response or a failed request all degrade to an optimistic envelope keyed
// by a fresh temp id plus an outbox create entry.
func (r *Repository) Add(ctx context.Context, resource Document) (Document, error) {
	if r.offline() {
		return r.optimisticCreate(ctx, resource)
	}

	resp, err := r.api.Do(ctx, http.MethodPost, r.resourceType, "", nil, resource)
	if err != nil {
		r.logger.Info("Create request failed, going optimistic",
			"type", r.resourceType, "error", err)
		return r.optimisticCreate(ctx, resource)
	}

	pl, err := decodeServerPayload(resp.Body, r.logger)
	if err != nil || resp.accepted() || pl.Accepted || pl.Kind != payloadObject {
		return r.optimisticCreate(ctx, resource)
	}

	r.persistBestEffort(ctx, pl.Object)
	r.publish(OpCreate, pl.Object)
	return pl.Object, nil
}

// Update PUTs an existing resource. The optimistic fallback keeps the
// document under its pre-existing id (the resource already has a real id)
// while the outbox entry gets a fresh temp id to track the attempt.
func (r *Repository) Update(ctx context.Context, id string, resource Document) (Document, error) {
	if r.offline() {
		return r.optimisticUpdate(ctx, id, resource)
	}

	resp, err := r.api.Do(ctx, http.MethodPut, r.resourceType, id, nil, resource)
	if err != nil {
		r.logger.Info("Update request failed, going optimistic",
			"type", r.resourceType, "id", id, "error", err)
		return r.optimisticUpdate(ctx, id, resource)
	}

	pl, err := decodeServerPayload(resp.Body, r.logger)
	if err != nil || resp.accepted() || pl.Accepted || pl.Kind != payloadObject {
		return r.optimisticUpdate(ctx, id, resource)
	}

	r.persistBestEffort(ctx, pl.Object)
	r.publish(OpUpdate, pl.Object)
	return pl.Object, nil
}

// Remove DELETEs a resource. On a definitive synchronous success the local
// document is dropped immediately; an async accept or a failed request
// instead tombstones the document (_deleted/_isOptimistic) so the UI can
// render a deleting state, and enqueues an outbox delete entry.
func (r *Repository) Remove(ctx context.Context, id string) error {
	if r.offline() {
		return r.optimisticDelete(ctx, id)
	}

	resp, err := r.api.Do(ctx, http.MethodDelete, r.resourceType, id, nil, nil)
	if err != nil {
		r.logger.Info("Delete request failed, going optimistic",
			"type", r.resourceType, "id", id, "error", err)
		return r.optimisticDelete(ctx, id)
	}
	if resp.accepted() {
		return r.optimisticDelete(ctx, id)
	}
	if hasAcceptedMarker(resp.Body) {
		return r.optimisticDelete(ctx, id)
	}

	if err := r.store.Delete(ctx, r.resourceType, id); err != nil {
		r.logger.Warn("Failed to drop deleted document", "type", r.resourceType, "id", id, "error", err)
	}
	r.publish(OpDelete, Document{FieldID: id, FieldResourceID: id})
	return nil
}

// CachedList reads the locally cached documents (offline read fallback).
func (r *Repository) CachedList(ctx context.Context) ([]Document, error) {
	return r.store.List(ctx, r.resourceType)
}

// CachedByID reads one locally cached document (offline read fallback).
func (r *Repository) CachedByID(ctx context.Context, id string) (Document, error) {
	return r.store.Get(ctx, r.resourceType, id)
}

func (r *Repository) optimisticCreate(ctx context.Context, resource Document) (Document, error) {
	tempID := NewTempID(r.tempPrefix)
	env := ApplyOptimistic(resource, string(OpCreate), tempID)
	env[FieldID] = tempID
	env[FieldResourceID] = tempID

	if err := r.store.Put(ctx, r.resourceType, env); err != nil {
		return nil, fmt.Errorf("failed to store optimistic create: %w", err)
	}
	if _, err := r.outbox.Enqueue(ctx, Entry{
		TempID:       tempID,
		ResourceType: r.resourceType,
		Op:           OpCreate,
		Payload:      resource.Clone(),
	}); err != nil {
		return nil, fmt.Errorf("failed to enqueue create: %w", err)
	}
	r.publish(OpCreate, env)
	return env, nil
}

func (r *Repository) optimisticUpdate(ctx context.Context, id string, resource Document) (Document, error) {
	tempID := NewTempID(r.tempPrefix)
	env := ApplyOptimistic(resource, string(OpUpdate), tempID)
	env[FieldID] = id
	env[FieldResourceID] = id

	if err := r.store.Put(ctx, r.resourceType, env); err != nil {
		return nil, fmt.Errorf("failed to store optimistic update: %w", err)
	}
	if _, err := r.outbox.Enqueue(ctx, Entry{
		TempID:       tempID,
		ResourceType: r.resourceType,
		Op:           OpUpdate,
		TargetID:     id,
		Payload:      resource.Clone(),
	}); err != nil {
		return nil, fmt.Errorf("failed to enqueue update: %w", err)
	}
	r.publish(OpUpdate, env)
	return env, nil
}

func (r *Repository) optimisticDelete(ctx context.Context, id string) error {
	doc, err := r.store.Get(ctx, r.resourceType, id)
	if errors.Is(err, ErrNotFound) {
		doc = Document{FieldID: id, FieldResourceID: id}
	} else if err != nil {
		return err
	}

	tempID := NewTempID(r.tempPrefix)
	marked := MarkDeleted(doc, tempID)
	if err := r.store.Put(ctx, r.resourceType, marked); err != nil {
		return fmt.Errorf("failed to store delete tombstone: %w", err)
	}
	if _, err := r.outbox.Enqueue(ctx, Entry{
		TempID:       tempID,
		ResourceType: r.resourceType,
		Op:           OpDelete,
		TargetID:     id,
	}); err != nil {
		return fmt.Errorf("failed to enqueue delete: %w", err)
	}
	r.publish(OpDelete, marked)
	return nil
}

// clearOptimisticEntries removes speculative documents left behind by
// earlier writes, but only those older than the refresh start time.
func (r *Repository) clearOptimisticEntries(ctx context.Context, before time.Time) error {
	docs, err := r.store.ListOptimistic(ctx, r.resourceType)
	if err != nil {
		return err
	}
	var keys []string
	for _, doc := range docs {
		if key := doc.Key(); key != "" && doc.UpdatedAt().Before(before) {
			keys = append(keys, key)
		}
	}
	return r.store.DeleteAll(ctx, r.resourceType, keys)
}

// persistBestEffort stores an authoritative server object; failures are
// logged only, since the caller still gets the object back.
func (r *Repository) persistBestEffort(ctx context.Context, doc Document) {
	if err := r.store.Put(ctx, r.resourceType, doc); err != nil {
		r.logger.Warn("Failed to persist server document",
			"type", r.resourceType, "id", doc.ID(), "error", err)
	}
}

func (r *Repository) publish(op Op, doc Document) {
	if r.broadcast == nil {
		return
	}
	r.broadcast.Publish(Change{
		Op:           op,
		ResourceType: r.resourceType,
		ID:           doc.Key(),
		Doc:          doc,
	})
}
