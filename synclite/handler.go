package synclite

import (
	"context"
	"errors"
	"log/slog"
)

// HandlerConfig wires the WebSocket resource handler.
type HandlerConfig struct {
	Store  *Store
	Mapper *IDMapper
	Outbox *Outbox

	// Retention optionally runs after every handled event.
	Retention *Retention
	// Broadcast optionally receives a Change after every applied event.
	Broadcast *Broadcaster
	// AcceptServer gates update overwrites; defaults to ShouldAcceptServer.
	AcceptServer func(local, remote Document) bool
	Logger       *slog.Logger
}

// Handler translates server-pushed change events into local state
// transitions. It runs detached from any caller awaiting a result, so it
// never propagates persistence errors: they are logged and the next
// authoritative event self-heals the cache.
type Handler struct {
	store        *Store
	mapper       *IDMapper
	outbox       *Outbox
	retention    *Retention
	broadcast    *Broadcaster
	acceptServer func(local, remote Document) bool
	logger       *slog.Logger
}

// NewHandler validates the configuration and returns a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Store == nil || cfg.Mapper == nil || cfg.Outbox == nil {
		return nil, errors.New("Store, Mapper and Outbox must be provided")
	}
	if cfg.AcceptServer == nil {
		cfg.AcceptServer = ShouldAcceptServer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		store:        cfg.Store,
		mapper:       cfg.Mapper,
		outbox:       cfg.Outbox,
		retention:    cfg.Retention,
		broadcast:    cfg.Broadcast,
		acceptServer: cfg.AcceptServer,
		logger:       cfg.Logger,
	}, nil
}

// HandleRaw parses and applies one WebSocket message. Malformed or
// unrecognized messages are ignored.
func (h *Handler) HandleRaw(ctx context.Context, raw []byte) {
	ev, ok := ParseEvent(raw)
	if !ok {
		h.logger.Debug("Ignoring unrecognized websocket message")
		return
	}
	h.Handle(ctx, ev)
}

// Handle applies one normalized event and then runs retention: every
// authoritative mutation may have shifted the window of interesting data.
func (h *Handler) Handle(ctx context.Context, ev *Event) {
	switch ev.Type {
	case EventCreate:
		h.handleCreate(ctx, ev)
	case EventUpdate:
		h.handleUpdate(ctx, ev)
	case EventDelete:
		h.handleDelete(ctx, ev)
	default:
		return
	}

	if h.retention != nil {
		if err := h.retention.Run(ctx); err != nil {
			h.logger.Warn("Retention run failed", "error", err)
		}
	}
}

func (h *Handler) handleCreate(ctx context.Context, ev *Event) {
	doc := ClearOptimistic(ev.Data)
	permID := firstNonEmpty(ev.ID, doc.ID())
	if permID == "" {
		h.logger.Warn("Create event without id", "type", ev.ResourceType)
		return
	}

	if ev.TempID != "" {
		// Server confirmation of a client-initiated create: exchange the
		// temp id for the permanent one (rename + reference rewrite), then
		// land the authoritative document and drop the tracking entry.
		if err := h.mapper.MapTempToPerm(ctx, ev.ResourceType, ev.TempID, permID); err != nil {
			h.logger.Warn("Failed to map temp id",
				"type", ev.ResourceType, "tempId", ev.TempID, "permId", permID, "error", err)
		}
		if err := h.outbox.DeleteByTempID(ctx, ev.TempID); err != nil {
			h.logger.Warn("Failed to clear outbox entry", "tempId", ev.TempID, "error", err)
		}
	}

	if len(doc) == 0 {
		// Event carried no document body; the rename above (if any)
		// already landed the locally known fields under the perm id.
		renamed, err := h.store.Get(ctx, ev.ResourceType, permID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				h.logger.Warn("Failed to read renamed document",
					"type", ev.ResourceType, "id", permID, "error", err)
			}
			renamed = Document{FieldID: permID, FieldResourceID: permID}
		}
		h.publish(OpCreate, ev.ResourceType, renamed)
		return
	}
	doc[FieldID] = permID
	doc[FieldResourceID] = permID
	if err := h.store.Put(ctx, ev.ResourceType, doc); err != nil {
		h.logger.Warn("Failed to store created document",
			"type", ev.ResourceType, "id", permID, "error", err)
		return
	}
	h.publish(OpCreate, ev.ResourceType, doc)
}

func (h *Handler) handleUpdate(ctx context.Context, ev *Event) {
	remote := ClearOptimistic(ev.Data)
	if remote == nil {
		return
	}
	id := firstNonEmpty(ev.ID, remote.ID())
	if id == "" {
		h.logger.Warn("Update event without id", "type", ev.ResourceType)
		return
	}
	remote[FieldID] = id
	remote[FieldResourceID] = id

	local, err := h.store.Get(ctx, ev.ResourceType, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		h.logger.Warn("Failed to read local document",
			"type", ev.ResourceType, "id", id, "error", err)
		local = nil
	}
	if local != nil && !h.acceptServer(local, remote) {
		h.logger.Debug("Rejecting stale server update",
			"type", ev.ResourceType, "id", id)
		return
	}

	if err := h.store.Put(ctx, ev.ResourceType, remote); err != nil {
		h.logger.Warn("Failed to store updated document",
			"type", ev.ResourceType, "id", id, "error", err)
		return
	}
	h.publish(OpUpdate, ev.ResourceType, remote)
}

func (h *Handler) handleDelete(ctx context.Context, ev *Event) {
	id := firstNonEmpty(ev.ID, ev.Data.ID())
	if id == "" {
		h.logger.Warn("Delete event without id", "type", ev.ResourceType)
		return
	}
	if err := h.store.Delete(ctx, ev.ResourceType, id); err != nil {
		h.logger.Warn("Failed to delete document",
			"type", ev.ResourceType, "id", id, "error", err)
		return
	}
	if ev.TempID != "" {
		if err := h.outbox.DeleteByTempID(ctx, ev.TempID); err != nil {
			h.logger.Warn("Failed to clear outbox entry", "tempId", ev.TempID, "error", err)
		}
	}
	h.publish(OpDelete, ev.ResourceType, Document{FieldID: id, FieldResourceID: id})
}

func (h *Handler) publish(op Op, resourceType string, doc Document) {
	if h.broadcast == nil {
		return
	}
	h.broadcast.Publish(Change{
		Op:           op,
		ResourceType: resourceType,
		ID:           doc.Key(),
		Doc:          doc,
	})
}
