package synclite

import (
	"encoding/json"
	"strings"
)

// EventType is the canonical server-push change kind.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is a normalized server-pushed resource change.
type Event struct {
	Type         EventType
	ResourceType string
	Data         Document
	ID           string
	TempID       string
	Timestamp    string
}

// ParseEvent normalizes a raw WebSocket message into an Event, tolerating
// the historical field-name variants: type may be bare or prefixed
// "resource_", the id may arrive as id or resourceId (or inside data), the
// client correlation id as tempId or clientId, and the document under data
// or payload. Unrecognized event types return ok=false and are ignored by
// the handler.
func ParseEvent(raw []byte) (*Event, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return normalizeEvent(m)
}

func normalizeEvent(m map[string]any) (*Event, bool) {
	doc := Document(m)

	typ := strings.TrimPrefix(doc.str("type"), "resource_")
	switch EventType(typ) {
	case EventCreate, EventUpdate, EventDelete:
	default:
		return nil, false
	}

	ev := &Event{
		Type:         EventType(typ),
		ResourceType: doc.str("resourceType"),
		Timestamp:    doc.str(FieldTimestamp),
	}
	if ev.ResourceType == "" {
		return nil, false
	}

	if data, ok := m["data"].(map[string]any); ok {
		ev.Data = Document(data)
	} else if data, ok := m["payload"].(map[string]any); ok {
		ev.Data = Document(data)
	}

	ev.ID = firstNonEmpty(
		doc.str(FieldResourceID),
		doc.str(FieldID),
		ev.Data.str(FieldID),
		ev.Data.str(FieldResourceID),
	)
	ev.TempID = firstNonEmpty(
		doc.str("tempId"),
		doc.str("clientId"),
		ev.Data.str("tempId"),
		ev.Data.str("clientId"),
	)
	return ev, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
