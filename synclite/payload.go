package synclite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
)

// payloadKind tags the three response shapes the API is known to produce:
// a raw array/object, a {success, data} envelope, or items with their
// domain fields nested under a per-item "data" sub-object. Decoding is a
// tagged union rather than ad hoc optional-chaining so the unwrap logic
// stays exhaustive and testable.
type payloadKind int

const (
	payloadEmpty payloadKind = iota
	payloadList
	payloadObject
)

// serverPayload is the normalized form of an API response body.
type serverPayload struct {
	Kind     payloadKind
	List     []Document
	Object   Document
	Accepted bool // explicit "accepted, no concrete payload yet" marker
}

// Outer envelope fields preserved when an item's domain data is nested
// under a "data" sub-object.
var preservedOuterFields = []string{
	FieldID, "businessId", "locationId", "resourceType",
	FieldResourceID, FieldTimestamp, FieldLastUpdated,
}

// decodeServerPayload unwraps a response body into a serverPayload.
// Array items lacking an id are dropped and logged as malformed; the rest
// of the batch still succeeds.
func decodeServerPayload(raw []byte, logger *slog.Logger) (*serverPayload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &serverPayload{Kind: payloadEmpty}, nil
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}

	switch v := body.(type) {
	case []any:
		return decodeList(v, logger), nil
	case map[string]any:
		accepted := isAcceptedMarker(v)

		// {success, data} envelope: unwrap and recurse on the inner shape.
		if _, hasSuccess := v["success"]; hasSuccess {
			switch inner := v["data"].(type) {
			case []any:
				pl := decodeList(inner, logger)
				pl.Accepted = accepted
				return pl, nil
			case map[string]any:
				return decodeObject(inner, accepted), nil
			default:
				return &serverPayload{Kind: payloadEmpty, Accepted: accepted}, nil
			}
		}

		return decodeObject(v, accepted), nil
	default:
		return &serverPayload{Kind: payloadEmpty}, nil
	}
}

func decodeList(items []any, logger *slog.Logger) *serverPayload {
	out := make([]Document, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			logger.Warn("Dropping malformed payload item", "reason", "not an object")
			continue
		}
		doc, ok := normalizeItem(m)
		if !ok {
			logger.Warn("Dropping malformed payload item", "reason", "missing id")
			continue
		}
		out = append(out, doc)
	}
	return &serverPayload{Kind: payloadList, List: out}
}

func decodeObject(m map[string]any, accepted bool) *serverPayload {
	doc, ok := normalizeItem(m)
	if !ok {
		// No resolvable id: indistinguishable from an async accept.
		return &serverPayload{Kind: payloadEmpty, Accepted: true}
	}
	return &serverPayload{Kind: payloadObject, Object: doc, Accepted: accepted}
}

// normalizeItem flattens a per-item nested "data" sub-object into the top
// level (preserving the outer identity fields), requires a resolvable id,
// and defaults resourceId to id. Returns false when the item has no id.
func normalizeItem(raw map[string]any) (Document, bool) {
	doc := Document(raw).Clone()

	if sub, ok := raw["data"].(map[string]any); ok {
		flat := make(Document, len(sub)+len(preservedOuterFields))
		for k, v := range sub {
			flat[k] = v
		}
		for _, k := range preservedOuterFields {
			if v, ok := raw[k]; ok && v != nil {
				flat[k] = v
			}
		}
		doc = flat
	}

	if doc.str(FieldID) == "" {
		if rid := doc.str(FieldResourceID); rid != "" {
			doc[FieldID] = rid
		} else {
			return nil, false
		}
	}
	if doc.str(FieldResourceID) == "" {
		doc[FieldResourceID] = doc[FieldID]
	}
	return doc, true
}

// isAcceptedMarker detects the explicit "accepted, no concrete payload yet"
// body markers the API emits for asynchronous writes.
func isAcceptedMarker(m map[string]any) bool {
	if v, ok := m["accepted"].(bool); ok && v {
		return true
	}
	if v, ok := m["status"].(string); ok && v == "accepted" {
		return true
	}
	return false
}

// hasAcceptedMarker reports whether a raw body carries only the explicit
// accept marker (used by deletes, where an empty body means success).
func hasAcceptedMarker(raw []byte) bool {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &m); err != nil {
		return false
	}
	return isAcceptedMarker(m)
}

// wrapRequestBody wraps a mutation payload as {"data": ...} unless the
// caller already wrapped it.
func wrapRequestBody(payload any) any {
	if m, ok := payload.(Document); ok {
		if _, wrapped := m["data"]; wrapped && len(m) == 1 {
			return m
		}
	}
	if m, ok := payload.(map[string]any); ok {
		if _, wrapped := m["data"]; wrapped && len(m) == 1 {
			return m
		}
	}
	return map[string]any{"data": payload}
}
