package synclite

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTempID generates a collision-resistant temporary id prefixed by the
// caller-supplied namespace (usually the table name), so temp ids are
// visually distinguishable from server-assigned ids and greppable in logs.
func NewTempID(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		// Extremely unlikely; fall back to timestamp plus randomness.
		return fmt.Sprintf("%s_%d-%06d", prefix, time.Now().UnixNano(), rand.Intn(1000000))
	}
	return prefix + "_" + id.String()
}

// IsTempID reports whether id was generated by NewTempID for the given prefix.
func IsTempID(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_")
}

// ApplyOptimistic returns a shallow copy of doc tagged as a speculative
// write: _optimistic is set, _pending records the action and temp id, and
// updatedAt is refreshed to now.
func ApplyOptimistic(doc Document, action, tempID string) Document {
	out := doc.Clone()
	if out == nil {
		out = Document{}
	}
	out[fieldOptimistic] = true
	out[fieldPending] = map[string]any{
		"action": action,
		"tempId": tempID,
	}
	out[FieldUpdatedAt] = nowISO()
	return out
}

// ClearOptimistic returns a shallow copy of doc with the speculative tags
// removed. Nil documents and documents without tags pass through unchanged,
// so the operation is idempotent.
func ClearOptimistic(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := doc.Clone()
	delete(out, fieldOptimistic)
	delete(out, fieldPending)
	delete(out, fieldIsOptimistic)
	delete(out, fieldTempID)
	return out
}

// MarkDeleted returns a shallow copy of doc flagged as pending deletion,
// so the UI can render a "deleting" state until the server confirms.
func MarkDeleted(doc Document, tempID string) Document {
	out := doc.Clone()
	if out == nil {
		out = Document{}
	}
	out[fieldDeleted] = true
	out[fieldIsOptimistic] = true
	out[fieldTempID] = tempID
	out[FieldUpdatedAt] = nowISO()
	return out
}
