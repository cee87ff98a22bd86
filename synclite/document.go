package synclite

import (
	"time"
)

// Document is an untyped resource record as it travels over the wire.
// The sync core only interprets the identity, timestamp and envelope
// fields below; everything else is opaque domain data.
type Document map[string]any

// Recognized document fields.
const (
	FieldID          = "id"
	FieldResourceID  = "resourceId"
	FieldUpdatedAt   = "updatedAt"
	FieldLastUpdated = "lastUpdated"
	FieldTimestamp   = "timestamp"

	fieldOptimistic   = "_optimistic"
	fieldPending      = "_pending"
	fieldIsOptimistic = "_isOptimistic"
	fieldTempID       = "_tempId"
	fieldDeleted      = "_deleted"
)

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d Document) str(key string) string {
	if d == nil {
		return ""
	}
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

func (d Document) boolean(key string) bool {
	if d == nil {
		return false
	}
	v, ok := d[key].(bool)
	return ok && v
}

// ID returns the document id, falling back to resourceId.
func (d Document) ID() string {
	if id := d.str(FieldID); id != "" {
		return id
	}
	return d.str(FieldResourceID)
}

// Key returns the local storage key: resourceId, falling back to id.
func (d Document) Key() string {
	if rid := d.str(FieldResourceID); rid != "" {
		return rid
	}
	return d.str(FieldID)
}

// UpdatedAt returns the document mutation time, coalescing updatedAt,
// lastUpdated and timestamp. Missing or unparseable values default to the
// zero time so that any real timestamp wins a comparison.
func (d Document) UpdatedAt() time.Time {
	for _, key := range []string{FieldUpdatedAt, FieldLastUpdated, FieldTimestamp} {
		if d == nil {
			break
		}
		switch v := d[key].(type) {
		case string:
			if t, ok := parseTime(v); ok {
				return t
			}
		case time.Time:
			return v
		}
	}
	return time.Time{}
}

// IsOptimistic reports whether the document carries a speculative write tag.
func (d Document) IsOptimistic() bool {
	return d.boolean(fieldOptimistic) || d.boolean(fieldIsOptimistic)
}

// IsDeleted reports whether the document is marked for pending deletion.
func (d Document) IsDeleted() bool {
	return d.boolean(fieldDeleted)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
