package synclite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEventVariants(t *testing.T) {
	ev, ok := ParseEvent([]byte(`{
		"type": "resource_create",
		"resourceType": "products",
		"resourceId": "real-123",
		"tempId": "products_t1",
		"data": {"id": "real-123", "name": "Widget"}
	}`))
	require.True(t, ok)
	require.Equal(t, EventCreate, ev.Type)
	require.Equal(t, "products", ev.ResourceType)
	require.Equal(t, "real-123", ev.ID)
	require.Equal(t, "products_t1", ev.TempID)
	require.Equal(t, "Widget", ev.Data.str("name"))

	// Bare type name, document under payload, client correlation id
	// under clientId inside the document.
	ev, ok = ParseEvent([]byte(`{
		"type": "update",
		"resourceType": "patients",
		"payload": {"id": "pat-1", "clientId": "patients_t9"}
	}`))
	require.True(t, ok)
	require.Equal(t, EventUpdate, ev.Type)
	require.Equal(t, "pat-1", ev.ID)
	require.Equal(t, "patients_t9", ev.TempID)
}

func TestParseEventRejectsUnrecognized(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"ping"}`,
		`{"type":"create"}`, // no resourceType
		`[]`,
	} {
		_, ok := ParseEvent([]byte(raw))
		require.False(t, ok, "message %q should be rejected", raw)
	}
}
