package synclite

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeServerPayloadEnvelopeWithNestedData(t *testing.T) {
	raw := []byte(`{"success":true,"data":[{"id":"a1","data":{"name":"Foo"}}]}`)

	pl, err := decodeServerPayload(raw, slog.Default())
	require.NoError(t, err)
	require.Equal(t, payloadList, pl.Kind)
	require.Len(t, pl.List, 1)

	doc := pl.List[0]
	require.Equal(t, "a1", doc.str(FieldID))
	require.Equal(t, "a1", doc.str(FieldResourceID))
	require.Equal(t, "Foo", doc.str("name"))
	require.NotContains(t, doc, "data")
}

func TestDecodeServerPayloadRawArray(t *testing.T) {
	raw := []byte(`[{"id":"a1","name":"Foo"},{"id":"a2","name":"Bar"}]`)

	pl, err := decodeServerPayload(raw, slog.Default())
	require.NoError(t, err)
	require.Equal(t, payloadList, pl.Kind)
	require.Len(t, pl.List, 2)
	require.Equal(t, "a2", pl.List[1].str(FieldResourceID))
}

func TestDecodeServerPayloadDropsIdlessItems(t *testing.T) {
	raw := []byte(`[{"id":"a1"},{"name":"no id"},"not an object"]`)

	pl, err := decodeServerPayload(raw, slog.Default())
	require.NoError(t, err)
	require.Len(t, pl.List, 1)
	require.Equal(t, "a1", pl.List[0].str(FieldID))
}

func TestDecodeServerPayloadSingleObject(t *testing.T) {
	raw := []byte(`{"id":"a1","resourceId":"srv-9","name":"Foo"}`)

	pl, err := decodeServerPayload(raw, slog.Default())
	require.NoError(t, err)
	require.Equal(t, payloadObject, pl.Kind)
	require.Equal(t, "a1", pl.Object.str(FieldID))
	require.Equal(t, "srv-9", pl.Object.str(FieldResourceID))
}

func TestDecodeServerPayloadPreservesOuterIdentity(t *testing.T) {
	raw := []byte(`{"id":"a1","businessId":"b1","locationId":"l1","data":{"name":"Foo"}}`)

	pl, err := decodeServerPayload(raw, slog.Default())
	require.NoError(t, err)
	require.Equal(t, payloadObject, pl.Kind)
	require.Equal(t, "b1", pl.Object.str("businessId"))
	require.Equal(t, "l1", pl.Object.str("locationId"))
	require.Equal(t, "Foo", pl.Object.str("name"))
}

func TestDecodeServerPayloadAcceptedMarkers(t *testing.T) {
	for _, raw := range []string{
		`{"accepted":true}`,
		`{"status":"accepted"}`,
	} {
		pl, err := decodeServerPayload([]byte(raw), slog.Default())
		require.NoError(t, err, raw)
		require.Equal(t, payloadEmpty, pl.Kind, raw)
		require.True(t, pl.Accepted, raw)
	}

	// An object with an id is definitive even alongside a status field.
	pl, err := decodeServerPayload([]byte(`{"id":"a1","status":"accepted"}`), slog.Default())
	require.NoError(t, err)
	require.Equal(t, payloadObject, pl.Kind)
	require.True(t, pl.Accepted)
}

func TestDecodeServerPayloadEmpty(t *testing.T) {
	for _, raw := range []string{"", "null", "  "} {
		pl, err := decodeServerPayload([]byte(raw), slog.Default())
		require.NoError(t, err, "body %q", raw)
		require.Equal(t, payloadEmpty, pl.Kind)
		require.False(t, pl.Accepted)
	}

	_, err := decodeServerPayload([]byte(`{not json`), slog.Default())
	require.Error(t, err)
}

func TestHasAcceptedMarker(t *testing.T) {
	require.True(t, hasAcceptedMarker([]byte(`{"accepted":true}`)))
	require.True(t, hasAcceptedMarker([]byte(`{"status":"accepted"}`)))
	require.False(t, hasAcceptedMarker([]byte(`{}`)))
	require.False(t, hasAcceptedMarker([]byte(``)))
	require.False(t, hasAcceptedMarker([]byte(`{"status":"ok"}`)))
}

func TestWrapRequestBody(t *testing.T) {
	raw, err := json.Marshal(wrapRequestBody(Document{"name": "Foo"}))
	require.NoError(t, err)
	require.JSONEq(t, `{"data":{"name":"Foo"}}`, string(raw))

	// Already wrapped bodies pass through unchanged.
	raw, err = json.Marshal(wrapRequestBody(Document{"data": map[string]any{"name": "Foo"}}))
	require.NoError(t, err)
	require.JSONEq(t, `{"data":{"name":"Foo"}}`, string(raw))
}
