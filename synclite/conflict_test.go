package synclite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldAcceptServer(t *testing.T) {
	older := Document{"id": "p1", "updatedAt": "2026-08-28T10:00:00Z"}
	newer := Document{"id": "p1", "updatedAt": "2026-08-28T11:00:00Z"}
	undated := Document{"id": "p1"}

	require.True(t, ShouldAcceptServer(nil, newer))
	require.True(t, ShouldAcceptServer(older, newer))
	require.False(t, ShouldAcceptServer(newer, older))

	// Ties go to the server.
	require.True(t, ShouldAcceptServer(older, older.Clone()))

	// Missing timestamps compare as epoch zero.
	require.True(t, ShouldAcceptServer(undated, older))
	require.False(t, ShouldAcceptServer(older, undated))

	// lastUpdated is coalesced the same as updatedAt.
	remote := Document{"id": "p1", "lastUpdated": "2026-08-28T12:00:00Z"}
	require.True(t, ShouldAcceptServer(newer, remote))
}
