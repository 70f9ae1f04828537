package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateGeneratesOnFirstCall(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "identity.key")

	id, err := LoadOrCreate(keyPath)
	require.NoError(t, err)
	require.NotEmpty(t, id.PeerID.String())
	require.FileExists(t, keyPath)
}

func TestLoadOrCreateIsStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "identity.key")

	first, err := LoadOrCreate(keyPath)
	require.NoError(t, err)

	second, err := LoadOrCreate(keyPath)
	require.NoError(t, err)

	require.Equal(t, first.PeerID, second.PeerID)
}

func TestLoadOrCreateDifferentPathsDifferentIdentities(t *testing.T) {
	dir := t.TempDir()

	a, err := LoadOrCreate(filepath.Join(dir, "a.key"))
	require.NoError(t, err)
	b, err := LoadOrCreate(filepath.Join(dir, "b.key"))
	require.NoError(t, err)

	require.NotEqual(t, a.PeerID, b.PeerID)
}
