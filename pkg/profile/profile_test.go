package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesSubfoldersAndVersion(t *testing.T) {
	root := t.TempDir()
	p, err := Load(root, 1337, nil)
	require.NoError(t, err)
	assert.False(t, p.Paired())

	for _, sub := range subfolders {
		info, err := os.Stat(filepath.Join(root, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	raw, err := os.ReadFile(versionfilePath(root))
	require.NoError(t, err)
	assert.Equal(t, "1", string(raw))
}

func TestSavePasskeyThenReload(t *testing.T) {
	root := t.TempDir()
	p, err := Load(root, 1337, nil)
	require.NoError(t, err)
	require.NoError(t, p.SavePasskey([]byte{1, 2, 3, 4, 5, 6, 7, 8}))

	reloaded, err := Load(root, 1337, nil)
	require.NoError(t, err)
	assert.True(t, reloaded.Paired())
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, reloaded.Passkey)
}

func TestRepairClearsPasskey(t *testing.T) {
	root := t.TempDir()
	p, err := Load(root, 1337, nil)
	require.NoError(t, err)
	require.NoError(t, p.SavePasskey([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, p.Repair())
	assert.False(t, p.Paired())

	reloaded, err := Load(root, 1337, nil)
	require.NoError(t, err)
	assert.False(t, reloaded.Paired())
}

func TestVersionMismatch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(versionfilePath(root), []byte("99"), 0o644))

	_, err := Load(root, 1337, nil)
	var mismatch *ErrVersionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 99, mismatch.Found)
	assert.Equal(t, 1, mismatch.Expected)
}

func TestRegistryRememberAndLookup(t *testing.T) {
	dir := t.TempDir()
	reg, err := OpenRegistry(dir, nil)
	require.NoError(t, err)

	require.NoError(t, reg.Remember(1337, "Forerunner 945", "/tmp/1337"))

	record, ok := reg.Lookup(1337)
	require.True(t, ok)
	assert.Equal(t, "Forerunner 945", record.Name)

	reloaded, err := OpenRegistry(dir, nil)
	require.NoError(t, err)
	known := reloaded.Known()
	require.Len(t, known, 1)
	assert.Equal(t, uint32(1337), known[0].Serial)
}
