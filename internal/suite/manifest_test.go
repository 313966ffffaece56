package suite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestCache_Load(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "build", "lint")

	c := NewManifestCache(2)
	m, err := c.Load(dir)
	require.NoError(t, err)
	assert.True(t, m.HasScript("build"))
	assert.False(t, m.HasScript("e2e"))
	assert.Equal(t, "npm", m.PackageManager)
	assert.Equal(t, dir, m.Dir)
}

func TestManifestCache_PicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "build")

	c := NewManifestCache(2)
	m, err := c.Load(dir)
	require.NoError(t, err)
	require.False(t, m.HasScript("test:e2e"))

	writeManifest(t, dir, "build", "test:e2e")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "package.json"), later, later))

	m, err = c.Load(dir)
	require.NoError(t, err)
	assert.True(t, m.HasScript("test:e2e"))
}

func TestManifestCache_Missing(t *testing.T) {
	_, err := NewManifestCache(1).Load(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestManifestCache_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{"), 0o644))
	_, err := NewManifestCache(1).Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing")
}

func TestDetectPackageManager(t *testing.T) {
	for lock, want := range map[string]string{
		"pnpm-lock.yaml":    "pnpm",
		"yarn.lock":         "yarn",
		"bun.lockb":         "bun",
		"package-lock.json": "npm",
	} {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, lock), nil, 0o644))
		assert.Equal(t, want, DetectPackageManager(dir), lock)
	}
	assert.Equal(t, "npm", DetectPackageManager(t.TempDir()))
}
