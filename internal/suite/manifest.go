package suite

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Manifest is the subset of package.json the suite runner needs.
type Manifest struct {
	Dir            string            `json:"-"`
	Name           string            `json:"name"`
	Scripts        map[string]string `json:"scripts"`
	PackageManager string            `json:"-"`
}

// HasScript reports whether the manifest declares script.
func (m *Manifest) HasScript(script string) bool {
	if m == nil {
		return false
	}
	_, ok := m.Scripts[script]
	return ok
}

// lockfiles maps lockfile names to the package manager that writes them,
// in detection order.
var lockfiles = []struct {
	file string
	pm   string
}{
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"bun.lockb", "bun"},
	{"bun.lock", "bun"},
	{"package-lock.json", "npm"},
}

// DetectPackageManager picks the package manager for dir from its lockfile,
// defaulting to npm.
func DetectPackageManager(dir string) string {
	for _, lf := range lockfiles {
		if _, err := os.Stat(filepath.Join(dir, lf.file)); err == nil {
			return lf.pm
		}
	}
	return "npm"
}

// ManifestCache caches parsed package.json files. Entries are keyed by path
// and revalidated against the file's size and modification time, so edits
// are picked up by long-running servers.
type ManifestCache struct {
	cache *lru.Cache[string, cachedManifest]
}

type cachedManifest struct {
	modTime  time.Time
	size     int64
	manifest Manifest
}

// NewManifestCache returns a cache holding up to size manifests.
func NewManifestCache(size int) *ManifestCache {
	if size < 1 {
		size = 1
	}
	c, err := lru.New[string, cachedManifest](size)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &ManifestCache{cache: c}
}

// Load returns the manifest in dir. The error wraps os.ErrNotExist when dir
// has no package.json.
func (c *ManifestCache) Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "package.json")
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading package.json: %w", err)
	}

	var m Manifest
	if cached, ok := c.cache.Get(path); ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		m = cached.manifest
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading package.json: %w", err)
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		c.cache.Add(path, cachedManifest{modTime: info.ModTime(), size: info.Size(), manifest: m})
	}

	m.Dir = dir
	m.PackageManager = DetectPackageManager(dir)
	return &m, nil
}
