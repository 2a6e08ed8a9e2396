package gather

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// OriginCache remembers locator results between seed attempts, keyed by
// the catalog entry URL. A nil Origin records that nothing was found.
type OriginCache struct {
	mu      sync.Mutex
	path    string
	origins map[string]*Origin
}

type cacheFile struct {
	Origins map[string]*Origin `json:"origins"`
}

// LoadOriginCache reads the cache at path. A missing file gives an empty
// cache.
func LoadOriginCache(path string) (*OriginCache, error) {
	c := &OriginCache{path: path, origins: make(map[string]*Origin)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read origin cache: %w", err)
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse origin cache %s: %w", path, err)
	}
	for url, o := range f.Origins {
		c.origins[url] = o
	}
	return c, nil
}

// Get returns the cached origin of url. ok is false when url was never
// located; a cached not-found result returns ErrOriginNotFound.
func (c *OriginCache) Get(url string) (origin Origin, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.origins[url]
	if !ok {
		return Origin{}, false, nil
	}
	if o == nil {
		return Origin{}, true, fmt.Errorf("%w: %s (cached)", ErrOriginNotFound, url)
	}
	return *o, true, nil
}

// Put records a locator result. Errors other than ErrOriginNotFound are
// not cached.
func (c *OriginCache) Put(url string, origin Origin, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case err == nil:
		o := origin
		c.origins[url] = &o
	case errors.Is(err, ErrOriginNotFound):
		c.origins[url] = nil
	}
}

// Len returns the number of cached results.
func (c *OriginCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.origins)
}

// Save writes the cache back to its file.
func (c *OriginCache) Save() error {
	c.mu.Lock()
	data, err := json.MarshalIndent(cacheFile{Origins: c.origins}, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode origin cache: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create origin cache dir: %w", err)
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write origin cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}
