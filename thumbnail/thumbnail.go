// Package thumbnail implements the thumbnail(path) -> bytes | none
// collaborator of spec.md section 6: an external image-conversion
// tool populates a content-addressed cache directory, lazily, rate
// limited per source file.
package thumbnail

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Cache generates and serves thumbnails on demand. It satisfies
// engine.Thumbnailer structurally.
type Cache struct {
	// Dir is the cache directory. An empty Dir disables thumbnailing
	// entirely: Thumbnail always reports present=false.
	Dir string

	// Tool is the external command invoked to produce a thumbnail,
	// run as `Tool <source> <dest>`.
	Tool string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewCache builds a Cache backed by dir, invoking tool to populate it.
func NewCache(dir, tool string) *Cache {
	return &Cache{Dir: dir, Tool: tool, limiters: make(map[string]*rate.Limiter)}
}

// Thumbnail returns the cached thumbnail bytes for the source file at
// path, generating it via the external tool if absent. present is
// false (with a nil error) when thumbnailing is disabled or the tool
// declines to produce one (e.g. an unsupported source format).
func (c *Cache) Thumbnail(path string) ([]byte, bool, error) {
	if c.Dir == "" {
		return nil, false, nil
	}

	if err := c.limiterFor(path).Wait(context.Background()); err != nil {
		return nil, false, errors.Wrap(err, "thumbnail: rate limit wait")
	}

	dest := c.cachePath(path)
	if data, err := os.ReadFile(dest); err == nil {
		return data, true, nil
	} else if !os.IsNotExist(err) {
		return nil, false, errors.Wrapf(err, "thumbnail: read cache entry %s", dest)
	}

	if err := c.generate(path, dest); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		if os.IsNotExist(err) {
			// the tool ran but declined to produce a thumbnail for this format
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "thumbnail: read generated entry %s", dest)
	}
	return data, true, nil
}

// cachePath maps a source path to its content-addressed cache entry:
// the source's base name with its extension replaced by
// ".thumb.jpeg", per spec.md section 6.
func (c *Cache) cachePath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext) + ".thumb.jpeg"
	return filepath.Join(c.Dir, name)
}

func (c *Cache) generate(src, dest string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, c.Tool, src, dest)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "thumbnail: %s %s %s: %s", c.Tool, src, dest, out)
	}
	return nil
}

// limiterFor returns the per-source-file limiter, creating one the
// first time path is thumbnailed. One token per second with a burst
// of one keeps a flood of GetThumb requests for the same file from
// re-invoking the external tool concurrently.
func (c *Cache) limiterFor(path string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[path]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 1)
		c.limiters[path] = l
	}
	return l
}
