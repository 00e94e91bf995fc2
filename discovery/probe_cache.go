package discovery

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const dimensionFileExt = ".dim"

// DimensionCache remembers probed sizes in memory and, when a directory is
// configured, on disk as sha1-keyed 8 byte files.
type DimensionCache struct {
	dir        string
	maxEntries int

	mu  sync.Mutex
	mem map[string]image.Point
}

// NewDimensionCache returns a cache rooted at dir. An empty dir keeps the
// cache in memory only; maxEntries <= 0 disables pruning.
func NewDimensionCache(dir string, maxEntries int) *DimensionCache {
	c := &DimensionCache{dir: dir, maxEntries: maxEntries, mem: map[string]image.Point{}}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.dir = ""
		}
	}
	return c
}

func (c *DimensionCache) key(locator string) (string, string) {
	sum := sha1.Sum([]byte(locator))
	name := hex.EncodeToString(sum[:])
	dir := filepath.Join(c.dir, name[0:1], name[1:2])
	return dir, filepath.Join(dir, name+dimensionFileExt)
}

// Get returns the cached size of locator.
func (c *DimensionCache) Get(locator string) (image.Point, bool) {
	c.mu.Lock()
	pt, ok := c.mem[locator]
	c.mu.Unlock()
	if ok || c.dir == "" {
		return pt, ok
	}
	_, path := c.key(locator)
	b, err := os.ReadFile(path)
	if err != nil || len(b) != 8 {
		return image.Point{}, false
	}
	pt = image.Pt(int(binary.BigEndian.Uint32(b[0:4])), int(binary.BigEndian.Uint32(b[4:8])))
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	c.mu.Lock()
	c.mem[locator] = pt
	c.mu.Unlock()
	return pt, true
}

// Put stores the size of locator.
func (c *DimensionCache) Put(locator string, pt image.Point) {
	c.mu.Lock()
	c.mem[locator] = pt
	c.mu.Unlock()
	if c.dir == "" {
		return
	}
	dir, path := c.key(locator)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(pt.X))
	binary.BigEndian.PutUint32(buf[4:8], uint32(pt.Y))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf[:], 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, path)
	c.prune()
}

// prune drops the least recently used files beyond maxEntries.
func (c *DimensionCache) prune() {
	if c.maxEntries <= 0 {
		return
	}
	type entry struct {
		path string
		mt   time.Time
	}
	var files []entry
	_ = filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, dimensionFileExt) {
			return nil
		}
		if info, e := d.Info(); e == nil {
			files = append(files, entry{p, info.ModTime()})
		}
		return nil
	})
	if len(files) <= c.maxEntries {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mt.Before(files[j].mt) })
	for _, f := range files[:len(files)-c.maxEntries] {
		_ = os.Remove(f.path)
	}
}
