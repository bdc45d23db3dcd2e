// Package cache is the incremental build cache: content-keyed derivative and
// rendered payloads persisted across builds in a storage.ObjectStore.
//
// Keys are digests of the inputs that produced a payload, never paths or
// modification times. A build is incremental purely because the keys it
// computes already exist.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/storage"
)

// ErrMiss is returned by Get when no usable entry exists for a key.
var ErrMiss = errors.New("cache miss")

const (
	metaWidth  = "width"
	metaHeight = "height"
	metaFormat = "format"
	metaDigest = "payload_digest"
)

// Entry is one cached payload.
type Entry struct {
	Key     string
	Type    storage.ObjectType
	Payload []byte
	Meta    Meta
}

// Meta describes a cached payload.
type Meta struct {
	Width  int
	Height int
	Format string
	// Digest is the sha256 of Payload, filled in by Put.
	Digest string
	Extra  map[string]string
}

// Stats counts cache traffic for one Cache instance.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Writes  int64 `json:"writes"`
	Corrupt int64 `json:"corrupt"`
}

// Cache wraps an object store with hit accounting and corruption checks.
// It is safe for concurrent use.
type Cache struct {
	store  storage.ObjectStore
	logger *slog.Logger

	hits, misses, writes, corrupt atomic.Int64

	mu      sync.Mutex
	touched map[string]struct{}
}

// New creates a cache over store.
func New(store storage.ObjectStore) *Cache {
	return &Cache{
		store:   store,
		logger:  slog.Default(),
		touched: make(map[string]struct{}),
	}
}

// WithLogger sets a custom logger.
func (c *Cache) WithLogger(logger *slog.Logger) *Cache {
	c.logger = logger
	return c
}

// Store returns the underlying object store.
func (c *Cache) Store() storage.ObjectStore { return c.store }

// Key hashes parts into a cache key. Parts are joined by '|'.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON encodes v with sorted map keys and struct field order, the
// form hashed into cache keys.
func CanonicalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical options: %w", err)
	}
	return string(data), nil
}

// Get returns the entry for key. Missing, unreadable and corrupt entries all
// report ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, error) {
	c.touch(key)

	obj, err := c.store.Get(ctx, key)
	if err != nil {
		c.misses.Add(1)
		if !storage.IsNotFound(err) {
			c.corrupt.Add(1)
			c.logger.Warn("Unreadable cache entry treated as miss", logfields.CacheKey(key), logfields.Error(err))
		}
		return nil, fmt.Errorf("%w: %s", ErrMiss, key)
	}

	entry, err := decode(obj)
	if err != nil {
		c.misses.Add(1)
		c.corrupt.Add(1)
		c.logger.Warn("Corrupt cache entry treated as miss", logfields.CacheKey(key), logfields.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrMiss, key)
	}

	c.hits.Add(1)
	return entry, nil
}

// Put stores e unless its key is already present, reporting whether bytes
// were written. A present-but-corrupt entry is replaced.
func (c *Cache) Put(ctx context.Context, e *Entry) (bool, error) {
	if e == nil || e.Key == "" {
		return false, ferrors.CacheError("cache entry without key").Build()
	}
	c.touch(e.Key)

	obj := encode(e)
	written, err := c.store.Put(ctx, obj)
	if err != nil {
		return false, ferrors.WrapError(err, ferrors.CategoryCache, "write cache entry").
			WithContext("cache_key", e.Key).Build()
	}
	if !written {
		if existing, gerr := c.store.Get(ctx, e.Key); gerr == nil {
			if _, derr := decode(existing); derr == nil {
				return false, nil
			}
		}
		if err := c.store.Delete(ctx, e.Key); err != nil && !storage.IsNotFound(err) {
			return false, ferrors.WrapError(err, ferrors.CategoryCache, "replace corrupt cache entry").
				WithContext("cache_key", e.Key).Build()
		}
		if written, err = c.store.Put(ctx, obj); err != nil {
			return false, ferrors.WrapError(err, ferrors.CategoryCache, "write cache entry").
				WithContext("cache_key", e.Key).Build()
		}
	}
	if written {
		c.writes.Add(1)
	}
	return written, nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Writes:  c.writes.Load(),
		Corrupt: c.corrupt.Load(),
	}
}

// Touched returns the sorted keys read or written through this cache.
func (c *Cache) Touched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.touched))
}

// Commit records the touched keys as the build ref of buildID.
func (c *Cache) Commit(ctx context.Context, buildID string) error {
	if err := c.store.AddBuildRef(ctx, buildID, c.Touched()); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryCache, "record build ref").
			WithContext("build_id", buildID).Build()
	}
	return nil
}

// GC keeps the entries referenced by the newest keepBuilds build refs and
// removes everything else, returning the number of removed entries.
func (c *Cache) GC(ctx context.Context, keepBuilds int) (int, error) {
	if keepBuilds < 1 {
		keepBuilds = 1
	}
	refs, err := c.store.BuildRefs(ctx)
	if err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryCache, "list build refs").Build()
	}

	keep := make(map[string]bool)
	for i, ref := range refs {
		if i < keepBuilds {
			for _, k := range ref.Keys {
				keep[k] = true
			}
			continue
		}
		if err := c.store.DeleteBuildRef(ctx, ref.BuildID); err != nil {
			return 0, ferrors.WrapError(err, ferrors.CategoryCache, "delete build ref").
				WithContext("build_id", ref.BuildID).Build()
		}
	}

	removed, err := storage.GC(ctx, c.store, keep)
	if err != nil {
		return removed, ferrors.WrapError(err, ferrors.CategoryCache, "collect cache entries").Build()
	}
	c.logger.Info("Cache garbage collected", logfields.Count(removed), slog.Int("builds_kept", min(keepBuilds, len(refs))))
	return removed, nil
}

func (c *Cache) touch(key string) {
	c.mu.Lock()
	c.touched[key] = struct{}{}
	c.mu.Unlock()
}

func encode(e *Entry) *storage.Object {
	custom := maps.Clone(e.Meta.Extra)
	if custom == nil {
		custom = map[string]string{}
	}
	if e.Meta.Width > 0 {
		custom[metaWidth] = strconv.Itoa(e.Meta.Width)
	}
	if e.Meta.Height > 0 {
		custom[metaHeight] = strconv.Itoa(e.Meta.Height)
	}
	if e.Meta.Format != "" {
		custom[metaFormat] = e.Meta.Format
	}
	sum := sha256.Sum256(e.Payload)
	custom[metaDigest] = hex.EncodeToString(sum[:])

	return &storage.Object{
		Key:      e.Key,
		Type:     e.Type,
		Size:     int64(len(e.Payload)),
		Data:     e.Payload,
		Metadata: storage.Metadata{Custom: custom},
	}
}

func decode(obj *storage.Object) (*Entry, error) {
	custom := obj.Metadata.Custom
	want, ok := custom[metaDigest]
	if !ok {
		return nil, errors.New("missing payload digest")
	}
	sum := sha256.Sum256(obj.Data)
	if got := hex.EncodeToString(sum[:]); got != want {
		return nil, fmt.Errorf("payload digest mismatch: have %s, want %s", got[:12], want)
	}

	meta := Meta{Format: custom[metaFormat], Digest: want, Extra: map[string]string{}}
	var err error
	if meta.Width, err = atoiOptional(custom[metaWidth]); err != nil {
		return nil, fmt.Errorf("width: %w", err)
	}
	if meta.Height, err = atoiOptional(custom[metaHeight]); err != nil {
		return nil, fmt.Errorf("height: %w", err)
	}
	for k, v := range custom {
		switch k {
		case metaWidth, metaHeight, metaFormat, metaDigest, "object_type":
		default:
			meta.Extra[k] = v
		}
	}

	return &Entry{Key: obj.Key, Type: obj.Type, Payload: obj.Data, Meta: meta}, nil
}

func atoiOptional(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
