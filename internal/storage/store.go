// Package storage provides key-addressed object stores for the build cache.
package storage

import (
	"context"
	"errors"
	"time"
)

// ObjectStore persists immutable objects under caller-supplied content keys.
// Keys are hex digests; an object stored under a key is never rewritten.
type ObjectStore interface {
	// Put stores obj under obj.Key. When the key already exists nothing is
	// written and created is false.
	Put(ctx context.Context, obj *Object) (created bool, err error)

	// Get retrieves the object stored under key.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (*Object, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, key string) error

	// List returns the sorted keys matching objectType, or all keys when empty.
	List(ctx context.Context, objectType ObjectType) ([]string, error)

	// AddBuildRef records the keys a build touched.
	AddBuildRef(ctx context.Context, buildID string, keys []string) error

	// BuildRefs returns recorded build refs, newest first.
	BuildRefs(ctx context.Context) ([]BuildRef, error)

	// DeleteBuildRef drops a recorded build ref.
	DeleteBuildRef(ctx context.Context, buildID string) error

	// Close releases any resources held by the store.
	Close() error
}

// Object is a stored payload with its metadata.
type Object struct {
	Key      string
	Type     ObjectType
	Size     int64
	Data     []byte
	Metadata Metadata
}

// Metadata stores object metadata.
type Metadata struct {
	CreatedAt time.Time         `json:"created_at"`
	Custom    map[string]string `json:"custom,omitempty"`
}

// BuildRef lists the keys one build read or wrote.
type BuildRef struct {
	BuildID   string    `json:"build_id"`
	CreatedAt time.Time `json:"created_at"`
	Keys      []string  `json:"keys"`
}

// ObjectType identifies the kind of stored object.
type ObjectType string

const (
	// ObjectTypeDerivative is a resized image payload.
	ObjectTypeDerivative ObjectType = "derivative"

	// ObjectTypePlaceholder is a low resolution preview payload.
	ObjectTypePlaceholder ObjectType = "placeholder"

	// ObjectTypeRenderedHTML is the serialized output of the markdown sub-chain.
	ObjectTypeRenderedHTML ObjectType = "rendered_html"
)

// ErrNotFound is returned when a key doesn't exist.
var ErrNotFound = errors.New("object not found")

// IsNotFound returns true if err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// GC removes every object whose key is not in keep and returns how many were removed.
func GC(ctx context.Context, store ObjectStore, keep map[string]bool) (int, error) {
	keys, err := store.List(ctx, "")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if keep[key] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := store.Delete(ctx, key); err != nil && !IsNotFound(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
