package storage

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const metaSuffix = ".meta.json"

// FSStore is a filesystem-based implementation of ObjectStore.
// It stores objects in a key-addressed layout:
//
//	<cache dir>/
//	  objects/
//	    ab/
//	      cd1234... (first 2 chars = subdir, rest = filename)
//	      cd1234....meta.json
//	  refs/
//	    builds/
//	      <build id>.json
//
// Files are written to a temporary sibling and renamed into place, so a
// concurrent reader sees either nothing or a complete object.
type FSStore struct {
	basePath string
	mu       sync.Mutex // serializes check-and-set in Put
}

// NewFSStore creates a new filesystem-based object store.
func NewFSStore(basePath string) (*FSStore, error) {
	dirs := []string{
		filepath.Join(basePath, "objects"),
		filepath.Join(basePath, "refs", "builds"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return &FSStore{basePath: basePath}, nil
}

// Put stores an object unless its key is already present.
func (fs *FSStore) Put(_ context.Context, obj *Object) (bool, error) {
	if err := validKey(obj.Key); err != nil {
		return false, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	objectPath := fs.objectPath(obj.Key)
	if _, err := os.Stat(objectPath); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(objectPath), 0o750); err != nil {
		return false, fmt.Errorf("create object directory: %w", err)
	}

	metadata := Metadata{
		CreatedAt: obj.Metadata.CreatedAt,
		Custom:    maps.Clone(obj.Metadata.Custom),
	}
	if metadata.CreatedAt.IsZero() {
		metadata.CreatedAt = time.Now().UTC()
	}
	if metadata.Custom == nil {
		metadata.Custom = map[string]string{}
	}
	metadata.Custom["object_type"] = string(obj.Type)

	// Metadata first: an object file without metadata reads as corrupt.
	meta, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeAtomic(fs.metadataPath(obj.Key), meta); err != nil {
		return false, fmt.Errorf("write metadata: %w", err)
	}
	if err := writeAtomic(objectPath, obj.Data); err != nil {
		return false, fmt.Errorf("write object: %w", err)
	}
	return true, nil
}

// Get retrieves an object by key. Reads never modify the store.
func (fs *FSStore) Get(_ context.Context, key string) (*Object, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	// #nosec G304 - path is built from a validated hex key
	data, err := os.ReadFile(fs.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read object: %w", err)
	}

	metadata, err := fs.readMetadata(key)
	if err != nil {
		return nil, err
	}

	return &Object{
		Key:      key,
		Type:     ObjectType(metadata.Custom["object_type"]),
		Size:     int64(len(data)),
		Data:     data,
		Metadata: metadata,
	}, nil
}

// Exists checks if an object with the given key exists.
func (fs *FSStore) Exists(_ context.Context, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(fs.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

// Delete removes an object and its metadata.
func (fs *FSStore) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	objectPath := fs.objectPath(key)
	if err := os.Remove(objectPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("delete object: %w", err)
	}
	_ = os.Remove(fs.metadataPath(key))
	_ = os.Remove(filepath.Dir(objectPath)) // fails while other objects share the shard
	return nil
}

// List returns all object keys matching the given type filter.
func (fs *FSStore) List(_ context.Context, objectType ObjectType) ([]string, error) {
	var keys []string
	objectsDir := filepath.Join(fs.basePath, "objects")

	err := filepath.WalkDir(objectsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, ".tmp-") {
			return nil
		}

		relPath, err := filepath.Rel(objectsDir, path)
		if err != nil {
			return nil
		}
		key := strings.ReplaceAll(relPath, string(filepath.Separator), "")

		if objectType != "" {
			metadata, err := fs.readMetadata(key)
			if err != nil || ObjectType(metadata.Custom["object_type"]) != objectType {
				return nil
			}
		}

		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk objects: %w", err)
	}

	slices.Sort(keys)
	return keys, nil
}

// AddBuildRef associates a build ID with a set of object keys.
func (fs *FSStore) AddBuildRef(_ context.Context, buildID string, keys []string) error {
	ref := BuildRef{BuildID: buildID, CreatedAt: time.Now().UTC(), Keys: sortedUnique(keys)}
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal build ref: %w", err)
	}
	return writeAtomic(fs.refPath(buildID), data)
}

// BuildRefs returns every recorded build ref, newest first.
func (fs *FSStore) BuildRefs(_ context.Context) ([]BuildRef, error) {
	dir := filepath.Join(fs.basePath, "refs", "builds")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read build refs: %w", err)
	}

	var refs []BuildRef
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		// #nosec G304 - path is inside the store's refs directory
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read build ref: %w", err)
		}
		var ref BuildRef
		if err := json.Unmarshal(data, &ref); err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	sortRefs(refs)
	return refs, nil
}

// DeleteBuildRef removes a build ref file.
func (fs *FSStore) DeleteBuildRef(_ context.Context, buildID string) error {
	if err := os.Remove(fs.refPath(buildID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete build ref: %w", err)
	}
	return nil
}

// Close releases resources.
func (fs *FSStore) Close() error {
	return nil
}

// objectPath returns the filesystem path for an object.
func (fs *FSStore) objectPath(key string) string {
	return filepath.Join(fs.basePath, "objects", key[:2], key[2:])
}

// metadataPath returns the filesystem path for object metadata.
func (fs *FSStore) metadataPath(key string) string {
	return fs.objectPath(key) + metaSuffix
}

func (fs *FSStore) refPath(buildID string) string {
	return filepath.Join(fs.basePath, "refs", "builds", filepath.Base(buildID)+".json")
}

// readMetadata reads object metadata from disk.
func (fs *FSStore) readMetadata(key string) (Metadata, error) {
	// #nosec G304 - path is built from a validated hex key
	data, err := os.ReadFile(fs.metadataPath(key))
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if metadata.Custom == nil {
		metadata.Custom = map[string]string{}
	}
	return metadata, nil
}

// writeAtomic writes data to a temp file next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o600); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

// validKey rejects keys that could escape the objects directory.
func validKey(key string) error {
	if len(key) < 3 {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, r := range key {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	return nil
}

func sortedUnique(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

func sortRefs(refs []BuildRef) {
	slices.SortFunc(refs, func(a, b BuildRef) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.BuildID, b.BuildID)
	})
}
