package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBuildID = "3f6c1a52-build"

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEventStoreAppendAndRetrieve(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Append(ctx, testBuildID, TypeBuildStarted, []byte(`{"test":"data"}`), map[string]string{"key": "value"}))

	events, err := store.GetByBuildID(ctx, testBuildID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, testBuildID, e.BuildID())
	assert.Equal(t, TypeBuildStarted, e.Type())
	assert.JSONEq(t, `{"test":"data"}`, string(e.Payload()))
	assert.Equal(t, "value", e.Metadata()["key"])
	assert.Positive(t, e.ID())
}

func TestEventStoreNilPayloadAndMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Append(ctx, testBuildID, TypeBuildIteration, nil, nil))
	events, err := store.GetByBuildID(ctx, testBuildID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "{}", string(events[0].Payload()))
	assert.Nil(t, events[0].Metadata())
}

func TestEventStoreKeepsAppendOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	for _, typ := range []string{TypeBuildStarted, TypeBuildIteration, TypeBuildIteration, TypeBuildCompleted} {
		require.NoError(t, store.Append(ctx, testBuildID, typ, nil, nil))
	}
	require.NoError(t, store.Append(ctx, "other", TypeBuildStarted, nil, nil))

	events, err := store.GetByBuildID(ctx, testBuildID)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type())
	}
	assert.Equal(t, []string{TypeBuildStarted, TypeBuildIteration, TypeBuildIteration, TypeBuildCompleted}, types)
}

func TestEventStoreGetRange(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		at := base.Add(time.Duration(i) * time.Hour)
		store.now = func() time.Time { return at }
		require.NoError(t, store.Append(ctx, testBuildID, TypeBuildIteration, nil, nil))
	}

	events, err := store.GetRange(ctx, base.Add(30*time.Minute), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Timestamp().Equal(base.Add(time.Hour)))
}

func TestEventStorePersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/journal.db"
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(t.Context(), testBuildID, TypeBuildStarted, nil, nil))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	events, err := reopened.GetByBuildID(t.Context(), testBuildID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventStorePruneKeepsNewestBuilds(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	for _, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, store.Append(ctx, id, TypeBuildStarted, nil, nil))
		require.NoError(t, store.Append(ctx, id, TypeBuildCompleted, nil, nil))
	}

	removed, err := store.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	gone, err := store.GetByBuildID(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, gone)
	kept, err := store.GetByBuildID(ctx, "b3")
	require.NoError(t, err)
	assert.Len(t, kept, 2)

	removed, err = store.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}
