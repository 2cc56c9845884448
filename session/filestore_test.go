package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFileStore(t *testing.T) *FileStore {
	t.Helper()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

// appendAll writes the events one by one, requiring each append to succeed.
func appendAll(t *testing.T, store Store, sessionID string, events []Event) {
	t.Helper()

	ctx := context.Background()
	for _, ev := range events {
		require.NoError(t, store.Append(ctx, sessionID, ev))
	}
}

func TestFileStoreAppendLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		store := setupFileStore(t)
		events := scenarioEvents(t)
		appendAll(t, store, "s1", events)

		got, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, events, got)
	})

	t.Run("unknown session", func(t *testing.T) {
		store := setupFileStore(t)
		_, err := store.Load(ctx, "nope")
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("rejects out-of-order appends", func(t *testing.T) {
		store := setupFileStore(t)
		require.NoError(t, store.Append(ctx, "s1", Event{Seq: 1, Type: EventHandoff}))

		err := store.Append(ctx, "s1", Event{Seq: 3, Type: EventHandoff})
		require.ErrorIs(t, err, ErrOutOfOrderAppend)

		err = store.Append(ctx, "s1", Event{Seq: 1, Type: EventHandoff})
		require.ErrorIs(t, err, ErrOutOfOrderAppend)

		// Nothing was written by the rejected appends.
		got, err := store.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("first event must be seq one", func(t *testing.T) {
		store := setupFileStore(t)
		err := store.Append(ctx, "s1", Event{Seq: 5, Type: EventHandoff})
		require.ErrorIs(t, err, ErrOutOfOrderAppend)
	})

	t.Run("independent sessions do not interfere", func(t *testing.T) {
		store := setupFileStore(t)
		require.NoError(t, store.Append(ctx, "a", Event{Seq: 1, Type: EventHandoff}))
		require.NoError(t, store.Append(ctx, "b", Event{Seq: 1, Type: EventHandoff}))
		require.NoError(t, store.Append(ctx, "a", Event{Seq: 2, Type: EventHandoff}))

		a, err := store.Load(ctx, "a")
		require.NoError(t, err)
		b, err := store.Load(ctx, "b")
		require.NoError(t, err)
		assert.Len(t, a, 2)
		assert.Len(t, b, 1)
	})
}

func TestFileStoreRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	appendAll(t, store, "s1", scenarioEvents(t)[:3])

	// A fresh store over the same directory recovers the sequence tail.
	reopened, err := NewFileStore(dir)
	require.NoError(t, err)

	err = reopened.Append(ctx, "s1", Event{Seq: 3, Type: EventHandoff})
	require.ErrorIs(t, err, ErrOutOfOrderAppend)
	require.NoError(t, reopened.Append(ctx, "s1", Event{Seq: 4, Type: EventHandoff, Target: "planner"}))

	got, err := reopened.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestFileStoreCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	t.Run("gap in sequence", func(t *testing.T) {
		path := filepath.Join(dir, "gap.jsonl")
		require.NoError(t, os.WriteFile(path, []byte(
			`{"seq":1,"agent":"planner","type":"handoff","target":"reconnaissance"}`+"\n"+
				`{"seq":3,"agent":"reconnaissance","type":"handoff","target":"planner"}`+"\n"), 0o644))

		_, err := store.Load(ctx, "gap")
		require.ErrorIs(t, err, ErrStoreCorruption)
	})

	t.Run("undecodable line", func(t *testing.T) {
		path := filepath.Join(dir, "junk.jsonl")
		require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o644))

		_, err := store.Load(ctx, "junk")
		require.ErrorIs(t, err, ErrStoreCorruption)
	})
}

func TestFileStoreList(t *testing.T) {
	ctx := context.Background()
	store := setupFileStore(t)

	events := scenarioEvents(t)
	appendAll(t, store, "done", events)
	appendAll(t, store, "open", events[:2])

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byID := make(map[string]Summary, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s
	}
	assert.Equal(t, StatusCompleted, byID["done"].Status)
	assert.Equal(t, int64(len(events)), byID["done"].EventCount)
	assert.Equal(t, StatusRunning, byID["open"].Status)
	assert.Equal(t, int64(2), byID["open"].EventCount)
}
