package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionstore-go/internal/session"
)

// runBackendSuite checks the behavior every session.Backend must share.
func runBackendSuite(t *testing.T, newBackend func(t *testing.T) session.Backend) {
	t.Helper()

	// Stored expiries keep millisecond precision.
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("EnsureTableIsIdempotent", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.EnsureTable(ctx))
		require.NoError(t, b.EnsureTable(ctx))
	})

	t.Run("InsertAndGet", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.EnsureTable(ctx))

		expiry := now.Add(time.Hour)
		require.NoError(t, b.Insert(ctx, session.Row{ID: "a", Data: []byte{1, 2, 3}, Expiry: &expiry}))
		require.NoError(t, b.Insert(ctx, session.Row{ID: "b", Data: []byte{4}}))

		row, err := b.Get(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, session.ID("a"), row.ID)
		assert.Equal(t, []byte{1, 2, 3}, row.Data)
		require.NotNil(t, row.Expiry)
		assert.True(t, expiry.Equal(*row.Expiry), "want %s, got %s", expiry, row.Expiry)

		row, err = b.Get(ctx, "b")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Nil(t, row.Expiry)
	})

	t.Run("GetMissing", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.EnsureTable(ctx))

		row, err := b.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("InsertCollision", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.EnsureTable(ctx))

		require.NoError(t, b.Insert(ctx, session.Row{ID: "dup", Data: []byte("first")}))
		err := b.Insert(ctx, session.Row{ID: "dup", Data: []byte("second")})
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrCollision)

		row, err := b.Get(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), row.Data)
	})

	t.Run("UpsertReplacesPayloadAndExpiry", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.EnsureTable(ctx))

		expiry := now.Add(time.Minute)
		require.NoError(t, b.Upsert(ctx, session.Row{ID: "u", Data: []byte("v1"), Expiry: &expiry}))
		require.NoError(t, b.Upsert(ctx, session.Row{ID: "u", Data: []byte("v2")}))

		row, err := b.Get(ctx, "u")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, []byte("v2"), row.Data)
		assert.Nil(t, row.Expiry)

		later := now.Add(2 * time.Hour)
		require.NoError(t, b.Upsert(ctx, session.Row{ID: "u", Data: []byte("v3"), Expiry: &later}))
		row, err = b.Get(ctx, "u")
		require.NoError(t, err)
		require.NotNil(t, row.Expiry)
		assert.True(t, later.Equal(*row.Expiry))
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.EnsureTable(ctx))

		require.NoError(t, b.Insert(ctx, session.Row{ID: "d", Data: []byte("x")}))
		require.NoError(t, b.Delete(ctx, "d"))
		require.NoError(t, b.Delete(ctx, "d"))

		row, err := b.Get(ctx, "d")
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.EnsureTable(ctx))

		past := now.Add(-time.Minute)
		future := now.Add(time.Minute)
		require.NoError(t, b.Insert(ctx, session.Row{ID: "t1", Data: []byte("1"), Expiry: &past}))
		require.NoError(t, b.Insert(ctx, session.Row{ID: "edge", Data: []byte("2"), Expiry: &now}))
		require.NoError(t, b.Insert(ctx, session.Row{ID: "t2", Data: []byte("3"), Expiry: &future}))
		require.NoError(t, b.Insert(ctx, session.Row{ID: "forever", Data: []byte("4")}))

		n, err := b.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		for id, want := range map[session.ID]bool{"t1": false, "edge": false, "t2": true, "forever": true} {
			row, err := b.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, row != nil, "row %s", id)
		}

		n, err = b.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("SubMillisecondExpiryIsNotSweptEarly", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.EnsureTable(ctx))

		expiry := now.Add(500 * time.Microsecond)
		require.NoError(t, b.Insert(ctx, session.Row{ID: "soon", Data: []byte("x"), Expiry: &expiry}))

		n, err := b.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, n, "expiry is after the cutoff")

		n, err = b.DeleteExpired(ctx, now.Add(time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("DeleteExpiredOnEmptyTable", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.EnsureTable(ctx))

		n, err := b.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("StoreScenario", func(t *testing.T) {
		store, err := session.NewStore(newBackend(t), session.WithClock(func() time.Time { return now }))
		require.NoError(t, err)
		ctx := context.Background()

		rec := &session.Record{Data: map[string]any{"counter": int64(1)}, Expiry: session.ExpiresAt(now.Add(-time.Second))}
		id, err := store.Create(ctx, rec)
		require.NoError(t, err)

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, int64(1), loaded.Data["counter"])

		n, err := store.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		loaded, err = store.Load(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("ConcurrentCreates", func(t *testing.T) {
		store, err := session.NewStore(newBackend(t))
		require.NoError(t, err)
		ctx := context.Background()

		const workers = 10
		var (
			mu  sync.Mutex
			ids = make(map[session.ID]struct{})
			wg  sync.WaitGroup
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := store.Create(ctx, &session.Record{Data: map[string]any{"i": int64(i)}})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}(i)
		}
		wg.Wait()
		assert.Len(t, ids, workers)
	})
}
