package counter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSequentialIncrements(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		count, err := store.IncrementAndGet(ctx, "velocity:order:u1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	count, found, err := store.Get(ctx, "velocity:order:u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(5), count)
}

func TestMemoryStoreGetMissingKey(t *testing.T) {
	store := NewMemoryStore()

	count, found, err := store.Get(context.Background(), "velocity:missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, count)
}

func TestMemoryStoreTTLOnlySetOnCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	current := time.Unix(1700000000, 0)
	store.WithNow(func() time.Time { return current })

	_, err := store.IncrementAndGet(ctx, "k", time.Minute)
	require.NoError(t, err)

	// A later increment must not extend the original window.
	current = current.Add(50 * time.Second)
	count, err := store.IncrementAndGet(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// 15s later the original 60s window has lapsed even though the second
	// increment happened only 25s ago.
	current = current.Add(15 * time.Second)
	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	count, err = store.IncrementAndGet(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired key restarts at 1")
}

func TestMemoryStoreConcurrentIncrementsNoLostUpdates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.IncrementAndGet(ctx, "concurrent", time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, found, err := store.Get(ctx, "concurrent")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(workers), count)
}

func TestRedisStoreIncrementAndGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client)

	mock.ExpectEvalSha(store.script.Hash(), []string{"velocity:order:u1"}, int64(3600)).SetVal(int64(4))

	count, err := store.IncrementAndGet(context.Background(), "velocity:order:u1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreIncrementSurfacesUnavailability(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client)

	mock.ExpectEvalSha(store.script.Hash(), []string{"k"}, int64(60)).SetErr(errors.New("connection refused"))

	_, err := store.IncrementAndGet(context.Background(), "k", time.Minute)
	assert.Error(t, err, "callers decide fail-open; the store must not hide the outage")
}

func TestRedisStoreGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client)

	mock.ExpectGet("velocity:login:1.2.3.4").SetVal("7")

	count, found, err := store.Get(context.Background(), "velocity:login:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7), count)
}

func TestRedisStoreGetMissing(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client)

	mock.ExpectGet("absent").RedisNil()

	_, found, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
}
