package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	defer b.Close()
	ctx := context.Background()

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "k", []byte("v"), 0))
	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestSetWithTTLExpires(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementIsAtomicUnderConcurrency(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	defer b.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Increment(ctx, "counter", 1, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, ok, err := b.Get(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	n, err := decodeInt64(v)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}

func TestCompareAndSwapSucceedsOnlyWhenExpectedMatches(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	defer b.Close()
	ctx := context.Background()

	ok, err := b.CompareAndSwap(ctx, "k", nil, []byte("first"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.CompareAndSwap(ctx, "k", []byte("wrong"), []byte("second"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.CompareAndSwap(ctx, "k", []byte("first"), []byte("second"))
	require.NoError(t, err)
	assert.True(t, ok)

	v, _, _ := b.Get(ctx, "k")
	assert.Equal(t, []byte("second"), v)
}

func TestKeysMatchesGlobPattern(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "ratelimit:a", []byte("1"), 0))
	require.NoError(t, b.Set(ctx, "ratelimit:b", []byte("1"), 0))
	require.NoError(t, b.Set(ctx, "session:a", []byte("1"), 0))

	keys, err := b.Keys(ctx, "ratelimit:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ratelimit:a", "ratelimit:b"}, keys)
}

func TestMSetMGetMDel(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.MSet(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, 0))
	got, err := b.MGet(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)

	require.NoError(t, b.MDel(ctx, []string{"a"}))
	got, err = b.MGet(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"b": []byte("2")}, got)
}

func TestExpireSetsNewTTL(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), 0))
	ok, err := b.Expire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok, _ = b.Get(ctx, "k")
	assert.False(t, ok)
}

func TestFlushClearsAllKeys(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, b.Flush(ctx))

	_, ok, _ := b.Get(ctx, "k")
	assert.False(t, ok)
}
