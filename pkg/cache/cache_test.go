package cache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/fctl/pkg/types"
)

func newTestCache(t *testing.T, maxBytes int64) *Cache {
	t.Helper()
	dir, err := os.MkdirTemp("", "fctl-cache-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	c, err := New(dir, maxBytes, nil)
	require.NoError(t, err)
	return c
}

func TestCache_LookupMiss(t *testing.T) {
	c := newTestCache(t, 0)
	_, ok := c.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestCache_InsertThenLookupHits(t *testing.T) {
	c := newTestCache(t, 0)
	schema := types.Schema{types.NewColumn("id", types.Int64, false)}

	ref, err := c.Insert(context.Background(), "fp1", func() ([]byte, types.Schema, error) {
		return []byte("payload"), schema, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fp1", ref.Fingerprint)

	body, err := os.ReadFile(ref.PayloadLocation)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))

	hit, ok := c.Lookup("fp1")
	require.True(t, ok)
	assert.Equal(t, ref.PayloadLocation, hit.PayloadLocation)
}

func TestCache_Insert_SingleFlightsConcurrentBuilds(t *testing.T) {
	c := newTestCache(t, 0)
	var calls int32

	var wg sync.WaitGroup
	refs := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := c.Insert(context.Background(), "shared-fp", func() ([]byte, types.Schema, error) {
				atomic.AddInt32(&calls, 1)
				return []byte("once"), types.Schema{}, nil
			})
			require.NoError(t, err)
			refs[i] = ref.PayloadLocation
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "producer must run at most once per fingerprint")
	for _, r := range refs {
		assert.Equal(t, refs[0], r)
	}
}

func TestCache_EvictsLeastRecentlyUsedOverLimit(t *testing.T) {
	c := newTestCache(t, 10) // bytes

	for _, fp := range []string{"a", "b", "c"} {
		_, err := c.Insert(context.Background(), fp, func() ([]byte, types.Schema, error) {
			return []byte("12345"), types.Schema{}, nil // 5 bytes each
		})
		require.NoError(t, err)
	}

	// Inserting "a", "b", "c" at 5 bytes each exceeds the 10-byte limit;
	// the least recently used ("a") should have been evicted.
	_, ok := c.Lookup("a")
	assert.False(t, ok)
	_, ok = c.Lookup("c")
	assert.True(t, ok)
}

func TestCache_PinnedEntrySurvivesEviction(t *testing.T) {
	c := newTestCache(t, 5) // only room for one 5-byte entry

	_, err := c.Insert(context.Background(), "pinned", func() ([]byte, types.Schema, error) {
		return []byte("12345"), types.Schema{}, nil
	})
	require.NoError(t, err)
	c.Acquire("pinned")

	_, err = c.Insert(context.Background(), "other", func() ([]byte, types.Schema, error) {
		return []byte("12345"), types.Schema{}, nil
	})
	require.NoError(t, err)

	_, ok := c.Lookup("pinned")
	assert.True(t, ok, "a pinned entry must not be evicted even when over the size limit")

	c.Release("pinned")
}

func TestCache_Insert_PropagatesProducerError(t *testing.T) {
	c := newTestCache(t, 0)
	_, err := c.Insert(context.Background(), "fails", func() ([]byte, types.Schema, error) {
		return nil, nil, assertErr
	})
	assert.ErrorIs(t, err, assertErr)
}

var assertErr = errSentinel("producer failed")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
