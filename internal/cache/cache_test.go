// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGetExpiry(t *testing.T) {
	c := NewMemory(0)

	c.Set("k", []byte("v"), 50*time.Millisecond)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "an entry is never returned past its TTL")
}

func TestJanitorSweepsExpired(t *testing.T) {
	c := NewMemory(20 * time.Millisecond).(*memoryCache)
	defer c.Stop()

	c.Set("short", []byte("x"), 10*time.Millisecond)
	c.Set("long", []byte("y"), time.Minute)

	assert.Eventually(t, func() bool {
		return c.Stats().CurrentSize == 1
	}, time.Second, 10*time.Millisecond)
}

func TestGetOrComputeCachesValue(t *testing.T) {
	s := NewStore(NewMemory(0))

	var calls atomic.Int32
	compute := func(context.Context) (string, error) {
		calls.Add(1)
		return "result", nil
	}

	v1, err := GetOrCompute(context.Background(), s, Key("search", "q", "1"), time.Minute, compute)
	require.NoError(t, err)
	v2, err := GetOrCompute(context.Background(), s, Key("search", "q", "1"), time.Minute, compute)
	require.NoError(t, err)

	assert.Equal(t, "result", v1)
	assert.Equal(t, "result", v2)
	assert.Equal(t, int32(1), calls.Load(), "a hit within TTL must not recompute")
}

func TestGetOrComputeCoalescesConcurrentCallers(t *testing.T) {
	s := NewStore(NewMemory(0))

	var calls atomic.Int32
	gate := make(chan struct{})
	compute := func(context.Context) (int, error) {
		calls.Add(1)
		<-gate
		return 42, nil
	}

	const callers = 12
	var wg sync.WaitGroup
	results := make([]int, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = GetOrCompute(context.Background(), s, "hot-key", time.Minute, compute)
		}(i)
	}

	// Let every caller pile onto the in-flight computation, then release it.
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 42, results[i])
	}
	assert.Equal(t, int32(1), calls.Load(), "exactly one upstream computation per key per window")
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	s := NewStore(NewMemory(0))

	var calls atomic.Int32
	_, err := GetOrCompute(context.Background(), s, "k", time.Minute, func(context.Context) (string, error) {
		calls.Add(1)
		return "", assert.AnError
	})
	require.Error(t, err)

	v, err := GetOrCompute(context.Background(), s, "k", time.Minute, func(context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load(), "failures must not poison the cache")
}

func TestKeyCanonicalization(t *testing.T) {
	assert.Equal(t, Key("search", "cat videos", "1"), Key("search", "  cat videos ", "1"))
	assert.NotEqual(t, Key("search", "a|b"), Key("search", "a", "b"))
	assert.NotEqual(t, Key("search", "q"), Key("video", "q"))
}

func TestTypedRoundTripThroughBackend(t *testing.T) {
	type record struct {
		Title string `json:"title"`
		Count int    `json:"count"`
	}
	s := NewStore(NewMemory(0))

	want := record{Title: "t", Count: 3}
	got, err := GetOrCompute(context.Background(), s, "k", time.Minute, func(context.Context) (record, error) {
		return want, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Second read decodes from the serialized backend entry.
	got2, err := GetOrCompute(context.Background(), s, "k", time.Minute, func(context.Context) (record, error) {
		t.Fatal("must not recompute")
		return record{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got2)
}
