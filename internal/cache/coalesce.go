// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xianrendesu-max/sennintubeyobi/internal/metrics"
)

// Store couples a Cache backend with per-key request coalescing. Concurrent
// callers for the same key during the in-flight window share one upstream
// computation instead of issuing duplicates; this is the load-shedding
// property that protects the mirror pools from thundering herds.
type Store struct {
	backend Cache
	group   singleflight.Group
}

// NewStore wraps a Cache backend.
func NewStore(backend Cache) *Store {
	return &Store{backend: backend}
}

// Stats exposes the backend's counters.
func (s *Store) Stats() Stats {
	return s.backend.Stats()
}

// Key canonicalizes an operation name and its arguments into a cache key.
func Key(op string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, op)
	for _, a := range args {
		parts = append(parts, url.QueryEscape(strings.TrimSpace(a)))
	}
	return strings.Join(parts, "|")
}

// GetOrCompute returns the cached value for key, or runs compute exactly once
// per key per in-flight window and caches its JSON encoding for ttl. The
// per-key exclusion comes from singleflight, so distinct keys stay fully
// parallel.
func GetOrCompute[T any](ctx context.Context, s *Store, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var zero T

	if data, ok := s.backend.Get(key); ok {
		var out T
		if err := json.Unmarshal(data, &out); err == nil {
			metrics.RecordCache("hit")
			return out, nil
		}
		// Undecodable entry (schema changed between builds); fall through to
		// recompute and overwrite.
	}
	metrics.RecordCache("miss")

	v, err, shared := s.group.Do(key, func() (any, error) {
		// Another caller may have landed the value while we queued.
		if data, ok := s.backend.Get(key); ok {
			var out T
			if err := json.Unmarshal(data, &out); err == nil {
				return out, nil
			}
		}

		out, err := compute(ctx)
		if err != nil {
			return zero, err
		}
		if data, err := json.Marshal(out); err == nil {
			s.backend.Set(key, data, ttl)
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	if shared {
		metrics.RecordCache("coalesced")
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: unexpected value type for key %q", key)
	}
	return out, nil
}
