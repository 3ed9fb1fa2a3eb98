// SPDX-License-Identifier: MIT

// Package mirror maintains per-capability pools of upstream endpoints,
// ordered by observed reliability.
package mirror

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xianrendesu-max/sennintubeyobi/internal/metrics"
)

// Mode selects how the pool turns outcomes into ordering.
type Mode int

const (
	// ModeOrdinal keeps a plain ordered list: success moves the endpoint to
	// the front, failure moves it to the back.
	ModeOrdinal Mode = iota
	// ModeScored keeps a numeric reliability score per endpoint and reads in
	// score-descending order. Success rewards inversely to latency, failure
	// applies a fixed penalty.
	ModeScored
)

const (
	// minReward guarantees every success is rewarded, however slow.
	minReward = 1.0
	maxReward = 20.0
	// failPenalty outweighs a typical reward so a flaky endpoint cannot hold
	// the front on one lucky hit.
	failPenalty = 30.0
)

// Endpoint is one candidate base URL in a pool.
type Endpoint struct {
	URL string
}

type entry struct {
	url      string
	score    float64
	scoredAt time.Time
	limiter  *rate.Limiter
}

// Options configures a pool.
type Options struct {
	Mode Mode
	// HalfLife decays scores toward zero so a long-penalized endpoint becomes
	// eligible for retry again. The observed source behavior never decays;
	// set 0 to match it. Only meaningful for ModeScored.
	HalfLife time.Duration
	// Rate bounds attempts per endpoint (requests/second). <=0 means no limit.
	Rate  float64
	Burst int
	// Now is injectable for tests.
	Now func() time.Time
}

// Pool is an ordered, mutable set of endpoints for one capability. All
// reordering happens copy-on-write under a short-held mutex; readers get an
// immutable snapshot.
type Pool struct {
	capability string
	opts       Options

	mu      sync.Mutex
	entries []*entry
}

// NewPool builds a pool from the given base URLs, in given priority order.
// Duplicate URLs are dropped.
func NewPool(capability string, urls []string, opts Options) *Pool {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Pool{capability: capability, opts: opts}
	p.Replace(urls)
	return p
}

// Capability returns the capability tag this pool serves.
func (p *Pool) Capability() string { return p.capability }

// Snapshot returns the endpoints in current preference order. The returned
// slice is owned by the caller; later pool mutations do not affect it.
func (p *Pool) Snapshot() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	ordered := p.entries
	if p.opts.Mode == ModeScored {
		now := p.opts.Now()
		ordered = make([]*entry, len(p.entries))
		copy(ordered, p.entries)
		// Stable insertion-order tie-break: sort by decayed score, descending.
		sortByScore(ordered, func(e *entry) float64 { return p.decayedScore(e, now) })
	}

	out := make([]Endpoint, len(ordered))
	for i, e := range ordered {
		out[i] = Endpoint{URL: e.url}
	}
	return out
}

// Report feeds one attempt outcome back into the pool. Unknown URLs are
// ignored; the endpoint may have been dropped by a concurrent Replace.
func (p *Pool) Report(url string, oc Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.index(url)
	if idx < 0 {
		return
	}

	switch p.opts.Mode {
	case ModeOrdinal:
		if oc.Failed() {
			p.moveToBack(idx)
		} else {
			p.moveToFront(idx)
		}
	case ModeScored:
		e := p.entries[idx]
		now := p.opts.Now()
		e.score = p.decayedScore(e, now)
		e.scoredAt = now
		if oc.Failed() {
			e.score -= failPenalty
		} else {
			e.score += reward(oc.Latency)
		}
	}
}

// Allow checks the per-endpoint request budget. Attempts denied here should
// be skipped without demotion; being over budget is not a failure signal.
func (p *Pool) Allow(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.index(url)
	if idx < 0 {
		return false
	}
	l := p.entries[idx].limiter
	if l == nil {
		return true
	}
	return l.Allow()
}

// Replace swaps the pool contents for a new URL list, preserving scores of
// endpoints present in both. Used by mirrors-file hot reload.
func (p *Pool) Replace(urls []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := make(map[string]*entry, len(p.entries))
	for _, e := range p.entries {
		old[e.url] = e
	}

	seen := make(map[string]struct{}, len(urls))
	entries := make([]*entry, 0, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup || u == "" {
			continue
		}
		seen[u] = struct{}{}
		if e, ok := old[u]; ok {
			entries = append(entries, e)
			continue
		}
		entries = append(entries, &entry{
			url:      u,
			scoredAt: p.opts.Now(),
			limiter:  p.newLimiter(),
		})
	}
	p.entries = entries
	metrics.SetPoolSize(p.capability, len(entries))
}

// Len returns the number of endpoints in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Score returns the current decayed score for a URL. Zero for unknown URLs.
func (p *Pool) Score(url string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.index(url)
	if idx < 0 {
		return 0
	}
	return p.decayedScore(p.entries[idx], p.opts.Now())
}

// Position returns the snapshot position of a URL, or -1 when absent.
func (p *Pool) Position(url string) int {
	for i, e := range p.Snapshot() {
		if e.URL == url {
			return i
		}
	}
	return -1
}

func (p *Pool) index(url string) int {
	for i, e := range p.entries {
		if e.url == url {
			return i
		}
	}
	return -1
}

// moveToFront reorders copy-on-write so concurrent Snapshot callers never
// observe a torn slice.
func (p *Pool) moveToFront(idx int) {
	if idx == 0 {
		return
	}
	next := make([]*entry, 0, len(p.entries))
	next = append(next, p.entries[idx])
	next = append(next, p.entries[:idx]...)
	next = append(next, p.entries[idx+1:]...)
	p.entries = next
}

func (p *Pool) moveToBack(idx int) {
	if idx == len(p.entries)-1 {
		return
	}
	next := make([]*entry, 0, len(p.entries))
	next = append(next, p.entries[:idx]...)
	next = append(next, p.entries[idx+1:]...)
	next = append(next, p.entries[idx])
	p.entries = next
}

func (p *Pool) decayedScore(e *entry, now time.Time) float64 {
	if p.opts.HalfLife <= 0 || e.score == 0 {
		return e.score
	}
	elapsed := now.Sub(e.scoredAt)
	if elapsed <= 0 {
		return e.score
	}
	return e.score * math.Pow(0.5, float64(elapsed)/float64(p.opts.HalfLife))
}

func (p *Pool) newLimiter() *rate.Limiter {
	if p.opts.Rate <= 0 {
		return nil
	}
	burst := p.opts.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(p.opts.Rate), burst)
}

func reward(latency time.Duration) float64 {
	secs := latency.Seconds()
	if secs < 0.05 {
		secs = 0.05
	}
	r := 1.0 / secs
	if r < minReward {
		return minReward
	}
	if r > maxReward {
		return maxReward
	}
	return r
}

// sortByScore is a stable insertion sort by descending key. Pools are a
// handful of entries; simplicity beats sort.Slice's closure allocation here
// and keeps equal scores in insertion order.
func sortByScore(entries []*entry, key func(*entry) float64) {
	for i := 1; i < len(entries); i++ {
		e := entries[i]
		k := key(e)
		j := i - 1
		for j >= 0 && key(entries[j]) < k {
			entries[j+1] = entries[j]
			j--
		}
		entries[j+1] = e
	}
}
