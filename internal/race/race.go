// SPDX-License-Identifier: MIT

// Package race resolves one logical request against a pool of unreliable
// mirrors and returns the first structurally valid response.
package race

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/xianrendesu-max/sennintubeyobi/internal/log"
	"github.com/xianrendesu-max/sennintubeyobi/internal/metrics"
	"github.com/xianrendesu-max/sennintubeyobi/internal/mirror"
)

// ErrUpstreamTimeout is returned when no endpoint produced a structurally
// valid response before the pool was exhausted or the global deadline fired.
// It is the only failure a caller ever sees; per-attempt errors are absorbed
// by the scorer.
var ErrUpstreamTimeout = errors.New("no mirror answered in time")

// Strategy selects how the racer walks a pool.
type Strategy int

const (
	// StrategyRace fans out to the first FanOut endpoints concurrently.
	StrategyRace Strategy = iota
	// StrategyWalk tries endpoints sequentially in preference order.
	StrategyWalk
)

// Validate reports whether a body is a structurally valid response for the
// operation. A nil Validate accepts any well-formed JSON.
type Validate func([]byte) bool

// Request describes one logical operation against a capability pool.
// Immutable once issued.
type Request struct {
	Capability string
	Path       string // path and query suffix appended to the endpoint base
	Strategy   Strategy
	Validate   Validate
}

// Options bounds the racer's attempts.
type Options struct {
	AttemptTimeout time.Duration // per-attempt cap, default 3s
	GlobalTimeout  time.Duration // hard deadline per operation, default 10s
	FanOut         int           // concurrent attempts for StrategyRace, default 5
	UserAgent      string
}

// maxBody caps how much of a mirror response is read. Mirrors are untrusted;
// video metadata tops out well below this.
const maxBody = 8 << 20

// Racer issues raced requests. Safe for concurrent use.
type Racer struct {
	client *http.Client
	opts   Options
	logger zerolog.Logger
}

// New creates a racer sharing one HTTP client across all pools.
func New(client *http.Client, opts Options) *Racer {
	if client == nil {
		client = &http.Client{}
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 3 * time.Second
	}
	if opts.GlobalTimeout <= 0 {
		opts.GlobalTimeout = 10 * time.Second
	}
	if opts.FanOut <= 0 {
		opts.FanOut = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0"
	}
	return &Racer{
		client: client,
		opts:   opts,
		logger: log.WithComponent("race"),
	}
}

// Do resolves the request against the pool using the request's strategy.
// Returns the winning body, or ErrUpstreamTimeout after exhaustion.
func (r *Racer) Do(ctx context.Context, pool *mirror.Pool, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.GlobalTimeout)
	defer cancel()

	start := time.Now()
	var body []byte
	var err error
	switch req.Strategy {
	case StrategyWalk:
		body, err = r.walk(ctx, pool, req)
	default:
		body, err = r.fanOut(ctx, pool, req)
	}
	if err != nil {
		metrics.RecordExhausted(req.Capability)
		return nil, err
	}
	metrics.ObserveWin(req.Capability, time.Since(start))
	return body, nil
}

type attemptResult struct {
	url  string
	body []byte // nil unless the attempt won
}

// fanOut implements the full fan-out race: every candidate gets a goroutine,
// the first valid success wins and the rest are cancelled. Stragglers report
// into a buffered channel so their late completion is discarded without
// blocking or touching released state.
func (r *Racer) fanOut(ctx context.Context, pool *mirror.Pool, req Request) ([]byte, error) {
	candidates := r.candidates(pool, req.Capability)
	if len(candidates) == 0 {
		return nil, ErrUpstreamTimeout
	}

	attemptCtx, cancelAttempts := context.WithCancel(ctx)
	defer cancelAttempts()

	logger := log.WithContext(ctx, r.logger)

	results := make(chan attemptResult, len(candidates))
	for _, ep := range candidates {
		url := ep.URL
		go func() {
			body, oc, discarded := r.attempt(attemptCtx, url, req)
			if discarded {
				results <- attemptResult{url: url}
				return
			}
			pool.Report(url, oc)
			metrics.RecordAttempt(req.Capability, oc.Kind.String())
			if oc.Kind == mirror.OutcomeSuccess {
				results <- attemptResult{url: url, body: body}
				return
			}
			results <- attemptResult{url: url}
		}()
	}

	pending := len(candidates)
	for pending > 0 {
		select {
		case <-ctx.Done():
			return nil, ErrUpstreamTimeout
		case res := <-results:
			pending--
			if res.body != nil {
				// First valid success wins; abandon the rest.
				cancelAttempts()
				logger.Debug().
					Str("capability", req.Capability).
					Str("mirror", res.url).
					Msg("race won")
				return res.body, nil
			}
		}
	}
	return nil, ErrUpstreamTimeout
}

// walk tries endpoints one at a time in preference order, demoting failures
// and stopping at the first success. Each endpoint is tried at most once.
func (r *Racer) walk(ctx context.Context, pool *mirror.Pool, req Request) ([]byte, error) {
	logger := log.WithContext(ctx, r.logger)
	for _, ep := range pool.Snapshot() {
		if ctx.Err() != nil {
			return nil, ErrUpstreamTimeout
		}
		if !pool.Allow(ep.URL) {
			metrics.RecordAttempt(req.Capability, "throttled")
			continue
		}
		body, oc, discarded := r.attempt(ctx, ep.URL, req)
		if discarded {
			return nil, ErrUpstreamTimeout
		}
		pool.Report(ep.URL, oc)
		metrics.RecordAttempt(req.Capability, oc.Kind.String())
		if oc.Kind == mirror.OutcomeSuccess {
			return body, nil
		}
		logger.Debug().
			Str("capability", req.Capability).
			Str("mirror", ep.URL).
			Str("outcome", oc.Kind.String()).
			Msg("mirror attempt failed, trying next")
	}
	return nil, ErrUpstreamTimeout
}

// candidates returns the first FanOut endpoints with remaining rate budget.
func (r *Racer) candidates(pool *mirror.Pool, capability string) []mirror.Endpoint {
	snap := pool.Snapshot()
	out := make([]mirror.Endpoint, 0, r.opts.FanOut)
	for _, ep := range snap {
		if len(out) == r.opts.FanOut {
			break
		}
		if !pool.Allow(ep.URL) {
			metrics.RecordAttempt(capability, "throttled")
			continue
		}
		out = append(out, ep)
	}
	return out
}

// attempt performs a single GET against one endpoint and classifies the
// outcome. discarded is true when the parent context ended first; such
// attempts must not feed the scorer.
func (r *Racer) attempt(ctx context.Context, base string, req Request) (body []byte, oc mirror.Outcome, discarded bool) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
	defer cancel()

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, base+req.Path, nil)
	if err != nil {
		return nil, mirror.Outcome{Kind: mirror.OutcomeMalformed}, false
	}
	httpReq.Header.Set("User-Agent", r.opts.UserAgent)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// Lost the race or global deadline fired; not the mirror's fault.
			return nil, mirror.Outcome{}, true
		}
		return nil, mirror.Outcome{Kind: mirror.OutcomeTimeout}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mirror.Outcome{Kind: mirror.OutcomeHTTPError, Status: resp.StatusCode}, false
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, mirror.Outcome{}, true
		}
		return nil, mirror.Outcome{Kind: mirror.OutcomeTimeout}, false
	}

	if !validate(req.Validate, body) {
		return nil, mirror.Outcome{Kind: mirror.OutcomeMalformed}, false
	}
	return body, mirror.Outcome{Kind: mirror.OutcomeSuccess, Latency: time.Since(start)}, false
}

func validate(v Validate, body []byte) bool {
	if v != nil {
		return v(body)
	}
	return json.Valid(body)
}

// JSONShape returns a validator from a probe that attempts to decode the
// body into the operation's expected shape.
func JSONShape(probe func([]byte) error) Validate {
	return func(body []byte) bool {
		return probe(body) == nil
	}
}
