// SPDX-License-Identifier: MIT

// Package service implements the resolution facade: every public operation
// goes result-cache first, then races the capability's mirror pool, then
// decodes the winning body into a normalized record.
package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/xianrendesu-max/sennintubeyobi/internal/cache"
	"github.com/xianrendesu-max/sennintubeyobi/internal/config"
	"github.com/xianrendesu-max/sennintubeyobi/internal/formats"
	"github.com/xianrendesu-max/sennintubeyobi/internal/invidious"
	"github.com/xianrendesu-max/sennintubeyobi/internal/log"
	"github.com/xianrendesu-max/sennintubeyobi/internal/mirror"
	"github.com/xianrendesu-max/sennintubeyobi/internal/mux"
	"github.com/xianrendesu-max/sennintubeyobi/internal/nitter"
	"github.com/xianrendesu-max/sennintubeyobi/internal/race"
)

// Muxer is the slice of the mux pipeline the service needs.
type Muxer interface {
	Mux(ctx context.Context, videoURL, audioURL string) (*mux.Job, error)
}

// Service resolves user-facing operations against the mirror pools.
// Safe for concurrent use.
type Service struct {
	cfg    *config.Config
	racer  *race.Racer
	store  *cache.Store
	pools  map[config.Capability]*mirror.Pool
	muxer  Muxer
	logger zerolog.Logger

	// Mux outputs are reused across range requests for the same video while
	// their retain window lasts; muxGroup collapses concurrent first hits.
	muxMu    sync.Mutex
	muxJobs  map[string]*mux.Job
	muxGroup singleflight.Group
}

// New wires the facade.
func New(cfg *config.Config, racer *race.Racer, store *cache.Store, pools map[config.Capability]*mirror.Pool, muxer Muxer) *Service {
	return &Service{
		cfg:     cfg,
		racer:   racer,
		store:   store,
		pools:   pools,
		muxer:   muxer,
		logger:  log.WithComponent("service"),
		muxJobs: make(map[string]*mux.Job),
	}
}

func (s *Service) strategy(capability config.Capability) race.Strategy {
	if s.cfg.Strategies[capability] == config.StrategyWalk {
		return race.StrategyWalk
	}
	return race.StrategyRace
}

// resolve races one request against the capability's pool.
func (s *Service) resolve(ctx context.Context, capability config.Capability, path string, probe func([]byte) error) ([]byte, error) {
	pool, ok := s.pools[capability]
	if !ok {
		return nil, race.ErrUpstreamTimeout
	}
	return s.racer.Do(ctx, pool, race.Request{
		Capability: string(capability),
		Path:       path,
		Strategy:   s.strategy(capability),
		Validate:   race.JSONShape(probe),
	})
}

// Search resolves one search page.
func (s *Service) Search(ctx context.Context, query string, page int) ([]invidious.SearchResult, error) {
	if page < 1 {
		page = 1
	}
	key := cache.Key("search", query, strconv.Itoa(page))
	return cache.GetOrCompute(ctx, s.store, key, s.cfg.SearchTTL, func(ctx context.Context) ([]invidious.SearchResult, error) {
		body, err := s.resolve(ctx, config.CapSearch, invidious.SearchPath(query, page), invidious.ProbeSearch)
		if err != nil {
			return nil, err
		}
		return invidious.DecodeSearch(body)
	})
}

// VideoMetadata resolves one watch page.
func (s *Service) VideoMetadata(ctx context.Context, id string) (invidious.VideoPage, error) {
	key := cache.Key("video", id)
	return cache.GetOrCompute(ctx, s.store, key, s.cfg.VideoTTL, func(ctx context.Context) (invidious.VideoPage, error) {
		body, err := s.resolve(ctx, config.CapVideo, invidious.VideoPath(id), invidious.ProbeVideo)
		if err != nil {
			return invidious.VideoPage{}, err
		}
		return invidious.DecodeVideo(body)
	})
}

// ChannelMetadata resolves one channel page.
func (s *Service) ChannelMetadata(ctx context.Context, id string) (invidious.ChannelPage, error) {
	key := cache.Key("channel", id)
	return cache.GetOrCompute(ctx, s.store, key, s.cfg.ChannelTTL, func(ctx context.Context) (invidious.ChannelPage, error) {
		body, err := s.resolve(ctx, config.CapChannel, invidious.ChannelPath(id), invidious.ProbeChannel)
		if err != nil {
			return invidious.ChannelPage{}, err
		}
		return invidious.DecodeChannel(body)
	})
}

// Comments resolves the comments of one video.
func (s *Service) Comments(ctx context.Context, videoID string) ([]invidious.Comment, error) {
	key := cache.Key("comments", videoID)
	return cache.GetOrCompute(ctx, s.store, key, s.cfg.CommentsTTL, func(ctx context.Context) ([]invidious.Comment, error) {
		body, err := s.resolve(ctx, config.CapComments, invidious.CommentsPath(videoID), invidious.ProbeComments)
		if err != nil {
			return nil, err
		}
		return invidious.DecodeComments(body)
	})
}

// SocialSearch resolves a microblogging search feed.
func (s *Service) SocialSearch(ctx context.Context, query string) ([]nitter.Post, error) {
	key := cache.Key("social", query)
	return cache.GetOrCompute(ctx, s.store, key, s.cfg.SocialTTL, func(ctx context.Context) ([]nitter.Post, error) {
		body, err := s.resolve(ctx, config.CapSocial, nitter.SearchPath(query), nitter.ProbeSearch)
		if err != nil {
			return nil, err
		}
		return nitter.DecodeSearch(body)
	})
}

// StreamSource describes the preferred way to play a video: an adaptive
// manifest when the mirror offers one, a progressive URL otherwise, or a
// server-side mux when the video only exists as split tracks.
type StreamSource struct {
	Kind string `json:"kind"` // "hls", "progressive" or "mux"
	URL  string `json:"url,omitempty"`
}

// ResolveStream picks the playback source for a video without running the
// mux pipeline; a "mux" answer directs the player to the mux endpoint.
// quality is an optional height label like "720p"; when a progressive track
// of exactly that height exists it wins over the default best pick. compat
// restricts an eventual mux pair to broadly playable codecs (H.264/AAC),
// for clients that cannot decode anything else.
func (s *Service) ResolveStream(ctx context.Context, id, quality string, compat bool) (StreamSource, error) {
	page, err := s.VideoMetadata(ctx, id)
	if err != nil {
		return StreamSource{}, err
	}
	if best, ok := formats.BestManifest(page.Formats); ok {
		return StreamSource{Kind: "hls", URL: best.URL}, nil
	}
	if f, ok := progressiveAt(page.Formats, quality); ok {
		return StreamSource{Kind: "progressive", URL: f.URL}, nil
	}
	if best, ok := formats.BestProgressive(page.Formats); ok {
		return StreamSource{Kind: "progressive", URL: best.URL}, nil
	}
	if _, err := formats.SelectPair(page.Formats, s.formatOptions(compat)); err != nil {
		return StreamSource{}, err
	}
	return StreamSource{Kind: "mux"}, nil
}

func progressiveAt(list []formats.Format, quality string) (formats.Format, bool) {
	height, err := strconv.Atoi(strings.TrimSuffix(quality, "p"))
	if err != nil || height <= 0 {
		return formats.Format{}, false
	}
	for _, f := range list {
		if f.Progressive && f.URL != "" && f.Height == height {
			return f, true
		}
	}
	return formats.Format{}, false
}

// MuxStream returns a playable single-file output for a video, reusing a
// live mux job when one exists. compat forces the H.264/AAC pair up front;
// without it, a failed mux of the preferred pair gets one retry with the
// compatible pair. Compat and non-compat outputs are distinct jobs.
func (s *Service) MuxStream(ctx context.Context, id string, compat bool) (*mux.Job, error) {
	key := id
	if compat {
		key = id + "|compat"
	}

	s.muxMu.Lock()
	s.pruneDeadJobsLocked()
	if job, ok := s.muxJobs[key]; ok && job.Alive() {
		s.muxMu.Unlock()
		return job, nil
	}
	s.muxMu.Unlock()

	v, err, _ := s.muxGroup.Do(key, func() (any, error) {
		// A concurrent caller may have landed a job while we queued.
		s.muxMu.Lock()
		if job, ok := s.muxJobs[key]; ok && job.Alive() {
			s.muxMu.Unlock()
			return job, nil
		}
		s.muxMu.Unlock()

		job, err := s.muxVideo(ctx, id, compat)
		if err != nil {
			return nil, err
		}
		s.muxMu.Lock()
		s.muxJobs[key] = job
		s.muxMu.Unlock()
		return job, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mux.Job), nil
}

// pruneDeadJobsLocked drops map entries whose output already hit the retain
// deadline, so the job map tracks live files rather than request history.
// Caller holds muxMu.
func (s *Service) pruneDeadJobsLocked() {
	for key, job := range s.muxJobs {
		if !job.Alive() {
			delete(s.muxJobs, key)
		}
	}
}

func (s *Service) muxVideo(ctx context.Context, id string, compat bool) (*mux.Job, error) {
	page, err := s.VideoMetadata(ctx, id)
	if err != nil {
		return nil, err
	}

	sel, err := formats.SelectPair(page.Formats, s.formatOptions(compat))
	if err != nil {
		return nil, err
	}
	job, err := s.muxer.Mux(ctx, sel.Video.URL, sel.Audio.URL)
	if err == nil {
		return job, nil
	}
	if compat || !errors.Is(err, mux.ErrMuxFailed) {
		return nil, err
	}

	alt, altErr := formats.SelectPair(page.Formats, s.formatOptions(true))
	if altErr != nil || (alt.Video.URL == sel.Video.URL && alt.Audio.URL == sel.Audio.URL) {
		return nil, err
	}
	logger := log.WithContext(ctx, s.logger)
	logger.Warn().
		Str("video", id).
		Msg("preferred pair failed to mux, retrying with compatible pair")
	return s.muxer.Mux(ctx, alt.Video.URL, alt.Audio.URL)
}

func (s *Service) formatOptions(compat bool) formats.Options {
	return formats.Options{PreferredLanguage: s.cfg.PreferredLanguage, Compat: compat}
}

// Close releases mux outputs still under management.
func (s *Service) Close() {
	s.muxMu.Lock()
	defer s.muxMu.Unlock()
	for _, job := range s.muxJobs {
		job.Delete()
	}
	s.muxJobs = map[string]*mux.Job{}
}
