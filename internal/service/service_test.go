// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xianrendesu-max/sennintubeyobi/internal/cache"
	"github.com/xianrendesu-max/sennintubeyobi/internal/config"
	"github.com/xianrendesu-max/sennintubeyobi/internal/mirror"
	"github.com/xianrendesu-max/sennintubeyobi/internal/mux"
	"github.com/xianrendesu-max/sennintubeyobi/internal/race"
)

const watchPage = `{
	"title":"t","author":"a","authorId":"c",
	"adaptiveFormats":[
		{"url":"http://up/v","type":"video/mp4","height":720,"fps":30,"bitrate":"2000"},
		{"url":"http://up/a","type":"audio/mp4","bitrate":"128","language":"ja"}
	]
}`

func testConfig(mirrors map[config.Capability][]string) *config.Config {
	return &config.Config{
		AttemptTimeout:    time.Second,
		GlobalTimeout:     2 * time.Second,
		FanOut:            3,
		Strategies:        map[config.Capability]config.Strategy{config.CapChannel: config.StrategyWalk},
		Mirrors:           mirrors,
		SearchTTL:         time.Minute,
		VideoTTL:          time.Minute,
		ChannelTTL:        time.Minute,
		CommentsTTL:       time.Minute,
		SocialTTL:         time.Minute,
		PreferredLanguage: "ja",
	}
}

func newTestService(t *testing.T, mirrors map[config.Capability][]string, muxer Muxer) *Service {
	t.Helper()

	cfg := testConfig(mirrors)
	pools := make(map[config.Capability]*mirror.Pool, len(mirrors))
	for capability, urls := range mirrors {
		pools[capability] = mirror.NewPool(string(capability), urls, mirror.Options{})
	}
	racer := race.New(http.DefaultClient, race.Options{
		AttemptTimeout: cfg.AttemptTimeout,
		GlobalTimeout:  cfg.GlobalTimeout,
		FanOut:         cfg.FanOut,
	})
	svc := New(cfg, racer, cache.NewStore(cache.NewMemory(0)), pools, muxer)
	t.Cleanup(svc.Close)
	return svc
}

type fakeMuxer struct {
	calls atomic.Int32
	fail  atomic.Bool
	dir   string
	got   chan [2]string
}

func newFakeMuxer(dir string) *fakeMuxer {
	return &fakeMuxer{dir: dir, got: make(chan [2]string, 8)}
}

func (f *fakeMuxer) Mux(_ context.Context, videoURL, audioURL string) (*mux.Job, error) {
	f.calls.Add(1)
	f.got <- [2]string{videoURL, audioURL}
	if f.fail.Load() {
		return nil, mux.ErrMuxFailed
	}
	n := f.calls.Load()
	path := filepath.Join(f.dir, "out"+strconv.Itoa(int(n))+".mp4")
	if err := os.WriteFile(path, []byte("mp4"), 0o600); err != nil {
		return nil, err
	}
	return &mux.Job{ID: "fake" + strconv.Itoa(int(n)), Path: path, Size: 3}, nil
}

func TestSearchCachesWithinTTL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/v1/search", r.URL.Path)
		_, _ = w.Write([]byte(`[{"type":"video","videoId":"v1","title":"hit","lengthSeconds":90}]`))
	}))
	defer srv.Close()

	svc := newTestService(t, map[config.Capability][]string{config.CapSearch: {srv.URL}}, nil)

	first, err := svc.Search(context.Background(), "query", 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "0:01:30", first[0].Length)

	second, err := svc.Search(context.Background(), "query", 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load(), "second read within TTL must not touch upstream")
}

func TestVideoMetadataRacesMirrors(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/videos/v1", r.URL.Path)
		_, _ = w.Write([]byte(watchPage))
	}))
	defer good.Close()

	svc := newTestService(t, map[config.Capability][]string{config.CapVideo: {bad.URL, good.URL}}, nil)

	page, err := svc.VideoMetadata(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "t", page.Title)
	require.Len(t, page.Formats, 2)
}

func TestChannelWalkSkipsMalformedMirror(t *testing.T) {
	// First mirror answers 200 with an empty upload list, which the probe
	// rejects; the walk must move on to the second mirror.
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"author":"chan","latestVideos":[]}`))
	}))
	defer empty.Close()
	full := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"author":"chan","latestVideos":[{"videoId":"v1","title":"up"}]}`))
	}))
	defer full.Close()

	svc := newTestService(t, map[config.Capability][]string{config.CapChannel: {empty.URL, full.URL}}, nil)

	page, err := svc.ChannelMetadata(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, page.LatestVideos, 1)
	assert.Equal(t, "v1", page.LatestVideos[0].ID)
}

func TestSocialSearchDecodesRSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/rss", r.URL.Path)
		_, _ = w.Write([]byte(`<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/"><channel><item><title>p</title><dc:creator>@u</dc:creator><description>body</description></item></channel></rss>`))
	}))
	defer srv.Close()

	svc := newTestService(t, map[config.Capability][]string{config.CapSocial: {srv.URL}}, nil)

	posts, err := svc.SocialSearch(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "@u", posts[0].Author)
}

func TestResolveStreamPrefersManifestThenProgressive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"title":"t",
			"hlsUrl":"http://up/master.m3u8",
			"formatStreams":[{"url":"http://up/p720","type":"video/mp4","resolution":"720p"}],
			"adaptiveFormats":[{"url":"http://up/v","type":"video/mp4","height":1080}]
		}`))
	}))
	defer srv.Close()

	svc := newTestService(t, map[config.Capability][]string{config.CapVideo: {srv.URL}}, nil)

	src, err := svc.ResolveStream(context.Background(), "v1", "", false)
	require.NoError(t, err)
	assert.Equal(t, StreamSource{Kind: "hls", URL: "http://up/master.m3u8"}, src)
}

func TestResolveStreamHonorsQuality(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"title":"t",
			"formatStreams":[
				{"url":"http://up/p360","type":"video/mp4","resolution":"360p"},
				{"url":"http://up/p720","type":"video/mp4","resolution":"720p"}
			]
		}`))
	}))
	defer srv.Close()

	svc := newTestService(t, map[config.Capability][]string{config.CapVideo: {srv.URL}}, nil)

	src, err := svc.ResolveStream(context.Background(), "v1", "360p", false)
	require.NoError(t, err)
	assert.Equal(t, StreamSource{Kind: "progressive", URL: "http://up/p360"}, src)

	src, err = svc.ResolveStream(context.Background(), "v1", "1080p", false)
	require.NoError(t, err)
	assert.Equal(t, "http://up/p720", src.URL, "unmatched quality falls back to the best pick")
}

func TestResolveStreamFallsBackToMux(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(watchPage))
	}))
	defer srv.Close()

	svc := newTestService(t, map[config.Capability][]string{config.CapVideo: {srv.URL}}, nil)

	src, err := svc.ResolveStream(context.Background(), "v1", "", false)
	require.NoError(t, err)
	assert.Equal(t, "mux", src.Kind, "split tracks require the mux pipeline")
}

func TestMuxStreamReusesLiveJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(watchPage))
	}))
	defer srv.Close()

	fm := newFakeMuxer(t.TempDir())
	svc := newTestService(t, map[config.Capability][]string{config.CapVideo: {srv.URL}}, fm)

	job1, err := svc.MuxStream(context.Background(), "v1", false)
	require.NoError(t, err)
	pair := <-fm.got
	assert.Equal(t, "http://up/v", pair[0])
	assert.Equal(t, "http://up/a", pair[1])

	job2, err := svc.MuxStream(context.Background(), "v1", false)
	require.NoError(t, err)
	assert.Same(t, job1, job2, "a live output is reused, not re-muxed")
	assert.Equal(t, int32(1), fm.calls.Load())
}

func TestMuxStreamRemuxesAfterDeletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(watchPage))
	}))
	defer srv.Close()

	fm := newFakeMuxer(t.TempDir())
	svc := newTestService(t, map[config.Capability][]string{config.CapVideo: {srv.URL}}, fm)

	job1, err := svc.MuxStream(context.Background(), "v1", false)
	require.NoError(t, err)
	job1.Delete()

	_, err = svc.MuxStream(context.Background(), "v1", false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fm.calls.Load(), "a deleted output must be rebuilt")
}

func TestMuxStreamCompatPicksPlayablePair(t *testing.T) {
	// Highest-scoring tracks are VP9/Opus; compat must pick the H.264/AAC
	// pair instead, and build it separately from the non-compat output.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"title":"t",
			"adaptiveFormats":[
				{"url":"http://up/v-webm","type":"video/webm; codecs=\"vp9\"","height":1080,"bitrate":"3000"},
				{"url":"http://up/v-h264","type":"video/mp4; codecs=\"avc1.64001F\"","height":720,"bitrate":"2000"},
				{"url":"http://up/a-opus","type":"audio/webm; codecs=\"opus\"","bitrate":"160","language":"ja"},
				{"url":"http://up/a-aac","type":"audio/mp4; codecs=\"mp4a.40.2\"","bitrate":"128","language":"ja"}
			]
		}`))
	}))
	defer srv.Close()

	fm := newFakeMuxer(t.TempDir())
	svc := newTestService(t, map[config.Capability][]string{config.CapVideo: {srv.URL}}, fm)

	compatJob, err := svc.MuxStream(context.Background(), "v1", true)
	require.NoError(t, err)
	pair := <-fm.got
	assert.Equal(t, "http://up/v-h264", pair[0])
	assert.Equal(t, "http://up/a-aac", pair[1])

	plainJob, err := svc.MuxStream(context.Background(), "v1", false)
	require.NoError(t, err)
	pair = <-fm.got
	assert.Equal(t, "http://up/v-webm", pair[0])
	assert.Equal(t, "http://up/a-opus", pair[1])

	assert.NotSame(t, compatJob, plainJob, "compat and default outputs are distinct jobs")
	assert.Equal(t, int32(2), fm.calls.Load())
}

func TestMuxStreamPrunesDeadJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(watchPage))
	}))
	defer srv.Close()

	fm := newFakeMuxer(t.TempDir())
	svc := newTestService(t, map[config.Capability][]string{config.CapVideo: {srv.URL}}, fm)

	job1, err := svc.MuxStream(context.Background(), "v1", false)
	require.NoError(t, err)
	<-fm.got
	job2, err := svc.MuxStream(context.Background(), "v2", false)
	require.NoError(t, err)
	<-fm.got
	job1.Delete()
	job2.Delete()

	_, err = svc.MuxStream(context.Background(), "v3", false)
	require.NoError(t, err)
	<-fm.got

	svc.muxMu.Lock()
	defer svc.muxMu.Unlock()
	assert.Len(t, svc.muxJobs, 1, "entries for deleted outputs must be dropped")
	assert.Contains(t, svc.muxJobs, "v3")
}

func TestMuxStreamNoFormats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"title":"t"}`))
	}))
	defer srv.Close()

	fm := newFakeMuxer(t.TempDir())
	svc := newTestService(t, map[config.Capability][]string{config.CapVideo: {srv.URL}}, fm)

	_, err := svc.MuxStream(context.Background(), "v1", false)
	require.Error(t, err)
	assert.Equal(t, int32(0), fm.calls.Load())
}

func TestUpstreamExhaustionSurfacesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc := newTestService(t, map[config.Capability][]string{config.CapSearch: {srv.URL}}, nil)

	_, err := svc.Search(context.Background(), "q", 1)
	assert.ErrorIs(t, err, race.ErrUpstreamTimeout)
}
