// SPDX-License-Identifier: MIT

package formats

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPairResolutionDominatesThenFPS(t *testing.T) {
	list := []Format{
		{MimeType: "video/mp4", Height: 1080, FPS: 30, Bitrate: 4000, URL: "v1"},
		{MimeType: "video/webm", Height: 1080, FPS: 60, Bitrate: 3000, URL: "v2"},
		{MimeType: "audio/mp4", Bitrate: 128, Language: "ja", URL: "a1"},
		{MimeType: "audio/mp4", Bitrate: 160, Language: "en", URL: "a2"},
	}

	sel, err := SelectPair(list, Options{PreferredLanguage: "ja"})
	require.NoError(t, err)

	assert.Equal(t, "v2", sel.Video.URL, "fps breaks the tie after equal height")
	assert.Equal(t, "a1", sel.Audio.URL, "language preference overrides higher bitrate")
}

func TestSelectPairDeterministic(t *testing.T) {
	list := []Format{
		{MimeType: "video/mp4", Height: 720, FPS: 30, Bitrate: 2000, URL: "v1"},
		{MimeType: "video/mp4", Height: 1080, FPS: 30, Bitrate: 1500, URL: "v2"},
		{MimeType: "audio/webm", Bitrate: 128, URL: "a1"},
		{MimeType: "audio/mp4", Bitrate: 96, Language: "fr", URL: "a2"},
	}

	first, err := SelectPair(list, Options{PreferredLanguage: "ja"})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := SelectPair(list, Options{PreferredLanguage: "ja"})
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("selection not deterministic (-first +again):\n%s", diff)
		}
	}
	assert.Equal(t, "v2", first.Video.URL, "height dominates bitrate")
}

func TestCompatFiltersBeforeScoring(t *testing.T) {
	list := []Format{
		{MimeType: `video/webm; codecs="vp9"`, Height: 2160, FPS: 60, Bitrate: 9000, URL: "vp9"},
		{MimeType: `video/mp4; codecs="avc1.64001F"`, Height: 720, FPS: 30, Bitrate: 1500, URL: "h264"},
		{MimeType: `audio/webm; codecs="opus"`, Bitrate: 160, URL: "opus"},
		{MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 128, URL: "aac"},
	}

	sel, err := SelectPair(list, Options{Compat: true})
	require.NoError(t, err)
	assert.Equal(t, "h264", sel.Video.URL, "compat narrows to H.264 despite lower score")
	assert.Equal(t, "aac", sel.Audio.URL)
}

func TestCompatFallsBackWhenFilterEmpties(t *testing.T) {
	list := []Format{
		{MimeType: `video/webm; codecs="vp9"`, Height: 1080, FPS: 30, Bitrate: 3000, URL: "vp9-hi"},
		{MimeType: `video/webm; codecs="vp9"`, Height: 720, FPS: 30, Bitrate: 2000, URL: "vp9-lo"},
		{MimeType: `audio/webm; codecs="opus"`, Bitrate: 128, URL: "opus"},
	}

	sel, err := SelectPair(list, Options{Compat: true})
	require.NoError(t, err)
	assert.Equal(t, "vp9-hi", sel.Video.URL, "empty compat filter falls back to best unfiltered record")
	assert.Equal(t, "opus", sel.Audio.URL)
}

func TestLanguageNarrowing(t *testing.T) {
	tests := []struct {
		name    string
		audios  []Format
		wantURL string
	}{
		{
			name: "preferred language wins over bitrate",
			audios: []Format{
				{MimeType: "audio/mp4", Bitrate: 256, Language: "en-US", URL: "en"},
				{MimeType: "audio/mp4", Bitrate: 96, Language: "ja-JP", URL: "ja"},
			},
			wantURL: "ja",
		},
		{
			name: "non-English preferred when target absent",
			audios: []Format{
				{MimeType: "audio/mp4", Bitrate: 256, Language: "en", URL: "en"},
				{MimeType: "audio/mp4", Bitrate: 96, Language: "de", URL: "de"},
			},
			wantURL: "de",
		},
		{
			name: "untagged track counts as non-English",
			audios: []Format{
				{MimeType: "audio/mp4", Bitrate: 256, Language: "en", URL: "en"},
				{MimeType: "audio/mp4", Bitrate: 96, URL: "untagged"},
			},
			wantURL: "untagged",
		},
		{
			name: "English-only falls through to whatever is left",
			audios: []Format{
				{MimeType: "audio/mp4", Bitrate: 96, Language: "en", URL: "en-lo"},
				{MimeType: "audio/mp4", Bitrate: 256, Language: "en", URL: "en-hi"},
			},
			wantURL: "en-hi",
		},
	}

	video := Format{MimeType: "video/mp4", Height: 720, FPS: 30, Bitrate: 1000, URL: "v"}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sel, err := SelectPair(append([]Format{video}, tc.audios...), Options{PreferredLanguage: "ja"})
			require.NoError(t, err)
			assert.Equal(t, tc.wantURL, sel.Audio.URL)
		})
	}
}

func TestSelectPairEmptySets(t *testing.T) {
	_, err := SelectPair(nil, Options{})
	assert.ErrorIs(t, err, ErrNoFormats)

	videoOnly := []Format{{MimeType: "video/mp4", Height: 720, URL: "v"}}
	_, err = SelectPair(videoOnly, Options{})
	assert.ErrorIs(t, err, ErrNoFormats)

	audioOnly := []Format{{MimeType: "audio/mp4", Bitrate: 128, URL: "a"}}
	_, err = SelectPair(audioOnly, Options{})
	assert.ErrorIs(t, err, ErrNoFormats)
}

func TestFormatsWithoutURLAreIgnored(t *testing.T) {
	list := []Format{
		{MimeType: "video/mp4", Height: 2160, FPS: 60, Bitrate: 9000},
		{MimeType: "video/mp4", Height: 360, FPS: 30, Bitrate: 500, URL: "v"},
		{MimeType: "audio/mp4", Bitrate: 128, URL: "a"},
	}

	sel, err := SelectPair(list, Options{})
	require.NoError(t, err)
	assert.Equal(t, "v", sel.Video.URL)
}

func TestBestProgressive(t *testing.T) {
	list := []Format{
		{MimeType: "video/mp4", Height: 360, URL: "p360", Progressive: true},
		{MimeType: "video/mp4", Height: 720, URL: "p720", Progressive: true},
		{MimeType: "video/mp4", Height: 1080, URL: "adaptive"},
	}

	best, ok := BestProgressive(list)
	require.True(t, ok)
	assert.Equal(t, "p720", best.URL)

	_, ok = BestProgressive(list[2:])
	assert.False(t, ok)
}

func TestBestManifestPrefersResolution(t *testing.T) {
	list := []Format{
		{MimeType: "video/mp4", Height: 480, URL: "https://m/480.m3u8"},
		{MimeType: "video/mp4", Height: 1080, URL: "https://m/1080.m3u8"},
		{MimeType: "video/mp4", Height: 2160, URL: "https://m/direct.mp4"},
	}

	best, ok := BestManifest(list)
	require.True(t, ok)
	assert.Equal(t, "https://m/1080.m3u8", best.URL)
}
