// SPDX-License-Identifier: MIT

// Package formats selects the best playable media formats from a mirror's
// reported encoding list. All functions are pure over their inputs.
package formats

import (
	"errors"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// ErrNoFormats is returned when no eligible format pair exists.
var ErrNoFormats = errors.New("no eligible formats")

// Format is one immutable encoding record reported by a mirror. Mirrors
// drift in schema; absent numeric fields are zero and simply score low.
type Format struct {
	MimeType    string `json:"mimeType"`
	Codecs      string `json:"codecs"`
	URL         string `json:"url"`
	Height      int    `json:"height"`
	FPS         int    `json:"fps"`
	Bitrate     int    `json:"bitrate"`
	Language    string `json:"language"`
	Progressive bool   `json:"progressive"` // contains both tracks
}

// Selection is one video track paired with one audio track.
type Selection struct {
	Video Format
	Audio Format
}

// Options constrains selection.
type Options struct {
	// PreferredLanguage is a BCP-47 tag for the audio track, e.g. "ja".
	// When no track matches, any non-English track is preferred over an
	// English one.
	PreferredLanguage string
	// Compat restricts to broadly compatible codecs (H.264-in-MP4 video,
	// AAC-in-MP4 audio) before scoring, falling back to the unrestricted
	// set when the restriction would empty it.
	Compat bool
}

// videoScore ranks by resolution first, framerate second, bitrate last.
func videoScore(f Format) int64 {
	return int64(f.Height)*1_000_000 + int64(f.FPS)*10_000 + int64(f.Bitrate)
}

func audioScore(f Format) int64 {
	return int64(f.Bitrate)
}

func isVideo(f Format) bool {
	return f.URL != "" && strings.HasPrefix(f.MimeType, "video")
}

func isAudio(f Format) bool {
	return f.URL != "" && strings.HasPrefix(f.MimeType, "audio")
}

func codecs(f Format) string {
	if f.Codecs != "" {
		return f.Codecs
	}
	// Some mirrors inline codecs into the MIME type:
	// `video/mp4; codecs="avc1.64001F"`.
	return f.MimeType
}

func isH264(f Format) bool {
	return strings.Contains(f.MimeType, "video/mp4") && strings.Contains(codecs(f), "avc1")
}

func isAAC(f Format) bool {
	return strings.Contains(f.MimeType, "audio/mp4") && strings.Contains(codecs(f), "mp4a")
}

// SelectPair picks the best video and audio track from a raw format list.
// Deterministic: equal scores keep input order.
func SelectPair(list []Format, opts Options) (Selection, error) {
	videos := filter(list, isVideo)
	audios := filter(list, isAudio)
	if len(videos) == 0 || len(audios) == 0 {
		return Selection{}, ErrNoFormats
	}

	if opts.Compat {
		videos = fallbackIfEmpty(filter(videos, isH264), videos)
	}
	sortDesc(videos, videoScore)

	audios = narrowByLanguage(audios, opts.PreferredLanguage)
	if opts.Compat {
		audios = fallbackIfEmpty(filter(audios, isAAC), audios)
	}
	sortDesc(audios, audioScore)

	return Selection{Video: videos[0], Audio: audios[0]}, nil
}

// BestProgressive returns the highest-scoring format that carries both
// tracks, or false when none exists.
func BestProgressive(list []Format) (Format, bool) {
	progressive := filter(list, func(f Format) bool { return f.Progressive && f.URL != "" })
	if len(progressive) == 0 {
		return Format{}, false
	}
	sortDesc(progressive, videoScore)
	return progressive[0], true
}

// BestManifest returns the highest-resolution adaptive manifest (HLS) entry,
// or false when none exists.
func BestManifest(list []Format) (Format, bool) {
	manifests := filter(list, func(f Format) bool {
		return f.URL != "" && strings.Contains(f.URL, "m3u8")
	})
	if len(manifests) == 0 {
		return Format{}, false
	}
	sortDesc(manifests, func(f Format) int64 { return int64(f.Height) })
	return manifests[0], true
}

// narrowByLanguage models "prefer a same-language track, otherwise any
// non-English track, otherwise whatever is left". Tracks without a language
// tag count as non-English.
func narrowByLanguage(audios []Format, preferred string) []Format {
	prefBase, prefOK := baseLang(preferred)
	english, englishOK := baseLang("en")

	if prefOK {
		matching := filter(audios, func(f Format) bool {
			b, ok := baseLang(f.Language)
			return ok && b == prefBase
		})
		if len(matching) > 0 {
			return matching
		}
	}
	if englishOK {
		nonEnglish := filter(audios, func(f Format) bool {
			b, ok := baseLang(f.Language)
			return !ok || b != english
		})
		if len(nonEnglish) > 0 {
			return nonEnglish
		}
	}
	return audios
}

func baseLang(tag string) (language.Base, bool) {
	if strings.TrimSpace(tag) == "" {
		return language.Base{}, false
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return language.Base{}, false
	}
	base, conf := parsed.Base()
	if conf == language.No {
		return language.Base{}, false
	}
	return base, true
}

func filter(list []Format, keep func(Format) bool) []Format {
	out := make([]Format, 0, len(list))
	for _, f := range list {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

func fallbackIfEmpty(filtered, original []Format) []Format {
	if len(filtered) == 0 {
		return original
	}
	return filtered
}

func sortDesc(list []Format, score func(Format) int64) {
	sort.SliceStable(list, func(i, j int) bool {
		return score(list[i]) > score(list[j])
	})
}
