// SPDX-License-Identifier: MIT

package invidious

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xianrendesu-max/sennintubeyobi/internal/formats"
)

// flexInt decodes a JSON number that some mirrors serialize as a string
// (bitrate is the usual offender). Undecodable values collapse to zero
// rather than failing the whole record.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		*n = flexInt(v)
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*n = flexInt(f)
		return nil
	}
	*n = 0
	return nil
}

type rawThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// bestThumbnail picks the widest variant and forces an https scheme;
// mirrors hand out scheme-relative and plain-http URLs interchangeably.
func bestThumbnail(thumbs []rawThumbnail) string {
	best := ""
	width := -1
	for _, t := range thumbs {
		if t.URL != "" && t.Width > width {
			best, width = t.URL, t.Width
		}
	}
	return forceHTTPS(best)
}

func forceHTTPS(u string) string {
	switch {
	case u == "":
		return ""
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	case strings.HasPrefix(u, "http://"):
		return "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// formatLength renders seconds as H:MM:SS with unpadded hours, the way
// players display durations ("0:01:30", "1:02:03").
func formatLength(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := seconds % 3600 / 60
	s := seconds % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

type rawSearchItem struct {
	Type             string         `json:"type"`
	VideoID          string         `json:"videoId"`
	PlaylistID       string         `json:"playlistId"`
	Title            string         `json:"title"`
	Author           string         `json:"author"`
	AuthorID         string         `json:"authorId"`
	LengthSeconds    flexInt        `json:"lengthSeconds"`
	PublishedText    string         `json:"publishedText"`
	VideoCount       int            `json:"videoCount"`
	AuthorThumbnails []rawThumbnail `json:"authorThumbnails"`
}

// DecodeSearch maps a search page into normalized results. Entries of
// unknown type or without an identifier are dropped.
func DecodeSearch(body []byte) ([]SearchResult, error) {
	var items []rawSearchItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode search page: %w", err)
	}

	out := make([]SearchResult, 0, len(items))
	for _, it := range items {
		switch it.Type {
		case "video":
			if it.VideoID == "" {
				continue
			}
			out = append(out, SearchResult{
				Type:      "video",
				ID:        it.VideoID,
				Title:     it.Title,
				Author:    it.Author,
				AuthorID:  it.AuthorID,
				Length:    formatLength(int(it.LengthSeconds)),
				Published: it.PublishedText,
			})
		case "playlist":
			if it.PlaylistID == "" {
				continue
			}
			out = append(out, SearchResult{
				Type:   "playlist",
				ID:     it.PlaylistID,
				Title:  it.Title,
				Author: it.Author,
				Count:  it.VideoCount,
			})
		case "channel":
			if it.AuthorID == "" {
				continue
			}
			out = append(out, SearchResult{
				Type:      "channel",
				ID:        it.AuthorID,
				Author:    it.Author,
				Thumbnail: bestThumbnail(it.AuthorThumbnails),
			})
		}
	}
	return out, nil
}

// ProbeSearch reports whether a body decodes as a search page. Used as the
// race validator so a mirror serving an HTML error page counts as malformed.
func ProbeSearch(body []byte) error {
	var items []rawSearchItem
	return json.Unmarshal(body, &items)
}

type rawFormat struct {
	URL      string  `json:"url"`
	Type     string  `json:"type"`
	Codecs   string  `json:"codecs"`
	Height   flexInt `json:"height"`
	FPS      flexInt `json:"fps"`
	Bitrate  flexInt `json:"bitrate"`
	Language string  `json:"language"`
	// Resolution covers mirrors that omit height ("1080p").
	Resolution string `json:"resolution"`
}

func (r rawFormat) toFormat(progressive bool) formats.Format {
	height := int(r.Height)
	if height == 0 && r.Resolution != "" {
		if v, err := strconv.Atoi(strings.TrimSuffix(r.Resolution, "p")); err == nil {
			height = v
		}
	}
	return formats.Format{
		MimeType:    r.Type,
		Codecs:      r.Codecs,
		URL:         r.URL,
		Height:      height,
		FPS:         int(r.FPS),
		Bitrate:     int(r.Bitrate),
		Language:    r.Language,
		Progressive: progressive,
	}
}

type rawVideo struct {
	Title             string         `json:"title"`
	Author            string         `json:"author"`
	AuthorID          string         `json:"authorId"`
	AuthorThumbnails  []rawThumbnail `json:"authorThumbnails"`
	DescriptionHTML   string         `json:"descriptionHtml"`
	HLSURL            string         `json:"hlsUrl"`
	AdaptiveFormats   []rawFormat    `json:"adaptiveFormats"`
	FormatStreams     []rawFormat    `json:"formatStreams"`
	RecommendedVideos []struct {
		VideoID  string `json:"videoId"`
		Title    string `json:"title"`
		Author   string `json:"author"`
		AuthorID string `json:"authorId"`
	} `json:"recommendedVideos"`
}

// DecodeVideo maps a watch-page response into a normalized VideoPage.
func DecodeVideo(body []byte) (VideoPage, error) {
	var raw rawVideo
	if err := json.Unmarshal(body, &raw); err != nil {
		return VideoPage{}, fmt.Errorf("decode video page: %w", err)
	}
	if raw.Title == "" {
		return VideoPage{}, errors.New("video page missing title")
	}

	page := VideoPage{
		Title:           raw.Title,
		Author:          raw.Author,
		AuthorID:        raw.AuthorID,
		AuthorIcon:      bestThumbnail(raw.AuthorThumbnails),
		DescriptionHTML: raw.DescriptionHTML,
	}
	for _, r := range raw.RecommendedVideos {
		if r.VideoID == "" {
			continue
		}
		page.Recommendations = append(page.Recommendations, Recommendation{
			ID:       r.VideoID,
			Title:    r.Title,
			Author:   r.Author,
			AuthorID: r.AuthorID,
		})
	}

	for _, r := range raw.AdaptiveFormats {
		page.Formats = append(page.Formats, r.toFormat(false))
	}
	progressive := make([]formats.Format, 0, len(raw.FormatStreams))
	for _, r := range raw.FormatStreams {
		f := r.toFormat(true)
		progressive = append(progressive, f)
		page.Formats = append(page.Formats, f)
	}
	if raw.HLSURL != "" {
		page.Formats = append(page.Formats, formats.Format{
			MimeType: "application/x-mpegURL",
			URL:      raw.HLSURL,
		})
	}

	sort.SliceStable(progressive, func(i, j int) bool {
		return progressive[i].Height > progressive[j].Height
	})
	// Players get the two best progressive URLs, best first; anything below
	// that is not worth offering as a direct stream.
	for _, f := range progressive {
		if f.URL == "" {
			continue
		}
		page.StreamURLs = append(page.StreamURLs, f.URL)
		if len(page.StreamURLs) == 2 {
			break
		}
	}
	return page, nil
}

// ProbeVideo is the race validator for watch pages: the body must decode
// and carry a title.
func ProbeVideo(body []byte) error {
	_, err := DecodeVideo(body)
	return err
}

type rawChannel struct {
	Author           string         `json:"author"`
	AuthorThumbnails []rawThumbnail `json:"authorThumbnails"`
	DescriptionHTML  string         `json:"descriptionHtml"`
	LatestVideos     []rawChannelVideo `json:"latestVideos"`
	LatestShorts     []rawChannelVideo `json:"latestShorts"`
}

type rawChannelVideo struct {
	VideoID       string `json:"videoId"`
	Title         string `json:"title"`
	PublishedText string `json:"publishedText"`
}

func channelVideos(raw []rawChannelVideo) []ChannelVideo {
	out := make([]ChannelVideo, 0, len(raw))
	for _, v := range raw {
		if v.VideoID == "" {
			continue
		}
		out = append(out, ChannelVideo{
			ID:        v.VideoID,
			Title:     v.Title,
			Published: v.PublishedText,
		})
	}
	return out
}

// DecodeChannel maps a channel response into a normalized ChannelPage.
// A channel with no uploads listed is treated as malformed: every mirror
// that is actually healthy returns at least one entry, and an empty list
// is the most common shape of a half-broken instance.
func DecodeChannel(body []byte) (ChannelPage, error) {
	var raw rawChannel
	if err := json.Unmarshal(body, &raw); err != nil {
		return ChannelPage{}, fmt.Errorf("decode channel page: %w", err)
	}
	if len(raw.LatestVideos) == 0 {
		return ChannelPage{}, errors.New("channel page has no uploads")
	}

	return ChannelPage{
		Name:         raw.Author,
		Icon:         bestThumbnail(raw.AuthorThumbnails),
		ProfileHTML:  raw.DescriptionHTML,
		LatestVideos: channelVideos(raw.LatestVideos),
		Shorts:       channelVideos(raw.LatestShorts),
	}, nil
}

// ProbeChannel is the race validator for channel pages.
func ProbeChannel(body []byte) error {
	_, err := DecodeChannel(body)
	return err
}

type rawComments struct {
	Comments []struct {
		Author           string         `json:"author"`
		AuthorThumbnails []rawThumbnail `json:"authorThumbnails"`
		ContentHTML      string         `json:"contentHtml"`
		Content          string         `json:"content"`
	} `json:"comments"`
}

// DecodeComments maps a comments response into normalized comments. A body
// without a comments array at all is malformed; an empty array is a valid
// page (comments disabled or none yet).
func DecodeComments(body []byte) ([]Comment, error) {
	var raw rawComments
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	if raw.Comments == nil {
		return nil, errors.New("comments response missing comments array")
	}

	out := make([]Comment, 0, len(raw.Comments))
	for _, c := range raw.Comments {
		bodyHTML := c.ContentHTML
		if bodyHTML == "" {
			bodyHTML = c.Content
		}
		out = append(out, Comment{
			Author:   c.Author,
			Icon:     bestThumbnail(c.AuthorThumbnails),
			BodyHTML: bodyHTML,
		})
	}
	return out, nil
}

// ProbeComments is the race validator for comments responses.
func ProbeComments(body []byte) error {
	_, err := DecodeComments(body)
	return err
}
