// SPDX-License-Identifier: MIT

// Package invidious decodes responses from Invidious-compatible mirrors
// into normalized records. Mirrors are not a single source of truth: fields
// may be missing or drift between instances, so decoding is defensive and
// only fails when a field essential to the operation is absent.
package invidious

import (
	"github.com/xianrendesu-max/sennintubeyobi/internal/formats"
)

// SearchResult is one entry of a search page: a video, playlist or channel.
type SearchResult struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Author    string `json:"author,omitempty"`
	AuthorID  string `json:"authorId,omitempty"`
	Length    string `json:"length,omitempty"` // H:MM:SS, videos only
	Published string `json:"published,omitempty"`
	Count     int    `json:"count,omitempty"`     // playlists only
	Thumbnail string `json:"thumbnail,omitempty"` // channels only
}

// Recommendation is a related video on a watch page.
type Recommendation struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	AuthorID string `json:"authorId"`
}

// VideoPage is the normalized watch-page record.
type VideoPage struct {
	Title           string           `json:"title"`
	Author          string           `json:"author"`
	AuthorID        string           `json:"authorId"`
	AuthorIcon      string           `json:"authorIcon"`
	DescriptionHTML string           `json:"descriptionHtml"`
	Recommendations []Recommendation `json:"recommendations"`
	// StreamURLs are progressive URLs served directly to the player,
	// best-first.
	StreamURLs []string         `json:"streamUrls"`
	Formats    []formats.Format `json:"formats"`
}

// ChannelVideo is one entry in a channel's upload list.
type ChannelVideo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Published string `json:"published"`
}

// ChannelPage is the normalized channel record.
type ChannelPage struct {
	Name         string         `json:"name"`
	Icon         string         `json:"icon"`
	ProfileHTML  string         `json:"profileHtml"`
	LatestVideos []ChannelVideo `json:"latestVideos"`
	Shorts       []ChannelVideo `json:"shorts,omitempty"`
}

// Comment is one normalized comment.
type Comment struct {
	Author   string `json:"author"`
	Icon     string `json:"icon"`
	BodyHTML string `json:"bodyHtml"`
}
