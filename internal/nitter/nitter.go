// SPDX-License-Identifier: MIT

// Package nitter decodes search feeds from Nitter-compatible microblogging
// mirrors. These mirrors speak RSS rather than JSON, so the race validator
// for the social capability comes from here instead of the JSON default.
package nitter

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Post is one normalized feed entry.
type Post struct {
	Author   string `json:"author"` // display handle, e.g. "@user"
	Title    string `json:"title"`
	BodyHTML string `json:"bodyHtml"`
	Date     string `json:"date"`
	Link     string `json:"link"`
}

// SearchPath builds the RSS search path appended to a mirror base.
func SearchPath(query string) string {
	return "/search/rss?f=tweets&q=" + url.QueryEscape(query)
}

type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Creator     string `xml:"creator"`
			PubDate     string `xml:"pubDate"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
		} `xml:"item"`
	} `xml:"channel"`
}

// DecodeSearch maps a search feed into normalized posts. A body that is not
// an RSS document is malformed; a feed with no items is a valid empty result.
func DecodeSearch(body []byte) ([]Post, error) {
	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode social feed: %w", err)
	}
	if feed.XMLName.Local != "rss" {
		return nil, errors.New("social feed is not an RSS document")
	}

	out := make([]Post, 0, len(feed.Channel.Items))
	for _, it := range feed.Channel.Items {
		out = append(out, Post{
			Author:   strings.TrimSpace(it.Creator),
			Title:    it.Title,
			BodyHTML: it.Description,
			Date:     it.PubDate,
			Link:     it.Link,
		})
	}
	return out, nil
}

// ProbeSearch is the race validator for social feeds.
func ProbeSearch(body []byte) error {
	_, err := DecodeSearch(body)
	return err
}
