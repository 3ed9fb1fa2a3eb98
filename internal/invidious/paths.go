// SPDX-License-Identifier: MIT

package invidious

import (
	"fmt"
	"net/url"
)

// Path builders for the Invidious v1 API. The returned strings are appended
// to an endpoint base by the racer.

func SearchPath(query string, page int) string {
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf("/api/v1/search?q=%s&page=%d&hl=jp", url.QueryEscape(query), page)
}

func VideoPath(id string) string {
	return "/api/v1/videos/" + url.PathEscape(id)
}

func ChannelPath(id string) string {
	return "/api/v1/channels/" + url.PathEscape(id)
}

func CommentsPath(videoID string) string {
	return "/api/v1/comments/" + url.PathEscape(videoID) + "?hl=jp"
}
