// SPDX-License-Identifier: MIT

package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xianrendesu-max/sennintubeyobi/internal/mux"
)

// queryFlag reads a boolean query parameter; absent or unparsable is false.
func queryFlag(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeBadRequest(w, "missing q parameter")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	results, err := s.svc.Search(r.Context(), query, page)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("v")
	if id == "" {
		writeBadRequest(w, "missing v parameter")
		return
	}

	page, err := s.svc.VideoMetadata(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	page, err := s.svc.ChannelMetadata(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("v")
	if id == "" {
		writeBadRequest(w, "missing v parameter")
		return
	}

	comments, err := s.svc.Comments(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleSocial(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeBadRequest(w, "missing q parameter")
		return
	}

	posts, err := s.svc.SocialSearch(r.Context(), query)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleStreamURL(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("v")
	if id == "" {
		writeBadRequest(w, "missing v parameter")
		return
	}

	src, err := s.svc.ResolveStream(r.Context(), id, r.URL.Query().Get("quality"), queryFlag(r, "compat"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) handleMuxStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("v")
	if id == "" {
		writeBadRequest(w, "missing v parameter")
		return
	}

	job, err := s.svc.MuxStream(r.Context(), id, queryFlag(r, "compat"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	mux.ServeJob(w, r, job)
}

// handleThumbnail proxies a video thumbnail so the player never talks to
// the upstream CDN directly.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet,
		s.thumbBase+"/vi/"+id+"/mqdefault.jpg", nil)
	if err != nil {
		writeBadRequest(w, "invalid video id")
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "thumbnail fetch failed"})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "thumbnail not found"})
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
}
