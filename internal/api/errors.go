// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xianrendesu-max/sennintubeyobi/internal/formats"
	"github.com/xianrendesu-max/sennintubeyobi/internal/mux"
	"github.com/xianrendesu-max/sennintubeyobi/internal/race"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeUpstreamError maps resolution failures onto response codes: pool
// exhaustion is the upstream's fault (504), a video with no usable formats
// is a 404, a broken mux run is a bad gateway.
func writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, race.ErrUpstreamTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "no mirror answered in time"})
	case errors.Is(err, formats.ErrNoFormats):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no playable formats"})
	case errors.Is(err, mux.ErrMuxFailed):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "stream assembly failed"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
