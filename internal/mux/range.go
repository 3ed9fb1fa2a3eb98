// SPDX-License-Identifier: MIT

package mux

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange = errors.New("invalid range")
	ErrMultiRange   = errors.New("multi-range not supported")
)

// ByteRange is an inclusive byte range [Start, End].
type ByteRange struct {
	Start int64
	End   int64
}

// ParseRange parses a Range header against a resource of the given size.
// Multi-range requests are strictly rejected with ErrMultiRange.
func ParseRange(header string, size int64) (ByteRange, error) {
	if header == "" {
		return ByteRange{}, ErrInvalidRange
	}

	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return ByteRange{}, ErrInvalidRange
	}

	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return ByteRange{}, ErrMultiRange
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return ByteRange{}, ErrInvalidRange
	}
	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	var r ByteRange
	if startStr == "" {
		// Suffix range: bytes=-500 means the last 500 bytes.
		if endStr == "" {
			return ByteRange{}, ErrInvalidRange
		}
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, ErrInvalidRange
		}
		if n > size {
			n = size
		}
		r.Start = size - n
		r.End = size - 1
		return r, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, ErrInvalidRange
	}
	if start >= size {
		return ByteRange{}, ErrInvalidRange
	}
	r.Start = start

	if endStr == "" {
		r.End = size - 1
		return r, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < r.Start {
		return ByteRange{}, ErrInvalidRange
	}
	if end >= size {
		end = size - 1
	}
	r.End = end
	return r, nil
}

// ContentRange formats the Content-Range header for a 206 response.
func ContentRange(r ByteRange, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// UnsatisfiableContentRange formats the Content-Range header for a 416.
func UnsatisfiableContentRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}

// ServeJob streams a mux output honoring a single-range Range header.
// A full read without Range gets 200; a valid range gets 206 with exactly
// the requested bytes; an unsatisfiable or multi-range request gets 416.
func ServeJob(w http.ResponseWriter, r *http.Request, job *Job) {
	f, err := os.Open(job.Path)
	if err != nil {
		http.Error(w, "stream no longer available", http.StatusGone)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")

	header := r.Header.Get("Range")
	if header == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(job.Size, 10))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, f)
		return
	}

	br, err := ParseRange(header, job.Size)
	if err != nil {
		w.Header().Set("Content-Range", UnsatisfiableContentRange(job.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if _, err := f.Seek(br.Start, io.SeekStart); err != nil {
		http.Error(w, "seek failed", http.StatusInternalServerError)
		return
	}
	length := br.End - br.Start + 1
	w.Header().Set("Content-Range", ContentRange(br, job.Size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = io.CopyN(w, f, length)
}
