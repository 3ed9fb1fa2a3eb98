// SPDX-License-Identifier: MIT

// Package mux combines separate video and audio streams into a single MP4
// via ffmpeg stream copy and serves the result with byte-range support.
// Output files are owned by their Job and deleted exactly once, after a
// grace window that outlives slow or repeated player reads.
package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xianrendesu-max/sennintubeyobi/internal/log"
	"github.com/xianrendesu-max/sennintubeyobi/internal/metrics"
)

// ErrMuxFailed is returned when ffmpeg exits nonzero or produces no output.
// Callers treat it as a per-candidate failure and may retry with the next
// format pair.
var ErrMuxFailed = errors.New("mux pipeline failed")

// Options configures a Muxer.
type Options struct {
	BinPath string        // ffmpeg binary, default "ffmpeg"
	Dir     string        // output directory, default os.TempDir()
	Timeout time.Duration // hard cap per mux run, default 2m
	Retain  time.Duration // grace window before output deletion, default 10m
}

// Muxer runs mux jobs. Safe for concurrent use; each job gets its own
// uniquely named output file so jobs never contend.
type Muxer struct {
	opts   Options
	logger zerolog.Logger
	// run is swappable in tests; the default executes ffmpeg.
	run func(ctx context.Context, bin string, args []string) error
}

// New creates a Muxer.
func New(opts Options) *Muxer {
	if opts.BinPath == "" {
		opts.BinPath = "ffmpeg"
	}
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Retain <= 0 {
		opts.Retain = 10 * time.Minute
	}
	return &Muxer{
		opts:   opts,
		logger: log.WithComponent("mux"),
		run:    execRun,
	}
}

// Job is one completed mux output. The Job owns its file: deletion happens
// exactly once, either when the retain timer fires or via an explicit
// Delete, whichever comes first.
type Job struct {
	ID   string
	Path string
	Size int64

	once   sync.Once
	timer  *time.Timer
	logger zerolog.Logger
}

// Alive reports whether the output file is still on disk. False once the
// retain window has passed or Delete ran.
func (j *Job) Alive() bool {
	_, err := os.Stat(j.Path)
	return err == nil
}

// Delete removes the output file. Idempotent.
func (j *Job) Delete() {
	j.once.Do(func() {
		if j.timer != nil {
			j.timer.Stop()
		}
		if err := os.Remove(j.Path); err != nil && !os.IsNotExist(err) {
			j.logger.Warn().Err(err).Str("path", j.Path).Msg("mux output cleanup failed")
			return
		}
		j.logger.Debug().Str("job", j.ID).Msg("mux output deleted")
	})
}

// Mux copies the video and audio streams into one MP4. The returned Job's
// file stays readable for the configured retain window.
func (m *Muxer) Mux(ctx context.Context, videoURL, audioURL string) (*Job, error) {
	id := uuid.NewString()
	out := filepath.Join(m.opts.Dir, id+".mp4")

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	start := time.Now()
	if err := m.run(ctx, m.opts.BinPath, buildArgs(videoURL, audioURL, out)); err != nil {
		metrics.RecordMux("failed", time.Since(start))
		_ = os.Remove(out)
		return nil, fmt.Errorf("%w: %s", ErrMuxFailed, err)
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		metrics.RecordMux("empty", time.Since(start))
		_ = os.Remove(out)
		return nil, fmt.Errorf("%w: no output produced", ErrMuxFailed)
	}
	metrics.RecordMux("success", time.Since(start))

	job := &Job{
		ID:     id,
		Path:   out,
		Size:   info.Size(),
		logger: m.logger,
	}
	job.timer = time.AfterFunc(m.opts.Retain, job.Delete)

	m.logger.Info().
		Str("job", id).
		Int64("bytes", info.Size()).
		Dur("took", time.Since(start)).
		Msg("mux completed")
	return job, nil
}

// buildArgs assembles the ffmpeg invocation: stream copy only, faststart
// so the moov atom lands at the front, and reconnects for flaky upstreams.
func buildArgs(videoURL, audioURL, out string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
		"-i", videoURL,
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
		"-i", audioURL,
		"-c:v", "copy",
		"-c:a", "copy",
		"-movflags", "+faststart",
		"-y", out,
	}
}

func execRun(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%v: %s", err, tail(stderr.Bytes(), 512))
	}
	return nil
}

func tail(b []byte, n int) []byte {
	if len(b) > n {
		return b[len(b)-n:]
	}
	return b
}
