// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xianrendesu-max/sennintubeyobi/internal/api"
	"github.com/xianrendesu-max/sennintubeyobi/internal/cache"
	"github.com/xianrendesu-max/sennintubeyobi/internal/config"
	"github.com/xianrendesu-max/sennintubeyobi/internal/log"
	"github.com/xianrendesu-max/sennintubeyobi/internal/mirror"
	"github.com/xianrendesu-max/sennintubeyobi/internal/mux"
	"github.com/xianrendesu-max/sennintubeyobi/internal/race"
	"github.com/xianrendesu-max/sennintubeyobi/internal/service"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	mirrorsPath := flag.String("mirrors", "", "path to mirrors file (YAML), overrides YOBI_MIRRORS_FILE")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := loadConfig(*mirrorsPath)
	if err != nil {
		log.Configure(log.Config{Level: "info", Service: "sennintubeyobi", Version: version})
		logger := log.Base()
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Msg("failed to load configuration")
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One outbound client shared by the racer and the thumbnail proxy.
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	pools := buildPools(cfg)
	racer := race.New(client, race.Options{
		AttemptTimeout: cfg.AttemptTimeout,
		GlobalTimeout:  cfg.GlobalTimeout,
		FanOut:         cfg.FanOut,
	})

	store, closeCache, err := buildStore(cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "cache.init_failed").
			Msg("failed to initialize result cache")
	}
	defer closeCache()

	muxer := mux.New(mux.Options{
		BinPath: cfg.FFmpegPath,
		Dir:     cfg.TmpDir,
		Timeout: cfg.MuxTimeout,
		Retain:  cfg.RetainFor,
	})

	svc := service.New(cfg, racer, store, pools, muxer)
	defer svc.Close()

	watcher := config.NewMirrorWatcher(cfg.MirrorsFile, func(mirrors map[config.Capability][]string) {
		for capability, urls := range mirrors {
			if pool, ok := pools[capability]; ok && len(urls) > 0 {
				pool.Replace(urls)
			}
		}
	})
	if err := watcher.Start(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "mirrors.watch_failed").
			Msg("failed to watch mirrors file")
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(cfg, svc, client).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("event", "daemon.listening").
			Str("addr", cfg.ListenAddr).
			Str("version", version).
			Msg("daemon listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().
				Err(err).
				Str("event", "daemon.serve_failed").
				Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Str("event", "daemon.shutdown").Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func loadConfig(mirrorsFlag string) (*config.Config, error) {
	if mirrorsFlag != "" {
		if err := os.Setenv("YOBI_MIRRORS_FILE", mirrorsFlag); err != nil {
			return nil, err
		}
	}
	return config.Load()
}

// buildPools constructs one adaptive pool per capability. The score mode
// follows the half-life setting: a positive half-life enables numeric
// scoring with decay, zero falls back to plain move-to-front ordering.
func buildPools(cfg *config.Config) map[config.Capability]*mirror.Pool {
	opts := mirror.Options{
		Mode:  mirror.ModeOrdinal,
		Rate:  cfg.MirrorRate,
		Burst: cfg.MirrorBurst,
	}
	if cfg.ScoreHalfLife > 0 {
		opts.Mode = mirror.ModeScored
		opts.HalfLife = cfg.ScoreHalfLife
	}

	pools := make(map[config.Capability]*mirror.Pool, len(cfg.Mirrors))
	for _, capability := range config.Capabilities {
		pools[capability] = mirror.NewPool(string(capability), cfg.Mirrors[capability], opts)
	}
	return pools
}

// buildStore picks the cache backend: Redis when configured, otherwise the
// in-process memory cache with a janitor.
func buildStore(cfg *config.Config) (*cache.Store, func(), error) {
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(cache.RedisConfig{Addr: cfg.RedisAddr}, log.WithComponent("cache"))
		if err != nil {
			return nil, nil, err
		}
		return cache.NewStore(rc), func() { _ = rc.Close() }, nil
	}

	mem := cache.NewMemory(time.Minute)
	closeFn := func() {}
	if stopper, ok := mem.(interface{ Stop() }); ok {
		closeFn = stopper.Stop
	}
	return cache.NewStore(mem), closeFn, nil
}
