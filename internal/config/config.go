// SPDX-License-Identifier: MIT

// Package config loads daemon configuration with precedence ENV > mirrors
// file > built-in defaults.
package config

import (
	"time"
)

// Capability names the logical upstream operations that have their own
// mirror pools.
type Capability string

const (
	CapSearch   Capability = "search"
	CapVideo    Capability = "video"
	CapChannel  Capability = "channel"
	CapComments Capability = "comments"
	CapSocial   Capability = "social"
)

// Capabilities lists every known capability in a stable order.
var Capabilities = []Capability{CapSearch, CapVideo, CapChannel, CapComments, CapSocial}

// Strategy selects how the racer walks a pool.
type Strategy string

const (
	// StrategyRace fans out to the first N endpoints concurrently and takes
	// the first structurally valid success.
	StrategyRace Strategy = "race"
	// StrategyWalk tries endpoints one at a time in score order, demoting
	// failures.
	StrategyWalk Strategy = "walk"
)

// Config is the effective daemon configuration.
type Config struct {
	ListenAddr string
	LogLevel   string
	LogService string

	// Racing
	AttemptTimeout time.Duration // per-attempt upstream timeout
	GlobalTimeout  time.Duration // hard deadline for one logical operation
	FanOut         int           // concurrent attempts for StrategyRace
	Strategies     map[Capability]Strategy

	// Mirror pools
	Mirrors     map[Capability][]string
	MirrorsFile string  // optional YAML file overriding Mirrors
	MirrorRate  float64 // per-endpoint requests/second budget
	MirrorBurst int
	ScoreHalfLife time.Duration // 0 disables score decay

	// Result cache
	SearchTTL   time.Duration
	VideoTTL    time.Duration
	ChannelTTL  time.Duration
	CommentsTTL time.Duration
	SocialTTL   time.Duration
	RedisAddr   string // optional shared cache backend

	// Mux pipeline
	FFmpegPath string
	TmpDir     string
	MuxTimeout time.Duration
	RetainFor  time.Duration // temp file grace window

	// Format selection
	PreferredLanguage string

	// Inbound rate limiting
	RequestLimit  int // requests per window per client IP, 0 disables
	RequestWindow time.Duration
}

// videoMirrors is the default pool shared by the video-metadata style
// capabilities. Mirror operators come and go; the list is only a seed and
// can be replaced via the mirrors file without a rebuild.
var videoMirrors = []string{
	"https://iv.melmac.space",
	"https://pol1.iv.ggtyler.dev",
	"https://cal1.iv.ggtyler.dev",
	"https://invidious.0011.lt",
	"https://yt.omada.cafe",
	"https://yewtu.be",
	"https://invidious.f5.si",
	"https://invidious.nerdvpn.de",
	"https://inv.nadeko.net",
}

var commentsMirrors = []string{
	"https://invidious.lunivers.trade",
	"https://invidious.ducks.party",
	"https://super8.absturztau.be",
	"https://invidious.nikkosphere.com",
	"https://yt.omada.cafe",
	"https://iv.melmac.space",
	"https://iv.duti.dev",
}

var socialMirrors = []string{
	"https://nitter.net",
	"https://nitter.privacyredirect.com",
	"https://nitter.poast.org",
}

// Load builds the effective configuration from the environment and, when
// configured, the mirrors file.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: ParseString("YOBI_LISTEN", ":8080"),
		LogLevel:   ParseString("YOBI_LOG_LEVEL", "info"),
		LogService: ParseString("YOBI_LOG_SERVICE", "sennintubeyobi"),

		AttemptTimeout: ParseDuration("YOBI_ATTEMPT_TIMEOUT", 3*time.Second),
		GlobalTimeout:  ParseDuration("YOBI_GLOBAL_TIMEOUT", 10*time.Second),
		FanOut:         ParseInt("YOBI_FANOUT", 5),

		MirrorsFile:   ParseString("YOBI_MIRRORS_FILE", ""),
		MirrorRate:    ParseFloat("YOBI_MIRROR_RATE", 4),
		MirrorBurst:   ParseInt("YOBI_MIRROR_BURST", 8),
		ScoreHalfLife: ParseDuration("YOBI_SCORE_HALF_LIFE", 5*time.Minute),

		SearchTTL:   ParseDuration("YOBI_SEARCH_TTL", 30*time.Second),
		VideoTTL:    ParseDuration("YOBI_VIDEO_TTL", 30*time.Second),
		ChannelTTL:  ParseDuration("YOBI_CHANNEL_TTL", 60*time.Second),
		CommentsTTL: ParseDuration("YOBI_COMMENTS_TTL", 30*time.Second),
		SocialTTL:   ParseDuration("YOBI_SOCIAL_TTL", 30*time.Second),
		RedisAddr:   ParseString("YOBI_REDIS_ADDR", ""),

		FFmpegPath: ParseString("YOBI_FFMPEG", "ffmpeg"),
		TmpDir:     ParseString("YOBI_TMP_DIR", ""),
		MuxTimeout: ParseDuration("YOBI_MUX_TIMEOUT", 2*time.Minute),
		RetainFor:  ParseDuration("YOBI_MUX_RETAIN", 10*time.Minute),

		PreferredLanguage: ParseString("YOBI_LANGUAGE", "ja"),

		RequestLimit:  ParseInt("YOBI_REQUEST_LIMIT", 60),
		RequestWindow: ParseDuration("YOBI_REQUEST_WINDOW", time.Minute),
	}

	cfg.Strategies = map[Capability]Strategy{
		CapSearch:   parseStrategy("YOBI_STRATEGY_SEARCH", StrategyRace),
		CapVideo:    parseStrategy("YOBI_STRATEGY_VIDEO", StrategyRace),
		CapChannel:  parseStrategy("YOBI_STRATEGY_CHANNEL", StrategyWalk),
		CapComments: parseStrategy("YOBI_STRATEGY_COMMENTS", StrategyWalk),
		CapSocial:   parseStrategy("YOBI_STRATEGY_SOCIAL", StrategyWalk),
	}

	cfg.Mirrors = map[Capability][]string{
		CapSearch:   dedupe(videoMirrors),
		CapVideo:    dedupe(videoMirrors),
		CapChannel:  dedupe(videoMirrors),
		CapComments: dedupe(commentsMirrors),
		CapSocial:   dedupe(socialMirrors),
	}

	if cfg.MirrorsFile != "" {
		mirrors, err := LoadMirrorsFile(cfg.MirrorsFile)
		if err != nil {
			return nil, err
		}
		cfg.applyMirrors(mirrors)
	}

	return cfg, nil
}

func (c *Config) applyMirrors(m map[Capability][]string) {
	for cap, urls := range m {
		if len(urls) > 0 {
			c.Mirrors[cap] = dedupe(urls)
		}
	}
}

func parseStrategy(key string, defaultValue Strategy) Strategy {
	switch Strategy(ParseString(key, string(defaultValue))) {
	case StrategyRace:
		return StrategyRace
	case StrategyWalk:
		return StrategyWalk
	}
	return defaultValue
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
