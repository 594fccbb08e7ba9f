package core

import (
	"time"
)

type Config struct {
	Server   ServerConfig
	LLM      LLMConfig
	Catalog  CatalogConfig
	Resolver ResolverConfig
	Player   PlayerConfig
	Store    StoreConfig
	Curation CurationConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	MaxQueries     int
	RescoreEnabled bool
}

type CatalogConfig struct {
	BaseURL string
	Timeout time.Duration
}

type ResolverConfig struct {
	Binary  string
	Workers int
	Timeout time.Duration
}

type PlayerConfig struct {
	Binary     string
	SocketPath string
}

type StoreConfig struct {
	Path string
}

// CurationConfig carries the externally configurable selection parameters.
// The artist cap and rescore margin are hand-tuned values, kept here rather
// than as package constants so they stay adjustable.
type CurationConfig struct {
	QueueTarget           int
	MaxTracks             int
	ExploreRatio          float64
	Strictness            string
	CacheTTL              time.Duration
	NoRepeatWindow        time.Duration
	PerQueryResults       int
	ArtistCap             int
	ArtistWindow          int
	LearningSkipThreshold float64
	LearningMinScore      float64
	RecentLikedLimit      int
	RescoreMargin         float64
	CheckInterval         time.Duration
	SeedPreview           int
}

type LogConfig struct {
	Level  string
	Format string
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         17845,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		LLM: LLMConfig{
			Provider:   "none",
			Model:      "",
			MaxQueries: 10,
		},
		Catalog: CatalogConfig{
			BaseURL: "http://127.0.0.1:9863",
			Timeout: 20 * time.Second,
		},
		Resolver: ResolverConfig{
			Binary:  "yt-dlp",
			Workers: 4,
			Timeout: 30 * time.Second,
		},
		Player: PlayerConfig{
			Binary:     "mpv",
			SocketPath: "",
		},
		Store: StoreConfig{
			Path: "vibedj.sqlite3",
		},
		Curation: CurationConfig{
			QueueTarget:           25,
			MaxTracks:             25,
			ExploreRatio:          0.5,
			Strictness:            "normal",
			CacheTTL:              72 * time.Hour,
			NoRepeatWindow:        6 * time.Hour,
			PerQueryResults:       8,
			ArtistCap:             2,
			ArtistWindow:          10,
			LearningSkipThreshold: 0.3,
			LearningMinScore:      0.7,
			RecentLikedLimit:      10,
			RescoreMargin:         0.08,
			CheckInterval:         2 * time.Second,
			SeedPreview:           5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
