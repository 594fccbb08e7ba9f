package core

import (
	"context"
	"time"
)

// CurationSource records where a queue's search queries came from.
type CurationSource string

const (
	// SourceLLM means the queries were produced by the hosted query-expansion model.
	SourceLLM CurationSource = "llm"
	// SourceFallback means the deterministic query composer was used.
	SourceFallback CurationSource = "fallback"
	// SourceCache means a previously curated payload was served from the prompt cache.
	SourceCache CurationSource = "cache"
)

// Track is a single playable catalog entry. Immutable once constructed.
type Track struct {
	VideoID   string         `json:"videoId"`
	Title     string         `json:"title"`
	Artist    string         `json:"artist"`
	Album     string         `json:"album,omitempty"`
	Thumbnail string         `json:"thumbnail,omitempty"`
	Source    CurationSource `json:"curation,omitempty"`
}

// WatchURL returns the collaborator-visitable watch page for the track.
// Used as the playback fallback when no direct stream URL resolves.
func (t Track) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + t.VideoID
}

// Text returns the descriptive text used for keyword classification.
func (t Track) Text() string {
	s := t.Title + " " + t.Artist
	if t.Album != "" {
		s += " " + t.Album
	}
	return s
}

// EnergyLevel is the ordinal low < med < high energy scale.
type EnergyLevel int

const (
	EnergyNone EnergyLevel = iota
	EnergyLow
	EnergyMed
	EnergyHigh
)

func (e EnergyLevel) String() string {
	switch e {
	case EnergyLow:
		return "low"
	case EnergyMed:
		return "med"
	case EnergyHigh:
		return "high"
	default:
		return ""
	}
}

// ParseEnergy maps a stored label back to its level. Unknown labels map to EnergyNone.
func ParseEnergy(s string) EnergyLevel {
	switch s {
	case "low":
		return EnergyLow
	case "med", "medium":
		return EnergyMed
	case "high":
		return EnergyHigh
	default:
		return EnergyNone
	}
}

// TempoLevel is the ordinal slow < medium < fast tempo scale.
type TempoLevel int

const (
	TempoNone TempoLevel = iota
	TempoSlow
	TempoMedium
	TempoFast
)

func (t TempoLevel) String() string {
	switch t {
	case TempoSlow:
		return "slow"
	case TempoMedium:
		return "medium"
	case TempoFast:
		return "fast"
	default:
		return ""
	}
}

// ParseTempo maps a stored label back to its level. Unknown labels map to TempoNone.
func ParseTempo(s string) TempoLevel {
	switch s {
	case "slow":
		return TempoSlow
	case "medium", "med":
		return TempoMedium
	case "fast":
		return TempoFast
	default:
		return TempoNone
	}
}

// VibeProfile is the target taste descriptor for one curation pass.
// Built fresh per request, never persisted.
type VibeProfile struct {
	Languages       map[string]struct{}
	Energy          EnergyLevel
	Tempo           TempoLevel
	Instrumentation map[string]struct{}
	AvoidTerms      []string
	AllowHeavy      bool
}

// Strictness controls the acceptance threshold and how generously
// partial matches and unknown signals are scored.
type Strictness int

const (
	StrictnessNormal Strictness = iota
	StrictnessStrict
	StrictnessLoose
)

// Threshold returns the minimum vibe score a candidate must reach.
func (s Strictness) Threshold() float64 {
	switch s {
	case StrictnessStrict:
		return 0.80
	case StrictnessLoose:
		return 0.60
	default:
		return 0.70
	}
}

func (s Strictness) String() string {
	switch s {
	case StrictnessStrict:
		return "strict"
	case StrictnessLoose:
		return "loose"
	default:
		return "normal"
	}
}

// ParseStrictness maps a mode name to its level, defaulting to normal.
func ParseStrictness(s string) Strictness {
	switch s {
	case "strict":
		return StrictnessStrict
	case "loose":
		return StrictnessLoose
	default:
		return StrictnessNormal
	}
}

// Candidate is a scored track, scoped to one selection pass.
type Candidate struct {
	Track           Track
	VibeScore       float64
	PreferenceScore float64
}

// Vote is a persisted like/dislike for a track. Last write wins per video ID.
type Vote struct {
	VideoID   string
	Title     string
	Artist    string
	Vote      int // +1 or -1
	UpdatedAt time.Time
}

// LearningAnnotation is a manual per-track tag: an optional score in [0,1]
// plus optional energy/tempo labels. Upserted by explicit rating actions.
type LearningAnnotation struct {
	VideoID   string
	Score     *float64
	Energy    EnergyLevel
	Tempo     TempoLevel
	UpdatedAt time.Time
}

// HistoryEntry records a track becoming current in the live queue.
type HistoryEntry struct {
	VideoID  string
	Title    string
	Artist   string
	PlayedAt time.Time
}

// CurationRequest is the input to the query-expansion collaborator.
type CurationRequest struct {
	Prompt     string
	Seed       string
	Mood       string
	Lang       string
	AvoidTerms []string
	MaxQueries int
	Liked      []string
	Disliked   []string
}

// CurationResult is the canonical curator contract. The legacy "queries"
// key seen in older payloads is a migration artifact and is not accepted.
type CurationResult struct {
	SearchQueries []string       `json:"search_queries"`
	AvoidTerms    []string       `json:"avoid_terms"`
	Notes         string         `json:"notes"`
	Source        CurationSource `json:"-"`
}

// CatalogSearcher runs a text search against the music catalog and returns
// canonical tracks. Implementations try a songs-filtered search first and
// fall back to an unfiltered one when it returns nothing.
type CatalogSearcher interface {
	Search(ctx context.Context, query string) ([]Track, error)
}

// Curator expands a prompt into search queries and optionally re-scores
// borderline candidates. Its unavailability is never fatal.
type Curator interface {
	Curate(ctx context.Context, req CurationRequest) (CurationResult, error)
	ScoreTrack(ctx context.Context, trackText, profileSummary string) (float64, error)
}

// StreamResolver turns track keys into playable media URLs. ResolveAll
// keeps output positions aligned with input; a failed slot holds "".
type StreamResolver interface {
	Resolve(ctx context.Context, videoID string) (string, error)
	ResolveAll(ctx context.Context, tracks []Track) []string
}

// SeenTracker is the session-local served-track set. Reset on every new
// play request.
type SeenTracker interface {
	Has(videoID string) bool
	Add(videoID string)
	Reset()
}

// Metrics receives pipeline observability events. Implementations must be
// safe for concurrent use.
type Metrics interface {
	PlayStarted(source CurationSource)
	FillCommitted()
	FillDiscarded()
	ResolveFailed(count int)
	QueueSize(n int)
	SelectionDuration(seconds float64)
}

// NopMetrics discards every event.
type NopMetrics struct{}

func (NopMetrics) PlayStarted(CurationSource) {}
func (NopMetrics) FillCommitted()             {}
func (NopMetrics) FillDiscarded()             {}
func (NopMetrics) ResolveFailed(int)          {}
func (NopMetrics) QueueSize(int)              {}
func (NopMetrics) SelectionDuration(float64)  {}

// Player is the native audio player control surface, reached over a local
// IPC channel. The player keeps its own ordered playlist which the
// orchestrator mirrors in lockstep.
type Player interface {
	Load(ctx context.Context, urls []string) error
	Append(ctx context.Context, url string) error
	TogglePause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Stop(ctx context.Context) error
	SeekAbsolute(ctx context.Context, seconds float64) error
	SeekRelative(ctx context.Context, seconds float64) error
	RemoveAt(ctx context.Context, index int) error
	PlaylistPos(ctx context.Context) (int, error)
	TimePos(ctx context.Context) (float64, error)
	Duration(ctx context.Context) (float64, error)
	Paused(ctx context.Context) (bool, error)
}

// StateStore is the persisted store consumed by the curation pipeline:
// votes, history, learning annotations and the prompt cache.
type StateStore interface {
	Votes(ctx context.Context) (map[string]int, error)
	SetVote(ctx context.Context, videoID, title, artist string, vote int) error
	RecentlyLiked(ctx context.Context, limit int) ([]Vote, error)

	RecordHistory(ctx context.Context, track Track, playedAt time.Time) error
	RecentHistoryKeys(ctx context.Context, since time.Time) (map[string]struct{}, error)
	RecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error)

	Learning(ctx context.Context) (map[string]LearningAnnotation, error)
	UpsertLearning(ctx context.Context, a LearningAnnotation) error
	LearningDefaults(ctx context.Context, minScore float64, limit int) (EnergyLevel, TempoLevel, error)

	CacheGet(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error)
	CachePut(ctx context.Context, key string, payload []byte) error
}
