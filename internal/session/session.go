// Package session owns the live playback queue and the autofill state
// machine that keeps it topped up.
package session

import (
	"sync"
	"time"

	"vibedj/internal/core"
)

const maxRecentAvoid = 6

// State is the mutable per-process session. Every field is guarded by mu;
// the generation counter is the sole cancellation mechanism for background
// fills.
type State struct {
	mu sync.Mutex

	generation  uint64
	prompt      string
	params      PlayParams
	profile     core.VibeProfile
	queue       []core.Track
	recentAvoid []string
	lastActedID string
	filling     bool

	source     core.CurationSource
	phase      string
	generating bool
	startedAt  time.Time
	lastUpdate time.Time
	lastError  string
}

// PlayParams are the per-request knobs a play request may override.
type PlayParams struct {
	Mood      string
	Lang      string
	Mix       float64       // explore ratio, <0 means use config
	Vibe      string        // strictness mode, "" means use config
	Target    int           // 0 means use config
	CacheTTL  time.Duration // 0 means use config
	Avoid     []string
	SeedQuery string
}

// Status is a point-in-time snapshot of the session, shaped for the
// status endpoint.
type Status struct {
	Generation   uint64              `json:"generation"`
	IsGenerating bool                `json:"is_generating"`
	Phase        string              `json:"phase"`
	Source       core.CurationSource `json:"source,omitempty"`
	Prompt       string              `json:"prompt,omitempty"`
	QueueSize    int                 `json:"queue_size"`
	QueueTarget  int                 `json:"queue_target"`
	Queue        []core.Track        `json:"queue,omitempty"`
	RecentAvoid  []string            `json:"recent_avoid,omitempty"`
	StartedAt    time.Time           `json:"started_at,omitempty"`
	LastUpdate   time.Time           `json:"last_update,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
}

// bumpGeneration invalidates every in-flight fill and returns the new
// token. Caller must hold mu.
func (s *State) bumpGeneration() uint64 {
	s.generation++
	return s.generation
}

// pushRecentAvoid records a rejected track's text most-recent-first,
// deduplicated, bounded. Caller must hold mu.
func (s *State) pushRecentAvoid(text string) {
	if text == "" {
		return
	}
	kept := make([]string, 0, maxRecentAvoid)
	kept = append(kept, text)
	for _, t := range s.recentAvoid {
		if t == text {
			continue
		}
		kept = append(kept, t)
		if len(kept) == maxRecentAvoid {
			break
		}
	}
	s.recentAvoid = kept
}

// setPhase updates the generation-progress fields. Caller must hold mu.
func (s *State) setPhase(phase string) {
	s.phase = phase
	s.lastUpdate = time.Now()
}
