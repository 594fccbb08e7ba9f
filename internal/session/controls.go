package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vibedj/internal/core"
)

// TogglePause flips the player pause state.
func (o *Orchestrator) TogglePause(ctx context.Context) error {
	return o.player.TogglePause(ctx)
}

// Next skips the current track. The skipped track steers near-future fills
// away via the recent-avoid list.
func (o *Orchestrator) Next(ctx context.Context) error {
	o.rememberRejected()
	return o.player.Next(ctx)
}

// Previous steps back one playlist entry. Stepping away from a track is
// treated as a rejection signal just like a skip.
func (o *Orchestrator) Previous(ctx context.Context) error {
	o.rememberRejected()
	return o.player.Previous(ctx)
}

// Stop clears playback and returns the session to idle. The generation
// bump cancels any in-flight fill.
func (o *Orchestrator) Stop(ctx context.Context) error {
	s := o.state
	s.mu.Lock()
	s.bumpGeneration()
	s.queue = nil
	s.prompt = ""
	s.generating = false
	s.lastError = ""
	s.setPhase("idle")
	s.mu.Unlock()

	o.seen.Reset()
	o.metrics.QueueSize(0)

	return o.player.Stop(ctx)
}

// Seek moves within the current track, absolute or relative seconds.
func (o *Orchestrator) Seek(ctx context.Context, seconds float64, relative bool) error {
	if relative {
		return o.player.SeekRelative(ctx, seconds)
	}
	return o.player.SeekAbsolute(ctx, seconds)
}

// RemoveTrack drops a queued (not yet playing) entry by index. Index 0 is
// the current track and cannot be removed; use Next instead.
func (o *Orchestrator) RemoveTrack(ctx context.Context, index int) error {
	s := o.state
	s.mu.Lock()
	if index < 1 || index >= len(s.queue) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrBadIndex, index)
	}
	s.queue = append(s.queue[:index], s.queue[index+1:]...)
	s.mu.Unlock()

	return o.player.RemoveAt(ctx, index)
}

// Vote records a like (+1) or dislike (-1) for the current track. A
// dislike also steers fills away from it and skips ahead.
func (o *Orchestrator) Vote(ctx context.Context, vote int) (*core.Track, error) {
	s := o.state
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("nothing is playing")
	}
	current := s.queue[0]
	s.lastActedID = current.VideoID
	if vote < 0 {
		s.pushRecentAvoid(current.Text())
	}
	s.mu.Unlock()

	if err := o.store.SetVote(ctx, current.VideoID, current.Title, current.Artist, vote); err != nil {
		return nil, err
	}

	o.logger.Info("Vote recorded",
		zap.String("video_id", current.VideoID),
		zap.String("title", current.Title),
		zap.Int("vote", vote))

	if vote < 0 {
		if err := o.player.Next(ctx); err != nil {
			o.logger.Warn("Failed to skip disliked track", zap.Error(err))
		}
	}

	return &current, nil
}

// RateTrack upserts a manual learning annotation.
func (o *Orchestrator) RateTrack(ctx context.Context, a core.LearningAnnotation) error {
	if a.VideoID == "" {
		return fmt.Errorf("video id is required")
	}
	if a.Score != nil && (*a.Score < 0 || *a.Score > 1) {
		return fmt.Errorf("score must be within [0,1]")
	}
	a.UpdatedAt = time.Now()
	return o.store.UpsertLearning(ctx, a)
}

// Status snapshots the session for the status endpoint.
func (o *Orchestrator) Status() Status {
	s := o.state
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := append([]core.Track(nil), s.queue...)
	return Status{
		Generation:   s.generation,
		IsGenerating: s.generating,
		Phase:        s.phase,
		Source:       s.source,
		Prompt:       s.prompt,
		QueueSize:    len(queue),
		QueueTarget:  o.target(s.params),
		Queue:        queue,
		RecentAvoid:  append([]string(nil), s.recentAvoid...),
		StartedAt:    s.startedAt,
		LastUpdate:   s.lastUpdate,
		LastError:    s.lastError,
	}
}

// PlaybackInfo is the current player position snapshot.
type PlaybackInfo struct {
	Paused   bool    `json:"paused"`
	Elapsed  float64 `json:"elapsed"`
	Duration float64 `json:"duration"`
}

// Playback queries the player's live position properties.
func (o *Orchestrator) Playback(ctx context.Context) (PlaybackInfo, error) {
	paused, err := o.player.Paused(ctx)
	if err != nil {
		return PlaybackInfo{}, err
	}
	elapsed, err := o.player.TimePos(ctx)
	if err != nil {
		return PlaybackInfo{}, err
	}
	duration, err := o.player.Duration(ctx)
	if err != nil {
		return PlaybackInfo{}, err
	}
	return PlaybackInfo{Paused: paused, Elapsed: elapsed, Duration: duration}, nil
}

// rememberRejected pushes the current track onto the recent-avoid list and
// marks it as acted on so the position watcher does not re-record it.
func (o *Orchestrator) rememberRejected() {
	s := o.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return
	}
	current := s.queue[0]
	s.pushRecentAvoid(current.Text())
	s.lastActedID = current.VideoID
}
