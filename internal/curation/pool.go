package curation

import (
	"context"

	"go.uber.org/zap"

	"vibedj/internal/core"
	"vibedj/internal/vibe"
)

// Filters is the exclusion context for one pool pass. All lookups are
// snapshots taken before the pass starts.
type Filters struct {
	SeedID       string
	Votes        map[string]int
	RecentKeys   map[string]struct{}
	SessionSeen  func(videoID string) bool
	Learning     map[string]core.LearningAnnotation
	LikedArtists map[string]struct{}
	AllowRepeats bool
}

// QueryStat records per-query pool numbers for observability.
type QueryStat struct {
	Query     string
	RawCount  int
	Survivors int
}

// Builder runs search queries and filters, scores and annotates the raw
// results into candidates.
type Builder struct {
	catalog core.CatalogSearcher
	curator core.Curator
	config  *core.CurationConfig
	logger  *zap.Logger
}

func NewBuilder(catalog core.CatalogSearcher, curator core.Curator, config *core.CurationConfig, logger *zap.Logger) *Builder {
	return &Builder{
		catalog: catalog,
		curator: curator,
		config:  config,
		logger:  logger,
	}
}

// Build runs every query against the catalog and returns the candidates
// that clear the strictness threshold. A failed query is skipped, never
// fatal. Candidates come back in discovery order.
func (b *Builder) Build(ctx context.Context, queries []string, profile core.VibeProfile, mode core.Strictness, filters Filters) ([]core.Candidate, []QueryStat) {
	threshold := mode.Threshold()

	seen := make(map[string]struct{})
	if filters.SeedID != "" {
		seen[filters.SeedID] = struct{}{}
	}

	var candidates []core.Candidate
	stats := make([]QueryStat, 0, len(queries))

	for _, query := range queries {
		tracks, err := b.catalog.Search(ctx, query)
		if err != nil {
			b.logger.Warn("Catalog query failed, skipping",
				zap.String("query", query),
				zap.Error(err))
			stats = append(stats, QueryStat{Query: query})
			continue
		}

		stat := QueryStat{Query: query, RawCount: len(tracks)}
		for _, track := range tracks {
			if track.VideoID == "" {
				continue
			}
			if _, dup := seen[track.VideoID]; dup {
				continue
			}
			seen[track.VideoID] = struct{}{}

			if !b.admit(track, filters) {
				continue
			}

			score := vibe.Score(track, profile, mode)
			score = b.maybeRescore(ctx, track, profile, score, threshold)
			if score < threshold {
				continue
			}

			candidates = append(candidates, core.Candidate{
				Track:           track,
				VibeScore:       score,
				PreferenceScore: b.preference(track, filters),
			})
			stat.Survivors++
		}
		stats = append(stats, stat)
	}

	b.logger.Debug("Candidate pool built",
		zap.Int("queries", len(queries)),
		zap.Int("candidates", len(candidates)))

	return candidates, stats
}

// admit applies the exclusion filters in their fixed order: session-seen,
// dislike, repeat window, low learning score.
func (b *Builder) admit(track core.Track, filters Filters) bool {
	if filters.SessionSeen != nil && filters.SessionSeen(track.VideoID) {
		return false
	}
	if filters.Votes[track.VideoID] < 0 {
		return false
	}
	if !filters.AllowRepeats {
		if _, recent := filters.RecentKeys[track.VideoID]; recent {
			return false
		}
	}
	if a, ok := filters.Learning[track.VideoID]; ok && a.Score != nil && *a.Score < b.config.LearningSkipThreshold {
		return false
	}
	return true
}

// preference returns the exploitation signal: an explicit like dominates,
// then a recently liked artist, then a high persisted learning score.
func (b *Builder) preference(track core.Track, filters Filters) float64 {
	if filters.Votes[track.VideoID] > 0 {
		return 1.0
	}

	pref := 0.0
	if _, liked := filters.LikedArtists[vibe.Normalize(track.Artist)]; liked {
		pref = 0.6
	}
	if a, ok := filters.Learning[track.VideoID]; ok && a.Score != nil && *a.Score > pref {
		pref = *a.Score
	}
	return pref
}

// maybeRescore asks the curator to re-judge a borderline score. Any curator
// failure leaves the heuristic score standing.
func (b *Builder) maybeRescore(ctx context.Context, track core.Track, profile core.VibeProfile, score, threshold float64) float64 {
	if b.curator == nil || b.config.RescoreMargin <= 0 {
		return score
	}
	if score == 0 {
		return score // avoid-term hits are final
	}
	diff := score - threshold
	if diff < -b.config.RescoreMargin || diff > b.config.RescoreMargin {
		return score
	}

	rescored, err := b.curator.ScoreTrack(ctx, track.Text(), vibe.Summary(profile))
	if err != nil {
		b.logger.Debug("Borderline rescore unavailable",
			zap.String("video_id", track.VideoID),
			zap.Error(err))
		return score
	}
	if rescored < 0 {
		rescored = 0
	}
	if rescored > 1 {
		rescored = 1
	}
	return rescored
}
