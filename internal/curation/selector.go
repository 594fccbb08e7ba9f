package curation

import (
	"math"
	"sort"

	"vibedj/internal/core"
	"vibedj/internal/vibe"
)

// Selector interleaves exploit and explore candidates into a bounded
// selection while keeping artist diversity.
type Selector struct {
	ExploreRatio float64
	ArtistCap    int
	ArtistWindow int
}

func NewSelector(cfg *core.CurationConfig) *Selector {
	return &Selector{
		ExploreRatio: cfg.ExploreRatio,
		ArtistCap:    cfg.ArtistCap,
		ArtistWindow: cfg.ArtistWindow,
	}
}

// Select picks up to target tracks. A supplied seed always goes first. The
// interleave approximates the explore ratio with a running-ratio rule, then
// a fill pass tops up from whatever remains. Under-filling is a valid
// outcome when the pool runs dry.
func (s *Selector) Select(candidates []core.Candidate, seed *core.Track, target int) []core.Track {
	if target <= 0 {
		return nil
	}

	exploit, explore := splitBuckets(candidates)

	result := make([]core.Track, 0, target)
	used := make(map[string]struct{}, target)

	if seed != nil && seed.VideoID != "" {
		result = append(result, *seed)
		used[seed.VideoID] = struct{}{}
	}

	remaining := target - len(result)
	if remaining <= 0 {
		return result
	}

	ratio := s.ExploreRatio
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	wantExplore := int(math.Round(float64(remaining) * ratio))
	wantExploit := remaining - wantExplore

	exploresTaken, exploitsTaken := 0, 0
	for len(result) < target && exploresTaken+exploitsTaken < wantExplore+wantExploit {
		var preferExplore bool
		switch {
		case exploresTaken >= wantExplore:
			preferExplore = false
		case exploitsTaken >= wantExploit:
			preferExplore = true
		default:
			// pick the bucket that keeps the realized ratio closest to target
			taken := float64(exploresTaken + exploitsTaken + 1)
			withExplore := math.Abs(float64(exploresTaken+1)/taken - ratio)
			without := math.Abs(float64(exploresTaken)/taken - ratio)
			preferExplore = withExplore <= without
		}

		first, second := exploit, explore
		firstIsExplore := false
		if preferExplore {
			first, second = explore, exploit
			firstIsExplore = true
		}

		track, ok := s.pull(first, used, result)
		tookExplore := firstIsExplore
		if !ok {
			track, ok = s.pull(second, used, result)
			tookExplore = !firstIsExplore
		}
		if !ok {
			break
		}

		result = append(result, track)
		used[track.VideoID] = struct{}{}
		if tookExplore {
			exploresTaken++
		} else {
			exploitsTaken++
		}
	}

	// fill pass: reserved counts no longer apply, drain what is left
	for len(result) < target {
		track, ok := s.pull(exploit, used, result)
		if !ok {
			track, ok = s.pull(explore, used, result)
		}
		if !ok {
			break
		}
		result = append(result, track)
		used[track.VideoID] = struct{}{}
	}

	return result
}

// SeedNext returns the upcoming-track preview: the first k non-seed
// entries, with k clamped to [5,10].
func SeedNext(selection []core.Track, hasSeed bool, k int) []core.Track {
	if k < 5 {
		k = 5
	}
	if k > 10 {
		k = 10
	}
	rest := selection
	if hasSeed && len(rest) > 0 {
		rest = rest[1:]
	}
	if len(rest) > k {
		rest = rest[:k]
	}
	return rest
}

type bucket struct {
	items []core.Candidate
}

// splitBuckets partitions candidates on preference signal. Exploit sorts by
// preference then vibe, explore purely by vibe. Sorting is stable so equal
// scores keep discovery order.
func splitBuckets(candidates []core.Candidate) (exploit, explore *bucket) {
	exploit, explore = &bucket{}, &bucket{}
	for _, c := range candidates {
		if c.PreferenceScore > 0 {
			exploit.items = append(exploit.items, c)
		} else {
			explore.items = append(explore.items, c)
		}
	}

	sort.SliceStable(exploit.items, func(i, j int) bool {
		a, b := exploit.items[i], exploit.items[j]
		if a.PreferenceScore != b.PreferenceScore {
			return a.PreferenceScore > b.PreferenceScore
		}
		return a.VibeScore > b.VibeScore
	})
	sort.SliceStable(explore.items, func(i, j int) bool {
		return explore.items[i].VibeScore > explore.items[j].VibeScore
	})

	return exploit, explore
}

// pull removes and returns the first candidate that is neither used nor
// blocked by the artist cap. Artist-capped candidates stay in the bucket
// since the trailing window can free them up later.
func (s *Selector) pull(b *bucket, used map[string]struct{}, selected []core.Track) (core.Track, bool) {
	for i := 0; i < len(b.items); i++ {
		c := b.items[i]
		if _, dup := used[c.Track.VideoID]; dup {
			b.items = append(b.items[:i], b.items[i+1:]...)
			i--
			continue
		}
		if s.artistCapped(c.Track.Artist, selected) {
			continue
		}
		b.items = append(b.items[:i], b.items[i+1:]...)
		return c.Track, true
	}
	return core.Track{}, false
}

// artistCapped reports whether the artist already holds its quota within
// the trailing selection window.
func (s *Selector) artistCapped(artist string, selected []core.Track) bool {
	if s.ArtistCap <= 0 || artist == "" {
		return false
	}
	key := vibe.Normalize(artist)

	start := 0
	if s.ArtistWindow > 0 && len(selected) > s.ArtistWindow {
		start = len(selected) - s.ArtistWindow
	}
	count := 0
	for _, t := range selected[start:] {
		if vibe.Normalize(t.Artist) == key {
			count++
			if count >= s.ArtistCap {
				return true
			}
		}
	}
	return false
}
