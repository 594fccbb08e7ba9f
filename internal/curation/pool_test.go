package curation

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"vibedj/internal/core"
)

type fakeCatalog struct {
	results map[string][]core.Track
	fail    map[string]bool
}

func (f *fakeCatalog) Search(ctx context.Context, query string) ([]core.Track, error) {
	if f.fail[query] {
		return nil, fmt.Errorf("catalog unavailable")
	}
	return f.results[query], nil
}

type fakeRescorer struct {
	score float64
	err   error
	calls int
}

func (f *fakeRescorer) Curate(ctx context.Context, req core.CurationRequest) (core.CurationResult, error) {
	return core.CurationResult{}, fmt.Errorf("not used")
}

func (f *fakeRescorer) ScoreTrack(ctx context.Context, trackText, profileSummary string) (float64, error) {
	f.calls++
	return f.score, f.err
}

func testConfig() *core.CurationConfig {
	cfg := core.DefaultConfig().Curation
	return &cfg
}

func openProfile() core.VibeProfile {
	return core.VibeProfile{
		Languages:       map[string]struct{}{},
		Instrumentation: map[string]struct{}{},
	}
}

func TestBuildFiltersInOrder(t *testing.T) {
	catalog := &fakeCatalog{results: map[string][]core.Track{
		"q": {
			{VideoID: "seed", Title: "Seed Song", Artist: "A"},
			{VideoID: "ok", Title: "Fine Song", Artist: "A"},
			{VideoID: "disliked", Title: "Bad Song", Artist: "B"},
			{VideoID: "recent", Title: "Just Played", Artist: "C"},
			{VideoID: "session", Title: "Served Already", Artist: "D"},
			{VideoID: "lowlearn", Title: "Tagged Low", Artist: "E"},
			{Title: "No Key", Artist: "F"},
		},
	}}

	lowScore := 0.1
	filters := Filters{
		SeedID:     "seed",
		Votes:      map[string]int{"disliked": -1},
		RecentKeys: map[string]struct{}{"recent": {}},
		SessionSeen: func(id string) bool {
			return id == "session"
		},
		Learning: map[string]core.LearningAnnotation{
			"lowlearn": {VideoID: "lowlearn", Score: &lowScore},
		},
	}

	b := NewBuilder(catalog, nil, testConfig(), zap.NewNop())
	candidates, stats := b.Build(context.Background(), []string{"q"}, openProfile(), core.StrictnessNormal, filters)

	if len(candidates) != 1 || candidates[0].Track.VideoID != "ok" {
		t.Fatalf("candidates = %+v, want only the unfiltered track", candidates)
	}
	if len(stats) != 1 || stats[0].RawCount != 7 || stats[0].Survivors != 1 {
		t.Errorf("stats = %+v, want raw 7 survivors 1", stats)
	}
}

func TestBuildAllowRepeatsSkipsWindow(t *testing.T) {
	catalog := &fakeCatalog{results: map[string][]core.Track{
		"q": {{VideoID: "recent", Title: "Played Before", Artist: "A"}},
	}}
	filters := Filters{
		RecentKeys:   map[string]struct{}{"recent": {}},
		AllowRepeats: true,
	}

	b := NewBuilder(catalog, nil, testConfig(), zap.NewNop())
	candidates, _ := b.Build(context.Background(), []string{"q"}, openProfile(), core.StrictnessNormal, filters)

	if len(candidates) != 1 {
		t.Errorf("candidates = %d, want repeat-window bypass when repetition requested", len(candidates))
	}
}

func TestBuildDeduplicatesAcrossQueries(t *testing.T) {
	track := core.Track{VideoID: "shared", Title: "Same Song", Artist: "A"}
	catalog := &fakeCatalog{results: map[string][]core.Track{
		"q1": {track},
		"q2": {track, {VideoID: "other", Title: "Other", Artist: "B"}},
	}}

	b := NewBuilder(catalog, nil, testConfig(), zap.NewNop())
	candidates, _ := b.Build(context.Background(), []string{"q1", "q2"}, openProfile(), core.StrictnessNormal, Filters{})

	if len(candidates) != 2 {
		t.Fatalf("candidates = %d, want 2 distinct", len(candidates))
	}
	seen := map[string]bool{}
	for _, c := range candidates {
		if seen[c.Track.VideoID] {
			t.Errorf("duplicate candidate %s", c.Track.VideoID)
		}
		seen[c.Track.VideoID] = true
	}
}

func TestBuildSkipsFailedQuery(t *testing.T) {
	catalog := &fakeCatalog{
		results: map[string][]core.Track{
			"good": {{VideoID: "v1", Title: "Song", Artist: "A"}},
		},
		fail: map[string]bool{"bad": true},
	}

	b := NewBuilder(catalog, nil, testConfig(), zap.NewNop())
	candidates, stats := b.Build(context.Background(), []string{"bad", "good"}, openProfile(), core.StrictnessNormal, Filters{})

	if len(candidates) != 1 {
		t.Errorf("candidates = %d, want the good query's result", len(candidates))
	}
	if len(stats) != 2 || stats[0].RawCount != 0 {
		t.Errorf("stats = %+v, want an empty entry for the failed query", stats)
	}
}

func TestBuildPreferenceScores(t *testing.T) {
	learned := 0.8
	catalog := &fakeCatalog{results: map[string][]core.Track{
		"q": {
			{VideoID: "voted", Title: "Loved Song", Artist: "Nobody"},
			{VideoID: "artist", Title: "New Song", Artist: "Fav Artist"},
			{VideoID: "learned", Title: "Tagged Song", Artist: "Nobody"},
			{VideoID: "plain", Title: "Plain Song", Artist: "Nobody"},
		},
	}}
	filters := Filters{
		Votes:        map[string]int{"voted": 1},
		LikedArtists: map[string]struct{}{"fav artist": {}},
		Learning: map[string]core.LearningAnnotation{
			"learned": {VideoID: "learned", Score: &learned},
		},
	}

	b := NewBuilder(catalog, nil, testConfig(), zap.NewNop())
	candidates, _ := b.Build(context.Background(), []string{"q"}, openProfile(), core.StrictnessNormal, filters)

	want := map[string]float64{"voted": 1.0, "artist": 0.6, "learned": 0.8, "plain": 0}
	if len(candidates) != len(want) {
		t.Fatalf("candidates = %d, want %d", len(candidates), len(want))
	}
	for _, c := range candidates {
		if c.PreferenceScore != want[c.Track.VideoID] {
			t.Errorf("%s preference = %v, want %v", c.Track.VideoID, c.PreferenceScore, want[c.Track.VideoID])
		}
	}
}

func TestBuildBorderlineRescore(t *testing.T) {
	// profile targets low energy; a med-energy track scores exactly 0.7 at
	// normal strictness, right on the threshold
	profile := core.VibeProfile{
		Languages:       map[string]struct{}{},
		Energy:          core.EnergyLow,
		Instrumentation: map[string]struct{}{},
	}
	borderline := core.Track{VideoID: "b1", Title: "Smooth Groove Nights", Artist: "A"}
	catalog := &fakeCatalog{results: map[string][]core.Track{"q": {borderline}}}

	t.Run("rescore lifts the track", func(t *testing.T) {
		curator := &fakeRescorer{score: 0.9}
		b := NewBuilder(catalog, curator, testConfig(), zap.NewNop())
		candidates, _ := b.Build(context.Background(), []string{"q"}, profile, core.StrictnessNormal, Filters{})
		if curator.calls != 1 {
			t.Errorf("rescore calls = %d, want 1", curator.calls)
		}
		if len(candidates) != 1 || candidates[0].VibeScore != 0.9 {
			t.Errorf("candidates = %+v, want rescored 0.9 survivor", candidates)
		}
	})

	t.Run("rescore drops the track", func(t *testing.T) {
		curator := &fakeRescorer{score: 0.3}
		b := NewBuilder(catalog, curator, testConfig(), zap.NewNop())
		candidates, _ := b.Build(context.Background(), []string{"q"}, profile, core.StrictnessNormal, Filters{})
		if len(candidates) != 0 {
			t.Errorf("candidates = %+v, want rescored track excluded", candidates)
		}
	})

	t.Run("rescore failure keeps heuristic score", func(t *testing.T) {
		curator := &fakeRescorer{err: fmt.Errorf("llm down")}
		b := NewBuilder(catalog, curator, testConfig(), zap.NewNop())
		candidates, _ := b.Build(context.Background(), []string{"q"}, profile, core.StrictnessNormal, Filters{})
		if len(candidates) != 1 || candidates[0].VibeScore != 0.7 {
			t.Errorf("candidates = %+v, want heuristic 0.7 survivor", candidates)
		}
	})

	t.Run("clear scores are not rescored", func(t *testing.T) {
		clear := core.Track{VideoID: "c1", Title: "Calm Ambient Sleep", Artist: "B"}
		cat := &fakeCatalog{results: map[string][]core.Track{"q": {clear}}}
		curator := &fakeRescorer{score: 0.1}
		b := NewBuilder(cat, curator, testConfig(), zap.NewNop())
		candidates, _ := b.Build(context.Background(), []string{"q"}, profile, core.StrictnessNormal, Filters{})
		if curator.calls != 0 {
			t.Errorf("rescore calls = %d, want 0 for a clear score", curator.calls)
		}
		if len(candidates) != 1 || candidates[0].VibeScore != 1.0 {
			t.Errorf("candidates = %+v, want untouched 1.0 survivor", candidates)
		}
	})
}
