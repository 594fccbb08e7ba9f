package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"vibedj/internal/core"
)

type fakeCatalog struct {
	results map[string][]core.Track
}

func (f *fakeCatalog) Search(ctx context.Context, query string) ([]core.Track, error) {
	if tracks, ok := f.results[query]; ok {
		return tracks, nil
	}
	return f.results["*"], nil
}

type fakeCurator struct {
	result core.CurationResult
	err    error
	calls  int
}

func (f *fakeCurator) Curate(ctx context.Context, req core.CurationRequest) (core.CurationResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeCurator) ScoreTrack(ctx context.Context, trackText, profileSummary string) (float64, error) {
	return 0, fmt.Errorf("not enabled")
}

type fakeResolver struct {
	fail map[string]bool
}

func (f *fakeResolver) Resolve(ctx context.Context, videoID string) (string, error) {
	if f.fail[videoID] || f.fail["*"] {
		return "", fmt.Errorf("resolution failed")
	}
	return "https://cdn.example/" + videoID, nil
}

func (f *fakeResolver) ResolveAll(ctx context.Context, tracks []core.Track) []string {
	urls := make([]string, len(tracks))
	for i, t := range tracks {
		if url, err := f.Resolve(ctx, t.VideoID); err == nil {
			urls[i] = url
		}
	}
	return urls
}

type fakePlayer struct {
	mu      sync.Mutex
	loads   [][]string
	appends []string
	removes []int
	nexts   int
	pos     int
}

func (f *fakePlayer) Load(ctx context.Context, urls []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, urls)
	return nil
}

func (f *fakePlayer) Append(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends = append(f.appends, url)
	return nil
}

func (f *fakePlayer) TogglePause(ctx context.Context) error { return nil }

func (f *fakePlayer) Next(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nexts++
	return nil
}

func (f *fakePlayer) Previous(ctx context.Context) error { return nil }
func (f *fakePlayer) Stop(ctx context.Context) error     { return nil }

func (f *fakePlayer) SeekAbsolute(ctx context.Context, seconds float64) error { return nil }
func (f *fakePlayer) SeekRelative(ctx context.Context, seconds float64) error { return nil }

func (f *fakePlayer) RemoveAt(ctx context.Context, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, index)
	return nil
}

func (f *fakePlayer) PlaylistPos(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, nil
}

func (f *fakePlayer) TimePos(ctx context.Context) (float64, error)  { return 0, nil }
func (f *fakePlayer) Duration(ctx context.Context) (float64, error) { return 0, nil }
func (f *fakePlayer) Paused(ctx context.Context) (bool, error)      { return false, nil }

type fakeStore struct {
	mu       sync.Mutex
	votes    map[string]int
	learning map[string]core.LearningAnnotation
	history  []core.HistoryEntry
	cache    map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		votes:    map[string]int{},
		learning: map[string]core.LearningAnnotation{},
		cache:    map[string][]byte{},
	}
}

func (f *fakeStore) Votes(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.votes))
	for k, v := range f.votes {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) SetVote(ctx context.Context, videoID, title, artist string, vote int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[videoID] = vote
	return nil
}

func (f *fakeStore) RecentlyLiked(ctx context.Context, limit int) ([]core.Vote, error) {
	return nil, nil
}

func (f *fakeStore) RecordHistory(ctx context.Context, track core.Track, playedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, core.HistoryEntry{
		VideoID: track.VideoID, Title: track.Title, Artist: track.Artist, PlayedAt: playedAt,
	})
	return nil
}

func (f *fakeStore) RecentHistoryKeys(ctx context.Context, since time.Time) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (f *fakeStore) RecentHistory(ctx context.Context, limit int) ([]core.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.HistoryEntry(nil), f.history...), nil
}

func (f *fakeStore) Learning(ctx context.Context) (map[string]core.LearningAnnotation, error) {
	return f.learning, nil
}

func (f *fakeStore) UpsertLearning(ctx context.Context, a core.LearningAnnotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.learning[a.VideoID] = a
	return nil
}

func (f *fakeStore) LearningDefaults(ctx context.Context, minScore float64, limit int) (core.EnergyLevel, core.TempoLevel, error) {
	return core.EnergyNone, core.TempoNone, nil
}

func (f *fakeStore) CacheGet(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.cache[key]
	return payload, ok, nil
}

func (f *fakeStore) CachePut(ctx context.Context, key string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[key] = payload
	return nil
}

type fakeSeen struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newFakeSeen() *fakeSeen { return &fakeSeen{ids: map[string]struct{}{}} }

func (f *fakeSeen) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[id]
	return ok
}

func (f *fakeSeen) Add(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[id] = struct{}{}
}

func (f *fakeSeen) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = map[string]struct{}{}
}

type testRig struct {
	orch     *Orchestrator
	catalog  *fakeCatalog
	curator  *fakeCurator
	resolver *fakeResolver
	player   *fakePlayer
	store    *fakeStore
}

func trackPool(n int) []core.Track {
	tracks := make([]core.Track, n)
	for i := range tracks {
		tracks[i] = core.Track{
			VideoID: fmt.Sprintf("vid%d", i),
			Title:   fmt.Sprintf("Song %d", i),
			Artist:  fmt.Sprintf("Artist %d", i),
		}
	}
	return tracks
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Curation.QueueTarget = 5
	cfg.Curation.MaxTracks = 5
	cfg.Curation.SeedPreview = 5

	rig := &testRig{
		catalog:  &fakeCatalog{results: map[string][]core.Track{"*": trackPool(12)}},
		curator:  &fakeCurator{result: core.CurationResult{SearchQueries: []string{"expanded query"}}},
		resolver: &fakeResolver{fail: map[string]bool{}},
		player:   &fakePlayer{},
		store:    newFakeStore(),
	}
	rig.orch = NewOrchestrator(cfg, zap.NewNop(),
		rig.catalog, rig.curator, rig.resolver, rig.player, rig.store, newFakeSeen(), nil)
	return rig
}

func TestPlayBuildsQueue(t *testing.T) {
	rig := newRig(t)

	result, err := rig.orch.Play(context.Background(), "any songs", PlayParams{Mix: -1})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	if result.Count != 5 {
		t.Errorf("Count = %d, want target 5", result.Count)
	}
	if result.Source != core.SourceLLM {
		t.Errorf("Source = %v, want llm", result.Source)
	}
	if len(rig.player.loads) != 1 || len(rig.player.loads[0]) != 5 {
		t.Fatalf("player loads = %+v, want one load of 5 URLs", rig.player.loads)
	}
	if !strings.HasPrefix(rig.player.loads[0][0], "https://cdn.example/") {
		t.Errorf("loaded URL = %s, want resolved stream", rig.player.loads[0][0])
	}
	if len(rig.store.history) != 1 || rig.store.history[0].VideoID != result.Queue[0].VideoID {
		t.Errorf("history = %+v, want the first queued track", rig.store.history)
	}
	if len(result.SeedNext) == 0 {
		t.Error("SeedNext preview is empty")
	}
}

func TestPlayEmptyPrompt(t *testing.T) {
	rig := newRig(t)
	if _, err := rig.orch.Play(context.Background(), "  ", PlayParams{Mix: -1}); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("Play() error = %v, want ErrEmptyPrompt", err)
	}
}

func TestPlaySecondCallServesCache(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	if _, err := rig.orch.Play(ctx, "any songs", PlayParams{Mix: -1}); err != nil {
		t.Fatalf("first Play() error = %v", err)
	}
	result, err := rig.orch.Play(ctx, "any songs", PlayParams{Mix: -1})
	if err != nil {
		t.Fatalf("second Play() error = %v", err)
	}

	if result.Source != core.SourceCache {
		t.Errorf("Source = %v, want cache on the second identical request", result.Source)
	}
	if rig.curator.calls != 1 {
		t.Errorf("curator calls = %d, want 1 (second served from cache)", rig.curator.calls)
	}
}

func TestPlayCuratorFailureFallsBack(t *testing.T) {
	rig := newRig(t)
	rig.curator.err = fmt.Errorf("llm down")

	result, err := rig.orch.Play(context.Background(), "tamil songs", PlayParams{Mix: -1})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if result.Source != core.SourceFallback {
		t.Errorf("Source = %v, want fallback when the curator fails", result.Source)
	}
	if result.Count == 0 {
		t.Error("fallback produced no queue")
	}
}

func TestPlayAllResolutionsFailUsesWatchPages(t *testing.T) {
	rig := newRig(t)
	rig.resolver.fail["*"] = true

	result, err := rig.orch.Play(context.Background(), "any songs", PlayParams{Mix: -1})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if result.Count != 5 {
		t.Errorf("Count = %d, want all chosen tracks kept", result.Count)
	}
	for _, url := range rig.player.loads[0] {
		if !strings.HasPrefix(url, "https://www.youtube.com/watch?v=") {
			t.Errorf("loaded URL = %s, want watch-page fallback", url)
		}
	}
}

func TestPlaySeedGoesFirst(t *testing.T) {
	rig := newRig(t)
	seed := core.Track{VideoID: "seedvid", Title: "Seed Song", Artist: "Seed Artist"}
	rig.catalog.results["find my seed"] = []core.Track{seed}

	result, err := rig.orch.Play(context.Background(), "any songs",
		PlayParams{Mix: -1, SeedQuery: "find my seed"})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if result.Seed == nil || result.Seed.VideoID != "seedvid" {
		t.Fatalf("Seed = %+v, want the searched seed", result.Seed)
	}
	if result.Queue[0].VideoID != "seedvid" {
		t.Errorf("Queue[0] = %s, want the seed first", result.Queue[0].VideoID)
	}
	if len(result.SeedNext) > 0 && result.SeedNext[0].VideoID == "seedvid" {
		t.Error("SeedNext should not include the seed itself")
	}
}

func TestStaleFillDiscarded(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	if _, err := rig.orch.Play(ctx, "any songs", PlayParams{Mix: -1}); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	s := rig.orch.state
	s.mu.Lock()
	staleToken := s.generation
	before := len(s.queue)
	s.generation++ // a newer play request arrived mid-fill
	s.mu.Unlock()

	rig.orch.fillOnce(ctx, staleToken)

	s.mu.Lock()
	after := len(s.queue)
	s.mu.Unlock()
	if after != before {
		t.Errorf("queue grew from %d to %d on a stale fill", before, after)
	}
	if len(rig.player.appends) != 0 {
		t.Errorf("player appends = %v, want none for a stale fill", rig.player.appends)
	}
}

func TestFreshFillAppendsOneTrack(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	if _, err := rig.orch.Play(ctx, "any songs", PlayParams{Mix: -1}); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	s := rig.orch.state
	s.mu.Lock()
	token := s.generation
	s.queue = s.queue[:2] // simulate consumption
	before := len(s.queue)
	s.mu.Unlock()

	rig.orch.fillOnce(ctx, token)

	s.mu.Lock()
	after := len(s.queue)
	queued := append([]core.Track(nil), s.queue...)
	s.mu.Unlock()

	if after != before+1 {
		t.Fatalf("queue size = %d, want exactly one appended track", after)
	}
	if len(rig.player.appends) != 1 {
		t.Errorf("player appends = %d, want 1", len(rig.player.appends))
	}
	seen := map[string]bool{}
	for _, tr := range queued {
		if seen[tr.VideoID] {
			t.Errorf("duplicate %s in queue after fill", tr.VideoID)
		}
		seen[tr.VideoID] = true
	}
}

func TestTickTrimsConsumedAndRecordsHistory(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	if _, err := rig.orch.Play(ctx, "any songs", PlayParams{Mix: -1}); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	historyBefore := len(rig.store.history)

	s := rig.orch.state
	s.mu.Lock()
	s.filling = true // hold the autofill slot so the trim is observed in isolation
	s.mu.Unlock()

	rig.player.pos = 2
	rig.orch.tick(ctx)

	s.mu.Lock()
	size := len(s.queue)
	s.mu.Unlock()

	if size != 3 {
		t.Errorf("queue size after trim = %d, want 3", size)
	}
	if len(rig.player.removes) != 2 {
		t.Errorf("player removes = %v, want two head removals", rig.player.removes)
	}
	for _, idx := range rig.player.removes {
		if idx != 0 {
			t.Errorf("remove index = %d, want 0", idx)
		}
	}
	if len(rig.store.history) != historyBefore+1 {
		t.Errorf("history entries = %d, want one new entry for the new current track", len(rig.store.history))
	}
}

func TestRecentAvoidBounded(t *testing.T) {
	s := &State{}
	for i := 0; i < 10; i++ {
		s.pushRecentAvoid(fmt.Sprintf("Track %d", i))
	}
	s.pushRecentAvoid("Track 7") // re-rejecting moves it to the front

	if len(s.recentAvoid) != maxRecentAvoid {
		t.Fatalf("recentAvoid size = %d, want %d", len(s.recentAvoid), maxRecentAvoid)
	}
	if s.recentAvoid[0] != "Track 7" {
		t.Errorf("recentAvoid[0] = %s, want most recent first", s.recentAvoid[0])
	}
	seen := map[string]bool{}
	for _, text := range s.recentAvoid {
		if seen[text] {
			t.Errorf("duplicate %q in recentAvoid", text)
		}
		seen[text] = true
	}
}

func TestVoteDislikeSteersAndSkips(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	if _, err := rig.orch.Play(ctx, "any songs", PlayParams{Mix: -1}); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	track, err := rig.orch.Vote(ctx, -1)
	if err != nil {
		t.Fatalf("Vote() error = %v", err)
	}
	if rig.store.votes[track.VideoID] != -1 {
		t.Errorf("stored vote = %d, want -1", rig.store.votes[track.VideoID])
	}
	if rig.player.nexts != 1 {
		t.Errorf("player nexts = %d, want dislike to skip", rig.player.nexts)
	}

	status := rig.orch.Status()
	if len(status.RecentAvoid) != 1 || !strings.Contains(status.RecentAvoid[0], track.Title) {
		t.Errorf("RecentAvoid = %v, want the disliked track's text", status.RecentAvoid)
	}
}

func TestRemoveTrackValidation(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	if _, err := rig.orch.Play(ctx, "any songs", PlayParams{Mix: -1}); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	if err := rig.orch.RemoveTrack(ctx, 0); !errors.Is(err, ErrBadIndex) {
		t.Errorf("RemoveTrack(0) error = %v, want ErrBadIndex", err)
	}
	if err := rig.orch.RemoveTrack(ctx, 99); !errors.Is(err, ErrBadIndex) {
		t.Errorf("RemoveTrack(99) error = %v, want ErrBadIndex", err)
	}
	if err := rig.orch.RemoveTrack(ctx, 2); err != nil {
		t.Errorf("RemoveTrack(2) error = %v", err)
	}

	status := rig.orch.Status()
	if status.QueueSize != 4 {
		t.Errorf("queue size = %d, want 4 after removal", status.QueueSize)
	}
}

func TestStopClearsSession(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	if _, err := rig.orch.Play(ctx, "any songs", PlayParams{Mix: -1}); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := rig.orch.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	status := rig.orch.Status()
	if status.QueueSize != 0 || status.Prompt != "" || status.Phase != "idle" {
		t.Errorf("status after stop = %+v, want empty idle session", status)
	}
}

func TestPlaySeedSkipsDislikedAndBuried(t *testing.T) {
	rig := newRig(t)
	low := 0.1
	rig.store.votes["badseed"] = -1
	rig.store.learning["buriedseed"] = core.LearningAnnotation{VideoID: "buriedseed", Score: &low}
	rig.catalog.results["find my seed"] = []core.Track{
		{VideoID: "badseed", Title: "Disliked Seed", Artist: "Seed Artist"},
		{VideoID: "buriedseed", Title: "Buried Seed", Artist: "Seed Artist"},
		{VideoID: "goodseed", Title: "Good Seed", Artist: "Seed Artist"},
	}

	result, err := rig.orch.Play(context.Background(), "any songs",
		PlayParams{Mix: -1, SeedQuery: "find my seed"})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if result.Seed == nil || result.Seed.VideoID != "goodseed" {
		t.Fatalf("Seed = %+v, want the first result without a dislike or low rating", result.Seed)
	}
	for _, tr := range result.Queue {
		if tr.VideoID == "badseed" || tr.VideoID == "buriedseed" {
			t.Errorf("queue contains excluded seed candidate %s", tr.VideoID)
		}
	}
}

func TestPlaySeedAllResultsDisliked(t *testing.T) {
	rig := newRig(t)
	rig.store.votes["badseed"] = -1
	rig.catalog.results["find my seed"] = []core.Track{
		{VideoID: "badseed", Title: "Disliked Seed", Artist: "Seed Artist"},
	}

	result, err := rig.orch.Play(context.Background(), "any songs",
		PlayParams{Mix: -1, SeedQuery: "find my seed"})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if result.Seed != nil {
		t.Errorf("Seed = %+v, want none when every result is disliked", result.Seed)
	}
	for _, tr := range result.Queue {
		if tr.VideoID == "badseed" {
			t.Error("disliked track ended up in the queue via the seed path")
		}
	}
}

func TestPlayPromptMentionedAvoidTermSurvivesCurator(t *testing.T) {
	rig := newRig(t)
	rig.curator.result = core.CurationResult{
		SearchQueries: []string{"live performances"},
		AvoidTerms:    []string{"live"},
	}
	pool := make([]core.Track, 8)
	for i := range pool {
		pool[i] = core.Track{
			VideoID: fmt.Sprintf("live%d", i),
			Title:   fmt.Sprintf("Concert Piece %d (Live)", i),
			Artist:  fmt.Sprintf("Band %d", i),
		}
	}
	rig.catalog.results["*"] = pool

	result, err := rig.orch.Play(context.Background(), "play the live version", PlayParams{Mix: -1})
	if err != nil {
		t.Fatalf("Play() error = %v, want live tracks to survive a prompt asking for them", err)
	}
	if result.Count == 0 {
		t.Error("queue is empty, curator avoid term overrode the prompt's own words")
	}
}

func TestMergeAvoidTermsDropsPromptMentions(t *testing.T) {
	got := mergeAvoidTerms("play the live version",
		[]string{"remix"}, []string{"live", "cover", "remix"})

	want := []string{"remix", "cover"}
	if len(got) != len(want) {
		t.Fatalf("mergeAvoidTerms() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mergeAvoidTerms()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPlayCacheKeyIncludesParams(t *testing.T) {
	a := cacheKey(core.CurationRequest{Prompt: "p", Lang: "ta", MaxQueries: 5})
	b := cacheKey(core.CurationRequest{Prompt: "p", Lang: "hi", MaxQueries: 5})
	c := cacheKey(core.CurationRequest{Prompt: "p", Lang: "ta", MaxQueries: 5})
	if a == b {
		t.Error("different params should produce different cache keys")
	}
	if a != c {
		t.Error("identical requests should produce identical cache keys")
	}
	if !strings.HasPrefix(a, "p\n") {
		t.Errorf("cache key %q should start with the prompt and a newline", a)
	}
}
