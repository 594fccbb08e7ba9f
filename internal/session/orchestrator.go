package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"vibedj/internal/core"
	"vibedj/internal/curation"
	"vibedj/internal/vibe"
)

var (
	ErrEmptyPrompt = errors.New("prompt is required")
	ErrBadIndex    = errors.New("index out of range")
	ErrNoMatches   = errors.New("no tracks matched the prompt")
	ErrSuperseded  = errors.New("request superseded by a newer play request")
)

// Orchestrator drives the whole curation pipeline against the session
// state: foreground play requests, the playback-position watch loop and
// one-track background fills.
type Orchestrator struct {
	config   *core.Config
	logger   *zap.Logger
	catalog  core.CatalogSearcher
	curator  core.Curator
	resolver core.StreamResolver
	player   core.Player
	store    core.StateStore
	seen     core.SeenTracker
	metrics  core.Metrics

	state *State
}

func NewOrchestrator(
	config *core.Config,
	logger *zap.Logger,
	catalog core.CatalogSearcher,
	curator core.Curator,
	resolver core.StreamResolver,
	player core.Player,
	store core.StateStore,
	seen core.SeenTracker,
	metrics core.Metrics,
) *Orchestrator {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &Orchestrator{
		config:   config,
		logger:   logger,
		catalog:  catalog,
		curator:  curator,
		resolver: resolver,
		player:   player,
		store:    store,
		seen:     seen,
		metrics:  metrics,
		state:    &State{phase: "idle"},
	}
}

// PlayResult is the response payload of a successful play request.
type PlayResult struct {
	Prompt   string              `json:"prompt"`
	Source   core.CurationSource `json:"source"`
	Seed     *core.Track         `json:"seed,omitempty"`
	SeedNext []core.Track        `json:"seed_next,omitempty"`
	Queue    []core.Track        `json:"queue"`
	Count    int                 `json:"count"`
}

// storeSnapshot is one consistent read of the persisted signals feeding a
// pool pass. Read failures degrade to empty maps, never abort.
type storeSnapshot struct {
	votes         map[string]int
	learning      map[string]core.LearningAnnotation
	recentKeys    map[string]struct{}
	likedTexts    []string
	likedArtists  map[string]struct{}
	learnedEnergy core.EnergyLevel
	learnedTempo  core.TempoLevel
}

// Play replaces the session wholesale: bumps the generation token (which
// cancels any in-flight fill), curates a fresh queue and hands it to the
// player.
func (o *Orchestrator) Play(ctx context.Context, prompt string, params PlayParams) (*PlayResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	s := o.state
	s.mu.Lock()
	token := s.bumpGeneration()
	s.prompt = prompt
	s.params = params
	s.generating = true
	s.startedAt = time.Now()
	s.lastError = ""
	s.setPhase("curating")
	s.mu.Unlock()

	o.seen.Reset()

	snap := o.loadSnapshot(ctx)

	var seed *core.Track
	if params.SeedQuery != "" {
		if found, err := o.catalog.Search(ctx, params.SeedQuery); err != nil {
			o.logger.Warn("Seed search failed", zap.String("query", params.SeedQuery), zap.Error(err))
		} else {
			seed = o.pickSeed(found, snap)
		}
	}

	seedText := ""
	if seed != nil {
		seedText = seed.Text()
	}

	profile := vibe.BuildProfile(vibe.ProfileInput{
		Prompt:        prompt,
		SeedText:      seedText,
		Mood:          params.Mood,
		Lang:          params.Lang,
		AvoidTerms:    params.Avoid,
		LikedTexts:    snap.likedTexts,
		LearnedEnergy: snap.learnedEnergy,
		LearnedTempo:  snap.learnedTempo,
	})

	plan := o.plan(ctx, core.CurationRequest{
		Prompt:     prompt,
		Seed:       seedText,
		Mood:       params.Mood,
		Lang:       params.Lang,
		AvoidTerms: profile.AvoidTerms,
		MaxQueries: o.config.LLM.MaxQueries,
		Liked:      snap.likedTexts,
	}, params.CacheTTL)
	profile.AvoidTerms = mergeAvoidTerms(prompt, profile.AvoidTerms, plan.AvoidTerms)

	s.mu.Lock()
	s.source = plan.Source
	s.profile = profile
	s.setPhase("selecting")
	s.mu.Unlock()

	selection := o.curate(ctx, plan.SearchQueries, profile, params, snap, seed, curation.WantsRepeats(prompt))
	if len(selection) == 0 {
		s.mu.Lock()
		if s.generation == token {
			s.generating = false
			s.lastError = ErrNoMatches.Error()
			s.setPhase("idle")
		}
		s.mu.Unlock()
		return nil, ErrNoMatches
	}

	s.mu.Lock()
	s.setPhase("resolving")
	s.mu.Unlock()

	tracks, urls := o.resolveStreams(ctx, selection)

	s.mu.Lock()
	if s.generation != token {
		s.mu.Unlock()
		o.logger.Info("Play request superseded before commit", zap.Uint64("token", token))
		o.metrics.FillDiscarded()
		return nil, ErrSuperseded
	}
	s.queue = tracks
	s.generating = false
	s.setPhase("playing")
	s.mu.Unlock()

	for _, t := range tracks {
		o.seen.Add(t.VideoID)
	}

	if err := o.player.Load(ctx, urls); err != nil {
		s.mu.Lock()
		s.lastError = err.Error()
		s.setPhase("idle")
		s.mu.Unlock()
		return nil, fmt.Errorf("player load failed: %w", err)
	}

	if err := o.store.RecordHistory(ctx, tracks[0], time.Now()); err != nil {
		o.logger.Warn("Failed to record history", zap.Error(err))
	}

	o.metrics.PlayStarted(plan.Source)
	o.metrics.QueueSize(len(tracks))

	result := &PlayResult{
		Prompt: prompt,
		Source: plan.Source,
		Seed:   seed,
		Queue:  tracks,
		Count:  len(tracks),
	}
	result.SeedNext = curation.SeedNext(tracks, seed != nil, o.config.Curation.SeedPreview)
	return result, nil
}

// Run watches playback position, trims consumed queue entries and spawns
// background fills when headroom shrinks. Blocks until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.config.Curation.CheckInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	pos, err := o.player.PlaylistPos(ctx)
	if err != nil || pos < 0 {
		return
	}

	s := o.state
	s.mu.Lock()
	if s.prompt == "" || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}

	consumed := pos
	if consumed > len(s.queue)-1 {
		consumed = len(s.queue) - 1
	}
	var current core.Track
	newlyCurrent := false
	if consumed > 0 {
		s.queue = s.queue[consumed:]
		current = s.queue[0]
		if s.lastActedID == current.VideoID {
			s.lastActedID = ""
		} else {
			newlyCurrent = true
		}
	}

	target := o.target(s.params)
	spawnFill := false
	var token uint64
	if len(s.queue) < target && !s.filling {
		s.filling = true
		token = s.generation
		spawnFill = true
	}
	queueSize := len(s.queue)
	s.mu.Unlock()

	// keep the player playlist aligned by dropping the consumed head
	for i := 0; i < consumed; i++ {
		if err := o.player.RemoveAt(ctx, 0); err != nil {
			o.logger.Warn("Failed to trim player playlist", zap.Error(err))
			break
		}
	}

	if newlyCurrent {
		if err := o.store.RecordHistory(ctx, current, time.Now()); err != nil {
			o.logger.Warn("Failed to record history", zap.Error(err))
		}
	}

	o.metrics.QueueSize(queueSize)

	if spawnFill {
		go o.fillOnce(context.WithoutCancel(ctx), token)
	}
}

// fillOnce extends the queue by exactly one track using the current track
// as a synthetic seed. The result is committed only if the generation
// token still matches; a stale result is discarded silently.
func (o *Orchestrator) fillOnce(ctx context.Context, token uint64) {
	s := o.state

	s.mu.Lock()
	prompt := s.prompt
	params := s.params
	recentAvoid := append([]string(nil), s.recentAvoid...)
	var seedText string
	if len(s.queue) > 0 {
		seedText = s.queue[0].Text()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.filling = false
		s.mu.Unlock()
	}()

	if prompt == "" {
		return
	}

	snap := o.loadSnapshot(ctx)

	avoid := append(append([]string(nil), params.Avoid...), recentAvoid...)
	profile := vibe.BuildProfile(vibe.ProfileInput{
		Prompt:        prompt,
		SeedText:      seedText,
		Mood:          params.Mood,
		Lang:          params.Lang,
		AvoidTerms:    avoid,
		LikedTexts:    snap.likedTexts,
		LearnedEnergy: snap.learnedEnergy,
		LearnedTempo:  snap.learnedTempo,
	})

	plan := o.plan(ctx, core.CurationRequest{
		Prompt:     prompt,
		Seed:       seedText,
		Mood:       params.Mood,
		Lang:       params.Lang,
		AvoidTerms: profile.AvoidTerms,
		MaxQueries: o.config.LLM.MaxQueries,
		Disliked:   recentAvoid,
	}, params.CacheTTL)
	profile.AvoidTerms = mergeAvoidTerms(prompt, profile.AvoidTerms, plan.AvoidTerms)

	builder := curation.NewBuilder(o.catalog, o.rescorer(), &o.config.Curation, o.logger)
	candidates, _ := builder.Build(ctx, plan.SearchQueries, profile, o.strictness(params), curation.Filters{
		Votes:        snap.votes,
		RecentKeys:   snap.recentKeys,
		SessionSeen:  o.seen.Has,
		Learning:     snap.learning,
		LikedArtists: snap.likedArtists,
		AllowRepeats: curation.WantsRepeats(prompt),
	})

	picked := o.selector(params).Select(candidates, nil, 1)
	if len(picked) == 0 {
		o.logger.Debug("Autofill found no eligible track")
		return
	}
	track := picked[0]

	url, err := o.resolver.Resolve(ctx, track.VideoID)
	if err != nil {
		o.logger.Warn("Autofill stream resolution failed, using watch page",
			zap.String("video_id", track.VideoID), zap.Error(err))
		o.metrics.ResolveFailed(1)
		url = track.WatchURL()
	}

	s.mu.Lock()
	if s.generation != token {
		s.mu.Unlock()
		o.metrics.FillDiscarded()
		o.logger.Debug("Stale autofill discarded", zap.Uint64("token", token))
		return
	}
	for _, queued := range s.queue {
		if queued.VideoID == track.VideoID {
			s.mu.Unlock()
			o.metrics.FillDiscarded()
			return
		}
	}
	s.queue = append(s.queue, track)
	queueSize := len(s.queue)
	s.mu.Unlock()

	o.seen.Add(track.VideoID)

	if err := o.player.Append(ctx, url); err != nil {
		o.logger.Warn("Failed to append to player playlist", zap.Error(err))
	}

	o.metrics.FillCommitted()
	o.metrics.QueueSize(queueSize)
	o.logger.Info("Queue extended",
		zap.String("video_id", track.VideoID),
		zap.String("title", track.Title),
		zap.Int("queue_size", queueSize))
}

// plan produces the search-query plan: prompt cache first, then the
// curator, then the deterministic composer.
func (o *Orchestrator) plan(ctx context.Context, req core.CurationRequest, ttl time.Duration) core.CurationResult {
	if ttl <= 0 {
		ttl = o.config.Curation.CacheTTL
	}
	key := cacheKey(req)

	if payload, hit, err := o.store.CacheGet(ctx, key, ttl); err != nil {
		o.logger.Warn("Prompt cache read failed", zap.Error(err))
	} else if hit {
		var cached core.CurationResult
		if err := json.Unmarshal(payload, &cached); err == nil && len(cached.SearchQueries) > 0 {
			cached.Source = core.SourceCache
			return cached
		}
		o.logger.Warn("Discarding unreadable prompt cache payload", zap.String("key", key))
	}

	result, err := o.curator.Curate(ctx, req)
	if err != nil || len(result.SearchQueries) == 0 {
		if err != nil {
			o.logger.Warn("Curator unavailable, composing queries heuristically", zap.Error(err))
		}
		return curation.Compose(req)
	}

	if payload, err := json.Marshal(result); err == nil {
		if err := o.store.CachePut(ctx, key, payload); err != nil {
			o.logger.Warn("Prompt cache write failed", zap.Error(err))
		}
	}
	result.Source = core.SourceLLM
	return result
}

// curate runs the pool and selector for a play request.
func (o *Orchestrator) curate(
	ctx context.Context,
	queries []string,
	profile core.VibeProfile,
	params PlayParams,
	snap storeSnapshot,
	seed *core.Track,
	allowRepeats bool,
) []core.Track {
	started := time.Now()

	seedID := ""
	if seed != nil {
		seedID = seed.VideoID
	}

	builder := curation.NewBuilder(o.catalog, o.rescorer(), &o.config.Curation, o.logger)
	candidates, stats := builder.Build(ctx, queries, profile, o.strictness(params), curation.Filters{
		SeedID:       seedID,
		Votes:        snap.votes,
		RecentKeys:   snap.recentKeys,
		SessionSeen:  o.seen.Has,
		Learning:     snap.learning,
		LikedArtists: snap.likedArtists,
		AllowRepeats: allowRepeats,
	})

	for _, stat := range stats {
		o.logger.Debug("Query pool stats",
			zap.String("query", stat.Query),
			zap.Int("raw", stat.RawCount),
			zap.Int("survivors", stat.Survivors))
	}

	selection := o.selector(params).Select(candidates, seed, o.target(params))
	o.metrics.SelectionDuration(time.Since(started).Seconds())
	return selection
}

// resolveStreams resolves the batch and applies the degradation ladder:
// drop unresolved tracks, but if nothing resolves at all fall back to
// watch-page URLs for the whole selection.
func (o *Orchestrator) resolveStreams(ctx context.Context, selection []core.Track) ([]core.Track, []string) {
	resolved := o.resolver.ResolveAll(ctx, selection)

	failed := 0
	tracks := make([]core.Track, 0, len(selection))
	urls := make([]string, 0, len(selection))
	for i, url := range resolved {
		if url == "" {
			failed++
			continue
		}
		tracks = append(tracks, selection[i])
		urls = append(urls, url)
	}
	if failed > 0 {
		o.metrics.ResolveFailed(failed)
	}

	if len(urls) == 0 {
		o.logger.Warn("No streams resolved, falling back to watch pages",
			zap.Int("tracks", len(selection)))
		tracks = selection
		urls = make([]string, len(selection))
		for i, t := range selection {
			urls[i] = t.WatchURL()
		}
	}

	return tracks, urls
}

func (o *Orchestrator) loadSnapshot(ctx context.Context) storeSnapshot {
	snap := storeSnapshot{
		votes:        map[string]int{},
		learning:     map[string]core.LearningAnnotation{},
		recentKeys:   map[string]struct{}{},
		likedArtists: map[string]struct{}{},
	}

	if votes, err := o.store.Votes(ctx); err != nil {
		o.logger.Warn("Failed to load votes", zap.Error(err))
	} else {
		snap.votes = votes
	}

	if learning, err := o.store.Learning(ctx); err != nil {
		o.logger.Warn("Failed to load learning annotations", zap.Error(err))
	} else {
		snap.learning = learning
	}

	window := o.config.Curation.NoRepeatWindow
	if keys, err := o.store.RecentHistoryKeys(ctx, time.Now().Add(-window)); err != nil {
		o.logger.Warn("Failed to load repeat window", zap.Error(err))
	} else {
		snap.recentKeys = keys
	}

	if liked, err := o.store.RecentlyLiked(ctx, o.config.Curation.RecentLikedLimit); err != nil {
		o.logger.Warn("Failed to load liked tracks", zap.Error(err))
	} else {
		for _, v := range liked {
			snap.likedTexts = append(snap.likedTexts, strings.TrimSpace(v.Title+" "+v.Artist))
			if v.Artist != "" {
				snap.likedArtists[vibe.Normalize(v.Artist)] = struct{}{}
			}
		}
	}

	energy, tempo, err := o.store.LearningDefaults(ctx,
		o.config.Curation.LearningMinScore, o.config.Curation.RecentLikedLimit*5)
	if err != nil {
		o.logger.Warn("Failed to load learning defaults", zap.Error(err))
	} else {
		snap.learnedEnergy = energy
		snap.learnedTempo = tempo
	}

	return snap
}

// pickSeed takes the first seed search result not ruled out by the
// persisted signals. A disliked or learning-buried track is never forced
// into the queue, seed or not.
func (o *Orchestrator) pickSeed(found []core.Track, snap storeSnapshot) *core.Track {
	for i := range found {
		t := found[i]
		if snap.votes[t.VideoID] < 0 {
			o.logger.Info("Skipping disliked seed candidate",
				zap.String("video_id", t.VideoID), zap.String("title", t.Title))
			continue
		}
		if a, ok := snap.learning[t.VideoID]; ok && a.Score != nil &&
			*a.Score < o.config.Curation.LearningSkipThreshold {
			o.logger.Info("Skipping learning-buried seed candidate",
				zap.String("video_id", t.VideoID), zap.Float64("score", *a.Score))
			continue
		}
		return &t
	}
	return nil
}

func (o *Orchestrator) target(params PlayParams) int {
	target := params.Target
	if target <= 0 {
		target = o.config.Curation.QueueTarget
	}
	if target > o.config.Curation.MaxTracks {
		target = o.config.Curation.MaxTracks
	}
	return target
}

func (o *Orchestrator) strictness(params PlayParams) core.Strictness {
	if params.Vibe != "" {
		return core.ParseStrictness(params.Vibe)
	}
	return core.ParseStrictness(o.config.Curation.Strictness)
}

func (o *Orchestrator) selector(params PlayParams) *curation.Selector {
	ratio := params.Mix
	if ratio < 0 {
		ratio = o.config.Curation.ExploreRatio
	}
	return &curation.Selector{
		ExploreRatio: ratio,
		ArtistCap:    o.config.Curation.ArtistCap,
		ArtistWindow: o.config.Curation.ArtistWindow,
	}
}

// rescorer returns the curator for borderline re-scoring, or nil when the
// feature is off.
func (o *Orchestrator) rescorer() core.Curator {
	if !o.config.LLM.RescoreEnabled {
		return nil
	}
	return o.curator
}

// cacheKey builds the prompt-cache key: the prompt plus a canonical JSON
// rendering of the parameters that change the curation outcome.
func cacheKey(req core.CurationRequest) string {
	avoid := append([]string(nil), req.AvoidTerms...)
	sort.Strings(avoid)
	params := struct {
		Seed  string   `json:"seed,omitempty"`
		Mood  string   `json:"mood,omitempty"`
		Lang  string   `json:"lang,omitempty"`
		Avoid []string `json:"avoid,omitempty"`
		Max   int      `json:"max,omitempty"`
	}{req.Seed, req.Mood, req.Lang, avoid, req.MaxQueries}

	payload, _ := json.Marshal(params)
	return req.Prompt + "\n" + string(payload)
}

// mergeAvoidTerms folds curator-suggested avoid terms into the profile's.
// Terms the prompt itself mentions are dropped, same as the profile
// builder does for the default set ("play the live version" must not
// filter out live versions the curator flags).
func mergeAvoidTerms(prompt string, base, extra []string) []string {
	normalizedPrompt := vibe.Normalize(prompt)
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, term := range list {
			term = vibe.Normalize(term)
			if term == "" {
				continue
			}
			if _, dup := seen[term]; dup {
				continue
			}
			if strings.Contains(normalizedPrompt, term) {
				continue
			}
			seen[term] = struct{}{}
			out = append(out, term)
		}
	}
	return out
}
