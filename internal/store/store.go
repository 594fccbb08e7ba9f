// Package store persists daemon state in sqlite: the prompt cache, the
// vote ledger, play history and manual learning annotations. It also
// provides the in-process session seen-set.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"vibedj/internal/core"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS prompt_cache (
  prompt TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  last_used_at INTEGER NOT NULL,
  uses INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS votes (
  video_id TEXT PRIMARY KEY,
  title TEXT,
  artist TEXT,
  vote INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  video_id TEXT,
  title TEXT,
  artist TEXT,
  played_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS learning (
  video_id TEXT PRIMARY KEY,
  score REAL,
  energy TEXT,
  tempo TEXT,
  updated_at INTEGER NOT NULL
);
`

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Votes returns the full vote ledger keyed by video ID.
func (s *Store) Votes(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT video_id, vote FROM votes;")
	if err != nil {
		return nil, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var vote int
		if err := rows.Scan(&id, &vote); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		out[id] = vote
	}
	return out, rows.Err()
}

// SetVote records a like (+1) or dislike (-1). Last write wins per track.
func (s *Store) SetVote(ctx context.Context, videoID, title, artist string, vote int) error {
	if vote != 1 && vote != -1 {
		return fmt.Errorf("vote must be +1 or -1, got %d", vote)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO votes(video_id, title, artist, vote, updated_at) VALUES(?,?,?,?,?);",
		videoID, title, artist, vote, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}
	return nil
}

// RecentlyLiked returns the most recently updated +1 votes, newest first.
func (s *Store) RecentlyLiked(ctx context.Context, limit int) ([]core.Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT video_id, title, artist, vote, updated_at FROM votes WHERE vote > 0 ORDER BY updated_at DESC LIMIT ?;",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query liked tracks: %w", err)
	}
	defer rows.Close()

	var out []core.Vote
	for rows.Next() {
		var v core.Vote
		var title, artist sql.NullString
		var updated int64
		if err := rows.Scan(&v.VideoID, &title, &artist, &v.Vote, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan liked track: %w", err)
		}
		v.Title = title.String
		v.Artist = artist.String
		v.UpdatedAt = time.Unix(updated, 0)
		out = append(out, v)
	}
	return out, rows.Err()
}

// RecordHistory appends a history row for a track that became current.
func (s *Store) RecordHistory(ctx context.Context, track core.Track, playedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO history(video_id, title, artist, played_at) VALUES(?,?,?,?);",
		track.VideoID, track.Title, track.Artist, playedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// RecentHistoryKeys returns the set of video IDs played since the cutoff.
// This is the persisted no-repeat window.
func (s *Store) RecentHistoryKeys(ctx context.Context, since time.Time) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT video_id FROM history WHERE played_at >= ?;", since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query history window: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id sql.NullString
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan history key: %w", err)
		}
		if id.Valid && id.String != "" {
			out[id.String] = struct{}{}
		}
	}
	return out, rows.Err()
}

// RecentHistory returns the newest history entries, newest first.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]core.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT video_id, title, artist, played_at FROM history ORDER BY played_at DESC, id DESC LIMIT ?;",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []core.HistoryEntry
	for rows.Next() {
		var e core.HistoryEntry
		var id, title, artist sql.NullString
		var played int64
		if err := rows.Scan(&id, &title, &artist, &played); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.VideoID = id.String
		e.Title = title.String
		e.Artist = artist.String
		e.PlayedAt = time.Unix(played, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Learning returns all learning annotations keyed by video ID.
func (s *Store) Learning(ctx context.Context) (map[string]core.LearningAnnotation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT video_id, score, energy, tempo, updated_at FROM learning;")
	if err != nil {
		return nil, fmt.Errorf("failed to query learning annotations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]core.LearningAnnotation)
	for rows.Next() {
		a, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		out[a.VideoID] = a
	}
	return out, rows.Err()
}

// RecentLearning returns the newest annotations, newest first.
func (s *Store) RecentLearning(ctx context.Context, limit int) ([]core.LearningAnnotation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT video_id, score, energy, tempo, updated_at FROM learning ORDER BY updated_at DESC LIMIT ?;",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query learning annotations: %w", err)
	}
	defer rows.Close()

	var out []core.LearningAnnotation
	for rows.Next() {
		a, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanLearning(rows *sql.Rows) (core.LearningAnnotation, error) {
	var a core.LearningAnnotation
	var score sql.NullFloat64
	var energy, tempo sql.NullString
	var updated int64
	if err := rows.Scan(&a.VideoID, &score, &energy, &tempo, &updated); err != nil {
		return a, fmt.Errorf("failed to scan learning annotation: %w", err)
	}
	if score.Valid {
		v := score.Float64
		a.Score = &v
	}
	a.Energy = core.ParseEnergy(energy.String)
	a.Tempo = core.ParseTempo(tempo.String)
	a.UpdatedAt = time.Unix(updated, 0)
	return a, nil
}

// UpsertLearning inserts or replaces an annotation for a track.
func (s *Store) UpsertLearning(ctx context.Context, a core.LearningAnnotation) error {
	var score sql.NullFloat64
	if a.Score != nil {
		score = sql.NullFloat64{Float64: *a.Score, Valid: true}
	}
	var energy, tempo sql.NullString
	if a.Energy != core.EnergyNone {
		energy = sql.NullString{String: a.Energy.String(), Valid: true}
	}
	if a.Tempo != core.TempoNone {
		tempo = sql.NullString{String: a.Tempo.String(), Valid: true}
	}
	updated := a.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO learning(video_id, score, energy, tempo, updated_at) VALUES(?,?,?,?,?);",
		a.VideoID, score, energy, tempo, updated.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert learning annotation: %w", err)
	}
	return nil
}

// LearningDefaults aggregates the mode of energy/tempo labels over the most
// recent high-scoring annotations. These feed the profile builder when the
// prompt carries no energy or tempo signal.
func (s *Store) LearningDefaults(ctx context.Context, minScore float64, limit int) (core.EnergyLevel, core.TempoLevel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT energy, tempo FROM learning
		 WHERE score IS NOT NULL AND score >= ?
		 ORDER BY updated_at DESC LIMIT ?;`,
		minScore, limit)
	if err != nil {
		return core.EnergyNone, core.TempoNone, fmt.Errorf("failed to query learning defaults: %w", err)
	}
	defer rows.Close()

	energyCounts := make(map[core.EnergyLevel]int)
	tempoCounts := make(map[core.TempoLevel]int)
	for rows.Next() {
		var energy, tempo sql.NullString
		if err := rows.Scan(&energy, &tempo); err != nil {
			return core.EnergyNone, core.TempoNone, fmt.Errorf("failed to scan learning default: %w", err)
		}
		if e := core.ParseEnergy(energy.String); e != core.EnergyNone {
			energyCounts[e]++
		}
		if t := core.ParseTempo(tempo.String); t != core.TempoNone {
			tempoCounts[t]++
		}
	}
	if err := rows.Err(); err != nil {
		return core.EnergyNone, core.TempoNone, err
	}

	return modeEnergy(energyCounts), modeTempo(tempoCounts), nil
}

func modeEnergy(counts map[core.EnergyLevel]int) core.EnergyLevel {
	best, bestCount := core.EnergyNone, 0
	for _, level := range []core.EnergyLevel{core.EnergyLow, core.EnergyMed, core.EnergyHigh} {
		if counts[level] > bestCount {
			best, bestCount = level, counts[level]
		}
	}
	return best
}

func modeTempo(counts map[core.TempoLevel]int) core.TempoLevel {
	best, bestCount := core.TempoNone, 0
	for _, level := range []core.TempoLevel{core.TempoSlow, core.TempoMedium, core.TempoFast} {
		if counts[level] > bestCount {
			best, bestCount = level, counts[level]
		}
	}
	return best
}

// CacheGet reads a cached curation payload. TTL is enforced at read time;
// expired rows stay in place and are simply skipped. A hit bumps
// last_used_at and the use counter.
func (s *Store) CacheGet(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	var payload string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, created_at FROM prompt_cache WHERE prompt=?;", key).
		Scan(&payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read prompt cache: %w", err)
	}

	if time.Since(time.Unix(createdAt, 0)) > ttl {
		return nil, false, nil
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE prompt_cache SET last_used_at=?, uses=uses+1 WHERE prompt=?;",
		time.Now().Unix(), key); err != nil {
		s.logger.Warn("Failed to bump prompt cache usage", zap.Error(err))
	}

	return []byte(payload), true, nil
}

// CachePut writes a curation payload under the key. The use counter is
// carried over with a read-then-add; concurrent writers may lose an
// increment, which is acceptable for an advisory value.
func (s *Store) CachePut(ctx context.Context, key string, payload []byte) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO prompt_cache(prompt, payload, created_at, last_used_at, uses)
		 VALUES(?,?,?,?,COALESCE((SELECT uses FROM prompt_cache WHERE prompt=?),0)+1);`,
		key, string(payload), now, now, key)
	if err != nil {
		return fmt.Errorf("failed to write prompt cache: %w", err)
	}
	return nil
}
