// Package http is the daemon's front door: play and player controls,
// votes, learning, inspection and metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vibedj/internal/core"
	"vibedj/internal/session"
)

// Archive is the read surface the inspection and learning endpoints use,
// implemented by the sqlite store.
type Archive interface {
	ListTables() []string
	TableRows(ctx context.Context, table string, limit, offset int) ([]map[string]any, error)
	RecentLearning(ctx context.Context, limit int) ([]core.LearningAnnotation, error)
	RecentHistory(ctx context.Context, limit int) ([]core.HistoryEntry, error)
}

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	orch    *session.Orchestrator
	archive Archive
	metrics *Metrics

	httpServer *http.Server
}

func NewServer(config *core.ServerConfig, logger *zap.Logger, orch *session.Orchestrator, archive Archive, metrics *Metrics) *Server {
	s := &Server{
		config:  config,
		logger:  logger,
		orch:    orch,
		archive: archive,
		metrics: metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/play", s.handlePlay)
	mux.HandleFunc("/pause", s.handlePause)
	mux.HandleFunc("/next", s.handleNext)
	mux.HandleFunc("/prev", s.handlePrev)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/seek", s.handleSeek)
	mux.HandleFunc("/remove", s.handleRemove)
	mux.HandleFunc("/api/vote", s.handleVote)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/history/recent", s.handleHistory)
	mux.HandleFunc("GET /api/db/tables", s.handleTables)
	mux.HandleFunc("GET /api/db/table/{name}/rows", s.handleTableRows)
	mux.HandleFunc("POST /api/learning/rate", s.handleLearningRate)
	mux.HandleFunc("GET /api/learning/recent", s.handleLearningRecent)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeOK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := session.PlayParams{
		Mood:      q.Get("mood"),
		Lang:      q.Get("lang"),
		SeedQuery: q.Get("seed"),
		Mix:       -1,
	}
	if mix := q.Get("mix"); mix != "" {
		v, err := strconv.ParseFloat(mix, 64)
		if err != nil || v < 0 || v > 1 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("mix must be a number in [0,1]"))
			return
		}
		params.Mix = v
	}
	params.Vibe = q.Get("vibe")
	if n := q.Get("n"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil || v < 1 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("n must be a positive integer"))
			return
		}
		params.Target = v
	}
	if ttl := q.Get("ttl"); ttl != "" {
		v, err := time.ParseDuration(ttl)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("ttl must be a duration"))
			return
		}
		params.CacheTTL = v
	}
	if avoid := q.Get("avoid"); avoid != "" {
		for _, term := range strings.Split(avoid, ",") {
			if term = strings.TrimSpace(term); term != "" {
				params.Avoid = append(params.Avoid, term)
			}
		}
	}

	result, err := s.orch.Play(r.Context(), q.Get("prompt"), params)
	switch {
	case errors.Is(err, session.ErrEmptyPrompt):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, session.ErrNoMatches):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, session.ErrSuperseded):
		s.writeError(w, http.StatusConflict, err)
	case err != nil:
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.writeOK(w, map[string]any{
			"prompt":    result.Prompt,
			"source":    result.Source,
			"seed":      result.Seed,
			"seed_next": result.SeedNext,
			"queue":     result.Queue,
			"count":     result.Count,
		})
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.orch.TogglePause)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.orch.Next)
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.orch.Previous)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.orch.Stop)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, action func(context.Context) error) {
	if err := action(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to, by := q.Get("to"), q.Get("by")

	var seconds float64
	var relative bool
	var err error
	switch {
	case to != "":
		seconds, err = strconv.ParseFloat(to, 64)
	case by != "":
		seconds, err = strconv.ParseFloat(by, 64)
		relative = true
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("seek requires to= or by= seconds"))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("seek position must be a number"))
		return
	}

	if err := s.orch.Seek(r.Context(), seconds, relative); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("index must be an integer"))
		return
	}
	if err := s.orch.RemoveTrack(r.Context(), index); err != nil {
		if errors.Is(err, session.ErrBadIndex) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var vote int
	switch r.URL.Query().Get("value") {
	case "like", "up", "1", "+1":
		vote = 1
	case "dislike", "down", "-1":
		vote = -1
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("value must be like or dislike"))
		return
	}

	track, err := s.orch.Vote(r.Context(), vote)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeOK(w, map[string]any{
		"videoId": track.VideoID,
		"title":   track.Title,
		"artist":  track.Artist,
		"vote":    vote,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, map[string]any{"service": "vibedj"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.orch.Status()

	body := map[string]any{"status": status}
	if playback, err := s.orch.Playback(r.Context()); err == nil {
		body["playback"] = playback
	}
	s.writeOK(w, body)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.archive.RecentHistory(r.Context(), parseLimit(r, 20))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeOK(w, map[string]any{"history": entries})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, map[string]any{"tables": s.archive.ListTables()})
}

func (s *Server) handleTableRows(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	rows, err := s.archive.TableRows(r.Context(), name, parseLimit(r, 20), offset)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeOK(w, map[string]any{"table": name, "rows": rows})
}

type rateRequest struct {
	VideoID string   `json:"video_id"`
	Score   *float64 `json:"score,omitempty"`
	Energy  string   `json:"energy,omitempty"`
	Tempo   string   `json:"tempo,omitempty"`
}

func (s *Server) handleLearningRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}

	err := s.orch.RateTrack(r.Context(), core.LearningAnnotation{
		VideoID: req.VideoID,
		Score:   req.Score,
		Energy:  core.ParseEnergy(req.Energy),
		Tempo:   core.ParseTempo(req.Tempo),
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleLearningRecent(w http.ResponseWriter, r *http.Request) {
	annotations, err := s.archive.RecentLearning(r.Context(), parseLimit(r, 20))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeOK(w, map[string]any{"learning": annotations})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
