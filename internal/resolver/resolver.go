// Package resolver turns video IDs into direct audio stream URLs by
// shelling out to yt-dlp.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vibedj/internal/core"
)

// Runner executes the extractor binary and returns its stdout. Injectable
// for tests.
type Runner func(ctx context.Context, binary string, args ...string) (string, error)

type Resolver struct {
	binary  string
	timeout time.Duration
	workers int
	runner  Runner
	logger  *zap.Logger
}

func New(cfg *core.ResolverConfig, logger *zap.Logger) *Resolver {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Resolver{
		binary:  cfg.Binary,
		timeout: timeout,
		workers: workers,
		runner:  execRunner,
		logger:  logger,
	}
}

func execRunner(ctx context.Context, binary string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Resolve returns the best-audio stream URL for a single video ID.
func (r *Resolver) Resolve(ctx context.Context, videoID string) (string, error) {
	if videoID == "" {
		return "", fmt.Errorf("empty video ID")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	watch := core.Track{VideoID: videoID}.WatchURL()
	out, err := r.runner(ctx, r.binary, "-f", "bestaudio", "--get-url", watch)
	if err != nil {
		return "", fmt.Errorf("stream extraction failed for %s: %w", videoID, err)
	}

	// yt-dlp may print one URL per requested format; the first is bestaudio.
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}

	return "", fmt.Errorf("no stream URL in extractor output for %s", videoID)
}

// ResolveAll resolves every track concurrently with a bounded worker pool.
// The result keeps slice positions aligned with the input; a failed slot
// holds the empty string. Individual failures are logged, never fatal.
func (r *Resolver) ResolveAll(ctx context.Context, tracks []core.Track) []string {
	urls := make([]string, len(tracks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, track := range tracks {
		g.Go(func() error {
			url, err := r.Resolve(ctx, track.VideoID)
			if err != nil {
				r.logger.Warn("Stream resolution failed",
					zap.String("video_id", track.VideoID),
					zap.String("title", track.Title),
					zap.Error(err))
				return nil
			}
			urls[i] = url
			return nil
		})
	}

	_ = g.Wait() // workers never return errors

	return urls
}
