// Package catalog searches the local music-catalog bridge over HTTP and
// normalizes its loosely shaped search results into tracks.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"vibedj/internal/core"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	limit      int
}

// NewClient creates a catalog client against the bridge at cfg.BaseURL.
// limit caps the number of tracks returned per query.
func NewClient(cfg *core.CatalogConfig, limit int, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		limit:      limit,
	}
}

// Search runs a songs-filtered search first; when that yields nothing it
// retries unfiltered, since good matches for niche queries often come back
// typed as videos.
func (c *Client) Search(ctx context.Context, query string) ([]core.Track, error) {
	tracks, err := c.search(ctx, query, "songs")
	if err != nil {
		return nil, err
	}
	if len(tracks) > 0 {
		return tracks, nil
	}

	c.logger.Debug("Songs-filtered search empty, retrying unfiltered",
		zap.String("query", query))
	return c.search(ctx, query, "")
}

func (c *Client) search(ctx context.Context, query, filter string) ([]core.Track, error) {
	values := url.Values{"q": {query}}
	if filter != "" {
		values.Set("filter", filter)
	}
	endpoint := c.baseURL + "/api/search?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog search returned %d: %s", resp.StatusCode, body)
	}

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	tracks := make([]core.Track, 0, len(items))
	for _, item := range items {
		track, ok := parseItem(item)
		if !ok {
			continue
		}
		tracks = append(tracks, track)
		if c.limit > 0 && len(tracks) >= c.limit {
			break
		}
	}

	c.logger.Debug("Catalog search completed",
		zap.String("query", query),
		zap.String("filter", filter),
		zap.Int("raw_items", len(items)),
		zap.Int("tracks", len(tracks)))

	return tracks, nil
}
