// Package llm adapts chat-completion providers to the curation contract:
// prompt in, search-query plan out, plus a borderline rescore call.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vibedj/internal/core"
)

// Provider wraps a concrete client and applies provider-independent
// post-processing (query cap, avoid-term cap).
type Provider struct {
	config *core.LLMConfig
	logger *zap.Logger
	client core.Curator
}

func NewProvider(config *core.LLMConfig, logger *zap.Logger) (*Provider, error) {
	var client core.Curator
	var err error

	switch config.Provider {
	case "openai":
		client, err = NewOpenAIClient(config, logger)
	case "anthropic":
		client, err = NewAnthropicClient(config, logger)
	case "none", "":
		return &Provider{
			config: config,
			logger: logger,
			client: &NoOpClient{},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", config.Provider, err)
	}

	return &Provider{
		config: config,
		logger: logger,
		client: client,
	}, nil
}

func (p *Provider) Curate(ctx context.Context, req core.CurationRequest) (core.CurationResult, error) {
	result, err := p.client.Curate(ctx, req)
	if err != nil {
		return core.CurationResult{}, err
	}

	if req.MaxQueries > 0 && len(result.SearchQueries) > req.MaxQueries {
		result.SearchQueries = result.SearchQueries[:req.MaxQueries]
	}
	if len(result.AvoidTerms) > maxAvoidTerms {
		result.AvoidTerms = result.AvoidTerms[:maxAvoidTerms]
	}

	return result, nil
}

func (p *Provider) ScoreTrack(ctx context.Context, trackText, profileSummary string) (float64, error) {
	return p.client.ScoreTrack(ctx, trackText, profileSummary)
}

// NoOpClient is used when no provider is configured; callers fall back to
// the deterministic query composer.
type NoOpClient struct{}

func (n *NoOpClient) Curate(ctx context.Context, req core.CurationRequest) (core.CurationResult, error) {
	return core.CurationResult{}, fmt.Errorf("LLM provider not configured")
}

func (n *NoOpClient) ScoreTrack(ctx context.Context, trackText, profileSummary string) (float64, error) {
	return 0, fmt.Errorf("LLM provider not configured")
}
