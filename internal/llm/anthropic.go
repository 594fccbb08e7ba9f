package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"vibedj/internal/core"
)

type AnthropicClient struct {
	config *core.LLMConfig
	logger *zap.Logger
	client *anthropic.Client
}

const defaultAnthropicModel = "claude-3-5-haiku-latest"

func NewAnthropicClient(config *core.LLMConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	var opts []option.RequestOption
	opts = append(opts, option.WithAPIKey(config.APIKey))

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicClient{
		config: config,
		logger: logger,
		client: &client,
	}, nil
}

func (a *AnthropicClient) Curate(ctx context.Context, req core.CurationRequest) (core.CurationResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return core.CurationResult{}, fmt.Errorf("empty prompt provided")
	}

	a.logger.Debug("Calling Anthropic for curation",
		zap.String("prompt", req.Prompt),
		zap.String("model", string(a.getModel())))

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.getModel(),
		MaxTokens: maxTokensCuration,
		System: []anthropic.TextBlockParam{{
			Text: buildCurationSystemPrompt(),
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildCurationUserPrompt(req))),
		},
		Temperature: anthropic.Float(defaultTemperature),
	})
	if err != nil {
		return core.CurationResult{}, fmt.Errorf("Anthropic API call failed: %w", err)
	}

	if len(message.Content) == 0 {
		return core.CurationResult{}, fmt.Errorf("no response from Anthropic")
	}

	content := message.Content[0].Text

	result, err := parseCurationContent(content, core.SourceLLM)
	if err != nil {
		a.logger.Error("Failed to parse Anthropic response",
			zap.Error(err),
			zap.String("content", content))
		return core.CurationResult{}, err
	}

	a.logger.Info("Anthropic curation completed",
		zap.Int("queries", len(result.SearchQueries)),
		zap.Int("avoid_terms", len(result.AvoidTerms)))

	return result, nil
}

func (a *AnthropicClient) ScoreTrack(ctx context.Context, trackText, profileSummary string) (float64, error) {
	if strings.TrimSpace(trackText) == "" {
		return 0, fmt.Errorf("empty track text provided")
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.getModel(),
		MaxTokens: maxTokensRescore,
		System: []anthropic.TextBlockParam{{
			Text: buildRescoreSystemPrompt(),
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildRescoreUserPrompt(trackText, profileSummary))),
		},
		Temperature: anthropic.Float(0.0),
	})
	if err != nil {
		return 0, fmt.Errorf("Anthropic API call failed: %w", err)
	}

	if len(message.Content) == 0 {
		return 0, fmt.Errorf("no response from Anthropic")
	}

	return parseRescoreContent(message.Content[0].Text)
}

func (a *AnthropicClient) getModel() anthropic.Model {
	if a.config.Model != "" {
		return anthropic.Model(a.config.Model)
	}
	return defaultAnthropicModel
}
