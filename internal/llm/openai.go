package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"vibedj/internal/core"
)

type OpenAIClient struct {
	config *core.LLMConfig
	logger *zap.Logger
	client *openai.Client
}

const defaultOpenAIModel = "gpt-4o-mini"

func NewOpenAIClient(config *core.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	var opts []option.RequestOption
	opts = append(opts, option.WithAPIKey(config.APIKey))

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := openai.NewClient(opts...)

	return &OpenAIClient{
		config: config,
		logger: logger,
		client: &client,
	}, nil
}

func (o *OpenAIClient) Curate(ctx context.Context, req core.CurationRequest) (core.CurationResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return core.CurationResult{}, fmt.Errorf("empty prompt provided")
	}

	o.logger.Debug("Calling OpenAI for curation",
		zap.String("prompt", req.Prompt),
		zap.String("model", o.config.Model))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(buildCurationSystemPrompt()),
			openai.UserMessage(buildCurationUserPrompt(req)),
		},
		Model:       o.getModel(),
		Temperature: openai.Float(defaultTemperature),
		MaxTokens:   openai.Int(maxTokensCuration),
	})
	if err != nil {
		o.logger.Error("OpenAI API call failed", zap.Error(err))
		return core.CurationResult{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return core.CurationResult{}, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content
	o.logger.Debug("OpenAI response received", zap.String("content", content))

	result, err := parseCurationContent(content, core.SourceLLM)
	if err != nil {
		o.logger.Error("Failed to parse OpenAI response",
			zap.Error(err),
			zap.String("content", content))
		return core.CurationResult{}, err
	}

	o.logger.Info("OpenAI curation completed",
		zap.Int("queries", len(result.SearchQueries)),
		zap.Int("avoid_terms", len(result.AvoidTerms)))

	return result, nil
}

func (o *OpenAIClient) ScoreTrack(ctx context.Context, trackText, profileSummary string) (float64, error) {
	if strings.TrimSpace(trackText) == "" {
		return 0, fmt.Errorf("empty track text provided")
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(buildRescoreSystemPrompt()),
			openai.UserMessage(buildRescoreUserPrompt(trackText, profileSummary)),
		},
		Model:       o.getModel(),
		Temperature: openai.Float(0.0),
		MaxTokens:   openai.Int(maxTokensRescore),
	})
	if err != nil {
		o.logger.Error("OpenAI API call failed", zap.Error(err))
		return 0, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("no response from OpenAI")
	}

	return parseRescoreContent(resp.Choices[0].Message.Content)
}

func (o *OpenAIClient) getModel() shared.ChatModel {
	if o.config.Model != "" {
		return o.config.Model
	}
	return defaultOpenAIModel
}
