package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-qa/internal/config"
	"pdf-qa/internal/helper"
	"pdf-qa/internal/models"
)

var thinkTagRe = regexp.MustCompile(models.ThinkTag)

// NewModel builds the chat model selected by the LLM config.
func NewModel(ctx context.Context, llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().
		Str("provider", llmConfig.Provider).
		Str("model", llmConfig.Model).
		Str("base_url", llmConfig.BaseURL).
		Msg("Creating LLM client")

	switch llmConfig.Provider {
	case config.ProviderGoogle:
		opts := []googleai.Option{
			googleai.WithDefaultModel(llmConfig.Model),
		}
		if llmConfig.Key != "" {
			opts = append(opts, googleai.WithAPIKey(llmConfig.Key))
		}
		return googleai.New(ctx, opts...)
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(llmConfig.Model),
		}
		if llmConfig.Key != "" {
			opts = append(opts, openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")))
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		return openai.New(opts...)
	case config.ProviderOllama:
		opts := []ollama.Option{
			ollama.WithModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider %q", models.ErrConfig, llmConfig.Provider)
	}
}

// Client wraps a chat model with per-call timeouts and retries.
type Client struct {
	model       llms.Model
	temperature float64
	policy      helper.CallPolicy
}

var _ llms.Model = (*Client)(nil)

func NewClient(model llms.Model, cfg *config.Config) *Client {
	return &Client{
		model:       model,
		temperature: cfg.LLM.Temperature,
		policy: helper.CallPolicy{
			Name:      "llm",
			Timeout:   cfg.Timeouts.LLM,
			Retries:   cfg.Retries.Max,
			BaseDelay: cfg.Retries.BaseDelay,
		},
	}
}

// WithTimeout returns a copy of the client using a different per-call timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	clone := *c
	clone.policy.Timeout = timeout
	return &clone
}

// GenerateContent sends messages to the model, retrying failed calls.
func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var res *llms.ContentResponse
	err := helper.Call(ctx, c.policy, func(ctx context.Context) error {
		var err error
		res, err = c.model.GenerateContent(ctx, messages, options...)
		if err != nil {
			return err
		}
		if res == nil || len(res.Choices) == 0 {
			return errors.New("empty response from model")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	return res, nil
}

// Call implements llms.Model so the client can drive langchaingo chains.
func (c *Client) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c, prompt, options...)
}

// Complete sends a single prompt and returns the response text without
// reasoning blocks.
func (c *Client) Complete(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	msgContent := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}
	opts := append([]llms.CallOption{llms.WithTemperature(c.temperature)}, options...)

	res, err := c.GenerateContent(ctx, msgContent, opts...)
	if err != nil {
		return "", err
	}
	return StripThinking(res.Choices[0].Content), nil
}

// StripThinking removes <think> blocks emitted by reasoning models.
func StripThinking(text string) string {
	return strings.TrimSpace(thinkTagRe.ReplaceAllString(text, ""))
}
