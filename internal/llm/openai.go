package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"google.golang.org/genai"

	"github.com/sevigo/review-pipeline/internal/core"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultDeepSeekModel = "deepseek-chat"
	defaultDeepSeekURL   = "https://api.deepseek.com/v1"
)

// openAIBackend talks to any OpenAI-compatible Chat Completions endpoint.
type openAIBackend struct {
	client    openai.Client
	maxTokens int
}

func newOpenAI(_ context.Context, cfg core.ProviderConfig, opts Options, _ *slog.Logger) (completer, string, error) {
	return buildOpenAICompatible(cfg, opts, defaultOpenAIModel, "")
}

func newDeepSeek(_ context.Context, cfg core.ProviderConfig, opts Options, _ *slog.Logger) (completer, string, error) {
	return buildOpenAICompatible(cfg, opts, defaultDeepSeekModel, defaultDeepSeekURL)
}

func buildOpenAICompatible(cfg core.ProviderConfig, opts Options, defaultModel, defaultURL string) (completer, string, error) {
	if cfg.APIKey == "" {
		return nil, "", fmt.Errorf("%s API key is not set", cfg.Kind)
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultURL
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(opts.HTTPClient),
		// Retries are owned by the job scheduler.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}

	return &openAIBackend{
		client:    openai.NewClient(reqOpts...),
		maxTokens: opts.MaxOutputTokens,
	}, model, nil
}

func (o *openAIBackend) complete(ctx context.Context, model, system, user string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0.2),
	}
	if o.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	for _, choice := range resp.Choices {
		if choice.FinishReason == "content_filter" {
			return "", core.Permanent(core.ErrPermanentProvider, nil, "completion blocked by content filter")
		}
		if choice.Message.Content != "" {
			return choice.Message.Content, nil
		}
	}
	return "", nil
}

// sdkStatus extracts the HTTP status from SDK error types.
func sdkStatus(err error) (int, bool) {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode, true
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code, true
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) {
		return gErrPtr.Code, true
	}
	return 0, false
}
