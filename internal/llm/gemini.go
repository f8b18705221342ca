package llm

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/sevigo/review-pipeline/internal/core"
)

const defaultGeminiModel = "gemini-2.5-flash"

// geminiBackend uses the Google GenAI SDK.
type geminiBackend struct {
	client    *genai.Client
	maxTokens int32
}

func newGemini(ctx context.Context, cfg core.ProviderConfig, opts Options, _ *slog.Logger) (completer, string, error) {
	if cfg.APIKey == "" {
		return nil, "", fmt.Errorf("GEMINI_API_KEY is not set")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, "", fmt.Errorf("creating gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	maxTokens := opts.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &geminiBackend{client: c, maxTokens: int32(maxTokens)}, model, nil
}

func (g *geminiBackend) complete(ctx context.Context, model, system, user string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   g.maxTokens,
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		return "", err
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", core.Permanent(core.ErrPermanentProvider, nil,
			fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	return resp.Text(), nil
}
