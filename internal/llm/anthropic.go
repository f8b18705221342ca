package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sevigo/review-pipeline/internal/core"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com"
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	anthropicAPIVersion   = "2023-06-01"
)

// anthropicBackend implements the Messages API directly.
type anthropicBackend struct {
	apiKey    string
	url       string
	maxTokens int
	client    *http.Client
}

func newAnthropic(_ context.Context, cfg core.ProviderConfig, opts Options, _ *slog.Logger) (completer, string, error) {
	if cfg.APIKey == "" {
		return nil, "", fmt.Errorf("anthropic API key is not set")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultAnthropicURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := opts.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &anthropicBackend{
		apiKey:    cfg.APIKey,
		url:       strings.TrimRight(base, "/") + "/v1/messages",
		maxTokens: maxTokens,
		client:    opts.HTTPClient,
	}, model, nil
}

func (a *anthropicBackend) complete(ctx context.Context, model, system, user string) (string, error) {
	body := anthropicRequest{
		Model:     model,
		MaxTokens: a.maxTokens,
		System:    system,
		Messages: []anthropicMessage{
			{Role: "user", Content: user},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", core.Transient(err, "reading anthropic response")
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", core.Transient(err, "parsing anthropic response")
	}
	if result.StopReason == "refusal" {
		return "", core.Permanent(core.ErrPermanentProvider, nil, "model refused the request")
	}

	var content strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
