// Package llm adapts AI model backends to a single review operation.
//
// Each backend only knows how to turn a system and user prompt into raw
// text. Prompt rendering, output parsing and error classification are
// shared, so every provider returns the same normalized result and the
// same error classes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sevigo/review-pipeline/internal/core"
	"github.com/sevigo/review-pipeline/internal/metrics"
)

// ReviewRequest is the input of a single review call.
type ReviewRequest struct {
	Target    core.Target
	Diff      string
	Files     map[string]string
	Rules     string
	Model     string
	Truncated bool
}

// Provider produces a review for a diff.
type Provider interface {
	Name() string
	Review(ctx context.Context, req ReviewRequest) (*core.AIReviewResult, error)
}

// completer is the part a backend has to implement.
type completer interface {
	complete(ctx context.Context, model, system, user string) (string, error)
}

// Options are shared by all backends built by a Registry.
type Options struct {
	MaxOutputTokens int
	HTTPClient      *http.Client
}

// Factory builds a backend for one provider configuration.
type Factory func(ctx context.Context, cfg core.ProviderConfig, opts Options, logger *slog.Logger) (completer, string, error)

// Registry maps provider kinds to factories and caches one backend per
// distinct configuration.
type Registry struct {
	mu        sync.Mutex
	factories map[core.ProviderKind]Factory
	cache     map[string]Provider
	prompts   *PromptManager
	opts      Options
	logger    *slog.Logger
}

// NewRegistry returns a registry with every built-in backend registered.
func NewRegistry(prompts *PromptManager, opts Options, logger *slog.Logger) *Registry {
	if opts.HTTPClient == nil {
		opts.HTTPClient = newHTTPClient()
	}
	r := &Registry{
		factories: make(map[core.ProviderKind]Factory),
		cache:     make(map[string]Provider),
		prompts:   prompts,
		opts:      opts,
		logger:    logger,
	}
	r.Register(core.ProviderOpenAI, newOpenAI)
	r.Register(core.ProviderDeepSeek, newDeepSeek)
	r.Register(core.ProviderAnthropic, newAnthropic)
	r.Register(core.ProviderGemini, newGemini)
	r.Register(core.ProviderOllama, newOllama)
	return r
}

// Register installs or replaces the factory for kind.
func (r *Registry) Register(kind core.ProviderKind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
	for key := range r.cache {
		if strings.HasPrefix(key, string(kind)+"|") {
			delete(r.cache, key)
		}
	}
}

// Resolve returns the provider for cfg, building it on first use.
func (r *Registry) Resolve(ctx context.Context, cfg core.ProviderConfig) (Provider, error) {
	key := cfg.CacheKey() + "|" + cfg.APIKey
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[key]; ok {
		return p, nil
	}
	factory, ok := r.factories[cfg.Kind]
	if !ok {
		return nil, core.Permanent(core.ErrPermanentProvider, nil, fmt.Sprintf("unsupported provider %q", cfg.Kind))
	}
	backend, model, err := factory(ctx, cfg, r.opts, r.logger)
	if err != nil {
		return nil, core.Permanent(core.ErrPermanentProvider, err, fmt.Sprintf("configuring %s provider", cfg.Kind))
	}
	p := &reviewer{
		name:    string(cfg.Kind),
		model:   model,
		backend: backend,
		prompts: r.prompts,
		logger:  r.logger.With("provider", cfg.Kind),
	}
	r.cache[key] = p
	return p, nil
}

// reviewer turns a completer into a Provider.
type reviewer struct {
	name    string
	model   string
	backend completer
	prompts *PromptManager
	logger  *slog.Logger
}

func (r *reviewer) Name() string { return r.name }

func (r *reviewer) Review(ctx context.Context, req ReviewRequest) (*core.AIReviewResult, error) {
	model := r.model
	if req.Model != "" {
		model = req.Model
	}

	data := newPromptData(req)
	system, err := r.prompts.Render(ReviewSystemPrompt, ModelProvider(r.name), data)
	if err != nil {
		return nil, fmt.Errorf("rendering system prompt: %w", err)
	}
	user, err := r.prompts.Render(CodeReviewPrompt, ModelProvider(r.name), data)
	if err != nil {
		return nil, fmt.Errorf("rendering review prompt: %w", err)
	}

	start := time.Now()
	raw, err := r.backend.complete(ctx, model, system, user)
	metrics.ObserveProviderCall(r.name, model, time.Since(start), err == nil)
	if err != nil {
		return nil, classifyCallError(err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, core.Transient(errors.New("empty completion"), r.name+" returned no content")
	}

	result, warnings := ParseReview(raw)
	if len(warnings) > 0 {
		metrics.ObserveDroppedComments(r.name, len(warnings))
		for _, w := range warnings {
			r.logger.Warn("dropped review comment", "target", req.Target.String(), "reason", w)
		}
	}
	return result, nil
}

// StatusError is returned by backends that talk HTTP directly.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// classifyStatus maps an HTTP status to a classified error.
func classifyStatus(code int, err error) *core.Error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return core.Transient(err, fmt.Sprintf("provider returned %d", code))
	case code >= 400:
		return core.Permanent(core.ErrPermanentProvider, err, fmt.Sprintf("provider returned %d", code))
	default:
		return core.Transient(err, fmt.Sprintf("unexpected provider status %d", code))
	}
}

// classifyCallError classifies an error returned by a backend. Backends may
// return an already classified error.
func classifyCallError(err error) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.StatusCode, err)
	}
	if code, ok := sdkStatus(err); ok {
		return classifyStatus(code, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return core.Transient(err, "provider call did not complete")
	}
	if errors.Is(err, context.Canceled) {
		return core.Transient(err, "provider call cancelled")
	}
	if isContentPolicy(err) {
		return core.Permanent(core.ErrPermanentProvider, err, "content policy violation")
	}
	return core.Transient(err, "provider call failed")
}

func isContentPolicy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "content_policy") || strings.Contains(msg, "content policy") ||
		strings.Contains(msg, "safety")
}
