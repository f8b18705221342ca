package llm

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sevigo/goframe/llms"
	"github.com/sevigo/goframe/llms/ollama"

	"github.com/sevigo/review-pipeline/internal/core"
)

const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultOllamaModel = "qwen2.5-coder:7b"
)

// ollamaBackend runs prompts against a local Ollama server through goframe.
// goframe binds the model at construction, so one client is kept per model.
type ollamaBackend struct {
	host   string
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	models map[string]llms.Model
}

func newOllama(_ context.Context, cfg core.ProviderConfig, opts Options, logger *slog.Logger) (completer, string, error) {
	host := cfg.BaseURL
	if host == "" {
		host = defaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	b := &ollamaBackend{
		host:   host,
		client: opts.HTTPClient,
		logger: logger,
		models: make(map[string]llms.Model),
	}
	if _, err := b.getOrCreateLLM(model); err != nil {
		return nil, "", err
	}
	return b, model, nil
}

func (o *ollamaBackend) getOrCreateLLM(modelName string) (llms.Model, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.models[modelName]; ok {
		return m, nil
	}
	m, err := ollama.New(
		ollama.WithServerURL(o.host),
		ollama.WithModel(modelName),
		ollama.WithHTTPClient(o.client),
		ollama.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}
	o.models[modelName] = m
	return m, nil
}

func (o *ollamaBackend) complete(ctx context.Context, model, system, user string) (string, error) {
	m, err := o.getOrCreateLLM(model)
	if err != nil {
		return "", core.Permanent(core.ErrPermanentProvider, err, "creating ollama client")
	}

	type result struct {
		resp string
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := m.Call(ctx, system+"\n\n"+user)
		resultCh <- result{resp, err}
	}()

	select {
	case res := <-resultCh:
		return res.resp, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	// Per-call deadlines come from the caller's context.
	return &http.Client{
		Transport: transport,
		Timeout:   10 * time.Minute,
	}
}
