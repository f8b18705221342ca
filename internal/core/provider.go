package core

// ProviderKind discriminates AI backends.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderDeepSeek  ProviderKind = "deepseek"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderGemini    ProviderKind = "gemini"
	ProviderOllama    ProviderKind = "ollama"
)

// ProviderConfig selects and configures the AI backend for a job. It is
// fixed when the job is admitted.
type ProviderConfig struct {
	Kind    ProviderKind `json:"kind"`
	APIKey  string       `json:"-"`
	Model   string       `json:"model,omitempty"`
	BaseURL string       `json:"base_url,omitempty"`
}

// CacheKey identifies configurations that can share one backend instance.
func (p ProviderConfig) CacheKey() string {
	return string(p.Kind) + "|" + p.Model + "|" + p.BaseURL
}
