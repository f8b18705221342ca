package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sevigo/review-pipeline/internal/core"
	"github.com/sevigo/review-pipeline/internal/logger"
)

// Config holds the application's configuration values.
type Config struct {
	Server   ServerConfig
	Logging  logger.Config
	Database DBConfig
	Redis    RedisConfig
	GitHub   GitHubConfig
	AI       AIConfig
	Queue    QueueConfig
	Pipeline PipelineConfig
	Quota    QuotaConfig
}

type ServerConfig struct {
	Port string
}

// DBConfig configures the Postgres job store.
type DBConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// GitHubConfig holds credentials used when a job carries no caller token.
type GitHubConfig struct {
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	BaseURL        string
}

// AIConfig selects the default provider and holds per-provider credentials.
type AIConfig struct {
	Provider         string
	Model            string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	DeepSeekAPIKey   string
	DeepSeekBaseURL  string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	GeminiAPIKey     string
	OllamaHost       string
	MaxOutputTokens  int
}

// QueueConfig controls the scheduler.
type QueueConfig struct {
	Backend      string // "memory" or "postgres"
	Workers      int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration
	LeaseTTL     time.Duration
}

// PipelineConfig controls a single review attempt.
type PipelineConfig struct {
	FetchTimeout    time.Duration
	ReviewTimeout   time.Duration
	DeliverTimeout  time.Duration
	MaxDiffBytes    int
	MaxContextBytes int
	MaxPromptTokens int
	MaxFiles        int
	DedupWindow     time.Duration
	RulesFile       string
}

// QuotaConfig holds monthly review allowances per plan tier. A negative
// limit means unlimited.
type QuotaConfig struct {
	Backend string // "memory" or "redis"
	Limits  map[core.PlanTier]int
}

// LoadConfig reads configuration from environment variables and a .env file,
// sets sensible defaults, and validates the result. It uses the Viper
// library to handle configuration loading and precedence.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			slog.Error("failed to read config file", "error", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_OUTPUT", "stdout")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USERNAME", "reviews")
	v.SetDefault("DB_DATABASE", "reviews")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "5m")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("AI_PROVIDER", string(core.ProviderDeepSeek))
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1")
	v.SetDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com")
	v.SetDefault("OLLAMA_HOST", "http://localhost:11434")
	v.SetDefault("AI_MAX_OUTPUT_TOKENS", 4096)

	v.SetDefault("QUEUE_BACKEND", "memory")
	v.SetDefault("QUEUE_WORKERS", 4)
	v.SetDefault("QUEUE_MAX_ATTEMPTS", 4)
	v.SetDefault("QUEUE_BASE_BACKOFF", "5s")
	v.SetDefault("QUEUE_MAX_BACKOFF", "2m")
	v.SetDefault("QUEUE_POLL_INTERVAL", "1s")
	v.SetDefault("QUEUE_LEASE_TTL", "10m")

	v.SetDefault("PIPELINE_FETCH_TIMEOUT", "30s")
	v.SetDefault("PIPELINE_REVIEW_TIMEOUT", "3m")
	v.SetDefault("PIPELINE_DELIVER_TIMEOUT", "30s")
	v.SetDefault("PIPELINE_MAX_DIFF_BYTES", 200_000)
	v.SetDefault("PIPELINE_MAX_CONTEXT_BYTES", 400_000)
	v.SetDefault("PIPELINE_MAX_PROMPT_TOKENS", 100_000)
	v.SetDefault("PIPELINE_MAX_FILES", 50)
	v.SetDefault("PIPELINE_DEDUP_WINDOW", "24h")
	v.SetDefault("PIPELINE_RULES_FILE", "rules.yaml")

	v.SetDefault("QUOTA_BACKEND", "memory")
	v.SetDefault("QUOTA_LIMIT_FREE", 10)
	v.SetDefault("QUOTA_LIMIT_PRO", 200)
	v.SetDefault("QUOTA_LIMIT_TEAM", 1000)
	v.SetDefault("QUOTA_LIMIT_ENTERPRISE", -1)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{Port: v.GetString("SERVER_PORT")},
		Logging: logger.Config{
			Level:  strings.ToLower(v.GetString("LOG_LEVEL")),
			Format: v.GetString("LOG_FORMAT"),
			Output: v.GetString("LOG_OUTPUT"),
		},
		Database: DBConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			Username:        v.GetString("DB_USERNAME"),
			Password:        v.GetString("DB_PASSWORD"),
			Database:        v.GetString("DB_DATABASE"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("DB_CONN_MAX_IDLE_TIME"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		GitHub: GitHubConfig{
			Token:          v.GetString("GITHUB_TOKEN"),
			AppID:          v.GetInt64("GITHUB_APP_ID"),
			InstallationID: v.GetInt64("GITHUB_INSTALLATION_ID"),
			PrivateKeyPath: v.GetString("GITHUB_PRIVATE_KEY_PATH"),
			BaseURL:        v.GetString("GITHUB_BASE_URL"),
		},
		AI: AIConfig{
			Provider:         strings.ToLower(v.GetString("AI_PROVIDER")),
			Model:            v.GetString("AI_MODEL"),
			OpenAIAPIKey:     v.GetString("OPENAI_API_KEY"),
			OpenAIBaseURL:    v.GetString("OPENAI_BASE_URL"),
			DeepSeekAPIKey:   v.GetString("DEEPSEEK_API_KEY"),
			DeepSeekBaseURL:  v.GetString("DEEPSEEK_BASE_URL"),
			AnthropicAPIKey:  v.GetString("ANTHROPIC_API_KEY"),
			AnthropicBaseURL: v.GetString("ANTHROPIC_BASE_URL"),
			GeminiAPIKey:     v.GetString("GEMINI_API_KEY"),
			OllamaHost:       v.GetString("OLLAMA_HOST"),
			MaxOutputTokens:  v.GetInt("AI_MAX_OUTPUT_TOKENS"),
		},
		Queue: QueueConfig{
			Backend:      strings.ToLower(v.GetString("QUEUE_BACKEND")),
			Workers:      v.GetInt("QUEUE_WORKERS"),
			MaxAttempts:  v.GetInt("QUEUE_MAX_ATTEMPTS"),
			BaseBackoff:  v.GetDuration("QUEUE_BASE_BACKOFF"),
			MaxBackoff:   v.GetDuration("QUEUE_MAX_BACKOFF"),
			PollInterval: v.GetDuration("QUEUE_POLL_INTERVAL"),
			LeaseTTL:     v.GetDuration("QUEUE_LEASE_TTL"),
		},
		Pipeline: PipelineConfig{
			FetchTimeout:    v.GetDuration("PIPELINE_FETCH_TIMEOUT"),
			ReviewTimeout:   v.GetDuration("PIPELINE_REVIEW_TIMEOUT"),
			DeliverTimeout:  v.GetDuration("PIPELINE_DELIVER_TIMEOUT"),
			MaxDiffBytes:    v.GetInt("PIPELINE_MAX_DIFF_BYTES"),
			MaxContextBytes: v.GetInt("PIPELINE_MAX_CONTEXT_BYTES"),
			MaxPromptTokens: v.GetInt("PIPELINE_MAX_PROMPT_TOKENS"),
			MaxFiles:        v.GetInt("PIPELINE_MAX_FILES"),
			DedupWindow:     v.GetDuration("PIPELINE_DEDUP_WINDOW"),
			RulesFile:       v.GetString("PIPELINE_RULES_FILE"),
		},
		Quota: QuotaConfig{
			Backend: strings.ToLower(v.GetString("QUOTA_BACKEND")),
			Limits: map[core.PlanTier]int{
				"free":       v.GetInt("QUOTA_LIMIT_FREE"),
				"pro":        v.GetInt("QUOTA_LIMIT_PRO"),
				"team":       v.GetInt("QUOTA_LIMIT_TEAM"),
				"enterprise": v.GetInt("QUOTA_LIMIT_ENTERPRISE"),
			},
		},
	}
}

// Validate checks values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("QUEUE_BACKEND must be memory or postgres, got %q", c.Queue.Backend)
	}
	switch c.Quota.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("QUOTA_BACKEND must be memory or redis, got %q", c.Quota.Backend)
	}
	if c.Queue.Workers < 1 || c.Queue.Workers > 64 {
		return fmt.Errorf("QUEUE_WORKERS must be between 1 and 64, got %d", c.Queue.Workers)
	}
	if c.Queue.MaxAttempts < 1 || c.Queue.MaxAttempts > 10 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be between 1 and 10, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.BaseBackoff <= 0 || c.Queue.MaxBackoff < c.Queue.BaseBackoff {
		return fmt.Errorf("QUEUE_BASE_BACKOFF must be positive and not exceed QUEUE_MAX_BACKOFF")
	}
	if c.Queue.LeaseTTL <= c.Pipeline.FetchTimeout+c.Pipeline.ReviewTimeout+c.Pipeline.DeliverTimeout {
		return fmt.Errorf("QUEUE_LEASE_TTL must exceed the sum of the pipeline step timeouts")
	}
	if c.Pipeline.MaxDiffBytes <= 0 || c.Pipeline.MaxContextBytes < 0 {
		return fmt.Errorf("PIPELINE_MAX_DIFF_BYTES must be positive and PIPELINE_MAX_CONTEXT_BYTES non-negative")
	}
	if c.Queue.Backend == "postgres" && c.Database.MaxOpenConns > 0 && c.Database.MaxOpenConns <= c.Queue.Workers {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must exceed QUEUE_WORKERS, got %d for %d workers", c.Database.MaxOpenConns, c.Queue.Workers)
	}
	if _, err := ParseProviderKind(c.AI.Provider); err != nil {
		return err
	}
	return nil
}

// ParseProviderKind maps a configured provider name to its kind.
func ParseProviderKind(name string) (core.ProviderKind, error) {
	switch k := core.ProviderKind(strings.ToLower(strings.TrimSpace(name))); k {
	case core.ProviderOpenAI, core.ProviderDeepSeek, core.ProviderAnthropic, core.ProviderGemini, core.ProviderOllama:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported AI provider: %q", name)
	}
}

// DefaultProvider returns the provider configuration stamped onto new jobs.
func (c *Config) DefaultProvider() core.ProviderConfig {
	kind, _ := ParseProviderKind(c.AI.Provider)
	return c.ProviderFor(kind, c.AI.Model)
}

// ProviderFor returns credentials and endpoint for kind with an optional
// model override.
func (c *Config) ProviderFor(kind core.ProviderKind, model string) core.ProviderConfig {
	pc := core.ProviderConfig{Kind: kind, Model: model}
	switch kind {
	case core.ProviderOpenAI:
		pc.APIKey, pc.BaseURL = c.AI.OpenAIAPIKey, c.AI.OpenAIBaseURL
	case core.ProviderDeepSeek:
		pc.APIKey, pc.BaseURL = c.AI.DeepSeekAPIKey, c.AI.DeepSeekBaseURL
	case core.ProviderAnthropic:
		pc.APIKey, pc.BaseURL = c.AI.AnthropicAPIKey, c.AI.AnthropicBaseURL
	case core.ProviderGemini:
		pc.APIKey = c.AI.GeminiAPIKey
	case core.ProviderOllama:
		pc.BaseURL = c.AI.OllamaHost
	}
	return pc
}

// WithCredentials fills the API key and endpoint of pc from the
// configuration when the job does not carry them, which is the case for
// jobs loaded back from the database.
func (c *Config) WithCredentials(pc core.ProviderConfig) core.ProviderConfig {
	def := c.ProviderFor(pc.Kind, pc.Model)
	if pc.APIKey == "" {
		pc.APIKey = def.APIKey
	}
	if pc.BaseURL == "" {
		pc.BaseURL = def.BaseURL
	}
	return pc
}
