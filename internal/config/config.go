package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the AgentIQ server, worker and CLI.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	AI        AIConfig
	Agent     AgentConfig
	Tools     ToolsConfig
	Worker    WorkerConfig
	Jobs      JobsConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional. An empty URL selects the in-memory cache and limiter.
type RedisConfig struct {
	URL string
}

type QueueConfig struct {
	Backend string
	Name    string
	NATSURL string
}

type AIConfig struct {
	Provider          string
	InferenceTimeout  time.Duration
	MaxTokens         int
	Temperature       float64
	RequestsPerMinute int
	Groq              ProviderConfig
	OpenAI            ProviderConfig
	VLLM              ProviderConfig
	Ollama            ProviderConfig
}

// ProviderConfig describes one OpenAI-compatible chat-completions endpoint.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type AgentConfig struct {
	MaxToolIterations int
	MaxRetries        int
	RetryBaseDelay    time.Duration
}

type ToolsConfig struct {
	HTTPTimeout    time.Duration
	SearchURL      string
	UserAgent      string
	PageMaxChars   int
	SearchCacheTTL time.Duration
}

type WorkerConfig struct {
	Concurrency       int
	CommitBatchSize   int
	ItemDelay         time.Duration
	SoftTimeLimit     time.Duration
	HardTimeLimit     time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	HeartbeatInterval time.Duration
}

type JobsConfig struct {
	MaxBatchSize           int
	MaxConcurrentPerTenant int
	StaleAfter             time.Duration
	SweepInterval          time.Duration
	SingleEnrichTimeout    time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

var validProviders = map[string]bool{
	"groq":   true,
	"openai": true,
	"vllm":   true,
	"ollama": true,
}

var validBackends = map[string]bool{
	"redis":  true,
	"nats":   true,
	"memory": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	redisURL := os.Getenv("REDIS_URL")
	defaultBackend := "memory"
	if redisURL != "" {
		defaultBackend = "redis"
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("AGENTIQ_PORT", 8080),
			Env:  envString("AGENTIQ_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: redisURL,
		},
		Queue: QueueConfig{
			Backend: envString("QUEUE_BACKEND", defaultBackend),
			Name:    envString("QUEUE_NAME", "enrichment"),
			NATSURL: os.Getenv("NATS_URL"),
		},
		AI: AIConfig{
			Provider:          envString("AI_PROVIDER", "groq"),
			InferenceTimeout:  envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			MaxTokens:         envInt("AI_MAX_TOKENS", 4096),
			Temperature:       envFloat("AI_TEMPERATURE", 0.1),
			RequestsPerMinute: envInt("AI_REQUESTS_PER_MINUTE", 30),
			Groq: ProviderConfig{
				BaseURL: envString("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
				APIKey:  os.Getenv("GROQ_API_KEY"),
				Model:   envString("GROQ_MODEL", "llama-3.3-70b-versatile"),
			},
			OpenAI: ProviderConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			VLLM: ProviderConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
				Model:   envString("VLLM_MODEL", ""),
			},
			Ollama: ProviderConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
				Model:   envString("OLLAMA_MODEL", "llama3.1"),
			},
		},
		Agent: AgentConfig{
			MaxToolIterations: envInt("AGENT_MAX_TOOL_ITERATIONS", 15),
			MaxRetries:        envInt("AGENT_MAX_RETRIES", 3),
			RetryBaseDelay:    envDuration("AGENT_RETRY_BASE_DELAY", 2*time.Second),
		},
		Tools: ToolsConfig{
			HTTPTimeout:    envDuration("TOOLS_HTTP_TIMEOUT", 15*time.Second),
			SearchURL:      envString("TOOLS_SEARCH_URL", "https://api.duckduckgo.com/"),
			UserAgent:      envString("TOOLS_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"),
			PageMaxChars:   envInt("TOOLS_PAGE_MAX_CHARS", 6000),
			SearchCacheTTL: envDuration("TOOLS_SEARCH_CACHE_TTL", time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency:       envInt("WORKER_CONCURRENCY", 2),
			CommitBatchSize:   envInt("WORKER_COMMIT_BATCH_SIZE", 10),
			ItemDelay:         envDuration("WORKER_ITEM_DELAY", 2*time.Second),
			SoftTimeLimit:     envDuration("WORKER_SOFT_TIME_LIMIT", time.Hour),
			HardTimeLimit:     envDuration("WORKER_HARD_TIME_LIMIT", 65*time.Minute),
			MaxRetries:        envInt("WORKER_MAX_RETRIES", 3),
			RetryDelay:        envDuration("WORKER_RETRY_DELAY", 60*time.Second),
			HeartbeatInterval: envDuration("WORKER_HEARTBEAT_INTERVAL", 30*time.Second),
		},
		Jobs: JobsConfig{
			MaxBatchSize:           envInt("JOBS_MAX_BATCH_SIZE", 500),
			MaxConcurrentPerTenant: envInt("JOBS_MAX_CONCURRENT_PER_TENANT", 3),
			StaleAfter:             envDuration("JOBS_STALE_AFTER", 2*time.Hour),
			SweepInterval:          envDuration("JOBS_SWEEP_INTERVAL", 10*time.Minute),
			SingleEnrichTimeout:    envDuration("SINGLE_ENRICH_TIMEOUT", 120*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Selected returns the endpoint settings of the configured AI provider.
func (c AIConfig) Selected() ProviderConfig {
	switch c.Provider {
	case "openai":
		return c.OpenAI
	case "vllm":
		return c.VLLM
	case "ollama":
		return c.Ollama
	default:
		return c.Groq
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if !validBackends[c.Queue.Backend] {
		return fmt.Errorf("QUEUE_BACKEND must be one of redis, nats, memory; got %q", c.Queue.Backend)
	}
	if c.Queue.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when QUEUE_BACKEND is redis")
	}
	if c.Queue.Backend == "nats" && c.Queue.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required when QUEUE_BACKEND is nats")
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of groq, openai, vllm, ollama; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "groq" && c.AI.Groq.APIKey == "" {
		return fmt.Errorf("GROQ_API_KEY is required when AI_PROVIDER is groq")
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}
	for name, base := range map[string]string{
		"GROQ_BASE_URL":    c.AI.Groq.BaseURL,
		"OPENAI_BASE_URL":  c.AI.OpenAI.BaseURL,
		"VLLM_BASE_URL":    c.AI.VLLM.BaseURL,
		"OLLAMA_BASE_URL":  c.AI.Ollama.BaseURL,
		"TOOLS_SEARCH_URL": c.Tools.SearchURL,
	} {
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, base)
		}
	}

	if c.Agent.MaxToolIterations <= 0 {
		return fmt.Errorf("AGENT_MAX_TOOL_ITERATIONS must be positive")
	}
	if c.Agent.MaxRetries <= 0 {
		return fmt.Errorf("AGENT_MAX_RETRIES must be positive")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.Worker.CommitBatchSize <= 0 {
		return fmt.Errorf("WORKER_COMMIT_BATCH_SIZE must be positive")
	}
	if c.Worker.HardTimeLimit <= c.Worker.SoftTimeLimit {
		return fmt.Errorf("WORKER_HARD_TIME_LIMIT (%s) must be greater than WORKER_SOFT_TIME_LIMIT (%s)",
			c.Worker.HardTimeLimit, c.Worker.SoftTimeLimit)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("WORKER_MAX_RETRIES must not be negative")
	}

	if c.Jobs.MaxBatchSize <= 0 {
		return fmt.Errorf("JOBS_MAX_BATCH_SIZE must be positive")
	}
	if c.Jobs.MaxConcurrentPerTenant <= 0 {
		return fmt.Errorf("JOBS_MAX_CONCURRENT_PER_TENANT must be positive")
	}
	if c.Jobs.SingleEnrichTimeout <= 0 {
		return fmt.Errorf("SINGLE_ENRICH_TIMEOUT must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
