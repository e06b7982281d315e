package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research assistant
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	Research  ResearchConfig  `mapstructure:"research"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address       string        `mapstructure:"address"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	StreamEnabled bool          `mapstructure:"stream_enabled"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// SessionConfig controls the human-in-the-loop handshake.
type SessionConfig struct {
	// AnswerTimeout bounds how long a stage waits for a clarification answer. Zero waits forever.
	AnswerTimeout time.Duration `mapstructure:"answer_timeout"`
	// DefaultAnswer is used when AnswerTimeout elapses. Empty fails the run instead.
	DefaultAnswer string        `mapstructure:"default_answer"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
}

func (s SessionConfig) Validate() error {
	if s.AnswerTimeout < 0 {
		return fmt.Errorf("session.answer_timeout cannot be negative")
	}
	if s.RunTimeout < 0 {
		return fmt.Errorf("session.run_timeout cannot be negative")
	}
	return nil
}

// ResearchConfig tunes the plan -> research -> write pipeline.
type ResearchConfig struct {
	MaxClarifications int           `mapstructure:"max_clarifications"`
	MaxQueries        int           `mapstructure:"max_queries"`
	ResultsPerQuery   int           `mapstructure:"results_per_query"`
	EvidencePerQuery  int           `mapstructure:"evidence_per_query"`
	FetchTop          int           `mapstructure:"fetch_top"`
	SearchConcurrency int           `mapstructure:"search_concurrency"`
	PlanDisplayDelay  time.Duration `mapstructure:"plan_display_delay"`
}

// Normalize applies defaults for unset research values.
func (c ResearchConfig) Normalize() ResearchConfig {
	if c.MaxClarifications < 0 {
		c.MaxClarifications = 0
	}
	if c.MaxQueries <= 0 {
		c.MaxQueries = 6
	}
	if c.ResultsPerQuery <= 0 {
		c.ResultsPerQuery = 5
	}
	if c.EvidencePerQuery <= 0 {
		c.EvidencePerQuery = 3
	}
	if c.FetchTop < 0 {
		c.FetchTop = 0
	}
	if c.SearchConcurrency <= 0 {
		c.SearchConcurrency = 3
	}
	if c.PlanDisplayDelay < 0 {
		c.PlanDisplayDelay = 0
	}
	return c
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // gemini, openai
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model to use for each pipeline stage
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`
	Research  string `mapstructure:"research"`
	Synthesis string `mapstructure:"synthesis"`
	Fallback  string `mapstructure:"fallback"`
}

// Normalize fills empty routes with the fallback model.
func (r LLMRoutingConfig) Normalize() LLMRoutingConfig {
	if r.Planning == "" {
		r.Planning = r.Fallback
	}
	if r.Research == "" {
		r.Research = r.Fallback
	}
	if r.Synthesis == "" {
		r.Synthesis = r.Fallback
	}
	return r
}

func (c LLMConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("llm.providers requires at least one provider")
	}
	for name, p := range c.Providers {
		switch p.Type {
		case "gemini", "openai":
		default:
			return fmt.Errorf("llm.providers.%s: unsupported type %q", name, p.Type)
		}
	}
	if c.Routing.Planning == "" || c.Routing.Research == "" || c.Routing.Synthesis == "" {
		return fmt.Errorf("llm.routing requires planning, research and synthesis models (or a fallback)")
	}
	return nil
}

// SourcesConfig contains web search and page fetch settings
type SourcesConfig struct {
	WebSearch WebSearchConfig    `mapstructure:"web_search"`
	WebFetch  WebFetchConfig     `mapstructure:"web_fetch"`
	Policy    SourcePolicyConfig `mapstructure:"policy"`
}

// SourcePolicyConfig lists domains whose results are dropped (Block) or used
// without downloading the page (Paywall). Subdomains are covered.
type SourcePolicyConfig struct {
	Block   []string `mapstructure:"block"`
	Paywall []string `mapstructure:"paywall"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Provider     string        `mapstructure:"provider"` // tavily, brave, serper
	TavilyAPIKey string        `mapstructure:"tavily_api_key"`
	TavilyMCPURL string        `mapstructure:"tavily_mcp_url"`
	TavilyTool   string        `mapstructure:"tavily_tool"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func (w WebSearchConfig) Validate() error {
	switch w.Provider {
	case "tavily":
		if w.TavilyAPIKey == "" && !strings.Contains(w.TavilyMCPURL, "tavilyApiKey=") {
			return fmt.Errorf("sources.web_search.tavily_api_key required for tavily")
		}
	case "brave":
		if w.BraveAPIKey == "" {
			return fmt.Errorf("sources.web_search.brave_api_key required for brave")
		}
	case "serper":
		if w.SerperAPIKey == "" {
			return fmt.Errorf("sources.web_search.serper_api_key required for serper")
		}
	default:
		return fmt.Errorf("sources.web_search.provider %q unsupported", w.Provider)
	}
	return nil
}

// WebFetchConfig selects how result pages are turned into readable text.
type WebFetchConfig struct {
	Fetcher  string        `mapstructure:"fetcher"` // readability, chromedp, none
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// StorageConfig contains optional storage backends
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings. An empty host disables the event mirror.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Stream   string        `mapstructure:"stream"`
	MaxLen   int64         `mapstructure:"max_len"`
}

// Enabled reports whether the Redis event mirror is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// PostgresConfig contains Postgres connection settings. Empty url and host disables the archive.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether the report archive is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if !p.Enabled() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the discrete fields when no url is set.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// TelemetryConfig contains monitoring settings. Tracing is exported over
// OTLP/gRPC only when Enabled is set; Prometheus metrics are always served.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.stream_enabled", true)
	v.SetDefault("server.poll_interval", 500*time.Millisecond)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("session.answer_timeout", time.Duration(0))
	v.SetDefault("session.default_answer", "")
	v.SetDefault("session.run_timeout", time.Duration(0))
	v.SetDefault("research.max_clarifications", 3)
	v.SetDefault("research.max_queries", 6)
	v.SetDefault("research.results_per_query", 5)
	v.SetDefault("research.evidence_per_query", 3)
	v.SetDefault("research.fetch_top", 3)
	v.SetDefault("research.search_concurrency", 3)
	v.SetDefault("research.plan_display_delay", 500*time.Millisecond)
	v.SetDefault("sources.web_search.provider", "tavily")
	v.SetDefault("sources.web_search.tavily_mcp_url", "https://mcp.tavily.com/mcp/")
	v.SetDefault("sources.web_search.tavily_tool", "tavily-search")
	v.SetDefault("sources.web_search.timeout", 30*time.Second)
	v.SetDefault("sources.web_fetch.fetcher", "readability")
	v.SetDefault("sources.web_fetch.timeout", 15*time.Second)
	v.SetDefault("sources.web_fetch.max_chars", 20000)
	v.SetDefault("storage.redis.stream", "deepresearch:session")
	v.SetDefault("storage.redis.max_len", 10000)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "deepresearch")
}

// LoadConfig loads config from file and DEEPRESEARCH_* environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config") // path to look for the config file in
		v.AddConfigPath(".")        // optionally look for config in the working directory
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)                                // bin/
			v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (DEEPRESEARCH_*)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Research = cfg.Research.Normalize()
	cfg.LLM.Routing = cfg.LLM.Routing.Normalize()
	applyEnvKeys(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs the per-section checks.
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Sources.WebSearch.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Postgres.Validate(); err != nil {
		return err
	}
	return nil
}

// applyEnvKeys fills empty credentials from the conventional provider variables.
func applyEnvKeys(cfg *Config) {
	for name, p := range cfg.LLM.Providers {
		if p.APIKey != "" {
			continue
		}
		switch p.Type {
		case "gemini":
			p.APIKey = os.Getenv("GOOGLE_API_KEY")
		case "openai":
			p.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		cfg.LLM.Providers[name] = p
	}
	ws := &cfg.Sources.WebSearch
	if ws.TavilyAPIKey == "" {
		ws.TavilyAPIKey = os.Getenv("TAVILY_API_KEY")
	}
	if ws.BraveAPIKey == "" {
		ws.BraveAPIKey = os.Getenv("BRAVE_API_KEY")
	}
	if ws.SerperAPIKey == "" {
		ws.SerperAPIKey = os.Getenv("SERPER_API_KEY")
	}
}
