// Package config provides configuration loading and management for semreq.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semreq/llm"
	"github.com/c360studio/semreq/quality"
)

// Oracle providers.
const (
	OracleTable  = "table"
	OracleHTTP   = "http"
	OracleGemini = "gemini"
)

// Event sinks.
const (
	SinkLog    = "log"
	SinkNATS   = "nats"
	SinkPubSub = "pubsub"
	SinkSQLite = "sqlite"
)

// Config represents the complete semreq configuration
type Config struct {
	Corpus     CorpusConfig     `yaml:"corpus"`
	Governance GovernanceConfig `yaml:"governance"`
	Quality    QualityConfig    `yaml:"quality"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Events     EventsConfig     `yaml:"events"`
	Server     ServerConfig     `yaml:"server"`
}

// CorpusConfig locates the use case files
type CorpusConfig struct {
	// Dir is the directory patterns are resolved against (default: current directory)
	Dir string `yaml:"dir"`
	// Patterns are doublestar globs relative to Dir
	Patterns []string `yaml:"patterns"`
	// Watch reloads the corpus when files change
	Watch bool `yaml:"watch"`
	// Debounce is the quiet period before a reload
	Debounce time.Duration `yaml:"debounce"`
}

// GovernanceConfig configures the approval boards
type GovernanceConfig struct {
	LexiconApprover string `yaml:"lexicon_approver"`
	ModelApprover   string `yaml:"model_approver"`
	// RejectReason is recorded when a rejection carries no reason
	RejectReason string `yaml:"reject_reason"`
}

// QualityConfig configures data-quality thresholds
type QualityConfig struct {
	// Dimensions is the starting dimension set of every use case
	Dimensions []string `yaml:"dimensions"`
	// Rules are CEL default rules evaluated before the built-in table
	Rules []quality.Rule `yaml:"rules"`
	// SuggestTimeout bounds one oracle call
	SuggestTimeout time.Duration `yaml:"suggest_timeout"`
	// Workers bounds concurrent calls of a suggest-all run
	Workers int `yaml:"workers"`
}

// OracleConfig selects and configures the threshold suggestion oracle
type OracleConfig struct {
	// Provider is table, http, or gemini
	Provider string `yaml:"provider"`
	// Endpoint is the API base for the http provider
	Endpoint string `yaml:"endpoint"`
	// API is the wire format of the endpoint: openai, ollama, or anthropic
	API   string `yaml:"api"`
	Model string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// RateLimit is calls per second, 0 disables limiting
	RateLimit float64         `yaml:"rate_limit"`
	Burst     int             `yaml:"burst"`
	Retry     llm.RetryConfig `yaml:"retry"`
	// Fallbacks are tried in order when the http endpoint fails
	Fallbacks []FallbackEndpoint `yaml:"fallbacks"`
	Health    llm.HealthConfig   `yaml:"health"`
}

// FallbackEndpoint is a secondary endpoint of the http provider.
type FallbackEndpoint struct {
	Endpoint  string `yaml:"endpoint"`
	API       string `yaml:"api"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey resolves the key from the environment.
func (f FallbackEndpoint) APIKey() string {
	if f.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(f.APIKeyEnv)
}

// APIKey resolves the key from the environment.
func (o OracleConfig) APIKey() string {
	if o.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(o.APIKeyEnv)
}

// EventsConfig selects where governance transitions are published
type EventsConfig struct {
	// Sinks lists log, nats, pubsub, or sqlite; several may be combined
	Sinks []string `yaml:"sinks"`

	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`

	PubSubProject string `yaml:"pubsub_project"`
	PubSubTopic   string `yaml:"pubsub_topic"`

	// JournalPath is the SQLite file of the sqlite sink
	JournalPath string `yaml:"journal_path"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	APIPrefix   string `yaml:"api_prefix"`
	MetricsPath string `yaml:"metrics_path"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Dir:      "",
			Patterns: []string{"corpus/**/*.yaml", "corpus/**/*.yml"},
			Watch:    false,
			Debounce: 500 * time.Millisecond,
		},
		Governance: GovernanceConfig{
			LexiconApprover: "Lexicon Expert",
			ModelApprover:   "Data Modeller",
			RejectReason:    "Definition needs clarification",
		},
		Quality: QualityConfig{
			Dimensions:     append([]string(nil), quality.DefaultDimensions...),
			SuggestTimeout: 30 * time.Second,
			Workers:        4,
		},
		Oracle: OracleConfig{
			Provider:    OracleTable,
			Endpoint:    "http://localhost:11434/v1",
			Model:       "qwen2.5:14b",
			APIKeyEnv:   "SEMREQ_ORACLE_API_KEY",
			Temperature: 0.2,
			MaxTokens:   1024,
			RateLimit:   2,
			Burst:       4,
			Retry:       llm.DefaultRetryConfig(),
			Health:      llm.DefaultHealthConfig(),
		},
		Events: EventsConfig{
			Sinks:         []string{SinkLog},
			SubjectPrefix: "governance.events",
			PubSubTopic:   "governance-events",
			JournalPath:   "semreq-journal.db",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			APIPrefix:       "/api",
			MetricsPath:     "/metrics",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

func validateAPI(field, api string) error {
	switch api {
	case "", llm.ProviderOpenAI, llm.ProviderOllama, "anthropic":
		return nil
	}
	return fmt.Errorf("%s must be openai, ollama, or anthropic, got %q", field, api)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.Corpus.Patterns) == 0 {
		return fmt.Errorf("corpus.patterns is required")
	}
	if c.Corpus.Debounce < 0 {
		return fmt.Errorf("corpus.debounce must not be negative")
	}
	if len(c.Quality.Dimensions) == 0 {
		return fmt.Errorf("quality.dimensions is required")
	}
	seen := make(map[string]bool)
	for _, d := range c.Quality.Dimensions {
		if d == "" || seen[d] {
			return fmt.Errorf("quality.dimensions must be unique and non-empty: %q", d)
		}
		seen[d] = true
	}
	if c.Quality.SuggestTimeout <= 0 {
		return fmt.Errorf("quality.suggest_timeout must be positive")
	}
	if _, err := quality.NewPolicy(c.Quality.Rules); err != nil {
		return fmt.Errorf("quality.rules: %w", err)
	}

	switch c.Oracle.Provider {
	case OracleTable:
	case OracleHTTP:
		if c.Oracle.Endpoint == "" || c.Oracle.Model == "" {
			return fmt.Errorf("oracle.endpoint and oracle.model are required for the http provider")
		}
		if err := validateAPI("oracle.api", c.Oracle.API); err != nil {
			return err
		}
		for i, fb := range c.Oracle.Fallbacks {
			if fb.Endpoint == "" || fb.Model == "" {
				return fmt.Errorf("oracle.fallbacks[%d]: endpoint and model are required", i)
			}
			if err := validateAPI(fmt.Sprintf("oracle.fallbacks[%d].api", i), fb.API); err != nil {
				return err
			}
		}
	case OracleGemini:
		if c.Oracle.Model == "" {
			return fmt.Errorf("oracle.model is required for the gemini provider")
		}
	default:
		return fmt.Errorf("oracle.provider must be table, http, or gemini, got %q", c.Oracle.Provider)
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		return fmt.Errorf("oracle.temperature must be between 0 and 2")
	}
	if c.Oracle.RateLimit < 0 {
		return fmt.Errorf("oracle.rate_limit must not be negative")
	}

	for _, sink := range c.Events.Sinks {
		switch sink {
		case SinkLog:
		case SinkNATS:
			if c.Events.NATSURL == "" {
				return fmt.Errorf("events.nats_url is required for the nats sink")
			}
		case SinkPubSub:
			if c.Events.PubSubProject == "" || c.Events.PubSubTopic == "" {
				return fmt.Errorf("events.pubsub_project and events.pubsub_topic are required for the pubsub sink")
			}
		case SinkSQLite:
			if c.Events.JournalPath == "" {
				return fmt.Errorf("events.journal_path is required for the sqlite sink")
			}
		default:
			return fmt.Errorf("unknown events sink %q", sink)
		}
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Corpus
	if other.Corpus.Dir != "" {
		c.Corpus.Dir = other.Corpus.Dir
	}
	if len(other.Corpus.Patterns) > 0 {
		c.Corpus.Patterns = other.Corpus.Patterns
	}
	if other.Corpus.Watch {
		c.Corpus.Watch = true
	}
	if other.Corpus.Debounce != 0 {
		c.Corpus.Debounce = other.Corpus.Debounce
	}

	// Governance
	if other.Governance.LexiconApprover != "" {
		c.Governance.LexiconApprover = other.Governance.LexiconApprover
	}
	if other.Governance.ModelApprover != "" {
		c.Governance.ModelApprover = other.Governance.ModelApprover
	}
	if other.Governance.RejectReason != "" {
		c.Governance.RejectReason = other.Governance.RejectReason
	}

	// Quality
	if len(other.Quality.Dimensions) > 0 {
		c.Quality.Dimensions = other.Quality.Dimensions
	}
	if len(other.Quality.Rules) > 0 {
		c.Quality.Rules = other.Quality.Rules
	}
	if other.Quality.SuggestTimeout != 0 {
		c.Quality.SuggestTimeout = other.Quality.SuggestTimeout
	}
	if other.Quality.Workers != 0 {
		c.Quality.Workers = other.Quality.Workers
	}

	// Oracle
	if other.Oracle.Provider != "" {
		c.Oracle.Provider = other.Oracle.Provider
	}
	if other.Oracle.Endpoint != "" {
		c.Oracle.Endpoint = other.Oracle.Endpoint
	}
	if other.Oracle.API != "" {
		c.Oracle.API = other.Oracle.API
	}
	if other.Oracle.Model != "" {
		c.Oracle.Model = other.Oracle.Model
	}
	if other.Oracle.APIKeyEnv != "" {
		c.Oracle.APIKeyEnv = other.Oracle.APIKeyEnv
	}
	if other.Oracle.Temperature != 0 {
		c.Oracle.Temperature = other.Oracle.Temperature
	}
	if other.Oracle.MaxTokens != 0 {
		c.Oracle.MaxTokens = other.Oracle.MaxTokens
	}
	if other.Oracle.RateLimit != 0 {
		c.Oracle.RateLimit = other.Oracle.RateLimit
	}
	if other.Oracle.Burst != 0 {
		c.Oracle.Burst = other.Oracle.Burst
	}
	if len(other.Oracle.Fallbacks) > 0 {
		c.Oracle.Fallbacks = other.Oracle.Fallbacks
	}
	if other.Oracle.Health.FailureThreshold != 0 {
		c.Oracle.Health.FailureThreshold = other.Oracle.Health.FailureThreshold
	}
	if other.Oracle.Health.RecoveryTimeout != 0 {
		c.Oracle.Health.RecoveryTimeout = other.Oracle.Health.RecoveryTimeout
	}
	if other.Oracle.Retry.MaxAttempts != 0 {
		c.Oracle.Retry = other.Oracle.Retry
	}

	// Events
	if len(other.Events.Sinks) > 0 {
		c.Events.Sinks = other.Events.Sinks
	}
	if other.Events.NATSURL != "" {
		c.Events.NATSURL = other.Events.NATSURL
	}
	if other.Events.SubjectPrefix != "" {
		c.Events.SubjectPrefix = other.Events.SubjectPrefix
	}
	if other.Events.PubSubProject != "" {
		c.Events.PubSubProject = other.Events.PubSubProject
	}
	if other.Events.PubSubTopic != "" {
		c.Events.PubSubTopic = other.Events.PubSubTopic
	}
	if other.Events.JournalPath != "" {
		c.Events.JournalPath = other.Events.JournalPath
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.APIPrefix != "" {
		c.Server.APIPrefix = other.Server.APIPrefix
	}
	if other.Server.MetricsPath != "" {
		c.Server.MetricsPath = other.Server.MetricsPath
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
}
