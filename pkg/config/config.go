package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	DefaultModel  string        `yaml:"default_model"`
	OllamaURL     string        `yaml:"ollama_url"`
	MaxTokens     int           `yaml:"max_tokens"`
	Temperature   float64       `yaml:"temperature"`
	TopP          float64       `yaml:"top_p"`
	MinInterval   time.Duration `yaml:"min_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	Timeout       time.Duration `yaml:"timeout"`
}

type SearchConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type ExtractorConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	MinInlineLength int           `yaml:"min_inline_length"`
	MinTextLength   int           `yaml:"min_text_length"`
	RateLimit       float64       `yaml:"rate_limit"`
	FetchAttempts   int           `yaml:"fetch_attempts"`
}

type ResearchConfig struct {
	TopK int `yaml:"top_k"`
}

type ServerConfig struct {
	Host               string `yaml:"host"`
	Port               string `yaml:"port"`
	CorsAllowedOrigins string `yaml:"cors_allowed_origins"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
}

type LogConfig struct {
	FilePath   string `yaml:"file_path"`
	Production bool   `yaml:"production"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Research  ResearchConfig  `yaml:"research"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

const defaultTemperature = 0.7

func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/datallama/config.yaml"),
			"/etc/datallama/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(config)

	// Apply defaults for unset values
	applyDefaults(config)

	return config, nil
}

// newConfig presets fields whose zero value is a legal setting, so only an
// absent key picks up the default.
func newConfig() *Config {
	return &Config{LLM: LLMConfig{Temperature: defaultTemperature}}
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "https://openrouter.ai/api/v1"
	}
	if config.LLM.DefaultModel == "" {
		config.LLM.DefaultModel = "google/gemini-2.0-flash-exp:free"
	}
	if config.LLM.OllamaURL == "" {
		config.LLM.OllamaURL = "http://localhost:11434"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.TopP == 0 {
		config.LLM.TopP = 0.9
	}
	if config.LLM.MinInterval == 0 {
		config.LLM.MinInterval = 2 * time.Second
	}
	if config.LLM.MaxAttempts == 0 {
		config.LLM.MaxAttempts = 3
	}
	if config.LLM.BackoffFactor == 0 {
		config.LLM.BackoffFactor = 2
	}
	if config.LLM.BaseDelay == 0 {
		config.LLM.BaseDelay = time.Second
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}

	if config.Search.BaseURL == "" {
		config.Search.BaseURL = "https://google.serper.dev"
	}
	if config.Search.Timeout == 0 {
		config.Search.Timeout = 20 * time.Second
	}
	if config.Search.MaxAttempts == 0 {
		config.Search.MaxAttempts = 3
	}

	if config.Extractor.BaseURL == "" {
		config.Extractor.BaseURL = "https://scrape.serper.dev"
	}
	if config.Extractor.Timeout == 0 {
		config.Extractor.Timeout = 15 * time.Second
	}
	if config.Extractor.MinInlineLength == 0 {
		config.Extractor.MinInlineLength = 100
	}
	if config.Extractor.MinTextLength == 0 {
		config.Extractor.MinTextLength = 50
	}
	if config.Extractor.RateLimit == 0 {
		config.Extractor.RateLimit = 2.0
	}
	if config.Extractor.FetchAttempts == 0 {
		config.Extractor.FetchAttempts = 3
	}

	if config.Research.TopK == 0 {
		config.Research.TopK = 5
	}

	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == "" {
		config.Server.Port = "8000"
	}
	if config.Server.CorsAllowedOrigins == "" {
		config.Server.CorsAllowedOrigins = "*"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "answers"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Log.FilePath == "" {
		config.Log.FilePath = "datallama.log"
	}

	if config.Tracing.Endpoint == "" {
		config.Tracing.Endpoint = "localhost:4318"
	}
}

func mergeWithEnv(config *Config) {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		config.LLM.DefaultModel = model
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.OllamaURL = baseURL
	}
	if key := os.Getenv("SERPER_API_KEY"); key != "" {
		config.Search.APIKey = key
	}
	if key := os.Getenv("EXTRACT_API_KEY"); key != "" {
		config.Extractor.APIKey = key
	} else if config.Extractor.APIKey == "" && config.Search.APIKey != "" {
		// The hosted extraction endpoint shares the search provider's key.
		config.Extractor.APIKey = config.Search.APIKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		config.Server.CorsAllowedOrigins = origins
	}
	if path := os.Getenv("LOG_FILE_PATH"); path != "" {
		config.Log.FilePath = path
	}
	if env := os.Getenv("GO_ENV"); env != "" {
		config.Log.Production = strings.EqualFold(env, "production")
	}
	if enabled, err := strconv.ParseBool(os.Getenv("OTEL_ENABLED")); err == nil {
		config.Tracing.Enabled = enabled
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		config.Tracing.Endpoint = endpoint
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
