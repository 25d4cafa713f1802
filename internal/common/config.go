package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Crawler     CrawlerConfig     `toml:"crawler"`
	Extraction  ExtractionConfig  `toml:"extraction"`
	Definitions DefinitionsConfig `toml:"definitions"`
	WebSocket   WebSocketConfig   `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// StorageConfig controls where crawl stores and the job database live
type StorageConfig struct {
	DataDir        string `toml:"data_dir"`         // Directory holding one <name>.crawl store per crawl plus the jobs database
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete the jobs database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// CrawlerConfig holds server-wide defaults applied to submitted crawls.
// Per-crawl settings in the request body override these.
type CrawlerConfig struct {
	UserAgent      string        `toml:"user_agent"`      // Default User-Agent header
	RequestTimeout time.Duration `toml:"request_timeout"` // Per-request timeout
	MaxRedirects   int           `toml:"max_redirects"`   // Redirect ceiling per request
	Concurrency    int           `toml:"concurrency"`     // Default worker count
	MaxDepth       int           `toml:"max_depth"`       // Default depth ceiling
	MaxRetries     int           `toml:"max_retries"`     // Retry ceiling when retry_errors is on
}

// ExtractionConfig points at the external enrichment services
type ExtractionConfig struct {
	UnstructuredURL  string `toml:"unstructured_url"`   // Binary text extraction endpoint (multipart POST)
	ArticleAPIURL    string `toml:"article_api_url"`    // Article parser endpoint
	ArticleAPIKey    string `toml:"article_api_key"`    // Article parser credential (basic auth user)
	ArticleBatchSize int    `toml:"article_batch_size"` // URLs per article parser batch
}

// DefinitionsConfig locates crawl definition files loaded at startup
type DefinitionsConfig struct {
	Dir string `toml:"dir"` // Directory containing crawl definition files (YAML)
}

// WebSocketConfig controls the log/progress stream
type WebSocketConfig struct {
	MinLevel         string   `toml:"min_level"`         // Minimum log level to broadcast
	ExcludePatterns  []string `toml:"exclude_patterns"`  // Log message patterns to exclude from broadcasting
	ProgressThrottle string   `toml:"progress_throttle"` // Max rate for progress events, e.g. "1s"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8087,
			Host: "localhost",
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Crawler: CrawlerConfig{
			UserAgent:      "SiteCrawler/1.0",
			RequestTimeout: 10 * time.Second,
			MaxRedirects:   30,
			Concurrency:    10,
			MaxDepth:       300,
			MaxRetries:     2,
		},
		Extraction: ExtractionConfig{
			ArticleBatchSize: 10,
		},
		Definitions: DefinitionsConfig{
			Dir: "./definitions",
		},
		WebSocket: WebSocketConfig{
			MinLevel: "info",
			ExcludePatterns: []string{
				"WebSocket client connected",
				"WebSocket client disconnected",
				"HTTP request",
				"HTTP response",
			},
			ProgressThrottle: "1s",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("INDAGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("INDAGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("INDAGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if dataDir := os.Getenv("INDAGO_DATA_DIR"); dataDir != "" {
		config.Storage.DataDir = dataDir
	}
	if reset := os.Getenv("INDAGO_STORAGE_RESET_ON_STARTUP"); reset != "" {
		if r, err := strconv.ParseBool(reset); err == nil {
			config.Storage.ResetOnStartup = r
		}
	}

	if level := os.Getenv("INDAGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("INDAGO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if userAgent := os.Getenv("INDAGO_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if timeout := os.Getenv("INDAGO_CRAWLER_REQUEST_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			config.Crawler.RequestTimeout = t
		}
	}
	if maxRedirects := os.Getenv("INDAGO_CRAWLER_MAX_REDIRECTS"); maxRedirects != "" {
		if mr, err := strconv.Atoi(maxRedirects); err == nil {
			config.Crawler.MaxRedirects = mr
		}
	}
	if concurrency := os.Getenv("INDAGO_CRAWLER_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Crawler.Concurrency = c
		}
	}
	if maxDepth := os.Getenv("INDAGO_CRAWLER_MAX_DEPTH"); maxDepth != "" {
		if md, err := strconv.Atoi(maxDepth); err == nil {
			config.Crawler.MaxDepth = md
		}
	}
	if maxRetries := os.Getenv("INDAGO_CRAWLER_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Crawler.MaxRetries = mr
		}
	}

	if unstructuredURL := os.Getenv("INDAGO_UNSTRUCTURED_URL"); unstructuredURL != "" {
		config.Extraction.UnstructuredURL = unstructuredURL
	}
	if articleURL := os.Getenv("INDAGO_ARTICLE_API_URL"); articleURL != "" {
		config.Extraction.ArticleAPIURL = articleURL
	}
	if articleKey := os.Getenv("INDAGO_ARTICLE_API_KEY"); articleKey != "" {
		config.Extraction.ArticleAPIKey = articleKey
	}

	if definitionsDir := os.Getenv("INDAGO_DEFINITIONS_DIR"); definitionsDir != "" {
		config.Definitions.Dir = definitionsDir
	}

	if minLevel := os.Getenv("INDAGO_WEBSOCKET_MIN_LEVEL"); minLevel != "" {
		config.WebSocket.MinLevel = minLevel
	}
	if throttle := os.Getenv("INDAGO_WEBSOCKET_PROGRESS_THROTTLE"); throttle != "" {
		if _, err := time.ParseDuration(throttle); err == nil {
			config.WebSocket.ProgressThrottle = throttle
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
