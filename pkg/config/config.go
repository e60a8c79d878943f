package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SiteConfig holds configuration specific to a single site adapter
type SiteConfig struct {
	Enabled      *bool         `yaml:"enabled,omitempty"`       // nil = enabled
	BaseURL      string        `yaml:"base_url,omitempty"`      // Override for tests / mirrors
	UserAgent    string        `yaml:"user_agent,omitempty"`    // Override of default_user_agent
	MaxPages     int           `yaml:"max_pages,omitempty"`     // Search pages to enumerate (0 = global default)
	BatchSize    int           `yaml:"batch_size,omitempty"`    // Concurrent detail fetches per batch
	RequestDelay time.Duration `yaml:"request_delay,omitempty"` // Sleep between batches
	PageDelay    time.Duration `yaml:"page_delay,omitempty"`    // Sleep between search pages during enumeration
	Impersonate  *bool         `yaml:"impersonate,omitempty"`   // Browser-shaped transport (nil = adapter default)
}

// APIConfig holds settings for the read-only REST API
type APIConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	LogLevel           string                `yaml:"log_level,omitempty"`
	DatabasePath       string                `yaml:"database_path"`
	PageCacheDir       string                `yaml:"page_cache_dir,omitempty"` // Badger cache used by seeders
	PageCacheTTL       time.Duration         `yaml:"page_cache_ttl,omitempty"`
	DefaultUserAgent   string                `yaml:"default_user_agent,omitempty"`
	RequestTimeout     time.Duration         `yaml:"request_timeout,omitempty"` // Per HTTP request
	MaxRetries         int                   `yaml:"max_retries,omitempty"`     // Impersonating transport only
	BatchSize          int                   `yaml:"batch_size,omitempty"`
	RequestDelay       time.Duration         `yaml:"request_delay,omitempty"`
	MaxPages           int                   `yaml:"max_pages,omitempty"`
	RespectRobots      bool                  `yaml:"respect_robots,omitempty"` // Plain transport robots.txt gate
	HTTPClientSettings HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	API                APIConfig             `yaml:"api,omitempty"`
	Sites              map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // Explicitly enable/disable HTTP/2 attempt (use pointer for tri-state: nil=default, true=force, false=disable)
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Load reads and parses the YAML config file at path.
// The CARINDEX_DB_PATH environment variable, if set, overrides database_path.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	if dbPath := os.Getenv("CARINDEX_DB_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	return &cfg, nil
}

// GetEffectiveUserAgent determines the user agent for a site
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveMaxPages determines the search page limit for a site
func GetEffectiveMaxPages(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.MaxPages > 0 {
		return siteCfg.MaxPages
	}
	return appCfg.MaxPages
}

// GetEffectiveBatchSize determines the per-batch concurrency for a site
func GetEffectiveBatchSize(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.BatchSize > 0 {
		return siteCfg.BatchSize
	}
	return appCfg.BatchSize
}

// GetEffectiveRequestDelay determines the between-batch delay for a site
func GetEffectiveRequestDelay(siteCfg SiteConfig, appCfg AppConfig) time.Duration {
	if siteCfg.RequestDelay > 0 {
		return siteCfg.RequestDelay
	}
	return appCfg.RequestDelay
}

// IsSiteEnabled reports whether the site should take part in crawl/seed runs
func IsSiteEnabled(siteCfg SiteConfig) bool {
	if siteCfg.Enabled != nil {
		return *siteCfg.Enabled
	}
	return true
}
