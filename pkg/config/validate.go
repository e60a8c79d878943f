package config

import (
	"fmt"
	"net/url"
	"time"

	"carindex/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// LogLevel
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// DatabasePath
	if c.DatabasePath == "" {
		warnings = append(warnings, "database_path is empty, defaulting to './carindex.db'")
		c.DatabasePath = "./carindex.db"
	}

	// PageCacheDir / TTL (seeder cache)
	if c.PageCacheDir == "" {
		c.PageCacheDir = "./page_cache"
	}
	if c.PageCacheTTL <= 0 {
		c.PageCacheTTL = 24 * time.Hour
	}

	// DefaultUserAgent
	if c.DefaultUserAgent == "" {
		warnings = append(warnings, "default_user_agent is empty, defaulting to a browser-like agent")
		c.DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}

	// RequestTimeout
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}

	// BatchSize
	if c.BatchSize <= 0 {
		warnings = append(warnings, "batch_size should be > 0, defaulting to 5")
		c.BatchSize = 5
	}

	// RequestDelay
	if c.RequestDelay < 0 {
		warnings = append(warnings, "request_delay cannot be negative, disabling delay")
		c.RequestDelay = 0
	}

	// MaxPages
	if c.MaxPages <= 0 {
		warnings = append(warnings, "max_pages should be > 0, defaulting to 3")
		c.MaxPages = 3
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	// API
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}

	// Sites
	if len(c.Sites) == 0 {
		return warnings, fmt.Errorf("%w: no sites configured", utils.ErrConfigValidation)
	}
	for name, siteCfg := range c.Sites {
		siteWarnings, siteErr := siteCfg.Validate()
		for _, w := range siteWarnings {
			warnings = append(warnings, fmt.Sprintf("site %q: %s", name, w))
		}
		if siteErr != nil {
			return warnings, fmt.Errorf("site %q: %w", name, siteErr)
		}
		c.Sites[name] = siteCfg // Write back applied defaults
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = c.RequestTimeout
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// BaseURL, when set, must parse as an absolute http(s) URL
	if c.BaseURL != "" {
		u, parseErr := url.Parse(c.BaseURL)
		if parseErr != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: base_url %q is not an absolute URL", utils.ErrConfigValidation, c.BaseURL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("%w: base_url scheme %q is not http(s)", utils.ErrConfigValidation, u.Scheme)
		}
	}

	// MaxPages
	if c.MaxPages < 0 {
		warnings = append(warnings, "max_pages cannot be negative, using global default")
		c.MaxPages = 0
	}

	// BatchSize
	if c.BatchSize < 0 {
		warnings = append(warnings, "batch_size cannot be negative, using global default")
		c.BatchSize = 0
	}

	// RequestDelay / PageDelay
	if c.RequestDelay < 0 {
		warnings = append(warnings, "request_delay cannot be negative, using global default")
		c.RequestDelay = 0
	}
	if c.PageDelay < 0 {
		warnings = append(warnings, "page_delay cannot be negative, disabling")
		c.PageDelay = 0
	}

	return warnings, nil
}
