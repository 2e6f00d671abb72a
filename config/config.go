package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL             string        `mapstructure:"base_url"`
	DepartmentPath      string        `mapstructure:"department_path"`
	PreferredCategories []string      `mapstructure:"preferred_categories"`
	CategoryBlacklist   []string      `mapstructure:"category_blacklist"`
	CacheDir            string        `mapstructure:"cache_dir"`
	CacheLinks          bool          `mapstructure:"cache_links"`
	RefreshCache        bool          `mapstructure:"refresh_cache"`
	CacheMemorySize     int           `mapstructure:"cache_memory_size"`
	CategoryWorkers     int           `mapstructure:"category_workers"`
	PageWorkers         int           `mapstructure:"page_workers"`
	ProductWorkers      int           `mapstructure:"product_workers"`
	Parallelism         int           `mapstructure:"parallelism"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax     time.Duration `mapstructure:"retry_backoff_max"`
	PageSize            int           `mapstructure:"page_size"`
	DedupeLinks         bool          `mapstructure:"dedupe_links"`
	OutputDir           string        `mapstructure:"output_dir"`
	OutputPrefix        string        `mapstructure:"output_prefix"`
	OutputFormat        string        `mapstructure:"output_format"` // csv, json, or dual
	UserAgent           string        `mapstructure:"user_agent"`
	Verbose             bool          `mapstructure:"verbose"`
	RespectRobotsTxt    bool          `mapstructure:"respect_robots_txt"`
	MetricsAddr         string        `mapstructure:"metrics_addr"`
	PipelineBufferSize  int           `mapstructure:"pipeline_buffer_size"`
	BatchSize           int           `mapstructure:"batch_size"`
	DedupeMaxSize       int           `mapstructure:"dedupe_max_size"`
	ProgressInterval    time.Duration `mapstructure:"progress_interval"`
	RuntimeReport       string        `mapstructure:"runtime_report"`
}

// DefaultConfig returns the defaults used against the retailer's storefront.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:             "https://www.dischem.co.za",
		DepartmentPath:      "/shop-by-department",
		PreferredCategories: []string{},
		CategoryBlacklist:   []string{"Brands A-Z", "Beauty", "Healthy Living", "Hair Strategy", "Gift Cards"},
		CacheDir:            "product_links_cache",
		CacheLinks:          true,
		RefreshCache:        false,
		CacheMemorySize:     4096,
		CategoryWorkers:     8,
		PageWorkers:         16,
		ProductWorkers:      16,
		Parallelism:         32,
		Timeout:             30 * time.Second,
		MaxAttempts:         3,
		RetryBackoff:        500 * time.Millisecond,
		RetryBackoffMax:     2 * time.Second,
		PageSize:            35,
		DedupeLinks:         true,
		OutputDir:           "output",
		OutputPrefix:        "products",
		OutputFormat:        "csv",
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:             false,
		RespectRobotsTxt:    false,
		MetricsAddr:         "",
		PipelineBufferSize:  512,
		BatchSize:           64,
		DedupeMaxSize:       100000,
		ProgressInterval:    time.Second,
		RuntimeReport:       "",
	}
}

// DepartmentURL is the page listing every category.
func (c *Config) DepartmentURL() string {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL + c.DepartmentPath
	}
	ref, err := url.Parse(c.DepartmentPath)
	if err != nil {
		return c.BaseURL + c.DepartmentPath
	}
	return base.ResolveReference(ref).String()
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.CacheLinks && c.CacheDir == "" {
		return fmt.Errorf("cache directory cannot be empty when link caching is enabled")
	}
	if c.CacheMemorySize < 0 {
		return fmt.Errorf("cache memory size cannot be negative")
	}
	if c.CategoryWorkers <= 0 {
		return fmt.Errorf("category workers must be positive")
	}
	if c.PageWorkers <= 0 {
		return fmt.Errorf("page workers must be positive")
	}
	if c.ProductWorkers <= 0 {
		return fmt.Errorf("product workers must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if c.OutputPrefix == "" {
		return fmt.Errorf("output prefix cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative")
	}

	return nil
}
