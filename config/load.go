package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SCRAPER_PAGE_WORKERS.
const EnvPrefix = "SCRAPER"

// Load resolves configuration from defaults, an optional YAML file, SCRAPER_*
// environment variables and finally any flags the user set explicitly. Flag
// names map to keys by replacing dashes with underscores.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	known := setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("scraper")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	if flags != nil {
		var bindErr error
		flags.Visit(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, ok := known[key]; !ok {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) map[string]struct{} {
	defaults := map[string]any{
		"base_url":             cfg.BaseURL,
		"department_path":      cfg.DepartmentPath,
		"preferred_categories": cfg.PreferredCategories,
		"category_blacklist":   cfg.CategoryBlacklist,
		"cache_dir":            cfg.CacheDir,
		"cache_links":          cfg.CacheLinks,
		"refresh_cache":        cfg.RefreshCache,
		"cache_memory_size":    cfg.CacheMemorySize,
		"category_workers":     cfg.CategoryWorkers,
		"page_workers":         cfg.PageWorkers,
		"product_workers":      cfg.ProductWorkers,
		"parallelism":          cfg.Parallelism,
		"timeout":              cfg.Timeout,
		"max_attempts":         cfg.MaxAttempts,
		"retry_backoff":        cfg.RetryBackoff,
		"retry_backoff_max":    cfg.RetryBackoffMax,
		"page_size":            cfg.PageSize,
		"dedupe_links":         cfg.DedupeLinks,
		"output_dir":           cfg.OutputDir,
		"output_prefix":        cfg.OutputPrefix,
		"output_format":        cfg.OutputFormat,
		"user_agent":           cfg.UserAgent,
		"verbose":              cfg.Verbose,
		"respect_robots_txt":   cfg.RespectRobotsTxt,
		"metrics_addr":         cfg.MetricsAddr,
		"pipeline_buffer_size": cfg.PipelineBufferSize,
		"batch_size":           cfg.BatchSize,
		"dedupe_max_size":      cfg.DedupeMaxSize,
		"progress_interval":    cfg.ProgressInterval,
		"runtime_report":       cfg.RuntimeReport,
	}
	known := make(map[string]struct{}, len(defaults))
	for key, value := range defaults {
		known[key] = struct{}{}
		v.SetDefault(key, value)
	}
	return known
}
