package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aluiziolira/go-scrape-catalog/config"
)

// newRootCmd builds a fresh command tree so each execution parses its own flags.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "catalog-scraper",
		Short: "Crawl the retailer catalog and export every product",
		Long: `catalog-scraper walks the department menu, every listing page of each
category and every product page, then exports one row per product.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd)
		},
	}

	root.PersistentFlags().String("config", "", "Config file path (YAML)")
	registerConfigFlags(root.PersistentFlags(), config.DefaultConfig())

	root.AddCommand(newCrawlCmd())
	root.AddCommand(newCategoriesCmd())
	root.AddCommand(newCacheCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// registerConfigFlags exposes every configuration key as a flag. Only flags the
// user sets override the file and environment.
func registerConfigFlags(flags *pflag.FlagSet, d *config.Config) {
	flags.String("base-url", d.BaseURL, "Storefront base URL")
	flags.String("department-path", d.DepartmentPath, "Path of the page listing every category")
	flags.StringSlice("preferred-categories", d.PreferredCategories, "Only crawl these categories (empty means all)")
	flags.StringSlice("category-blacklist", d.CategoryBlacklist, "Never crawl these categories")
	flags.String("cache-dir", d.CacheDir, "Directory of the listing link cache")
	flags.Bool("cache-links", d.CacheLinks, "Read and write the listing link cache")
	flags.Bool("refresh-cache", d.RefreshCache, "Ignore cached links but still write fresh ones")
	flags.Int("cache-memory-size", d.CacheMemorySize, "Entries kept in the in-memory cache layer (0 disables it)")
	flags.Int("category-workers", d.CategoryWorkers, "Categories crawled concurrently")
	flags.Int("page-workers", d.PageWorkers, "Listing pages fetched concurrently per category")
	flags.Int("product-workers", d.ProductWorkers, "Product pages fetched concurrently per category")
	flags.Int("parallelism", d.Parallelism, "Maximum concurrent HTTP connections")
	flags.Duration("timeout", d.Timeout, "Per-request timeout")
	flags.Int("max-attempts", d.MaxAttempts, "Attempts per page or product")
	flags.Duration("retry-backoff", d.RetryBackoff, "Initial delay between attempts")
	flags.Duration("retry-backoff-max", d.RetryBackoffMax, "Maximum delay between attempts")
	flags.Int("page-size", d.PageSize, "Products per listing page")
	flags.Bool("dedupe-links", d.DedupeLinks, "Fetch each product link once per category")
	flags.String("output-dir", d.OutputDir, "Directory for export files")
	flags.String("output-prefix", d.OutputPrefix, "Export file name prefix")
	flags.String("output-format", d.OutputFormat, "Output format: csv, json, or dual")
	flags.String("user-agent", d.UserAgent, "User-Agent header")
	flags.BoolP("verbose", "v", d.Verbose, "Enable verbose logging")
	flags.Bool("respect-robots-txt", d.RespectRobotsTxt, "Respect robots.txt directives")
	flags.String("metrics-addr", d.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.Int("pipeline-buffer-size", d.PipelineBufferSize, "Export pipeline buffer")
	flags.Int("batch-size", d.BatchSize, "Export write batch size")
	flags.Int("dedupe-max-size", d.DedupeMaxSize, "Links remembered by the export dedupe")
	flags.Duration("progress-interval", d.ProgressInterval, "Interval between progress lines (0 disables them)")
	flags.String("runtime-report", d.RuntimeReport, "Write per-category phase timings to this CSV file")
}

// loadConfig resolves and validates configuration, then installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())
	return cfg, nil
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
