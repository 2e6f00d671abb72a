package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-catalog/cache"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every category and export the products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd)
		},
	}
}

func runCrawl(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("category_workers", cfg.CategoryWorkers),
		slog.Int("page_workers", cfg.PageWorkers),
		slog.Int("product_workers", cfg.ProductWorkers),
		slog.Bool("cache_links", cfg.CacheLinks),
	)

	metrics := scraper.NewMetrics()
	crawler, err := newCrawler(cfg, metrics)
	if err != nil {
		return err
	}

	var runtimes *scraper.RuntimeLog
	if cfg.RuntimeReport != "" {
		runtimes = scraper.NewRuntimeLog()
		crawler.SetRuntimeLog(runtimes)
	}

	stopMetrics := serveMetrics(cfg.MetricsAddr, metrics)
	defer stopMetrics()

	startTime := time.Now()
	result, err := crawler.Run(ctx)
	if err != nil {
		return fmt.Errorf("scraping failed: %w", err)
	}

	// A cancelled run still exports what it collected.
	export, err := pipeline.NewExporter(cfg).Export(context.WithoutCancel(ctx), result.Products())
	if err != nil {
		return err
	}

	if runtimes != nil {
		if err := runtimes.WriteCSV(cfg.RuntimeReport); err != nil {
			slog.Error("runtime report failed", slog.Any("error", err))
		} else {
			slog.Info("runtime report written", slog.String("path", cfg.RuntimeReport))
		}
	}

	printSummary(os.Stdout, result, time.Since(startTime), export)
	return nil
}

// newCrawler wires the fetcher and, when enabled, the link cache.
func newCrawler(cfg *config.Config, metrics *scraper.Metrics) (*scraper.Crawler, error) {
	fetcher, err := scraper.NewFetcher(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("initialising fetcher: %w", err)
	}

	if !cfg.CacheLinks {
		return scraper.NewCrawler(cfg, fetcher, nil, metrics), nil
	}
	links, err := cache.New(cfg.CacheDir, cfg.CacheMemorySize)
	if err != nil {
		return nil, fmt.Errorf("open link cache: %w", err)
	}
	return scraper.NewCrawler(cfg, fetcher, links, metrics), nil
}

func serveMetrics(addr string, metrics *scraper.Metrics) func() {
	if addr == "" || metrics == nil {
		return func() {}
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

// printSummary reports the crawl and the export. Scraped counts every product
// the crawl returned, Exported counts the rows that reached the output files.
func printSummary(w io.Writer, result *models.RunResult, duration time.Duration, export *pipeline.ExportResult) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Scrape complete")

	products := result.Products()
	failedProducts := result.FailedProducts()
	failedPages := result.FailedPages()
	failedCategories := result.FailedCategories()

	fmt.Fprintf(w, "  Run ID:            %s\n", result.RunID)
	fmt.Fprintf(w, "  Categories:        %d\n", len(result.Categories))
	fmt.Fprintf(w, "  Scraped products:  %d\n", len(products))
	if export != nil {
		fmt.Fprintf(w, "  Exported products: %d\n", export.Written)
		fmt.Fprintf(w, "  Export duplicates: %d\n", export.Duplicates)
		fmt.Fprintf(w, "  Export rejected:   %d\n", export.Invalid)
	}
	fmt.Fprintf(w, "  Failed products:   %d\n", len(failedProducts))
	fmt.Fprintf(w, "  Failed pages:      %d\n", len(failedPages))
	fmt.Fprintf(w, "  Failed categories: %d\n", len(failedCategories))
	fmt.Fprintf(w, "  Requests:          %d\n", result.RequestCount)
	fmt.Fprintf(w, "  Retries:           %d\n", result.RetryCount)
	fmt.Fprintf(w, "  Cache hits:        %d\n", result.CacheHits)
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:       %s\n", formatCounts(result.ErrorsByType))
	}
	fmt.Fprintf(w, "  Duration:          %v\n", duration.Round(time.Millisecond))
	if export != nil {
		for _, path := range export.Paths {
			fmt.Fprintf(w, "  Output file:       %s\n", path)
		}
	}

	if len(failedCategories) > 0 {
		fmt.Fprintln(w, "\nCategories that could not be planned:")
		for _, c := range failedCategories {
			fmt.Fprintf(w, "  %s (%s): %v\n", c.Category.Name, c.Category.Link, c.PlanningErr)
		}
	}
	if len(failedPages) > 0 {
		fmt.Fprintln(w, "\nListing pages that failed:")
		for _, page := range failedPages {
			fmt.Fprintf(w, "  %s\n", page)
		}
	}
	if len(failedProducts) > 0 {
		fmt.Fprintln(w, "\nProducts that failed:")
		for _, stub := range failedProducts {
			fmt.Fprintf(w, "  %s %s\n", stub.Name, stub.Link)
		}
	}
	fmt.Fprintln(w, separator)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", k, counts[k])
	}
	return out
}
