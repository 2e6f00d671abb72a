package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

const (
	unitPage    = "page"
	unitProduct = "product"

	outcomeSuccess = "success"
	outcomeFailed  = "failed"
)

// LinkStore caches the product links found on a listing page.
type LinkStore interface {
	Get(rawURL string) ([]string, bool)
	Put(rawURL string, links []string) error
}

// Listing is the outcome of the pagination phase of one category.
type Listing struct {
	Pages       int
	Stubs       []models.ProductStub
	FailedPages []string
	CacheHits   int
}

type pageOutcome struct {
	url      string
	stubs    []models.ProductStub
	attempts int
	cached   bool
	err      error
}

type productOutcome struct {
	stub     models.ProductStub
	product  *models.Product
	attempts int
	err      error
}

type fetchStats interface {
	RequestCount() int
	ErrorsByType() map[string]int
}

// Crawler walks the catalog: categories, then listing pages, then product details.
// Each level fans out under its own worker cap, and every page and product ends
// up either in a success collection or in a failure set.
type Crawler struct {
	cfg      *config.Config
	fetcher  PageFetcher
	links    LinkStore
	retry    RetryPolicy
	Metrics  *Metrics
	runtimes *RuntimeLog
	now      func() time.Time

	retryCount atomic.Int64
	cacheHits  atomic.Int64
}

// NewCrawler wires a crawler. links may be nil to disable the link cache.
func NewCrawler(cfg *config.Config, fetcher PageFetcher, links LinkStore, metrics *Metrics) *Crawler {
	return &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		links:   links,
		retry:   NewRetryPolicy(cfg),
		Metrics: metrics,
		now:     time.Now,
	}
}

// SetRuntimeLog attaches a collector for per-phase timings.
func (c *Crawler) SetRuntimeLog(l *RuntimeLog) {
	c.runtimes = l
}

// Run discovers categories and crawls them concurrently. Only a failure to
// discover categories is returned as an error; everything else is recorded in
// the result.
func (c *Crawler) Run(ctx context.Context) (*models.RunResult, error) {
	result := &models.RunResult{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	logger := slog.With(slog.String("run_id", result.RunID))

	categories, err := c.DiscoverCategories(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("total categories", slog.Int("count", len(categories)))

	results := make(chan *models.CrawlResult)
	go func() {
		var g errgroup.Group
		g.SetLimit(c.cfg.CategoryWorkers)
		for _, category := range categories {
			g.Go(func() error {
				logger.Info("category", slog.String("name", category.Name), slog.String("link", category.Link))
				results <- c.CrawlCategory(ctx, category)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for r := range results {
		result.Categories = append(result.Categories, r)
	}

	result.EndTime = time.Now()
	result.RetryCount = int(c.retryCount.Load())
	result.CacheHits = int(c.cacheHits.Load())
	if stats, ok := c.fetcher.(fetchStats); ok {
		result.RequestCount = stats.RequestCount()
		result.ErrorsByType = stats.ErrorsByType()
	} else {
		result.ErrorsByType = map[string]int{}
	}
	return result, nil
}

// DiscoverCategories fetches the department page and applies the allow and
// block lists from configuration.
func (c *Crawler) DiscoverCategories(ctx context.Context) ([]models.Category, error) {
	departmentURL := c.cfg.DepartmentURL()

	all, attempts, err := runWithRetry(ctx, c.retry, nil, func(attempt int) ([]models.Category, error) {
		if attempt > 1 {
			c.noteRetry(unitPage, departmentURL, attempt)
		}
		markup, err := c.fetcher.Fetch(ctx, departmentURL, phaseDepartment)
		if err != nil {
			return nil, err
		}
		return parser.ExtractCategories(markup, c.cfg.BaseURL)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrDepartmentPage, departmentURL, attempts, err)
	}

	categories := parser.FilterCategories(all, c.cfg.PreferredCategories, c.cfg.CategoryBlacklist)
	slog.Info("categories discovered",
		slog.Int("found", len(all)),
		slog.Int("selected", len(categories)),
	)
	return categories, nil
}

// CrawlCategory runs both phases for one category. The detail phase starts only
// after every listing page has finished.
func (c *Crawler) CrawlCategory(ctx context.Context, category models.Category) *models.CrawlResult {
	result := &models.CrawlResult{Category: category}

	start := time.Now()
	listing, err := c.CollectStubs(ctx, category)
	result.ListingTime = time.Since(start)
	c.observePhase(phaseListing, category.Name, result.ListingTime)
	if err != nil {
		result.PlanningErr = err
		slog.Error("category skipped",
			slog.String("category", category.Name),
			slog.String("link", category.Link),
			slog.Any("error", err),
		)
		return result
	}

	result.PagesPlanned = listing.Pages
	result.FailedPages = listing.FailedPages
	result.StubsFound = len(listing.Stubs)

	stubs := listing.Stubs
	if c.cfg.DedupeLinks {
		stubs, result.Duplicates = dedupeStubs(stubs)
	}

	start = time.Now()
	result.Products, result.FailedProducts = c.EnrichProducts(ctx, category, stubs)
	result.DetailTime = time.Since(start)
	c.observePhase(phaseDetail, category.Name, result.DetailTime)

	slog.Info("category complete",
		slog.String("category", category.Name),
		slog.Int("pages", result.PagesPlanned),
		slog.Int("failed_pages", len(result.FailedPages)),
		slog.Int("products", len(result.Products)),
		slog.Int("failed_products", len(result.FailedProducts)),
		slog.Int("duplicates", result.Duplicates),
	)
	return result
}

// CollectStubs learns the page count of a category and gathers the stubs of
// every page. A category whose page count cannot be read returns an error
// wrapping ErrCategoryPlanning.
func (c *Crawler) CollectStubs(ctx context.Context, category models.Category) (*Listing, error) {
	pages, err := c.planCategory(ctx, category)
	if err != nil {
		return nil, err
	}

	results := make(chan pageOutcome)
	go func() {
		var g errgroup.Group
		g.SetLimit(c.cfg.PageWorkers)
		for page := 1; page <= pages; page++ {
			pageURL := parser.ListingPageURL(category.Link, page)
			g.Go(func() error {
				results <- c.fetchListingPage(ctx, pageURL)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	listing := &Listing{Pages: pages}
	for outcome := range results {
		if outcome.cached {
			listing.CacheHits++
		}
		if outcome.err != nil {
			c.Metrics.IncUnit(unitPage, outcomeFailed)
			listing.FailedPages = append(listing.FailedPages, outcome.url)
			slog.Warn("listing page failed",
				slog.String("category", category.Name),
				slog.String("url", outcome.url),
				slog.Int("attempts", outcome.attempts),
				slog.Any("error", outcome.err),
			)
			continue
		}
		c.Metrics.IncUnit(unitPage, outcomeSuccess)
		listing.Stubs = append(listing.Stubs, outcome.stubs...)
	}
	return listing, nil
}

// EnrichProducts fetches the detail page of every stub. Stubs that never yield
// a detail are returned unchanged in the failure slice.
func (c *Crawler) EnrichProducts(ctx context.Context, category models.Category, stubs []models.ProductStub) ([]*models.Product, []models.ProductStub) {
	results := make(chan productOutcome)
	go func() {
		var g errgroup.Group
		g.SetLimit(c.cfg.ProductWorkers)
		for _, stub := range stubs {
			g.Go(func() error {
				results <- c.fetchProduct(ctx, category.Name, stub)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	var done atomic.Int64
	stopProgress := c.startProgress(category.Name, len(stubs), &done)
	defer stopProgress()

	var (
		products []*models.Product
		failed   []models.ProductStub
	)
	for outcome := range results {
		done.Add(1)
		if outcome.err != nil {
			c.Metrics.IncUnit(unitProduct, outcomeFailed)
			failed = append(failed, outcome.stub)
			slog.Warn("product detail failed",
				slog.String("category", category.Name),
				slog.String("name", outcome.stub.Name),
				slog.String("url", outcome.stub.Link),
				slog.Int("attempts", outcome.attempts),
				slog.Any("error", outcome.err),
			)
			continue
		}
		c.Metrics.IncUnit(unitProduct, outcomeSuccess)
		c.Metrics.IncItems()
		products = append(products, outcome.product)
	}
	return products, failed
}

func (c *Crawler) planCategory(ctx context.Context, category models.Category) (int, error) {
	pages, attempts, err := runWithRetry(ctx, c.retry, nil, func(attempt int) (int, error) {
		if attempt > 1 {
			c.noteRetry(unitPage, category.Link, attempt)
		}
		markup, err := c.fetcher.Fetch(ctx, category.Link, phasePlanning)
		if err != nil {
			return 0, err
		}
		return parser.ExtractPageCount(markup, c.cfg.PageSize)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %s after %d attempts: %w", ErrCategoryPlanning, category.Name, attempts, err)
	}
	slog.Debug("category planned",
		slog.String("category", category.Name),
		slog.Int("pages", pages),
	)
	return pages, nil
}

func (c *Crawler) fetchListingPage(ctx context.Context, pageURL string) pageOutcome {
	if c.links != nil && !c.cfg.RefreshCache {
		if links, ok := c.links.Get(pageURL); ok && len(links) > 0 {
			c.Metrics.IncCacheLookup("hit")
			c.cacheHits.Add(1)
			stubs := make([]models.ProductStub, 0, len(links))
			for _, link := range links {
				stubs = append(stubs, models.StubFromLink(link))
			}
			return pageOutcome{url: pageURL, stubs: stubs, cached: true}
		}
		c.Metrics.IncCacheLookup("miss")
	}

	stubs, attempts, err := runWithRetry(ctx, c.retry, isEmptyListing, func(attempt int) ([]models.ProductStub, error) {
		if attempt > 1 {
			c.noteRetry(unitPage, pageURL, attempt)
		}
		markup, err := c.fetcher.Fetch(ctx, pageURL, phaseListing)
		if err != nil {
			return nil, err
		}
		return parser.ExtractStubs(markup, pageURL), nil
	})
	if err != nil {
		if errors.Is(err, errNoResult) {
			err = fmt.Errorf("empty listing: %w", err)
		}
		return pageOutcome{url: pageURL, attempts: attempts, err: err}
	}

	if c.links != nil {
		if err := c.links.Put(pageURL, parser.Links(stubs)); err != nil {
			slog.Warn("link cache write failed", slog.String("url", pageURL), slog.Any("error", err))
		}
	}
	return pageOutcome{url: pageURL, stubs: stubs, attempts: attempts}
}

func (c *Crawler) fetchProduct(ctx context.Context, category string, stub models.ProductStub) productOutcome {
	detail, attempts, err := runWithRetry(ctx, c.retry, isMissingDetail, func(attempt int) (*models.ProductDetail, error) {
		if attempt > 1 {
			c.noteRetry(unitProduct, stub.Link, attempt)
		}
		markup, err := c.fetcher.Fetch(ctx, stub.Link, phaseDetail)
		if err != nil {
			return nil, err
		}
		return parser.ExtractDetail(markup), nil
	})
	if err != nil {
		if errors.Is(err, errNoResult) {
			err = fmt.Errorf("current price missing: %w", err)
		}
		return productOutcome{stub: stub, attempts: attempts, err: err}
	}
	return productOutcome{
		stub:     stub,
		product:  stub.Merge(detail, category, c.now()),
		attempts: attempts,
	}
}

func (c *Crawler) noteRetry(unit, rawURL string, attempt int) {
	c.retryCount.Add(1)
	c.Metrics.IncRetries(unit)
	slog.Debug("retrying",
		slog.String("unit", unit),
		slog.String("url", rawURL),
		slog.Int("attempt", attempt),
	)
}

func (c *Crawler) observePhase(phase, category string, d time.Duration) {
	c.Metrics.ObservePhase(phase, d)
	c.runtimes.Record(phase, category, d)
}

// startProgress logs detail progress at a fixed interval until the returned
// function is called.
func (c *Crawler) startProgress(category string, total int, done *atomic.Int64) func() {
	interval := c.cfg.ProgressInterval
	if interval <= 0 || total == 0 {
		return func() {}
	}

	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				slog.Info("retrieving product info",
					slog.String("category", category),
					slog.Int64("done", done.Load()),
					slog.Int("total", total),
				)
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-finished
	}
}

func isEmptyListing(stubs []models.ProductStub) bool {
	return len(stubs) == 0
}

func isMissingDetail(detail *models.ProductDetail) bool {
	return detail == nil
}

// dedupeStubs keeps the first stub seen for each link.
func dedupeStubs(stubs []models.ProductStub) ([]models.ProductStub, int) {
	seen := make(map[string]struct{}, len(stubs))
	out := make([]models.ProductStub, 0, len(stubs))
	for _, s := range stubs {
		if _, ok := seen[s.Link]; ok {
			continue
		}
		seen[s.Link] = struct{}{}
		out = append(out, s)
	}
	return out, len(stubs) - len(out)
}
