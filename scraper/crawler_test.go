package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-catalog/cache"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// scriptedFetcher serves canned pages. A page may fail a fixed number of times
// before it is served; unknown URLs return 404.
type scriptedFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]int
	calls    map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		pages:    make(map[string]string),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *scriptedFetcher) serve(rawURL, markup string) {
	f.pages[rawURL] = markup
}

func (f *scriptedFetcher) failTimes(rawURL string, n int) {
	f.failures[rawURL] = n
}

func (f *scriptedFetcher) Fetch(ctx context.Context, rawURL, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++
	if f.calls[rawURL] <= f.failures[rawURL] {
		return "", ErrHTTPStatus{StatusCode: http.StatusServiceUnavailable}
	}
	markup, ok := f.pages[rawURL]
	if !ok {
		return "", ErrHTTPStatus{StatusCode: http.StatusNotFound}
	}
	return markup, nil
}

func (f *scriptedFetcher) callsTo(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *scriptedFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func departmentPage(names ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="sub-navigation sub-nav-desktop"><ul class="menu-items">`)
	for _, name := range names {
		fmt.Fprintf(&b, `<li class="menu-item"><a href="/%s">%s</a></li>`, slug(name), name)
	}
	b.WriteString(`</ul></div></body></html>`)
	return b.String()
}

func categoryPage(total int) string {
	return fmt.Sprintf(`<html><body><p class="toolbar-amount">`+
		`<span class="toolbar-number">1</span><span class="toolbar-number">35</span>`+
		`<span class="toolbar-number">%d</span></p></body></html>`, total)
}

func listingPage(links ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="products wrapper grid products-grid"><ol class="products list items product-items">`)
	for _, link := range links {
		fmt.Fprintf(&b, `<li class="item product product-item"><div class="product details product-item-details">`+
			`<a class="product-item-link" href="%s">%s</a></div></li>`, link, productName(link))
	}
	b.WriteString(`</ol></div></body></html>`)
	return b.String()
}

func detailPage(price string) string {
	return fmt.Sprintf(`<html><body><div class="product-info-main">`+
		`<span data-price-type="finalPrice" data-price-amount="%s"></span></div>`+
		`<div class="product info detailed"><div class="product attribute description"><div class="value">Item</div></div></div>`+
		`</body></html>`, price)
}

const noPricePage = `<html><body><div class="product-info-main"><p>Out of stock</p></div></body></html>`

func slug(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "-"))
}

func productName(link string) string {
	return link[strings.LastIndex(link, "/")+1:]
}

func categoryURL(name string) string {
	return testBaseURL + "/" + slug(name)
}

// seedCategory registers a category with the given number of products spread
// over 35-item pages, each with a detail page. It returns the product links.
func seedCategory(f *scriptedFetcher, name string, total int) []string {
	link := categoryURL(name)
	f.serve(link, categoryPage(total))

	links := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		product := fmt.Sprintf("%s/products/%s-%03d", testBaseURL, slug(name), i)
		links = append(links, product)
		f.serve(product, detailPage(fmt.Sprintf("%d.99", i)))
	}
	for page := 1; page <= parser.PageCount(total, parser.DefaultPageSize); page++ {
		end := page * parser.DefaultPageSize
		if end > total {
			end = total
		}
		f.serve(parser.ListingPageURL(link, page), listingPage(links[(page-1)*parser.DefaultPageSize:end]...))
	}
	return links
}

func productLinks(products []*models.Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.Link)
	}
	sort.Strings(out)
	return out
}

func assertAccounting(t *testing.T, r *models.CrawlResult) {
	t.Helper()
	assert.Equal(t, r.ProductsSubmitted(), len(r.Products)+len(r.FailedProducts),
		"category %s: success and failure must cover every submitted product", r.Category.Name)
}

func TestRunCrawlsEveryCategory(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	f.serve(cfg.DepartmentURL(), departmentPage("Health", "Baby"))
	health := seedCategory(f, "Health", 40)
	baby := seedCategory(f, "Baby", 3)

	metrics := NewMetrics()
	crawler := NewCrawler(cfg, f, nil, metrics)

	result, err := crawler.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Categories, 2)
	assert.NotEmpty(t, result.RunID)
	assert.False(t, result.EndTime.Before(result.StartTime))

	want := append(append([]string{}, health...), baby...)
	sort.Strings(want)
	assert.Equal(t, want, productLinks(result.Products()))
	assert.Empty(t, result.FailedPages())
	assert.Empty(t, result.FailedProducts())
	assert.Equal(t, 0, result.RetryCount)
	assert.Equal(t, map[string]int{}, result.ErrorsByType)

	for _, c := range result.Categories {
		assertAccounting(t, c)
		for _, p := range c.Products {
			assert.Equal(t, c.Category.Name, p.Category)
			assert.NotEmpty(t, p.CurrentPrice)
			assert.False(t, p.ScrapedAt.IsZero())
		}
	}
	assert.Equal(t, 43.0, testutil.ToFloat64(metrics.ItemsScrapedTotal))
	assert.Equal(t, 43.0, testutil.ToFloat64(metrics.UnitsTotal.WithLabelValues(unitProduct, outcomeSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.UnitsTotal.WithLabelValues(unitPage, outcomeSuccess)))
}

func TestRunSkipsBlacklistedCategory(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryBlacklist = []string{"Beauty"}
	cfg.PreferredCategories = []string{"Beauty", "Health"}

	f := newScriptedFetcher()
	f.serve(cfg.DepartmentURL(), departmentPage("Health", "Beauty"))
	seedCategory(f, "Health", 2)
	seedCategory(f, "Beauty", 2)

	result, err := NewCrawler(cfg, f, nil, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Categories, 1)
	assert.Equal(t, "Health", result.Categories[0].Category.Name)
	assert.Equal(t, 0, f.callsTo(categoryURL("Beauty")))
}

func TestRunDepartmentFailureIsFatal(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()

	_, err := NewCrawler(cfg, f, nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrDepartmentPage)
	assert.Equal(t, 3, f.callsTo(cfg.DepartmentURL()))
}

func TestDiscoverCategoriesRetriesDepartmentPage(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	f.serve(cfg.DepartmentURL(), departmentPage("Health"))
	f.failTimes(cfg.DepartmentURL(), 2)

	categories, err := NewCrawler(cfg, f, nil, nil).DiscoverCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Category{{Name: "Health", Link: categoryURL("Health")}}, categories)
}

func TestCollectStubsFailedPageIsIsolated(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	links := seedCategory(f, "Health", 70)
	page2 := parser.ListingPageURL(categoryURL("Health"), 2)
	f.failTimes(page2, 3)

	metrics := NewMetrics()
	crawler := NewCrawler(cfg, f, nil, metrics)
	listing, err := crawler.CollectStubs(context.Background(), models.Category{Name: "Health", Link: categoryURL("Health")})
	require.NoError(t, err)

	assert.Equal(t, 2, listing.Pages)
	assert.Equal(t, []string{page2}, listing.FailedPages)
	assert.Equal(t, links[:35], parser.Links(listing.Stubs))
	assert.Equal(t, 3, f.callsTo(page2))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RetriesTotal.WithLabelValues(unitPage)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UnitsTotal.WithLabelValues(unitPage, outcomeFailed)))
}

func TestCollectStubsRetriesEmptyListing(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	link := categoryURL("Health")
	f.serve(link, categoryPage(5))
	page1 := parser.ListingPageURL(link, 1)
	f.serve(page1, listingPage())

	listing, err := NewCrawler(cfg, f, nil, nil).CollectStubs(context.Background(), models.Category{Name: "Health", Link: link})
	require.NoError(t, err)
	assert.Equal(t, []string{page1}, listing.FailedPages)
	assert.Empty(t, listing.Stubs)
	assert.Equal(t, 3, f.callsTo(page1))
}

func TestCollectStubsZeroItems(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	link := categoryURL("Health")
	f.serve(link, categoryPage(0))

	listing, err := NewCrawler(cfg, f, nil, nil).CollectStubs(context.Background(), models.Category{Name: "Health", Link: link})
	require.NoError(t, err)
	assert.Equal(t, 0, listing.Pages)
	assert.Empty(t, listing.Stubs)
	assert.Empty(t, listing.FailedPages)
	assert.Equal(t, 1, f.totalCalls())
}

func TestCrawlCategoryPlanningFailure(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	f.serve(categoryURL("Health"), "<html><body><p>no toolbar</p></body></html>")

	result := NewCrawler(cfg, f, nil, nil).CrawlCategory(context.Background(), models.Category{Name: "Health", Link: categoryURL("Health")})
	assert.ErrorIs(t, result.PlanningErr, ErrCategoryPlanning)
	assert.ErrorIs(t, result.PlanningErr, parser.ErrTotalMissing)
	assert.Empty(t, result.Products)
	assert.Equal(t, 3, f.callsTo(categoryURL("Health")))
}

func TestRunPlanningFailureDoesNotAffectOtherCategories(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	f.serve(cfg.DepartmentURL(), departmentPage("Health", "Baby"))
	health := seedCategory(f, "Health", 4)
	f.serve(categoryURL("Baby"), "<html><body></body></html>")

	result, err := NewCrawler(cfg, f, nil, nil).Run(context.Background())
	require.NoError(t, err)

	failed := result.FailedCategories()
	require.Len(t, failed, 1)
	assert.Equal(t, "Baby", failed[0].Category.Name)
	sort.Strings(health)
	assert.Equal(t, health, productLinks(result.Products()))
}

func TestEnrichProductsMissingPriceFails(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	good := testBaseURL + "/products/good"
	bad := testBaseURL + "/products/bad"
	f.serve(good, detailPage("10.00"))
	f.serve(bad, noPricePage)

	stubs := []models.ProductStub{{Name: "good", Link: good}, {Name: "bad", Link: bad}}
	products, failed := NewCrawler(cfg, f, nil, nil).EnrichProducts(context.Background(), models.Category{Name: "Health"}, stubs)

	require.Len(t, products, 1)
	assert.Equal(t, good, products[0].Link)
	assert.Equal(t, "10.00", products[0].CurrentPrice)
	assert.Equal(t, "Health", products[0].Category)
	assert.Equal(t, []models.ProductStub{{Name: "bad", Link: bad}}, failed)
	assert.Equal(t, 3, f.callsTo(bad))
	assert.Equal(t, 1, f.callsTo(good))
}

func TestEnrichProductsRecoversAfterTransientFailure(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	link := testBaseURL + "/products/flaky"
	f.serve(link, detailPage("5.00"))
	f.failTimes(link, 2)

	crawler := NewCrawler(cfg, f, nil, nil)
	products, failed := crawler.EnrichProducts(context.Background(), models.Category{Name: "Health"}, []models.ProductStub{{Name: "flaky", Link: link}})
	require.Len(t, products, 1)
	assert.Empty(t, failed)
	assert.Equal(t, int64(2), crawler.retryCount.Load())
}

func TestCrawlCategoryAccountingWithFailures(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	links := seedCategory(f, "Health", 10)
	f.serve(links[3], noPricePage)
	f.failTimes(links[7], 5)

	result := NewCrawler(cfg, f, nil, nil).CrawlCategory(context.Background(), models.Category{Name: "Health", Link: categoryURL("Health")})
	require.NoError(t, result.PlanningErr)
	assert.Equal(t, 10, result.ProductsSubmitted())
	assert.Len(t, result.Products, 8)
	assert.Len(t, result.FailedProducts, 2)
	assertAccounting(t, result)
}

func TestCrawlCategoryDedupesLinks(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	link := categoryURL("Health")
	a := testBaseURL + "/products/a"
	b := testBaseURL + "/products/b"
	f.serve(link, categoryPage(3))
	f.serve(parser.ListingPageURL(link, 1), listingPage(a, b, a))
	f.serve(a, detailPage("1.00"))
	f.serve(b, detailPage("2.00"))

	result := NewCrawler(cfg, f, nil, nil).CrawlCategory(context.Background(), models.Category{Name: "Health", Link: link})
	assert.Equal(t, 3, result.StubsFound)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, []string{a, b}, productLinks(result.Products))
	assert.Equal(t, 1, f.callsTo(a))
	assertAccounting(t, result)
}

func TestCrawlCategoryKeepsDuplicatesWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DedupeLinks = false
	f := newScriptedFetcher()
	link := categoryURL("Health")
	a := testBaseURL + "/products/a"
	f.serve(link, categoryPage(2))
	f.serve(parser.ListingPageURL(link, 1), listingPage(a, a))
	f.serve(a, detailPage("1.00"))

	result := NewCrawler(cfg, f, nil, nil).CrawlCategory(context.Background(), models.Category{Name: "Health", Link: link})
	assert.Equal(t, 0, result.Duplicates)
	assert.Len(t, result.Products, 2)
	assertAccounting(t, result)
}

func TestCrawlCategoryRecordsRuntimes(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	seedCategory(f, "Health", 1)

	crawler := NewCrawler(cfg, f, nil, nil)
	runtimes := NewRuntimeLog()
	crawler.SetRuntimeLog(runtimes)
	crawler.CrawlCategory(context.Background(), models.Category{Name: "Health", Link: categoryURL("Health")})

	samples := runtimes.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, phaseListing, samples[0].Phase)
	assert.Equal(t, phaseDetail, samples[1].Phase)
	assert.Equal(t, "Health", samples[0].Category)
}

func TestCollectStubsUsesLinkCache(t *testing.T) {
	cfg := testConfig()
	store, err := cache.New(t.TempDir(), 0)
	require.NoError(t, err)

	f := newScriptedFetcher()
	links := seedCategory(f, "Health", 40)
	category := models.Category{Name: "Health", Link: categoryURL("Health")}
	page1 := parser.ListingPageURL(category.Link, 1)
	page2 := parser.ListingPageURL(category.Link, 2)

	metrics := NewMetrics()
	first, err := NewCrawler(cfg, f, store, metrics).CollectStubs(context.Background(), category)
	require.NoError(t, err)
	assert.Equal(t, links, parser.Links(sortedStubs(first.Stubs)))
	assert.Equal(t, 0, first.CacheHits)

	cached, ok := store.Get(page1)
	require.True(t, ok)
	assert.Equal(t, links[:35], cached)

	crawler := NewCrawler(cfg, f, store, metrics)
	second, err := crawler.CollectStubs(context.Background(), category)
	require.NoError(t, err)
	assert.Equal(t, links, parser.Links(sortedStubs(second.Stubs)))
	assert.Equal(t, 2, second.CacheHits)
	assert.Equal(t, int64(2), crawler.cacheHits.Load())
	assert.Equal(t, 1, f.callsTo(page1))
	assert.Equal(t, 1, f.callsTo(page2))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, productName(links[0]), sortedStubs(second.Stubs)[0].Name)
}

func TestCollectStubsRefreshBypassesCache(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshCache = true
	store, err := cache.New(t.TempDir(), 0)
	require.NoError(t, err)

	f := newScriptedFetcher()
	seedCategory(f, "Health", 3)
	category := models.Category{Name: "Health", Link: categoryURL("Health")}
	page1 := parser.ListingPageURL(category.Link, 1)
	require.NoError(t, store.Put(page1, []string{testBaseURL + "/products/stale"}))

	listing, err := NewCrawler(cfg, f, store, nil).CollectStubs(context.Background(), category)
	require.NoError(t, err)
	assert.Len(t, listing.Stubs, 3)
	assert.Equal(t, 1, f.callsTo(page1))

	cached, ok := store.Get(page1)
	require.True(t, ok)
	assert.Len(t, cached, 3)
}

func TestCollectStubsIgnoresEmptyCacheEntry(t *testing.T) {
	cfg := testConfig()
	store, err := cache.New(t.TempDir(), 0)
	require.NoError(t, err)

	f := newScriptedFetcher()
	seedCategory(f, "Health", 2)
	category := models.Category{Name: "Health", Link: categoryURL("Health")}
	page1 := parser.ListingPageURL(category.Link, 1)
	require.NoError(t, store.Put(page1, nil))

	listing, err := NewCrawler(cfg, f, store, nil).CollectStubs(context.Background(), category)
	require.NoError(t, err)
	assert.Len(t, listing.Stubs, 2)
	assert.Equal(t, 1, f.callsTo(page1))
}

func TestRunCanceledContext(t *testing.T) {
	cfg := testConfig()
	f := newScriptedFetcher()
	f.serve(cfg.DepartmentURL(), departmentPage("Health"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCrawler(cfg, f, nil, nil).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, f.totalCalls())
}

func TestRunIntegrationWithHTTPMock(t *testing.T) {
	cfg := testConfig()
	f, transport := newMockFetcher(t, cfg, nil)

	pages := newScriptedFetcher()
	pages.serve(cfg.DepartmentURL(), departmentPage("Health"))
	links := seedCategory(pages, "Health", 36)

	var notFound atomic.Int64
	for rawURL, markup := range pages.pages {
		transport.RegisterResponder("GET", rawURL, httpmock.NewStringResponder(http.StatusOK, markup))
	}
	missing := links[5]
	transport.RegisterResponder("GET", missing, func(*http.Request) (*http.Response, error) {
		notFound.Add(1)
		return httpmock.NewStringResponse(http.StatusNotFound, "gone"), nil
	})

	result, err := NewCrawler(cfg, f, nil, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Categories, 1)

	c := result.Categories[0]
	assert.Equal(t, 2, c.PagesPlanned)
	assert.Len(t, c.Products, 35)
	assert.Equal(t, []string{missing}, parser.Links(c.FailedProducts))
	assertAccounting(t, c)

	assert.Equal(t, int64(3), notFound.Load())
	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, 3, result.ErrorsByType["not_found"])
	assert.Equal(t, 1+1+2+36+2, result.RequestCount)
}

func sortedStubs(stubs []models.ProductStub) []models.ProductStub {
	out := append([]models.ProductStub(nil), stubs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Link < out[j].Link })
	return out
}
