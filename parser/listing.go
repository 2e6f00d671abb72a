package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// DefaultPageSize is the number of products the site lists per page.
const DefaultPageSize = 35

var (
	// ErrTotalMissing means the toolbar item count was not found on a listing page.
	ErrTotalMissing = errors.New("parser: total items indicator missing")
	// ErrNavigationMissing means the department menu was not found.
	ErrNavigationMissing = errors.New("parser: category navigation missing")
)

const (
	navigationSelector = "div.sub-navigation.sub-nav-desktop ul.menu-items li.menu-item"
	gridSelector       = "div.products.wrapper.grid.products-grid ol.products.list.items.product-items > li"
	itemLinkSelector   = "div.product.details.product-item-details a.product-item-link"
	toolbarSelector    = "span.toolbar-number"
)

// ExtractCategories reads the department menu. Links are resolved against baseURL.
func ExtractCategories(markup, baseURL string) ([]models.Category, error) {
	doc, err := newDocument(markup)
	if err != nil {
		return nil, err
	}

	items := doc.Find(navigationSelector)
	if items.Length() == 0 {
		return nil, ErrNavigationMissing
	}

	categories := make([]models.Category, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		a := item.Find("a").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		name := NormalizeText(a.Text())
		if name == "" {
			return
		}
		categories = append(categories, models.Category{
			Name: name,
			Link: resolveURL(baseURL, href),
		})
	})
	return categories, nil
}

// FilterCategories drops blacklisted names and, when allow is non-empty, keeps
// only the names it lists. The blacklist always wins.
func FilterCategories(categories []models.Category, allow, block []string) []models.Category {
	blocked := toSet(block)
	allowed := toSet(allow)

	out := make([]models.Category, 0, len(categories))
	for _, c := range categories {
		if _, ok := blocked[c.Name]; ok {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[c.Name]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// ExtractTotalItems reads the item total from the listing toolbar. The toolbar
// renders "Items 1-35 of 120" (or "12 Items" on single-page categories), and
// the total is always the last number.
func ExtractTotalItems(markup string) (int, error) {
	doc, err := newDocument(markup)
	if err != nil {
		return 0, err
	}

	numbers := doc.Find(toolbarSelector)
	if numbers.Length() == 0 {
		return 0, ErrTotalMissing
	}

	raw := strings.TrimSpace(numbers.Last().Text())
	raw = strings.ReplaceAll(raw, ",", "")
	raw = strings.ReplaceAll(raw, " ", "")
	total, err := strconv.Atoi(raw)
	if err != nil || total < 0 {
		return 0, fmt.Errorf("%w: unreadable total %q", ErrTotalMissing, raw)
	}
	return total, nil
}

// ExtractPageCount returns the number of listing pages for a category.
func ExtractPageCount(markup string, pageSize int) (int, error) {
	total, err := ExtractTotalItems(markup)
	if err != nil {
		return 0, err
	}
	return PageCount(total, pageSize), nil
}

// PageCount is ceil(total / pageSize).
func PageCount(total, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// ExtractStubs returns one stub per product in the listing grid. A missing grid
// yields an empty slice.
func ExtractStubs(markup, pageURL string) []models.ProductStub {
	doc, err := newDocument(markup)
	if err != nil {
		return nil
	}

	var stubs []models.ProductStub
	doc.Find(gridSelector).Each(func(_ int, item *goquery.Selection) {
		a := item.Find(itemLinkSelector).First()
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		stubs = append(stubs, models.ProductStub{
			Name: NormalizeText(a.Text()),
			Link: resolveURL(pageURL, href),
		})
	})
	return stubs
}

// ListingPageURL returns the URL of one page of a category listing.
func ListingPageURL(categoryLink string, page int) string {
	u, err := url.Parse(categoryLink)
	if err != nil {
		sep := "?"
		if strings.Contains(categoryLink, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%sp=%d", categoryLink, sep, page)
	}
	q := u.Query()
	q.Set("p", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// Links returns the link of every stub, in order.
func Links(stubs []models.ProductStub) []string {
	links := make([]string, 0, len(stubs))
	for _, s := range stubs {
		links = append(links, s.Link)
	}
	return links
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}
