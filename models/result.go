package models

import "time"

// CrawlResult holds the outcome of one category crawl.
type CrawlResult struct {
	Category       Category
	Products       []*Product
	FailedPages    []string
	FailedProducts []ProductStub
	// PagesPlanned is the page count derived from the category's item total.
	PagesPlanned int
	// StubsFound counts stubs collected across all pages, duplicates included.
	StubsFound int
	// Duplicates counts stubs dropped because their link was already queued.
	Duplicates int
	// PlanningErr is set when the page count could not be determined.
	PlanningErr error `json:"-"`
	ListingTime time.Duration
	DetailTime  time.Duration
}

// ProductsSubmitted is the number of stubs handed to the detail fan-out.
func (r *CrawlResult) ProductsSubmitted() int {
	return r.StubsFound - r.Duplicates
}

// RunResult holds the overall result of a scraping run.
type RunResult struct {
	RunID        string
	Categories   []*CrawlResult
	StartTime    time.Time
	EndTime      time.Time
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
	CacheHits    int
}

// Products concatenates the successful products of every category.
func (r *RunResult) Products() []*Product {
	var out []*Product
	for _, c := range r.Categories {
		out = append(out, c.Products...)
	}
	return out
}

// FailedPages lists listing pages that never produced stubs.
func (r *RunResult) FailedPages() []string {
	var out []string
	for _, c := range r.Categories {
		out = append(out, c.FailedPages...)
	}
	return out
}

// FailedProducts lists stubs whose details could not be fetched.
func (r *RunResult) FailedProducts() []ProductStub {
	var out []ProductStub
	for _, c := range r.Categories {
		out = append(out, c.FailedProducts...)
	}
	return out
}

// FailedCategories lists categories whose pagination could not be planned.
func (r *RunResult) FailedCategories() []*CrawlResult {
	var out []*CrawlResult
	for _, c := range r.Categories {
		if c.PlanningErr != nil {
			out = append(out, c)
		}
	}
	return out
}
