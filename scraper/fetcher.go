package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-catalog/config"
)

const (
	phaseDepartment = "department"
	phasePlanning   = "planning"
	phaseListing    = "listing"
	phaseDetail     = "detail"
)

// PageFetcher retrieves the markup of a single page. Implementations do not retry.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL, phase string) (string, error)
}

// Fetcher issues one GET per call through a shared colly backend, so the
// connection cap and timeout apply across every worker.
type Fetcher struct {
	collector *colly.Collector
	metrics   *Metrics

	requestCount int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.Parallelism,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure request limits: %w", err)
	}

	return &Fetcher{
		collector:    collector,
		metrics:      metrics,
		errorsByType: make(map[string]int),
	}, nil
}

// Fetch performs a single GET for rawURL and returns the decoded body.
// colly has no per-request context, so ctx is only checked before the request
// starts; the collector timeout bounds the request itself.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, phase string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := f.collector.Clone()

	var (
		body       []byte
		statusCode int
		responded  bool
		fetchErr   error
	)
	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
		responded = true
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	atomic.AddInt64(&f.requestCount, 1)
	f.metrics.IncRequest(phase)
	start := time.Now()
	visitErr := c.Visit(rawURL)
	f.metrics.ObserveDuration(time.Since(start))

	if fetchErr == nil {
		fetchErr = visitErr
	}
	if fetchErr == nil && !responded {
		fetchErr = fmt.Errorf("no response received")
	}
	if fetchErr != nil {
		classified := classifyError(fetchErr, statusCode)
		if classified == nil {
			classified = fetchErr
		}
		f.recordError(rawURL, phase, classified)
		return "", fmt.Errorf("fetch %s: %w", rawURL, classified)
	}

	if !utf8.Valid(body) {
		err := ErrParseUnavailable{URL: rawURL}
		f.recordError(rawURL, phase, err)
		return "", err
	}
	return string(body), nil
}

// RequestCount returns the number of requests issued so far.
func (f *Fetcher) RequestCount() int {
	return int(atomic.LoadInt64(&f.requestCount))
}

// ErrorsByType returns a snapshot of fetch failures by label.
func (f *Fetcher) ErrorsByType() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		out[k] = v
	}
	return out
}

func (f *Fetcher) recordError(rawURL, phase string, err error) {
	category := errorTypeLabel(err)

	f.mu.Lock()
	f.errorsByType[category]++
	f.mu.Unlock()

	f.metrics.IncError(category)
	slog.Debug("request error",
		slog.String("url", rawURL),
		slog.String("phase", phase),
		slog.String("category", category),
		slog.Any("error", err),
	)
}
