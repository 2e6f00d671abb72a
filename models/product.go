// Package models defines data structures for the scraper.
package models

import (
	"path"
	"strings"
	"time"
)

// Category is one department entry discovered on the navigation page.
type Category struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

// ProductStub is a product reference taken from a listing page.
type ProductStub struct {
	Name string `csv:"name" json:"name"`
	Link string `csv:"link" json:"link"`
}

// ProductDetail holds the attributes read from a product page.
// CurrentPrice is always set on a detail returned by the parser.
type ProductDetail struct {
	Description  string `json:"description"`
	Schedule     string `json:"schedule"`
	NappiCode    string `json:"nappi_code"`
	Barcode      string `json:"barcode"`
	CurrentPrice string `json:"current_price"`
	NormalPrice  string `json:"normal_price"`
}

// Product is a stub enriched with its detail and category.
type Product struct {
	Name         string    `csv:"name" json:"name"`
	Link         string    `csv:"link" json:"link"`
	Category     string    `csv:"category" json:"category"`
	Description  string    `csv:"description" json:"description"`
	Schedule     string    `csv:"schedule" json:"schedule"`
	NappiCode    string    `csv:"nappi_code" json:"nappi_code"`
	Barcode      string    `csv:"barcode" json:"barcode"`
	CurrentPrice string    `csv:"current_price" json:"current_price"`
	NormalPrice  string    `csv:"normal_price" json:"normal_price"`
	ScrapedAt    time.Time `csv:"scraped_at" json:"scraped_at"`
}

// Merge builds the exported record for a stub. The stub itself is left untouched.
func (s ProductStub) Merge(detail *ProductDetail, category string, scrapedAt time.Time) *Product {
	p := &Product{
		Name:      s.Name,
		Link:      s.Link,
		Category:  category,
		ScrapedAt: scrapedAt,
	}
	if detail != nil {
		p.Description = detail.Description
		p.Schedule = detail.Schedule
		p.NappiCode = detail.NappiCode
		p.Barcode = detail.Barcode
		p.CurrentPrice = detail.CurrentPrice
		p.NormalPrice = detail.NormalPrice
	}
	return p
}

// StubFromLink rebuilds a stub from a cached link. The name is the last path segment.
func StubFromLink(link string) ProductStub {
	name := strings.TrimSpace(link)
	if trimmed := strings.TrimRight(name, "/"); trimmed != "" {
		name = path.Base(trimmed)
	}
	return ProductStub{Name: name, Link: strings.TrimSpace(link)}
}
