// Package parser extracts categories, product stubs and product details from
// the retailer's markup and normalises the values the scraper exports.
package parser

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ValidateProduct ensures the scraper captured the fields every export row needs.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Link) == "" {
		return fmt.Errorf("product missing link")
	}
	if strings.TrimSpace(p.CurrentPrice) == "" {
		return fmt.Errorf("product missing price for %s", p.Link)
	}
	return nil
}

// NormalizePrice removes currency symbols, thousands separators and whitespace,
// leaving a dot as the decimal separator. A trailing comma followed by exactly
// two digits is read as a decimal comma.
func NormalizePrice(price string) string {
	price = strings.ReplaceAll(price, "Â", "")
	price = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, price)
	price = strings.TrimLeft(price, "R£$€")

	comma := strings.LastIndex(price, ",")
	if comma > strings.LastIndex(price, ".") && isDecimalTail(price[comma+1:]) {
		whole := strings.NewReplacer(",", "", ".", "").Replace(price[:comma])
		return whole + "." + price[comma+1:]
	}
	return strings.ReplaceAll(price, ",", "")
}

func isDecimalTail(s string) bool {
	return len(s) == 2 && unicode.IsDigit(rune(s[0])) && unicode.IsDigit(rune(s[1]))
}

// NormalizeText collapses runs of whitespace into single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func newDocument(markup string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return doc, nil
}

func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() || base == "" {
		return ref.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
