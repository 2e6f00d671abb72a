package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const (
	detailInfoSelector  = "div.product.info.detailed"
	descriptionSelector = "div.product.attribute.description div.value"
	attributesSelector  = "table.data.table.additional-attributes"
	priceScopeSelector  = "div.product-info-main"
	finalPriceSelector  = `[data-price-type="finalPrice"]`
	oldPriceSelector    = `[data-price-type="oldPrice"]`
	priceAmountAttr     = "data-price-amount"

	scheduleLabel = "Product Drugschedule"
	nappiLabel    = "Product Nappi Code"
	barcodeLabel  = "Product Main Barcode"
)

// ExtractDetail reads a product page. It returns nil when the page carries no
// current price; every other missing field is left empty.
func ExtractDetail(markup string) *models.ProductDetail {
	doc, err := newDocument(markup)
	if err != nil {
		return nil
	}

	scope := doc.Find(priceScopeSelector).First()
	if scope.Length() == 0 {
		scope = doc.Selection
	}
	current, ok := priceAmount(scope, finalPriceSelector)
	if !ok {
		return nil
	}
	normal, _ := priceAmount(scope, oldPriceSelector)

	info := doc.Find(detailInfoSelector).First()
	table := info.Find(attributesSelector).First()

	return &models.ProductDetail{
		Description:  NormalizeText(info.Find(descriptionSelector).First().Text()),
		Schedule:     attributeValue(table, scheduleLabel),
		NappiCode:    attributeValue(table, nappiLabel),
		Barcode:      attributeValue(table, barcodeLabel),
		CurrentPrice: current,
		NormalPrice:  normal,
	}
}

func priceAmount(scope *goquery.Selection, selector string) (string, bool) {
	amount, ok := scope.Find(selector).First().Attr(priceAmountAttr)
	amount = strings.TrimSpace(amount)
	if !ok || amount == "" {
		return "", false
	}
	return amount, true
}

func attributeValue(table *goquery.Selection, label string) string {
	header := table.Find("th").FilterFunction(func(_ int, th *goquery.Selection) bool {
		return NormalizeText(th.Text()) == label
	}).First()
	if header.Length() == 0 {
		return ""
	}
	return NormalizeText(header.NextAllFiltered("td").First().Text())
}
