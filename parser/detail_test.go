package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const fullDetailPage = `<html><body>
<div class="product-info-main">
  <div class="price-box">
    <span data-price-type="finalPrice" data-price-amount="89.95"><span class="price">R89.95</span></span>
    <span data-price-type="oldPrice" data-price-amount="109.99"><span class="price">R109.99</span></span>
  </div>
</div>
<div class="product info detailed">
  <div class="product attribute description">
    <div class="value">  Fast pain
      relief. </div>
  </div>
  <table class="data table additional-attributes">
    <tr><th>Product Drugschedule</th><td>S1</td></tr>
    <tr><th>Product Nappi Code</th><td> 712345001 </td></tr>
    <tr><th>Product Main Barcode</th><td>6001234567890</td></tr>
  </table>
</div>
<div class="block related">
  <span data-price-type="finalPrice" data-price-amount="1.00"></span>
</div>
</body></html>`

func TestExtractDetail(t *testing.T) {
	detail := ExtractDetail(fullDetailPage)
	require.NotNil(t, detail)

	assert.Equal(t, &models.ProductDetail{
		Description:  "Fast pain relief.",
		Schedule:     "S1",
		NappiCode:    "712345001",
		Barcode:      "6001234567890",
		CurrentPrice: "89.95",
		NormalPrice:  "109.99",
	}, detail)
}

func TestExtractDetailOptionalFieldsMissing(t *testing.T) {
	markup := `<html><body>
<div data-price-type="finalPrice" data-price-amount="12.00"></div>
<div class="product info detailed">
  <table class="data table additional-attributes">
    <tr><th>Product Main Barcode</th><td>600111</td></tr>
  </table>
</div>
</body></html>`

	detail := ExtractDetail(markup)
	require.NotNil(t, detail)
	assert.Equal(t, "12.00", detail.CurrentPrice)
	assert.Equal(t, "600111", detail.Barcode)
	assert.Empty(t, detail.Description)
	assert.Empty(t, detail.Schedule)
	assert.Empty(t, detail.NappiCode)
	assert.Empty(t, detail.NormalPrice)
}

func TestExtractDetailWithoutInfoBlock(t *testing.T) {
	detail := ExtractDetail(`<span data-price-type="finalPrice" data-price-amount="5.50"></span>`)
	require.NotNil(t, detail)
	assert.Equal(t, "5.50", detail.CurrentPrice)
	assert.Empty(t, detail.Barcode)
}

func TestExtractDetailMissingPrice(t *testing.T) {
	tests := []struct {
		name   string
		markup string
	}{
		{name: "no price element", markup: `<div class="product info detailed"><div class="product attribute description"><div class="value">Text</div></div></div>`},
		{name: "empty amount", markup: `<span data-price-type="finalPrice" data-price-amount=""></span>`},
		{name: "only old price", markup: `<span data-price-type="oldPrice" data-price-amount="10.00"></span>`},
		{name: "empty document", markup: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, ExtractDetail(tt.markup))
		})
	}
}
