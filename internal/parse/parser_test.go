package parse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const categoryHTML = `<html><body>
<nav>
  <a class="category-link" href="/categorias/bebidas">Bebidas</a>
  <a class="category-link" href="/categorias/bebidas">Bebidas</a>
  <a class="category-link" href="https://shop.example/categorias/lacteos">Lácteos</a>
  <a class="category-link" href="/categorias/">   </a>
</nav>
</body></html>`

const listingHTML = `<html><body>
<div class="product-cell" data-product-id="4711">
  <a href="/product/4711"><h4 class="product-cell__description-name">Coca Cola 1.5L</h4></a>
  <span class="product-price__unit-price">1,59 €</span>
</div>
<div class="product-cell" data-product-id="4712">
  <a href="/product/4712"><h4 class="product-cell__description-name">Pepsi 1.5L</h4></a>
  <span class="product-price__unit-price">1.39</span>
</div>
<div class="product-cell">
  <h4 class="product-cell__description-name">Sin precio</h4>
</div>
<a class="next" href="/categorias/refrescos?page=2">Siguiente</a>
</body></html>`

func TestCategoriesResolvesAndDedupes(t *testing.T) {
	t.Parallel()
	p := New(nil)

	nodes, err := p.Categories("mercadona", []byte(categoryHTML), "https://shop.example/")
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	require.Equal(t, "Bebidas", nodes[0].Name)
	require.Equal(t, "bebidas", nodes[0].Path)
	require.Equal(t, "https://shop.example/categorias/bebidas", nodes[0].URL)
	require.Equal(t, "lacteos", nodes[1].Path)
}

func TestListingParsesProductsAndNextPage(t *testing.T) {
	t.Parallel()
	p := New(nil)

	listing, err := p.Listing("mercadona", []byte(listingHTML), "https://shop.example/categorias/refrescos")
	require.NoError(t, err)
	require.Len(t, listing.Products, 2)

	first := listing.Products[0]
	require.Equal(t, "4711", first.ExternalID)
	require.Equal(t, "Coca Cola 1.5L", first.Title)
	require.Equal(t, int64(159), first.PriceCents)
	require.Equal(t, "EUR", first.Currency)
	require.Equal(t, "https://shop.example/product/4711", first.URL)

	require.Equal(t, int64(139), listing.Products[1].PriceCents)
	require.Equal(t, "https://shop.example/categorias/refrescos?page=2", listing.NextPage)
}

func TestParsePriceCents(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1,59 €", 159, true},
		{"2.30", 230, true},
		{"12 €", 1200, true},
		{"0,05€", 5, true},
		{"gratis", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePriceCents(tt.in)
		require.Equal(t, tt.ok, ok, "input %q", tt.in)
		require.Equal(t, tt.want, got, "input %q", tt.in)
	}
}
