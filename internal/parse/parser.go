// Package parse turns fetched store HTML into domain objects with
// selector-driven goquery extraction.
package parse

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mercadime/scraperd/internal/scraper"
)

// Selectors describes where a store's markup keeps its data. Each supported
// store gets its own entry; markup differs per retailer but the shapes are
// the same.
type Selectors struct {
	CategoryLink  string
	ProductCell   string
	ProductTitle  string
	ProductPrice  string
	ProductIDAttr string
	ProductLink   string
	NextPageLink  string
	Currency      string
}

// SelectorParser implements scraper.Parser from a per-store selector table.
type SelectorParser struct {
	stores   map[string]Selectors
	fallback Selectors
}

// DefaultSelectors matches the common listing markup the supported Spanish
// retailers share.
func DefaultSelectors() Selectors {
	return Selectors{
		CategoryLink:  "nav a.category-link, .category-menu a",
		ProductCell:   ".product-cell, .product-card",
		ProductTitle:  ".product-cell__description-name, .product-title, h4",
		ProductPrice:  ".product-price__unit-price, .product-price",
		ProductIDAttr: "data-product-id",
		ProductLink:   "a",
		NextPageLink:  "a.next, a[rel=next]",
		Currency:      "EUR",
	}
}

// New constructs a SelectorParser. Stores without an entry fall back to the
// default selectors.
func New(stores map[string]Selectors) *SelectorParser {
	if stores == nil {
		stores = make(map[string]Selectors)
	}
	return &SelectorParser{stores: stores, fallback: DefaultSelectors()}
}

func (p *SelectorParser) selectors(store string) Selectors {
	if sel, ok := p.stores[store]; ok {
		return sel
	}
	return p.fallback
}

// Categories extracts category links from a taxonomy page.
func (p *SelectorParser) Categories(store string, body []byte, pageURL string) ([]scraper.CategoryNode, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse category page: %w", err)
	}
	sel := p.selectors(store)

	var nodes []scraper.CategoryNode
	seen := make(map[string]bool)
	doc.Find(sel.CategoryLink).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		abs := resolveURL(pageURL, href)
		name := strings.TrimSpace(s.Text())
		path := categoryPath(abs)
		if name == "" || path == "" || seen[path] {
			return
		}
		seen[path] = true
		nodes = append(nodes, scraper.CategoryNode{
			Store: store,
			Name:  name,
			Path:  path,
			URL:   abs,
		})
	})
	return nodes, nil
}

// Listing extracts products and the next-page link from a listing page.
func (p *SelectorParser) Listing(store string, body []byte, pageURL string) (scraper.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return scraper.Listing{}, fmt.Errorf("parse listing page: %w", err)
	}
	sel := p.selectors(store)

	var listing scraper.Listing
	doc.Find(sel.ProductCell).Each(func(_ int, cell *goquery.Selection) {
		title := strings.TrimSpace(cell.Find(sel.ProductTitle).First().Text())
		if title == "" {
			return
		}
		priceCents, ok := ParsePriceCents(cell.Find(sel.ProductPrice).First().Text())
		if !ok {
			return
		}
		id, _ := cell.Attr(sel.ProductIDAttr)
		productURL := ""
		if href, found := cell.Find(sel.ProductLink).First().Attr("href"); found {
			productURL = resolveURL(pageURL, href)
		}
		if id == "" {
			// Stores without stable ids get the URL path as key.
			id = categoryPath(productURL)
		}
		if id == "" {
			return
		}
		listing.Products = append(listing.Products, scraper.Product{
			Store:      store,
			ExternalID: id,
			Title:      title,
			PriceCents: priceCents,
			Currency:   sel.Currency,
			URL:        productURL,
		})
	})

	if href, ok := doc.Find(sel.NextPageLink).First().Attr("href"); ok {
		listing.NextPage = resolveURL(pageURL, href)
	}
	return listing, nil
}

var priceRe = regexp.MustCompile(`(\d+(?:[.,]\d{1,2})?)`)

// ParsePriceCents reads a display price like "1,59 €" or "2.30" into cents.
func ParsePriceCents(text string) (int64, bool) {
	m := priceRe.FindString(strings.TrimSpace(text))
	if m == "" {
		return 0, false
	}
	m = strings.ReplaceAll(m, ",", ".")
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return int64(v*100 + 0.5), true
}

func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

// categoryPath derives a stable slash path from a URL, e.g.
// https://shop/categorias/bebidas/refrescos -> bebidas/refrescos.
func categoryPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return ""
	}
	parts := strings.Split(path, "/")
	// Drop common routing prefixes so sibling stores produce parallel paths.
	for len(parts) > 1 {
		switch parts[0] {
		case "categorias", "categories", "c", "es":
			parts = parts[1:]
		default:
			return strings.Join(parts, "/")
		}
	}
	return strings.Join(parts, "/")
}
