// Package detector decides when a probe fetch needs a headless retry.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mercadime/scraperd/internal/scraper"
)

// Heuristic implements scraper.HeadlessDetector using simple HTML signals:
// a suspiciously small body, known JS-shell keywords, or required product
// selectors missing from the DOM.
type Heuristic struct {
	minHTMLBytes int
	selectors    []string
	keywords     [][]byte
}

// NewHeuristic constructs a Heuristic with the configured thresholds.
func NewHeuristic(minBytes int, selectors, keywords []string) *Heuristic {
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	return &Heuristic{
		minHTMLBytes: minBytes,
		selectors:    selectors,
		keywords:     lowerKeywords,
	}
}

// ShouldPromote inspects the probe result for signals that the page needs JS
// rendering.
func (d *Heuristic) ShouldPromote(resp scraper.FetchResponse) bool {
	if d == nil || resp.UsedHeadless {
		return false
	}
	switch {
	case d.bodyBelowThreshold(resp.Body):
		return true
	case d.containsKeywords(resp.Body):
		return true
	default:
		return d.missingSelectors(resp.Body)
	}
}

func (d *Heuristic) bodyBelowThreshold(body []byte) bool {
	return d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes
}

func (d *Heuristic) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *Heuristic) missingSelectors(body []byte) bool {
	if len(d.selectors) == 0 || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}
