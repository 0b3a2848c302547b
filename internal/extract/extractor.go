// Package extract derives candidate brand and category labels from scraped
// catalog text.
package extract

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mercadime/scraperd/internal/match"
	"github.com/mercadime/scraperd/internal/scraper"
)

const (
	defaultSampleSize = 500
	maxNgramWords     = 3
	maxExamples       = 5
)

// quantityToken matches pack sizes and units that terminate a brand prefix:
// "1.5L", "2x", "500g", "12uds".
var quantityToken = regexp.MustCompile(`^\d+([.,]\d+)?\s*(l|ml|cl|kg|g|gr|mg|x|un|ud|uds|pack|u)?$`)

// stopwords never start or continue a brand label.
var stopwords = map[string]struct{}{
	"de": {}, "la": {}, "el": {}, "los": {}, "las": {}, "con": {}, "sin": {},
	"para": {}, "del": {}, "y": {}, "o": {}, "al": {}, "en": {},
	"oferta": {}, "nuevo": {}, "pack": {}, "formato": {},
}

// Config controls one extraction pass.
type Config struct {
	SampleSize int
}

// Result summarizes an extraction pass. Per-store fetch errors are tolerated:
// the pass reports what it extracted and which stores failed rather than
// aborting entirely.
type Result struct {
	ExtractedCount int              `json:"extracted_count"`
	PerStore       map[string]int   `json:"per_store"`
	FailedStores   map[string]error `json:"-"`
}

// Extractor runs sampling + tokenization + aggregation over the catalog.
type Extractor struct {
	products   scraper.ProductStore
	categories scraper.CategoryStore
	labels     scraper.LabelStore
	clock      scraper.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Extractor.
func New(
	products scraper.ProductStore,
	categories scraper.CategoryStore,
	labels scraper.LabelStore,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Extractor {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = defaultSampleSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		products:   products,
		categories: categories,
		labels:     labels,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run extracts labels of the given kind for the listed stores. Re-running
// replaces the previous extraction for each store in scope.
func (e *Extractor) Run(ctx context.Context, kind scraper.LabelKind, stores []string) (Result, error) {
	result := Result{
		PerStore:     make(map[string]int, len(stores)),
		FailedStores: make(map[string]error),
	}
	agg := newAggregator()

	for _, store := range stores {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("extraction canceled: %w", err)
		}
		texts, err := e.sourceTexts(ctx, kind, store)
		if err != nil {
			result.FailedStores[store] = err
			e.logger.Warn("extraction skipped store",
				zap.String("store", store),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			continue
		}
		for _, text := range texts {
			for _, cand := range candidates(kind, text) {
				agg.observe(store, cand, text)
			}
		}
	}

	now := e.clock.Now()
	for _, store := range stores {
		if _, failed := result.FailedStores[store]; failed {
			continue
		}
		labels := agg.labelsForStore(kind, store, now)
		if err := e.labels.ReplaceScope(ctx, kind, store, labels); err != nil {
			result.FailedStores[store] = fmt.Errorf("replace labels: %w", err)
			continue
		}
		result.PerStore[store] = len(labels)
		result.ExtractedCount += len(labels)
	}

	e.logger.Info("extraction completed",
		zap.String("kind", string(kind)),
		zap.Int("extracted", result.ExtractedCount),
		zap.Int("failed_stores", len(result.FailedStores)),
	)
	return result, nil
}

func (e *Extractor) sourceTexts(ctx context.Context, kind scraper.LabelKind, store string) ([]string, error) {
	if kind == scraper.LabelKindCategory {
		nodes, err := e.categories.ListCategories(ctx, store)
		if err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		texts := make([]string, 0, len(nodes))
		for _, n := range nodes {
			texts = append(texts, n.Name)
		}
		return texts, nil
	}
	titles, err := e.products.SampleTitles(ctx, store, e.cfg.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("sample titles: %w", err)
	}
	return titles, nil
}

// candidate is one tokenized label occurrence. Clean means the label was
// terminated by a quantity/unit token or the end of the text, which is strong
// evidence the prefix is a complete brand name.
type candidate struct {
	label string
	clean bool
}

// candidates segments source text into label candidates. For brands these
// are the leading 1..3-word n-grams of the title; for categories the whole
// (normalized) node name.
func candidates(kind scraper.LabelKind, text string) []candidate {
	normalized := match.Normalize(text)
	if normalized == "" {
		return nil
	}
	if kind == scraper.LabelKindCategory {
		return []candidate{{label: normalized, clean: true}}
	}

	tokens := strings.Fields(normalized)
	var out []candidate
	for n := 1; n <= maxNgramWords && n <= len(tokens); n++ {
		prefix := tokens[:n]
		if !validBrandTokens(prefix) {
			break
		}
		clean := n == len(tokens) || terminates(tokens[n])
		out = append(out, candidate{label: strings.Join(prefix, " "), clean: clean})
		if clean {
			break
		}
	}
	return out
}

func validBrandTokens(tokens []string) bool {
	for _, tok := range tokens {
		if _, stop := stopwords[tok]; stop {
			return false
		}
		if quantityToken.MatchString(tok) {
			return false
		}
	}
	return true
}

func terminates(next string) bool {
	if _, stop := stopwords[next]; stop {
		return true
	}
	return quantityToken.MatchString(next)
}

type labelAgg struct {
	frequency int
	clean     int
	sources   map[string]struct{}
	perStore  map[string]int
	examples  []string
}

type aggregator struct {
	labels map[string]*labelAgg
}

func newAggregator() *aggregator {
	return &aggregator{labels: make(map[string]*labelAgg)}
}

func (a *aggregator) observe(store string, c candidate, example string) {
	agg, ok := a.labels[c.label]
	if !ok {
		agg = &labelAgg{
			sources:  make(map[string]struct{}),
			perStore: make(map[string]int),
		}
		a.labels[c.label] = agg
	}
	agg.frequency++
	agg.perStore[store]++
	if c.clean {
		agg.clean++
	}
	agg.sources[store] = struct{}{}
	if len(agg.examples) < maxExamples {
		agg.examples = append(agg.examples, example)
	}
}

func (a *aggregator) labelsForStore(kind scraper.LabelKind, store string, now time.Time) []scraper.ExtractedLabel {
	var out []scraper.ExtractedLabel
	for name, agg := range a.labels {
		freq, present := agg.perStore[store]
		if !present {
			continue
		}
		sources := make([]string, 0, len(agg.sources))
		for s := range agg.sources {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		out = append(out, scraper.ExtractedLabel{
			Name:          name,
			Kind:          kind,
			Frequency:     freq,
			Sources:       sources,
			Confidence:    float64(agg.clean) / float64(agg.frequency),
			Examples:      append([]string(nil), agg.examples...),
			LastExtracted: now,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Name < out[j].Name
	})
	return out
}
