// Package telemetry exposes Prometheus metrics for the scraper service.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCompleted tracks completed scrape jobs per store and type.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraperd_jobs_completed_total",
		Help: "The total number of scrape jobs that finished successfully.",
	}, []string{"store", "type"})
	// JobsFailed tracks failed scrape job attempts per store and type.
	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraperd_jobs_failed_total",
		Help: "The total number of scrape job attempts that failed.",
	}, []string{"store", "type"})
	// PagesFetched tracks fetched pages per store.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraperd_pages_fetched_total",
		Help: "The total number of pages fetched.",
	}, []string{"store"})
	// ProductsUpserted tracks catalog rows written per store.
	ProductsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraperd_products_upserted_total",
		Help: "The total number of product rows upserted.",
	}, []string{"store"})
	// HeadlessPromotions tracks probe fetches promoted to a browser render.
	HeadlessPromotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraperd_headless_promotions_total",
		Help: "The total number of fetches promoted to headless rendering.",
	})
	// RequestsBlocked tracks image-proxy requests rejected by the gate.
	RequestsBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraperd_requests_blocked_total",
		Help: "The total number of proxied requests rejected by the security gate.",
	}, []string{"reason"})
)
