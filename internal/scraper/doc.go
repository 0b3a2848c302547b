// Package scraper defines the core types and interfaces shared across the
// scrape orchestration subsystems: the job queue, the worker pool, the
// extraction/mapping engine and the persistence layers.
package scraper
