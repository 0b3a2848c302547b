package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	queuemem "github.com/mercadime/scraperd/internal/queue/memory"
	"github.com/mercadime/scraperd/internal/scraper"
	"github.com/mercadime/scraperd/internal/security"
	"github.com/mercadime/scraperd/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type fakePolicy struct{}

func (fakePolicy) ShouldRetry(_ error, attempt, maxAttempts int) bool { return attempt < maxAttempts }
func (fakePolicy) Backoff(int) time.Duration                         { return time.Millisecond }

func newScheduler(t *testing.T) (*Scheduler, *queuemem.Queue, *memory.ProductStore, *memory.SecurityStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	settings := memory.NewSettingsStore(map[string]scraper.StoreSettings{
		"mercadona": {
			Enabled:                true,
			BaseURL:                "https://shop.example/",
			MaxConcurrency:         1,
			RetryCount:             1,
			ProductUpdateFrequency: 24 * time.Hour,
		},
	})
	queue := queuemem.New(settings, fakePolicy{}, clock, zap.NewNop())
	products := memory.NewProductStore()
	events := memory.NewSecurityStore()
	configs := memory.NewProxyConfigStore(clock)
	s := New(queue, settings, products, events, configs, security.NewCounterStore(), clock, &seqIDs{},
		Config{TerminalJobTTL: time.Hour}, zap.NewNop())
	return s, queue, products, events, clock
}

func TestRefreshEnqueuesStaleStores(t *testing.T) {
	t.Parallel()
	s, queue, _, _, _ := newScheduler(t)
	ctx := context.Background()

	// Never scraped: due immediately.
	s.RunRefresh(ctx)

	jobs, err := queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, scraper.JobTypeScrapeProducts, jobs[0].Type)
	require.Equal(t, "mercadona", jobs[0].Store)
}

func TestRefreshSkipsStoresWithPendingJob(t *testing.T) {
	t.Parallel()
	s, queue, _, _, _ := newScheduler(t)
	ctx := context.Background()

	s.RunRefresh(ctx)
	s.RunRefresh(ctx)

	jobs, err := queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "a waiting scrape job must suppress a duplicate")
}

func TestRefreshHonorsUpdateFrequency(t *testing.T) {
	t.Parallel()
	s, queue, products, _, clock := newScheduler(t)
	ctx := context.Background()

	require.NoError(t, products.UpsertProduct(ctx, scraper.Product{
		Store: "mercadona", ExternalID: "1", Title: "Coca Cola 1.5L", ScrapedAt: clock.now,
	}))

	s.RunRefresh(ctx)
	jobs, err := queue.List(ctx)
	require.NoError(t, err)
	require.Empty(t, jobs, "a fresh catalog must not be re-enqueued")

	clock.now = clock.now.Add(25 * time.Hour)
	s.RunRefresh(ctx)
	jobs, err = queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestJanitorPrunesOldEvents(t *testing.T) {
	t.Parallel()
	s, _, _, events, clock := newScheduler(t)
	ctx := context.Background()

	old := scraper.SecurityEvent{ID: "old", IP: "1.1.1.1", CreatedAt: clock.now.Add(-40 * 24 * time.Hour)}
	fresh := scraper.SecurityEvent{ID: "fresh", IP: "1.1.1.1", CreatedAt: clock.now.Add(-time.Hour)}
	require.NoError(t, events.AppendEvent(ctx, old))
	require.NoError(t, events.AppendEvent(ctx, fresh))

	s.RunJanitor(ctx)

	remaining, err := events.ListEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "fresh", remaining[0].ID)
}
