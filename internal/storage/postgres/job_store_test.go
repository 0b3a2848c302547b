package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mercadime/scraperd/internal/scraper"
)

func TestSaveJobUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	created := time.Unix(1700000000, 0).UTC()
	job := scraper.Job{
		ID:          "job-1",
		Type:        scraper.JobTypeScrapeProducts,
		Store:       "mercadona",
		Status:      scraper.JobStatusWaiting,
		MaxAttempts: 4,
		CreatedAt:   created,
	}
	counters, err := json.Marshal(job.Counters)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			"job-1",
			string(scraper.JobTypeScrapeProducts),
			"mercadona",
			string(scraper.JobStatusWaiting),
			0,
			4,
			created,
			(*time.Time)(nil),
			(*time.Time)(nil),
			time.Time{},
			"",
			counters,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveJobRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	err = store.SaveJob(context.Background(), scraper.Job{})
	require.ErrorIs(t, err, scraper.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadJobsRestoresCounters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	created := time.Unix(1700000000, 0).UTC()
	started := created.Add(time.Minute)
	counters, err := json.Marshal(scraper.JobCounters{PagesFetched: 7, ProductsUpserted: 42})
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{
		"id", "type", "store", "status", "attempts", "max_attempts",
		"created_at", "started_at", "completed_at", "ready_at", "failed_reason", "counters",
	}).
		AddRow("job-1", string(scraper.JobTypeScrapeProducts), "mercadona", string(scraper.JobStatusActive),
			1, 4, created, &started, (*time.Time)(nil), time.Time{}, "", counters).
		AddRow("job-2", string(scraper.JobTypeDiscoverCategories), "dia", string(scraper.JobStatusDelayed),
			2, 3, created.Add(time.Second), (*time.Time)(nil), (*time.Time)(nil), created.Add(time.Hour), "connection refused", []byte(nil))

	mock.ExpectQuery("SELECT id, type, store, status").WillReturnRows(rows)

	jobs, err := store.LoadJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	require.Equal(t, scraper.JobStatusActive, jobs[0].Status)
	require.Equal(t, 7, jobs[0].Counters.PagesFetched)
	require.Equal(t, 42, jobs[0].Counters.ProductsUpserted)

	require.Equal(t, scraper.JobStatusDelayed, jobs[1].Status)
	require.Equal(t, "connection refused", jobs[1].FailedReason)
	require.Equal(t, created.Add(time.Hour), jobs[1].ReadyAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteJobUnknownIDIsNoError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM jobs").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.DeleteJob(context.Background(), "missing"))
	require.NoError(t, mock.ExpectationsWereMet())
}
