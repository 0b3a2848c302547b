package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mercadime/scraperd/internal/scraper"
)

func TestUpsertProductExecutesUpsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	p := scraper.Product{
		Store:       "mercadona",
		ExternalID:  "12345",
		Title:       "Coca Cola 1.5L",
		Brand:       "coca cola",
		Category:    "bebidas/refrescos",
		PriceCents:  159,
		Currency:    "EUR",
		URL:         "https://tienda.mercadona.es/product/12345",
		ContentHash: "abc123",
		ScrapedAt:   now,
	}

	mock.ExpectExec("INSERT INTO products").
		WithArgs(
			p.Store,
			p.ExternalID,
			p.Title,
			p.Brand,
			p.Category,
			p.PriceCents,
			p.Currency,
			p.URL,
			p.ContentHash,
			p.ScrapedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertProduct(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProductRejectsMissingKey(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStore(mock)
	require.NoError(t, err)

	err = store.UpsertProduct(context.Background(), scraper.Product{Store: "mercadona"})
	require.ErrorIs(t, err, scraper.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSampleTitlesScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT title FROM products").
		WithArgs("mercadona", 2).
		WillReturnRows(pgxmock.NewRows([]string{"title"}).
			AddRow("Coca Cola 1.5L").
			AddRow("Leche Hacendado 1L"))

	titles, err := store.SampleTitles(context.Background(), "mercadona", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"Coca Cola 1.5L", "Leche Hacendado 1L"}, titles)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListCategoriesScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT store, path, name, parent_path, url, discovered_at").
		WithArgs("mercadona").
		WillReturnRows(pgxmock.NewRows([]string{"store", "path", "name", "parent_path", "url", "discovered_at"}).
			AddRow("mercadona", "bebidas", "Bebidas", "", "https://x/bebidas", now).
			AddRow("mercadona", "bebidas/refrescos", "Refrescos", "bebidas", "https://x/refrescos", now))

	nodes, err := store.ListCategories(context.Background(), "mercadona")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Equal(t, "bebidas", nodes[1].Parent)
	require.NoError(t, mock.ExpectationsWereMet())
}
