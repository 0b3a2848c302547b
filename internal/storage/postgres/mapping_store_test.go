package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mercadime/scraperd/internal/scraper"
)

func TestAddMappingConflictWithoutOverwrite(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewMappingStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(scraper.LabelKindBrand, "mercadona", "coca cola").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	m := scraper.Mapping{
		ID:             "map-1",
		Kind:           scraper.LabelKindBrand,
		Store:          "mercadona",
		ExtractedLabel: "coca cola",
	}
	err = store.AddMapping(context.Background(), m, false)
	require.ErrorIs(t, err, scraper.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMappingOverwriteDeletesThenInserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewMappingStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	m := scraper.Mapping{
		ID:             "map-2",
		Kind:           scraper.LabelKindBrand,
		Store:          "mercadona",
		ExtractedLabel: "coca cola",
		MappedEntityID: "b-cc",
		Confidence:     0.91,
		Method:         scraper.MappingMethodAuto,
		MappedAt:       now,
	}

	mock.ExpectExec("DELETE FROM mappings").
		WithArgs(m.Kind, m.Store, m.ExtractedLabel).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO mappings").
		WithArgs(
			m.ID,
			m.Kind,
			m.Store,
			m.ExtractedLabel,
			m.MappedEntityID,
			m.Confidence,
			m.Method,
			m.MappedAt,
			m.Validated,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.AddMapping(context.Background(), m, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMappingNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewMappingStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, kind, store, extracted_label").
		WithArgs(scraper.LabelKindBrand, "mercadona", "ghost").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "kind", "store", "extracted_label", "mapped_entity_id",
			"confidence", "method", "mapped_at", "validated",
		}))

	_, err = store.GetMapping(context.Background(), scraper.LabelKindBrand, "mercadona", "ghost")
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateMappingNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewMappingStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE mappings SET validated").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.ValidateMapping(context.Background(), "missing")
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceScopeClearsThenInserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewMappingStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	label := scraper.ExtractedLabel{
		Name:          "hacendado",
		Kind:          scraper.LabelKindBrand,
		Frequency:     42,
		Sources:       []string{"mercadona"},
		Confidence:    0.8,
		Examples:      []string{"Leche Hacendado 1L"},
		LastExtracted: now,
	}

	mock.ExpectExec("DELETE FROM extracted_labels").
		WithArgs(scraper.LabelKindBrand, "mercadona").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO extracted_labels").
		WithArgs(
			scraper.LabelKindBrand,
			"mercadona",
			label.Name,
			label.Frequency,
			[]byte(`["mercadona"]`),
			label.Confidence,
			[]byte(`["Leche Hacendado 1L"]`),
			label.LastExtracted,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.ReplaceScope(context.Background(), scraper.LabelKindBrand, "mercadona", []scraper.ExtractedLabel{label})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
