package mapping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	idgen "github.com/mercadime/scraperd/internal/id/uuid"
	"github.com/mercadime/scraperd/internal/scraper"
	"github.com/mercadime/scraperd/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixture struct {
	svc      *Service
	labels   *memory.LabelStore
	mappings *memory.MappingStore
	entities *memory.EntityStore
}

func newFixture(t *testing.T, seed []scraper.Entity) *fixture {
	t.Helper()
	labels := memory.NewLabelStore()
	mappings := memory.NewMappingStore()
	entities := memory.NewEntityStore(seed)
	clock := fixedClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(mappings, labels, entities, clock, idgen.NewUUIDGenerator(), zap.NewNop(), 0.75)
	return &fixture{svc: svc, labels: labels, mappings: mappings, entities: entities}
}

func TestAdd_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, AddRequest{Kind: "flavor", Store: "mercadona", ExtractedLabel: "x"})
	require.ErrorIs(t, err, scraper.ErrValidation)

	_, err = f.svc.Add(ctx, AddRequest{Kind: scraper.LabelKindBrand, Store: "mercadona"})
	require.ErrorIs(t, err, scraper.ErrValidation)

	_, err = f.svc.Add(ctx, AddRequest{
		Kind:           scraper.LabelKindBrand,
		Store:          "mercadona",
		ExtractedLabel: "hacendado",
		MappedEntityID: "missing",
	})
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestAdd_ConflictAndOverwrite(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []scraper.Entity{
		{ID: "b-1", Kind: scraper.LabelKindBrand, Name: "Hacendado"},
		{ID: "b-2", Kind: scraper.LabelKindBrand, Name: "Carrefour"},
	})
	ctx := context.Background()
	req := AddRequest{
		Kind:           scraper.LabelKindBrand,
		Store:          "mercadona",
		ExtractedLabel: "hacendado",
		MappedEntityID: "b-1",
	}

	first, err := f.svc.Add(ctx, req)
	require.NoError(t, err)
	require.Equal(t, scraper.MappingMethodManual, first.Method)

	_, err = f.svc.Add(ctx, req)
	require.ErrorIs(t, err, scraper.ErrConflict)

	req.MappedEntityID = "b-2"
	req.Overwrite = true
	second, err := f.svc.Add(ctx, req)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	got, err := f.svc.Get(ctx, scraper.LabelKindBrand, "mercadona", "hacendado")
	require.NoError(t, err)
	require.Equal(t, "b-2", got.MappedEntityID)
}

func TestRemove_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.svc.Remove(ctx, "does-not-exist"))
	require.ErrorIs(t, f.svc.Remove(ctx, "  "), scraper.ErrValidation)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []scraper.Entity{{ID: "b-1", Kind: scraper.LabelKindBrand, Name: "Hacendado"}})
	ctx := context.Background()

	m, err := f.svc.Add(ctx, AddRequest{
		Kind:           scraper.LabelKindBrand,
		Store:          "mercadona",
		ExtractedLabel: "hacendado",
		MappedEntityID: "b-1",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Validate(ctx, m.ID))
	got, err := f.svc.Get(ctx, scraper.LabelKindBrand, "mercadona", "hacendado")
	require.NoError(t, err)
	require.True(t, got.Validated)

	require.ErrorIs(t, f.svc.Validate(ctx, "missing"), scraper.ErrNotFound)
}

// A frequently extracted label whose normalized form matches a canonical
// brand must clear the auto-accept threshold and come out mapped.
func TestAutoMap_CocaCola(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []scraper.Entity{
		{ID: "b-cc", Kind: scraper.LabelKindBrand, Name: "Coca-Cola"},
		{ID: "b-pe", Kind: scraper.LabelKindBrand, Name: "Pepsi"},
	})
	ctx := context.Background()

	require.NoError(t, f.labels.ReplaceScope(ctx, scraper.LabelKindBrand, "mercadona", []scraper.ExtractedLabel{
		{Name: "coca cola", Kind: scraper.LabelKindBrand, Frequency: 120, Confidence: 0.9},
		{Name: "zzqx", Kind: scraper.LabelKindBrand, Frequency: 1, Confidence: 0.2},
	}))

	res, err := f.svc.AutoMap(ctx, scraper.LabelKindBrand, "mercadona")
	require.NoError(t, err)
	require.Equal(t, 2, res.Considered)
	require.Equal(t, 1, res.Mapped)
	require.Equal(t, 1, res.Skipped)

	got, err := f.svc.Get(ctx, scraper.LabelKindBrand, "mercadona", "coca cola")
	require.NoError(t, err)
	require.Equal(t, "b-cc", got.MappedEntityID)
	require.Equal(t, scraper.MappingMethodAuto, got.Method)
	require.GreaterOrEqual(t, got.Confidence, 0.75)

	_, err = f.svc.Get(ctx, scraper.LabelKindBrand, "mercadona", "zzqx")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestAutoMap_SkipsValidatedMappings(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []scraper.Entity{
		{ID: "b-cc", Kind: scraper.LabelKindBrand, Name: "Coca-Cola"},
		{ID: "b-other", Kind: scraper.LabelKindBrand, Name: "Coca Cola Zero"},
	})
	ctx := context.Background()

	m, err := f.svc.Add(ctx, AddRequest{
		Kind:           scraper.LabelKindBrand,
		Store:          "mercadona",
		ExtractedLabel: "coca cola",
		MappedEntityID: "b-other",
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Validate(ctx, m.ID))

	require.NoError(t, f.labels.ReplaceScope(ctx, scraper.LabelKindBrand, "mercadona", []scraper.ExtractedLabel{
		{Name: "coca cola", Kind: scraper.LabelKindBrand, Frequency: 200, Confidence: 1},
	}))

	res, err := f.svc.AutoMap(ctx, scraper.LabelKindBrand, "mercadona")
	require.NoError(t, err)
	require.Zero(t, res.Mapped)
	require.Equal(t, 1, res.Skipped)

	got, err := f.svc.Get(ctx, scraper.LabelKindBrand, "mercadona", "coca cola")
	require.NoError(t, err)
	require.Equal(t, "b-other", got.MappedEntityID)
	require.Equal(t, scraper.MappingMethodManual, got.Method)
}

func TestAutoMap_OverwritesUnvalidatedAutoMappings(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []scraper.Entity{
		{ID: "b-cc", Kind: scraper.LabelKindBrand, Name: "Coca-Cola"},
	})
	ctx := context.Background()

	require.NoError(t, f.labels.ReplaceScope(ctx, scraper.LabelKindBrand, "mercadona", []scraper.ExtractedLabel{
		{Name: "coca cola", Kind: scraper.LabelKindBrand, Frequency: 50, Confidence: 0.8},
	}))

	res1, err := f.svc.AutoMap(ctx, scraper.LabelKindBrand, "mercadona")
	require.NoError(t, err)
	require.Equal(t, 1, res1.Mapped)

	// A second pass with fresher extraction data replaces the mapping
	// instead of returning a conflict.
	require.NoError(t, f.labels.ReplaceScope(ctx, scraper.LabelKindBrand, "mercadona", []scraper.ExtractedLabel{
		{Name: "coca cola", Kind: scraper.LabelKindBrand, Frequency: 150, Confidence: 1},
	}))
	res2, err := f.svc.AutoMap(ctx, scraper.LabelKindBrand, "mercadona")
	require.NoError(t, err)
	require.Equal(t, 1, res2.Mapped)

	got, err := f.svc.Get(ctx, scraper.LabelKindBrand, "mercadona", "coca cola")
	require.NoError(t, err)
	require.Equal(t, scraper.MappingMethodAuto, got.Method)
}

func TestAutoMap_NoEntities(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.labels.ReplaceScope(ctx, scraper.LabelKindBrand, "mercadona", []scraper.ExtractedLabel{
		{Name: "hacendado", Kind: scraper.LabelKindBrand, Frequency: 10, Confidence: 1},
	}))

	res, err := f.svc.AutoMap(ctx, scraper.LabelKindBrand, "mercadona")
	require.NoError(t, err)
	require.Zero(t, res.Mapped)
	require.Equal(t, 1, res.Skipped)
}
