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

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func TestProxyConfigLoadWritesDefaultsOnFirstAccess(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewProxyConfigStore(mock, fixedClock{now: now})
	require.NoError(t, err)

	want := scraper.DefaultProxyConfig()
	want.UpdatedAt = now
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT config FROM proxy_config").
		WillReturnRows(pgxmock.NewRows([]string{"config"}))
	mock.ExpectExec("INSERT INTO proxy_config").
		WithArgs(raw, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	cfg, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, cfg)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProxyConfigLoadReturnsStoredRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProxyConfigStore(mock, fixedClock{now: time.Unix(1700000000, 0).UTC()})
	require.NoError(t, err)

	stored := scraper.DefaultProxyConfig()
	stored.Blacklist = []string{"203.0.113.9"}
	stored.UpdatedAt = time.Unix(1690000000, 0).UTC()
	raw, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT config FROM proxy_config").
		WillReturnRows(pgxmock.NewRows([]string{"config"}).AddRow(raw))

	cfg, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, stored, cfg)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProxyConfigBlockIPPersistsBlacklist(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewProxyConfigStore(mock, fixedClock{now: now})
	require.NoError(t, err)

	stored := scraper.DefaultProxyConfig()
	stored.UpdatedAt = time.Unix(1690000000, 0).UTC()
	storedRaw, err := json.Marshal(stored)
	require.NoError(t, err)

	blocked := stored
	blocked.Blacklist = []string{"203.0.113.9"}
	blocked.UpdatedAt = now
	blockedRaw, err := json.Marshal(blocked)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT config FROM proxy_config").
		WillReturnRows(pgxmock.NewRows([]string{"config"}).AddRow(storedRaw))
	mock.ExpectExec("INSERT INTO proxy_config").
		WithArgs(blockedRaw, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.BlockIP(context.Background(), "203.0.113.9"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProxyConfigBlockIPAlreadyBlockedSkipsWrite(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProxyConfigStore(mock, fixedClock{now: time.Unix(1700000000, 0).UTC()})
	require.NoError(t, err)

	stored := scraper.DefaultProxyConfig()
	stored.Blacklist = []string{"203.0.113.9"}
	stored.UpdatedAt = time.Unix(1690000000, 0).UTC()
	raw, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT config FROM proxy_config").
		WillReturnRows(pgxmock.NewRows([]string{"config"}).AddRow(raw))

	require.NoError(t, store.BlockIP(context.Background(), "203.0.113.9"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProxyConfigUnblockIPRemovesEntry(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewProxyConfigStore(mock, fixedClock{now: now})
	require.NoError(t, err)

	stored := scraper.DefaultProxyConfig()
	stored.Blacklist = []string{"203.0.113.9", "198.51.100.4"}
	stored.UpdatedAt = time.Unix(1690000000, 0).UTC()
	storedRaw, err := json.Marshal(stored)
	require.NoError(t, err)

	unblocked := stored
	unblocked.Blacklist = []string{"198.51.100.4"}
	unblocked.UpdatedAt = now
	unblockedRaw, err := json.Marshal(unblocked)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT config FROM proxy_config").
		WillReturnRows(pgxmock.NewRows([]string{"config"}).AddRow(storedRaw))
	mock.ExpectExec("INSERT INTO proxy_config").
		WithArgs(unblockedRaw, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UnblockIP(context.Background(), "203.0.113.9"))
	require.NoError(t, mock.ExpectationsWereMet())
}
