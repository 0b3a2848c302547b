package security

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPResolver_ResolveAndCache(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/198.51.100.30", r.URL.Path)
		fmt.Fprint(w, `{"city":"Sevilla","country":"Spain","isp":"Vodafone"}`)
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.Client(), srv.URL)
	ctx := context.Background()

	info, err := resolver.Resolve(ctx, "198.51.100.30")
	require.NoError(t, err)
	require.Equal(t, "Sevilla", info.City)
	require.Equal(t, "Spain", info.Country)
	require.Equal(t, "Vodafone", info.ISP)

	// Second lookup is served from cache.
	info, err = resolver.Resolve(ctx, "198.51.100.30")
	require.NoError(t, err)
	require.Equal(t, "Sevilla", info.City)
	require.EqualValues(t, 1, hits.Load())
}

func TestHTTPResolver_UpstreamError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.Client(), srv.URL)
	_, err := resolver.Resolve(context.Background(), "198.51.100.31")
	require.Error(t, err)
}
