package places

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geoJSONBody = `{
	"features": [
		{
			"geometry": {"coordinates": [37.62, 55.75]},
			"properties": {
				"name": "Cafe Central",
				"description": "Main St 1, Moscow",
				"CompanyMetaData": {"name": "Cafe Central", "address": "Main St 1"}
			}
		},
		{
			"geometry": {"coordinates": [37.63, 55.76]},
			"properties": {"name": "Nameless Park", "description": "Somewhere"}
		}
	]
}`

func newUpstream(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "coffee", r.URL.Query().Get("text"))
		assert.Equal(t, "biz", r.URL.Query().Get("type"))
		assert.NotEmpty(t, r.URL.Query().Get("ll"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(geoJSONBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchParsesUpstreamResponse(t *testing.T) {
	var hits atomic.Int64
	srv := newUpstream(t, &hits)

	s := NewService(Config{APIKey: "key", BaseURL: srv.URL}, srv.Client(), nil)
	got, err := s.Search(context.Background(), "coffee", 55.75, 37.62)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "Cafe Central", got[0].Name)
	assert.Equal(t, "Main St 1", got[0].Address)
	assert.InDelta(t, 55.75, got[0].Lat, 0.001)
	assert.InDelta(t, 37.62, got[0].Lon, 0.001)

	// The second feature has no company metadata and falls back to the
	// plain name and description.
	assert.Equal(t, "Nameless Park", got[1].Name)
	assert.Equal(t, "Somewhere", got[1].Address)
}

func TestSearchCachesResults(t *testing.T) {
	var hits atomic.Int64
	srv := newUpstream(t, &hits)

	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s := NewService(Config{BaseURL: srv.URL, CacheTTL: time.Minute}, srv.Client(), cache)
	ctx := context.Background()

	first, err := s.Search(ctx, "coffee", 55.75, 37.62)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	second, err := s.Search(ctx, "coffee", 55.75, 37.62)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load(), "second lookup must come from cache")
	assert.Equal(t, first, second)

	// Nearby coordinates map to the same rounded cache key.
	_, err = s.Search(ctx, "coffee", 55.7501, 37.6201)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	// Expired entries go upstream again.
	mr.FastForward(2 * time.Minute)
	_, err = s.Search(ctx, "coffee", 55.75, 37.62)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	s := NewService(Config{BaseURL: "http://unused"}, nil, nil)
	_, err := s.Search(context.Background(), "   ", 55.75, 37.62)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSearchUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	s := NewService(Config{BaseURL: srv.URL}, srv.Client(), nil)
	_, err := s.Search(context.Background(), "coffee", 55.75, 37.62)
	assert.ErrorIs(t, err, ErrUpstream)
}
