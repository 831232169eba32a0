// Package places looks up venues near a point through the Yandex place
// search API, with a redis cache in front so repeated queries for the same
// spot do not hit the upstream.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/meetbot/core/logger"
)

var (
	// ErrValidation indicates an empty or malformed query.
	ErrValidation = errors.New("validation error")
	// ErrUpstream indicates the place API answered with a non-OK status.
	ErrUpstream = errors.New("place lookup upstream error")
)

const defaultBaseURL = "https://search-maps.yandex.ru/v1/"

// Place is one venue suggestion.
type Place struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Config controls the place lookup client.
type Config struct {
	APIKey   string
	BaseURL  string
	Results  int
	CacheTTL time.Duration
}

// Service is the place lookup client.
type Service struct {
	cfg   Config
	http  *http.Client
	cache *redis.Client
}

// NewService builds the client. The redis client may be nil, in which case
// every lookup goes upstream.
func NewService(cfg Config, httpClient *http.Client, cache *redis.Client) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Results <= 0 {
		cfg.Results = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{cfg: cfg, http: httpClient, cache: cache}
}

// response mirrors the GeoJSON shape of the search-maps API, unknown fields
// ignored.
type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"` // lon, lat
	} `json:"geometry"`
	Properties struct {
		Name            string `json:"name"`
		Description     string `json:"description"`
		CompanyMetaData struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"CompanyMetaData"`
	} `json:"properties"`
}

// Search returns venues matching the query near the given point.
func (s *Service) Search(ctx context.Context, query string, lat, lon float64) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query: %w", ErrValidation)
	}

	key := cacheKey(query, lat, lon)
	if cached, ok := s.fromCache(ctx, key); ok {
		logger.Debug(ctx, "service.places", "places.search",
			slog.String("status", "ok"),
			slog.String("cache", "hit"),
			slog.Int("count", len(cached)),
		)
		return cached, nil
	}

	places, err := s.fetch(ctx, query, lat, lon)
	if err != nil {
		logger.Error(ctx, "service.places", "places.search",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return nil, err
	}
	s.toCache(ctx, key, places)
	logger.Debug(ctx, "service.places", "places.search",
		slog.String("status", "ok"),
		slog.String("cache", "miss"),
		slog.Int("count", len(places)),
	)
	return places, nil
}

func (s *Service) fetch(ctx context.Context, query string, lat, lon float64) ([]Place, error) {
	params := url.Values{}
	params.Set("text", query)
	params.Set("type", "biz")
	params.Set("lang", "en_US")
	params.Set("ll", fmt.Sprintf("%f,%f", lon, lat))
	params.Set("results", fmt.Sprintf("%d", s.cfg.Results))
	if s.cfg.APIKey != "" {
		params.Set("apikey", s.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build place request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("place request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %s", ErrUpstream, resp.Status)
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode place response: %w", err)
	}

	out := make([]Place, 0, len(parsed.Features))
	for _, f := range parsed.Features {
		p := Place{
			Name:    f.Properties.CompanyMetaData.Name,
			Address: f.Properties.CompanyMetaData.Address,
		}
		if p.Name == "" {
			p.Name = f.Properties.Name
		}
		if p.Address == "" {
			p.Address = f.Properties.Description
		}
		if len(f.Geometry.Coordinates) == 2 {
			p.Lon = f.Geometry.Coordinates[0]
			p.Lat = f.Geometry.Coordinates[1]
		}
		if p.Name == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) fromCache(ctx context.Context, key string) ([]Place, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var out []Place
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (s *Service) toCache(ctx context.Context, key string, places []Place) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(places)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cfg.CacheTTL).Err(); err != nil {
		logger.Warn(ctx, "service.places", "places.cache",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

// cacheKey rounds coordinates to ~100 m so nearby lookups share one entry.
func cacheKey(query string, lat, lon float64) string {
	return fmt.Sprintf("places:%s:%.3f:%.3f", strings.ToLower(query), lat, lon)
}
