// Package search finds nearby candidates for a chat, honoring the viewer's
// age range and gender preference.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/meetbot/core/logger"
)

var (
	// ErrValidation indicates invalid search input.
	ErrValidation = errors.New("validation error")
	// ErrNoLocation indicates the viewer has no fresh location on record.
	ErrNoLocation = errors.New("no fresh location")
)

// Candidate is a nearby user surfaced by search, navigable one at a time.
type Candidate struct {
	UserID      int64   `db:"chat_id"`
	Name        string  `db:"first_name"`
	Age         int     `db:"age"`
	Gender      string  `db:"gender"`
	Description string  `db:"description"`
	Interests   string  `db:"interests"`
	PhotoFileID string  `db:"photo_file_id"`
	DistanceKM  float64 `db:"distance_km"`
}

// Viewer carries the searcher's own coordinates, profile and preferences.
// Age and Gender feed the reverse match: a candidate is only surfaced when
// the viewer also fits the candidate's own preference and age range.
type Viewer struct {
	ChatID           int64
	Lat              float64
	Lon              float64
	Age              int
	Gender           string
	MinAge           int
	MaxAge           int
	GenderPreference string
}

// Repository lists candidates around a point.
type Repository interface {
	ListNearby(ctx context.Context, q Query) ([]Candidate, error)
}

// Query is the repository-level search request.
type Query struct {
	Viewer   Viewer
	RadiusKM int
	Limit    int
}

// Config bounds search parameters.
type Config struct {
	DefaultRadiusKM int
	MaxRadiusKM     int
	MaxCandidates   int
}

// Service validates search requests and queries the repository.
type Service struct {
	repo Repository
	cfg  Config
}

// NewService builds a search service with sane defaults for zeroed config.
func NewService(repo Repository, cfg Config) *Service {
	if cfg.DefaultRadiusKM <= 0 {
		cfg.DefaultRadiusKM = 5
	}
	if cfg.MaxRadiusKM <= 0 {
		cfg.MaxRadiusKM = 50
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 10
	}
	return &Service{repo: repo, cfg: cfg}
}

// Nearby returns candidates around the viewer ordered by distance.
func (s *Service) Nearby(ctx context.Context, viewer Viewer, radiusKM int) ([]Candidate, error) {
	if viewer.ChatID <= 0 {
		return nil, fmt.Errorf("invalid chat id: %w", ErrValidation)
	}
	if viewer.Lat == 0 && viewer.Lon == 0 {
		return nil, ErrNoLocation
	}
	if radiusKM <= 0 {
		radiusKM = s.cfg.DefaultRadiusKM
	}
	if radiusKM > s.cfg.MaxRadiusKM {
		radiusKM = s.cfg.MaxRadiusKM
	}

	start := time.Now()
	list, err := s.repo.ListNearby(ctx, Query{Viewer: viewer, RadiusKM: radiusKM, Limit: s.cfg.MaxCandidates})
	if err != nil {
		logger.Error(ctx, "service.search", "nearby.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", viewer.ChatID),
			slog.Int("radius_km", radiusKM),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("list nearby: %w", err)
	}
	logger.Debug(ctx, "service.search", "nearby.done",
		slog.String("status", "ok"),
		slog.Int64("chat_id", viewer.ChatID),
		slog.Int("radius_km", radiusKM),
		slog.Int("candidates", len(list)),
		slog.Duration("duration_ms", logger.Took(start)),
	)
	return list, nil
}
