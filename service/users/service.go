// Package users is the profile collaborator: lookups by chat identity,
// per-field onboarding updates, photo updates, live-location updates, and
// profile completion scoring.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/meetbot/core/logger"
)

var (
	// ErrNotFound indicates no profile exists for the chat.
	ErrNotFound = errors.New("user not found")
	// ErrValidation indicates invalid profile input.
	ErrValidation = errors.New("validation error")
)

// Age bounds accepted for profiles and preferences.
const (
	MinProfileAge = 18
	MaxProfileAge = 120
)

// User is a dating profile keyed by Telegram chat id.
type User struct {
	ChatID            int64      `db:"chat_id"`
	FirstName         string     `db:"first_name"`
	Username          string     `db:"username"`
	Description       string     `db:"description"`
	Interests         string     `db:"interests"`
	Age               int        `db:"age"`
	Gender            string     `db:"gender"`
	MinAge            int        `db:"min_age"`
	MaxAge            int        `db:"max_age"`
	GenderPreference  string     `db:"gender_preference"`
	PhotoFileID       string     `db:"photo_file_id"`
	Lat               float64    `db:"lat"`
	Lon               float64    `db:"lon"`
	LocationExpiresAt *time.Time `db:"location_expires_at"`
	Active            bool       `db:"active"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// Repository persists profiles.
type Repository interface {
	Upsert(ctx context.Context, u User) error
	ByChatID(ctx context.Context, chatID int64) (User, error)
	UpdateField(ctx context.Context, chatID int64, column string, value any) error
	UpdateLocation(ctx context.Context, chatID int64, lat, lon float64, expiresAt time.Time) error
}

// Service wraps profile operations with validation and logging.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds the profile service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Ensure creates or refreshes the base profile row for a chat.
func (s *Service) Ensure(ctx context.Context, chatID int64, firstName, username string) error {
	if chatID <= 0 {
		return fmt.Errorf("invalid chat id: %w", ErrValidation)
	}
	err := s.repo.Upsert(ctx, User{
		ChatID:    chatID,
		FirstName: strings.TrimSpace(firstName),
		Username:  strings.TrimSpace(username),
		Active:    true,
	})
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", chatID, err)
	}
	logger.SVCUsers.LogAttrs(ctx, slog.LevelDebug, "user.ensure",
		slog.String("event", "user.ensure"),
		slog.String("status", "ok"),
		slog.Int64("chat_id", chatID),
	)
	return nil
}

// ByChatID loads the profile for a chat.
func (s *Service) ByChatID(ctx context.Context, chatID int64) (User, error) {
	return s.repo.ByChatID(ctx, chatID)
}

// GetUserByTelegramID aliases ByChatID for generic helpers that resolve the
// current user from transport metadata.
func (s *Service) GetUserByTelegramID(ctx context.Context, chatID int64) (User, error) {
	return s.ByChatID(ctx, chatID)
}

// UpdateDescription stores the free-text self description.
func (s *Service) UpdateDescription(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty description: %w", ErrValidation)
	}
	return s.updateField(ctx, chatID, "description", text)
}

// UpdateInterests stores the interests line.
func (s *Service) UpdateInterests(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty interests: %w", ErrValidation)
	}
	return s.updateField(ctx, chatID, "interests", text)
}

// UpdateAge stores the profile age.
func (s *Service) UpdateAge(ctx context.Context, chatID int64, age int) error {
	if age < MinProfileAge || age > MaxProfileAge {
		return fmt.Errorf("age out of range: %w", ErrValidation)
	}
	return s.updateField(ctx, chatID, "age", age)
}

// UpdateGender stores the profile gender.
func (s *Service) UpdateGender(ctx context.Context, chatID int64, gender string) error {
	gender = normalizeGender(gender)
	if gender == "" {
		return fmt.Errorf("unknown gender: %w", ErrValidation)
	}
	return s.updateField(ctx, chatID, "gender", gender)
}

// UpdateMinAge stores the lower bound of the preferred age range.
func (s *Service) UpdateMinAge(ctx context.Context, chatID int64, age int) error {
	if age < MinProfileAge || age > MaxProfileAge {
		return fmt.Errorf("min age out of range: %w", ErrValidation)
	}
	return s.updateField(ctx, chatID, "min_age", age)
}

// UpdateMaxAge stores the upper bound of the preferred age range.
func (s *Service) UpdateMaxAge(ctx context.Context, chatID int64, age int) error {
	if age < MinProfileAge || age > MaxProfileAge {
		return fmt.Errorf("max age out of range: %w", ErrValidation)
	}
	return s.updateField(ctx, chatID, "max_age", age)
}

// UpdateGenderPreference stores who the user wants to see in search.
func (s *Service) UpdateGenderPreference(ctx context.Context, chatID int64, pref string) error {
	pref = normalizePreference(pref)
	if pref == "" {
		return fmt.Errorf("unknown preference: %w", ErrValidation)
	}
	return s.updateField(ctx, chatID, "gender_preference", pref)
}

// UpdatePhoto stores the profile photo file id.
func (s *Service) UpdatePhoto(ctx context.Context, chatID int64, fileID string) error {
	if strings.TrimSpace(fileID) == "" {
		return fmt.Errorf("empty photo file id: %w", ErrValidation)
	}
	return s.updateField(ctx, chatID, "photo_file_id", fileID)
}

// UpdateLocation stores fresh coordinates valid for the given live-location
// duration.
func (s *Service) UpdateLocation(ctx context.Context, chatID int64, lat, lon float64, durationHours int) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("coordinates out of range: %w", ErrValidation)
	}
	if durationHours <= 0 {
		durationHours = 1
	}
	expires := s.now().Add(time.Duration(durationHours) * time.Hour)
	if err := s.repo.UpdateLocation(ctx, chatID, lat, lon, expires); err != nil {
		return fmt.Errorf("update location %d: %w", chatID, err)
	}
	logger.SVCUsers.LogAttrs(ctx, slog.LevelDebug, "user.location",
		slog.String("event", "user.location"),
		slog.String("status", "ok"),
		slog.Int64("chat_id", chatID),
	)
	return nil
}

func (s *Service) updateField(ctx context.Context, chatID int64, column string, value any) error {
	if chatID <= 0 {
		return fmt.Errorf("invalid chat id: %w", ErrValidation)
	}
	if err := s.repo.UpdateField(ctx, chatID, column, value); err != nil {
		return fmt.Errorf("update %s for %d: %w", column, chatID, err)
	}
	return nil
}

// CompletionPercentage scores how filled a profile is. Description,
// interests, age, gender, and photo weigh equally.
func CompletionPercentage(u User) int {
	filled := 0
	if strings.TrimSpace(u.Description) != "" {
		filled++
	}
	if strings.TrimSpace(u.Interests) != "" {
		filled++
	}
	if u.Age > 0 {
		filled++
	}
	if strings.TrimSpace(u.Gender) != "" {
		filled++
	}
	if strings.TrimSpace(u.PhotoFileID) != "" {
		filled++
	}
	return filled * 100 / 5
}

func normalizeGender(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "male", "m", "man":
		return "male"
	case "female", "f", "woman":
		return "female"
	case "other":
		return "other"
	}
	return ""
}

func normalizePreference(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "male", "men", "m":
		return "male"
	case "female", "women", "f":
		return "female"
	case "any", "all", "everyone":
		return "any"
	}
	return ""
}
