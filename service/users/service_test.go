package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	fields  map[string]any
	users   map[int64]User
	lastLoc struct {
		lat, lon float64
		expires  time.Time
	}
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{fields: make(map[string]any), users: make(map[int64]User)}
}

func (r *fakeRepo) Upsert(_ context.Context, u User) error {
	r.users[u.ChatID] = u
	return nil
}

func (r *fakeRepo) ByChatID(_ context.Context, chatID int64) (User, error) {
	u, ok := r.users[chatID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *fakeRepo) UpdateField(_ context.Context, _ int64, column string, value any) error {
	r.fields[column] = value
	return nil
}

func (r *fakeRepo) UpdateLocation(_ context.Context, _ int64, lat, lon float64, expiresAt time.Time) error {
	r.lastLoc.lat = lat
	r.lastLoc.lon = lon
	r.lastLoc.expires = expiresAt
	return nil
}

func TestUpdateAgeValidatesRange(t *testing.T) {
	repo := newFakeRepo()
	s := NewService(repo)
	ctx := context.Background()

	assert.ErrorIs(t, s.UpdateAge(ctx, 100, 17), ErrValidation)
	assert.ErrorIs(t, s.UpdateAge(ctx, 100, 121), ErrValidation)

	require.NoError(t, s.UpdateAge(ctx, 100, 18))
	assert.Equal(t, 18, repo.fields["age"])
}

func TestUpdateGenderNormalizes(t *testing.T) {
	repo := newFakeRepo()
	s := NewService(repo)
	ctx := context.Background()

	require.NoError(t, s.UpdateGender(ctx, 100, "  Female "))
	assert.Equal(t, "female", repo.fields["gender"])

	require.NoError(t, s.UpdateGender(ctx, 100, "M"))
	assert.Equal(t, "male", repo.fields["gender"])

	assert.ErrorIs(t, s.UpdateGender(ctx, 100, "yes"), ErrValidation)
}

func TestUpdateGenderPreferenceNormalizes(t *testing.T) {
	repo := newFakeRepo()
	s := NewService(repo)
	ctx := context.Background()

	require.NoError(t, s.UpdateGenderPreference(ctx, 100, "Everyone"))
	assert.Equal(t, "any", repo.fields["gender_preference"])

	assert.ErrorIs(t, s.UpdateGenderPreference(ctx, 100, "??"), ErrValidation)
}

func TestUpdateDescriptionRejectsEmpty(t *testing.T) {
	s := NewService(newFakeRepo())
	assert.ErrorIs(t, s.UpdateDescription(context.Background(), 100, "   "), ErrValidation)
}

func TestUpdateLocationValidatesCoordinates(t *testing.T) {
	s := NewService(newFakeRepo())
	ctx := context.Background()

	assert.ErrorIs(t, s.UpdateLocation(ctx, 100, 91, 0, 1), ErrValidation)
	assert.ErrorIs(t, s.UpdateLocation(ctx, 100, 0, -181, 1), ErrValidation)
}

func TestCompletionPercentage(t *testing.T) {
	assert.Equal(t, 0, CompletionPercentage(User{}))
	assert.Equal(t, 40, CompletionPercentage(User{Description: "hi", Age: 25}))
	assert.Equal(t, 100, CompletionPercentage(User{
		Description: "hi",
		Interests:   "books",
		Age:         25,
		Gender:      "female",
		PhotoFileID: "file-1",
	}))
}
