package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	lastQuery Query
	result    []Candidate
}

func (f *fakeRepo) ListNearby(_ context.Context, q Query) ([]Candidate, error) {
	f.lastQuery = q
	return f.result, nil
}

func viewer() Viewer {
	return Viewer{
		ChatID: 100, Lat: 55.75, Lon: 37.62,
		Age: 25, Gender: "male",
		MinAge: 20, MaxAge: 30, GenderPreference: "any",
	}
}

func TestNearbyValidatesViewer(t *testing.T) {
	s := NewService(&fakeRepo{}, Config{})
	ctx := context.Background()

	_, err := s.Nearby(ctx, Viewer{ChatID: 0}, 5)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Nearby(ctx, Viewer{ChatID: 100}, 5)
	assert.ErrorIs(t, err, ErrNoLocation)
}

func TestNearbyAppliesRadiusDefaults(t *testing.T) {
	repo := &fakeRepo{}
	s := NewService(repo, Config{DefaultRadiusKM: 5, MaxRadiusKM: 50, MaxCandidates: 10})
	ctx := context.Background()

	_, err := s.Nearby(ctx, viewer(), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, repo.lastQuery.RadiusKM)

	_, err = s.Nearby(ctx, viewer(), 500)
	require.NoError(t, err)
	assert.Equal(t, 50, repo.lastQuery.RadiusKM)

	_, err = s.Nearby(ctx, viewer(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.lastQuery.RadiusKM)
	assert.Equal(t, 10, repo.lastQuery.Limit)
}

func TestNearbyPassesViewerThrough(t *testing.T) {
	repo := &fakeRepo{result: []Candidate{{UserID: 200, Name: "Bob", DistanceKM: 1.5}}}
	s := NewService(repo, Config{})

	got, err := s.Nearby(context.Background(), viewer(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(200), got[0].UserID)
	assert.Equal(t, viewer(), repo.lastQuery.Viewer)
}

// The reverse match needs the viewer's own age and gender at the repository.
func TestNearbyCarriesViewerProfileForReverseMatch(t *testing.T) {
	repo := &fakeRepo{}
	s := NewService(repo, Config{})

	_, err := s.Nearby(context.Background(), viewer(), 5)
	require.NoError(t, err)
	assert.Equal(t, 25, repo.lastQuery.Viewer.Age)
	assert.Equal(t, "male", repo.lastQuery.Viewer.Gender)
}

func TestListNearbyQueryMatchesMutually(t *testing.T) {
	assert.Contains(t, listNearbyQuery, "u.gender_preference = 'any' OR u.gender_preference = '' OR u.gender_preference = $10")
	assert.Contains(t, listNearbyQuery, "$11 BETWEEN coalesce(nullif(u.min_age, 0), 18) AND coalesce(nullif(u.max_age, 0), 120)")
}
