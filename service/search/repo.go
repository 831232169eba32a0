package search

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// earthRadiusKM is used by the haversine distance expression below.
const earthRadiusKM = 6371.0

// PostgresRepository queries candidates with a haversine distance filter.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository wraps an open sqlx handle.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const listNearbyQuery = `
SELECT u.chat_id,
       u.first_name,
       u.age,
       u.gender,
       u.description,
       u.interests,
       u.photo_file_id,
       d.distance_km
FROM users u,
     LATERAL (
         SELECT $6 * acos(least(1.0,
             cos(radians($1)) * cos(radians(u.lat)) * cos(radians(u.lon) - radians($2)) +
             sin(radians($1)) * sin(radians(u.lat))
         )) AS distance_km
     ) d
WHERE u.active
  AND u.chat_id <> $3
  AND u.location_expires_at > now()
  AND u.age BETWEEN $4 AND $5
  AND ($7 = 'any' OR u.gender = $7)
  AND (u.gender_preference = 'any' OR u.gender_preference = '' OR u.gender_preference = $10)
  AND ($11 = 0 OR $11 BETWEEN coalesce(nullif(u.min_age, 0), 18) AND coalesce(nullif(u.max_age, 0), 120))
  AND d.distance_km <= $8
ORDER BY d.distance_km ASC
LIMIT $9`

// ListNearby returns active users inside the radius, closest first. The
// match is mutual: besides the viewer's own filters, each candidate's
// gender preference and age range must admit the viewer. A zero viewer age
// disables the reverse age check.
func (r *PostgresRepository) ListNearby(ctx context.Context, q Query) ([]Candidate, error) {
	minAge, maxAge := q.Viewer.MinAge, q.Viewer.MaxAge
	if minAge <= 0 {
		minAge = 18
	}
	if maxAge <= 0 {
		maxAge = 120
	}
	pref := q.Viewer.GenderPreference
	if pref == "" {
		pref = "any"
	}

	var out []Candidate
	err := r.db.SelectContext(ctx, &out, listNearbyQuery,
		q.Viewer.Lat, q.Viewer.Lon, q.Viewer.ChatID,
		minAge, maxAge, earthRadiusKM, pref, q.RadiusKM, q.Limit,
		q.Viewer.Gender, q.Viewer.Age,
	)
	if err != nil {
		return nil, fmt.Errorf("select nearby: %w", err)
	}
	return out, nil
}
