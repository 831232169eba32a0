package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// allowedColumns guards UpdateField against arbitrary column names.
var allowedColumns = map[string]struct{}{
	"description":       {},
	"interests":         {},
	"age":               {},
	"gender":            {},
	"min_age":           {},
	"max_age":           {},
	"gender_preference": {},
	"photo_file_id":     {},
}

// PostgresRepository persists profiles in the users table.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository wraps an open sqlx handle.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts the base row or refreshes name and activity on conflict.
func (r *PostgresRepository) Upsert(ctx context.Context, u User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (chat_id, first_name, username, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (chat_id) DO UPDATE
		SET first_name = EXCLUDED.first_name,
		    username   = EXCLUDED.username,
		    active     = EXCLUDED.active,
		    updated_at = now()`,
		u.ChatID, u.FirstName, u.Username, u.Active,
	)
	return err
}

// ByChatID loads a single profile.
func (r *PostgresRepository) ByChatID(ctx context.Context, chatID int64) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE chat_id = $1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", chatID, err)
	}
	return u, nil
}

// UpdateField sets one whitelisted profile column.
func (r *PostgresRepository) UpdateField(ctx context.Context, chatID int64, column string, value any) error {
	if _, ok := allowedColumns[column]; !ok {
		return fmt.Errorf("column %q not updatable", column)
	}
	query := fmt.Sprintf(`UPDATE users SET %s = $1, updated_at = now() WHERE chat_id = $2`, column)
	res, err := r.db.ExecContext(ctx, query, value, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLocation refreshes coordinates and their expiry.
func (r *PostgresRepository) UpdateLocation(ctx context.Context, chatID int64, lat, lon float64, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET lat = $1, lon = $2, location_expires_at = $3, updated_at = now()
		WHERE chat_id = $4`,
		lat, lon, expiresAt, chatID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
