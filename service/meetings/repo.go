package meetings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresRepository persists meeting requests in the meeting_requests table.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository wraps an open sqlx handle.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert stores a new pending request.
func (r *PostgresRepository) Insert(ctx context.Context, p CreateParams) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO meeting_requests (sender_id, target_id, message, photo_file_id, scheduled_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id`,
		p.SenderID, p.TargetID, p.Message, p.PhotoFileID, p.ScheduledAt, StatusPending,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ByID loads one request.
func (r *PostgresRepository) ByID(ctx context.Context, id int64) (Request, error) {
	var req Request
	err := r.db.GetContext(ctx, &req, `SELECT * FROM meeting_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("get meeting request %d: %w", id, err)
	}
	return req, nil
}

// Resolve transitions a pending request to a terminal status. The WHERE on
// status makes concurrent accept/decline race-safe: only one wins.
func (r *PostgresRepository) Resolve(ctx context.Context, id int64, status string) (Request, error) {
	var req Request
	err := r.db.GetContext(ctx, &req, `
		UPDATE meeting_requests
		SET status = $1
		WHERE id = $2 AND status = $3
		RETURNING *`,
		status, id, StatusPending,
	)
	if errors.Is(err, sql.ErrNoRows) {
		existing, lookupErr := r.ByID(ctx, id)
		if errors.Is(lookupErr, ErrNotFound) {
			return Request{}, ErrNotFound
		}
		if lookupErr == nil && existing.Status == StatusExpired {
			return Request{}, ErrExpired
		}
		return Request{}, ErrAlreadyResolved
	}
	if err != nil {
		return Request{}, fmt.Errorf("resolve meeting request %d: %w", id, err)
	}
	return req, nil
}

// ExpireBefore marks pending requests with a passed window as expired.
func (r *PostgresRepository) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE meeting_requests
		SET status = $1
		WHERE status = $2 AND scheduled_at < $3`,
		StatusExpired, StatusPending, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
