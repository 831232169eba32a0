// Package meetings owns the durable meeting-request records: creation,
// accept/decline transitions, and expiry of stale proposals.
package meetings

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
	// ErrValidation indicates the request is missing required fields.
	ErrValidation = errors.New("validation error")
	// ErrNotFound indicates no such request exists.
	ErrNotFound = errors.New("meeting request not found")
	// ErrAlreadyResolved indicates the request was accepted or declined
	// before this transition.
	ErrAlreadyResolved = errors.New("meeting request already resolved")
	// ErrExpired indicates the request's window passed before an answer.
	ErrExpired = errors.New("meeting request expired")
)

// Request statuses.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusDeclined = "declined"
	StatusExpired  = "expired"
)

// Request is a durable meeting proposal between two users.
type Request struct {
	ID          int64     `db:"id"`
	SenderID    int64     `db:"sender_id"`
	TargetID    int64     `db:"target_id"`
	Message     string    `db:"message"`
	PhotoFileID string    `db:"photo_file_id"`
	ScheduledAt time.Time `db:"scheduled_at"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
}

// CreateParams carries the fields required to persist a request.
type CreateParams struct {
	SenderID    int64
	TargetID    int64
	Message     string
	ScheduledAt time.Time
	PhotoFileID string
}

// Repository persists meeting requests.
type Repository interface {
	Insert(ctx context.Context, p CreateParams) (int64, error)
	ByID(ctx context.Context, id int64) (Request, error)
	Resolve(ctx context.Context, id int64, status string) (Request, error)
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service validates and orchestrates meeting-request persistence.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds the meeting service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create persists a new pending request and returns its identifier.
func (s *Service) Create(ctx context.Context, p CreateParams) (int64, error) {
	if p.SenderID <= 0 || p.TargetID <= 0 {
		return 0, fmt.Errorf("missing participant: %w", ErrValidation)
	}
	if p.SenderID == p.TargetID {
		return 0, fmt.Errorf("sender and target are the same chat: %w", ErrValidation)
	}
	if strings.TrimSpace(p.Message) == "" {
		return 0, fmt.Errorf("empty message: %w", ErrValidation)
	}
	if p.ScheduledAt.IsZero() {
		p.ScheduledAt = s.now().Add(time.Hour)
	}

	id, err := s.repo.Insert(ctx, p)
	if err != nil {
		logger.SVCMeetings.LogAttrs(ctx, slog.LevelError, "request.create.fail",
			slog.String("event", "request.create"),
			slog.String("status", "fail"),
			slog.Int64("chat_id", p.SenderID),
			slog.Int64("target_id", p.TargetID),
			slog.String("err", err.Error()),
		)
		return 0, fmt.Errorf("insert meeting request: %w", err)
	}
	logger.SVCMeetings.LogAttrs(ctx, slog.LevelInfo, "request.create",
		slog.String("event", "request.create"),
		slog.String("status", "ok"),
		slog.Int64("chat_id", p.SenderID),
		slog.Int64("target_id", p.TargetID),
		slog.Int64("request_id", id),
	)
	return id, nil
}

// ByID loads one request.
func (s *Service) ByID(ctx context.Context, id int64) (Request, error) {
	return s.repo.ByID(ctx, id)
}

// Accept marks a pending request accepted and returns the updated record.
func (s *Service) Accept(ctx context.Context, id int64) (Request, error) {
	return s.resolve(ctx, id, StatusAccepted)
}

// Decline marks a pending request declined and returns the updated record.
func (s *Service) Decline(ctx context.Context, id int64) (Request, error) {
	return s.resolve(ctx, id, StatusDeclined)
}

func (s *Service) resolve(ctx context.Context, id int64, status string) (Request, error) {
	req, err := s.repo.Resolve(ctx, id, status)
	if err != nil {
		return Request{}, err
	}
	logger.SVCMeetings.LogAttrs(ctx, slog.LevelInfo, "request.resolve",
		slog.String("event", "request.resolve"),
		slog.String("status", "ok"),
		slog.Int64("request_id", id),
		slog.String("outcome", status),
	)
	return req, nil
}

// ExpireStale marks pending requests whose window passed as expired. Expiry
// scheduling belongs to the surrounding service; this is only the transition.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireBefore(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire stale requests: %w", err)
	}
	if n > 0 {
		logger.SVCMeetings.LogAttrs(ctx, slog.LevelInfo, "request.expire",
			slog.String("event", "request.expire"),
			slog.String("status", "ok"),
			slog.Int64("count", n),
		)
	}
	return n, nil
}
