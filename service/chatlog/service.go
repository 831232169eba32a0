// Package chatlog persists messages relayed between two chatting users,
// grouped by relay session id.
package chatlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/meetbot/core/logger"
)

// Message kinds.
const (
	KindText  = "text"
	KindPhoto = "photo"
)

// Message is one relayed message.
type Message struct {
	ID          int64     `db:"id"`
	SessionID   string    `db:"session_id"`
	RequestID   int64     `db:"request_id"`
	SenderID    int64     `db:"sender_id"`
	ReceiverID  int64     `db:"receiver_id"`
	Kind        string    `db:"kind"`
	Text        string    `db:"text"`
	PhotoFileID string    `db:"photo_file_id"`
	SentAt      time.Time `db:"sent_at"`
}

// Service appends and reads relay history.
type Service struct {
	db *sqlx.DB
}

// NewService wraps an open sqlx handle.
func NewService(db *sqlx.DB) *Service {
	return &Service{db: db}
}

// Append stores one relayed message.
func (s *Service) Append(ctx context.Context, m Message) error {
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO chat_messages (session_id, request_id, sender_id, receiver_id, kind, text, photo_file_id, sent_at)
		VALUES (:session_id, :request_id, :sender_id, :receiver_id, :kind, :text, :photo_file_id, :sent_at)`,
		m,
	)
	if err != nil {
		logger.SVCChats.LogAttrs(ctx, slog.LevelError, "chatlog.append.fail",
			slog.String("event", "chatlog.append"),
			slog.String("status", "fail"),
			slog.Int64("chat_id", m.SenderID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

// History returns the messages of one relay session in send order.
func (s *Service) History(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM chat_messages WHERE session_id = $1 ORDER BY sent_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load chat history %s: %w", sessionID, err)
	}
	return out, nil
}
