// Package chatrelay routes messages between two chats bound by an accepted
// meeting request, and tears the binding down for both sides at once.
package chatrelay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3rciful/meetbot/bot/outbound"
	"github.com/m3rciful/meetbot/bot/session"
	"github.com/m3rciful/meetbot/core/logger"
	"github.com/m3rciful/meetbot/service/chatlog"
	"github.com/m3rciful/meetbot/service/users"
)

// ChatLog persists relayed messages. Called outside any session-store lock.
type ChatLog interface {
	Append(ctx context.Context, m chatlog.Message) error
}

// Profiles resolves sender names for attribution.
type Profiles interface {
	ByChatID(ctx context.Context, chatID int64) (users.User, error)
}

// Manager relays messages over an active chat session.
type Manager struct {
	store    *session.Store
	sender   outbound.Sender
	log      ChatLog
	profiles Profiles
}

// NewManager wires the relay manager.
func NewManager(store *session.Store, sender outbound.Sender, log ChatLog, profiles Profiles) *Manager {
	return &Manager{store: store, sender: sender, log: log, profiles: profiles}
}

// RelayText forwards a text message to the bound partner verbatim, with
// sender attribution.
func (m *Manager) RelayText(ctx context.Context, fromID int64, text string) error {
	cs, ok := m.session(ctx, fromID)
	if !ok {
		return nil
	}
	partnerID := cs.Partner(fromID)

	if m.log != nil {
		if err := m.log.Append(ctx, chatlog.Message{
			SessionID:  cs.ID,
			RequestID:  cs.RequestID,
			SenderID:   fromID,
			ReceiverID: partnerID,
			Kind:       chatlog.KindText,
			Text:       text,
		}); err != nil {
			logger.Warn(ctx, "chatrelay", "log.fail",
				slog.String("status", "fail"),
				slog.Int64("chat_id", fromID),
				slog.String("err", err.Error()),
			)
		}
	}

	return m.sender.SendText(ctx, partnerID, fmt.Sprintf("💬 %s: %s", m.attribution(ctx, fromID), text))
}

// RelayPhoto forwards a photo to the bound partner.
func (m *Manager) RelayPhoto(ctx context.Context, fromID int64, fileID string) error {
	cs, ok := m.session(ctx, fromID)
	if !ok {
		return nil
	}
	partnerID := cs.Partner(fromID)

	if m.log != nil {
		if err := m.log.Append(ctx, chatlog.Message{
			SessionID:   cs.ID,
			RequestID:   cs.RequestID,
			SenderID:    fromID,
			ReceiverID:  partnerID,
			Kind:        chatlog.KindPhoto,
			PhotoFileID: fileID,
		}); err != nil {
			logger.Warn(ctx, "chatrelay", "log.fail",
				slog.String("status", "fail"),
				slog.Int64("chat_id", fromID),
				slog.String("err", err.Error()),
			)
		}
	}

	return m.sender.SendPhoto(ctx, partnerID, fileID, fmt.Sprintf("📷 from %s", m.attribution(ctx, fromID)))
}

// End tears down the binding for both participants. Ending an already-ended
// session is a no-op.
func (m *Manager) End(ctx context.Context, chatID int64) error {
	partnerID, ended := m.store.EndChat(chatID)
	if !ended {
		return m.sender.SendText(ctx, chatID, "You have no active chat.")
	}

	logger.Info(ctx, "chatrelay", "chat.ended",
		slog.String("status", "ok"),
		slog.Int64("chat_id", chatID),
		slog.Int64("partner_id", partnerID),
	)
	if err := m.sender.SendText(ctx, partnerID, "👋 Your match ended the chat."); err != nil {
		logger.Warn(ctx, "chatrelay", "end.notify.fail",
			slog.String("status", "fail"),
			slog.Int64("partner_id", partnerID),
			slog.String("err", err.Error()),
		)
	}
	return m.sender.SendText(ctx, chatID, "Chat ended. Use /search to meet someone new.")
}

// session resolves the binding; a chatting stage without a binding is an
// invariant violation, repaired by resetting the stage.
func (m *Manager) session(ctx context.Context, chatID int64) (session.ChatSession, bool) {
	cs, ok := m.store.Session(chatID)
	if ok {
		return cs, true
	}
	logger.Error(ctx, "chatrelay", "binding.missing",
		slog.String("status", "fail"),
		slog.Int64("chat_id", chatID),
	)
	m.store.SetStage(chatID, session.StageNone)
	_ = m.sender.SendText(ctx, chatID, "❌ Your chat is no longer active.")
	return session.ChatSession{}, false
}

func (m *Manager) attribution(ctx context.Context, chatID int64) string {
	if m.profiles == nil {
		return "your match"
	}
	u, err := m.profiles.ByChatID(ctx, chatID)
	if err != nil || u.FirstName == "" {
		return "your match"
	}
	return u.FirstName
}
