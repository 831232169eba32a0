package bot

import (
	"context"
	"errors"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/meetbot/bot/outbound"
	"github.com/m3rciful/meetbot/core/telegram/keyboard"
)

// ErrBotNotReady indicates a send attempted before the bot runtime started.
var ErrBotNotReady = errors.New("bot runtime not attached")

// Messenger delivers messages to arbitrary chats. Sends are synchronous so
// callers can react to delivery failures, which matters for fallback paths.
type Messenger struct {
	bot atomic.Pointer[tele.Bot]
}

// NewMessenger returns a detached messenger. Attach must be called once the
// bot runtime is up.
func NewMessenger() *Messenger {
	return &Messenger{}
}

// Attach wires the live bot instance.
func (m *Messenger) Attach(b *tele.Bot) {
	m.bot.Store(b)
}

func (m *Messenger) client() (*tele.Bot, error) {
	b := m.bot.Load()
	if b == nil {
		return nil, ErrBotNotReady
	}
	return b, nil
}

// SendText sends plain text to a chat.
func (m *Messenger) SendText(_ context.Context, chatID int64, text string) error {
	b, err := m.client()
	if err != nil {
		return err
	}
	_, err = b.Send(tele.ChatID(chatID), text)
	return err
}

// SendButtons sends text with an inline keyboard built from button rows.
func (m *Messenger) SendButtons(_ context.Context, chatID int64, text string, rows ...[]outbound.Button) error {
	b, err := m.client()
	if err != nil {
		return err
	}
	btnRows := make([][]keyboard.InlineBtn, len(rows))
	for i, row := range rows {
		r := make([]keyboard.InlineBtn, len(row))
		for j, btn := range row {
			r[j] = keyboard.InlineBtn{Text: btn.Text, Unique: btn.Key, Data: btn.Payload}
		}
		btnRows[i] = r
	}
	_, err = b.Send(tele.ChatID(chatID), text, keyboard.InlineButtonsRows(btnRows...))
	return err
}

// SendPhoto sends a photo by its Telegram file ID with an optional caption.
func (m *Messenger) SendPhoto(_ context.Context, chatID int64, fileID, caption string) error {
	b, err := m.client()
	if err != nil {
		return err
	}
	photo := &tele.Photo{File: tele.File{FileID: fileID}, Caption: caption}
	_, err = b.Send(tele.ChatID(chatID), photo)
	return err
}
