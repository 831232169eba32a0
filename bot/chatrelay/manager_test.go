package chatrelay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/meetbot/bot/outbound"
	"github.com/m3rciful/meetbot/bot/session"
	"github.com/m3rciful/meetbot/service/chatlog"
	"github.com/m3rciful/meetbot/service/users"
)

type sent struct {
	chatID int64
	text   string
	fileID string
}

type fakeSender struct {
	texts  []sent
	photos []sent
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string) error {
	f.texts = append(f.texts, sent{chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) SendButtons(_ context.Context, chatID int64, text string, _ ...[]outbound.Button) error {
	f.texts = append(f.texts, sent{chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) SendPhoto(_ context.Context, chatID int64, fileID, caption string) error {
	f.photos = append(f.photos, sent{chatID: chatID, fileID: fileID, text: caption})
	return nil
}

func (f *fakeSender) lastTextFor(chatID int64) (string, bool) {
	for i := len(f.texts) - 1; i >= 0; i-- {
		if f.texts[i].chatID == chatID {
			return f.texts[i].text, true
		}
	}
	return "", false
}

type fakeLog struct {
	messages []chatlog.Message
	err      error
}

func (f *fakeLog) Append(_ context.Context, m chatlog.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, m)
	return nil
}

type fakeProfiles struct {
	users map[int64]users.User
}

func (f *fakeProfiles) ByChatID(_ context.Context, chatID int64) (users.User, error) {
	u, ok := f.users[chatID]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func newTestManager(t *testing.T) (*Manager, *session.Store, *fakeSender, *fakeLog) {
	t.Helper()
	store := session.NewStore()
	sender := &fakeSender{}
	log := &fakeLog{}
	profiles := &fakeProfiles{users: map[int64]users.User{
		100: {ChatID: 100, FirstName: "Alice"},
		200: {ChatID: 200, FirstName: "Bob"},
	}}
	return NewManager(store, sender, log, profiles), store, sender, log
}

func TestRelayTextDeliversToPartnerWithAttribution(t *testing.T) {
	m, store, sender, log := newTestManager(t)
	ctx := context.Background()
	cs, err := store.StartChat(100, 200, 5)
	require.NoError(t, err)

	require.NoError(t, m.RelayText(ctx, 100, "hello there"))

	text, ok := sender.lastTextFor(200)
	require.True(t, ok)
	assert.Equal(t, "💬 Alice: hello there", text)

	require.Len(t, log.messages, 1)
	assert.Equal(t, cs.ID, log.messages[0].SessionID)
	assert.Equal(t, int64(5), log.messages[0].RequestID)
	assert.Equal(t, int64(100), log.messages[0].SenderID)
	assert.Equal(t, int64(200), log.messages[0].ReceiverID)
	assert.Equal(t, chatlog.KindText, log.messages[0].Kind)
	assert.Equal(t, "hello there", log.messages[0].Text)
}

func TestRelayWorksBothDirections(t *testing.T) {
	m, store, sender, _ := newTestManager(t)
	ctx := context.Background()
	_, err := store.StartChat(100, 200, 5)
	require.NoError(t, err)

	require.NoError(t, m.RelayText(ctx, 200, "hi back"))

	text, ok := sender.lastTextFor(100)
	require.True(t, ok)
	assert.Equal(t, "💬 Bob: hi back", text)
}

func TestRelayPhotoCarriesAttributionCaption(t *testing.T) {
	m, store, sender, log := newTestManager(t)
	ctx := context.Background()
	_, err := store.StartChat(100, 200, 5)
	require.NoError(t, err)

	require.NoError(t, m.RelayPhoto(ctx, 100, "file-9"))

	require.Len(t, sender.photos, 1)
	assert.Equal(t, int64(200), sender.photos[0].chatID)
	assert.Equal(t, "file-9", sender.photos[0].fileID)
	assert.Equal(t, "📷 from Alice", sender.photos[0].text)

	require.Len(t, log.messages, 1)
	assert.Equal(t, chatlog.KindPhoto, log.messages[0].Kind)
	assert.Equal(t, "file-9", log.messages[0].PhotoFileID)
}

func TestRelayLogFailureStillDelivers(t *testing.T) {
	m, store, sender, log := newTestManager(t)
	ctx := context.Background()
	_, err := store.StartChat(100, 200, 5)
	require.NoError(t, err)
	log.err = errors.New("db down")

	require.NoError(t, m.RelayText(ctx, 100, "still here"))

	text, ok := sender.lastTextFor(200)
	require.True(t, ok)
	assert.Contains(t, text, "still here")
}

func TestRelayWithoutBindingRepairsStage(t *testing.T) {
	m, store, sender, _ := newTestManager(t)
	ctx := context.Background()

	// Chatting stage without a binding must be repaired, not relayed.
	store.SetStage(100, session.StageChatting)
	require.NoError(t, m.RelayText(ctx, 100, "anyone?"))

	assert.Equal(t, session.StageNone, store.Stage(100))
	text, ok := sender.lastTextFor(100)
	require.True(t, ok)
	assert.Contains(t, text, "no longer active")
	_, ok = sender.lastTextFor(200)
	assert.False(t, ok)
}

func TestEndNotifiesBothSides(t *testing.T) {
	m, store, sender, _ := newTestManager(t)
	ctx := context.Background()
	_, err := store.StartChat(100, 200, 5)
	require.NoError(t, err)

	require.NoError(t, m.End(ctx, 100))

	assert.Equal(t, session.StageNone, store.Stage(100))
	assert.Equal(t, session.StageNone, store.Stage(200))

	text, ok := sender.lastTextFor(200)
	require.True(t, ok)
	assert.Contains(t, text, "ended the chat")
	text, ok = sender.lastTextFor(100)
	require.True(t, ok)
	assert.Contains(t, text, "Chat ended")
}

func TestEndWithoutChatIsNoOp(t *testing.T) {
	m, _, sender, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.End(ctx, 100))

	text, ok := sender.lastTextFor(100)
	require.True(t, ok)
	assert.Equal(t, "You have no active chat.", text)
}
