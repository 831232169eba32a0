package dialog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/meetbot/bot/outbound"
	"github.com/m3rciful/meetbot/bot/session"
	"github.com/m3rciful/meetbot/service/places"
	"github.com/m3rciful/meetbot/service/search"
	"github.com/m3rciful/meetbot/service/users"
)

type sent struct {
	chatID int64
	text   string
	rows   [][]outbound.Button
	fileID string
}

type fakeSender struct {
	texts   []sent
	buttons []sent
	photos  []sent
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string) error {
	f.texts = append(f.texts, sent{chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) SendButtons(_ context.Context, chatID int64, text string, rows ...[]outbound.Button) error {
	f.buttons = append(f.buttons, sent{chatID: chatID, text: text, rows: rows})
	return nil
}

func (f *fakeSender) SendPhoto(_ context.Context, chatID int64, fileID, caption string) error {
	f.photos = append(f.photos, sent{chatID: chatID, fileID: fileID, text: caption})
	return nil
}

func (f *fakeSender) lastText() string {
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1].text
}

func (f *fakeSender) lastButtons() (sent, bool) {
	if len(f.buttons) == 0 {
		return sent{}, false
	}
	return f.buttons[len(f.buttons)-1], true
}

type fakeProfiles struct {
	profiles map[int64]*users.User
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[int64]*users.User)}
}

func (f *fakeProfiles) get(chatID int64) *users.User {
	u, ok := f.profiles[chatID]
	if !ok {
		u = &users.User{ChatID: chatID}
		f.profiles[chatID] = u
	}
	return u
}

func (f *fakeProfiles) ByChatID(_ context.Context, chatID int64) (users.User, error) {
	u, ok := f.profiles[chatID]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return *u, nil
}

func (f *fakeProfiles) UpdateDescription(_ context.Context, chatID int64, text string) error {
	f.get(chatID).Description = text
	return nil
}

func (f *fakeProfiles) UpdateInterests(_ context.Context, chatID int64, text string) error {
	f.get(chatID).Interests = text
	return nil
}

func (f *fakeProfiles) UpdateAge(_ context.Context, chatID int64, age int) error {
	if age < users.MinProfileAge || age > users.MaxProfileAge {
		return users.ErrValidation
	}
	f.get(chatID).Age = age
	return nil
}

func (f *fakeProfiles) UpdateGender(_ context.Context, chatID int64, gender string) error {
	f.get(chatID).Gender = gender
	return nil
}

func (f *fakeProfiles) UpdateMinAge(_ context.Context, chatID int64, age int) error {
	if age < users.MinProfileAge || age > users.MaxProfileAge {
		return users.ErrValidation
	}
	f.get(chatID).MinAge = age
	return nil
}

func (f *fakeProfiles) UpdateMaxAge(_ context.Context, chatID int64, age int) error {
	if age < users.MinProfileAge || age > users.MaxProfileAge {
		return users.ErrValidation
	}
	f.get(chatID).MaxAge = age
	return nil
}

func (f *fakeProfiles) UpdateGenderPreference(_ context.Context, chatID int64, pref string) error {
	f.get(chatID).GenderPreference = pref
	return nil
}

func (f *fakeProfiles) UpdatePhoto(_ context.Context, chatID int64, fileID string) error {
	f.get(chatID).PhotoFileID = fileID
	return nil
}

func (f *fakeProfiles) UpdateLocation(_ context.Context, chatID int64, lat, lon float64, _ int) error {
	u := f.get(chatID)
	u.Lat = lat
	u.Lon = lon
	return nil
}

type meetingCall struct {
	kind   string
	chatID int64
	arg    string
}

type fakeMeetingFlow struct {
	calls []meetingCall
}

func (f *fakeMeetingFlow) Begin(_ context.Context, requesterID, targetID int64) error {
	f.calls = append(f.calls, meetingCall{kind: "begin", chatID: requesterID})
	return nil
}

func (f *fakeMeetingFlow) CollectMessage(_ context.Context, chatID int64, text string) error {
	f.calls = append(f.calls, meetingCall{kind: "message", chatID: chatID, arg: text})
	return nil
}

func (f *fakeMeetingFlow) AttachPhoto(_ context.Context, chatID int64, fileID string) error {
	f.calls = append(f.calls, meetingCall{kind: "photo", chatID: chatID, arg: fileID})
	return nil
}

type fakeRelay struct {
	calls []meetingCall
}

func (f *fakeRelay) RelayText(_ context.Context, fromID int64, text string) error {
	f.calls = append(f.calls, meetingCall{kind: "text", chatID: fromID, arg: text})
	return nil
}

func (f *fakeRelay) RelayPhoto(_ context.Context, fromID int64, fileID string) error {
	f.calls = append(f.calls, meetingCall{kind: "photo", chatID: fromID, arg: fileID})
	return nil
}

func (f *fakeRelay) End(_ context.Context, chatID int64) error {
	f.calls = append(f.calls, meetingCall{kind: "end", chatID: chatID})
	return nil
}

type fakeSearcher struct {
	result     []search.Candidate
	err        error
	lastViewer search.Viewer
}

func (f *fakeSearcher) Nearby(_ context.Context, viewer search.Viewer, _ int) ([]search.Candidate, error) {
	f.lastViewer = viewer
	return f.result, f.err
}

type fakePlaces struct {
	result []places.Place
}

func (f *fakePlaces) Search(_ context.Context, _ string, _, _ float64) ([]places.Place, error) {
	return f.result, nil
}

type fixture struct {
	machine  *Machine
	store    *session.Store
	profiles *fakeProfiles
	meeting  *fakeMeetingFlow
	relay    *fakeRelay
	searcher *fakeSearcher
	sender   *fakeSender
}

func newFixture() *fixture {
	store := session.NewStore()
	profiles := newFakeProfiles()
	mf := &fakeMeetingFlow{}
	relay := &fakeRelay{}
	searcher := &fakeSearcher{}
	sender := &fakeSender{}
	m := NewMachine(store, profiles, mf, relay, searcher, &fakePlaces{}, sender)
	return &fixture{machine: m, store: store, profiles: profiles, meeting: mf, relay: relay, searcher: searcher, sender: sender}
}

func TestOnboardingSequence(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.SetStage(100, session.StageAwaitingDescription)

	require.NoError(t, f.machine.HandleText(ctx, 100, "I like hiking"))
	assert.Equal(t, session.StageAwaitingInterests, f.store.Stage(100))
	assert.Equal(t, "I like hiking", f.profiles.get(100).Description)

	require.NoError(t, f.machine.HandleText(ctx, 100, "books, coffee"))
	assert.Equal(t, session.StageAwaitingAge, f.store.Stage(100))

	require.NoError(t, f.machine.HandleText(ctx, 100, "25"))
	assert.Equal(t, session.StageAwaitingGender, f.store.Stage(100))
	assert.Equal(t, 25, f.profiles.get(100).Age)

	require.NoError(t, f.machine.HandleText(ctx, 100, "female"))
	assert.Equal(t, session.StageAwaitingMinAge, f.store.Stage(100))

	require.NoError(t, f.machine.HandleText(ctx, 100, "20"))
	assert.Equal(t, session.StageAwaitingMaxAge, f.store.Stage(100))

	require.NoError(t, f.machine.HandleText(ctx, 100, "30"))
	assert.Equal(t, session.StageAwaitingGenderPref, f.store.Stage(100))

	require.NoError(t, f.machine.HandleText(ctx, 100, "male"))
	assert.Equal(t, session.StageNone, f.store.Stage(100))
	assert.Contains(t, f.sender.lastText(), "Profile saved")
}

func TestInvalidAgeDoesNotAdvance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.SetStage(100, session.StageAwaitingAge)

	require.NoError(t, f.machine.HandleText(ctx, 100, "twenty"))
	assert.Equal(t, session.StageAwaitingAge, f.store.Stage(100))

	require.NoError(t, f.machine.HandleText(ctx, 100, "12"))
	assert.Equal(t, session.StageAwaitingAge, f.store.Stage(100))
	assert.Zero(t, f.profiles.get(100).Age)

	require.NoError(t, f.machine.HandleText(ctx, 100, "21"))
	assert.Equal(t, session.StageAwaitingGender, f.store.Stage(100))
}

func TestTextInMeetingMessageStageGoesToWorkflow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.SetStage(100, session.StageAwaitingMeetingMessage)

	require.NoError(t, f.machine.HandleText(ctx, 100, "Coffee?"))

	require.Len(t, f.meeting.calls, 1)
	assert.Equal(t, "message", f.meeting.calls[0].kind)
	assert.Equal(t, "Coffee?", f.meeting.calls[0].arg)
}

func TestChattingTextIsRelayed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.store.StartChat(100, 200, 1)
	require.NoError(t, err)

	require.NoError(t, f.machine.HandleText(ctx, 100, "hello"))

	require.Len(t, f.relay.calls, 1)
	assert.Equal(t, "text", f.relay.calls[0].kind)
	assert.Equal(t, "hello", f.relay.calls[0].arg)
}

func TestEndChatCommandInsideChat(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.store.StartChat(100, 200, 1)
	require.NoError(t, err)

	require.NoError(t, f.machine.HandleText(ctx, 100, "/end_chat"))

	require.Len(t, f.relay.calls, 1)
	assert.Equal(t, "end", f.relay.calls[0].kind)
}

func TestUnmatchedTextOnlyHints(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.machine.HandleText(ctx, 100, "random text"))

	assert.Equal(t, session.StageNone, f.store.Stage(100))
	assert.Empty(t, f.relay.calls)
	assert.Empty(t, f.meeting.calls)
	require.NotEmpty(t, f.sender.texts)
}

func TestPhotoUpdatesProfileWhenAwaited(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.SetStage(100, session.StageAwaitingPhoto)

	require.NoError(t, f.machine.HandlePhoto(ctx, 100, "file-1"))

	assert.Equal(t, "file-1", f.profiles.get(100).PhotoFileID)
	assert.Equal(t, session.StageNone, f.store.Stage(100))
	assert.Contains(t, f.sender.lastText(), "photo has been updated")
}

func TestPhotoOutsidePhotoStagesOnlyHints(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.machine.HandlePhoto(ctx, 100, "file-1"))

	assert.Empty(t, f.profiles.get(100).PhotoFileID)
	assert.Equal(t, session.StageNone, f.store.Stage(100))
	assert.Contains(t, f.sender.lastText(), "/photo")
}

func TestPhotoInMeetingStageGoesToWorkflow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.SetStage(100, session.StageAwaitingMeetingPhoto)

	require.NoError(t, f.machine.HandlePhoto(ctx, 100, "file-2"))

	require.Len(t, f.meeting.calls, 1)
	assert.Equal(t, "photo", f.meeting.calls[0].kind)
	assert.Equal(t, "file-2", f.meeting.calls[0].arg)
}

func TestLocationSettingsFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// No settings yet: sharing a location prompts for duration first.
	require.NoError(t, f.machine.HandleLocation(ctx, 100, 55.75, 37.62))
	btns, ok := f.sender.lastButtons()
	require.True(t, ok)
	assert.Equal(t, CallbackDuration, btns.rows[0][0].Key)

	require.NoError(t, f.machine.SetDuration(ctx, 100, 2))
	btns, ok = f.sender.lastButtons()
	require.True(t, ok)
	assert.Equal(t, CallbackRadius, btns.rows[0][0].Key)

	require.NoError(t, f.machine.SetRadius(ctx, 100, 5))
	assert.Contains(t, f.sender.lastText(), "Share your location")
	assert.True(t, f.store.HasLocationSettings(100))
}

func TestLocationRunsSearchAndShowsFirstCandidate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.SetLocationDuration(100, 2)
	f.store.SetSearchRadius(100, 5)
	me := f.profiles.get(100)
	me.Age = 25
	me.Gender = "male"
	f.searcher.result = []search.Candidate{
		{UserID: 201, Name: "Bob", Age: 27, DistanceKM: 1.2},
		{UserID: 202, Name: "Carol", Age: 24, DistanceKM: 3.4},
	}

	require.NoError(t, f.machine.HandleLocation(ctx, 100, 55.75, 37.62))

	assert.InDelta(t, 55.75, f.profiles.get(100).Lat, 0.001)
	assert.Len(t, f.store.Candidates(100), 2)
	assert.Equal(t, 25, f.searcher.lastViewer.Age)
	assert.Equal(t, "male", f.searcher.lastViewer.Gender)

	btns, ok := f.sender.lastButtons()
	require.True(t, ok)
	assert.Contains(t, btns.text, "Bob")
	assert.Equal(t, CallbackMeet, btns.rows[0][0].Key)
	assert.Equal(t, "201", btns.rows[0][0].Payload)
	assert.Equal(t, CallbackNext, btns.rows[0][1].Key)
}

func TestNextCandidateAdvancesAndStops(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.CacheCandidates(100, []search.Candidate{
		{UserID: 201, Name: "Bob"},
		{UserID: 202, Name: "Carol"},
	})

	require.NoError(t, f.machine.NextCandidate(ctx, 100))
	btns, ok := f.sender.lastButtons()
	require.True(t, ok)
	assert.Contains(t, btns.text, "Carol")

	require.NoError(t, f.machine.NextCandidate(ctx, 100))
	assert.Contains(t, f.sender.lastText(), "No more people")
}

func TestEmptySearchResult(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.SetLocationDuration(100, 2)
	f.store.SetSearchRadius(100, 5)
	f.profiles.get(100).Lat = 55.75
	f.profiles.get(100).Lon = 37.62

	require.NoError(t, f.machine.RunSearch(ctx, 100))

	assert.Contains(t, f.sender.lastText(), "Nobody around")
}

func TestCandidateWithPhotoIsSentAsPhoto(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.CacheCandidates(100, []search.Candidate{
		{UserID: 201, Name: "Bob", PhotoFileID: "photo-1"},
	})

	require.NoError(t, f.machine.ShowCandidate(ctx, 100))

	require.Len(t, f.sender.photos, 1)
	assert.Equal(t, "photo-1", f.sender.photos[0].fileID)
	assert.Contains(t, f.sender.photos[0].text, "Bob")
	_, ok := f.sender.lastButtons()
	assert.True(t, ok)
}

func TestRequestMeetingRejectsSelf(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.machine.RequestMeeting(ctx, 100, 100))

	assert.Empty(t, f.meeting.calls)
	assert.Contains(t, f.sender.lastText(), "went wrong")
}

func TestPlaceSuggestionsSharedWithPartner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.profiles.get(100).Lat = 55.75
	f.profiles.get(100).Lon = 37.62
	fp := &fakePlaces{result: []places.Place{{Name: "Cafe Central", Address: "Main St 1"}}}
	f.machine.places = fp
	_, err := f.store.StartChat(100, 200, 1)
	require.NoError(t, err)

	require.NoError(t, f.machine.HandleText(ctx, 100, "/place coffee"))

	var got []int64
	for _, m := range f.sender.texts {
		if m.text != "" && m.chatID != 0 {
			got = append(got, m.chatID)
		}
	}
	assert.Contains(t, got, int64(100))
	assert.Contains(t, got, int64(200))
	assert.Contains(t, f.sender.lastText(), "Cafe Central")
}
