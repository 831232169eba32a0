package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/meetbot/service/search"
)

func TestStageDefaultsToNone(t *testing.T) {
	s := NewStore()
	assert.Equal(t, StageNone, s.Stage(100))
	assert.True(t, s.InStage(100, StageNone))
}

func TestSetStageIsPerChat(t *testing.T) {
	s := NewStore()
	s.SetStage(100, StageAwaitingDescription)
	s.SetStage(200, StageAwaitingAge)

	assert.Equal(t, StageAwaitingDescription, s.Stage(100))
	assert.Equal(t, StageAwaitingAge, s.Stage(200))
	assert.Equal(t, StageNone, s.Stage(300))
}

func TestCacheCandidatesResetsCursor(t *testing.T) {
	s := NewStore()
	first := []search.Candidate{{UserID: 1}, {UserID: 2}, {UserID: 3}}
	s.CacheCandidates(100, first)
	s.SetCursor(100, 2)

	cand, ok := s.CurrentCandidate(100)
	require.True(t, ok)
	assert.Equal(t, int64(3), cand.UserID)

	s.CacheCandidates(100, []search.Candidate{{UserID: 9}})
	assert.Equal(t, 0, s.Cursor(100))
	cand, ok = s.CurrentCandidate(100)
	require.True(t, ok)
	assert.Equal(t, int64(9), cand.UserID)
}

func TestCurrentCandidatePastEnd(t *testing.T) {
	s := NewStore()
	s.CacheCandidates(100, []search.Candidate{{UserID: 1}})
	s.SetCursor(100, 1)

	_, ok := s.CurrentCandidate(100)
	assert.False(t, ok)
}

func TestCandidatesReturnsCopy(t *testing.T) {
	s := NewStore()
	s.CacheCandidates(100, []search.Candidate{{UserID: 1}})

	got := s.Candidates(100)
	got[0].UserID = 42

	again := s.Candidates(100)
	assert.Equal(t, int64(1), again[0].UserID)
}

func TestPendingRequestFieldsAccumulate(t *testing.T) {
	s := NewStore()
	_, ok := s.Pending(100)
	assert.False(t, ok)

	s.SetPendingTarget(100, 200)
	s.SetPendingMessage(100, "Coffee?")
	s.SetPendingPhoto(100, "file-1")

	p, ok := s.Pending(100)
	require.True(t, ok)
	assert.Equal(t, int64(200), p.TargetID)
	assert.Equal(t, "Coffee?", p.Message)
	assert.Equal(t, "file-1", p.PhotoFileID)
}

func TestClearPendingRequestDropsAllFields(t *testing.T) {
	s := NewStore()
	s.SetPendingTarget(100, 200)
	s.SetPendingMessage(100, "Coffee?")
	s.SetPendingPhoto(100, "file-1")

	s.ClearPendingRequest(100)

	_, ok := s.Pending(100)
	assert.False(t, ok)

	// Clearing again stays a no-op.
	s.ClearPendingRequest(100)
	_, ok = s.Pending(100)
	assert.False(t, ok)
}

func TestLocationSettings(t *testing.T) {
	s := NewStore()
	assert.False(t, s.HasLocationSettings(100))

	s.SetLocationDuration(100, 2)
	assert.False(t, s.HasLocationSettings(100))

	s.SetSearchRadius(100, 5)
	assert.True(t, s.HasLocationSettings(100))

	h, ok := s.LocationDuration(100)
	require.True(t, ok)
	assert.Equal(t, 2, h)
	km, ok := s.SearchRadius(100)
	require.True(t, ok)
	assert.Equal(t, 5, km)
}

func TestStartChatBindsBothSides(t *testing.T) {
	s := NewStore()
	cs, err := s.StartChat(100, 200, 7)
	require.NoError(t, err)
	require.NotNil(t, cs)
	assert.NotEmpty(t, cs.ID)

	assert.Equal(t, StageChatting, s.Stage(100))
	assert.Equal(t, StageChatting, s.Stage(200))

	p, ok := s.ChatPartner(100)
	require.True(t, ok)
	assert.Equal(t, int64(200), p)
	p, ok = s.ChatPartner(200)
	require.True(t, ok)
	assert.Equal(t, int64(100), p)

	a, okA := s.Session(100)
	b, okB := s.Session(200)
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, a.ID, b.ID)

	rid, ok := s.ChatMeetingRequestID(200)
	require.True(t, ok)
	assert.Equal(t, int64(7), rid)
}

func TestStartChatRefusesOverlap(t *testing.T) {
	s := NewStore()
	_, err := s.StartChat(100, 200, 1)
	require.NoError(t, err)

	_, err = s.StartChat(100, 300, 2)
	assert.ErrorIs(t, err, ErrAlreadyChatting)
	_, err = s.StartChat(300, 200, 3)
	assert.ErrorIs(t, err, ErrAlreadyChatting)

	// The refused chat must be left untouched.
	_, ok := s.ChatPartner(300)
	assert.False(t, ok)
	assert.Equal(t, StageNone, s.Stage(300))
}

func TestEndChatClearsBothSides(t *testing.T) {
	s := NewStore()
	_, err := s.StartChat(100, 200, 1)
	require.NoError(t, err)

	partner, ended := s.EndChat(100)
	require.True(t, ended)
	assert.Equal(t, int64(200), partner)

	assert.Equal(t, StageNone, s.Stage(100))
	assert.Equal(t, StageNone, s.Stage(200))
	_, ok := s.ChatPartner(100)
	assert.False(t, ok)
	_, ok = s.ChatPartner(200)
	assert.False(t, ok)
}

func TestEndChatIsIdempotent(t *testing.T) {
	s := NewStore()
	_, err := s.StartChat(100, 200, 1)
	require.NoError(t, err)

	_, ended := s.EndChat(100)
	require.True(t, ended)

	_, ended = s.EndChat(100)
	assert.False(t, ended)
	_, ended = s.EndChat(200)
	assert.False(t, ended)
}

func TestEndChatWithoutSession(t *testing.T) {
	s := NewStore()
	_, ended := s.EndChat(100)
	assert.False(t, ended)
}

func TestConcurrentStageUpdates(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		chatID := int64(i % 10)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.SetStage(chatID, StageAwaitingAge)
			_ = s.Stage(chatID)
			s.SetPendingMessage(chatID, "hi")
			s.ClearPendingRequest(chatID)
		}()
	}
	wg.Wait()

	for i := int64(0); i < 10; i++ {
		assert.Equal(t, StageAwaitingAge, s.Stage(i))
	}
}

func TestConcurrentPairOperations(t *testing.T) {
	s := NewStore()
	// Opposite lock orders must not deadlock.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.StartChat(1, 2, 1); err == nil {
				s.EndChat(1)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.StartChat(2, 1, 2); err == nil {
				s.EndChat(2)
			}
		}()
	}
	wg.Wait()

	_, okA := s.ChatPartner(1)
	_, okB := s.ChatPartner(2)
	assert.Equal(t, okA, okB)
}
