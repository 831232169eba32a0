// Package session keeps the per-chat conversational state: the dialog stage,
// cached search results, pending meeting-request fields, location settings,
// and the active relay binding. It is the only shared mutable resource of the
// conversational core, so all access goes through per-chat locks.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/m3rciful/meetbot/service/search"
)

// ErrAlreadyChatting is returned when a relay session would overlap an
// existing one for either participant.
var ErrAlreadyChatting = errors.New("session: participant already in a chat")

// PendingRequest holds the staged fields of a meeting request while the
// collection workflow is mid-flight. The three fields live and die together.
type PendingRequest struct {
	Message     string
	PhotoFileID string
	TargetID    int64
}

// ChatSession is the joint relay binding between two chats. One record is
// shared by both entries so creation and teardown cannot drift apart.
type ChatSession struct {
	ID        string
	A         int64
	B         int64
	RequestID int64
}

// Partner returns the opposite participant of the binding.
func (cs *ChatSession) Partner(chatID int64) int64 {
	if cs.A == chatID {
		return cs.B
	}
	return cs.A
}

type entry struct {
	mu sync.Mutex

	stage Stage

	candidates []search.Candidate
	cursor     int

	pending *PendingRequest

	durationHours int
	durationSet   bool
	radiusKM      int
	radiusSet     bool

	chat *ChatSession
}

// Store is a keyed per-chat state store. Different chats proceed fully in
// parallel; operations touching two chats lock both entries in ascending
// chat-id order.
type Store struct {
	mu      sync.RWMutex
	entries map[int64]*entry
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[int64]*entry)}
}

func (s *Store) entryFor(chatID int64) *entry {
	s.mu.RLock()
	e := s.entries[chatID]
	s.mu.RUnlock()
	if e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.entries[chatID]; e == nil {
		e = &entry{stage: StageNone}
		s.entries[chatID] = e
	}
	return e
}

// lockPair locks both entries in ascending chat-id order.
func (s *Store) lockPair(a, b int64) (ea, eb *entry) {
	ea, eb = s.entryFor(a), s.entryFor(b)
	if a < b {
		ea.mu.Lock()
		eb.mu.Lock()
	} else {
		eb.mu.Lock()
		ea.mu.Lock()
	}
	return ea, eb
}

// Stage returns the current dialog stage, StageNone when absent.
func (s *Store) Stage(chatID int64) Stage {
	e := s.entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stage == "" {
		return StageNone
	}
	return e.stage
}

// SetStage records the dialog stage for the chat.
func (s *Store) SetStage(chatID int64, st Stage) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	e.stage = st
	e.mu.Unlock()
}

// InStage reports whether the chat currently sits in the given stage.
func (s *Store) InStage(chatID int64, st Stage) bool {
	return s.Stage(chatID) == st
}

// CacheCandidates stores the search result and resets the cursor to the first
// candidate as one operation.
func (s *Store) CacheCandidates(chatID int64, list []search.Candidate) {
	cp := make([]search.Candidate, len(list))
	copy(cp, list)
	e := s.entryFor(chatID)
	e.mu.Lock()
	e.candidates = cp
	e.cursor = 0
	e.mu.Unlock()
}

// Candidates returns the cached search result, empty when absent.
func (s *Store) Candidates(chatID int64) []search.Candidate {
	e := s.entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]search.Candidate, len(e.candidates))
	copy(out, e.candidates)
	return out
}

// Cursor returns the current candidate index.
func (s *Store) Cursor(chatID int64) int {
	e := s.entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// SetCursor moves the candidate cursor.
func (s *Store) SetCursor(chatID int64, i int) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	e.cursor = i
	e.mu.Unlock()
}

// CurrentCandidate returns the candidate under the cursor, if any.
func (s *Store) CurrentCandidate(chatID int64) (search.Candidate, bool) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor < 0 || e.cursor >= len(e.candidates) {
		return search.Candidate{}, false
	}
	return e.candidates[e.cursor], true
}

func (e *entry) ensurePending() *PendingRequest {
	if e.pending == nil {
		e.pending = &PendingRequest{}
	}
	return e.pending
}

// SetPendingMessage stages the meeting-request message text.
func (s *Store) SetPendingMessage(chatID int64, message string) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	e.ensurePending().Message = message
	e.mu.Unlock()
}

// SetPendingPhoto stages the meeting-request photo reference.
func (s *Store) SetPendingPhoto(chatID int64, fileID string) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	e.ensurePending().PhotoFileID = fileID
	e.mu.Unlock()
}

// SetPendingTarget stages the meeting-request target user.
func (s *Store) SetPendingTarget(chatID int64, targetID int64) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	e.ensurePending().TargetID = targetID
	e.mu.Unlock()
}

// Pending returns a snapshot of the staged request fields. The second return
// is false when no collection workflow is in flight.
func (s *Store) Pending(chatID int64) (PendingRequest, bool) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return PendingRequest{}, false
	}
	return *e.pending, true
}

// ClearPendingRequest drops message, photo, and target together. Partial
// clears are not a supported transition.
func (s *Store) ClearPendingRequest(chatID int64) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
}

// SetLocationDuration records the live-location duration in hours.
func (s *Store) SetLocationDuration(chatID int64, hours int) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	e.durationHours = hours
	e.durationSet = true
	e.mu.Unlock()
}

// LocationDuration returns the live-location duration if set.
func (s *Store) LocationDuration(chatID int64) (int, bool) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durationHours, e.durationSet
}

// SetSearchRadius records the search radius in kilometers.
func (s *Store) SetSearchRadius(chatID int64, km int) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	e.radiusKM = km
	e.radiusSet = true
	e.mu.Unlock()
}

// SearchRadius returns the search radius if set.
func (s *Store) SearchRadius(chatID int64) (int, bool) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.radiusKM, e.radiusSet
}

// HasLocationSettings reports whether both duration and radius are set.
func (s *Store) HasLocationSettings(chatID int64) bool {
	e := s.entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durationSet && e.radiusSet
}

// StartChat binds two chats into a relay session and moves both to
// StageChatting in one critical section. It refuses to overlap an existing
// binding on either side.
func (s *Store) StartChat(chatID, partnerID, requestID int64) (*ChatSession, error) {
	ea, eb := s.lockPair(chatID, partnerID)
	defer ea.mu.Unlock()
	defer eb.mu.Unlock()

	if ea.chat != nil || eb.chat != nil {
		return nil, ErrAlreadyChatting
	}
	cs := &ChatSession{
		ID:        uuid.NewString(),
		A:         chatID,
		B:         partnerID,
		RequestID: requestID,
	}
	ea.chat = cs
	eb.chat = cs
	ea.stage = StageChatting
	eb.stage = StageChatting
	return cs, nil
}

// EndChat tears the binding down for both sides and resets both stages to
// StageNone. Ending an already-ended session is a no-op; the second return is
// false in that case.
func (s *Store) EndChat(chatID int64) (partnerID int64, ended bool) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	cs := e.chat
	e.mu.Unlock()
	if cs == nil {
		return 0, false
	}

	partnerID = cs.Partner(chatID)
	ea, eb := s.lockPair(chatID, partnerID)
	defer ea.mu.Unlock()
	defer eb.mu.Unlock()

	// The session may have been ended between the two lock acquisitions.
	if ea.chat != cs {
		return 0, false
	}
	ea.chat = nil
	ea.stage = StageNone
	if eb.chat == cs {
		eb.chat = nil
		eb.stage = StageNone
	}
	return partnerID, true
}

// ChatPartner returns the bound partner for a chatting chat.
func (s *Store) ChatPartner(chatID int64) (int64, bool) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chat == nil {
		return 0, false
	}
	return e.chat.Partner(chatID), true
}

// ChatMeetingRequestID returns the meeting request that started the session.
func (s *Store) ChatMeetingRequestID(chatID int64) (int64, bool) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chat == nil {
		return 0, false
	}
	return e.chat.RequestID, true
}

// Session returns the shared relay binding for a chatting chat.
func (s *Store) Session(chatID int64) (ChatSession, bool) {
	e := s.entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chat == nil {
		return ChatSession{}, false
	}
	return *e.chat, true
}
