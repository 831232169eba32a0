package meetings

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/meetbot/core/logger"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

type fakeRepo struct {
	nextID   int64
	requests map[int64]Request
	expired  int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{nextID: 1, requests: make(map[int64]Request)}
}

func (r *fakeRepo) Insert(_ context.Context, p CreateParams) (int64, error) {
	id := r.nextID
	r.nextID++
	r.requests[id] = Request{
		ID:          id,
		SenderID:    p.SenderID,
		TargetID:    p.TargetID,
		Message:     p.Message,
		PhotoFileID: p.PhotoFileID,
		ScheduledAt: p.ScheduledAt,
		Status:      StatusPending,
	}
	return id, nil
}

func (r *fakeRepo) ByID(_ context.Context, id int64) (Request, error) {
	req, ok := r.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (r *fakeRepo) Resolve(_ context.Context, id int64, status string) (Request, error) {
	req, ok := r.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.Status != StatusPending {
		return Request{}, ErrAlreadyResolved
	}
	req.Status = status
	r.requests[id] = req
	return req, nil
}

func (r *fakeRepo) ExpireBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, req := range r.requests {
		if req.Status == StatusPending && req.ScheduledAt.Before(cutoff) {
			req.Status = StatusExpired
			r.requests[id] = req
			n++
		}
	}
	r.expired += n
	return n, nil
}

func TestCreateValidatesParticipants(t *testing.T) {
	s := NewService(newFakeRepo())
	ctx := context.Background()

	_, err := s.Create(ctx, CreateParams{SenderID: 0, TargetID: 200, Message: "hi"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Create(ctx, CreateParams{SenderID: 100, TargetID: 100, Message: "hi"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Create(ctx, CreateParams{SenderID: 100, TargetID: 200, Message: "  "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateDefaultsScheduleToAnHour(t *testing.T) {
	repo := newFakeRepo()
	s := NewService(repo)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	id, err := s.Create(context.Background(), CreateParams{SenderID: 100, TargetID: 200, Message: "Coffee?"})
	require.NoError(t, err)

	assert.Equal(t, fixed.Add(time.Hour), repo.requests[id].ScheduledAt)
	assert.Equal(t, StatusPending, repo.requests[id].Status)
}

func TestAcceptTransitionsOnce(t *testing.T) {
	repo := newFakeRepo()
	s := NewService(repo)
	ctx := context.Background()

	id, err := s.Create(ctx, CreateParams{SenderID: 100, TargetID: 200, Message: "Coffee?"})
	require.NoError(t, err)

	req, err := s.Accept(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, req.Status)

	_, err = s.Accept(ctx, id)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	_, err = s.Decline(ctx, id)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestDeclineUnknownRequest(t *testing.T) {
	s := NewService(newFakeRepo())
	_, err := s.Decline(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpireStale(t *testing.T) {
	repo := newFakeRepo()
	s := NewService(repo)
	ctx := context.Background()

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed.Add(-2 * time.Hour) }
	id, err := s.Create(ctx, CreateParams{SenderID: 100, TargetID: 200, Message: "Coffee?"})
	require.NoError(t, err)

	s.now = func() time.Time { return fixed }
	n, err := s.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, StatusExpired, repo.requests[id].Status)
}
