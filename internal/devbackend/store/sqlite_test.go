package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xbacklit/voice-agent/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateSession(ctx, &Session{SessionID: "sess_1", CreatedAt: created}))

	got, err := s.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sess_1", got.SessionID)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Nil(t, got.ClosedAt)

	closed := created.Add(time.Minute)
	require.NoError(t, s.CloseSession(ctx, "sess_1", closed))
	require.NoError(t, s.CloseSession(ctx, "sess_1", closed.Add(time.Hour)))

	got, err = s.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	require.NotNil(t, got.ClosedAt)
	assert.True(t, closed.Equal(*got.ClosedAt))

	missing, err := s.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.ErrorIs(t, s.CloseSession(ctx, "nope", closed), ErrSessionNotFound)
}

func TestDuplicateSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, &Session{SessionID: "sess_1", CreatedAt: time.Now()}))
	assert.Error(t, s.CreateSession(ctx, &Session{SessionID: "sess_1", CreatedAt: time.Now()}))
}

func TestToolCallsKeepInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &Session{SessionID: "sess_1", CreatedAt: time.Now()}))
	require.NoError(t, s.CreateSession(ctx, &Session{SessionID: "sess_2", CreatedAt: time.Now()}))

	calls := []domain.ToolCallEvent{
		{ID: "t1", Name: domain.ToolIdentifyUser, Status: domain.ToolCallStatusCompleted, Detail: "Jane"},
		{ID: "t2", Name: domain.ToolFetchSlots, Status: domain.ToolCallStatusActive},
		{ID: "t2", Name: domain.ToolFetchSlots, Status: domain.ToolCallStatusCompleted, Timestamp: "2026-03-05T09:00:00Z"},
	}
	for _, c := range calls {
		require.NoError(t, s.AddToolCall(ctx, "sess_1", c))
	}
	require.NoError(t, s.AddToolCall(ctx, "sess_2", domain.ToolCallEvent{ID: "x", Name: "other", Status: domain.ToolCallStatusCompleted}))

	got, err := s.ListToolCalls(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, calls, got)

	empty, err := s.ListToolCalls(ctx, "sess_3")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestAddToolCallUnknownSession(t *testing.T) {
	s := newTestStore(t)
	err := s.AddToolCall(context.Background(), "nope", domain.ToolCallEvent{ID: "t1", Name: "x", Status: domain.ToolCallStatusCompleted})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
