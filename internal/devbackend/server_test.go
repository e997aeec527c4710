package devbackend_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xbacklit/voice-agent/internal/backend"
	"github.com/0xbacklit/voice-agent/internal/config"
	"github.com/0xbacklit/voice-agent/internal/devbackend"
	"github.com/0xbacklit/voice-agent/internal/devbackend/hub"
	"github.com/0xbacklit/voice-agent/internal/devbackend/store"
	"github.com/0xbacklit/voice-agent/internal/domain"
	"github.com/0xbacklit/voice-agent/internal/events"
)

func testConfig() *config.DevBackendConfig {
	return &config.DevBackendConfig{
		DatabaseURL:      ":memory:",
		LiveKitURL:       "ws://livekit.test",
		LiveKitAPIKey:    "devkey",
		LiveKitAPISecret: "devsecret-devsecret-devsecret-0123",
		TokenTTL:         time.Hour,
		PingInterval:     time.Second,
		WriteTimeout:     time.Second,
		ReadTimeout:      5 * time.Second,
		MaxMessageSize:   65536,
	}
}

func newBackend(t *testing.T, cfg *config.DevBackendConfig) *httptest.Server {
	t.Helper()
	st, err := store.NewSQLiteStore(cfg.DatabaseURL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(zerolog.Nop())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		h.Run(ctx)
	}()

	srv := devbackend.NewServer(cfg, st, h, zerolog.Nop())
	srv.SetContext(ctx)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-hubDone
		_ = st.Close()
	})
	return ts
}

func push(t *testing.T, ts *httptest.Server, sessionID string, eventType domain.EventType, payload interface{}, query string) *http.Response {
	t.Helper()
	body, err := events.Encode(eventType, payload)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/internal/sessions/"+sessionID+"/events"+query, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStartSessionAndTools(t *testing.T) {
	ts := newBackend(t, testConfig())
	client := backend.NewClient(ts.URL, time.Second)
	ctx := context.Background()

	started, err := client.StartSession(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(started.SessionID, "sess_"))
	assert.Equal(t, "ws://"+strings.TrimPrefix(ts.URL, "http://")+"/session/"+started.SessionID+"/events", started.WSURL)

	calls, err := client.FetchToolCalls(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Empty(t, calls)

	require.NoError(t, client.PushToolCall(ctx, started.SessionID, domain.ToolCallEvent{Name: domain.ToolIdentifyUser, Detail: "Jane"}))
	require.NoError(t, client.PushToolCall(ctx, started.SessionID, domain.ToolCallEvent{ID: "t2", Name: domain.ToolFetchSlots, Status: domain.ToolCallStatusActive}))

	calls, err = client.FetchToolCalls(ctx, started.SessionID)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, domain.ToolIdentifyUser, calls[0].Name)
	assert.Equal(t, domain.ToolCallStatusCompleted, calls[0].Status)
	assert.NotEmpty(t, calls[0].ID)
	assert.NotEmpty(t, calls[0].Timestamp)
	assert.Equal(t, "t2", calls[1].ID)

	_, err = client.FetchToolCalls(ctx, "sess_missing")
	assert.Error(t, err)
	assert.Error(t, client.PushToolCall(ctx, "sess_missing", domain.ToolCallEvent{Name: "x"}))
}

func TestPublicWSURL(t *testing.T) {
	cfg := testConfig()
	cfg.PublicWSURL = "wss://agent.example.com/"
	ts := newBackend(t, cfg)

	started, err := backend.NewClient(ts.URL, time.Second).StartSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://agent.example.com/session/"+started.SessionID+"/events", started.WSURL)
}

func TestToken(t *testing.T) {
	ts := newBackend(t, testConfig())
	client := backend.NewClient(ts.URL, time.Second)
	ctx := context.Background()

	started, err := client.StartSession(ctx)
	require.NoError(t, err)

	resp, err := client.FetchToken(ctx, domain.TokenRequest{SessionID: started.SessionID, Identity: "caller-sess_a"})
	require.NoError(t, err)
	assert.Equal(t, "ws://livekit.test", resp.URL)
	assert.Equal(t, started.SessionID, resp.Room)
	assert.Equal(t, "caller-sess_a", resp.Identity)
	assert.Len(t, strings.Split(resp.Token, "."), 3)

	_, err = client.FetchToken(ctx, domain.TokenRequest{SessionID: "sess_missing", Identity: "caller-x"})
	assert.ErrorIs(t, err, backend.ErrTokenUnavailable)
	assert.Contains(t, err.Error(), "session not found")

	_, err = client.FetchToken(ctx, domain.TokenRequest{SessionID: started.SessionID})
	assert.ErrorIs(t, err, backend.ErrTokenUnavailable)
}

func TestTokenWithoutLiveKit(t *testing.T) {
	cfg := testConfig()
	cfg.LiveKitAPISecret = ""
	ts := newBackend(t, cfg)
	client := backend.NewClient(ts.URL, time.Second)

	started, err := client.StartSession(context.Background())
	require.NoError(t, err)
	_, err = client.FetchToken(context.Background(), domain.TokenRequest{SessionID: started.SessionID, Identity: "caller-x"})
	assert.ErrorIs(t, err, backend.ErrTokenUnavailable)
	assert.Contains(t, err.Error(), "livekit is not configured")
}

func TestMintToken(t *testing.T) {
	token, err := devbackend.MintToken("key", "secret-secret-secret-secret-0123", "room", "caller-abc", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestPushEventValidation(t *testing.T) {
	ts := newBackend(t, testConfig())
	started, err := backend.NewClient(ts.URL, time.Second).StartSession(context.Background())
	require.NoError(t, err)

	resp := push(t, ts, "sess_missing", domain.EventTypeStatus, domain.StatusPayload{}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = push(t, ts, started.SessionID, "transcript", map[string]string{"text": "hi"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = push(t, ts, started.SessionID, domain.EventTypeStatus, domain.StatusPayload{SessionID: started.SessionID, State: domain.ConnectionStateConnected}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out devbackend.PushResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.OK)
	assert.False(t, out.Delivered)
}

type received struct {
	mu     sync.Mutex
	events []events.Event
	closed chan error
}

func TestEventChannelDelivery(t *testing.T) {
	ts := newBackend(t, testConfig())
	client := backend.NewClient(ts.URL, time.Second)
	started, err := client.StartSession(context.Background())
	require.NoError(t, err)

	rec := &received{closed: make(chan error, 1)}
	ch, err := events.Dial(context.Background(), events.Options{
		BaseURL:   ts.URL,
		SessionID: started.SessionID,
		OnEvent: func(ev events.Event) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.events = append(rec.events, ev)
		},
		OnClose: func(err error) { rec.closed <- err },
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	defer ch.Close()

	// The connection registers asynchronously.
	require.Eventually(t, func() bool {
		resp := push(t, ts, started.SessionID, domain.EventTypeStatus, domain.StatusPayload{SessionID: started.SessionID, State: domain.ConnectionStateConnected}, "")
		var out devbackend.PushResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return out.Delivered
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, client.PushToolCall(context.Background(), started.SessionID, domain.ToolCallEvent{ID: "t1", Name: domain.ToolBookAppointment}))
	push(t, ts, started.SessionID, domain.EventTypeSessionClosed, domain.SessionClosedPayload{SessionID: started.SessionID}, "?close=true")

	select {
	case err := <-rec.closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.GreaterOrEqual(t, len(rec.events), 3)
	n := len(rec.events)
	tool, ok := rec.events[n-2].(events.ToolCallEvent)
	require.True(t, ok)
	assert.Equal(t, "t1", tool.ID)
	assert.Equal(t, domain.EventTypeSessionClosed, rec.events[n-1].Type())

	// A closed session refuses new channels.
	_, err = events.Dial(context.Background(), events.Options{BaseURL: ts.URL, SessionID: started.SessionID, Logger: zerolog.Nop()})
	assert.Error(t, err)
}
