package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xbacklit/voice-agent/internal/domain"
	"github.com/0xbacklit/voice-agent/internal/events"
	"github.com/0xbacklit/voice-agent/internal/media"
	"github.com/0xbacklit/voice-agent/internal/media/mediatest"
	"github.com/0xbacklit/voice-agent/internal/policy"
)

var errBackendDown = errors.New("backend down")

type fakeStore struct {
	mu       sync.Mutex
	err      error
	history  []domain.ToolCallEvent
	starts   int
	clears   int
	bound    string
	recorded []domain.ToolCallEvent
}

func (s *fakeStore) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("sess_%06d", s.starts), nil
}

func (s *fakeStore) History(ctx context.Context, sessionID string) []domain.ToolCallEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}

func (s *fakeStore) Record(event domain.ToolCallEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, event)
	return nil
}

func (s *fakeStore) Bind(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound = sessionID
}

func (s *fakeStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.bound = ""
}

func (s *fakeStore) boundID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeStore) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

type fakeChannel struct {
	sessionID string
	onEvent   func(events.Event)
	onClose   func(error)

	mu        sync.Mutex
	closes    int
	closeOnce sync.Once
	wg        *sync.WaitGroup
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.signalClose(nil)
	return nil
}

// drop simulates the backend closing the connection.
func (c *fakeChannel) drop(err error) {
	c.signalClose(err)
}

func (c *fakeChannel) signalClose(err error) {
	c.closeOnce.Do(func() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.onClose(err)
		}()
	})
}

func (c *fakeChannel) emit(ev events.Event) {
	c.onEvent(ev)
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeChannels struct {
	mu     sync.Mutex
	err    error
	opened []*fakeChannel
	wg     sync.WaitGroup
}

func (f *fakeChannels) Open(ctx context.Context, sessionID string, onEvent func(events.Event), onClose func(error)) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := &fakeChannel{sessionID: sessionID, onEvent: onEvent, onClose: onClose, wg: &f.wg}
	f.opened = append(f.opened, ch)
	return ch, nil
}

func (f *fakeChannels) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeChannels) last() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opened) == 0 {
		return nil
	}
	return f.opened[len(f.opened)-1]
}

type fixedPolicy map[string]policy.Decision

func (p fixedPolicy) Evaluate(_ context.Context, event domain.ToolCallEvent) (policy.Decision, error) {
	if d, ok := p[event.Name]; ok {
		return d, nil
	}
	return policy.DecisionRecord, nil
}

type harness struct {
	o         *Orchestrator
	store     *fakeStore
	tokens    *mediatest.Tokens
	connector *mediatest.Connector
	capture   *mediatest.Capture
	channels  *fakeChannels
	sink      *media.MemorySink

	cancel context.CancelFunc
	done   chan struct{}
}

type harnessOption func(*harness, *Config, *Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:     &fakeStore{},
		tokens:    &mediatest.Tokens{},
		connector: &mediatest.Connector{},
		capture:   &mediatest.Capture{},
		channels:  &fakeChannels{},
		sink:      media.NewMemorySink(),
		done:      make(chan struct{}),
	}
	cfg := Config{
		CanConnect:      true,
		AudioOnly:       false,
		EndDelay:        100 * time.Millisecond,
		SummaryEndDelay: 40 * time.Millisecond,
	}
	deps := Deps{
		Store:    h.store,
		Media:    MediaClient(media.NewClient(h.tokens, h.connector, h.capture, zerolog.Nop())),
		Channels: h.channels,
		Sink:     h.sink,
		Logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h, &cfg, &deps)
	}

	h.o = New(cfg, deps)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = h.o.Run(ctx)
	}()
	return h
}

// stop shuts the loop down and waits for every helper goroutine.
func (h *harness) stop() {
	h.cancel()
	<-h.done
	h.channels.wg.Wait()
}

func (h *harness) waitFor(t *testing.T, cond func(Snapshot) bool, msg string) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.o.Snapshot()) }, 2*time.Second, 5*time.Millisecond, msg)
	return h.o.Snapshot()
}

// startReady starts a session and waits until its channel is open.
func (h *harness) startReady(t *testing.T) (*fakeChannel, Snapshot) {
	t.Helper()
	opened := h.channels.count()
	require.NoError(t, h.o.Start(context.Background()))
	snap := h.waitFor(t, func(s Snapshot) bool { return !s.Booting && h.channels.count() > opened }, "session did not become ready")
	return h.channels.last(), snap
}

func (h *harness) connect(t *testing.T, ch *fakeChannel) {
	t.Helper()
	ch.emit(events.StatusEvent{StatusPayload: domain.StatusPayload{SessionID: ch.sessionID, State: domain.ConnectionStateConnected}})
	h.waitFor(t, func(s Snapshot) bool { return s.State == domain.ConnectionStateConnected }, "state did not become connected")
}

func isEnded(s Snapshot) bool {
	return s.HasEnded && s.State == domain.ConnectionStateDisconnected && s.SessionID == ""
}

// gatedBackend holds StartSession until gate is closed.
type gatedBackend struct {
	gate chan struct{}
	id   string
}

func (b *gatedBackend) StartSession(ctx context.Context) (*domain.SessionStartResponse, error) {
	select {
	case <-b.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &domain.SessionStartResponse{SessionID: b.id}, nil
}

func (b *gatedBackend) FetchToolCalls(context.Context, string) ([]domain.ToolCallEvent, error) {
	return nil, nil
}

func (b *gatedBackend) PushToolCall(context.Context, string, domain.ToolCallEvent) error {
	return nil
}
