// Package orchestrator reconciles the session bootstrap, the media room and the
// event channel into one connection state.
//
// All state is owned by the goroutine running Run. Callers, network results,
// room and channel callbacks and timers post closures into that loop.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xbacklit/voice-agent/internal/domain"
	"github.com/0xbacklit/voice-agent/internal/events"
	"github.com/0xbacklit/voice-agent/internal/media"
	"github.com/0xbacklit/voice-agent/internal/metrics"
	"github.com/0xbacklit/voice-agent/internal/policy"
)

var (
	// ErrNotConfigured is returned by Start when a backend address is missing.
	ErrNotConfigured = errors.New("backend addresses are not configured")
	// ErrSessionActive is returned by Start while a session is booting or live.
	ErrSessionActive = errors.New("a session is already active")
	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("orchestrator stopped")
)

// StartFailedMessage is the user-visible error for every start failure.
const StartFailedMessage = "Unable to start session. Check backend config."

// SessionStore issues sessions and loads their recorded tool calls. Start only
// returns the issued id; Bind makes it current once the orchestrator accepts it.
type SessionStore interface {
	Start(ctx context.Context) (string, error)
	Bind(sessionID string)
	History(ctx context.Context, sessionID string) []domain.ToolCallEvent
	Record(event domain.ToolCallEvent) error
	Clear()
}

// MediaHandle is a joined media room owned by the orchestrator.
type MediaHandle interface {
	Release()
}

// MediaConnector joins the media room of a session.
type MediaConnector interface {
	Connect(ctx context.Context, sessionID string, opts media.Options) (MediaHandle, error)
}

// Channel is an open event channel.
type Channel interface {
	Close() error
}

// ChannelOpener opens the event channel of a session. onClose must be called
// exactly once, whatever the cause.
type ChannelOpener interface {
	Open(ctx context.Context, sessionID string, onEvent func(events.Event), onClose func(error)) (Channel, error)
}

// ToolPolicy decides how tool-call events are handled.
type ToolPolicy interface {
	Evaluate(ctx context.Context, event domain.ToolCallEvent) (policy.Decision, error)
}

// Config holds the orchestrator settings.
type Config struct {
	// CanConnect is false when either backend address is missing.
	CanConnect bool
	AudioOnly  bool

	EndDelay        time.Duration
	SummaryEndDelay time.Duration
}

// Deps are the collaborators of an Orchestrator. Policy, Sink and Metrics are optional.
type Deps struct {
	Store    SessionStore
	Media    MediaConnector
	Channels ChannelOpener
	Policy   ToolPolicy
	Sink     media.Sink
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// Orchestrator owns the session lifecycle.
type Orchestrator struct {
	cfg      Config
	store    SessionStore
	media    MediaConnector
	channels ChannelOpener
	policy   ToolPolicy
	sink     media.Sink
	metrics  *metrics.Metrics
	log      zerolog.Logger

	actions chan func()
	done    chan struct{}
	running atomic.Bool
	// ctx is the Run context, used by boot goroutines.
	ctx context.Context
	wg  sync.WaitGroup

	latest atomic.Pointer[Snapshot]

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int

	// Loop-owned state below.
	state       domain.ConnectionState
	sessionID   string
	booting     bool
	hasEnded    bool
	hasVideo    bool
	errMsg      string
	toolCalls   []domain.ToolCallEvent
	summary     *domain.Summary
	autoStarted bool

	// cycle identifies the current start/teardown generation. Results and
	// callbacks carrying an older cycle are stale.
	cycle   uint64
	handle  MediaHandle
	channel Channel
	// scope confines the current cycle's tracks within sink.
	scope *media.Scope

	pendingEnd  bool
	endTimer    *time.Timer
	endDeadline time.Time
	// endSeq invalidates end timers that already fired but were rescheduled.
	endSeq uint64
}

// New creates a new Orchestrator. Call Run to start its loop.
func New(cfg Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		store:    deps.Store,
		media:    deps.Media,
		channels: deps.Channels,
		policy:   deps.Policy,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		actions:  make(chan func()),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		subs:     make(map[int]chan Snapshot),
		state:    domain.ConnectionStateIdle,
	}
	snap := o.snapshot()
	o.latest.Store(&snap)
	return o
}

// Run processes actions until ctx is done, then tears the session down and
// waits for in-flight start sequences to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("orchestrator already running")
	}
	o.ctx = ctx
	o.metrics.SetState(o.state)

	for {
		select {
		case fn := <-o.actions:
			fn()
		case <-ctx.Done():
			if o.sessionActive() || o.sessionID != "" {
				o.teardown("shutdown")
			}
			o.stopEndTimer()
			close(o.done)
			o.wg.Wait()
			o.closeSubscribers()
			return nil
		}
	}
}

// Start begins a new session. It returns once the state is connecting; the
// rest of the sequence runs in the background and reports through snapshots.
func (o *Orchestrator) Start(ctx context.Context) error {
	var err error
	if callErr := o.call(ctx, func() { err = o.start() }); callErr != nil {
		return callErr
	}
	return err
}

// EndCall tears the current session down. Safe to call repeatedly.
func (o *Orchestrator) EndCall(ctx context.Context) error {
	return o.call(ctx, func() { o.teardown("manual") })
}

// AutoStart performs Start once per orchestrator, and only when both backend
// addresses are configured. It reports whether a start was attempted.
func (o *Orchestrator) AutoStart(ctx context.Context) (bool, error) {
	var (
		started bool
		err     error
	)
	callErr := o.call(ctx, func() {
		if o.autoStarted || !o.cfg.CanConnect {
			return
		}
		o.autoStarted = true
		started = true
		err = o.start()
	})
	if callErr != nil {
		return false, callErr
	}
	return started, err
}

// RecordToolCall forwards a tool call to the backend for the current session.
func (o *Orchestrator) RecordToolCall(event domain.ToolCallEvent) error {
	return o.store.Record(event)
}

// Snapshot returns the latest published state.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.latest.Load()
}

// Subscribe returns a channel receiving the latest snapshot after every
// transition. Slow subscribers only observe the most recent one. The channel
// is closed by cancel or when Run exits.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- o.Snapshot()

	o.subMu.Lock()
	if o.subs == nil {
		o.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	o.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subMu.Lock()
			defer o.subMu.Unlock()
			if c, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(c)
			}
		})
	}
}

// call runs fn on the loop and waits until the resulting state is published.
func (o *Orchestrator) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case o.actions <- func() { fn(); o.publish(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrStopped
	}
	<-finished
	return nil
}

// post queues fn on the loop. It reports false if the loop has exited.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case o.actions <- func() { fn(); o.publish() }:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) publish() {
	snap := o.snapshot()
	o.latest.Store(&snap)
	o.metrics.SetState(snap.State)

	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (o *Orchestrator) closeSubscribers() {
	o.publish()
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.subs = nil
}
