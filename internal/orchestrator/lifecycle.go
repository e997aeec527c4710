package orchestrator

import (
	"context"

	"github.com/0xbacklit/voice-agent/internal/domain"
	"github.com/0xbacklit/voice-agent/internal/events"
	"github.com/0xbacklit/voice-agent/internal/media"
)

// sessionActive reports whether a start is in flight or resources are held.
func (o *Orchestrator) sessionActive() bool {
	return o.booting || o.handle != nil || o.channel != nil
}

func (o *Orchestrator) start() error {
	if !o.cfg.CanConnect {
		return ErrNotConfigured
	}
	if o.sessionActive() {
		return ErrSessionActive
	}

	o.cycle++
	o.sessionID = ""
	o.store.Clear()
	o.errMsg = ""
	o.hasEnded = false
	o.hasVideo = false
	o.summary = nil
	o.toolCalls = nil
	o.booting = true
	o.setState(domain.ConnectionStateConnecting)

	var sink media.Sink
	if o.sink != nil {
		o.scope = media.NewScope(o.sink)
		sink = o.scope
	}

	cycle := o.cycle
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.boot(o.ctx, cycle, sink)
	}()
	return nil
}

// boot runs the start sequence off the loop. Each step reports back through
// the loop and stops as soon as its cycle is no longer current.
func (o *Orchestrator) boot(ctx context.Context, cycle uint64, sink media.Sink) {
	sessionID, err := o.store.Start(ctx)
	if err != nil {
		o.post(func() { o.failStart(cycle, "session", err) })
		return
	}
	if !o.await(func() bool {
		if cycle != o.cycle {
			return false
		}
		o.sessionID = sessionID
		o.store.Bind(sessionID)
		o.log.Info().Str("session_id", sessionID).Msg("session issued")
		return true
	}) {
		return
	}

	history := o.store.History(ctx, sessionID)
	if len(history) > 0 && !o.await(func() bool {
		if cycle != o.cycle {
			return false
		}
		o.toolCalls = history
		return true
	}) {
		return
	}

	handle, err := o.media.Connect(ctx, sessionID, media.Options{
		Sink:        sink,
		EnableVideo: !o.cfg.AudioOnly,
		OnVideoChange: func(hasVideo bool) {
			o.post(func() {
				if cycle == o.cycle {
					o.hasVideo = hasVideo
				}
			})
		},
		OnDisconnected: func() {
			o.post(func() { o.onMediaDisconnected(cycle) })
		},
	})
	if err != nil {
		o.post(func() { o.failStart(cycle, "media", err) })
		return
	}
	if !o.await(func() bool {
		if cycle != o.cycle {
			return false
		}
		o.handle = handle
		return true
	}) {
		o.lateRelease(sessionID, "media handle")
		handle.Release()
		return
	}

	ch, err := o.channels.Open(ctx, sessionID,
		func(ev events.Event) {
			o.post(func() { o.onChannelEvent(cycle, ev) })
		},
		func(err error) {
			o.post(func() { o.onChannelClosed(cycle, err) })
		},
	)
	if err != nil {
		o.post(func() { o.failStart(cycle, "channel", err) })
		return
	}
	if !o.await(func() bool {
		if cycle != o.cycle {
			return false
		}
		o.channel = ch
		o.booting = false
		o.metrics.SessionStart("ok")
		o.log.Info().Str("session_id", sessionID).Msg("session ready")
		return true
	}) {
		o.lateRelease(sessionID, "event channel")
		_ = ch.Close()
	}
}

// await runs fn on the loop and returns its result. It reports false when the
// loop has exited.
func (o *Orchestrator) await(fn func() bool) bool {
	result := make(chan bool, 1)
	if !o.post(func() { result <- fn() }) {
		return false
	}
	return <-result
}

func (o *Orchestrator) lateRelease(sessionID, what string) {
	o.metrics.LateRelease()
	o.log.Info().Str("session_id", sessionID).Msgf("releasing late %s", what)
}

// failStart surfaces a start failure. The issued session id and preloaded
// history are kept; held resources are released so Start can be retried.
func (o *Orchestrator) failStart(cycle uint64, stage string, err error) {
	if cycle != o.cycle {
		o.log.Debug().Err(err).Str("stage", stage).Msg("ignoring stale start failure")
		return
	}
	o.log.Error().Err(err).Str("stage", stage).Str("session_id", o.sessionID).Msg("failed to start session")
	o.metrics.SessionStart(stage + "_failed")

	o.cycle++
	o.releaseResources()
	o.booting = false
	o.errMsg = StartFailedMessage
	if o.sessionID == "" {
		o.setState(domain.ConnectionStateIdle)
	} else {
		o.setState(domain.ConnectionStateDisconnected)
	}
}

// teardown closes the channel, releases media and resets the session. It is
// idempotent and cancels any pending end.
func (o *Orchestrator) teardown(trigger string) {
	active := o.sessionActive() || o.sessionID != ""

	o.cycle++
	o.cancelPendingEnd()
	o.releaseResources()

	o.setState(domain.ConnectionStateDisconnected)
	o.booting = false
	o.hasEnded = true
	o.hasVideo = false

	if active {
		o.metrics.Teardown(trigger)
		o.log.Info().Str("session_id", o.sessionID).Str("trigger", trigger).Msg("session ended")
	}
	o.sessionID = ""
	o.store.Clear()
}

func (o *Orchestrator) releaseResources() {
	if o.channel != nil {
		if err := o.channel.Close(); err != nil {
			o.log.Debug().Err(err).Msg("close event channel")
		}
		o.channel = nil
	}
	if o.handle != nil {
		o.handle.Release()
		o.handle = nil
	}
	// Only this cycle's tracks are detached; a late handle from an earlier
	// cycle cannot touch the sink any more.
	if o.scope != nil {
		o.scope.Close()
		o.scope = nil
	}
}

func (o *Orchestrator) onMediaDisconnected(cycle uint64) {
	if cycle != o.cycle {
		return
	}
	o.log.Warn().Str("session_id", o.sessionID).Msg("media transport disconnected")
	o.hasVideo = false
}

func (o *Orchestrator) setState(state domain.ConnectionState) {
	if o.state == state {
		return
	}
	o.log.Debug().Str("session_id", o.sessionID).Str("from", string(o.state)).Str("state", string(state)).Msg("state changed")
	o.state = state
}
