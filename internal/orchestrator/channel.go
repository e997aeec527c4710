package orchestrator

import (
	"time"

	"github.com/0xbacklit/voice-agent/internal/domain"
	"github.com/0xbacklit/voice-agent/internal/events"
	"github.com/0xbacklit/voice-agent/internal/policy"
)

func (o *Orchestrator) onChannelEvent(cycle uint64, ev events.Event) {
	if cycle != o.cycle {
		return
	}
	o.metrics.ChannelEvent(ev.Type())

	switch e := ev.(type) {
	case events.StatusEvent:
		o.onStatus(e.StatusPayload)
	case events.ToolCallEvent:
		o.onToolCall(e.ToolCallEvent)
	case events.SummaryEvent:
		o.onSummary(e.Summary)
	case events.SessionClosedEvent:
		o.log.Info().Str("session_id", o.sessionID).Msg("backend closed the session")
		o.setState(domain.ConnectionStateDisconnected)
		o.armPendingEnd(o.cfg.EndDelay, "session_closed")
	}
}

func (o *Orchestrator) onStatus(p domain.StatusPayload) {
	if p.SessionID != "" && p.SessionID != o.sessionID {
		o.log.Debug().Str("session_id", o.sessionID).Str("event_session_id", p.SessionID).Msg("ignoring status for another session")
		return
	}
	switch p.State {
	case domain.ConnectionStateConnecting, domain.ConnectionStateConnected, domain.ConnectionStateDisconnected:
		o.setState(p.State)
	default:
		o.log.Warn().Str("state", string(p.State)).Msg("ignoring unknown status state")
	}
}

func (o *Orchestrator) onToolCall(call domain.ToolCallEvent) {
	decision := policy.DecisionRecord
	if call.Name == domain.ToolEndConversation {
		decision = policy.DecisionEnd
	}
	if o.policy != nil {
		d, err := o.policy.Evaluate(o.ctx, call)
		if err != nil {
			o.log.Warn().Err(err).Str("tool", call.Name).Msg("tool policy failed, using default")
		} else {
			decision = d
		}
	}
	if decision == policy.DecisionIgnore {
		return
	}

	o.metrics.ToolCall(call.Name)
	history := make([]domain.ToolCallEvent, 0, len(o.toolCalls)+1)
	history = append(history, call)
	o.toolCalls = append(history, o.toolCalls...)

	if decision == policy.DecisionEnd {
		o.armPendingEnd(o.cfg.EndDelay, "end_conversation")
	}
}

func (o *Orchestrator) onSummary(s domain.Summary) {
	o.summary = &s
	if o.pendingEnd {
		// The summary is the last thing worth waiting for.
		o.scheduleEnd(o.cfg.SummaryEndDelay, true)
	}
}

// onChannelClosed handles a close that teardown did not initiate. It may run
// before the opened channel is stored; teardown still closes it again.
func (o *Orchestrator) onChannelClosed(cycle uint64, err error) {
	if cycle != o.cycle {
		return
	}
	o.log.Warn().Err(err).Str("session_id", o.sessionID).Msg("event channel closed")
	o.setState(domain.ConnectionStateDisconnected)
	o.armPendingEnd(o.cfg.EndDelay, "channel_closed")
}

func (o *Orchestrator) armPendingEnd(delay time.Duration, reason string) {
	o.log.Debug().Str("session_id", o.sessionID).Str("reason", reason).Dur("delay", delay).Msg("ending session")
	o.pendingEnd = true
	o.scheduleEnd(delay, false)
}

// scheduleEnd makes the session end after delay. Unless replace is set, an
// earlier end that is already scheduled wins. The timer is bound to the
// current session id.
func (o *Orchestrator) scheduleEnd(delay time.Duration, replace bool) {
	deadline := time.Now().Add(delay)
	if !replace && o.endTimer != nil && !deadline.Before(o.endDeadline) {
		return
	}
	o.stopEndTimer()
	o.endSeq++
	seq := o.endSeq
	sessionID := o.sessionID
	o.endDeadline = deadline
	o.endTimer = time.AfterFunc(delay, func() {
		o.post(func() { o.onEndTimer(seq, sessionID) })
	})
}

func (o *Orchestrator) onEndTimer(seq uint64, sessionID string) {
	if seq != o.endSeq || !o.pendingEnd || sessionID != o.sessionID {
		return
	}
	o.endTimer = nil
	o.teardown("auto_end")
}

func (o *Orchestrator) cancelPendingEnd() {
	o.pendingEnd = false
	o.stopEndTimer()
}

func (o *Orchestrator) stopEndTimer() {
	if o.endTimer != nil {
		o.endTimer.Stop()
		o.endTimer = nil
	}
	o.endSeq++
}
