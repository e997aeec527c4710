package orchestrator

import "github.com/0xbacklit/voice-agent/internal/domain"

// Snapshot is an immutable view of the orchestrator state. Slices are shared
// between snapshots and must not be modified.
type Snapshot struct {
	State     domain.ConnectionState
	SessionID string
	Booting   bool
	HasEnded  bool
	HasVideo  bool
	// PendingEnd is set while an automatic end is scheduled.
	PendingEnd bool
	Error      string

	// ToolCalls is the tool-call history, most recent first.
	ToolCalls []domain.ToolCallEvent
	Summary   *domain.Summary

	CanConnect bool
	AudioOnly  bool
}

// Active reports whether a session is booting or live.
func (s Snapshot) Active() bool {
	return s.Booting || s.State == domain.ConnectionStateConnecting || s.State == domain.ConnectionStateConnected
}

func (o *Orchestrator) snapshot() Snapshot {
	return Snapshot{
		State:      o.state,
		SessionID:  o.sessionID,
		Booting:    o.booting,
		HasEnded:   o.hasEnded,
		HasVideo:   o.hasVideo,
		PendingEnd: o.pendingEnd,
		Error:      o.errMsg,
		ToolCalls:  o.toolCalls,
		Summary:    o.summary,
		CanConnect: o.cfg.CanConnect,
		AudioOnly:  o.cfg.AudioOnly,
	}
}
