// Package presenter derives what the user sees from orchestrator snapshots:
// the status line, the primary action, toasts and drawers.
package presenter

import (
	"context"
	"sync"
	"time"

	"github.com/0xbacklit/voice-agent/internal/domain"
	"github.com/0xbacklit/voice-agent/internal/orchestrator"
)

// Action is the primary call button.
type Action string

const (
	ActionConnect Action = "connect"
	ActionEnd     Action = "end"
)

// Drawer is the open side panel. At most one is open.
type Drawer string

const (
	DrawerNone    Drawer = ""
	DrawerTools   Drawer = "tools"
	DrawerSummary Drawer = "summary"
)

// Status texts.
const (
	TextListening     = "Listening…"
	TextStarting      = "Starting voice session..."
	TextEnded         = "Session ended. Tap Connect to start again."
	TextReady         = "Ready to talk. Tap Connect to start."
	TextLoadingAvatar = "Loading avatar..."
	TextNoSummary     = "Summary will appear here once the session ends."
)

// ToolItem is one rendered tool call.
type ToolItem struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Detail string `json:"detail"`
	// Status is empty for completed calls.
	Status string `json:"status,omitempty"`
}

// AppointmentItem is one rendered booked appointment.
type AppointmentItem struct {
	Name          string `json:"name"`
	When          string `json:"when"`
	ContactNumber string `json:"contact_number"`
}

// SummaryView is the rendered summary.
type SummaryView struct {
	Text         string            `json:"text"`
	Appointments []AppointmentItem `json:"appointments"`
	Preferences  []string          `json:"preferences"`
}

// View is everything the user sees.
type View struct {
	Badge      string `json:"badge"`
	StatusText string `json:"status_text"`
	Action     Action `json:"action"`
	Error      string `json:"error,omitempty"`
	HasVideo   bool   `json:"has_video"`
	AudioOnly  bool   `json:"audio_only"`

	ToolToast    *ToolItem `json:"tool_toast,omitempty"`
	SummaryToast bool      `json:"summary_toast"`
	Drawer       Drawer    `json:"drawer"`

	ToolCalls []ToolItem   `json:"tool_calls"`
	Summary   *SummaryView `json:"summary,omitempty"`
}

// Config holds the toast durations.
type Config struct {
	ToolToastDuration    time.Duration
	SummaryToastDuration time.Duration
}

// Source publishes orchestrator snapshots.
type Source interface {
	Subscribe() (<-chan orchestrator.Snapshot, func())
}

// Presenter tracks presentation-only state. It never calls back into the
// orchestrator.
type Presenter struct {
	cfg      Config
	onChange func(View)

	mu       sync.Mutex
	renderMu sync.Mutex
	closed   bool

	snap        orchestrator.Snapshot
	seenTools   int
	seenSummary *domain.Summary

	toolToast    *domain.ToolCallEvent
	toolSeq      uint64
	toolTimer    *time.Timer
	summaryToast bool
	summarySeq   uint64
	summaryTimer *time.Timer
	drawer       Drawer
}

// New creates a presenter. onChange, if set, receives every new View.
func New(cfg Config, onChange func(View)) *Presenter {
	return &Presenter{cfg: cfg, onChange: onChange}
}

// Run applies snapshots from src until ctx is done or src stops publishing.
func (p *Presenter) Run(ctx context.Context, src Source) {
	updates, cancel := src.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			p.Apply(snap)
		}
	}
}

// Apply consumes one snapshot.
func (p *Presenter) Apply(snap orchestrator.Snapshot) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.snap = snap

	if len(snap.ToolCalls) > p.seenTools {
		head := snap.ToolCalls[0]
		p.showToolToastLocked(&head)
	}
	p.seenTools = len(snap.ToolCalls)

	if snap.Summary != nil && snap.Summary != p.seenSummary {
		p.showSummaryToastLocked()
	}
	p.seenSummary = snap.Summary
	p.mu.Unlock()

	p.render()
}

// View returns the current view.
func (p *Presenter) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

// OpenTools opens the tool-call drawer and closes the summary drawer.
func (p *Presenter) OpenTools() { p.setDrawer(DrawerTools) }

// OpenSummary opens the summary drawer and closes the tool-call drawer.
func (p *Presenter) OpenSummary() { p.setDrawer(DrawerSummary) }

// CloseDrawer closes whichever drawer is open.
func (p *Presenter) CloseDrawer() { p.setDrawer(DrawerNone) }

// DismissToolToast hides the tool toast before its timeout.
func (p *Presenter) DismissToolToast() {
	p.mu.Lock()
	p.hideToolToastLocked()
	p.mu.Unlock()
	p.render()
}

// DismissSummaryToast hides the summary toast before its timeout.
func (p *Presenter) DismissSummaryToast() {
	p.mu.Lock()
	p.hideSummaryToastLocked()
	p.mu.Unlock()
	p.render()
}

// Close stops every pending toast timer. The presenter ignores input afterwards.
func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.hideToolToastLocked()
	p.hideSummaryToastLocked()
}

func (p *Presenter) setDrawer(d Drawer) {
	p.mu.Lock()
	p.drawer = d
	p.mu.Unlock()
	p.render()
}

func (p *Presenter) showToolToastLocked(tool *domain.ToolCallEvent) {
	p.hideToolToastLocked()
	p.toolToast = tool
	seq := p.toolSeq
	p.toolTimer = time.AfterFunc(p.cfg.ToolToastDuration, func() {
		p.mu.Lock()
		if seq != p.toolSeq || p.closed {
			p.mu.Unlock()
			return
		}
		p.hideToolToastLocked()
		p.mu.Unlock()
		p.render()
	})
}

func (p *Presenter) hideToolToastLocked() {
	if p.toolTimer != nil {
		p.toolTimer.Stop()
		p.toolTimer = nil
	}
	p.toolToast = nil
	p.toolSeq++
}

func (p *Presenter) showSummaryToastLocked() {
	p.hideSummaryToastLocked()
	p.summaryToast = true
	seq := p.summarySeq
	p.summaryTimer = time.AfterFunc(p.cfg.SummaryToastDuration, func() {
		p.mu.Lock()
		if seq != p.summarySeq || p.closed {
			p.mu.Unlock()
			return
		}
		p.hideSummaryToastLocked()
		p.mu.Unlock()
		p.render()
	})
}

func (p *Presenter) hideSummaryToastLocked() {
	if p.summaryTimer != nil {
		p.summaryTimer.Stop()
		p.summaryTimer = nil
	}
	p.summaryToast = false
	p.summarySeq++
}

func (p *Presenter) render() {
	if p.onChange == nil {
		return
	}
	p.renderMu.Lock()
	defer p.renderMu.Unlock()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	v := p.viewLocked()
	p.mu.Unlock()
	p.onChange(v)
}

func (p *Presenter) viewLocked() View {
	s := p.snap
	v := View{
		Badge:        badge(s),
		StatusText:   statusText(s),
		Action:       ActionEnd,
		Error:        s.Error,
		HasVideo:     s.HasVideo,
		AudioOnly:    s.AudioOnly,
		SummaryToast: p.summaryToast,
		Drawer:       p.drawer,
		ToolCalls:    make([]ToolItem, 0, len(s.ToolCalls)),
	}
	if s.State != domain.ConnectionStateConnected && !s.Booting {
		v.Action = ActionConnect
	}
	if p.toolToast != nil {
		item := toolItem(*p.toolToast)
		v.ToolToast = &item
	}
	for _, call := range s.ToolCalls {
		v.ToolCalls = append(v.ToolCalls, toolItem(call))
	}
	if s.Summary != nil {
		v.Summary = summaryView(s.Summary)
	}
	return v
}

func badge(s orchestrator.Snapshot) string {
	if s.SessionID == "" {
		return "No session"
	}
	return "Session " + string(s.State)
}

func statusText(s orchestrator.Snapshot) string {
	starting := s.Booting || s.State == domain.ConnectionStateConnecting
	if !s.AudioOnly {
		// The avatar replaces the status line once its video is attached.
		if s.HasVideo {
			return ""
		}
		if starting || s.SessionID != "" || !s.HasEnded {
			return TextLoadingAvatar
		}
		return TextEnded
	}
	switch {
	case s.State == domain.ConnectionStateConnected:
		return TextListening
	case starting:
		return TextStarting
	case s.HasEnded:
		return TextEnded
	default:
		return TextReady
	}
}

func toolItem(call domain.ToolCallEvent) ToolItem {
	item := ToolItem{ID: call.ID, Label: ToolLabel(call.Name), Detail: call.Detail}
	if call.Status != domain.ToolCallStatusCompleted {
		item.Status = string(call.Status)
	}
	return item
}

func summaryView(s *domain.Summary) *SummaryView {
	sv := &SummaryView{Text: s.Summary, Preferences: s.Preferences}
	for _, appt := range s.BookedAppointments {
		sv.Appointments = append(sv.Appointments, AppointmentItem{
			Name:          appt.Name,
			When:          AppointmentTime(appt.Date, appt.Time),
			ContactNumber: appt.ContactNumber,
		})
	}
	return sv
}
