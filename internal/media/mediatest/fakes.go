// Package mediatest provides in-memory fakes of the media transport for tests.
package mediatest

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/0xbacklit/voice-agent/internal/domain"
	"github.com/0xbacklit/voice-agent/internal/media"
)

// ErrAlreadyUnpublished mimics the transport error for a second unpublish.
var ErrAlreadyUnpublished = errors.New("track already unpublished")

// Track is a fake remote track.
type Track struct {
	TrackID   string
	TrackKind media.TrackKind
}

func (t Track) ID() string            { return t.TrackID }
func (t Track) Kind() media.TrackKind { return t.TrackKind }

// Tokens is a fake TokenSource.
type Tokens struct {
	mu       sync.Mutex
	Err      error
	Requests []domain.TokenRequest
}

func (f *Tokens) FetchToken(_ context.Context, req domain.TokenRequest) (*domain.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if f.Err != nil {
		return nil, f.Err
	}
	return &domain.TokenResponse{Token: "token-" + req.SessionID, URL: "wss://media.test", Room: req.SessionID, Identity: req.Identity}, nil
}

// Count returns how many tokens were requested.
func (f *Tokens) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}

// Connector is a fake Connector that records every room it creates.
type Connector struct {
	mu    sync.Mutex
	Err   error
	Rooms []*Room
	// Gate, when set, blocks Connect until it is closed.
	Gate chan struct{}
	// Gates[i], when non-nil, blocks the i-th Connect call (0-based) until closed.
	Gates []chan struct{}
	calls int
	// DuringConnect runs with the room events before Connect returns.
	DuringConnect func(events media.RoomEvents)
	PublishErr    error
}

func (f *Connector) Connect(ctx context.Context, url, token string, events media.RoomEvents) (media.Room, error) {
	f.mu.Lock()
	gate := f.Gate
	if f.calls < len(f.Gates) && f.Gates[f.calls] != nil {
		gate = f.Gates[f.calls]
	}
	f.calls++
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	if f.Err != nil {
		f.mu.Unlock()
		return nil, f.Err
	}
	room := &Room{URL: url, Token: token, Events: events, PublishErr: f.PublishErr}
	f.Rooms = append(f.Rooms, room)
	hook := f.DuringConnect
	f.mu.Unlock()

	if hook != nil {
		hook(events)
	}
	return room, nil
}

// LastRoom returns the most recently created room, or nil.
func (f *Connector) LastRoom() *Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Rooms) == 0 {
		return nil
	}
	return f.Rooms[len(f.Rooms)-1]
}

// RoomCount returns how many rooms were joined.
func (f *Connector) RoomCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Rooms)
}

// Room is a fake joined room.
type Room struct {
	mu           sync.Mutex
	URL          string
	Token        string
	Events       media.RoomEvents
	PublishErr   error
	published    map[string]bool
	unpublishes  int
	disconnects  int
	publishCount int
}

func (r *Room) PublishAudio(media.LocalAudio) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PublishErr != nil {
		return "", r.PublishErr
	}
	if r.published == nil {
		r.published = make(map[string]bool)
	}
	r.publishCount++
	sid := "TR_local"
	r.published[sid] = true
	return sid, nil
}

func (r *Room) Unpublish(sid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unpublishes++
	if !r.published[sid] {
		return ErrAlreadyUnpublished
	}
	delete(r.published, sid)
	return nil
}

func (r *Room) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
}

// Disconnects returns how many times Disconnect was called.
func (r *Room) Disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

// Unpublishes returns how many times Unpublish was called.
func (r *Room) Unpublishes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unpublishes
}

// Published reports whether the local track is still published.
func (r *Room) Published() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published) > 0
}

// Capture is a fake Capture.
type Capture struct {
	mu     sync.Mutex
	Err    error
	Opened []*Audio
}

func (c *Capture) Open(context.Context) (media.LocalAudio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	a := &Audio{}
	c.Opened = append(c.Opened, a)
	return a, nil
}

// LastAudio returns the most recently opened capture, or nil.
func (c *Capture) LastAudio() *Audio {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Opened) == 0 {
		return nil
	}
	return c.Opened[len(c.Opened)-1]
}

// Audio is a fake local audio track.
type Audio struct {
	mu    sync.Mutex
	stops int
}

func (a *Audio) Track() webrtc.TrackLocal { return nil }

func (a *Audio) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
}

// Stopped reports whether Stop was called at least once.
func (a *Audio) Stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stops > 0
}
