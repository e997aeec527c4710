package media

import (
	"sort"
	"sync"
)

// MemorySink keeps attached tracks in memory and drains their packets.
type MemorySink struct {
	mu     sync.Mutex
	tracks map[string]*attachment
	video  string
}

type attachment struct {
	track RemoteTrack
	stop  chan struct{}
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{tracks: make(map[string]*attachment)}
}

func (s *MemorySink) Attach(track RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if track.Kind() == TrackKindVideo {
		s.clearVideoLocked()
		s.video = track.ID()
	}
	if old, ok := s.tracks[track.ID()]; ok {
		close(old.stop)
	}

	a := &attachment{track: track, stop: make(chan struct{})}
	s.tracks[track.ID()] = a
	if d, ok := track.(Drainer); ok {
		go d.Drain(a.stop)
	}
}

func (s *MemorySink) Detach(track RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked(track.ID())
	if s.video == track.ID() {
		s.video = ""
	}
}

func (s *MemorySink) ClearVideo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearVideoLocked()
}

func (s *MemorySink) DetachAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.tracks {
		s.detachLocked(id)
	}
	s.video = ""
}

// Attached returns the ids of attached tracks, sorted.
func (s *MemorySink) Attached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Video returns the id of the track shown in the video container, if any.
func (s *MemorySink) Video() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

func (s *MemorySink) clearVideoLocked() {
	if s.video != "" {
		s.detachLocked(s.video)
		s.video = ""
	}
}

func (s *MemorySink) detachLocked(id string) {
	if a, ok := s.tracks[id]; ok {
		close(a.stop)
		delete(s.tracks, id)
	}
}

// Scope confines a shared Sink to the tracks attached through it. Detach,
// ClearVideo and DetachAll only touch those tracks. Once closed, the scope
// detaches what it attached and ignores later attaches.
type Scope struct {
	sink Sink

	mu     sync.Mutex
	closed bool
	tracks map[string]RemoteTrack
	video  string
}

// NewScope creates a scope over sink.
func NewScope(sink Sink) *Scope {
	return &Scope{sink: sink, tracks: make(map[string]RemoteTrack)}
}

func (s *Scope) Attach(track RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if track.Kind() == TrackKindVideo {
		// The sink replaces the previous video on its own.
		if s.video != "" && s.video != track.ID() {
			delete(s.tracks, s.video)
		}
		s.video = track.ID()
	}
	s.tracks[track.ID()] = track
	s.sink.Attach(track)
}

func (s *Scope) Detach(track RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked(track.ID())
}

func (s *Scope) ClearVideo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video != "" {
		s.detachLocked(s.video)
	}
}

func (s *Scope) DetachAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachAllLocked()
}

// Close detaches every track attached through the scope. It is idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.detachAllLocked()
}

func (s *Scope) detachAllLocked() {
	for id := range s.tracks {
		s.detachLocked(id)
	}
}

func (s *Scope) detachLocked(id string) {
	track, ok := s.tracks[id]
	if !ok {
		return
	}
	delete(s.tracks, id)
	if s.video == id {
		s.video = ""
	}
	s.sink.Detach(track)
}
