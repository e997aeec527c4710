// Package media joins the real-time room for a session, publishes the local
// microphone track and routes remote tracks to a Sink.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrUnableToConnect is returned when credentials cannot be obtained or the room cannot be joined.
var ErrUnableToConnect = errors.New("unable to connect")

// TrackKind is the media kind of a remote track.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// RemoteTrack is a subscribed remote track.
type RemoteTrack interface {
	ID() string
	Kind() TrackKind
}

// Drainer is implemented by remote tracks whose packets must be consumed while attached.
type Drainer interface {
	Drain(stop <-chan struct{})
}

// LocalAudio is the local capture published to the room.
type LocalAudio interface {
	Track() webrtc.TrackLocal
	Stop()
}

// Capture acquires the local audio capture.
type Capture interface {
	Open(ctx context.Context) (LocalAudio, error)
}

// RoomEvents are the room callbacks the client installs.
type RoomEvents struct {
	OnTrackSubscribed   func(RemoteTrack)
	OnTrackUnsubscribed func(RemoteTrack)
	OnDisconnected      func()
}

// Room is a joined real-time room.
type Room interface {
	PublishAudio(audio LocalAudio) (sid string, err error)
	Unpublish(sid string) error
	Disconnect()
}

// Connector joins rooms.
type Connector interface {
	Connect(ctx context.Context, url, token string, events RoomEvents) (Room, error)
}

// Sink receives remote tracks. Implementations must be safe for concurrent use.
type Sink interface {
	// Attach starts rendering track. A video track replaces the current video.
	Attach(track RemoteTrack)
	Detach(track RemoteTrack)
	// ClearVideo empties the video container.
	ClearVideo()
	DetachAll()
}
