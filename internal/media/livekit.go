package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// LiveKitConnector joins LiveKit rooms with a participant token.
type LiveKitConnector struct {
	Logger zerolog.Logger
}

type connectResult struct {
	room *lksdk.Room
	err  error
}

// Connect joins the room at url with auto-subscribe enabled.
func (c LiveKitConnector) Connect(ctx context.Context, url, token string, events RoomEvents) (Room, error) {
	cb := lksdk.NewRoomCallback()
	cb.ParticipantCallback.OnTrackSubscribed = func(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, _ *lksdk.RemoteParticipant) {
		if events.OnTrackSubscribed != nil {
			events.OnTrackSubscribed(&lkRemoteTrack{track: track})
		}
	}
	cb.ParticipantCallback.OnTrackUnsubscribed = func(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, _ *lksdk.RemoteParticipant) {
		if events.OnTrackUnsubscribed != nil {
			events.OnTrackUnsubscribed(&lkRemoteTrack{track: track})
		}
	}
	cb.OnDisconnected = func() {
		if events.OnDisconnected != nil {
			events.OnDisconnected()
		}
	}

	resCh := make(chan connectResult, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(url, token, cb, lksdk.WithAutoSubscribe(true))
		resCh <- connectResult{room: room, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to room with token: %w", res.err)
		}
		c.Logger.Debug().Str("room", res.room.Name()).Msg("connected to LiveKit room")
		return &lkRoom{room: res.room}, nil
	case <-ctx.Done():
		// The join cannot be interrupted; disconnect whatever it produces.
		go func() {
			if res := <-resCh; res.err == nil {
				res.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type lkRoom struct {
	room *lksdk.Room
}

func (r *lkRoom) PublishAudio(audio LocalAudio) (string, error) {
	pub, err := r.room.LocalParticipant.PublishTrack(audio.Track(), &lksdk.TrackPublicationOptions{
		Name:   "microphone",
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish audio track: %w", err)
	}
	return pub.SID(), nil
}

func (r *lkRoom) Unpublish(sid string) error {
	if sid == "" {
		return nil
	}
	return r.room.LocalParticipant.UnpublishTrack(sid)
}

func (r *lkRoom) Disconnect() {
	r.room.Disconnect()
}

type lkRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *lkRemoteTrack) ID() string {
	return t.track.ID()
}

func (t *lkRemoteTrack) Kind() TrackKind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return TrackKindVideo
	}
	return TrackKindAudio
}

// Drain reads and discards RTP until stop is closed or the track ends.
func (t *lkRemoteTrack) Drain(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = t.track.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		if _, _, err := t.track.ReadRTP(); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() || errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return
		}
	}
}
