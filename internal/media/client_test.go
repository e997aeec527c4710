package media_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xbacklit/voice-agent/internal/media"
	"github.com/0xbacklit/voice-agent/internal/media/mediatest"
)

type videoLog struct {
	mu     sync.Mutex
	values []bool
}

func (v *videoLog) record(hasVideo bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values = append(v.values, hasVideo)
}

func (v *videoLog) get() []bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]bool(nil), v.values...)
}

func newClient(tokens *mediatest.Tokens, connector *mediatest.Connector, capture *mediatest.Capture) *media.Client {
	return media.NewClient(tokens, connector, capture, zerolog.Nop())
}

var (
	agentAudio = mediatest.Track{TrackID: "TR_agent_audio", TrackKind: media.TrackKindAudio}
	avatar     = mediatest.Track{TrackID: "TR_avatar", TrackKind: media.TrackKindVideo}
)

func TestIdentity(t *testing.T) {
	assert.Equal(t, "caller-sess_a", media.Identity("sess_abcdef"))
	assert.Equal(t, "caller-abc", media.Identity("abc"))
}

func TestConnectPublishesAndRoutesTracks(t *testing.T) {
	tokens := &mediatest.Tokens{}
	connector := &mediatest.Connector{}
	capture := &mediatest.Capture{}
	sink := media.NewMemorySink()
	videos := &videoLog{}

	h, err := newClient(tokens, connector, capture).Connect(context.Background(), "sess_123456789", media.Options{
		Sink:          sink,
		EnableVideo:   true,
		OnVideoChange: videos.record,
	})
	require.NoError(t, err)
	assert.Equal(t, "sess_123456789", h.SessionID())

	require.Len(t, tokens.Requests, 1)
	assert.Equal(t, "caller-sess_1", tokens.Requests[0].Identity)

	room := connector.LastRoom()
	require.NotNil(t, room)
	assert.Equal(t, "wss://media.test", room.URL)
	assert.True(t, room.Published())

	room.Events.OnTrackSubscribed(agentAudio)
	room.Events.OnTrackSubscribed(avatar)
	assert.Equal(t, []string{"TR_agent_audio", "TR_avatar"}, sink.Attached())
	assert.Equal(t, "TR_avatar", sink.Video())

	room.Events.OnTrackUnsubscribed(avatar)
	assert.Equal(t, []string{"TR_agent_audio"}, sink.Attached())
	assert.Empty(t, sink.Video())
	assert.Equal(t, []bool{true, false}, videos.get())
}

func TestConnectAudioOnlyIgnoresVideo(t *testing.T) {
	connector := &mediatest.Connector{}
	sink := media.NewMemorySink()
	videos := &videoLog{}

	_, err := newClient(&mediatest.Tokens{}, connector, &mediatest.Capture{}).Connect(context.Background(), "s1", media.Options{
		Sink:          sink,
		OnVideoChange: videos.record,
	})
	require.NoError(t, err)

	connector.LastRoom().Events.OnTrackSubscribed(avatar)
	assert.Empty(t, sink.Attached())
	assert.Empty(t, videos.get())
}

func TestTracksSubscribedDuringJoinAreReplayed(t *testing.T) {
	connector := &mediatest.Connector{
		DuringConnect: func(events media.RoomEvents) {
			events.OnTrackSubscribed(agentAudio)
			events.OnTrackSubscribed(avatar)
			events.OnTrackUnsubscribed(avatar)
		},
	}
	sink := media.NewMemorySink()

	_, err := newClient(&mediatest.Tokens{}, connector, &mediatest.Capture{}).Connect(context.Background(), "s1", media.Options{
		Sink:        sink,
		EnableVideo: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"TR_agent_audio"}, sink.Attached())
}

func TestConnectFailures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("token", func(t *testing.T) {
		connector := &mediatest.Connector{}
		_, err := newClient(&mediatest.Tokens{Err: boom}, connector, &mediatest.Capture{}).Connect(context.Background(), "s1", media.Options{})
		assert.ErrorIs(t, err, media.ErrUnableToConnect)
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, connector.RoomCount())
	})

	t.Run("join", func(t *testing.T) {
		capture := &mediatest.Capture{}
		_, err := newClient(&mediatest.Tokens{}, &mediatest.Connector{Err: boom}, capture).Connect(context.Background(), "s1", media.Options{})
		assert.ErrorIs(t, err, media.ErrUnableToConnect)
		assert.Nil(t, capture.LastAudio())
	})

	t.Run("capture", func(t *testing.T) {
		connector := &mediatest.Connector{}
		_, err := newClient(&mediatest.Tokens{}, connector, &mediatest.Capture{Err: boom}).Connect(context.Background(), "s1", media.Options{})
		assert.ErrorIs(t, err, media.ErrUnableToConnect)
		assert.Equal(t, 1, connector.LastRoom().Disconnects())
	})

	t.Run("publish", func(t *testing.T) {
		connector := &mediatest.Connector{PublishErr: boom}
		capture := &mediatest.Capture{}
		_, err := newClient(&mediatest.Tokens{}, connector, capture).Connect(context.Background(), "s1", media.Options{})
		assert.ErrorIs(t, err, media.ErrUnableToConnect)
		assert.Equal(t, 1, connector.LastRoom().Disconnects())
		assert.True(t, capture.LastAudio().Stopped())
	})
}

func TestUngracefulDisconnectCleansUp(t *testing.T) {
	connector := &mediatest.Connector{}
	capture := &mediatest.Capture{}
	sink := media.NewMemorySink()
	videos := &videoLog{}
	disconnected := 0

	_, err := newClient(&mediatest.Tokens{}, connector, capture).Connect(context.Background(), "s1", media.Options{
		Sink:           sink,
		EnableVideo:    true,
		OnVideoChange:  videos.record,
		OnDisconnected: func() { disconnected++ },
	})
	require.NoError(t, err)

	room := connector.LastRoom()
	room.Events.OnTrackSubscribed(agentAudio)
	room.Events.OnTrackSubscribed(avatar)
	room.Events.OnDisconnected()

	assert.True(t, capture.LastAudio().Stopped())
	assert.Empty(t, sink.Attached())
	assert.Empty(t, sink.Video())
	assert.Equal(t, []bool{true, false}, videos.get())
	assert.Equal(t, 1, disconnected)
}

func TestReleaseIsIdempotentAndSilencesEvents(t *testing.T) {
	connector := &mediatest.Connector{}
	capture := &mediatest.Capture{}
	sink := media.NewMemorySink()
	disconnected := 0

	h, err := newClient(&mediatest.Tokens{}, connector, capture).Connect(context.Background(), "s1", media.Options{
		Sink:           sink,
		OnDisconnected: func() { disconnected++ },
	})
	require.NoError(t, err)

	room := connector.LastRoom()
	room.Events.OnTrackSubscribed(agentAudio)

	h.Release()
	h.Release()

	assert.False(t, room.Published())
	assert.Equal(t, 1, room.Unpublishes())
	assert.Equal(t, 1, room.Disconnects())
	assert.True(t, capture.LastAudio().Stopped())
	assert.Empty(t, sink.Attached())

	room.Events.OnTrackSubscribed(agentAudio)
	room.Events.OnDisconnected()
	assert.Empty(t, sink.Attached())
	assert.Zero(t, disconnected)
}
