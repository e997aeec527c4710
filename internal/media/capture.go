package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const opusFrameDuration = 20 * time.Millisecond

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// FrameSource produces Opus frames for the local track. Next blocks until a
// frame is available and returns false when the source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, bool)
}

// SampleCapture publishes frames from a FrameSource on an Opus sample track.
// With a nil Source it publishes silence, keeping the participant's microphone
// track live for headless clients.
type SampleCapture struct {
	Source FrameSource
}

// Open creates the local track and starts pacing frames into it.
func (c SampleCapture) Open(ctx context.Context) (LocalAudio, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"microphone",
		"voice-agent",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a := &sampleAudio{track: track, cancel: cancel, done: make(chan struct{})}
	go a.pump(runCtx, c.Source)
	return a, nil
}

type sampleAudio struct {
	track    *webrtc.TrackLocalStaticSample
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (a *sampleAudio) Track() webrtc.TrackLocal {
	return a.track
}

// Stop halts the frame pump and waits for it to exit. Safe to call more than once.
func (a *sampleAudio) Stop() {
	a.stopOnce.Do(func() {
		a.cancel()
		<-a.done
	})
}

func (a *sampleAudio) pump(ctx context.Context, src FrameSource) {
	defer close(a.done)
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := opusSilence
		if src != nil {
			next, ok := src.Next(ctx)
			if !ok {
				return
			}
			frame = next
		}
		if err := a.track.WriteSample(pionmedia.Sample{Data: frame, Duration: opusFrameDuration}); err != nil {
			return
		}
	}
}
