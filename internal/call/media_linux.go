//go:build linux && cgo

package call

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// deviceCapturer acquires the local camera/microphone via pion/mediadevices
// and attaches the tracks to a peer connection that the negotiation layer
// drives. Closing the returned stream stops the tracks and the connection.
type deviceCapturer struct{}

// NewDeviceCapturer returns the platform capturer (V4L2 camera + malgo
// microphone on Linux).
func NewDeviceCapturer() Capturer {
	return &deviceCapturer{}
}

func (c *deviceCapturer) Capture(ctx context.Context, mode Mode) (Stream, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		return nil, err
	}

	stream, err := getUserMedia(codecSelector, mode)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	tracks := stream.GetTracks()
	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			log.Printf("CALL: AddTrack error: %v", err)
		}
	}
	if err := ctx.Err(); err != nil {
		for _, t := range tracks {
			t.Close()
		}
		_ = pc.Close()
		return nil, err
	}

	log.Printf("CALL: local media captured (%s), %d tracks", mode, len(tracks))
	return &deviceStream{id: uuid.NewString(), tracks: tracks, pc: pc}, nil
}

// getUserMedia opens the devices with graceful fallback: video mode tries
// video+audio first, then video-only, then audio-only, so a busy microphone
// does not block the camera and vice versa.
func getUserMedia(selector *mediadevices.CodecSelector, mode Mode) (mediadevices.MediaStream, error) {
	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{false, true, "audio-only"}}
	if mode == ModeVideo {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only. MJPEG camera nodes can emit malformed
				// frames that poison the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("CALL: GetUserMedia (%s) failed: %v", a.label, err)
			lastErr = err
			continue
		}
		return stream, nil
	}
	return nil, fmt.Errorf("no capturable media device: %w", lastErr)
}

type deviceStream struct {
	id     string
	tracks []mediadevices.Track
	pc     *webrtc.PeerConnection
}

func (s *deviceStream) ID() string { return s.id }

func (s *deviceStream) Close() error {
	for _, t := range s.tracks {
		t.Close()
	}
	return s.pc.Close()
}
