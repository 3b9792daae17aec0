package media

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	syntheticAudioFrameDuration = 20 * time.Millisecond

	// Fixed size of the synthetic placeholder video, matching the
	// placeholder used when a client runs without any camera.
	syntheticPlaceholderWidth  = 320
	syntheticPlaceholderHeight = 240
)

// SyntheticDeviceAPI generates silent audio and patterned video locally.
//
// It never fails, making it the final fallback tier of acquisition: the rest
// of the system always receives a usable stream even when no real camera or
// microphone exists. It is also the default API for tests.
type SyntheticDeviceAPI struct{}

func NewSyntheticDeviceAPI() SyntheticDeviceAPI {
	return SyntheticDeviceAPI{}
}

func (api SyntheticDeviceAPI) CaptureVideo(constraints VideoConstraints) (Source, error) {
	return newPatternVideoSource(constraints)
}

func (api SyntheticDeviceAPI) CaptureAudio(constraints AudioConstraints) (Source, error) {
	return newSilentAudioSource()
}

func (api SyntheticDeviceAPI) CaptureDisplay() (Source, error) {
	return newPatternVideoSource(VideoConstraints{Width: 1280, Height: 720, FrameRate: 15})
}

// sampleSource is the common shape of every generated source: one local
// sample track fed by a producer goroutine that stops when the source closes.
type sampleSource struct {
	track        *webrtc.TrackLocalStaticSample
	enabled      atomic.Bool
	done         chan struct{}
	shutdownOnce sync.Once
}

func newSampleSource(capability webrtc.RTPCodecCapability, kind TrackKind) (*sampleSource, error) {
	id := uuid.New()
	track, err := webrtc.NewTrackLocalStaticSample(
		capability,
		fmt.Sprintf("%s %s", id, kind),
		fmt.Sprintf("%s %s stream", id, kind),
	)
	if err != nil {
		return nil, err
	}

	src := &sampleSource{
		track: track,
		done:  make(chan struct{}),
	}
	src.enabled.Store(true)
	return src, nil
}

func (s *sampleSource) Track() *webrtc.TrackLocalStaticSample {
	return s.track
}

func (s *sampleSource) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

func (s *sampleSource) Done() <-chan struct{} {
	return s.done
}

func (s *sampleSource) Close() {
	s.shutdownOnce.Do(func() {
		close(s.done)
	})
}

// newSilentAudioSource produces zeroed audio frames every 20ms.
// Disabling the source makes no audible difference, but the frames keep
// flowing so receivers never starve.
func newSilentAudioSource() (*sampleSource, error) {
	src, err := newSampleSource(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, TrackKindAudio)
	if err != nil {
		return nil, err
	}

	go func() {
		frame := make([]byte, 8)
		ticker := time.NewTicker(syntheticAudioFrameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-src.done:
				return
			case <-ticker.C:
				_ = src.track.WriteSample(media.Sample{
					Data:     frame,
					Duration: syntheticAudioFrameDuration,
				})
			}
		}
	}()

	return src, nil
}

// newPatternVideoSource produces a deterministic moving byte pattern at the
// requested frame rate, or fixed dark frames while the source is disabled.
func newPatternVideoSource(constraints VideoConstraints) (*sampleSource, error) {
	src, err := newSampleSource(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, TrackKindVideo)
	if err != nil {
		return nil, err
	}

	frameRate := constraints.FrameRate
	if frameRate <= 0 {
		frameRate = 1
	}
	frameDuration := time.Second / time.Duration(frameRate)

	go func() {
		// A tiny frame is enough: the pattern marks liveness, not pixels.
		frame := make([]byte, 64)
		frameCount := byte(0)
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-src.done:
				return
			case <-ticker.C:
				if src.enabled.Load() {
					frameCount++
					for i := range frame {
						frame[i] = frameCount + byte(i)
					}
				} else {
					clear(frame)
				}
				_ = src.track.WriteSample(media.Sample{
					Data:     frame,
					Duration: frameDuration,
				})
			}
		}
	}()

	return src, nil
}
