package media

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrPermissionDenied indicates the user has not granted device access.
	// This is fatal to acquisition: no fallback tier may retry past it.
	ErrPermissionDenied = errors.New("media device permission denied")

	// ErrDeviceBusy indicates another application holds the device.
	ErrDeviceBusy = errors.New("media device in use by another application")

	// ErrDeviceUnavailable indicates the API has no device of the requested kind.
	ErrDeviceUnavailable = errors.New("no suitable media device available")
)

// TrackKind discriminates the two media track kinds of a local stream.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// VideoConstraints describe one requested capture quality.
type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate int
}

func (c VideoConstraints) String() string {
	return fmt.Sprintf("%dx%d@%dfps", c.Width, c.Height, c.FrameRate)
}

// AudioConstraints carry the standard audio enhancement flags requested
// alongside every video tier.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultAudioConstraints returns the enhancement flags used by every
// acquisition attempt.
func DefaultAudioConstraints() AudioConstraints {
	return AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// QualityLadder is the descending ladder of video tiers tried during
// acquisition, best first.
var QualityLadder = []VideoConstraints{
	{Width: 1280, Height: 720, FrameRate: 30},
	{Width: 640, Height: 480, FrameRate: 15},
	{Width: 320, Height: 240, FrameRate: 10},
}

// probeConstraints is the cheap 1x1 request used to detect a busy camera
// before walking the full ladder.
var probeConstraints = VideoConstraints{Width: 1, Height: 1, FrameRate: 1}

// Source produces a single local track until closed.
//
// Done is closed when the source stops producing on its own (for example a
// display capture ended by the platform's stop-sharing control) as well as
// after an explicit Close.
type Source interface {
	Track() *webrtc.TrackLocalStaticSample
	SetEnabled(enabled bool)
	Done() <-chan struct{}
	Close()
}

// DeviceAPI abstracts platform media capture.
// Intended to be an abstract way to:
// - Open the camera/microphone at a requested quality
// - Open a display capture for screen sharing
//
// Implementations include the synthetic generator API (always succeeds)
// and a WAV-file-backed API for clients without real capture hardware.
type DeviceAPI interface {
	CaptureVideo(constraints VideoConstraints) (Source, error)
	CaptureAudio(constraints AudioConstraints) (Source, error)
	CaptureDisplay() (Source, error)
}
