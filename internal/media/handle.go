package media

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Mode describes which degraded tier, if any, the local stream runs in.
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeAudioOnly Mode = "audio-only"
	ModeSynthetic Mode = "synthetic"
)

// Handle is the local media stream produced by acquisition.
//
// It owns the audio and video sources, the per-kind enabled flags, and the
// negotiated quality tier. The video source may be swapped out and back for
// screen sharing; peer connections replace their outgoing sender track
// rather than renegotiating.
//
// The handle is owned exclusively by the room coordinator: only the
// coordinator may mutate enabled state or replace sources.
type Handle struct {
	logger *slog.Logger

	mu           sync.Mutex
	shutdownOnce sync.Once

	mode    Mode
	quality VideoConstraints

	audio Source
	video Source

	audioEnabled bool
	videoEnabled bool
}

func newHandle(mode Mode, quality VideoConstraints, audio, video Source, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		logger:       logger,
		mode:         mode,
		quality:      quality,
		audio:        audio,
		video:        video,
		audioEnabled: audio != nil,
		videoEnabled: video != nil,
	}
}

func (h *Handle) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

func (h *Handle) Quality() VideoConstraints {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.quality
}

// Tracks returns the local tracks to attach to a new peer connection.
func (h *Handle) Tracks() []*webrtc.TrackLocalStaticSample {
	h.mu.Lock()
	defer h.mu.Unlock()

	tracks := make([]*webrtc.TrackLocalStaticSample, 0, 2)
	if h.audio != nil {
		tracks = append(tracks, h.audio.Track())
	}
	if h.video != nil {
		tracks = append(tracks, h.video.Track())
	}
	return tracks
}

// AudioTrack returns the current audio track, or nil when acquisition could
// not produce audio.
func (h *Handle) AudioTrack() *webrtc.TrackLocalStaticSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.audio == nil {
		return nil
	}
	return h.audio.Track()
}

// VideoTrack returns the current video track (camera, placeholder, or an
// active display capture).
func (h *Handle) VideoTrack() *webrtc.TrackLocalStaticSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.video == nil {
		return nil
	}
	return h.video.Track()
}

func (h *Handle) Enabled(kind TrackKind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if kind == TrackKindAudio {
		return h.audioEnabled
	}
	return h.videoEnabled
}

// Toggle flips the enabled flag of one track kind and returns the new state.
// Toggling does not renegotiate: the source keeps producing, switching to
// silence or dark frames while disabled.
func (h *Handle) Toggle(kind TrackKind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	var enabled bool
	switch kind {
	case TrackKindAudio:
		h.audioEnabled = !h.audioEnabled
		enabled = h.audioEnabled
		if h.audio != nil {
			h.audio.SetEnabled(enabled)
		}
	case TrackKindVideo:
		h.videoEnabled = !h.videoEnabled
		enabled = h.videoEnabled
		if h.video != nil {
			h.video.SetEnabled(enabled)
		}
	}

	h.logger.Debug(
		"local track toggled",
		"kind", kind,
		"enabled", enabled,
	)
	return enabled
}

// SwapVideoSource substitutes the current video source (screen share in,
// camera back) and returns the previous one without closing it. The caller
// owns both sources and decides which to release.
func (h *Handle) SwapVideoSource(src Source) Source {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous := h.video
	h.video = src
	if src != nil {
		src.SetEnabled(h.videoEnabled)
	}
	return previous
}

// Close releases both sources. Safe to call more than once.
func (h *Handle) Close() {
	h.shutdownOnce.Do(func() {
		h.mu.Lock()
		audio, video := h.audio, h.video
		h.mu.Unlock()

		if audio != nil {
			audio.Close()
		}
		if video != nil {
			video.Close()
		}
		h.logger.Debug("local media handle closed")
	})
}
