package media

import (
	"errors"
	"fmt"
	"log/slog"
)

// Advisory severities surfaced to the user alongside acquisition results.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Advisory is the non-blocking user notice describing which fallback tier
// an acquisition sequence ended on.
type Advisory struct {
	Title    string
	Message  string
	Severity string
}

// AdviseFunc receives the single advisory emitted per acquisition sequence.
type AdviseFunc func(Advisory)

// Acquire obtains the local media stream with progressive quality fallback.
//
// The descending ladder of video tiers (see QualityLadder) is tried in
// order, each paired with the standard audio enhancement flags. Before the
// ladder, a cheap 1x1 probe detects a camera already in use system-wide and
// short-circuits straight to audio-only, avoiding several slow failed
// attempts. Permission denial is fatal to real capture: no tier retries
// past it and the stream degrades immediately to the synthetic placeholder.
// A device-busy condition on the final tier falls back to audio-only, and
// an audio-only failure falls back to the synthetic placeholder, which
// never fails.
//
// Exactly one advisory is emitted per call, naming the tier in use. The
// returned handle is never nil: every caller receives a usable stream.
func Acquire(api DeviceAPI, advise AdviseFunc, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	if advise == nil {
		advise = func(Advisory) {}
	}

	probe, err := api.CaptureVideo(probeConstraints)
	if err == nil {
		probe.Close()
	}
	if errors.Is(err, ErrPermissionDenied) {
		return syntheticHandle(advise, logger, Advisory{
			Title:    "Permission Denied",
			Message:  "Camera/microphone access denied. Please allow access and rejoin.",
			Severity: SeverityError,
		})
	}
	if errors.Is(err, ErrDeviceBusy) {
		logger.Warn("camera appears to be in use, skipping video tiers")
		return audioOnlyHandle(api, advise, logger, Advisory{
			Title:    "Camera In Use",
			Message:  "Your camera is being used by another application. Using audio-only mode.",
			Severity: SeverityWarning,
		})
	}

	for i, tier := range QualityLadder {
		video, err := api.CaptureVideo(tier)
		if err != nil {
			logger.Warn(
				"video acquisition attempt failed",
				"tier", tier.String(),
				"attempt", i+1,
				"err", err,
			)
			if errors.Is(err, ErrPermissionDenied) {
				return syntheticHandle(advise, logger, Advisory{
					Title:    "Permission Denied",
					Message:  "Camera/microphone access denied. Please allow access and rejoin.",
					Severity: SeverityError,
				})
			}
			continue
		}

		audio, err := api.CaptureAudio(DefaultAudioConstraints())
		if err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				video.Close()
				return syntheticHandle(advise, logger, Advisory{
					Title:    "Permission Denied",
					Message:  "Microphone access denied. Please allow access and rejoin.",
					Severity: SeverityError,
				})
			}
			// Keep the session going with video alone rather than
			// dropping a whole tier over the microphone.
			logger.Warn("audio acquisition failed, continuing without audio", "err", err)
			audio = nil
		}

		severity := SeverityInfo
		if i > 0 {
			severity = SeverityWarning
		}
		advise(Advisory{
			Title:    "Connected",
			Message:  fmt.Sprintf("Video connected at %s.", tier),
			Severity: severity,
		})
		logger.Info(
			"local media acquired",
			"mode", ModeNormal,
			"tier", tier.String(),
		)
		return newHandle(ModeNormal, tier, audio, video, logger)
	}

	return audioOnlyHandle(api, advise, logger, Advisory{
		Title:    "Audio-Only Mode",
		Message:  "Connected with audio only. Video unavailable.",
		Severity: SeverityWarning,
	})
}

// audioOnlyHandle acquires audio alone and pairs it with a fixed-size
// placeholder video track so downstream consumers always see both kinds.
func audioOnlyHandle(api DeviceAPI, advise AdviseFunc, logger *slog.Logger, advisory Advisory) *Handle {
	audio, err := api.CaptureAudio(DefaultAudioConstraints())
	if err != nil {
		logger.Warn("audio-only acquisition failed", "err", err)
		if errors.Is(err, ErrPermissionDenied) {
			return syntheticHandle(advise, logger, Advisory{
				Title:    "Permission Denied",
				Message:  "Microphone access denied. Please allow access and rejoin.",
				Severity: SeverityError,
			})
		}
		return syntheticHandle(advise, logger, Advisory{
			Title:    "Placeholder Mode",
			Message:  "No camera or microphone available. Using a placeholder stream.",
			Severity: SeverityWarning,
		})
	}

	placeholder, perr := newPatternVideoSource(VideoConstraints{
		Width:     syntheticPlaceholderWidth,
		Height:    syntheticPlaceholderHeight,
		FrameRate: 1,
	})
	if perr != nil {
		logger.Error("could not create placeholder video track", "err", perr)
		placeholder = nil
	}

	advise(advisory)
	logger.Info("local media acquired", "mode", ModeAudioOnly)
	var video Source
	if placeholder != nil {
		video = placeholder
	}
	return newHandle(ModeAudioOnly, VideoConstraints{}, audio, video, logger)
}

// syntheticHandle builds the final fallback tier from generated sources.
// Generation cannot fail in any way acquisition needs to recover from, so
// this function always returns a usable handle.
func syntheticHandle(advise AdviseFunc, logger *slog.Logger, advisory Advisory) *Handle {
	audio, err := newSilentAudioSource()
	if err != nil {
		logger.Error("could not create synthetic audio source", "err", err)
	}
	video, err := newPatternVideoSource(VideoConstraints{
		Width:     syntheticPlaceholderWidth,
		Height:    syntheticPlaceholderHeight,
		FrameRate: 1,
	})
	if err != nil {
		logger.Error("could not create synthetic video source", "err", err)
	}

	advise(advisory)
	logger.Info("local media acquired", "mode", ModeSynthetic)

	var audioSrc, videoSrc Source
	if audio != nil {
		audioSrc = audio
	}
	if video != nil {
		videoSrc = video
	}
	return newHandle(ModeSynthetic, VideoConstraints{}, audioSrc, videoSrc, logger)
}
