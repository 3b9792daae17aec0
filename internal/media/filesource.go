package media

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const fileAudioFrameDuration = 20 * time.Millisecond

// FileDeviceAPI sources audio from a .WAV file in a loop, for clients with
// no capture hardware at all. Video and display capture are reported as
// unavailable, so acquisition falls through the ladder to audio-only with
// the recorded audio in place of a microphone.
type FileDeviceAPI struct {
	logger        *slog.Logger
	audioFilePath string
}

// Create a new FileDeviceAPI reading from the .WAV file on audioFilePath.
//
// The file is opened lazily on each CaptureAudio call, so a missing or
// malformed file surfaces as an acquisition failure rather than a
// construction failure, letting the ladder degrade as usual.
func NewFileDeviceAPI(audioFilePath string, logger *slog.Logger) FileDeviceAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return FileDeviceAPI{
		logger:        logger,
		audioFilePath: audioFilePath,
	}
}

func (api FileDeviceAPI) CaptureVideo(constraints VideoConstraints) (Source, error) {
	return nil, ErrDeviceUnavailable
}

func (api FileDeviceAPI) CaptureDisplay() (Source, error) {
	return nil, ErrDeviceUnavailable
}

func (api FileDeviceAPI) CaptureAudio(constraints AudioConstraints) (Source, error) {
	f, err := os.Open(api.audioFilePath)
	if err != nil {
		api.logger.Error(
			"could not open audio file",
			"audioFile", api.audioFilePath,
			"err", err,
		)
		return nil, err
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		api.logger.Error(
			"could not decode audio file",
			"audioFile", api.audioFilePath,
			"err", decoder.Err(),
		)
		f.Close()
		return nil, errors.New("error while decoding audio file")
	}

	var buf *audio.IntBuffer
	buf, err = decoder.FullPCMBuffer()
	f.Close()
	if err != nil {
		api.logger.Error(
			"could not get full PCM buffer from audio file",
			"audioFile", api.audioFilePath,
			"err", err,
		)
		return nil, err
	}

	samplesPerFrame := int(float64(decoder.NumChans) * float64(decoder.SampleRate) *
		float64(fileAudioFrameDuration) / float64(time.Second))
	if samplesPerFrame <= 0 || len(buf.Data) == 0 {
		return nil, errors.New("audio file holds no usable frames")
	}

	src, err := newSampleSource(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypePCMU,
		ClockRate: decoder.SampleRate,
		Channels:  uint16(decoder.NumChans),
	}, TrackKindAudio)
	if err != nil {
		return nil, err
	}

	api.logger.Debug(
		"loaded audio file",
		"audioFile", api.audioFilePath,
		"sampleRate", decoder.SampleRate,
		"channels", decoder.NumChans,
		"samplesPerFrame", samplesPerFrame,
	)

	go func() {
		silence := make([]byte, samplesPerFrame*2)
		frame := make([]byte, samplesPerFrame*2)
		ticker := time.NewTicker(fileAudioFrameDuration)
		defer ticker.Stop()

		frameStart := 0
		for {
			select {
			case <-src.done:
				return
			case <-ticker.C:
				frameEnd := min(frameStart+samplesPerFrame, len(buf.Data))
				for i := 0; i < frameEnd-frameStart; i++ {
					binary.LittleEndian.PutUint16(frame[2*i:], uint16(int16(buf.Data[frameStart+i])))
				}
				data := frame[:2*(frameEnd-frameStart)]
				if !src.enabled.Load() {
					data = silence[:len(data)]
				}
				_ = src.track.WriteSample(media.Sample{
					Data:     data,
					Duration: fileAudioFrameDuration,
				})

				frameStart = frameEnd
				if frameStart >= len(buf.Data) {
					// Loop the file for the lifetime of the session.
					frameStart = 0
				}
			}
		}
	}()

	return src, nil
}
