// Package audioio provides microphone capture and speaker output devices.
//
// Two backends are supported:
//   - PortAudio (build tag "portaudio") for real hardware
//   - Mock for CI and tests without hardware
//
// Capture devices deliver normalized float32 blocks. Output devices expose a
// sample clock and accept buffers scheduled at absolute clock positions, which
// is what gapless playback is built on.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects the real device backend (PortAudio).
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendMock uses a synthetic implementation. It must be chosen
	// explicitly.
	BackendMock Backend = "mock"
)

// Capture and playback formats expected by the live model.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	CaptureBlockSize   = 4096
)

// Config holds audio device configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the device sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels. Only mono is used today.
	Channels int `yaml:"channels" json:"channels"`

	// FramesPerBuffer is the number of samples per device callback.
	FramesPerBuffer int `yaml:"frames_per_buffer" json:"frames_per_buffer"`
}

// DefaultCaptureConfig returns the 16 kHz mono microphone configuration.
func DefaultCaptureConfig() Config {
	return Config{
		Backend:         BackendAuto,
		SampleRate:      CaptureSampleRate,
		Channels:        1,
		FramesPerBuffer: CaptureBlockSize,
	}
}

// DefaultPlaybackConfig returns the 24 kHz mono speaker configuration.
func DefaultPlaybackConfig() Config {
	return Config{
		Backend:         BackendAuto,
		SampleRate:      PlaybackSampleRate,
		Channels:        1,
		FramesPerBuffer: 960, // 40ms
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1, got %d", c.Channels)
	}
	if c.FramesPerBuffer <= 0 {
		return fmt.Errorf("frames_per_buffer must be positive, got %d", c.FramesPerBuffer)
	}
	return nil
}

// BufferDuration returns the wall-clock length of one device buffer.
func (c *Config) BufferDuration() time.Duration {
	return SamplesDuration(c.FramesPerBuffer, c.SampleRate)
}

// SamplesDuration converts a sample count at rate into a duration.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
