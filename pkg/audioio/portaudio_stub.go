//go:build !portaudio

package audioio

import "log/slog"

const portAudioAvailable = false

func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, ErrBackendUnavailable
}

func newPortAudioOutput(cfg Config, logger *slog.Logger) (Output, error) {
	return nil, ErrBackendUnavailable
}
