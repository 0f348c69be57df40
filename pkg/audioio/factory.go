package audioio

import (
	"context"
	"fmt"
	"log/slog"
)

// Output is a playback device driven by its own clock.
type Output interface {
	Device

	// Start opens the device and begins rendering.
	Start(ctx context.Context) error

	// Name returns the backend name.
	Name() string

	Close() error
}

// NewSource creates a capture source for cfg.
// BackendAuto means PortAudio; a build without it returns
// ErrBackendUnavailable. The mock backend is only used when asked for.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := resolveBackend(cfg.Backend)
	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"frames", cfg.FramesPerBuffer,
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger, WithGenerator()), nil
	case BackendPortAudio:
		src, err := newPortAudioSource(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("%s source: %w", backend, err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// NewOutput creates a playback device for cfg.
func NewOutput(cfg Config, logger *slog.Logger) (Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := resolveBackend(cfg.Backend)
	logger.Info("creating audio output",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"frames", cfg.FramesPerBuffer,
	)

	switch backend {
	case BackendMock:
		return NewMockOutput(cfg, logger), nil
	case BackendPortAudio:
		out, err := newPortAudioOutput(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("%s output: %w", backend, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

func resolveBackend(b Backend) Backend {
	if b == BackendAuto || b == "" {
		return BackendPortAudio
	}
	return b
}

// AvailableBackends returns the backends compiled into this binary.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if portAudioAvailable {
		backends = append(backends, BackendPortAudio)
	}
	return backends
}
