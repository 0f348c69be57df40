package realtime

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-live/pkg/audioio"
	"github.com/teslashibe/go-live/pkg/credentials"
	"github.com/teslashibe/go-live/pkg/playback"
	"github.com/teslashibe/go-live/pkg/setup"
	"github.com/teslashibe/go-live/pkg/tools"
	"github.com/teslashibe/go-live/pkg/transcript"
	"github.com/teslashibe/go-live/pkg/transport"
	"github.com/teslashibe/go-live/pkg/video"
)

// Reconnection and cadence defaults.
const (
	DefaultMaxRetries    = 5
	DefaultBaseDelay     = time.Second
	DefaultMaxDelay      = 30 * time.Second
	DefaultKeepAlive     = 20 * time.Second
	DefaultFrameInterval = time.Second
)

// Options configures an Engine.
type Options struct {
	// Settings shape the setup frame of every connection.
	Settings setup.Settings

	// URL overrides the live endpoint.
	URL string

	// Credentials resolves a key or token per connection attempt.
	Credentials credentials.Provider

	// OnKeyRotated is called with the new key when the provider switched
	// keys, so callers can persist it for future sessions.
	OnKeyRotated func(key string)

	// Transport opens connections. Defaults to a websocket transport.
	Transport transport.Transport

	// Microphone is the capture source. Defaults to the best audioio backend.
	Microphone audioio.Source

	// Speaker is the playback device. Defaults to the best audioio backend.
	Speaker audioio.Output

	// Video owns the camera and screen sources. Defaults to ffmpeg sources.
	Video *video.Capturer

	// Tools are the locally implemented functions offered to the model.
	Tools *tools.Registry

	// ToolTimeout bounds a single tool call. Zero means no limit.
	ToolTimeout time.Duration

	// Transcript receives conversational content.
	Transcript transcript.Sink

	// Artifacts stores the recording of each finished model turn.
	// A nil store disables recordings.
	Artifacts playback.ArtifactStore

	// OnClosed is called when a session ends for good.
	OnClosed func(Reason)

	// Reconnection budget and backoff.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// KeepAlive is the heartbeat interval while connected.
	KeepAlive time.Duration

	// FrameInterval is the video frame cadence while connected.
	FrameInterval time.Duration

	// Registerer receives engine metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	Logger *slog.Logger
}

// DefaultOptions returns Options with the package defaults.
func DefaultOptions() Options {
	return Options{
		Settings:      setup.DefaultSettings(),
		URL:           transport.DefaultURL,
		Credentials:   credentials.Env{},
		Transcript:    transcript.Discard,
		MaxRetries:    DefaultMaxRetries,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		KeepAlive:     DefaultKeepAlive,
		FrameInterval: DefaultFrameInterval,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options.
func (o *Options) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// Validate checks the options for values the engine cannot run with.
func (o *Options) Validate() error {
	if o.Credentials == nil {
		return errors.New("realtime: credentials provider is required")
	}
	if o.MaxRetries < 0 {
		return errors.New("realtime: max retries must not be negative")
	}
	if o.BaseDelay <= 0 || o.MaxDelay < o.BaseDelay {
		return errors.New("realtime: backoff delays must satisfy 0 < base <= max")
	}
	if o.FrameInterval < 500*time.Millisecond || o.FrameInterval > 2*time.Second {
		return errors.New("realtime: frame interval must be between 500ms and 2s")
	}
	return nil
}

// Option is a functional option for configuring the engine.
type Option func(*Options)

// WithSettings sets the session settings.
func WithSettings(s setup.Settings) Option {
	return func(o *Options) { o.Settings = s }
}

// WithURL overrides the endpoint.
func WithURL(url string) Option {
	return func(o *Options) { o.URL = url }
}

// WithCredentials sets the credential provider.
func WithCredentials(p credentials.Provider) Option {
	return func(o *Options) { o.Credentials = p }
}

// WithKeyRotated registers a callback for rotated keys.
func WithKeyRotated(fn func(key string)) Option {
	return func(o *Options) { o.OnKeyRotated = fn }
}

// WithTransport sets the transport.
func WithTransport(t transport.Transport) Option {
	return func(o *Options) { o.Transport = t }
}

// WithMicrophone sets the capture source.
func WithMicrophone(src audioio.Source) Option {
	return func(o *Options) { o.Microphone = src }
}

// WithSpeaker sets the playback device.
func WithSpeaker(out audioio.Output) Option {
	return func(o *Options) { o.Speaker = out }
}

// WithVideo sets the video capturer.
func WithVideo(c *video.Capturer) Option {
	return func(o *Options) { o.Video = c }
}

// WithTools sets the tool registry.
func WithTools(r *tools.Registry) Option {
	return func(o *Options) { o.Tools = r }
}

// WithToolTimeout bounds each tool call.
func WithToolTimeout(d time.Duration) Option {
	return func(o *Options) { o.ToolTimeout = d }
}

// WithTranscript sets the transcript sink.
func WithTranscript(s transcript.Sink) Option {
	return func(o *Options) { o.Transcript = s }
}

// WithArtifacts sets the turn recording store.
func WithArtifacts(s playback.ArtifactStore) Option {
	return func(o *Options) { o.Artifacts = s }
}

// WithOnClosed registers a callback for sessions that end for good.
func WithOnClosed(fn func(Reason)) Option {
	return func(o *Options) { o.OnClosed = fn }
}

// WithReconnect configures the retry budget and backoff.
func WithReconnect(maxRetries int, base, max time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = maxRetries
		o.BaseDelay = base
		o.MaxDelay = max
	}
}

// WithFrameInterval sets the video cadence.
func WithFrameInterval(d time.Duration) Option {
	return func(o *Options) { o.FrameInterval = d }
}

// WithRegisterer sets the metrics registerer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *Options) { o.Registerer = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}
