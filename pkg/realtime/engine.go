// Package realtime runs a live audio and video session with a remote model.
//
// An Engine owns the microphone pipeline, the playback scheduler, the video
// capturer and the connection. All session state is owned by a single event
// loop goroutine: capture frames, transport callbacks, timers, tool results
// and user commands are all events on one channel, handled one at a time.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"

	"github.com/teslashibe/go-live/pkg/audioio"
	"github.com/teslashibe/go-live/pkg/capture"
	"github.com/teslashibe/go-live/pkg/playback"
	"github.com/teslashibe/go-live/pkg/tools"
	"github.com/teslashibe/go-live/pkg/transport"
	"github.com/teslashibe/go-live/pkg/video"
)

// Engine is a live session with the model.
type Engine struct {
	opts    Options
	logger  *slog.Logger
	metrics *Metrics

	mic        audioio.Source
	speaker    audioio.Output
	scheduler  *playback.Scheduler
	recorder   *playback.Recorder
	video      *video.Capturer
	dispatcher *tools.Dispatcher
	decls      []*genai.FunctionDeclaration

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan any
	done      chan struct{}
	closeOnce sync.Once

	// schedule arms the reconnect timer and returns its stop function.
	schedule func(d time.Duration, fn func()) func() bool

	// Loop-owned state. Nothing outside the loop goroutine touches it.
	state         State
	connected     bool
	muted         bool
	userClosed    bool
	conn          transport.Handle
	gen           uint64
	dialing       bool
	early         []any
	ended         bool
	token         string
	attempt       int
	backoff       retry.Backoff
	stopRetry     func() bool
	timerGen      uint64
	attemptCancel context.CancelFunc
	pipeline      *capture.Pipeline
	captureCancel context.CancelFunc
	pumpCancel    context.CancelFunc
	toolCtx       context.Context
	toolCancel    context.CancelFunc
	sessionID     string

	framesSeen atomic.Int64

	mu      sync.Mutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// New creates an engine and starts its event loop. Devices left unset in
// the options are created from the audioio and video defaults.
func New(opts ...Option) (*Engine, error) {
	o := DefaultOptions()
	o.Apply(opts...)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Transport == nil {
		o.Transport = transport.NewWebSocket(o.Logger)
	}
	if o.Microphone == nil {
		src, err := audioio.NewSource(audioio.DefaultCaptureConfig(), o.Logger)
		if err != nil {
			return nil, fmt.Errorf("%w: microphone: %w", ErrDevice, err)
		}
		o.Microphone = src
	}
	if o.Speaker == nil {
		out, err := audioio.NewOutput(audioio.DefaultPlaybackConfig(), o.Logger)
		if err != nil {
			return nil, fmt.Errorf("%w: speaker: %w", ErrDevice, err)
		}
		o.Speaker = out
	}
	if o.Video == nil {
		o.Video = video.NewCapturer(video.Options{Logger: o.Logger})
	}
	if o.Tools == nil {
		reg, err := tools.NewRegistry()
		if err != nil {
			return nil, err
		}
		o.Tools = reg
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := o.Speaker.Start(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start speaker: %w", ErrDevice, err)
	}

	e := &Engine{
		opts:     o,
		logger:   o.Logger.With("component", "realtime.engine"),
		metrics:  NewMetrics(o.Registerer),
		mic:      o.Microphone,
		speaker:  o.Speaker,
		recorder: playback.NewRecorder(o.Speaker.SampleRate()),
		video:    o.Video,
		decls:    o.Tools.Declarations(),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan any, 256),
		done:     make(chan struct{}),
		schedule: afterFunc,
		subs:     make(map[int]chan Snapshot),
		snap:     Snapshot{State: StateIdle, Video: video.KindNone, Status: "Disconnected"},
	}
	e.scheduler = playback.NewScheduler(o.Speaker, o.Logger)
	e.scheduler.OnSpeakingChange(e.onSpeaking)
	e.dispatcher = tools.NewDispatcher(o.Tools,
		tools.WithTimeout(o.ToolTimeout),
		tools.WithObserver(e.metrics.observeTool),
		tools.WithDispatcherLogger(o.Logger),
	)
	e.video.OnChange(e.onVideoChange)

	go e.loop()

	e.logger.Info("engine ready",
		"model", o.Settings.Model,
		"mic", e.mic.Name(),
		"speaker", e.speaker.Name(),
		"tools", len(e.decls),
	)
	return e, nil
}

func afterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// newBackoff returns the reconnect schedule: base doubling per attempt,
// capped at MaxDelay, exhausted after MaxRetries delays.
func newBackoff(o Options) retry.Backoff {
	b := retry.NewExponential(o.BaseDelay)
	b = retry.WithCappedDuration(o.MaxDelay, b)
	return retry.WithMaxRetries(uint64(o.MaxRetries), b)
}

// Commands posted by the public API.
type connectCmd struct{ reply chan error }

type disconnectCmd struct{ reply chan struct{} }

type muteCmd struct {
	toggle bool
	muted  bool
	reply  chan bool
}

type textCmd struct{ text string }

type barrierCmd struct{ reply chan struct{} }

func (e *Engine) post(ev any) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) postCtx(ctx context.Context, ev any) bool {
	select {
	case e.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	}
}

// Connect opens a session. It returns once the attempt has started; the
// outcome is reported through Snapshot. Only a microphone acquisition
// failure is returned directly.
func (e *Engine) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	if !e.post(connectCmd{reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// Disconnect ends the session and forgets its resumption handle.
// Redundant calls are no-ops.
func (e *Engine) Disconnect() {
	reply := make(chan struct{})
	if !e.post(disconnectCmd{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-e.done:
	}
}

// ToggleMute flips the microphone mute and returns the new state.
func (e *Engine) ToggleMute() bool {
	return e.mute(muteCmd{toggle: true})
}

// SetMuted sets the microphone mute.
func (e *Engine) SetMuted(muted bool) {
	e.mute(muteCmd{muted: muted})
}

func (e *Engine) mute(cmd muteCmd) bool {
	cmd.reply = make(chan bool, 1)
	if !e.post(cmd) {
		return false
	}
	select {
	case m := <-cmd.reply:
		return m
	case <-e.done:
		return false
	}
}

// SendText sends a typed user turn. Without an open session it does nothing.
func (e *Engine) SendText(text string) {
	if text == "" {
		return
	}
	e.post(textCmd{text: text})
}

// StartCamera switches the video source to the camera.
func (e *Engine) StartCamera(ctx context.Context) error {
	return e.video.StartCamera(ctx)
}

// StartScreenShare switches the video source to the screen.
func (e *Engine) StartScreenShare(ctx context.Context) error {
	return e.video.StartScreenShare(ctx)
}

// StopVideo stops the active video source.
func (e *Engine) StopVideo() {
	e.video.Stop()
}

// LocalVideo returns the active video source for local preview, or nil.
func (e *Engine) LocalVideo() video.Source {
	return e.video.Source()
}

// Snapshot returns the current observable state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Subscribe returns a channel that receives the latest snapshot after every
// change. Slow readers only miss intermediate states. Call cancel to stop.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.snap
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			if _, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(ch)
			}
			e.mu.Unlock()
		})
	}
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Close disconnects, stops the loop and releases the devices.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.Disconnect()
		e.cancel()
		<-e.done

		e.video.Stop()
		if err := e.speaker.Close(); err != nil {
			e.logger.Warn("close speaker", "error", err)
		}
		if err := e.mic.Close(); err != nil {
			e.logger.Warn("close microphone", "error", err)
		}

		e.mu.Lock()
		for id, ch := range e.subs {
			delete(e.subs, id)
			close(ch)
		}
		e.mu.Unlock()
		e.logger.Info("engine closed")
	})
	return nil
}

// sync waits until every event posted before it has been handled.
func (e *Engine) sync() {
	reply := make(chan struct{})
	if !e.post(barrierCmd{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-e.done:
	}
}

func (e *Engine) publish(fn func(*Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.snap)
	snap := e.snap
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (e *Engine) onSpeaking(speaking bool) {
	e.metrics.Speaking.Set(boolGauge(speaking))
	e.publish(func(s *Snapshot) { s.Speaking = speaking })
}

func (e *Engine) onVideoChange(kind video.Kind) {
	e.publish(func(s *Snapshot) { s.Video = kind })
}
