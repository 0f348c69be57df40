package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/teslashibe/go-live/pkg/capture"
	"github.com/teslashibe/go-live/pkg/credentials"
	"github.com/teslashibe/go-live/pkg/setup"
	"github.com/teslashibe/go-live/pkg/transcript"
	"github.com/teslashibe/go-live/pkg/transport"
	"github.com/teslashibe/go-live/pkg/video"
)

// Events produced by goroutines owned by the engine. gen ties an event to
// the connection attempt or timer that produced it; stale ones are dropped.
type frameEvent struct{ frame capture.Frame }

type dialEvent struct {
	gen    uint64
	handle transport.Handle
	cred   credentials.Credential
	err    error
}

type openEvent struct{ gen uint64 }

type messageEvent struct {
	gen uint64
	msg *genai.LiveServerMessage
}

type closeEvent struct {
	gen  uint64
	info transport.CloseInfo
	err  error
}

type retryEvent struct{ gen uint64 }

type keepAliveEvent struct{ gen uint64 }

type videoFrameEvent struct {
	gen  uint64
	jpeg []byte
}

type toolResponseEvent struct {
	gen  uint64
	resp *genai.FunctionResponse
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			e.shutdown()
			return
		case ev := <-e.events:
			e.process(ev)
		}
	}
}

func (e *Engine) process(ev any) {
	switch ev := ev.(type) {
	case connectCmd:
		ev.reply <- e.connect()
	case disconnectCmd:
		e.disconnect()
		close(ev.reply)
	case muteCmd:
		muted := ev.muted
		if ev.toggle {
			muted = !e.muted
		}
		e.setMuted(muted)
		ev.reply <- muted
	case textCmd:
		e.sendText(ev.text)
	case barrierCmd:
		close(ev.reply)

	case frameEvent:
		e.onFrame(ev.frame)
		e.framesSeen.Add(1)
	case dialEvent:
		e.onDialed(ev)
	case openEvent, messageEvent, closeEvent:
		e.onConnEvent(ev)
	case retryEvent:
		if ev.gen == e.timerGen && !e.userClosed {
			e.stopRetry = nil
			e.dial(StateReconnecting)
		}
	case keepAliveEvent:
		if ev.gen == e.gen && e.connected {
			if err := e.conn.Ping(); err != nil {
				e.logger.Debug("keepalive failed", "error", err)
			}
		}
	case videoFrameEvent:
		e.sendVideo(ev)
	case toolResponseEvent:
		e.sendToolResponse(ev)
	default:
		e.logger.Warn("unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

// connect starts a session, or restarts the current one with its
// resumption handle.
func (e *Engine) connect() error {
	e.cancelRetry()
	e.userClosed = false

	if e.pipeline == nil {
		if err := e.startCapture(); err != nil {
			e.logger.Error("microphone unavailable", "error", err)
			e.fail(ReasonFatal, err)
			return err
		}
	}
	if e.sessionID == "" {
		e.sessionID = uuid.NewString()
	}

	if e.attemptCancel != nil {
		e.attemptCancel()
		e.attemptCancel = nil
	}
	e.connected = false
	e.stopPumps()
	e.dropConn()
	e.attempt = 0
	e.backoff = newBackoff(e.opts)
	e.dial(StateConnecting)
	return nil
}

// dial starts a new connection attempt in the background. The credential
// is resolved and the transport opened off the loop; the result comes back
// as a dialEvent.
func (e *Engine) dial(state State) {
	e.gen++
	gen := e.gen
	e.dialing = true
	e.ended = false
	e.early = nil
	e.setState(state)

	cfg := setup.Build(e.opts.Settings, e.decls, e.token)
	ctx, cancel := context.WithCancel(e.ctx)
	e.attemptCancel = cancel
	cb := e.callbacks(gen)

	e.logger.Info("connecting", "attempt", e.attempt, "resuming", e.token != "", "session", e.sessionID)

	go func() {
		cred, err := e.opts.Credentials.Resolve(ctx)
		if err == nil && cred.Empty() {
			err = credentials.ErrNoCredential
		}
		if err != nil {
			e.post(dialEvent{gen: gen, err: fmt.Errorf("%w: %w", ErrCredentials, err)})
			return
		}

		ep := transport.Endpoint{URL: e.opts.URL, APIKey: cred.APIKey, Bearer: cred.Bearer}
		h, err := e.opts.Transport.Open(ctx, ep, cfg, cb)
		if err != nil {
			err = NewConnectionError("open transport", err, true)
		}
		if !e.post(dialEvent{gen: gen, handle: h, cred: cred, err: err}) && h != nil {
			h.Close()
		}
	}()
}

func (e *Engine) callbacks(gen uint64) transport.Callbacks {
	return transport.Callbacks{
		OnOpen: func() {
			e.post(openEvent{gen: gen})
		},
		OnMessage: func(msg *genai.LiveServerMessage) {
			e.post(messageEvent{gen: gen, msg: msg})
		},
		OnError: func(err error) {
			e.post(closeEvent{gen: gen, err: err})
		},
		OnClose: func(info transport.CloseInfo) {
			e.post(closeEvent{gen: gen, info: info})
		},
	}
}

func (e *Engine) onDialed(ev dialEvent) {
	if ev.gen != e.gen {
		if ev.handle != nil {
			ev.handle.Close()
		}
		return
	}
	e.dialing = false
	e.attemptCancel = nil

	if ev.err != nil {
		if errors.Is(ev.err, ErrCredentials) {
			e.logger.Error("credentials unavailable", "error", ev.err)
			e.fail(ReasonFatal, ev.err)
			return
		}
		e.logger.Warn("connection attempt failed", "error", ev.err)
		e.lost(ev.err)
		return
	}

	if ev.cred.Rotated && ev.cred.APIKey != "" && e.opts.OnKeyRotated != nil {
		e.opts.OnKeyRotated(ev.cred.APIKey)
	}
	e.conn = ev.handle

	// Callbacks may have fired before Open returned.
	early := e.early
	e.early = nil
	for _, ev := range early {
		e.onConnEvent(ev)
	}
}

func (e *Engine) onConnEvent(ev any) {
	var gen uint64
	switch ev := ev.(type) {
	case openEvent:
		gen = ev.gen
	case messageEvent:
		gen = ev.gen
	case closeEvent:
		gen = ev.gen
	}
	if gen != e.gen || e.ended {
		return
	}
	if e.dialing {
		e.early = append(e.early, ev)
		return
	}

	switch ev := ev.(type) {
	case openEvent:
		e.onOpen()
	case messageEvent:
		e.handleMessage(ev.gen, ev.msg)
	case closeEvent:
		cause := ev.err
		if cause == nil {
			cause = NewConnectionError("closed by server", errors.New(ev.info.String()), true)
			e.logger.Warn("connection closed", "code", ev.info.Code, "reason", ev.info.Reason)
		} else {
			e.logger.Warn("connection error", "error", ev.err)
		}
		e.lost(cause)
	}
}

// onOpen marks the session connected before anything else so the very next
// capture frame is forwarded.
func (e *Engine) onOpen() {
	e.connected = true
	e.attempt = 0
	e.backoff = newBackoff(e.opts)
	e.startPumps(e.gen)
	e.metrics.SessionsOpened.Inc()
	e.setState(StateConnected)
	e.logger.Info("connected", "session", e.sessionID, "resumed", e.token != "")
}

// lost handles an involuntary end of the current connection.
func (e *Engine) lost(cause error) {
	if e.ended {
		return
	}
	e.ended = true
	e.connected = false
	e.stopPumps()
	e.dropConn()
	e.closeTurns()

	if e.userClosed {
		e.teardown()
		e.finish(ReasonUserClosed, "Disconnected", "")
		return
	}

	delay, stop := e.backoff.Next()
	if stop {
		err := fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, e.opts.MaxRetries, cause)
		e.logger.Error("giving up", "error", err)
		e.fail(ReasonRetriesExhausted, err)
		return
	}

	e.attempt++
	e.metrics.ReconnectAttempts.Inc()
	e.setState(StateReconnecting)

	e.timerGen++
	gen := e.timerGen
	e.stopRetry = e.schedule(delay, func() { e.post(retryEvent{gen: gen}) })
	e.logger.Info("reconnect scheduled", "attempt", e.attempt, "max", e.opts.MaxRetries, "delay", delay)
}

// fail ends the session for good after a fatal error or retry exhaustion.
func (e *Engine) fail(reason Reason, err error) {
	e.ended = true
	e.connected = false
	e.cancelRetry()
	if e.attemptCancel != nil {
		e.attemptCancel()
		e.attemptCancel = nil
	}
	e.stopPumps()
	e.dropConn()
	e.teardown()

	msg := err.Error()
	if reason == ReasonRetriesExhausted {
		msg = exhaustedMessage(e.opts.MaxRetries)
	}
	e.finish(reason, msg, msg)
}

func (e *Engine) disconnect() {
	active := e.state != StateIdle || e.pipeline != nil

	e.userClosed = true
	e.cancelRetry()
	if e.attemptCancel != nil {
		e.attemptCancel()
		e.attemptCancel = nil
	}
	// Later callbacks from the closed connection are stale.
	e.gen++
	e.dialing = false
	e.early = nil
	e.ended = true

	wasConnected := e.connected
	e.connected = false
	e.stopPumps()
	e.dropConn()
	if wasConnected {
		e.closeTurns()
	}
	e.teardown()

	e.token = ""
	e.sessionID = ""
	e.attempt = 0

	if !active {
		return
	}
	e.logger.Info("disconnected")
	e.finish(ReasonUserClosed, "Disconnected", "")
}

// shutdown runs when the engine context ends.
func (e *Engine) shutdown() {
	e.cancelRetry()
	e.stopPumps()
	e.dropConn()
	e.teardown()
}

func (e *Engine) finish(reason Reason, status, errMsg string) {
	e.state = StateIdle
	e.metrics.State.Set(float64(StateIdle))
	e.publish(func(s *Snapshot) {
		s.State = StateIdle
		s.Reason = reason
		s.Connected = false
		s.Reconnecting = false
		s.Attempt = 0
		s.Status = status
		s.Error = errMsg
		s.SessionID = ""
	})
	if e.opts.OnClosed != nil {
		e.opts.OnClosed(reason)
	}
}

func (e *Engine) setState(state State) {
	e.state = state
	e.metrics.State.Set(float64(state))

	var status string
	switch state {
	case StateConnecting:
		status = "Connecting…"
	case StateConnected:
		status = "Connected"
	case StateReconnecting:
		status = reconnectStatus(e.attempt, e.opts.MaxRetries)
	default:
		status = "Disconnected"
	}
	connected, attempt, id := e.connected, e.attempt, e.sessionID
	e.publish(func(s *Snapshot) {
		s.State = state
		s.Reason = ReasonNone
		s.Connected = connected
		s.Reconnecting = state == StateReconnecting
		s.Attempt = attempt
		s.Status = status
		s.Error = ""
		s.SessionID = id
	})
}

func (e *Engine) cancelRetry() {
	e.timerGen++
	if e.stopRetry != nil {
		e.stopRetry()
		e.stopRetry = nil
	}
}

func (e *Engine) dropConn() {
	if e.conn == nil {
		return
	}
	if err := e.conn.Close(); err != nil {
		e.logger.Debug("close connection", "error", err)
	}
	e.conn = nil
}

// teardown releases the local media of a session and cancels its tool
// calls.
func (e *Engine) teardown() {
	e.stopTools()
	e.stopCapture()
	e.video.Stop()
	e.scheduler.Stop()
	e.recorder.Reset()
}

// toolContext returns the context tool handlers of the current session run
// under. It survives reconnects and ends on teardown.
func (e *Engine) toolContext() context.Context {
	if e.toolCtx == nil {
		e.toolCtx, e.toolCancel = context.WithCancel(e.ctx)
	}
	return e.toolCtx
}

func (e *Engine) stopTools() {
	if e.toolCancel != nil {
		e.toolCancel()
	}
	e.toolCtx, e.toolCancel = nil, nil
}

func (e *Engine) startCapture() error {
	ctx, cancel := context.WithCancel(e.ctx)
	p, err := capture.Start(ctx, e.mic, func(f capture.Frame) {
		e.postCtx(ctx, frameEvent{frame: f})
	}, capture.WithLogger(e.opts.Logger))
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrDevice, err)
	}
	p.SetMuted(e.muted)
	e.pipeline = p
	e.captureCancel = cancel
	return nil
}

func (e *Engine) stopCapture() {
	if e.pipeline == nil {
		return
	}
	// Unblock a frame callback waiting on the event channel before
	// waiting for the pipeline to exit.
	e.captureCancel()
	e.pipeline.Teardown()
	e.pipeline = nil
	e.captureCancel = nil
	e.publish(func(s *Snapshot) { s.Volume = 0 })
}

func (e *Engine) setMuted(muted bool) {
	e.muted = muted
	if e.pipeline != nil {
		e.pipeline.SetMuted(muted)
	}
	e.publish(func(s *Snapshot) {
		s.Muted = muted
		if muted {
			s.Volume = 0
		}
	})
}

// onFrame is the send gate for microphone audio. It reads the connected and
// muted flags in the same loop turn that flips them.
func (e *Engine) onFrame(f capture.Frame) {
	muted := e.muted || f.Muted
	vol := f.Volume
	if muted {
		vol = 0
	}
	e.publish(func(s *Snapshot) { s.Volume = vol })

	switch {
	case !e.connected:
		e.metrics.AudioFramesDrop.WithLabelValues("offline").Inc()
	case muted:
		e.metrics.AudioFramesDrop.WithLabelValues("muted").Inc()
	default:
		if err := e.conn.Send(transport.AudioMessage(f.PCM16(), f.MIMEType())); err != nil {
			e.metrics.AudioFramesDrop.WithLabelValues("send_error").Inc()
			e.logger.Debug("send audio", "error", err)
			return
		}
		e.metrics.AudioFramesSent.Inc()
	}
}

func (e *Engine) sendText(text string) {
	if !e.connected {
		return
	}
	if err := e.conn.Send(transport.TextMessage(text)); err != nil {
		e.logger.Debug("send text", "error", err)
		return
	}
	e.emit(transcript.Entry{Text: text, Role: transcript.RoleUser, Final: true, Kind: transcript.KindContent})
}

func (e *Engine) sendVideo(ev videoFrameEvent) {
	if ev.gen != e.gen || !e.connected {
		return
	}
	if err := e.conn.Send(transport.VideoMessage(ev.jpeg)); err != nil {
		e.logger.Debug("send video frame", "error", err)
		return
	}
	e.metrics.VideoFramesSent.Inc()
}

// sendToolResponse is best effort: a response for a connection that is
// already gone is dropped.
func (e *Engine) sendToolResponse(ev toolResponseEvent) {
	if ev.gen != e.gen || !e.connected {
		e.logger.Warn("dropping tool response, session gone", "id", ev.resp.ID, "name", ev.resp.Name)
		return
	}
	if err := e.conn.Send(transport.ToolResponseMessage(ev.resp)); err != nil {
		e.logger.Warn("send tool response", "id", ev.resp.ID, "error", err)
	}
}

// startPumps starts the keepalive heartbeat and the video frame cadence for
// the connection gen. Both stop on every exit path through stopPumps.
func (e *Engine) startPumps(gen uint64) {
	e.stopPumps()
	ctx, cancel := context.WithCancel(e.ctx)
	e.pumpCancel = cancel

	if e.opts.KeepAlive > 0 {
		go tick(ctx, e.opts.KeepAlive, func() {
			e.postCtx(ctx, keepAliveEvent{gen: gen})
		})
	}
	go tick(ctx, e.opts.FrameInterval, func() {
		if e.video.Active() == video.KindNone {
			return
		}
		jpeg, err := e.video.CaptureFrame()
		if err != nil {
			e.logger.Debug("capture video frame", "error", err)
			return
		}
		if jpeg != nil {
			e.postCtx(ctx, videoFrameEvent{gen: gen, jpeg: jpeg})
		}
	})
}

func (e *Engine) stopPumps() {
	if e.pumpCancel != nil {
		e.pumpCancel()
		e.pumpCancel = nil
	}
}

func tick(ctx context.Context, every time.Duration, fn func()) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}
