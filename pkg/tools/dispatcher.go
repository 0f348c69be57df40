package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"google.golang.org/genai"
)

// Outcome labels how a call finished.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeError     Outcome = "error"
	OutcomePanic     Outcome = "panic"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeCancelled Outcome = "cancelled"
)

// RespondFunc delivers one function response. It is called from the
// handler's goroutine.
type RespondFunc func(*genai.FunctionResponse)

// Dispatcher runs tool calls, one goroutine per call. A failing or panicking
// handler only affects its own response.
type Dispatcher struct {
	reg     *Registry
	logger  *slog.Logger
	timeout time.Duration
	observe func(name string, outcome Outcome, d time.Duration)

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout bounds each handler. Zero means no bound.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) { x.timeout = d }
}

// WithObserver is called once per finished call, e.g. for metrics.
func WithObserver(fn func(name string, outcome Outcome, d time.Duration)) DispatcherOption {
	return func(x *Dispatcher) { x.observe = fn }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(x *Dispatcher) { x.logger = l }
}

// NewDispatcher creates a dispatcher over reg.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reg:      reg,
		logger:   slog.Default(),
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "tools.dispatcher")
	return d
}

// Dispatch starts every call and returns immediately. respond is invoked
// exactly once per call id, except for calls cancelled by the server.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []*genai.FunctionCall, respond RespondFunc) {
	for _, call := range calls {
		if call == nil {
			continue
		}
		var (
			callCtx context.Context
			cancel  context.CancelFunc
		)
		if d.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		} else {
			callCtx, cancel = context.WithCancel(ctx)
		}
		if call.ID != "" {
			d.mu.Lock()
			d.inflight[call.ID] = cancel
			d.mu.Unlock()
		}

		d.wg.Add(1)
		go func(call *genai.FunctionCall) {
			defer d.wg.Done()
			defer d.forget(call.ID, cancel)
			d.run(callCtx, call, respond)
		}(call)
	}
}

func (d *Dispatcher) run(ctx context.Context, call *genai.FunctionCall, respond RespondFunc) {
	start := time.Now()
	resp := &genai.FunctionResponse{ID: call.ID, Name: call.Name}

	tool, ok := d.reg.Lookup(call.Name)
	if !ok {
		resp.Response = map[string]any{"error": fmt.Sprintf("%s: %s", ErrUnknownTool, call.Name)}
		d.finish(call, OutcomeUnknown, start)
		respond(resp)
		return
	}

	var (
		out map[string]any
		err error
	)
	var pc panics.Catcher
	pc.Try(func() {
		out, err = tool.Handler(ctx, call.Args)
	})

	outcome := OutcomeOK
	switch r := pc.Recovered(); {
	case errors.Is(ctx.Err(), context.Canceled):
		d.finish(call, OutcomeCancelled, start)
		return
	case r != nil:
		outcome = OutcomePanic
		resp.Response = map[string]any{"error": r.AsError().Error()}
		d.logger.Error("tool panicked", "name", call.Name, "id", call.ID, "panic", r.Value)
	case err != nil:
		outcome = OutcomeError
		resp.Response = map[string]any{"error": err.Error()}
	default:
		if out == nil {
			out = map[string]any{}
		}
		resp.Response = map[string]any{"output": out}
	}

	d.finish(call, outcome, start)
	respond(resp)
}

func (d *Dispatcher) finish(call *genai.FunctionCall, outcome Outcome, start time.Time) {
	elapsed := time.Since(start)
	d.logger.Info("tool call finished", "name", call.Name, "id", call.ID, "outcome", outcome, "elapsed", elapsed)
	if d.observe != nil {
		d.observe(call.Name, outcome, elapsed)
	}
}

func (d *Dispatcher) forget(id string, cancel context.CancelFunc) {
	cancel()
	if id == "" {
		return
	}
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

// Cancel aborts in-flight calls by id. Cancelled calls send no response.
func (d *Dispatcher) Cancel(ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if cancel, ok := d.inflight[id]; ok {
			cancel()
			delete(d.inflight, id)
		}
	}
}

// InFlight returns the number of running calls with an id.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Wait blocks until every dispatched call has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
