// Package transcript carries conversational text out of the live engine.
//
// The engine reports each fragment as an Entry. Sinks decide what to do with
// them: log them, forward them to a UI, or fold them into whole turns.
package transcript

import (
	"log/slog"
	"sync"
)

// Role identifies the speaker of an entry.
type Role string

const (
	// RoleUser is the local speaker.
	RoleUser Role = "user"
	// RoleModel is the remote model.
	RoleModel Role = "model"
)

// Kind separates spoken or written content from model reasoning.
type Kind string

const (
	// KindContent is regular conversational content.
	KindContent Kind = "content"
	// KindThought is model reasoning. UIs may hide it independently.
	KindThought Kind = "thought"
)

// Entry is one transcript fragment.
type Entry struct {
	// Text is the fragment. It may be empty on a final entry that only
	// closes the turn.
	Text string `json:"text"`

	// Role is who produced the fragment.
	Role Role `json:"role"`

	// Final marks the end of the current turn for Role.
	Final bool `json:"final"`

	// Kind separates thoughts from content.
	Kind Kind `json:"kind"`

	// AudioURL points to a playable recording of the finished model turn.
	// Only set on final model entries.
	AudioURL string `json:"audio_url,omitempty"`
}

// Sink receives transcript entries. Implementations must not block for long;
// the engine calls them from its event loop.
type Sink interface {
	OnTranscript(Entry)
}

// Func adapts a function to Sink.
type Func func(Entry)

// OnTranscript calls f.
func (f Func) OnTranscript(e Entry) { f(e) }

// Discard drops every entry.
var Discard Sink = Func(func(Entry) {})

// Multi fans entries out to several sinks in order.
type Multi []Sink

// OnTranscript forwards e to every sink.
func (m Multi) OnTranscript(e Entry) {
	for _, s := range m {
		if s != nil {
			s.OnTranscript(e)
		}
	}
}

// Log writes entries to a structured logger. Non-final fragments are logged
// at debug level, final entries at info.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging sink.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "transcript")}
}

// OnTranscript logs e.
func (l *Log) OnTranscript(e Entry) {
	attrs := []any{"role", e.Role, "kind", e.Kind, "text", e.Text}
	if e.AudioURL != "" {
		attrs = append(attrs, "audio", e.AudioURL)
	}
	if e.Final {
		l.logger.Info("turn complete", attrs...)
		return
	}
	l.logger.Debug("fragment", attrs...)
}

// Async decouples a slow sink from the caller with a bounded queue. Entries
// that do not fit are dropped.
type Async struct {
	next  Sink
	queue chan Entry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts a goroutine that delivers to next.
func NewAsync(next Sink, size int) *Async {
	if size <= 0 {
		size = 256
	}
	a := &Async{
		next:  next,
		queue: make(chan Entry, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		a.next.OnTranscript(e)
	}
}

// OnTranscript queues e without blocking.
func (a *Async) OnTranscript(e Entry) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- e:
	default:
	}
}

// Close drains the queue and stops the goroutine.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

var (
	_ Sink = Func(nil)
	_ Sink = Multi(nil)
	_ Sink = (*Log)(nil)
	_ Sink = (*Async)(nil)
)
