// Package playback schedules streamed model audio for gapless output and
// keeps the raw audio of each turn for replay.
package playback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-live/pkg/audioio"
)

// ErrEmptyChunk is returned for payloads with no complete sample.
var ErrEmptyChunk = errors.New("playback: empty audio chunk")

// Scheduler places decoded PCM16 chunks back to back on an output Device.
//
// Each chunk starts at max(now, cursor) and the cursor advances by the
// chunk's duration as soon as it is scheduled, so chunks arriving faster than
// real time queue without gaps or overlap.
type Scheduler struct {
	dev    audioio.Device
	logger *slog.Logger

	mu     sync.Mutex
	cursor time.Duration
	units  map[*unit]struct{}

	notifyMu   sync.Mutex
	notified   bool
	onSpeaking func(bool)
}

type unit struct {
	voice audioio.Voice
	start time.Duration
}

// NewScheduler creates a scheduler on dev.
func NewScheduler(dev audioio.Device, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dev:    dev,
		logger: logger.With("component", "playback.scheduler"),
		units:  make(map[*unit]struct{}),
	}
}

// OnSpeakingChange registers a callback fired when playback starts or drains.
func (s *Scheduler) OnSpeakingChange(fn func(speaking bool)) {
	s.notifyMu.Lock()
	s.onSpeaking = fn
	s.notifyMu.Unlock()
}

// PlayChunk decodes little-endian PCM16 at the device rate and schedules it.
// It returns the scheduled start position.
func (s *Scheduler) PlayChunk(pcm []byte) (time.Duration, error) {
	if len(pcm) < 2 {
		return 0, ErrEmptyChunk
	}
	samples := audioio.DecodePCM16(pcm)
	length := audioio.SamplesDuration(len(samples), s.dev.SampleRate())

	s.mu.Lock()
	start := max(s.dev.Now(), s.cursor)
	s.cursor = start + length
	u := &unit{start: start}
	u.voice = s.dev.Schedule(samples, start)
	s.units[u] = struct{}{}
	s.mu.Unlock()

	go s.watch(u)
	s.notify()
	return start, nil
}

func (s *Scheduler) watch(u *unit) {
	<-u.voice.Done()

	s.mu.Lock()
	_, ok := s.units[u]
	delete(s.units, u)
	s.mu.Unlock()

	if ok {
		s.notify()
	}
}

// Stop halts every outstanding unit and resets the cursor to now.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	units := s.units
	s.units = make(map[*unit]struct{})
	s.cursor = s.dev.Now()
	s.mu.Unlock()

	for u := range units {
		u.voice.Stop()
	}
	if len(units) > 0 {
		s.logger.Debug("playback interrupted", "units", len(units))
	}
	s.notify()
}

// IsSpeaking reports whether any unit is queued or playing.
func (s *Scheduler) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units) > 0
}

// Outstanding returns the number of queued or playing units.
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

// Cursor returns the position where the next chunk would start if the
// device clock has not passed it.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// notify reports speaking transitions, collapsing repeats.
func (s *Scheduler) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	speaking := s.IsSpeaking()
	if speaking == s.notified {
		return
	}
	s.notified = speaking
	if s.onSpeaking != nil {
		s.onSpeaking(speaking)
	}
}
