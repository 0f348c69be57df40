package audioio

import (
	"sync"
	"time"
)

// Voice is a handle to one buffer scheduled on a Device.
type Voice interface {
	// Stop halts the voice immediately. Safe to call more than once.
	Stop()

	// Done is closed once the voice has finished playing or was stopped.
	Done() <-chan struct{}
}

// Device is an output clock that accepts buffers at absolute positions.
type Device interface {
	// Now returns the current playback position of the device clock.
	Now() time.Duration

	// Schedule queues samples to start playing at the given clock position.
	// Positions in the past start at Now.
	Schedule(samples []float32, at time.Duration) Voice

	// SampleRate returns the device sample rate.
	SampleRate() int
}

// Timeline is a software mixer implementing Device. Its clock is the number
// of samples rendered so far; an output backend drives it by calling Render
// from its callback.
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64 // samples rendered
	voices []*voice
}

// NewTimeline creates a mixer at the given sample rate.
func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{rate: sampleRate}
}

// SampleRate returns the mixer sample rate.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the clock position.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samplesToDuration(t.pos)
}

// Schedule queues samples at the given clock position.
func (t *Timeline) Schedule(samples []float32, at time.Duration) Voice {
	v := &voice{
		samples: samples,
		done:    make(chan struct{}),
	}

	t.mu.Lock()
	start := t.durationToSamples(at)
	if start < t.pos {
		start = t.pos
	}
	v.start = start
	if len(samples) == 0 {
		t.mu.Unlock()
		v.finish()
		return v
	}
	t.voices = append(t.voices, v)
	t.mu.Unlock()

	return v
}

// Render mixes all active voices into out, advancing the clock by len(out).
// Finished voices are signaled after the mix.
func (t *Timeline) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	t.mu.Lock()
	from := t.pos
	to := from + int64(len(out))
	t.pos = to

	var finished []*voice
	live := t.voices[:0]
	for _, v := range t.voices {
		if v.stopped() {
			continue
		}
		end := v.start + int64(len(v.samples))
		if v.start < to && end > from {
			lo := max(v.start, from)
			hi := min(end, to)
			for p := lo; p < hi; p++ {
				out[p-from] += v.samples[p-v.start]
			}
		}
		if end <= to {
			finished = append(finished, v)
			continue
		}
		live = append(live, v)
	}
	for i := len(live); i < len(t.voices); i++ {
		t.voices[i] = nil
	}
	t.voices = live
	t.mu.Unlock()

	for _, v := range finished {
		v.finish()
	}
}

// Advance renders d worth of audio into a scratch buffer. Used to drive the
// clock without a real device.
func (t *Timeline) Advance(d time.Duration) {
	n := t.durationToSamples(d)
	if n <= 0 {
		return
	}
	t.Render(make([]float32, n))
}

// Active returns the number of voices still queued or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.voices {
		if !v.stopped() {
			n++
		}
	}
	return n
}

func (t *Timeline) samplesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(t.rate)
}

// durationToSamples rounds up. Durations built from sample counts are
// truncated to whole nanoseconds, so rounding down would start a chunk one
// sample inside the previous one.
func (t *Timeline) durationToSamples(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	n := int64(d) * int64(t.rate)
	s := n / int64(time.Second)
	if n%int64(time.Second) != 0 {
		s++
	}
	return s
}

type voice struct {
	start   int64
	samples []float32

	once sync.Once
	done chan struct{}
}

func (v *voice) Stop() { v.finish() }

func (v *voice) Done() <-chan struct{} { return v.done }

func (v *voice) finish() {
	v.once.Do(func() { close(v.done) })
}

func (v *voice) stopped() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

var _ Device = (*Timeline)(nil)
