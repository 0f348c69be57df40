package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-live/pkg/audioio"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []Frame
	notify chan struct{}
}

func newFrameRecorder() *frameRecorder {
	return &frameRecorder{notify: make(chan struct{}, 64)}
}

func (r *frameRecorder) onFrame(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *frameRecorder) wait(t *testing.T, n int) []Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		got := len(r.frames)
		r.mu.Unlock()
		if got >= n {
			break
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, got %d", n, got)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestPipeline_BlocksSamples(t *testing.T) {
	src := audioio.NewMockSource(audioio.DefaultCaptureConfig(), nil)
	rec := newFrameRecorder()

	p, err := Start(context.Background(), src, rec.onFrame, WithBlockSize(4))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Teardown()

	src.Push(constant(3, 0.1))
	src.Push(constant(6, 0.1))

	frames := rec.wait(t, 2)
	for i, f := range frames {
		if len(f.Samples) != 4 {
			t.Errorf("frame %d has %d samples, want 4", i, len(f.Samples))
		}
		if f.SampleRate != audioio.CaptureSampleRate {
			t.Errorf("frame %d rate = %d", i, f.SampleRate)
		}
	}
}

func TestPipeline_PartialBlockDiscarded(t *testing.T) {
	src := audioio.NewMockSource(audioio.DefaultCaptureConfig(), nil)
	rec := newFrameRecorder()

	p, err := Start(context.Background(), src, rec.onFrame, WithBlockSize(4))
	if err != nil {
		t.Fatal(err)
	}
	src.Push(constant(6, 0.1))
	rec.wait(t, 1)
	p.Teardown()
	p.Teardown()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.frames) != 1 {
		t.Errorf("got %d frames, want 1", len(rec.frames))
	}
	if src.Running() {
		t.Error("source should be stopped after Teardown")
	}
}

func TestPipeline_MuteDisablesTrack(t *testing.T) {
	src := audioio.NewMockSource(audioio.DefaultCaptureConfig(), nil)
	rec := newFrameRecorder()

	p, err := Start(context.Background(), src, rec.onFrame, WithBlockSize(2))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Teardown()

	p.SetMuted(true)
	if src.Enabled() {
		t.Error("track should be disabled while muted")
	}
	src.Push(constant(2, 0.8))

	frames := rec.wait(t, 1)
	if !frames[0].Muted {
		t.Error("frame should be flagged muted")
	}
	if frames[0].Volume != 0 {
		t.Errorf("muted volume = %v, want 0", frames[0].Volume)
	}

	p.SetMuted(false)
	src.Push(constant(2, 0.8))
	frames = rec.wait(t, 2)
	if frames[1].Muted || frames[1].Volume == 0 {
		t.Errorf("unmuted frame = %+v", frames[1])
	}
}

func TestStart_DeviceFailure(t *testing.T) {
	deny := errors.New("NotAllowedError")
	src := audioio.NewMockSource(audioio.DefaultCaptureConfig(), nil, audioio.WithStartError(deny))

	_, err := Start(context.Background(), src, func(Frame) {})
	if !errors.Is(err, deny) {
		t.Errorf("Start() = %v, want wrapped %v", err, deny)
	}
}

func TestVolume(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{"silence", constant(64, 0), 0},
		{"empty", nil, 0},
		{"quiet", constant(64, 0.1), 0.5},
		{"loud clamps", constant(64, 0.9), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Volume(tt.samples, DefaultVolumeStride)
			if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("Volume() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrame_PCM16(t *testing.T) {
	f := Frame{Samples: constant(4096, 0), SampleRate: 16000}
	if got := len(f.PCM16()); got != 8192 {
		t.Errorf("PCM16 length = %d, want 8192", got)
	}
	if got := f.MIMEType(); got != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType() = %q", got)
	}
}
