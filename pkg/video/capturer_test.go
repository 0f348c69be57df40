package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"
)

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return img
}

type openers struct {
	camera *StaticSource
	screen *StaticSource
}

func newTestCapturer(onChange func(Kind)) (*Capturer, *openers) {
	o := &openers{}
	c := NewCapturer(Options{
		OpenCamera: func(context.Context) (Source, error) {
			o.camera = NewStaticSource(KindCamera, solid(1280, 720))
			return o.camera, nil
		},
		OpenScreen: func(context.Context) (Source, error) {
			o.screen = NewStaticSource(KindScreen, solid(1920, 1080))
			return o.screen, nil
		},
		OnChange: onChange,
	})
	return c, o
}

func TestCapturer_NoSource(t *testing.T) {
	c, _ := newTestCapturer(nil)
	frame, err := c.CaptureFrame()
	if err != nil || frame != nil {
		t.Errorf("CaptureFrame() = %v, %v; want nil, nil", frame, err)
	}
	if c.Active() != KindNone {
		t.Errorf("Active() = %s", c.Active())
	}
}

func TestCapturer_FrameIsDownscaledJPEG(t *testing.T) {
	c, _ := newTestCapturer(nil)
	if err := c.StartCamera(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	data, err := c.CaptureFrame()
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("frame is not a JPEG: %v", err)
	}
	if cfg.Width != 640 || cfg.Height != 360 {
		t.Errorf("frame size = %dx%d, want 640x360", cfg.Width, cfg.Height)
	}
}

func TestCapturer_SingleActiveSource(t *testing.T) {
	c, o := newTestCapturer(nil)
	ctx := context.Background()

	c.StartCamera(ctx)
	c.StartScreenShare(ctx)

	select {
	case <-o.camera.Ended():
	default:
		t.Error("camera should be stopped when screen share starts")
	}
	if c.Active() != KindScreen {
		t.Errorf("Active() = %s, want screen", c.Active())
	}
}

func TestCapturer_ScreenEndedExternally(t *testing.T) {
	var mu sync.Mutex
	var kinds []Kind
	changed := make(chan struct{}, 4)
	c, o := newTestCapturer(func(k Kind) {
		mu.Lock()
		kinds = append(kinds, k)
		mu.Unlock()
		changed <- struct{}{}
	})

	c.StartScreenShare(context.Background())
	<-changed

	o.screen.End()
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change after screen share ended")
	}

	if c.Active() != KindNone {
		t.Errorf("Active() = %s, want none", c.Active())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != KindScreen || kinds[1] != KindNone {
		t.Errorf("changes = %v", kinds)
	}
}

func TestCapturer_NoFrameYet(t *testing.T) {
	c := NewCapturer(Options{
		OpenCamera: func(context.Context) (Source, error) {
			return NewStaticSource(KindCamera, nil), nil
		},
	})
	c.StartCamera(context.Background())
	frame, err := c.CaptureFrame()
	if frame != nil || err != nil {
		t.Errorf("CaptureFrame() = %v, %v; want nil, nil", frame, err)
	}
}

func TestCapturer_OpenError(t *testing.T) {
	denied := errors.New("permission denied")
	c := NewCapturer(Options{
		OpenCamera: func(context.Context) (Source, error) { return nil, denied },
	})
	if err := c.StartCamera(context.Background()); !errors.Is(err, denied) {
		t.Errorf("StartCamera() = %v", err)
	}
	if c.Active() != KindNone {
		t.Error("no source should be active after a failed start")
	}
}

func TestDownscale(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		wantW int
		wantH int
	}{
		{"landscape", 1920, 1080, 640, 360},
		{"portrait", 720, 1280, 360, 640},
		{"small untouched", 320, 240, 320, 240},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Downscale(solid(tt.w, tt.h), DefaultMaxEdge).Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("got %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestSplitJPEG(t *testing.T) {
	var buf bytes.Buffer
	jpeg.Encode(&buf, solid(8, 8), nil)
	one := buf.Bytes()

	stream := append([]byte("junk"), one...)
	stream = append(stream, one...)

	var frames [][]byte
	data := stream
	for len(data) > 0 {
		adv, tok, _ := splitJPEG(data, true)
		if tok != nil {
			frames = append(frames, tok)
		}
		if adv == 0 {
			break
		}
		data = data[adv:]
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0], one) {
		t.Error("frame bytes differ")
	}
}
