//go:build gocv

package video

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// GoCVAvailable reports whether the OpenCV camera backend was compiled in.
const GoCVAvailable = true

// GoCVCamera reads frames from an OpenCV VideoCapture device.
type GoCVCamera struct {
	cap    *gocv.VideoCapture
	logger *slog.Logger

	frameMu sync.RWMutex
	latest  image.Image

	stop  chan struct{}
	ended chan struct{}
	once  sync.Once
}

// NewGoCVOpener returns an OpenFunc for the camera with the given index.
func NewGoCVOpener(device int, logger *slog.Logger) OpenFunc {
	return func(ctx context.Context) (Source, error) {
		return OpenGoCVCamera(device, logger)
	}
}

// OpenGoCVCamera opens camera device and starts a read loop.
func OpenGoCVCamera(device int, logger *slog.Logger) (*GoCVCamera, error) {
	if logger == nil {
		logger = slog.Default()
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("video: open camera %d: %w", device, err)
	}
	c := &GoCVCamera{
		cap:    vc,
		logger: logger.With("component", "video.gocv"),
		stop:   make(chan struct{}),
		ended:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *GoCVCamera) readLoop() {
	defer close(c.ended)
	defer c.cap.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	misses := 0
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		if ok := c.cap.Read(&mat); !ok || mat.Empty() {
			misses++
			if misses > 50 {
				c.logger.Warn("camera stopped delivering frames")
				return
			}
			time.Sleep(20 * time.Millisecond)
			continue
		}
		misses = 0
		img, err := mat.ToImage()
		if err != nil {
			continue
		}
		c.frameMu.Lock()
		c.latest = img
		c.frameMu.Unlock()
	}
}

// Kind returns KindCamera.
func (c *GoCVCamera) Kind() Kind { return KindCamera }

// Frame returns the most recent frame.
func (c *GoCVCamera) Frame() (image.Image, error) {
	c.frameMu.RLock()
	defer c.frameMu.RUnlock()
	if c.latest == nil {
		return nil, ErrNoFrame
	}
	return c.latest, nil
}

// Ended is closed when the read loop exits.
func (c *GoCVCamera) Ended() <-chan struct{} { return c.ended }

// Close stops the read loop and releases the device.
func (c *GoCVCamera) Close() error {
	c.once.Do(func() { close(c.stop) })
	<-c.ended
	return nil
}
