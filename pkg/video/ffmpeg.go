package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
)

// FFmpegConfig describes an ffmpeg capture input.
type FFmpegConfig struct {
	// Binary is the ffmpeg executable. Default: "ffmpeg".
	Binary string `yaml:"binary" json:"binary"`

	// Format is the ffmpeg input format (v4l2, x11grab, avfoundation, gdigrab).
	Format string `yaml:"format" json:"format"`

	// Input is the device or display to open.
	Input string `yaml:"input" json:"input"`

	// FPS is the decode rate. Frames are only sampled at 1 Hz, so a few
	// fps keeps the cached frame fresh without burning CPU.
	FPS int `yaml:"fps" json:"fps"`
}

// DefaultCameraConfig returns the platform camera input.
func DefaultCameraConfig() FFmpegConfig {
	cfg := FFmpegConfig{Binary: "ffmpeg", FPS: 5}
	switch runtime.GOOS {
	case "darwin":
		cfg.Format, cfg.Input = "avfoundation", "0"
	case "windows":
		cfg.Format, cfg.Input = "dshow", "video=Integrated Camera"
	default:
		cfg.Format, cfg.Input = "v4l2", "/dev/video0"
	}
	return cfg
}

// DefaultScreenConfig returns the platform screen-grab input.
func DefaultScreenConfig() FFmpegConfig {
	cfg := FFmpegConfig{Binary: "ffmpeg", FPS: 2}
	switch runtime.GOOS {
	case "darwin":
		cfg.Format, cfg.Input = "avfoundation", "1"
	case "windows":
		cfg.Format, cfg.Input = "gdigrab", "desktop"
	default:
		display := os.Getenv("DISPLAY")
		if display == "" {
			display = ":0"
		}
		cfg.Format, cfg.Input = "x11grab", display
	}
	return cfg
}

// FFmpegSource runs a persistent ffmpeg process emitting MJPEG on stdout and
// caches the latest frame. The source ends when the process exits.
type FFmpegSource struct {
	kind   Kind
	cmd    *exec.Cmd
	logger *slog.Logger

	frameMu sync.RWMutex
	latest  []byte

	ended chan struct{}
}

// NewFFmpegOpener returns an OpenFunc that starts ffmpeg with cfg.
func NewFFmpegOpener(kind Kind, cfg FFmpegConfig, logger *slog.Logger) OpenFunc {
	return func(ctx context.Context) (Source, error) {
		return OpenFFmpeg(ctx, kind, cfg, logger)
	}
}

// OpenFFmpeg starts an ffmpeg capture process.
func OpenFFmpeg(ctx context.Context, kind Kind, cfg FFmpegConfig, logger *slog.Logger) (*FFmpegSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 2
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", cfg.Format,
		"-i", cfg.Input,
		"-vf", "fps=" + strconv.Itoa(cfg.FPS),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	}
	// Not tied to ctx: the source lives until Close or until the device goes away.
	cmd := exec.Command(cfg.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("video: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("video: start %s: %w", cfg.Binary, err)
	}

	s := &FFmpegSource{
		kind:   kind,
		cmd:    cmd,
		logger: logger.With("component", "video.ffmpeg", "kind", kind),
		ended:  make(chan struct{}),
	}
	go s.readLoop(stdout)

	s.logger.Info("capture process started", "format", cfg.Format, "input", cfg.Input)
	return s, nil
}

func (s *FFmpegSource) readLoop(r io.Reader) {
	defer close(s.ended)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256*1024), 16*1024*1024)
	sc.Split(splitJPEG)
	for sc.Scan() {
		frame := append([]byte(nil), sc.Bytes()...)
		s.frameMu.Lock()
		s.latest = frame
		s.frameMu.Unlock()
	}
	if err := sc.Err(); err != nil {
		s.logger.Warn("capture stream error", "error", err)
	}
	if err := s.cmd.Wait(); err != nil {
		s.logger.Debug("capture process exited", "error", err)
	} else {
		s.logger.Info("capture process exited")
	}
}

// splitJPEG tokenizes a concatenated MJPEG stream on SOI/EOI markers.
// Entropy-coded data stuffs 0xFF bytes, so EOI only appears at the end.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, []byte{0xFF, 0xD8})
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF that may begin a marker.
		return max(0, len(data)-1), nil, nil
	}
	end := bytes.Index(data[start+2:], []byte{0xFF, 0xD9})
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// Kind returns the source kind.
func (s *FFmpegSource) Kind() Kind { return s.kind }

// Frame decodes the most recent JPEG.
func (s *FFmpegSource) Frame() (image.Image, error) {
	s.frameMu.RLock()
	data := s.latest
	s.frameMu.RUnlock()
	if data == nil {
		return nil, ErrNoFrame
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("video: decode frame: %w", err)
	}
	return img, nil
}

// Ended is closed when ffmpeg exits.
func (s *FFmpegSource) Ended() <-chan struct{} { return s.ended }

// Close kills ffmpeg and waits for the reader to finish.
func (s *FFmpegSource) Close() error {
	select {
	case <-s.ended:
		return nil
	default:
	}
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	<-s.ended
	return nil
}
