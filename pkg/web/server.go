// Package web serves the local session dashboard: a JSON control API,
// websocket streams for status, transcript and video preview, turn
// recordings and prometheus metrics.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-live/pkg/hub"
	"github.com/teslashibe/go-live/pkg/playback"
	"github.com/teslashibe/go-live/pkg/realtime"
	"github.com/teslashibe/go-live/pkg/transcript"
	"github.com/teslashibe/go-live/pkg/video"
)

// ErrNoEngine is returned by control endpoints before Attach.
var ErrNoEngine = errors.New("web: no engine attached")

// Engine is the session surface the dashboard drives. *realtime.Engine
// implements it.
type Engine interface {
	Connect(ctx context.Context) error
	Disconnect()
	ToggleMute() bool
	SetMuted(muted bool)
	SendText(text string)
	StartCamera(ctx context.Context) error
	StartScreenShare(ctx context.Context) error
	StopVideo()
	LocalVideo() video.Source
	Snapshot() realtime.Snapshot
	Subscribe() (<-chan realtime.Snapshot, func())
}

// Artifacts looks up stored turn recordings.
type Artifacts interface {
	Get(id string) (*playback.Artifact, error)
}

// Config configures the dashboard server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080".
	Addr string `yaml:"addr"`

	// StaticDir, if set, is served at "/".
	StaticDir string `yaml:"static_dir"`

	// PreviewInterval is how often a preview frame is pushed to /ws/preview.
	PreviewInterval time.Duration `yaml:"preview_interval"`

	// PreviewMaxEdge bounds the longer side of preview frames.
	PreviewMaxEdge int `yaml:"preview_max_edge"`

	// TranscriptLimit caps the turns kept for new dashboard clients.
	TranscriptLimit int `yaml:"transcript_limit"`

	Artifacts Artifacts           `yaml:"-"`
	Gatherer  prometheus.Gatherer `yaml:"-"`
	Logger    *slog.Logger        `yaml:"-"`
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8080",
		PreviewInterval: 200 * time.Millisecond,
		PreviewMaxEdge:  640,
		TranscriptLimit: 200,
	}
}

// Server is the dashboard server.
type Server struct {
	cfg    Config
	app    *fiber.App
	logger *slog.Logger

	engine   Engine
	engineMu sync.RWMutex

	conv *transcript.Conversation

	statusHub     *hub.Hub
	transcriptHub *hub.Hub
	previewHub    *hub.Hub

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates the server and its routes. Zero config fields take
// their DefaultConfig values.
func NewServer(cfg Config) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.PreviewInterval <= 0 {
		cfg.PreviewInterval = def.PreviewInterval
	}
	if cfg.PreviewMaxEdge <= 0 {
		cfg.PreviewMaxEdge = def.PreviewMaxEdge
	}
	if cfg.TranscriptLimit <= 0 {
		cfg.TranscriptLimit = def.TranscriptLimit
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:           cfg,
		logger:        cfg.Logger.With("component", "web"),
		statusHub:     hub.New("status", cfg.Logger),
		transcriptHub: hub.New("transcript", cfg.Logger),
		previewHub:    hub.New("preview", cfg.Logger),
	}
	s.conv = transcript.NewConversation(
		transcript.WithLimit(cfg.TranscriptLimit),
		transcript.WithOnUpdate(s.publishTurn),
	)
	s.statusHub.Greeting = s.statusGreeting
	s.transcriptHub.Greeting = s.transcriptGreeting

	app := fiber.New(fiber.Config{
		AppName:               "go-live",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/connect", s.handleConnect)
	api.Post("/disconnect", s.handleDisconnect)
	api.Post("/mute", s.handleMute)
	api.Post("/video/camera", s.handleCamera)
	api.Post("/video/screen", s.handleScreen)
	api.Post("/video/stop", s.handleStopVideo)
	api.Post("/text", s.handleText)
	api.Get("/transcript", s.handleTranscript)

	app.Get("/artifacts/:id", s.handleArtifact)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))
	app.Get("/ws/transcript", websocket.New(s.serveHub(s.transcriptHub)))
	app.Get("/ws/preview", websocket.New(s.serveHub(s.previewHub)))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

// Transcript is the sink that feeds the dashboard's conversation view.
func (s *Server) Transcript() *transcript.Conversation {
	return s.conv
}

// Attach sets the engine the control API drives. Call it before Start.
func (s *Server) Attach(e Engine) {
	s.engineMu.Lock()
	s.engine = e
	s.engineMu.Unlock()
}

func (s *Server) currentEngine() Engine {
	s.engineMu.RLock()
	defer s.engineMu.RUnlock()
	return s.engine
}

// Start runs the hubs and pumps and serves until Shutdown or a listen error.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.startBackground(ctx)

	s.logger.Info("dashboard listening", "url", "http://"+s.cfg.Addr)
	err := s.app.Listen(s.cfg.Addr)
	s.cancel()
	s.wg.Wait()
	return err
}

// startBackground starts the hubs and the status and preview pumps.
func (s *Server) startBackground(ctx context.Context) {
	for _, h := range []*hub.Hub{s.statusHub, s.transcriptHub, s.previewHub} {
		s.wg.Add(1)
		go func(h *hub.Hub) {
			defer s.wg.Done()
			h.Run(ctx)
		}(h)
	}
	if e := s.currentEngine(); e != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statusPump(ctx, e)
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.previewPump(ctx)
	}()
}

// Shutdown stops the server and its pumps.
func (s *Server) Shutdown() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.app.Shutdown()
}

func (s *Server) statusPump(ctx context.Context, e Engine) {
	ch, cancel := e.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := s.statusHub.BroadcastJSON(snap); err != nil {
				s.logger.Warn("encode status", "error", err)
			}
		}
	}
}

func (s *Server) previewPump(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PreviewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.previewHub.ClientCount() == 0 {
				continue
			}
			if frame := s.previewFrame(); frame != nil {
				s.previewHub.BroadcastBinary(frame)
			}
		}
	}
}

func (s *Server) previewFrame() []byte {
	e := s.currentEngine()
	if e == nil {
		return nil
	}
	src := e.LocalVideo()
	if src == nil {
		return nil
	}
	img, err := src.Frame()
	if err != nil {
		return nil
	}
	data, err := video.EncodeJPEG(img, s.cfg.PreviewMaxEdge, video.DefaultQuality)
	if err != nil {
		s.logger.Debug("encode preview", "error", err)
		return nil
	}
	return data
}

// transcriptEvent is the /ws/transcript wire format.
type transcriptEvent struct {
	Type  string            `json:"type"`
	Turn  *transcript.Turn  `json:"turn,omitempty"`
	Turns []transcript.Turn `json:"turns,omitempty"`
}

func (s *Server) publishTurn(t transcript.Turn) {
	if err := s.transcriptHub.BroadcastJSON(transcriptEvent{Type: "turn", Turn: &t}); err != nil {
		s.logger.Warn("encode turn", "error", err)
	}
}

func (s *Server) transcriptGreeting() (hub.Message, bool) {
	return jsonMessage(transcriptEvent{Type: "history", Turns: s.conv.Turns()})
}

func (s *Server) statusGreeting() (hub.Message, bool) {
	e := s.currentEngine()
	if e == nil {
		return hub.Message{}, false
	}
	return jsonMessage(e.Snapshot())
}
