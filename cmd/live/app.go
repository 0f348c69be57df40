package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teslashibe/go-live/internal/config"
	"github.com/teslashibe/go-live/internal/httpc"
	"github.com/teslashibe/go-live/pkg/audioio"
	"github.com/teslashibe/go-live/pkg/credentials"
	"github.com/teslashibe/go-live/pkg/playback"
	"github.com/teslashibe/go-live/pkg/realtime"
	"github.com/teslashibe/go-live/pkg/tools"
	"github.com/teslashibe/go-live/pkg/transcript"
	"github.com/teslashibe/go-live/pkg/video"
	"github.com/teslashibe/go-live/pkg/web"
)

// app wires the engine, the dashboard and the local devices.
type app struct {
	cfg    *config.Config
	path   string
	logger *slog.Logger

	engine *realtime.Engine
	server *web.Server
	sink   *transcript.Async
	store  playback.ArtifactStore

	// ended receives the reason of every session that ends for good.
	ended chan realtime.Reason

	saveMu sync.Mutex
}

type runOptions struct {
	web    bool
	camera bool
	screen bool
	muted  bool
	stdin  bool
	in     io.Reader
}

func newApp(ctx context.Context, cfg *config.Config, path string, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		path:   path,
		logger: logger.With("component", "live"),
		ended:  make(chan realtime.Reason, 1),
	}

	creds, err := a.credentials(ctx)
	if err != nil {
		return nil, err
	}

	store, err := a.artifacts()
	if err != nil {
		return nil, err
	}
	a.store = store

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	webCfg := cfg.Web
	webCfg.Gatherer = reg
	webCfg.Logger = logger
	if g, ok := store.(web.Artifacts); ok {
		webCfg.Artifacts = g
	}
	a.server = web.NewServer(webCfg)

	a.sink = transcript.NewAsync(transcript.Multi{
		transcript.NewLog(logger),
		a.server.Transcript(),
	}, 256)

	toolReg, err := tools.NewRegistry(tools.Defaults()...)
	if err != nil {
		return nil, err
	}

	mic, speaker, err := a.devices()
	if err != nil {
		return nil, err
	}

	a.engine, err = realtime.New(
		realtime.WithSettings(cfg.Session),
		realtime.WithCredentials(creds),
		realtime.WithKeyRotated(a.persistKey),
		realtime.WithMicrophone(mic),
		realtime.WithSpeaker(speaker),
		realtime.WithVideo(a.capturer()),
		realtime.WithTools(toolReg),
		realtime.WithToolTimeout(cfg.ToolTimeout),
		realtime.WithTranscript(a.sink),
		realtime.WithArtifacts(store),
		realtime.WithOnClosed(a.onClosed),
		realtime.WithReconnect(cfg.Reconnect.MaxRetries, cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay),
		realtime.WithFrameInterval(cfg.Video.FrameInterval),
		realtime.WithRegisterer(reg),
		realtime.WithLogger(logger),
	)
	if err != nil {
		mic.Close()
		speaker.Close()
		return nil, err
	}
	a.server.Attach(a.engine)
	return a, nil
}

// credentials builds the provider for the configured auth mode.
func (a *app) credentials(ctx context.Context) (credentials.Provider, error) {
	switch a.cfg.Auth {
	case config.AuthOAuth:
		octx := httpc.OAuthContext(ctx)
		if tf := a.cfg.OAuth.TokenFile; tf != "" {
			oc := &oauth2.Config{
				ClientID:     a.cfg.OAuth.ClientID,
				ClientSecret: a.cfg.OAuth.ClientSecret,
				Endpoint:     google.Endpoint,
				Scopes:       []string{credentials.GenerativeLanguageScope},
			}
			src, err := credentials.NewTokenFile(oc, tf)
			if err != nil {
				return nil, err
			}
			// Keys still work as a fallback when the token can't be refreshed.
			return credentials.Chain{credentials.NewOAuth(src), credentials.Env{}}, nil
		}
		o, err := credentials.NewDefaultOAuth(octx)
		if err != nil {
			return nil, fmt.Errorf("oauth: %w", err)
		}
		return credentials.Chain{o, credentials.Env{}}, nil
	default:
		pool := credentials.NewPool(a.cfg.APIKeys, a.cfg.KeyIndex)
		a.logger.Info("using API keys", "count", pool.Len())
		return pool, nil
	}
}

func (a *app) artifacts() (playback.ArtifactStore, error) {
	if dir := a.cfg.ArtifactsDir; dir != "" {
		return playback.NewDirStore(dir)
	}
	return playback.NewMemoryStore("/artifacts/", 100), nil
}

func (a *app) devices() (audioio.Source, audioio.Output, error) {
	in := audioio.DefaultCaptureConfig()
	in.Backend = a.cfg.Audio.Backend
	mic, err := audioio.NewSource(in, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: microphone: %w (built with %v; set audio.backend: mock for a synthetic device)",
			realtime.ErrDevice, err, audioio.AvailableBackends())
	}
	out := audioio.DefaultPlaybackConfig()
	out.Backend = a.cfg.Audio.Backend
	speaker, err := audioio.NewOutput(out, a.logger)
	if err != nil {
		mic.Close()
		return nil, nil, fmt.Errorf("%w: speaker: %w", realtime.ErrDevice, err)
	}
	return mic, speaker, nil
}

func (a *app) capturer() *video.Capturer {
	camera := video.NewFFmpegOpener(video.KindCamera, a.cfg.Video.Camera, a.logger)
	if dev := a.cfg.Video.GoCVDevice; dev >= 0 {
		camera = video.NewGoCVOpener(dev, a.logger)
	}
	return video.NewCapturer(video.Options{
		OpenCamera: camera,
		OpenScreen: video.NewFFmpegOpener(video.KindScreen, a.cfg.Video.Screen, a.logger),
		Logger:     a.logger,
	})
}

// persistKey records the key a session rotated to, so the next start
// begins with it.
func (a *app) persistKey(key string) {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	if !a.cfg.RecordKey(key) {
		return
	}
	if err := a.cfg.Save(a.path); err != nil {
		a.logger.Warn("save rotated key", "error", err)
		return
	}
	a.logger.Info("switched API key", "index", a.cfg.KeyIndex)
}

func (a *app) onClosed(r realtime.Reason) {
	select {
	case a.ended <- r:
	default:
	}
}

// Run connects and blocks until ctx is done. Without the dashboard it also
// returns when the session ends for good, since nothing could restart it.
func (a *app) Run(ctx context.Context, opts runOptions) error {
	serverErr := make(chan error, 1)
	if opts.web {
		go func() { serverErr <- a.server.Start(ctx) }()
	}

	if opts.muted {
		a.engine.SetMuted(true)
	}
	if err := a.engine.Connect(ctx); err != nil {
		return err
	}
	switch {
	case opts.camera:
		if err := a.engine.StartCamera(ctx); err != nil {
			a.logger.Warn("start camera", "error", err)
		}
	case opts.screen:
		if err := a.engine.StartScreenShare(ctx); err != nil {
			a.logger.Warn("start screen share", "error", err)
		}
	}
	if opts.stdin {
		go a.readLines(ctx, opts.in)
	}

	go a.logStatus(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-serverErr:
			return fmt.Errorf("dashboard: %w", err)
		case r := <-a.ended:
			snap := a.engine.Snapshot()
			if r == realtime.ReasonUserClosed {
				a.logger.Info("session closed")
			} else {
				a.logger.Error("session ended", "reason", r, "error", snap.Error)
			}
			if !opts.web {
				if snap.Error != "" {
					return errors.New(snap.Error)
				}
				return nil
			}
		}
	}
}

// readLines sends each stdin line as a text turn. "/mute" toggles the mic.
func (a *app) readLines(ctx context.Context, in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
		case "/mute":
			a.logger.Info("microphone", "muted", a.engine.ToggleMute())
		default:
			a.engine.SendText(line)
		}
	}
}

func (a *app) logStatus(ctx context.Context) {
	ch, cancel := a.engine.Subscribe()
	defer cancel()
	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if snap.Status != last {
				last = snap.Status
				a.logger.Info(snap.Status, "state", snap.State, "attempt", snap.Attempt)
			}
		}
	}
}

// Shutdown closes the engine, the dashboard and the transcript queue.
func (a *app) Shutdown() {
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("close engine", "error", err)
	}
	if err := a.server.Shutdown(); err != nil {
		a.logger.Debug("stop dashboard", "error", err)
	}
	a.sink.Close()
	if ds, ok := a.store.(*playback.DirStore); ok {
		if err := ds.Wait(); err != nil {
			a.logger.Warn("turn recordings", "error", err)
		}
	}
}
