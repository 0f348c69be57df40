package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-live/internal/config"
	"github.com/teslashibe/go-live/internal/log"
)

type runFlags struct {
	model        string
	voice        string
	systemPrompt string
	textOnly     bool
	thoughts     bool
	auth         string
	addr         string
	noWeb        bool
	camera       bool
	screen       bool
	muted        bool
	stdin        bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a live session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := log.Init(cfg.LogLevel)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, path, logger)
			if err != nil {
				return err
			}
			defer a.Shutdown()

			return a.Run(ctx, runOptions{
				web:    !f.noWeb,
				camera: f.camera,
				screen: f.screen,
				muted:  f.muted,
				stdin:  f.stdin,
				in:     cmd.InOrStdin(),
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.model, "model", "", "model name (overrides GOLIVE_MODEL)")
	fl.StringVar(&f.voice, "voice", "", "prebuilt voice (overrides GOLIVE_VOICE)")
	fl.StringVar(&f.systemPrompt, "system-prompt", "", "system instruction for the model")
	fl.BoolVar(&f.textOnly, "text-only", false, "ask for text replies instead of audio")
	fl.BoolVar(&f.thoughts, "thoughts", false, "include model thoughts in the transcript")
	fl.StringVar(&f.auth, "auth", "", "authentication: key or oauth")
	fl.StringVar(&f.addr, "addr", "", "dashboard listen address")
	fl.BoolVar(&f.noWeb, "no-web", false, "do not serve the dashboard")
	fl.BoolVar(&f.camera, "camera", false, "share the camera once connected")
	fl.BoolVar(&f.screen, "screen", false, "share the screen once connected")
	fl.BoolVar(&f.muted, "muted", false, "start with the microphone muted")
	fl.BoolVar(&f.stdin, "stdin", false, "send lines typed on stdin as text turns")
	cmd.MarkFlagsMutuallyExclusive("camera", "screen")
	return cmd
}

// apply overlays the flags the user set on cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if f.model != "" {
		cfg.Session.Model = f.model
	}
	if f.voice != "" {
		cfg.Session.Voice = f.voice
	}
	if f.systemPrompt != "" {
		cfg.Session.SystemPrompt = f.systemPrompt
	}
	if changed("text-only") {
		cfg.Session.TextOnly = f.textOnly
	}
	if changed("thoughts") {
		cfg.Session.IncludeThoughts = f.thoughts
	}
	if f.auth != "" {
		cfg.Auth = config.Auth(f.auth)
	}
	if f.addr != "" {
		cfg.Web.Addr = f.addr
	}
}
