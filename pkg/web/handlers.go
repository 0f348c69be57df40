package web

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-live/pkg/hub"
	"github.com/teslashibe/go-live/pkg/playback"
	"github.com/teslashibe/go-live/pkg/realtime"
)

// MuteRequest is the body of POST /api/mute. Without Muted the mute toggles.
type MuteRequest struct {
	Muted *bool `json:"muted"`
}

// TextRequest is the body of POST /api/text.
type TextRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, ErrNoEngine):
		code = fiber.StatusServiceUnavailable
	case errors.Is(err, playback.ErrArtifactNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, realtime.ErrDevice):
		code = fiber.StatusConflict
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) engineOrErr() (Engine, error) {
	e := s.currentEngine()
	if e == nil {
		return nil, ErrNoEngine
	}
	return e, nil
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	e, err := s.engineOrErr()
	if err != nil {
		return err
	}
	return c.JSON(e.Snapshot())
}

func (s *Server) handleConnect(c *fiber.Ctx) error {
	e, err := s.engineOrErr()
	if err != nil {
		return err
	}
	if err := e.Connect(c.UserContext()); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(e.Snapshot())
}

func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	e, err := s.engineOrErr()
	if err != nil {
		return err
	}
	e.Disconnect()
	return c.JSON(e.Snapshot())
}

func (s *Server) handleMute(c *fiber.Ctx) error {
	e, err := s.engineOrErr()
	if err != nil {
		return err
	}
	var req MuteRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
	}
	var muted bool
	if req.Muted == nil {
		muted = e.ToggleMute()
	} else {
		muted = *req.Muted
		e.SetMuted(muted)
	}
	return c.JSON(fiber.Map{"muted": muted})
}

func (s *Server) handleCamera(c *fiber.Ctx) error {
	e, err := s.engineOrErr()
	if err != nil {
		return err
	}
	if err := e.StartCamera(c.UserContext()); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return c.JSON(e.Snapshot())
}

func (s *Server) handleScreen(c *fiber.Ctx) error {
	e, err := s.engineOrErr()
	if err != nil {
		return err
	}
	if err := e.StartScreenShare(c.UserContext()); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return c.JSON(e.Snapshot())
}

func (s *Server) handleStopVideo(c *fiber.Ctx) error {
	e, err := s.engineOrErr()
	if err != nil {
		return err
	}
	e.StopVideo()
	return c.JSON(e.Snapshot())
}

func (s *Server) handleText(c *fiber.Ctx) error {
	e, err := s.engineOrErr()
	if err != nil {
		return err
	}
	var req TextRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}
	e.SendText(text)
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	return c.JSON(s.conv.Turns())
}

// handleArtifact serves a turn recording as WAV.
func (s *Server) handleArtifact(c *fiber.Ctx) error {
	if s.cfg.Artifacts == nil {
		return fiber.ErrNotFound
	}
	a, err := s.cfg.Artifacts.Get(c.Params("id"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "audio/wav")
	c.Set(fiber.HeaderCacheControl, "private, max-age=3600")
	return c.Send(a.WAV)
}

// serveHub attaches each websocket to h until it disconnects.
func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		hub.NewClient(h, conn).Run()
	}
}

func jsonMessage(v any) (hub.Message, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return hub.Message{}, false
	}
	return hub.JSON(data), true
}
