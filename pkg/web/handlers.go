package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-animstream/pkg/animation"
	"github.com/teslashibe/go-animstream/pkg/audioengine"
	"github.com/teslashibe/go-animstream/pkg/hub"
	"github.com/teslashibe/go-animstream/pkg/interleaver"
	"github.com/teslashibe/go-animstream/pkg/robotlink"
	"github.com/teslashibe/go-animstream/pkg/streamer"
	"github.com/teslashibe/go-animstream/pkg/streaming"
)

// DashboardStatus is the payload of /api/status and status broadcasts.
type DashboardStatus struct {
	Streamer streamer.Status      `json:"streamer"`
	Robot    *robotlink.RobotInfo `json:"robot,omitempty"`
	Link     *robotlink.Stats     `json:"link,omitempty"`
	Audio    *audioengine.Stats   `json:"audio,omitempty"`
	Clients  int                  `json:"clients"`
}

func (s *Server) status() DashboardStatus {
	st := DashboardStatus{
		Streamer: s.opts.Controller.Status(),
		Clients:  s.statusHub.ClientCount(),
	}
	if s.opts.Link != nil {
		st.Robot = s.opts.Link.Info()
		stats := s.opts.Link.GetStats()
		st.Link = &stats
	}
	if s.opts.Engine != nil {
		stats := s.opts.Engine.Stats()
		st.Audio = &stats
	}
	return st
}

// handleStatus returns the streamer's current state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleListAnimations returns the registered animations
func (s *Server) handleListAnimations(c *fiber.Ctx) error {
	return c.JSON(s.opts.Registry.Summaries())
}

// PlayRequest is the optional body of a play request
type PlayRequest struct {
	Mode   string  `json:"mode"`
	FadeMs int     `json:"fade_ms"`
	Abort  bool    `json:"abort"`
	Volume float32 `json:"volume"`
}

// handlePlay queues an animation
func (s *Server) handlePlay(c *fiber.Ctx) error {
	name := c.Params("name")

	var req PlayRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	if req.Volume < 0 || req.FadeMs < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "volume and fade_ms must not be negative"})
	}

	opts := streamer.PlayOptions{FadeMs: req.FadeMs, Abort: req.Abort, Volume: req.Volume}
	if req.Mode != "" {
		mode, err := streaming.ParsePlaybackMode(req.Mode)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		opts.Mode = &mode
	}

	id, err := s.opts.Controller.Play(name, opts)
	switch {
	case errors.Is(err, animation.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, streamer.ErrQueueFull), errors.Is(err, interleaver.ErrNoSource):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	s.logger.Info("play requested", "anim", name, "id", id)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"animation": name,
		"id":        id,
	})
}

// handleAbort stops every queued animation
func (s *Server) handleAbort(c *fiber.Ctx) error {
	s.opts.Controller.Abort()
	return c.JSON(fiber.Map{"aborted": true})
}

// handleAudioEvents lists the sound bank
func (s *Server) handleAudioEvents(c *fiber.Ctx) error {
	if s.opts.Engine == nil {
		return c.JSON([]string{})
	}
	return c.JSON(s.opts.Engine.Bank().Events())
}

// handleStatusWS streams status and animation events
func (s *Server) handleStatusWS(c *websocket.Conn) {
	initial, err := hub.NewMessage("status", s.status())
	if err != nil {
		s.logger.Warn("encode status", "error", err)
		return
	}
	hub.NewClient(s.statusHub, c, initial).Run()
}
