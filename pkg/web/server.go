// Package web serves the control dashboard: a JSON API to play and abort
// animations, Prometheus metrics and a live status websocket.
package web

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	accesslog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-animstream/pkg/animation"
	"github.com/teslashibe/go-animstream/pkg/audioengine"
	"github.com/teslashibe/go-animstream/pkg/hub"
	"github.com/teslashibe/go-animstream/pkg/robotlink"
	"github.com/teslashibe/go-animstream/pkg/streamer"
)

// Controller is the streamer surface the dashboard drives.
type Controller interface {
	Play(name string, opts streamer.PlayOptions) (uuid.UUID, error)
	Abort()
	Status() streamer.Status
}

// Options configures a Server. Link, Engine, Gatherer and StaticDir are
// optional.
type Options struct {
	Addr           string
	Controller     Controller
	Registry       *animation.Registry
	Link           *robotlink.Link
	Engine         *audioengine.Engine
	Gatherer       prometheus.Gatherer
	StatusInterval time.Duration
	StaticDir      string
	AccessLog      bool
	Version        string
	Logger         *slog.Logger
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	opts   Options
	logger *slog.Logger

	// Hub for websocket broadcast
	statusHub *hub.Hub
}

// NewServer creates a new web dashboard server
func NewServer(opts Options) (*Server, error) {
	if opts.Controller == nil || opts.Registry == nil {
		return nil, errors.New("web: controller and registry are required")
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "web")

	s := &Server{
		opts:      opts,
		logger:    logger,
		statusHub: hub.New("status", opts.Logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "animstream",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	// CORS for local development
	app.Use(cors.New())
	if opts.AccessLog {
		app.Use(accesslog.New())
	}

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"version":   opts.Version,
			"connected": opts.Link != nil && opts.Link.Connected(),
		})
	})

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/animations", s.handleListAnimations)
	api.Post("/animations/:name/play", s.handlePlay)
	api.Post("/abort", s.handleAbort)
	api.Get("/audio/events", s.handleAudioEvents)

	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	if opts.Link != nil {
		opts.Link.RegisterRoutes(app)
		opts.Link.RegisterAPIRoutes(api)
	}

	// WebSocket upgrade middleware
	app.Use("/ws/status", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// StatusHub returns the status hub for external use
func (s *Server) StatusHub() *hub.Hub { return s.statusHub }

// Run serves until ctx is done. It starts the hub and the periodic status
// broadcast.
func (s *Server) Run(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go s.broadcastStatus(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", s.opts.Addr)
		errCh <- s.app.Listen(s.opts.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		// the robot handler holds its connection open until it is dropped
		if s.opts.Link != nil {
			s.opts.Link.Disconnect()
		}
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("dashboard shutdown", "error", err)
		}
		return <-errCh
	}
}

func (s *Server) broadcastStatus(ctx context.Context) {
	ticker := time.NewTicker(s.opts.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON("status", s.status()); err != nil {
				s.logger.Warn("encode status", "error", err)
			}
		}
	}
}

// AnimationEvent is broadcast when an animation leaves the queue.
type AnimationEvent struct {
	Name    string    `json:"name"`
	ID      uuid.UUID `json:"id"`
	Aborted bool      `json:"aborted"`
	Time    string    `json:"time"`
}

// AnimationDone broadcasts a completion. It matches streamer.CompleteFunc.
func (s *Server) AnimationDone(name string, id uuid.UUID, aborted bool) {
	err := s.statusHub.BroadcastJSON("animation", AnimationEvent{
		Name:    name,
		ID:      id,
		Aborted: aborted,
		Time:    time.Now().Format("15:04:05"),
	})
	if err != nil {
		s.logger.Warn("encode animation event", "error", err)
	}
}
