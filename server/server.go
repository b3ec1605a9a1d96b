// Package server exposes the webhook receiver and the helper HTTP API.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/metrics"
	"github.com/mrsingh-rishi/rtms-scribe/output"
	"github.com/mrsingh-rishi/rtms-scribe/session"
	"github.com/mrsingh-rishi/rtms-scribe/signer"
	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// Webhook signature headers.
const (
	HeaderSignature = "x-zm-signature"
	HeaderTimestamp = "x-zm-request-timestamp"
)

// Sessions is what the server needs from the session controller.
type Sessions interface {
	HandleEvent(ev session.WebhookEvent) error
	Sessions() []session.Snapshot
	Lookup(sessionID string) (session.Snapshot, bool)
}

// Options configures the HTTP surface.
type Options struct {
	WebhookSecretToken string
	SDKKey             string
	SDKSecret          string
	// MetricsHandler serves /metrics; nil disables the route.
	MetricsHandler http.Handler
}

// Server is the fiber application.
type Server struct {
	app      *fiber.App
	opts     Options
	sessions Sessions
	feed     *output.LiveFeed
	log      *slog.Logger
	metrics  *metrics.Metrics
}

type jwtRequest struct {
	SessionName string `json:"sessionName"`
	Role        int    `json:"role"`
}

// New builds the server and registers its routes.
func New(opts Options, sessions Sessions, feed *output.LiveFeed, log *slog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
		opts:     opts,
		sessions: sessions,
		feed:     feed,
		log:      log.With("component", "http"),
		metrics:  m,
	}
	s.routes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.log.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(cors.New())
	s.app.Use(s.logRequests)

	s.app.Post("/webhook", s.handleWebhook)
	s.app.Post("/jwt", s.handleJWT)
	s.app.Get("/sessions", s.handleSessions)
	s.app.Get("/sessions/:id", s.handleSession)
	s.app.Get("/healthz", s.handleHealth)
	if s.opts.MetricsHandler != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.opts.MetricsHandler))
	}

	s.app.Use("/transcript/live", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/transcript/live", websocket.New(func(conn *websocket.Conn) {
		s.feed.Serve(conn)
	}))
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug("request", "method", c.Method(), "path", c.Path(),
		"status", c.Response().StatusCode(), "took", time.Since(start))
	return err
}

func (s *Server) handleWebhook(c *fiber.Ctx) error {
	body := c.Body()
	if !signer.VerifyWebhook(s.opts.WebhookSecretToken, c.Get(HeaderTimestamp), body, c.Get(HeaderSignature)) {
		s.metrics.WebhooksRejected.Inc()
		s.log.Warn("rejecting webhook with invalid signature", "ip", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
	}

	ev, err := session.ParseEvent(body)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	s.log.Info("webhook received", "event", ev.Event)

	if ev.Event == session.EventURLValidation {
		var p session.ValidationPayload
		if err := ev.DecodePayload(&p); err != nil || p.PlainToken == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "plainToken is required"})
		}
		resp, err := signer.Challenge(s.opts.WebhookSecretToken, p.PlainToken)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to sign challenge"})
		}
		return c.JSON(resp)
	}

	if err := s.sessions.HandleEvent(ev); err != nil {
		if errors.Is(err, types.ErrMalformedMessage) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		s.log.Error("webhook handling failed", "event", ev.Event, "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "session not started"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleJWT(c *fiber.Ctx) error {
	req := jwtRequest{Role: signer.RoleHost}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.SessionName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Session name is required"})
	}
	token, err := signer.SessionToken(signer.TokenClaims{
		AppKey:      s.opts.SDKKey,
		SessionName: req.SessionName,
		Role:        req.Role,
	}, s.opts.SDKSecret)
	if err != nil {
		s.log.Error("session token signing failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to sign token"})
	}
	return c.JSON(fiber.Map{"jwt": token})
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	return c.JSON(s.sessions.Sessions())
}

func (s *Server) handleSession(c *fiber.Ctx) error {
	snap, ok := s.sessions.Lookup(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	return c.JSON(snap)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": len(s.sessions.Sessions()),
		"viewers":  s.feed.Subscribers(),
	})
}
