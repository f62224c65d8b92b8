// Package web serves a local JSON monitor for the rider: the current
// robot snapshot over REST and live telemetry over a websocket.
package web

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/riderbot/go-rider/internal/log"
	"github.com/riderbot/go-rider/pkg/control"
	"github.com/riderbot/go-rider/pkg/hub"
	"github.com/riderbot/go-rider/pkg/protocol"
	"github.com/riderbot/go-rider/pkg/session"
)

// Sessions is the session manager surface the monitor reads.
type Sessions interface {
	List() []session.Info
	Count() int
}

// Server is the monitor HTTP server. It doubles as a telemetry
// Publisher: every payload is cached for late-joining clients and
// broadcast to the websocket hub.
type Server struct {
	app  *fiber.App
	port string

	snapshot func() control.Snapshot
	sessions Sessions

	telemetryHub *hub.Hub

	mu          sync.RWMutex
	lastStatus  *protocol.StatusPayload
	lastBattery *protocol.BatteryPayload
	lastIMU     *protocol.IMUPayload
}

// envelope wraps a telemetry payload with its stream name so one
// websocket carries all three.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewServer creates the monitor server.
func NewServer(port string, snapshot func() control.Snapshot, sessions Sessions) *Server {
	s := &Server{
		port:         port,
		snapshot:     snapshot,
		sessions:     sessions,
		telemetryHub: hub.New("telemetry"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "rider monitor",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/sessions", s.handleSessions)
	api.Get("/telemetry", s.handleTelemetry)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/telemetry", websocket.New(s.handleTelemetryWS))

	s.app = app
	return s
}

// Start runs the hub and listens. Blocks until Shutdown.
func (s *Server) Start() error {
	log.Info("monitor listening", "addr", "http://localhost:"+s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// Hub exposes the telemetry hub so main can run its loop.
func (s *Server) Hub() *hub.Hub {
	return s.telemetryHub
}

// PublishStatus implements telemetry.Publisher.
func (s *Server) PublishStatus(p protocol.StatusPayload) {
	s.mu.Lock()
	s.lastStatus = &p
	s.mu.Unlock()
	s.broadcast("status", p)
}

// PublishBattery implements telemetry.Publisher.
func (s *Server) PublishBattery(p protocol.BatteryPayload) {
	s.mu.Lock()
	s.lastBattery = &p
	s.mu.Unlock()
	s.broadcast("battery", p)
}

// PublishIMU implements telemetry.Publisher.
func (s *Server) PublishIMU(p protocol.IMUPayload) {
	s.mu.Lock()
	s.lastIMU = &p
	s.mu.Unlock()
	s.broadcast("imu", p)
}

func (s *Server) broadcast(stream string, data any) {
	if err := s.telemetryHub.BroadcastJSON(envelope{Type: stream, Data: data}); err != nil {
		log.Error("broadcast telemetry", "stream", stream, "error", err)
	}
}
