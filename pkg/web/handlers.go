package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/riderbot/go-rider/pkg/hub"
	"github.com/riderbot/go-rider/pkg/protocol"
)

// statusResponse is the REST view of the robot: the arbiter snapshot
// plus session bookkeeping.
type statusResponse struct {
	Timestamp              float64 `json:"timestamp"`
	Mode                   string  `json:"mode"`
	SpeedScale             float64 `json:"speed_scale"`
	RollBalanceEnabled     bool    `json:"roll_balance_enabled"`
	PerformanceModeEnabled bool    `json:"performance_mode_enabled"`
	CameraEnabled          bool    `json:"camera_enabled"`
	ControllerConnected    bool    `json:"controller_connected"`
	Height                 int     `json:"height"`
	MovementX              int     `json:"movement_x"`
	MovementY              int     `json:"movement_y"`
	ConnectionStatus       string  `json:"connection_status"`
	Sessions               int     `json:"sessions"`
}

// handleStatus returns the current robot snapshot.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	snap := s.snapshot()
	return c.JSON(statusResponse{
		Timestamp:              protocol.Now(),
		Mode:                   snap.Mode.String(),
		SpeedScale:             snap.SpeedScale,
		RollBalanceEnabled:     snap.RollBalanceEnabled,
		PerformanceModeEnabled: snap.PerformanceModeEnabled,
		CameraEnabled:          snap.CameraEnabled,
		ControllerConnected:    snap.ControllerConnected,
		Height:                 snap.Height,
		MovementX:              snap.MovementX,
		MovementY:              snap.MovementY,
		ConnectionStatus:       snap.ConnectionStatus,
		Sessions:               s.sessions.Count(),
	})
}

// handleSessions returns the remote client sessions.
func (s *Server) handleSessions(c *fiber.Ctx) error {
	return c.JSON(s.sessions.List())
}

// handleTelemetry returns the last payload seen on each stream, for
// clients that want a poll instead of a websocket.
func (s *Server) handleTelemetry(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.JSON(fiber.Map{
		"status":  s.lastStatus,
		"battery": s.lastBattery,
		"imu":     s.lastIMU,
	})
}

// handleTelemetryWS streams telemetry envelopes. The latest cached
// payloads are sent first so a new client renders immediately.
func (s *Server) handleTelemetryWS(conn *websocket.Conn) {
	s.mu.RLock()
	if s.lastStatus != nil {
		conn.WriteJSON(envelope{Type: "status", Data: s.lastStatus})
	}
	if s.lastBattery != nil {
		conn.WriteJSON(envelope{Type: "battery", Data: s.lastBattery})
	}
	if s.lastIMU != nil {
		conn.WriteJSON(envelope{Type: "imu", Data: s.lastIMU})
	}
	s.mu.RUnlock()

	hub.NewClient(s.telemetryHub, conn).Run()
}
