package protocol

// =============================================================================
// Robot → Client Payloads
// =============================================================================

// StatusPayload is published on TopicStatus every status interval.
type StatusPayload struct {
	Timestamp              float64 `json:"timestamp"`
	SpeedScale             float64 `json:"speed_scale"`
	RollBalanceEnabled     bool    `json:"roll_balance_enabled"`
	PerformanceModeEnabled bool    `json:"performance_mode_enabled"`
	CameraEnabled          bool    `json:"camera_enabled"`
	ControllerConnected    bool    `json:"controller_connected"`
	Height                 int     `json:"height"`
	ConnectionStatus       string  `json:"connection_status"`
	CPUPercent             float64 `json:"cpu_percent"`
	CPULoad1Min            float64 `json:"cpu_load_1min"`
}

// BatteryPayload is published on TopicBattery every battery interval
// and in response to a battery request.
type BatteryPayload struct {
	Timestamp float64 `json:"timestamp"`
	Level     int     `json:"level"`  // 0-100 percent
	Status    string  `json:"status"` // normal|low|critical|charging
	Source    string  `json:"source"` // hardware|estimated
}

// IMUPayload is published on TopicIMU at the orientation interval.
type IMUPayload struct {
	Timestamp float64 `json:"timestamp"`
	Roll      float64 `json:"roll"`
	Pitch     float64 `json:"pitch"`
	Yaw       float64 `json:"yaw"`
}

// ServerStatusPayload announces process lifecycle transitions
// (starting, shutting_down) on TopicServerStatus.
type ServerStatusPayload struct {
	Timestamp float64 `json:"timestamp"`
	Status    string  `json:"status"`
	Message   string  `json:"message,omitempty"`
}

// EventPayload is a one-shot event published under TopicEvents,
// e.g. an emergency stop triggered by a disconnect.
type EventPayload struct {
	Timestamp float64        `json:"timestamp"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
}

// =============================================================================
// Client → Robot Payloads
// =============================================================================

// MovementPayload arrives on TopicControlMovement.
// X is left/right (-100..100), Y is backward/forward (-100..100).
// Values outside the range are clamped by the validator, never rejected.
type MovementPayload struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp float64 `json:"timestamp"`
	Source    string  `json:"source,omitempty"`
}

// SettingsPayload arrives on TopicControlSettings.
// Value is only meaningful for ActionChangeSpeed.
type SettingsPayload struct {
	Action    string   `json:"action"`
	Value     *float64 `json:"value,omitempty"`
	Timestamp float64  `json:"timestamp"`
	Source    string   `json:"source,omitempty"`
}

// CameraPayload arrives on TopicControlCamera.
type CameraPayload struct {
	Action    string  `json:"action"`
	Timestamp float64 `json:"timestamp"`
	Source    string  `json:"source,omitempty"`
}

// SystemPayload arrives on TopicControlSystem.
type SystemPayload struct {
	Action    string  `json:"action"`
	Timestamp float64 `json:"timestamp"`
	Source    string  `json:"source,omitempty"`
}

// BatteryRequestPayload arrives on TopicRequestBattery.
type BatteryRequestPayload struct {
	Action    string  `json:"action"`
	Timestamp float64 `json:"timestamp"`
	Source    string  `json:"source,omitempty"`
}

// HeartbeatPayload arrives on TopicClientHeartbeat and only refreshes
// the client's activity clock.
type HeartbeatPayload struct {
	Timestamp float64 `json:"timestamp"`
	Source    string  `json:"source,omitempty"`
}

// DisconnectPayload arrives on TopicClientDisconnect when a client
// announces it is going away.
type DisconnectPayload struct {
	Timestamp float64 `json:"timestamp"`
	Source    string  `json:"source,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}
