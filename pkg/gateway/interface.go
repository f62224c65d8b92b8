// Package gateway provides the boundary to the physical actuator driver.
//
// Small, focused interfaces are defined per concern so consumers depend
// only on what they use; Driver composes them for full hardware access.
// The Gateway wrapper serializes all write calls because the physical
// actuator accepts exactly one command stream.
package gateway

import "errors"

// ErrUnavailable is returned when the actuator cannot service a call.
// Callers skip the operation and retry on the next natural opportunity,
// never in a tight loop.
var ErrUnavailable = errors.New("actuator unavailable")

// Orientation is an IMU reading in degrees.
type Orientation struct {
	Roll  float64
	Pitch float64
	Yaw   float64
}

// SystemMetrics is a host CPU reading attached to status telemetry.
type SystemMetrics struct {
	CPUPercent  float64
	CPULoad1Min float64
}

// MotionDriver moves the robot. Move axes are in [-100, 100]:
// x is left/right (turning), y is backward/forward.
type MotionDriver interface {
	Move(x, y int) error
	Stop() error
}

// SettingsDriver changes persistent actuator settings.
type SettingsDriver interface {
	SetHeight(height int) error
	SetRollBalance(enabled bool) error
	SetPerformanceMode(enabled bool) error
	SetSpeedScale(scale float64) error
	SetCameraEnabled(enabled bool) error
}

// SensorDriver reads robot sensors. Implementations must be safe for
// reads concurrent with writes on the other interfaces.
type SensorDriver interface {
	ReadBattery() (int, error)
	ReadOrientation() (Orientation, error)
}

// MetricsReader reads host system metrics.
type MetricsReader interface {
	ReadSystemMetrics() (SystemMetrics, error)
}

// Driver is the composite interface a hardware SDK binding implements.
type Driver interface {
	MotionDriver
	SettingsDriver
	SensorDriver
	Close() error
}

// Ensure SimDriver implements Driver
var _ Driver = (*SimDriver)(nil)
