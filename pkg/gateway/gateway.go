package gateway

import (
	"fmt"
	"sync"
)

// Gateway wraps a Driver and serializes every write call behind one
// mutex. Sensor reads bypass the write lock; drivers are required to
// make reads safe against concurrent writes.
type Gateway struct {
	driver Driver

	writeMu sync.Mutex
	closed  bool
}

// New creates a Gateway around the given driver.
func New(driver Driver) (*Gateway, error) {
	if driver == nil {
		return nil, fmt.Errorf("gateway: nil driver")
	}
	return &Gateway{driver: driver}, nil
}

// Move applies a movement command.
func (g *Gateway) Move(x, y int) error {
	return g.write("move", func() error { return g.driver.Move(x, y) })
}

// Stop halts all movement immediately.
func (g *Gateway) Stop() error {
	return g.write("stop", func() error { return g.driver.Stop() })
}

// SetHeight adjusts the standing height.
func (g *Gateway) SetHeight(height int) error {
	return g.write("set height", func() error { return g.driver.SetHeight(height) })
}

// SetRollBalance toggles active roll stabilization.
func (g *Gateway) SetRollBalance(enabled bool) error {
	return g.write("set roll balance", func() error { return g.driver.SetRollBalance(enabled) })
}

// SetPerformanceMode toggles performance mode.
func (g *Gateway) SetPerformanceMode(enabled bool) error {
	return g.write("set performance mode", func() error { return g.driver.SetPerformanceMode(enabled) })
}

// SetSpeedScale sets the movement speed multiplier.
func (g *Gateway) SetSpeedScale(scale float64) error {
	return g.write("set speed scale", func() error { return g.driver.SetSpeedScale(scale) })
}

// SetCameraEnabled toggles the camera pipeline.
func (g *Gateway) SetCameraEnabled(enabled bool) error {
	return g.write("set camera", func() error { return g.driver.SetCameraEnabled(enabled) })
}

// ReadBattery returns the battery percentage (0-100).
func (g *Gateway) ReadBattery() (int, error) {
	level, err := g.driver.ReadBattery()
	if err != nil {
		return 0, fmt.Errorf("gateway: read battery: %w", err)
	}
	return level, nil
}

// ReadOrientation returns the current IMU reading.
func (g *Gateway) ReadOrientation() (Orientation, error) {
	o, err := g.driver.ReadOrientation()
	if err != nil {
		return Orientation{}, fmt.Errorf("gateway: read orientation: %w", err)
	}
	return o, nil
}

// Close releases the underlying driver. Further writes fail with
// ErrUnavailable.
func (g *Gateway) Close() error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	return g.driver.Close()
}

func (g *Gateway) write(op string, fn func() error) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if g.closed {
		return fmt.Errorf("gateway: %s: %w", op, ErrUnavailable)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("gateway: %s: %w", op, err)
	}
	return nil
}
