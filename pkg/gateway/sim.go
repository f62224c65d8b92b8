package gateway

import (
	"math"
	"sync"
	"time"
)

// SimDriver is an in-memory driver for running the control plane
// without hardware. It mimics the rider's observable behavior: settings
// stick, the battery drains slowly, and the orientation wobbles around
// level while balancing.
type SimDriver struct {
	mu sync.Mutex

	x, y        int
	height      int
	rollBalance bool
	performance bool
	camera      bool
	speedScale  float64

	started time.Time
	closed  bool
}

// NewSimDriver creates a simulated driver with hardware-like defaults.
func NewSimDriver() *SimDriver {
	return &SimDriver{
		height:     85,
		speedScale: 1.0,
		started:    time.Now(),
	}
}

func (s *SimDriver) Move(x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnavailable
	}
	s.x, s.y = x, y
	return nil
}

func (s *SimDriver) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnavailable
	}
	s.x, s.y = 0, 0
	return nil
}

func (s *SimDriver) SetHeight(height int) error {
	return s.set(func() { s.height = height })
}

func (s *SimDriver) SetRollBalance(enabled bool) error {
	return s.set(func() { s.rollBalance = enabled })
}

func (s *SimDriver) SetPerformanceMode(enabled bool) error {
	return s.set(func() { s.performance = enabled })
}

func (s *SimDriver) SetSpeedScale(scale float64) error {
	return s.set(func() { s.speedScale = scale })
}

func (s *SimDriver) SetCameraEnabled(enabled bool) error {
	return s.set(func() { s.camera = enabled })
}

// ReadBattery reports a full battery draining about one percent per
// ten minutes of process uptime.
func (s *SimDriver) ReadBattery() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrUnavailable
	}
	drained := int(time.Since(s.started) / (10 * time.Minute))
	level := 100 - drained
	if level < 0 {
		level = 0
	}
	return level, nil
}

// ReadOrientation reports a gentle wobble around level, the signature
// of a two-wheel robot holding its balance.
func (s *SimDriver) ReadOrientation() (Orientation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Orientation{}, ErrUnavailable
	}
	elapsed := time.Since(s.started).Seconds()
	return Orientation{
		Roll:  1.5 * math.Sin(elapsed/3),
		Pitch: 0.8 * math.Sin(elapsed/5),
		Yaw:   float64(s.x) / 10,
	}, nil
}

// Movement returns the last applied movement, for tests and the
// monitoring surface.
func (s *SimDriver) Movement() (x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x, s.y
}

func (s *SimDriver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SimDriver) set(apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnavailable
	}
	apply()
	return nil
}
