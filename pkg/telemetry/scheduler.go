// Package telemetry publishes periodic status, battery, and orientation
// snapshots on three independent cadences.
//
// Each producer is its own cancellable goroutine. A failed sensor read
// logs and skips that tick; it never halts the cadence and never
// propagates to the caller.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/riderbot/go-rider/internal/log"
	"github.com/riderbot/go-rider/pkg/control"
	"github.com/riderbot/go-rider/pkg/gateway"
	"github.com/riderbot/go-rider/pkg/protocol"
)

// Reader is the read-only sensor surface of the actuator gateway.
// Reads may happen concurrently with command writes.
type Reader interface {
	ReadBattery() (int, error)
	ReadOrientation() (gateway.Orientation, error)
}

// Publisher receives finished telemetry payloads. Implemented by the
// bus transport adapter and the local web monitor.
type Publisher interface {
	PublishStatus(protocol.StatusPayload)
	PublishBattery(protocol.BatteryPayload)
	PublishIMU(protocol.IMUPayload)
}

// Fanout broadcasts each payload to several publishers.
type Fanout []Publisher

func (f Fanout) PublishStatus(p protocol.StatusPayload) {
	for _, pub := range f {
		pub.PublishStatus(p)
	}
}

func (f Fanout) PublishBattery(p protocol.BatteryPayload) {
	for _, pub := range f {
		pub.PublishBattery(p)
	}
}

func (f Fanout) PublishIMU(p protocol.IMUPayload) {
	for _, pub := range f {
		pub.PublishIMU(p)
	}
}

// Config carries the scheduler's cadences and battery thresholds.
type Config struct {
	StatusInterval      time.Duration // default 2s
	BatteryInterval     time.Duration // default 10s
	OrientationInterval time.Duration // default 500ms

	LowThreshold      int // battery percent, default 15
	CriticalThreshold int // battery percent, default 5
	MaxReadFailures   int // consecutive failures before escalation, default 3
}

func (c *Config) applyDefaults() {
	if c.StatusInterval <= 0 {
		c.StatusInterval = 2 * time.Second
	}
	if c.BatteryInterval <= 0 {
		c.BatteryInterval = 10 * time.Second
	}
	if c.OrientationInterval <= 0 {
		c.OrientationInterval = 500 * time.Millisecond
	}
	if c.LowThreshold <= 0 {
		c.LowThreshold = 15
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = 5
	}
	if c.MaxReadFailures <= 0 {
		c.MaxReadFailures = 3
	}
}

// Scheduler runs the three telemetry producers.
type Scheduler struct {
	snapshot func() control.Snapshot
	sensors  Reader
	metrics  gateway.MetricsReader
	pub      Publisher
	cfg      Config

	demand chan struct{} // on-demand battery publishes

	// Battery cache, shared between the periodic and on-demand paths.
	batteryMu    sync.Mutex
	lastLevel    int
	haveLevel    bool
	readFailures int
	prevHardware int // previous hardware reading, -1 before the first
}

// New creates a Scheduler. snapshot provides consistent RobotState
// copies (the Arbiter's Snapshot method).
func New(snapshot func() control.Snapshot, sensors Reader, metrics gateway.MetricsReader, pub Publisher, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		snapshot: snapshot,
		sensors:  sensors,
		metrics:  metrics,
		pub:      pub,
		cfg:      cfg,
		demand:   make(chan struct{}, 1),

		prevHardware: -1,
	}
}

// Run starts the three producers and blocks until the context is
// cancelled and all of them have stopped.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		s.loop(ctx, s.cfg.StatusInterval, s.publishStatus)
	}()
	go func() {
		defer wg.Done()
		s.batteryLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, s.cfg.OrientationInterval, s.publishOrientation)
	}()

	wg.Wait()
}

// RequestBattery triggers an on-demand battery publish. Coalesces with
// a pending request.
func (s *Scheduler) RequestBattery() {
	select {
	case s.demand <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

func (s *Scheduler) batteryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.BatteryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishBattery()
		case <-s.demand:
			s.publishBattery()
		}
	}
}

// publishStatus publishes the RobotState snapshot with host CPU
// metrics. A failed CPU read zeroes the CPU fields rather than
// dropping the whole status.
func (s *Scheduler) publishStatus() {
	snap := s.snapshot()

	metrics, err := s.metrics.ReadSystemMetrics()
	if err != nil {
		log.Warn("cpu metrics read failed", "error", err)
		metrics = gateway.SystemMetrics{}
	}

	s.pub.PublishStatus(protocol.StatusPayload{
		Timestamp:              protocol.Now(),
		SpeedScale:             snap.SpeedScale,
		RollBalanceEnabled:     snap.RollBalanceEnabled,
		PerformanceModeEnabled: snap.PerformanceModeEnabled,
		CameraEnabled:          snap.CameraEnabled,
		ControllerConnected:    snap.ControllerConnected,
		Height:                 snap.Height,
		ConnectionStatus:       snap.ConnectionStatus,
		CPUPercent:             metrics.CPUPercent,
		CPULoad1Min:            metrics.CPULoad1Min,
	})
}

// publishBattery reads the battery and publishes a classified reading.
// Read failures fall back to the cached level tagged "estimated"; with
// no cache yet the tick is skipped entirely.
func (s *Scheduler) publishBattery() {
	level, source, ok := s.readBattery()
	if !ok {
		return
	}

	s.pub.PublishBattery(protocol.BatteryPayload{
		Timestamp: protocol.Now(),
		Level:     level,
		Status:    s.classify(level, source),
		Source:    source,
	})
}

// readBattery returns the level to publish, its source tag, and
// whether anything can be published this tick.
func (s *Scheduler) readBattery() (int, string, bool) {
	level, err := s.sensors.ReadBattery()

	s.batteryMu.Lock()
	defer s.batteryMu.Unlock()

	if err != nil {
		s.readFailures++
		if !s.haveLevel {
			log.Warn("battery read failed with no cached value, skipping tick", "error", err)
			return 0, "", false
		}
		if s.readFailures == s.cfg.MaxReadFailures+1 {
			log.Warn("battery reads consistently failing, serving cached value",
				"failures", s.readFailures, "cached", s.lastLevel)
		} else {
			log.Debug("battery read failed, serving cached value",
				"failures", s.readFailures, "cached", s.lastLevel, "error", err)
		}
		return s.lastLevel, protocol.SourceEstimated, true
	}

	level = clampLevel(level)
	s.readFailures = 0
	s.lastLevel = level
	s.haveLevel = true
	return level, protocol.SourceHardware, true
}

// classify maps a level to a battery status. A hardware reading that
// jumped up meaningfully since the previous one means charging.
func (s *Scheduler) classify(level int, source string) string {
	if source == protocol.SourceHardware && s.consumeChargeHint(level) {
		return protocol.BatteryCharging
	}
	if level < s.cfg.CriticalThreshold {
		return protocol.BatteryCritical
	}
	if level < s.cfg.LowThreshold {
		return protocol.BatteryLow
	}
	return protocol.BatteryNormal
}

// consumeChargeHint reports whether the level rose at least two points
// since the previous hardware reading.
func (s *Scheduler) consumeChargeHint(level int) bool {
	s.batteryMu.Lock()
	defer s.batteryMu.Unlock()

	rose := s.prevHardware >= 0 && level >= s.prevHardware+2
	s.prevHardware = level
	return rose
}

// publishOrientation publishes an IMU reading, or skips the tick when
// the read fails.
func (s *Scheduler) publishOrientation() {
	o, err := s.sensors.ReadOrientation()
	if err != nil {
		log.Debug("orientation read failed, skipping tick", "error", err)
		return
	}

	s.pub.PublishIMU(protocol.IMUPayload{
		Timestamp: protocol.Now(),
		Roll:      o.Roll,
		Pitch:     o.Pitch,
		Yaw:       o.Yaw,
	})
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}
