// Package control owns the robot's mutable state and the arbitration
// between the local physical controller and remote bus clients.
//
// RobotState has exactly one writer — the Arbiter's dispatch loop —
// and all readers take consistent snapshot copies under the lock.
package control

import "sync"

// Defaults reported by the hardware at startup and restored by a
// reset command.
const (
	DefaultSpeedScale = 1.0
	DefaultHeight     = 85
)

// Snapshot is a consistent, read-only copy of RobotState for telemetry.
type Snapshot struct {
	SpeedScale             float64
	RollBalanceEnabled     bool
	PerformanceModeEnabled bool
	CameraEnabled          bool
	Height                 int
	MovementX              int
	MovementY              int
	ControllerConnected    bool
	ConnectionStatus       string
	Mode                   Mode
}

// robotState is the process-wide mutable record. It lives for the
// whole process; only the Arbiter mutates it.
type robotState struct {
	mu sync.RWMutex

	speedScale          float64
	rollBalance         bool
	performance         bool
	camera              bool
	height              int
	movementX           int
	movementY           int
	controllerConnected bool
	connectionStatus    string
	mode                Mode
}

func newRobotState(connectionStatus string) *robotState {
	return &robotState{
		speedScale:       DefaultSpeedScale,
		height:           DefaultHeight,
		connectionStatus: connectionStatus,
	}
}

// snapshot copies all fields under the read lock. The lock is held
// only for the copy, never for a publish.
func (s *robotState) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		SpeedScale:             s.speedScale,
		RollBalanceEnabled:     s.rollBalance,
		PerformanceModeEnabled: s.performance,
		CameraEnabled:          s.camera,
		Height:                 s.height,
		MovementX:              s.movementX,
		MovementY:              s.movementY,
		ControllerConnected:    s.controllerConnected,
		ConnectionStatus:       s.connectionStatus,
		Mode:                   s.mode,
	}
}

func (s *robotState) update(apply func(*robotState)) {
	s.mu.Lock()
	apply(s)
	s.mu.Unlock()
}
