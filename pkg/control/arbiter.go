package control

import (
	"context"
	"errors"
	"time"

	"github.com/riderbot/go-rider/internal/log"
	"github.com/riderbot/go-rider/pkg/command"
	"github.com/riderbot/go-rider/pkg/protocol"
)

// Mode is the arbitration state: who is allowed to command the robot.
type Mode int

const (
	Idle Mode = iota
	LocalControl
	RemoteControl
)

func (m Mode) String() string {
	switch m {
	case LocalControl:
		return "local"
	case RemoteControl:
		return "remote"
	default:
		return "idle"
	}
}

// ErrRejected is returned to a waiting submitter when arbitration
// refuses a remote command while the local controller is active.
// Remote clients are never told explicitly; the next status publish is
// the acknowledgment mechanism.
var ErrRejected = errors.New("command rejected by arbitration")

// ErrQueueFull is returned when the bounded command queue overflows.
var ErrQueueFull = errors.New("command queue full")

// Actuator is the write surface of the gateway the Arbiter drives.
type Actuator interface {
	Move(x, y int) error
	Stop() error
	SetHeight(height int) error
	SetRollBalance(enabled bool) error
	SetPerformanceMode(enabled bool) error
	SetSpeedScale(scale float64) error
	SetCameraEnabled(enabled bool) error
}

// Config carries the Arbiter's tunables.
type Config struct {
	// GraceWindow is how long the local controller must be idle before
	// a remote command may take over.
	GraceWindow time.Duration
	// QueueSize bounds the pending command queue.
	QueueSize int
	// OnBatteryRequest is invoked when a battery request command is
	// dispatched; the telemetry scheduler hooks an on-demand publish here.
	OnBatteryRequest func()
}

type pending struct {
	cmd  command.Command
	done chan error // nil for fire-and-forget submissions
}

// Arbiter serializes all commands onto the actuator and decides, per
// command, whether its origin is currently privileged. It is the single
// writer of RobotState.
type Arbiter struct {
	actuator Actuator
	state    *robotState
	cfg      Config

	queue  []pending
	wake   chan struct{}
	queueM chan struct{} // 1-token semaphore guarding queue

	// lastLocal is only touched by the dispatch loop; the arbitration
	// mode lives in robotState so snapshots stay consistent.
	lastLocal time.Time

	now func() time.Time
}

// NewArbiter creates an Arbiter. Zero config fields get defaults
// (2s grace window, queue of 64).
func NewArbiter(actuator Actuator, cfg Config) *Arbiter {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	a := &Arbiter{
		actuator: actuator,
		state:    newRobotState(protocol.ConnDisconnected),
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
		queueM:   make(chan struct{}, 1),
		now:      time.Now,
	}
	a.queueM <- struct{}{}
	return a
}

// Submit queues a command for dispatch. Returns ErrQueueFull when the
// bounded queue cannot accept it. A newer Move from the same origin
// overwrites a Move still pending execution instead of queueing behind
// it; waited moves (safety injections) are exempt and always execute.
func (a *Arbiter) Submit(cmd command.Command) error {
	return a.enqueue(pending{cmd: cmd})
}

// SubmitWait queues a command and blocks until it has been dispatched
// (or rejected), the context expires, or the queue overflows. The
// session manager's safety injections use this to bound the shutdown
// sequence.
func (a *Arbiter) SubmitWait(ctx context.Context, cmd command.Command) error {
	done := make(chan error, 1)
	if err := a.enqueue(pending{cmd: cmd, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Arbiter) enqueue(p pending) error {
	<-a.queueM
	defer func() { a.queueM <- struct{}{} }()

	if p.cmd.Kind == command.KindMove {
		for i := range a.queue {
			q := &a.queue[i]
			// A waited move is a safety injection and must reach the
			// actuator; only fire-and-forget moves are superseded.
			if q.cmd.Kind == command.KindMove && q.cmd.Origin == p.cmd.Origin && q.done == nil {
				*q = p
				a.notify()
				return nil
			}
		}
	}

	if len(a.queue) >= a.cfg.QueueSize {
		return ErrQueueFull
	}
	a.queue = append(a.queue, p)
	a.notify()
	return nil
}

func (a *Arbiter) notify() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run dispatches queued commands until the context is cancelled.
// This loop is the only goroutine that touches the actuator's write
// surface or mutates RobotState.
func (a *Arbiter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain(ctx.Err())
			return
		case <-a.wake:
			for {
				p, ok := a.pop()
				if !ok {
					break
				}
				err := a.dispatch(p.cmd)
				if p.done != nil {
					p.done <- err
				} else if err != nil && !errors.Is(err, ErrRejected) {
					log.Warn("command failed", "kind", p.cmd.Kind, "origin", p.cmd.Origin.String(), "error", err)
				}
			}
		}
	}
}

func (a *Arbiter) pop() (pending, bool) {
	<-a.queueM
	defer func() { a.queueM <- struct{}{} }()

	if len(a.queue) == 0 {
		return pending{}, false
	}
	p := a.queue[0]
	a.queue = a.queue[1:]
	return p, true
}

func (a *Arbiter) drain(err error) {
	<-a.queueM
	defer func() { a.queueM <- struct{}{} }()

	for _, p := range a.queue {
		if p.done != nil {
			p.done <- err
		}
	}
	a.queue = nil
}

// dispatch applies one command: arbitration decision, then the
// serialized actuator call, then the state mutation.
func (a *Arbiter) dispatch(cmd command.Command) error {
	switch cmd.Kind {
	case command.KindEmergencyStop:
		return a.emergencyStop(cmd)
	case command.KindBatteryRequest:
		// Read-only, bypasses arbitration entirely.
		if a.cfg.OnBatteryRequest != nil {
			a.cfg.OnBatteryRequest()
		}
		return nil
	}

	if !a.admit(cmd.Origin) {
		log.Debug("remote command held off by local controller",
			"kind", cmd.Kind, "client", cmd.Origin.ClientID())
		return ErrRejected
	}

	switch cmd.Kind {
	case command.KindMove:
		return a.move(cmd)
	case command.KindSetting:
		return a.setting(cmd)
	case command.KindCameraToggle:
		return a.cameraToggle()
	case command.KindReset:
		return a.reset()
	default:
		return ErrRejected
	}
}

// admit decides whether the command's origin currently holds control,
// and records the resulting arbitration mode. The local controller has
// hardware presence priority: it is always admitted and wins ties.
// Remote origins are admitted unless local control is active and the
// local source has sent a command within the grace window.
func (a *Arbiter) admit(origin command.Origin) bool {
	now := a.now()

	mode := a.state.snapshot().Mode

	if !origin.IsRemote() {
		a.setMode(LocalControl)
		a.lastLocal = now
		return true
	}

	if mode == LocalControl && now.Sub(a.lastLocal) < a.cfg.GraceWindow {
		return false
	}
	if mode != RemoteControl {
		log.Info("remote takeover", "previous_mode", mode.String())
	}
	a.setMode(RemoteControl)
	return true
}

func (a *Arbiter) move(cmd command.Command) error {
	if err := a.actuator.Move(cmd.X, cmd.Y); err != nil {
		return err
	}
	a.state.update(func(s *robotState) {
		s.movementX = cmd.X
		s.movementY = cmd.Y
	})
	return nil
}

func (a *Arbiter) setting(cmd command.Command) error {
	switch cmd.Action {
	case command.SettingSpeed:
		if err := a.actuator.SetSpeedScale(cmd.Value); err != nil {
			return err
		}
		a.state.update(func(s *robotState) { s.speedScale = cmd.Value })

	case command.SettingRollBalance:
		enabled := !a.state.snapshot().RollBalanceEnabled
		if err := a.actuator.SetRollBalance(enabled); err != nil {
			return err
		}
		a.state.update(func(s *robotState) { s.rollBalance = enabled })

	case command.SettingPerformance:
		enabled := !a.state.snapshot().PerformanceModeEnabled
		if err := a.actuator.SetPerformanceMode(enabled); err != nil {
			return err
		}
		a.state.update(func(s *robotState) { s.performance = enabled })

	case command.SettingHeight:
		height := int(cmd.Value)
		if err := a.actuator.SetHeight(height); err != nil {
			return err
		}
		a.state.update(func(s *robotState) { s.height = height })

	default:
		return ErrRejected
	}
	return nil
}

func (a *Arbiter) cameraToggle() error {
	enabled := !a.state.snapshot().CameraEnabled
	if err := a.actuator.SetCameraEnabled(enabled); err != nil {
		return err
	}
	a.state.update(func(s *robotState) { s.camera = enabled })
	return nil
}

// emergencyStop is accepted unconditionally from every origin. The
// state is zeroed even if the actuator call fails: the published state
// must never claim residual motion after an emergency stop.
func (a *Arbiter) emergencyStop(cmd command.Command) error {
	err := a.actuator.Stop()
	if err != nil {
		log.Error("emergency stop actuator call failed", "origin", cmd.Origin.String(), "error", err)
	}
	a.state.update(func(s *robotState) {
		s.movementX = 0
		s.movementY = 0
		s.mode = Idle
	})
	log.Info("emergency stop", "origin", cmd.Origin.String())
	return err
}

// reset restores hardware defaults, matching the robot's power-on state.
func (a *Arbiter) reset() error {
	if err := a.actuator.Stop(); err != nil {
		return err
	}
	if err := a.actuator.SetSpeedScale(DefaultSpeedScale); err != nil {
		return err
	}
	if err := a.actuator.SetRollBalance(false); err != nil {
		return err
	}
	if err := a.actuator.SetPerformanceMode(false); err != nil {
		return err
	}
	if err := a.actuator.SetHeight(DefaultHeight); err != nil {
		return err
	}
	a.state.update(func(s *robotState) {
		s.movementX = 0
		s.movementY = 0
		s.speedScale = DefaultSpeedScale
		s.rollBalance = false
		s.performance = false
		s.height = DefaultHeight
	})
	log.Info("robot reset to defaults")
	return nil
}

// Snapshot returns a consistent copy of RobotState plus the current
// arbitration mode.
func (a *Arbiter) Snapshot() Snapshot {
	return a.state.snapshot()
}

func (a *Arbiter) setMode(m Mode) {
	a.state.update(func(s *robotState) { s.mode = m })
}

// SetControllerConnected records local physical controller presence.
func (a *Arbiter) SetControllerConnected(connected bool) {
	a.state.update(func(s *robotState) { s.controllerConnected = connected })
}

// SetConnectionStatus records the remote connection status string
// published in status telemetry.
func (a *Arbiter) SetConnectionStatus(status string) {
	a.state.update(func(s *robotState) { s.connectionStatus = status })
}
