// Package local feeds the physical controller into the command
// pipeline. The gamepad SDK itself is injected as a Source of events;
// the Pump converts events into validated commands with local origin,
// which arbitration always favors over remote clients.
package local

import (
	"context"

	"github.com/riderbot/go-rider/internal/log"
	"github.com/riderbot/go-rider/pkg/command"
	"github.com/riderbot/go-rider/pkg/control"
	"github.com/riderbot/go-rider/pkg/protocol"
)

// EventKind identifies a controller event.
type EventKind int

const (
	EventAxis EventKind = iota
	EventSpeedUp
	EventSpeedDown
	EventHeightUp
	EventHeightDown
	EventToggleRollBalance
	EventTogglePerformance
	EventToggleCamera
	EventEmergencyStop
	EventConnected
	EventDisconnected
)

// Event is one controller input. X and Y are only meaningful for
// EventAxis, in the same -100..100 range remote clients use.
type Event struct {
	Kind EventKind
	X, Y int
}

// Source delivers controller events. The channel closing means the
// controller driver has shut down.
type Source interface {
	Events() <-chan Event
}

// Controls is the arbiter surface the pump drives.
type Controls interface {
	Submit(command.Command) error
	Snapshot() control.Snapshot
	SetControllerConnected(connected bool)
}

// Step sizes for the incremental speed and height buttons.
const (
	speedStep  = 0.1
	heightStep = 5
)

// Pump translates controller events into commands.
type Pump struct {
	source    Source
	validator *command.Validator
	controls  Controls
}

// NewPump creates a Pump.
func NewPump(source Source, validator *command.Validator, controls Controls) *Pump {
	return &Pump{source: source, validator: validator, controls: controls}
}

// Run consumes events until the context is cancelled or the source
// closes. A closed source is treated as a controller disconnect.
func (p *Pump) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.source.Events():
			if !ok {
				p.disconnected()
				return
			}
			p.handle(ev)
		}
	}
}

func (p *Pump) handle(ev Event) {
	switch ev.Kind {
	case EventAxis:
		p.submitMovement(ev.X, ev.Y)

	case EventSpeedUp:
		p.submitSpeed(p.controls.Snapshot().SpeedScale + speedStep)
	case EventSpeedDown:
		p.submitSpeed(p.controls.Snapshot().SpeedScale - speedStep)

	case EventHeightUp:
		p.submit(p.validator.Height(p.controls.Snapshot().Height+heightStep, command.Local))
	case EventHeightDown:
		p.submit(p.validator.Height(p.controls.Snapshot().Height-heightStep, command.Local))

	case EventToggleRollBalance:
		p.submitSetting(protocol.ActionToggleRollBalance)
	case EventTogglePerformance:
		p.submitSetting(protocol.ActionTogglePerformance)

	case EventToggleCamera:
		cmd, err := p.validator.Camera(protocol.CameraPayload{Action: protocol.ActionToggleCamera}, command.Local)
		if err != nil {
			log.Error("camera toggle rejected", "error", err)
			return
		}
		p.submit(cmd)

	case EventEmergencyStop:
		log.Warn("emergency stop button pressed")
		p.submit(command.EmergencyStop(command.Local))

	case EventConnected:
		log.Info("controller connected")
		p.controls.SetControllerConnected(true)

	case EventDisconnected:
		p.disconnected()
	}
}

// disconnected marks the controller gone and stops any motion it was
// commanding.
func (p *Pump) disconnected() {
	log.Warn("controller disconnected, stopping")
	p.controls.SetControllerConnected(false)
	p.submit(command.Stop(command.Local))
}

func (p *Pump) submitMovement(x, y int) {
	cmd, err := p.validator.Movement(protocol.MovementPayload{
		X: float64(x),
		Y: float64(y),
	}, command.Local)
	if err != nil {
		log.Error("movement rejected", "error", err)
		return
	}
	p.submit(cmd)
}

func (p *Pump) submitSpeed(scale float64) {
	cmd, err := p.validator.Settings(protocol.SettingsPayload{
		Action: protocol.ActionChangeSpeed,
		Value:  &scale,
	}, command.Local)
	if err != nil {
		log.Error("speed change rejected", "error", err)
		return
	}
	p.submit(cmd)
}

func (p *Pump) submitSetting(action string) {
	cmd, err := p.validator.Settings(protocol.SettingsPayload{Action: action}, command.Local)
	if err != nil {
		log.Error("setting rejected", "action", action, "error", err)
		return
	}
	p.submit(cmd)
}

func (p *Pump) submit(cmd command.Command) {
	if err := p.controls.Submit(cmd); err != nil {
		log.Warn("controller command not queued", "kind", cmd.Kind, "error", err)
	}
}
