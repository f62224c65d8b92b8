package command

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/riderbot/go-rider/pkg/protocol"
)

// Declared ranges. Numeric fields outside them are clamped, never
// rejected; only unknown action strings drop a command.
const (
	MoveMin = -100
	MoveMax = 100

	SpeedMin = 0.1
	SpeedMax = 2.0

	HeightMin = 60
	HeightMax = 120

	DefaultSpeed = 1.0
)

// ErrUnknownAction is returned when an action string is not recognized.
// The command is dropped; there is no clamping for enums.
var ErrUnknownAction = errors.New("unknown action")

// Validator normalizes raw payloads into Commands. It keeps one piece
// of state: the last accepted wire timestamp per origin, used to detect
// non-monotonic client clocks. Safe for concurrent use.
type Validator struct {
	mu       sync.Mutex
	lastSeen map[Origin]time.Time

	now func() time.Time // injectable for tests
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{
		lastSeen: make(map[Origin]time.Time),
		now:      time.Now,
	}
}

// Movement validates a movement payload. Out-of-range axes are clamped;
// a missing y defaults to 0. Movement commands are idempotent, so stale
// timestamps are tolerated (re-stamped), not rejected.
func (v *Validator) Movement(p protocol.MovementPayload, origin Origin) (Command, error) {
	return Command{
		Kind:      KindMove,
		Origin:    origin,
		Timestamp: v.stamp(origin, p.Timestamp),
		X:         clampInt(int(p.X), MoveMin, MoveMax),
		Y:         clampInt(int(p.Y), MoveMin, MoveMax),
	}, nil
}

// Settings validates a settings payload. change_speed without a value
// defaults to 1.0; unrecognized actions yield ErrUnknownAction.
func (v *Validator) Settings(p protocol.SettingsPayload, origin Origin) (Command, error) {
	// Resolve the action before stamping: a dropped command must not
	// advance the origin's timestamp baseline.
	cmd := Command{Kind: KindSetting, Origin: origin}

	switch p.Action {
	case protocol.ActionToggleRollBalance:
		cmd.Action = SettingRollBalance
	case protocol.ActionTogglePerformance:
		cmd.Action = SettingPerformance
	case protocol.ActionChangeSpeed:
		value := DefaultSpeed
		if p.Value != nil {
			value = *p.Value
		}
		cmd.Action = SettingSpeed
		cmd.Value = clampFloat(value, SpeedMin, SpeedMax)
	default:
		return Command{}, fmt.Errorf("%w: settings action %q", ErrUnknownAction, p.Action)
	}

	cmd.Timestamp = v.stamp(origin, p.Timestamp)
	return cmd, nil
}

// Camera validates a camera payload.
func (v *Validator) Camera(p protocol.CameraPayload, origin Origin) (Command, error) {
	if p.Action != protocol.ActionToggleCamera {
		return Command{}, fmt.Errorf("%w: camera action %q", ErrUnknownAction, p.Action)
	}
	return Command{
		Kind:      KindCameraToggle,
		Origin:    origin,
		Timestamp: v.stamp(origin, p.Timestamp),
	}, nil
}

// System validates a system payload (emergency stop, reset).
func (v *Validator) System(p protocol.SystemPayload, origin Origin) (Command, error) {
	var kind Kind
	switch p.Action {
	case protocol.ActionEmergencyStop:
		kind = KindEmergencyStop
	case protocol.ActionResetRobot:
		kind = KindReset
	default:
		return Command{}, fmt.Errorf("%w: system action %q", ErrUnknownAction, p.Action)
	}
	return Command{Kind: kind, Origin: origin, Timestamp: v.stamp(origin, p.Timestamp)}, nil
}

// BatteryRequest validates a battery request payload. An empty action
// is tolerated; anything else must match.
func (v *Validator) BatteryRequest(p protocol.BatteryRequestPayload, origin Origin) (Command, error) {
	if p.Action != "" && p.Action != protocol.ActionRequestBattery {
		return Command{}, fmt.Errorf("%w: request action %q", ErrUnknownAction, p.Action)
	}
	return Command{
		Kind:      KindBatteryRequest,
		Origin:    origin,
		Timestamp: v.stamp(origin, p.Timestamp),
	}, nil
}

// Height builds a validated local height command. There is no wire
// action for height; only the physical controller adjusts it.
func (v *Validator) Height(height int, origin Origin) Command {
	return Command{
		Kind:      KindSetting,
		Origin:    origin,
		Timestamp: v.now(),
		Action:    SettingHeight,
		Value:     float64(clampInt(height, HeightMin, HeightMax)),
	}
}

// stamp resolves the effective command timestamp: the wire timestamp
// when present and monotonic versus the same origin's previous command,
// otherwise the receipt time.
func (v *Validator) stamp(origin Origin, wire float64) time.Time {
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()

	t := protocol.FromTimestamp(wire)
	if t.IsZero() || !t.After(v.lastSeen[origin]) {
		t = now
	}
	v.lastSeen[origin] = t
	return t
}

func clampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func clampFloat(f, min, max float64) float64 {
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}
