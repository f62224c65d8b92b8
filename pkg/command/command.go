// Package command defines the validated command model for the rider robot.
//
// Every input source — remote bus clients, the local physical controller,
// and the session manager's safety injections — is decoded into a Command
// exactly once at the validation boundary. Downstream code switches on
// Kind exhaustively instead of comparing wire strings.
package command

import (
	"fmt"
	"time"
)

// Kind identifies the command variant.
type Kind string

const (
	KindMove           Kind = "move"
	KindSetting        Kind = "setting"
	KindCameraToggle   Kind = "camera_toggle"
	KindEmergencyStop  Kind = "emergency_stop"
	KindBatteryRequest Kind = "battery_request"
	KindReset          Kind = "reset"
)

// SettingAction identifies which setting a KindSetting command changes.
type SettingAction string

const (
	SettingRollBalance SettingAction = "roll_balance"
	SettingPerformance SettingAction = "performance"
	SettingSpeed       SettingAction = "speed"

	// SettingHeight is only reachable from the local controller;
	// there is no wire action for it.
	SettingHeight SettingAction = "height"
)

// Origin is the logical source of a command: the local physical
// controller or a specific remote bus client.
type Origin struct {
	remote   bool
	clientID string
}

// Local is the origin of commands from the physical controller.
var Local = Origin{}

// Remote returns the origin for a remote client. An empty id is
// normalized to "client" so anonymous senders share one origin.
func Remote(clientID string) Origin {
	if clientID == "" {
		clientID = "client"
	}
	return Origin{remote: true, clientID: clientID}
}

// IsRemote reports whether the command came over the bus.
func (o Origin) IsRemote() bool { return o.remote }

// ClientID returns the remote client id, or "" for local origin.
func (o Origin) ClientID() string { return o.clientID }

// String implements fmt.Stringer for log output.
func (o Origin) String() string {
	if o.remote {
		return fmt.Sprintf("remote(%s)", o.clientID)
	}
	return "local"
}

// Command is an immutable, validated robot command.
// Fields beyond Kind/Origin/Timestamp are variant-specific:
// X/Y for KindMove, Action/Value for KindSetting.
type Command struct {
	Kind      Kind
	Origin    Origin
	Timestamp time.Time

	X, Y int // KindMove, each in [-100, 100]

	Action SettingAction // KindSetting
	Value  float64       // KindSetting, speed in [0.1, 2.0] or height in [60, 120]
}

// Stop returns the zero-movement command used by the safety shutdown
// sequence. It flows through the same dispatch path as real commands.
func Stop(origin Origin) Command {
	return Command{Kind: KindMove, Origin: origin, Timestamp: time.Now()}
}

// EmergencyStop returns an emergency stop command.
func EmergencyStop(origin Origin) Command {
	return Command{Kind: KindEmergencyStop, Origin: origin, Timestamp: time.Now()}
}
