// Package protocol defines the MQTT topic layout and JSON payload shapes
// shared between the rider robot and its remote clients.
//
// Topics are relative to a configurable prefix (default "rider"); use
// Topic to build the full name. Timestamps on the wire are Unix seconds
// as a float, matching what existing clients send.
package protocol

import "time"

// Topic suffixes, robot → clients.
const (
	TopicStatus       = "status"
	TopicBattery      = "status/battery"
	TopicIMU          = "status/imu"
	TopicServerStatus = "server/status"
	TopicEvents       = "events"
)

// Topic suffixes, clients → robot.
const (
	TopicControlMovement  = "control/movement"
	TopicControlSettings  = "control/settings"
	TopicControlCamera    = "control/camera"
	TopicControlSystem    = "control/system"
	TopicRequestBattery   = "request/battery"
	TopicClientHeartbeat  = "client/heartbeat"
	TopicClientDisconnect = "client/disconnect"
)

// Action strings carried in control payloads.
const (
	ActionToggleRollBalance = "toggle_roll_balance"
	ActionTogglePerformance = "toggle_performance"
	ActionChangeSpeed       = "change_speed"
	ActionToggleCamera      = "toggle_camera"
	ActionEmergencyStop     = "emergency_stop"
	ActionResetRobot        = "reset_robot"
	ActionRequestBattery    = "request_battery"
)

// Battery status classifications published on TopicBattery.
const (
	BatteryNormal   = "normal"
	BatteryLow      = "low"
	BatteryCritical = "critical"
	BatteryCharging = "charging"
)

// Battery source tags.
const (
	SourceHardware  = "hardware"
	SourceEstimated = "estimated"
)

// Connection status values published on TopicStatus.
const (
	ConnConnected          = "connected"
	ConnDisconnected       = "disconnected"
	ConnDisconnecting      = "disconnecting"
	ConnClientTimeout      = "client_timeout"
	ConnClientDisconnected = "client_disconnected"
)

// Topic joins the prefix and a topic suffix.
func Topic(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// EventTopic returns the topic for a one-shot event type,
// e.g. rider/events/emergency_stop.
func EventTopic(prefix, eventType string) string {
	return Topic(prefix, TopicEvents+"/"+eventType)
}

// Now returns the current wall clock as a wire timestamp.
func Now() float64 {
	return ToTimestamp(time.Now())
}

// ToTimestamp converts a time.Time to Unix seconds.
func ToTimestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromTimestamp converts Unix seconds back to a time.Time.
// Zero maps to the zero time, not to the epoch.
func FromTimestamp(ts float64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ts*float64(time.Second)))
}
