// Package config provides configuration loading for go-rider.
// Defaults are pre-filled so an empty or missing file yields a runnable
// configuration; the RIDER_BROKER env var overrides the broker address.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Battery   BatteryConfig   `yaml:"battery"`
	Control   ControlConfig   `yaml:"control"`
	Session   SessionConfig   `yaml:"session"`
	Web       WebConfig       `yaml:"web"`
	LogLevel  string          `yaml:"log_level"`
}

type BrokerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

type TelemetryConfig struct {
	StatusInterval      time.Duration `yaml:"status_interval"`
	BatteryInterval     time.Duration `yaml:"battery_interval"`
	OrientationInterval time.Duration `yaml:"orientation_interval"`
}

type BatteryConfig struct {
	LowThreshold      int `yaml:"low_threshold"`
	CriticalThreshold int `yaml:"critical_threshold"`
	MaxReadFailures   int `yaml:"max_read_failures"`
}

type ControlConfig struct {
	LocalGraceWindow time.Duration `yaml:"local_grace_window"`
	QueueSize        int           `yaml:"queue_size"`
}

type SessionConfig struct {
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	MovementTimeout   time.Duration `yaml:"movement_timeout"`
	ShutdownBudget    time.Duration `yaml:"shutdown_budget"`
	DeliveryGrace     time.Duration `yaml:"delivery_grace"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:        "127.0.0.1",
			Port:        1883,
			TopicPrefix: "rider",
		},
		Telemetry: TelemetryConfig{
			StatusInterval:      2 * time.Second,
			BatteryInterval:     10 * time.Second,
			OrientationInterval: 500 * time.Millisecond,
		},
		Battery: BatteryConfig{
			LowThreshold:      15,
			CriticalThreshold: 5,
			MaxReadFailures:   3,
		},
		Control: ControlConfig{
			LocalGraceWindow: 2 * time.Second,
			QueueSize:        64,
		},
		Session: SessionConfig{
			InactivityTimeout: 30 * time.Second,
			MovementTimeout:   2 * time.Second,
			ShutdownBudget:    2 * time.Second,
			DeliveryGrace:     500 * time.Millisecond,
		},
		Web: WebConfig{
			Enabled: true,
			Port:    "8090",
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path on top of defaults.
// A missing file is not an error; env overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies environment overrides. RIDER_BROKER accepts
// "host" or "host:port".
func (c *Config) applyEnv() {
	if broker := os.Getenv("RIDER_BROKER"); broker != "" {
		host, portStr, found := strings.Cut(broker, ":")
		c.Broker.Host = host
		if found {
			if port, err := strconv.Atoi(portStr); err == nil {
				c.Broker.Port = port
			}
		}
	}
	if level := os.Getenv("RIDER_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// BrokerURL returns the tcp:// URL for the MQTT client.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Broker.Host, c.Broker.Port)
}
