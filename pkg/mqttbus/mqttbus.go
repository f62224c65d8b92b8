// Package mqttbus adapts the rider's command and telemetry surfaces to
// an MQTT broker using the paho client.
//
// Inbound control messages are decoded, validated, and queued for
// arbitration; every message also refreshes the sender's session. The
// adapter is the primary telemetry Publisher and announces process
// lifecycle on the server status topic, with a broker-side will that
// marks the robot offline if the connection dies without a goodbye.
package mqttbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/riderbot/go-rider/internal/log"
	"github.com/riderbot/go-rider/pkg/command"
	"github.com/riderbot/go-rider/pkg/protocol"
)

// Commander queues validated commands for arbitration.
type Commander interface {
	Submit(command.Command) error
}

// Sessions is the session manager surface the transport drives. Touch
// and RecordMovement report whether the client holds an open session;
// commands from a session mid-shutdown are dropped, never forwarded.
type Sessions interface {
	Touch(clientID string) bool
	RecordMovement(clientID string, x, y int) bool
	Disconnect(clientID, reason string)
	Shutdown(ctx context.Context) error
}

// Config carries broker connection settings.
type Config struct {
	BrokerURL      string
	ClientID       string        // default "rider-robot"
	TopicPrefix    string        // default "rider"
	ConnectTimeout time.Duration // default 10s
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		// Unique per process: the broker kicks duplicate client ids.
		c.ClientID = "rider-robot-" + uuid.NewString()[:8]
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "rider"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// Adapter bridges the broker and the control pipeline.
type Adapter struct {
	client    mqtt.Client
	cfg       Config
	validator *command.Validator
	commander Commander
	sessions  Sessions

	// publish seam; swapped out in tests.
	pub func(topic string, retained bool, payload []byte)
}

// New builds an Adapter. It does not touch the network; call Connect.
func New(cfg Config, validator *command.Validator, commander Commander, sessions Sessions) *Adapter {
	cfg.applyDefaults()
	a := &Adapter{
		cfg:       cfg,
		validator: validator,
		commander: commander,
		sessions:  sessions,
	}

	will, _ := json.Marshal(protocol.ServerStatusPayload{
		Timestamp: protocol.Now(),
		Status:    "offline",
		Message:   "connection lost",
	})

	// ConnectRetry covers a broker that is down at boot; AutoReconnect
	// alone only resumes a connection that once succeeded.
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetOnConnectHandler(a.onConnect).
		SetConnectionLostHandler(a.onConnectionLost).
		SetBinaryWill(protocol.Topic(cfg.TopicPrefix, protocol.TopicServerStatus), will, 0, true)

	a.client = mqtt.NewClient(opts)
	a.pub = func(topic string, retained bool, payload []byte) {
		a.client.Publish(topic, 0, retained, payload)
	}
	return a
}

// Connect dials the broker and blocks until the connection is up or
// the timeout expires. Subscriptions happen in the connect handler so
// they are re-established after a reconnect.
func (a *Adapter) Connect() error {
	token := a.client.Connect()
	if !token.WaitTimeout(a.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect to %s: %w", a.cfg.BrokerURL, context.DeadlineExceeded)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", a.cfg.BrokerURL, err)
	}
	a.PublishServerStatus("online", "")
	return nil
}

// Close announces shutdown and disconnects cleanly, so the will is not
// fired.
func (a *Adapter) Close() {
	a.PublishServerStatus("shutting_down", "")
	a.client.Disconnect(250)
}

func (a *Adapter) onConnect(_ mqtt.Client) {
	log.Info("mqtt connected", "broker", a.cfg.BrokerURL, "prefix", a.cfg.TopicPrefix)

	suffixes := []string{
		protocol.TopicControlMovement,
		protocol.TopicControlSettings,
		protocol.TopicControlCamera,
		protocol.TopicControlSystem,
		protocol.TopicRequestBattery,
		protocol.TopicClientHeartbeat,
		protocol.TopicClientDisconnect,
	}
	for _, suffix := range suffixes {
		topic := protocol.Topic(a.cfg.TopicPrefix, suffix)
		token := a.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			a.route(suffix, msg.Payload())
		})
		go func(topic string) {
			token.Wait()
			if err := token.Error(); err != nil {
				log.Error("mqtt subscribe failed", "topic", topic, "error", err)
			}
		}(topic)
	}
}

// onConnectionLost runs the safety stop path: with the broker gone no
// remote client can correct the robot, so all remote sessions are
// closed and motion stops. Paho reconnects in the background.
func (a *Adapter) onConnectionLost(_ mqtt.Client, err error) {
	log.Error("mqtt connection lost, stopping remote sessions", "error", err)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.sessions.Shutdown(ctx); err != nil {
			log.Warn("session cleanup after connection loss degraded", "error", err)
		}
	}()
}

// route dispatches one inbound message by topic suffix.
func (a *Adapter) route(suffix string, payload []byte) {
	var err error
	switch suffix {
	case protocol.TopicControlMovement:
		err = a.handleMovement(payload)
	case protocol.TopicControlSettings:
		err = a.handleSettings(payload)
	case protocol.TopicControlCamera:
		err = a.handleCamera(payload)
	case protocol.TopicControlSystem:
		err = a.handleSystem(payload)
	case protocol.TopicRequestBattery:
		err = a.handleBatteryRequest(payload)
	case protocol.TopicClientHeartbeat:
		err = a.handleHeartbeat(payload)
	case protocol.TopicClientDisconnect:
		err = a.handleDisconnect(payload)
	default:
		err = fmt.Errorf("unrouted topic suffix %q", suffix)
	}

	if err != nil {
		// Bad input from one client never disturbs the pipeline.
		if errors.Is(err, command.ErrUnknownAction) {
			log.Warn("dropping command", "topic", suffix, "error", err)
		} else {
			log.Warn("inbound message rejected", "topic", suffix, "error", err)
		}
	}
}

func (a *Adapter) handleMovement(payload []byte) error {
	var p protocol.MovementPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode movement: %w", err)
	}
	origin := command.Remote(p.Source)
	cmd, err := a.validator.Movement(p, origin)
	if err != nil {
		return err
	}
	if !a.sessions.RecordMovement(origin.ClientID(), cmd.X, cmd.Y) {
		log.Debug("dropping movement from closing session", "client", origin.ClientID())
		return nil
	}
	return a.commander.Submit(cmd)
}

func (a *Adapter) handleSettings(payload []byte) error {
	var p protocol.SettingsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	origin := command.Remote(p.Source)
	if !a.sessions.Touch(origin.ClientID()) {
		log.Debug("dropping command from closing session", "client", origin.ClientID())
		return nil
	}
	cmd, err := a.validator.Settings(p, origin)
	if err != nil {
		return err
	}
	return a.commander.Submit(cmd)
}

func (a *Adapter) handleCamera(payload []byte) error {
	var p protocol.CameraPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode camera: %w", err)
	}
	origin := command.Remote(p.Source)
	if !a.sessions.Touch(origin.ClientID()) {
		log.Debug("dropping command from closing session", "client", origin.ClientID())
		return nil
	}
	cmd, err := a.validator.Camera(p, origin)
	if err != nil {
		return err
	}
	return a.commander.Submit(cmd)
}

func (a *Adapter) handleSystem(payload []byte) error {
	var p protocol.SystemPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode system: %w", err)
	}
	origin := command.Remote(p.Source)
	if !a.sessions.Touch(origin.ClientID()) {
		log.Debug("dropping command from closing session", "client", origin.ClientID())
		return nil
	}
	cmd, err := a.validator.System(p, origin)
	if err != nil {
		return err
	}
	return a.commander.Submit(cmd)
}

func (a *Adapter) handleBatteryRequest(payload []byte) error {
	var p protocol.BatteryRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode battery request: %w", err)
	}
	origin := command.Remote(p.Source)
	if !a.sessions.Touch(origin.ClientID()) {
		log.Debug("dropping command from closing session", "client", origin.ClientID())
		return nil
	}
	cmd, err := a.validator.BatteryRequest(p, origin)
	if err != nil {
		return err
	}
	return a.commander.Submit(cmd)
}

func (a *Adapter) handleHeartbeat(payload []byte) error {
	var p protocol.HeartbeatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode heartbeat: %w", err)
	}
	a.sessions.Touch(command.Remote(p.Source).ClientID())
	return nil
}

func (a *Adapter) handleDisconnect(payload []byte) error {
	var p protocol.DisconnectPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode disconnect: %w", err)
	}
	id := command.Remote(p.Source).ClientID()
	// The safety sequence blocks for up to the shutdown budget; keep
	// the message loop responsive.
	go a.sessions.Disconnect(id, p.Reason)
	return nil
}

// PublishStatus implements telemetry.Publisher.
func (a *Adapter) PublishStatus(p protocol.StatusPayload) {
	a.publish(protocol.TopicStatus, false, p)
}

// PublishBattery implements telemetry.Publisher.
func (a *Adapter) PublishBattery(p protocol.BatteryPayload) {
	a.publish(protocol.TopicBattery, false, p)
}

// PublishIMU implements telemetry.Publisher.
func (a *Adapter) PublishIMU(p protocol.IMUPayload) {
	a.publish(protocol.TopicIMU, false, p)
}

// PublishEvent implements session.Notifier: a one-shot event on
// events/<type>.
func (a *Adapter) PublishEvent(eventType string, data map[string]any) {
	payload := protocol.EventPayload{
		Timestamp: protocol.Now(),
		EventType: eventType,
		Data:      data,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error("marshal event", "type", eventType, "error", err)
		return
	}
	a.pub(protocol.EventTopic(a.cfg.TopicPrefix, eventType), false, raw)
}

// PublishServerStatus announces a process lifecycle transition,
// retained so late subscribers see the current one.
func (a *Adapter) PublishServerStatus(status, message string) {
	a.publish(protocol.TopicServerStatus, true, protocol.ServerStatusPayload{
		Timestamp: protocol.Now(),
		Status:    status,
		Message:   message,
	})
}

func (a *Adapter) publish(suffix string, retained bool, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal payload", "topic", suffix, "error", err)
		return
	}
	a.pub(protocol.Topic(a.cfg.TopicPrefix, suffix), retained, raw)
}
