// Package session tracks remote client sessions and runs the safety
// shutdown sequence when a client goes away for any reason: explicit
// disconnect, inactivity timeout, superseding reconnect, transport
// loss, or process shutdown.
//
// Every session ends Closed, and every path to Closed goes through the
// same sequence: emergency stop, zero movement, short delivery grace,
// then the session's close hook. The sequence runs under a hard time
// budget; on overrun the session is force-closed and the overrun is
// reported as ErrShutdownIncomplete.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/riderbot/go-rider/internal/log"
	"github.com/riderbot/go-rider/pkg/command"
	"github.com/riderbot/go-rider/pkg/control"
	"github.com/riderbot/go-rider/pkg/protocol"
)

// ErrShutdownIncomplete reports that a session's safety sequence did
// not finish inside the shutdown budget. The session is closed anyway.
var ErrShutdownIncomplete = errors.New("session shutdown incomplete")

// State is a session's lifecycle phase.
type State int

const (
	Connected State = iota
	Disconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "closed"
	}
}

// Commander queues commands for arbitration. Implemented by the
// control Arbiter.
type Commander interface {
	Submit(command.Command) error
	SubmitWait(ctx context.Context, cmd command.Command) error
}

// StatusSink receives connection status transitions for telemetry.
type StatusSink interface {
	SetConnectionStatus(status string)
}

// Notifier publishes one-shot lifecycle events to remote clients.
// May be nil when no transport is attached yet.
type Notifier interface {
	PublishEvent(eventType string, data map[string]any)
}

// Config carries the manager's watchdog and shutdown tunables.
type Config struct {
	InactivityTimeout time.Duration // default 30s
	MovementTimeout   time.Duration // default 2s
	CheckInterval     time.Duration // default 1s
	ShutdownBudget    time.Duration // default 2s
	DeliveryGrace     time.Duration // default 500ms
}

func (c *Config) applyDefaults() {
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 30 * time.Second
	}
	if c.MovementTimeout <= 0 {
		c.MovementTimeout = 2 * time.Second
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Second
	}
	if c.ShutdownBudget <= 0 {
		c.ShutdownBudget = 2 * time.Second
	}
	if c.DeliveryGrace <= 0 {
		c.DeliveryGrace = 500 * time.Millisecond
	}
}

type session struct {
	id           string
	connectedAt  time.Time
	lastActivity time.Time
	lastMove     time.Time
	moving       bool
	state        State
	closeFn      func()
}

// Info is a read-only session summary for the web monitor.
type Info struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	State        string    `json:"state"`
}

// Manager owns all remote client sessions.
type Manager struct {
	commander Commander
	status    StatusSink
	notify    Notifier
	cfg       Config

	mu       sync.Mutex
	sessions map[string]*session

	now func() time.Time
}

// NewManager creates a Manager. notify may be nil.
func NewManager(commander Commander, status StatusSink, notify Notifier, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		commander: commander,
		status:    status,
		notify:    notify,
		cfg:       cfg,
		sessions:  make(map[string]*session),
		now:       time.Now,
	}
}

// SetNotifier attaches the event publisher. Call before Run; the
// transport and the manager reference each other, so one side is wired
// after construction.
func (m *Manager) SetNotifier(n Notifier) {
	m.notify = n
}

// Connect registers a session for clientID. An open session with the
// same id is superseded: closed through the safety sequence before the
// new one is registered. closeFn, if non-nil, is invoked at the end of
// this session's safety sequence (e.g. to drop a websocket).
func (m *Manager) Connect(clientID string, closeFn func()) {
	m.mu.Lock()
	old, exists := m.sessions[clientID]
	m.mu.Unlock()

	if exists && old.state == Connected {
		log.Info("superseding reconnect", "client", clientID)
		m.close(clientID, "superseded", protocol.ConnClientDisconnected)
	}

	now := m.now()
	m.mu.Lock()
	m.sessions[clientID] = &session{
		id:           clientID,
		connectedAt:  now,
		lastActivity: now,
		state:        Connected,
		closeFn:      closeFn,
	}
	count := len(m.sessions)
	m.mu.Unlock()

	log.Info("client connected", "client", clientID, "sessions", count)
	m.status.SetConnectionStatus(protocol.ConnConnected)
}

// Touch refreshes the session's activity clock and reports whether the
// client currently holds an open session. Unknown ids are registered;
// anything arriving over the bus counts as presence. A session already
// shutting down is not resurrected and its commands are not admitted —
// a straggler landing mid-shutdown could otherwise leave the robot in
// motion after the safety sequence.
func (m *Manager) Touch(clientID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[clientID]
	if ok && s.state == Connected {
		s.lastActivity = m.now()
		m.mu.Unlock()
		return true
	}
	if ok {
		// Mid-shutdown; the client will re-register on its next message.
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	m.Connect(clientID, nil)
	return true
}

// RecordMovement notes that clientID commanded movement, so the stale
// movement watchdog knows when to inject a stop. Reports whether the
// movement is admissible; callers must not forward it otherwise.
func (m *Manager) RecordMovement(clientID string, x, y int) bool {
	if !m.Touch(clientID) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[clientID]
	if !ok || s.state != Connected {
		return false
	}
	s.lastMove = m.now()
	s.moving = x != 0 || y != 0
	return true
}

// Disconnect handles an explicit goodbye from the client.
func (m *Manager) Disconnect(clientID, reason string) {
	log.Info("client disconnecting", "client", clientID, "reason", reason)
	if err := m.close(clientID, "client_disconnect", protocol.ConnClientDisconnected); err != nil {
		log.Warn("disconnect cleanup degraded", "client", clientID, "error", err)
	}
}

// Run checks all sessions on the watchdog interval until the context
// is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check is one watchdog pass: stop stale movement, time out idle
// sessions.
func (m *Manager) check() {
	now := m.now()

	var timedOut []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.state != Connected {
			continue
		}
		if s.moving && now.Sub(s.lastMove) > m.cfg.MovementTimeout {
			log.Warn("movement commands went stale, stopping", "client", id)
			s.moving = false
			if err := m.commander.Submit(command.Stop(command.Remote(id))); err != nil {
				log.Error("stale movement stop not queued", "client", id, "error", err)
			}
		}
		if now.Sub(s.lastActivity) > m.cfg.InactivityTimeout {
			timedOut = append(timedOut, id)
		}
	}
	m.mu.Unlock()

	for _, id := range timedOut {
		log.Warn("client timed out", "client", id, "timeout", m.cfg.InactivityTimeout)
		if err := m.close(id, "client_timeout", protocol.ConnClientTimeout); err != nil {
			log.Warn("timeout cleanup degraded", "client", id, "error", err)
		}
	}
}

// Shutdown closes every open session, used on transport loss and
// process exit. Sessions are closed sequentially; each gets its own
// budget. The passed context can cut the whole pass short.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := m.close(id, "server_shutdown", protocol.ConnDisconnected); err != nil {
			errs = append(errs, fmt.Errorf("client %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of sessions not yet Closed.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns summaries of all current sessions.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Info{
			ID:           s.id,
			ConnectedAt:  s.connectedAt,
			LastActivity: s.lastActivity,
			State:        s.state.String(),
		})
	}
	return out
}

// close runs the safety sequence for one session: emergency stop, zero
// movement, delivery grace, close hook, removal. Idempotent per
// session; the sequence runs under the shutdown budget and the session
// is removed even on overrun.
func (m *Manager) close(clientID, reason, finalStatus string) error {
	m.mu.Lock()
	s, ok := m.sessions[clientID]
	if !ok || s.state != Connected {
		m.mu.Unlock()
		return nil
	}
	s.state = Disconnecting
	closeFn := s.closeFn
	m.mu.Unlock()

	m.status.SetConnectionStatus(protocol.ConnDisconnecting)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownBudget)
	defer cancel()

	origin := command.Remote(clientID)
	var errs []error
	if err := m.commander.SubmitWait(ctx, command.EmergencyStop(origin)); err != nil {
		errs = append(errs, fmt.Errorf("emergency stop: %w", err))
	}
	// A rejected zero move means the local controller holds the robot,
	// which is already a safe outcome.
	if err := m.commander.SubmitWait(ctx, command.Stop(origin)); err != nil && !errors.Is(err, control.ErrRejected) {
		errs = append(errs, fmt.Errorf("zero movement: %w", err))
	}

	// Let the stop commands reach the hardware before tearing anything
	// down, but never past the budget.
	select {
	case <-time.After(m.cfg.DeliveryGrace):
	case <-ctx.Done():
	}

	if closeFn != nil {
		closeFn()
	}

	m.mu.Lock()
	s.state = Closed
	delete(m.sessions, clientID)
	remaining := len(m.sessions)
	m.mu.Unlock()

	if remaining > 0 {
		m.status.SetConnectionStatus(protocol.ConnConnected)
	} else {
		m.status.SetConnectionStatus(finalStatus)
	}

	if m.notify != nil {
		m.notify.PublishEvent("emergency_stop", map[string]any{
			"client_id": clientID,
			"reason":    reason,
		})
	}
	log.Info("session closed", "client", clientID, "reason", reason, "remaining", remaining)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrShutdownIncomplete, errors.Join(errs...))
	}
	return nil
}
