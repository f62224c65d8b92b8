package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/riderbot/go-rider/pkg/command"
)

// fakeActuator records every call for assertions.
type fakeActuator struct {
	mu    sync.Mutex
	calls []string
	moves [][2]int
	fail  error
}

func (f *fakeActuator) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeActuator) Move(x, y int) error {
	f.mu.Lock()
	if f.fail != nil {
		f.mu.Unlock()
		return f.fail
	}
	f.calls = append(f.calls, "move")
	f.moves = append(f.moves, [2]int{x, y})
	f.mu.Unlock()
	return nil
}

func (f *fakeActuator) Stop() error                   { return f.record("stop") }
func (f *fakeActuator) SetHeight(int) error           { return f.record("height") }
func (f *fakeActuator) SetRollBalance(bool) error     { return f.record("roll_balance") }
func (f *fakeActuator) SetPerformanceMode(bool) error { return f.record("performance") }
func (f *fakeActuator) SetSpeedScale(float64) error   { return f.record("speed") }
func (f *fakeActuator) SetCameraEnabled(bool) error   { return f.record("camera") }

func (f *fakeActuator) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeActuator) moveList() [][2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]int(nil), f.moves...)
}

// testClock is a manually advanced clock for grace window tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func startArbiter(t *testing.T, fake *fakeActuator, cfg Config) (*Arbiter, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	a := NewArbiter(fake, cfg)
	a.now = clock.Now

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)
	return a, clock
}

func submit(t *testing.T, a *Arbiter, cmd command.Command) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return a.SubmitWait(ctx, cmd)
}

func TestArbiter_LocalAlwaysAccepted(t *testing.T) {
	fake := &fakeActuator{}
	a, _ := startArbiter(t, fake, Config{})

	if err := submit(t, a, command.Command{Kind: command.KindMove, Origin: command.Local, X: 10, Y: 20}); err != nil {
		t.Fatalf("local move rejected: %v", err)
	}

	snap := a.Snapshot()
	if snap.Mode != LocalControl {
		t.Errorf("Mode = %v, want LocalControl", snap.Mode)
	}
	if snap.MovementX != 10 || snap.MovementY != 20 {
		t.Errorf("movement = (%d,%d), want (10,20)", snap.MovementX, snap.MovementY)
	}
}

func TestArbiter_RemoteBlockedDuringGraceWindow(t *testing.T) {
	fake := &fakeActuator{}
	a, clock := startArbiter(t, fake, Config{GraceWindow: 2 * time.Second})

	if err := submit(t, a, command.Command{Kind: command.KindMove, Origin: command.Local, X: 5}); err != nil {
		t.Fatal(err)
	}

	err := submit(t, a, command.Command{Kind: command.KindMove, Origin: command.Remote("c1"), X: 50})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("remote move during grace window: err = %v, want ErrRejected", err)
	}
	if snap := a.Snapshot(); snap.MovementX != 5 {
		t.Errorf("movement = %d, arbitration should have held at 5", snap.MovementX)
	}

	// After the grace window the remote may take over.
	clock.Advance(2 * time.Second)
	if err := submit(t, a, command.Command{Kind: command.KindMove, Origin: command.Remote("c1"), X: 50}); err != nil {
		t.Fatalf("remote move after grace window: %v", err)
	}
	snap := a.Snapshot()
	if snap.Mode != RemoteControl {
		t.Errorf("Mode = %v, want RemoteControl", snap.Mode)
	}
	if snap.MovementX != 50 {
		t.Errorf("movement = %d, want 50", snap.MovementX)
	}
}

func TestArbiter_LocalOverridesRemote(t *testing.T) {
	fake := &fakeActuator{}
	a, _ := startArbiter(t, fake, Config{})

	if err := submit(t, a, command.Command{Kind: command.KindMove, Origin: command.Remote("c1"), X: 30}); err != nil {
		t.Fatal(err)
	}
	// Local input lands while remote is in control; local wins immediately.
	if err := submit(t, a, command.Command{Kind: command.KindMove, Origin: command.Local, X: -10}); err != nil {
		t.Fatalf("local override rejected: %v", err)
	}
	if snap := a.Snapshot(); snap.Mode != LocalControl || snap.MovementX != -10 {
		t.Errorf("snapshot = %+v, want LocalControl with x=-10", snap)
	}
}

func TestArbiter_EmergencyStopFromAnyOrigin(t *testing.T) {
	for _, origin := range []command.Origin{command.Local, command.Remote("c1")} {
		t.Run(origin.String(), func(t *testing.T) {
			fake := &fakeActuator{}
			a, _ := startArbiter(t, fake, Config{})

			// Put the robot in motion under local control first.
			if err := submit(t, a, command.Command{Kind: command.KindMove, Origin: command.Local, Y: 80}); err != nil {
				t.Fatal(err)
			}

			if err := submit(t, a, command.EmergencyStop(origin)); err != nil {
				t.Fatalf("emergency stop: %v", err)
			}

			snap := a.Snapshot()
			if snap.MovementX != 0 || snap.MovementY != 0 {
				t.Errorf("movement = (%d,%d), want (0,0)", snap.MovementX, snap.MovementY)
			}
			if snap.Mode != Idle {
				t.Errorf("Mode = %v, want Idle", snap.Mode)
			}

			calls := fake.callList()
			if calls[len(calls)-1] != "stop" {
				t.Errorf("last actuator call = %q, want stop", calls[len(calls)-1])
			}
		})
	}
}

func TestArbiter_EmergencyStopZeroesStateOnActuatorFailure(t *testing.T) {
	fake := &fakeActuator{}
	a, _ := startArbiter(t, fake, Config{})

	if err := submit(t, a, command.Command{Kind: command.KindMove, Origin: command.Local, Y: 80}); err != nil {
		t.Fatal(err)
	}

	fake.mu.Lock()
	fake.fail = errors.New("actuator gone")
	fake.mu.Unlock()

	_ = submit(t, a, command.EmergencyStop(command.Local))

	snap := a.Snapshot()
	if snap.MovementX != 0 || snap.MovementY != 0 {
		t.Errorf("movement = (%d,%d), want (0,0) even when the actuator call fails", snap.MovementX, snap.MovementY)
	}
}

func TestArbiter_BatteryRequestBypassesArbitration(t *testing.T) {
	fake := &fakeActuator{}
	requested := make(chan struct{}, 1)
	a, _ := startArbiter(t, fake, Config{OnBatteryRequest: func() { requested <- struct{}{} }})

	// Local control active; a remote battery request must still pass.
	if err := submit(t, a, command.Command{Kind: command.KindMove, Origin: command.Local, X: 5}); err != nil {
		t.Fatal(err)
	}
	if err := submit(t, a, command.Command{Kind: command.KindBatteryRequest, Origin: command.Remote("c1")}); err != nil {
		t.Fatalf("battery request: %v", err)
	}

	select {
	case <-requested:
	case <-time.After(time.Second):
		t.Error("battery request callback not invoked")
	}
}

func TestArbiter_NewerMoveSupersedesPending(t *testing.T) {
	fake := &fakeActuator{}
	a := NewArbiter(fake, Config{})

	// Queue two moves from the same origin before the loop runs.
	if err := a.Submit(command.Command{Kind: command.KindMove, Origin: command.Remote("c1"), X: 10}); err != nil {
		t.Fatal(err)
	}
	if err := a.Submit(command.Command{Kind: command.KindMove, Origin: command.Remote("c1"), X: 90}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	// A waited command after the moves proves the queue has drained.
	if err := submit(t, a, command.Command{Kind: command.KindBatteryRequest, Origin: command.Remote("c1")}); err != nil {
		t.Fatal(err)
	}

	moves := fake.moveList()
	if len(moves) != 1 {
		t.Fatalf("move calls = %d, want 1 (superseded)", len(moves))
	}
	if moves[0] != [2]int{90, 0} {
		t.Errorf("applied move = %v, want [90 0]", moves[0])
	}
}

func TestArbiter_MovesFromDifferentOriginsNotCoalesced(t *testing.T) {
	fake := &fakeActuator{}
	a := NewArbiter(fake, Config{})

	if err := a.Submit(command.Command{Kind: command.KindMove, Origin: command.Remote("c1"), X: 10}); err != nil {
		t.Fatal(err)
	}
	if err := a.Submit(command.Command{Kind: command.KindMove, Origin: command.Remote("c2"), X: 20}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	if err := submit(t, a, command.Command{Kind: command.KindBatteryRequest, Origin: command.Remote("c1")}); err != nil {
		t.Fatal(err)
	}

	if moves := fake.moveList(); len(moves) != 2 {
		t.Errorf("move calls = %d, want 2", len(moves))
	}
}

func TestArbiter_SettingsMutateState(t *testing.T) {
	fake := &fakeActuator{}
	a, _ := startArbiter(t, fake, Config{})

	if err := submit(t, a, command.Command{Kind: command.KindSetting, Origin: command.Local, Action: command.SettingSpeed, Value: 1.5}); err != nil {
		t.Fatal(err)
	}
	if snap := a.Snapshot(); snap.SpeedScale != 1.5 {
		t.Errorf("SpeedScale = %v, want 1.5", snap.SpeedScale)
	}

	if err := submit(t, a, command.Command{Kind: command.KindSetting, Origin: command.Local, Action: command.SettingRollBalance}); err != nil {
		t.Fatal(err)
	}
	if snap := a.Snapshot(); !snap.RollBalanceEnabled {
		t.Error("RollBalanceEnabled should toggle on")
	}

	if err := submit(t, a, command.Command{Kind: command.KindSetting, Origin: command.Local, Action: command.SettingRollBalance}); err != nil {
		t.Fatal(err)
	}
	if snap := a.Snapshot(); snap.RollBalanceEnabled {
		t.Error("RollBalanceEnabled should toggle back off")
	}

	if err := submit(t, a, command.Command{Kind: command.KindCameraToggle, Origin: command.Local}); err != nil {
		t.Fatal(err)
	}
	if snap := a.Snapshot(); !snap.CameraEnabled {
		t.Error("CameraEnabled should toggle on")
	}
}

func TestArbiter_ActuatorFailureLeavesStateUntouched(t *testing.T) {
	fake := &fakeActuator{fail: errors.New("serial port wedged")}
	a, _ := startArbiter(t, fake, Config{})

	err := submit(t, a, command.Command{Kind: command.KindMove, Origin: command.Local, X: 40})
	if err == nil {
		t.Fatal("expected actuator error")
	}
	if snap := a.Snapshot(); snap.MovementX != 0 {
		t.Errorf("MovementX = %d, state must not report unapplied movement", snap.MovementX)
	}
}

func TestArbiter_ResetRestoresDefaults(t *testing.T) {
	fake := &fakeActuator{}
	a, _ := startArbiter(t, fake, Config{})

	if err := submit(t, a, command.Command{Kind: command.KindSetting, Origin: command.Local, Action: command.SettingSpeed, Value: 2.0}); err != nil {
		t.Fatal(err)
	}
	if err := submit(t, a, command.Command{Kind: command.KindSetting, Origin: command.Local, Action: command.SettingHeight, Value: 110}); err != nil {
		t.Fatal(err)
	}

	if err := submit(t, a, command.Command{Kind: command.KindReset, Origin: command.Local}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	snap := a.Snapshot()
	if snap.SpeedScale != DefaultSpeedScale {
		t.Errorf("SpeedScale = %v, want %v", snap.SpeedScale, DefaultSpeedScale)
	}
	if snap.Height != DefaultHeight {
		t.Errorf("Height = %d, want %d", snap.Height, DefaultHeight)
	}
	if snap.RollBalanceEnabled || snap.PerformanceModeEnabled {
		t.Error("toggles should reset to off")
	}
}

func TestArbiter_QueueOverflow(t *testing.T) {
	a := NewArbiter(&fakeActuator{}, Config{QueueSize: 2})

	// Distinct kinds so move coalescing does not kick in.
	if err := a.Submit(command.Command{Kind: command.KindCameraToggle, Origin: command.Local}); err != nil {
		t.Fatal(err)
	}
	if err := a.Submit(command.Command{Kind: command.KindReset, Origin: command.Local}); err != nil {
		t.Fatal(err)
	}
	if err := a.Submit(command.Command{Kind: command.KindCameraToggle, Origin: command.Local}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestArbiter_ConnectionFlags(t *testing.T) {
	a := NewArbiter(&fakeActuator{}, Config{})

	a.SetControllerConnected(true)
	a.SetConnectionStatus("connected")

	snap := a.Snapshot()
	if !snap.ControllerConnected {
		t.Error("ControllerConnected not recorded")
	}
	if snap.ConnectionStatus != "connected" {
		t.Errorf("ConnectionStatus = %q", snap.ConnectionStatus)
	}
}

func TestArbiter_WaitedZeroMoveNotSuperseded(t *testing.T) {
	fake := &fakeActuator{}
	a := NewArbiter(fake, Config{})

	// Queue a waited zero move (a disconnect safety injection), then a
	// straggler move from the same origin, before the loop runs.
	done := make(chan error, 1)
	if err := a.enqueue(pending{cmd: command.Stop(command.Remote("c1")), done: done}); err != nil {
		t.Fatal(err)
	}
	if err := a.Submit(command.Command{Kind: command.KindMove, Origin: command.Remote("c1"), X: 50, Y: 80}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("zero move dispatch: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("zero move never dispatched")
	}

	deadline := time.After(time.Second)
	for len(fake.moveList()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("moves = %v, want the zero move and the straggler", fake.moveList())
		case <-time.After(5 * time.Millisecond):
		}
	}
	moves := fake.moveList()
	if moves[0] != [2]int{0, 0} {
		t.Errorf("first actuator move = %v, want the injected (0,0)", moves[0])
	}
	if moves[1] != [2]int{50, 80} {
		t.Errorf("second actuator move = %v, want (50,80)", moves[1])
	}
}
