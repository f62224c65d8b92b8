package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/riderbot/go-rider/pkg/control"
	"github.com/riderbot/go-rider/pkg/protocol"
	"github.com/riderbot/go-rider/pkg/session"
)

type fakeSessions struct {
	infos []session.Info
}

func (f *fakeSessions) List() []session.Info { return f.infos }
func (f *fakeSessions) Count() int           { return len(f.infos) }

func newTestServer(snap control.Snapshot, sessions *fakeSessions) *Server {
	return NewServer("0", func() control.Snapshot { return snap }, sessions)
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(control.Snapshot{
		SpeedScale:          1.5,
		Height:              90,
		MovementX:           10,
		ControllerConnected: true,
		ConnectionStatus:    protocol.ConnConnected,
		Mode:                control.LocalControl,
	}, &fakeSessions{infos: []session.Info{{ID: "pilot"}}})

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/status", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var got statusResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.SpeedScale != 1.5 || got.Height != 90 || got.MovementX != 10 {
		t.Errorf("response = %+v", got)
	}
	if got.Mode != "local" {
		t.Errorf("Mode = %s, want local", got.Mode)
	}
	if got.Sessions != 1 {
		t.Errorf("Sessions = %d, want 1", got.Sessions)
	}
}

func TestHandleSessions(t *testing.T) {
	s := newTestServer(control.Snapshot{}, &fakeSessions{infos: []session.Info{
		{ID: "alpha", State: "connected"},
		{ID: "beta", State: "disconnecting"},
	}})

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/sessions", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var got []session.Info
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 || got[0].ID != "alpha" || got[1].State != "disconnecting" {
		t.Errorf("sessions = %+v", got)
	}
}

func TestHandleTelemetry_ServesLastPayloads(t *testing.T) {
	s := newTestServer(control.Snapshot{}, &fakeSessions{})

	s.PublishBattery(protocol.BatteryPayload{Level: 73, Status: protocol.BatteryNormal})

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/telemetry", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var got struct {
		Status  *protocol.StatusPayload  `json:"status"`
		Battery *protocol.BatteryPayload `json:"battery"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != nil {
		t.Error("status should be null before the first publish")
	}
	if got.Battery == nil || got.Battery.Level != 73 {
		t.Errorf("battery = %+v, want level 73", got.Battery)
	}
}

func TestTelemetryWS_ReplayAndLive(t *testing.T) {
	s := newTestServer(control.Snapshot{}, &fakeSessions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub().Run(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.app.Listener(ln)
	defer s.app.Shutdown()

	// Published before anyone connects; a new client gets it as replay.
	s.PublishStatus(protocol.StatusPayload{SpeedScale: 1.2})

	url := "ws://" + ln.Addr().String() + "/ws/telemetry"
	var conn *gws.Conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, _, err = gws.DefaultDialer.Dial(url, nil)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", url, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer conn.Close()

	readEnvelope := func() (string, json.RawMessage) {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read envelope: %v", err)
		}
		return env.Type, env.Data
	}

	typ, raw := readEnvelope()
	if typ != "status" {
		t.Fatalf("first envelope type = %s, want replayed status", typ)
	}
	var status protocol.StatusPayload
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatal(err)
	}
	if status.SpeedScale != 1.2 {
		t.Errorf("replayed SpeedScale = %v, want 1.2", status.SpeedScale)
	}

	// Hub registration races the publish; give it a beat, then stream live.
	time.Sleep(50 * time.Millisecond)
	s.PublishIMU(protocol.IMUPayload{Roll: 3.5})

	typ, raw = readEnvelope()
	if typ != "imu" {
		t.Fatalf("envelope type = %s, want imu", typ)
	}
	var imu protocol.IMUPayload
	if err := json.Unmarshal(raw, &imu); err != nil {
		t.Fatal(err)
	}
	if imu.Roll != 3.5 {
		t.Errorf("Roll = %v, want 3.5", imu.Roll)
	}
}
