package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/vtobridge/internal/engine"
	"github.com/muurk/vtobridge/internal/integration"
)

type fakeController struct {
	openErr  error
	closeErr error
	snap     engine.Snapshot
	snapErr  error
	opened   int
	closed   int
}

func (f *fakeController) OpenDoor(context.Context) error {
	f.opened++
	return f.openErr
}

func (f *fakeController) CloseDoor(context.Context) error {
	f.closed++
	return f.closeErr
}

func (f *fakeController) Snapshot(context.Context) (engine.Snapshot, error) {
	return f.snap, f.snapErr
}

func newTestServer(t *testing.T, ctrl Controller) (*Server, *integration.Tracker, *Hub) {
	t.Helper()
	tracker := integration.NewTracker()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return New(Config{Listen: "127.0.0.1:0"}, ctrl, tracker, hub), tracker, hub
}

func TestStatus(t *testing.T) {
	ctrl := &fakeController{snap: engine.Snapshot{
		Address:     "10.0.0.5:5000",
		Connected:   true,
		Phase:       "authenticated",
		DoorControl: true,
		Details:     engine.DahuaDetails{DeviceType: "VTO2111D", SerialNumber: "ABC123"},
	}}
	srv, tracker, _ := newTestServer(t, ctrl)
	tracker.LinkChanged(true)
	tracker.DoorbellChanged(engine.DoorbellRinging)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Engine struct {
			Address string `json:"address"`
			Details struct {
				DeviceType string `json:"device_type"`
			} `json:"details"`
			Door struct {
				State string `json:"state"`
			} `json:"door"`
		} `json:"engine"`
		State struct {
			Doorbell string `json:"doorbell"`
			Online   bool   `json:"online"`
		} `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if body.Engine.Address != "10.0.0.5:5000" {
		t.Errorf("address = %q", body.Engine.Address)
	}
	if body.Engine.Door.State != "locked" {
		t.Errorf("door state = %q, want locked", body.Engine.Door.State)
	}
	if body.State.Doorbell != "ringing" || !body.State.Online {
		t.Errorf("state = %+v", body.State)
	}
}

func TestStatusEngineUnavailable(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeController{snapErr: engine.ErrStopped})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestDoorCommands(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
	}{
		{"open accepted", "/api/door/open", nil, http.StatusAccepted},
		{"close accepted", "/api/door/close", nil, http.StatusAccepted},
		{"open on hold", "/api/door/open", engine.ErrDoorOnHold, http.StatusConflict},
		{"open not connected", "/api/door/open", engine.ErrNotConnected, http.StatusServiceUnavailable},
		{"close not connected", "/api/door/close", engine.ErrNotConnected, http.StatusServiceUnavailable},
		{"open without instance", "/api/door/open", engine.ErrDoorControlUnavailable, http.StatusServiceUnavailable},
		{"open timed out", "/api/door/open", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"open write failed", "/api/door/open", fmt.Errorf("send: %w", errors.New("broken pipe")), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{openErr: tt.err, closeErr: tt.err}
			srv, _, _ := newTestServer(t, ctrl)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if strings.HasSuffix(tt.path, "open") && ctrl.opened != 1 {
				t.Errorf("OpenDoor called %d times", ctrl.opened)
			}
			if strings.HasSuffix(tt.path, "close") && ctrl.closed != 1 {
				t.Errorf("CloseDoor called %d times", ctrl.closed)
			}

			var resp DoorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if tt.err == nil && resp.Status != "accepted" {
				t.Errorf("status field = %q", resp.Status)
			}
			if tt.err != nil && resp.Error == "" {
				t.Error("rejection should carry an error message")
			}
		})
	}
}

func TestDoorRequiresPost(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeController{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/door/open", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	srv, _, hub := newTestServer(t, &fakeController{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sink := integration.NewEnvelopeSink(hub)
	sink.DoorbellChanged(engine.DoorbellRinging)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		ID      string          `json:"id"`
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if env.Type != string(integration.EventDoorbell) {
		t.Errorf("type = %q", env.Type)
	}
	if env.ID == "" {
		t.Error("envelope should carry an id")
	}
	if !strings.Contains(string(env.Payload), "ringing") {
		t.Errorf("payload = %s", env.Payload)
	}
}

func TestWebSocketClientLeaves(t *testing.T) {
	srv, _, hub := newTestServer(t, &fakeController{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	// Run starts the hub itself
	srv := New(Config{Listen: "127.0.0.1:0"}, &fakeController{}, integration.NewTracker(), NewHub())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
