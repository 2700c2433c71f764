package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/muurk/vtobridge/internal/protocol"
)

func TestClassifyEvent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    DomainEvent
		wantErr bool
	}{
		{
			name: "doorbell",
			raw:  `{"Action":"Pulse","Code":"BackKeyLight","Index":0,"Data":{"State":2}}`,
			want: DoorbellPressed{RawState: 2},
		},
		{
			name: "lock open",
			raw:  `{"Action":"Pulse","Code":"AccessControl","Data":{"Name":"OpenDoor","Method":4}}`,
			want: LockCommand{Name: LockCommandOpen},
		},
		{
			name: "tamper start",
			raw:  `{"Action":"Start","Code":"ProfileAlarmTransmit","Data":{}}`,
			want: TamperStarted{},
		},
		{
			name: "tamper stop",
			raw:  `{"Action":"Stop","Code":"ProfileAlarmTransmit"}`,
			want: TamperStopped{},
		},
		{
			name: "unknown pair",
			raw:  `{"Action":"Start","Code":"VideoMotion","Data":{}}`,
		},
		{
			name:    "doorbell without state",
			raw:     `{"Action":"Pulse","Code":"BackKeyLight","Data":{}}`,
			wantErr: true,
		},
		{
			name:    "doorbell without data",
			raw:     `{"Action":"Pulse","Code":"BackKeyLight"}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			raw:     `[1,2]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyEvent(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ClassifyEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ClassifyEvent() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDoorbellStateFromCode(t *testing.T) {
	tests := []struct {
		code int
		want DoorbellState
	}{
		{0, DoorbellIdle},
		{1, DoorbellRinging},
		{2, DoorbellCalling},
		{3, DoorbellIdle},
		{5, DoorbellConnected},
		{-1, DoorbellIdle},
	}
	for _, tt := range tests {
		if got := DoorbellStateFromCode(tt.code); got != tt.want {
			t.Errorf("DoorbellStateFromCode(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestEventStreamDispatch(t *testing.T) {
	h := newHarness(t)
	attach := h.ready()

	h.push(attach.ID, `{"Action":"Pulse","Code":"BackKeyLight","Data":{"State":1}},`+
		`{"Action":"Start","Code":"ProfileAlarmTransmit","Data":{}},`+
		`{"Action":"Pulse","Code":"BackKeyLight"},`+
		`{"Action":"Start","Code":"VideoMotion"}`)
	h.push(attach.ID, `{"Action":"Pulse","Code":"BackKeyLight","Data":{"State":5}},`+
		`{"Action":"Stop","Code":"ProfileAlarmTransmit"}`)
	h.push(attach.ID, `{"Action":"Pulse","Code":"BackKeyLight","Data":{"State":0}}`)

	wantBell := []DoorbellState{DoorbellRinging, DoorbellConnected, DoorbellIdle}
	if len(h.sink.doorbell) != len(wantBell) {
		t.Fatalf("doorbell = %v, want %v", h.sink.doorbell, wantBell)
	}
	for i := range wantBell {
		if h.sink.doorbell[i] != wantBell[i] {
			t.Errorf("doorbell[%d] = %s, want %s", i, h.sink.doorbell[i], wantBell[i])
		}
	}
	if len(h.sink.tamper) != 2 || !h.sink.tamper[0] || h.sink.tamper[1] {
		t.Errorf("tamper = %v", h.sink.tamper)
	}

	// The subscription stays registered for further pushes
	if !h.e.sess.pending.has(tagEventStream) {
		t.Error("event stream handler should be retained")
	}
}

func TestEventStreamLinkUpOnFirstPush(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.login()
	for _, call := range h.sent() {
		h.answerCapability(call)
	}
	attach := h.single(protocol.MethodEventAttach)

	h.push(attach.ID, `{"Action":"Pulse","Code":"BackKeyLight","Data":{"State":1}}`)
	h.reply(`{"id":%d,"session":%d,"result":true}`, attach.ID, testSession)

	ups := 0
	for _, up := range h.sink.link {
		if up {
			ups++
		}
	}
	if ups != 1 {
		t.Errorf("link up reported %d times, want 1", ups)
	}
}

func TestEventAttachRejected(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.login()
	for _, call := range h.sent() {
		h.answerCapability(call)
	}
	conn := h.conn
	attach := h.single(protocol.MethodEventAttach)

	h.reply(`{"id":%d,"session":%d,"result":false}`, attach.ID, testSession)

	if h.e.sess != nil {
		t.Fatal("session should be discarded when the attach is rejected")
	}
	if !conn.closed {
		t.Error("connection should be closed")
	}
	if !h.e.keepAlive.armed || h.e.keepAlive.remaining != ReconnectDelay {
		t.Errorf("reconnect in %d, want %d", h.e.keepAlive.remaining, ReconnectDelay)
	}
	for _, up := range h.sink.link {
		if up {
			t.Error("link must not be reported up after a rejected attach")
		}
	}
	if up, ok := h.sink.lastLink(); !ok || up {
		t.Errorf("last link = %v (reported %v), want down", up, ok)
	}
}

func TestLockEvents(t *testing.T) {
	h := newHarness(t)
	attach := h.ready()
	start := h.clock.now()

	h.push(attach.ID, `{"Action":"Pulse","Code":"AccessControl","Data":{"Name":"OpenDoor"}}`)

	if h.e.door.State != Unlocked {
		t.Fatal("door should be unlocked")
	}
	// unlock interval 2 plus one second of slack
	if !h.e.relock.armed || h.e.relock.remaining != 3 {
		t.Errorf("relock = %+v, want 3", h.e.relock)
	}
	if got := h.e.door.UnlockDeadline.Sub(start); got != 3*time.Second {
		t.Errorf("unlock deadline in %v", got)
	}
	if got := h.e.door.HoldUntil.Sub(start); got != 10*time.Second {
		t.Errorf("hold until in %v", got)
	}

	h.push(attach.ID, `{"Action":"Pulse","Code":"AccessControl","Data":{"Name":"CloseDoor"}}`)
	if h.e.door.State != Locked || h.e.relock.armed {
		t.Errorf("door = %+v relock = %+v", h.e.door, h.e.relock)
	}
	if !h.e.door.UnlockDeadline.IsZero() {
		t.Error("unlock deadline should be cleared")
	}

	want := []LockState{Unlocked, Locked}
	if len(h.sink.locks) != 2 || h.sink.locks[0] != want[0] || h.sink.locks[1] != want[1] {
		t.Errorf("locks = %v", h.sink.locks)
	}
}

func TestAutoRelock(t *testing.T) {
	h := newHarness(t)
	attach := h.ready()

	h.push(attach.ID, `{"Action":"Pulse","Code":"AccessControl","Data":{"Name":"OpenDoor"}}`)

	h.ticks(2)
	if h.e.door.State != Unlocked {
		t.Fatal("door relocked too early")
	}
	h.ticks(1)
	if h.e.door.State != Locked {
		t.Fatal("door should relock once the unlock interval elapses")
	}
	if len(h.sink.locks) != 2 || h.sink.locks[1] != Locked {
		t.Errorf("locks = %v", h.sink.locks)
	}
}
