package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/muurk/vtobridge/internal/protocol"
)

const (
	testUsername = "admin"
	testPassword = "admin123"
	testRealm    = "Login to 4L0123456789ABC"
	testRandom   = "1234567890"
	testSession  = 1234
)

const testInstance int64 = 3077475800

// fakeConn records everything the engine writes
type fakeConn struct {
	buf        bytes.Buffer
	closed     bool
	failWrites bool
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.closed || c.failWrites {
		return 0, io.ErrClosedPipe
	}
	return c.buf.Write(p)
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// sentCall is a request as seen on the wire
type sentCall struct {
	ID      int64           `json:"id"`
	Session int64           `json:"session"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Object  *int64          `json:"object"`
}

func (c *fakeConn) drain(t *testing.T) []sentCall {
	t.Helper()
	dec := protocol.NewDecoder()
	msgs := dec.Decode(c.buf.Bytes())
	c.buf.Reset()
	if dec.Fallbacks != 0 {
		t.Fatalf("engine wrote %d badly framed messages", dec.Fallbacks)
	}

	calls := make([]sentCall, len(msgs))
	for i, m := range msgs {
		if err := json.Unmarshal(m, &calls[i]); err != nil {
			t.Fatalf("failed to decode sent call %s: %v", m, err)
		}
	}
	return calls
}

type recordingSink struct {
	doorbell []DoorbellState
	locks    []LockState
	tamper   []bool
	link     []bool
}

func (s *recordingSink) DoorbellChanged(state DoorbellState) { s.doorbell = append(s.doorbell, state) }
func (s *recordingSink) LockChanged(state LockState)         { s.locks = append(s.locks, state) }
func (s *recordingSink) TamperChanged(active bool)           { s.tamper = append(s.tamper, active) }
func (s *recordingSink) LinkChanged(up bool)                 { s.link = append(s.link, up) }

func (s *recordingSink) lastLink() (bool, bool) {
	if len(s.link) == 0 {
		return false, false
	}
	return s.link[len(s.link)-1], true
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// harness drives an engine synchronously, bypassing Run
type harness struct {
	t     *testing.T
	e     *Engine
	conn  *fakeConn
	sink  *recordingSink
	clock *fakeClock
	calls []sentCall
}

var errDialDisabled = errors.New("dial disabled")

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := Config{Address: "192.0.2.10", Username: testUsername, Password: testPassword}
	for _, m := range mutate {
		m(&cfg)
	}

	h := &harness{
		t:     t,
		sink:  &recordingSink{},
		clock: &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.e = New(cfg, h.sink,
		WithClock(h.clock.now),
		WithDialer(func(context.Context, string, string) (net.Conn, error) {
			return nil, errDialDisabled
		}))
	return h
}

// connect attaches a fresh fake connection, which sends the pre-login
func (h *harness) connect() {
	h.conn = &fakeConn{}
	h.e.attach(h.conn)
}

func (h *harness) reply(format string, args ...any) {
	h.e.route(json.RawMessage(fmt.Sprintf(format, args...)))
}

// sent returns the calls written since the last call to sent
func (h *harness) sent() []sentCall {
	h.t.Helper()
	calls := h.conn.drain(h.t)
	h.calls = append(h.calls, calls...)
	return calls
}

func (h *harness) single(method string) sentCall {
	h.t.Helper()
	calls := h.sent()
	if len(calls) != 1 {
		h.t.Fatalf("expected one %s call, got %d: %+v", method, len(calls), calls)
	}
	if calls[0].Method != method {
		h.t.Fatalf("expected %s, got %s", method, calls[0].Method)
	}
	return calls[0]
}

func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.e.tick()
	}
}

func (h *harness) login() {
	h.t.Helper()
	probe := h.single(protocol.MethodLogin)
	h.reply(`{"id":%d,"session":%d,"error":{"code":268632079,"message":"Component error: login challenge!"},"params":{"random":%q,"realm":%q,"encryption":"Default"}}`,
		probe.ID, testSession, testRandom, testRealm)

	login := h.single(protocol.MethodLogin)
	h.reply(`{"id":%d,"session":%d,"result":true,"params":{"keepAliveInterval":60}}`, login.ID, testSession)
}

func (h *harness) answerCapability(call sentCall) {
	h.t.Helper()
	switch call.Method {
	case protocol.MethodGetDeviceType:
		h.reply(`{"id":%d,"session":%d,"result":true,"params":{"type":"VTO2202F"}}`, call.ID, testSession)
	case protocol.MethodGetSoftwareVersion:
		h.reply(`{"id":%d,"session":%d,"result":true,"params":{"version":{"Version":"4.500.0000000.0.R","BuildDate":"2020-02-17"}}}`, call.ID, testSession)
	case protocol.MethodFactoryInstance:
		h.reply(`{"id":%d,"session":%d,"result":%d}`, call.ID, testSession, testInstance)
	case protocol.MethodGetConfig:
		var p protocol.GetConfigParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			h.t.Fatalf("bad getConfig params: %v", err)
		}
		switch p.Name {
		case protocol.ConfigT2UServer:
			h.reply(`{"id":%d,"session":%d,"result":true,"params":{"table":{"UUID":"8L0ABC123"}}}`, call.ID, testSession)
		case protocol.ConfigAccessControl:
			h.reply(`{"id":%d,"session":%d,"result":true,"params":{"table":[{"AccessProtocol":"Local","UnlockReloadInterval":10,"UnlockHoldInterval":2}]}}`, call.ID, testSession)
		default:
			h.t.Fatalf("unexpected config %q", p.Name)
		}
	default:
		h.t.Fatalf("unexpected capability call %s", call.Method)
	}
}

// ready logs in, answers every capability call and confirms the event
// attach. It returns the attach call.
func (h *harness) ready() sentCall {
	h.t.Helper()
	h.connect()
	h.login()

	calls := h.sent()
	if len(calls) != len(allCapabilities) {
		h.t.Fatalf("expected %d capability calls, got %d", len(allCapabilities), len(calls))
	}
	for _, call := range calls {
		h.answerCapability(call)
	}

	attach := h.single(protocol.MethodEventAttach)
	h.reply(`{"id":%d,"session":%d,"result":true}`, attach.ID, testSession)
	return attach
}

func (h *harness) push(attachID int64, events string) {
	h.reply(`{"id":%d,"session":%d,"method":"client.notifyEventStream","params":{"SID":513,"eventList":[%s]}}`,
		attachID, testSession, events)
}

func findCall(calls []sentCall, method string) (sentCall, bool) {
	for _, c := range calls {
		if c.Method == method {
			return c, true
		}
	}
	return sentCall{}, false
}
