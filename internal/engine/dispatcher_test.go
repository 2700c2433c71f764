package engine

import (
	"testing"

	"github.com/muurk/vtobridge/internal/protocol"
)

func TestPendingTable(t *testing.T) {
	table := newPendingTable()
	noop := func(*protocol.Response) outcome { return okOutcome }

	if err := table.register(2, pendingCall{tag: tagDeviceType, handler: noop}); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	if err := table.register(2, pendingCall{tag: tagDeviceType, handler: noop}); err == nil {
		t.Fatal("duplicate id should be rejected")
	}
	if err := table.register(3, pendingCall{tag: tagEventStream, handler: noop, retain: true}); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	if err := table.register(4, pendingCall{tag: tagDeviceType, handler: noop}); err != nil {
		t.Fatalf("register() error = %v", err)
	}

	if _, ok := table.take(2); !ok {
		t.Fatal("take(2) should find the call")
	}
	if _, ok := table.take(2); ok {
		t.Fatal("non-retained call should be removed after take")
	}

	for i := 0; i < 3; i++ {
		if _, ok := table.take(3); !ok {
			t.Fatalf("retained call missing on take %d", i+1)
		}
	}

	if n := table.cancelTag(tagDeviceType); n != 1 {
		t.Errorf("cancelTag() = %d, want 1", n)
	}
	if table.has(tagDeviceType) {
		t.Error("cancelled tag still pending")
	}
	if table.len() != 1 {
		t.Errorf("len() = %d, want 1", table.len())
	}
}

func TestNonRetainedHandlerFiresOnce(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.login()

	calls := h.sent()
	deviceType, ok := findCall(calls, protocol.MethodGetDeviceType)
	if !ok {
		t.Fatal("device type not requested")
	}

	h.reply(`{"id":%d,"session":%d,"result":true,"params":{"type":"VTO2202F"}}`, deviceType.ID, testSession)
	h.reply(`{"id":%d,"session":%d,"result":true,"params":{"type":"OTHER"}}`, deviceType.ID, testSession)

	if got := h.e.sess.Caps.Details.DeviceType; got != "VTO2202F" {
		t.Errorf("device type = %q, handler ran twice", got)
	}
}

func TestRouteIgnoresUnroutableMessages(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.single(protocol.MethodLogin)

	h.reply(`{"method":"client.notifyEventStream","params":{"eventList":[]}}`)
	h.reply(`{"id":99,"session":1,"result":true}`)
	h.e.route([]byte(`not json`))

	if h.e.sess == nil || h.e.sess.pending.len() != 1 {
		t.Fatal("unroutable messages must not disturb the session")
	}
}
