package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/muurk/vtobridge/internal/logging"
	"github.com/muurk/vtobridge/internal/protocol"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// callTag names the purpose of an outstanding call so stale calls of one
// kind can be cancelled before a retry
type callTag int

const (
	tagNone callTag = iota
	tagProbe
	tagLogin
	tagKeepAlive
	tagDeviceType
	tagSoftwareVersion
	tagSerialNumber
	tagFactoryInstance
	tagAccessControl
	tagEventStream
	tagOpenDoor
	tagCloseDoor
)

func (t callTag) String() string {
	switch t {
	case tagProbe:
		return "pre-login"
	case tagLogin:
		return "login"
	case tagKeepAlive:
		return "keep-alive"
	case tagDeviceType:
		return "device-type"
	case tagSoftwareVersion:
		return "software-version"
	case tagSerialNumber:
		return "serial-number"
	case tagFactoryInstance:
		return "access-control-instance"
	case tagAccessControl:
		return "access-control-config"
	case tagEventStream:
		return "event-stream"
	case tagOpenDoor:
		return "open-door"
	case tagCloseDoor:
		return "close-door"
	default:
		return "none"
	}
}

// responseHandler is the continuation run when a call's reply arrives
type responseHandler func(resp *protocol.Response) outcome

type pendingCall struct {
	tag     callTag
	handler responseHandler
	// retain keeps the handler registered after it fires, for subscriptions
	// whose pushes arrive under the original call id
	retain bool
}

// pendingTable maps request ids to their continuations
type pendingTable struct {
	calls map[int64]pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[int64]pendingCall)}
}

func (t *pendingTable) register(id int64, call pendingCall) error {
	if _, exists := t.calls[id]; exists {
		return fmt.Errorf("request id %d is already pending", id)
	}
	t.calls[id] = call
	return nil
}

// take returns the call for id, removing it unless it is retained
func (t *pendingTable) take(id int64) (pendingCall, bool) {
	call, ok := t.calls[id]
	if ok && !call.retain {
		delete(t.calls, id)
	}
	return call, ok
}

func (t *pendingTable) remove(id int64) {
	delete(t.calls, id)
}

// cancelTag drops every outstanding call with the given tag and returns how
// many were dropped
func (t *pendingTable) cancelTag(tag callTag) int {
	n := 0
	for id, call := range t.calls {
		if call.tag == tag {
			delete(t.calls, id)
			n++
		}
	}
	return n
}

func (t *pendingTable) has(tag callTag) bool {
	for _, call := range t.calls {
		if call.tag == tag {
			return true
		}
	}
	return false
}

func (t *pendingTable) len() int {
	return len(t.calls)
}

// send registers handler under a fresh request id, then frames and writes
// the call. The handler is registered before the write so a fast reply can
// never miss it.
func (e *Engine) send(tag callTag, method string, params any, object *int64, handler responseHandler, retain bool) (int64, error) {
	if e.conn == nil || e.sess == nil {
		return 0, ErrNotConnected
	}

	s := e.sess
	id := s.nextID()
	if err := s.pending.register(id, pendingCall{tag: tag, handler: handler, retain: retain}); err != nil {
		return 0, err
	}

	req := &protocol.Request{
		ID:      id,
		Session: s.ID,
		Method:  method,
		Params:  params,
		Object:  object,
	}
	frame, err := protocol.Encode(req)
	if err != nil {
		s.pending.remove(id)
		return 0, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	logging.LogFrame(e.address(), "sent", frame[protocol.HeaderSize:])

	if dl, ok := e.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = dl.SetWriteDeadline(time.Now().Add(writeWait))
	}
	if _, err := e.conn.Write(frame); err != nil {
		s.pending.remove(id)
		// The reader sees the closed link and reports the drop on the loop
		_ = e.conn.Close()
		return 0, fmt.Errorf("failed to send %s: %w", method, ClassifyTransportError(err, e.address()))
	}
	return id, nil
}

// route hands one decoded message to the continuation registered for its id
func (e *Engine) route(raw json.RawMessage) {
	resp, err := protocol.ParseResponse(raw)
	if err != nil {
		logging.Warn("Dropping unparseable message", zap.Error(err), zap.Int("size", len(raw)))
		return
	}
	if resp.ID == nil {
		logging.Warn("Dropping message without id", zap.String("method", resp.Method))
		return
	}
	if e.sess == nil {
		logging.Debug("Dropping message for discarded session", zap.Int64("id", *resp.ID))
		return
	}

	call, ok := e.sess.pending.take(*resp.ID)
	if !ok {
		logging.Info("Data received without handler",
			zap.Int64("id", *resp.ID),
			zap.String("method", resp.Method),
			zap.ByteString("body", raw))
		return
	}

	e.settle(call.tag, call.handler(resp))
}
