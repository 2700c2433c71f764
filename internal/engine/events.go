package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/muurk/vtobridge/internal/logging"
	"github.com/muurk/vtobridge/internal/protocol"
	"go.uber.org/zap"
)

// Event actions and codes the engine acts on
const (
	ActionPulse = "Pulse"
	ActionStart = "Start"
	ActionStop  = "Stop"

	CodeBackKeyLight         = "BackKeyLight"
	CodeAccessControl        = "AccessControl"
	CodeProfileAlarmTransmit = "ProfileAlarmTransmit"

	LockCommandOpen  = "OpenDoor"
	LockCommandClose = "CloseDoor"
)

// DomainEvent is a device event the engine understands
type DomainEvent interface {
	eventName() string
}

// DoorbellPressed carries the raw BackKeyLight state code
type DoorbellPressed struct {
	RawState int
}

// LockCommand reports a lock action taken on the device itself
type LockCommand struct {
	Name string
}

// TamperStarted reports the tamper alarm going off
type TamperStarted struct{}

// TamperStopped reports the tamper alarm clearing
type TamperStopped struct{}

func (DoorbellPressed) eventName() string { return "doorbell" }
func (LockCommand) eventName() string     { return "lock" }
func (TamperStarted) eventName() string   { return "tamper-start" }
func (TamperStopped) eventName() string   { return "tamper-stop" }

// ClassifyEvent turns a raw event into a domain event. Unrecognised
// action/code pairs return a nil event and no error.
func ClassifyEvent(raw json.RawMessage) (DomainEvent, error) {
	var ev protocol.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}

	switch {
	case ev.Action == ActionPulse && ev.Code == CodeBackKeyLight:
		var data struct {
			State *int `json:"State"`
		}
		if err := decodeEventData(ev.Data, &data); err != nil {
			return nil, err
		}
		if data.State == nil {
			return nil, errors.New("BackKeyLight event without State")
		}
		return DoorbellPressed{RawState: *data.State}, nil

	case ev.Action == ActionPulse && ev.Code == CodeAccessControl:
		var data struct {
			Name string `json:"Name"`
		}
		if err := decodeEventData(ev.Data, &data); err != nil {
			return nil, err
		}
		return LockCommand{Name: data.Name}, nil

	case ev.Action == ActionStart && ev.Code == CodeProfileAlarmTransmit:
		return TamperStarted{}, nil

	case ev.Action == ActionStop && ev.Code == CodeProfileAlarmTransmit:
		return TamperStopped{}, nil
	}

	return nil, nil
}

func decodeEventData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("event without Data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode event data: %w", err)
	}
	return nil
}

// subscribeEvents attaches to the device event stream once per session
func (e *Engine) subscribeEvents() {
	s := e.sess
	if s == nil || s.subscribed {
		return
	}

	logging.Info("Attaching to event stream")
	if _, err := e.send(tagEventStream, protocol.MethodEventAttach,
		protocol.AttachParams{Codes: []string{"All"}}, nil, e.handleEventStream, true); err != nil {
		logging.Error("Failed to attach to event stream", zap.Error(err))
		return
	}
	s.subscribed = true
}

// handleEventStream receives the attach reply and every pushed batch, all
// delivered under the attach call's id
func (e *Engine) handleEventStream(resp *protocol.Response) outcome {
	if resp.Method != protocol.MethodNotifyEventStream {
		if !resp.Succeeded() {
			// Without the event stream the session has nothing to deliver
			return failure(outcomeSessionLost, fmt.Errorf("event attach rejected: %s", resp.ErrorMessage()))
		}
		e.markAttached()
		return okOutcome
	}

	e.markAttached()

	var stream protocol.EventStream
	if err := resp.DecodeParams(&stream); err != nil {
		return failure(outcomeMalformed, err)
	}

	for i, raw := range stream.EventList {
		ev, err := ClassifyEvent(raw)
		if err != nil {
			logging.Warn("Failed to handle event", zap.Int("index", i), zap.Error(err))
			continue
		}
		if ev == nil {
			if logging.DebugEnabled() {
				logging.Debug("Ignoring event", zap.ByteString("event", raw))
			}
			continue
		}
		e.applyEvent(ev)
	}
	return okOutcome
}

func (e *Engine) markAttached() {
	s := e.sess
	if s.attached {
		return
	}
	s.attached = true
	logging.Info("Attached to event stream")
	e.sink.LinkChanged(true)
}

func (e *Engine) applyEvent(ev DomainEvent) {
	logging.Debug("Device event", zap.String("event", ev.eventName()))

	switch ev := ev.(type) {
	case DoorbellPressed:
		state := DoorbellStateFromCode(ev.RawState)
		logging.Info("Doorbell", zap.Stringer("state", state), zap.Int("raw_state", ev.RawState))
		e.sink.DoorbellChanged(state)

	case LockCommand:
		switch ev.Name {
		case LockCommandOpen:
			logging.Info("Door opened")
			e.markUnlocked()
		case LockCommandClose:
			logging.Info("Door closed")
			e.markLocked()
		default:
			logging.Debug("Ignoring access control event", zap.String("name", ev.Name))
		}

	case TamperStarted:
		logging.Warn("Tamper alarm started")
		e.sink.TamperChanged(true)

	case TamperStopped:
		logging.Info("Tamper alarm stopped")
		e.sink.TamperChanged(false)
	}
}
