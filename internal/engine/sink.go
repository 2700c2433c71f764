package engine

import (
	"context"
	"fmt"
)

// DoorbellState is the observable state of the call button
type DoorbellState int

const (
	DoorbellIdle DoorbellState = iota
	DoorbellRinging
	DoorbellCalling
	DoorbellConnected
)

// DoorbellStateFromCode maps the BackKeyLight State code to a doorbell state
func DoorbellStateFromCode(code int) DoorbellState {
	switch code {
	case 1:
		return DoorbellRinging
	case 2:
		return DoorbellCalling
	case 5:
		return DoorbellConnected
	default:
		return DoorbellIdle
	}
}

func (s DoorbellState) String() string {
	switch s {
	case DoorbellIdle:
		return "idle"
	case DoorbellRinging:
		return "ringing"
	case DoorbellCalling:
		return "calling"
	case DoorbellConnected:
		return "connected"
	default:
		return fmt.Sprintf("DoorbellState(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON and YAML output
func (s DoorbellState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LockState is the derived state of the door relay
type LockState int

const (
	Locked LockState = iota
	Unlocked
)

func (s LockState) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("LockState(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON and YAML output
func (s LockState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sink receives the engine's outward signals. Methods are called from the
// engine loop and must not block; implementations that do I/O hand off to
// their own goroutines.
type Sink interface {
	DoorbellChanged(state DoorbellState)
	LockChanged(state LockState)
	TamperChanged(active bool)
	// LinkChanged reports the "initialized / link down" indicator. It goes
	// up once the event stream is attached and down on every session drop.
	LinkChanged(up bool)
}

// Commander is the inbound command surface exposed to integrations
type Commander interface {
	OpenDoor(ctx context.Context) error
	CloseDoor(ctx context.Context) error
}

// NopSink discards all signals
type NopSink struct{}

func (NopSink) DoorbellChanged(DoorbellState) {}
func (NopSink) LockChanged(LockState)         {}
func (NopSink) TamperChanged(bool)            {}
func (NopSink) LinkChanged(bool)              {}
