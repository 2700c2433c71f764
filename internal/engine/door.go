package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/muurk/vtobridge/internal/logging"
	"github.com/muurk/vtobridge/internal/protocol"
	"go.uber.org/zap"
)

// DoorLockState is the engine's view of the relay. UnlockDeadline and
// HoldUntil are zero when not set.
type DoorLockState struct {
	State          LockState `json:"state"`
	UnlockDeadline time.Time `json:"unlock_deadline,omitempty"`
	HoldUntil      time.Time `json:"hold_until,omitempty"`
}

// OnHold reports whether a new unlock is still suppressed at now
func (d DoorLockState) OnHold(now time.Time) bool {
	return !d.HoldUntil.IsZero() && !now.After(d.HoldUntil)
}

// markUnlocked records an unlock and arms the relock and hold windows from
// the loaded access control config
func (e *Engine) markUnlocked() {
	now := e.now()
	e.door.State = Unlocked

	var caps Capabilities
	if e.sess != nil {
		caps = e.sess.Caps
	}

	if caps.UnlockInterval != nil {
		secs := *caps.UnlockInterval + 1
		e.door.UnlockDeadline = now.Add(time.Duration(secs) * time.Second)
		e.relock.arm(secs)
	}
	if caps.HoldTime != nil && *caps.HoldTime > 0 {
		e.door.HoldUntil = now.Add(time.Duration(*caps.HoldTime) * time.Second)
	}

	e.sink.LockChanged(Unlocked)
}

// markLocked records the relay closing and cancels any pending auto-relock
func (e *Engine) markLocked() {
	e.door.State = Locked
	e.door.UnlockDeadline = time.Time{}
	e.relock.disarm()
	e.sink.LockChanged(Locked)
}

func (e *Engine) openDoor() error {
	if !e.authenticated() {
		return ErrNotConnected
	}
	if e.door.OnHold(e.now()) {
		logging.Error("Not sending open door command, lock is on hold",
			zap.Time("hold_until", e.door.HoldUntil))
		return ErrDoorOnHold
	}
	instance := e.sess.Caps.FactoryInstance
	if instance == nil {
		logging.Warn("Not sending open door command, access control instance unknown")
		return ErrDoorControlUnavailable
	}

	logging.Info("Sending open door command", zap.Int64("object", *instance))
	_, err := e.send(tagOpenDoor, protocol.MethodOpenDoor, protocol.DoorParams{}, instance, e.handleOpenDoor, false)
	return err
}

func (e *Engine) closeDoor() error {
	if !e.authenticated() {
		return ErrNotConnected
	}
	instance := e.sess.Caps.FactoryInstance
	if instance == nil {
		logging.Warn("Not sending close door command, access control instance unknown")
		return ErrDoorControlUnavailable
	}

	logging.Info("Sending close door command", zap.Int64("object", *instance))
	_, err := e.send(tagCloseDoor, protocol.MethodCloseDoor, protocol.DoorParams{}, instance, e.handleCloseDoor, false)
	return err
}

func (e *Engine) handleOpenDoor(resp *protocol.Response) outcome {
	if !resp.Succeeded() {
		return failure(outcomeFailed, fmt.Errorf("open door rejected: %s", resp.ErrorMessage()))
	}
	// The AccessControl event that follows drives the lock state
	logging.Info("Open door command accepted")
	return okOutcome
}

func (e *Engine) handleCloseDoor(resp *protocol.Response) outcome {
	if !resp.Succeeded() {
		if resp.Error != nil {
			return failure(outcomeFailed, fmt.Errorf("close door rejected: %w", resp.Error))
		}
		return failure(outcomeFailed, errors.New("close door rejected"))
	}
	logging.Info("Close door command accepted")
	e.markLocked()
	return okOutcome
}
