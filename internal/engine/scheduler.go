package engine

import (
	"errors"

	"github.com/muurk/vtobridge/internal/logging"
	"github.com/muurk/vtobridge/internal/protocol"
	"go.uber.org/zap"
)

const (
	// ReconnectDelay is the wait in seconds before redialing after any drop
	ReconnectDelay = 30

	keepAliveResend         = 3
	maxUnansweredKeepAlives = 3
	handshakeTimeout        = 30
)

// tick advances every countdown by one second. It runs on the engine loop
// once per TickInterval.
func (e *Engine) tick() {
	if e.sess != nil {
		e.tickSession()
	} else if !e.dialing && !e.halted && e.keepAlive.tick() {
		e.connect()
	}

	if e.relock.tick() {
		logging.Info("Unlock interval elapsed, marking door locked")
		e.markLocked()
	}
}

func (e *Engine) tickSession() {
	s := e.sess
	if s.handshake.tick() {
		logging.Error("Handshake with VTO timed out",
			zap.Stringer("phase", s.phase),
			zap.Int("reconnect_in", ReconnectDelay))
		e.dropSession(ReconnectDelay)
		return
	}

	if s.retry.tick() {
		e.retryCapabilities()
	}

	if e.sess == s && e.keepAlive.tick() {
		e.sendKeepAlive()
	}
}

// sendKeepAlive pings the device. The timer is re-armed to the short resend
// interval until a reply arrives.
func (e *Engine) sendKeepAlive() {
	s := e.sess
	if !s.Authenticated {
		return
	}

	if s.keepAlivesUnack >= maxUnansweredKeepAlives {
		e.settle(tagKeepAlive, failure(outcomeSessionLost, errors.New("keep alive unanswered")))
		return
	}

	logging.Debug("Sending keep alive", zap.Int("unanswered", s.keepAlivesUnack))
	e.keepAlive.arm(keepAliveResend)
	s.keepAlivesUnack++

	params := protocol.KeepAliveParams{Timeout: s.KeepAliveInterval, Action: true}
	if _, err := e.send(tagKeepAlive, protocol.MethodKeepAlive, params, nil, e.handleKeepAlive, false); err != nil {
		logging.Error("Failed to send keep alive", zap.Error(err))
	}
}

func (e *Engine) handleKeepAlive(resp *protocol.Response) outcome {
	if !resp.Succeeded() {
		return failure(outcomeSessionLost, errors.New("keep alive rejected: "+resp.ErrorMessage()))
	}
	e.sess.keepAlivesUnack = 0
	e.keepAlive.arm(e.sess.KeepAliveInterval)
	return okOutcome
}
