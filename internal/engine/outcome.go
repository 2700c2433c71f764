package engine

import (
	"github.com/muurk/vtobridge/internal/logging"
	"go.uber.org/zap"
)

// outcomeKind is what a response handler tells the loop to do next
type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeChallenge
	outcomeAuthenticated
	outcomeCapability
	outcomeAuthFailed
	outcomeCredentialsRejected
	outcomeSessionLost
	outcomeFailed
	outcomeMalformed
)

type outcome struct {
	kind outcomeKind
	err  error
}

var okOutcome = outcome{kind: outcomeOK}

func failure(kind outcomeKind, err error) outcome {
	return outcome{kind: kind, err: err}
}

// settle applies the session transition a handler asked for. Handlers only
// record data; every connect, login and teardown decision is made here.
func (e *Engine) settle(tag callTag, o outcome) {
	switch o.kind {
	case outcomeOK:

	case outcomeChallenge:
		e.login()

	case outcomeAuthenticated:
		e.startCapabilityLoad()

	case outcomeCapability:
		e.checkCapabilities()

	case outcomeAuthFailed:
		logging.Error("Failed to log into VTO, reconnecting",
			zap.Stringer("call", tag),
			zap.Int("reconnect_in", ReconnectDelay),
			zap.Error(o.err))
		e.dropSession(ReconnectDelay)

	case outcomeCredentialsRejected:
		if e.cfg.HaltOnAuthFailure {
			logging.Error("VTO rejected credentials, not reconnecting",
				zap.String("username", e.cfg.Username),
				zap.Error(o.err))
			e.halt()
			return
		}
		logging.Error("VTO rejected credentials, reconnecting",
			zap.String("username", e.cfg.Username),
			zap.Int("reconnect_in", ReconnectDelay),
			zap.Error(o.err))
		e.dropSession(ReconnectDelay)

	case outcomeSessionLost:
		logging.Error("Session with VTO lost, reconnecting",
			zap.Stringer("call", tag),
			zap.Int("reconnect_in", ReconnectDelay),
			zap.Error(o.err))
		e.dropSession(ReconnectDelay)

	case outcomeFailed:
		logging.Error("Call failed", zap.Stringer("call", tag), zap.Error(o.err))

	case outcomeMalformed:
		logging.Warn("Malformed response", zap.Stringer("call", tag), zap.Error(o.err))
	}
}
