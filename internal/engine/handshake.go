package engine

import (
	"errors"
	"fmt"

	"github.com/muurk/vtobridge/internal/logging"
	"github.com/muurk/vtobridge/internal/protocol"
	"go.uber.org/zap"
)

// keepAliveMargin is subtracted from the server's keepalive interval so
// pings land before the device expires the session
const keepAliveMargin = 5

// defaultKeepAliveInterval is used when a login reply omits the interval
const defaultKeepAliveInterval = 60

// preLogin sends the anonymous login whose expected failure carries the
// challenge
func (e *Engine) preLogin() {
	logging.Info("Sending pre-login to VTO", zap.String("username", e.cfg.Username))
	e.sess.phase = phaseProbeSent
	if _, err := e.send(tagProbe, protocol.MethodLogin, protocol.NewProbeLogin(e.cfg.Username), nil, e.handlePreLogin, false); err != nil {
		logging.Error("Failed to send pre-login", zap.Error(err))
	}
}

func (e *Engine) handlePreLogin(resp *protocol.Response) outcome {
	if resp.Error == nil {
		return failure(outcomeAuthFailed, errors.New("anonymous login did not return a challenge"))
	}
	if resp.Error.Message != protocol.LoginChallengeMessage {
		return failure(outcomeAuthFailed, fmt.Errorf("unexpected pre-login error: %w", resp.Error))
	}

	var ch protocol.Challenge
	if err := resp.DecodeParams(&ch); err != nil {
		return failure(outcomeAuthFailed, fmt.Errorf("login challenge unreadable: %w", err))
	}
	if ch.Random == "" || ch.Realm == "" {
		return failure(outcomeAuthFailed, errors.New("login challenge missing random or realm"))
	}

	s := e.sess
	s.ID = int64(resp.Session)
	s.Random = ch.Random
	s.Realm = ch.Realm
	s.phase = phaseChallengeReceived

	logging.Debug("Received login challenge",
		zap.Int64("session", s.ID),
		zap.String("realm", ch.Realm),
		zap.String("encryption", ch.Encryption))

	return outcome{kind: outcomeChallenge}
}

// login answers the challenge with the hashed credentials
func (e *Engine) login() {
	s := e.sess
	if s == nil {
		return
	}

	token := protocol.HashPassword(e.cfg.Username, e.cfg.Password, s.Realm, s.Random)
	s.Random = ""
	s.Realm = ""
	s.phase = phaseLoginSent

	logging.Info("Sending login to VTO", zap.Int64("session", s.ID))
	if _, err := e.send(tagLogin, protocol.MethodLogin, protocol.NewAuthenticatedLogin(e.cfg.Username, token), nil, e.handleLogin, false); err != nil {
		logging.Error("Failed to send login", zap.Error(err))
	}
}

func (e *Engine) handleLogin(resp *protocol.Response) outcome {
	if !resp.Succeeded() {
		if resp.Error != nil {
			return failure(outcomeCredentialsRejected, resp.Error)
		}
		return failure(outcomeAuthFailed, errors.New("login returned no result"))
	}

	var res protocol.LoginResult
	if err := resp.DecodeParams(&res); err != nil || res.KeepAliveInterval <= 0 {
		logging.Warn("Login reply carried no keepalive interval, using default",
			zap.Int("default", defaultKeepAliveInterval))
		res.KeepAliveInterval = defaultKeepAliveInterval
	}

	interval := res.KeepAliveInterval - keepAliveMargin
	if interval < 1 {
		interval = 1
	}

	s := e.sess
	s.KeepAliveInterval = interval
	s.Authenticated = true
	s.phase = phaseAuthenticated
	s.handshake.disarm()
	e.keepAlive.arm(interval)

	logging.Info("Logged into VTO",
		zap.Int64("session", s.ID),
		zap.Int("keepalive_interval", interval))

	return outcome{kind: outcomeAuthenticated}
}
