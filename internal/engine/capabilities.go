package engine

import (
	"errors"
	"fmt"

	"github.com/muurk/vtobridge/internal/logging"
	"github.com/muurk/vtobridge/internal/protocol"
	"go.uber.org/zap"
)

const (
	capabilityRetryInterval = 5
	capabilityRetryRounds   = 3
)

// capability is one of the independent post-login queries
type capability int

const (
	capDeviceType capability = iota
	capSoftwareVersion
	capSerialNumber
	capFactoryInstance
	capAccessControl
)

var allCapabilities = []capability{
	capDeviceType,
	capSoftwareVersion,
	capSerialNumber,
	capFactoryInstance,
	capAccessControl,
}

func (c capability) tag() callTag {
	switch c {
	case capDeviceType:
		return tagDeviceType
	case capSoftwareVersion:
		return tagSoftwareVersion
	case capSerialNumber:
		return tagSerialNumber
	case capFactoryInstance:
		return tagFactoryInstance
	case capAccessControl:
		return tagAccessControl
	default:
		return tagNone
	}
}

func (c capability) String() string {
	return c.tag().String()
}

func capabilityNames(caps []capability) []string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.String()
	}
	return names
}

// startCapabilityLoad issues every capability call and arms the retry timer
func (e *Engine) startCapabilityLoad() {
	s := e.sess
	s.retriesLeft = capabilityRetryRounds
	for _, c := range allCapabilities {
		e.loadCapability(c)
	}
	s.retry.arm(capabilityRetryInterval)
}

// loadCapability cancels any outstanding call for c and issues it again
func (e *Engine) loadCapability(c capability) {
	if n := e.sess.pending.cancelTag(c.tag()); n > 0 {
		logging.Debug("Cancelled stale capability call", zap.Stringer("capability", c), zap.Int("count", n))
	}

	var err error
	switch c {
	case capDeviceType:
		logging.Info("Getting device type")
		_, err = e.send(tagDeviceType, protocol.MethodGetDeviceType, nil, nil, e.handleDeviceType, false)
	case capSoftwareVersion:
		logging.Info("Getting software version")
		_, err = e.send(tagSoftwareVersion, protocol.MethodGetSoftwareVersion, nil, nil, e.handleSoftwareVersion, false)
	case capSerialNumber:
		logging.Info("Getting serial number")
		_, err = e.send(tagSerialNumber, protocol.MethodGetConfig,
			protocol.GetConfigParams{Name: protocol.ConfigT2UServer}, nil, e.handleSerialNumber, false)
	case capFactoryInstance:
		logging.Info("Getting access control instance")
		_, err = e.send(tagFactoryInstance, protocol.MethodFactoryInstance,
			protocol.FactoryInstanceParams{Channel: 0}, nil, e.handleFactoryInstance, false)
	case capAccessControl:
		logging.Info("Getting access control configuration")
		_, err = e.send(tagAccessControl, protocol.MethodGetConfig,
			protocol.GetConfigParams{Name: protocol.ConfigAccessControl}, nil, e.handleAccessControl, false)
	}
	if err != nil {
		logging.Warn("Failed to request capability", zap.Stringer("capability", c), zap.Error(err))
	}
}

func (e *Engine) handleDeviceType(resp *protocol.Response) outcome {
	var res protocol.DeviceTypeResult
	if err := resp.DecodeParams(&res); err != nil {
		return failure(outcomeMalformed, err)
	}
	if res.Type == "" {
		return failure(outcomeFailed, errors.New("device type is empty"))
	}
	e.sess.Caps.Details.DeviceType = res.Type
	logging.Info("Device type", zap.String("type", res.Type))
	return outcome{kind: outcomeCapability}
}

func (e *Engine) handleSoftwareVersion(resp *protocol.Response) outcome {
	var res protocol.SoftwareVersionResult
	if err := resp.DecodeParams(&res); err != nil {
		return failure(outcomeMalformed, err)
	}
	if res.Version.Version == "" {
		return failure(outcomeFailed, errors.New("software version is empty"))
	}
	e.sess.Caps.Details.Version = res.Version.Version
	e.sess.Caps.Details.BuildDate = res.Version.BuildDate
	logging.Info("Software version",
		zap.String("version", res.Version.Version),
		zap.String("build_date", res.Version.BuildDate))
	return outcome{kind: outcomeCapability}
}

func (e *Engine) handleSerialNumber(resp *protocol.Response) outcome {
	if !resp.Succeeded() {
		return failure(outcomeFailed, fmt.Errorf("serial number config unavailable: %s", resp.ErrorMessage()))
	}
	var res protocol.T2UServerConfig
	if err := resp.DecodeParams(&res); err != nil {
		return failure(outcomeMalformed, err)
	}
	if res.Table.UUID == "" {
		return failure(outcomeFailed, errors.New("serial number is empty"))
	}
	e.sess.Caps.Details.SerialNumber = res.Table.UUID
	logging.Info("Serial number", zap.String("serial", res.Table.UUID))
	return outcome{kind: outcomeCapability}
}

func (e *Engine) handleFactoryInstance(resp *protocol.Response) outcome {
	instance, ok := resp.ResultInt()
	if !ok || instance == 0 {
		return failure(outcomeFailed, fmt.Errorf("no access control instance: %s", resp.ErrorMessage()))
	}
	e.sess.Caps.FactoryInstance = &instance
	logging.Info("Access control instance", zap.Int64("instance", instance))
	return outcome{kind: outcomeCapability}
}

func (e *Engine) handleAccessControl(resp *protocol.Response) outcome {
	if !resp.Succeeded() {
		return failure(outcomeFailed, fmt.Errorf("access control config unavailable: %s", resp.ErrorMessage()))
	}
	var cfg protocol.AccessControlConfig
	if err := resp.DecodeParams(&cfg); err != nil {
		return failure(outcomeMalformed, err)
	}
	entry, ok := cfg.Local()
	if !ok {
		return failure(outcomeFailed, errors.New("no local access control entry"))
	}
	if entry.UnlockReloadInterval == nil || entry.UnlockHoldInterval == nil {
		return failure(outcomeFailed, errors.New("local access control entry is missing intervals"))
	}

	hold, unlock := *entry.UnlockReloadInterval, *entry.UnlockHoldInterval
	e.sess.Caps.HoldTime = &hold
	e.sess.Caps.UnlockInterval = &unlock
	logging.Info("Access control configuration",
		zap.Int("hold_time", hold),
		zap.Int("unlock_interval", unlock))
	return outcome{kind: outcomeCapability}
}

// checkCapabilities finishes loading once every value is present
func (e *Engine) checkCapabilities() {
	s := e.sess
	if s == nil || s.capsLoaded || !s.Caps.Complete() {
		return
	}

	s.capsLoaded = true
	s.retry.disarm()

	d := s.Caps.Details
	logging.Info("Initialized VTO",
		zap.String("device_type", d.DeviceType),
		zap.String("version", d.Version),
		zap.String("build_date", d.BuildDate),
		zap.String("serial", d.SerialNumber))

	e.subscribeEvents()
}

// retryCapabilities runs when the retry timer expires
func (e *Engine) retryCapabilities() {
	s := e.sess
	if s.Caps.Complete() {
		e.checkCapabilities()
		return
	}

	missing := s.Caps.Missing()
	if s.retriesLeft <= 0 {
		s.capsAbandoned = true
		logging.Error("Initialization incomplete after retries, door control disabled",
			zap.Strings("missing", capabilityNames(missing)))
		e.subscribeEvents()
		return
	}

	s.retriesLeft--
	logging.Warn("Initialization not completed, retrying failed calls",
		zap.Strings("missing", capabilityNames(missing)),
		zap.Int("retries_left", s.retriesLeft))

	for _, c := range missing {
		e.loadCapability(c)
	}
	s.retry.arm(capabilityRetryInterval)
}
