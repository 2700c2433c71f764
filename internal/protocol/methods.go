package protocol

import (
	"encoding/json"
	"fmt"
)

// RPC method names understood by Dahua VTO firmware
const (
	MethodLogin              = "global.login"
	MethodKeepAlive          = "global.keepAlive"
	MethodGetDeviceType      = "magicBox.getDeviceType"
	MethodGetSoftwareVersion = "magicBox.getSoftwareVersion"
	MethodGetConfig          = "configManager.getConfig"
	MethodFactoryInstance    = "accessControl.factory.instance"
	MethodOpenDoor           = "accessControl.openDoor"
	MethodCloseDoor          = "accessControl.closeDoor"
	MethodEventAttach        = "eventManager.attach"
	MethodNotifyEventStream  = "client.notifyEventStream"
)

// Config table names for configManager.getConfig
const (
	ConfigT2UServer     = "T2UServer"
	ConfigAccessControl = "AccessControl"
)

// LoginChallengeMessage is the error message the anonymous login must fail with
const LoginChallengeMessage = "Component error: login challenge!"

// AccessProtocolLocal selects the access control entry for the built-in relay
const AccessProtocolLocal = "Local"

// LoginParams is the params object for global.login. The first (probe) call
// sends an empty password and no authorityType.
type LoginParams struct {
	ClientType    string `json:"clientType"`
	IPAddr        string `json:"ipAddr"`
	LoginType     string `json:"loginType"`
	UserName      string `json:"userName"`
	Password      string `json:"password"`
	AuthorityType string `json:"authorityType,omitempty"`
}

// NewProbeLogin builds the anonymous login that triggers the challenge
func NewProbeLogin(username string) LoginParams {
	return LoginParams{
		ClientType: "",
		IPAddr:     "(null)",
		LoginType:  "Direct",
		UserName:   username,
		Password:   "",
	}
}

// NewAuthenticatedLogin builds the second login carrying the auth token
func NewAuthenticatedLogin(username, token string) LoginParams {
	p := NewProbeLogin(username)
	p.Password = token
	p.AuthorityType = "Default"
	return p
}

// Challenge carries the values returned with the login challenge error
type Challenge struct {
	Random     string `json:"random"`
	Realm      string `json:"realm"`
	Encryption string `json:"encryption,omitempty"`
}

// LoginResult is the params object of a successful login
type LoginResult struct {
	KeepAliveInterval int `json:"keepAliveInterval"`
}

// KeepAliveParams is the params object for global.keepAlive
type KeepAliveParams struct {
	Timeout int  `json:"timeout"`
	Action  bool `json:"action"`
}

// GetConfigParams selects a configuration table
type GetConfigParams struct {
	Name string `json:"name"`
}

// FactoryInstanceParams is the params object for accessControl.factory.instance
type FactoryInstanceParams struct {
	Channel int `json:"Channel"`
}

// AttachParams is the params object for eventManager.attach
type AttachParams struct {
	Codes []string `json:"codes"`
}

// DoorParams is the params object for accessControl.openDoor/closeDoor
type DoorParams struct {
	DoorIndex int    `json:"DoorIndex"`
	Type      string `json:"Type"`
	UserID    string `json:"UserID"`
}

// DeviceTypeResult is the params object of magicBox.getDeviceType
type DeviceTypeResult struct {
	Type string `json:"type"`
}

// SoftwareVersionResult is the params object of magicBox.getSoftwareVersion
type SoftwareVersionResult struct {
	Version struct {
		Version   string `json:"Version"`
		BuildDate string `json:"BuildDate"`
	} `json:"version"`
}

// T2UServerConfig is the params object of getConfig(T2UServer)
type T2UServerConfig struct {
	Table struct {
		UUID string `json:"UUID"`
	} `json:"table"`
}

// AccessControlEntry is one door entry of the AccessControl table.
// UnlockReloadInterval is the hold time (cooldown) and UnlockHoldInterval
// the time the relay stays open, both in seconds.
type AccessControlEntry struct {
	AccessProtocol       string `json:"AccessProtocol"`
	UnlockReloadInterval *int   `json:"UnlockReloadInterval"`
	UnlockHoldInterval   *int   `json:"UnlockHoldInterval"`
}

// AccessControlTable holds the AccessControl entries. Single-door firmware
// may return an object instead of an array.
type AccessControlTable []AccessControlEntry

// UnmarshalJSON accepts an array of entries or a single entry
func (t *AccessControlTable) UnmarshalJSON(data []byte) error {
	var entries []AccessControlEntry
	if err := json.Unmarshal(data, &entries); err == nil {
		*t = entries
		return nil
	}

	var single AccessControlEntry
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("access control table is neither array nor object: %w", err)
	}
	*t = AccessControlTable{single}
	return nil
}

// AccessControlConfig is the params object of getConfig(AccessControl)
type AccessControlConfig struct {
	Table AccessControlTable `json:"table"`
}

// Local returns the entry for the local relay, if any
func (c AccessControlConfig) Local() (AccessControlEntry, bool) {
	for _, entry := range c.Table {
		if entry.AccessProtocol == AccessProtocolLocal {
			return entry, true
		}
	}
	return AccessControlEntry{}, false
}

// EventStream is the params object of client.notifyEventStream. Events are
// kept raw so a single malformed event does not spoil the batch.
type EventStream struct {
	EventList []json.RawMessage `json:"eventList"`
}

// Event is a single entry of an event stream batch
type Event struct {
	Action string          `json:"Action"`
	Code   string          `json:"Code"`
	Index  int             `json:"Index"`
	Data   json.RawMessage `json:"Data"`
}
