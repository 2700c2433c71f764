package engine

import "time"

// firstRequestID is the id of the first call on a fresh session
const firstRequestID int64 = 2

// handshakePhase tracks progress through the two-step login
type handshakePhase int

const (
	phaseProbeSent handshakePhase = iota
	phaseChallengeReceived
	phaseLoginSent
	phaseAuthenticated
)

func (p handshakePhase) String() string {
	switch p {
	case phaseProbeSent:
		return "probe-sent"
	case phaseChallengeReceived:
		return "challenge-received"
	case phaseLoginSent:
		return "login-sent"
	case phaseAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// DahuaDetails is the identity the device reports about itself
type DahuaDetails struct {
	DeviceType   string `json:"device_type" yaml:"device_type"`
	Version      string `json:"version" yaml:"version"`
	BuildDate    string `json:"build_date" yaml:"build_date"`
	SerialNumber string `json:"serial_number" yaml:"serial_number"`
}

// Capabilities is everything loaded after login that door control depends on.
// Pointer fields are nil until the device has answered.
type Capabilities struct {
	Details         DahuaDetails
	FactoryInstance *int64
	HoldTime        *int
	UnlockInterval  *int
}

// Missing lists the capability calls that have not produced a value yet
func (c *Capabilities) Missing() []capability {
	var missing []capability
	if c.Details.DeviceType == "" {
		missing = append(missing, capDeviceType)
	}
	if c.Details.Version == "" || c.Details.BuildDate == "" {
		missing = append(missing, capSoftwareVersion)
	}
	if c.Details.SerialNumber == "" {
		missing = append(missing, capSerialNumber)
	}
	if c.FactoryInstance == nil {
		missing = append(missing, capFactoryInstance)
	}
	if c.HoldTime == nil || c.UnlockInterval == nil {
		missing = append(missing, capAccessControl)
	}
	return missing
}

// Complete reports whether every capability has been loaded
func (c *Capabilities) Complete() bool {
	return len(c.Missing()) == 0
}

// countdown is a whole-second timer advanced by the scheduler tick
type countdown struct {
	remaining int
	armed     bool
}

func (c *countdown) arm(seconds int) {
	c.remaining = seconds
	c.armed = true
}

func (c *countdown) disarm() {
	c.remaining = 0
	c.armed = false
}

// tick advances the timer and reports whether it expired on this tick
func (c *countdown) tick() bool {
	if !c.armed {
		return false
	}
	c.remaining--
	if c.remaining <= 0 {
		c.disarm()
		return true
	}
	return false
}

// Session is the state of one authenticated connection. It is created on
// connect and thrown away whole on disconnect, so nothing leaks across
// reconnects.
type Session struct {
	ID                int64
	Realm             string
	Random            string
	KeepAliveInterval int
	Authenticated     bool
	Caps              Capabilities

	phase         handshakePhase
	nextRequestID int64
	pending       *pendingTable

	handshake countdown
	retry     countdown

	retriesLeft     int
	capsLoaded      bool
	capsAbandoned   bool
	subscribed      bool
	attached        bool
	keepAlivesUnack int
	startedAt       time.Time
}

func newSession(now time.Time) *Session {
	return &Session{
		nextRequestID: firstRequestID,
		pending:       newPendingTable(),
		retriesLeft:   capabilityRetryRounds,
		startedAt:     now,
	}
}

// nextID returns the next request id. Ids are never reused within a session.
func (s *Session) nextID() int64 {
	id := s.nextRequestID
	s.nextRequestID++
	return id
}
