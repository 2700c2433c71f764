package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/muurk/vtobridge/internal/logging"
	"github.com/muurk/vtobridge/internal/protocol"
	"go.uber.org/zap"
)

const (
	// TickInterval is the scheduler resolution
	TickInterval = time.Second

	// DefaultPort is the DHIP port on VTO devices
	DefaultPort = 5000

	defaultDialTimeout = 10 * time.Second
	readBufferSize     = 8192
	eventQueueSize     = 16
)

// Config is the device endpoint and credentials
type Config struct {
	Address           string
	Port              int
	Username          string
	Password          string
	HaltOnAuthFailure bool
	DialTimeout       time.Duration
}

func (c Config) address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(port))
}

// DialFunc opens the device link
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Option customises an Engine
type Option func(*Engine)

// WithDialer replaces the TCP dialer
func WithDialer(dial DialFunc) Option {
	return func(e *Engine) {
		e.dial = dial
	}
}

// WithClock replaces the wall clock used for unlock and hold deadlines
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine maintains one authenticated DHIP session with a VTO device. All
// session state is owned by the goroutine running Run; readers and callers
// talk to it over channels.
type Engine struct {
	cfg  Config
	sink Sink
	dial DialFunc
	now  func() time.Time

	events   chan loopEvent
	commands chan command
	runCtx   context.Context
	done     chan struct{}
	stopOnce sync.Once

	conn    io.WriteCloser
	gen     uint64
	dialing bool
	halted  bool
	sess    *Session
	door    DoorLockState

	// keepAlive is the keepalive timer while a session is up and the
	// reconnect timer while disconnected
	keepAlive countdown
	relock    countdown
}

// New creates an engine for the device described by cfg. A nil sink
// discards all signals.
func New(cfg Config, sink Sink, opts ...Option) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	e := &Engine{
		cfg:      cfg,
		sink:     sink,
		dial:     dialer.DialContext,
		now:      time.Now,
		events:   make(chan loopEvent, eventQueueSize),
		commands: make(chan command),
		runCtx:   context.Background(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type loopEvent interface{}

type dialResult struct {
	gen  uint64
	conn net.Conn
	err  error
}

type frameBatch struct {
	gen  uint64
	msgs []json.RawMessage
}

type readClosed struct {
	gen uint64
	err error
}

// Run connects to the device and services the session until ctx is done.
// Commands submitted after Run returns fail with ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	defer e.stopOnce.Do(func() { close(e.done) })

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	logging.Info("Starting VTO engine", zap.String("address", e.address()))
	e.connect()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-ticker.C:
			e.tick()
		case ev := <-e.events:
			e.handle(ev)
		case cmd := <-e.commands:
			cmd.reply <- e.execute(cmd)
		}
	}
}

func (e *Engine) address() string {
	return e.cfg.address()
}

func (e *Engine) authenticated() bool {
	return e.conn != nil && e.sess != nil && e.sess.Authenticated
}

// connect dials in the background; the result comes back as a dialResult
func (e *Engine) connect() {
	if e.dialing || e.conn != nil || e.halted {
		return
	}

	e.gen++
	gen := e.gen
	e.dialing = true
	addr := e.address()
	ctx := e.runCtx

	logging.Info("Connecting to VTO", zap.String("address", addr))
	go func() {
		conn, err := e.dial(ctx, "tcp", addr)
		if !e.post(ctx, dialResult{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (e *Engine) post(ctx context.Context, ev loopEvent) bool {
	select {
	case e.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) handle(ev loopEvent) {
	switch ev := ev.(type) {
	case dialResult:
		e.dialing = false
		if ev.gen != e.gen || e.halted {
			if ev.conn != nil {
				_ = ev.conn.Close()
			}
			return
		}
		if ev.err != nil {
			terr := ClassifyTransportError(ev.err, e.address())
			logging.Error("Failed to connect to VTO",
				zap.Stringer("kind", terr.Kind),
				zap.Int("reconnect_in", ReconnectDelay),
				zap.Error(ev.err))
			e.keepAlive.arm(ReconnectDelay)
			e.sink.LinkChanged(false)
			return
		}
		e.attach(ev.conn)
		go e.readLoop(e.runCtx, ev.gen, ev.conn)

	case frameBatch:
		for _, raw := range ev.msgs {
			if ev.gen != e.gen {
				logging.Debug("Dropping message from closed connection")
				return
			}
			e.route(raw)
		}

	case readClosed:
		if ev.gen != e.gen {
			return
		}
		terr := ClassifyTransportError(ev.err, e.address())
		logging.Error("Disconnected from VTO",
			zap.Stringer("kind", terr.Kind),
			zap.Int("reconnect_in", ReconnectDelay),
			zap.Error(ev.err))
		e.dropSession(ReconnectDelay)
	}
}

// attach starts a fresh session on a new connection and begins the login
func (e *Engine) attach(conn io.WriteCloser) {
	e.conn = conn
	e.sess = newSession(e.now())
	e.keepAlive.disarm()
	e.sess.handshake.arm(handshakeTimeout)
	logging.LogConnection(e.address(), "connected")
	e.preLogin()
}

func (e *Engine) readLoop(ctx context.Context, gen uint64, conn net.Conn) {
	dec := protocol.NewDecoder()
	buf := make([]byte, readBufferSize)
	addr := conn.RemoteAddr().String()

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs := dec.Decode(buf[:n])
			for _, m := range msgs {
				logging.LogFrame(addr, "received", m)
			}
			if len(msgs) > 0 && !e.post(ctx, frameBatch{gen: gen, msgs: msgs}) {
				return
			}
		}
		if err != nil {
			e.post(ctx, readClosed{gen: gen, err: err})
			return
		}
	}
}

// dropSession tears down the connection and session and schedules a
// reconnect after delay seconds
func (e *Engine) dropSession(delay int) {
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
		logging.LogConnection(e.address(), "disconnected")
	}
	if e.sess != nil {
		logging.Debug("Discarding session",
			zap.Int64("session", e.sess.ID),
			zap.Int("pending", e.sess.pending.len()))
	}

	e.gen++
	e.sess = nil
	e.relock.disarm()
	e.door.UnlockDeadline = time.Time{}
	e.door.HoldUntil = time.Time{}
	e.keepAlive.arm(delay)
	e.sink.LinkChanged(false)
}

// halt drops the session and stops reconnecting
func (e *Engine) halt() {
	e.dropSession(0)
	e.keepAlive.disarm()
	e.halted = true
}

func (e *Engine) shutdown() {
	logging.Info("Stopping VTO engine")
	if e.conn != nil || e.sess != nil {
		e.dropSession(0)
	}
	e.keepAlive.disarm()
}

type commandKind int

const (
	cmdOpenDoor commandKind = iota
	cmdCloseDoor
	cmdSnapshot
)

type command struct {
	kind  commandKind
	reply chan commandResult
}

type commandResult struct {
	err      error
	snapshot Snapshot
}

func (e *Engine) execute(cmd command) commandResult {
	switch cmd.kind {
	case cmdOpenDoor:
		return commandResult{err: e.openDoor()}
	case cmdCloseDoor:
		return commandResult{err: e.closeDoor()}
	case cmdSnapshot:
		return commandResult{snapshot: e.snapshot()}
	default:
		return commandResult{err: errors.New("unknown command")}
	}
}

func (e *Engine) submit(ctx context.Context, kind commandKind) (commandResult, error) {
	cmd := command{kind: kind, reply: make(chan commandResult, 1)}
	select {
	case e.commands <- cmd:
	case <-e.done:
		return commandResult{}, ErrStopped
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res, nil
	case <-e.done:
		return commandResult{}, ErrStopped
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

// OpenDoor asks the device to release the door. It returns once the call is
// written, not when the device answers; the lock state follows the
// device's AccessControl event.
func (e *Engine) OpenDoor(ctx context.Context) error {
	res, err := e.submit(ctx, cmdOpenDoor)
	if err != nil {
		return err
	}
	return res.err
}

// CloseDoor asks the device to lock the door
func (e *Engine) CloseDoor(ctx context.Context) error {
	res, err := e.submit(ctx, cmdCloseDoor)
	if err != nil {
		return err
	}
	return res.err
}

// Snapshot is a point-in-time copy of the engine state
type Snapshot struct {
	Address            string        `json:"address"`
	Connected          bool          `json:"connected"`
	Phase              string        `json:"phase"`
	SessionID          int64         `json:"session_id,omitempty"`
	KeepAliveInterval  int           `json:"keepalive_interval,omitempty"`
	CapabilitiesLoaded bool          `json:"capabilities_loaded"`
	EventsAttached     bool          `json:"events_attached"`
	DoorControl        bool          `json:"door_control"`
	Details            DahuaDetails  `json:"details"`
	HoldTime           *int          `json:"hold_time,omitempty"`
	UnlockInterval     *int          `json:"unlock_interval,omitempty"`
	Door               DoorLockState `json:"door"`
	ReconnectIn        int           `json:"reconnect_in,omitempty"`
	Halted             bool          `json:"halted"`
	SessionAge         time.Duration `json:"session_age,omitempty"`
}

// Snapshot returns the current engine state
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	res, err := e.submit(ctx, cmdSnapshot)
	if err != nil {
		return Snapshot{}, err
	}
	return res.snapshot, nil
}

func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{
		Address: e.address(),
		Phase:   "disconnected",
		Door:    e.door,
		Halted:  e.halted,
	}
	if e.dialing {
		snap.Phase = "connecting"
	}

	s := e.sess
	if s == nil {
		if e.keepAlive.armed {
			snap.ReconnectIn = e.keepAlive.remaining
		}
		return snap
	}

	snap.Connected = e.conn != nil
	snap.Phase = s.phase.String()
	snap.SessionID = s.ID
	snap.KeepAliveInterval = s.KeepAliveInterval
	snap.CapabilitiesLoaded = s.capsLoaded
	snap.EventsAttached = s.attached
	snap.DoorControl = s.Caps.FactoryInstance != nil
	snap.Details = s.Caps.Details
	snap.HoldTime = copyInt(s.Caps.HoldTime)
	snap.UnlockInterval = copyInt(s.Caps.UnlockInterval)
	snap.SessionAge = e.now().Sub(s.startedAt)
	return snap
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var _ Commander = (*Engine)(nil)
