package integration

import (
	"sync"
	"time"

	"github.com/muurk/vtobridge/internal/engine"
	"github.com/muurk/vtobridge/internal/logging"
	"go.uber.org/zap"
)

// Multi fans every signal out to several sinks in order
type Multi []engine.Sink

func (m Multi) DoorbellChanged(state engine.DoorbellState) {
	for _, s := range m {
		s.DoorbellChanged(state)
	}
}

func (m Multi) LockChanged(state engine.LockState) {
	for _, s := range m {
		s.LockChanged(state)
	}
}

func (m Multi) TamperChanged(active bool) {
	for _, s := range m {
		s.TamperChanged(active)
	}
}

func (m Multi) LinkChanged(up bool) {
	for _, s := range m {
		s.LinkChanged(up)
	}
}

// LogSink writes one structured log line per signal
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a LogSink on the global logger
func NewLogSink() *LogSink {
	return &LogSink{log: logging.Named("events")}
}

func (s *LogSink) DoorbellChanged(state engine.DoorbellState) {
	s.log.Info("Doorbell changed", zap.Stringer("state", state))
}

func (s *LogSink) LockChanged(state engine.LockState) {
	s.log.Info("Lock changed", zap.Stringer("state", state))
}

func (s *LogSink) TamperChanged(active bool) {
	if active {
		s.log.Warn("Tamper alarm active")
		return
	}
	s.log.Info("Tamper alarm cleared")
}

func (s *LogSink) LinkChanged(up bool) {
	s.log.Info("Device link changed", zap.Bool("up", up))
}

// State is the last reported value of every signal
type State struct {
	Doorbell  engine.DoorbellState `json:"doorbell"`
	Lock      engine.LockState     `json:"lock"`
	Tamper    bool                 `json:"tamper"`
	Online    bool                 `json:"online"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Tracker records the latest signals for readers on other goroutines
type Tracker struct {
	mu    sync.RWMutex
	state State
	now   func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// State returns a copy of the tracked state
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Tracker) update(fn func(*State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.state)
	t.state.UpdatedAt = t.now()
}

func (t *Tracker) DoorbellChanged(state engine.DoorbellState) {
	t.update(func(s *State) { s.Doorbell = state })
}

func (t *Tracker) LockChanged(state engine.LockState) {
	t.update(func(s *State) { s.Lock = state })
}

func (t *Tracker) TamperChanged(active bool) {
	t.update(func(s *State) { s.Tamper = active })
}

func (t *Tracker) LinkChanged(up bool) {
	t.update(func(s *State) { s.Online = up })
}

var (
	_ engine.Sink = Multi(nil)
	_ engine.Sink = (*LogSink)(nil)
	_ engine.Sink = (*Tracker)(nil)
	_ engine.Sink = (*EnvelopeSink)(nil)
)
