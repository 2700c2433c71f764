package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/muurk/vtobridge/internal/engine"
	"github.com/muurk/vtobridge/internal/logging"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const natsCommandTimeout = 5 * time.Second

// natsConn is the subset of *nats.Conn the bridge uses
type natsConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// DialNATS connects to the NATS server, reconnecting forever
func DialNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("vto-bridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS %s: %w", url, err)
	}
	return nc, nil
}

// CommandRequest is the body accepted on the commands subject
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandReply answers a CommandRequest when the message has a reply subject
type CommandReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NATSBridge publishes envelopes on event subjects and serves door commands
type NATSBridge struct {
	conn   natsConn
	prefix string
}

// NewNATSBridge creates a bridge on an established connection
func NewNATSBridge(conn natsConn, prefix string) *NATSBridge {
	return &NATSBridge{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// EventSubject returns the subject envelopes of type t are published on
func (b *NATSBridge) EventSubject(t EventType) string {
	return b.prefix + ".events." + string(t)
}

// CommandSubject returns the subject door commands are accepted on
func (b *NATSBridge) CommandSubject() string {
	return b.prefix + ".commands"
}

// Publish sends env on its event subject. nats.Conn buffers publishes, so
// this does not wait on the network.
func (b *NATSBridge) Publish(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logging.Error("Failed to encode envelope", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	if err := b.conn.Publish(b.EventSubject(env.Type), data); err != nil {
		logging.Warn("NATS publish failed", zap.String("type", string(env.Type)), zap.Error(err))
	}
}

// Start subscribes to the command subject until ctx is done
func (b *NATSBridge) Start(ctx context.Context, cmd engine.Commander) error {
	sub, err := b.conn.Subscribe(b.CommandSubject(), func(msg *nats.Msg) {
		b.handleCommand(ctx, cmd, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.CommandSubject(), err)
	}
	logging.Info("Listening for NATS door commands", zap.String("subject", b.CommandSubject()))

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			logging.Debug("NATS unsubscribe failed", zap.Error(err))
		}
	}()
	return nil
}

func (b *NATSBridge) handleCommand(ctx context.Context, cmd engine.Commander, msg *nats.Msg) {
	var req CommandRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		b.reply(msg, fmt.Errorf("invalid command: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, natsCommandTimeout)
	defer cancel()

	var err error
	switch strings.ToLower(req.Command) {
	case "open":
		err = cmd.OpenDoor(ctx)
	case "close":
		err = cmd.CloseDoor(ctx)
	default:
		err = fmt.Errorf("unknown command %q", req.Command)
	}

	if err != nil {
		logging.Error("NATS door command failed", zap.String("command", req.Command), zap.Error(err))
	} else {
		logging.Info("NATS door command sent", zap.String("command", req.Command))
	}
	b.reply(msg, err)
}

func (b *NATSBridge) reply(msg *nats.Msg, err error) {
	if msg.Reply == "" {
		return
	}
	rep := CommandReply{OK: err == nil}
	if err != nil {
		rep.Error = err.Error()
	}
	data, _ := json.Marshal(rep)
	if perr := b.conn.Publish(msg.Reply, data); perr != nil {
		logging.Warn("Failed to reply to NATS command", zap.Error(perr))
	}
}

var _ Publisher = (*NATSBridge)(nil)
