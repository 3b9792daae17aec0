package signalling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status of the signaling channel as a whole.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRetryDelay     = 3 * time.Second
)

// Config for one session-scoped signaling channel.
type Config struct {
	// ServerURL is the relay base, e.g. "wss://host".
	ServerURL string
	SessionID string

	// Token is the room authorization credential, forwarded opaquely to
	// the relay. The relay validates it; this client never inspects it.
	Token string

	// ConnectTimeout bounds a single connection attempt. Defaults to 10s.
	ConnectTimeout time.Duration

	// RetryDelay is the fixed pause between reconnection attempts.
	// Defaults to 3s. Retries continue indefinitely until Close.
	RetryDelay time.Duration

	Logger *slog.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func (cfg Config) url() string {
	u := fmt.Sprintf("%s/ws/session/%s/", cfg.ServerURL, cfg.SessionID)
	if cfg.Token != "" {
		u += "?token=" + cfg.Token
	}
	return u
}

// Channel is a reconnecting ordered bidirectional message channel to the
// session relay.
//
// Once connected it emits a ReadyEvent and announces itself with a
// ready_check message. On unexpected closure it retries after a fixed delay
// for as long as the room is active; Close stops the retry loop for good.
// Inbound messages are decoded into typed events delivered in arrival order
// on Events.
type Channel struct {
	logger *slog.Logger
	cfg    Config

	events chan Event

	ctx           context.Context
	ctxCancelFunc context.CancelFunc
	shutdownOnce  sync.Once

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	status  Status
}

// Connect starts a channel for the configured session and returns
// immediately; connection and reconnection proceed in the background.
// Progress is observable through StatusEvents on Events.
func Connect(cfg Config) *Channel {
	cfg = cfg.withDefaults()
	ctx, cancelFunc := context.WithCancel(context.Background())

	ch := &Channel{
		logger: cfg.Logger.With(
			"sessionID", cfg.SessionID,
		),
		cfg:           cfg,
		events:        make(chan Event, 32),
		ctx:           ctx,
		ctxCancelFunc: cancelFunc,
		status:        StatusConnecting,
	}

	go ch.run()
	return ch
}

// Events delivers decoded inbound messages and status transitions.
// The channel is closed once Close has taken effect.
func (ch *Channel) Events() <-chan Event {
	return ch.events
}

func (ch *Channel) Status() Status {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.status
}

// Send marshals and writes one message to the relay. If the channel is not
// currently open the message is dropped with a logged warning: messages are
// never queued, and callers never see a transport error for the not-open
// case.
func (ch *Channel) Send(msg any) {
	ch.mu.Lock()
	conn := ch.conn
	open := ch.status == StatusConnected
	ch.mu.Unlock()

	if !open || conn == nil {
		ch.logger.Warn(
			"signalling channel not open, dropping message",
			"message", fmt.Sprintf("%T", msg),
		)
		return
	}

	ch.writeMu.Lock()
	err := conn.WriteJSON(msg)
	ch.writeMu.Unlock()
	if err != nil {
		ch.logger.Warn(
			"error while writing signalling message",
			"message", fmt.Sprintf("%T", msg),
			"err", err,
		)
	}
}

// Close tears the channel down and stops all reconnection attempts.
// Safe to call more than once.
func (ch *Channel) Close() {
	ch.shutdownOnce.Do(func() {
		ch.ctxCancelFunc()

		ch.mu.Lock()
		ch.status = StatusDisconnected
		if ch.conn != nil {
			ch.conn.Close()
		}
		ch.mu.Unlock()
	})
}

// run owns the connect / read / reconnect cycle until Close.
func (ch *Channel) run() {
	defer close(ch.events)

	for {
		select {
		case <-ch.ctx.Done():
			return
		default:
		}

		conn, err := ch.dial()
		if err != nil {
			ch.logger.Warn(
				"signalling connection attempt failed",
				"err", err,
			)
			ch.setStatus(StatusError)
			ch.deliver(StatusEvent{Status: StatusError})
			if !ch.sleepRetry() {
				return
			}
			continue
		}

		ch.mu.Lock()
		ch.conn = conn
		ch.status = StatusConnected
		ch.mu.Unlock()

		ch.logger.Info("signalling channel connected")
		ch.deliver(StatusEvent{Status: StatusConnected})
		ch.deliver(ReadyEvent{})
		ch.Send(NewReadyCheckMessage(true))

		ch.readLoop(conn)

		select {
		case <-ch.ctx.Done():
			return
		default:
		}

		ch.mu.Lock()
		ch.conn = nil
		ch.status = StatusDisconnected
		ch.mu.Unlock()

		ch.logger.Warn("signalling channel disconnected, retrying")
		ch.deliver(StatusEvent{Status: StatusDisconnected})
		if !ch.sleepRetry() {
			return
		}
	}
}

func (ch *Channel) setStatus(status Status) {
	ch.mu.Lock()
	ch.status = status
	ch.mu.Unlock()
}

func (ch *Channel) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: ch.cfg.ConnectTimeout,
	}
	conn, _, err := dialer.DialContext(ch.ctx, ch.cfg.url(), nil)
	return conn, err
}

func (ch *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		ev, err := decodeMessage(data)
		if err != nil {
			ch.logger.Warn(
				"unrecognized signalling message",
				"err", err,
			)
			continue
		}
		ch.deliver(ev)
	}
}

func (ch *Channel) deliver(ev Event) {
	select {
	case ch.events <- ev:
	case <-ch.ctx.Done():
	}
}

// sleepRetry pauses for the fixed reconnect delay. Returns false when the
// channel closed during the pause.
func (ch *Channel) sleepRetry() bool {
	select {
	case <-time.After(ch.cfg.RetryDelay):
		return true
	case <-ch.ctx.Done():
		return false
	}
}
