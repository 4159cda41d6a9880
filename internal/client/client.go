// Package client is a Go session proxy for the lobby websocket protocol. It mirrors the
// server's view of this connection and offers the same command surface as the server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/jason-s-yu/lobbyd/internal/session"
	"github.com/sirupsen/logrus"
)

const (
	subprotocol = "lobby"

	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second

	writeTimeout = 5 * time.Second
)

// EvtDisconnected is raised locally when the socket drops. It never arrives from the server.
const EvtDisconnected = "disconnected"

// Local fast-fail errors. The server validates independently.
var (
	ErrNotConnected = errors.New("not connected to the server")
	ErrNotInLobby   = errors.New("not in a lobby")
	ErrNotHost      = errors.New("only the host can do this")
	ErrBlankField   = errors.New("required field is blank")
	ErrUnreachable  = errors.New("cannot reach the server")
)

// Messages passed to the ErrorHook for local failures.
const (
	msgNotConnected = "Not connected to the server"
	msgNotInLobby   = "You are not in a lobby"
	msgUnreachable  = "Cannot reach the server. Check your connection."
)

// Handler receives the raw payload of one server event.
type Handler func(payload json.RawMessage)

// ErrorHook displays an error to the user.
type ErrorHook func(message string)

// Options configure a Client.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:3000/lobby/ws.
	URL        string
	Logger     *logrus.Logger
	MaxRetries int
	RetryDelay time.Duration
	// ErrorHook shows server errors and local fast-fails. Defaults to a logged warning.
	ErrorHook ErrorHook
}

// Status is a snapshot of the mirrored session state.
type Status struct {
	Connected    bool
	ConnectionID string
	PlayerName   string
	CurrentLobby *lobby.Lobby
	IsHost       bool
}

type Client struct {
	opts   Options
	logger *logrus.Logger

	life     context.Context
	shutdown context.CancelFunc

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	closing      bool
	attempts     int
	connectionID string
	playerName   string
	currentLobby *lobby.Lobby
	isHost       bool
	handlers     map[string]Handler
	readers      sync.WaitGroup
}

// New returns an unconnected client.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	c := &Client{
		opts:     opts,
		logger:   opts.Logger,
		handlers: make(map[string]Handler),
	}
	if c.opts.ErrorHook == nil {
		c.opts.ErrorHook = func(message string) {
			c.logger.WithField("message", message).Warn("lobby error")
		}
	}
	c.life, c.shutdown = context.WithCancel(context.Background())
	return c
}

// On replaces the callback for one event name. A nil handler restores the default.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.handlers, event)
		return
	}
	c.handlers[event] = h
}

// Connect dials the server, retrying up to MaxRetries consecutive failures per call. When the
// ceiling is reached the ErrorHook gets a distinct "cannot reach" message and ErrUnreachable
// is returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.attempts = 0
	c.mu.Unlock()

	for {
		conn, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{Subprotocols: []string{subprotocol}})
		if err == nil {
			return c.attach(conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.mu.Lock()
		c.attempts++
		attempts := c.attempts
		c.mu.Unlock()

		if attempts >= c.opts.MaxRetries {
			c.opts.ErrorHook(msgUnreachable)
			return fmt.Errorf("%w after %d attempts: %v", ErrUnreachable, attempts, err)
		}
		c.logger.WithError(err).Infof("connection failed, retrying (%d/%d)", attempts, c.opts.MaxRetries)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.RetryDelay):
		}
	}
}

// Close disconnects without reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	c.shutdown()
	c.readers.Wait()
	return err
}

// Status returns a copy of the mirrored state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected:    c.connected,
		ConnectionID: c.connectionID,
		PlayerName:   c.playerName,
		CurrentLobby: c.currentLobby.Clone(),
		IsHost:       c.isHost,
	}
}

func (c *Client) CurrentLobby() *lobby.Lobby {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLobby.Clone()
}

func (c *Client) InLobby() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLobby != nil
}

func (c *Client) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isHost
}

func (c *Client) attach(conn *websocket.Conn) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.CloseNow()
		return ErrNotConnected
	}
	c.conn = conn
	c.connected = true
	c.attempts = 0
	c.mu.Unlock()

	c.logger.WithField("url", c.opts.URL).Info("connected to lobby server")
	c.readers.Add(1)
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.readers.Done()
	for {
		_, data, err := conn.Read(c.life)
		if err != nil {
			c.disconnected(conn, err)
			return
		}
		c.dispatch(data)
	}
}

// disconnected clears the session state. A drop the client did not ask for is followed by
// one automatic reconnect.
func (c *Client) disconnected(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	c.currentLobby = nil
	c.isHost = false
	closing := c.closing
	h := c.handlers[EvtDisconnected]
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"status": websocket.CloseStatus(err)}).WithError(err).Info("disconnected from lobby server")
	if h != nil {
		h(nil)
	}
	if closing {
		return
	}

	c.readers.Add(1)
	go func() {
		defer c.readers.Done()
		if err := c.Connect(c.life); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.WithError(err).Warn("reconnect failed")
		}
	}()
}

func (c *Client) dispatch(data []byte) {
	var env session.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.WithError(err).Warn("dropping malformed frame from server")
		return
	}
	if err := c.mirror(env); err != nil {
		c.logger.WithError(err).WithField("type", env.Type).Warn("could not decode event payload")
	}

	c.mu.Lock()
	h := c.handlers[env.Type]
	c.mu.Unlock()
	if h != nil {
		h(env.Payload)
		return
	}
	c.logger.WithField("type", env.Type).Debug("lobby event")
}

// mirror applies one event to the local state.
func (c *Client) mirror(env session.Envelope) error {
	switch env.Type {
	case session.EvtConnected:
		var p session.ConnectedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		c.mu.Lock()
		c.connectionID = p.ConnectionID
		c.mu.Unlock()

	case session.EvtLobbyCreated, session.EvtLobbyJoined:
		var p session.LobbyJoinedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		c.mu.Lock()
		c.currentLobby = p.Lobby
		c.isHost = p.IsHost
		c.mu.Unlock()

	case session.EvtLobbyUpdated:
		var p session.LobbyUpdatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		c.mu.Lock()
		c.currentLobby = p.Lobby
		c.isHost = p.Lobby != nil && p.Lobby.HostID == c.connectionID
		c.mu.Unlock()

	case session.EvtGameStarted:
		var p session.GameStartedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		c.mu.Lock()
		c.currentLobby = p.Lobby
		c.mu.Unlock()

	case session.EvtChatUpdated:
		var p session.ChatUpdatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		c.mu.Lock()
		if c.currentLobby != nil {
			c.currentLobby.Chat = p.FullChat
		}
		c.mu.Unlock()

	case session.EvtLobbyClosed, session.EvtLobbyLeft, session.EvtKicked:
		c.mu.Lock()
		c.currentLobby = nil
		c.isHost = false
		c.mu.Unlock()

	case session.EvtError:
		var p session.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		c.opts.ErrorHook(p.Message)
	}
	return nil
}
