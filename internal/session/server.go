// internal/session/server.go
package session

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/sirupsen/logrus"
)

const (
	reasonKicked       = "You were removed from the lobby by the host."
	reasonHostLeft     = "The host left the lobby."
	reasonInactive     = "The lobby was closed due to inactivity."
	internalErrMessage = "Internal server error"
)

// Server applies client commands to the lobby store and routes the resulting events.
// Each command runs under one mutex together with the broadcasts that report it, so no other
// mutation can be observed between a state change and its notification.
type Server struct {
	mu     sync.Mutex
	closed bool

	store    *lobby.Store
	router   *Router
	logger   *logrus.Logger
	activity *activityLog
	now      func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	sinks []lobby.ActivitySink
	now   func() time.Time
}

// WithActivitySinks records every successful mutation to the given sinks in the background.
func WithActivitySinks(sinks ...lobby.ActivitySink) ServerOption {
	return func(c *serverConfig) {
		for _, s := range sinks {
			if s != nil {
				c.sinks = append(c.sinks, s)
			}
		}
	}
}

// WithActivityClock sets the timestamp source for activity records.
func WithActivityClock(now func() time.Time) ServerOption {
	return func(c *serverConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewServer wires a store and router together. A nil logger discards output.
func NewServer(store *lobby.Store, router *Router, logger *logrus.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	cfg := serverConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		store:    store,
		router:   router,
		logger:   logger,
		activity: newActivityLog(cfg.sinks, logger),
		now:      cfg.now,
	}
}

// Store exposes the underlying lobby store for read-only queries.
func (s *Server) Store() *lobby.Store { return s.store }

// Router exposes the connection router.
func (s *Server) Router() *Router { return s.router }

// Connect registers a new connection and greets it with its id.
func (s *Server) Connect(connID string) *Conn {
	conn := s.router.Register(connID)
	s.router.Send(connID, Event{Type: EvtConnected, Payload: ConnectedPayload{ConnectionID: connID}})
	return conn
}

// Handle parses one inbound frame and dispatches it. Failures are reported to the caller only.
func (s *Server) Handle(connID string, data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"conn": connID}).WithError(err).Debug("rejected frame")
		s.sendError(connID, "", err)
		return
	}
	s.Dispatch(connID, cmd)
}

// Dispatch runs one validated command.
func (s *Server) Dispatch(connID string, cmd Command) {
	if cmd == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverTo(connID, cmd.Type())

	var err error
	switch c := cmd.(type) {
	case CreateLobby:
		err = s.createLobby(connID, c)
	case JoinLobby:
		err = s.joinLobby(connID, c)
	case ChatMessage:
		err = s.chat(connID, c)
	case StartGame:
		err = s.startGame(connID, c)
	case KickPlayer:
		err = s.kickPlayer(connID, c)
	case LeaveLobby:
		s.leave(connID)
	case RequestLobbyList:
		s.router.Send(connID, Event{Type: EvtLobbyList, Payload: s.store.ListPublicLobbies()})
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	if err != nil {
		s.sendError(connID, cmd.Type(), err)
	}
}

// Disconnect is an implicit leave followed by unregistering the connection. Calling it twice
// is harmless.
func (s *Server) Disconnect(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverTo(connID, "disconnect")

	res := s.store.LeaveLobby(connID)
	s.router.Unregister(connID)
	if res.Outcome == lobby.LeaveNotInLobby {
		return
	}
	s.announceLeave(res)
	s.broadcastStats()
}

// Reap removes idle lobbies and tells their members. It satisfies lobby.Sweeper so the
// reaper runs through the same command lock as every other mutation.
func (s *Server) Reap(now time.Time, maxAge time.Duration) []*lobby.Lobby {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.store.Reap(now, maxAge)
	for _, lob := range removed {
		s.router.SendLobby(lob, Event{Type: EvtLobbyClosed, Payload: ReasonPayload{Reason: reasonInactive}})
		s.record(lob, lobby.ActivityReaped, "")
	}
	if len(removed) > 0 {
		s.broadcastStats()
	}
	return removed
}

// Close stops activity recording and waits for queued records to flush.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.activity.close()
}

func (s *Server) createLobby(connID string, c CreateLobby) error {
	lob, prev, err := s.store.CreateLobby(connID, c.PlayerName)
	if err != nil {
		return err
	}
	s.announceLeave(prev)
	s.router.Send(connID, Event{Type: EvtLobbyCreated, Payload: LobbyJoinedPayload{LobbyCode: lob.Code, Lobby: lob, IsHost: true}})
	s.record(lob, lobby.ActivityCreated, connID)
	s.broadcastStats()
	return nil
}

func (s *Server) joinLobby(connID string, c JoinLobby) error {
	lob, prev, err := s.store.JoinLobby(connID, c.LobbyCode, c.PlayerName)
	if err != nil {
		return err
	}
	s.announceLeave(prev)
	s.router.Send(connID, Event{Type: EvtLobbyJoined, Payload: LobbyJoinedPayload{LobbyCode: lob.Code, Lobby: lob, IsHost: false}})
	s.router.SendLobby(lob, Event{Type: EvtLobbyUpdated, Payload: LobbyUpdatedPayload{Lobby: lob}}, connID)
	s.record(lob, lobby.ActivityJoined, connID)
	s.broadcastStats()
	return nil
}

func (s *Server) chat(connID string, c ChatMessage) error {
	msg, lob, err := s.store.PostChat(connID, c.Message)
	if err != nil {
		return err
	}
	s.router.SendLobby(lob, Event{Type: EvtChatUpdated, Payload: ChatUpdatedPayload{Message: msg, FullChat: lob.Chat}})
	return nil
}

func (s *Server) startGame(connID string, c StartGame) error {
	lob, err := s.store.StartGame(connID)
	if err != nil {
		return err
	}
	settings := c.GameSettings
	if settings == nil {
		settings = map[string]any{}
	}
	s.router.SendLobby(lob, Event{Type: EvtGameStarted, Payload: GameStartedPayload{Lobby: lob, Players: lob.Players, GameSettings: settings}})
	s.record(lob, lobby.ActivityStarted, connID)
	return nil
}

func (s *Server) kickPlayer(connID string, c KickPlayer) error {
	lob, err := s.store.KickPlayer(connID, c.PlayerID)
	if err != nil {
		return err
	}
	s.router.Send(c.PlayerID, Event{Type: EvtKicked, Payload: ReasonPayload{Reason: reasonKicked}})
	s.router.SendLobby(lob, Event{Type: EvtLobbyUpdated, Payload: LobbyUpdatedPayload{Lobby: lob}})
	s.record(lob, lobby.ActivityKicked, c.PlayerID)
	s.broadcastStats()
	return nil
}

func (s *Server) leave(connID string) {
	res := s.store.LeaveLobby(connID)
	if res.Outcome == lobby.LeaveNotInLobby {
		return
	}
	s.router.Send(connID, Event{Type: EvtLobbyLeft, Payload: EmptyPayload{}})
	s.announceLeave(res)
	s.broadcastStats()
}

// announceLeave tells the remaining members about a departure. Assumes s.mu is held.
func (s *Server) announceLeave(res lobby.LeaveResult) {
	switch res.Outcome {
	case lobby.LeaveMemberLeft:
		s.router.SendLobby(res.Lobby, Event{Type: EvtLobbyUpdated, Payload: LobbyUpdatedPayload{Lobby: res.Lobby}})
		s.record(res.Lobby, lobby.ActivityLeft, res.Player.ID)
	case lobby.LeaveHostClosed:
		for _, id := range res.Evicted {
			s.router.Send(id, Event{Type: EvtLobbyClosed, Payload: ReasonPayload{Reason: reasonHostLeft}})
		}
		s.record(res.Lobby, lobby.ActivityClosed, res.Player.ID)
	}
}

func (s *Server) broadcastStats() {
	s.router.Broadcast(Event{Type: EvtLobbyStats, Payload: s.store.Stats()})
}

func (s *Server) record(lob *lobby.Lobby, kind, connID string) {
	if s.closed || lob == nil {
		return
	}
	players := len(lob.Players)
	if kind == lobby.ActivityClosed || kind == lobby.ActivityReaped {
		players = 0
	}
	s.activity.record(lobby.Activity{
		Code:         lob.Code,
		Kind:         kind,
		ConnectionID: connID,
		Players:      players,
		At:           s.now(),
	})
}

func (s *Server) recoverTo(connID, op string) {
	if r := recover(); r != nil {
		s.logger.WithFields(logrus.Fields{
			"conn":  connID,
			"op":    op,
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("recovered from panic in command handler")
		s.router.Send(connID, Event{Type: EvtError, Payload: ErrorPayload{Message: internalErrMessage}})
	}
}

func (s *Server) sendError(connID, cmdType string, err error) {
	msg, known := errorMessage(cmdType, err)
	if !known {
		s.logger.WithFields(logrus.Fields{"conn": connID, "op": cmdType}).WithError(err).Error("command failed")
	}
	s.router.Send(connID, Event{Type: EvtError, Payload: ErrorPayload{Message: msg}})
}

// errorMessage maps a command failure to the text shown to the player. Unknown errors are
// reported as internal.
func errorMessage(cmdType string, err error) (string, bool) {
	var inputErr *InputError
	switch {
	case errors.As(err, &inputErr):
		return inputErr.Message, true
	case errors.Is(err, ErrMalformed):
		return "Malformed message", true
	case errors.Is(err, ErrUnknownCommand):
		return "Unknown command", true
	case errors.Is(err, lobby.ErrInvalidName):
		return "Player name is required", true
	case errors.Is(err, lobby.ErrInvalidInput):
		if cmdType == CmdJoinLobby {
			return "Lobby code and player name are required", true
		}
		return "A required field is missing", true
	case errors.Is(err, lobby.ErrNotFound):
		return "Lobby not found", true
	case errors.Is(err, lobby.ErrDuplicateName):
		return "That name is already taken in this lobby", true
	case errors.Is(err, lobby.ErrFull):
		return "Lobby is full", true
	case errors.Is(err, lobby.ErrNotInLobby):
		return "You are not in a lobby", true
	case errors.Is(err, lobby.ErrLobbyMissing):
		return "Lobby no longer exists", true
	case errors.Is(err, lobby.ErrNotMember):
		return "You are not in this lobby", true
	case errors.Is(err, lobby.ErrNotHost):
		if cmdType == CmdKickPlayer {
			return "Only the host can remove players", true
		}
		return "Only the host can start the game", true
	case errors.Is(err, lobby.ErrTooFewPlayers):
		return "At least 2 players are required", true
	case errors.Is(err, lobby.ErrTargetNotFound):
		return "Player not found", true
	case errors.Is(err, lobby.ErrCannotKickHost):
		return "The host cannot remove themselves", true
	case errors.Is(err, lobby.ErrAlreadyStarted):
		return "The game has already started", true
	case errors.Is(err, lobby.ErrAlreadyInLobby):
		return "You are already in this lobby", true
	case errors.Is(err, lobby.ErrCodeExhausted):
		return "Could not allocate a lobby code, please try again", true
	default:
		return internalErrMessage, false
	}
}
