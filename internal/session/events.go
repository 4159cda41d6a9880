// internal/session/events.go
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jason-s-yu/lobbyd/internal/lobby"
)

// Commands sent by clients.
const (
	CmdCreateLobby      = "createLobby"
	CmdJoinLobby        = "joinLobby"
	CmdChatMessage      = "chatMessage"
	CmdStartGame        = "startGame"
	CmdKickPlayer       = "kickPlayer"
	CmdLeaveLobby       = "leaveLobby"
	CmdRequestLobbyList = "requestLobbyList"
)

// Events sent by the server.
const (
	EvtConnected    = "connected"
	EvtLobbyCreated = "lobbyCreated"
	EvtLobbyJoined  = "lobbyJoined"
	EvtLobbyUpdated = "lobbyUpdated"
	EvtChatUpdated  = "chatUpdated"
	EvtGameStarted  = "gameStarted"
	EvtKicked       = "kicked"
	EvtLobbyLeft    = "lobbyLeft"
	EvtLobbyClosed  = "lobbyClosed"
	EvtLobbyList    = "lobbyList"
	EvtLobbyStats   = "lobbyStats"
	EvtError        = "error"
)

var (
	ErrMalformed      = errors.New("malformed frame")
	ErrUnknownCommand = errors.New("unknown command")
)

// Envelope is the wire frame in both directions: {"type": ..., "payload": {...}}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound frame before encoding.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// InputError is a rejected command payload. It matches lobby.ErrInvalidInput.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Message) }
func (e *InputError) Unwrap() error { return lobby.ErrInvalidInput }

func required(field, value, message string) error {
	if strings.TrimSpace(value) == "" {
		return &InputError{Field: field, Message: message}
	}
	return nil
}

// Command is the closed set of client commands.
type Command interface {
	Type() string
	validate() error
}

type CreateLobby struct {
	PlayerName string `json:"playerName"`
}

type JoinLobby struct {
	LobbyCode  string `json:"lobbyCode"`
	PlayerName string `json:"playerName"`
}

type ChatMessage struct {
	Message string `json:"message"`
}

type StartGame struct {
	GameSettings map[string]any `json:"gameSettings,omitempty"`
}

type KickPlayer struct {
	PlayerID string `json:"playerId"`
}

type LeaveLobby struct{}

type RequestLobbyList struct{}

func (CreateLobby) Type() string      { return CmdCreateLobby }
func (JoinLobby) Type() string        { return CmdJoinLobby }
func (ChatMessage) Type() string      { return CmdChatMessage }
func (StartGame) Type() string        { return CmdStartGame }
func (KickPlayer) Type() string       { return CmdKickPlayer }
func (LeaveLobby) Type() string       { return CmdLeaveLobby }
func (RequestLobbyList) Type() string { return CmdRequestLobbyList }

func (c CreateLobby) validate() error {
	return required("playerName", c.PlayerName, "Player name is required")
}

func (c JoinLobby) validate() error {
	if err := required("lobbyCode", c.LobbyCode, "Lobby code is required"); err != nil {
		return err
	}
	return required("playerName", c.PlayerName, "Player name is required")
}

func (c ChatMessage) validate() error {
	return required("message", c.Message, "Message must not be empty")
}

func (c KickPlayer) validate() error {
	return required("playerId", c.PlayerID, "Player id is required")
}

func (StartGame) validate() error        { return nil }
func (LeaveLobby) validate() error       { return nil }
func (RequestLobbyList) validate() error { return nil }

// ParseCommand decodes and validates one client frame.
func ParseCommand(data []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case CmdCreateLobby:
		return decode[CreateLobby](env.Payload)
	case CmdJoinLobby:
		return decode[JoinLobby](env.Payload)
	case CmdChatMessage:
		return decode[ChatMessage](env.Payload)
	case CmdStartGame:
		return decode[StartGame](env.Payload)
	case CmdKickPlayer:
		return decode[KickPlayer](env.Payload)
	case CmdLeaveLobby:
		return LeaveLobby{}, nil
	case CmdRequestLobbyList:
		return RequestLobbyList{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
}

func decode[T Command](raw json.RawMessage) (Command, error) {
	var cmd T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Outbound payloads.

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// LobbyJoinedPayload is sent for both lobbyCreated and lobbyJoined.
type LobbyJoinedPayload struct {
	LobbyCode string       `json:"lobbyCode"`
	Lobby     *lobby.Lobby `json:"lobby"`
	IsHost    bool         `json:"isHost"`
}

type LobbyUpdatedPayload struct {
	Lobby *lobby.Lobby `json:"lobby"`
}

type ChatUpdatedPayload struct {
	Message  lobby.ChatMessage   `json:"message"`
	FullChat []lobby.ChatMessage `json:"fullChat"`
}

type GameStartedPayload struct {
	Lobby        *lobby.Lobby   `json:"lobby"`
	Players      []lobby.Player `json:"players"`
	GameSettings map[string]any `json:"gameSettings"`
}

// ReasonPayload is sent with kicked and lobbyClosed.
type ReasonPayload struct {
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type EmptyPayload struct{}
