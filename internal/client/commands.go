package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/lobbyd/internal/session"
)

// CreateLobby asks the server for a new lobby hosted by name.
func (c *Client) CreateLobby(ctx context.Context, name string) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return c.fail(ErrBlankField, "Player name is required")
	}
	c.setPlayerName(name)
	return c.send(ctx, session.CmdCreateLobby, session.CreateLobby{PlayerName: name})
}

// JoinLobby joins the lobby with the given code. Codes are case-insensitive.
func (c *Client) JoinLobby(ctx context.Context, code, name string) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return c.fail(ErrBlankField, "Lobby code is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return c.fail(ErrBlankField, "Player name is required")
	}
	c.setPlayerName(name)
	return c.send(ctx, session.CmdJoinLobby, session.JoinLobby{LobbyCode: code, PlayerName: name})
}

// SendChat posts a message to the current lobby.
func (c *Client) SendChat(ctx context.Context, message string) error {
	if err := c.requireLobby(false); err != nil {
		return err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return c.fail(ErrBlankField, "Message must not be empty")
	}
	return c.send(ctx, session.CmdChatMessage, session.ChatMessage{Message: message})
}

// StartGame starts the current lobby. Host only.
func (c *Client) StartGame(ctx context.Context, settings map[string]any) error {
	if err := c.requireLobby(true); err != nil {
		return err
	}
	return c.send(ctx, session.CmdStartGame, session.StartGame{GameSettings: settings})
}

// KickPlayer removes another player from the current lobby. Host only.
func (c *Client) KickPlayer(ctx context.Context, playerID string) error {
	if err := c.requireLobby(true); err != nil {
		return err
	}
	if strings.TrimSpace(playerID) == "" {
		return c.fail(ErrBlankField, "Player id is required")
	}
	return c.send(ctx, session.CmdKickPlayer, session.KickPlayer{PlayerID: playerID})
}

// LeaveLobby leaves the current lobby. It is silent when not connected.
func (c *Client) LeaveLobby(ctx context.Context) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return c.send(ctx, session.CmdLeaveLobby, session.EmptyPayload{})
}

// RequestLobbyList asks for the waiting lobbies. The reply arrives as a lobbyList event.
func (c *Client) RequestLobbyList(ctx context.Context) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	return c.send(ctx, session.CmdRequestLobbyList, session.EmptyPayload{})
}

func (c *Client) requireConnected() error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return c.fail(ErrNotConnected, msgNotConnected)
	}
	return nil
}

func (c *Client) requireLobby(host bool) error {
	c.mu.Lock()
	inLobby := c.connected && c.currentLobby != nil
	isHost := c.isHost
	c.mu.Unlock()

	if !inLobby {
		return c.fail(ErrNotInLobby, msgNotInLobby)
	}
	if host && !isHost {
		return c.fail(ErrNotHost, "Only the host can do this")
	}
	return nil
}

func (c *Client) fail(err error, message string) error {
	c.opts.ErrorHook(message)
	return err
}

func (c *Client) setPlayerName(name string) {
	c.mu.Lock()
	c.playerName = name
	c.mu.Unlock()
}

func (c *Client) send(ctx context.Context, typ string, payload any) error {
	data, err := json.Marshal(session.Event{Type: typ, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}
