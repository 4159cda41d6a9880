package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/jason-s-yu/lobbyd/internal/client"
	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/jason-s-yu/lobbyd/internal/session"
	"github.com/spf13/cobra"
)

const playHelp = `commands:
  /create <name>          create a lobby
  /join <code> <name>     join a lobby
  /start [key=value ...]  start the game (host)
  /kick <player-id>       remove a player (host)
  /leave                  leave the lobby
  /list                   list open lobbies
  /who                    show the current lobby
  /quit                   exit
anything else is sent as chat`

var errQuit = errors.New("quit")

func newPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Join the lobby server interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			wsURL, err := websocketURL(serverURL())
			if err != nil {
				return err
			}
			con := newConsole(cmd.OutOrStdout())
			c := client.New(client.Options{URL: wsURL, Logger: newLogger(), ErrorHook: con.errorHook})
			con.attach(c)
			defer c.Close()

			ctx := cmd.Context()
			if err := c.Connect(ctx); err != nil {
				return err
			}
			con.println(playHelp)
			return con.loop(ctx, cmd.InOrStdin())
		},
	}
}

// websocketURL maps the server base URL to its lobby socket endpoint.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/lobby/ws"
	return u.String(), nil
}

// console renders server events as text lines and turns input lines into commands.
type console struct {
	mu  sync.Mutex
	out io.Writer
	c   *client.Client
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (con *console) println(a ...any) {
	con.mu.Lock()
	defer con.mu.Unlock()
	fmt.Fprintln(con.out, a...)
}

func (con *console) printf(format string, a ...any) {
	con.mu.Lock()
	defer con.mu.Unlock()
	fmt.Fprintf(con.out, format, a...)
}

func (con *console) errorHook(message string) {
	con.printf("! %s\n", message)
}

func (con *console) attach(c *client.Client) {
	con.c = c
	c.On(session.EvtConnected, func(json.RawMessage) {
		con.println("* connected")
	})
	c.On(client.EvtDisconnected, func(json.RawMessage) {
		con.println("* disconnected")
	})
	c.On(session.EvtLobbyCreated, con.onJoined("created"))
	c.On(session.EvtLobbyJoined, con.onJoined("joined"))
	c.On(session.EvtLobbyUpdated, func(json.RawMessage) {
		con.printLobby(c.CurrentLobby())
	})
	c.On(session.EvtChatUpdated, func(p json.RawMessage) {
		var chat session.ChatUpdatedPayload
		if json.Unmarshal(p, &chat) == nil {
			con.printf("<%s> %s\n", chat.Message.Sender, chat.Message.Message)
		}
	})
	c.On(session.EvtGameStarted, func(json.RawMessage) {
		con.println("* game started")
	})
	c.On(session.EvtKicked, con.onReason("kicked"))
	c.On(session.EvtLobbyClosed, con.onReason("lobby closed"))
	c.On(session.EvtLobbyLeft, func(json.RawMessage) {
		con.println("* left the lobby")
	})
	c.On(session.EvtLobbyList, func(p json.RawMessage) {
		var list []lobby.Summary
		if err := json.Unmarshal(p, &list); err != nil {
			return
		}
		if len(list) == 0 {
			con.println("* no open lobbies")
		}
		for _, s := range list {
			con.printf("  %s  host %s  %d/%d\n", s.Code, s.Host, s.PlayerCount, s.MaxPlayers)
		}
	})
	c.On(session.EvtLobbyStats, func(json.RawMessage) {})
	// Errors are shown by the ErrorHook.
	c.On(session.EvtError, func(json.RawMessage) {})
}

func (con *console) onJoined(verb string) client.Handler {
	return func(p json.RawMessage) {
		var joined session.LobbyJoinedPayload
		if json.Unmarshal(p, &joined) != nil {
			return
		}
		con.printf("* %s lobby %s\n", verb, joined.LobbyCode)
		con.printLobby(joined.Lobby)
	}
}

func (con *console) onReason(what string) client.Handler {
	return func(p json.RawMessage) {
		var r session.ReasonPayload
		_ = json.Unmarshal(p, &r)
		con.printf("* %s: %s\n", what, r.Reason)
	}
}

func (con *console) printLobby(lob *lobby.Lobby) {
	if lob == nil {
		con.println("* not in a lobby")
		return
	}
	con.mu.Lock()
	defer con.mu.Unlock()
	fmt.Fprintf(con.out, "  lobby %s (%s) %d/%d\n", lob.Code, lob.GameState, len(lob.Players), lob.Settings.MaxPlayers)
	for _, p := range lob.Players {
		host := ""
		if p.IsHost {
			host = " (host)"
		}
		fmt.Fprintf(con.out, "    %s%s  id=%s\n", p.Name, host, p.ID)
	}
}

func (con *console) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		err := con.exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil && !isLocal(err) {
			con.printf("! %v\n", err)
		}
	}
	return scanner.Err()
}

// isLocal reports errors the client already passed to the ErrorHook.
func isLocal(err error) bool {
	for _, e := range []error{client.ErrNotConnected, client.ErrNotInLobby, client.ErrNotHost, client.ErrBlankField} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// exec runs one input line.
func (con *console) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return con.c.SendChat(ctx, line)
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	args := strings.Fields(rest)
	switch strings.ToLower(name) {
	case "create":
		return con.c.CreateLobby(ctx, rest)
	case "join":
		if len(args) < 2 {
			return con.usage("/join <code> <name>")
		}
		return con.c.JoinLobby(ctx, args[0], strings.Join(args[1:], " "))
	case "start":
		return con.c.StartGame(ctx, parseSettings(args))
	case "kick":
		if len(args) != 1 {
			return con.usage("/kick <player-id>")
		}
		return con.c.KickPlayer(ctx, args[0])
	case "leave":
		return con.c.LeaveLobby(ctx)
	case "list":
		return con.c.RequestLobbyList(ctx)
	case "who":
		con.printLobby(con.c.CurrentLobby())
		return nil
	case "help":
		con.println(playHelp)
		return nil
	case "quit", "exit":
		return errQuit
	}
	return con.usage("unknown command, try /help")
}

func (con *console) usage(msg string) error {
	con.printf("! %s\n", msg)
	return nil
}

// parseSettings turns key=value arguments into game settings. Bare keys become true.
func parseSettings(args []string) map[string]any {
	if len(args) == 0 {
		return nil
	}
	settings := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			settings[key] = true
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			settings[key] = decoded
		} else {
			settings[key] = value
		}
	}
	return settings
}
