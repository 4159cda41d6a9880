package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures activity records for assertions.
type recordingSink struct {
	mu      sync.Mutex
	records []lobby.Activity
}

func (r *recordingSink) Record(_ context.Context, a lobby.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, a)
	return nil
}

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.records))
	for _, a := range r.records {
		out = append(out, a.Kind)
	}
	return out
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	store := lobby.NewStore()
	srv := NewServer(store, NewRouter(nil, 64), nil, opts...)
	t.Cleanup(srv.Close)
	return srv
}

// drain returns every event currently queued for conn.
func drain(conn *Conn) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-conn.Outbox():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func types(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func find(t *testing.T, events []Event, typ string) Event {
	t.Helper()
	for _, ev := range events {
		if ev.Type == typ {
			return ev
		}
	}
	require.Failf(t, "event not found", "no %q in %v", typ, types(events))
	return Event{}
}

func frame(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	require.NoError(t, err)
	return data
}

func errorText(t *testing.T, events []Event) string {
	t.Helper()
	ev := find(t, events, EvtError)
	p, ok := ev.Payload.(ErrorPayload)
	require.True(t, ok)
	return p.Message
}

// setupLobby creates a lobby hosted by "Anna" on conn "a" and joins "Ben" on conn "b".
func setupLobby(t *testing.T, srv *Server) (code string, a, b *Conn) {
	t.Helper()
	a = srv.Connect("a")
	b = srv.Connect("b")
	srv.Dispatch("a", CreateLobby{PlayerName: "Anna"})
	created := find(t, drain(a), EvtLobbyCreated).Payload.(LobbyJoinedPayload)
	srv.Dispatch("b", JoinLobby{LobbyCode: created.LobbyCode, PlayerName: "Ben"})
	drain(a)
	drain(b)
	return created.LobbyCode, a, b
}

func TestConnectSendsConnectionID(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.Connect("abc")

	events := drain(conn)
	require.Len(t, events, 1)
	assert.Equal(t, EvtConnected, events[0].Type)
	assert.Equal(t, ConnectedPayload{ConnectionID: "abc"}, events[0].Payload)
}

func TestCreateLobbyEvents(t *testing.T) {
	srv := newTestServer(t)
	a := srv.Connect("a")
	other := srv.Connect("other")
	drain(a)
	drain(other)

	srv.Handle("a", frame(t, CmdCreateLobby, map[string]string{"playerName": "Anna"}))

	events := drain(a)
	assert.Equal(t, []string{EvtLobbyCreated, EvtLobbyStats}, types(events))
	created := events[0].Payload.(LobbyJoinedPayload)
	assert.True(t, created.IsHost)
	assert.Equal(t, created.LobbyCode, created.Lobby.Code)
	assert.Equal(t, lobby.Stats{TotalLobbies: 1, TotalPlayers: 1}, events[1].Payload)

	assert.Equal(t, []string{EvtLobbyStats}, types(drain(other)))
}

func TestJoinLobbyNotifiesOthers(t *testing.T) {
	srv := newTestServer(t)
	a := srv.Connect("a")
	b := srv.Connect("b")
	srv.Dispatch("a", CreateLobby{PlayerName: "Anna"})
	code := find(t, drain(a), EvtLobbyCreated).Payload.(LobbyJoinedPayload).LobbyCode
	drain(b)

	srv.Handle("b", frame(t, CmdJoinLobby, map[string]string{"lobbyCode": "  " + code, "playerName": "Ben"}))

	bEvents := drain(b)
	assert.Equal(t, []string{EvtLobbyJoined, EvtLobbyStats}, types(bEvents))
	joined := bEvents[0].Payload.(LobbyJoinedPayload)
	assert.False(t, joined.IsHost)
	assert.Len(t, joined.Lobby.Players, 2)

	aEvents := drain(a)
	assert.Equal(t, []string{EvtLobbyUpdated, EvtLobbyStats}, types(aEvents))
	assert.Len(t, aEvents[0].Payload.(LobbyUpdatedPayload).Lobby.Players, 2)
}

func TestScenarioErrorsReachCallerOnly(t *testing.T) {
	srv := newTestServer(t)
	code, a, b := setupLobby(t, srv)
	c := srv.Connect("c")
	drain(c)

	srv.Dispatch("c", JoinLobby{LobbyCode: code, PlayerName: "Anna"})
	assert.Equal(t, "That name is already taken in this lobby", errorText(t, drain(c)))

	srv.Dispatch("b", StartGame{})
	assert.Equal(t, "Only the host can start the game", errorText(t, drain(b)))

	srv.Dispatch("b", KickPlayer{PlayerID: "a"})
	assert.Equal(t, "Only the host can remove players", errorText(t, drain(b)))

	srv.Dispatch("c", JoinLobby{LobbyCode: "NOPE00", PlayerName: "Cleo"})
	assert.Equal(t, "Lobby not found", errorText(t, drain(c)))

	srv.Dispatch("c", ChatMessage{Message: "hi"})
	assert.Equal(t, "You are not in a lobby", errorText(t, drain(c)))

	assert.Empty(t, drain(a))
}

func TestHandleRejectsBadFrames(t *testing.T) {
	srv := newTestServer(t)
	a := srv.Connect("a")
	drain(a)

	srv.Handle("a", []byte("{not json"))
	assert.Equal(t, "Malformed message", errorText(t, drain(a)))

	srv.Handle("a", frame(t, "teleport", nil))
	assert.Equal(t, "Unknown command", errorText(t, drain(a)))

	srv.Handle("a", frame(t, CmdCreateLobby, map[string]string{"playerName": "   "}))
	assert.Equal(t, "Player name is required", errorText(t, drain(a)))

	srv.Handle("a", frame(t, CmdJoinLobby, map[string]string{"playerName": "Ben"}))
	assert.Equal(t, "Lobby code is required", errorText(t, drain(a)))

	assert.Equal(t, lobby.Stats{}, srv.Store().Stats())
}

func TestChatBroadcastsToLobby(t *testing.T) {
	srv := newTestServer(t)
	_, a, b := setupLobby(t, srv)
	outsider := srv.Connect("x")
	drain(outsider)

	srv.Dispatch("b", ChatMessage{Message: "hello"})

	for _, conn := range []*Conn{a, b} {
		events := drain(conn)
		require.Equal(t, []string{EvtChatUpdated}, types(events))
		p := events[0].Payload.(ChatUpdatedPayload)
		assert.Equal(t, "hello", p.Message.Message)
		assert.Equal(t, "Ben", p.Message.Sender)
		assert.Equal(t, p.Message, p.FullChat[len(p.FullChat)-1])
	}
	assert.Empty(t, drain(outsider))
}

func TestStartGame(t *testing.T) {
	srv := newTestServer(t)
	_, a, b := setupLobby(t, srv)

	srv.Dispatch("a", StartGame{GameSettings: map[string]any{"rounds": 3.0}})

	for _, conn := range []*Conn{a, b} {
		events := drain(conn)
		require.Equal(t, []string{EvtGameStarted}, types(events))
		p := events[0].Payload.(GameStartedPayload)
		assert.Equal(t, lobby.StatePlaying, p.Lobby.GameState)
		assert.Len(t, p.Players, 2)
		assert.Equal(t, 3.0, p.GameSettings["rounds"])
	}

	srv.Dispatch("a", StartGame{})
	assert.Equal(t, "The game has already started", errorText(t, drain(a)))
}

func TestStartGameTooFewPlayers(t *testing.T) {
	srv := newTestServer(t)
	a := srv.Connect("a")
	srv.Dispatch("a", CreateLobby{PlayerName: "Anna"})
	drain(a)

	srv.Dispatch("a", StartGame{})
	assert.Equal(t, "At least 2 players are required", errorText(t, drain(a)))
}

func TestKickPlayer(t *testing.T) {
	srv := newTestServer(t)
	code, a, b := setupLobby(t, srv)

	srv.Dispatch("a", KickPlayer{PlayerID: "a"})
	assert.Equal(t, "The host cannot remove themselves", errorText(t, drain(a)))

	srv.Dispatch("a", KickPlayer{PlayerID: "ghost"})
	assert.Equal(t, "Player not found", errorText(t, drain(a)))

	srv.Dispatch("a", KickPlayer{PlayerID: "b"})

	bEvents := drain(b)
	assert.Equal(t, []string{EvtKicked, EvtLobbyStats}, types(bEvents))
	assert.Equal(t, ReasonPayload{Reason: reasonKicked}, bEvents[0].Payload)

	aEvents := drain(a)
	assert.Equal(t, []string{EvtLobbyUpdated, EvtLobbyStats}, types(aEvents))
	assert.Len(t, aEvents[0].Payload.(LobbyUpdatedPayload).Lobby.Players, 1)

	_, ok := srv.Store().CodeOf("b")
	assert.False(t, ok)

	srv.Dispatch("b", ChatMessage{Message: "let me back"})
	assert.Equal(t, "You are not in a lobby", errorText(t, drain(b)))

	lob, ok := srv.Store().GetLobby(code)
	require.True(t, ok)
	assert.Len(t, lob.Players, 1)
}

func TestMemberLeave(t *testing.T) {
	srv := newTestServer(t)
	_, a, b := setupLobby(t, srv)

	srv.Dispatch("b", LeaveLobby{})

	assert.Equal(t, []string{EvtLobbyLeft, EvtLobbyStats}, types(drain(b)))
	aEvents := drain(a)
	assert.Equal(t, []string{EvtLobbyUpdated, EvtLobbyStats}, types(aEvents))
	assert.Len(t, aEvents[0].Payload.(LobbyUpdatedPayload).Lobby.Players, 1)

	srv.Dispatch("b", LeaveLobby{})
	assert.Empty(t, drain(b))
	assert.Empty(t, drain(a))
}

func TestHostLeaveClosesLobby(t *testing.T) {
	srv := newTestServer(t)
	code, a, b := setupLobby(t, srv)

	srv.Dispatch("a", LeaveLobby{})

	assert.Equal(t, []string{EvtLobbyLeft, EvtLobbyStats}, types(drain(a)))
	bEvents := drain(b)
	assert.Equal(t, []string{EvtLobbyClosed, EvtLobbyStats}, types(bEvents))
	assert.Equal(t, ReasonPayload{Reason: reasonHostLeft}, bEvents[0].Payload)
	assert.Equal(t, lobby.Stats{}, bEvents[1].Payload)

	_, ok := srv.Store().GetLobby(code)
	assert.False(t, ok)
}

func TestDisconnectIsImplicitLeave(t *testing.T) {
	srv := newTestServer(t)
	_, a, b := setupLobby(t, srv)

	srv.Disconnect("b")

	_, open := <-b.Outbox()
	assert.False(t, open, "outbox closed after disconnect")
	assert.Equal(t, []string{EvtLobbyUpdated, EvtLobbyStats}, types(drain(a)))
	assert.Equal(t, 1, srv.Router().Count())

	srv.Disconnect("b")
	assert.Empty(t, drain(a))
}

func TestJoinOtherLobbyLeavesPrevious(t *testing.T) {
	srv := newTestServer(t)
	first, a, b := setupLobby(t, srv)
	c := srv.Connect("c")
	srv.Dispatch("c", CreateLobby{PlayerName: "Cleo"})
	second := find(t, drain(c), EvtLobbyCreated).Payload.(LobbyJoinedPayload).LobbyCode
	drain(a)
	drain(b)

	srv.Dispatch("b", JoinLobby{LobbyCode: second, PlayerName: "Ben"})

	assert.Equal(t, []string{EvtLobbyUpdated, EvtLobbyStats}, types(drain(a)))
	old, ok := srv.Store().GetLobby(first)
	require.True(t, ok)
	assert.Len(t, old.Players, 1)

	code, ok := srv.Store().CodeOf("b")
	require.True(t, ok)
	assert.Equal(t, second, code)
}

func TestRequestLobbyList(t *testing.T) {
	srv := newTestServer(t)
	_, a, _ := setupLobby(t, srv)
	srv.Dispatch("a", StartGame{})
	c := srv.Connect("c")
	srv.Dispatch("c", CreateLobby{PlayerName: "Cleo"})
	drain(c)

	srv.Handle("c", frame(t, CmdRequestLobbyList, nil))

	events := drain(c)
	require.Equal(t, []string{EvtLobbyList}, types(events))
	list := events[0].Payload.([]lobby.Summary)
	require.Len(t, list, 1)
	assert.Equal(t, "Cleo", list[0].Host)
	drain(a)
}

func TestReapNotifiesMembers(t *testing.T) {
	srv := newTestServer(t)
	code, a, b := setupLobby(t, srv)

	removed := srv.Reap(time.Now().Add(25*time.Hour), 24*time.Hour)
	require.Len(t, removed, 1)
	assert.Equal(t, code, removed[0].Code)

	for _, conn := range []*Conn{a, b} {
		events := drain(conn)
		assert.Equal(t, []string{EvtLobbyClosed, EvtLobbyStats}, types(events))
		assert.Equal(t, ReasonPayload{Reason: reasonInactive}, events[0].Payload)
	}

	srv.Dispatch("b", ChatMessage{Message: "anyone?"})
	assert.Equal(t, "You are not in a lobby", errorText(t, drain(b)))

	assert.Empty(t, srv.Reap(time.Now(), 24*time.Hour))
}

func TestActivityRecorded(t *testing.T) {
	sink := &recordingSink{}
	store := lobby.NewStore()
	srv := NewServer(store, NewRouter(nil, 64), nil, WithActivitySinks(sink))

	srv.Connect("a")
	srv.Connect("b")
	srv.Dispatch("a", CreateLobby{PlayerName: "Anna"})
	code, _ := store.CodeOf("a")
	srv.Dispatch("b", JoinLobby{LobbyCode: code, PlayerName: "Ben"})
	srv.Dispatch("a", StartGame{})
	srv.Dispatch("b", LeaveLobby{})
	srv.Dispatch("a", LeaveLobby{})
	srv.Dispatch("a", ChatMessage{Message: "not recorded"})
	srv.Close()

	assert.Equal(t, []string{
		lobby.ActivityCreated,
		lobby.ActivityJoined,
		lobby.ActivityStarted,
		lobby.ActivityLeft,
		lobby.ActivityClosed,
	}, sink.kinds())
}

func TestPanicIsContainedToCaller(t *testing.T) {
	srv := newTestServer(t)
	_, a, b := setupLobby(t, srv)

	// A nil store pointer panics inside the handler.
	broken := NewServer(nil, srv.Router(), nil)
	broken.Dispatch("a", ChatMessage{Message: "boom"})

	assert.Equal(t, internalErrMessage, errorText(t, drain(a)))
	assert.Empty(t, drain(b))

	srv.Dispatch("a", ChatMessage{Message: "still works"})
	assert.Equal(t, []string{EvtChatUpdated}, types(drain(b)))
}

func TestErrorMessageUnknownIsInternal(t *testing.T) {
	msg, known := errorMessage(CmdCreateLobby, assert.AnError)
	assert.False(t, known)
	assert.Equal(t, internalErrMessage, msg)
}
