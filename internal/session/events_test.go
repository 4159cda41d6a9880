package session

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Command
	}{
		{"create", `{"type":"createLobby","payload":{"playerName":"Anna"}}`, CreateLobby{PlayerName: "Anna"}},
		{"join", `{"type":"joinLobby","payload":{"lobbyCode":"abc123","playerName":"Ben"}}`, JoinLobby{LobbyCode: "abc123", PlayerName: "Ben"}},
		{"chat", `{"type":"chatMessage","payload":{"message":"hi"}}`, ChatMessage{Message: "hi"}},
		{"start without settings", `{"type":"startGame"}`, StartGame{}},
		{"start with settings", `{"type":"startGame","payload":{"gameSettings":{"rounds":5}}}`, StartGame{GameSettings: map[string]any{"rounds": 5.0}}},
		{"kick", `{"type":"kickPlayer","payload":{"playerId":"c2"}}`, KickPlayer{PlayerID: "c2"}},
		{"leave", `{"type":"leaveLobby","payload":{}}`, LeaveLobby{}},
		{"list", `{"type":"requestLobbyList"}`, RequestLobbyList{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
			assert.Equal(t, tt.want.Type(), cmd.Type())
		})
	}
}

func TestParseCommandRejectsBlankFields(t *testing.T) {
	tests := []struct {
		raw   string
		field string
	}{
		{`{"type":"createLobby","payload":{"playerName":"  "}}`, "playerName"},
		{`{"type":"createLobby"}`, "playerName"},
		{`{"type":"joinLobby","payload":{"playerName":"Ben"}}`, "lobbyCode"},
		{`{"type":"joinLobby","payload":{"lobbyCode":"ABC123"}}`, "playerName"},
		{`{"type":"chatMessage","payload":{"message":""}}`, "message"},
		{`{"type":"kickPlayer","payload":{}}`, "playerId"},
	}
	for _, tt := range tests {
		_, err := ParseCommand([]byte(tt.raw))
		require.Error(t, err, tt.raw)

		var inputErr *InputError
		require.True(t, errors.As(err, &inputErr), tt.raw)
		assert.Equal(t, tt.field, inputErr.Field)
		assert.ErrorIs(t, err, lobby.ErrInvalidInput)
	}
}

func TestParseCommandMalformed(t *testing.T) {
	_, err := ParseCommand([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseCommand([]byte(`{"type":"chatMessage","payload":{"message":42}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseCommand([]byte(`{"type":"selfDestruct"}`))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestEventEncoding(t *testing.T) {
	data, err := json.Marshal(Event{Type: EvtLobbyLeft, Payload: EmptyPayload{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"lobbyLeft","payload":{}}`, string(data))

	data, err = json.Marshal(Event{Type: EvtKicked, Payload: ReasonPayload{Reason: "bye"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"kicked","payload":{"reason":"bye"}}`, string(data))
}
