package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/lobbyd/internal/auth"
	"github.com/jason-s-yu/lobbyd/internal/client"
	"github.com/jason-s-yu/lobbyd/internal/handlers"
	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/jason-s-yu/lobbyd/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := session.NewServer(lobby.NewStore(), session.NewRouter(logger, 0), logger)
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(handlers.Routes{Logger: logger, Server: srv}.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:3000":   "ws://localhost:3000/lobby/ws",
		"https://games.example/":  "wss://games.example/lobby/ws",
		"ws://10.0.0.1:3000/base": "ws://10.0.0.1:3000/base/lobby/ws",
	}
	for in, want := range tests {
		got, err := websocketURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := websocketURL("ftp://example")
	assert.Error(t, err)
}

func TestParseSettings(t *testing.T) {
	assert.Nil(t, parseSettings(nil))
	assert.Equal(t, map[string]any{
		"rounds":  float64(3),
		"mode":    "blitz",
		"hard":    true,
		"private": false,
	}, parseSettings([]string{"rounds=3", "mode=blitz", "hard", "private=false"}))
}

func TestKeygenAndToken(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "monitor.key")
	pub := filepath.Join(dir, "monitor.pub")

	_, err := execute(t, "keygen", "--private", priv, "--public", pub)
	require.NoError(t, err)

	out, err := execute(t, "token", "--private", priv, "--public", pub, "--subject", "ops", "--expire", "1h")
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	keys, err := auth.LoadKeys(priv, pub, time.Hour)
	require.NoError(t, err)
	subject, err := keys.AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)
}

func TestStatsCommand(t *testing.T) {
	ts := newTestServer(t)

	out, err := execute(t, "--server", ts.URL, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "lobbies: 0  players: 0")

	out, err = execute(t, "--server", ts.URL, "lobbies")
	require.NoError(t, err)
	assert.Contains(t, out, "CODE")
}

func TestServerFromEnvironment(t *testing.T) {
	ts := newTestServer(t)
	t.Setenv("LOBBY_SERVER", ts.URL)

	out, err := execute(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "connections: 0")

	_, err = execute(t, "--server", "http://127.0.0.1:1", "stats")
	assert.Error(t, err, "the flag wins over the environment")
}

func TestConsoleSession(t *testing.T) {
	ts := newTestServer(t)
	wsURL, err := websocketURL(ts.URL)
	require.NoError(t, err)

	var out syncBuffer
	con := newConsole(&out)
	c := client.New(client.Options{URL: wsURL, ErrorHook: con.errorHook})
	con.attach(c)
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "* connected") }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, con.exec(ctx, "/create Anna"))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "* created lobby") }, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "Anna (host)")

	require.NoError(t, con.exec(ctx, "hello there"))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "<Anna> hello there") }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, con.exec(ctx, "/start"))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "! At least 2 players are required") }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, con.exec(ctx, "/kick"))
	assert.Contains(t, out.String(), "! /kick <player-id>")

	assert.ErrorIs(t, con.exec(ctx, "/quit"), errQuit)
}

func TestConsoleLoopStopsOnQuit(t *testing.T) {
	var out syncBuffer
	con := newConsole(&out)
	con.attach(client.New(client.Options{URL: "ws://127.0.0.1:1/lobby/ws", ErrorHook: con.errorHook}))

	err := con.loop(context.Background(), strings.NewReader("hi\n/quit\n/list\n"))
	require.NoError(t, err)
	assert.Equal(t, "! You are not in a lobby\n", out.String())
}
