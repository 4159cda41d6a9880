package session

import (
	"sync"
	"testing"

	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterSend(t *testing.T) {
	r := NewRouter(nil, 4)
	a := r.Register("a")

	assert.True(t, r.Send("a", Event{Type: "ping"}))
	assert.False(t, r.Send("missing", Event{Type: "ping"}))

	ev := <-a.Outbox()
	assert.Equal(t, "ping", ev.Type)
}

func TestRouterSendLobbySkipsExceptAndStrangers(t *testing.T) {
	r := NewRouter(nil, 4)
	a := r.Register("a")
	b := r.Register("b")
	c := r.Register("c")
	lob := &lobby.Lobby{Players: []lobby.Player{{ID: "a"}, {ID: "b"}, {ID: "gone"}}}

	r.SendLobby(lob, Event{Type: EvtLobbyUpdated}, "b")
	r.SendLobby(nil, Event{Type: EvtLobbyUpdated})

	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
	assert.Empty(t, drain(c))
}

func TestRouterBroadcast(t *testing.T) {
	r := NewRouter(nil, 4)
	conns := []*Conn{r.Register("a"), r.Register("b"), r.Register("c")}

	r.Broadcast(Event{Type: EvtLobbyStats})

	for _, conn := range conns {
		assert.Equal(t, []string{EvtLobbyStats}, types(drain(conn)))
	}
	assert.Equal(t, 3, r.Count())
}

func TestRouterDropsWhenFull(t *testing.T) {
	r := NewRouter(nil, 2)
	a := r.Register("a")

	assert.True(t, r.Send("a", Event{Type: "1"}))
	assert.True(t, r.Send("a", Event{Type: "2"}))
	assert.False(t, r.Send("a", Event{Type: "3"}))

	assert.Equal(t, []string{"1", "2"}, types(drain(a)))
}

func TestRouterUnregisterClosesOutbox(t *testing.T) {
	r := NewRouter(nil, 2)
	a := r.Register("a")

	r.Unregister("a")
	r.Unregister("a")

	_, open := <-a.Outbox()
	assert.False(t, open)
	assert.False(t, r.Send("a", Event{Type: "late"}))
	assert.Zero(t, r.Count())
}

func TestRouterReRegisterReplacesQueue(t *testing.T) {
	r := NewRouter(nil, 2)
	old := r.Register("a")
	fresh := r.Register("a")

	_, open := <-old.Outbox()
	assert.False(t, open)

	require.True(t, r.Send("a", Event{Type: "hi"}))
	assert.Equal(t, []string{"hi"}, types(drain(fresh)))
}

func TestRouterConcurrentSendAndUnregister(t *testing.T) {
	r := NewRouter(nil, 1024)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		r.Register(id)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Broadcast(Event{Type: EvtLobbyStats})
			}
		}()
	}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Unregister(id)
		}(id)
	}
	wg.Wait()

	assert.Zero(t, r.Count())
}
