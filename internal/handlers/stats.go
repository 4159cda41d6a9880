// internal/handlers/stats.go
package handlers

import (
	"net/http"

	"github.com/jason-s-yu/lobbyd/internal/lobby"
)

// StatsResponse is the monitoring view served at /api/stats.
type StatsResponse struct {
	TotalLobbies  int                 `json:"totalLobbies"`
	TotalPlayers  int                 `json:"totalPlayers"`
	Connections   int                 `json:"connections"`
	ActiveLobbies []lobby.ActiveLobby `json:"activeLobbies"`
}

// ConnectionCounter reports the number of live sockets.
type ConnectionCounter interface {
	Count() int
}

// StatsHandler serves aggregate counts plus every live lobby. It never mutates state.
func StatsHandler(store *lobby.Store, conns ConnectionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := store.Stats()
		resp := StatsResponse{
			TotalLobbies:  st.TotalLobbies,
			TotalPlayers:  st.TotalPlayers,
			ActiveLobbies: store.ActiveLobbies(),
		}
		if conns != nil {
			resp.Connections = conns.Count()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ListLobbiesHandler serves the public list of waiting lobbies.
func ListLobbiesHandler(store *lobby.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, store.ListPublicLobbies())
	}
}
