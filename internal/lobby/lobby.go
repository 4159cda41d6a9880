// internal/lobby/lobby.go
package lobby

import (
	"fmt"
	"time"
)

// GameState is the coarse phase of a lobby.
type GameState string

const (
	StateWaiting GameState = "waiting"
	StatePlaying GameState = "playing"
	// StateFinished is reserved; no transition reaches it yet.
	StateFinished GameState = "finished"
)

const (
	DefaultMaxPlayers = 8
	DefaultGameMode   = "standard"

	// ChatHistoryLimit is the size of the sliding chat window kept per lobby.
	ChatHistoryLimit = 50

	// SystemSender is the sender name used for synthetic chat notices.
	SystemSender = "system"
)

// Settings are fixed when the lobby is created.
type Settings struct {
	MaxPlayers int    `json:"maxPlayers"`
	GameMode   string `json:"gameMode"`
}

// Player is a single connection's seat in a lobby.
type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	IsHost   bool      `json:"isHost"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ChatMessage is immutable once appended to a lobby.
type ChatMessage struct {
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Lobby is the authoritative state of one game session. Values handed out by the Store are
// snapshots; mutating them has no effect on the store.
type Lobby struct {
	Code         string        `json:"code"`
	Host         string        `json:"host"`
	HostID       string        `json:"hostId"`
	Players      []Player      `json:"players"`
	Chat         []ChatMessage `json:"chat"`
	GameState    GameState     `json:"gameState"`
	Created      time.Time     `json:"created"`
	LastActivity time.Time     `json:"lastActivity"`
	Settings     Settings      `json:"settings"`
}

// Summary is the public list view of a waiting lobby.
type Summary struct {
	Code        string    `json:"code"`
	Host        string    `json:"host"`
	PlayerCount int       `json:"playerCount"`
	MaxPlayers  int       `json:"maxPlayers"`
	Created     time.Time `json:"created"`
}

// ActiveLobby is the monitoring view of any live lobby.
type ActiveLobby struct {
	Code        string    `json:"code"`
	PlayerCount int       `json:"playerCount"`
	GameState   GameState `json:"gameState"`
	Created     time.Time `json:"created"`
}

// Stats are aggregate counters over all live lobbies.
type Stats struct {
	TotalLobbies int `json:"totalLobbies"`
	TotalPlayers int `json:"totalPlayers"`
}

func newLobby(code, hostID, hostName string, settings Settings, now time.Time) *Lobby {
	l := &Lobby{
		Code:   code,
		Host:   hostName,
		HostID: hostID,
		Players: []Player{{
			ID:       hostID,
			Name:     hostName,
			IsHost:   true,
			JoinedAt: now,
		}},
		GameState:    StateWaiting,
		Created:      now,
		LastActivity: now,
		Settings:     settings,
	}
	l.appendChat(systemMessage(fmt.Sprintf("Lobby %q was created!", code), now))
	return l
}

// Clone returns a deep copy.
func (l *Lobby) Clone() *Lobby {
	if l == nil {
		return nil
	}
	c := *l
	c.Players = append([]Player(nil), l.Players...)
	c.Chat = append([]ChatMessage(nil), l.Chat...)
	return &c
}

// Player looks up a member by connection id.
func (l *Lobby) Player(id string) (Player, bool) {
	if i := l.indexOf(id); i >= 0 {
		return l.Players[i], true
	}
	return Player{}, false
}

// MemberIDs returns the connection ids of all players in join order.
func (l *Lobby) MemberIDs() []string {
	ids := make([]string, 0, len(l.Players))
	for _, p := range l.Players {
		ids = append(ids, p.ID)
	}
	return ids
}

func (l *Lobby) indexOf(id string) int {
	for i, p := range l.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (l *Lobby) hasName(name string) bool {
	for _, p := range l.Players {
		if p.Name == name {
			return true
		}
	}
	return false
}

func (l *Lobby) removePlayerAt(i int) {
	l.Players = append(l.Players[:i:i], l.Players[i+1:]...)
}

// appendChat adds msg and drops the oldest entries beyond ChatHistoryLimit.
func (l *Lobby) appendChat(msg ChatMessage) {
	l.Chat = append(l.Chat, msg)
	if over := len(l.Chat) - ChatHistoryLimit; over > 0 {
		l.Chat = append([]ChatMessage(nil), l.Chat[over:]...)
	}
}

func (l *Lobby) summary() Summary {
	return Summary{
		Code:        l.Code,
		Host:        l.Host,
		PlayerCount: len(l.Players),
		MaxPlayers:  l.Settings.MaxPlayers,
		Created:     l.Created,
	}
}

func systemMessage(text string, now time.Time) ChatMessage {
	return ChatMessage{Message: text, Sender: SystemSender, Timestamp: now}
}
