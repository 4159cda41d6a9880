// internal/lobby/lobby_store.go
package lobby

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LeaveOutcome says what a leave did to the lobby.
type LeaveOutcome int

const (
	LeaveNotInLobby LeaveOutcome = iota
	LeaveMemberLeft
	LeaveHostClosed
)

func (o LeaveOutcome) String() string {
	switch o {
	case LeaveMemberLeft:
		return "member_left"
	case LeaveHostClosed:
		return "host_closed"
	default:
		return "not_in_lobby"
	}
}

// LeaveResult describes a completed leave.
type LeaveResult struct {
	Outcome LeaveOutcome
	Code    string
	// Player is the departing player. Zero for LeaveNotInLobby.
	Player Player
	// Lobby is the state after a member left, or the final state of a closed lobby.
	Lobby *Lobby
	// Evicted lists the other members of a lobby closed by its host.
	Evicted []string
}

// Store owns every live lobby plus the connection -> lobby code mapping.
// All methods are safe for concurrent use; each one is a single atomic step.
type Store struct {
	mu      sync.Mutex
	lobbies map[string]*Lobby
	members map[string]string // connection id -> lobby code

	codes    CodeGenerator
	settings Settings
	now      func() time.Time
	logger   *logrus.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(g CodeGenerator) Option {
	return func(s *Store) { s.codes = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSettings sets the settings new lobbies are created with.
func WithSettings(settings Settings) Option {
	return func(s *Store) {
		if settings.MaxPlayers > 0 {
			s.settings.MaxPlayers = settings.MaxPlayers
		}
		if settings.GameMode != "" {
			s.settings.GameMode = settings.GameMode
		}
	}
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore initializes and returns an empty Store.
func NewStore(opts ...Option) *Store {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Store{
		lobbies:  make(map[string]*Lobby),
		members:  make(map[string]string),
		codes:    RandomCodes{},
		settings: Settings{MaxPlayers: DefaultMaxPlayers, GameMode: DefaultGameMode},
		now:      time.Now,
		logger:   discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeCode trims and upper-cases a user supplied lobby code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateLobby opens a new lobby hosted by connID. A connection that is already in another
// lobby leaves it first; the returned LeaveResult reports that departure.
func (s *Store) CreateLobby(connID, name string) (*Lobby, LeaveResult, error) {
	name = strings.TrimSpace(name)
	if connID == "" || name == "" {
		return nil, LeaveResult{}, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := s.uniqueCodeLocked()
	if err != nil {
		return nil, LeaveResult{}, err
	}

	prev := s.leaveLocked(connID)

	lob := newLobby(code, connID, name, s.settings, s.now())
	s.lobbies[code] = lob
	s.members[connID] = code

	s.logger.WithFields(logrus.Fields{"code": code, "host": name}).Info("lobby created")
	return lob.Clone(), prev, nil
}

// JoinLobby adds connID to the lobby named by code. Joining a different lobby while in one
// leaves the old lobby first, but only once the new lobby has accepted the player.
func (s *Store) JoinLobby(connID, code, name string) (*Lobby, LeaveResult, error) {
	name = strings.TrimSpace(name)
	code = NormalizeCode(code)
	if connID == "" || code == "" || name == "" {
		return nil, LeaveResult{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lob, ok := s.lobbies[code]
	if !ok {
		return nil, LeaveResult{}, fmt.Errorf("%w: %q", ErrNotFound, code)
	}
	if lob.indexOf(connID) >= 0 {
		return nil, LeaveResult{}, ErrAlreadyInLobby
	}
	if lob.hasName(name) {
		return nil, LeaveResult{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	if len(lob.Players) >= lob.Settings.MaxPlayers {
		return nil, LeaveResult{}, ErrFull
	}

	prev := s.leaveLocked(connID)

	now := s.now()
	lob.Players = append(lob.Players, Player{ID: connID, Name: name, JoinedAt: now})
	lob.appendChat(systemMessage(fmt.Sprintf("%s joined the lobby!", name), now))
	lob.LastActivity = now
	s.members[connID] = code

	s.logger.WithFields(logrus.Fields{"code": code, "player": name}).Info("player joined lobby")
	return lob.Clone(), prev, nil
}

// PostChat appends a chat message from connID to its lobby.
func (s *Store) PostChat(connID, text string) (ChatMessage, *Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lob, player, err := s.memberLocked(connID)
	if err != nil {
		return ChatMessage{}, nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, nil, ErrInvalidInput
	}

	now := s.now()
	msg := ChatMessage{Message: text, Sender: player.Name, Timestamp: now}
	lob.appendChat(msg)
	lob.LastActivity = now
	return msg, lob.Clone(), nil
}

// StartGame moves the caller's lobby to StatePlaying. Only the host may start, and only
// with at least two players.
func (s *Store) StartGame(connID string) (*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lob, _, err := s.memberLocked(connID)
	if err != nil {
		return nil, err
	}
	if err := requireHost(lob, connID); err != nil {
		return nil, err
	}
	if len(lob.Players) < 2 {
		return nil, ErrTooFewPlayers
	}
	if lob.GameState != StateWaiting {
		return nil, ErrAlreadyStarted
	}

	now := s.now()
	lob.GameState = StatePlaying
	lob.appendChat(systemMessage(fmt.Sprintf("The game has started! All %d players are taking part.", len(lob.Players)), now))
	lob.LastActivity = now

	s.logger.WithFields(logrus.Fields{"code": lob.Code, "players": len(lob.Players)}).Info("game started")
	return lob.Clone(), nil
}

// KickPlayer removes targetID from the requester's lobby. Only the host may kick, and the
// host cannot be kicked.
func (s *Store) KickPlayer(requesterID, targetID string) (*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lob, _, err := s.memberLocked(requesterID)
	if err != nil {
		return nil, err
	}
	if err := requireHost(lob, requesterID); err != nil {
		return nil, err
	}
	idx := lob.indexOf(targetID)
	if idx < 0 {
		return nil, ErrTargetNotFound
	}
	target := lob.Players[idx]
	if target.IsHost {
		return nil, ErrCannotKickHost
	}

	now := s.now()
	lob.removePlayerAt(idx)
	lob.appendChat(systemMessage(fmt.Sprintf("%s was removed from the lobby.", target.Name), now))
	lob.LastActivity = now
	if s.members[targetID] == lob.Code {
		delete(s.members, targetID)
	}

	s.logger.WithFields(logrus.Fields{"code": lob.Code, "player": target.Name}).Info("player kicked")
	return lob.Clone(), nil
}

// LeaveLobby removes connID from its lobby. A leaving host closes the lobby for everyone.
// Leaving when not in a lobby is a no-op.
func (s *Store) LeaveLobby(connID string) LeaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked(connID)
}

// ListPublicLobbies returns waiting lobbies, oldest first.
func (s *Store) ListPublicLobbies() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.lobbies))
	for _, lob := range s.sortedLocked() {
		if lob.GameState == StateWaiting {
			out = append(out, lob.summary())
		}
	}
	return out
}

// ActiveLobbies returns every live lobby for monitoring, oldest first.
func (s *Store) ActiveLobbies() []ActiveLobby {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ActiveLobby, 0, len(s.lobbies))
	for _, lob := range s.sortedLocked() {
		out = append(out, ActiveLobby{
			Code:        lob.Code,
			PlayerCount: len(lob.Players),
			GameState:   lob.GameState,
			Created:     lob.Created,
		})
	}
	return out
}

// Stats counts live lobbies and the players in them.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{TotalLobbies: len(s.lobbies)}
	for _, lob := range s.lobbies {
		st.TotalPlayers += len(lob.Players)
	}
	return st
}

// GetLobby returns a snapshot of the lobby with the given code.
func (s *Store) GetLobby(code string) (*Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lob, ok := s.lobbies[NormalizeCode(code)]
	return lob.Clone(), ok
}

// CodeOf returns the lobby code connID is currently mapped to.
func (s *Store) CodeOf(connID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.members[connID]
	return code, ok
}

// Reap deletes every lobby idle for longer than maxAge and returns the removed lobbies.
func (s *Store) Reap(now time.Time, maxAge time.Duration) []*Lobby {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*Lobby
	for code, lob := range s.lobbies {
		if now.Sub(lob.LastActivity) <= maxAge {
			continue
		}
		for _, p := range lob.Players {
			if s.members[p.ID] == code {
				delete(s.members, p.ID)
			}
		}
		delete(s.lobbies, code)
		removed = append(removed, lob.Clone())
		s.logger.WithFields(logrus.Fields{"code": code, "idle": now.Sub(lob.LastActivity).Round(time.Second)}).Info("reaped idle lobby")
	}
	return removed
}

// requireHost is the single host-authority check for host-only operations.
func requireHost(lob *Lobby, connID string) error {
	if lob.HostID != connID {
		return ErrNotHost
	}
	return nil
}

// memberLocked resolves connID to its lobby and player. Assumes s.mu is held.
func (s *Store) memberLocked(connID string) (*Lobby, Player, error) {
	code, ok := s.members[connID]
	if !ok {
		return nil, Player{}, ErrNotInLobby
	}
	lob, ok := s.lobbies[code]
	if !ok {
		return nil, Player{}, ErrLobbyMissing
	}
	player, ok := lob.Player(connID)
	if !ok {
		return nil, Player{}, ErrNotMember
	}
	return lob, player, nil
}

// leaveLocked is LeaveLobby without locking. Assumes s.mu is held.
func (s *Store) leaveLocked(connID string) LeaveResult {
	code, ok := s.members[connID]
	if !ok {
		return LeaveResult{Outcome: LeaveNotInLobby}
	}
	delete(s.members, connID)

	lob, ok := s.lobbies[code]
	if !ok {
		return LeaveResult{Outcome: LeaveNotInLobby, Code: code}
	}
	idx := lob.indexOf(connID)
	if idx < 0 {
		return LeaveResult{Outcome: LeaveNotInLobby, Code: code}
	}
	player := lob.Players[idx]
	now := s.now()

	if player.IsHost {
		lob.appendChat(systemMessage(fmt.Sprintf("Host %s closed the lobby.", player.Name), now))
		var evicted []string
		for _, p := range lob.Players {
			if p.ID == connID {
				continue
			}
			evicted = append(evicted, p.ID)
			if s.members[p.ID] == code {
				delete(s.members, p.ID)
			}
		}
		delete(s.lobbies, code)
		s.logger.WithFields(logrus.Fields{"code": code, "host": player.Name}).Info("lobby closed by host")
		return LeaveResult{Outcome: LeaveHostClosed, Code: code, Player: player, Lobby: lob.Clone(), Evicted: evicted}
	}

	lob.removePlayerAt(idx)
	lob.appendChat(systemMessage(fmt.Sprintf("%s left the lobby.", player.Name), now))
	lob.LastActivity = now
	s.logger.WithFields(logrus.Fields{"code": code, "player": player.Name}).Info("player left lobby")
	return LeaveResult{Outcome: LeaveMemberLeft, Code: code, Player: player, Lobby: lob.Clone()}
}

// uniqueCodeLocked draws codes until one is not in use. Assumes s.mu is held.
func (s *Store) uniqueCodeLocked() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := s.codes.Generate()
		if err != nil {
			return "", fmt.Errorf("generate lobby code: %w", err)
		}
		code = NormalizeCode(code)
		if code == "" {
			continue
		}
		if _, taken := s.lobbies[code]; !taken {
			return code, nil
		}
		s.logger.WithField("code", code).Debug("lobby code collision, regenerating")
	}
	return "", ErrCodeExhausted
}

func (s *Store) sortedLocked() []*Lobby {
	out := make([]*Lobby, 0, len(s.lobbies))
	for _, lob := range s.lobbies {
		out = append(out, lob)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].Code < out[j].Code
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}
