// internal/lobby/errors.go
package lobby

import "errors"

// Errors returned by Store operations. All of them are recoverable and reported back to the
// originating connection only; callers match them with errors.Is.
var (
	ErrInvalidInput   = errors.New("required field is missing")
	ErrInvalidName    = errors.New("player name is required")
	ErrNotFound       = errors.New("lobby not found")
	ErrDuplicateName  = errors.New("player name already taken in lobby")
	ErrFull           = errors.New("lobby is full")
	ErrNotInLobby     = errors.New("connection is not in a lobby")
	ErrLobbyMissing   = errors.New("lobby no longer exists")
	ErrNotMember      = errors.New("connection is not a member of the lobby")
	ErrNotHost        = errors.New("only the host may do this")
	ErrTooFewPlayers  = errors.New("at least 2 players are required")
	ErrTargetNotFound = errors.New("player not found")
	ErrCannotKickHost = errors.New("the host cannot be kicked")
	ErrAlreadyStarted = errors.New("game already started")
	ErrAlreadyInLobby = errors.New("connection already joined this lobby")
	ErrCodeExhausted  = errors.New("could not generate a unique lobby code")
)
