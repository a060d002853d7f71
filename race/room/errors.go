package room

import "errors"

var (
	ErrRoomFull            = errors.New("room is full")
	ErrNameTaken           = errors.New("name already taken in this room")
	ErrRaceInProgress      = errors.New("race already in progress")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrRaceBusy            = errors.New("race can only be started from the waiting state")
	ErrInsufficientPlayers = errors.New("at least two racers are required")
	ErrPlayersNotReady     = errors.New("not every racer is ready")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrNotInRoom           = errors.New("session is not in this room")
	ErrAlreadyJoined       = errors.New("session already joined this room")
	ErrInvalidName         = errors.New("invalid player name")
	ErrRoomClosed          = errors.New("room closed")
)
