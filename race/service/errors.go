package service

import (
	"errors"

	"github.com/wricardo/surfrace/race/protocol"
	"github.com/wricardo/surfrace/race/registry"
	"github.com/wricardo/surfrace/race/room"
)

var codes = []struct {
	err  error
	code protocol.Code
}{
	{registry.ErrRoomNotFound, protocol.CodeRoomNotFound},
	{room.ErrRoomClosed, protocol.CodeRoomNotFound},
	{room.ErrRoomFull, protocol.CodeRoomFull},
	{room.ErrRaceInProgress, protocol.CodeRaceInProgress},
	{room.ErrNameTaken, protocol.CodeNameTaken},
	{room.ErrNotAuthorized, protocol.CodeNotAuthorized},
	{room.ErrRaceBusy, protocol.CodeRaceBusy},
	{room.ErrInsufficientPlayers, protocol.CodeInsufficientPlayers},
	{room.ErrPlayersNotReady, protocol.CodePlayersNotReady},
	{room.ErrPlayerNotFound, protocol.CodePlayerNotFound},
	{room.ErrNotInRoom, protocol.CodeNotInRoom},
	{room.ErrAlreadyJoined, protocol.CodeBadRequest},
	{room.ErrInvalidName, protocol.CodeBadRequest},
	{ErrMissingRoomID, protocol.CodeBadRequest},
	{protocol.ErrMalformed, protocol.CodeBadRequest},
	{protocol.ErrUnknownType, protocol.CodeBadRequest},
}

// CodeFor maps an error to the code sent to clients. Anything unknown is
// reported as Internal.
func CodeFor(err error) protocol.Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return protocol.CodeInternal
}
