package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind names a message type on the wire.
type Kind string

// Inbound kinds.
const (
	KindCreateRoom     Kind = "createRoom"
	KindJoinRoom       Kind = "joinRoom"
	KindRejoinRoom     Kind = "rejoinRoom"
	KindListRooms      Kind = "listRooms"
	KindPlayerReady    Kind = "playerReady"
	KindStartRace      Kind = "startRace"
	KindPlayerUpdate   Kind = "playerUpdate"
	KindPlayerFinished Kind = "playerFinished"
	KindLeaveRoom      Kind = "leaveRoom"
	KindRequestState   Kind = "requestState"
)

// Outbound kinds.
const (
	KindServerConfig       Kind = "serverConfig"
	KindRoomCreated        Kind = "roomCreated"
	KindRoomJoined         Kind = "roomJoined"
	KindRoomList           Kind = "roomList"
	KindRoomState          Kind = "roomState"
	KindPlayerJoined       Kind = "playerJoined"
	KindPlayerRejoined     Kind = "playerRejoined"
	KindPlayerLeft         Kind = "playerLeft"
	KindPlayersUpdated     Kind = "playersUpdated"
	KindNewHost            Kind = "newHost"
	KindRaceCountdown      Kind = "raceCountdown"
	KindRaceStart          Kind = "raceStart"
	KindOpponentUpdate     Kind = "opponentUpdate"
	KindPlayerFinishedRace Kind = "playerFinishedRace"
	KindRaceEnded          Kind = "raceEnded"
	KindRaceReset          Kind = "raceReset"
	KindRacePaused         Kind = "racePaused"
	KindRaceResumed        Kind = "raceResumed"
	KindError              Kind = "error"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope is the outer frame of every message.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Command is an inbound request. The set of implementations is closed.
type Command interface {
	Kind() Kind
	command()
}

type CreateRoom struct {
	PlayerName string `json:"playerName"`
}

type JoinRoom struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
}

// RejoinRoom re-attaches a dropped player to its retained record. Token is
// the reconnectToken handed out in roomCreated/roomJoined; it may be empty
// unless the server requires it.
type RejoinRoom struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
	Token      string `json:"reconnectToken,omitempty"`
}

type ListRooms struct{}

type PlayerReady struct {
	Ready bool `json:"ready"`
}

// StartRace is the host-issued start used when auto-start is disabled.
type StartRace struct{}

// PlayerUpdate carries a partial player state. Nil fields keep their current
// value. Raw holds the payload exactly as received so it can be relayed
// without re-encoding.
type PlayerUpdate struct {
	Position  *Vec3           `json:"position,omitempty"`
	Lane      *int            `json:"lane,omitempty"`
	IsJumping *bool           `json:"isJumping,omitempty"`
	Score     *int            `json:"score,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

type PlayerFinished struct {
	Score int `json:"score"`
}

type LeaveRoom struct{}

// RequestState asks for a full roomState resync.
type RequestState struct{}

func (CreateRoom) Kind() Kind     { return KindCreateRoom }
func (JoinRoom) Kind() Kind       { return KindJoinRoom }
func (RejoinRoom) Kind() Kind     { return KindRejoinRoom }
func (ListRooms) Kind() Kind      { return KindListRooms }
func (PlayerReady) Kind() Kind    { return KindPlayerReady }
func (StartRace) Kind() Kind      { return KindStartRace }
func (PlayerUpdate) Kind() Kind   { return KindPlayerUpdate }
func (PlayerFinished) Kind() Kind { return KindPlayerFinished }
func (LeaveRoom) Kind() Kind      { return KindLeaveRoom }
func (RequestState) Kind() Kind   { return KindRequestState }

func (CreateRoom) command()     {}
func (JoinRoom) command()       {}
func (RejoinRoom) command()     {}
func (ListRooms) command()      {}
func (PlayerReady) command()    {}
func (StartRace) command()      {}
func (PlayerUpdate) command()   {}
func (PlayerFinished) command() {}
func (LeaveRoom) command()      {}
func (RequestState) command()   {}

// Decode parses one inbound frame into its Command.
func Decode(frame []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case KindCreateRoom:
		var c CreateRoom
		if err := decodeData(env.Data, &c); err != nil {
			return nil, err
		}
		c.PlayerName = strings.TrimSpace(c.PlayerName)
		return c, nil

	case KindJoinRoom:
		var c JoinRoom
		if err := decodeData(env.Data, &c); err != nil {
			return nil, err
		}
		c.RoomID = NormalizeRoomID(c.RoomID)
		c.PlayerName = strings.TrimSpace(c.PlayerName)
		return c, nil

	case KindRejoinRoom:
		var c RejoinRoom
		if err := decodeData(env.Data, &c); err != nil {
			return nil, err
		}
		c.RoomID = NormalizeRoomID(c.RoomID)
		c.PlayerName = strings.TrimSpace(c.PlayerName)
		return c, nil

	case KindListRooms:
		return ListRooms{}, nil

	case KindPlayerReady:
		var c PlayerReady
		if err := decodeData(env.Data, &c); err != nil {
			return nil, err
		}
		return c, nil

	case KindStartRace:
		return StartRace{}, nil

	case KindPlayerUpdate:
		var c PlayerUpdate
		if err := decodeData(env.Data, &c); err != nil {
			return nil, err
		}
		if len(env.Data) == 0 {
			c.Raw = json.RawMessage("{}")
		} else {
			c.Raw = append(json.RawMessage(nil), env.Data...)
		}
		return c, nil

	case KindPlayerFinished:
		var c PlayerFinished
		if err := decodeData(env.Data, &c); err != nil {
			return nil, err
		}
		return c, nil

	case KindLeaveRoom:
		return LeaveRoom{}, nil

	case KindRequestState:
		return RequestState{}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// NormalizeRoomID trims and upper-cases a user supplied room code.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Message is an outbound frame.
type Message struct {
	Type Kind `json:"type"`
	Data any  `json:"data,omitempty"`
}

// NewMessage builds an outbound message.
func NewMessage(kind Kind, data any) Message {
	return Message{Type: kind, Data: data}
}

// Encode serializes an outbound message.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
