package protocol

import "encoding/json"

// Vec3 is a world position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Colors is the outfit assigned to a player on join.
type Colors struct {
	Shirt  uint32 `json:"shirt"`
	Shorts uint32 `json:"shorts"`
}

// PlayerView is the public projection of a player record.
type PlayerView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Score      int    `json:"score"`
	Position   Vec3   `json:"position"`
	Lane       int    `json:"lane"`
	IsJumping  bool   `json:"isJumping"`
	Ready      bool   `json:"ready"`
	Finished   bool   `json:"finished"`
	FinishTime *int64 `json:"finishTime"`
	Status     string `json:"status"`
	Colors     Colors `json:"colors"`
	IsHost     bool   `json:"isHost"`
	Spectator  bool   `json:"spectator,omitempty"`
	JoinedAt   int64  `json:"joinedAt"`
}

// Ranking is one row of the final standings.
type Ranking struct {
	Rank       int    `json:"rank"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Score      int    `json:"score"`
	Time       *int64 `json:"time"`
}

// RoomSummary is a listRooms entry.
type RoomSummary struct {
	ID          string `json:"id"`
	PlayerCount int    `json:"playerCount"`
	MaxPlayers  int    `json:"maxPlayers"`
	HostName    string `json:"hostName"`
}

// RoomSnapshot is the full room state used for resync and inspection.
type RoomSnapshot struct {
	ID         string       `json:"id"`
	State      string       `json:"state"`
	HostID     string       `json:"hostId"`
	Players    []PlayerView `json:"players"`
	MaxPlayers int          `json:"maxPlayers"`
	Countdown  int          `json:"countdown"`
	StartTime  int64        `json:"startTime,omitempty"`
	CreatedAt  int64        `json:"createdAt"`
	AutoStart  bool         `json:"autoStart"`
}

type ServerConfig struct {
	MaxPlayersPerRoom int    `json:"maxPlayersPerRoom"`
	ServerVersion     string `json:"serverVersion"`
	AutoStart         bool   `json:"autoStart"`
	Classroom         bool   `json:"classroom"`
	ReconnectGraceMs  int64  `json:"reconnectGraceMs"`
}

type RoomCreated struct {
	RoomID         string       `json:"roomId"`
	PlayerID       string       `json:"playerId"`
	HostID         string       `json:"hostId"`
	Players        []PlayerView `json:"players"`
	MaxPlayers     int          `json:"maxPlayers"`
	ReconnectToken string       `json:"reconnectToken"`
}

type RoomJoined struct {
	RoomID         string       `json:"roomId"`
	PlayerID       string       `json:"playerId"`
	HostID         string       `json:"hostId"`
	Players        []PlayerView `json:"players"`
	MaxPlayers     int          `json:"maxPlayers"`
	State          string       `json:"state"`
	RaceInProgress bool         `json:"raceInProgress"`
	StartTime      int64        `json:"startTime,omitempty"`
	ReconnectToken string       `json:"reconnectToken"`
}

type PlayerJoined struct {
	PlayerID string       `json:"playerId"`
	Players  []PlayerView `json:"players"`
}

type PlayerRejoined struct {
	PreviousID string       `json:"previousId"`
	PlayerID   string       `json:"playerId"`
	PlayerName string       `json:"playerName"`
	Players    []PlayerView `json:"players"`
}

type PlayerLeft struct {
	PlayerID string       `json:"playerId"`
	Players  []PlayerView `json:"players"`
}

type PlayersUpdated struct {
	Players []PlayerView `json:"players"`
}

type NewHost struct {
	HostID   string `json:"hostId"`
	HostName string `json:"hostName"`
}

type RaceCountdown struct {
	Countdown int `json:"countdown"`
}

type RaceStart struct {
	StartTime int64        `json:"startTime"`
	Players   []PlayerView `json:"players"`
}

type OpponentUpdate struct {
	PlayerID string          `json:"playerId"`
	Data     json.RawMessage `json:"data"`
}

type PlayerFinishedRace struct {
	PlayerID   string       `json:"playerId"`
	PlayerName string       `json:"playerName"`
	Score      int          `json:"score"`
	Time       int64        `json:"time"`
	Players    []PlayerView `json:"players"`
}

type RaceEnded struct {
	Rankings []Ranking `json:"rankings"`
}

type RaceReset struct {
	Players []PlayerView `json:"players"`
}

type RacePaused struct {
	Reason     string `json:"reason"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type RaceResumed struct {
	Reason string `json:"reason"`
}

// Pause/resume reasons.
const (
	ReasonPlayerDisconnected = "player_disconnected"
	ReasonPlayersReconnected = "players_reconnected"
	ReasonPlayerRemoved      = "player_removed"
)

// Code identifies an error reported back to a single connection.
type Code string

const (
	CodeRoomNotFound        Code = "RoomNotFound"
	CodeRoomFull            Code = "RoomFull"
	CodeRaceInProgress      Code = "RaceInProgress"
	CodeNameTaken           Code = "NameTaken"
	CodeNotAuthorized       Code = "NotAuthorized"
	CodeRaceBusy            Code = "RaceBusy"
	CodeInsufficientPlayers Code = "InsufficientPlayers"
	CodePlayersNotReady     Code = "PlayersNotReady"
	CodePlayerNotFound      Code = "PlayerNotFound"
	CodeNotInRoom           Code = "NotInRoom"
	CodeBadRequest          Code = "BadRequest"
	CodeInternal            Code = "Internal"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}
