// Package protocol defines the matchmaking wire messages exchanged between
// the server and client services.
package protocol

import (
	"errors"
	"fmt"
)

// ErrUnknownMessage is returned for a tag the receiver does not handle.
var ErrUnknownMessage = errors.New("protocol: unknown message type")

// MessageType is the first byte of every matchmaking message.
type MessageType byte

// Client to server.
const (
	SetPlayerProperties MessageType = iota + 1
	SetRoomProperties
	CreateRoomRequest
	JoinRoomRequest
	JoinOrCreateRoomRequest
	LeaveRoomRequest
	UserDataToHost
	UserDataToRoom
	UserDataToOtherClient
)

// Server to client.
const (
	RefreshRoomsInLobby MessageType = iota + 32
	RefreshRoomInLobbyProperties
	RefreshCurrentRoomProperties
	RefreshPlayersInRoom
	RefreshLocalPlayerProperties
	RefreshOtherPlayerProperties
	JoinResponse
	CreateResponse
	LeaveResponse
	UserDataFromHost
	UserDataFromRoom
	UserDataFromOtherClient
)

var messageNames = map[MessageType]string{
	SetPlayerProperties:          "SetPlayerProperties",
	SetRoomProperties:            "SetRoomProperties",
	CreateRoomRequest:            "CreateRoomRequest",
	JoinRoomRequest:              "JoinRoomRequest",
	JoinOrCreateRoomRequest:      "JoinOrCreateRoomRequest",
	LeaveRoomRequest:             "LeaveRoomRequest",
	UserDataToHost:               "UserDataToHost",
	UserDataToRoom:               "UserDataToRoom",
	UserDataToOtherClient:        "UserDataToOtherClient",
	RefreshRoomsInLobby:          "RefreshRoomsInLobby",
	RefreshRoomInLobbyProperties: "RefreshRoomInLobbyProperties",
	RefreshCurrentRoomProperties: "RefreshCurrentRoomProperties",
	RefreshPlayersInRoom:         "RefreshPlayersInRoom",
	RefreshLocalPlayerProperties: "RefreshLocalPlayerProperties",
	RefreshOtherPlayerProperties: "RefreshOtherPlayerProperties",
	JoinResponse:                 "JoinResponse",
	CreateResponse:               "CreateResponse",
	LeaveResponse:                "LeaveResponse",
	UserDataFromHost:             "UserDataFromHost",
	UserDataFromRoom:             "UserDataFromRoom",
	UserDataFromOtherClient:      "UserDataFromOtherClient",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", byte(t))
}

// ResultCode is the outcome of a create or join request.
type ResultCode byte

const (
	Succeed ResultCode = iota
	RoomAlreadyExists
	RoomIsFull
	RoomNotExists
	Rejected
	Aborted
)

func (c ResultCode) String() string {
	switch c {
	case Succeed:
		return "Succeed"
	case RoomAlreadyExists:
		return "RoomAlreadyExists"
	case RoomIsFull:
		return "RoomIsFull"
	case RoomNotExists:
		return "RoomNotExists"
	case Rejected:
		return "Rejected"
	case Aborted:
		return "Aborted"
	}
	return fmt.Sprintf("ResultCode(%d)", byte(c))
}

// NoPlayer is the player id of a client outside any room.
const NoPlayer int32 = -1
