package protocol

import (
	"fmt"

	"go-matchmaking/domain/properties"
	"go-matchmaking/domain/wire"
)

// RoomOptions is what a client supplies to create or look up a room.
type RoomOptions struct {
	Name       string
	MaxPlayers int
	Visible    bool
}

func (o RoomOptions) Write(w *wire.Writer) {
	w.Text(o.Name)
	w.Varint(int64(o.MaxPlayers))
	w.Bool(o.Visible)
}

func ReadRoomOptions(r *wire.Reader) (RoomOptions, error) {
	o := RoomOptions{
		Name:       r.Text(),
		MaxPlayers: int(r.Varint()),
		Visible:    r.Bool(),
	}
	return o, r.Err()
}

// RoomInfo is the lobby projection of a room.
type RoomInfo struct {
	Name        string
	Visible     bool
	MaxPlayers  int
	PlayerCount int
	Properties  properties.Delta
}

func (i RoomInfo) Write(w *wire.Writer) {
	w.Text(i.Name)
	w.Bool(i.Visible)
	w.Varint(int64(i.MaxPlayers))
	w.Varint(int64(i.PlayerCount))
	i.Properties.Write(w)
}

func ReadRoomInfo(r *wire.Reader) (RoomInfo, error) {
	i := RoomInfo{
		Name:        r.Text(),
		Visible:     r.Bool(),
		MaxPlayers:  int(r.Varint()),
		PlayerCount: int(r.Varint()),
	}
	if err := r.Err(); err != nil {
		return i, err
	}
	d, err := properties.ReadDelta(r)
	if err != nil {
		return i, err
	}
	i.Properties = d
	return i, nil
}

// LobbyUpdate is the body of RefreshRoomsInLobby and LeaveResponse.
type LobbyUpdate struct {
	Absolute bool
	Rooms    []RoomInfo
	Removed  []string
}

func (u LobbyUpdate) Write(w *wire.Writer) {
	w.Bool(u.Absolute)
	w.Uvarint(uint64(len(u.Rooms)))
	for _, info := range u.Rooms {
		info.Write(w)
	}
	w.Uvarint(uint64(len(u.Removed)))
	for _, name := range u.Removed {
		w.Text(name)
	}
}

// maxListLen bounds list lengths read from the wire.
const maxListLen = 1 << 16

func ReadLobbyUpdate(r *wire.Reader) (LobbyUpdate, error) {
	var u LobbyUpdate
	u.Absolute = r.Bool()
	n := r.Uvarint()
	if n > maxListLen {
		return u, fmt.Errorf("protocol: lobby update lists %d rooms", n)
	}
	for range n {
		info, err := ReadRoomInfo(r)
		if err != nil {
			return u, err
		}
		u.Rooms = append(u.Rooms, info)
	}
	n = r.Uvarint()
	if n > maxListLen {
		return u, fmt.Errorf("protocol: lobby update removes %d rooms", n)
	}
	for range n {
		u.Removed = append(u.Removed, r.Text())
	}
	return u, r.Err()
}

// PlayerEntry is one member of a RefreshPlayersInRoom list.
type PlayerEntry struct {
	ID         int32
	Properties properties.Delta
}

func WritePlayers(w *wire.Writer, players []PlayerEntry) {
	w.Uvarint(uint64(len(players)))
	for _, p := range players {
		w.Int32(p.ID)
		p.Properties.Write(w)
	}
}

func ReadPlayers(r *wire.Reader) ([]PlayerEntry, error) {
	n := r.Uvarint()
	if n > maxListLen {
		return nil, fmt.Errorf("protocol: player list has %d entries", n)
	}
	players := make([]PlayerEntry, 0, n)
	for range n {
		id := r.Int32()
		d, err := properties.ReadDelta(r)
		if err != nil {
			return nil, err
		}
		players = append(players, PlayerEntry{ID: id, Properties: d})
	}
	return players, r.Err()
}

// RoomSnapshot is the JoinResponse payload on success: everything a client
// needs to rebuild its room mirror.
type RoomSnapshot struct {
	Options         RoomOptions
	LocalPlayerID   int32
	Properties      properties.Delta
	LobbyProperties properties.Delta
	Players         []PlayerEntry
}

func (s RoomSnapshot) Write(w *wire.Writer) {
	s.Options.Write(w)
	w.Int32(s.LocalPlayerID)
	s.Properties.Write(w)
	s.LobbyProperties.Write(w)
	WritePlayers(w, s.Players)
}

func ReadRoomSnapshot(r *wire.Reader) (RoomSnapshot, error) {
	var s RoomSnapshot
	var err error
	if s.Options, err = ReadRoomOptions(r); err != nil {
		return s, err
	}
	s.LocalPlayerID = r.Int32()
	if s.Properties, err = properties.ReadDelta(r); err != nil {
		return s, err
	}
	if s.LobbyProperties, err = properties.ReadDelta(r); err != nil {
		return s, err
	}
	if s.Players, err = ReadPlayers(r); err != nil {
		return s, err
	}
	return s, nil
}

// NewMessage starts a message of type t.
func NewMessage(t MessageType) *wire.Writer {
	w := wire.NewWriter(64)
	w.Byte(byte(t))
	return w
}

// ReadType reads the leading message tag.
func ReadType(r *wire.Reader) (MessageType, error) {
	t := MessageType(r.Byte())
	return t, r.Err()
}

// RoomRequest is the body of CreateRoomRequest and JoinOrCreateRoomRequest:
// the room options followed by the initial in-room and lobby properties.
type RoomRequest struct {
	Options         RoomOptions
	Properties      properties.Delta
	LobbyProperties properties.Delta
}

func (q RoomRequest) Write(w *wire.Writer) {
	q.Options.Write(w)
	q.Properties.Write(w)
	q.LobbyProperties.Write(w)
}

func ReadRoomRequest(r *wire.Reader) (RoomRequest, error) {
	var q RoomRequest
	var err error
	if q.Options, err = ReadRoomOptions(r); err != nil {
		return q, err
	}
	if q.Properties, err = properties.ReadDelta(r); err != nil {
		return q, err
	}
	if q.LobbyProperties, err = properties.ReadDelta(r); err != nil {
		return q, err
	}
	return q, nil
}
