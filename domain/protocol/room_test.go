package protocol

import (
	"testing"

	"go-matchmaking/domain/properties"
	"go-matchmaking/domain/wire"
)

func TestLobbyUpdateCodec(t *testing.T) {
	props := properties.NewTable()
	_ = properties.Set(props, 1, "ctf")

	in := LobbyUpdate{
		Absolute: true,
		Rooms: []RoomInfo{
			{Name: "a", Visible: true, MaxPlayers: 4, PlayerCount: 1, Properties: props.Snapshot()},
			{Name: "b", Visible: true, MaxPlayers: 2, PlayerCount: 2},
		},
		Removed: []string{"c"},
	}
	w := NewMessage(RefreshRoomsInLobby)
	in.Write(w)

	r := wire.NewReader(w.Bytes())
	typ, err := ReadType(r)
	if err != nil || typ != RefreshRoomsInLobby {
		t.Fatalf("ReadType = %v, %v", typ, err)
	}
	out, err := ReadLobbyUpdate(r)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Absolute || len(out.Rooms) != 2 || len(out.Removed) != 1 {
		t.Fatalf("decoded %+v", out)
	}
	if out.Rooms[0].Name != "a" || out.Rooms[0].MaxPlayers != 4 || out.Rooms[1].PlayerCount != 2 {
		t.Errorf("rooms = %+v", out.Rooms)
	}

	mirror := properties.NewReadOnlyTable()
	mirror.Apply(out.Rooms[0].Properties)
	if mode, _ := properties.Get[string](mirror, 1); mode != "ctf" {
		t.Errorf("room property = %q, want ctf", mode)
	}
}

func TestRoomSnapshotCodec(t *testing.T) {
	in := RoomSnapshot{
		Options:       RoomOptions{Name: "match1", MaxPlayers: 2, Visible: true},
		LocalPlayerID: 42,
		Players:       []PlayerEntry{{ID: 7}, {ID: 42}},
	}
	w := wire.NewWriter(0)
	in.Write(w)
	out, err := ReadRoomSnapshot(wire.NewReader(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if out.Options != in.Options || out.LocalPlayerID != 42 || len(out.Players) != 2 {
		t.Errorf("decoded %+v", out)
	}
}

func TestResultCodeString(t *testing.T) {
	if RoomIsFull.String() != "RoomIsFull" {
		t.Errorf("String = %q", RoomIsFull.String())
	}
	if MessageType(200).String() != "MessageType(200)" {
		t.Errorf("String = %q", MessageType(200).String())
	}
}
